package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"github.com/redis/go-redis/v9"
	"gopkg.in/yaml.v3"

	"github.com/IanNoble-Visium/ELI-sub001/internal/api"
	"github.com/IanNoble-Visium/ELI-sub001/internal/audit"
	"github.com/IanNoble-Visium/ELI-sub001/internal/cloudinary"
	"github.com/IanNoble-Visium/ELI-sub001/internal/data"
	"github.com/IanNoble-Visium/ELI-sub001/internal/graph"
	"github.com/IanNoble-Visium/ELI-sub001/internal/ingest"
	"github.com/IanNoble-Visium/ELI-sub001/internal/metrics"
	"github.com/IanNoble-Visium/ELI-sub001/internal/middleware"
	"github.com/IanNoble-Visium/ELI-sub001/internal/ratelimit"
	"github.com/IanNoble-Visium/ELI-sub001/internal/tasks"
	"github.com/IanNoble-Visium/ELI-sub001/internal/throttle"
)

const serviceName = "ELI-Ingest"

func main() {
	// 1. Config
	// Connection strings and secrets come from env; tunables from yaml.
	// Any missing integration degrades that subsystem, never startup.
	var cfg struct {
		Throttle  throttle.Config            `yaml:"throttle"`
		RateLimit middleware.RateLimitConfig `yaml:"rate_limit"`
		Ingest    struct {
			Workers            int    `yaml:"workers"`
			QueueSize          int    `yaml:"queue_size"`
			TaskTimeoutSeconds int    `yaml:"task_timeout_seconds"`
			FeedSubjectPrefix  string `yaml:"feed_subject_prefix"`
			FeedMaxRetries     int    `yaml:"feed_max_retries"`
		} `yaml:"ingest"`
	}
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/default.yaml"
	}
	cfgData, err := os.ReadFile(cfgPath)
	if err != nil {
		log.Printf("Warning: config %s not readable: %v. Using defaults.", cfgPath, err)
	}
	_ = yaml.Unmarshal(cfgData, &cfg)

	if cfg.Ingest.Workers <= 0 {
		cfg.Ingest.Workers = 4
	}
	if cfg.Ingest.QueueSize <= 0 {
		cfg.Ingest.QueueSize = 256
	}
	if cfg.Ingest.TaskTimeoutSeconds <= 0 {
		cfg.Ingest.TaskTimeoutSeconds = 30
	}

	// 2. DB Init
	connStr := os.Getenv("DATABASE_URL")
	if connStr == "" {
		dbHost := os.Getenv("DB_HOST")
		if dbHost != "" {
			connStr = fmt.Sprintf("postgres://%s:%s@%s:5432/%s?sslmode=disable",
				os.Getenv("DB_USER"), os.Getenv("DB_PASSWORD"), dbHost, os.Getenv("DB_NAME"))
		}
	}

	var db *sql.DB
	var stores *ingest.Stores
	if connStr == "" {
		log.Printf("Warning: no database configured (DATABASE_URL or DB_HOST). Events will be accepted but not persisted.")
	} else {
		db, err = sql.Open("postgres", connStr)
		if err != nil {
			log.Fatalf("DB open error: %v", err)
		}
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := db.PingContext(pingCtx); err != nil {
			log.Printf("Warning: DB ping failed: %v. Ingest retries per batch.", err)
		}
		cancel()
		stores = &ingest.Stores{
			Channels:  data.ChannelModel{DB: db},
			Events:    data.EventModel{DB: db},
			Snapshots: data.SnapshotModel{DB: db},
			Ping:      db.PingContext,
		}
	}

	// 3. Audit trail + spool failover
	var auditor api.Auditor
	if db != nil {
		auditService := audit.NewService(db)
		audit.ConfigureFailover(os.Getenv("AUDIT_SPOOL_DIR"), 0)
		auditService.StartReplayer(context.Background())
		auditor = auditService
	}

	// 4. Upload throttle
	th := throttle.New(cfg.Throttle)

	// 5. Image service
	uploader := cloudinary.NewClient(cloudinary.Config{
		CloudName: os.Getenv("CLOUDINARY_CLOUD_NAME"),
		APIKey:    os.Getenv("CLOUDINARY_API_KEY"),
		APISecret: os.Getenv("CLOUDINARY_API_SECRET"),
	})
	if !uploader.Enabled() {
		log.Printf("Warning: Cloudinary not configured. Snapshots keep their source paths.")
	}

	// 6. Graph mirror
	mirror, err := graph.NewMirror(graph.Config{
		URI:      os.Getenv("NEO4J_URI"),
		Username: os.Getenv("NEO4J_USERNAME"),
		Password: os.Getenv("NEO4J_PASSWORD"),
	})
	if err != nil {
		log.Printf("Warning: Neo4j init failed: %v. Graph mirroring disabled.", err)
		mirror = graph.NewMirrorWithRunner(nil)
	}
	if !mirror.Enabled() {
		log.Printf("Warning: Neo4j not configured. Graph mirroring disabled.")
	}

	// 7. Live event feed
	var nc *nats.Conn
	var feed *ingest.FeedPublisher
	if natsURL := os.Getenv("NATS_URL"); natsURL != "" {
		nc, err = nats.Connect(natsURL, nats.Name(serviceName))
		if err != nil {
			log.Printf("Warning: NATS connect failed: %v. Live feed disabled.", err)
		} else {
			log.Printf("Connected to NATS at %s", natsURL)
			feed = ingest.NewFeedPublisher(nc, cfg.Ingest.FeedSubjectPrefix, cfg.Ingest.FeedMaxRetries)
		}
	}

	// 8. Ingress rate limit
	var rlMiddleware *middleware.RateLimitMiddleware
	if cfg.RateLimit.Enabled {
		redisAddr := os.Getenv("REDIS_ADDR")
		if redisAddr == "" {
			redisAddr = "localhost:6379"
		}
		rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
		limiter := ratelimit.NewLimiter(rdb, os.Getenv("RATE_LIMIT_SALT"))
		rlMiddleware = middleware.NewRateLimitMiddleware(limiter, cfg.RateLimit)
	} else {
		rlMiddleware = middleware.NewRateLimitMiddleware(nil, cfg.RateLimit)
	}

	// 9. Pipeline
	pool := tasks.NewPool(cfg.Ingest.Workers, cfg.Ingest.QueueSize,
		time.Duration(cfg.Ingest.TaskTimeoutSeconds)*time.Second)
	emitter := metrics.NewEmitter(os.Getenv("PUSHGATEWAY_URL"), th)
	svc := ingest.NewService(stores, th, uploader, mirror, feed, pool)

	// 10. HTTP surface
	webhookHandler := api.NewWebhookHandler(svc, th, auditor, emitter, pool)
	healthHandler := api.NewHealthHandler(db, uploader, mirror, feed)
	router := api.NewRouter(webhookHandler, healthHandler, metrics.Handler())

	finalHandler := middleware.CORS(middleware.RequestLogger(rlMiddleware.Limit(router)))

	port := os.Getenv("PORT")
	if port == "" {
		port = "8080"
	}

	log.Printf("Starting server on :%s", port)
	server := &http.Server{
		Addr:    ":" + port,
		Handler: finalHandler,
	}

	go func() {
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	log.Printf("Shutdown signal received")

	// Graceful shutdown: stop accepting, then drain queued graph/feed/metric
	// tasks before closing their clients.
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Printf("Graceful shutdown error: %v", err)
	}
	pool.Close()
	mirror.Close(ctx)
	if nc != nil {
		nc.Close()
	}
	if db != nil {
		db.Close()
	}
	log.Printf("Server stopped gracefully")
}
