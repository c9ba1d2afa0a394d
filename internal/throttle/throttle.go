package throttle

import (
	"log"
	"math"
	"math/rand/v2"
	"sync"
	"time"
)

const (
	MethodDeterministic = "deterministic"
	MethodProbabilistic = "probabilistic"
)

// Config mirrors the `throttle:` block in config/default.yaml.
// A ratio of 0.005 means one image uploaded per 200 seen.
type Config struct {
	Enabled        bool    `yaml:"enabled"`
	ProcessRatio   float64 `yaml:"process_ratio"`
	MaxPerHour     int     `yaml:"max_per_hour"`
	SamplingMethod string  `yaml:"sampling_method"` // deterministic|probabilistic
	Description    string  `yaml:"description"`
}

// minuteBucket accumulates one minute of decisions. Sixty of them form the
// rolling-hour window without keeping per-decision timestamps around.
type minuteBucket struct {
	minute    int64
	received  uint64
	processed uint64
	skipped   uint64
}

// Throttle decides which snapshot images are worth an upload. One instance
// serves the whole process so the admission ratio holds across batch sizes:
// 100 one-image batches and one 100-image batch spend the same budget.
type Throttle struct {
	mu  sync.Mutex
	cfg Config

	seen           uint64 // images offered to Admit since process start
	totalReceived  uint64
	totalProcessed uint64
	totalSkipped   uint64
	lastEventAt    time.Time

	buckets [60]minuteBucket
}

func New(cfg Config) *Throttle {
	if cfg.ProcessRatio < 0 {
		cfg.ProcessRatio = 0
	}
	if cfg.ProcessRatio > 1 {
		cfg.ProcessRatio = 1
	}
	if cfg.SamplingMethod != MethodProbabilistic {
		cfg.SamplingMethod = MethodDeterministic
	}
	return &Throttle{cfg: cfg}
}

// Admit decides whether the next image seen gets uploaded. Disabled means
// admit everything. Any internal failure denies: a broken sampler must
// throttle, not flood the image service.
func (t *Throttle) Admit() (admitted bool) {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("[Throttle] Admit panic: %v (denying)", r)
			admitted = false
		}
	}()

	t.mu.Lock()
	defer t.mu.Unlock()

	if !t.cfg.Enabled {
		return true
	}

	t.seen++

	if t.cfg.MaxPerHour > 0 {
		_, processed, _ := t.hourTotalsLocked(time.Now())
		if processed >= uint64(t.cfg.MaxPerHour) {
			return false
		}
	}

	switch t.cfg.SamplingMethod {
	case MethodProbabilistic:
		return rand.Float64() < t.cfg.ProcessRatio
	default:
		// Equal spacing: the n-th image is admitted exactly when the integer
		// part of n*ratio advances. ratio=0 admits none, ratio=1 admits all.
		r := t.cfg.ProcessRatio
		return math.Floor(float64(t.seen)*r) > math.Floor(float64(t.seen-1)*r)
	}
}

// RecordDecision books the outcome for one image. admitted means the image
// actually made it to hosted storage, not merely that Admit said yes; failed
// uploads count as skipped so the hourly budget is spent on real uploads.
func (t *Throttle) RecordDecision(admitted bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	now := time.Now()
	b := t.bucketLocked(now)

	t.totalReceived++
	b.received++
	if admitted {
		t.totalProcessed++
		b.processed++
	} else {
		t.totalSkipped++
		b.skipped++
	}
	t.lastEventAt = now
}

// Stats is the wire shape of GET /webhook/{source}/stats.
type Stats struct {
	Enabled               bool       `json:"enabled"`
	SamplingMethod        string     `json:"samplingMethod"`
	ProcessRatio          float64    `json:"processRatio"`
	MaxPerHour            int        `json:"maxPerHour"`
	Description           string     `json:"description,omitempty"`
	TotalReceived         uint64     `json:"totalReceived"`
	TotalProcessed        uint64     `json:"totalProcessed"`
	TotalSkipped          uint64     `json:"totalSkipped"`
	LastHourReceived      uint64     `json:"lastHourReceived"`
	LastHourProcessed     uint64     `json:"lastHourProcessed"`
	LastHourSkipped       uint64     `json:"lastHourSkipped"`
	ProjectedIfNoThrottle uint64     `json:"projectedUploadsIfNoThrottle"`
	LastEventAt           *time.Time `json:"lastEventAt,omitempty"`
}

func (t *Throttle) Stats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	rcv, proc, skip := t.hourTotalsLocked(time.Now())
	s := Stats{
		Enabled:               t.cfg.Enabled,
		SamplingMethod:        t.cfg.SamplingMethod,
		ProcessRatio:          t.cfg.ProcessRatio,
		MaxPerHour:            t.cfg.MaxPerHour,
		Description:           t.cfg.Description,
		TotalReceived:         t.totalReceived,
		TotalProcessed:        t.totalProcessed,
		TotalSkipped:          t.totalSkipped,
		LastHourReceived:      rcv,
		LastHourProcessed:     proc,
		LastHourSkipped:       skip,
		ProjectedIfNoThrottle: t.totalReceived,
	}
	if !t.lastEventAt.IsZero() {
		at := t.lastEventAt
		s.LastEventAt = &at
	}
	return s
}

// bucketLocked returns the ring slot for now, resetting it when the slot
// still holds counts from an hour ago.
func (t *Throttle) bucketLocked(now time.Time) *minuteBucket {
	m := now.Unix() / 60
	idx := m % 60
	if t.buckets[idx].minute != m {
		t.buckets[idx] = minuteBucket{minute: m}
	}
	return &t.buckets[idx]
}

func (t *Throttle) hourTotalsLocked(now time.Time) (received, processed, skipped uint64) {
	cutoff := now.Unix()/60 - 59
	for i := range t.buckets {
		if t.buckets[i].minute >= cutoff {
			received += t.buckets[i].received
			processed += t.buckets[i].processed
			skipped += t.buckets[i].skipped
		}
	}
	return
}
