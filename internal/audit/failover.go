package audit

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"
)

var (
	SpoolDir           = "/var/lib/eli/audit_spool"
	MaxSpoolSize int64 = 256 * 1024 * 1024 // 256MB
)

func ConfigureFailover(dir string, maxMB int64) {
	if dir != "" {
		SpoolDir = dir
	}
	if maxMB > 0 {
		MaxSpoolSize = maxMB * 1024 * 1024
	}
	_ = os.MkdirAll(SpoolDir, 0750)
}

// SpoolLog appends the record to the local JSONL spool. Used when the
// webhook_logs insert fails; the replayer drains it once the DB is back.
func SpoolLog(rec WebhookLog) error {
	if isSpoolFull() {
		return fmt.Errorf("audit spool full (%d bytes cap)", MaxSpoolSize)
	}

	payload := FailoverRecord{
		LogID:     rec.ID.String(),
		Payload:   rec,
		Timestamp: time.Now(),
	}

	line, err := json.Marshal(payload)
	if err != nil {
		return err
	}

	filename := filepath.Join(SpoolDir, "webhook_spool.log")

	f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(append(line, '\n')); err != nil {
		return err
	}

	return nil
}

func isSpoolFull() bool {
	var size int64
	filepath.Walk(SpoolDir, func(_ string, info fs.FileInfo, err error) error {
		if err != nil || info == nil {
			return nil
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size >= MaxSpoolSize
}

// StartReplayer drains the spool every 30s until ctx is cancelled.
func (s *Service) StartReplayer(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				s.ReplaySpool(ctx)
			}
		}
	}()
}

var replayLock sync.Mutex

// ReplaySpool moves the current spool aside and re-attempts each record.
// Records that still fail are re-spooled by WriteLog, so nothing is lost
// while the DB stays down; ON CONFLICT DO NOTHING keeps replays idempotent.
func (s *Service) ReplaySpool(ctx context.Context) {
	replayLock.Lock()
	defer replayLock.Unlock()

	filename := filepath.Join(SpoolDir, "webhook_spool.log")
	info, err := os.Stat(filename)
	if os.IsNotExist(err) || (info != nil && info.Size() == 0) {
		return
	}

	replayFile := filepath.Join(SpoolDir, fmt.Sprintf("replay_%d.log", time.Now().UnixNano()))
	if err := os.Rename(filename, replayFile); err != nil {
		log.Printf("Failed to rotate spool for replay: %v", err)
		return
	}

	f, err := os.Open(replayFile)
	if err != nil {
		return
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	var succeeded int

	for scanner.Scan() {
		var fr FailoverRecord
		if err := json.Unmarshal(scanner.Bytes(), &fr); err != nil {
			continue
		}
		if err := s.WriteLog(ctx, fr.Payload); err == nil {
			succeeded++
		}
	}

	f.Close()
	os.Remove(replayFile)

	if succeeded > 0 {
		log.Printf("Audit Replay: %d webhook logs flushed", succeeded)
	}
}
