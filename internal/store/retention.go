package store

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/sammcj/batchserve/internal/logging"
)

const (
	retentionCheckInterval = 24 * time.Hour
	retentionMinJitter     = 15 * time.Minute
	retentionMaxJitter     = 30 * time.Minute
	retentionBatchSize     = 100
)

// BlobDeleter removes a file's backing blob once its metadata row is
// hard-deleted. Implemented by blobstore.Store; kept as a narrow
// interface here so this package never imports blobstore directly.
type BlobDeleter interface {
	Delete(path string) error
}

// Retention runs the periodic sweep that hard-deletes soft-deleted File
// rows (and their blobs) once CLEANUP_AFTER_DAYS has elapsed, following
// the jittered-daily-timer shape used for retention elsewhere in this
// codebase: an immediate run at startup, then 24h + random 15-30min
// jitter between subsequent runs, so many server instances don't all
// sweep in lockstep.
type Retention struct {
	store      MetadataStore
	blobs      BlobDeleter
	afterDays  int
	logger     logging.Logger
	mu         sync.Mutex
	stopCh     chan struct{}
}

func NewRetention(store MetadataStore, blobs BlobDeleter, afterDays int, logger logging.Logger) *Retention {
	return &Retention{store: store, blobs: blobs, afterDays: afterDays, logger: logger}
}

func (r *Retention) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopCh != nil {
		return
	}
	r.stopCh = make(chan struct{})
	stop := r.stopCh

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
		r.sweep(ctx)
		cancel()

		timer := time.NewTimer(nextRunDelay())
		defer timer.Stop()
		for {
			select {
			case <-timer.C:
				ctx, cancel := context.WithTimeout(context.Background(), 30*time.Minute)
				r.sweep(ctx)
				cancel()
				timer.Reset(nextRunDelay())
			case <-stop:
				return
			}
		}
	}()
}

func (r *Retention) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.stopCh == nil {
		return
	}
	close(r.stopCh)
	r.stopCh = nil
}

func (r *Retention) sweep(ctx context.Context) {
	days := r.afterDays
	if days < 1 {
		days = 30
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -days)

	var total int64
	for {
		select {
		case <-ctx.Done():
			r.logger.Warn("retention sweep cancelled", "err", ctx.Err())
			return
		default:
		}
		deleted, err := r.store.DeleteFilesOlderThan(ctx, cutoff, retentionBatchSize, func(path string) {
			if err := r.blobs.Delete(path); err != nil {
				r.logger.Warn("failed to delete blob during retention sweep", "path", path, "err", err.Error())
			}
		})
		if err != nil {
			r.logger.Error(err, "retention sweep batch failed")
			return
		}
		total += deleted
		if deleted < retentionBatchSize {
			break
		}
	}
	if total > 0 {
		r.logger.Info("retention sweep completed", "deleted", total)
	}
}

func nextRunDelay() time.Duration {
	jitter := retentionMinJitter + time.Duration(rand.Int63n(int64(retentionMaxJitter-retentionMinJitter)))
	return retentionCheckInterval + jitter
}
