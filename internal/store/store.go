package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is the sentinel every store method returns when a lookup
// by ID misses. A CAS transition whose precondition misses returns
// ErrConflict instead.
var ErrNotFound = errors.New("store: not found")

// ErrConflict is returned by TransitionBatch when the row's current
// status no longer matches the expected 'from' status.
var ErrConflict = errors.New("store: state conflict")

// StoreType selects the backing gorm dialect.
type StoreType string

const (
	StoreTypeSQLite   StoreType = "sqlite"
	StoreTypePostgres StoreType = "postgres"
)

// MetadataStore is the durable record of Files and BatchJobs. Every
// write commits synchronously (fsync-on-commit for sqlite via WAL,
// normal transactional durability for postgres) so a crash never loses
// an acknowledged write.
type MetadataStore interface {
	Ping(ctx context.Context) error
	Close(ctx context.Context) error

	CreateFile(ctx context.Context, f *File) error
	GetFile(ctx context.Context, id string) (*File, error)
	ListFiles(ctx context.Context, purpose string, limit, offset int) ([]*File, error)
	SoftDeleteFile(ctx context.Context, id string) error
	// DeleteFilesOlderThan hard-deletes soft-deleted File rows created
	// before cutoff, in batches of at most batchSize, invoking onDeleted
	// with each row's blob path after the rows are removed so the caller
	// can garbage-collect the backing blob.
	DeleteFilesOlderThan(ctx context.Context, cutoff time.Time, batchSize int, onDeleted func(path string)) (int64, error)

	CreateBatch(ctx context.Context, b *BatchJob) error
	GetBatch(ctx context.Context, id string) (*BatchJob, error)
	ListBatches(ctx context.Context, limit, offset int) ([]*BatchJob, error)

	// TransitionBatch performs the CAS status move: it only applies
	// mutate when the row's current status equals from; otherwise it
	// returns ErrConflict.
	TransitionBatch(ctx context.Context, id string, from, to BatchStatus, mutate func(*BatchJob)) error

	// BumpCounts atomically adds to the completed/failed counters.
	BumpCounts(ctx context.Context, id string, completedDelta, failedDelta int) error

	// FindResumable returns every non-terminal batch (validating,
	// in_progress, finalizing, cancelling), oldest first, consulted once
	// at startup to resume after a crash.
	FindResumable(ctx context.Context) ([]*BatchJob, error)

	// FindExpiring returns in_progress/validating batches whose
	// ExpiresAt has passed, for the scheduler's expiry sweeper.
	FindExpiring(ctx context.Context, asOf time.Time) ([]*BatchJob, error)
}
