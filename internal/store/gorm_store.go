package store

import (
	"context"
	"fmt"
	"os"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/sammcj/batchserve/internal/logging"
)

// gormStore implements MetadataStore over gorm, matching the single
// RDB-backed implementation pattern used for every other SQL-backed
// store in this codebase: one struct wraps *gorm.DB regardless of
// dialect, with dialect selection happening only at construction time.
type gormStore struct {
	db     *gorm.DB
	logger logging.Logger
}

// SQLiteConfig configures the sqlite dialect, tuned for a single
// writer/multiple reader workload via WAL mode.
type SQLiteConfig struct {
	Path string
}

// PostgresConfig configures the postgres dialect.
type PostgresConfig struct {
	Host, Port, User, Password, DBName, SSLMode string
}

// NewSQLiteStore opens (creating if necessary) a WAL-mode sqlite
// database and runs migrations.
func NewSQLiteStore(ctx context.Context, cfg SQLiteConfig, logger logging.Logger) (MetadataStore, error) {
	if _, err := os.Stat(cfg.Path); os.IsNotExist(err) {
		f, err := os.Create(cfg.Path)
		if err != nil {
			return nil, fmt.Errorf("create sqlite file: %w", err)
		}
		_ = f.Close()
	}
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000&_busy_timeout=60000&_wal_autocheckpoint=1000&_foreign_keys=1", cfg.Path)
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: newGormLogger(logger)})
	if err != nil {
		return nil, err
	}
	s := &gormStore{db: db, logger: logger}
	if err := runMigrations(db); err != nil {
		return nil, err
	}
	return s, nil
}

// NewPostgresStore opens a postgres connection and runs migrations.
func NewPostgresStore(ctx context.Context, cfg PostgresConfig, logger logging.Logger) (MetadataStore, error) {
	dsn := fmt.Sprintf("host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		cfg.Host, cfg.Port, cfg.User, cfg.Password, cfg.DBName, cfg.SSLMode)
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{Logger: newGormLogger(logger)})
	if err != nil {
		return nil, err
	}
	s := &gormStore{db: db, logger: logger}
	if err := runMigrations(db); err != nil {
		if sqlDB, sqlErr := db.DB(); sqlErr == nil {
			sqlDB.Close()
		}
		return nil, err
	}
	return s, nil
}

func runMigrations(db *gorm.DB) error {
	return db.AutoMigrate(&File{}, &BatchJob{})
}

func (s *gormStore) Ping(ctx context.Context) error {
	return s.db.WithContext(ctx).Exec("SELECT 1").Error
}

func (s *gormStore) Close(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func (s *gormStore) CreateFile(ctx context.Context, f *File) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(f).Error
}

func (s *gormStore) GetFile(ctx context.Context, id string) (*File, error) {
	var f File
	err := s.db.WithContext(ctx).Where("id = ? AND deleted = ?", id, false).First(&f).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &f, nil
}

func (s *gormStore) ListFiles(ctx context.Context, purpose string, limit, offset int) ([]*File, error) {
	q := s.db.WithContext(ctx).Where("deleted = ?", false)
	if purpose != "" {
		q = q.Where("purpose = ?", purpose)
	}
	var files []*File
	err := q.Order("created_at DESC").Limit(limit).Offset(offset).Find(&files).Error
	return files, err
}

func (s *gormStore) SoftDeleteFile(ctx context.Context, id string) error {
	tx := s.db.WithContext(ctx).Model(&File{}).Where("id = ?", id).Update("deleted", true)
	if tx.Error != nil {
		return tx.Error
	}
	if tx.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *gormStore) DeleteFilesOlderThan(ctx context.Context, cutoff time.Time, batchSize int, onDeleted func(path string)) (int64, error) {
	var rows []File
	if err := s.db.WithContext(ctx).
		Where("created_at < ? AND deleted = ?", cutoff, true).
		Limit(batchSize).Find(&rows).Error; err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}
	ids := make([]string, len(rows))
	for i, f := range rows {
		ids[i] = f.ID
	}
	tx := s.db.WithContext(ctx).Where("id IN ?", ids).Delete(&File{})
	if tx.Error != nil {
		return 0, tx.Error
	}
	if onDeleted != nil {
		for _, f := range rows {
			onDeleted(f.Path)
		}
	}
	return tx.RowsAffected, nil
}

func (s *gormStore) CreateBatch(ctx context.Context, b *BatchJob) error {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = time.Now().UTC()
	}
	return s.db.WithContext(ctx).Create(b).Error
}

func (s *gormStore) GetBatch(ctx context.Context, id string) (*BatchJob, error) {
	var b BatchJob
	err := s.db.WithContext(ctx).Where("id = ?", id).First(&b).Error
	if err != nil {
		if err == gorm.ErrRecordNotFound {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &b, nil
}

func (s *gormStore) ListBatches(ctx context.Context, limit, offset int) ([]*BatchJob, error) {
	var batches []*BatchJob
	err := s.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Offset(offset).Find(&batches).Error
	return batches, err
}

// TransitionBatch applies the CAS update inside a transaction: it reads
// the current row (no explicit row lock), verifies its status equals from,
// stamps the matching *_at column, lets mutate() apply caller-specific
// fields, then saves. RowsAffected==0 on the guarded UPDATE means
// another writer already moved the row past 'from'.
func (s *gormStore) TransitionBatch(ctx context.Context, id string, from, to BatchStatus, mutate func(*BatchJob)) error {
	if from != to && !CanTransition(from, to) {
		return fmt.Errorf("store: illegal transition %s -> %s", from, to)
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var b BatchJob
		if err := tx.Where("id = ?", id).First(&b).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrNotFound
			}
			return err
		}
		if b.Status != from {
			return ErrConflict
		}
		b.Status = to
		now := time.Now().UTC()
		switch to {
		case BatchStatusInProgress:
			b.InProgressAt = &now
		case BatchStatusFinalizing:
			b.FinalizingAt = &now
		case BatchStatusCompleted:
			b.CompletedAt = &now
		case BatchStatusFailed:
			b.FailedAt = &now
		case BatchStatusExpired:
			b.ExpiredAt = &now
		case BatchStatusCancelling:
			b.CancellingAt = &now
		case BatchStatusCancelled:
			b.CancelledAt = &now
		}
		if mutate != nil {
			mutate(&b)
		}
		res := tx.Model(&BatchJob{}).Where("id = ? AND status = ?", id, from).Save(&b)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrConflict
		}
		return nil
	})
}

func (s *gormStore) BumpCounts(ctx context.Context, id string, completedDelta, failedDelta int) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var b BatchJob
		if err := tx.Where("id = ?", id).First(&b).Error; err != nil {
			if err == gorm.ErrRecordNotFound {
				return ErrNotFound
			}
			return err
		}
		b.RequestCounts.Completed += completedDelta
		b.RequestCounts.Failed += failedDelta
		return tx.Save(&b).Error
	})
}

// FindResumable returns every batch in a non-terminal state, oldest
// first, so a restart re-admits validating/queued batches, re-hands
// in_progress ones to the worker at their resume point, and lets a
// stuck cancelling batch reach the worker to be finalized to cancelled.
func (s *gormStore) FindResumable(ctx context.Context) ([]*BatchJob, error) {
	var batches []*BatchJob
	err := s.db.WithContext(ctx).
		Where("status IN ?", []BatchStatus{
			BatchStatusValidating,
			BatchStatusInProgress,
			BatchStatusFinalizing,
			BatchStatusCancelling,
		}).
		Order("created_at ASC").
		Find(&batches).Error
	return batches, err
}

func (s *gormStore) FindExpiring(ctx context.Context, asOf time.Time) ([]*BatchJob, error) {
	var batches []*BatchJob
	err := s.db.WithContext(ctx).
		Where("status IN ? AND expires_at < ?", []BatchStatus{BatchStatusValidating, BatchStatusInProgress}, asOf).
		Find(&batches).Error
	return batches, err
}
