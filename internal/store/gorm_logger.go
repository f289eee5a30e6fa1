package store

import (
	"context"
	"time"

	gormlogger "gorm.io/gorm/logger"

	"github.com/sammcj/batchserve/internal/logging"
)

// adapter routes gorm's logger calls through this server's Logger
// interface instead of gorm's own writer, so store logs share the same
// format and destination as everything else.
type adapter struct {
	logger logging.Logger
}

func newGormLogger(l logging.Logger) *adapter {
	return &adapter{logger: l}
}

func (a *adapter) LogMode(gormlogger.LogLevel) gormlogger.Interface {
	return a
}

func (a *adapter) Info(ctx context.Context, msg string, data ...interface{}) {
	a.logger.Debug(msg, "data", data)
}

func (a *adapter) Warn(ctx context.Context, msg string, data ...interface{}) {
	a.logger.Warn(msg, "data", data)
}

func (a *adapter) Error(ctx context.Context, msg string, data ...interface{}) {
	a.logger.Error(nil, msg, "data", data)
}

func (a *adapter) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	// store-level tracing is out of scope; gorm errors surface through
	// the returned error from each call site instead.
}
