package db

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/angelmondragon/terminalpay-backend/pkg/config"
	"github.com/angelmondragon/terminalpay-backend/pkg/logger"
)

// gormLogger forwards slow statements and driver errors to the service logger
// so they carry the request's payment and terminal fields.
type gormLogger struct {
	logg          *logger.Logger
	slowThreshold time.Duration
}

func newGormLogger(logg *logger.Logger, cfg config.DBConfig) gormlogger.Interface {
	if logg == nil {
		return gormlogger.Discard
	}
	return &gormLogger{logg: logg, slowThreshold: cfg.SlowQueryThreshold}
}

func (g *gormLogger) LogMode(gormlogger.LogLevel) gormlogger.Interface { return g }

func (g *gormLogger) Info(context.Context, string, ...any) {}

func (g *gormLogger) Warn(ctx context.Context, msg string, _ ...any) {
	g.logg.Warn(ctx, "gorm: "+msg)
}

func (g *gormLogger) Error(ctx context.Context, msg string, _ ...any) {
	g.logg.Error(ctx, "gorm error", errors.New(msg))
}

func (g *gormLogger) Trace(ctx context.Context, begin time.Time, fc func() (string, int64), err error) {
	elapsed := time.Since(begin)
	switch {
	case err != nil && !errors.Is(err, gorm.ErrRecordNotFound):
		sql, rows := fc()
		g.logg.Debug(g.logg.WithFields(ctx, map[string]any{
			"sql":         sql,
			"rows":        rows,
			"elapsed_ms":  elapsed.Milliseconds(),
			"query_error": err.Error(),
		}), "query failed")
	case g.slowThreshold > 0 && elapsed > g.slowThreshold:
		sql, rows := fc()
		g.logg.Warn(g.logg.WithFields(ctx, map[string]any{
			"sql":        sql,
			"rows":       rows,
			"elapsed_ms": elapsed.Milliseconds(),
			"threshold":  g.slowThreshold.String(),
		}), "slow query")
	}
}
