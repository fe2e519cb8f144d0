package store

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"whiteboard-backend/internal/config"
	"whiteboard-backend/internal/database"
)

// Open returns the gateway selected by cfg.Store.Driver and a function that
// releases its resources.
func Open(ctx context.Context, cfg *config.Config, log zerolog.Logger) (Gateway, func() error, error) {
	noop := func() error { return nil }

	switch cfg.Store.Driver {
	case config.DriverPostgres:
		db, err := database.Connect(cfg.Database, log)
		if err != nil {
			return nil, noop, err
		}
		pg := NewPostgres(db)
		return pg, pg.Close, nil

	case config.DriverSQLite:
		lite, err := OpenSQLite(ctx, cfg.Store.SQLitePath, log)
		if err != nil {
			return nil, noop, err
		}
		return lite, lite.Close, nil

	case config.DriverS3:
		gw, err := NewS3(ctx, cfg.S3)
		if err != nil {
			return nil, noop, err
		}
		log.Info().Str("bucket", cfg.S3.BucketName).Str("prefix", cfg.S3.Prefix).Msg("S3 snapshot store ready")
		return gw, noop, nil

	case config.DriverMemory:
		log.Warn().Msg("Using in-memory snapshot store; boards are lost on restart")
		return NewMemory(), noop, nil
	}

	return nil, noop, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
}
