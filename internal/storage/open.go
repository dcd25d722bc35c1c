// Package storage selects and opens the configured store.RecordStore backend.
package storage

import (
	"context"
	"fmt"

	"github.com/JakeFAU/ski-resort-crawler/internal/config"
	"github.com/JakeFAU/ski-resort-crawler/internal/storage/memory"
	"github.com/JakeFAU/ski-resort-crawler/internal/storage/postgres"
	"github.com/JakeFAU/ski-resort-crawler/internal/storage/sqlite"
	"github.com/JakeFAU/ski-resort-crawler/internal/store"
)

// Open connects the backend named by cfg.Driver and pings it. Failures here are fatal to a run.
func Open(ctx context.Context, cfg config.StoreConfig) (store.RecordStore, error) {
	var (
		s   store.RecordStore
		err error
	)
	switch cfg.Driver {
	case config.DriverMemory:
		s = memory.NewRecordStore()
	case config.DriverSQLite:
		s, err = sqlite.Open(cfg.DSN)
	case config.DriverPostgres:
		s, err = postgres.New(ctx, postgres.Config{DSN: cfg.DSN, MaxConns: int32(cfg.MaxConns)})
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	if err := s.Ping(ctx); err != nil {
		_ = s.Close()
		return nil, fmt.Errorf("open %s store: %w", cfg.Driver, err)
	}
	return s, nil
}
