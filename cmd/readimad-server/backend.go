package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"

	"github.com/EmbeddedMhawar/Readimad/internal/config"
	"github.com/EmbeddedMhawar/Readimad/internal/db"
	platformredis "github.com/EmbeddedMhawar/Readimad/internal/platform/redis"
	"github.com/EmbeddedMhawar/Readimad/internal/readimad/ledger"
	ledgermem "github.com/EmbeddedMhawar/Readimad/internal/readimad/ledger/memory"
	ledgerredis "github.com/EmbeddedMhawar/Readimad/internal/readimad/ledger/redis"
	ledgersqlite "github.com/EmbeddedMhawar/Readimad/internal/readimad/ledger/sqlite"
	"github.com/EmbeddedMhawar/Readimad/internal/readimad/store"
	storemem "github.com/EmbeddedMhawar/Readimad/internal/readimad/store/memory"
	storesqlite "github.com/EmbeddedMhawar/Readimad/internal/readimad/store/sqlite"
)

type backend struct {
	ledger  ledger.Ledger
	events  store.EventStore
	closers []func()
}

// Close releases resources in reverse order of acquisition.
func (b *backend) Close() {
	for i := len(b.closers) - 1; i >= 0; i-- {
		b.closers[i]()
	}
}

// openBackend builds the ledger and audit log selected by cfg.
// memory keeps both in process. sqlite keeps both in one database file.
// redis shares the ledger across replicas and keeps the audit log in the
// local SQLite file.
func openBackend(ctx context.Context, cfg config.Config, logger *log.Logger) (*backend, error) {
	b := &backend{}

	switch cfg.LedgerBackend {
	case config.BackendMemory:
		b.ledger = ledgermem.New(cfg.LedgerShards)
		b.events = storemem.NewEventStore()
		logger.Printf("ledger: memory (%d shards)", cfg.LedgerShards)
		return b, nil

	case config.BackendSQLite:
		sqlDB, writer, err := openSQLite(ctx, cfg, b)
		if err != nil {
			return nil, err
		}
		b.ledger = ledgersqlite.New(sqlDB, writer)
		b.events = storesqlite.NewEventStore(sqlDB, writer)
		logger.Printf("ledger: sqlite (%s)", cfg.DBPath)
		return b, nil

	case config.BackendRedis:
		client, err := platformredis.New(ctx, platformredis.Config{
			URL:          cfg.RedisURL,
			ReadTimeout:  cfg.LedgerTimeout,
			WriteTimeout: cfg.LedgerTimeout,
		})
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, func() { _ = client.Close() })
		b.ledger = ledgerredis.New(client)

		sqlDB, writer, err := openSQLite(ctx, cfg, b)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.events = storesqlite.NewEventStore(sqlDB, writer)
		logger.Printf("ledger: redis, audit: sqlite (%s)", cfg.DBPath)
		return b, nil

	default:
		return nil, fmt.Errorf("unknown ledger backend %q", cfg.LedgerBackend)
	}
}

func openSQLite(ctx context.Context, cfg config.Config, b *backend) (*sql.DB, *db.Worker, error) {
	sqlDB, err := db.Open(ctx, db.Config{Path: cfg.DBPath, Env: cfg.Env})
	if err != nil {
		return nil, nil, fmt.Errorf("open sqlite: %w", err)
	}
	writer := db.NewWorker(sqlDB)
	// Drain the writer before closing the handle.
	b.closers = append(b.closers, func() { _ = sqlDB.Close() }, writer.Close)
	return sqlDB, writer, nil
}
