package main

import (
	"context"
	"database/sql"
	"fmt"
	"path/filepath"

	"github.com/patrickspencer/chatbat/internal/config"
	"github.com/patrickspencer/chatbat/internal/realtime"
	"github.com/patrickspencer/chatbat/internal/store"
)

// Database files under the data directory. The log and the journal never
// share a file, so a writer holding one lock cannot stall the other.
const (
	logDBName     = "chatbat.db"
	journalDBName = "events.db"
)

// backends holds the shared state selected by configuration.
type backends struct {
	log       store.MessageLog
	journal   realtime.Journal
	logDB     *sql.DB
	journalDB *sql.DB
}

func (b *backends) Close() {
	if b.journal != nil {
		_ = b.journal.Close()
	}
	if b.log != nil {
		_ = b.log.Close()
	}
	for _, db := range []*sql.DB{b.journalDB, b.logDB} {
		if db != nil {
			_ = db.Close()
		}
	}
}

func openBackends(ctx context.Context, cfg *config.Config) (*backends, error) {
	b := &backends{}

	switch cfg.Storage.Backend {
	case "sqlite":
		db, err := store.OpenSQLite(filepath.Join(cfg.DataDir, logDBName), cfg.Storage.LockTimeout)
		if err != nil {
			return nil, err
		}
		b.logDB = db
		l, err := store.NewSQLiteLog(db, cfg.Storage.Capacity)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.log = l
	default:
		l, err := store.NewFileLog(store.FileLogOptions{
			Dir:         cfg.DataDir,
			Capacity:    cfg.Storage.Capacity,
			LockTimeout: cfg.Storage.LockTimeout,
		})
		if err != nil {
			return nil, err
		}
		b.log = l
	}

	if cfg.Journal.Backend == "sqlite" {
		db, err := store.OpenSQLite(filepath.Join(cfg.DataDir, journalDBName), cfg.Storage.LockTimeout)
		if err != nil {
			b.Close()
			return nil, err
		}
		b.journalDB = db
	}

	journal, err := openJournal(ctx, cfg, b.journalDB)
	if err != nil {
		b.Close()
		return nil, fmt.Errorf("open %s journal: %w", cfg.Journal.Backend, err)
	}
	b.journal = journal
	return b, nil
}
func openJournal(ctx context.Context, cfg *config.Config, db *sql.DB) (realtime.Journal, error) {
	switch cfg.Journal.Backend {
	case "memory":
		return realtime.NewMemoryJournal(), nil
	case "sqlite":
		return realtime.NewSQLiteJournal(db)
	case "redis":
		return realtime.NewRedisJournal(ctx, cfg.Journal.RedisURL, cfg.Journal.RedisKey)
	case "file":
		return realtime.NewFileJournal(cfg.DataDir, cfg.Storage.LockTimeout)
	default:
		return nil, fmt.Errorf("unknown journal backend %q", cfg.Journal.Backend)
	}
}
