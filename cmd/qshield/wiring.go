package main

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"

	"github.com/prometheus/client_golang/prometheus"
	_ "modernc.org/sqlite"

	"github.com/danielpatrickdp/quantum-shield/internal/config"
	"github.com/danielpatrickdp/quantum-shield/internal/logging"
	"github.com/danielpatrickdp/quantum-shield/internal/orchestrator"
	"github.com/danielpatrickdp/quantum-shield/internal/storage"
	"github.com/danielpatrickdp/quantum-shield/internal/telemetry"
)

// #region wiring

// shield is an orchestrator client plus the resources it was built on.
type shield struct {
	client  *orchestrator.Client
	auditDB *sql.DB
	ownsDB  bool // auditDB is not a storage tier and must be closed here
}

func (s *shield) Close() error {
	err := s.client.Close()
	if s.ownsDB {
		if cerr := s.auditDB.Close(); err == nil {
			err = cerr
		}
	}
	return err
}

// openShield builds the client for cfg. With storage enabled it opens the
// tiers under cfg.Storage.DataDir and keeps the audit trail and defense
// outcomes in the SQLite database.
func openShield(ctx context.Context, cfg config.Config, logger *slog.Logger, reg prometheus.Registerer) (*shield, error) {
	opts := []orchestrator.Option{
		orchestrator.WithLogger(logger),
		orchestrator.WithMetrics(telemetry.NewMetrics(reg)),
	}
	s := &shield{}

	var store *storage.Manager
	if cfg.Storage.Enabled {
		var (
			db   *sql.DB
			owns bool
			err  error
		)
		store, db, owns, err = openStorage(cfg.Storage, logger)
		if err != nil {
			return nil, err
		}
		s.auditDB, s.ownsDB = db, owns
		sink, err := logging.NewSQLiteSink(db)
		if err != nil {
			s.release(store)
			return nil, fmt.Errorf("audit sink: %w", err)
		}
		outcomes, err := orchestrator.NewDefenseMemory(db)
		if err != nil {
			s.release(store)
			return nil, fmt.Errorf("defense memory: %w", err)
		}
		opts = append(opts,
			orchestrator.WithStorage(store),
			orchestrator.WithAuditSink(sink),
			orchestrator.WithDefenseMemory(outcomes),
		)
	}

	client, err := orchestrator.New(ctx, cfg, opts...)
	if err != nil {
		s.release(store)
		return nil, err
	}
	s.client = client
	return s, nil
}

// release closes what openShield opened before a failure.
func (s *shield) release(store *storage.Manager) {
	if store != nil {
		store.Close()
	}
	if s.ownsDB {
		s.auditDB.Close()
	}
}

// openStorage opens the memory, file and database tiers. The returned
// database backs the audit sink; owns reports whether the caller must close it.
func openStorage(sc config.StorageConfig, logger *slog.Logger) (*storage.Manager, *sql.DB, bool, error) {
	if err := os.MkdirAll(sc.DataDir, 0o755); err != nil {
		return nil, nil, false, fmt.Errorf("create data dir: %w", err)
	}
	var adapters []storage.Adapter
	closeAll := func() {
		for _, a := range adapters {
			a.Close()
		}
	}

	if sc.MemoryCapacity > 0 {
		mem, err := storage.NewMemoryAdapter(sc.MemoryCapacity)
		if err != nil {
			return nil, nil, false, err
		}
		adapters = append(adapters, mem)
	}
	file, err := storage.NewFileAdapter(sc.FileDir())
	if err != nil {
		closeAll()
		return nil, nil, false, err
	}
	adapters = append(adapters, file)

	var (
		db   *sql.DB
		owns bool
	)
	switch sc.Database {
	case config.DatabaseSQLite:
		lite, err := storage.NewSQLiteAdapter(sc.DBPath())
		if err != nil {
			closeAll()
			return nil, nil, false, err
		}
		adapters = append(adapters, lite)
		db = lite.DB()
	case config.DatabaseBadger:
		bdg, err := storage.OpenBadger(storage.BadgerConfig{Path: sc.BadgerDir(), Logger: logger})
		if err != nil {
			closeAll()
			return nil, nil, false, err
		}
		adapters = append(adapters, bdg)
	}
	if db == nil {
		db, err = sql.Open("sqlite", sc.DBPath())
		if err != nil {
			closeAll()
			return nil, nil, false, fmt.Errorf("open audit db: %w", err)
		}
		db.SetMaxOpenConns(1)
		owns = true
	}

	store, err := storage.NewManager(sc.Placement, adapters, storage.WithLogger(logger))
	if err != nil {
		closeAll()
		if owns {
			db.Close()
		}
		return nil, nil, false, err
	}
	return store, db, owns, nil
}

// #endregion wiring
