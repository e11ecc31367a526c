// Package storage opens the configured persistence backend.
package storage

import (
	"context"
	"fmt"

	"github.com/medsum/platform/internal/document"
	"github.com/medsum/platform/internal/insight"
	"github.com/medsum/platform/internal/patient"
	"github.com/medsum/platform/internal/shared/config"
	"github.com/medsum/platform/internal/shared/database"
	"github.com/medsum/platform/internal/shared/logger"
	"github.com/medsum/platform/internal/storage/memory"
	"github.com/medsum/platform/internal/storage/sqlite"
)

// Stores bundles the three stores of one backend.
type Stores struct {
	Documents document.Store
	Insights  insight.InsightStore
	Users     patient.Store

	health func(context.Context) error
	close  func()
}

// Health checks backend connectivity.
func (s *Stores) Health(ctx context.Context) error {
	return s.health(ctx)
}

// Close releases the backend.
func (s *Stores) Close() {
	s.close()
}

// Open connects to the backend named by cfg.Store.Driver. Postgres
// migrations run only when migrate is true; SQLite always migrates on open.
func Open(ctx context.Context, cfg *config.Config, migrate bool, log *logger.Logger) (*Stores, error) {
	switch cfg.Store.Driver {
	case "postgres":
		db, err := database.New(ctx, cfg.Database)
		if err != nil {
			return nil, err
		}
		if migrate {
			if err := database.Migrate(ctx, db.Pool, log); err != nil {
				db.Close()
				return nil, err
			}
		}
		log.Info("connected to database", "driver", "postgres")
		return &Stores{
			Documents: document.NewRepository(db.Pool),
			Insights:  insight.NewRepository(db.Pool),
			Users:     patient.NewRepository(db.Pool),
			health:    db.Health,
			close:     db.Close,
		}, nil

	case "sqlite":
		s, err := sqlite.NewStore(cfg.Store.SQLitePath)
		if err != nil {
			return nil, err
		}
		log.Info("opened database", "driver", "sqlite", "path", s.Path())
		return &Stores{
			Documents: s.Documents(),
			Insights:  s.Insights(),
			Users:     s.Users(),
			health:    s.Ping,
			close:     func() { s.Close() },
		}, nil

	case "memory":
		s := memory.NewStore()
		log.Warn("using in-memory store; data is lost on restart")
		return &Stores{
			Documents: s.Documents(),
			Insights:  s.Insights(),
			Users:     s.Users(),
			health:    s.Ping,
			close:     func() { s.Close() },
		}, nil

	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}
