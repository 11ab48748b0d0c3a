package bootstrap

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	appconfig "github.com/softaidev/assistant-ledger/internal/config"
	"github.com/softaidev/assistant-ledger/internal/http/handlers"
	"github.com/softaidev/assistant-ledger/internal/ledger"
	"github.com/softaidev/assistant-ledger/pkg/logging"
)

const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendSQLite   = "sqlite"
)

// Storage is the selected ledger backend.
type Storage struct {
	Gateway ledger.Gateway
	Backend string
	// Health is nil for the memory backend.
	Health handlers.Pinger
	// Pool is set for the postgres backend.
	Pool  *pgxpool.Pool
	close func()
}

// Close releases the backend's connections.
func (s *Storage) Close() {
	if s != nil && s.close != nil {
		s.close()
	}
}

// ResolveBackend picks the backend for STORAGE_BACKEND=auto: Postgres when a
// DATABASE_URL is set, SQLite otherwise.
func ResolveBackend(cfg *appconfig.Config) (string, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.StorageBackend))
	switch backend {
	case "", "auto":
		if strings.TrimSpace(cfg.DatabaseURL) != "" {
			return BackendPostgres, nil
		}
		return BackendSQLite, nil
	case BackendMemory, BackendSQLite:
		return backend, nil
	case BackendPostgres:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return "", fmt.Errorf("bootstrap: DATABASE_URL is required for the postgres backend")
		}
		return backend, nil
	default:
		return "", fmt.Errorf("bootstrap: unknown storage backend %q", cfg.StorageBackend)
	}
}

// BuildStorage opens the configured ledger backend.
func BuildStorage(ctx context.Context, cfg *appconfig.Config, logger *logging.Logger) (*Storage, error) {
	if cfg == nil {
		return nil, fmt.Errorf("bootstrap: config is required")
	}
	if logger == nil {
		logger = logging.Default()
	}
	backend, err := ResolveBackend(cfg)
	if err != nil {
		return nil, err
	}

	switch backend {
	case BackendPostgres:
		pool, err := connectPostgresPool(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, err
		}
		logger.Info("ledger storage ready", "backend", backend)
		return &Storage{Gateway: ledger.NewPostgresGateway(pool), Backend: backend, Health: pool, Pool: pool, close: pool.Close}, nil
	case BackendSQLite:
		gw, err := ledger.NewSQLiteGateway(cfg.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("bootstrap: open sqlite %s: %w", cfg.SQLitePath, err)
		}
		logger.Info("ledger storage ready", "backend", backend, "path", cfg.SQLitePath)
		return &Storage{Gateway: gw, Backend: backend, Health: gw, close: func() { _ = gw.Close() }}, nil
	default:
		logger.Warn("using in-memory ledger; records are lost on restart")
		return &Storage{Gateway: ledger.NewMemoryGateway(), Backend: BackendMemory}, nil
	}
}

func connectPostgresPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: parse DATABASE_URL: %w", err)
	}
	poolCfg.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("bootstrap: connect postgres: %w", err)
	}
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("bootstrap: ping postgres: %w", err)
	}
	return pool, nil
}
