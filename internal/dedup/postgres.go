package dedup

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

// Execer is the part of a pgx pool the store needs; pgxmock satisfies it.
type Execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// PostgresStore claims ids in the processed_inbound table. A claim older
// than the TTL may be taken again.
type PostgresStore struct {
	db  Execer
	ttl time.Duration
}

// NewPostgresStore returns nil when db is nil.
func NewPostgresStore(db Execer, ttl time.Duration) *PostgresStore {
	if db == nil {
		return nil
	}
	if ttl <= 0 {
		ttl = 72 * time.Hour
	}
	return &PostgresStore{db: db, ttl: ttl}
}

func (s *PostgresStore) Claim(ctx context.Context, id string) (bool, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return true, nil
	}
	query := `
		INSERT INTO processed_inbound (message_id, claimed_at)
		VALUES ($1, now())
		ON CONFLICT (message_id) DO UPDATE SET claimed_at = EXCLUDED.claimed_at
		WHERE processed_inbound.claimed_at < now() - make_interval(secs => $2)
	`
	ct, err := s.db.Exec(ctx, query, id, s.ttl.Seconds())
	if err != nil {
		return false, fmt.Errorf("dedup: claim %s: %w", id, err)
	}
	return ct.RowsAffected() > 0, nil
}
