// Package archive mirrors trace rows into Postgres via pgx, repurposing
// the teacher's event-archival consumer as an optional durable sink
// alongside the CSV trace file (spec.md 4.8 is silent on durability
// beyond the CSV; this is a supplemented feature, not a required one).
package archive

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

const schema = `
CREATE TABLE IF NOT EXISTS power_trace (
	id        BIGSERIAL PRIMARY KEY,
	ts        TIMESTAMPTZ NOT NULL,
	target    DOUBLE PRECISION NOT NULL,
	cap       DOUBLE PRECISION NOT NULL,
	measured  DOUBLE PRECISION NOT NULL
);
`

// Mirror writes trace rows to Postgres. A nil Mirror (dsn == "") is a
// no-op, keeping --archive-dsn optional.
type Mirror struct {
	pool   *pgxpool.Pool
	logger *zerolog.Logger
}

// Open connects to dsn and ensures the power_trace table exists. An
// empty dsn returns (nil, nil): archival is disabled.
func Open(ctx context.Context, dsn string, logger *zerolog.Logger) (*Mirror, error) {
	if dsn == "" {
		return nil, nil
	}

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("archive: connecting: %w", err)
	}

	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("archive: creating schema: %w", err)
	}

	return &Mirror{pool: pool, logger: logger}, nil
}

// Insert writes one trace row. Failures are logged and swallowed,
// matching the trace sink's own partial-write tolerance (spec.md 7):
// the archive mirror is a convenience, never load-bearing.
func (m *Mirror) Insert(ctx context.Context, ts time.Time, target, cap, measured float64) {
	if m == nil {
		return
	}
	_, err := m.pool.Exec(ctx,
		`INSERT INTO power_trace (ts, target, cap, measured) VALUES ($1, $2, $3, $4)`,
		ts, target, cap, measured)
	if err != nil && m.logger != nil {
		m.logger.Warn().Err(err).Msg("archive: insert failed")
	}
}

// Close releases the pool.
func (m *Mirror) Close() {
	if m == nil {
		return
	}
	m.pool.Close()
}
