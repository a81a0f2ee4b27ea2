package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const schema = `
CREATE TABLE IF NOT EXISTS orders (
	id          UUID PRIMARY KEY,
	buyer_id    TEXT NOT NULL,
	items       JSONB NOT NULL,
	total_price DOUBLE PRECISION NOT NULL,
	status      TEXT NOT NULL,
	version     BIGINT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS outbox_entries (
	id           UUID PRIMARY KEY,
	aggregate_id UUID NOT NULL,
	event_type   TEXT NOT NULL,
	payload      JSONB NOT NULL,
	last_seq     BIGINT,
	lock_id      UUID,
	locked_at    TIMESTAMPTZ,
	row_version  BIGINT NOT NULL DEFAULT 0,
	created_at   TIMESTAMPTZ NOT NULL,
	delivered_at TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_outbox_undelivered
	ON outbox_entries (created_at) WHERE delivered_at IS NULL;
CREATE INDEX IF NOT EXISTS idx_outbox_aggregate
	ON outbox_entries (aggregate_id, last_seq);

CREATE TABLE IF NOT EXISTS order_summaries (
	order_id    UUID PRIMARY KEY,
	status      TEXT NOT NULL,
	total_price DOUBLE PRECISION NOT NULL,
	last_seq    BIGINT NOT NULL DEFAULT 0,
	updated_at  TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS processed_messages (
	message_id   TEXT PRIMARY KEY,
	processed_at TIMESTAMPTZ NOT NULL
);
`

// EnsureSchema creates the tables this service owns if they do not exist yet.
func EnsureSchema(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}
