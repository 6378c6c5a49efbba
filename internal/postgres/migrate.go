package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Orders are append-then-update only and never deleted (audit trail).
// The partial unique index is the at-most-one-pending-order-per-buyer
// guarantee the checkout dedup relies on.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS ebook_orders (
		id                     TEXT PRIMARY KEY,
		buyer_name             TEXT NOT NULL DEFAULT '',
		buyer_email            TEXT NOT NULL,
		status                 TEXT NOT NULL DEFAULT 'pending',
		provider_status        TEXT NOT NULL DEFAULT 'init',
		entitlement_granted    BOOLEAN NOT NULL DEFAULT FALSE,
		provider_payment_id    TEXT,
		provider_preference_id TEXT,
		checkout_url           TEXT,
		provider_raw           JSONB,
		created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS ebook_orders_one_pending_per_buyer
		ON ebook_orders (buyer_email) WHERE status = 'pending'`,
	`CREATE INDEX IF NOT EXISTS ebook_orders_buyer_email
		ON ebook_orders (buyer_email, created_at DESC)`,
}

func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	return nil
}
