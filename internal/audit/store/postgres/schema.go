package postgres

import (
	"context"
	"fmt"
)

// schema is applied by Migrate. The partial unique index enforces at most one
// active token per asset.
const schema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	seq        BIGSERIAL PRIMARY KEY,
	id         UUID NOT NULL UNIQUE,
	kind       TEXT NOT NULL,
	subject_id TEXT NOT NULL,
	asset_id   TEXT NOT NULL DEFAULT '',
	deal_id    TEXT NOT NULL DEFAULT '',
	token_id   TEXT NOT NULL DEFAULT '',
	actor      TEXT NOT NULL,
	request_id TEXT NOT NULL DEFAULT '',
	labels     JSONB NOT NULL DEFAULT '{}'::jsonb,
	payload    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS audit_entries_subject_kind ON audit_entries (subject_id, kind, seq DESC);
CREATE INDEX IF NOT EXISTS audit_entries_asset ON audit_entries (asset_id) WHERE asset_id <> '';
CREATE INDEX IF NOT EXISTS audit_entries_deal ON audit_entries (deal_id) WHERE deal_id <> '';

CREATE TABLE IF NOT EXISTS token_records (
	token_id          TEXT PRIMARY KEY,
	asset_id          TEXT NOT NULL,
	deal_id           TEXT NOT NULL,
	metadata_ref      TEXT NOT NULL,
	provenance_hash   TEXT NOT NULL,
	tx_hash           TEXT NOT NULL DEFAULT '',
	minted_at         TIMESTAMPTZ NOT NULL,
	revoked           BOOLEAN NOT NULL DEFAULT FALSE,
	revocation_reason TEXT NOT NULL DEFAULT '',
	revoked_by        TEXT NOT NULL DEFAULT '',
	revoked_at        TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS token_records_active_asset ON token_records (asset_id) WHERE NOT revoked;

CREATE TABLE IF NOT EXISTS token_mappings (
	token_id   TEXT PRIMARY KEY REFERENCES token_records (token_id),
	deal_id    TEXT NOT NULL,
	asset_id   TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
);
`

// Migrate creates the trail tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("apply audit schema: %w", err)
	}
	return nil
}
