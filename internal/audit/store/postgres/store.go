package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"attestra/internal/audit"
	tokenmodels "attestra/internal/tokenization/models"
	"attestra/pkg/platform/sentinel"
	txcontext "attestra/pkg/platform/tx"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

const uniqueViolation = pq.ErrorCode("23505")

// Store implements audit.TrailStore on PostgreSQL. Token writes and their
// audit entries share one transaction.
type Store struct {
	db *sql.DB
}

// New creates a PostgreSQL trail store. Call Migrate before first use.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

type dbExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *Store) execer(ctx context.Context) dbExecutor {
	if tx, ok := txcontext.From(ctx); ok {
		return tx
	}
	return s.db
}

// Append inserts an audit entry.
func (s *Store) Append(ctx context.Context, entry audit.Entry) (string, error) {
	return s.insertEntry(ctx, entry)
}

func (s *Store) insertEntry(ctx context.Context, entry audit.Entry) (string, error) {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.Timestamp.IsZero() {
		entry.Timestamp = time.Now()
	}
	labels, err := json.Marshal(nonNilLabels(entry.Labels))
	if err != nil {
		return "", fmt.Errorf("marshal audit labels: %w", err)
	}
	payload := entry.Payload
	if len(payload) == 0 {
		payload = json.RawMessage("null")
	}

	query := `
		INSERT INTO audit_entries (
			id, kind, subject_id, asset_id, deal_id, token_id,
			actor, request_id, labels, payload, created_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err = s.execer(ctx).ExecContext(ctx, query,
		entry.ID,
		string(entry.Kind),
		entry.SubjectID,
		entry.AssetID,
		entry.DealID,
		entry.TokenID,
		entry.Actor,
		entry.RequestID,
		labels,
		[]byte(payload),
		entry.Timestamp,
	)
	if err != nil {
		return "", fmt.Errorf("insert audit entry: %w", err)
	}
	return entry.ID, nil
}

const entryColumns = `id, kind, subject_id, asset_id, deal_id, token_id, actor, request_id, labels, payload, created_at`

// Latest returns the newest entry for subjectID, optionally of one kind.
func (s *Store) Latest(ctx context.Context, subjectID string, kind audit.Kind) (*audit.Entry, error) {
	entries, err := s.Query(ctx, audit.Filter{SubjectID: subjectID, Kind: kind, Limit: 1})
	if err != nil {
		return nil, err
	}
	if len(entries) == 0 {
		return nil, sentinel.ErrNotFound
	}
	return &entries[0], nil
}

// Query returns entries matching filter, newest first.
func (s *Store) Query(ctx context.Context, filter audit.Filter) ([]audit.Entry, error) {
	var (
		conds []string
		args  []any
	)
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if filter.Kind != "" {
		add("kind = $%d", string(filter.Kind))
	}
	if filter.SubjectID != "" {
		add("subject_id = $%d", filter.SubjectID)
	}
	if filter.AssetID != "" {
		add("asset_id = $%d", filter.AssetID)
	}
	if filter.DealID != "" {
		add("deal_id = $%d", filter.DealID)
	}
	if filter.TokenID != "" {
		add("token_id = $%d", filter.TokenID)
	}
	if filter.Actor != "" {
		add("actor = $%d", filter.Actor)
	}
	if !filter.Since.IsZero() {
		add("created_at >= $%d", filter.Since)
	}
	if len(filter.Labels) > 0 {
		labels, err := json.Marshal(filter.Labels)
		if err != nil {
			return nil, fmt.Errorf("marshal label filter: %w", err)
		}
		add("labels @> $%d::jsonb", labels)
	}

	query := "SELECT " + entryColumns + " FROM audit_entries"
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY seq DESC"
	if filter.Limit > 0 {
		args = append(args, filter.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.execer(ctx).QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query audit entries: %w", err)
	}
	defer rows.Close()

	return scanEntries(rows)
}

func scanEntries(rows *sql.Rows) ([]audit.Entry, error) {
	var entries []audit.Entry
	for rows.Next() {
		var (
			e      audit.Entry
			kind   string
			labels []byte
		)
		err := rows.Scan(
			&e.ID,
			&kind,
			&e.SubjectID,
			&e.AssetID,
			&e.DealID,
			&e.TokenID,
			&e.Actor,
			&e.RequestID,
			&labels,
			&e.Payload,
			&e.Timestamp,
		)
		if err != nil {
			return nil, fmt.Errorf("scan audit entry: %w", err)
		}
		e.Kind = audit.Kind(kind)
		if len(labels) > 0 {
			if err := json.Unmarshal(labels, &e.Labels); err != nil {
				return nil, fmt.Errorf("decode audit labels: %w", err)
			}
			if len(e.Labels) == 0 {
				e.Labels = nil
			}
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate audit entries: %w", err)
	}
	return entries, nil
}

// CreateToken inserts the token record, its reverse mapping and its mint
// entry in one transaction.
func (s *Store) CreateToken(ctx context.Context, record tokenmodels.TokenRecord, entry audit.Entry) (string, error) {
	var entryID string
	err := txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		_, err := s.execer(ctx).ExecContext(ctx, `
			INSERT INTO token_records (
				token_id, asset_id, deal_id, metadata_ref, provenance_hash, tx_hash, minted_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7)
		`,
			record.TokenID,
			record.AssetID,
			record.DealID,
			record.MetadataRef,
			record.ProvenanceHash,
			record.TxHash,
			record.MintedAt,
		)
		if err != nil {
			var pqErr *pq.Error
			if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
				return sentinel.ErrConflict
			}
			return fmt.Errorf("insert token record: %w", err)
		}

		_, err = s.execer(ctx).ExecContext(ctx, `
			INSERT INTO token_mappings (token_id, deal_id, asset_id, created_at)
			VALUES ($1, $2, $3, $4)
		`, record.TokenID, record.DealID, record.AssetID, record.MintedAt)
		if err != nil {
			return fmt.Errorf("insert token mapping: %w", err)
		}

		entryID, err = s.insertEntry(ctx, entry)
		return err
	})
	if err != nil {
		return "", err
	}
	return entryID, nil
}

const tokenColumns = `token_id, asset_id, deal_id, metadata_ref, provenance_hash, tx_hash, minted_at,
	revoked, revocation_reason, revoked_by, revoked_at`

func (s *Store) FindToken(ctx context.Context, tokenID string) (*tokenmodels.TokenRecord, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		"SELECT "+tokenColumns+" FROM token_records WHERE token_id = $1", tokenID)
	return scanToken(row)
}

func (s *Store) FindActiveTokenByAsset(ctx context.Context, assetID string) (*tokenmodels.TokenRecord, error) {
	row := s.execer(ctx).QueryRowContext(ctx,
		"SELECT "+tokenColumns+" FROM token_records WHERE asset_id = $1 AND NOT revoked", assetID)
	return scanToken(row)
}

func (s *Store) FindMapping(ctx context.Context, tokenID string) (*tokenmodels.TokenMapping, error) {
	var m tokenmodels.TokenMapping
	err := s.execer(ctx).QueryRowContext(ctx,
		"SELECT token_id, deal_id, asset_id, created_at FROM token_mappings WHERE token_id = $1", tokenID,
	).Scan(&m.TokenID, &m.DealID, &m.AssetID, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("find token mapping: %w", err)
	}
	return &m, nil
}

// RevokeToken flips the revoked flag only if it is still false, then appends
// the revoke entry, all in one transaction.
func (s *Store) RevokeToken(ctx context.Context, tokenID, reason, revokedBy string, revokedAt time.Time, entry audit.Entry) (*tokenmodels.TokenRecord, error) {
	var record *tokenmodels.TokenRecord
	err := txcontext.Run(ctx, s.db, func(ctx context.Context) error {
		row := s.execer(ctx).QueryRowContext(ctx, `
			UPDATE token_records
			SET revoked = TRUE, revocation_reason = $2, revoked_by = $3, revoked_at = $4
			WHERE token_id = $1 AND NOT revoked
			RETURNING `+tokenColumns,
			tokenID, reason, revokedBy, revokedAt,
		)
		var err error
		record, err = scanToken(row)
		if errors.Is(err, sentinel.ErrNotFound) {
			existing, findErr := s.FindToken(ctx, tokenID)
			if findErr != nil {
				return findErr
			}
			record = existing
			return sentinel.ErrInvalidState
		}
		if err != nil {
			return err
		}
		_, err = s.insertEntry(ctx, entry)
		return err
	})
	if err != nil {
		if errors.Is(err, sentinel.ErrInvalidState) {
			return record, err
		}
		return nil, err
	}
	return record, nil
}

func scanToken(row *sql.Row) (*tokenmodels.TokenRecord, error) {
	var (
		r         tokenmodels.TokenRecord
		revokedAt sql.NullTime
	)
	err := row.Scan(
		&r.TokenID,
		&r.AssetID,
		&r.DealID,
		&r.MetadataRef,
		&r.ProvenanceHash,
		&r.TxHash,
		&r.MintedAt,
		&r.Revoked,
		&r.RevocationReason,
		&r.RevokedBy,
		&revokedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, sentinel.ErrNotFound
		}
		return nil, fmt.Errorf("scan token record: %w", err)
	}
	if revokedAt.Valid {
		t := revokedAt.Time
		r.RevokedAt = &t
	}
	return &r, nil
}

func nonNilLabels(labels map[string]string) map[string]string {
	if labels == nil {
		return map[string]string{}
	}
	return labels
}
