package sessionindex

import (
	"context"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists linked sessions in PostgreSQL.
type PostgresStore struct {
	pool   *pgxpool.Pool
	schema string
}

// StoreOption configures PostgresStore.
type StoreOption func(*PostgresStore) error

// WithSchema sets the DB schema used by the store (default: "whizqr").
func WithSchema(schema string) StoreOption {
	return func(s *PostgresStore) error {
		schema = strings.TrimSpace(schema)
		if schema == "" {
			return ErrInvalidInput
		}
		s.schema = schema
		return nil
	}
}

// NewPostgresStore constructs a PostgresStore.
func NewPostgresStore(pool *pgxpool.Pool, opts ...StoreOption) (*PostgresStore, error) {
	st := &PostgresStore{pool: pool, schema: "whizqr"}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(st); err != nil {
			return nil, err
		}
	}
	if st.pool == nil {
		return nil, ErrInvalidInput
	}
	return st, nil
}

// EnsureSchema creates the schema and table when missing.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if s == nil || s.pool == nil {
		return ErrInvalidInput
	}
	if _, err := s.pool.Exec(ctx, `CREATE SCHEMA IF NOT EXISTS `+pgx.Identifier{s.schema}.Sanitize()); err != nil {
		return err
	}
	table := pgIdent(s.schema, "linked_sessions")
	_, err := s.pool.Exec(ctx,
		`CREATE TABLE IF NOT EXISTS `+table+` (
		     identity        TEXT PRIMARY KEY,
		     token           TEXT NOT NULL,
		     credential_path TEXT NOT NULL,
		     created_at      TIMESTAMPTZ NOT NULL
		 )`)
	return err
}

func (s *PostgresStore) Upsert(ctx context.Context, e Entry) error {
	if s == nil || s.pool == nil {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateEntry(e); err != nil {
		return err
	}

	table := pgIdent(s.schema, "linked_sessions")
	_, err := s.pool.Exec(ctx,
		`INSERT INTO `+table+` (identity, token, credential_path, created_at)
		 VALUES ($1, $2, $3, $4)
		 ON CONFLICT (identity) DO UPDATE
		    SET token = EXCLUDED.token,
		        credential_path = EXCLUDED.credential_path,
		        created_at = EXCLUDED.created_at`,
		e.Identity,
		e.Token,
		e.CredentialPath,
		e.CreatedAt.UTC(),
	)
	return err
}

func (s *PostgresStore) Remove(ctx context.Context, identity string) error {
	if s == nil || s.pool == nil {
		return ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	identity = strings.TrimSpace(identity)
	if identity == "" {
		return ErrInvalidInput
	}

	table := pgIdent(s.schema, "linked_sessions")
	_, err := s.pool.Exec(ctx, `DELETE FROM `+table+` WHERE identity = $1`, identity)
	return err
}

func (s *PostgresStore) Load(ctx context.Context) (map[string]Entry, error) {
	if s == nil || s.pool == nil {
		return nil, ErrInvalidInput
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	table := pgIdent(s.schema, "linked_sessions")
	rows, err := s.pool.Query(ctx, `SELECT identity, token, credential_path, created_at FROM `+table)
	if err != nil {
		return nil, err
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Entry, error) {
		var e Entry
		err := row.Scan(&e.Identity, &e.Token, &e.CredentialPath, &e.CreatedAt)
		return e, err
	})
	if err != nil {
		return nil, err
	}

	out := make(map[string]Entry, len(entries))
	for _, e := range entries {
		out[e.Identity] = e
	}
	return out, nil
}

func pgIdent(schema, table string) string {
	return pgx.Identifier{schema, table}.Sanitize()
}
