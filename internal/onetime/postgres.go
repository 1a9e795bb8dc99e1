package onetime

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// PostgresStore keeps tokens in a table shared by all instances. Expired rows
// are never returned and are removed by PurgeExpired.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewPostgresStore creates a store on an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

// InitSchema creates the token table.
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS lti_one_time_tokens (
		key VARCHAR(255) PRIMARY KEY,
		value BYTEA NOT NULL,
		expires_at TIMESTAMPTZ NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_lti_one_time_tokens_expires ON lti_one_time_tokens(expires_at);
	`
	_, err := s.db.ExecContext(ctx, query)
	return err
}

func (s *PostgresStore) Put(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	query := `
		INSERT INTO lti_one_time_tokens (key, value, expires_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (key)
		DO UPDATE SET value = EXCLUDED.value, expires_at = EXCLUDED.expires_at
	`
	_, err := s.db.ExecContext(ctx, query, key, value, s.now().Add(ttl))
	return err
}

// TakeIfPresent deletes and returns the row in a single statement; concurrent
// callers race on the row lock and only one gets it back.
func (s *PostgresStore) TakeIfPresent(ctx context.Context, key string) ([]byte, bool, error) {
	query := `DELETE FROM lti_one_time_tokens WHERE key = $1 AND expires_at > $2 RETURNING value`

	var value []byte
	err := s.db.QueryRowContext(ctx, query, key, s.now()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) ([]byte, bool, error) {
	query := `SELECT value FROM lti_one_time_tokens WHERE key = $1 AND expires_at > $2`

	var value []byte
	err := s.db.QueryRowContext(ctx, query, key, s.now()).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// PurgeExpired removes expired rows and reports how many were deleted.
func (s *PostgresStore) PurgeExpired(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM lti_one_time_tokens WHERE expires_at <= $1`, s.now())
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}
