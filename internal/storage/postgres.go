package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/rs/zerolog/log"

	"github.com/providentiaww/trilix-lti/internal/crypto"
	"github.com/providentiaww/trilix-lti/internal/models"
)

const uniqueViolation = "23505"

// PostgresStore handles storage of platform registrations and launch contexts.
// Client secrets and API tokens are encrypted at rest.
type PostgresStore struct {
	db            *sql.DB
	encryptionKey string
	now           func() time.Time
}

// NewPostgresStore wraps an already opened database handle.
func NewPostgresStore(db *sql.DB, encryptionKey string) *PostgresStore {
	return &PostgresStore{
		db:            db,
		encryptionKey: encryptionKey,
		now:           time.Now,
	}
}

// OpenPostgres connects, pings and initializes the schema.
func OpenPostgres(connectionString, encryptionKey string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", connectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	log.Info().Msg("connected to PostgreSQL")

	store := NewPostgresStore(db, encryptionKey)
	if err := store.InitSchema(context.Background()); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	return store, nil
}

// DB exposes the handle so other components (the one-time store) can share the pool.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// InitSchema creates the necessary database tables
func (s *PostgresStore) InitSchema(ctx context.Context) error {
	query := `
	CREATE TABLE IF NOT EXISTS lti_platforms (
		id VARCHAR(64) PRIMARY KEY,
		issuer VARCHAR(500) NOT NULL,
		client_id VARCHAR(255) NOT NULL,
		client_secret_encrypted TEXT,
		api_token_encrypted TEXT,
		base_url VARCHAR(500),
		active BOOLEAN NOT NULL DEFAULT TRUE,
		display_name VARCHAR(255),
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP NOT NULL DEFAULT NOW()
	);

	CREATE UNIQUE INDEX IF NOT EXISTS idx_lti_platforms_issuer ON lti_platforms(issuer);
	CREATE INDEX IF NOT EXISTS idx_lti_platforms_active ON lti_platforms(active);

	CREATE TABLE IF NOT EXISTS lti_contexts (
		id BIGSERIAL PRIMARY KEY,
		context_id VARCHAR(255) NOT NULL,
		platform_issuer VARCHAR(500) NOT NULL,
		context_type VARCHAR(64) NOT NULL DEFAULT 'Course',
		context_title TEXT,
		deployment_id VARCHAR(255),
		base_url VARCHAR(500) NOT NULL,
		platform_course_id VARCHAR(64),
		created_at TIMESTAMP NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMP NOT NULL DEFAULT NOW(),
		UNIQUE (context_id, platform_issuer)
	);
	`

	_, err := s.db.ExecContext(ctx, query)
	return err
}

const platformColumns = `id, issuer, client_id, client_secret_encrypted, api_token_encrypted, base_url, active, display_name, created_at, updated_at`

// FindActiveByIssuer returns the active platform registered for issuer.
func (s *PostgresStore) FindActiveByIssuer(ctx context.Context, issuer string) (*models.Platform, error) {
	query := `SELECT ` + platformColumns + ` FROM lti_platforms WHERE issuer = $1 AND active = TRUE`
	return s.scanPlatform(s.db.QueryRowContext(ctx, query, issuer))
}

// ListActiveIssuers returns the issuers of all active platforms.
func (s *PostgresStore) ListActiveIssuers(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT issuer FROM lti_platforms WHERE active = TRUE ORDER BY issuer`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var issuers []string
	for rows.Next() {
		var iss string
		if err := rows.Scan(&iss); err != nil {
			return nil, err
		}
		issuers = append(issuers, iss)
	}
	return issuers, rows.Err()
}

// GetPlatform fetches a platform by id regardless of its active flag.
func (s *PostgresStore) GetPlatform(ctx context.Context, id string) (*models.Platform, error) {
	query := `SELECT ` + platformColumns + ` FROM lti_platforms WHERE id = $1`
	return s.scanPlatform(s.db.QueryRowContext(ctx, query, id))
}

// ListPlatforms returns every registration, newest first.
func (s *PostgresStore) ListPlatforms(ctx context.Context) ([]models.Platform, error) {
	query := `SELECT ` + platformColumns + ` FROM lti_platforms ORDER BY created_at DESC`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var platforms []models.Platform
	for rows.Next() {
		p, err := s.scanPlatform(rows)
		if err != nil {
			return nil, err
		}
		platforms = append(platforms, *p)
	}
	return platforms, rows.Err()
}

// SavePlatform inserts or updates a platform. A missing ID gets a fresh UUID.
func (s *PostgresStore) SavePlatform(ctx context.Context, p *models.Platform) error {
	secret, err := crypto.Encrypt(p.ClientSecret, s.encryptionKey)
	if err != nil {
		return fmt.Errorf("encrypting client secret: %w", err)
	}
	apiToken, err := crypto.Encrypt(p.APIToken, s.encryptionKey)
	if err != nil {
		return fmt.Errorf("encrypting api token: %w", err)
	}

	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	now := s.now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now

	query := `
		INSERT INTO lti_platforms
			(id, issuer, client_id, client_secret_encrypted, api_token_encrypted, base_url, active, display_name, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id)
		DO UPDATE SET
			issuer = EXCLUDED.issuer,
			client_id = EXCLUDED.client_id,
			client_secret_encrypted = EXCLUDED.client_secret_encrypted,
			api_token_encrypted = EXCLUDED.api_token_encrypted,
			base_url = EXCLUDED.base_url,
			active = EXCLUDED.active,
			display_name = EXCLUDED.display_name,
			updated_at = EXCLUDED.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		p.ID,
		p.Issuer,
		p.ClientID,
		nullableString(secret),
		nullableString(apiToken),
		nullableString(p.BaseURL),
		p.Active,
		nullableString(p.DisplayName),
		p.CreatedAt,
		p.UpdatedAt,
	)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return ErrDuplicateIssuer
	}
	return err
}

// DeletePlatform removes a platform by id.
func (s *PostgresStore) DeletePlatform(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM lti_platforms WHERE id = $1`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpsertContext creates the context on first launch. Later launches refresh
// the title and keep the most recent non-empty platform course id.
func (s *PostgresStore) UpsertContext(ctx context.Context, c *models.LaunchContext) error {
	if c.ContextType == "" {
		c.ContextType = "Course"
	}
	now := s.now()

	query := `
		INSERT INTO lti_contexts
			(context_id, platform_issuer, context_type, context_title, deployment_id, base_url, platform_course_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
		ON CONFLICT (context_id, platform_issuer)
		DO UPDATE SET
			context_title = COALESCE(EXCLUDED.context_title, lti_contexts.context_title),
			platform_course_id = COALESCE(EXCLUDED.platform_course_id, lti_contexts.platform_course_id),
			updated_at = EXCLUDED.updated_at
		RETURNING id, created_at, updated_at
	`

	return s.db.QueryRowContext(ctx, query,
		c.ContextID,
		c.PlatformIssuer,
		c.ContextType,
		nullableString(c.ContextTitle),
		nullableString(c.DeploymentID),
		c.BaseURL,
		nullableString(c.PlatformCourseID),
		now,
	).Scan(&c.ID, &c.CreatedAt, &c.UpdatedAt)
}

// Ping tests the database connection
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *PostgresStore) scanPlatform(row rowScanner) (*models.Platform, error) {
	var p models.Platform
	var secret, apiToken, baseURL, displayName sql.NullString

	err := row.Scan(
		&p.ID,
		&p.Issuer,
		&p.ClientID,
		&secret,
		&apiToken,
		&baseURL,
		&p.Active,
		&displayName,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if p.ClientSecret, err = crypto.Decrypt(secret.String, s.encryptionKey); err != nil {
		return nil, fmt.Errorf("client secret for %s: %w", p.Issuer, err)
	}
	if p.APIToken, err = crypto.Decrypt(apiToken.String, s.encryptionKey); err != nil {
		return nil, fmt.Errorf("api token for %s: %w", p.Issuer, err)
	}
	p.BaseURL = baseURL.String
	p.DisplayName = displayName.String
	return &p, nil
}

func nullableString(val string) sql.NullString {
	if val == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: val, Valid: true}
}
