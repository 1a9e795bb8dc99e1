package storage

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/providentiaww/trilix-lti/internal/models"
)

var (
	// ErrNotFound is returned when no (active) record matches.
	ErrNotFound = errors.New("platform not found")
	// ErrDuplicateIssuer is returned when a second platform claims an issuer.
	ErrDuplicateIssuer = errors.New("issuer already registered")
)

// PlatformReader is the read side used by the launch core.
type PlatformReader interface {
	FindActiveByIssuer(ctx context.Context, issuer string) (*models.Platform, error)
	ListActiveIssuers(ctx context.Context) ([]string, error)
}

// PlatformStore adds the admin write surface. Callers that mutate a record
// must invalidate the registry cache for the affected issuer.
type PlatformStore interface {
	PlatformReader
	GetPlatform(ctx context.Context, id string) (*models.Platform, error)
	ListPlatforms(ctx context.Context) ([]models.Platform, error)
	SavePlatform(ctx context.Context, p *models.Platform) error
	DeletePlatform(ctx context.Context, id string) error
}

// ContextStore records launch contexts.
type ContextStore interface {
	UpsertContext(ctx context.Context, c *models.LaunchContext) error
}

// Store is everything the server needs from persistence.
type Store interface {
	PlatformStore
	ContextStore
	Ping(ctx context.Context) error
	Close() error
}

// NewStoreFromEnv creates a store based on environment variables.
// If PLATFORMS_FILE is set, uses file-based storage.
// Otherwise, uses PostgreSQL storage (requires DATABASE_URL and SECRET_ENCRYPTION_KEY).
func NewStoreFromEnv() (Store, error) {
	if platformsFile := os.Getenv("PLATFORMS_FILE"); platformsFile != "" {
		return NewFileStore(platformsFile)
	}

	databaseURL := os.Getenv("DATABASE_URL")
	if databaseURL == "" {
		return nil, fmt.Errorf("either PLATFORMS_FILE or DATABASE_URL must be set")
	}

	encryptionKey := os.Getenv("SECRET_ENCRYPTION_KEY")
	if encryptionKey == "" {
		return nil, fmt.Errorf("SECRET_ENCRYPTION_KEY is required when using database storage")
	}

	return OpenPostgres(databaseURL, encryptionKey)
}
