package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"

	"github.com/providentiaww/trilix-lti/internal/models"
)

// platformsFile is the on-disk layout of PLATFORMS_FILE.
type platformsFile struct {
	Platforms []models.Platform `yaml:"platforms"`
}

// FileStore keeps platform registrations in a YAML file and launch contexts
// in memory. Intended for single-instance and local deployments; secrets are
// stored as written.
type FileStore struct {
	filePath    string
	platforms   map[string]models.Platform // indexed by ID
	contexts    map[string]models.LaunchContext
	nextCtxID   int64
	lastModTime time.Time
	mu          sync.RWMutex
}

// NewFileStore creates a new file-based store
func NewFileStore(filePath string) (*FileStore, error) {
	store := &FileStore{
		filePath:  filePath,
		platforms: make(map[string]models.Platform),
		contexts:  make(map[string]models.LaunchContext),
	}

	if err := store.loadPlatforms(); err != nil {
		return nil, fmt.Errorf("failed to load platforms: %w", err)
	}

	return store, nil
}

// loadPlatforms reads and parses the platforms file
func (s *FileStore) loadPlatforms() error {
	absPath, err := filepath.Abs(s.filePath)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(absPath)
	if os.IsNotExist(err) {
		s.mu.Lock()
		s.platforms = make(map[string]models.Platform)
		s.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read platforms file: %w", err)
	}

	var doc platformsFile
	if len(data) > 0 {
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return fmt.Errorf("failed to parse platforms YAML: %w", err)
		}
	}

	platforms := make(map[string]models.Platform, len(doc.Platforms))
	seen := make(map[string]bool, len(doc.Platforms))
	for _, p := range doc.Platforms {
		if p.ID == "" {
			// the issuer is unique, so it doubles as a stable id
			p.ID = p.Issuer
		}
		if seen[p.Issuer] {
			return fmt.Errorf("duplicate issuer %q in %s", p.Issuer, s.filePath)
		}
		seen[p.Issuer] = true
		platforms[p.ID] = p
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.platforms = platforms
	if stat, err := os.Stat(absPath); err == nil {
		s.lastModTime = stat.ModTime()
	}
	return nil
}

// saveToFile writes the current platforms to the YAML file
func (s *FileStore) saveToFile() error {
	s.mu.RLock()
	list := make([]models.Platform, 0, len(s.platforms))
	for _, p := range s.platforms {
		list = append(list, p)
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].Issuer < list[j].Issuer
	})

	data, err := yaml.Marshal(platformsFile{Platforms: list})
	if err != nil {
		return err
	}

	absPath, err := filepath.Abs(s.filePath)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(absPath), 0755); err != nil {
		return err
	}
	if err := os.WriteFile(absPath, data, 0600); err != nil {
		return err
	}

	if stat, err := os.Stat(absPath); err == nil {
		s.mu.Lock()
		s.lastModTime = stat.ModTime()
		s.mu.Unlock()
	}
	return nil
}

// checkAndReload reloads the file if it was modified out of band.
func (s *FileStore) checkAndReload() {
	absPath, err := filepath.Abs(s.filePath)
	if err != nil {
		return
	}
	stat, err := os.Stat(absPath)
	if err != nil {
		return
	}

	s.mu.RLock()
	lastMod := s.lastModTime
	s.mu.RUnlock()

	if stat.ModTime().After(lastMod) {
		if err := s.loadPlatforms(); err != nil {
			log.Warn().Err(err).Str("file", s.filePath).Msg("platforms file reload failed, keeping previous registrations")
		}
	}
}

// FindActiveByIssuer returns the active platform for issuer.
func (s *FileStore) FindActiveByIssuer(_ context.Context, issuer string) (*models.Platform, error) {
	s.checkAndReload()

	s.mu.RLock()
	defer s.mu.RUnlock()
	for _, p := range s.platforms {
		if p.Issuer == issuer && p.Active {
			found := p
			return &found, nil
		}
	}
	return nil, ErrNotFound
}

// ListActiveIssuers returns the issuers of all active platforms.
func (s *FileStore) ListActiveIssuers(_ context.Context) ([]string, error) {
	s.checkAndReload()

	s.mu.RLock()
	defer s.mu.RUnlock()
	var issuers []string
	for _, p := range s.platforms {
		if p.Active {
			issuers = append(issuers, p.Issuer)
		}
	}
	sort.Strings(issuers)
	return issuers, nil
}

// GetPlatform fetches a platform by id.
func (s *FileStore) GetPlatform(_ context.Context, id string) (*models.Platform, error) {
	s.checkAndReload()

	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.platforms[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

// ListPlatforms returns every registration, newest first.
func (s *FileStore) ListPlatforms(_ context.Context) ([]models.Platform, error) {
	s.checkAndReload()

	s.mu.RLock()
	list := make([]models.Platform, 0, len(s.platforms))
	for _, p := range s.platforms {
		list = append(list, p)
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool {
		return list[i].CreatedAt.After(list[j].CreatedAt)
	})
	return list, nil
}

// SavePlatform inserts or updates a platform and persists the file.
func (s *FileStore) SavePlatform(_ context.Context, p *models.Platform) error {
	s.checkAndReload()

	s.mu.Lock()
	if p.ID == "" {
		p.ID = uuid.New().String()
	}
	for id, existing := range s.platforms {
		if id != p.ID && existing.Issuer == p.Issuer {
			s.mu.Unlock()
			return ErrDuplicateIssuer
		}
	}
	now := time.Now()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	s.platforms[p.ID] = *p
	s.mu.Unlock()

	return s.saveToFile()
}

// DeletePlatform removes a platform and persists the file.
func (s *FileStore) DeletePlatform(_ context.Context, id string) error {
	s.checkAndReload()

	s.mu.Lock()
	if _, exists := s.platforms[id]; !exists {
		s.mu.Unlock()
		return ErrNotFound
	}
	delete(s.platforms, id)
	s.mu.Unlock()

	return s.saveToFile()
}

// UpsertContext records a launch context in memory.
func (s *FileStore) UpsertContext(_ context.Context, c *models.LaunchContext) error {
	if c.ContextType == "" {
		c.ContextType = "Course"
	}
	key := c.PlatformIssuer + "\x00" + c.ContextID
	now := time.Now()

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.contexts[key]
	if !ok {
		s.nextCtxID++
		c.ID = s.nextCtxID
		c.CreatedAt = now
		c.UpdatedAt = now
		s.contexts[key] = *c
		return nil
	}

	if c.ContextTitle != "" {
		existing.ContextTitle = c.ContextTitle
	}
	if c.PlatformCourseID != "" {
		existing.PlatformCourseID = c.PlatformCourseID
	}
	existing.UpdatedAt = now
	s.contexts[key] = existing
	*c = existing
	return nil
}

// Ping is a no-op for file-based storage
func (s *FileStore) Ping(context.Context) error {
	return nil
}

// Close is a no-op for file-based storage
func (s *FileStore) Close() error {
	return nil
}
