package onetime

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/providentiaww/trilix-lti/internal/crypto"
	"github.com/providentiaww/trilix-lti/internal/metrics"
	"github.com/providentiaww/trilix-lti/internal/models"
)

// DefaultTTL bounds both login state and nonces.
const DefaultTTL = 10 * time.Minute

const (
	stateBytes = 16
	nonceBytes = 32
	nonceMark  = "1"
)

// StateStore carries the login state across the platform redirect.
type StateStore struct {
	store Store
	ttl   time.Duration
}

func NewStateStore(store Store, ttl time.Duration) *StateStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &StateStore{store: store, ttl: ttl}
}

// NewState returns a fresh random state key.
func NewState() (string, error) {
	return crypto.RandomHex(stateBytes)
}

// Save stores the login state under key.
func (s *StateStore) Save(ctx context.Context, state string, value models.LoginState) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("encoding login state: %w", err)
	}
	return s.store.Put(ctx, statePrefix+state, data, s.ttl)
}

// Take consumes the login state. ok is false when it was never issued,
// already consumed, or expired.
func (s *StateStore) Take(ctx context.Context, state string) (*models.LoginState, bool, error) {
	if strings.TrimSpace(state) == "" {
		return nil, false, nil
	}
	data, ok, err := s.store.TakeIfPresent(ctx, statePrefix+state)
	if err != nil || !ok {
		return nil, false, err
	}

	var value models.LoginState
	if err := json.Unmarshal(data, &value); err != nil {
		return nil, false, fmt.Errorf("decoding login state: %w", err)
	}
	return &value, true, nil
}

// NonceStore issues and consumes anti-replay nonces.
type NonceStore struct {
	store Store
	ttl   time.Duration
}

func NewNonceStore(store Store, ttl time.Duration) *NonceStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &NonceStore{store: store, ttl: ttl}
}

// Issue generates and records a new nonce.
func (n *NonceStore) Issue(ctx context.Context) (string, error) {
	nonce, err := crypto.RandomHex(nonceBytes)
	if err != nil {
		return "", fmt.Errorf("generating nonce: %w", err)
	}
	if err := n.store.Put(ctx, noncePrefix+nonce, []byte(nonceMark), n.ttl); err != nil {
		return "", fmt.Errorf("storing nonce: %w", err)
	}
	return nonce, nil
}

// Consume reports whether nonce was outstanding and marks it used. Once
// consumed a nonce never becomes valid again.
func (n *NonceStore) Consume(ctx context.Context, nonce string) (bool, error) {
	if strings.TrimSpace(nonce) == "" {
		metrics.NonceValidation("replay")
		return false, nil
	}
	_, ok, err := n.store.TakeIfPresent(ctx, noncePrefix+nonce)
	if err != nil {
		return false, err
	}
	if ok {
		metrics.NonceValidation("success")
	} else {
		metrics.NonceValidation("replay")
	}
	return ok, nil
}
