// Package session keeps the caller's access token between requests. It
// stands in for the browser storage a web client would use: one key-value
// slot per name, optionally expiring.
package session

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"eventdesk/internal/constants"
	apperrors "eventdesk/pkg/errors"
)

// ErrNoToken is returned when nothing is stored under a key.
var ErrNoToken = apperrors.ErrUnauthorized.WithDetail("message", "no access token stored")

type Store interface {
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

type memoryEntry struct {
	value   string
	expires time.Time
}

type MemoryStore struct {
	mu      sync.RWMutex
	entries map[string]memoryEntry
	ttl     time.Duration
	now     func() time.Time
}

// NewMemoryStore keeps values in process memory. A zero ttl never expires.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	return &MemoryStore{
		entries: make(map[string]memoryEntry),
		ttl:     ttl,
		now:     time.Now,
	}
}

func (s *MemoryStore) Get(_ context.Context, key string) (string, error) {
	s.mu.RLock()
	e, ok := s.entries[key]
	s.mu.RUnlock()

	if !ok {
		return "", ErrNoToken
	}
	if !e.expires.IsZero() && !s.now().Before(e.expires) {
		s.mu.Lock()
		if cur, ok := s.entries[key]; ok && cur == e {
			delete(s.entries, key)
		}
		s.mu.Unlock()
		return "", ErrNoToken
	}
	return e.value, nil
}

func (s *MemoryStore) Set(_ context.Context, key, value string) error {
	e := memoryEntry{value: value}
	if s.ttl > 0 {
		e.expires = s.now().Add(s.ttl)
	}

	s.mu.Lock()
	s.entries[key] = e
	s.mu.Unlock()
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	delete(s.entries, key)
	s.mu.Unlock()
	return nil
}

// Tokens reads and writes the access token slot of a Store.
type Tokens struct {
	store Store
	key   string
}

func NewTokens(store Store) *Tokens {
	return &Tokens{store: store, key: constants.SessionTokenKey}
}

// Token returns the stored access token, or "" when none is stored.
func (t *Tokens) Token(ctx context.Context) (string, error) {
	token, err := t.store.Get(ctx, t.key)
	if errors.Is(err, ErrNoToken) {
		return "", nil
	}
	return token, err
}

func (t *Tokens) SetToken(ctx context.Context, token string) error {
	token = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(token), "Bearer "))
	if token == "" {
		return apperrors.ErrValidation.WithDetail("message", "access token must not be empty")
	}
	return t.store.Set(ctx, t.key, token)
}

func (t *Tokens) Clear(ctx context.Context) error {
	return t.store.Delete(ctx, t.key)
}
