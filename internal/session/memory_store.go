package session

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is the single process fallback used when REDIS_URL is empty.
type MemoryStore struct {
	mu       sync.Mutex
	now      func() time.Time
	sessions map[string]memorySession
	revoked  map[string]time.Time
}

type memorySession struct {
	userID    string
	expiresAt time.Time
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		now:      time.Now,
		sessions: make(map[string]memorySession),
		revoked:  make(map[string]time.Time),
	}
}

func (s *MemoryStore) SaveRefreshSession(_ context.Context, tokenHash, userID string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for key, entry := range s.sessions {
		if !entry.expiresAt.After(now) {
			delete(s.sessions, key)
		}
	}
	if !expiresAt.After(now) {
		expiresAt = now.Add(defaultRefreshTTL)
	}
	s.sessions[tokenHash] = memorySession{userID: userID, expiresAt: expiresAt}
	return nil
}

func (s *MemoryStore) LookupRefreshSession(_ context.Context, tokenHash string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.sessions[tokenHash]
	if !ok {
		return "", ErrSessionNotFound
	}
	if !entry.expiresAt.After(s.now()) {
		delete(s.sessions, tokenHash)
		return "", ErrSessionNotFound
	}
	return entry.userID, nil
}

func (s *MemoryStore) RevokeRefreshSession(_ context.Context, tokenHash string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, tokenHash)
	return nil
}

func (s *MemoryStore) RevokeAccessToken(_ context.Context, jti string, expiresAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for key, until := range s.revoked {
		if !until.After(now) {
			delete(s.revoked, key)
		}
	}
	if expiresAt.After(now) {
		s.revoked[jti] = expiresAt
	}
	return nil
}

func (s *MemoryStore) IsAccessTokenRevoked(_ context.Context, jti string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	until, ok := s.revoked[jti]
	return ok && until.After(s.now()), nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}
