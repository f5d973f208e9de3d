package memory

import (
	"context"
	"sync"
	"time"

	"github.com/NordCoder/Sentinel/internal/domain/token"
)

// RevocationStore keeps revocations in process memory. It backs tests and
// single-node deployments, and is the gateway's Kafka-fed denylist.
type RevocationStore struct {
	mu       sync.RWMutex
	tokens   map[string]token.RevocationRecord
	subjects map[string]token.SubjectRevocation
}

func NewRevocationStore() *RevocationStore {
	return &RevocationStore{
		tokens:   make(map[string]token.RevocationRecord),
		subjects: make(map[string]token.SubjectRevocation),
	}
}

var _ token.Store = (*RevocationStore)(nil)

func (s *RevocationStore) IsRevoked(_ context.Context, tokenID, subjectID string, issuedAt time.Time) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if _, ok := s.tokens[tokenID]; ok {
		return true, nil
	}
	if rev, ok := s.subjects[subjectID]; ok && rev.Covers(issuedAt) {
		return true, nil
	}
	return false, nil
}

func (s *RevocationStore) Revoke(_ context.Context, rec token.RevocationRecord) (token.RevocationRecord, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.tokens[rec.TokenID]; ok {
		return existing, false, nil
	}
	s.tokens[rec.TokenID] = rec
	return rec, true, nil
}

func (s *RevocationStore) RevokeSubject(_ context.Context, rev token.SubjectRevocation) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.subjects[rev.SubjectID]; ok && !cur.NotBefore.Before(rev.NotBefore) {
		return nil
	}
	s.subjects[rev.SubjectID] = rev
	return nil
}

func (s *RevocationStore) SweepExpired(_ context.Context, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, rec := range s.tokens {
		if !now.Before(rec.ExpiresAt) {
			delete(s.tokens, id)
			removed++
		}
	}
	for id, rev := range s.subjects {
		if !now.Before(rev.ExpiresAt) {
			delete(s.subjects, id)
			removed++
		}
	}
	return removed, nil
}

// Len returns the number of token and subject records held.
func (s *RevocationStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.tokens) + len(s.subjects)
}

// Record returns the stored record for tokenID.
func (s *RevocationStore) Record(tokenID string) (token.RevocationRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.tokens[tokenID]
	return rec, ok
}
