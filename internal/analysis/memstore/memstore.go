// Package memstore provides an in-memory implementation of analysis.Store.
package memstore

import (
	"context"
	"sort"
	"sync"

	"github.com/GoAlbertPeng/oncall-assistant-agent/internal/analysis"
)

// Store holds analysis sessions in memory. Suitable for dev/testing.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*analysis.Session
}

// New initializes a new in-memory Store.
func New() *Store {
	return &Store{sessions: make(map[string]*analysis.Session)}
}

// Get retrieves a session by its ID. Returns a deep copy.
func (s *Store) Get(_ context.Context, id string) (*analysis.Session, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil, false, nil
	}
	return sess.Clone(), true, nil
}

// Put stores a deep copy of the session.
func (s *Store) Put(_ context.Context, sess *analysis.Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[sess.ID] = sess.Clone()
	return nil
}

// List returns one page of the owner's sessions, newest first, and the
// owner's total session count.
func (s *Store) List(_ context.Context, owner string, page, pageSize int) ([]*analysis.Session, int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var all []*analysis.Session
	for _, sess := range s.sessions {
		if sess.Owner == owner {
			all = append(all, sess)
		}
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].CreatedAt.Equal(all[j].CreatedAt) {
			return all[i].ID > all[j].ID
		}
		return all[i].CreatedAt.After(all[j].CreatedAt)
	})

	total := len(all)
	start := (page - 1) * pageSize
	if start >= total {
		return nil, total, nil
	}
	end := start + pageSize
	if end > total {
		end = total
	}
	out := make([]*analysis.Session, 0, end-start)
	for _, sess := range all[start:end] {
		out = append(out, sess.Clone())
	}
	return out, total, nil
}

// Delete removes a session. Unknown IDs are a no-op.
func (s *Store) Delete(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
	return nil
}

// AppendMessage appends a message to the session's conversation.
func (s *Store) AppendMessage(_ context.Context, id string, msg analysis.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[id]
	if !ok {
		return nil
	}
	sess.Messages = append(sess.Messages, msg)
	sess.UpdatedAt = msg.Timestamp
	return nil
}
