// Package memstore keeps games and users in process memory. It backs development runs
// without Redis and most tests.
package memstore

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"

	"github.com/park285/matey-server/internal/game"
)

var ErrNilSession = errors.New("nil session")

type Store struct {
	mu    sync.RWMutex
	games map[string]*game.Session
	users map[string]*game.User
	// userID -> game ids, append-only
	byUser   map[string][]string
	finished []*game.Session
}

func New() *Store {
	return &Store{
		games:  make(map[string]*game.Session),
		users:  make(map[string]*game.User),
		byUser: make(map[string][]string),
	}
}

// Save stores a copy of s.
func (m *Store) Save(_ context.Context, s *game.Session) (*game.Session, error) {
	if s == nil || strings.TrimSpace(s.ID) == "" {
		return nil, ErrNilSession
	}
	cp := s.Clone()
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.games[cp.ID]; !exists {
		m.byUser[cp.WhitePlayerID] = append(m.byUser[cp.WhitePlayerID], cp.ID)
		m.byUser[cp.BlackPlayerID] = append(m.byUser[cp.BlackPlayerID], cp.ID)
	}
	m.games[cp.ID] = cp
	return cp.Clone(), nil
}

// SaveIf stores s only while the stored game is in progress with prevMoves moves.
func (m *Store) SaveIf(_ context.Context, s *game.Session, prevMoves int) (*game.Session, error) {
	if s == nil || strings.TrimSpace(s.ID) == "" {
		return nil, ErrNilSession
	}
	cp := s.Clone()
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.games[cp.ID]
	if !ok {
		return nil, game.ErrGameNotFound
	}
	if cur.Status != game.StatusInProgress || len(cur.MovesUCI) != prevMoves {
		return nil, game.ErrConflict
	}
	m.games[cp.ID] = cp
	return cp.Clone(), nil
}

func (m *Store) FindActive(_ context.Context, id string) (*game.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.games[strings.TrimSpace(id)]
	if !ok || s.Status != game.StatusInProgress {
		return nil, nil
	}
	return s.Clone(), nil
}

// Find returns a game in any status.
func (m *Store) Find(_ context.Context, id string) (*game.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if s, ok := m.games[strings.TrimSpace(id)]; ok {
		return s.Clone(), nil
	}
	return nil, nil
}

// ActiveByUser returns the user's most recently updated in-progress game.
func (m *Store) ActiveByUser(_ context.Context, userID string) (*game.Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var list []*game.Session
	for _, id := range m.byUser[userID] {
		if s := m.games[id]; s != nil && s.Status == game.StatusInProgress {
			list = append(list, s)
		}
	}
	if len(list) == 0 {
		return nil, nil
	}
	sort.Slice(list, func(i, j int) bool { return list[i].UpdatedAt.After(list[j].UpdatedAt) })
	return list[0].Clone(), nil
}

func (m *Store) FindUser(_ context.Context, id string) (*game.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if u, ok := m.users[strings.TrimSpace(id)]; ok {
		cp := *u
		return &cp, nil
	}
	return nil, nil
}

// PutUser adds or replaces a directory entry.
func (m *Store) PutUser(id, username string) {
	m.mu.Lock()
	m.users[id] = &game.User{ID: id, Username: username}
	m.mu.Unlock()
}

// SaveResult records a finished game; the in-memory archive.
func (m *Store) SaveResult(_ context.Context, s *game.Session) error {
	if s == nil {
		return ErrNilSession
	}
	m.mu.Lock()
	m.finished = append(m.finished, s.Clone())
	m.mu.Unlock()
	return nil
}

// Results lists archived games, oldest first.
func (m *Store) Results() []*game.Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*game.Session, len(m.finished))
	for i, s := range m.finished {
		out[i] = s.Clone()
	}
	return out
}
