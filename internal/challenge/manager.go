package challenge

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Manager tracks challenges in memory. A target has at most one pending challenge.
type Manager struct {
	mu sync.RWMutex
	// targetID -> challenges, latest last
	byTarget map[string][]*Challenge
	byID     map[string]*Challenge
	seq      uint64
	now      func() time.Time
}

func NewManager() *Manager {
	return &Manager{
		byTarget: make(map[string][]*Challenge),
		byID:     make(map[string]*Challenge),
		now:      time.Now,
	}
}

func (m *Manager) Create(challengerID, targetID string) (*Challenge, error) {
	challengerID, targetID = strings.TrimSpace(challengerID), strings.TrimSpace(targetID)
	if challengerID == "" || targetID == "" {
		return nil, ErrInvalidArgs
	}
	if challengerID == targetID {
		return nil, ErrSelfChallenge
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.byTarget[targetID]
	if latestPendingIndex(list, "") >= 0 {
		return nil, ErrAlreadyPending
	}
	ch := &Challenge{
		ID:           m.nextID(),
		ChallengerID: challengerID,
		TargetID:     targetID,
		Status:       StatusPending,
		CreatedAt:    m.now(),
	}
	m.byTarget[targetID] = append(list, ch)
	m.byID[ch.ID] = ch
	return copyOf(ch), nil
}

// Get returns a copy of the challenge with id.
func (m *Manager) Get(id string) (*Challenge, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.byID[id]
	if !ok {
		return nil, false
	}
	return copyOf(ch), true
}

// Pending returns targetID's pending challenge. An empty id selects the latest one.
func (m *Manager) Pending(targetID, id string) (*Challenge, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.byTarget[targetID]
	if idx := latestPendingIndex(list, id); idx >= 0 {
		return copyOf(list[idx]), nil
	}
	return nil, ErrNoPending
}

func (m *Manager) Accept(targetID, id string) (*Challenge, error) {
	return m.resolve(targetID, id, StatusAccepted)
}

func (m *Manager) Decline(targetID, id string) (*Challenge, error) {
	return m.resolve(targetID, id, StatusDeclined)
}

// Bind records the game started from an accepted challenge.
func (m *Manager) Bind(id, gameID string) {
	m.mu.Lock()
	if ch, ok := m.byID[id]; ok {
		ch.GameID = gameID
	}
	m.mu.Unlock()
}

// Cancel withdraws every pending challenge issued by challengerID.
func (m *Manager) Cancel(challengerID string) int {
	return m.cancelWhere(func(ch *Challenge) bool { return ch.ChallengerID == challengerID })
}

// DropUser cancels pending challenges the user issued or received.
func (m *Manager) DropUser(userID string) int {
	return m.cancelWhere(func(ch *Challenge) bool { return ch.ChallengerID == userID || ch.TargetID == userID })
}

func (m *Manager) resolve(targetID, id string, st Status) (*Challenge, error) {
	if strings.TrimSpace(targetID) == "" {
		return nil, ErrInvalidArgs
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	list := m.byTarget[targetID]
	if idx := latestPendingIndex(list, id); idx >= 0 {
		ch := list[idx]
		ch.Status = st
		return copyOf(ch), nil
	}
	return nil, ErrNoPending
}

func (m *Manager) cancelWhere(match func(*Challenge) bool) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ch := range m.byID {
		if ch.Status == StatusPending && match(ch) {
			ch.Status = StatusCancelled
			n++
		}
	}
	return n
}

func latestPendingIndex(list []*Challenge, id string) int {
	for i := len(list) - 1; i >= 0; i-- {
		if list[i].Status != StatusPending {
			continue
		}
		if id == "" || list[i].ID == id {
			return i
		}
	}
	return -1
}

func (m *Manager) nextID() string {
	n := atomic.AddUint64(&m.seq, 1)
	return fmt.Sprintf("ch-%d-%d", m.now().UnixNano(), n)
}

func copyOf(ch *Challenge) *Challenge {
	c := *ch
	return &c
}
