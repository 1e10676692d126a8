package matchqueue

import (
	"context"
	"errors"
	"strings"
	"sync"
)

var (
	ErrInvalidUser = errors.New("invalid user id")
	// ErrContention is returned when the backend gave up retrying a contended pairing.
	ErrContention = errors.New("queue contention, retry")
)

// Queue is the waiting pool of users looking for an opponent.
//
// FindOpponent removes caller from the pool, then either pairs it with the oldest other waiting
// user (both leave the pool, ok=true) or enqueues caller (ok=false).
type Queue interface {
	FindOpponent(ctx context.Context, userID string) (opponentID string, ok bool, err error)
	Cancel(ctx context.Context, userID string) error
	Waiting(ctx context.Context) ([]string, error)
}

// Memory is the single-process backend.
type Memory struct {
	mu      sync.Mutex
	order   []string
	members map[string]struct{}
}

func NewMemory() *Memory {
	return &Memory{members: make(map[string]struct{})}
}

func (q *Memory) FindOpponent(_ context.Context, userID string) (string, bool, error) {
	userID = strings.TrimSpace(userID)
	if userID == "" {
		return "", false, ErrInvalidUser
	}
	q.mu.Lock()
	defer q.mu.Unlock()

	q.removeLocked(userID)
	if len(q.order) > 0 {
		opp := q.order[0]
		q.removeLocked(opp)
		return opp, true, nil
	}
	q.order = append(q.order, userID)
	q.members[userID] = struct{}{}
	return "", false, nil
}

// Cancel is a no-op for users not in the pool.
func (q *Memory) Cancel(_ context.Context, userID string) error {
	q.mu.Lock()
	q.removeLocked(strings.TrimSpace(userID))
	q.mu.Unlock()
	return nil
}

// Waiting returns queued ids, oldest first.
func (q *Memory) Waiting(context.Context) ([]string, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return append([]string(nil), q.order...), nil
}

func (q *Memory) removeLocked(userID string) {
	if _, ok := q.members[userID]; !ok {
		return
	}
	delete(q.members, userID)
	for i, id := range q.order {
		if id == userID {
			q.order = append(q.order[:i], q.order[i+1:]...)
			return
		}
	}
}
