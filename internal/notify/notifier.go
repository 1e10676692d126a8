package notify

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/park285/matey-server/internal/obslog"
	"github.com/park285/matey-server/internal/presence"
	"go.uber.org/zap"
)

// ErrUndelivered wraps every notifier failure reported by Broadcaster.
var ErrUndelivered = errors.New("event not delivered")

// Notifier delivers events. Delivery is best-effort; implementations must not block for long.
type Notifier interface {
	SendToUser(ctx context.Context, userID string, ev Event) error
	Broadcast(ctx context.Context, topic string, payload any) error
}

// Multi fans out to every notifier and joins their errors.
type Multi []Notifier

func (m Multi) SendToUser(ctx context.Context, userID string, ev Event) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.SendToUser(ctx, userID, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Broadcast(ctx context.Context, topic string, payload any) error {
	var errs []error
	for _, n := range m {
		if n == nil {
			continue
		}
		if err := n.Broadcast(ctx, topic, payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards everything.
type Nop struct{}

func (Nop) SendToUser(context.Context, string, Event) error { return nil }
func (Nop) Broadcast(context.Context, string, any) error    { return nil }

// Snapshotter is the presence view the broadcaster reads.
type Snapshotter interface {
	Snapshot() []presence.Entry
}

// Broadcaster turns state changes into notifier calls.
type Broadcaster struct {
	n        Notifier
	presence Snapshotter

	// presenceMu orders presence publications so the last one sent carries the latest snapshot.
	presenceMu sync.Mutex
}

func NewBroadcaster(n Notifier, presence Snapshotter) *Broadcaster {
	if n == nil {
		n = Nop{}
	}
	return &Broadcaster{n: n, presence: presence}
}

// Notifier returns the underlying notifier.
func (b *Broadcaster) Notifier() Notifier { return b.n }

// GameStarted sends each player its own start event.
func (b *Broadcaster) GameStarted(ctx context.Context, gameID, whiteID, whiteName, blackID, blackName string) error {
	return errors.Join(
		b.send(ctx, whiteID, NewGameStarted(gameID, true, blackName)),
		b.send(ctx, blackID, NewGameStarted(gameID, false, whiteName)),
	)
}

// MoveMade tells the player who did not move.
func (b *Broadcaster) MoveMade(ctx context.Context, opponentID, gameID string, ev MoveMade) error {
	ev.Type, ev.GameID = TypeMoveMade, gameID
	return b.send(ctx, opponentID, ev)
}

// GameEnded sends the same event to both players.
func (b *Broadcaster) GameEnded(ctx context.Context, whiteID, blackID string, ev GameEnded) error {
	ev.Type = TypeGameEnded
	return errors.Join(b.send(ctx, whiteID, ev), b.send(ctx, blackID, ev))
}

// Send delivers an arbitrary event to one user.
func (b *Broadcaster) Send(ctx context.Context, userID string, ev Event) error {
	return b.send(ctx, userID, ev)
}

// Presence publishes the online list and its size.
func (b *Broadcaster) Presence(ctx context.Context) error {
	if b.presence == nil {
		return nil
	}
	b.presenceMu.Lock()
	defer b.presenceMu.Unlock()
	snap := b.presence.Snapshot()
	return errors.Join(
		b.wrap(TopicOnlinePlayers, b.n.Broadcast(ctx, TopicOnlinePlayers, snap)),
		b.wrap(TopicOnlineCount, b.n.Broadcast(ctx, TopicOnlineCount, len(snap))),
	)
}

func (b *Broadcaster) send(ctx context.Context, userID string, ev Event) error {
	if err := b.n.SendToUser(ctx, userID, ev); err != nil {
		obslog.L().Warn("notify_send_error",
			zap.String("user_id", userID),
			zap.String("event", string(ev.EventType())),
			zap.Error(err),
		)
		return fmt.Errorf("notify %s to %s: %w: %w", ev.EventType(), userID, ErrUndelivered, err)
	}
	return nil
}

func (b *Broadcaster) wrap(topic string, err error) error {
	if err == nil {
		return nil
	}
	obslog.L().Warn("notify_broadcast_error", zap.String("topic", topic), zap.Error(err))
	return fmt.Errorf("broadcast %s: %w: %w", topic, ErrUndelivered, err)
}
