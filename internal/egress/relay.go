package egress

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/park285/matey-server/internal/notify"
	"github.com/park285/matey-server/internal/obslog"
	"go.uber.org/zap"
)

const (
	KindUser      = "user"
	KindBroadcast = "broadcast"
)

var ErrQueueFull = errors.New("relay queue full")

// Envelope is the relay request body.
type Envelope struct {
	Kind    string `json:"kind"`
	UserID  string `json:"userId,omitempty"`
	Topic   string `json:"topic,omitempty"`
	Type    string `json:"type,omitempty"`
	Payload any    `json:"payload"`
}

// Poster is the transport Relay uses; *Client implements it.
type Poster interface {
	Post(ctx context.Context, body any) error
}

// Relay is a notify.Notifier that posts every delivery synchronously.
type Relay struct {
	p Poster
}

func NewRelay(p Poster) *Relay { return &Relay{p: p} }

func (r *Relay) SendToUser(ctx context.Context, userID string, ev notify.Event) error {
	return r.p.Post(ctx, Envelope{Kind: KindUser, UserID: userID, Type: string(ev.EventType()), Payload: ev})
}

func (r *Relay) Broadcast(ctx context.Context, topic string, payload any) error {
	return r.p.Post(ctx, Envelope{Kind: KindBroadcast, Topic: topic, Payload: payload})
}

// Async queues envelopes for a single background sender so callers never wait on the
// network. A full queue drops the envelope and reports ErrQueueFull.
type Async struct {
	p       Poster
	ch      chan Envelope
	dropped atomic.Int64
	done    chan struct{}
}

func NewAsync(p Poster, size int) *Async {
	if size <= 0 {
		size = 256
	}
	return &Async{p: p, ch: make(chan Envelope, size), done: make(chan struct{})}
}

func (a *Async) SendToUser(_ context.Context, userID string, ev notify.Event) error {
	return a.enqueue(Envelope{Kind: KindUser, UserID: userID, Type: string(ev.EventType()), Payload: ev})
}

func (a *Async) Broadcast(_ context.Context, topic string, payload any) error {
	return a.enqueue(Envelope{Kind: KindBroadcast, Topic: topic, Payload: payload})
}

// Dropped counts envelopes rejected by a full queue.
func (a *Async) Dropped() int64 { return a.dropped.Load() }

func (a *Async) enqueue(env Envelope) error {
	select {
	case a.ch <- env:
		return nil
	default:
		a.dropped.Add(1)
		return ErrQueueFull
	}
}

// Run sends queued envelopes until ctx ends, then drains what is left with ctx's parent
// values but no cancellation.
func (a *Async) Run(ctx context.Context) {
	defer close(a.done)
	for {
		select {
		case env := <-a.ch:
			a.post(ctx, env)
		case <-ctx.Done():
			drain := context.WithoutCancel(ctx)
			for {
				select {
				case env := <-a.ch:
					a.post(drain, env)
				default:
					return
				}
			}
		}
	}
}

// Wait blocks until Run has returned.
func (a *Async) Wait() { <-a.done }

func (a *Async) post(ctx context.Context, env Envelope) {
	if err := a.p.Post(ctx, env); err != nil {
		obslog.L().Warn("relay_post_error",
			zap.String("kind", env.Kind),
			zap.String("user_id", env.UserID),
			zap.String("topic", env.Topic),
			zap.Error(err),
		)
	}
}
