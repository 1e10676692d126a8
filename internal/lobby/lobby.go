package lobby

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/park285/matey-server/internal/board"
	"github.com/park285/matey-server/internal/challenge"
	"github.com/park285/matey-server/internal/game"
	"github.com/park285/matey-server/internal/matchqueue"
	"github.com/park285/matey-server/internal/notify"
	"github.com/park285/matey-server/internal/obslog"
	"github.com/park285/matey-server/internal/presence"
	"go.uber.org/zap"
)

var (
	ErrAlreadyInGame       = errors.New("user is already in a game")
	ErrNotOnline           = errors.New("user is not online")
	ErrOpponentUnavailable = errors.New("opponent is offline or busy")
)

// Presence is the registry surface the lobby needs.
type Presence interface {
	Connect(userID, displayName string)
	ConnectSession(sessionID, userID, displayName string)
	DisconnectSession(sessionID string) (string, bool)
	Disconnect(userID string) bool
	Snapshot() []presence.Entry
	SetInGame(inGame bool, userIDs ...string)
	InGame(userID string) bool
	Online(userID string) bool
	DisplayName(userID string) (string, bool)
}

// Games is the game manager surface the lobby needs.
type Games interface {
	CreateSession(ctx context.Context, p1, p2 string) (*game.Session, error)
	SubmitMove(ctx context.Context, gameID, playerID string, m board.Move) (*game.Session, error)
	Resign(ctx context.Context, gameID, playerID string) (*game.Session, error)
}

// Lobby is the inbound operation surface. mu serializes every sequence that reads
// eligibility (online, in game) and then changes the queue or the in-game flags.
// Lock order: mu, then registry or queue. Game locks are taken without mu held.
type Lobby struct {
	mu         sync.Mutex
	presence   Presence
	queue      matchqueue.Queue
	games      Games
	challenges *challenge.Manager
	events     *notify.Broadcaster
}

func New(p Presence, q matchqueue.Queue, g Games, ch *challenge.Manager, events *notify.Broadcaster) *Lobby {
	if ch == nil {
		ch = challenge.NewManager()
	}
	if events == nil {
		events = notify.NewBroadcaster(nil, p)
	}
	return &Lobby{presence: p, queue: q, games: g, challenges: ch, events: events}
}

// Connect registers a user without a connection and republishes presence.
func (l *Lobby) Connect(ctx context.Context, userID, displayName string) error {
	l.presence.Connect(userID, displayName)
	return l.events.Presence(ctx)
}

func (l *Lobby) ConnectSession(ctx context.Context, sessionID, userID, displayName string) error {
	l.presence.ConnectSession(sessionID, userID, displayName)
	obslog.L().Info("player_connect", zap.String("session_id", sessionID), zap.String("user_id", userID))
	return l.events.Presence(ctx)
}

// DisconnectSession closes one connection. A user losing its last connection also
// leaves the queue and loses its pending challenges.
func (l *Lobby) DisconnectSession(ctx context.Context, sessionID string) error {
	l.mu.Lock()
	userID, gone := l.presence.DisconnectSession(sessionID)
	var qerr error
	if gone {
		qerr = l.queue.Cancel(ctx, userID)
		l.challenges.DropUser(userID)
	}
	l.mu.Unlock()

	if userID == "" {
		return nil
	}
	obslog.L().Info("player_disconnect", zap.String("session_id", sessionID), zap.String("user_id", userID), zap.Bool("gone", gone))
	return errors.Join(qerr, l.events.Presence(ctx))
}

// Disconnect removes a user and all of its connections.
func (l *Lobby) Disconnect(ctx context.Context, userID string) error {
	l.mu.Lock()
	l.presence.Disconnect(userID)
	qerr := l.queue.Cancel(ctx, userID)
	l.challenges.DropUser(userID)
	l.mu.Unlock()
	return errors.Join(qerr, l.events.Presence(ctx))
}

func (l *Lobby) OnlineSnapshot() []presence.Entry { return l.presence.Snapshot() }

// PublishPresence rebroadcasts the online list.
func (l *Lobby) PublishPresence(ctx context.Context) error { return l.events.Presence(ctx) }

// FindOpponent pairs userID with a waiting user or queues it. A nil session with nil error
// means the user is now waiting.
func (l *Lobby) FindOpponent(ctx context.Context, userID string) (*game.Session, error) {
	userID = strings.TrimSpace(userID)
	l.mu.Lock()
	if !l.presence.Online(userID) {
		l.mu.Unlock()
		return nil, ErrNotOnline
	}
	if l.presence.InGame(userID) {
		l.mu.Unlock()
		return nil, ErrAlreadyInGame
	}
	var opponent string
	for {
		opp, ok, err := l.queue.FindOpponent(ctx, userID)
		if err != nil {
			l.mu.Unlock()
			return nil, fmt.Errorf("find opponent: %w", err)
		}
		if !ok {
			l.mu.Unlock()
			obslog.L().Info("queue_wait", zap.String("user_id", userID))
			return nil, nil
		}
		if l.presence.Online(opp) && !l.presence.InGame(opp) {
			opponent = opp
			break
		}
		obslog.L().Info("queue_skip_stale", zap.String("user_id", userID), zap.String("skipped_id", opp))
	}
	l.presence.SetInGame(true, userID, opponent)
	l.mu.Unlock()

	return l.start(ctx, opponent, userID)
}

// CancelSearch leaves the queue. Users not queued are ignored.
func (l *Lobby) CancelSearch(ctx context.Context, userID string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.queue.Cancel(ctx, userID)
}

func (l *Lobby) SubmitMove(ctx context.Context, gameID, playerID string, m board.Move) (*game.Session, error) {
	return l.games.SubmitMove(ctx, gameID, playerID, m)
}

func (l *Lobby) Resign(ctx context.Context, gameID, playerID string) (*game.Session, error) {
	return l.games.Resign(ctx, gameID, playerID)
}

// Challenge invites an online, idle target to a game.
func (l *Lobby) Challenge(ctx context.Context, challengerID, targetID string) (*challenge.Challenge, error) {
	l.mu.Lock()
	if err := l.eligible(challengerID, targetID); err != nil {
		l.mu.Unlock()
		return nil, err
	}
	ch, err := l.challenges.Create(challengerID, targetID)
	l.mu.Unlock()
	if err != nil {
		return nil, err
	}
	name, _ := l.presence.DisplayName(challengerID)
	obslog.L().Info("challenge_create", zap.String("challenge_id", ch.ID), zap.String("from", challengerID), zap.String("to", targetID))
	return ch, l.events.Send(ctx, targetID, notify.NewChallengeReceived(ch.ID, challengerID, name))
}

// AcceptChallenge starts the game for targetID's pending challenge id (latest when empty).
func (l *Lobby) AcceptChallenge(ctx context.Context, targetID, id string) (*game.Session, error) {
	l.mu.Lock()
	pending, err := l.challenges.Pending(targetID, id)
	if err != nil {
		l.mu.Unlock()
		return nil, err
	}
	if err := l.eligible(pending.ChallengerID, targetID); err != nil {
		l.mu.Unlock()
		return nil, err
	}
	ch, err := l.challenges.Accept(targetID, pending.ID)
	if err != nil {
		l.mu.Unlock()
		return nil, err
	}
	qerr := errors.Join(l.queue.Cancel(ctx, ch.ChallengerID), l.queue.Cancel(ctx, targetID))
	l.presence.SetInGame(true, ch.ChallengerID, targetID)
	l.mu.Unlock()
	if qerr != nil {
		obslog.L().Warn("challenge_queue_cancel_error", zap.String("challenge_id", ch.ID), zap.Error(qerr))
	}

	s, err := l.start(ctx, ch.ChallengerID, targetID)
	if s != nil {
		l.challenges.Bind(ch.ID, s.ID)
	}
	return s, err
}

func (l *Lobby) DeclineChallenge(ctx context.Context, targetID, id string) error {
	ch, err := l.challenges.Decline(targetID, id)
	if err != nil {
		return err
	}
	return l.events.Send(ctx, ch.ChallengerID, notify.NewChallengeDeclined(ch.ID, targetID))
}

// start creates the game for two users already flagged in game, undoing the flags on failure.
func (l *Lobby) start(ctx context.Context, p1, p2 string) (*game.Session, error) {
	s, err := l.games.CreateSession(ctx, p1, p2)
	if s == nil && err != nil {
		l.presence.SetInGame(false, p1, p2)
		obslog.L().Warn("game_start_error", zap.String("p1", p1), zap.String("p2", p2), zap.Error(err))
		return nil, err
	}
	return s, err
}

// eligible must be called with mu held.
func (l *Lobby) eligible(challengerID, targetID string) error {
	if !l.presence.Online(challengerID) {
		return ErrNotOnline
	}
	if l.presence.InGame(challengerID) {
		return ErrAlreadyInGame
	}
	if !l.presence.Online(targetID) || l.presence.InGame(targetID) {
		return ErrOpponentUnavailable
	}
	return nil
}
