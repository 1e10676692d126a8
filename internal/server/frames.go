package server

import (
	"context"
	"errors"
	"strings"

	"github.com/park285/matey-server/internal/board"
	"github.com/park285/matey-server/internal/challenge"
	"github.com/park285/matey-server/internal/game"
	"github.com/park285/matey-server/internal/lobby"
	"github.com/park285/matey-server/internal/matchqueue"
	"github.com/park285/matey-server/internal/notify"
	"github.com/park285/matey-server/internal/obslog"
	"go.uber.org/zap"
)

// Client frame types.
const (
	OpPlayerConnect    = "player.connect"
	OpPlayerDisconnect = "player.disconnect"
	OpOnlineGet        = "online.get"
	OpGameFind         = "game.find"
	OpGameCancel       = "game.cancel"
	OpGameMove         = "game.move"
	OpGameResign       = "game.resign"
	OpChallengeCreate  = "challenge.create"
	OpChallengeAccept  = "challenge.accept"
	OpChallengeDecline = "challenge.decline"
)

// Error codes carried by ERROR frames.
const (
	CodeBadRequest          = "BAD_REQUEST"
	CodeUnknownType         = "UNKNOWN_TYPE"
	CodeGameNotFound        = "GAME_NOT_FOUND"
	CodeNotYourTurn         = "NOT_YOUR_TURN"
	CodeNotParticipant      = "NOT_PARTICIPANT"
	CodeIllegalMove         = "ILLEGAL_MOVE"
	CodeEmptySource         = "EMPTY_SOURCE"
	CodeUserNotFound        = "USER_NOT_FOUND"
	CodeAlreadyInGame       = "ALREADY_IN_GAME"
	CodeNotOnline           = "NOT_ONLINE"
	CodeOpponentUnavailable = "OPPONENT_UNAVAILABLE"
	CodeSelfChallenge       = "SELF_CHALLENGE"
	CodeAlreadyPending      = "CHALLENGE_PENDING"
	CodeNoPending           = "NO_PENDING_CHALLENGE"
	CodeBusy                = "BUSY"
	CodeConflict            = "CONFLICT"
	CodeInternal            = "INTERNAL"
)

// clientFrame is every inbound message; fields not used by a type are ignored.
type clientFrame struct {
	Type        string      `json:"type"`
	Username    string      `json:"username,omitempty"`
	GameID      string      `json:"gameId,omitempty"`
	Move        *board.Move `json:"move,omitempty"`
	TargetID    string      `json:"targetId,omitempty"`
	ChallengeID string      `json:"challengeId,omitempty"`
}

// Ack confirms a request that produced no event of its own.
type Ack struct {
	Type        notify.EventType `json:"type"`
	Op          string           `json:"op"`
	GameID      string           `json:"gameId,omitempty"`
	ChallengeID string           `json:"challengeId,omitempty"`
	Queued      bool             `json:"queued,omitempty"`
}

const TypeAck notify.EventType = "ACK"

func (Ack) EventType() notify.EventType { return TypeAck }

func ack(op string) Ack { return Ack{Type: TypeAck, Op: op} }

// session is the per-connection state the dispatcher needs.
type session struct {
	id   string
	user Identity
}

// dispatch runs one client frame and returns the direct reply, if any. Events for other
// users go through the hub.
func (s *Server) dispatch(ctx context.Context, sess *session, f clientFrame) notify.Event {
	uid := sess.user.ID
	switch f.Type {
	case OpPlayerConnect:
		if name := strings.TrimSpace(f.Username); name != "" {
			sess.user.Username = name
		}
		return s.result(f.Type, ack(f.Type), s.lobby.ConnectSession(ctx, sess.id, uid, sess.user.Username))
	case OpPlayerDisconnect:
		err := s.lobby.Disconnect(ctx, uid)
		s.hub.stopUser(uid)
		return s.result(f.Type, nil, err)
	case OpOnlineGet:
		_ = s.hub.Broadcast(ctx, notify.TopicOnlinePlayers, s.lobby.OnlineSnapshot())
		return nil
	case OpGameFind:
		g, err := s.lobby.FindOpponent(ctx, uid)
		if g == nil && err == nil {
			a := ack(f.Type)
			a.Queued = true
			return a
		}
		// GAME_STARTED already went out through the hub
		return s.result(f.Type, nil, err)
	case OpGameCancel:
		return s.result(f.Type, ack(f.Type), s.lobby.CancelSearch(ctx, uid))
	case OpGameMove:
		if f.Move == nil || f.GameID == "" {
			return notify.NewError(CodeBadRequest, "gameId and move are required")
		}
		_, err := s.lobby.SubmitMove(ctx, f.GameID, uid, *f.Move)
		a := ack(f.Type)
		a.GameID = f.GameID
		return s.result(f.Type, a, err)
	case OpGameResign:
		if f.GameID == "" {
			return notify.NewError(CodeBadRequest, "gameId is required")
		}
		_, err := s.lobby.Resign(ctx, f.GameID, uid)
		return s.result(f.Type, nil, err)
	case OpChallengeCreate:
		ch, err := s.lobby.Challenge(ctx, uid, strings.TrimSpace(f.TargetID))
		a := ack(f.Type)
		if ch != nil {
			a.ChallengeID = ch.ID
		}
		return s.result(f.Type, a, err)
	case OpChallengeAccept:
		_, err := s.lobby.AcceptChallenge(ctx, uid, f.ChallengeID)
		return s.result(f.Type, nil, err)
	case OpChallengeDecline:
		a := ack(f.Type)
		a.ChallengeID = f.ChallengeID
		return s.result(f.Type, a, s.lobby.DeclineChallenge(ctx, uid, f.ChallengeID))
	}
	return notify.NewError(CodeUnknownType, "unknown frame type "+f.Type)
}

// result turns an operation error into an ERROR frame. Delivery failures happen after the
// state change was persisted, so the caller still gets its success reply.
func (s *Server) result(op string, ok notify.Event, err error) notify.Event {
	if err == nil {
		return ok
	}
	code := errorCode(err)
	if code == "" {
		obslog.L().Warn("ws_delivery_error", zap.String("op", op), zap.Error(err))
		return ok
	}
	if code == CodeInternal {
		obslog.L().Error("ws_op_error", zap.String("op", op), zap.Error(err))
		return notify.NewError(code, "internal error")
	}
	return notify.NewError(code, err.Error())
}

// errorCode maps domain errors to wire codes; "" means a delivery-only failure.
func errorCode(err error) string {
	switch {
	case errors.Is(err, game.ErrGameNotFound):
		return CodeGameNotFound
	case errors.Is(err, game.ErrNotYourTurn):
		return CodeNotYourTurn
	case errors.Is(err, game.ErrNotParticipant):
		return CodeNotParticipant
	case errors.Is(err, board.ErrEmptySource):
		return CodeEmptySource
	case errors.Is(err, board.ErrIllegalMove):
		return CodeIllegalMove
	case errors.Is(err, game.ErrUserNotFound):
		return CodeUserNotFound
	case errors.Is(err, lobby.ErrAlreadyInGame):
		return CodeAlreadyInGame
	case errors.Is(err, lobby.ErrNotOnline):
		return CodeNotOnline
	case errors.Is(err, lobby.ErrOpponentUnavailable):
		return CodeOpponentUnavailable
	case errors.Is(err, challenge.ErrSelfChallenge), errors.Is(err, game.ErrSelfMatch):
		return CodeSelfChallenge
	case errors.Is(err, challenge.ErrAlreadyPending):
		return CodeAlreadyPending
	case errors.Is(err, challenge.ErrNoPending):
		return CodeNoPending
	case errors.Is(err, challenge.ErrInvalidArgs), errors.Is(err, game.ErrInvalidArgs), errors.Is(err, matchqueue.ErrInvalidUser):
		return CodeBadRequest
	case errors.Is(err, matchqueue.ErrContention):
		return CodeBusy
	case errors.Is(err, game.ErrConflict):
		return CodeConflict
	case errors.Is(err, game.ErrDelivery), errors.Is(err, notify.ErrUndelivered):
		return ""
	}
	return CodeInternal
}
