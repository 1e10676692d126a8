package game

import (
	"context"
	"errors"
	"time"

	"github.com/park285/matey-server/internal/board"
)

// Status is the lifecycle state of a game. Transitions only move forward.
type Status string

const (
	StatusWaiting    Status = "WAITING"
	StatusInProgress Status = "IN_PROGRESS"
	StatusFinished   Status = "FINISHED"
)

// Winner is set iff the game is FINISHED.
type Winner string

const (
	WinnerNone  Winner = ""
	WinnerWhite Winner = "WHITE"
	WinnerBlack Winner = "BLACK"
	WinnerDraw  Winner = "DRAW"
)

var (
	ErrUserNotFound   = errors.New("user not found")
	ErrGameNotFound   = errors.New("game not found")
	ErrNotYourTurn    = errors.New("not your turn")
	ErrNotParticipant = errors.New("user is not a participant")
	ErrSelfMatch      = errors.New("cannot play against yourself")
	ErrInvalidArgs    = errors.New("invalid arguments")
	// ErrConflict means the stored game changed after it was loaded, e.g. another server
	// process accepted a move first. Nothing was written.
	ErrConflict = errors.New("game changed concurrently")
	// ErrDelivery marks notifier failures that happened after state was persisted.
	ErrDelivery = errors.New("event delivery failed")
)

// Session is one game between two users, stored as a JSON document.
type Session struct {
	ID              string    `json:"id"`
	WhitePlayerID   string    `json:"whitePlayerId"`
	BlackPlayerID   string    `json:"blackPlayerId"`
	WhiteName       string    `json:"whiteName"`
	BlackName       string    `json:"blackName"`
	CurrentPosition string    `json:"currentPosition"`
	Status          Status    `json:"status"`
	Winner          Winner    `json:"winner"`
	Reason          string    `json:"reason,omitempty"`
	MovesUCI        []string  `json:"movesUci"`
	MovesSAN        []string  `json:"movesSan"`
	CreatedAt       time.Time `json:"createdAt"`
	UpdatedAt       time.Time `json:"updatedAt"`
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	c.MovesUCI = append([]string(nil), s.MovesUCI...)
	c.MovesSAN = append([]string(nil), s.MovesSAN...)
	return &c
}

// ColorOf reports the side userID plays.
func (s *Session) ColorOf(userID string) (board.Color, bool) {
	switch userID {
	case s.WhitePlayerID:
		return board.White, true
	case s.BlackPlayerID:
		return board.Black, true
	}
	return 0, false
}

// Opponent returns the other participant, or "" for outsiders.
func (s *Session) Opponent(userID string) string {
	switch userID {
	case s.WhitePlayerID:
		return s.BlackPlayerID
	case s.BlackPlayerID:
		return s.WhitePlayerID
	}
	return ""
}

// PlayerID returns the id playing side c.
func (s *Session) PlayerID(c board.Color) string {
	if c == board.Black {
		return s.BlackPlayerID
	}
	return s.WhitePlayerID
}

// User is a directory record.
type User struct {
	ID       string `json:"id"`
	Username string `json:"username"`
}

// Store persists game sessions. FindActive returns (nil, nil) when the game is absent
// or not IN_PROGRESS.
type Store interface {
	Save(ctx context.Context, s *Session) (*Session, error)
	FindActive(ctx context.Context, id string) (*Session, error)
}

// ConditionalStore is implemented by stores shared between processes. SaveIf writes s only
// while the stored game is still IN_PROGRESS with exactly prevMoves moves, and returns
// ErrConflict otherwise.
type ConditionalStore interface {
	SaveIf(ctx context.Context, s *Session, prevMoves int) (*Session, error)
}

// Directory resolves user ids. FindUser returns (nil, nil) when the user is unknown.
type Directory interface {
	FindUser(ctx context.Context, id string) (*User, error)
}

// Archive receives finished games.
type Archive interface {
	SaveResult(ctx context.Context, s *Session) error
}

// Presence is the part of the registry the manager touches.
type Presence interface {
	SetInGame(inGame bool, userIDs ...string)
	DisplayName(userID string) (string, bool)
}
