package notify

import (
	"github.com/park285/matey-server/internal/board"
)

// EventType tags a unicast event on the wire.
type EventType string

const (
	TypeGameStarted       EventType = "GAME_STARTED"
	TypeMoveMade          EventType = "MOVE_MADE"
	TypeGameEnded         EventType = "GAME_ENDED"
	TypeChallengeReceived EventType = "CHALLENGE_RECEIVED"
	TypeChallengeDeclined EventType = "CHALLENGE_DECLINED"
	TypeError             EventType = "ERROR"
)

// Broadcast topics.
const (
	TopicOnlinePlayers = "online-players"
	TopicOnlineCount   = "online-count"
)

// Event is anything deliverable to a single user.
type Event interface {
	EventType() EventType
}

type GameStarted struct {
	Type     EventType `json:"type"`
	GameID   string    `json:"gameId"`
	IsWhite  bool      `json:"isWhite"`
	Opponent string    `json:"opponent"`
}

func (GameStarted) EventType() EventType { return TypeGameStarted }

type MoveMade struct {
	Type     EventType  `json:"type"`
	GameID   string     `json:"gameId"`
	Move     board.Move `json:"move"`
	Position string     `json:"position,omitempty"`
}

func (MoveMade) EventType() EventType { return TypeMoveMade }

type GameEnded struct {
	Type   EventType `json:"type"`
	GameID string    `json:"gameId"`
	Reason string    `json:"reason"`
	Winner string    `json:"winner,omitempty"`
}

func (GameEnded) EventType() EventType { return TypeGameEnded }

type ChallengeReceived struct {
	Type        EventType `json:"type"`
	ChallengeID string    `json:"challengeId"`
	From        string    `json:"from"`
	FromName    string    `json:"fromName"`
}

func (ChallengeReceived) EventType() EventType { return TypeChallengeReceived }

type ChallengeDeclined struct {
	Type        EventType `json:"type"`
	ChallengeID string    `json:"challengeId"`
	By          string    `json:"by"`
}

func (ChallengeDeclined) EventType() EventType { return TypeChallengeDeclined }

// Error is a transport reply for a rejected request.
type Error struct {
	Type    EventType `json:"type"`
	Code    string    `json:"code"`
	Message string    `json:"message,omitempty"`
}

func (Error) EventType() EventType { return TypeError }

// Constructors fill the type tag so JSON consumers can switch on it.

func NewGameStarted(gameID string, isWhite bool, opponent string) GameStarted {
	return GameStarted{Type: TypeGameStarted, GameID: gameID, IsWhite: isWhite, Opponent: opponent}
}

func NewMoveMade(gameID string, m board.Move, position string) MoveMade {
	return MoveMade{Type: TypeMoveMade, GameID: gameID, Move: m, Position: position}
}

func NewGameEnded(gameID, reason, winner string) GameEnded {
	return GameEnded{Type: TypeGameEnded, GameID: gameID, Reason: reason, Winner: winner}
}

func NewChallengeReceived(id, from, fromName string) ChallengeReceived {
	return ChallengeReceived{Type: TypeChallengeReceived, ChallengeID: id, From: from, FromName: fromName}
}

func NewChallengeDeclined(id, by string) ChallengeDeclined {
	return ChallengeDeclined{Type: TypeChallengeDeclined, ChallengeID: id, By: by}
}

func NewError(code, message string) Error {
	return Error{Type: TypeError, Code: code, Message: message}
}
