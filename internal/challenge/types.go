package challenge

import (
	"errors"
	"time"
)

type Status string

const (
	StatusPending   Status = "PENDING"
	StatusAccepted  Status = "ACCEPTED"
	StatusDeclined  Status = "DECLINED"
	StatusCancelled Status = "CANCELLED"
)

var (
	ErrInvalidArgs    = errors.New("invalid arguments")
	ErrSelfChallenge  = errors.New("cannot challenge yourself")
	ErrAlreadyPending = errors.New("target already has a pending challenge")
	ErrNoPending      = errors.New("no pending challenge for target user")
)

// Challenge is a direct game invitation from one user to another.
type Challenge struct {
	ID           string    `json:"id"`
	ChallengerID string    `json:"challengerId"`
	TargetID     string    `json:"targetId"`
	Status       Status    `json:"status"`
	CreatedAt    time.Time `json:"createdAt"`
	GameID       string    `json:"gameId,omitempty"`
}
