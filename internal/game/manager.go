package game

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/park285/matey-server/internal/board"
	"github.com/park285/matey-server/internal/msgcat"
	"github.com/park285/matey-server/internal/notify"
	"github.com/park285/matey-server/internal/obslog"
	"go.uber.org/zap"
)

// Manager owns game state transitions. Every mutation of one game runs under that game's lock,
// is persisted, and only then announced.
type Manager struct {
	store    Store
	dir      Directory
	presence Presence
	events   *notify.Broadcaster
	archive  Archive
	msgs     *msgcat.Catalog
	locks    *keyedMutex
	now      func() time.Time
	coin     func() bool
}

type Option func(*Manager)

// WithArchive sends finished games to a.
func WithArchive(a Archive) Option { return func(m *Manager) { m.archive = a } }

// WithCatalog overrides the message catalog used for end reasons.
func WithCatalog(c *msgcat.Catalog) Option { return func(m *Manager) { m.msgs = c } }

func WithClock(now func() time.Time) Option { return func(m *Manager) { m.now = now } }

// WithCoin replaces the color draw; true means the first player gets white.
func WithCoin(f func() bool) Option { return func(m *Manager) { m.coin = f } }

// NewManager wires a manager. dir may be nil, then names come from presence only.
func NewManager(store Store, dir Directory, presence Presence, events *notify.Broadcaster, opts ...Option) *Manager {
	m := &Manager{
		store:    store,
		dir:      dir,
		presence: presence,
		events:   events,
		locks:    newKeyedMutex(),
		now:      time.Now,
		coin:     secureCoin,
	}
	if m.events == nil {
		m.events = notify.NewBroadcaster(nil, nil)
	}
	for _, o := range opts {
		o(m)
	}
	if m.msgs == nil {
		m.msgs = msgcat.Default()
	}
	return m
}

// CreateSession starts a game between p1 and p2 with random colors.
func (m *Manager) CreateSession(ctx context.Context, p1, p2 string) (*Session, error) {
	p1, p2 = strings.TrimSpace(p1), strings.TrimSpace(p2)
	if p1 == "" || p2 == "" {
		return nil, ErrInvalidArgs
	}
	if p1 == p2 {
		return nil, ErrSelfMatch
	}
	name1, err := m.displayName(ctx, p1)
	if err != nil {
		return nil, err
	}
	name2, err := m.displayName(ctx, p2)
	if err != nil {
		return nil, err
	}

	whiteID, whiteName, blackID, blackName := p1, name1, p2, name2
	if !m.coin() {
		whiteID, whiteName, blackID, blackName = p2, name2, p1, name1
	}
	now := m.now()
	s := &Session{
		ID:              uuid.NewString(),
		WhitePlayerID:   whiteID,
		BlackPlayerID:   blackID,
		WhiteName:       whiteName,
		BlackName:       blackName,
		CurrentPosition: board.StartFEN,
		Status:          StatusInProgress,
		Winner:          WinnerNone,
		MovesUCI:        []string{},
		MovesSAN:        []string{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	s, err = m.save(ctx, s)
	if err != nil {
		return nil, err
	}
	m.presence.SetInGame(true, whiteID, blackID)
	obslog.L().Info("game_create",
		zap.String("game_id", s.ID),
		zap.String("white_id", whiteID),
		zap.String("black_id", blackID),
	)

	return s, delivery(
		m.events.GameStarted(ctx, s.ID, whiteID, whiteName, blackID, blackName),
		m.events.Presence(ctx),
	)
}

// SubmitMove applies m for playerID. Only the side to move may play; outsiders get ErrNotYourTurn.
func (m *Manager) SubmitMove(ctx context.Context, gameID, playerID string, mv board.Move) (*Session, error) {
	unlock := m.locks.Lock(gameID)
	defer unlock()

	s, err := m.active(ctx, gameID)
	if err != nil {
		return nil, err
	}
	pos, err := board.Decode(s.CurrentPosition)
	if err != nil {
		return nil, fmt.Errorf("game %s: stored position: %w", gameID, err)
	}
	if s.PlayerID(pos.Turn) != playerID {
		return nil, ErrNotYourTurn
	}

	prev := len(s.MovesUCI)
	note := board.Annotate(s.CurrentPosition, mv)
	if err := pos.Apply(mv); err != nil {
		return nil, err
	}
	s.CurrentPosition = pos.String()
	s.MovesUCI = append(s.MovesUCI, note.UCI)
	s.MovesSAN = append(s.MovesSAN, note.SAN)
	s.UpdatedAt = m.now()
	if s, err = m.saveIf(ctx, s, prev); err != nil {
		return nil, err
	}
	obslog.L().Info("game_move",
		zap.String("game_id", s.ID),
		zap.String("user_id", playerID),
		zap.String("uci", note.UCI),
		zap.String("san", note.SAN),
		zap.String("turn", pos.Turn.String()),
	)

	var errs []error
	errs = append(errs, m.events.MoveMade(ctx, s.Opponent(playerID), s.ID, notify.NewMoveMade(s.ID, mv, s.CurrentPosition)))

	winner, reason, over := m.evaluate(pos)
	if !over {
		return s, delivery(errs...)
	}
	s, ferr := m.finish(ctx, s, len(s.MovesUCI), winner, reason)
	if ferr != nil {
		return s, ferr
	}
	return s, delivery(append(errs, m.announceEnd(ctx, s)...)...)
}

// Resign ends the game in the opponent's favor.
func (m *Manager) Resign(ctx context.Context, gameID, playerID string) (*Session, error) {
	unlock := m.locks.Lock(gameID)
	defer unlock()

	s, err := m.active(ctx, gameID)
	if err != nil {
		return nil, err
	}
	color, ok := s.ColorOf(playerID)
	if !ok {
		return nil, ErrNotParticipant
	}
	winner := WinnerBlack
	side := "White"
	if color == board.Black {
		winner, side = WinnerWhite, "Black"
	}
	reason := m.msgs.Text(msgcat.KeyResigned, map[string]string{"Side": side}, side+" resigned")
	if s, err = m.finish(ctx, s, len(s.MovesUCI), winner, reason); err != nil {
		return s, err
	}
	obslog.L().Info("game_resign", zap.String("game_id", s.ID), zap.String("resigner", playerID), zap.String("winner", string(winner)))
	return s, delivery(m.announceEnd(ctx, s)...)
}

// Get returns a copy of the in-progress game.
func (m *Manager) Get(ctx context.Context, gameID string) (*Session, error) {
	s, err := m.active(ctx, gameID)
	if err != nil {
		return nil, err
	}
	return s.Clone(), nil
}

// evaluate runs end detection on the position after a move. pos.Turn is the side now to move.
func (m *Manager) evaluate(pos *board.Position) (Winner, string, bool) {
	switch {
	case pos.HasInsufficientMaterial():
		return WinnerDraw, m.msgs.Text(msgcat.KeyDrawMaterial, nil, "Draw by insufficient material"), true
	case pos.IsStalemate():
		return WinnerDraw, m.msgs.Text(msgcat.KeyDrawStalemate, nil, "Draw by stalemate"), true
	case pos.IsCheckmate():
		winner, side := WinnerWhite, "White"
		if pos.Turn == board.White {
			winner, side = WinnerBlack, "Black"
		}
		return winner, m.msgs.Text(msgcat.KeyCheckmate, map[string]string{"Side": side}, side+" wins by checkmate"), true
	}
	return WinnerNone, "", false
}

// finish marks s FINISHED and persists it. Caller holds the game lock; prevMoves is the move
// count the stored game must still have.
func (m *Manager) finish(ctx context.Context, s *Session, prevMoves int, winner Winner, reason string) (*Session, error) {
	s.Status = StatusFinished
	s.Winner = winner
	s.Reason = reason
	s.UpdatedAt = m.now()
	saved, err := m.saveIf(ctx, s, prevMoves)
	if err != nil {
		return nil, err
	}
	m.presence.SetInGame(false, saved.WhitePlayerID, saved.BlackPlayerID)
	obslog.L().Info("game_end",
		zap.String("game_id", saved.ID),
		zap.String("winner", string(winner)),
		zap.String("reason", reason),
	)
	if m.archive != nil {
		if aerr := m.archive.SaveResult(ctx, saved); aerr != nil {
			obslog.L().Error("game_archive_error", zap.String("game_id", saved.ID), zap.Error(aerr))
		}
	}
	return saved, nil
}

func (m *Manager) announceEnd(ctx context.Context, s *Session) []error {
	ev := notify.NewGameEnded(s.ID, s.Reason, string(s.Winner))
	return []error{
		m.events.GameEnded(ctx, s.WhitePlayerID, s.BlackPlayerID, ev),
		m.events.Presence(ctx),
	}
}

func (m *Manager) active(ctx context.Context, gameID string) (*Session, error) {
	if strings.TrimSpace(gameID) == "" {
		return nil, ErrGameNotFound
	}
	s, err := m.store.FindActive(ctx, gameID)
	if err != nil {
		return nil, fmt.Errorf("load game %s: %w", gameID, err)
	}
	if s == nil || s.Status != StatusInProgress {
		return nil, ErrGameNotFound
	}
	return s, nil
}

func (m *Manager) save(ctx context.Context, s *Session) (*Session, error) {
	saved, err := m.store.Save(ctx, s)
	if err != nil {
		obslog.L().Error("game_save_error", zap.String("game_id", s.ID), zap.Error(err))
		return nil, fmt.Errorf("save game %s: %w", s.ID, err)
	}
	if saved == nil {
		saved = s
	}
	return saved, nil
}

// saveIf persists s only if the stored game is unchanged since it was loaded with prevMoves
// moves. Stores without conditional writes fall back to Save; the game lock covers them.
func (m *Manager) saveIf(ctx context.Context, s *Session, prevMoves int) (*Session, error) {
	cs, ok := m.store.(ConditionalStore)
	if !ok {
		return m.save(ctx, s)
	}
	saved, err := cs.SaveIf(ctx, s, prevMoves)
	if errors.Is(err, ErrConflict) {
		obslog.L().Warn("game_conflict", zap.String("game_id", s.ID), zap.Int("prev_moves", prevMoves))
		return nil, fmt.Errorf("save game %s: %w", s.ID, err)
	}
	if err != nil {
		obslog.L().Error("game_save_error", zap.String("game_id", s.ID), zap.Error(err))
		return nil, fmt.Errorf("save game %s: %w", s.ID, err)
	}
	if saved == nil {
		saved = s
	}
	return saved, nil
}

// displayName prefers the directory, then the presence registry.
func (m *Manager) displayName(ctx context.Context, userID string) (string, error) {
	if m.dir != nil {
		u, err := m.dir.FindUser(ctx, userID)
		if err != nil {
			return "", fmt.Errorf("find user %s: %w", userID, err)
		}
		if u != nil && strings.TrimSpace(u.Username) != "" {
			return u.Username, nil
		}
	}
	if m.presence != nil {
		if name, ok := m.presence.DisplayName(userID); ok {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: %s", ErrUserNotFound, userID)
}

func delivery(errs ...error) error {
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("%w: %w", ErrDelivery, err)
	}
	return nil
}

func secureCoin() bool {
	n, err := rand.Int(rand.Reader, big.NewInt(2))
	return err != nil || n.Int64() == 1
}
