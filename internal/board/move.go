package board

import (
	"fmt"
	"strings"
)

// Move is a coordinate move as sent by clients.
type Move struct {
	From      string `json:"from"`
	To        string `json:"to"`
	Promotion string `json:"promotion,omitempty"`
}

// UCI renders the move in long algebraic form, e.g. "a7a8q".
func (m Move) UCI() string {
	return strings.ToLower(strings.TrimSpace(m.From) + strings.TrimSpace(m.To) + strings.TrimSpace(m.Promotion))
}

// ParseUCI reads the long algebraic form produced by UCI.
func ParseUCI(s string) (Move, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 4 && len(s) != 5 {
		return Move{}, fmt.Errorf("%w: %q", ErrIllegalMove, s)
	}
	m := Move{From: s[0:2], To: s[2:4], Promotion: s[4:]}
	if _, _, err := parseSquare(m.From); err != nil {
		return Move{}, err
	}
	if _, _, err := parseSquare(m.To); err != nil {
		return Move{}, err
	}
	if _, err := parsePromotion(m.Promotion); err != nil {
		return Move{}, err
	}
	return m, nil
}

// ApplyMove moves whatever piece stands on m.From to m.To and flips the side to move.
// Legality is not checked: any piece may go anywhere, captures are plain overwrites.
func ApplyMove(fen string, m Move) (string, error) {
	p, err := Decode(fen)
	if err != nil {
		return "", err
	}
	if err := p.Apply(m); err != nil {
		return "", err
	}
	return p.String(), nil
}

// Apply mutates p in place. On error p is left untouched.
func (p *Position) Apply(m Move) error {
	ff, fr, err := parseSquare(m.From)
	if err != nil {
		return err
	}
	tf, tr, err := parseSquare(m.To)
	if err != nil {
		return err
	}
	promo, err := parsePromotion(m.Promotion)
	if err != nil {
		return err
	}
	piece := p.Grid[fr][ff]
	if piece == empty || piece == 0 {
		return fmt.Errorf("%w: %s", ErrEmptySource, strings.ToLower(m.From))
	}

	p.Grid[fr][ff] = empty
	placed := piece
	if promo != 0 && ((piece == 'P' && tr == 7) || (piece == 'p' && tr == 0)) {
		if isWhitePiece(piece) {
			placed = promo - 'a' + 'A'
		} else {
			placed = promo
		}
	}
	p.Grid[tr][tf] = placed
	p.Turn = p.Turn.Opposite()
	return nil
}

func parsePromotion(s string) (byte, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return 0, nil
	}
	if len(s) != 1 {
		return 0, fmt.Errorf("%w: promotion %q", ErrIllegalMove, s)
	}
	switch s[0] {
	case 'q', 'r', 'b', 'n':
		return s[0], nil
	}
	return 0, fmt.Errorf("%w: promotion %q", ErrIllegalMove, s)
}
