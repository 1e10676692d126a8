package board

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrIllegalMove = errors.New("illegal move")
	ErrEmptySource = errors.New("no piece on source square")
)

// StartFEN is the standard initial position.
const StartFEN = "rnbqkbnr/pppppppp/8/8/8/8/PPPPPPPP/RNBQKBNR w KQkq - 0 1"

// Color is the side to move.
type Color byte

const (
	White Color = 'w'
	Black Color = 'b'
)

func (c Color) String() string {
	if c == Black {
		return "black"
	}
	return "white"
}

// Opposite returns the other side.
func (c Color) Opposite() Color {
	if c == White {
		return Black
	}
	return White
}

const empty byte = ' '

// Position is a decoded FEN-like position. Grid is indexed [rank][file], rank 0 = "1", file 0 = "a".
// Fields after the side-to-move token (castling, en passant, clocks) are carried verbatim.
type Position struct {
	Grid [8][8]byte
	Turn Color
	Rest []string
}

// Decode parses the rank/file text form.
func Decode(fen string) (*Position, error) {
	parts := strings.Fields(fen)
	if len(parts) < 2 {
		return nil, fmt.Errorf("%w: position %q has no side-to-move", ErrIllegalMove, fen)
	}
	ranks := strings.Split(parts[0], "/")
	if len(ranks) != 8 {
		return nil, fmt.Errorf("%w: position %q has %d ranks", ErrIllegalMove, fen, len(ranks))
	}
	p := &Position{}
	for i, row := range ranks {
		rank := 7 - i
		file := 0
		for _, c := range []byte(row) {
			if c >= '1' && c <= '8' {
				for n := 0; n < int(c-'0'); n++ {
					if file >= 8 {
						return nil, fmt.Errorf("%w: rank %d overflows", ErrIllegalMove, rank+1)
					}
					p.Grid[rank][file] = empty
					file++
				}
				continue
			}
			if !isPiece(c) || file >= 8 {
				return nil, fmt.Errorf("%w: bad rank %q", ErrIllegalMove, row)
			}
			p.Grid[rank][file] = c
			file++
		}
		if file != 8 {
			return nil, fmt.Errorf("%w: rank %d has %d files", ErrIllegalMove, rank+1, file)
		}
	}
	switch parts[1] {
	case "w":
		p.Turn = White
	case "b":
		p.Turn = Black
	default:
		return nil, fmt.Errorf("%w: side-to-move %q", ErrIllegalMove, parts[1])
	}
	p.Rest = append([]string(nil), parts[2:]...)
	return p, nil
}

// String re-serializes the position.
func (p *Position) String() string {
	var b strings.Builder
	for rank := 7; rank >= 0; rank-- {
		run := 0
		for file := 0; file < 8; file++ {
			c := p.Grid[rank][file]
			if c == empty || c == 0 {
				run++
				continue
			}
			if run > 0 {
				b.WriteByte(byte('0' + run))
				run = 0
			}
			b.WriteByte(c)
		}
		if run > 0 {
			b.WriteByte(byte('0' + run))
		}
		if rank > 0 {
			b.WriteByte('/')
		}
	}
	b.WriteByte(' ')
	b.WriteByte(byte(p.Turn))
	for _, f := range p.Rest {
		b.WriteByte(' ')
		b.WriteString(f)
	}
	return b.String()
}

// At returns the piece on a square such as "e4", or 0 when the square is empty.
func (p *Position) At(square string) byte {
	file, rank, err := parseSquare(square)
	if err != nil {
		return 0
	}
	if c := p.Grid[rank][file]; c != empty {
		return c
	}
	return 0
}

func isPiece(c byte) bool {
	switch c {
	case 'P', 'N', 'B', 'R', 'Q', 'K', 'p', 'n', 'b', 'r', 'q', 'k':
		return true
	}
	return false
}

func isWhitePiece(c byte) bool { return c >= 'A' && c <= 'Z' }

func parseSquare(s string) (file, rank int, err error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if len(s) != 2 || s[0] < 'a' || s[0] > 'h' || s[1] < '1' || s[1] > '8' {
		return 0, 0, fmt.Errorf("%w: square %q", ErrIllegalMove, s)
	}
	return int(s[0] - 'a'), int(s[1] - '1'), nil
}

// ParseSquare returns the zero-based file and rank of a square such as "e4".
func ParseSquare(s string) (file, rank int, err error) { return parseSquare(s) }
