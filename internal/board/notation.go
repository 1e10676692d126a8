package board

import (
	nchess "github.com/corentings/chess/v2"
)

// Notation is a move as it is recorded in a game's history.
type Notation struct {
	UCI string
	SAN string
}

// Annotate computes the SAN of m in the position fen. The codec itself does not enforce
// chess rules, so a move the rules engine rejects keeps its coordinate form as SAN.
func Annotate(fen string, m Move) Notation {
	uci := m.UCI()
	n := Notation{UCI: uci, SAN: uci}
	opt, err := nchess.FEN(fen)
	if err != nil {
		return n
	}
	game := nchess.NewGame(opt)
	pos := game.Position()
	if err := game.PushNotationMove(uci, nchess.UCINotation{}, nil); err != nil {
		return n
	}
	moves := game.Moves()
	if len(moves) == 0 {
		return n
	}
	n.SAN = nchess.AlgebraicNotation{}.Encode(pos, moves[len(moves)-1])
	return n
}
