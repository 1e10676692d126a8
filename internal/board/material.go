package board

// HasInsufficientMaterial reports a material draw under simplified rules:
// K v K, K+B v K, K+N v K and K+B v K+B. Any pawn, queen or rook rules it out.
func (p *Position) HasInsufficientMaterial() bool {
	var white, black, whiteBishops, blackBishops, whiteKnights, blackKnights int
	for rank := 0; rank < 8; rank++ {
		for file := 0; file < 8; file++ {
			switch p.Grid[rank][file] {
			case 'P', 'p', 'Q', 'q', 'R', 'r':
				return false
			case 'B':
				white++
				whiteBishops++
			case 'b':
				black++
				blackBishops++
			case 'N':
				white++
				whiteKnights++
			case 'n':
				black++
				blackKnights++
			case 'K':
				white++
			case 'k':
				black++
			}
		}
	}

	switch {
	case white == 1 && black == 1:
		return true
	case white == 2 && black == 1 && (whiteBishops == 1 || whiteKnights == 1):
		return true
	case black == 2 && white == 1 && (blackBishops == 1 || blackKnights == 1):
		return true
	case white == 2 && black == 2 && whiteBishops == 1 && blackBishops == 1:
		return true
	}
	return false
}

// HasInsufficientMaterial decodes fen and applies the material-draw rule.
func HasInsufficientMaterial(fen string) (bool, error) {
	p, err := Decode(fen)
	if err != nil {
		return false, err
	}
	return p.HasInsufficientMaterial(), nil
}

// IsCheckmate is not implemented; games end by resignation or material draw only.
func (p *Position) IsCheckmate() bool { return false }

// IsStalemate is not implemented, see IsCheckmate.
func (p *Position) IsStalemate() bool { return false }
