package sqlstore

import (
	"fmt"
	"strings"

	"github.com/park285/matey-server/internal/game"
)

func pgnResult(w game.Winner) string {
	switch w {
	case game.WinnerWhite:
		return "1-0"
	case game.WinnerBlack:
		return "0-1"
	case game.WinnerDraw:
		return "1/2-1/2"
	}
	return "*"
}

// BuildPGN renders the SAN history of g. Moves the rules engine could not annotate are
// kept in coordinate form.
func BuildPGN(g *game.Session) string {
	if g == nil {
		return ""
	}
	var b strings.Builder
	date := g.UpdatedAt
	result := pgnResult(g.Winner)
	fmt.Fprintf(&b, "[Event \"matey\"]\n")
	fmt.Fprintf(&b, "[Site \"matey-server\"]\n")
	fmt.Fprintf(&b, "[Date \"%04d.%02d.%02d\"]\n", date.Year(), int(date.Month()), date.Day())
	fmt.Fprintf(&b, "[White \"%s\"]\n", sanitizePGN(g.WhiteName))
	fmt.Fprintf(&b, "[Black \"%s\"]\n", sanitizePGN(g.BlackName))
	if strings.TrimSpace(g.Reason) != "" {
		fmt.Fprintf(&b, "[Termination \"%s\"]\n", sanitizePGN(g.Reason))
	}
	fmt.Fprintf(&b, "[Result \"%s\"]\n\n", result)

	for i := 0; i < len(g.MovesSAN); i += 2 {
		fmt.Fprintf(&b, "%d. %s ", i/2+1, strings.TrimSpace(g.MovesSAN[i]))
		if i+1 < len(g.MovesSAN) {
			b.WriteString(strings.TrimSpace(g.MovesSAN[i+1]))
			b.WriteByte(' ')
		}
	}
	b.WriteString(result)
	return b.String()
}

func sanitizePGN(s string) string {
	s = strings.ReplaceAll(s, "\\", " ")
	s = strings.ReplaceAll(s, "\"", "'")
	return strings.TrimSpace(s)
}
