package sqlstore

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/park285/matey-server/internal/game"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(context.Background(), "sqlite://:memory:")
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func finished(id string, w game.Winner, end time.Time) *game.Session {
	return &game.Session{
		ID: id, WhitePlayerID: "u1", BlackPlayerID: "u2", WhiteName: "Alice", BlackName: `Bo"b`,
		CurrentPosition: "rnbqkbnr/pppp1ppp/8/4p3/4P3/8/PPPP1PPP/RNBQKBNR w KQkq - 0 2",
		Status:          game.StatusFinished, Winner: w, Reason: "Black resigned",
		MovesUCI:  []string{"e2e4", "e7e5", "g1f3"},
		MovesSAN:  []string{"e4", "e5", "Nf3"},
		CreatedAt: end.Add(-90 * time.Second), UpdatedAt: end,
	}
}

func TestParseURL(t *testing.T) {
	cases := []struct {
		in      string
		dialect Dialect
		dsn     string
		err     bool
	}{
		{"postgres://u:p@localhost/matey", Postgres, "postgres://u:p@localhost/matey", false},
		{"postgresql://localhost/matey", Postgres, "postgresql://localhost/matey", false},
		{"sqlite://data/matey.db", SQLite, "data/matey.db", false},
		{"sqlite://:memory:", SQLite, ":memory:", false},
		{"mysql://localhost", "", "", true},
		{"", "", "", true},
	}
	for _, c := range cases {
		d, dsn, err := ParseURL(c.in)
		if (err != nil) != c.err || d != c.dialect || dsn != c.dsn {
			t.Errorf("ParseURL(%q) = %q %q %v", c.in, d, dsn, err)
		}
	}
	if _, _, err := ParseURL("mysql://x"); !errors.Is(err, ErrUnsupportedURL) {
		t.Fatalf("err = %v", err)
	}
}

func TestUsers(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if u, err := s.FindUser(ctx, "u1"); err != nil || u != nil {
		t.Fatalf("absent user: %v %v", u, err)
	}
	if err := s.PutUser(ctx, "u1", "Alice"); err != nil {
		t.Fatalf("PutUser: %v", err)
	}
	if err := s.PutUser(ctx, "u1", "Alicia"); err != nil {
		t.Fatalf("rename: %v", err)
	}
	u, err := s.FindUser(ctx, "u1")
	if err != nil || u == nil || u.Username != "Alicia" {
		t.Fatalf("FindUser = %+v %v", u, err)
	}
	if err := s.PutUser(ctx, "", "x"); !errors.Is(err, game.ErrInvalidArgs) {
		t.Fatalf("empty id: %v", err)
	}
}

func TestSaveResultAndRecent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	if err := s.SaveResult(ctx, finished("g1", game.WinnerWhite, base)); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
	if err := s.SaveResult(ctx, finished("g2", game.WinnerDraw, base.Add(time.Hour))); err != nil {
		t.Fatalf("SaveResult: %v", err)
	}
	// upsert keeps one row per game
	again := finished("g1", game.WinnerBlack, base)
	if err := s.SaveResult(ctx, again); err != nil {
		t.Fatalf("SaveResult upsert: %v", err)
	}

	got, err := s.RecentResults(ctx, "u2", 10)
	if err != nil {
		t.Fatalf("RecentResults: %v", err)
	}
	if len(got) != 2 || got[0].GameID != "g2" || got[1].GameID != "g1" {
		t.Fatalf("order = %+v", got)
	}
	if got[1].Result != "0-1" || got[1].Winner != "BLACK" {
		t.Fatalf("upsert lost: %+v", got[1])
	}
	if got[0].Result != "1/2-1/2" || got[0].DurationMS != 90000 {
		t.Fatalf("g2 = %+v", got[0])
	}
	if len(got[1].MovesSAN) != 3 || got[1].MovesUCI[2] != "g1f3" {
		t.Fatalf("moves = %v %v", got[1].MovesUCI, got[1].MovesSAN)
	}
	if got, _ := s.RecentResults(ctx, "nobody", 5); len(got) != 0 {
		t.Fatalf("stranger has results: %v", got)
	}
	if got, _ := s.RecentResults(ctx, "u1", 1); len(got) != 1 {
		t.Fatalf("limit ignored: %d", len(got))
	}
}

func TestSaveResultRejectsActive(t *testing.T) {
	s := newTestStore(t)
	g := finished("g1", "", time.Now())
	g.Status = game.StatusInProgress
	if err := s.SaveResult(context.Background(), g); err == nil {
		t.Fatalf("in-progress game archived")
	}
}

func TestMigrationsRunOnce(t *testing.T) {
	path := filepath.Join(t.TempDir(), "db", "matey.db")
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		s, err := Open(ctx, "sqlite://"+path)
		if err != nil {
			t.Fatalf("Open #%d: %v", i, err)
		}
		var n int
		if err := s.DB().QueryRowContext(ctx, `SELECT COUNT(*) FROM _migrations`).Scan(&n); err != nil {
			t.Fatalf("count: %v", err)
		}
		if n != 3 {
			t.Fatalf("applied = %d", n)
		}
		_ = s.Close()
	}
}

func TestBuildPGN(t *testing.T) {
	pgn := BuildPGN(finished("g1", game.WinnerWhite, time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)))
	for _, want := range []string{
		`[Date "2024.05.01"]`,
		`[White "Alice"]`,
		`[Black "Bo'b"]`,
		`[Termination "Black resigned"]`,
		`[Result "1-0"]`,
		"1. e4 e5 2. Nf3 1-0",
	} {
		if !strings.Contains(pgn, want) {
			t.Errorf("pgn missing %q:\n%s", want, pgn)
		}
	}
}

func TestRebind(t *testing.T) {
	s := &Store{dialect: Postgres}
	if got := s.rebind("a = ? AND b = ?"); got != "a = $1 AND b = $2" {
		t.Fatalf("rebind = %q", got)
	}
	s.dialect = SQLite
	if got := s.rebind("a = ?"); got != "a = ?" {
		t.Fatalf("sqlite rebind = %q", got)
	}
}
