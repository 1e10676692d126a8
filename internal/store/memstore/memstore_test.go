package memstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/park285/matey-server/internal/game"
)

func TestSaveFindActiveCopies(t *testing.T) {
	m := New()
	ctx := context.Background()
	s := &game.Session{ID: "g1", WhitePlayerID: "w", BlackPlayerID: "b", Status: game.StatusInProgress, MovesUCI: []string{"e2e4"}}
	if _, err := m.Save(ctx, s); err != nil {
		t.Fatalf("Save: %v", err)
	}
	s.MovesUCI[0] = "mutated"

	got, err := m.FindActive(ctx, "g1")
	if err != nil || got == nil {
		t.Fatalf("FindActive: %v %v", got, err)
	}
	if got.MovesUCI[0] != "e2e4" {
		t.Fatalf("store aliased caller slice: %v", got.MovesUCI)
	}
	got.MovesUCI[0] = "again"
	if again, _ := m.FindActive(ctx, "g1"); again.MovesUCI[0] != "e2e4" {
		t.Fatalf("store aliased returned slice")
	}
}

func TestFindActiveFiltersStatus(t *testing.T) {
	m := New()
	ctx := context.Background()
	m.Save(ctx, &game.Session{ID: "g1", Status: game.StatusFinished, Winner: game.WinnerDraw})
	if got, err := m.FindActive(ctx, "g1"); err != nil || got != nil {
		t.Fatalf("finished game returned as active: %v %v", got, err)
	}
	if got, _ := m.Find(ctx, "g1"); got == nil {
		t.Fatalf("Find should return finished games")
	}
	if got, err := m.FindActive(ctx, "missing"); err != nil || got != nil {
		t.Fatalf("missing game: %v %v", got, err)
	}
}

func TestSaveIfChecksMoveCount(t *testing.T) {
	m := New()
	ctx := context.Background()
	s := &game.Session{ID: "g1", WhitePlayerID: "w", BlackPlayerID: "b", Status: game.StatusInProgress, MovesUCI: []string{}}
	m.Save(ctx, s)

	next := s.Clone()
	next.MovesUCI = append(next.MovesUCI, "e2e4")
	if _, err := m.SaveIf(ctx, next, 0); err != nil {
		t.Fatalf("SaveIf: %v", err)
	}
	stale := s.Clone()
	stale.MovesUCI = append(stale.MovesUCI, "d2d4")
	if _, err := m.SaveIf(ctx, stale, 0); !errors.Is(err, game.ErrConflict) {
		t.Fatalf("stale SaveIf err = %v", err)
	}
	if got, _ := m.FindActive(ctx, "g1"); got.MovesUCI[0] != "e2e4" {
		t.Fatalf("stored moves = %v", got.MovesUCI)
	}
	if _, err := m.SaveIf(ctx, &game.Session{ID: "nope"}, 0); !errors.Is(err, game.ErrGameNotFound) {
		t.Fatalf("missing game err = %v", err)
	}
}

func TestSaveRejectsNil(t *testing.T) {
	if _, err := New().Save(context.Background(), nil); err != ErrNilSession {
		t.Fatalf("err = %v", err)
	}
}

func TestActiveByUserPrefersLatest(t *testing.T) {
	m := New()
	ctx := context.Background()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	m.Save(ctx, &game.Session{ID: "old", WhitePlayerID: "u1", BlackPlayerID: "u2", Status: game.StatusInProgress, UpdatedAt: base})
	m.Save(ctx, &game.Session{ID: "new", WhitePlayerID: "u3", BlackPlayerID: "u1", Status: game.StatusInProgress, UpdatedAt: base.Add(time.Hour)})
	got, _ := m.ActiveByUser(ctx, "u1")
	if got == nil || got.ID != "new" {
		t.Fatalf("ActiveByUser = %+v", got)
	}
}

func TestDirectoryAndArchive(t *testing.T) {
	m := New()
	ctx := context.Background()
	if u, err := m.FindUser(ctx, "u1"); err != nil || u != nil {
		t.Fatalf("unknown user: %v %v", u, err)
	}
	m.PutUser("u1", "Alice")
	if u, _ := m.FindUser(ctx, "u1"); u == nil || u.Username != "Alice" {
		t.Fatalf("FindUser = %+v", u)
	}
	m.SaveResult(ctx, &game.Session{ID: "g1", Status: game.StatusFinished, Winner: game.WinnerWhite})
	if res := m.Results(); len(res) != 1 || res[0].ID != "g1" {
		t.Fatalf("Results = %+v", res)
	}
}
