package msgcat

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEmbeddedReasons(t *testing.T) {
	c := Default()
	cases := []struct {
		key  string
		data any
		want string
	}{
		{KeyResigned, map[string]string{"Side": "White"}, "White resigned"},
		{KeyResigned, map[string]string{"Side": "Black"}, "Black resigned"},
		{KeyCheckmate, map[string]string{"Side": "Black"}, "Black wins by checkmate"},
		{KeyDrawMaterial, nil, "Draw by insufficient material"},
		{KeyDrawStalemate, nil, "Draw by stalemate"},
	}
	for _, tc := range cases {
		got, err := c.Render(tc.key, tc.data)
		if err != nil {
			t.Fatalf("%s: %v", tc.key, err)
		}
		if got != tc.want {
			t.Fatalf("%s = %q, want %q", tc.key, got, tc.want)
		}
	}
}

func TestMissingFieldFallsBack(t *testing.T) {
	c := Default()
	if _, err := c.Render(KeyResigned, map[string]string{}); err == nil {
		t.Fatalf("expected missingkey error")
	}
	if got := c.Text(KeyResigned, map[string]string{}, "resigned"); got != "resigned" {
		t.Fatalf("Text fallback = %q", got)
	}
	if got := c.Text("no.such.key", nil, "x"); got != "x" {
		t.Fatalf("Text fallback = %q", got)
	}
	var nilCat *Catalog
	if got := nilCat.Text(KeyResigned, nil, "y"); got != "y" {
		t.Fatalf("nil catalog Text = %q", got)
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("game:\n  draw:\n    material: \"Dead position\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got, _ := c.Render(KeyDrawMaterial, nil); got != "Dead position" {
		t.Fatalf("override not applied: %q", got)
	}
	if got, _ := c.Render(KeyDrawStalemate, nil); got != "Draw by stalemate" {
		t.Fatalf("embedded key lost: %q", got)
	}
}

func TestOverrideDuplicateKeys(t *testing.T) {
	dir := t.TempDir()
	body := []byte("game:\n  resigned: \"x\"\n")
	os.WriteFile(filepath.Join(dir, "a.yaml"), body, 0o644)
	os.WriteFile(filepath.Join(dir, "b.yml"), body, 0o644)
	if _, err := New(dir); err == nil {
		t.Fatalf("expected duplicate key error")
	}
}

func TestNonStringLeafRejected(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("game:\n  resigned: 3\n"), 0o644)
	if _, err := New(dir); err == nil {
		t.Fatalf("expected unsupported value error")
	}
}
