package msgcat

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefaultMessages(t *testing.T) {
	c := Default()
	got, err := c.Render("session.welcome", map[string]any{"Team": "zebra"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "Welcome to the fray, zebra." {
		t.Fatalf("welcome = %q", got)
	}
	if got := c.Text("match.move_timeout", nil); got != "Timeout waiting for a move" {
		t.Fatalf("move_timeout = %q", got)
	}
}

func TestMissingKeyFallsBack(t *testing.T) {
	c := Default()
	if _, err := c.Render("nope.nothing", nil); err == nil {
		t.Fatalf("expected error for unknown key")
	}
	if got := c.Text("nope.nothing", nil); got != "nope.nothing" {
		t.Fatalf("Text fallback = %q", got)
	}
	// missingkey=error: template field absent from data
	if _, err := c.Render("session.welcome", map[string]any{}); err == nil {
		t.Fatalf("expected error for missing template field")
	}
}

func TestOverrideDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("session:\n  welcome: \"hi {{.Team}}\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.Text("session.welcome", map[string]any{"Team": "ox"}); got != "hi ox" {
		t.Fatalf("override not applied: %q", got)
	}
	if got := c.Text("session.overflow", nil); got != "Too much data, punk." {
		t.Fatalf("defaults lost: %q", got)
	}
}

func TestOverrideDirDuplicateKeys(t *testing.T) {
	dir := t.TempDir()
	body := []byte("match:\n  move_timeout: \"x\"\n")
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), body, 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "b.yml"), body, 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(dir); err == nil {
		t.Fatalf("expected duplicate key error")
	}
}
