package cache

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func TestSaveAndLoadJSON(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "record.json")
	type record struct {
		Token     string `json:"token"`
		ExpiresAt int64  `json:"expires_at"`
	}
	want := record{Token: "tid=abc", ExpiresAt: 1234567890}
	if err := SaveJSON(path, want); err != nil {
		t.Fatalf("SaveJSON: %v", err)
	}
	var got record
	if err := LoadJSON(path, &got); err != nil {
		t.Fatalf("LoadJSON: %v", err)
	}
	if got != want {
		t.Fatalf("roundtrip mismatch: %+v vs %+v", got, want)
	}
}

func TestLoadJSONMissingFile(t *testing.T) {
	err := LoadJSON(filepath.Join(t.TempDir(), "absent.json"), &struct{}{})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestSecretRoundtripTrimsWhitespace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "github-token")
	if err := SaveSecret(path, "gho_secret123"); err != nil {
		t.Fatalf("SaveSecret: %v", err)
	}
	if err := os.WriteFile(path, []byte("  gho_secret123\n"), 0o600); err != nil {
		t.Fatalf("rewrite with whitespace: %v", err)
	}
	got, err := LoadSecret(path)
	if err != nil {
		t.Fatalf("LoadSecret: %v", err)
	}
	if got != "gho_secret123" {
		t.Fatalf("unexpected secret %q", got)
	}
}

func TestLoadSecretEmptyFileIsNotFound(t *testing.T) {
	path := filepath.Join(t.TempDir(), "github-token")
	if err := os.WriteFile(path, []byte("  \n"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	if _, err := LoadSecret(path); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRemoveMissingFileIsNoError(t *testing.T) {
	if err := Remove(filepath.Join(t.TempDir(), "absent")); err != nil {
		t.Fatalf("Remove: %v", err)
	}
}
