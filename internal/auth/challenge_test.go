package auth

import (
	"os"
	"path/filepath"
	"testing"
)

func writePolicy(t *testing.T, dir string, mode os.FileMode) string {
	t.Helper()
	path := filepath.Join(dir, "policy")
	if err := os.WriteFile(path, []byte("x"), mode); err != nil {
		t.Fatalf("write policy: %v", err)
	}
	return path
}

func TestNewCopiesModeFromPolicy(t *testing.T) {
	dir := t.TempDir()
	policy := writePolicy(t, dir, 0640)

	c, err := New(dir, "d26run", 7, 1, policy)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	info, err := os.Stat(c.Path)
	if err != nil {
		t.Fatalf("stat token: %v", err)
	}
	if info.Mode().Perm() != 0640 {
		t.Fatalf("got mode %v, want 0640", info.Mode().Perm())
	}
}

func TestVerifyAcceptsTrimmedAuth(t *testing.T) {
	dir := t.TempDir()
	policy := writePolicy(t, dir, 0644)
	c, err := New(dir, "d26run", 1, 1, policy)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if err := os.WriteFile(c.Path, []byte("auth\n"), 0644); err != nil {
		t.Fatalf("write token: %v", err)
	}
	outcome, err := c.Verify()
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if outcome != Accepted {
		t.Fatalf("got %v, want Accepted", outcome)
	}
}

func TestVerifyRejectsEmptyOrWrongContent(t *testing.T) {
	dir := t.TempDir()
	policy := writePolicy(t, dir, 0644)
	c, err := New(dir, "d26run", 1, 2, policy)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	outcome, err := c.Verify()
	if err != nil {
		t.Fatalf("Verify on empty token: %v", err)
	}
	if outcome != DeniedFailed {
		t.Fatalf("got %v, want DeniedFailed", outcome)
	}

	os.WriteFile(c.Path, []byte("nope!"), 0644)
	outcome2, err := c.Verify()
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if outcome2 != DeniedFailed {
		t.Fatalf("got %v, want DeniedFailed", outcome2)
	}
}

func TestTokenPathIncludesConnIDAndSeq(t *testing.T) {
	dir := t.TempDir()
	policy := writePolicy(t, dir, 0644)
	c, err := New(dir, "myprefix", 42, 3, policy)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	want := filepath.Join(dir, "myprefix-auth-42-3")
	if c.Path != want {
		t.Fatalf("got path %q, want %q", c.Path, want)
	}
}
