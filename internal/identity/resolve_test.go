package identity

import (
	"os/user"
	"strconv"
	"testing"

	"github.com/dummi26/d26run/internal/config"
)

func TestResolveUserNumericBypassesLookup(t *testing.T) {
	id, err := ResolveUser(&config.IdentityRef{Kind: config.IdentityNumeric, ID: 1000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if id != 1000 {
		t.Fatalf("got %d, want 1000", id)
	}
}

func TestResolveUserUnknownName(t *testing.T) {
	_, err := ResolveUser(&config.IdentityRef{Kind: config.IdentityName, Name: "definitely-not-a-real-user-xyz"})
	if err == nil || err.Kind != config.ErrUnknownUser {
		t.Fatalf("expected ErrUnknownUser, got %v", err)
	}
}

func TestResolveUserByName(t *testing.T) {
	me, lookupErr := user.Current()
	if lookupErr != nil {
		t.Skip("no current user available in this environment")
	}
	id, err := ResolveUser(&config.IdentityRef{Kind: config.IdentityName, Name: me.Username})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	want, _ := strconv.ParseUint(me.Uid, 10, 32)
	if uint64(id) != want {
		t.Fatalf("got uid %d, want %d", id, want)
	}
}

func TestResolveGroupDoesNotFallThroughToUser(t *testing.T) {
	// A nil group ref must never silently resolve from a user field —
	// that fallthrough is the bug §9 explicitly rejects.
	_, err := ResolveGroup(nil)
	if err == nil || err.Kind != config.ErrMissingGroup {
		t.Fatalf("expected ErrMissingGroup, got %v", err)
	}
}
