// Package identity resolves the user/group names written in a template
// against the host's user/group database (C4, §4.3).
package identity

import (
	"os/user"
	"strconv"

	"github.com/dummi26/d26run/internal/config"
)

// ResolveUser turns an IdentityRef into a numeric uid. Numeric refs
// bypass lookup entirely.
func ResolveUser(ref *config.IdentityRef) (uint32, *config.VerifyError) {
	if ref == nil {
		return 0, &config.VerifyError{Kind: config.ErrMissingUser}
	}
	if ref.Kind == config.IdentityNumeric {
		return ref.ID, nil
	}
	u, err := user.Lookup(ref.Name)
	if err != nil {
		return 0, &config.VerifyError{Kind: config.ErrUnknownUser, Detail: ref.Name}
	}
	id, err := strconv.ParseUint(u.Uid, 10, 32)
	if err != nil {
		return 0, &config.VerifyError{Kind: config.ErrUnknownUser, Detail: ref.Name}
	}
	return uint32(id), nil
}

// ResolveGroup turns an IdentityRef into a numeric gid. It resolves
// strictly from the ref's own field; it never falls through to a
// user's primary group (§9 Open Question: the Rust original's
// group-falls-through-to-user behavior is treated as a bug, not
// reproduced here).
func ResolveGroup(ref *config.IdentityRef) (uint32, *config.VerifyError) {
	if ref == nil {
		return 0, &config.VerifyError{Kind: config.ErrMissingGroup}
	}
	if ref.Kind == config.IdentityNumeric {
		return ref.ID, nil
	}
	g, err := user.LookupGroup(ref.Name)
	if err != nil {
		return 0, &config.VerifyError{Kind: config.ErrUnknownGroup, Detail: ref.Name}
	}
	id, err := strconv.ParseUint(g.Gid, 10, 32)
	if err != nil {
		return 0, &config.VerifyError{Kind: config.ErrUnknownGroup, Detail: ref.Name}
	}
	return uint32(id), nil
}

// ResolveGroups resolves a supplementary-groups list.
func ResolveGroups(refs []config.IdentityRef) ([]uint32, []config.VerifyError) {
	ids := make([]uint32, 0, len(refs))
	var errs []config.VerifyError
	for _, ref := range refs {
		id, err := ResolveGroup(&ref)
		if err != nil {
			errs = append(errs, *err)
			continue
		}
		ids = append(ids, id)
	}
	return ids, errs
}
