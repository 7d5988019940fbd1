// Package runner turns a resolved RunCmd into an actual child process:
// privilege drop, pipes, wait, and clean-hook execution (C5, §4.4).
package runner

import (
	"github.com/dummi26/d26run/internal/config"
	"github.com/dummi26/d26run/internal/identity"
	"github.com/dummi26/d26run/internal/vars"
)

// EnvEntryKind tags a resolved RunCmd env entry's source.
type EnvEntryKind int

const (
	EnvMaterialized EnvEntryKind = iota
	EnvInheritWithDefault
)

// EnvEntry is a resolved (name, source) env pair, variable-expanded.
type EnvEntry struct {
	Name string
	Kind EnvEntryKind

	Value string // EnvMaterialized

	Default    string // EnvInheritWithDefault
	HasDefault bool
}

// RunCmd is a concrete invocation, produced from a Template plus client
// inputs and connection context (§3). Every string field has already
// been variable-expanded.
type RunCmd struct {
	Command string
	Args    []string

	User   uint32
	Group  uint32
	Groups []uint32

	Env []EnvEntry

	WorkingDir    string
	HasWorkingDir bool

	// Prep runs, in order, before Command is spawned (§3 Template.prep).
	// Not explicitly named in the upstream RunCmd field list but
	// required to give prep templates any effect; see DESIGN.md.
	Prep []*RunCmd
	// Clean runs, in order, after Command exits (§3, §4.4).
	Clean []*RunCmd
}

// Resolve builds a RunCmd from a Template, client-supplied inputs, and
// connection context. inherited is the parent's already-resolved pairs
// (empty for a top-level run); it is threaded through to prep/clean so
// they see their parent's variable context (§9).
//
// All resolution errors are collected and returned together: the caller
// decides whether that makes the template unusable (run time, always
// fatal) — see §7 RuntimeResolutionError.
func Resolve(tmpl *config.Template, inputs map[string]string, inherited []vars.Pair, conn vars.ConnInfo) (*RunCmd, []config.VerifyError) {
	pairs, errs := vars.Evaluate(tmpl.Vars, inputs, inherited, conn)

	f := func(s string) string { return vars.Substitute(s, pairs) }

	rc := &RunCmd{
		Command:       f(tmpl.Command),
		WorkingDir:    f(tmpl.WorkingDir),
		HasWorkingDir: tmpl.HasWorkingDir,
	}
	rc.Args = make([]string, len(tmpl.Args))
	for i, a := range tmpl.Args {
		rc.Args[i] = f(a)
	}

	rc.Env = make([]EnvEntry, 0, len(tmpl.Env))
	for _, e := range tmpl.Env {
		switch e.Kind {
		case config.EnvLiteral:
			rc.Env = append(rc.Env, EnvEntry{Name: e.Name, Kind: EnvMaterialized, Value: f(e.Value)})
		case config.EnvInherit:
			ee := EnvEntry{Name: e.Name, Kind: EnvInheritWithDefault}
			if e.HasDefault {
				ee.Default, ee.HasDefault = f(e.Default), true
			}
			rc.Env = append(rc.Env, ee)
		}
	}

	userRef := substIdentity(tmpl.User, f)
	groupRef := substIdentity(tmpl.Group, f)

	uid, uerr := identity.ResolveUser(userRef)
	if uerr != nil {
		errs = append(errs, *uerr)
	}
	gid, gerr := identity.ResolveGroup(groupRef)
	if gerr != nil {
		errs = append(errs, *gerr)
	}
	rc.User, rc.Group = uid, gid

	groupRefs := make([]config.IdentityRef, len(tmpl.Groups))
	for i, g := range tmpl.Groups {
		groupRefs[i] = *substIdentity(&g, f)
	}
	groups, gerrs := identity.ResolveGroups(groupRefs)
	rc.Groups = groups
	errs = append(errs, gerrs...)

	for _, p := range tmpl.Prep {
		child, cerrs := Resolve(p, inputs, pairs, conn)
		rc.Prep = append(rc.Prep, child)
		errs = append(errs, cerrs...)
	}
	for _, c := range tmpl.Clean {
		child, cerrs := Resolve(c, inputs, pairs, conn)
		rc.Clean = append(rc.Clean, child)
		errs = append(errs, cerrs...)
	}

	return rc, errs
}

func substIdentity(ref *config.IdentityRef, f func(string) string) *config.IdentityRef {
	if ref == nil {
		return nil
	}
	if ref.Kind == config.IdentityNumeric {
		return ref
	}
	return &config.IdentityRef{Kind: config.IdentityName, Name: f(ref.Name)}
}
