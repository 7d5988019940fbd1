// Package config implements the run-template model, the line-oriented
// parser that builds it from the policy directory, and load-time
// verification.
package config

// VarSourceKind tags the one concrete variant a VarSource holds.
type VarSourceKind int

const (
	VarLiteral VarSourceKind = iota
	VarCommandOutput
	VarInput
	VarInputOrDefault
	VarConnectionID
)

// VarSource is a tagged value describing how to produce the concrete
// string for one vars entry. Exactly one set of fields is meaningful,
// selected by Kind.
type VarSource struct {
	Kind VarSourceKind

	Literal string // VarLiteral

	Command string   // VarCommandOutput: program
	Args    []string // VarCommandOutput: argv

	InputName string     // VarInput, VarInputOrDefault
	Default   *VarSource // VarInputOrDefault: fallback, evaluated only on miss
}

// IdentityKind tags whether an IdentityRef is a raw numeric id or a name
// to be resolved against the host user/group database.
type IdentityKind int

const (
	IdentityNumeric IdentityKind = iota
	IdentityName
)

// IdentityRef is a user/group or supplementary-group entry as written in
// a template, before name resolution (C4).
type IdentityRef struct {
	Kind IdentityKind
	ID   uint32
	Name string
}

// EnvKind tags an env entry's source.
type EnvKind int

const (
	EnvLiteral EnvKind = iota
	EnvInherit
)

// EnvEntry is one (name, source) pair from a template's env list.
type EnvEntry struct {
	Name string
	Kind EnvKind

	Value string // EnvLiteral

	Default    string // EnvInherit: fallback when not present in daemon env
	HasDefault bool
}

// Template is the in-memory shape of a run-template (RunTemplate, §3).
// Pointer-typed optional fields are nil when unset; Vars, Args, Groups
// and Env are nil/empty when never populated (args-clear/g-clear/env-clear
// reset them to an explicit empty slice, which is distinct from "never
// mentioned" only in that both read as a zero-length slice at this
// layer — the distinction only matters for args-clear/g-clear/env-clear
// acting as a reset rather than a no-op, which the parser enforces by
// reassigning a fresh empty slice).
type Template struct {
	Name string

	Vars map[string]VarSource

	Allow    string
	HasAllow bool

	Prep  []*Template
	Clean []*Template

	Command    string
	HasCommand bool

	Args []string

	User  *IdentityRef
	Group *IdentityRef

	Groups []IdentityRef

	Env []EnvEntry

	WorkingDir    string
	HasWorkingDir bool
}

// Snapshot is the set of templates loaded from the policy directory at
// one point in time. It is immutable once built and shared by reference
// across connection workers; reloads build a new Snapshot and swap the
// pointer atomically (§5).
type Snapshot struct {
	Templates map[string]*Template
}

func (s *Snapshot) Get(name string) (*Template, bool) {
	if s == nil {
		return nil, false
	}
	t, ok := s.Templates[name]
	return t, ok
}
