package config

// templateBuilder accumulates verbs from one or more parsed files into a
// not-yet-verified template. Every optional field distinguishes "never
// set" from "set to the zero value" so verify (§4.1) can tell a missing
// command from one whose value happens to be a deliberately empty call.
type templateBuilder struct {
	vars map[string]VarSource

	allow    string
	hasAllow bool

	prep  []*templateBuilder
	clean []*templateBuilder

	command    string
	hasCommand bool

	args []string

	user  *IdentityRef
	group *IdentityRef

	groups []IdentityRef

	env []EnvEntry

	workingDir    string
	hasWorkingDir bool
}

func newTemplateBuilder() *templateBuilder {
	return &templateBuilder{vars: make(map[string]VarSource)}
}

// build converts a builder tree into Templates, applying verify (§4.1,
// §7) at every level. parentUser/parentGroup are the identity defaults
// a nested prep/clean fragment inherits from its parent at verify time
// (§3 invariants, §9 nested-inheritance note). fatal accumulates
// load-fatal errors (template dropped); nonFatal is the retained-warning
// list the loader logs. build itself records no non-fatal condition:
// user/group names and var sources are not resolved here, so an unknown
// name, a missing input or a failing var command is not reported at
// load time and surfaces only when runner.Resolve runs at run time.
func (b *templateBuilder) build(name string, parentUser, parentGroup *IdentityRef) (*Template, []VerifyError, []VerifyError) {
	var fatal, nonFatal []VerifyError

	t := &Template{
		Name:          name,
		Vars:          b.vars,
		Allow:         b.allow,
		HasAllow:      b.hasAllow,
		Command:       b.command,
		HasCommand:    b.hasCommand,
		Args:          b.args,
		Groups:        b.groups,
		Env:           b.env,
		WorkingDir:    b.workingDir,
		HasWorkingDir: b.hasWorkingDir,
	}

	t.User = b.user
	if t.User == nil {
		t.User = parentUser
	}
	t.Group = b.group
	if t.Group == nil {
		t.Group = parentGroup
	}

	if !b.hasCommand {
		fatal = append(fatal, VerifyError{Kind: ErrMissingCommand})
	}
	if t.User == nil {
		fatal = append(fatal, VerifyError{Kind: ErrMissingUser})
	}
	if t.Group == nil {
		fatal = append(fatal, VerifyError{Kind: ErrMissingGroup})
	}

	for varName := range b.vars {
		if containsSpace(varName) {
			fatal = append(fatal, VerifyError{Kind: ErrVarNameHasSpace, Detail: varName})
		}
	}

	for i, pb := range b.prep {
		child, cf, cnf := pb.build(name+"/prep", t.User, t.Group)
		fatal = append(fatal, wrapNested(cf, "prep", i)...)
		nonFatal = append(nonFatal, wrapNested(cnf, "prep", i)...)
		if len(cf) == 0 {
			t.Prep = append(t.Prep, child)
		}
	}
	for i, cb := range b.clean {
		child, cf, cnf := cb.build(name+"/clean", t.User, t.Group)
		fatal = append(fatal, wrapNested(cf, "clean", i)...)
		nonFatal = append(nonFatal, wrapNested(cnf, "clean", i)...)
		if len(cf) == 0 {
			t.Clean = append(t.Clean, child)
		}
	}

	return t, fatal, nonFatal
}

func wrapNested(errs []VerifyError, section string, index int) []VerifyError {
	out := make([]VerifyError, len(errs))
	for i, e := range errs {
		out[i] = VerifyError{Kind: e.Kind, Detail: e.Detail, Section: section, Index: index, Nested: &errs[i]}
	}
	return out
}

func containsSpace(s string) bool {
	for _, r := range s {
		if r == ' ' || r == '\t' || r == '\n' || r == '\r' {
			return true
		}
	}
	return false
}
