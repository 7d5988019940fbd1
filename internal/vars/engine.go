// Package vars implements the variable resolution and substitution
// engine (C3, §4.2): evaluating a template's vars into concrete
// (name, value) pairs, and substituting those pairs into strings.
package vars

import (
	"os/exec"
	"sort"
	"strconv"
	"strings"

	"github.com/dummi26/d26run/internal/config"
)

// Pair is one resolved (name, value) entry.
type Pair struct {
	Name  string
	Value string
}

// ConnInfo carries the per-connection context a VarConnectionID source
// reads from.
type ConnInfo struct {
	ConnID uint64
}

// Evaluate computes concrete values for every entry in tmplVars. inputs
// is the client-supplied per-connection vars map (§3 Input). inherited
// is the parent template's already-resolved pairs, used when evaluating
// a nested prep/clean fragment (§9: pass explicitly, no ambient context).
// The returned pairs are the union of inherited and this template's own,
// sorted by name (§4.2) — this template's own entries take precedence
// over an inherited entry of the same name.
//
// Errors are returned alongside a partial result; callers decide
// disposition. Evaluate is reached only through runner.Resolve, whose
// callers treat any error as fatal (§7); nothing evaluates vars at load
// time.
func Evaluate(tmplVars map[string]config.VarSource, inputs map[string]string, inherited []Pair, conn ConnInfo) ([]Pair, []config.VerifyError) {
	merged := make(map[string]string, len(inherited)+len(tmplVars))
	for _, p := range inherited {
		merged[p.Name] = p.Value
	}

	var errs []config.VerifyError
	names := make([]string, 0, len(tmplVars))
	for name := range tmplVars {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		val, err := evalOne(tmplVars[name], inputs, conn)
		if err != nil {
			errs = append(errs, *err)
			continue
		}
		merged[name] = val
	}

	pairs := make([]Pair, 0, len(merged))
	for name, val := range merged {
		pairs = append(pairs, Pair{Name: name, Value: val})
	}
	sort.Slice(pairs, func(i, j int) bool { return pairs[i].Name < pairs[j].Name })
	return pairs, errs
}

func evalOne(src config.VarSource, inputs map[string]string, conn ConnInfo) (string, *config.VerifyError) {
	switch src.Kind {
	case config.VarLiteral:
		return src.Literal, nil
	case config.VarCommandOutput:
		out, err := exec.Command(src.Command, src.Args...).Output()
		if err != nil {
			return "", &config.VerifyError{Kind: config.ErrCommandFailed, Detail: err.Error()}
		}
		return lossyUTF8(out), nil
	case config.VarInput:
		v, ok := inputs[src.InputName]
		if !ok {
			return "", &config.VerifyError{Kind: config.ErrMissingInput, Detail: src.InputName}
		}
		return v, nil
	case config.VarInputOrDefault:
		if v, ok := inputs[src.InputName]; ok {
			return v, nil
		}
		if src.Default == nil {
			return "", &config.VerifyError{Kind: config.ErrMissingInput, Detail: src.InputName}
		}
		return evalOne(*src.Default, inputs, conn)
	case config.VarConnectionID:
		return strconv.FormatUint(conn.ConnID, 10), nil
	default:
		return "", &config.VerifyError{Kind: config.ErrCommandFailed, Detail: "unknown var source kind"}
	}
}

// lossyUTF8 decodes b as UTF-8, replacing invalid sequences with U+FFFD,
// mirroring Rust's String::from_utf8_lossy (§4.2).
func lossyUTF8(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}
