package config

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	log "github.com/hashicorp/go-hclog"
)

// Loader reads template files out of a policy directory (DIR_CONFIGS,
// §4.1, §6) and turns them into a Snapshot.
type Loader struct {
	Dir    string
	logger log.Logger
}

func NewLoader(dir string, logger log.Logger) *Loader {
	if logger == nil {
		logger = log.NewNullLogger()
	}
	return &Loader{Dir: dir, logger: logger.Named("config")}
}

// LoadAll reads every regular file directly under Dir as a template
// (§4.1). Per-file parse errors are logged and that file is skipped;
// other files continue loading. Fatally-failed verification drops a
// template from the snapshot; non-fatal verification findings are
// logged and the template is retained (§7).
func (l *Loader) LoadAll() *Snapshot {
	snap := &Snapshot{Templates: make(map[string]*Template)}

	entries, err := os.ReadDir(l.Dir)
	if err != nil {
		l.logger.Warn("could not read policy directory, no templates loaded", "dir", l.Dir, "error", err)
		return snap
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.Type().IsRegular() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	for _, name := range names {
		b := newTemplateBuilder()
		if err := l.parseFile(name, b, map[string]bool{}); err != nil {
			l.logger.Warn("skipping file due to parse error", "file", name, "error", err)
			continue
		}
		tmpl, fatal, nonFatal := b.build(name, nil, nil)
		if len(fatal) > 0 {
			for _, fe := range fatal {
				l.logger.Warn("skipping template due to fatal verify error", "file", name, "error", fe.Error())
			}
			continue
		}
		for _, ne := range nonFatal {
			l.logger.Warn("template retained despite non-fatal verify error", "file", name, "error", ne.Error())
		}
		l.logger.Info("added template", "name", name)
		snap.Templates[name] = tmpl
	}
	l.logger.Info("loaded templates", "count", len(snap.Templates))
	return snap
}

// ParseSingleFile parses one named file under Dir into a Template
// without going through LoadAll's multi-file scan, for the
// `--test-config` CLI flow (§6) that renders a single template file
// standalone.
func (l *Loader) ParseSingleFile(name string) (*Template, []VerifyError, error) {
	b := newTemplateBuilder()
	if err := l.parseFile(name, b, map[string]bool{}); err != nil {
		return nil, nil, err
	}
	tmpl, fatal, nonFatal := b.build(name, nil, nil)
	if len(fatal) > 0 {
		return nil, fatal, fmt.Errorf("template %q failed verification", name)
	}
	return tmpl, nonFatal, nil
}

// parseFile reads `name` from Dir and parses its lines into b, following
// "config" includes. visited guards against include cycles.
func (l *Loader) parseFile(name string, b *templateBuilder, visited map[string]bool) error {
	if visited[name] {
		return &ConfigParseError{Kind: ErrCircularInclude, File: name, Text: "circular 'config' include"}
	}
	visited[name] = true
	defer delete(visited, name)

	data, err := os.ReadFile(filepath.Join(l.Dir, name))
	if err != nil {
		return &ConfigParseError{Kind: ErrIO, File: name, Text: err.Error()}
	}
	lines := strings.Split(string(data), "\n")
	pos := 0
	return l.parseLines(name, lines, &pos, b, visited, false)
}

// parseLines processes lines[*pos:] into b. If terminator is true this
// call represents a nested cmd-prep/cmd-clean block and returns as soon
// as a bare "end" line is consumed; otherwise it runs to the end of
// lines (one whole file, top-level or included).
func (l *Loader) parseLines(file string, lines []string, pos *int, b *templateBuilder, visited map[string]bool, terminator bool) error {
	for *pos < len(lines) {
		lineNo := *pos + 1
		line := lines[*pos]
		*pos++

		trimmed := strings.TrimRight(line, "\r")
		if trimmed == "" || strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "//") {
			continue
		}

		if trimmed == "end" {
			if terminator {
				return nil
			}
			return &ConfigParseError{Kind: ErrUnexpectedEnd, File: file, Line: lineNo, Text: "'end' with no open block"}
		}

		verb, rest, hasRest := strings.Cut(trimmed, " ")

		switch verb {
		case "config":
			if !hasRest {
				return missingArg(file, lineNo, verb)
			}
			if err := l.parseFile(rest, b, visited); err != nil {
				return err
			}
		case "var":
			if err := parseVar(b, rest, hasRest); err != nil {
				return errAt(err, file, lineNo)
			}
		case "allow":
			if !hasRest {
				return missingArg(file, lineNo, verb)
			}
			b.allow, b.hasAllow = rest, true
		case "cmd-prep", "cmd-clean":
			nested := newTemplateBuilder()
			if err := l.parseLines(file, lines, pos, nested, visited, true); err != nil {
				return err
			}
			if verb == "cmd-prep" {
				b.prep = append(b.prep, nested)
			} else {
				b.clean = append(b.clean, nested)
			}
		case "command":
			if !hasRest {
				return missingArg(file, lineNo, verb)
			}
			b.command, b.hasCommand = rest, true
		case "args-clear":
			b.args = []string{}
		case "arg":
			if !hasRest {
				return missingArg(file, lineNo, verb)
			}
			b.args = append(b.args, rest)
		case "uid":
			id, err := parseID(rest, hasRest, file, lineNo, verb)
			if err != nil {
				return err
			}
			b.user = &IdentityRef{Kind: IdentityNumeric, ID: id}
		case "gid":
			id, err := parseID(rest, hasRest, file, lineNo, verb)
			if err != nil {
				return err
			}
			b.group = &IdentityRef{Kind: IdentityNumeric, ID: id}
		case "user":
			if !hasRest {
				return missingArg(file, lineNo, verb)
			}
			b.user = &IdentityRef{Kind: IdentityName, Name: rest}
		case "group":
			if !hasRest {
				return missingArg(file, lineNo, verb)
			}
			b.group = &IdentityRef{Kind: IdentityName, Name: rest}
		case "g-clear":
			b.groups = []IdentityRef{}
		case "g+gid":
			id, err := parseID(rest, hasRest, file, lineNo, verb)
			if err != nil {
				return err
			}
			b.groups = append(b.groups, IdentityRef{Kind: IdentityNumeric, ID: id})
		case "g+group":
			if !hasRest {
				return missingArg(file, lineNo, verb)
			}
			b.groups = append(b.groups, IdentityRef{Kind: IdentityName, Name: rest})
		case "env-clear":
			b.env = []EnvEntry{}
		case "env+set":
			name, value, ok := strings.Cut(rest, "=")
			if !hasRest || !ok {
				return &ConfigParseError{Kind: ErrMalformedEnvSet, File: file, Line: lineNo, Text: "env+set requires NAME=VALUE"}
			}
			b.env = append(b.env, EnvEntry{Name: name, Kind: EnvLiteral, Value: value})
		case "env+inherit":
			if !hasRest {
				return missingArg(file, lineNo, verb)
			}
			if name, def, ok := strings.Cut(rest, "="); ok {
				b.env = append(b.env, EnvEntry{Name: name, Kind: EnvInherit, Default: def, HasDefault: true})
			} else {
				b.env = append(b.env, EnvEntry{Name: rest, Kind: EnvInherit})
			}
		case "working-dir":
			if !hasRest {
				return missingArg(file, lineNo, verb)
			}
			b.workingDir, b.hasWorkingDir = rest, true
		default:
			return &ConfigParseError{Kind: ErrUnknownVerb, File: file, Line: lineNo, Text: "unknown verb '" + verb + "'"}
		}
	}
	if terminator {
		return &ConfigParseError{Kind: ErrUnexpectedEnd, File: file, Text: "cmd-prep/cmd-clean block missing 'end'"}
	}
	return nil
}

func missingArg(file string, line int, verb string) error {
	return &ConfigParseError{Kind: ErrMalformedVar, File: file, Line: line, Text: "'" + verb + "' requires an argument"}
}

func errAt(err error, file string, line int) error {
	if pe, ok := err.(*ConfigParseError); ok {
		pe.File = file
		pe.Line = line
		return pe
	}
	return &ConfigParseError{Kind: ErrMalformedVar, File: file, Line: line, Text: err.Error()}
}

func parseID(rest string, hasRest bool, file string, line int, verb string) (uint32, error) {
	if !hasRest {
		return 0, missingArg(file, line, verb)
	}
	v, err := strconv.ParseUint(rest, 10, 32)
	if err != nil {
		return 0, &ConfigParseError{Kind: ErrBadInteger, File: file, Line: line, Text: "could not parse integer: " + rest}
	}
	return uint32(v), nil
}

// parseVar handles "var NAME MODE [REST]" (§4.1).
func parseVar(b *templateBuilder, rest string, hasRest bool) error {
	if !hasRest {
		return &ConfigParseError{Kind: ErrMalformedVar, Text: "bare 'var' statement"}
	}
	name, body, ok := strings.Cut(rest, " ")
	if !ok {
		return &ConfigParseError{Kind: ErrMalformedVar, Text: "'var' statement with only one field"}
	}
	src, err := parseVarSourceBody(body)
	if err != nil {
		return err
	}
	b.vars[name] = src
	return nil
}

// parseVarSourceBody parses "MODE [REST]" into a VarSource. It is used
// both for the top-level "var NAME MODE REST" statement and, recursively,
// for the fallback source of "from-input-or-else" (§3 VarSource,
// InputOrDefault's fallback is itself a VarSource).
func parseVarSourceBody(body string) (VarSource, error) {
	mode, value, hasValue := strings.Cut(body, " ")
	switch mode {
	case "set":
		if !hasValue {
			return VarSource{}, &ConfigParseError{Kind: ErrMalformedVar, Text: "'set' requires a value"}
		}
		return VarSource{Kind: VarLiteral, Literal: value}, nil
	case "from-cmd":
		if !hasValue {
			return VarSource{}, &ConfigParseError{Kind: ErrMalformedVar, Text: "'from-cmd' requires a command"}
		}
		fields := strings.Fields(value)
		if len(fields) == 0 {
			return VarSource{}, &ConfigParseError{Kind: ErrMalformedVar, Text: "'from-cmd' requires a command"}
		}
		return VarSource{Kind: VarCommandOutput, Command: fields[0], Args: fields[1:]}, nil
	case "from-cmd-sh":
		if !hasValue {
			return VarSource{}, &ConfigParseError{Kind: ErrMalformedVar, Text: "'from-cmd-sh' requires a shell command"}
		}
		return VarSource{Kind: VarCommandOutput, Command: "sh", Args: []string{"-c", value}}, nil
	case "from-input":
		if !hasValue {
			return VarSource{}, &ConfigParseError{Kind: ErrMalformedVar, Text: "'from-input' requires an input name"}
		}
		return VarSource{Kind: VarInput, InputName: value}, nil
	case "from-input-or":
		input, def, ok := strings.Cut(value, " ")
		if !hasValue || !ok {
			return VarSource{}, &ConfigParseError{Kind: ErrMalformedVar, Text: "'from-input-or' requires an input name and a literal default"}
		}
		return VarSource{Kind: VarInputOrDefault, InputName: input, Default: &VarSource{Kind: VarLiteral, Literal: def}}, nil
	case "from-input-or-else":
		input, fallbackBody, ok := strings.Cut(value, " ")
		if !hasValue || !ok {
			return VarSource{}, &ConfigParseError{Kind: ErrMalformedVar, Text: "'from-input-or-else' requires an input name and a fallback source"}
		}
		fallback, err := parseVarSourceBody(fallbackBody)
		if err != nil {
			return VarSource{}, err
		}
		return VarSource{Kind: VarInputOrDefault, InputName: input, Default: &fallback}, nil
	case "con-id":
		return VarSource{Kind: VarConnectionID}, nil
	default:
		return VarSource{}, &ConfigParseError{Kind: ErrMalformedVar, Text: "unknown var mode '" + mode + "'"}
	}
}
