package wire

import "strings"

// RunMode is the parsed value of the run line's mode=VAL option.
type RunMode int

const (
	ModeWait RunMode = iota
	ModeDetach
	ModeForwardOutput
	ModeForwardOutputInput
)

// RunLineErrorKind distinguishes the three malformed-option responses
// named in §4.6.
type RunLineErrorKind int

const (
	ErrInvalidArg RunLineErrorKind = iota
	ErrArgNoValue
	ErrArgValueInvalid
)

// RunLineError carries enough detail to format one of:
//
//	run error_invalid_arg ARG
//	run error_arg_no_value ARG
//	run error_arg_value_invalid ARG VAL
type RunLineError struct {
	Kind RunLineErrorKind
	Arg  string
	Val  string
}

func (e *RunLineError) Error() string {
	switch e.Kind {
	case ErrArgNoValue:
		return "run error_arg_no_value " + e.Arg
	case ErrArgValueInvalid:
		return "run error_arg_value_invalid " + e.Arg + " " + e.Val
	default:
		return "run error_invalid_arg " + e.Arg
	}
}

// ParseRunLine splits the remainder of a `run [OPTS ]NAME` command
// (everything after the leading "run ") into its resolved mode and the
// template name. OPTS, when present, is separated from NAME by a
// space and is itself comma-separated KEY or KEY=VAL items (§6).
func ParseRunLine(rest string) (RunMode, string, *RunLineError) {
	opts, name := splitOptsAndName(rest)

	mode := ModeWait
	if opts == "" {
		return mode, name, nil
	}

	for _, item := range strings.Split(opts, ",") {
		key, val, hasVal := strings.Cut(item, "=")
		switch key {
		case "mode":
			if !hasVal || val == "" {
				return 0, "", &RunLineError{Kind: ErrArgNoValue, Arg: key}
			}
			switch val {
			case "detach":
				mode = ModeDetach
			case "wait":
				mode = ModeWait
			case "forward-output":
				mode = ModeForwardOutput
			case "forward-output-input":
				mode = ModeForwardOutputInput
			default:
				return 0, "", &RunLineError{Kind: ErrArgValueInvalid, Arg: key, Val: val}
			}
		default:
			return 0, "", &RunLineError{Kind: ErrInvalidArg, Arg: key}
		}
	}
	return mode, name, nil
}

// splitOptsAndName separates a leading "OPTS NAME" (space-delimited)
// from a bare "NAME". OPTS only exists when a space precedes NAME;
// a rest string with no space is treated as a bare template name.
func splitOptsAndName(rest string) (opts, name string) {
	rest = strings.TrimSpace(rest)
	if i := strings.IndexByte(rest, ' '); i >= 0 {
		return rest[:i], strings.TrimSpace(rest[i+1:])
	}
	return "", rest
}
