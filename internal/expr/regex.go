package expr

import (
	"fmt"
	"regexp"
	"strings"
)

// Regex is the value produced by regExp(pattern, flags). Only the i, m and s
// flags change matching; g is accepted and ignored.
type Regex struct {
	Pattern string
	Flags   string
	re      *regexp.Regexp
}

func compileRegex(pattern, flags string) (*Regex, error) {
	var prefix strings.Builder
	for _, f := range flags {
		switch f {
		case 'i', 'm', 's':
			prefix.WriteString("(?" + string(f) + ")")
		case 'g', 'u', 'y':
		default:
			return nil, &EvalError{Kind: ErrInvalidRegex, Op: "regExp", Msg: fmt.Sprintf("unknown flag %q", f)}
		}
	}
	re, err := regexp.Compile(prefix.String() + pattern)
	if err != nil {
		return nil, &EvalError{Kind: ErrInvalidRegex, Op: "regExp", Msg: err.Error()}
	}
	return &Regex{Pattern: pattern, Flags: flags, re: re}, nil
}

// String renders the regex in /pattern/flags form.
func (r *Regex) String() string { return "/" + r.Pattern + "/" + r.Flags }

// Test reports whether s contains a match.
func (r *Regex) Test(s string) bool { return r.re.MatchString(s) }

// Exec returns the first capture group of the first match, or nil when
// there is no match or no group.
func (r *Regex) Exec(s string) Value {
	m := r.re.FindStringSubmatch(s)
	if len(m) < 2 {
		return nil
	}
	return m[1]
}
