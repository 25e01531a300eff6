package expr

import (
	"errors"
	"fmt"
)

// Sentinels matched by errors.Is against *EvalError.
var (
	ErrTypeMismatch    = errors.New("type mismatch")
	ErrUnexpectedCall  = errors.New("unexpected function call")
	ErrInvalidColor    = errors.New("invalid color")
	ErrInvalidRegex    = errors.New("invalid regular expression")
	ErrUnknownFunction = errors.New("unknown function")
)

// SyntaxError reports an expression that could not be parsed.
type SyntaxError struct {
	Source string
	Pos    int
	Msg    string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("syntax error at %d in %q: %s", e.Pos, e.Source, e.Msg)
}

// EvalError is a fatal evaluation failure. The appearance pipeline catches
// it per field; direct callers receive it from Evaluate.
type EvalError struct {
	Kind error // one of the Err* sentinels
	Op   string
	Msg  string
}

func (e *EvalError) Error() string {
	if e.Op != "" {
		return fmt.Sprintf("%v: %s: %s", e.Kind, e.Op, e.Msg)
	}
	return fmt.Sprintf("%v: %s", e.Kind, e.Msg)
}

// Is matches the error's kind.
func (e *EvalError) Is(target error) bool { return e.Kind == target }

func typeMismatch(op, format string, args ...any) error {
	return &EvalError{Kind: ErrTypeMismatch, Op: op, Msg: fmt.Sprintf(format, args...)}
}

// Diagnostic records a degraded evaluation: the operator returned its safe
// default instead of failing.
type Diagnostic struct {
	Op      string `json:"op"`
	Message string `json:"message"`
	Left    Value  `json:"left,omitempty"`
	Right   Value  `json:"right,omitempty"`
}
