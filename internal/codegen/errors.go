package codegen

import (
	"fmt"

	"github.com/nikandfor/errors"
	"github.com/nikandfor/loc"

	"kaleido/internal/ast"
)

// ErrorKind classifies lowering failures.
type ErrorKind int

const (
	// PropagatedFailure is a failure the lowering core did not diagnose
	// itself: a verifier, optimizer or backend error, or a malformed tree.
	PropagatedFailure ErrorKind = iota
	UnknownVariable
	UndefinedFunction
	ArityMismatch
	Redefinition
)

func (k ErrorKind) String() string {
	switch k {
	case UnknownVariable:
		return "unknown variable"
	case UndefinedFunction:
		return "undefined function"
	case ArityMismatch:
		return "arity mismatch"
	case Redefinition:
		return "redefinition"
	default:
		return "propagated failure"
	}
}

// Sentinels for errors.Is.
var (
	ErrUnknownVariable   = errors.New("unknown variable")
	ErrUndefinedFunction = errors.New("undefined function")
	ErrArityMismatch     = errors.New("arity mismatch")
	ErrRedefinition      = errors.New("redefinition")
)

// Error is a diagnosed lowering failure.
type Error struct {
	Kind ErrorKind
	Name string       // offending variable or function name
	Want int          // ArityMismatch: declared parameter count
	Got  int          // ArityMismatch: supplied argument/parameter count
	Msg  string       // overrides the default message when set
	Pos  ast.Position // where the offending node starts
	From loc.PC       // where in the lowering code the error was raised
}

func (e *Error) Error() string {
	if e.Msg != "" {
		return e.Msg
	}
	switch e.Kind {
	case UnknownVariable:
		return fmt.Sprintf("unknown variable %q", e.Name)
	case UndefinedFunction:
		return fmt.Sprintf("call to undefined function %q", e.Name)
	case ArityMismatch:
		return fmt.Sprintf("function %q called with %d arguments, expects %d", e.Name, e.Got, e.Want)
	case Redefinition:
		return fmt.Sprintf("function %q cannot be redefined", e.Name)
	}
	return "lowering failed"
}

// Is matches the kind sentinels.
func (e *Error) Is(target error) bool {
	switch target {
	case ErrUnknownVariable:
		return e.Kind == UnknownVariable
	case ErrUndefinedFunction:
		return e.Kind == UndefinedFunction
	case ErrArityMismatch:
		return e.Kind == ArityMismatch
	case ErrRedefinition:
		return e.Kind == Redefinition
	}
	return false
}

func newError(kind ErrorKind, name string, pos ast.Position) *Error {
	return &Error{Kind: kind, Name: name, Pos: pos, From: loc.Caller(1)}
}

// KindOf returns the kind of the first *Error in err's chain, or
// PropagatedFailure if there is none.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return PropagatedFailure
}

// PosOf returns the source position of the first *Error in err's chain.
func PosOf(err error) (ast.Position, bool) {
	var e *Error
	if errors.As(err, &e) && e.Pos.IsValid() {
		return e.Pos, true
	}
	return ast.Position{}, false
}
