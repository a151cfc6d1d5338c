package codegen

import (
	"fmt"

	"github.com/nikandfor/tlog"

	"kaleido/internal/ast"
)

// ---------------------------------------------------------------------------
// Options controls the behaviour of the lowering core.
// ---------------------------------------------------------------------------

// Options configures a Lowerer.
type Options struct {
	// Optimizer, if set, receives every successfully lowered and verified
	// function.
	Optimizer Optimizer
}

// DefaultOptions returns the defaults: no optimizer.
func DefaultOptions() *Options {
	return &Options{}
}

// ---------------------------------------------------------------------------
// Lowerer: translates AST items into IR through a Builder
// ---------------------------------------------------------------------------

// Lowerer holds the state of one compilation session: the builder, the
// function table that lives as long as the session, and the scope table
// that lives for one function lowering at a time.
//
// A Lowerer is not safe for concurrent use.
type Lowerer struct {
	b     Builder
	opt   Optimizer
	scope *Scope
	funcs *FuncTable

	fn Func // function being lowered, nil between definitions

	// Label counter for unique block names within the current function.
	nextLabel int
}

// NewLowerer starts a compilation session emitting through b.
func NewLowerer(b Builder, opts *Options) *Lowerer {
	if opts == nil {
		opts = DefaultOptions()
	}
	return &Lowerer{
		b:     b,
		opt:   opts.Optimizer,
		scope: NewScope(),
		funcs: NewFuncTable(),
	}
}

// Scope exposes the scope table (for inspection between lowerings).
func (l *Lowerer) Scope() *Scope { return l.scope }

// Funcs exposes the session's function table.
func (l *Lowerer) Funcs() *FuncTable { return l.funcs }

// Builder returns the builder the session emits through.
func (l *Lowerer) Builder() Builder { return l.b }

// Reset clears per-function state. The function table is kept.
func (l *Lowerer) Reset() {
	l.scope.Clear()
	l.fn = nil
	l.nextLabel = 0
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// newBlock creates a detached block with a function-unique name.
func (l *Lowerer) newBlock(prefix string) Block {
	name := fmt.Sprintf("%s%d", prefix, l.nextLabel)
	l.nextLabel++
	return l.b.NewBlock(name)
}

// enterBlock attaches b to the current function and moves the insertion
// point there.
func (l *Lowerer) enterBlock(b Block) {
	l.b.AppendBlock(l.fn, b)
	l.b.SetInsertPoint(b)
}

func (l *Lowerer) requireFunc(what string, pos ast.Position) error {
	if l.fn != nil {
		return nil
	}
	e := newError(PropagatedFailure, "", pos)
	e.Msg = what + " outside of a function body"
	return e
}

// ---------------------------------------------------------------------------
// Expression lowering: returns the Value holding the result
// ---------------------------------------------------------------------------

// LowerExpr emits the instructions computing e at the current insertion
// point. Children are lowered left to right and the first failure is
// returned as is; instructions already emitted are not rolled back.
func (l *Lowerer) LowerExpr(e ast.Expr) (Value, error) {
	switch e := e.(type) {
	case *ast.NumberExpr:
		return l.b.Const(e.Value), nil
	case *ast.VariableExpr:
		return l.lowerVariable(e)
	case *ast.BinaryExpr:
		return l.lowerBinary(e)
	case *ast.SeqExpr:
		return l.lowerSeq(e)
	case *ast.CallExpr:
		return l.lowerCall(e)
	case *ast.IfExpr:
		return l.lowerIf(e)
	case *ast.ForExpr:
		return l.lowerFor(e)
	case *ast.AssignExpr:
		return l.lowerAssign(e)
	case *ast.VarExpr:
		return l.lowerVar(e)
	case nil:
		err := newError(PropagatedFailure, "", ast.Position{})
		err.Msg = "missing expression"
		return nil, err
	}
	err := newError(PropagatedFailure, "", e.GetPos())
	err.Msg = fmt.Sprintf("unsupported expression %T", e)
	return nil, err
}

func (l *Lowerer) lowerVariable(e *ast.VariableExpr) (Value, error) {
	slot, ok := l.scope.Lookup(e.Name)
	if !ok {
		return nil, newError(UnknownVariable, e.Name, e.Pos)
	}
	return l.b.Load(slot, e.Name), nil
}

func (l *Lowerer) lowerBinary(e *ast.BinaryExpr) (Value, error) {
	left, err := l.LowerExpr(e.Left)
	if err != nil {
		return nil, err
	}
	right, err := l.LowerExpr(e.Right)
	if err != nil {
		return nil, err
	}

	switch e.Op {
	case ast.OpAdd:
		return l.b.Add(left, right), nil
	case ast.OpSub:
		return l.b.Sub(left, right), nil
	case ast.OpMul:
		return l.b.Mul(left, right), nil
	case ast.OpDiv:
		return l.b.Div(left, right), nil
	case ast.OpLess:
		// Truth values are widened at once: the language has one type.
		return l.b.Widen(l.b.CmpLT(left, right)), nil
	case ast.OpGreater:
		return l.b.Widen(l.b.CmpGT(left, right)), nil
	}
	bad := newError(PropagatedFailure, "", e.Pos)
	bad.Msg = fmt.Sprintf("unsupported binary operator %s", e.Op)
	return nil, bad
}

func (l *Lowerer) lowerSeq(e *ast.SeqExpr) (Value, error) {
	if _, err := l.LowerExpr(e.Left); err != nil {
		return nil, err
	}
	return l.LowerExpr(e.Right)
}

func (l *Lowerer) lowerCall(e *ast.CallExpr) (Value, error) {
	callee, ok := l.funcs.Lookup(e.Callee)
	if !ok {
		return nil, newError(UndefinedFunction, e.Callee, e.Pos)
	}
	if want := len(callee.Proto.Params); len(e.Args) != want {
		err := newError(ArityMismatch, e.Callee, e.Pos)
		err.Want, err.Got = want, len(e.Args)
		return nil, err
	}

	args := make([]Value, 0, len(e.Args))
	for _, a := range e.Args {
		v, err := l.LowerExpr(a)
		if err != nil {
			return nil, err
		}
		args = append(args, v)
	}

	tlog.V("lower").Printw("call", "callee", e.Callee, "args", len(args))
	return l.b.Call(callee.Func, args), nil
}
