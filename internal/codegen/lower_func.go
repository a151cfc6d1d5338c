package codegen

import (
	"fmt"

	"github.com/nikandfor/errors"
	"github.com/nikandfor/tlog"

	"kaleido/internal/ast"
)

// ---------------------------------------------------------------------------
// Prototype and function lowering
// ---------------------------------------------------------------------------

// LowerPrototype declares p unless a function of that name is already known.
// Declaring a known name again is allowed as long as the parameter count
// matches; otherwise it fails with ArityMismatch. A prototype naming the
// same parameter twice fails with Redefinition.
func (l *Lowerer) LowerPrototype(p *ast.Prototype) (Func, error) {
	entry, _, err := l.declare(p)
	if err != nil {
		return nil, err
	}
	return entry.Func, nil
}

// declare resolves or creates the table entry for p and reports whether
// this call created it.
func (l *Lowerer) declare(p *ast.Prototype) (*FuncEntry, bool, error) {
	if err := checkParams(p); err != nil {
		return nil, false, err
	}
	if entry, ok := l.funcs.Lookup(p.Name); ok {
		if want := len(entry.Proto.Params); want != len(p.Params) {
			err := newError(ArityMismatch, p.Name, p.Pos)
			err.Want, err.Got = want, len(p.Params)
			err.Msg = fmt.Sprintf("function %q redeclared with %d parameters, previously %d", p.Name, len(p.Params), want)
			return nil, false, err
		}
		return entry, false, nil
	}

	fn := l.b.DeclareFunc(p.Name, p.Params)
	return l.funcs.Declare(p, fn), true, nil
}

// checkParams rejects a prototype naming the same parameter twice.
func checkParams(p *ast.Prototype) error {
	seen := make(map[string]bool, len(p.Params))
	for _, name := range p.Params {
		if seen[name] {
			err := newError(Redefinition, name, p.Pos)
			err.Msg = fmt.Sprintf("parameter %q of %q declared twice", name, p.Name)
			return err
		}
		seen[name] = true
	}
	return nil
}

// LowerFunction lowers a complete definition: declare-if-absent, reject
// redefinitions, bind parameters to slots, lower the body, return its value,
// verify and optimize.
//
// On failure the function is removed again if this call declared it; a
// forward declaration that existed before is kept, with its body cleared.
func (l *Lowerer) LowerFunction(def *ast.Function) (Func, error) {
	name := def.Proto.Name
	tr := tlog.V("lower")
	tr.Printw("function", "name", name, "params", len(def.Proto.Params))

	entry, created, err := l.declare(def.Proto)
	if err != nil {
		return nil, errors.Wrap(err, "def %s", name)
	}
	if fn, ok := l.b.LookupFunc(name); !ok || fn != entry.Func {
		if created {
			l.b.RemoveFunc(entry.Func)
			l.funcs.Remove(name)
		}
		return nil, errors.Wrap(propagated(errors.New("builder does not hold %q", name), "lookup"), "def %s", name)
	}
	if entry.Defined || l.b.HasBody(entry.Func) {
		return nil, errors.Wrap(newError(Redefinition, name, def.Proto.Pos), "def %s", name)
	}

	fn := entry.Func
	if err := l.lowerBody(fn, def); err != nil {
		if created {
			l.b.RemoveFunc(fn)
			l.funcs.Remove(name)
		} else {
			l.b.ClearBody(fn)
			l.b.SetParamNames(fn, entry.Proto.Params)
		}
		tr.Printw("function failed", "name", name, "kept_declaration", !created, "err", err)
		return nil, errors.Wrap(err, "def %s", name)
	}

	entry.Proto = def.Proto
	entry.Defined = true
	return fn, nil
}

func (l *Lowerer) lowerBody(fn Func, def *ast.Function) error {
	l.Reset()
	l.fn = fn
	defer l.Reset()

	l.b.SetParamNames(fn, def.Proto.Params)
	l.enterBlock(l.b.NewBlock("entry"))

	for i, param := range def.Proto.Params {
		slot := l.b.NewSlot(fn, param)
		l.b.Store(l.b.Param(fn, i), slot)
		l.scope.Bind(param, slot)
	}

	ret, err := l.LowerExpr(def.Body)
	if err != nil {
		return err
	}
	l.b.Ret(ret)

	if err := l.b.Verify(fn); err != nil {
		return propagated(err, "verify")
	}
	if l.opt != nil {
		if err := l.opt.Optimize(fn); err != nil {
			return propagated(err, "optimize")
		}
	}
	return nil
}

func propagated(err error, stage string) error {
	e := newError(PropagatedFailure, "", ast.Position{})
	e.Msg = stage + ": " + err.Error()
	return e
}
