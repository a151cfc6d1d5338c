package codegen

import (
	"github.com/nikandfor/tlog"

	"kaleido/internal/ast"
)

// ---------------------------------------------------------------------------
// Control flow and binding forms
// ---------------------------------------------------------------------------

// lowerIf builds
//
//	entry:  cond != 0 ? then : else
//	then:   ...; br ifcont
//	else:   ...; br ifcont
//	ifcont: phi [thenValue, thenEnd], [elseValue, elseEnd]
//
// thenEnd/elseEnd are the blocks current when each arm finished, which
// differ from then/else when an arm contains control flow of its own.
func (l *Lowerer) lowerIf(e *ast.IfExpr) (Value, error) {
	if err := l.requireFunc("if", e.Pos); err != nil {
		return nil, err
	}

	cond, err := l.LowerExpr(e.Cond)
	if err != nil {
		return nil, err
	}
	test := l.b.CmpNE(cond, l.b.Const(0))

	thenBB := l.newBlock("then")
	elseBB := l.newBlock("else")
	mergeBB := l.newBlock("ifcont")

	l.b.CondBr(test, thenBB, elseBB)

	l.enterBlock(thenBB)
	thenV, err := l.LowerExpr(e.Then)
	if err != nil {
		return nil, err
	}
	l.b.Br(mergeBB)
	thenEnd := l.b.InsertBlock()

	l.enterBlock(elseBB)
	elseV, err := l.LowerExpr(e.Else)
	if err != nil {
		return nil, err
	}
	l.b.Br(mergeBB)
	elseEnd := l.b.InsertBlock()

	l.enterBlock(mergeBB)
	return l.b.Phi([]Value{thenV, elseV}, []Block{thenEnd, elseEnd}), nil
}

// lowerFor builds
//
//	entry:     slot = start; br loop
//	loop:      cond != 0 ? loopbody : afterloop
//	loopbody:  body; slot = slot + step; br loop
//	afterloop: (insertion point on return)
//
// The loop variable is visible in cond, body and step only. The value of a
// loop is always 0.
func (l *Lowerer) lowerFor(e *ast.ForExpr) (Value, error) {
	if err := l.requireFunc("for", e.Pos); err != nil {
		return nil, err
	}

	start, err := l.LowerExpr(e.Start)
	if err != nil {
		return nil, err
	}
	slot := l.b.NewSlot(l.fn, e.Var)
	l.b.Store(start, slot)

	loopBB := l.newBlock("loop")
	l.b.Br(loopBB)
	l.enterBlock(loopBB)

	saved := l.scope.Bind(e.Var, slot)
	defer l.scope.Restore(saved)

	cond, err := l.LowerExpr(e.Cond)
	if err != nil {
		return nil, err
	}
	test := l.b.CmpNE(cond, l.b.Const(0))

	bodyBB := l.newBlock("loopbody")
	afterBB := l.newBlock("afterloop")
	l.b.CondBr(test, bodyBB, afterBB)

	l.enterBlock(bodyBB)
	if _, err := l.LowerExpr(e.Body); err != nil {
		return nil, err
	}
	step, err := l.LowerExpr(e.Step)
	if err != nil {
		return nil, err
	}
	cur := l.b.Load(slot, e.Var)
	l.b.Store(l.b.Add(cur, step), slot)
	l.b.Br(loopBB)

	l.enterBlock(afterBB)
	tlog.V("lower").Printw("loop", "var", e.Var)
	return l.b.Const(0), nil
}

// lowerVar installs each binding in order and lowers the body with all of
// them visible. An initializer is lowered before its own binding is
// installed, so it sees the outer binding of the same name (if any). Every
// binding is undone on return, whether or not lowering succeeded.
func (l *Lowerer) lowerVar(e *ast.VarExpr) (Value, error) {
	if err := l.requireFunc("var", e.Pos); err != nil {
		return nil, err
	}

	saved := make([]Saved, 0, len(e.Bindings))
	defer func() {
		for i := len(saved) - 1; i >= 0; i-- {
			l.scope.Restore(saved[i])
		}
	}()

	for _, bind := range e.Bindings {
		slot := l.b.NewSlot(l.fn, bind.Name)
		init, err := l.LowerExpr(bind.Init)
		if err != nil {
			return nil, err
		}
		l.b.Store(init, slot)
		saved = append(saved, l.scope.Bind(bind.Name, slot))
	}

	return l.LowerExpr(e.Body)
}

// lowerAssign stores into an existing binding and yields the stored value.
func (l *Lowerer) lowerAssign(e *ast.AssignExpr) (Value, error) {
	val, err := l.LowerExpr(e.Value)
	if err != nil {
		return nil, err
	}
	slot, ok := l.scope.Lookup(e.Name)
	if !ok {
		return nil, newError(UnknownVariable, e.Name, e.Pos)
	}
	l.b.Store(val, slot)
	return val, nil
}
