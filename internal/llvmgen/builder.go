// Package llvmgen emits LLVM IR text for lowered functions using the pure-Go
// llir/llvm module model.
package llvmgen

import (
	"fmt"

	"github.com/llir/llvm/ir"
	"github.com/llir/llvm/ir/constant"
	"github.com/llir/llvm/ir/enum"
	"github.com/llir/llvm/ir/types"
	"github.com/llir/llvm/ir/value"
	"github.com/nikandfor/errors"
)

// ErrMalformed is wrapped by every Verify failure.
var ErrMalformed = errors.New("malformed LLVM function")

// Builder emits into an llir module. Handles are value.Value for values,
// *ir.InstAlloca for slots, *ir.Block and *ir.Func.
type Builder struct {
	mod *ir.Module
	cur *ir.Block
}

// NewBuilder returns a builder over a new module named name.
func NewBuilder(name string) *Builder {
	m := ir.NewModule()
	m.SourceFilename = name
	return &Builder{mod: m}
}

// Module returns the module being built.
func (b *Builder) Module() *ir.Module { return b.mod }

// String renders the module as LLVM assembly.
func (b *Builder) String() string { return b.mod.String() }

// Lookup finds a function by name.
func (b *Builder) Lookup(name string) *ir.Func {
	for _, f := range b.mod.Funcs {
		if f.Name() == name {
			return f
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

func (b *Builder) DeclareFunc(name string, params []string) any {
	ps := make([]*ir.Param, len(params))
	for i, p := range params {
		ps[i] = ir.NewParam(p, types.Double)
	}
	return b.mod.NewFunc(name, types.Double, ps...)
}

func (b *Builder) LookupFunc(name string) (any, bool) {
	if f := b.Lookup(name); f != nil {
		return f, true
	}
	return nil, false
}

func (b *Builder) HasBody(fn any) bool { return len(asFunc(fn).Blocks) > 0 }

func (b *Builder) Param(fn any, i int) any { return asFunc(fn).Params[i] }

func (b *Builder) SetParamNames(fn any, names []string) {
	f := asFunc(fn)
	for i, p := range f.Params {
		if i < len(names) {
			p.SetName(names[i])
		}
	}
}

func (b *Builder) ClearBody(fn any) {
	f := asFunc(fn)
	if b.cur != nil && b.cur.Parent == f {
		b.cur = nil
	}
	f.Blocks = nil
}

func (b *Builder) RemoveFunc(fn any) {
	f := asFunc(fn)
	b.ClearBody(f)
	out := b.mod.Funcs[:0]
	for _, g := range b.mod.Funcs {
		if g != f {
			out = append(out, g)
		}
	}
	b.mod.Funcs = out
}

// Verify checks that every block of fn is terminated and that phis only
// name blocks of fn.
func (b *Builder) Verify(fn any) error {
	f := asFunc(fn)
	if len(f.Blocks) == 0 {
		return errors.Wrap(ErrMalformed, "@%s: no blocks", f.Name())
	}
	params := make(map[string]bool, len(f.Params))
	for _, p := range f.Params {
		if p.LocalName == "" {
			continue
		}
		if params[p.LocalName] {
			return errors.Wrap(ErrMalformed, "@%s: parameter %%%s defined twice", f.Name(), p.LocalName)
		}
		params[p.LocalName] = true
	}

	owned := make(map[value.Value]bool, len(f.Blocks))
	for _, blk := range f.Blocks {
		owned[blk] = true
	}
	for _, blk := range f.Blocks {
		if blk.Term == nil {
			return errors.Wrap(ErrMalformed, "@%s: block %%%s has no terminator", f.Name(), blk.Name())
		}
		for _, inst := range blk.Insts {
			phi, ok := inst.(*ir.InstPhi)
			if !ok {
				continue
			}
			for _, inc := range phi.Incs {
				if !owned[inc.Pred] {
					return errors.Wrap(ErrMalformed, "@%s: block %%%s: phi names a foreign block", f.Name(), blk.Name())
				}
			}
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Blocks
// ---------------------------------------------------------------------------

func (b *Builder) NewBlock(name string) any { return ir.NewBlock(name) }

func (b *Builder) AppendBlock(fn any, blk any) {
	f, bb := asFunc(fn), asBlock(blk)
	bb.Parent = f
	f.Blocks = append(f.Blocks, bb)
}

func (b *Builder) SetInsertPoint(blk any) { b.cur = asBlock(blk) }

func (b *Builder) InsertBlock() any { return b.cur }

// ---------------------------------------------------------------------------
// Storage
// ---------------------------------------------------------------------------

// NewSlot places an alloca after the leading allocas of fn's entry block,
// so every slot is allocated once per call.
func (b *Builder) NewSlot(fn any, name string) any {
	f := asFunc(fn)
	if len(f.Blocks) == 0 {
		panic("llvmgen: slot requested before the entry block exists")
	}
	entry := f.Blocks[0]
	slot := ir.NewAlloca(types.Double)

	at := 0
	for at < len(entry.Insts) {
		if _, ok := entry.Insts[at].(*ir.InstAlloca); !ok {
			break
		}
		at++
	}
	entry.Insts = append(entry.Insts, nil)
	copy(entry.Insts[at+1:], entry.Insts[at:])
	entry.Insts[at] = slot
	return slot
}

func (b *Builder) Load(s any, name string) any {
	return b.block().NewLoad(types.Double, asSlot(s))
}

func (b *Builder) Store(v any, s any) {
	b.block().NewStore(asValue(v), asSlot(s))
}

// ---------------------------------------------------------------------------
// Values
// ---------------------------------------------------------------------------

func (b *Builder) Const(x float64) any { return constant.NewFloat(types.Double, x) }

func (b *Builder) Add(l, r any) any { return b.block().NewFAdd(asValue(l), asValue(r)) }
func (b *Builder) Sub(l, r any) any { return b.block().NewFSub(asValue(l), asValue(r)) }
func (b *Builder) Mul(l, r any) any { return b.block().NewFMul(asValue(l), asValue(r)) }
func (b *Builder) Div(l, r any) any { return b.block().NewFDiv(asValue(l), asValue(r)) }

func (b *Builder) CmpLT(l, r any) any {
	return b.block().NewFCmp(enum.FPredOLT, asValue(l), asValue(r))
}

func (b *Builder) CmpGT(l, r any) any {
	return b.block().NewFCmp(enum.FPredOGT, asValue(l), asValue(r))
}

func (b *Builder) CmpNE(l, r any) any {
	return b.block().NewFCmp(enum.FPredONE, asValue(l), asValue(r))
}

func (b *Builder) Widen(v any) any {
	return b.block().NewUIToFP(asValue(v), types.Double)
}

func (b *Builder) Call(fn any, args []any) any {
	vals := make([]value.Value, len(args))
	for i, a := range args {
		vals[i] = asValue(a)
	}
	return b.block().NewCall(asFunc(fn), vals...)
}

// ---------------------------------------------------------------------------
// Terminators and phi
// ---------------------------------------------------------------------------

func (b *Builder) Br(target any) { b.block().NewBr(asBlock(target)) }

func (b *Builder) CondBr(cond any, then, els any) {
	b.block().NewCondBr(asValue(cond), asBlock(then), asBlock(els))
}

func (b *Builder) Ret(v any) { b.block().NewRet(asValue(v)) }

func (b *Builder) Phi(values []any, blocks []any) any {
	incs := make([]*ir.Incoming, len(values))
	for i := range values {
		incs[i] = ir.NewIncoming(asValue(values[i]), asBlock(blocks[i]))
	}
	return b.block().NewPhi(incs...)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (b *Builder) block() *ir.Block {
	if b.cur == nil {
		panic("llvmgen: no insertion point")
	}
	return b.cur
}

func asFunc(h any) *ir.Func {
	f, ok := h.(*ir.Func)
	if !ok {
		panic(fmt.Sprintf("llvmgen: expected *ir.Func handle, got %T", h))
	}
	return f
}

func asBlock(h any) *ir.Block {
	bb, ok := h.(*ir.Block)
	if !ok {
		panic(fmt.Sprintf("llvmgen: expected *ir.Block handle, got %T", h))
	}
	return bb
}

func asSlot(h any) *ir.InstAlloca {
	s, ok := h.(*ir.InstAlloca)
	if !ok {
		panic(fmt.Sprintf("llvmgen: expected slot handle, got %T", h))
	}
	return s
}

func asValue(h any) value.Value {
	v, ok := h.(value.Value)
	if !ok {
		panic(fmt.Sprintf("llvmgen: expected value handle, got %T", h))
	}
	return v
}
