package ir

import (
	"fmt"
)

// Builder emits IR into a Module. It satisfies the lowering core's builder
// contract: every handle it returns is one of Operand (values and slots),
// *Block or *Func, and it panics when handed anything else, since that is a
// programming error in the caller.
type Builder struct {
	mod *Module
	cur *Block
}

// NewBuilder returns a builder emitting into m. A nil m starts a new module.
func NewBuilder(m *Module) *Builder {
	if m == nil {
		m = NewModule()
	}
	return &Builder{mod: m}
}

// Module returns the module being built.
func (b *Builder) Module() *Module { return b.mod }

// ---------------------------------------------------------------------------
// Functions
// ---------------------------------------------------------------------------

func (b *Builder) DeclareFunc(name string, params []string) any {
	fn := &Func{Name: name, ParamNames: append([]string(nil), params...)}
	b.mod.Functions = append(b.mod.Functions, fn)
	return fn
}

func (b *Builder) LookupFunc(name string) (any, bool) {
	if fn := b.mod.Lookup(name); fn != nil {
		return fn, true
	}
	return nil, false
}

func (b *Builder) HasBody(fn any) bool { return asFunc(fn).HasBody() }

func (b *Builder) Param(fn any, i int) any {
	f := asFunc(fn)
	name := ""
	if i < len(f.ParamNames) {
		name = f.ParamNames[i]
	}
	return ParamRef(i, name)
}

func (b *Builder) SetParamNames(fn any, names []string) {
	asFunc(fn).ParamNames = append([]string(nil), names...)
}

func (b *Builder) ClearBody(fn any) {
	f := asFunc(fn)
	if b.cur != nil && b.cur.Parent == f {
		b.cur = nil
	}
	f.clear()
}

func (b *Builder) RemoveFunc(fn any) {
	f := asFunc(fn)
	b.ClearBody(f)
	b.mod.Remove(f)
}

func (b *Builder) Verify(fn any) error {
	return VerifyFunc(b.mod, asFunc(fn))
}

// ---------------------------------------------------------------------------
// Blocks
// ---------------------------------------------------------------------------

func (b *Builder) NewBlock(name string) any { return &Block{Name: name} }

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

func (b *Builder) NewSlot(fn any, name string) any {
	f := asFunc(fn)
	f.Slots = append(f.Slots, name)
	return SlotRef(len(f.Slots)-1, name)
}

func (b *Builder) Load(s any, name string) any {
	return b.emitValue(&Instr{Op: OpLoad, Src1: asOperand(s)})
}

func (b *Builder) Store(v any, s any) {
	b.emit(&Instr{Op: OpStore, Src1: asOperand(s), Src2: asOperand(v)})
}

// ---------------------------------------------------------------------------
// Values
// ---------------------------------------------------------------------------

func (b *Builder) Const(x float64) any { return Const(x) }

func (b *Builder) Add(l, r any) any   { return b.binary(OpAdd, l, r) }
func (b *Builder) Sub(l, r any) any   { return b.binary(OpSub, l, r) }
func (b *Builder) Mul(l, r any) any   { return b.binary(OpMul, l, r) }
func (b *Builder) Div(l, r any) any   { return b.binary(OpDiv, l, r) }
func (b *Builder) CmpLT(l, r any) any { return b.binary(OpCmpLT, l, r) }
func (b *Builder) CmpGT(l, r any) any { return b.binary(OpCmpGT, l, r) }
func (b *Builder) CmpNE(l, r any) any { return b.binary(OpCmpNE, l, r) }

func (b *Builder) Widen(v any) any {
	return b.emitValue(&Instr{Op: OpWiden, Src1: asOperand(v)})
}

func (b *Builder) Call(fn any, args []any) any {
	in := &Instr{Op: OpCall, Callee: asFunc(fn).Name, Args: make([]Operand, len(args))}
	for i, a := range args {
		in.Args[i] = asOperand(a)
	}
	return b.emitValue(in)
}

func (b *Builder) binary(op Op, l, r any) any {
	return b.emitValue(&Instr{Op: op, Src1: asOperand(l), Src2: asOperand(r)})
}

// ---------------------------------------------------------------------------
// Terminators and phi
// ---------------------------------------------------------------------------

func (b *Builder) Br(target any) {
	b.emit(&Instr{Op: OpJmp, Targets: []*Block{asBlock(target)}})
}

func (b *Builder) CondBr(cond any, then, els any) {
	b.emit(&Instr{Op: OpJmpIf, Src1: asOperand(cond), Targets: []*Block{asBlock(then), asBlock(els)}})
}

func (b *Builder) Ret(v any) {
	b.emit(&Instr{Op: OpRet, Src1: asOperand(v)})
}

func (b *Builder) Phi(values []any, blocks []any) any {
	in := &Instr{Op: OpPhi, Args: make([]Operand, len(values)), Preds: make([]*Block, len(blocks))}
	for i, v := range values {
		in.Args[i] = asOperand(v)
	}
	for i, blk := range blocks {
		in.Preds[i] = asBlock(blk)
	}
	return b.emitValue(in)
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

func (b *Builder) emit(in *Instr) {
	if b.cur == nil {
		panic("ir: no insertion point")
	}
	b.cur.Instrs = append(b.cur.Instrs, in)
}

func (b *Builder) emitValue(in *Instr) Operand {
	if b.cur == nil || b.cur.Parent == nil {
		panic("ir: insertion block is not attached to a function")
	}
	in.Dst = b.cur.Parent.newReg()
	b.emit(in)
	return in.Dst
}

func asFunc(h any) *Func {
	f, ok := h.(*Func)
	if !ok {
		panic(fmt.Sprintf("ir: expected *Func handle, got %T", h))
	}
	return f
}

func asBlock(h any) *Block {
	bb, ok := h.(*Block)
	if !ok {
		panic(fmt.Sprintf("ir: expected *Block handle, got %T", h))
	}
	return bb
}

func asOperand(h any) Operand {
	o, ok := h.(Operand)
	if !ok {
		panic(fmt.Sprintf("ir: expected Operand handle, got %T", h))
	}
	return o
}
