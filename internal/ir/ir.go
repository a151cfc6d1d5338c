package ir

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// IR: a small block-structured intermediate representation
//
// Every function is a list of basic blocks. Each block holds straight-line
// three-address instructions and ends in exactly one terminator. Values are
// 64-bit floats; comparison results are truth values that only feed a
// conditional jump or a widen.
// ---------------------------------------------------------------------------

// ---------------------------------------------------------------------------
// Operand kinds
// ---------------------------------------------------------------------------

// OperandKind describes what an IR operand represents.
type OperandKind int

const (
	KindNone  OperandKind = iota // unused operand
	KindReg                      // virtual register (numbered, defined once)
	KindConst                    // floating-point literal
	KindParam                    // incoming function parameter
	KindSlot                     // mutable storage slot of the function
)

// Operand is a single value in an IR instruction.
type Operand struct {
	Kind  OperandKind
	Reg   int     // register number (KindReg)
	Const float64 // literal value (KindConst)
	Index int     // parameter or slot index (KindParam, KindSlot)
	Name  string  // parameter or slot name, for dumps only
}

func (o Operand) String() string {
	switch o.Kind {
	case KindNone:
		return "<none>"
	case KindReg:
		return fmt.Sprintf("v%d", o.Reg)
	case KindConst:
		return "$" + strconv.FormatFloat(o.Const, 'g', -1, 64)
	case KindParam:
		if o.Name != "" {
			return "%" + o.Name
		}
		return fmt.Sprintf("%%arg%d", o.Index)
	case KindSlot:
		return fmt.Sprintf("[%s.%d]", o.Name, o.Index)
	default:
		return "?"
	}
}

// Convenience constructors for operands.
func VReg(n int) Operand      { return Operand{Kind: KindReg, Reg: n} }
func Const(x float64) Operand { return Operand{Kind: KindConst, Const: x} }
func None() Operand           { return Operand{Kind: KindNone} }

func SlotRef(i int, name string) Operand {
	return Operand{Kind: KindSlot, Index: i, Name: name}
}
func ParamRef(i int, name string) Operand {
	return Operand{Kind: KindParam, Index: i, Name: name}
}

// ---------------------------------------------------------------------------
// IR opcodes
// ---------------------------------------------------------------------------

// Op is an IR instruction opcode.
type Op int

const (
	// Arithmetic
	OpAdd Op = iota // dst = src1 + src2
	OpSub           // dst = src1 - src2
	OpMul           // dst = src1 * src2
	OpDiv           // dst = src1 / src2

	// Comparison, dst is a truth value
	OpCmpLT // dst = src1 < src2
	OpCmpGT // dst = src1 > src2
	OpCmpNE // dst = src1 != src2, false if either is NaN
	OpWiden // dst = src1 ? 1.0 : 0.0

	// Storage
	OpLoad  // dst = *src1
	OpStore // *src1 = src2

	OpCall // dst = call Callee(args...)
	OpPhi  // dst = args[i] if control came from preds[i]

	// Terminators
	OpJmp   // goto targets[0]
	OpJmpIf // if src1 goto targets[0] else targets[1]
	OpRet   // return src1
)

var opNames = map[Op]string{
	OpAdd: "add", OpSub: "sub", OpMul: "mul", OpDiv: "div",
	OpCmpLT: "cmp_lt", OpCmpGT: "cmp_gt", OpCmpNE: "cmp_ne", OpWiden: "widen",
	OpLoad: "load", OpStore: "store",
	OpCall: "call", OpPhi: "phi",
	OpJmp: "jmp", OpJmpIf: "jmp_if", OpRet: "ret",
}

func (op Op) String() string {
	if s, ok := opNames[op]; ok {
		return s
	}
	return fmt.Sprintf("op_%d", int(op))
}

// IsTerminator reports whether op ends a basic block.
func (op Op) IsTerminator() bool {
	return op == OpJmp || op == OpJmpIf || op == OpRet
}

// pure reports whether an instruction with this opcode can be dropped when
// its result is unused.
func (op Op) pure() bool {
	switch op {
	case OpAdd, OpSub, OpMul, OpDiv, OpCmpLT, OpCmpGT, OpCmpNE, OpWiden, OpLoad, OpPhi:
		return true
	}
	return false
}

// ---------------------------------------------------------------------------
// IR Instruction
// ---------------------------------------------------------------------------

// Instr is a single IR instruction.
type Instr struct {
	Op      Op
	Dst     Operand   // result register, KindNone for store and terminators
	Src1    Operand   // first source (slot for load/store, cond for jmp_if)
	Src2    Operand   // second source (stored value for store)
	Args    []Operand // call arguments or phi incoming values
	Callee  string    // OpCall
	Preds   []*Block  // OpPhi: incoming block for each of Args
	Targets []*Block  // OpJmp: one target, OpJmpIf: then, else
}

func (i *Instr) String() string {
	var sb strings.Builder
	if i.Dst.Kind != KindNone {
		sb.WriteString(i.Dst.String())
		sb.WriteString(" = ")
	}
	sb.WriteString(i.Op.String())

	switch i.Op {
	case OpCall:
		fmt.Fprintf(&sb, " %s(", i.Callee)
		for k, a := range i.Args {
			if k > 0 {
				sb.WriteString(", ")
			}
			sb.WriteString(a.String())
		}
		sb.WriteString(")")
	case OpPhi:
		for k, a := range i.Args {
			if k > 0 {
				sb.WriteString(",")
			}
			pred := "?"
			if k < len(i.Preds) && i.Preds[k] != nil {
				pred = i.Preds[k].Name
			}
			fmt.Fprintf(&sb, " [%s, %s]", a, pred)
		}
	case OpJmp:
		fmt.Fprintf(&sb, " %s", blockName(i.Targets, 0))
	case OpJmpIf:
		fmt.Fprintf(&sb, " %s, %s, %s", i.Src1, blockName(i.Targets, 0), blockName(i.Targets, 1))
	default:
		if i.Src1.Kind != KindNone {
			sb.WriteString(" " + i.Src1.String())
		}
		if i.Src2.Kind != KindNone {
			sb.WriteString(", " + i.Src2.String())
		}
	}
	return sb.String()
}

func blockName(bs []*Block, i int) string {
	if i < len(bs) && bs[i] != nil {
		return bs[i].Name
	}
	return "?"
}

// operands returns pointers to every value operand the instruction reads.
func (i *Instr) operands() []*Operand {
	ops := make([]*Operand, 0, 2+len(i.Args))
	if i.Src1.Kind != KindNone {
		ops = append(ops, &i.Src1)
	}
	if i.Src2.Kind != KindNone {
		ops = append(ops, &i.Src2)
	}
	for k := range i.Args {
		ops = append(ops, &i.Args[k])
	}
	return ops
}

// ---------------------------------------------------------------------------
// Blocks, functions, module
// ---------------------------------------------------------------------------

// Block is a basic block.
type Block struct {
	Name   string
	Instrs []*Instr
	Parent *Func // nil while detached
}

// Terminator returns the last instruction if it ends the block.
func (b *Block) Terminator() *Instr {
	if len(b.Instrs) == 0 {
		return nil
	}
	last := b.Instrs[len(b.Instrs)-1]
	if !last.Op.IsTerminator() {
		return nil
	}
	return last
}

// Succs returns the blocks control may transfer to from b.
func (b *Block) Succs() []*Block {
	if t := b.Terminator(); t != nil {
		return t.Targets
	}
	return nil
}

// Func is a single function in IR form. A function without blocks is a
// declaration.
type Func struct {
	Name       string
	ParamNames []string
	Blocks     []*Block
	Slots      []string // slot names, indexed by KindSlot operands

	nextReg int
}

// HasBody reports whether the function has been defined.
func (f *Func) HasBody() bool { return len(f.Blocks) > 0 }

// NumRegs returns the number of registers allocated so far.
func (f *Func) NumRegs() int { return f.nextReg }

func (f *Func) newReg() Operand {
	r := VReg(f.nextReg)
	f.nextReg++
	return r
}

// clear drops the body, keeping the signature.
func (f *Func) clear() {
	for _, b := range f.Blocks {
		b.Parent = nil
	}
	f.Blocks = nil
	f.Slots = nil
	f.nextReg = 0
}

// preds computes the predecessor list of every block, in block order.
func (f *Func) preds() map[*Block][]*Block {
	out := make(map[*Block][]*Block, len(f.Blocks))
	for _, b := range f.Blocks {
		for _, s := range b.Succs() {
			if !containsBlock(out[s], b) {
				out[s] = append(out[s], b)
			}
		}
	}
	return out
}

func containsBlock(bs []*Block, b *Block) bool {
	for _, x := range bs {
		if x == b {
			return true
		}
	}
	return false
}

// Module is the top-level IR container for a compilation session.
type Module struct {
	Functions []*Func
}

// NewModule returns an empty module.
func NewModule() *Module { return &Module{} }

// Lookup finds a function by name.
func (m *Module) Lookup(name string) *Func {
	for _, f := range m.Functions {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// Remove erases fn from the module.
func (m *Module) Remove(fn *Func) {
	out := m.Functions[:0]
	for _, f := range m.Functions {
		if f != fn {
			out = append(out, f)
		}
	}
	for i := len(out); i < len(m.Functions); i++ {
		m.Functions[i] = nil
	}
	m.Functions = out
}

// String renders one function.
func (f *Func) String() string {
	var sb strings.Builder
	f.dump(&sb)
	return sb.String()
}

func (f *Func) dump(sb *strings.Builder) {
	params := strings.Join(f.ParamNames, ", ")
	if !f.HasBody() {
		fmt.Fprintf(sb, "declare %s(%s)\n", f.Name, params)
		return
	}
	fmt.Fprintf(sb, "func %s(%s) (slots=%d, regs=%d):\n", f.Name, params, len(f.Slots), f.nextReg)
	for _, b := range f.Blocks {
		fmt.Fprintf(sb, "%s:\n", b.Name)
		for _, in := range b.Instrs {
			fmt.Fprintf(sb, "  %s\n", in)
		}
	}
}

// DebugDump returns a human-readable representation of the entire module.
func (m *Module) DebugDump() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "=== IR Module (%d functions) ===\n", len(m.Functions))
	for _, fn := range m.Functions {
		sb.WriteString("\n")
		fn.dump(&sb)
	}
	return sb.String()
}
