package codegen

// ---------------------------------------------------------------------------
// Builder: the IR construction contract the lowering core depends on
//
// The core never touches a concrete IR. Every handle below is owned by the
// Builder that produced it and is only ever passed back to that Builder.
// ---------------------------------------------------------------------------

// Opaque handles produced by a Builder.
type (
	Value = any // an SSA value: constant, instruction result or parameter
	Block = any // a basic block
	Func  = any // a function (declared or defined)
	Slot  = any // a mutable storage slot scoped to one function
)

// Builder creates functions, blocks and instructions for one module.
// All values have the single numeric type of the language, except the
// results of the Cmp* methods, which are one-bit truth values that are only
// valid as a CondBr condition or as the operand of Widen.
type Builder interface {
	// DeclareFunc adds a function taking len(params) numeric arguments and
	// returning a numeric result. The function has no body yet.
	DeclareFunc(name string, params []string) Func
	// LookupFunc returns the function called name, if the module holds one.
	LookupFunc(name string) (Func, bool)
	// HasBody reports whether fn has at least one basic block.
	HasBody(fn Func) bool
	// Param returns the incoming value of the i-th parameter.
	Param(fn Func, i int) Value
	// SetParamNames renames the parameters (names are used in dumps only).
	SetParamNames(fn Func, names []string)
	// ClearBody drops every block and slot of fn, leaving a declaration.
	ClearBody(fn Func)
	// RemoveFunc erases fn from the module.
	RemoveFunc(fn Func)
	// Verify checks the structural well-formedness of a lowered function.
	Verify(fn Func) error

	// NewBlock creates a detached basic block.
	NewBlock(name string) Block
	// AppendBlock attaches b at the end of fn's block list.
	AppendBlock(fn Func, b Block)
	// SetInsertPoint makes b the block new instructions are appended to.
	SetInsertPoint(b Block)
	// InsertBlock returns the current insertion block.
	InsertBlock() Block

	// NewSlot creates a storage slot in fn. Slots live for the whole call.
	NewSlot(fn Func, name string) Slot
	Load(s Slot, name string) Value
	Store(v Value, s Slot)

	Const(x float64) Value
	Add(l, r Value) Value
	Sub(l, r Value) Value
	Mul(l, r Value) Value
	Div(l, r Value) Value
	CmpLT(l, r Value) Value
	CmpGT(l, r Value) Value
	CmpNE(l, r Value) Value
	// Widen converts a one-bit truth value to 0.0 or 1.0.
	Widen(v Value) Value
	Call(fn Func, args []Value) Value

	Br(target Block)
	CondBr(cond Value, then, els Block)
	Ret(v Value)
	// Phi merges values[i] arriving from blocks[i]. It must be the first
	// instruction emitted into the current block.
	Phi(values []Value, blocks []Block) Value
}

// Optimizer receives every function after it has been lowered and verified.
// It may rewrite the function in place.
type Optimizer interface {
	Optimize(fn Func) error
}
