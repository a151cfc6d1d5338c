package ast

import (
	"fmt"
	"strconv"
	"strings"
)

// ---------------------------------------------------------------------------
// Source position
// ---------------------------------------------------------------------------

// Position represents a line/column pair in source code (1-based).
// The zero Position means the node was not built from source text.
type Position struct {
	Line   int
	Column int
}

func (p Position) String() string {
	return fmt.Sprintf("%d:%d", p.Line, p.Column)
}

// IsValid reports whether the position points into source text.
func (p Position) IsValid() bool { return p.Line > 0 }

// ---------------------------------------------------------------------------
// Interfaces
// ---------------------------------------------------------------------------

// Node is implemented by every AST node.
type Node interface {
	GetPos() Position
}

// Expr is implemented by every expression node. The set of implementations
// is closed: only the types in this file satisfy it.
type Expr interface {
	Node
	exprNode()
}

// TopLevel is implemented by the items a parser hands to the code generator:
// *Function, *Extern and *TopExpr.
type TopLevel interface {
	Node
	topLevel()
}

// ---------------------------------------------------------------------------
// Expressions
// ---------------------------------------------------------------------------

// NumberExpr is a numeric literal.
type NumberExpr struct {
	Value float64
	Pos   Position
}

func (n *NumberExpr) GetPos() Position { return n.Pos }
func (n *NumberExpr) exprNode()        {}

// VariableExpr is a reference to a variable by name.
type VariableExpr struct {
	Name string
	Pos  Position
}

func (n *VariableExpr) GetPos() Position { return n.Pos }
func (n *VariableExpr) exprNode()        {}

// BinaryOp enumerates the binary operators of the language.
type BinaryOp int

const (
	OpAdd BinaryOp = iota
	OpSub
	OpMul
	OpDiv
	OpLess
	OpGreater
)

var binaryOpNames = [...]string{
	OpAdd:     "+",
	OpSub:     "-",
	OpMul:     "*",
	OpDiv:     "/",
	OpLess:    "<",
	OpGreater: ">",
}

func (op BinaryOp) String() string {
	if op >= 0 && int(op) < len(binaryOpNames) {
		return binaryOpNames[op]
	}
	return "binop_" + strconv.Itoa(int(op))
}

// BinaryExpr: <left> <op> <right>
type BinaryExpr struct {
	Op    BinaryOp
	Left  Expr
	Right Expr
	Pos   Position
}

func (n *BinaryExpr) GetPos() Position { return n.Pos }
func (n *BinaryExpr) exprNode()        {}

// SeqExpr: <left> : <right>. Evaluates both, yields the right value.
type SeqExpr struct {
	Left  Expr
	Right Expr
	Pos   Position
}

func (n *SeqExpr) GetPos() Position { return n.Pos }
func (n *SeqExpr) exprNode()        {}

// CallExpr: <callee>(<args>)
type CallExpr struct {
	Callee string
	Args   []Expr
	Pos    Position
}

func (n *CallExpr) GetPos() Position { return n.Pos }
func (n *CallExpr) exprNode()        {}

// IfExpr: if <cond> then <then> else <else>. Both arms are required.
type IfExpr struct {
	Cond Expr
	Then Expr
	Else Expr
	Pos  Position
}

func (n *IfExpr) GetPos() Position { return n.Pos }
func (n *IfExpr) exprNode()        {}

// ForExpr: for <var> = <start>, <cond>, <step> { <body> }
type ForExpr struct {
	Var   string
	Start Expr
	Cond  Expr
	Step  Expr
	Body  Expr
	Pos   Position
}

func (n *ForExpr) GetPos() Position { return n.Pos }
func (n *ForExpr) exprNode()        {}

// AssignExpr: <name> := <value>
type AssignExpr struct {
	Name  string
	Value Expr
	Pos   Position
}

func (n *AssignExpr) GetPos() Position { return n.Pos }
func (n *AssignExpr) exprNode()        {}

// Binding is one name = init pair of a VarExpr.
type Binding struct {
	Name string
	Init Expr
	Pos  Position
}

// VarExpr: var <name> = <init>, ... in <body>
type VarExpr struct {
	Bindings []Binding
	Body     Expr
	Pos      Position
}

func (n *VarExpr) GetPos() Position { return n.Pos }
func (n *VarExpr) exprNode()        {}

// ---------------------------------------------------------------------------
// Top-level items
// ---------------------------------------------------------------------------

// Prototype is a function signature: a name and its parameter names.
type Prototype struct {
	Name   string
	Params []string
	Pos    Position
}

func (n *Prototype) GetPos() Position { return n.Pos }

// Function is a function definition.
type Function struct {
	Proto *Prototype
	Body  Expr
	Pos   Position
}

func (n *Function) GetPos() Position { return n.Pos }
func (n *Function) topLevel()        {}

// Extern is a forward or external declaration.
type Extern struct {
	Proto *Prototype
	Pos   Position
}

func (n *Extern) GetPos() Position { return n.Pos }
func (n *Extern) topLevel()        {}

// TopExpr is an expression typed at the top level.
type TopExpr struct {
	Body Expr
	Pos  Position
}

func (n *TopExpr) GetPos() Position { return n.Pos }
func (n *TopExpr) topLevel()        {}

// ---------------------------------------------------------------------------
// Debug printer – produces a human-readable tree representation
// ---------------------------------------------------------------------------

// DebugString returns a readable multi-line representation of the items.
func DebugString(items []TopLevel) string {
	var b strings.Builder
	b.WriteString("Program\n")
	for _, item := range items {
		debugItem(&b, item, 1)
	}
	return b.String()
}

func writeIndent(b *strings.Builder, level int) {
	for i := 0; i < level; i++ {
		b.WriteString("  ")
	}
}

func debugItem(b *strings.Builder, item TopLevel, level int) {
	writeIndent(b, level)
	switch it := item.(type) {
	case *Function:
		fmt.Fprintf(b, "Def %s\n", protoString(it.Proto))
		debugExpr(b, it.Body, level+1)
	case *Extern:
		fmt.Fprintf(b, "Extern %s\n", protoString(it.Proto))
	case *TopExpr:
		b.WriteString("Expr\n")
		debugExpr(b, it.Body, level+1)
	default:
		b.WriteString("<unknown item>\n")
	}
}

func debugExpr(b *strings.Builder, e Expr, level int) {
	writeIndent(b, level)
	switch e := e.(type) {
	case *IfExpr:
		fmt.Fprintf(b, "If %s\n", ExprString(e.Cond))
		debugExpr(b, e.Then, level+1)
		debugExpr(b, e.Else, level+1)
	case *ForExpr:
		fmt.Fprintf(b, "For %s = %s, %s, %s\n", e.Var,
			ExprString(e.Start), ExprString(e.Cond), ExprString(e.Step))
		debugExpr(b, e.Body, level+1)
	case *VarExpr:
		b.WriteString("Var")
		for i, bind := range e.Bindings {
			if i > 0 {
				b.WriteByte(',')
			}
			fmt.Fprintf(b, " %s = %s", bind.Name, ExprString(bind.Init))
		}
		b.WriteByte('\n')
		debugExpr(b, e.Body, level+1)
	default:
		b.WriteString(ExprString(e))
		b.WriteByte('\n')
	}
}

func protoString(p *Prototype) string {
	if p == nil {
		return "<nil>"
	}
	return fmt.Sprintf("%s(%s)", p.Name, strings.Join(p.Params, ", "))
}

// ExprString returns a concise one-line representation of an expression.
func ExprString(e Expr) string {
	if e == nil {
		return "<nil>"
	}
	switch e := e.(type) {
	case *NumberExpr:
		return strconv.FormatFloat(e.Value, 'g', -1, 64)
	case *VariableExpr:
		return e.Name
	case *BinaryExpr:
		return fmt.Sprintf("(%s %s %s)", ExprString(e.Left), e.Op, ExprString(e.Right))
	case *SeqExpr:
		return fmt.Sprintf("(%s : %s)", ExprString(e.Left), ExprString(e.Right))
	case *CallExpr:
		args := make([]string, len(e.Args))
		for i, a := range e.Args {
			args[i] = ExprString(a)
		}
		return fmt.Sprintf("%s(%s)", e.Callee, strings.Join(args, ", "))
	case *IfExpr:
		return fmt.Sprintf("(if %s then %s else %s)",
			ExprString(e.Cond), ExprString(e.Then), ExprString(e.Else))
	case *ForExpr:
		return fmt.Sprintf("(for %s = %s, %s, %s { %s })", e.Var,
			ExprString(e.Start), ExprString(e.Cond), ExprString(e.Step), ExprString(e.Body))
	case *AssignExpr:
		return fmt.Sprintf("(%s := %s)", e.Name, ExprString(e.Value))
	case *VarExpr:
		parts := make([]string, len(e.Bindings))
		for i, bind := range e.Bindings {
			parts[i] = bind.Name + " = " + ExprString(bind.Init)
		}
		return fmt.Sprintf("(var %s in %s)", strings.Join(parts, ", "), ExprString(e.Body))
	}
	return "<expr>"
}
