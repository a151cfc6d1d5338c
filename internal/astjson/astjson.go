// Package astjson reads and writes syntax trees as JSON documents, so that
// trees produced by other front ends can be lowered.
//
// A document looks like
//
//	{"version": "1.0.0", "items": [
//	  {"kind": "def", "proto": {"name": "f", "params": ["x"]},
//	   "body": {"kind": "binary", "op": "*", "left": {"kind": "var", "name": "x"},
//	            "right": {"kind": "number", "value": 2}}},
//	  {"kind": "extern", "proto": {"name": "sin", "params": ["x"]}},
//	  {"kind": "expr", "body": {"kind": "call", "callee": "f", "args": [{"kind": "number", "value": 1}]}}
//	]}
//
// Every node may carry "line" and "col".
package astjson

import (
	"bytes"
	"encoding/json"
	"io"

	"github.com/Masterminds/semver/v3"
	"github.com/nikandfor/errors"

	"kaleido/internal/ast"
)

// FormatVersion is written by Encode.
const FormatVersion = "1.0.0"

// Supported is the range of document versions Decode accepts.
const Supported = "^1"

var (
	ErrVersion = errors.New("unsupported document version")
	ErrNode    = errors.New("malformed node")
)

type document struct {
	Version string  `json:"version"`
	Items   []*item `json:"items"`
}

type item struct {
	Kind  string `json:"kind"` // def, extern, expr
	Proto *proto `json:"proto,omitempty"`
	Body  *node  `json:"body,omitempty"`
	Line  int    `json:"line,omitempty"`
	Col   int    `json:"col,omitempty"`
}

type proto struct {
	Name   string   `json:"name"`
	Params []string `json:"params"`
	Line   int      `json:"line,omitempty"`
	Col    int      `json:"col,omitempty"`
}

type binding struct {
	Name string `json:"name"`
	Init *node  `json:"init,omitempty"`
	Line int    `json:"line,omitempty"`
	Col  int    `json:"col,omitempty"`
}

type node struct {
	Kind string `json:"kind"`

	Value    *float64  `json:"value,omitempty"`    // number
	Name     string    `json:"name,omitempty"`     // var, assign
	Op       string    `json:"op,omitempty"`       // binary
	Left     *node     `json:"left,omitempty"`     // binary, seq
	Right    *node     `json:"right,omitempty"`    // binary, seq
	Callee   string    `json:"callee,omitempty"`   // call
	Args     []*node   `json:"args,omitempty"`     // call
	Cond     *node     `json:"cond,omitempty"`     // if, for
	Then     *node     `json:"then,omitempty"`     // if
	Else     *node     `json:"else,omitempty"`     // if
	Var      string    `json:"var,omitempty"`      // for
	Start    *node     `json:"start,omitempty"`    // for
	Step     *node     `json:"step,omitempty"`     // for
	Body     *node     `json:"body,omitempty"`     // for, varin
	Val      *node     `json:"val,omitempty"`      // assign
	Bindings []binding `json:"bindings,omitempty"` // varin

	Line int `json:"line,omitempty"`
	Col  int `json:"col,omitempty"`
}

// ---------------------------------------------------------------------------
// Decode
// ---------------------------------------------------------------------------

// Decode reads one document from r.
func Decode(r io.Reader) ([]ast.TopLevel, error) {
	var doc document
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "decode")
	}

	if err := checkVersion(doc.Version); err != nil {
		return nil, err
	}

	items := make([]ast.TopLevel, 0, len(doc.Items))
	for i, it := range doc.Items {
		tl, err := decodeItem(it)
		if err != nil {
			return nil, errors.Wrap(err, "item %d", i)
		}
		items = append(items, tl)
	}
	return items, nil
}

// DecodeBytes is Decode over an in-memory document.
func DecodeBytes(data []byte) ([]ast.TopLevel, error) {
	return Decode(bytes.NewReader(data))
}

func checkVersion(v string) error {
	if v == "" {
		return errors.Wrap(ErrVersion, "missing version")
	}
	ver, err := semver.NewVersion(v)
	if err != nil {
		return errors.Wrap(ErrVersion, "version %q: %v", v, err)
	}
	c, err := semver.NewConstraint(Supported)
	if err != nil {
		return errors.Wrap(err, "constraint %s", Supported)
	}
	if !c.Check(ver) {
		return errors.Wrap(ErrVersion, "version %s does not satisfy %s", ver, Supported)
	}
	return nil
}

func decodeItem(it *item) (ast.TopLevel, error) {
	if it == nil {
		return nil, errors.Wrap(ErrNode, "null item")
	}
	pos := ast.Position{Line: it.Line, Column: it.Col}

	switch it.Kind {
	case "def":
		p, err := decodeProto(it.Proto)
		if err != nil {
			return nil, err
		}
		body, err := decodeExpr(it.Body)
		if err != nil {
			return nil, errors.Wrap(err, "def %s", p.Name)
		}
		return &ast.Function{Proto: p, Body: body, Pos: pos}, nil
	case "extern":
		p, err := decodeProto(it.Proto)
		if err != nil {
			return nil, err
		}
		return &ast.Extern{Proto: p, Pos: pos}, nil
	case "expr":
		body, err := decodeExpr(it.Body)
		if err != nil {
			return nil, err
		}
		return &ast.TopExpr{Body: body, Pos: pos}, nil
	}
	return nil, errors.Wrap(ErrNode, "unknown item kind %q", it.Kind)
}

func decodeProto(p *proto) (*ast.Prototype, error) {
	if p == nil || p.Name == "" {
		return nil, errors.Wrap(ErrNode, "prototype without a name")
	}
	return &ast.Prototype{
		Name:   p.Name,
		Params: append([]string{}, p.Params...),
		Pos:    ast.Position{Line: p.Line, Column: p.Col},
	}, nil
}

var binaryOps = map[string]ast.BinaryOp{
	"+": ast.OpAdd, "-": ast.OpSub, "*": ast.OpMul, "/": ast.OpDiv,
	"<": ast.OpLess, ">": ast.OpGreater,
}

func decodeExpr(n *node) (ast.Expr, error) {
	if n == nil {
		return nil, errors.Wrap(ErrNode, "missing expression")
	}
	pos := ast.Position{Line: n.Line, Column: n.Col}

	// sub decodes the named children in order and stops at the first error.
	sub := func(children ...*node) ([]ast.Expr, error) {
		out := make([]ast.Expr, len(children))
		for i, c := range children {
			e, err := decodeExpr(c)
			if err != nil {
				return nil, errors.Wrap(err, "%s", n.Kind)
			}
			out[i] = e
		}
		return out, nil
	}

	switch n.Kind {
	case "number":
		if n.Value == nil {
			return nil, errors.Wrap(ErrNode, "number without value")
		}
		return &ast.NumberExpr{Value: *n.Value, Pos: pos}, nil
	case "var":
		if n.Name == "" {
			return nil, errors.Wrap(ErrNode, "var without name")
		}
		return &ast.VariableExpr{Name: n.Name, Pos: pos}, nil
	case "binary":
		op, ok := binaryOps[n.Op]
		if !ok {
			return nil, errors.Wrap(ErrNode, "unknown operator %q", n.Op)
		}
		c, err := sub(n.Left, n.Right)
		if err != nil {
			return nil, err
		}
		return &ast.BinaryExpr{Op: op, Left: c[0], Right: c[1], Pos: pos}, nil
	case "seq":
		c, err := sub(n.Left, n.Right)
		if err != nil {
			return nil, err
		}
		return &ast.SeqExpr{Left: c[0], Right: c[1], Pos: pos}, nil
	case "call":
		if n.Callee == "" {
			return nil, errors.Wrap(ErrNode, "call without callee")
		}
		args, err := sub(n.Args...)
		if err != nil {
			return nil, err
		}
		return &ast.CallExpr{Callee: n.Callee, Args: args, Pos: pos}, nil
	case "if":
		c, err := sub(n.Cond, n.Then, n.Else)
		if err != nil {
			return nil, err
		}
		return &ast.IfExpr{Cond: c[0], Then: c[1], Else: c[2], Pos: pos}, nil
	case "for":
		if n.Var == "" {
			return nil, errors.Wrap(ErrNode, "for without loop variable")
		}
		step := n.Step
		if step == nil {
			one := 1.0
			step = &node{Kind: "number", Value: &one}
		}
		c, err := sub(n.Start, n.Cond, step, n.Body)
		if err != nil {
			return nil, err
		}
		return &ast.ForExpr{Var: n.Var, Start: c[0], Cond: c[1], Step: c[2], Body: c[3], Pos: pos}, nil
	case "assign":
		if n.Name == "" {
			return nil, errors.Wrap(ErrNode, "assign without target")
		}
		c, err := sub(n.Val)
		if err != nil {
			return nil, err
		}
		return &ast.AssignExpr{Name: n.Name, Value: c[0], Pos: pos}, nil
	case "varin":
		v := &ast.VarExpr{Pos: pos}
		for _, b := range n.Bindings {
			if b.Name == "" {
				return nil, errors.Wrap(ErrNode, "binding without name")
			}
			bpos := ast.Position{Line: b.Line, Column: b.Col}
			var init ast.Expr = &ast.NumberExpr{Value: 0, Pos: bpos}
			if b.Init != nil {
				e, err := decodeExpr(b.Init)
				if err != nil {
					return nil, errors.Wrap(err, "binding %s", b.Name)
				}
				init = e
			}
			v.Bindings = append(v.Bindings, ast.Binding{Name: b.Name, Init: init, Pos: bpos})
		}
		c, err := sub(n.Body)
		if err != nil {
			return nil, err
		}
		v.Body = c[0]
		return v, nil
	}
	return nil, errors.Wrap(ErrNode, "unknown expression kind %q", n.Kind)
}

// ---------------------------------------------------------------------------
// Encode
// ---------------------------------------------------------------------------

// Encode writes items as an indented document of FormatVersion.
func Encode(w io.Writer, items []ast.TopLevel) error {
	doc := document{Version: FormatVersion, Items: make([]*item, 0, len(items))}
	for _, tl := range items {
		it, err := encodeItem(tl)
		if err != nil {
			return err
		}
		doc.Items = append(doc.Items, it)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(&doc)
}

func encodeItem(tl ast.TopLevel) (*item, error) {
	switch tl := tl.(type) {
	case *ast.Function:
		body, err := encodeExpr(tl.Body)
		if err != nil {
			return nil, err
		}
		return &item{Kind: "def", Proto: encodeProto(tl.Proto), Body: body, Line: tl.Pos.Line, Col: tl.Pos.Column}, nil
	case *ast.Extern:
		return &item{Kind: "extern", Proto: encodeProto(tl.Proto), Line: tl.Pos.Line, Col: tl.Pos.Column}, nil
	case *ast.TopExpr:
		body, err := encodeExpr(tl.Body)
		if err != nil {
			return nil, err
		}
		return &item{Kind: "expr", Body: body, Line: tl.Pos.Line, Col: tl.Pos.Column}, nil
	}
	return nil, errors.Wrap(ErrNode, "cannot encode %T", tl)
}

func encodeProto(p *ast.Prototype) *proto {
	return &proto{Name: p.Name, Params: append([]string{}, p.Params...), Line: p.Pos.Line, Col: p.Pos.Column}
}

func encodeExpr(e ast.Expr) (*node, error) {
	if e == nil {
		return nil, errors.Wrap(ErrNode, "missing expression")
	}
	pos := e.GetPos()
	n := &node{Line: pos.Line, Col: pos.Column}

	var err error
	enc := func(dst **node, src ast.Expr) {
		if err != nil {
			return
		}
		*dst, err = encodeExpr(src)
	}

	switch e := e.(type) {
	case *ast.NumberExpr:
		v := e.Value
		n.Kind, n.Value = "number", &v
	case *ast.VariableExpr:
		n.Kind, n.Name = "var", e.Name
	case *ast.BinaryExpr:
		n.Kind, n.Op = "binary", e.Op.String()
		enc(&n.Left, e.Left)
		enc(&n.Right, e.Right)
	case *ast.SeqExpr:
		n.Kind = "seq"
		enc(&n.Left, e.Left)
		enc(&n.Right, e.Right)
	case *ast.CallExpr:
		n.Kind, n.Callee = "call", e.Callee
		n.Args = make([]*node, len(e.Args))
		for i, a := range e.Args {
			enc(&n.Args[i], a)
		}
	case *ast.IfExpr:
		n.Kind = "if"
		enc(&n.Cond, e.Cond)
		enc(&n.Then, e.Then)
		enc(&n.Else, e.Else)
	case *ast.ForExpr:
		n.Kind, n.Var = "for", e.Var
		enc(&n.Start, e.Start)
		enc(&n.Cond, e.Cond)
		enc(&n.Step, e.Step)
		enc(&n.Body, e.Body)
	case *ast.AssignExpr:
		n.Kind, n.Name = "assign", e.Name
		enc(&n.Val, e.Value)
	case *ast.VarExpr:
		n.Kind = "varin"
		for _, b := range e.Bindings {
			bn := binding{Name: b.Name, Line: b.Pos.Line, Col: b.Pos.Column}
			enc(&bn.Init, b.Init)
			n.Bindings = append(n.Bindings, bn)
		}
		enc(&n.Body, e.Body)
	default:
		return nil, errors.Wrap(ErrNode, "cannot encode %T", e)
	}
	if err != nil {
		return nil, err
	}
	return n, nil
}
