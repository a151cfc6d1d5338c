package parser

import (
	"fmt"
	"strconv"

	"kaleido/internal/ast"
	"kaleido/internal/lexer"
)

// ---------------------------------------------------------------------------
// Precedence levels for Pratt expression parsing
// ---------------------------------------------------------------------------

const (
	precNone       = iota
	precSeq        // :
	precAssign     // := (right-associative, left side must be a name)
	precComparison // < >
	precAdditive   // + -
	precMultiply   // * /
)

// ---------------------------------------------------------------------------
// ParseError
// ---------------------------------------------------------------------------

// ParseError represents a single error found during parsing.
type ParseError struct {
	Message string
	Line    int
	Column  int
}

func (e ParseError) Error() string {
	return fmt.Sprintf("line %d, col %d: %s", e.Line, e.Column, e.Message)
}

// ---------------------------------------------------------------------------
// Parser
// ---------------------------------------------------------------------------

// Parser holds the state for a single parse pass over a token stream.
type Parser struct {
	tokens []lexer.Token
	pos    int
	errors []ParseError
}

// Parse is the main entry point. It takes a token slice (as produced by
// lexer.Lex) and returns the top-level items plus any parse errors collected.
// Items that failed to parse are dropped; parsing resumes at the next
// definition, declaration or ';'.
func Parse(tokens []lexer.Token) ([]ast.TopLevel, []ParseError) {
	p := &Parser{tokens: tokens, pos: 0}
	items := p.parseProgram()
	return items, p.errors
}

// ParseExpr parses a single expression that must span all the tokens.
func ParseExpr(tokens []lexer.Token) (ast.Expr, []ParseError) {
	p := &Parser{tokens: tokens, pos: 0}
	expr := p.parseExpression()
	if !p.check(lexer.EOF) {
		tok := p.peek()
		p.addError(tok, fmt.Sprintf("unexpected %s %q after expression", tok.Type, tok.Value))
	}
	return expr, p.errors
}

// ---------------------------------------------------------------------------
// Token helpers
// ---------------------------------------------------------------------------

// peek returns the current token without consuming it.
func (p *Parser) peek() lexer.Token {
	if p.pos < len(p.tokens) {
		return p.tokens[p.pos]
	}
	return lexer.Token{Type: lexer.EOF}
}

// advance consumes and returns the current token.
func (p *Parser) advance() lexer.Token {
	tok := p.peek()
	if tok.Type != lexer.EOF {
		p.pos++
	}
	return tok
}

// previous returns the most recently consumed token.
func (p *Parser) previous() lexer.Token {
	if p.pos > 0 {
		return p.tokens[p.pos-1]
	}
	return lexer.Token{Type: lexer.EOF}
}

// check returns true if the current token has the given type.
func (p *Parser) check(typ string) bool {
	return p.peek().Type == typ
}

// match consumes the current token if it matches any of the given types.
func (p *Parser) match(types ...string) bool {
	for _, t := range types {
		if p.check(t) {
			p.advance()
			return true
		}
	}
	return false
}

// expect consumes the current token if it matches typ; otherwise it records
// an error and returns the current token WITHOUT advancing.
func (p *Parser) expect(typ string, msg string) lexer.Token {
	if p.check(typ) {
		return p.advance()
	}
	tok := p.peek()
	p.addError(tok, fmt.Sprintf("%s (got %s %q)", msg, tok.Type, tok.Value))
	return tok
}

// addError appends a ParseError at the given token's location.
func (p *Parser) addError(tok lexer.Token, msg string) {
	p.errors = append(p.errors, ParseError{
		Message: msg,
		Line:    tok.Line,
		Column:  tok.Column,
	})
}

// synchronize skips tokens until a likely top-level boundary: just past a
// ';' or right before 'def' / 'extern'.
func (p *Parser) synchronize(start int) {
	if p.pos == start {
		p.advance()
	}
	for !p.check(lexer.EOF) {
		if p.previous().Type == lexer.SEMICOLON {
			return
		}
		switch p.peek().Type {
		case lexer.DEF, lexer.EXTERN:
			return
		}
		p.advance()
	}
}

// position converts a token into an ast.Position.
func (p *Parser) position(tok lexer.Token) ast.Position {
	return ast.Position{Line: tok.Line, Column: tok.Column}
}

// =========================================================================
// Top-level parsing
// =========================================================================

func (p *Parser) parseProgram() []ast.TopLevel {
	var items []ast.TopLevel

	for !p.check(lexer.EOF) {
		if p.match(lexer.SEMICOLON) {
			continue
		}
		start := p.pos
		errCount := len(p.errors)

		var item ast.TopLevel
		switch p.peek().Type {
		case lexer.DEF:
			item = p.parseDefinition()
		case lexer.EXTERN:
			item = p.parseExtern()
		default:
			tok := p.peek()
			body := p.parseExpression()
			item = &ast.TopExpr{Body: body, Pos: p.position(tok)}
		}

		if len(p.errors) > errCount {
			p.synchronize(start)
			continue
		}
		items = append(items, item)
	}

	return items
}

// parseDefinition parses: def <proto> <expr>
func (p *Parser) parseDefinition() *ast.Function {
	tok := p.advance() // consume 'def'
	proto := p.parsePrototype()
	body := p.parseExpression()
	return &ast.Function{Proto: proto, Body: body, Pos: p.position(tok)}
}

// parseExtern parses: extern <proto>
func (p *Parser) parseExtern() *ast.Extern {
	tok := p.advance() // consume 'extern'
	proto := p.parsePrototype()
	return &ast.Extern{Proto: proto, Pos: p.position(tok)}
}

// parsePrototype parses: <name> ( [<param> {, <param>}] )
func (p *Parser) parsePrototype() *ast.Prototype {
	nameTok := p.expect(lexer.IDENT, "expected function name in prototype")
	proto := &ast.Prototype{Name: nameTok.Value, Pos: p.position(nameTok)}
	p.expect(lexer.LPAREN, "expected '(' in prototype")
	if !p.check(lexer.RPAREN) {
		for {
			param := p.expect(lexer.IDENT, "expected parameter name")
			if param.Type != lexer.IDENT {
				return proto
			}
			proto.Params = append(proto.Params, param.Value)
			if !p.match(lexer.COMMA) {
				break
			}
		}
	}
	p.expect(lexer.RPAREN, "expected ')' after parameters")
	return proto
}

// =========================================================================
// Pratt expression parser
// =========================================================================

// parseExpression is the entry point for expression parsing.
func (p *Parser) parseExpression() ast.Expr {
	return p.parsePrecedence(precSeq)
}

// parsePrecedence parses an expression with at least the given minimum
// precedence. This is the core of the Pratt algorithm.
func (p *Parser) parsePrecedence(minPrec int) ast.Expr {
	left := p.parsePrefix()

	for {
		tok := p.peek()
		if tok.Type == lexer.DEFINE {
			if minPrec > precAssign {
				break
			}
			left = p.parseAssign(left)
			continue
		}
		prec := infixPrecedence(tok.Type)
		if prec == precNone || prec < minPrec {
			break
		}
		left = p.parseInfix(left, prec)
	}

	return left
}

// ---- Prefix (atoms and keyword forms) ----

func (p *Parser) parsePrefix() ast.Expr {
	tok := p.peek()

	switch tok.Type {
	case lexer.NUMBER:
		p.advance()
		val, err := strconv.ParseFloat(tok.Value, 64)
		if err != nil {
			p.addError(tok, fmt.Sprintf("invalid number literal %q", tok.Value))
		}
		return &ast.NumberExpr{Value: val, Pos: p.position(tok)}

	case lexer.IDENT:
		p.advance()
		if p.check(lexer.LPAREN) {
			return p.parseCallExpr(tok)
		}
		return &ast.VariableExpr{Name: tok.Value, Pos: p.position(tok)}

	case lexer.LPAREN:
		p.advance()
		expr := p.parseExpression()
		p.expect(lexer.RPAREN, "expected ')' after expression")
		return expr

	case lexer.IF:
		return p.parseIfExpr()

	case lexer.FOR:
		return p.parseForExpr()

	case lexer.VAR:
		return p.parseVarExpr()

	default:
		p.addError(tok, fmt.Sprintf("unexpected token %s in expression", tok.Type))
		p.advance() // consume the bad token so we make progress
		return &ast.NumberExpr{Pos: p.position(tok)}
	}
}

// parseCallExpr parses the argument list after a callee name.
func (p *Parser) parseCallExpr(name lexer.Token) ast.Expr {
	p.advance() // consume '('
	call := &ast.CallExpr{Callee: name.Value, Pos: p.position(name)}
	if !p.check(lexer.RPAREN) {
		for {
			call.Args = append(call.Args, p.parseExpression())
			if !p.match(lexer.COMMA) {
				break
			}
		}
	}
	p.expect(lexer.RPAREN, "expected ')' after arguments")
	return call
}

// parseIfExpr parses: if <cond> then <expr> else <expr>
func (p *Parser) parseIfExpr() ast.Expr {
	tok := p.advance() // consume 'if'
	cond := p.parseExpression()
	p.expect(lexer.THEN, "expected 'then' after if condition")
	then := p.parseExpression()
	p.expect(lexer.ELSE, "expected 'else' (both arms of if are required)")
	els := p.parseExpression()
	return &ast.IfExpr{Cond: cond, Then: then, Else: els, Pos: p.position(tok)}
}

// parseForExpr parses:
//
//	for <var> = <start>, <cond> [, <step>] { <body> }
//	for <var> = <start>, <cond> [, <step>] in <body>
//
// A missing step is the literal 1.0.
func (p *Parser) parseForExpr() ast.Expr {
	tok := p.advance() // consume 'for'
	name := p.expect(lexer.IDENT, "expected loop variable after 'for'")
	p.expect(lexer.ASSIGN, "expected '=' after loop variable")
	start := p.parseExpression()
	p.expect(lexer.COMMA, "expected ',' after loop start value")
	cond := p.parseExpression()

	var step ast.Expr
	if p.match(lexer.COMMA) {
		step = p.parseExpression()
	} else {
		step = &ast.NumberExpr{Value: 1.0, Pos: p.position(p.peek())}
	}

	var body ast.Expr
	if p.match(lexer.IN) {
		body = p.parseExpression()
	} else {
		p.expect(lexer.LBRACE, "expected '{' before loop body")
		body = p.parseExpression()
		p.expect(lexer.RBRACE, "expected '}' after loop body")
	}

	return &ast.ForExpr{
		Var:   name.Value,
		Start: start,
		Cond:  cond,
		Step:  step,
		Body:  body,
		Pos:   p.position(tok),
	}
}

// parseVarExpr parses: var <name> [= <init>] {, <name> [= <init>]} in <body>
// A missing initializer is the literal 0.0.
func (p *Parser) parseVarExpr() ast.Expr {
	tok := p.advance() // consume 'var'
	v := &ast.VarExpr{Pos: p.position(tok)}
	for {
		name := p.expect(lexer.IDENT, "expected variable name after 'var'")
		if name.Type != lexer.IDENT {
			break
		}
		bind := ast.Binding{Name: name.Value, Pos: p.position(name)}
		if p.match(lexer.ASSIGN) {
			bind.Init = p.parseExpression()
		} else {
			bind.Init = &ast.NumberExpr{Value: 0, Pos: p.position(name)}
		}
		v.Bindings = append(v.Bindings, bind)
		if !p.match(lexer.COMMA) {
			break
		}
	}
	p.expect(lexer.IN, "expected 'in' after variable bindings")
	v.Body = p.parseExpression()
	return v
}

// ---- Infix precedence table ----

func infixPrecedence(typ string) int {
	switch typ {
	case lexer.COLON:
		return precSeq
	case lexer.LT, lexer.GT:
		return precComparison
	case lexer.PLUS, lexer.MINUS:
		return precAdditive
	case lexer.STAR, lexer.SLASH:
		return precMultiply
	default:
		return precNone
	}
}

var binaryOps = map[string]ast.BinaryOp{
	lexer.PLUS:  ast.OpAdd,
	lexer.MINUS: ast.OpSub,
	lexer.STAR:  ast.OpMul,
	lexer.SLASH: ast.OpDiv,
	lexer.LT:    ast.OpLess,
	lexer.GT:    ast.OpGreater,
}

// ---- Infix dispatch ----

func (p *Parser) parseInfix(left ast.Expr, prec int) ast.Expr {
	tok := p.advance()
	// Left-associative: recurse with prec+1.
	right := p.parsePrecedence(prec + 1)
	if tok.Type == lexer.COLON {
		return &ast.SeqExpr{Left: left, Right: right, Pos: p.position(tok)}
	}
	return &ast.BinaryExpr{
		Op:    binaryOps[tok.Type],
		Left:  left,
		Right: right,
		Pos:   p.position(tok),
	}
}

// parseAssign parses the right side of <name> := <value>.
func (p *Parser) parseAssign(left ast.Expr) ast.Expr {
	tok := p.advance() // consume ':='
	target, ok := left.(*ast.VariableExpr)
	if !ok {
		p.addError(tok, fmt.Sprintf("left side of ':=' must be a variable, got %s", ast.ExprString(left)))
	}
	value := p.parsePrecedence(precAssign)
	if !ok {
		return value
	}
	return &ast.AssignExpr{Name: target.Name, Value: value, Pos: target.Pos}
}
