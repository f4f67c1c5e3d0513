// Package sqlparse parses the handful of SQLite statements a declarative
// schema is made of: CREATE TABLE, CREATE INDEX, INSERT INTO ... VALUES, and
// PRAGMA. Anything else is rejected.
package sqlparse

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrUnrecognizedStatement indicates a statement form the parser does not support.
	ErrUnrecognizedStatement = errors.New("sqlparse: unrecognized statement")
)

// SyntaxError describes a malformed statement of a recognized form.
type SyntaxError struct {
	Statement string
	Msg       string
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("sqlparse: %s in %q", e.Msg, abbreviate(e.Statement))
}

// Parse parses a single statement. A trailing semicolon is allowed.
func Parse(sql string) (Statement, error) {
	tokens, err := tokenize(sql)
	if err != nil {
		return nil, err
	}
	p := &parser{src: sql, tokens: tokens}
	stmt, err := p.statement()
	if err != nil {
		return nil, err
	}
	for p.peek().isPunct(";") {
		p.next()
	}
	if p.peek().kind != tokEOF {
		return nil, p.errorf("unexpected %q after statement", p.peek().text)
	}
	return stmt, nil
}

// MustParse is like Parse but panics on error. Intended for tests and
// package-level schema declarations.
func MustParse(sql string) Statement {
	stmt, err := Parse(sql)
	if err != nil {
		panic(err)
	}
	return stmt
}

type parser struct {
	src    string
	tokens []token
	pos    int
}

func (p *parser) peek() token {
	return p.tokens[p.pos]
}

func (p *parser) next() token {
	tok := p.tokens[p.pos]
	if tok.kind != tokEOF {
		p.pos++
	}
	return tok
}

func (p *parser) accept(keyword string) bool {
	if p.peek().is(keyword) {
		p.next()
		return true
	}
	return false
}

func (p *parser) acceptPunct(punct string) bool {
	if p.peek().isPunct(punct) {
		p.next()
		return true
	}
	return false
}

func (p *parser) expect(keyword string) error {
	if !p.accept(keyword) {
		return p.errorf("expected %s, got %q", keyword, p.peek().text)
	}
	return nil
}

func (p *parser) expectPunct(punct string) error {
	if !p.acceptPunct(punct) {
		return p.errorf("expected %q, got %q", punct, p.peek().text)
	}
	return nil
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Statement: p.src, Msg: fmt.Sprintf(format, args...)}
}

func (p *parser) unrecognized() error {
	lead := p.peek().text
	if lead == "" {
		return fmt.Errorf("%w: empty statement", ErrUnrecognizedStatement)
	}
	return fmt.Errorf("%w: %s (%q)", ErrUnrecognizedStatement, strings.ToUpper(lead), abbreviate(p.src))
}

func (p *parser) statement() (Statement, error) {
	switch {
	case p.peek().is("CREATE"):
		return p.create()
	case p.peek().is("INSERT"):
		return p.insert()
	case p.peek().is("PRAGMA"):
		return p.pragma()
	default:
		return nil, p.unrecognized()
	}
}

func (p *parser) create() (Statement, error) {
	start := p.pos
	p.next()
	p.accept("TEMP")
	p.accept("TEMPORARY")
	unique := p.accept("UNIQUE")

	switch {
	case !unique && p.accept("TABLE"):
		return p.createTable()
	case p.accept("INDEX"):
		return p.createIndex(unique)
	default:
		p.pos = start
		return nil, p.unrecognized()
	}
}

func (p *parser) ifNotExists() error {
	if !p.accept("IF") {
		return nil
	}
	if err := p.expect("NOT"); err != nil {
		return err
	}
	return p.expect("EXISTS")
}

// qualifiedName reads [schema.]name and returns the unqualified name.
func (p *parser) qualifiedName() (string, error) {
	name, err := p.name()
	if err != nil {
		return "", err
	}
	if p.acceptPunct(".") {
		return p.name()
	}
	return name, nil
}

func (p *parser) name() (string, error) {
	tok := p.peek()
	switch tok.kind {
	case tokIdent, tokQuoted, tokString:
		p.next()
		if tok.kind == tokString {
			return strings.ReplaceAll(tok.text[1:len(tok.text)-1], "''", "'"), nil
		}
		return unquote(tok), nil
	default:
		return "", p.errorf("expected a name, got %q", tok.text)
	}
}

func (p *parser) createTable() (Statement, error) {
	if err := p.ifNotExists(); err != nil {
		return nil, err
	}
	name, err := p.qualifiedName()
	if err != nil {
		return nil, err
	}
	if p.peek().is("AS") {
		return nil, p.errorf("CREATE TABLE ... AS SELECT is not supported")
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}

	elements, err := p.elements()
	if err != nil {
		return nil, err
	}

	table := &CreateTable{Name: name}
	for _, elem := range elements {
		if len(elem) == 0 {
			return nil, p.errorf("empty table element")
		}
		switch classifyElement(elem) {
		case "FOREIGN":
			table.ForeignKeys = append(table.ForeignKeys, render(elem))
		case "UNIQUE":
			table.UniqueConstraints = append(table.UniqueConstraints, render(elem))
		case "CONSTRAINT":
			table.Constraints = append(table.Constraints, render(elem))
		default:
			table.Columns = append(table.Columns, Column{
				Name:       unquote(elem[0]),
				Definition: render(elem[1:]),
			})
		}
	}
	if len(table.Columns) == 0 {
		return nil, p.errorf("table %q has no columns", name)
	}

	var options []token
	for p.peek().kind != tokEOF && !p.peek().isPunct(";") {
		options = append(options, p.next())
	}
	table.Options = render(options)
	return table, nil
}

// elements collects the comma-separated table elements up to the closing
// parenthesis. Commas nested inside parentheses stay within their element.
func (p *parser) elements() ([][]token, error) {
	var (
		elements [][]token
		current  []token
		depth    int
	)
	for {
		tok := p.next()
		switch {
		case tok.kind == tokEOF:
			return nil, p.errorf("unterminated column list")
		case tok.isPunct("("):
			depth++
		case tok.isPunct(")"):
			if depth == 0 {
				return append(elements, current), nil
			}
			depth--
		case tok.isPunct(",") && depth == 0:
			elements = append(elements, current)
			current = nil
			continue
		}
		current = append(current, tok)
	}
}

// classifyElement tells table constraints apart from column definitions.
func classifyElement(elem []token) string {
	lead := elem[0]
	switch {
	case lead.is("FOREIGN") && len(elem) > 1 && elem[1].is("KEY"):
		return "FOREIGN"
	case lead.is("UNIQUE") && len(elem) > 1 && elem[1].isPunct("("):
		return "UNIQUE"
	case lead.is("PRIMARY") && len(elem) > 1 && elem[1].is("KEY"):
		return "CONSTRAINT"
	case lead.is("CHECK") && len(elem) > 1 && elem[1].isPunct("("):
		return "CONSTRAINT"
	case lead.is("CONSTRAINT") && len(elem) > 2:
		if kind := classifyElement(elem[2:]); kind != "COLUMN" {
			return kind
		}
		return "CONSTRAINT"
	case lead.is("CONSTRAINT"):
		return "CONSTRAINT"
	default:
		return "COLUMN"
	}
}

func (p *parser) createIndex(unique bool) (Statement, error) {
	if err := p.ifNotExists(); err != nil {
		return nil, err
	}
	name, err := p.qualifiedName()
	if err != nil {
		return nil, err
	}
	if err := p.expect("ON"); err != nil {
		return nil, err
	}
	table, err := p.name()
	if err != nil {
		return nil, err
	}
	if !p.peek().isPunct("(") {
		return nil, p.errorf("expected indexed columns after %q", table)
	}
	depth := 0
	for {
		tok := p.peek()
		if tok.kind == tokEOF || (depth == 0 && tok.isPunct(";")) {
			break
		}
		p.next()
		switch {
		case tok.isPunct("("):
			depth++
		case tok.isPunct(")"):
			depth--
		}
	}
	if depth != 0 {
		return nil, p.errorf("unbalanced parentheses in index %q", name)
	}
	return &CreateIndex{Name: name, Table: table, Unique: unique}, nil
}

func (p *parser) insert() (Statement, error) {
	p.next()
	if p.accept("OR") {
		p.next()
	}
	if err := p.expect("INTO"); err != nil {
		return nil, err
	}
	table, err := p.qualifiedName()
	if err != nil {
		return nil, err
	}

	stmt := &Insert{Table: table}
	if p.acceptPunct("(") {
		for {
			col, err := p.name()
			if err != nil {
				return nil, err
			}
			stmt.Columns = append(stmt.Columns, col)
			if p.acceptPunct(")") {
				break
			}
			if err := p.expectPunct(","); err != nil {
				return nil, err
			}
		}
	}

	if !p.accept("VALUES") {
		return nil, p.errorf("only INSERT ... VALUES is supported")
	}
	for {
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		row, err := p.elements()
		if err != nil {
			return nil, err
		}
		values := make([]string, 0, len(row))
		for _, v := range row {
			if len(v) == 0 {
				return nil, p.errorf("empty value in VALUES list")
			}
			values = append(values, render(v))
		}
		if len(stmt.Columns) > 0 && len(values) != len(stmt.Columns) {
			return nil, p.errorf("%d values for %d columns", len(values), len(stmt.Columns))
		}
		stmt.Rows = append(stmt.Rows, values)
		if !p.acceptPunct(",") {
			break
		}
	}
	return stmt, nil
}

func (p *parser) pragma() (Statement, error) {
	p.next()
	name, err := p.qualifiedName()
	if err != nil {
		return nil, err
	}
	stmt := &Pragma{Name: strings.ToLower(name)}

	switch {
	case p.acceptPunct("="):
		value, err := p.pragmaValue()
		if err != nil {
			return nil, err
		}
		stmt.Value = value
	case p.acceptPunct("("):
		value, err := p.pragmaValue()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		stmt.Value = value
	}
	return stmt, nil
}

func (p *parser) pragmaValue() (string, error) {
	var value []token
	if p.peek().isPunct("-") || p.peek().isPunct("+") {
		value = append(value, p.next())
	}
	tok := p.peek()
	switch tok.kind {
	case tokIdent, tokQuoted, tokString, tokNumber:
		p.next()
		value = append(value, tok)
	default:
		return "", p.errorf("expected pragma value, got %q", tok.text)
	}
	text := value[0].text
	if len(value) == 2 {
		text += value[1].text
	}
	return text, nil
}

func abbreviate(sql string) string {
	sql = strings.Join(strings.Fields(sql), " ")
	if len(sql) > 80 {
		return sql[:77] + "..."
	}
	return sql
}
