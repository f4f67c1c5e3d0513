package sqlparse

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2/lexer"
)

type tokenKind int

const (
	tokEOF tokenKind = iota
	tokIdent
	tokQuoted
	tokString
	tokBlob
	tokNumber
	tokPunct
)

type token struct {
	kind tokenKind
	text string
}

// upper returns the keyword form of a bare identifier.
func (t token) upper() string {
	if t.kind != tokIdent {
		return t.text
	}
	return strings.ToUpper(t.text)
}

func (t token) is(keyword string) bool {
	return t.kind == tokIdent && strings.EqualFold(t.text, keyword)
}

func (t token) isPunct(p string) bool {
	return t.kind == tokPunct && t.text == p
}

// sqlLexer tokenizes the subset of SQLite syntax this package understands.
// Order matters: blobs before identifiers, comments before punctuation.
var sqlLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Comment", Pattern: `--[^\n]*|/\*(?s:.*?)\*/`},
	{Name: "Whitespace", Pattern: `\s+`},
	{Name: "Blob", Pattern: `[xX]'[0-9a-fA-F]*'`},
	{Name: "String", Pattern: `'(?:[^']|'')*'`},
	{Name: "Quoted", Pattern: "\"(?:[^\"]|\"\")*\"|`[^`]*`|\\[[^\\]]*\\]"},
	{Name: "Number", Pattern: `(?:\d+(?:\.\d*)?|\.\d+)(?:[eE][-+]?\d+)?`},
	{Name: "Ident", Pattern: `[A-Za-z_][A-Za-z0-9_$]*`},
	{Name: "Punct", Pattern: `<>|!=|<=|>=|==|\|\||<<|>>|[-+*/%=<>&|~.,;()?:@$]`},
})

var symbolKinds = func() map[lexer.TokenType]tokenKind {
	symbols := sqlLexer.Symbols()
	return map[lexer.TokenType]tokenKind{
		symbols["Ident"]:  tokIdent,
		symbols["Quoted"]: tokQuoted,
		symbols["String"]: tokString,
		symbols["Blob"]:   tokBlob,
		symbols["Number"]: tokNumber,
		symbols["Punct"]:  tokPunct,
	}
}()

// tokenize lexes src, dropping whitespace and comments. The returned slice
// always ends with a tokEOF token.
func tokenize(src string) ([]token, error) {
	lex, err := sqlLexer.LexString("", src)
	if err != nil {
		return nil, fmt.Errorf("sqlparse: tokenize: %w", err)
	}
	raw, err := lexer.ConsumeAll(lex)
	if err != nil {
		return nil, fmt.Errorf("sqlparse: tokenize: %w", err)
	}

	tokens := make([]token, 0, len(raw))
	for _, tok := range raw {
		if tok.EOF() {
			break
		}
		kind, ok := symbolKinds[tok.Type]
		if !ok {
			continue
		}
		tokens = append(tokens, token{kind: kind, text: tok.Value})
	}
	return append(tokens, token{kind: tokEOF}), nil
}

// render joins tokens into normalized SQL text: single spaces between
// tokens, none inside parentheses or before commas, bare words upper-cased.
func render(tokens []token) string {
	var b strings.Builder
	for i, tok := range tokens {
		if i > 0 {
			prev := tokens[i-1]
			switch {
			case prev.isPunct("("), prev.isPunct("."):
			case tok.isPunct(")"), tok.isPunct(","), tok.isPunct("."):
			default:
				b.WriteByte(' ')
			}
		}
		b.WriteString(tok.upper())
	}
	return b.String()
}

// unquote strips SQLite identifier quoting.
func unquote(tok token) string {
	if tok.kind != tokQuoted || len(tok.text) < 2 {
		return tok.text
	}
	inner := tok.text[1 : len(tok.text)-1]
	switch tok.text[0] {
	case '"':
		return strings.ReplaceAll(inner, `""`, `"`)
	default:
		return inner
	}
}

// QuoteIdent quotes name for use as a SQLite identifier.
func QuoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// Split breaks a script into individual statements on top-level semicolons.
// Semicolons inside strings, quoted identifiers, and comments do not split.
// Empty statements are dropped.
func Split(script string) ([]string, error) {
	lex, err := sqlLexer.LexString("", script)
	if err != nil {
		return nil, fmt.Errorf("sqlparse: split: %w", err)
	}
	raw, err := lexer.ConsumeAll(lex)
	if err != nil {
		return nil, fmt.Errorf("sqlparse: split: %w", err)
	}

	punct := sqlLexer.Symbols()["Punct"]
	var (
		statements []string
		start      = 0
	)
	flush := func(end int) {
		stmt := strings.TrimSpace(script[start:end])
		if stmt != "" && !onlyComments(stmt) {
			statements = append(statements, stmt)
		}
	}
	for _, tok := range raw {
		if tok.EOF() {
			break
		}
		if tok.Type == punct && tok.Value == ";" {
			flush(tok.Pos.Offset)
			start = tok.Pos.Offset + 1
		}
	}
	flush(len(script))
	return statements, nil
}

func onlyComments(stmt string) bool {
	tokens, err := tokenize(stmt)
	return err == nil && len(tokens) == 1
}
