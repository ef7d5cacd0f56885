// Package assemble builds the loadable unit an isolate evaluates: an object
// literal expression with a single method named after the function.
//
//	({
//	  worker_function(n) {
//	    <body>
//	  }
//	})
//
// The unit is inert text. Nothing here executes or checks the body.
package assemble

import (
	"strings"
	"unicode"

	"github.com/jkaninda/sandrun/internal/domain"
)

// DefaultFunctionName is used when a caller does not name the function.
const DefaultFunctionName = "worker_function"

const bodyIndent = "    "

// Unit is an assembled, not yet loaded, function definition.
type Unit struct {
	FunctionName string
	Source       string
}

// Assemble combines name, params and body into a Unit. The name and each
// parameter must be plain identifiers; violations are SyntaxError failures
// detected before any isolate exists.
func Assemble(name string, params []string, body string) (Unit, error) {
	if !IsIdentifier(name) {
		return Unit{}, domain.Errorf(domain.KindSyntax, "invalid function name %q", name)
	}
	seen := make(map[string]struct{}, len(params))
	for _, p := range params {
		if !IsIdentifier(p) {
			return Unit{}, domain.Errorf(domain.KindSyntax, "invalid parameter name %q", p)
		}
		if _, dup := seen[p]; dup {
			return Unit{}, domain.Errorf(domain.KindSyntax, "duplicate parameter name %q", p)
		}
		seen[p] = struct{}{}
	}

	var b strings.Builder
	b.Grow(len(body) + len(name) + 64)
	b.WriteString("({\n  ")
	b.WriteString(name)
	b.WriteByte('(')
	b.WriteString(strings.Join(params, ", "))
	b.WriteString(") {\n")
	b.WriteString(indent(body))
	b.WriteString("\n  }\n})")

	return Unit{FunctionName: name, Source: b.String()}, nil
}

// SplitParams turns "a, b ,c" into [a b c]. Empty entries are dropped.
func SplitParams(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// indent prefixes every body line for readability. Bodies containing a
// template literal or a string line continuation are left untouched: a
// newline inside either is part of a string value.
func indent(body string) string {
	if strings.Contains(body, "`") || strings.Contains(body, "\\\n") {
		return body
	}
	lines := strings.Split(body, "\n")
	for i, l := range lines {
		if strings.TrimSpace(l) != "" {
			lines[i] = bodyIndent + l
		}
	}
	return strings.Join(lines, "\n")
}

// IsIdentifier reports whether s is a JavaScript identifier that is not a
// reserved word.
func IsIdentifier(s string) bool {
	if s == "" {
		return false
	}
	for i, r := range s {
		switch {
		case r == '$' || r == '_':
		case unicode.IsLetter(r):
		case i > 0 && (unicode.IsDigit(r) || unicode.Is(unicode.Mn, r) || unicode.Is(unicode.Mc, r) || unicode.Is(unicode.Pc, r)):
		default:
			return false
		}
	}
	_, reserved := reservedWords[s]
	return !reserved
}

var reservedWords = map[string]struct{}{
	"break": {}, "case": {}, "catch": {}, "class": {}, "const": {}, "continue": {},
	"debugger": {}, "default": {}, "delete": {}, "do": {}, "else": {}, "enum": {},
	"export": {}, "extends": {}, "false": {}, "finally": {}, "for": {}, "function": {},
	"if": {}, "import": {}, "in": {}, "instanceof": {}, "new": {}, "null": {},
	"return": {}, "super": {}, "switch": {}, "this": {}, "throw": {}, "true": {},
	"try": {}, "typeof": {}, "var": {}, "void": {}, "while": {}, "with": {},
	"yield": {}, "let": {}, "static": {}, "implements": {}, "interface": {},
	"package": {}, "private": {}, "protected": {}, "public": {}, "await": {},
	"arguments": {}, "eval": {},
}
