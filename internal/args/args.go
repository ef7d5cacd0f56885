// Package args parses the textual argument expression a caller types for a
// function run ("10, \"abc\", [1,2]") into positional values.
package args

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/jkaninda/sandrun/internal/domain"
)

// Parse treats text as the contents of an array literal and decodes it.
// Empty or whitespace-only text yields zero arguments. Any malformed literal
// yields a SyntaxError *domain.Error and no values.
//
// Each value is returned as the json.RawMessage the caller wrote, so number
// literals and object key order reach the isolate unchanged.
func Parse(text string) ([]any, error) {
	if strings.TrimSpace(text) == "" {
		return []any{}, nil
	}

	wrapped := "[" + text + "]"
	dec := json.NewDecoder(strings.NewReader(wrapped))

	var raws []json.RawMessage
	if err := dec.Decode(&raws); err != nil {
		return nil, syntaxError(err, len(text))
	}
	// A second value means text closed the array early ("1],[2").
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, domain.Errorf(domain.KindSyntax,
			"invalid argument list at offset %d: unexpected data after arguments", dec.InputOffset()-1)
	}
	values := make([]any, len(raws))
	for i, raw := range raws {
		values[i] = raw
	}
	return values, nil
}

// MustParse is Parse for literals known to be valid. It panics on error.
func MustParse(text string) []any {
	v, err := Parse(text)
	if err != nil {
		panic(err)
	}
	return v
}

// Encode renders values as the JSON array text handed to an isolate.
// json.RawMessage elements are emitted as written, minus insignificant space.
func Encode(values []any) ([]byte, error) {
	if values == nil {
		values = []any{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(values); err != nil {
		return nil, fmt.Errorf("encoding arguments: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// syntaxError maps a decoder error onto the caller's text. The decoder
// reports the count of bytes read including the offending one and the
// synthetic opening bracket; the message carries the 0-based index into text.
func syntaxError(err error, textLen int) error {
	var se *json.SyntaxError
	if errors.As(err, &se) {
		offset := se.Offset - 2
		if offset < 0 {
			offset = 0
		}
		if offset > int64(textLen) {
			offset = int64(textLen)
		}
		return domain.Errorf(domain.KindSyntax, "invalid argument list at offset %d: %s", offset, se.Error())
	}
	if errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, io.EOF) {
		return domain.Errorf(domain.KindSyntax, "invalid argument list: unexpected end of input")
	}
	return domain.Errorf(domain.KindSyntax, "invalid argument list: %s", err.Error())
}
