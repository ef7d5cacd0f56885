package serialize

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/dop251/goja"

	"github.com/jkaninda/sandrun/internal/domain"
)

func eval(t *testing.T, src string) (*goja.Runtime, goja.Value) {
	t.Helper()
	rt := goja.New()
	v, err := rt.RunString(src)
	if err != nil {
		t.Fatalf("RunString(%q): %v", src, err)
	}
	return rt, v
}

func TestMarshal(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"integer", `55`, `55`},
		{"float", `1.5`, `1.5`},
		{"negative zero", `-0`, `0`},
		{"string", `"héllo <b>"`, `"héllo <b>"`},
		{"surrogate pair", `"\ud83d\udca1"`, `"💡"`},
		{"bool", `false`, `false`},
		{"null", `null`, `null`},
		{"array", `[1, "a", null, [true]]`, `[1,"a",null,[true]]`},
		{"object keeps key order", `({b: 1, a: 2, c: {z: 0, y: 1}})`, `{"b":1,"a":2,"c":{"z":0,"y":1}}`},
		{"undefined property omitted", `({a: 1, b: undefined})`, `{"a":1}`},
		{"empty containers", `({a: [], b: {}})`, `{"a":[],"b":{}}`},
		{"shared subtree copied", `(function(){ var s = {x: 1}; return {a: s, b: [s, s]}; })()`, `{"a":{"x":1},"b":[{"x":1},{"x":1}]}`},
		{"date via toJSON", `new Date(0)`, `"1970-01-01T00:00:00.000Z"`},
		{"invalid date", `new Date(NaN)`, `null`},
		{"custom toJSON", `({toJSON: function(k) { return [1, k]; }})`, `[1,""]`},
		{"nested toJSON gets key", `({when: {toJSON: function(k) { return k; }}})`, `{"when":"when"}`},
		{"boxed number", `new Number(3)`, `3`},
		{"boxed string", `new String("s")`, `"s"`},
		{"boxed boolean", `new Boolean(false)`, `false`},
		{"class instance", `(function(){ function P(){ this.x = 1; } P.prototype.y = 2; return new P(); })()`, `{"x":1}`},
		{"inherited keys skipped", `Object.create({hidden: 1}, {shown: {value: 2, enumerable: true}})`, `{"shown":2}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, v := eval(t, tt.src)
			got, err := Marshal(rt, v, Options{})
			if err != nil {
				t.Fatalf("Marshal: %v", err)
			}
			if string(got) != tt.want {
				t.Errorf("Marshal = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestMarshal_Rejects(t *testing.T) {
	tests := []struct {
		name    string
		src     string
		kind    domain.Kind
		message string
	}{
		{"undefined result", `undefined`, domain.KindSerialization, "undefined"},
		{"toJSON returning undefined", `({toJSON: function() {}})`, domain.KindSerialization, "undefined"},
		{"self cycle", `(function(){ var o = {}; o.self = o; return o; })()`, domain.KindSerialization, "cyclic structure at $.self"},
		{"array cycle", `(function(){ var a = [1]; a.push({back: a}); return a; })()`, domain.KindSerialization, "cyclic structure at $[1].back"},
		{"function", `(function(){})`, domain.KindSerialization, "functions"},
		{"nested function", `({a: {fn: function(){}}})`, domain.KindSerialization, "$.a.fn"},
		{"symbol", `Symbol("s")`, domain.KindSerialization, "symbols"},
		{"NaN", `NaN`, domain.KindSerialization, "NaN"},
		{"Infinity", `[1, -Infinity]`, domain.KindSerialization, "$[1]"},
		{"undefined array element", `[1, undefined]`, domain.KindSerialization, "$[1]"},
		{"array hole", `[1, , 3]`, domain.KindSerialization, "$[1]"},
		{"map", `new Map()`, domain.KindSerialization, "Map"},
		{"set", `new Set([1])`, domain.KindSerialization, "Set"},
		{"regexp", `/x/`, domain.KindSerialization, "RegExp"},
		{"error object", `new Error("e")`, domain.KindSerialization, "Error"},
		{"quoted key in path", `({"a b": NaN})`, domain.KindSerialization, `$["a b"]`},
		{"lone high surrogate", `"\ud800"`, domain.KindSerialization, "unpaired surrogate at index 0"},
		{"lone low surrogate in array", `["ok", "a\udc00"]`, domain.KindSerialization, "$[1]"},
		{"throwing toJSON", `({toJSON: function() { throw new Error("nope"); }})`, domain.KindRuntime, "nope"},
		{"throwing getter", `({get x() { throw new TypeError("bad getter"); }})`, domain.KindRuntime, "TypeError: bad getter"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rt, v := eval(t, tt.src)
			got, err := Marshal(rt, v, Options{})
			if err == nil {
				t.Fatalf("Marshal = %s, want error", got)
			}
			if k := domain.KindOf(err); k != tt.kind {
				t.Errorf("KindOf(%v) = %s, want %s", err, k, tt.kind)
			}
			if !strings.Contains(err.Error(), tt.message) {
				t.Errorf("error = %q, want it to contain %q", err, tt.message)
			}
		})
	}
}

func TestMarshal_Limits(t *testing.T) {
	rt, deep := eval(t, `(function(){ var o = {}; var c = o; for (var i = 0; i < 50; i++) { c.n = {}; c = c.n; } return o; })()`)
	if _, err := Marshal(rt, deep, Options{MaxDepth: 10}); err == nil || !strings.Contains(err.Error(), "deeper") {
		t.Errorf("depth limit: err = %v, want nested deeper error", err)
	}
	if _, err := Marshal(rt, deep, Options{}); err != nil {
		t.Errorf("default depth: %v", err)
	}

	rt, wide := eval(t, `(function(){ var a = []; for (var i = 0; i < 40; i++) a.push([i]); return a; })()`)
	if _, err := Marshal(rt, wide, Options{MaxNodes: 50}); err == nil || !strings.Contains(err.Error(), "more than 50") {
		t.Errorf("node limit: err = %v, want node limit error", err)
	}

	rt, big := eval(t, `"x".repeat(100)`)
	if _, err := Marshal(rt, big, Options{MaxResultBytes: 64}); err == nil || domain.KindOf(err) != domain.KindSerialization {
		t.Errorf("byte limit: err = %v, want SerializationError", err)
	}
}

// Values from the JSON-like literal grammar survive the trip unchanged.
func TestMarshal_RoundTrip(t *testing.T) {
	literals := []string{
		`0`, `-12.25`, `1e21`, `"multi\nline \"quoted\""`, `true`, `null`,
		`[]`, `{}`, `[1,[2,[3,[4]]]]`,
		`{"a":{"b":[1,"two",false,null,{"c":[]}]},"z":-1}`,
	}
	for _, lit := range literals {
		rt := goja.New()
		v, err := rt.RunString("JSON.parse(" + quote(lit) + ")")
		if err != nil {
			t.Fatalf("JSON.parse(%s): %v", lit, err)
		}
		got, err := Marshal(rt, v, Options{})
		if err != nil {
			t.Fatalf("Marshal(%s): %v", lit, err)
		}
		var want, back any
		if err := json.Unmarshal([]byte(lit), &want); err != nil {
			t.Fatal(err)
		}
		if err := json.Unmarshal(got, &back); err != nil {
			t.Fatalf("Unmarshal(%s): %v", got, err)
		}
		if !reflect.DeepEqual(back, want) {
			t.Errorf("round trip of %s = %s", lit, got)
		}
	}
}

func TestDescribe(t *testing.T) {
	tests := []struct {
		src  string
		want string
	}{
		{`new Error("boom")`, "boom"},
		{`new TypeError("bad")`, "TypeError: bad"},
		{`new RangeError()`, "RangeError"},
		{`"plain string"`, "plain string"},
		{`42`, "42"},
		{`({toString: function() { throw 1; }})`, "uncaught exception"},
	}
	for _, tt := range tests {
		_, v := eval(t, tt.src)
		if got := Describe(v); got != tt.want {
			t.Errorf("Describe(%s) = %q, want %q", tt.src, got, tt.want)
		}
	}
}

func TestDescribeThrown(t *testing.T) {
	rt := goja.New()
	rt.SetMaxCallStackSize(64)
	_, err := rt.RunString(`(function r() { return r(); })()`)
	var th Thrown
	if !errors.As(err, &th) {
		t.Fatalf("RunString error = %v, want a thrown error", err)
	}
	if got := DescribeThrown(th); got != "RangeError: Maximum call stack size exceeded" {
		t.Errorf("DescribeThrown(stack overflow) = %q", got)
	}

	_, err = rt.RunString(`throw new TypeError("bad")`)
	if !errors.As(err, &th) {
		t.Fatalf("RunString error = %v, want a thrown error", err)
	}
	if got := DescribeThrown(th); got != "TypeError: bad" {
		t.Errorf("DescribeThrown(TypeError) = %q", got)
	}
}

func quote(s string) string {
	b, _ := json.Marshal(s)
	return string(b)
}
