package args

import (
	"encoding/json"
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"github.com/jkaninda/sandrun/internal/domain"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string // JSON of the expected values
	}{
		{"empty", "", `[]`},
		{"whitespace", "  \t\n ", `[]`},
		{"single number", "10", `[10]`},
		{"mixed", `10, "abc", 20`, `[10,"abc",20]`},
		{"literals", `true, false, null`, `[true,false,null]`},
		{"nested", `[1, [2]], {"a": {"b": null}}`, `[[1,[2]],{"a":{"b":null}}]`},
		{"float and exponent", `-1.5, 2e3`, `[-1.5,2e3]`},
		{"large int kept exact", `12345678901234567890`, `[12345678901234567890]`},
		{"unicode string", `"héllo", "💡"`, `["héllo","💡"]`},
		{"object key order kept", `{"zeta": 1, "alpha": {"y": 2, "x": 3}}`, `[{"zeta":1,"alpha":{"y":2,"x":3}}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.in)
			if err != nil {
				t.Fatalf("Parse(%q): %v", tt.in, err)
			}
			enc, err := Encode(got)
			if err != nil {
				t.Fatalf("Encode: %v", err)
			}
			if string(enc) != tt.want {
				t.Errorf("Parse(%q) = %s, want %s", tt.in, enc, tt.want)
			}
		})
	}
}

func TestParse_Errors(t *testing.T) {
	inputs := []string{
		`10, "abc", )`,
		`1,`,
		`'single'`,
		`undefined`,
		`[1, 2`,
		`{"a":}`,
		`1],[2`,
		`1] , [2`,
		`NaN`,
		`0x10`,
		`"unterminated`,
		`// comment`,
	}
	for _, in := range inputs {
		t.Run(in, func(t *testing.T) {
			got, err := Parse(in)
			if err == nil {
				t.Fatalf("Parse(%q) = %v, want error", in, got)
			}
			if got != nil {
				t.Errorf("Parse(%q) returned values %v alongside error", in, got)
			}
			if k := domain.KindOf(err); k != domain.KindSyntax {
				t.Errorf("KindOf = %s, want %s", k, domain.KindSyntax)
			}
			if !strings.Contains(err.Error(), "invalid argument list") {
				t.Errorf("error = %q, want argument list message", err)
			}
		})
	}
}

func TestParse_OffsetPointsIntoInput(t *testing.T) {
	_, err := Parse(`10, "abc", )`)
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "offset 11") {
		t.Errorf("error = %q, want offset 11", err)
	}
}

// Every input yields exactly one of values or error.
func TestParse_Total(t *testing.T) {
	alphabet := []byte(`0123456789-+.eE"\ ,:[]{}truefalsnul` + "\t\n\x00\xff")
	r := rand.New(rand.NewSource(1))
	for i := 0; i < 5000; i++ {
		n := r.Intn(24)
		b := make([]byte, n)
		for j := range b {
			b[j] = alphabet[r.Intn(len(alphabet))]
		}
		got, err := Parse(string(b))
		if (err == nil) == (got == nil) {
			t.Fatalf("Parse(%q) = (%v, %v), want exactly one of values or error", b, got, err)
		}
	}
}

func TestParse_RoundTrip(t *testing.T) {
	inputs := []string{`1, "two", [3, {"four": 4}], null, true`, `{"k": [[], {}]}`}
	for _, in := range inputs {
		got, err := Parse(in)
		if err != nil {
			t.Fatalf("Parse(%q): %v", in, err)
		}
		var want []any
		if err := json.Unmarshal([]byte("["+in+"]"), &want); err != nil {
			t.Fatal(err)
		}
		enc, _ := Encode(got)
		var back []any
		if err := json.Unmarshal(enc, &back); err != nil {
			t.Fatal(err)
		}
		if !reflect.DeepEqual(back, want) {
			t.Errorf("round trip of %q = %v, want %v", in, back, want)
		}
	}
}
