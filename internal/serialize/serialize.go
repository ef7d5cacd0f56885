// Package serialize converts a value returned by user code into a finite,
// transport-safe tree and its JSON encoding.
//
// The accepted shapes are null, booleans, finite numbers, strings, arrays and
// plain objects, plus anything reachable through a callable toJSON (Date).
// Everything else is rejected with a SerializationError rather than being
// silently coerced:
//   - undefined as the result or as an array element
//   - functions, symbols, NaN and ±Infinity
//   - objects of other classes (Map, Set, RegExp, Error, Promise, ...)
//   - cycles, and trees deeper or larger than the configured limits
//
// Object properties holding undefined are omitted. Shared sub-objects that do
// not form a cycle are copied.
package serialize

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/dop251/goja"
	orderedmap "github.com/wk8/go-ordered-map/v2"

	"github.com/jkaninda/sandrun/internal/domain"
)

const (
	DefaultMaxDepth       = 256
	DefaultMaxNodes       = 1_000_000
	DefaultMaxResultBytes = 8 << 20 // 8 MB
)

// Options bounds the size of an exported value.
type Options struct {
	MaxDepth       int `json:"max_depth,omitempty"`
	MaxNodes       int `json:"max_nodes,omitempty"`
	MaxResultBytes int `json:"max_result_bytes,omitempty"`
}

func (o Options) withDefaults() Options {
	if o.MaxDepth <= 0 {
		o.MaxDepth = DefaultMaxDepth
	}
	if o.MaxNodes <= 0 {
		o.MaxNodes = DefaultMaxNodes
	}
	if o.MaxResultBytes <= 0 {
		o.MaxResultBytes = DefaultMaxResultBytes
	}
	return o
}

// Object is the exported form of a plain object. Keys keep their JavaScript
// enumeration order.
type Object = orderedmap.OrderedMap[string, any]

// Export walks v and returns a tree of nil, bool, int64, float64, string,
// []any and *Object. rt is the runtime v belongs to; it is used to call
// toJSON and valueOf. Errors are SerializationError unless user code invoked
// during the walk (a getter, toJSON, a proxy trap) threw, which is a
// RuntimeError.
func Export(rt *goja.Runtime, v goja.Value, opts Options) (out any, err error) {
	w := &walker{rt: rt, opts: opts.withDefaults(), ancestors: make(map[*goja.Object]struct{})}
	// Getters and proxy traps run user code outside the VM's own exception
	// handling, so a throw surfaces here as a panic.
	defer func() {
		if r := recover(); r != nil {
			out, err = nil, recovered(r)
		}
	}()
	if isUndefined(v) {
		return nil, errUndefinedResult
	}
	out, err = w.walk(v, "", "$", 0, true)
	if _, skip := out.(omitted); skip && err == nil {
		return nil, errUndefinedResult
	}
	return out, err
}

var errUndefinedResult = domain.Errorf(domain.KindSerialization, "function returned undefined (missing return statement?)")

// Marshal exports v and encodes it as compact JSON.
func Marshal(rt *goja.Runtime, v goja.Value, opts Options) (json.RawMessage, error) {
	opts = opts.withDefaults()
	tree, err := Export(rt, v, opts)
	if err != nil {
		return nil, err
	}
	return Encode(tree, opts.MaxResultBytes)
}

// Encode renders an exported tree as JSON, enforcing maxBytes when positive.
func Encode(tree any, maxBytes int) (json.RawMessage, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(tree); err != nil {
		return nil, domain.Errorf(domain.KindSerialization, "encoding result: %s", err.Error())
	}
	out := bytes.TrimRight(buf.Bytes(), "\n")
	if maxBytes > 0 && len(out) > maxBytes {
		return nil, domain.Errorf(domain.KindSerialization, "result is %d bytes, limit is %d", len(out), maxBytes)
	}
	return json.RawMessage(out), nil
}

type walker struct {
	rt        *goja.Runtime
	opts      Options
	nodes     int
	ancestors map[*goja.Object]struct{}
}

// omitted marks a value that JSON drops: undefined, or a toJSON returning it.
type omitted struct{}

func (w *walker) walk(v goja.Value, key, path string, depth int, callToJSON bool) (any, error) {
	w.nodes++
	if w.nodes > w.opts.MaxNodes {
		return nil, w.fail(path, "result has more than %d values", w.opts.MaxNodes)
	}
	if depth > w.opts.MaxDepth {
		return nil, w.fail(path, "result is nested deeper than %d levels", w.opts.MaxDepth)
	}

	if isUndefined(v) {
		return omitted{}, nil
	}
	if goja.IsNull(v) {
		return nil, nil
	}

	switch x := v.(type) {
	case *goja.Symbol:
		return nil, w.fail(path, "symbols are not serializable")
	case *goja.Object:
		return w.walkObject(x, key, path, depth, callToJSON)
	case goja.String:
		if i := unpairedSurrogate(x); i >= 0 {
			return nil, w.fail(path, "string has an unpaired surrogate at index %d", i)
		}
	}

	return w.primitive(v.Export(), path)
}

// unpairedSurrogate returns the index of the first UTF-16 code unit in s
// that is not part of a valid surrogate pair, or -1.
func unpairedSurrogate(s goja.String) int {
	n := s.Length()
	for i := 0; i < n; i++ {
		c := s.CharAt(i)
		switch {
		case c >= 0xD800 && c <= 0xDBFF:
			if i+1 < n {
				if next := s.CharAt(i + 1); next >= 0xDC00 && next <= 0xDFFF {
					i++
					continue
				}
			}
			return i
		case c >= 0xDC00 && c <= 0xDFFF:
			return i
		}
	}
	return -1
}

func (w *walker) primitive(exported any, path string) (any, error) {
	switch p := exported.(type) {
	case nil:
		return nil, nil
	case bool, string, int64:
		return p, nil
	case float64:
		if math.IsNaN(p) || math.IsInf(p, 0) {
			return nil, w.fail(path, "%v is not serializable", p)
		}
		if p == 0 {
			return int64(0), nil
		}
		return p, nil
	default:
		return nil, w.fail(path, "values of Go type %T are not serializable", exported)
	}
}

func (w *walker) walkObject(obj *goja.Object, key, path string, depth int, callToJSON bool) (any, error) {
	if _, ok := w.ancestors[obj]; ok {
		return nil, w.fail(path, "cyclic structure")
	}

	if callToJSON {
		if toJSON, ok := goja.AssertFunction(obj.Get("toJSON")); ok {
			res, err := toJSON(obj, w.rt.ToValue(key))
			if err != nil {
				return nil, thrown(err)
			}
			w.ancestors[obj] = struct{}{}
			defer delete(w.ancestors, obj)
			return w.walk(res, key, path, depth, false)
		}
	}

	if _, ok := goja.AssertFunction(obj); ok {
		return nil, w.fail(path, "functions are not serializable")
	}

	switch class := obj.ClassName(); class {
	case "Array":
		w.ancestors[obj] = struct{}{}
		defer delete(w.ancestors, obj)
		return w.walkArray(obj, path, depth)
	case "Object":
		w.ancestors[obj] = struct{}{}
		defer delete(w.ancestors, obj)
		return w.walkPlain(obj, path, depth)
	case "Number", "String", "Boolean":
		valueOf, ok := goja.AssertFunction(obj.Get("valueOf"))
		if !ok {
			return nil, w.fail(path, "%s object without valueOf", class)
		}
		res, err := valueOf(obj)
		if err != nil {
			return nil, thrown(err)
		}
		if _, isObj := res.(*goja.Object); isObj {
			return nil, w.fail(path, "%s object did not unwrap to a primitive", class)
		}
		return w.primitive(res.Export(), path)
	default:
		return nil, w.fail(path, "%s values are not serializable", class)
	}
}

func (w *walker) walkArray(obj *goja.Object, path string, depth int) (any, error) {
	n := obj.Get("length").ToInteger()
	if n < 0 || n > int64(w.opts.MaxNodes) {
		return nil, w.fail(path, "array length %d exceeds limit", n)
	}
	out := make([]any, 0, n)
	for i := int64(0); i < n; i++ {
		idx := strconv.FormatInt(i, 10)
		elPath := path + "[" + idx + "]"
		el, err := w.walk(obj.Get(idx), idx, elPath, depth+1, true)
		if err != nil {
			return nil, err
		}
		if _, skip := el.(omitted); skip {
			return nil, w.fail(elPath, "undefined array elements are not serializable")
		}
		out = append(out, el)
	}
	return out, nil
}

func (w *walker) walkPlain(obj *goja.Object, path string, depth int) (any, error) {
	out := orderedmap.New[string, any]()
	for _, k := range obj.Keys() {
		v, err := w.walk(obj.Get(k), k, childPath(path, k), depth+1, true)
		if err != nil {
			return nil, err
		}
		if _, skip := v.(omitted); skip {
			continue
		}
		out.Set(k, v)
	}
	return out, nil
}

func (w *walker) fail(path, format string, args ...any) error {
	return domain.Errorf(domain.KindSerialization, "%s at %s", fmt.Sprintf(format, args...), path)
}

func childPath(parent, key string) string {
	if isSimpleKey(key) {
		return parent + "." + key
	}
	return parent + "[" + strconv.Quote(key) + "]"
}

func isSimpleKey(k string) bool {
	if k == "" {
		return false
	}
	for i, r := range k {
		if r == '_' || r == '$' || (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (i > 0 && r >= '0' && r <= '9') {
			continue
		}
		return false
	}
	return true
}

func isUndefined(v goja.Value) bool {
	return v == nil || goja.IsUndefined(v)
}

func recovered(r any) error {
	switch x := r.(type) {
	case Thrown:
		return domain.Errorf(domain.KindRuntime, "%s", DescribeThrown(x))
	case goja.Value:
		return domain.Errorf(domain.KindRuntime, "%s", Describe(x))
	case error:
		return fmt.Errorf("serializing result: %w", x)
	default:
		return domain.Errorf(domain.KindHost, "serializing result: %v", r)
	}
}

// thrown converts an error returned by a goja callable into a RuntimeError.
// Interrupts pass through unchanged.
func thrown(err error) error {
	var ex Thrown
	if errors.As(err, &ex) {
		return domain.Errorf(domain.KindRuntime, "%s", DescribeThrown(ex))
	}
	return err
}
