package sandbox

import (
	"fmt"
	"strings"
	"sync"

	"github.com/dop251/goja"
)

// console is the only host binding exposed to user code. Output is kept in
// memory, capped by line count and total bytes; excess is counted, not kept.
type console struct {
	mu        sync.Mutex
	lines     []string
	remaining int
	maxLines  int
	dropped   int

	json      goja.Value
	stringify goja.Callable
}

func newConsole(maxLines, maxBytes int, jsonObj goja.Value, stringify goja.Callable) *console {
	return &console{
		remaining: maxBytes,
		maxLines:  maxLines,
		json:      jsonObj,
		stringify: stringify,
	}
}

func (c *console) install(rt *goja.Runtime) error {
	obj := rt.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		if err := obj.Set(level, c.method(level)); err != nil {
			return err
		}
	}
	return rt.Set("console", obj)
}

func (c *console) method(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, 0, len(call.Arguments))
		for _, arg := range call.Arguments {
			parts = append(parts, c.format(arg))
		}
		line := strings.Join(parts, " ")
		if level == "warn" || level == "error" || level == "debug" {
			line = "[" + level + "] " + line
		}
		c.append(line)
		return goja.Undefined()
	}
}

func (c *console) format(v goja.Value) string {
	obj, ok := v.(*goja.Object)
	if !ok {
		return v.String()
	}
	if _, isFn := goja.AssertFunction(obj); isFn {
		return "[Function]"
	}
	if obj.ClassName() == "Error" {
		return v.String()
	}
	s, err := c.stringify(c.json, v)
	if err != nil || s == nil || goja.IsUndefined(s) {
		return "[object " + obj.ClassName() + "]"
	}
	return s.String()
}

func (c *console) append(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.lines) >= c.maxLines || c.remaining <= 0 {
		c.dropped++
		return
	}
	if len(line) > c.remaining {
		line = strings.ToValidUTF8(line[:c.remaining], "")
	}
	c.remaining -= len(line)
	c.lines = append(c.lines, line)
}

// Logs returns the captured lines, followed by a marker when any were dropped.
func (c *console) Logs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.lines), len(c.lines)+1)
	copy(out, c.lines)
	if c.dropped > 0 {
		out = append(out, fmt.Sprintf("... %d more console lines dropped", c.dropped))
	}
	return out
}
