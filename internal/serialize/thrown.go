package serialize

import (
	"errors"
	"strings"

	"github.com/dop251/goja"
)

const stackOverflowMessage = "RangeError: Maximum call stack size exceeded"

// Thrown is implemented by errors carrying a value thrown by JavaScript
// (*goja.Exception and the stack overflow error that embeds it).
type Thrown interface {
	error
	Value() goja.Value
}

// DescribeThrown renders err like Describe. A stack overflow carries no
// thrown value and gets a fixed RangeError message.
func DescribeThrown(err Thrown) string {
	var so *goja.StackOverflowError
	if errors.As(err, &so) {
		return stackOverflowMessage
	}
	if v := err.Value(); v != nil {
		return Describe(v)
	}
	msg, _, _ := strings.Cut(err.Error(), " at ")
	if msg == "" || msg == "<nil>" {
		return "uncaught exception"
	}
	return msg
}

// Describe renders a thrown value as a one-line message without a stack
// trace: the bare message for a plain Error, "Name: message" for other
// error classes, and the string conversion of anything else.
func Describe(v goja.Value) (msg string) {
	defer func() {
		if recover() != nil {
			msg = "uncaught exception"
		}
	}()
	if v == nil || goja.IsUndefined(v) {
		return "undefined"
	}
	obj, ok := v.(*goja.Object)
	if !ok || obj.ClassName() != "Error" {
		return v.String()
	}
	name := stringProp(obj, "name")
	message := stringProp(obj, "message")
	switch {
	case name == "" || name == "Error":
		if message == "" {
			return "Error"
		}
		return message
	case message == "":
		return name
	default:
		return name + ": " + message
	}
}

func stringProp(obj *goja.Object, key string) string {
	v := obj.Get(key)
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return ""
	}
	return v.String()
}
