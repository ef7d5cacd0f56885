package sandbox

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/dop251/goja"

	"github.com/jkaninda/sandrun/internal/domain"
	"github.com/jkaninda/sandrun/internal/serialize"
)

// errInterrupted is what a VM reports once Interrupt has been called.
// Callers that terminated the isolate discard it.
var errInterrupted = domain.Errorf(domain.KindTimeout, "execution interrupted")

// lockdown removes eval and replaces the Function constructor so code
// cannot be generated from strings.
const lockdown = `(function (global) {
	delete global.eval;
	var F = global.Function;
	var blocked = function Function() {
		throw new EvalError('code generation from strings is disabled');
	};
	blocked.prototype = F.prototype;
	Object.defineProperty(F.prototype, 'constructor', {
		value: blocked, writable: false, enumerable: false, configurable: false
	});
	Object.defineProperty(global, 'Function', {
		value: blocked, writable: false, enumerable: false, configurable: false
	});
})(this);`

// Generator and async function constructors are reachable through their
// prototypes. The snippets fail harmlessly where the syntax is unsupported.
var lockdownVariants = []string{"function* () {}", "async function () {}", "async function* () {}"}

const lockdownVariant = `(function () {
	var proto = Object.getPrototypeOf(%s);
	Object.defineProperty(proto, 'constructor', {
		value: function () { throw new EvalError('code generation from strings is disabled'); },
		writable: false, enumerable: false, configurable: false
	});
})();`

// VM is a single-use JavaScript runtime with a restricted global
// environment: no eval, no Function constructor, no host bindings beyond a
// bounded console.
type VM struct {
	rt          *goja.Runtime
	console     *console
	json        goja.Value
	parse       goja.Callable
	limits      Limits
	interrupted atomic.Bool
}

// Module is a loaded unit.
type Module struct {
	obj *goja.Object
}

// NewVM creates a fresh runtime. Nothing is shared between VMs.
func NewVM(limits Limits) (*VM, error) {
	limits = limits.withDefaults()

	rt := goja.New()
	rt.SetMaxCallStackSize(limits.MaxCallStackSize)

	jsonObj := rt.Get("JSON").ToObject(rt)
	parse, ok := goja.AssertFunction(jsonObj.Get("parse"))
	if !ok {
		return nil, errors.New("JSON.parse is not callable")
	}
	stringify, ok := goja.AssertFunction(jsonObj.Get("stringify"))
	if !ok {
		return nil, errors.New("JSON.stringify is not callable")
	}

	vm := &VM{
		rt:      rt,
		json:    jsonObj,
		parse:   parse,
		limits:  limits,
		console: newConsole(limits.MaxLogLines, limits.MaxLogBytes, jsonObj, stringify),
	}
	if err := vm.console.install(rt); err != nil {
		return nil, fmt.Errorf("installing console: %w", err)
	}
	if err := restrictGlobals(rt); err != nil {
		return nil, fmt.Errorf("restricting globals: %w", err)
	}
	return vm, nil
}

func restrictGlobals(rt *goja.Runtime) error {
	if _, err := rt.RunString(lockdown); err != nil {
		return err
	}
	for _, fn := range lockdownVariants {
		_, _ = rt.RunString(fmt.Sprintf(lockdownVariant, fn))
	}
	return nil
}

// Args decodes a JSON array into native JavaScript values owned by this VM.
func (vm *VM) Args(raw []byte) ([]goja.Value, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	v, err := vm.parse(vm.json, vm.rt.ToValue(string(raw)))
	if err != nil {
		if vm.interrupted.Load() {
			return nil, errInterrupted
		}
		return nil, domain.Errorf(domain.KindSyntax, "invalid arguments: %s", vm.describe(err))
	}
	arr, ok := v.(*goja.Object)
	if !ok || arr.ClassName() != "Array" {
		return nil, domain.Errorf(domain.KindSyntax, "invalid arguments: not an array")
	}
	n := arr.Get("length").ToInteger()
	out := make([]goja.Value, n)
	for i := range out {
		out[i] = arr.Get(strconv.Itoa(i))
	}
	return out, nil
}

// Load compiles and evaluates unit. The unit must evaluate to an object.
func (vm *VM) Load(unit string) (*Module, error) {
	prog, err := goja.Compile("unit.js", unit, false)
	if err != nil {
		return nil, domain.Errorf(domain.KindSyntax, "%s", strings.TrimPrefix(err.Error(), "SyntaxError: "))
	}
	v, err := vm.rt.RunProgram(prog)
	if err != nil {
		err = vm.normalize(err)
		if msg := domain.MessageOf(err); strings.HasPrefix(msg, "SyntaxError: ") {
			return nil, domain.Errorf(domain.KindSyntax, "%s", strings.TrimPrefix(msg, "SyntaxError: "))
		}
		return nil, err
	}
	obj, ok := v.(*goja.Object)
	if !ok {
		return nil, domain.Errorf(domain.KindRuntime, "unit did not evaluate to an object")
	}
	return &Module{obj: obj}, nil
}

// Invoke calls the function named name on m with positional args.
func (vm *VM) Invoke(m *Module, name string, args []goja.Value) (goja.Value, error) {
	fn, ok := goja.AssertFunction(m.obj.Get(name))
	if !ok {
		return nil, domain.Errorf(domain.KindRuntime, "function not found: %s", name)
	}
	res, err := fn(m.obj, args...)
	if err != nil {
		return nil, vm.normalize(err)
	}
	return res, nil
}

// Marshal serializes a returned value under the VM's limits.
func (vm *VM) Marshal(v goja.Value) ([]byte, error) {
	raw, err := serialize.Marshal(vm.rt, v, vm.limits.Serialize)
	if err != nil {
		return nil, vm.normalize(err)
	}
	return raw, nil
}

// Interrupt aborts running code. It is safe to call from any goroutine;
// the VM must not be used afterwards.
func (vm *VM) Interrupt(reason string) {
	vm.interrupted.Store(true)
	vm.rt.Interrupt(reason)
}

// Logs returns captured console output.
func (vm *VM) Logs() []string {
	return vm.console.Logs()
}

// normalize maps any error surfaced by the runtime to a classified one.
func (vm *VM) normalize(err error) error {
	var interrupted *goja.InterruptedError
	if vm.interrupted.Load() || errors.As(err, &interrupted) {
		return errInterrupted
	}
	var de *domain.Error
	if errors.As(err, &de) {
		return de
	}
	return domain.Errorf(domain.KindRuntime, "%s", vm.describe(err))
}

// recovered classifies a panic that escaped the runtime.
func (vm *VM) recovered(r any) error {
	if vm.interrupted.Load() {
		return errInterrupted
	}
	switch x := r.(type) {
	case serialize.Thrown:
		return domain.Errorf(domain.KindRuntime, "%s", serialize.DescribeThrown(x))
	case goja.Value:
		return domain.Errorf(domain.KindRuntime, "%s", serialize.Describe(x))
	case error:
		return vm.normalize(x)
	default:
		return domain.Errorf(domain.KindHost, "isolate panic: %v", r)
	}
}

func (vm *VM) describe(err error) string {
	var thrown serialize.Thrown
	if errors.As(err, &thrown) {
		return serialize.DescribeThrown(thrown)
	}
	return err.Error()
}
