package sandbox

import (
	"fmt"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dop251/goja"
)

// Policy describes which host capabilities sandboxed code may reach.
//
// Blocked globals are installed as accessors that throw a ReferenceError,
// so touching them fails loudly instead of reading undefined. Every other
// global not listed in AllowedGlobals is removed before each execution.
type Policy struct {
	BlockedGlobals   []string `json:"blockedGlobals" yaml:"blockedGlobals"`
	AllowedGlobals   []string `json:"allowedGlobals" yaml:"allowedGlobals"`
	MaxCallStackSize int      `json:"maxCallStackSize" yaml:"maxCallStackSize"`
	FreezeIntrinsics bool     `json:"freezeIntrinsics" yaml:"freezeIntrinsics"`

	// Capability globs matched against "group.method" with doublestar
	// semantics. An empty allow list allows everything not denied.
	AllowCapabilities []string `json:"allowCapabilities,omitempty" yaml:"allowCapabilities"`
	DenyCapabilities  []string `json:"denyCapabilities,omitempty" yaml:"denyCapabilities"`
}

// DefaultPolicy blocks module loading, process, environment and filesystem
// access and keeps the ECMAScript standard library.
func DefaultPolicy() *Policy {
	return &Policy{
		BlockedGlobals: []string{
			"require", "module", "exports", "process", "global",
			"Buffer", "__dirname", "__filename", "fs", "child_process",
			"setTimeout", "setInterval", "setImmediate", "eval",
		},
		AllowedGlobals: []string{
			"globalThis", "undefined", "NaN", "Infinity",
			"Object", "Array", "String", "Number", "Boolean", "Symbol", "BigInt",
			"Date", "Math", "JSON", "RegExp", "Map", "Set", "WeakMap", "WeakSet", "Promise", "Reflect",
			"Error", "TypeError", "RangeError", "SyntaxError", "ReferenceError", "EvalError", "URIError",
			"ArrayBuffer", "DataView", "Uint8Array", "Int8Array", "Uint16Array", "Int16Array",
			"Uint32Array", "Int32Array", "Float32Array", "Float64Array", "Uint8ClampedArray",
			"isNaN", "isFinite", "parseInt", "parseFloat",
			"encodeURI", "encodeURIComponent", "decodeURI", "decodeURIComponent",
		},
		MaxCallStackSize: 1024,
		FreezeIntrinsics: true,
	}
}

// Validate checks capability patterns
func (p *Policy) Validate() error {
	for _, pattern := range append(append([]string{}, p.AllowCapabilities...), p.DenyCapabilities...) {
		if !doublestar.ValidatePattern(pattern) {
			return fmt.Errorf("invalid capability pattern %q", pattern)
		}
	}
	return nil
}

// AllowsCapability reports whether group.method may be exposed
func (p *Policy) AllowsCapability(group, method string) bool {
	name := group + "." + method
	for _, pattern := range p.DenyCapabilities {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return false
		}
	}
	if len(p.AllowCapabilities) == 0 {
		return true
	}
	for _, pattern := range p.AllowCapabilities {
		if ok, _ := doublestar.Match(pattern, name); ok {
			return true
		}
	}
	return false
}

func (p *Policy) isBlocked(name string) bool {
	for _, b := range p.BlockedGlobals {
		if b == name {
			return true
		}
	}
	return false
}

const denyDynamicCode = `(function() {
	var deny = function() { throw new TypeError('dynamic code evaluation is disabled'); };
	var protos = [
		Object.getPrototypeOf(function() {}),
		Object.getPrototypeOf(async function() {}),
		Object.getPrototypeOf(function*() {})
	];
	for (var i = 0; i < protos.length; i++) {
		Object.defineProperty(protos[i], 'constructor', { value: deny, writable: false, configurable: false });
	}
})();`

const freezeIntrinsics = `(function() {
	var roots = [Object, Function, Array, String, Number, Boolean, Symbol, Date, RegExp,
		Map, Set, WeakMap, WeakSet, Promise, Error, TypeError, RangeError, SyntaxError, ReferenceError];
	for (var i = 0; i < roots.length; i++) {
		Object.freeze(roots[i].prototype);
		Object.freeze(roots[i]);
	}
	Object.freeze(Math);
	Object.freeze(JSON);
	Object.freeze(Reflect);
})();`

// harden installs the one-time protections on a fresh VM and returns the
// global lister later handed to prune.
func (p *Policy) harden(vm *goja.Runtime) (goja.Callable, error) {
	if p.MaxCallStackSize > 0 {
		vm.SetMaxCallStackSize(p.MaxCallStackSize)
	}
	if _, err := vm.RunString(denyDynamicCode); err != nil {
		return nil, fmt.Errorf("failed to disable dynamic code: %w", err)
	}
	if p.FreezeIntrinsics {
		if _, err := vm.RunString(freezeIntrinsics); err != nil {
			return nil, fmt.Errorf("failed to freeze intrinsics: %w", err)
		}
	}

	refErr, ok := goja.AssertConstructor(vm.Get("ReferenceError"))
	if !ok {
		return nil, fmt.Errorf("ReferenceError constructor unavailable")
	}
	list, ok := goja.AssertFunction(vm.Get("Object").ToObject(vm).Get("getOwnPropertyNames"))
	if !ok {
		return nil, fmt.Errorf("getOwnPropertyNames unavailable")
	}

	global := vm.GlobalObject()
	for _, name := range p.BlockedGlobals {
		_ = global.Delete(name)
		blocked := name
		getter := vm.ToValue(func(goja.FunctionCall) goja.Value {
			exc, err := refErr(nil, vm.ToValue(blocked+" is not available in the sandbox"))
			if err != nil {
				panic(vm.NewTypeError(blocked + " is not available in the sandbox"))
			}
			panic(exc)
		})
		if err := global.DefineAccessorProperty(name, getter, nil, goja.FLAG_FALSE, goja.FLAG_FALSE); err != nil {
			return nil, fmt.Errorf("failed to block %s: %w", name, err)
		}
	}
	return list, p.prune(vm, list)
}

// prune removes every global that is neither allowed, blocked nor kept.
// It runs before each execution so globals leaked by a previous script
// on a reused runtime do not survive.
func (p *Policy) prune(vm *goja.Runtime, list goja.Callable, keep ...string) error {
	names, err := list(goja.Undefined(), vm.GlobalObject())
	if err != nil {
		return fmt.Errorf("failed to list globals: %w", err)
	}
	globals, _ := names.Export().([]interface{})

	allowed := make(map[string]struct{}, len(p.AllowedGlobals)+len(keep))
	for _, n := range p.AllowedGlobals {
		allowed[n] = struct{}{}
	}
	for _, n := range keep {
		allowed[n] = struct{}{}
	}

	global := vm.GlobalObject()
	for _, v := range globals {
		name, ok := v.(string)
		if !ok {
			continue
		}
		if _, ok := allowed[name]; ok || p.isBlocked(name) {
			continue
		}
		// Non-configurable globals (undefined, NaN, ...) refuse deletion.
		_ = global.Delete(name)
	}
	return nil
}
