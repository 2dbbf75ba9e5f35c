package sandbox

import (
	"context"
	"fmt"
	"sort"

	"github.com/dop251/goja"
)

// Method is a host operation callable from sandboxed code. It receives the
// single parameter object passed by the script.
type Method func(ctx context.Context, params map[string]interface{}) (interface{}, error)

// Group is a named set of methods
type Group map[string]Method

// Capabilities is the tree of host operations offered to a script,
// addressed as <root>.<group>.<method>(params). The sandbox treats it as
// read-only and never takes ownership of anything behind it.
type Capabilities map[string]Group

// Shape extracts the names-only projection used across the isolation
// boundary. Nil groups, empty groups and nil methods are skipped so a
// partially built map degrades instead of failing.
func Shape(caps Capabilities) map[string][]string {
	shape := make(map[string][]string)
	for group, methods := range caps {
		if methods == nil {
			continue
		}
		names := make([]string, 0, len(methods))
		for name, fn := range methods {
			if fn == nil {
				continue
			}
			names = append(names, name)
		}
		if len(names) == 0 {
			continue
		}
		sort.Strings(names)
		shape[group] = names
	}
	return shape
}

// Dispatcher is the string-keyed dispatch table built once per execution.
// Only names present in the supplied map and admitted by the policy are
// callable.
type Dispatcher struct {
	table map[string]Method
	shape map[string][]string
}

// NewDispatcher builds the dispatch table for caps filtered through policy
func NewDispatcher(caps Capabilities, policy *Policy) *Dispatcher {
	if policy == nil {
		policy = DefaultPolicy()
	}
	d := &Dispatcher{
		table: make(map[string]Method),
		shape: make(map[string][]string),
	}
	for group, methods := range Shape(caps) {
		for _, method := range methods {
			if !policy.AllowsCapability(group, method) {
				continue
			}
			d.table[group+"."+method] = caps[group][method]
			d.shape[group] = append(d.shape[group], method)
		}
	}
	return d
}

// Shape returns the admitted group → method names
func (d *Dispatcher) Shape() map[string][]string {
	return d.shape
}

// Groups returns the admitted group names in order
func (d *Dispatcher) Groups() []string {
	groups := make([]string, 0, len(d.shape))
	for g := range d.shape {
		groups = append(groups, g)
	}
	sort.Strings(groups)
	return groups
}

// Call invokes group.method. Names outside the table are rejected.
func (d *Dispatcher) Call(ctx context.Context, group, method string, params map[string]interface{}) (interface{}, error) {
	fn, ok := d.table[group+"."+method]
	if !ok {
		return nil, fmt.Errorf("%w: %s.%s", ErrCapabilityNotFound, group, method)
	}
	if params == nil {
		params = map[string]interface{}{}
	}
	return fn(ctx, params)
}

// project exposes the dispatcher as live goja functions. Each function
// takes at most one parameter object and returns a promise settled with
// the host result.
func (d *Dispatcher) project(ctx context.Context, vm *goja.Runtime, root string) (*goja.Object, error) {
	rootObj := vm.NewObject()
	for _, group := range d.Groups() {
		groupObj := vm.NewObject()
		for _, method := range d.shape[group] {
			g, m := group, method
			fn := func(call goja.FunctionCall) goja.Value {
				promise, resolve, reject := vm.NewPromise()
				params, err := exportParams(call.Argument(0))
				if err != nil {
					reject(vm.NewTypeError(fmt.Sprintf("%s.%s.%s: %v", root, g, m, err)))
					return vm.ToValue(promise)
				}
				result, err := d.Call(ctx, g, m, params)
				if err != nil {
					reject(vm.NewGoError(err))
				} else {
					resolve(result)
				}
				return vm.ToValue(promise)
			}
			if err := groupObj.Set(method, fn); err != nil {
				return nil, fmt.Errorf("failed to bind %s.%s: %w", group, method, err)
			}
		}
		if err := rootObj.Set(group, groupObj); err != nil {
			return nil, fmt.Errorf("failed to bind group %s: %w", group, err)
		}
	}
	return rootObj, nil
}

// exportParams validates the single argument of a bound method
func exportParams(arg goja.Value) (map[string]interface{}, error) {
	if arg == nil || goja.IsUndefined(arg) || goja.IsNull(arg) {
		return map[string]interface{}{}, nil
	}
	params, ok := arg.Export().(map[string]interface{})
	if !ok {
		return nil, fmt.Errorf("expected a parameter object, got %s", arg.ExportType())
	}
	return params, nil
}
