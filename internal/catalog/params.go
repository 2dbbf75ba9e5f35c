package catalog

import (
	"fmt"
	"math"
)

func stringParam(params map[string]interface{}, name string, required bool) (string, error) {
	raw, ok := params[name]
	if !ok || raw == nil {
		if required {
			return "", fmt.Errorf("%w: %s is required", ErrInvalidParams, name)
		}
		return "", nil
	}
	s, ok := raw.(string)
	if !ok {
		return "", fmt.Errorf("%w: %s must be a string", ErrInvalidParams, name)
	}
	if required && s == "" {
		return "", fmt.Errorf("%w: %s is required", ErrInvalidParams, name)
	}
	return s, nil
}

// intParam reads a positive integer. Scripts hand over int64 in process
// and float64 after crossing the worker protocol.
func intParam(params map[string]interface{}, name string, def int) (int, error) {
	raw, ok := params[name]
	if !ok || raw == nil {
		return def, nil
	}
	var n int
	switch v := raw.(type) {
	case int:
		n = v
	case int64:
		n = int(v)
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidParams, name)
		}
		n = int(v)
	default:
		return 0, fmt.Errorf("%w: %s must be a number", ErrInvalidParams, name)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%w: %s must be positive", ErrInvalidParams, name)
	}
	return n, nil
}

// argsParam reads positional statement arguments
func argsParam(params map[string]interface{}, name string) ([]interface{}, error) {
	raw, ok := params[name]
	if !ok || raw == nil {
		return nil, nil
	}
	list, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("%w: %s must be an array", ErrInvalidParams, name)
	}
	args := make([]interface{}, len(list))
	for i, v := range list {
		switch a := v.(type) {
		case float64:
			if a == math.Trunc(a) && math.Abs(a) < 1<<53 {
				args[i] = int64(a)
			} else {
				args[i] = a
			}
		case string, bool, int64, nil:
			args[i] = a
		default:
			return nil, fmt.Errorf("%w: %s[%d] must be a scalar", ErrInvalidParams, name, i)
		}
	}
	return args, nil
}
