package policy

import (
	"fmt"
	"reflect"
	"slices"
)

type Operator func(ctx RecordContext, args []any) (EvalResult, error)

var operators = make(map[string]Operator)

func init() {
	operators["And"] = opAnd
	operators["Or"] = opOr
	operators["Not"] = opNot
	operators["Eq"] = opEq
	operators["Gte"] = opGte
	operators["Contains"] = opContains
	operators["Load"] = opLoad
}

func opAnd(ctx RecordContext, args []any) (EvalResult, error) {

	for i, arg := range args {
		evaluated, ok := arg.(bool)
		if !ok {
			err := fmt.Errorf("bad argument type for AND at index %d. Expected bool but got %s", i, reflect.TypeOf(arg))
			return EvalResult{
				Operator: "And",
				Error:    err.Error(),
			}, err
		}

		if !evaluated {
			return EvalResult{
				Operator: "And",
				Result:   false,
			}, nil
		}
	}

	return EvalResult{
		Operator: "And",
		Result:   true,
	}, nil
}

func opOr(ctx RecordContext, args []any) (EvalResult, error) {
	for i, arg := range args {
		evaluated, ok := arg.(bool)
		if !ok {
			err := fmt.Errorf("bad argument type for OR at index %d. Expected bool but got %s", i, reflect.TypeOf(arg))
			return EvalResult{
				Operator: "Or",
				Error:    err.Error(),
			}, err
		}

		if evaluated {
			return EvalResult{
				Operator: "Or",
				Result:   true,
			}, nil
		}
	}

	return EvalResult{
		Operator: "Or",
		Result:   false,
	}, nil
}

func opNot(ctx RecordContext, args []any) (EvalResult, error) {
	if len(args) != 1 {
		err := fmt.Errorf("bad argument length for NOT. Expected 1 but got %d", len(args))
		return EvalResult{
			Operator: "Not",
			Error:    err.Error(),
		}, err
	}

	evaluated, ok := args[0].(bool)
	if !ok {
		err := fmt.Errorf("bad argument type for NOT. Expected bool but got %s", reflect.TypeOf(args[0]))
		return EvalResult{
			Operator: "Not",
			Error:    err.Error(),
		}, err
	}

	return EvalResult{
		Operator: "Not",
		Result:   !evaluated,
	}, nil
}

func opEq(ctx RecordContext, args []any) (EvalResult, error) {
	if len(args) != 2 {
		err := fmt.Errorf("bad argument length for EQ. Expected 2 but got %d", len(args))
		return EvalResult{
			Operator: "Eq",
			Error:    err.Error(),
		}, err
	}

	return EvalResult{
		Operator: "Eq",
		Result:   args[0] == args[1],
	}, nil
}

func opGte(ctx RecordContext, args []any) (EvalResult, error) {
	if len(args) != 2 {
		err := fmt.Errorf("bad argument length for GTE. Expected 2 but got %d", len(args))
		return EvalResult{
			Operator: "Gte",
			Error:    err.Error(),
		}, err
	}

	left, okLeft := asFloat(args[0])
	right, okRight := asFloat(args[1])
	if !okLeft || !okRight {
		err := fmt.Errorf("bad argument type for GTE. Expected number but got %s and %s",
			reflect.TypeOf(args[0]), reflect.TypeOf(args[1]))
		return EvalResult{
			Operator: "Gte",
			Error:    err.Error(),
		}, err
	}

	return EvalResult{
		Operator: "Gte",
		Result:   left >= right,
	}, nil
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func opContains(ctx RecordContext, args []any) (EvalResult, error) {
	if len(args) != 2 {
		err := fmt.Errorf("bad argument length for CONTAINS. Expected 2 but got %d", len(args))
		return EvalResult{
			Operator: "Contains",
			Error:    err.Error(),
		}, err
	}

	var haystack []any
	switch arg0 := args[0].(type) {
	case []any:
		haystack = arg0
	case []string:
		haystack = make([]any, 0, len(arg0))
		for _, s := range arg0 {
			haystack = append(haystack, s)
		}
	default:
		err := fmt.Errorf("bad argument type for CONTAINS. Expected list but got %s", reflect.TypeOf(args[0]))
		return EvalResult{
			Operator: "Contains",
			Error:    err.Error(),
		}, err
	}

	return EvalResult{
		Operator: "Contains",
		Result:   slices.Contains(haystack, args[1]),
	}, nil
}

func opLoad(ctx RecordContext, args []any) (EvalResult, error) {
	if len(args) != 1 {
		err := fmt.Errorf("bad argument length for Load. Expected 1 but got %d", len(args))
		return EvalResult{
			Operator: "Load",
			Error:    err.Error(),
		}, err
	}

	key, ok := args[0].(string)
	if !ok {
		err := fmt.Errorf("bad argument type for Load. Expected string but got %s", reflect.TypeOf(args[0]))
		return EvalResult{
			Operator: "Load",
			Error:    err.Error(),
		}, err
	}

	mappedCtx := structToMap(ctx)
	value, ok := resolveDotNotation(mappedCtx, key)
	if !ok {
		err := fmt.Errorf("key not found: %s", key)
		return EvalResult{
			Operator: "Load",
			Error:    err.Error(),
		}, err
	}

	return EvalResult{
		Operator: "Load",
		Result:   value,
	}, nil
}
