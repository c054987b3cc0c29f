// Package condition evaluates the optional boolean guard attached to
// event-triggered integrations.
//
// Conditions are expr-lang expressions evaluated against the triggering
// event, for example:
//
//	metadata.plan == "pro" && has(user.roles, "admin")
package condition

import (
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/tombee/switchyard/pkg/errors"
)

// Evaluator compiles and evaluates conditions, caching compiled programs.
type Evaluator struct {
	cache map[string]*vm.Program
	mu    sync.RWMutex
}

// New creates a new condition evaluator.
func New() *Evaluator {
	return &Evaluator{
		cache: make(map[string]*vm.Program),
	}
}

// Evaluate evaluates expression against env. An empty expression is true.
func (e *Evaluator) Evaluate(expression string, env map[string]any) (bool, error) {
	if strings.TrimSpace(expression) == "" {
		return true, nil
	}

	program, err := e.compile(expression)
	if err != nil {
		return false, err
	}

	result, err := expr.Run(program, env)
	if err != nil {
		return false, &errors.ValidationError{
			Field:      "trigger.details.condition",
			Message:    fmt.Sprintf("condition evaluation failed: %s", err.Error()),
			Suggestion: "verify that the referenced event fields exist",
		}
	}

	matched, ok := result.(bool)
	if !ok {
		return false, &errors.ValidationError{
			Field:   "trigger.details.condition",
			Message: fmt.Sprintf("condition must return boolean, got %T", result),
		}
	}
	return matched, nil
}

// Validate compiles expression without running it.
func (e *Evaluator) Validate(expression string) error {
	if strings.TrimSpace(expression) == "" {
		return nil
	}
	_, err := e.compile(expression)
	return err
}

func (e *Evaluator) compile(expression string) (*vm.Program, error) {
	e.mu.RLock()
	if prog, ok := e.cache[expression]; ok {
		e.mu.RUnlock()
		return prog, nil
	}
	e.mu.RUnlock()

	// "contains" is a reserved operator in expr, hence "has".
	prog, err := expr.Compile(expression,
		expr.AllowUndefinedVariables(),
		expr.AsBool(),
		expr.Function("has", has),
	)
	if err != nil {
		return nil, &errors.ValidationError{
			Field:      "trigger.details.condition",
			Message:    fmt.Sprintf("failed to compile condition: %s", err.Error()),
			Suggestion: "check expression syntax",
		}
	}

	e.mu.Lock()
	e.cache[expression] = prog
	e.mu.Unlock()

	return prog, nil
}

// CacheSize returns the number of cached programs.
func (e *Evaluator) CacheSize() int {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return len(e.cache)
}

// has reports whether a slice contains an element, a map contains a key or
// a string contains a substring.
func has(args ...any) (any, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("has requires exactly 2 arguments, got %d", len(args))
	}
	collection, target := args[0], args[1]
	if collection == nil {
		return false, nil
	}

	v := reflect.ValueOf(collection)
	switch v.Kind() {
	case reflect.Slice, reflect.Array:
		for i := 0; i < v.Len(); i++ {
			if reflect.DeepEqual(v.Index(i).Interface(), target) {
				return true, nil
			}
		}
		return false, nil
	case reflect.Map:
		key := reflect.ValueOf(target)
		if !key.IsValid() || !key.Type().AssignableTo(v.Type().Key()) {
			return false, nil
		}
		return v.MapIndex(key).IsValid(), nil
	case reflect.String:
		substr, ok := target.(string)
		return ok && substr != "" && strings.Contains(v.String(), substr), nil
	default:
		return false, nil
	}
}
