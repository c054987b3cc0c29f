// Package jq evaluates the jq expressions used by data-manipulation steps.
package jq

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/itchyny/gojq"

	"github.com/tombee/switchyard/pkg/errors"
)

const (
	// DefaultTimeout is the default timeout for a single expression
	DefaultTimeout = 1 * time.Second

	// DefaultMaxInputSize is the default maximum input size (10MB)
	DefaultMaxInputSize = 10 * 1024 * 1024

	// DefaultCacheSize is the number of compiled programs kept in memory
	DefaultCacheSize = 1024
)

// Evaluator evaluates jq expressions with timeout and size limits.
// Compiled programs are cached by expression text. Safe for concurrent use.
type Evaluator struct {
	timeout      time.Duration
	maxInputSize int64
	programs     *lru.Cache[string, *gojq.Code]
}

// NewEvaluator creates an evaluator. Zero values select the defaults.
func NewEvaluator(timeout time.Duration, maxInputSize int64, cacheSize int) *Evaluator {
	if timeout == 0 {
		timeout = DefaultTimeout
	}
	if maxInputSize == 0 {
		maxInputSize = DefaultMaxInputSize
	}
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}

	// lru.New only fails for a non-positive size.
	programs, _ := lru.New[string, *gojq.Code](cacheSize)

	return &Evaluator{
		timeout:      timeout,
		maxInputSize: maxInputSize,
		programs:     programs,
	}
}

// Evaluate evaluates expr against data.
//
// A string is a jq expression where "." is data. Objects and arrays are
// walked and every leaf string is evaluated, preserving the container
// shape. Other scalars are returned unchanged.
func (e *Evaluator) Evaluate(ctx context.Context, expr any, data any) (any, error) {
	input, err := e.normalize(data)
	if err != nil {
		return nil, err
	}
	return e.walk(ctx, expr, input)
}

func (e *Evaluator) walk(ctx context.Context, expr any, input any) (any, error) {
	switch v := expr.(type) {
	case string:
		return e.run(ctx, v, input)
	case map[string]any:
		out := make(map[string]any, len(v))
		for key, child := range v {
			res, err := e.walk(ctx, child, input)
			if err != nil {
				return nil, err
			}
			out[key] = res
		}
		return out, nil
	case []any:
		out := make([]any, len(v))
		for i, child := range v {
			res, err := e.walk(ctx, child, input)
			if err != nil {
				return nil, err
			}
			out[i] = res
		}
		return out, nil
	default:
		return expr, nil
	}
}

// run evaluates a single expression. Zero outputs yield nil, one output is
// returned as is and several are collected into an array.
func (e *Evaluator) run(ctx context.Context, expression string, input any) (any, error) {
	code, err := e.compile(expression)
	if err != nil {
		return nil, err
	}

	execCtx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	iter := code.RunWithContext(execCtx, input)

	var results []any
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			if execCtx.Err() != nil {
				err = fmt.Errorf("execution timeout after %v: %w", e.timeout, execCtx.Err())
			}
			return nil, &errors.ExpressionError{Expression: expression, Cause: err}
		}
		results = append(results, v)
	}

	switch len(results) {
	case 0:
		return nil, nil
	case 1:
		return results[0], nil
	default:
		return results, nil
	}
}

// Validate reports whether expression parses and compiles.
func (e *Evaluator) Validate(expression string) error {
	_, err := e.compile(expression)
	return err
}

// ValidateTree validates every leaf string of a nested expression.
func (e *Evaluator) ValidateTree(expr any) error {
	switch v := expr.(type) {
	case string:
		return e.Validate(v)
	case map[string]any:
		for _, child := range v {
			if err := e.ValidateTree(child); err != nil {
				return err
			}
		}
	case []any:
		for _, child := range v {
			if err := e.ValidateTree(child); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Evaluator) compile(expression string) (*gojq.Code, error) {
	if expression == "" {
		return nil, &errors.ExpressionError{Expression: expression, Cause: fmt.Errorf("empty expression")}
	}
	if code, ok := e.programs.Get(expression); ok {
		return code, nil
	}

	query, err := gojq.Parse(expression)
	if err != nil {
		return nil, &errors.ExpressionError{Expression: expression, Cause: fmt.Errorf("parse error: %w", err)}
	}
	code, err := gojq.Compile(query)
	if err != nil {
		return nil, &errors.ExpressionError{Expression: expression, Cause: fmt.Errorf("compile error: %w", err)}
	}

	e.programs.Add(expression, code)
	return code, nil
}

// normalize converts data into the plain JSON value types gojq accepts
// (map[string]any, []any, float64, string, bool, nil) and enforces the
// input size limit.
func (e *Evaluator) normalize(data any) (any, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal data: %w", err)
	}
	if int64(len(raw)) > e.maxInputSize {
		return nil, fmt.Errorf("data size (%d bytes) exceeds maximum (%d bytes)", len(raw), e.maxInputSize)
	}

	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, fmt.Errorf("failed to normalize data: %w", err)
	}
	return out, nil
}
