package jq

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/switchyard/pkg/errors"
)

func TestEvaluator_Evaluate(t *testing.T) {
	tests := []struct {
		name    string
		expr    any
		data    any
		want    any
		wantErr bool
	}{
		{
			name: "string concatenation",
			expr: `"hi " + .name`,
			data: map[string]any{"name": "Ana"},
			want: "hi Ana",
		},
		{
			name: "comparison",
			expr: "(.amount > 100)",
			data: map[string]any{"amount": 150},
			want: true,
		},
		{
			name: "array map",
			expr: "map(.x)",
			data: []any{map[string]any{"x": 1}, map[string]any{"x": 2}},
			want: []any{float64(1), float64(2)},
		},
		{
			name: "no output yields nil",
			expr: "empty",
			data: map[string]any{},
			want: nil,
		},
		{
			name: "several outputs collected",
			expr: ".items[]",
			data: map[string]any{"items": []any{"a", "b"}},
			want: []any{"a", "b"},
		},
		{
			name: "nested object keeps shape",
			expr: map[string]any{
				"user":  map[string]any{"id": ".id", "tags": []any{".a", ".b"}},
				"fixed": float64(3),
				"flag":  true,
			},
			data: map[string]any{"id": "u1", "a": "x", "b": "y"},
			want: map[string]any{
				"user":  map[string]any{"id": "u1", "tags": []any{"x", "y"}},
				"fixed": float64(3),
				"flag":  true,
			},
		},
		{
			name: "non-string scalar passes through",
			expr: float64(42),
			data: nil,
			want: float64(42),
		},
		{
			name:    "invalid expression",
			expr:    ".[",
			data:    map[string]any{},
			wantErr: true,
		},
		{
			name:    "empty expression",
			expr:    "",
			data:    map[string]any{},
			wantErr: true,
		},
		{
			name:    "runtime error",
			expr:    `error("nope")`,
			data:    map[string]any{},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := NewEvaluator(0, 0, 0)
			got, err := e.Evaluate(context.Background(), tt.expr, tt.data)
			if tt.wantErr {
				require.Error(t, err)
				var exprErr *errors.ExpressionError
				assert.ErrorAs(t, err, &exprErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestEvaluator_ExpressionErrorCarriesText(t *testing.T) {
	e := NewEvaluator(0, 0, 0)
	_, err := e.Evaluate(context.Background(), map[string]any{"a": ".ok", "b": ".[["}, map[string]any{})

	var exprErr *errors.ExpressionError
	require.ErrorAs(t, err, &exprErr)
	assert.Equal(t, ".[[", exprErr.Expression)
}

func TestEvaluator_DoesNotMutateInput(t *testing.T) {
	e := NewEvaluator(0, 0, 0)
	data := map[string]any{"n": 1}
	_, err := e.Evaluate(context.Background(), ".n = 2", data)
	require.NoError(t, err)
	assert.Equal(t, 1, data["n"])
}

func TestEvaluator_Timeout(t *testing.T) {
	e := NewEvaluator(50*time.Millisecond, 0, 0)

	start := time.Now()
	_, err := e.Evaluate(context.Background(), "last(range(1e12))", map[string]any{})
	require.Error(t, err)
	assert.Less(t, time.Since(start), 2*time.Second)
}

func TestEvaluator_MaxInputSize(t *testing.T) {
	e := NewEvaluator(0, 16, 0)
	_, err := e.Evaluate(context.Background(), ".", map[string]any{"key": "a long enough value"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "exceeds maximum")
}

func TestEvaluator_Validate(t *testing.T) {
	e := NewEvaluator(0, 0, 0)
	assert.NoError(t, e.Validate(".foo | length"))
	assert.Error(t, e.Validate(".["))
	assert.NoError(t, e.ValidateTree(map[string]any{"a": []any{".x", 1}}))
	assert.Error(t, e.ValidateTree(map[string]any{"a": []any{".x", "}"}}))
}

func TestEvaluator_CachesPrograms(t *testing.T) {
	e := NewEvaluator(0, 0, 2)
	require.NoError(t, e.Validate(".a"))
	require.NoError(t, e.Validate(".a"))
	assert.Equal(t, 1, e.programs.Len())

	require.NoError(t, e.Validate(".b"))
	require.NoError(t, e.Validate(".c"))
	assert.Equal(t, 2, e.programs.Len())
}
