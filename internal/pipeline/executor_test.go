// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/switchyard/internal/jq"
	"github.com/tombee/switchyard/pkg/errors"
)

func newTestExecutor() *Executor {
	return NewExecutor(jq.NewEvaluator(0, 0, 0), nil)
}

func TestExecute_MapScenario(t *testing.T) {
	x := newTestExecutor()
	steps := []Step{{Map: map[string]any{"greeting": `"hi " + .name`}}}

	out, err := x.Execute(context.Background(), "acme", map[string]any{"name": "Ana"}, steps)
	require.NoError(t, err)
	assert.False(t, out.Aborted)
	assert.Equal(t, map[string]any{"name": "Ana", "greeting": "hi Ana"}, out.Payload)
}

func TestExecute_AbortExpression(t *testing.T) {
	x := newTestExecutor()
	steps := []Step{
		{Abort: AbortWhen("(.amount > 100)")},
		{Map: map[string]any{"approved": "true"}},
	}

	out, err := x.Execute(context.Background(), "acme", map[string]any{"amount": 150}, steps)
	require.NoError(t, err)
	assert.True(t, out.Aborted)
	assert.Nil(t, out.Payload)

	out, err = x.Execute(context.Background(), "acme", map[string]any{"amount": 50}, steps)
	require.NoError(t, err)
	assert.False(t, out.Aborted)
	assert.Equal(t, map[string]any{"amount": 50, "approved": true}, out.Payload)
}

func TestExecute_AbortTrueShortCircuits(t *testing.T) {
	x := newTestExecutor()
	var called atomic.Bool
	x.Register(ResolverUser, ResolverFunc(func(ctx context.Context, req ResolveRequest) (any, bool, error) {
		called.Store(true)
		return nil, false, nil
	}))

	tests := []struct {
		name  string
		abort *Abort
	}{
		{name: "constant", abort: AbortAlways()},
		{name: "literal string", abort: AbortWhen("true")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			steps := []Step{
				{Abort: tt.abort},
				{Map: map[string]any{"broken": `error("must not run")`}},
				{Populate: map[string]PopulateConfig{"owner": {Source: ResolverUser}}},
			}
			out, err := x.Execute(context.Background(), "acme", map[string]any{"owner": "u1"}, steps)
			require.NoError(t, err)
			assert.True(t, out.Aborted)
			assert.False(t, called.Load())
		})
	}
}

func TestExecute_AbortTruthiness(t *testing.T) {
	tests := []struct {
		expr string
		want bool
	}{
		{".missing", false},
		{"false", false},
		{"0", false},
		{`""`, false},
		{"1", true},
		{`"no"`, true},
		{"[]", true},
		{"{}", true},
	}

	x := newTestExecutor()
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			out, err := x.Execute(context.Background(), "acme", map[string]any{}, []Step{{Abort: AbortWhen(tt.expr)}})
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Aborted)
		})
	}
}

func TestExecute_LeftFold(t *testing.T) {
	steps := []Step{
		{Map: map[string]any{"a": ".x + 1"}},
		{Map: map[string]any{"b": ".a * 2", "x": ".x - 1"}},
		{Map: map[string]any{"sum": ".a + .b + .x"}},
	}
	initial := map[string]any{"x": float64(1)}

	x := newTestExecutor()
	got, err := x.Execute(context.Background(), "acme", initial, steps)
	require.NoError(t, err)

	// Fold the steps one at a time.
	payload := initial
	for _, step := range steps {
		out, err := x.Execute(context.Background(), "acme", payload, []Step{step})
		require.NoError(t, err)
		payload = out.Payload
	}

	assert.Equal(t, payload, got.Payload)
	assert.Equal(t, float64(6), got.Payload["sum"])
}

func TestExecute_MapReadsPreviousPayload(t *testing.T) {
	x := newTestExecutor()
	steps := []Step{{Map: map[string]any{"a": `"new"`, "b": ".a"}}}

	out, err := x.Execute(context.Background(), "acme", map[string]any{"a": "old"}, steps)
	require.NoError(t, err)
	assert.Equal(t, "new", out.Payload["a"])
	assert.Equal(t, "old", out.Payload["b"])
}

func TestExecute_Clean(t *testing.T) {
	x := newTestExecutor()
	steps := []Step{{
		Clean: true,
		Map:   map[string]any{"fullName": `.first + " " + .last`},
	}}

	out, err := x.Execute(context.Background(), "acme", map[string]any{"first": "Ada", "last": "Lovelace", "secret": "x"}, steps)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"fullName": "Ada Lovelace"}, out.Payload)
}

func TestExecute_CleanPopulateReadsPreCleanValues(t *testing.T) {
	x := newTestExecutor()
	var seen atomic.Value
	x.Register(ResolverUser, ResolverFunc(func(ctx context.Context, req ResolveRequest) (any, bool, error) {
		seen.Store(req.Value)
		return map[string]any{"id": req.Value, "name": "Ada"}, true, nil
	}))

	steps := []Step{{
		Clean:    true,
		Populate: map[string]PopulateConfig{"owner": {Source: ResolverUser}},
	}}

	out, err := x.Execute(context.Background(), "acme", map[string]any{"owner": "u1", "other": 1}, steps)
	require.NoError(t, err)
	assert.Equal(t, "u1", seen.Load())
	assert.Equal(t, map[string]any{"owner": map[string]any{"id": "u1", "name": "Ada"}}, out.Payload)
}

func TestExecute_PopulateSeesSameStepMap(t *testing.T) {
	x := newTestExecutor()
	x.Register(ResolverUser, ResolverFunc(func(ctx context.Context, req ResolveRequest) (any, bool, error) {
		return map[string]any{"id": req.Value}, true, nil
	}))

	steps := []Step{{
		Map:      map[string]any{"owner": ".ownerId"},
		Populate: map[string]PopulateConfig{"owner": {Source: ResolverUser}},
	}}

	out, err := x.Execute(context.Background(), "acme", map[string]any{"ownerId": "u9"}, steps)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"id": "u9"}, out.Payload["owner"])
}

func TestExecute_UndefinedPopulateKeepsMappedValue(t *testing.T) {
	x := newTestExecutor()
	x.Register(ResolverUser, ResolverFunc(func(ctx context.Context, req ResolveRequest) (any, bool, error) {
		return nil, false, nil
	}))

	steps := []Step{{
		Map:      map[string]any{"owner": `"fallback"`},
		Populate: map[string]PopulateConfig{"owner": {Source: ResolverUser}, "creator": {Source: ResolverUser}},
	}}

	out, err := x.Execute(context.Background(), "acme", map[string]any{"creator": "u1"}, steps)
	require.NoError(t, err)
	assert.Equal(t, "fallback", out.Payload["owner"])
	assert.NotContains(t, out.Payload, "creator")
}

func TestExecute_PopulateRunsConcurrently(t *testing.T) {
	x := newTestExecutor()
	var inflight, peak atomic.Int32
	x.Register(ResolverWorkspace, ResolverFunc(func(ctx context.Context, req ResolveRequest) (any, bool, error) {
		n := inflight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		inflight.Add(-1)
		return req.Key, true, nil
	}))

	populate := map[string]PopulateConfig{}
	payload := map[string]any{}
	for i := 0; i < 4; i++ {
		key := fmt.Sprintf("w%d", i)
		populate[key] = PopulateConfig{Source: ResolverWorkspace}
		payload[key] = "id"
	}

	out, err := x.Execute(context.Background(), "acme", payload, []Step{{Populate: populate}})
	require.NoError(t, err)
	assert.Equal(t, "w3", out.Payload["w3"])
	assert.Greater(t, peak.Load(), int32(1))
}

func TestExecute_Errors(t *testing.T) {
	x := newTestExecutor()
	x.Register(ResolverUser, ResolverFunc(func(ctx context.Context, req ResolveRequest) (any, bool, error) {
		return nil, false, fmt.Errorf("directory unavailable")
	}))

	tests := []struct {
		name       string
		steps      []Step
		wantIndex  int
		wantPhase  string
		wantField  string
		wantSource string
	}{
		{
			name:      "map expression",
			steps:     []Step{{Map: map[string]any{"ok": ".a"}}, {Map: map[string]any{"bad": ".["}}},
			wantIndex: 1,
			wantPhase: errors.PhaseMap,
			wantField: "bad",
		},
		{
			name:      "abort expression",
			steps:     []Step{{Abort: AbortWhen(`error("x")`)}},
			wantIndex: 0,
			wantPhase: errors.PhaseAbort,
		},
		{
			name:       "resolver failure",
			steps:      []Step{{Populate: map[string]PopulateConfig{"owner": {Source: ResolverUser}}}},
			wantIndex:  0,
			wantPhase:  errors.PhasePopulate,
			wantField:  "owner",
			wantSource: "user",
		},
		{
			name:       "unregistered resolver",
			steps:      []Step{{Populate: map[string]PopulateConfig{"docs": {Source: ResolverVectorStores}}}},
			wantIndex:  0,
			wantPhase:  errors.PhasePopulate,
			wantField:  "docs",
			wantSource: "vectorStores",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payload := map[string]any{"a": 1, "owner": "u1"}
			_, err := x.Execute(context.Background(), "acme", payload, tt.steps)

			var stepErr *errors.StepError
			require.ErrorAs(t, err, &stepErr)
			assert.Equal(t, tt.wantIndex, stepErr.StepIndex)
			assert.Equal(t, tt.wantPhase, stepErr.Phase)
			assert.Equal(t, tt.wantField, stepErr.Field)
			assert.Equal(t, tt.wantSource, stepErr.ResolverSource)
			assert.Equal(t, map[string]any{"a": 1, "owner": "u1"}, payload)
		})
	}
}

func TestExecute_ResolverErrorIsPopulationError(t *testing.T) {
	x := newTestExecutor()
	x.Register(ResolverUser, ResolverFunc(func(ctx context.Context, req ResolveRequest) (any, bool, error) {
		return nil, false, fmt.Errorf("boom")
	}))

	_, err := x.Execute(context.Background(), "acme", map[string]any{"u": "1"},
		[]Step{{Populate: map[string]PopulateConfig{"u": {Source: ResolverUser}}}})

	var popErr *errors.PopulationError
	require.ErrorAs(t, err, &popErr)
	assert.Equal(t, "user", popErr.Source)
}

func TestExecute_DoesNotMutateCaller(t *testing.T) {
	x := newTestExecutor()
	payload := map[string]any{"keep": "me", "drop": true}
	steps := []Step{
		{Map: map[string]any{"keep": `"changed"`}},
		{Clean: true, Map: map[string]any{"only": ".keep"}},
	}

	out, err := x.Execute(context.Background(), "acme", payload, steps)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"only": "changed"}, out.Payload)
	assert.Equal(t, map[string]any{"keep": "me", "drop": true}, payload)
}

func TestExecute_NoSteps(t *testing.T) {
	out, err := newTestExecutor().Execute(context.Background(), "acme", map[string]any{"a": 1}, nil)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"a": 1}, out.Payload)
}

func TestOutcome_MarshalJSON(t *testing.T) {
	raw, err := json.Marshal(Outcome{Aborted: true})
	require.NoError(t, err)
	assert.JSONEq(t, `{"abort":true}`, string(raw))

	raw, err = json.Marshal(Outcome{Payload: map[string]any{"a": 1}})
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":1}`, string(raw))
}

func TestTruthy(t *testing.T) {
	assert.False(t, Truthy(nil))
	assert.False(t, Truthy(0))
	assert.False(t, Truthy(float64(0)))
	assert.False(t, Truthy(""))
	assert.True(t, Truthy(map[string]any{}))
	assert.True(t, Truthy(-1))
}
