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
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/errgroup"

	"github.com/tombee/switchyard/internal/jq"
	"github.com/tombee/switchyard/internal/log"
	"github.com/tombee/switchyard/internal/metrics"
	"github.com/tombee/switchyard/internal/tracing"
	"github.com/tombee/switchyard/pkg/errors"
)

// Outcome is the result of a pipeline run. An aborted run is a successful
// outcome, not an error.
type Outcome struct {
	Payload map[string]any
	Aborted bool
}

// MarshalJSON encodes the payload, or {"abort":true} for aborted runs.
func (o Outcome) MarshalJSON() ([]byte, error) {
	if o.Aborted {
		return []byte(`{"abort":true}`), nil
	}
	if o.Payload == nil {
		return []byte(`{}`), nil
	}
	return json.Marshal(o.Payload)
}

// Executor runs data-manipulation steps.
type Executor struct {
	eval      *jq.Evaluator
	resolvers map[ResolverKind]Resolver
	logger    *slog.Logger
}

// NewExecutor creates an executor with no resolvers registered.
func NewExecutor(eval *jq.Evaluator, logger *slog.Logger) *Executor {
	if logger == nil {
		logger = log.Discard()
	}
	return &Executor{
		eval:      eval,
		resolvers: make(map[ResolverKind]Resolver),
		logger:    log.WithComponent(logger, "pipeline"),
	}
}

// Register installs the resolver for kind. Registration must complete
// before the first Execute call.
func (x *Executor) Register(kind ResolverKind, r Resolver) {
	x.resolvers[kind] = r
}

// Evaluator returns the expression evaluator used by the executor.
func (x *Executor) Evaluator() *jq.Evaluator {
	return x.eval
}

// Execute runs steps in order against payload. The caller's payload is
// never modified. Any expression or resolver failure stops the run with a
// *errors.StepError.
func (x *Executor) Execute(ctx context.Context, tenant string, payload map[string]any, steps []Step) (out Outcome, err error) {
	ctx, span := tracing.Start(ctx, "pipeline.execute",
		attribute.String(log.TenantKey, tenant),
		attribute.Int("steps", len(steps)))
	start := time.Now()
	defer func() {
		outcome := "ok"
		switch {
		case err != nil:
			outcome = "error"
		case out.Aborted:
			outcome = "aborted"
		}
		metrics.RecordPipelineRun(outcome, time.Since(start))
		span.SetAttributes(attribute.String("outcome", outcome))
		tracing.End(span, err)
	}()

	previous := copyPayload(payload)

	for i, step := range steps {
		if step.Abort.active() {
			abort, err := x.shouldAbort(ctx, i, step.Abort, previous)
			if err != nil {
				return Outcome{}, err
			}
			if abort {
				x.logger.Debug("pipeline aborted", slog.String(log.TenantKey, tenant), slog.Int(log.StepIndexKey, i))
				return Outcome{Aborted: true}, nil
			}
		}

		working := map[string]any{}
		if !step.Clean {
			working = copyPayload(previous)
		}

		mapped := make(map[string]bool, len(step.Map))
		for _, key := range sortedKeys(step.Map) {
			value, err := x.eval.Evaluate(ctx, step.Map[key], previous)
			if err != nil {
				return Outcome{}, &errors.StepError{StepIndex: i, Phase: errors.PhaseMap, Field: key, Cause: err}
			}
			working[key] = value
			mapped[key] = true
		}

		if len(step.Populate) > 0 {
			input := working
			if step.Clean {
				input = previous
			}
			if err := x.populate(ctx, tenant, i, step.Populate, input, working, mapped); err != nil {
				return Outcome{}, err
			}
		}

		log.Trace(ctx, x.logger, "step applied", slog.Int(log.StepIndexKey, i), slog.Any("payload", working))
		previous = working
	}

	return Outcome{Payload: previous}, nil
}

func (x *Executor) shouldAbort(ctx context.Context, index int, abort *Abort, previous map[string]any) (bool, error) {
	if abort.Always {
		return true, nil
	}
	value, err := x.eval.Evaluate(ctx, abort.Expr, previous)
	if err != nil {
		return false, &errors.StepError{StepIndex: index, Phase: errors.PhaseAbort, Cause: err}
	}
	return Truthy(value), nil
}

type resolved struct {
	value   any
	defined bool
}

// populate resolves every key concurrently against input, then applies the
// results to working. Undefined results remove the key unless this step's
// map assigned it.
func (x *Executor) populate(ctx context.Context, tenant string, index int, configs map[string]PopulateConfig, input, working map[string]any, mapped map[string]bool) error {
	keys := sortedKeys(configs)
	results := make([]resolved, len(keys))

	g, gctx := errgroup.WithContext(ctx)
	for n, key := range keys {
		cfg := configs[key]
		value := input[key]
		g.Go(func() error {
			resolver, ok := x.resolvers[cfg.Source]
			if !ok {
				return &errors.StepError{
					StepIndex:      index,
					Phase:          errors.PhasePopulate,
					Field:          key,
					ResolverSource: string(cfg.Source),
					Cause:          &errors.PopulationError{Source: string(cfg.Source), Message: "no resolver registered"},
				}
			}

			v, defined, err := resolver.Resolve(gctx, ResolveRequest{
				Tenant: tenant,
				Key:    key,
				Value:  value,
				Config: cfg,
			})
			if err != nil {
				var popErr *errors.PopulationError
				if !errors.As(err, &popErr) {
					err = &errors.PopulationError{Source: string(cfg.Source), Message: "resolver failed", Cause: err}
				}
				return &errors.StepError{
					StepIndex:      index,
					Phase:          errors.PhasePopulate,
					Field:          key,
					ResolverSource: string(cfg.Source),
					Cause:          err,
				}
			}
			results[n] = resolved{value: v, defined: defined}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for n, key := range keys {
		switch {
		case results[n].defined:
			working[key] = results[n].value
		case !mapped[key]:
			delete(working, key)
		}
	}
	return nil
}

// Truthy reports whether v is truthy: anything except nil, false, zero and
// the empty string.
func Truthy(v any) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != ""
	case float64:
		return t != 0
	case int:
		return t != 0
	case int64:
		return t != 0
	case json.Number:
		f, err := t.Float64()
		return err != nil || f != 0
	default:
		return true
	}
}

func copyPayload(src map[string]any) map[string]any {
	dst := make(map[string]any, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}
