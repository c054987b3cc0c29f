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

package automation

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/tombee/switchyard/internal/auth"
	"github.com/tombee/switchyard/internal/dispatch"
	"github.com/tombee/switchyard/internal/log"
	"github.com/tombee/switchyard/internal/pipeline"
	"github.com/tombee/switchyard/internal/source"
	"github.com/tombee/switchyard/internal/store"
	"github.com/tombee/switchyard/internal/tracing"
	"github.com/tombee/switchyard/pkg/errors"
)

// WebhookResult is what a webhook-triggered run produced: the target's
// result, or an abort.
type WebhookResult struct {
	Aborted bool
	Result  *dispatch.Result
}

// MarshalJSON encodes {"abort":true} for aborted runs and the target
// result otherwise.
func (r WebhookResult) MarshalJSON() ([]byte, error) {
	if r.Aborted {
		return []byte(`{"abort":true}`), nil
	}
	if r.Result == nil {
		return []byte(`{}`), nil
	}
	return json.Marshal(r.Result)
}

// TriggerWebhook runs an apiWebhook integration for caller. ref is the
// integration id, or its public webhook id when byWebhookID is set. The
// trigger's roles and workspaceLabels gates apply.
func (s *Service) TriggerWebhook(ctx context.Context, caller *auth.Principal, ref string, byWebhookID bool, body any) (*WebhookResult, error) {
	var (
		in  *store.Integration
		err error
	)
	if byWebhookID {
		in, err = s.store.GetIntegrationByWebhookID(ctx, caller.Tenant, ref)
	} else {
		in, err = s.GetIntegration(ctx, caller.Tenant, ref, false)
	}
	if err != nil {
		return nil, err
	}

	if err := checkGates(in, caller); err != nil {
		s.logger.Info("webhook trigger denied",
			slog.String(log.TenantKey, caller.Tenant),
			slog.String(log.IntegrationIDKey, in.ID),
			slog.String("user", caller.UserID),
			log.Error(err))
		return nil, err
	}
	return s.runWebhook(ctx, in, body)
}

// InvokeWebhook runs another integration from an apiWebhook populate key.
// The result is plain JSON so later expressions can read it.
func (s *Service) InvokeWebhook(ctx context.Context, tenant, integrationID string, body any) (any, error) {
	in, err := s.GetIntegration(ctx, tenant, integrationID, false)
	if err != nil {
		return nil, err
	}
	res, err := s.runWebhook(ctx, in, body)
	if err != nil {
		return nil, err
	}

	raw, err := json.Marshal(res)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RunDataManipulation validates and runs steps against payload without a
// target.
func (s *Service) RunDataManipulation(ctx context.Context, tenant string, payload map[string]any, steps []pipeline.Step) (pipeline.Outcome, error) {
	if err := pipeline.ValidateSteps(s.executor.Evaluator(), steps); err != nil {
		return pipeline.Outcome{}, err
	}
	if payload == nil {
		payload = map[string]any{}
	}
	return s.executor.Execute(ctx, tenant, payload, steps)
}

func (s *Service) runWebhook(ctx context.Context, in *store.Integration, body any) (res *WebhookResult, err error) {
	ctx, span := tracing.Start(ctx, "integration.webhook",
		attribute.String("tenant", in.Tenant),
		attribute.String("integration.id", in.ID),
		attribute.Int("depth", pipeline.Depth(ctx)))
	defer func() { tracing.End(span, err) }()

	if !in.Active {
		return nil, &errors.ForbiddenError{Reason: fmt.Sprintf("integration %s is inactive", in.ID)}
	}
	if in.Trigger.Operation != source.OpAPIWebhook {
		return nil, &errors.ValidationError{
			Field:   "trigger.operation",
			Message: fmt.Sprintf("integration %s is triggered by %q, not %q", in.ID, in.Trigger.Operation, source.OpAPIWebhook),
		}
	}

	outcome, err := s.executor.Execute(ctx, in.Tenant, webhookPayload(body), in.DataManipulation)
	if err != nil {
		return nil, err
	}
	if outcome.Aborted {
		log.WithIntegration(s.logger, in.Tenant, in.ID).Debug("webhook run aborted")
		return &WebhookResult{Aborted: true}, nil
	}

	result, err := s.dispatcher.Dispatch(ctx, in.Tenant, outcome.Payload, in.Target)
	if err != nil {
		return nil, err
	}
	return &WebhookResult{Result: result}, nil
}

// checkGates enforces the apiWebhook trigger's roles and workspaceLabels.
// An empty list does not restrict.
func checkGates(in *store.Integration, caller *auth.Principal) error {
	if roles := stringList(in.Trigger.Details["roles"]); len(roles) > 0 && !caller.HasAnyRole(roles) {
		return &errors.ForbiddenError{Reason: "caller has none of the roles required by this integration"}
	}
	if labels := stringList(in.Trigger.Details["workspaceLabels"]); len(labels) > 0 && !caller.HasAnyWorkspaceLabel(labels) {
		return &errors.ForbiddenError{Reason: "caller's workspace has none of the labels required by this integration"}
	}
	return nil
}

// webhookPayload uses an object body as the payload and wraps anything
// else as {"body": value}.
func webhookPayload(body any) map[string]any {
	switch b := body.(type) {
	case nil:
		return map[string]any{}
	case map[string]any:
		return b
	default:
		return map[string]any{"body": b}
	}
}

func stringList(v any) []string {
	switch t := v.(type) {
	case []string:
		return t
	case []any:
		out := make([]string, 0, len(t))
		for _, item := range t {
			if s, ok := item.(string); ok && s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if t == "" {
			return nil
		}
		return []string{t}
	default:
		return nil
	}
}
