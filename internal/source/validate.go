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

package source

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/tombee/switchyard/internal/condition"
	"github.com/tombee/switchyard/internal/store"
	"github.com/tombee/switchyard/internal/transport"
	"github.com/tombee/switchyard/pkg/errors"
)

// ValidateMetadata strips undeclared keys from metadata in place and checks
// required keys. The metadata of a valid source always conforms to its kind.
// A nested auth object keeps only its non-secret settings; credentials
// belong in the vault.
func ValidateMetadata(kind string, metadata map[string]any) error {
	p, ok := Lookup(kind)
	if !ok {
		return unknownKind("kind", kind)
	}
	if err := conform("metadata", p.Metadata, metadata); err != nil {
		return err
	}
	if raw, ok := metadata["auth"]; ok {
		settings, isMap := raw.(map[string]any)
		if !isMap {
			return &errors.ValidationError{Field: "metadata.auth", Message: fmt.Sprintf("must be an object, got %T", raw)}
		}
		metadata["auth"] = transport.PublicAuth(settings)
	}
	return nil
}

// Validator checks integration endpoints against the tenant's sources.
type Validator struct {
	sources    store.SourceStore
	conditions *condition.Evaluator
}

// NewValidator creates a validator. conditions may be nil, in which case
// webhook trigger conditions are not compiled.
func NewValidator(sources store.SourceStore, conditions *condition.Evaluator) *Validator {
	return &Validator{sources: sources, conditions: conditions}
}

// ValidateTrigger resolves the trigger source and conforms ep.Details to the
// declared trigger operation. Undeclared keys are deleted in place.
func (v *Validator) ValidateTrigger(ctx context.Context, tenant string, ep *store.Endpoint) (*store.Source, error) {
	src, p, err := v.resolve(ctx, tenant, "trigger", ep)
	if err != nil {
		return nil, err
	}

	fields, ok := p.Triggers[ep.Operation]
	if !ok {
		return nil, undeclaredOperation("trigger", p, ep.Operation, p.TriggerOperations())
	}
	if err := conform("trigger.details", fields, ep.Details); err != nil {
		return nil, err
	}

	if ep.Operation == OpWebhook && v.conditions != nil {
		if expr, ok := ep.Details["condition"].(string); ok && strings.TrimSpace(expr) != "" {
			if err := v.conditions.Validate(expr); err != nil {
				return nil, err
			}
		}
	}
	return src, nil
}

// ValidateTarget resolves the target source and conforms ep.Details to the
// declared target operation. Undeclared keys are deleted in place.
func (v *Validator) ValidateTarget(ctx context.Context, tenant string, ep *store.Endpoint) (*store.Source, error) {
	src, p, err := v.resolve(ctx, tenant, "target", ep)
	if err != nil {
		return nil, err
	}

	fields, ok := p.Targets[ep.Operation]
	if !ok {
		return nil, undeclaredOperation("target", p, ep.Operation, p.TargetOperations())
	}
	if err := conform("target.details", fields, ep.Details); err != nil {
		return nil, err
	}
	return src, nil
}

func (v *Validator) resolve(ctx context.Context, tenant, role string, ep *store.Endpoint) (*store.Source, *Provider, error) {
	if ep == nil || ep.Source == "" {
		return nil, nil, &errors.ValidationError{Field: role + ".source", Message: "source is required"}
	}
	if ep.Operation == "" {
		return nil, nil, &errors.ValidationError{Field: role + ".operation", Message: "operation is required"}
	}

	src, err := v.sources.GetSource(ctx, tenant, ep.Source)
	if errors.IsNotFound(err) {
		return nil, nil, &errors.ValidationError{
			Field:   role + ".source",
			Message: fmt.Sprintf("source %q does not exist", ep.Source),
		}
	}
	if err != nil {
		return nil, nil, err
	}

	p, ok := Lookup(src.Kind)
	if !ok {
		return nil, nil, unknownKind(role+".source", src.Kind)
	}
	if ep.Details == nil {
		ep.Details = map[string]any{}
	}
	return src, p, nil
}

// conform deletes undeclared keys from values and checks that every
// required key holds a primitive.
func conform(field string, fields Fields, values map[string]any) error {
	for key := range values {
		if !fields.Declared(key) {
			delete(values, key)
		}
	}
	for _, key := range fields.Required {
		v, ok := values[key]
		if !ok || v == nil {
			return &errors.ValidationError{
				Field:   field + "." + key,
				Message: "required field is missing",
			}
		}
		if !primitive(v) {
			return &errors.ValidationError{
				Field:   field + "." + key,
				Message: fmt.Sprintf("must be a string, number or boolean, got %T", v),
			}
		}
	}
	return nil
}

func primitive(v any) bool {
	switch v.(type) {
	case string, bool, json.Number,
		float32, float64,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64:
		return true
	}
	return false
}

func unknownKind(field, kind string) error {
	return &errors.ValidationError{
		Field:      field,
		Message:    fmt.Sprintf("unknown source kind %q", kind),
		Suggestion: "use one of: " + strings.Join(Kinds(), ", "),
	}
}

func undeclaredOperation(role string, p *Provider, op string, declared []string) error {
	suggestion := fmt.Sprintf("%s sources have no %s operations", p.Kind, role)
	if len(declared) > 0 {
		suggestion = "use one of: " + strings.Join(declared, ", ")
	}
	return &errors.ValidationError{
		Field:      role + ".operation",
		Message:    fmt.Sprintf("operation %q is not a %s operation of kind %s", op, role, p.Kind),
		Suggestion: suggestion,
	}
}
