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

// Package pipeline runs data-manipulation steps: ordered map, populate,
// clean and abort instructions applied to a JSON payload.
package pipeline

import (
	"encoding/json"
	"fmt"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/tombee/switchyard/internal/jq"
	"github.com/tombee/switchyard/pkg/errors"
)

// ResolverKind names a population resolver.
type ResolverKind string

const (
	ResolverUser              ResolverKind = "user"
	ResolverWorkspace         ResolverKind = "workspace"
	ResolverBlueprintEntity   ResolverKind = "blueprintEntity"
	ResolverBlueprintEntities ResolverKind = "blueprintEntities"
	ResolverVectorStores      ResolverKind = "vectorStores"
	ResolverAPIWebhook        ResolverKind = "apiWebhook"
)

// ResolverKinds lists every known resolver kind.
var ResolverKinds = []ResolverKind{
	ResolverUser,
	ResolverWorkspace,
	ResolverBlueprintEntity,
	ResolverBlueprintEntities,
	ResolverVectorStores,
	ResolverAPIWebhook,
}

// Step is one unit of a data-manipulation pipeline.
type Step struct {
	// Map assigns each key the result of a jq expression. Values may be
	// nested objects or arrays whose leaf strings are expressions.
	Map map[string]any `json:"map,omitempty" yaml:"map,omitempty"`

	// Populate fills each key from a resolver.
	Populate map[string]PopulateConfig `json:"populate,omitempty" yaml:"populate,omitempty"`

	// Clean starts the step from an empty payload.
	Clean bool `json:"clean,omitempty" yaml:"clean,omitempty"`

	// Abort stops the pipeline when true or when its expression is truthy.
	Abort *Abort `json:"abort,omitempty" yaml:"abort,omitempty"`
}

// PopulateConfig configures one populate key.
type PopulateConfig struct {
	Source      ResolverKind `json:"source" yaml:"source"`
	Blueprint   string       `json:"blueprint,omitempty" yaml:"blueprint,omitempty"`
	Scope       string       `json:"scope,omitempty" yaml:"scope,omitempty"`
	SubjectID   string       `json:"subjectId,omitempty" yaml:"subjectId,omitempty"`
	Integration string       `json:"integration,omitempty" yaml:"integration,omitempty"`
}

// Abort is either a constant true or a jq expression. The string "true"
// is treated as the constant and never evaluated.
type Abort struct {
	Always bool
	Expr   string
}

// AbortAlways returns an Abort that always fires.
func AbortAlways() *Abort { return &Abort{Always: true} }

// AbortWhen returns an Abort that fires when expr is truthy.
func AbortWhen(expr string) *Abort {
	if expr == "true" {
		return AbortAlways()
	}
	return &Abort{Expr: expr}
}

// set decodes the raw bool-or-string form.
func (a *Abort) set(v any) error {
	switch t := v.(type) {
	case bool:
		*a = Abort{Always: t}
	case string:
		*a = *AbortWhen(t)
	case nil:
		*a = Abort{}
	default:
		return fmt.Errorf("abort must be a boolean or an expression string, got %T", v)
	}
	return nil
}

func (a Abort) value() any {
	if a.Always {
		return true
	}
	if a.Expr == "" {
		return false
	}
	return a.Expr
}

// UnmarshalJSON accepts a boolean or an expression string.
func (a *Abort) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	return a.set(v)
}

// MarshalJSON encodes the boolean or expression form.
func (a Abort) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.value())
}

// UnmarshalYAML accepts a boolean or an expression string.
func (a *Abort) UnmarshalYAML(node *yaml.Node) error {
	var v any
	if err := node.Decode(&v); err != nil {
		return err
	}
	return a.set(v)
}

// MarshalYAML encodes the boolean or expression form.
func (a Abort) MarshalYAML() (any, error) {
	return a.value(), nil
}

// active reports whether the abort clause can fire at all.
func (a *Abort) active() bool {
	return a != nil && (a.Always || a.Expr != "")
}

// ValidateSteps checks that every expression compiles and every populate
// entry names a known resolver with the configuration it needs.
func ValidateSteps(eval *jq.Evaluator, steps []Step) error {
	for i, step := range steps {
		if step.Abort.active() && !step.Abort.Always {
			if err := eval.Validate(step.Abort.Expr); err != nil {
				return stepValidationError(i, "abort", err)
			}
		}

		for _, key := range sortedKeys(step.Map) {
			if err := eval.ValidateTree(step.Map[key]); err != nil {
				return stepValidationError(i, "map."+key, err)
			}
		}

		for _, key := range sortedKeys(step.Populate) {
			cfg := step.Populate[key]
			if !knownResolver(cfg.Source) {
				return &errors.ValidationError{
					Field:      fmt.Sprintf("dataManipulation[%d].populate.%s.source", i, key),
					Message:    fmt.Sprintf("unknown populate source %q", cfg.Source),
					Suggestion: fmt.Sprintf("use one of %v", ResolverKinds),
				}
			}
			if cfg.Source == ResolverAPIWebhook && cfg.Integration == "" {
				return &errors.ValidationError{
					Field:   fmt.Sprintf("dataManipulation[%d].populate.%s.integration", i, key),
					Message: "apiWebhook population requires an integration id",
				}
			}
			if cfg.Source == ResolverBlueprintEntities && cfg.Blueprint == "" {
				return &errors.ValidationError{
					Field:   fmt.Sprintf("dataManipulation[%d].populate.%s.blueprint", i, key),
					Message: "blueprintEntities population requires a blueprint",
				}
			}
		}
	}
	return nil
}

func stepValidationError(index int, field string, err error) error {
	return &errors.ValidationError{
		Field:   fmt.Sprintf("dataManipulation[%d].%s", index, field),
		Message: err.Error(),
	}
}

func knownResolver(kind ResolverKind) bool {
	for _, k := range ResolverKinds {
		if k == kind {
			return true
		}
	}
	return false
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
