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

// Package errors defines the error taxonomy shared by the pipeline,
// dispatcher, validators and API.
package errors

import (
	"fmt"
)

// ErrorClassifier is implemented by every error in this package. ErrorType
// becomes the "type" field of API error responses.
type ErrorClassifier interface {
	error
	ErrorType() string
}

// ValidationError represents invalid integration, source or request input.
// Surfaced to API callers as a 4xx response.
type ValidationError struct {
	// Field identifies which input field failed validation
	Field string

	// Message is the human-readable error description
	Message string

	// Suggestion provides actionable guidance for fixing the error
	Suggestion string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed on %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("validation failed: %s", e.Message)
}

// ErrorType implements ErrorClassifier.
func (e *ValidationError) ErrorType() string { return "validation" }

// NotFoundError represents a resource not found error.
type NotFoundError struct {
	// Resource is the type of resource (e.g., "integration", "source", "plugin")
	Resource string

	// ID is the identifier that was not found
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s not found: %s", e.Resource, e.ID)
}

// ErrorType implements ErrorClassifier.
func (e *NotFoundError) ErrorType() string { return "not_found" }

// ForbiddenError is returned when a caller fails a role or workspace gate.
type ForbiddenError struct {
	Reason string
}

// Error implements the error interface.
func (e *ForbiddenError) Error() string {
	return fmt.Sprintf("forbidden: %s", e.Reason)
}

// ErrorType implements ErrorClassifier.
func (e *ForbiddenError) ErrorType() string { return "forbidden" }

// ExpressionError is returned when a transform expression cannot be parsed,
// compiled or evaluated.
type ExpressionError struct {
	// Expression is the original expression text
	Expression string

	// Cause is the underlying jq error
	Cause error
}

// Error implements the error interface.
func (e *ExpressionError) Error() string {
	if e.Cause == nil {
		return fmt.Sprintf("expression %q failed", e.Expression)
	}
	return fmt.Sprintf("expression %q failed: %v", e.Expression, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ExpressionError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *ExpressionError) ErrorType() string { return "expression" }

// PopulationError is returned when a population resolver fails.
type PopulationError struct {
	// Source is the resolver kind (e.g., "user", "blueprintEntity")
	Source string

	// Message describes the failure
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *PopulationError) Error() string {
	msg := fmt.Sprintf("populate %s: %s", e.Source, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *PopulationError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *PopulationError) ErrorType() string { return "population" }

// Step phases reported by StepError.
const (
	PhaseAbort    = "abort"
	PhaseMap      = "map"
	PhasePopulate = "populate"
)

// StepError locates a failure inside a data-manipulation run.
// The wrapped Cause is an ExpressionError or a PopulationError.
type StepError struct {
	// StepIndex is the zero-based index of the failing step
	StepIndex int

	// Phase is one of PhaseAbort, PhaseMap or PhasePopulate
	Phase string

	// Field is the payload key being computed, empty for the abort phase
	Field string

	// ResolverSource is the populate source kind, empty outside PhasePopulate
	ResolverSource string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *StepError) Error() string {
	msg := fmt.Sprintf("step %d %s", e.StepIndex, e.Phase)
	if e.Field != "" {
		msg = fmt.Sprintf("%s field %q", msg, e.Field)
	}
	if e.ResolverSource != "" {
		msg = fmt.Sprintf("%s (source %s)", msg, e.ResolverSource)
	}
	return fmt.Sprintf("%s: %v", msg, e.Cause)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *StepError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *StepError) ErrorType() string { return "step" }

// DispatchError represents a failed target call.
type DispatchError struct {
	// Kind is the target source kind (http, ai, platform)
	Kind string

	// Operation is the target operation
	Operation string

	// StatusCode is the upstream HTTP status code, zero when unknown
	StatusCode int

	// Message is the human-readable error message
	Message string

	// Cause is the underlying error
	Cause error
}

// Error implements the error interface.
func (e *DispatchError) Error() string {
	msg := fmt.Sprintf("dispatch %s/%s", e.Kind, e.Operation)
	if e.StatusCode > 0 {
		msg = fmt.Sprintf("%s [HTTP %d]", msg, e.StatusCode)
	}
	msg = fmt.Sprintf("%s: %s", msg, e.Message)
	if e.Cause != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Cause)
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *DispatchError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *DispatchError) ErrorType() string { return "dispatch" }

// ConfigError represents configuration problems.
type ConfigError struct {
	// Key is the configuration key that has the problem (e.g., "storage.type")
	Key string

	// Reason explains what's wrong with the configuration
	Reason string

	// Cause is the underlying error (e.g., file read error, parse error)
	Cause error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Key != "" {
		return fmt.Sprintf("config error at %s: %s", e.Key, e.Reason)
	}
	return fmt.Sprintf("config error: %s", e.Reason)
}

// Unwrap returns the underlying cause for errors.Is/As support.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// ErrorType implements ErrorClassifier.
func (e *ConfigError) ErrorType() string { return "config" }
