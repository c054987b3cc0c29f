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

package errors_test

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"

	syerrors "github.com/tombee/switchyard/pkg/errors"
)

func TestWrap(t *testing.T) {
	assert.Nil(t, syerrors.Wrap(nil, "context"))

	base := errors.New("base")
	err := syerrors.Wrap(base, "loading source")
	assert.EqualError(t, err, "loading source: base")
	assert.True(t, errors.Is(err, base))
}

func TestWrapf(t *testing.T) {
	assert.Nil(t, syerrors.Wrapf(nil, "step %d", 1))

	base := errors.New("base")
	err := syerrors.Wrapf(base, "step %d", 1)
	assert.EqualError(t, err, "step 1: base")
	assert.True(t, syerrors.Is(err, base))
}

func TestPredicates(t *testing.T) {
	validation := fmt.Errorf("wrap: %w", &syerrors.ValidationError{Message: "x"})
	notFound := fmt.Errorf("wrap: %w", &syerrors.NotFoundError{Resource: "source", ID: "s"})
	forbidden := &syerrors.ForbiddenError{Reason: "role"}

	assert.True(t, syerrors.IsValidation(validation))
	assert.False(t, syerrors.IsValidation(notFound))
	assert.True(t, syerrors.IsNotFound(notFound))
	assert.True(t, syerrors.IsForbidden(forbidden))
	assert.False(t, syerrors.IsForbidden(validation))
}

func TestHTTPStatus(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"nil", nil, http.StatusOK},
		{"validation", &syerrors.ValidationError{Message: "bad"}, http.StatusBadRequest},
		{"forbidden", &syerrors.ForbiddenError{Reason: "role"}, http.StatusForbidden},
		{"not found", &syerrors.NotFoundError{Resource: "integration", ID: "x"}, http.StatusNotFound},
		{"step", &syerrors.StepError{Phase: syerrors.PhaseMap, Cause: errors.New("x")}, http.StatusUnprocessableEntity},
		{"population", &syerrors.PopulationError{Source: "apiWebhook", Message: "depth exceeded"}, http.StatusUnprocessableEntity},
		{"dispatch", &syerrors.DispatchError{Kind: "http", StatusCode: 500}, http.StatusBadGateway},
		{"plain", errors.New("boom"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, syerrors.HTTPStatus(tt.err))
		})
	}
}

func TestTypeOf(t *testing.T) {
	assert.Equal(t, "validation", syerrors.TypeOf(fmt.Errorf("x: %w", &syerrors.ValidationError{})))
	assert.Equal(t, "step", syerrors.TypeOf(&syerrors.StepError{Cause: &syerrors.ExpressionError{}}))
	assert.Equal(t, "internal", syerrors.TypeOf(errors.New("boom")))
}
