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

package transport

import "fmt"

// ErrorType classifies a transport failure.
type ErrorType string

const (
	ErrorTypeConnection ErrorType = "connection"
	ErrorTypeTimeout    ErrorType = "timeout"
	ErrorTypeAuth       ErrorType = "auth"
	ErrorTypeRateLimit  ErrorType = "rate_limit"
	ErrorTypeServer     ErrorType = "server"
	ErrorTypeClient     ErrorType = "client"
	ErrorTypeInvalidReq ErrorType = "invalid_request"
	ErrorTypeCancelled  ErrorType = "cancelled"
)

// TransportError is returned for every failed request. Message never
// contains credentials.
type TransportError struct {
	Type       ErrorType
	StatusCode int
	Message    string

	// Response is set for non-2xx replies.
	Response *Response

	Cause error
}

func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("%s error (status %d): %s", e.Type, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("%s error: %s", e.Type, e.Message)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

func classifyStatus(code int) ErrorType {
	switch {
	case code == 401 || code == 403:
		return ErrorTypeAuth
	case code == 429:
		return ErrorTypeRateLimit
	case code >= 500:
		return ErrorTypeServer
	default:
		return ErrorTypeClient
	}
}
