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

package dispatch

import (
	"maps"

	"github.com/tombee/switchyard/internal/source"
)

// requestKeys are the makeRequest fields that source metadata, target
// details and the payload may each supply.
var requestKeys = []string{"method", "url", "headers", "body", "query"}

// overlay builds the effective target details for c.
//
// makeRequest merges source metadata < target details < payload over
// requestKeys, with headers and query merged key by key. Other handled
// operations let payload keys override the operation's declared fields.
// emitEvent without metadata carries the payload as metadata, and entity
// writes without data carry the payload as data.
func overlay(c *call) map[string]any {
	details := c.target.Details
	if c.source.Kind == string(source.KindHTTP) && c.target.Operation == source.OpMakeRequest {
		out := mergeRequest(c.source.Metadata, details, c.payload)
		if tr, ok := details["triggerResponse"]; ok {
			out["triggerResponse"] = tr
		}
		return out
	}

	p, ok := source.Lookup(c.source.Kind)
	if !ok {
		return details
	}
	fields, ok := p.Targets[c.target.Operation]
	if !ok {
		return details
	}

	out := make(map[string]any, len(details))
	maps.Copy(out, details)
	for k, v := range c.payload {
		if k != "triggerResponse" && fields.Declared(k) {
			out[k] = v
		}
	}

	switch c.target.Operation {
	case source.OpEmitEvent:
		if _, ok := out["metadata"]; !ok {
			out["metadata"] = c.payload
		}
	case source.OpCreateEntity, source.OpUpdateEntity:
		if _, ok := out["data"]; !ok {
			out["data"] = c.payload
		}
	}
	return out
}

func mergeRequest(layers ...map[string]any) map[string]any {
	out := make(map[string]any, len(requestKeys))
	for _, layer := range layers {
		for _, key := range requestKeys {
			v, ok := layer[key]
			if !ok || v == nil {
				continue
			}
			if key != "headers" && key != "query" {
				out[key] = v
				continue
			}
			m, ok := v.(map[string]any)
			if !ok {
				continue
			}
			merged, _ := out[key].(map[string]any)
			if merged == nil {
				merged = make(map[string]any, len(m))
			}
			maps.Copy(merged, m)
			out[key] = merged
		}
	}
	return out
}

// passthrough is the payload minus request control keys. It becomes the
// request body when no layer sets one.
func passthrough(payload map[string]any) map[string]any {
	out := maps.Clone(payload)
	for _, key := range requestKeys {
		delete(out, key)
	}
	delete(out, "triggerResponse")
	if len(out) == 0 {
		return nil
	}
	return out
}
