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

// Package event defines platform events, the subscription matching rule
// and an in-process publish/subscribe bus.
package event

import (
	"encoding/json"
	"time"
)

// Wildcard matches any value of a subscription field.
const Wildcard = "*"

// PlatformEvent is an immutable fact emitted by any subsystem. It is the
// trigger signal for plugin hooks and webhook-triggered integrations.
type PlatformEvent struct {
	ID          string         `json:"id"`
	Tenant      string         `json:"tenant"`
	Source      string         `json:"source"`
	Kind        string         `json:"kind"`
	EventName   string         `json:"eventName"`
	Description string         `json:"description,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
	User        map[string]any `json:"user,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
}

// Snapshot returns a deep copy of the event as a plain JSON object. The
// pipeline runs on snapshots so handlers never share mutable state.
func (e PlatformEvent) Snapshot() map[string]any {
	raw, err := json.Marshal(e)
	if err != nil {
		return map[string]any{
			"id":        e.ID,
			"tenant":    e.Tenant,
			"source":    e.Source,
			"kind":      e.Kind,
			"eventName": e.EventName,
		}
	}
	var out map[string]any
	_ = json.Unmarshal(raw, &out)
	return out
}

// Subscription selects events by source, kind and event name. An empty
// field or "*" matches anything.
type Subscription struct {
	Source    string `json:"source,omitempty"`
	Kind      string `json:"kind,omitempty"`
	EventName string `json:"eventName,omitempty"`
	HookURL   string `json:"hookUrl,omitempty"`
}

// Matches reports whether ev satisfies the subscription.
//
// When source, kind and eventName are all set, each must match. When only
// some are set, the first set field in the order source, kind, eventName
// alone decides. So {source:"*", kind:"x"} matches every event, while
// {kind:"x", eventName:"y"} matches any event of kind x.
func (s Subscription) Matches(ev PlatformEvent) bool {
	if s.Source != "" && s.Kind != "" && s.EventName != "" {
		return fieldMatches(s.Source, ev.Source) &&
			fieldMatches(s.Kind, ev.Kind) &&
			fieldMatches(s.EventName, ev.EventName)
	}

	switch {
	case s.Source != "":
		return fieldMatches(s.Source, ev.Source)
	case s.Kind != "":
		return fieldMatches(s.Kind, ev.Kind)
	case s.EventName != "":
		return fieldMatches(s.EventName, ev.EventName)
	default:
		return true
	}
}

// CoarseMatches is the broad pre-filter applied by stores: any field that is
// unset, a wildcard or equal to the event's value lets the subscription
// through. Every subscription that Matches also CoarseMatches.
func (s Subscription) CoarseMatches(ev PlatformEvent) bool {
	return fieldMatches(s.Source, ev.Source) ||
		fieldMatches(s.Kind, ev.Kind) ||
		fieldMatches(s.EventName, ev.EventName)
}

func fieldMatches(want, got string) bool {
	return want == "" || want == Wildcard || want == got
}
