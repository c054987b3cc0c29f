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
	"context"

	"github.com/tombee/switchyard/internal/event"
	"github.com/tombee/switchyard/internal/source"
)

func (d *Dispatcher) emitEvent(ctx context.Context, c *call, t source.EmitEvent) (*Result, error) {
	if d.events == nil {
		return nil, d.fail(c, "no event publisher configured", nil)
	}
	ev := event.PlatformEvent{
		Tenant:      c.tenant,
		Source:      t.Source,
		Kind:        t.Kind,
		EventName:   t.EventName,
		Description: t.Description,
		Metadata:    t.Metadata,
	}
	if ev.Source == "" {
		ev.Source = DefaultEventSource
	}
	if ev.Kind == "" {
		ev.Kind = DefaultEventKind
	}
	published, err := d.events.Publish(ctx, ev)
	if err != nil {
		return nil, d.fail(c, "failed to publish event", err)
	}
	return &Result{Body: published.Snapshot()}, nil
}

func (d *Dispatcher) platformCall(ctx context.Context, c *call, t source.Target) (*Result, error) {
	if d.platform == nil {
		return nil, d.fail(c, "no platform client configured", nil)
	}

	var (
		out map[string]any
		err error
	)
	switch req := t.(type) {
	case source.CreateUser:
		out, err = d.platform.CreateUser(ctx, c.tenant, req)
	case source.UpdateUser:
		out, err = d.platform.UpdateUser(ctx, c.tenant, req)
	case source.SetUserRoles:
		out, err = d.platform.SetUserRoles(ctx, c.tenant, req)
	case source.CreateEntity:
		out, err = d.platform.CreateEntity(ctx, c.tenant, req)
	case source.UpdateEntity:
		out, err = d.platform.UpdateEntity(ctx, c.tenant, req)
	default:
		return nil, d.fail(c, "unsupported platform operation", nil)
	}
	if err != nil {
		return nil, d.fail(c, "platform request failed", err)
	}
	return &Result{Body: out}, nil
}
