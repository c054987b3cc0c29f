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

package event

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/tombee/switchyard/internal/log"
	"github.com/tombee/switchyard/internal/metrics"
	"github.com/tombee/switchyard/pkg/errors"
)

// Handler processes a published event.
type Handler func(ctx context.Context, ev PlatformEvent)

// Publisher publishes platform events.
type Publisher interface {
	Publish(ctx context.Context, ev PlatformEvent) (PlatformEvent, error)
}

// Bus is an in-process publish/subscribe bus.
//
// Publish never waits for handlers: each handler runs on its own goroutine
// with a context detached from the publisher's cancellation. Wait blocks
// until every in-flight handler has returned.
type Bus struct {
	mu       sync.RWMutex
	handlers map[int]Handler
	nextID   int
	inflight sync.WaitGroup
	logger   *slog.Logger
	now      func() time.Time
}

// NewBus creates an empty bus.
func NewBus(logger *slog.Logger) *Bus {
	if logger == nil {
		logger = log.Discard()
	}
	return &Bus{
		handlers: make(map[int]Handler),
		logger:   log.WithComponent(logger, "event-bus"),
		now:      time.Now,
	}
}

// Subscribe registers h and returns a function that removes it.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// Publish assigns an id and timestamp when missing and fans the event out
// to every subscriber. It returns the event as delivered.
func (b *Bus) Publish(ctx context.Context, ev PlatformEvent) (PlatformEvent, error) {
	if ev.Tenant == "" {
		return ev, &errors.ValidationError{Field: "tenant", Message: "event tenant is required"}
	}
	if ev.Kind == "" || ev.EventName == "" {
		return ev, &errors.ValidationError{Field: "kind", Message: "event kind and eventName are required"}
	}
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = b.now().UTC()
	}

	b.mu.RLock()
	handlers := make([]Handler, 0, len(b.handlers))
	for _, h := range b.handlers {
		handlers = append(handlers, h)
	}
	b.mu.RUnlock()

	metrics.RecordEventPublished(ev.Kind)
	b.logger.Debug("event published",
		slog.String(log.TenantKey, ev.Tenant),
		slog.String(log.EventKey, ev.Kind+"/"+ev.EventName),
		slog.Int("subscribers", len(handlers)))

	detached := context.WithoutCancel(ctx)
	for _, h := range handlers {
		b.inflight.Add(1)
		go b.deliver(detached, h, ev)
	}
	return ev, nil
}

func (b *Bus) deliver(ctx context.Context, h Handler, ev PlatformEvent) {
	defer b.inflight.Done()
	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("event handler panicked",
				slog.String(log.TenantKey, ev.Tenant),
				slog.String("event_id", ev.ID),
				slog.String("panic", fmt.Sprint(r)),
				slog.String("stack", string(debug.Stack())))
		}
	}()
	h(ctx, ev)
}

// Wait blocks until all handlers started by prior Publish calls return,
// including handlers for events published by those handlers.
func (b *Bus) Wait() {
	b.inflight.Wait()
}
