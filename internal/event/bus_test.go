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
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tombee/switchyard/pkg/errors"
)

func TestBus_PublishFansOut(t *testing.T) {
	bus := NewBus(nil)

	var mu sync.Mutex
	var got []string
	for _, name := range []string{"a", "b"} {
		bus.Subscribe(func(ctx context.Context, ev PlatformEvent) {
			mu.Lock()
			got = append(got, name+":"+ev.EventName)
			mu.Unlock()
		})
	}

	ev, err := bus.Publish(context.Background(), PlatformEvent{Tenant: "acme", Kind: "lifecycle", EventName: "registered"})
	require.NoError(t, err)
	bus.Wait()

	assert.NotEmpty(t, ev.ID)
	assert.False(t, ev.CreatedAt.IsZero())
	assert.ElementsMatch(t, []string{"a:registered", "b:registered"}, got)
}

func TestBus_PublishDoesNotBlock(t *testing.T) {
	bus := NewBus(nil)
	release := make(chan struct{})
	bus.Subscribe(func(ctx context.Context, ev PlatformEvent) { <-release })

	_, err := bus.Publish(context.Background(), PlatformEvent{Tenant: "acme", Kind: "k", EventName: "e"})
	require.NoError(t, err)

	close(release)
	bus.Wait()
}

func TestBus_HandlerContextOutlivesPublisher(t *testing.T) {
	bus := NewBus(nil)
	var cancelled atomic.Bool
	bus.Subscribe(func(ctx context.Context, ev PlatformEvent) {
		cancelled.Store(ctx.Err() != nil)
	})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := bus.Publish(ctx, PlatformEvent{Tenant: "acme", Kind: "k", EventName: "e"})
	require.NoError(t, err)
	bus.Wait()

	assert.False(t, cancelled.Load())
}

func TestBus_PanicIsContained(t *testing.T) {
	bus := NewBus(nil)
	var calls atomic.Int32
	bus.Subscribe(func(ctx context.Context, ev PlatformEvent) { panic("boom") })
	bus.Subscribe(func(ctx context.Context, ev PlatformEvent) { calls.Add(1) })

	_, err := bus.Publish(context.Background(), PlatformEvent{Tenant: "acme", Kind: "k", EventName: "e"})
	require.NoError(t, err)
	bus.Wait()

	assert.Equal(t, int32(1), calls.Load())
}

func TestBus_Unsubscribe(t *testing.T) {
	bus := NewBus(nil)
	var calls atomic.Int32
	unsubscribe := bus.Subscribe(func(ctx context.Context, ev PlatformEvent) { calls.Add(1) })
	unsubscribe()

	_, err := bus.Publish(context.Background(), PlatformEvent{Tenant: "acme", Kind: "k", EventName: "e"})
	require.NoError(t, err)
	bus.Wait()

	assert.Zero(t, calls.Load())
}

func TestBus_WaitCoversChainedEvents(t *testing.T) {
	bus := NewBus(nil)
	var seen atomic.Int32
	bus.Subscribe(func(ctx context.Context, ev PlatformEvent) {
		seen.Add(1)
		if ev.EventName == "first" {
			_, _ = bus.Publish(ctx, PlatformEvent{Tenant: ev.Tenant, Kind: "k", EventName: "second"})
		}
	})

	_, err := bus.Publish(context.Background(), PlatformEvent{Tenant: "acme", Kind: "k", EventName: "first"})
	require.NoError(t, err)
	bus.Wait()

	assert.Equal(t, int32(2), seen.Load())
}

func TestBus_PublishValidates(t *testing.T) {
	bus := NewBus(nil)
	_, err := bus.Publish(context.Background(), PlatformEvent{Kind: "k", EventName: "e"})
	assert.True(t, errors.IsValidation(err))

	_, err = bus.Publish(context.Background(), PlatformEvent{Tenant: "acme"})
	assert.True(t, errors.IsValidation(err))
}
