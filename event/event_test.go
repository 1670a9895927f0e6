// Copyright 2025 PolyCrypt GmbH
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

package event_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"perun.network/micropay-backend/event"
)

func TestDispatcherOrder(t *testing.T) {
	d := event.NewDispatcher()
	var seen []string
	d.Register(event.ObserverFunc(func(ev event.Event) { seen = append(seen, "first:"+ev.Type.String()) }))
	unregister := d.Register(event.ObserverFunc(func(ev event.Event) { seen = append(seen, "second:"+ev.Type.String()) }))

	d.Emit(event.Event{Type: event.WillOpenChannel})
	unregister()
	d.Emit(event.Event{Type: event.DidOpenChannel})

	require.Equal(t, []string{
		"first:willOpenChannel",
		"second:willOpenChannel",
		"first:didOpenChannel",
	}, seen)
}

func TestSubscription(t *testing.T) {
	d := event.NewDispatcher()
	sub := d.Subscribe()

	d.Emit(event.Event{Type: event.WillCloseChannel})
	d.Emit(event.Event{Type: event.DidCloseChannel})

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	ev, ok := sub.Next(ctx)
	require.True(t, ok)
	require.Equal(t, event.WillCloseChannel, ev.Type)
	ev, ok = sub.Next(ctx)
	require.True(t, ok)
	require.Equal(t, event.DidCloseChannel, ev.Type)

	require.NoError(t, sub.Close())
	d.Emit(event.Event{Type: event.WillOpenChannel})
	_, ok = sub.Next(ctx)
	require.False(t, ok)
}

func TestSubscriptionDropsWhenFull(t *testing.T) {
	d := event.NewDispatcher()
	sub := d.Subscribe()
	defer sub.Close()

	for i := 0; i < event.DefaultBufferSize+10; i++ {
		d.Emit(event.Event{Type: event.DidOpenChannel})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	n := 0
	for {
		if _, ok := sub.Next(ctx); !ok {
			break
		}
		n++
	}
	require.Equal(t, event.DefaultBufferSize, n)
}
