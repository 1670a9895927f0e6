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

package event

import (
	"context"

	"perun.network/go-perun/log"
	pkgsync "polycry.pt/poly-go/sync"
)

// DefaultBufferSize is the number of undelivered events a Subscription keeps.
const DefaultBufferSize = 1024

// Subscription buffers events for a consumer reading with Next.
type Subscription struct {
	events chan Event
	closer *pkgsync.Closer
	log    log.Embedding
}

func newSubscription(size int) *Subscription {
	return &Subscription{
		events: make(chan Event, size),
		closer: new(pkgsync.Closer),
		log:    log.MakeEmbedding(log.Default()),
	}
}

// Observe enqueues ev. If the buffer is full the event is dropped, since
// emitters must not wait on slow consumers.
func (s *Subscription) Observe(ev Event) {
	if s.closer.IsClosed() {
		return
	}
	select {
	case s.events <- ev:
	default:
		s.log.Log().WithField("type", ev.Type).Warn("Subscription buffer full, dropping event")
	}
}

// Next returns the next event. It returns false once the subscription is
// closed or ctx is done.
func (s *Subscription) Next(ctx context.Context) (Event, bool) {
	select {
	case ev := <-s.events:
		return ev, true
	case <-s.closer.Closed():
		return Event{}, false
	case <-ctx.Done():
		return Event{}, false
	}
}

// Close stops delivery. Buffered events are discarded.
func (s *Subscription) Close() error {
	return s.closer.Close()
}
