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
	"sort"
	"sync"
)

// Observer is notified of lifecycle events. Observe runs on the emitting
// goroutine, which may hold a channel lock, so it must not block.
type Observer interface {
	Observe(ev Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(ev Event)

// Observe calls f(ev).
func (f ObserverFunc) Observe(ev Event) { f(ev) }

// Dispatcher fans events out to registered observers in registration order.
type Dispatcher struct {
	mu        sync.RWMutex
	nextID    int
	observers map[int]Observer
}

// NewDispatcher returns a Dispatcher without observers.
func NewDispatcher() *Dispatcher {
	return &Dispatcher{observers: make(map[int]Observer)}
}

// Register adds obs and returns a function removing it again.
func (d *Dispatcher) Register(obs Observer) (unregister func()) {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextID
	d.nextID++
	d.observers[id] = obs
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.observers, id)
	}
}

// Emit delivers ev to every observer.
func (d *Dispatcher) Emit(ev Event) {
	d.mu.RLock()
	ids := make([]int, 0, len(d.observers))
	for id := range d.observers {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	observers := make([]Observer, len(ids))
	for i, id := range ids {
		observers[i] = d.observers[id]
	}
	d.mu.RUnlock()

	for _, obs := range observers {
		obs.Observe(ev)
	}
}

// Subscribe registers a buffered Subscription.
func (d *Dispatcher) Subscribe() *Subscription {
	sub := newSubscription(DefaultBufferSize)
	unregister := d.Register(sub)
	sub.closer.OnCloseAlways(unregister)
	return sub
}
