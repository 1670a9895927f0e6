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

// Package mutex provides a keyed lock that admits waiters on the same key in
// arrival order.
package mutex

import (
	"context"
	"sync"
)

// DefaultKey is the key used by Synchronize.
const DefaultKey = "__default__"

// Mutex serializes tasks per key. Tasks on the same key run one at a time in
// the order they called in; tasks on different keys run concurrently.
//
// Every key maps to the tail of its queue of waiters. A waiter holds the lock
// once its predecessor's slot is released; the key is dropped when the last
// waiter leaves.
type Mutex struct {
	mu    sync.Mutex
	tails map[string]*slot
}

type slot struct {
	released chan struct{}
}

// New returns an unlocked Mutex.
func New() *Mutex {
	return &Mutex{tails: make(map[string]*slot)}
}

// Synchronize runs task under DefaultKey.
func (m *Mutex) Synchronize(ctx context.Context, task func() error) error {
	return m.SynchronizeOn(ctx, DefaultKey, task)
}

// SynchronizeOn runs task exclusively for key and returns its error. The lock
// is released however task returns, including by panic. If ctx is done
// before the lock is acquired, task is not run and ctx.Err() is returned.
func (m *Mutex) SynchronizeOn(ctx context.Context, key string, task func() error) error {
	prev, own := m.enqueue(key)
	if prev != nil {
		select {
		case <-prev.released:
		case <-ctx.Done():
			// Keep our place until the predecessor is done so that the
			// successor never overtakes it.
			go func() {
				<-prev.released
				m.release(key, own)
			}()
			return ctx.Err()
		}
	}
	defer m.release(key, own)
	return task()
}

// Do runs task exclusively for key and returns its result.
func Do[T any](ctx context.Context, m *Mutex, key string, task func() (T, error)) (T, error) {
	var res T
	err := m.SynchronizeOn(ctx, key, func() error {
		var err error
		res, err = task()
		return err
	})
	return res, err
}

// Keys returns the number of keys with a holder or waiters.
func (m *Mutex) Keys() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.tails)
}

func (m *Mutex) enqueue(key string) (prev, own *slot) {
	own = &slot{released: make(chan struct{})}
	m.mu.Lock()
	defer m.mu.Unlock()
	prev = m.tails[key]
	m.tails[key] = own
	return prev, own
}

func (m *Mutex) release(key string, s *slot) {
	m.mu.Lock()
	if m.tails[key] == s {
		delete(m.tails, key)
	}
	m.mu.Unlock()
	close(s.released)
}
