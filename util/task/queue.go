// Copyright 2022 QuarryDB.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// See the License for the specific language governing permissions and
// limitations under the License.

package task

import (
	"sync"

	"github.com/cockroachdb/errors"
)

// ErrDisposed returned from Put and Get after the queue is disposed.
var ErrDisposed = errors.New("queue: disposed")

// Queue is an unbounded MPMC queue. Get blocks until at least one item is
// available or the queue is disposed.
type Queue struct {
	mu       sync.Mutex
	cond     *sync.Cond
	items    []interface{}
	disposed bool
}

// New creates a queue, hint is the initial capacity.
func New(hint int64) *Queue {
	q := &Queue{
		items: make([]interface{}, 0, hint),
	}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// Put adds items to the queue.
func (q *Queue) Put(items ...interface{}) error {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.disposed {
		return ErrDisposed
	}

	q.items = append(q.items, items...)
	q.cond.Broadcast()
	return nil
}

// Get fills items with up to max queued values, blocking while the queue is
// empty. Returns the number of values written into items.
func (q *Queue) Get(max int64, items []interface{}) (int64, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for len(q.items) == 0 {
		if q.disposed {
			return 0, ErrDisposed
		}
		q.cond.Wait()
	}
	if q.disposed {
		return 0, ErrDisposed
	}

	n := int64(len(q.items))
	if n > max {
		n = max
	}
	copy(items, q.items[:n])
	remain := int64(len(q.items)) - n
	copy(q.items, q.items[n:])
	for i := remain; i < int64(len(q.items)); i++ {
		q.items[i] = nil
	}
	q.items = q.items[:remain]
	return n, nil
}

// Len returns the number of queued items.
func (q *Queue) Len() int64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return int64(len(q.items))
}

// Dispose releases any blocked Get calls and returns the items that were
// still queued. Put and Get fail after Dispose.
func (q *Queue) Dispose() []interface{} {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.disposed {
		return nil
	}
	q.disposed = true
	items := q.items
	q.items = nil
	q.cond.Broadcast()
	return items
}
