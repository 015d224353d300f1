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

package client

import (
	"sync"

	"github.com/cockroachdb/errors"
	"github.com/phf/go-queue/queue"
)

var (
	// ErrSomeOperationsFailed some operations of a flush failed, the
	// per-operation errors are in the session error collector.
	ErrSomeOperationsFailed = errors.New("some operations failed")
	// ErrOpAlreadyReleased the failed operation was already released.
	ErrOpAlreadyReleased = errors.New("failed operation already released")
	// ErrBufferFull the session buffer budget cannot admit the operation.
	ErrBufferFull = errors.New("mutation buffer is full")
)

// Error the failure of a single write operation. The failed operation is
// owned by the Error until released.
type Error struct {
	status             error
	possiblySuccessful bool

	mu struct {
		sync.Mutex
		op       *WriteOp
		released bool
	}
}

func newOpError(op *WriteOp, status error, possiblySuccessful bool) *Error {
	e := &Error{
		status:             status,
		possiblySuccessful: possiblySuccessful,
	}
	e.mu.op = op
	return e
}

// Status returns the failure cause.
func (e *Error) Status() error {
	return e.status
}

// WasPossiblySuccessful returns true if the operation may have been applied
// by the server even though its outcome was never observed, such as after a
// timeout.
func (e *Error) WasPossiblySuccessful() bool {
	return e.possiblySuccessful
}

// ReleaseFailedOp transfers ownership of the failed operation to the
// caller. Only the first call succeeds.
func (e *Error) ReleaseFailedOp() (*WriteOp, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.mu.released {
		return nil, ErrOpAlreadyReleased
	}
	e.mu.released = true
	op := e.mu.op
	e.mu.op = nil
	return op, nil
}

// errorCollector accumulates per-operation errors up to a fixed capacity,
// dropping the newest once full and flagging the overflow.
type errorCollector struct {
	mu         sync.Mutex
	capacity   int
	errs       *queue.Queue
	dropped    uint64
	overflowed bool
}

func newErrorCollector(capacity int) *errorCollector {
	return &errorCollector{
		capacity: capacity,
		errs:     queue.New(),
	}
}

func (c *errorCollector) add(e *Error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.errs.Len() >= c.capacity {
		c.dropped++
		c.overflowed = true
		return
	}
	c.errs.PushBack(e)
}

func (c *errorCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.errs.Len()
}

// setCapacity changes the retention capacity. Fails if errors are pending.
func (c *errorCollector) setCapacity(capacity int) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.errs.Len() > 0 {
		return errors.New("cannot resize error buffer with pending errors")
	}
	c.capacity = capacity
	return nil
}

// drain atomically removes and returns all retained errors and whether any
// error was dropped since the previous drain.
func (c *errorCollector) drain() ([]*Error, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	overflowed := c.overflowed
	c.overflowed = false
	c.dropped = 0

	var out []*Error
	for c.errs.Len() > 0 {
		out = append(out, c.errs.PopFront().(*Error))
	}
	return out, overflowed
}
