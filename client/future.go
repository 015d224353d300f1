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
	"context"
	"sync"

	"github.com/quarrydb/quarry/rpc"
)

// Future is used to obtain a tablet server response synchronously.
type Future struct {
	req   rpc.Request
	value rpc.Response
	err   error
	ctx   context.Context
	c     chan struct{}

	mu struct {
		sync.Mutex
		closed bool
	}
}

func newFuture(ctx context.Context, req rpc.Request) *Future {
	return &Future{
		req: req,
		ctx: ctx,
		c:   make(chan struct{}, 1),
	}
}

// Get get the response synchronously, blocking until `context.Done` or the
// response is received. This method cannot be called more than once. After
// calling `Get`, `Close` must be called to close `Future`.
func (f *Future) Get() (rpc.Response, error) {
	select {
	case <-f.ctx.Done():
		return rpc.Response{}, f.ctx.Err()
	case <-f.c:
		return f.value, f.err
	}
}

// Close close the future.
func (f *Future) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()

	close(f.c)
	f.mu.closed = true
}

func (f *Future) done(value rpc.Response, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if !f.mu.closed {
		f.value = value
		f.err = err
		select {
		case f.c <- struct{}{}:
		default:
			panic("BUG")
		}
	}
}
