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

// Package hlc implements a hybrid logical clock whose timestamps are
// expressed in microseconds. The physical component comes from the wall
// clock; the logical component is folded in by forcing the clock to be
// strictly monotonic across Now calls and across timestamps observed from
// remote nodes via Update.
package hlc

import (
	"sync"
	"time"
)

func physicalClock() int64 {
	return time.Now().UnixNano()
}

func toMicrosecond(nanos int64) int64 {
	return nanos / 1000
}

// Clock is a hybrid logical clock. Safe for concurrent use.
type Clock struct {
	physical  func() int64
	maxOffset time.Duration

	mu struct {
		sync.Mutex
		last int64 // last timestamp handed out or observed, in micros
	}
}

// NewHLCClock creates a Clock driven by the given physical clock, which must
// return wall time in nanoseconds. maxOffset is the maximum tolerated clock
// skew between nodes.
func NewHLCClock(physical func() int64, maxOffset time.Duration) *Clock {
	return &Clock{
		physical:  physical,
		maxOffset: maxOffset,
	}
}

// NewUnixNanoHLCClock creates a Clock driven by the wall clock.
func NewUnixNanoHLCClock(maxOffset time.Duration) *Clock {
	return NewHLCClock(physicalClock, maxOffset)
}

// Now returns the current hybrid timestamp in microseconds. Successive calls
// return strictly increasing values even if the wall clock stalls or jumps
// backwards.
func (c *Clock) Now() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := toMicrosecond(c.physical())
	if now <= c.mu.last {
		now = c.mu.last + 1
	}
	c.mu.last = now
	return uint64(now)
}

// Update forwards the clock to account for a timestamp observed from a
// remote node, so that timestamps handed out later sort after it.
func (c *Clock) Update(observedMicros uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if int64(observedMicros) > c.mu.last {
		c.mu.last = int64(observedMicros)
	}
}

// Last returns the most recent timestamp handed out or observed, without
// advancing the clock. Zero means the clock has never ticked.
func (c *Clock) Last() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return uint64(c.mu.last)
}

// MaxOffset returns the maximum tolerated clock skew.
func (c *Clock) MaxOffset() time.Duration {
	return c.maxOffset
}
