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
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/quarrydb/quarry/components/log"
	"github.com/quarrydb/quarry/location"
	"github.com/quarrydb/quarry/metric"
	"github.com/quarrydb/quarry/rpc"
)

type batcherState int32

const (
	batcherOpen     = batcherState(0)
	batcherFlushing = batcherState(1)
	batcherDone     = batcherState(2)
)

// pendingOp one buffered operation with its routing target resolved.
type pendingOp struct {
	op      *WriteOp
	cb      func(error)
	encoded rpc.EncodedOp
	size    uint64
	tablet  location.Tablet
}

// batcher owns the operations of one flush. While open it accumulates
// operations under the session lock; once flushing it is owned by the
// flushing goroutine. The per-tablet submission order is the order the
// operations were applied in.
type batcher struct {
	s      *session
	state  batcherState
	ops    []*pendingOp
	bytes  uint64
	failed uint64
}

func newBatcher(s *session) *batcher {
	return &batcher{s: s}
}

func (b *batcher) add(p *pendingOp) {
	if b.state != batcherOpen {
		panic("BUG: add to non-open batcher")
	}
	b.ops = append(b.ops, p)
	b.bytes += p.size
}

func (b *batcher) count() int {
	return len(b.ops)
}

// result reports the outcome of a finished batch. The details live in the
// session's error collector.
func (b *batcher) result() error {
	if atomic.LoadUint64(&b.failed) > 0 {
		return errors.Wrap(ErrSomeOperationsFailed, "flush failed")
	}
	return nil
}

func (b *batcher) recordFailure(p *pendingOp, err error, possiblySuccessful bool, reason string) {
	atomic.AddUint64(&b.failed, 1)
	b.s.recordFailure(p.op, p.cb, err, possiblySuccessful, reason)
}

// flush sends one write rpc per target tablet and blocks until every
// operation has an outcome. Budget accounting is released at the end, in
// one step.
func (b *batcher) flush(ctx context.Context, timeout time.Duration) {
	b.state = batcherFlushing
	if len(b.ops) == 0 {
		b.finish()
		return
	}

	start := time.Now()
	groups, order := b.groupByTablet()

	var wg sync.WaitGroup
	for _, tabletID := range order {
		ops := groups[tabletID]
		wg.Add(1)
		err := b.s.c.stopper.RunNamedTask(ctx, "batch-write", func(ctx context.Context) {
			defer wg.Done()
			b.sendGroup(ctx, timeout, ops)
		})
		if err != nil {
			wg.Done()
			b.failGroup(ops, err, false, "stopped")
		}
	}
	wg.Wait()

	metric.ObserveFlushBatchBytes(b.bytes)
	metric.ObserveFlushDuration(start)
	b.finish()
}

// groupByTablet splits the operations by target tablet, preserving the
// submission order inside each group and the first-seen order of tablets.
func (b *batcher) groupByTablet() (map[uint64][]*pendingOp, []uint64) {
	groups := make(map[uint64][]*pendingOp)
	var order []uint64
	for _, p := range b.ops {
		if _, ok := groups[p.tablet.ID]; !ok {
			order = append(order, p.tablet.ID)
		}
		groups[p.tablet.ID] = append(groups[p.tablet.ID], p)
	}
	return groups, order
}

func (b *batcher) sendGroup(ctx context.Context, timeout time.Duration, ops []*pendingOp) {
	tablet := ops[0].tablet
	leader, err := tablet.LeaderReplica()
	if err != nil {
		b.failGroup(ops, errors.Wrapf(err, "tablet %d", tablet.ID), false, "no-leader")
		return
	}

	encoded := make([]rpc.EncodedOp, 0, len(ops))
	for _, p := range ops {
		encoded = append(encoded, p.encoded)
	}
	b.s.mu.Lock()
	priority := b.s.mu.priority
	b.s.mu.Unlock()

	req := rpc.Request{
		Type:          rpc.Write,
		TabletID:      tablet.ID,
		TimeoutMillis: int64(timeout / time.Millisecond),
		Priority:      priority,
		Write: &rpc.WriteRequest{
			Table: tablet.Table,
			Ops:   encoded,
		},
	}

	if ce := b.s.logger.Check(zap.DebugLevel, "flushing write group"); ce != nil {
		ce.Write(log.TabletIDField(tablet.ID),
			log.ReplicaField(leader.Address),
			log.OpCountField(len(ops)))
	}

	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	f := b.s.c.exec(cctx, leader, req)
	resp, err := f.Get()
	b.s.c.release(f)

	if err != nil {
		// the rpc never completed; the server may still have applied it
		possibly := errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
		reason := "rpc"
		if possibly {
			reason = "timeout"
		}
		b.failGroup(ops, err, possibly, reason)
		return
	}
	if resp.Error != "" {
		b.failGroup(ops, errors.New(resp.Error), false, "server")
		return
	}
	if resp.Write == nil {
		b.failGroup(ops, errors.New("malformed write response"), false, "server")
		return
	}

	rowErrors := make(map[int]string, len(resp.Write.RowErrors))
	for _, re := range resp.Write.RowErrors {
		rowErrors[int(re.Index)] = re.Message
	}
	for i, p := range ops {
		if msg, ok := rowErrors[i]; ok {
			b.recordFailure(p, errors.New(msg), false, "row")
			continue
		}
		if p.cb != nil {
			p.cb(nil)
		}
	}
}

func (b *batcher) failGroup(ops []*pendingOp, err error, possiblySuccessful bool, reason string) {
	for _, p := range ops {
		b.recordFailure(p, err, possiblySuccessful, reason)
	}
}

// fail marks every operation of the batch as failed without sending
// anything.
func (b *batcher) fail(err error, possiblySuccessful bool) {
	b.state = batcherFlushing
	b.failGroup(b.ops, err, possiblySuccessful, "rpc")
	b.finish()
}

func (b *batcher) finish() {
	if batcherState(atomic.SwapInt32((*int32)(&b.state), int32(batcherDone))) == batcherDone {
		panic("BUG: batch finished twice")
	}
	b.s.releasePending(b.bytes, len(b.ops))
}
