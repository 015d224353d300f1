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
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/quarrydb/quarry/metric"
	"github.com/quarrydb/quarry/util/uuid"
)

// FlushMode when buffered operations are sent to tablet servers.
type FlushMode int

const (
	// AutoFlushSync every Apply flushes immediately and blocks until the
	// operation completes.
	AutoFlushSync = FlushMode(0)
	// AutoFlushBackground operations are buffered and flushed in the
	// background. Apply blocks only while the buffer is over budget.
	AutoFlushBackground = FlushMode(1)
	// ManualFlush operations are buffered until an explicit Flush. Apply
	// fails immediately once the buffer budget is reached.
	ManualFlush = FlushMode(2)
)

func (m FlushMode) String() string {
	switch m {
	case AutoFlushSync:
		return "sync"
	case AutoFlushBackground:
		return "background"
	case ManualFlush:
		return "manual"
	default:
		return "unknown"
	}
}

var (
	// ErrSessionClosed the session is closed.
	ErrSessionClosed = errors.New("session is closed")
	// ErrPendingOperations the session still has buffered or in-flight
	// operations.
	ErrPendingOperations = errors.New("session has pending operations")
)

// opOverheadBytes accounting overhead added to every buffered operation.
const opOverheadBytes = 16

// Session buffers write operations and flushes them to tablet servers,
// grouped by tablet. A session is safe for concurrent use; per-operation
// failures are reported through the error collector, not returned inline.
type Session interface {
	// SetFlushMode changes the flush mode. Fails with pending operations.
	SetFlushMode(mode FlushMode) error
	// SetMutationBufferSpace sets the byte budget shared by buffered and
	// in-flight operations. Fails with pending operations.
	SetMutationBufferSpace(bytes uint64) error
	// SetMutationBufferMaxOps caps the count of buffered plus in-flight
	// operations, 0 means no cap. Fails with pending operations.
	SetMutationBufferMaxOps(count int) error
	// SetErrorBufferCapacity resizes the error collector. Fails with
	// pending errors.
	SetErrorBufferCapacity(capacity int) error
	// SetFlushInterval sets the background flush interval.
	SetFlushInterval(interval time.Duration)
	// SetTimeout sets the timeout of a single tablet rpc.
	SetTimeout(timeout time.Duration)
	// SetPriority sets the priority forwarded with this session's write
	// requests. Servers currently ignore it.
	SetPriority(priority int32)

	// Apply buffers the operation, or flushes it inline in AutoFlushSync
	// mode. A budget rejection is returned directly and the caller keeps
	// the operation; other failures surface through the error collector.
	Apply(op *WriteOp) error
	// ApplyAsync is Apply with a completion callback instead of blocking.
	// The callback receives the outcome of this single operation and may
	// run on a background goroutine. ApplyAsync never blocks the caller,
	// not even when the buffer budget is exhausted.
	ApplyAsync(op *WriteOp, cb func(error))
	// Flush closes the open batching unit for new writes, dispatches it
	// and blocks until every operation it held completes. Returns
	// ErrSomeOperationsFailed if any of them failed. Operations applied
	// after Flush was called land in a fresh unit and are not waited on.
	Flush(ctx context.Context) error
	// FlushAsync is Flush without blocking. The unit is closed before
	// FlushAsync returns; the callback runs once the unit completes,
	// immediately if nothing was buffered.
	FlushAsync(cb func(error))
	// Close releases the session. Fails with pending operations.
	Close() error

	// HasPendingOperations returns true while any operation is buffered or
	// in flight.
	HasPendingOperations() bool
	// CountBufferedOperations returns the count of operations buffered and
	// not yet flushed. Only meaningful in ManualFlush mode, 0 otherwise.
	CountBufferedOperations() int
	// CountPendingErrors returns the count of collected operation errors.
	CountPendingErrors() int
	// GetPendingErrors atomically drains the collected errors, returning
	// them and whether any error was dropped due to the collector capacity.
	GetPendingErrors() ([]*Error, bool)
}

var _ Session = (*session)(nil)

type session struct {
	c      *client
	logger *zap.Logger
	id     string
	errors *errorCollector

	closeC chan struct{}

	mu struct {
		sync.Mutex
		cond          *sync.Cond
		closed        bool
		flushMode     FlushMode
		bufferBytes   uint64
		maxOps        int
		timeout       time.Duration
		flushInterval time.Duration
		priority      int32
		pendingBytes  uint64
		pendingOps    int
		batcher       *batcher
	}
}

func (s *client) NewSession() Session {
	sess := &session{
		c:      s,
		id:     uuid.String(),
		errors: newErrorCollector(s.cfg.Session.ErrorBufferCapacity),
		closeC: make(chan struct{}),
	}
	sess.logger = s.logger.Named("session").With(zap.String("session", sess.id))
	sess.mu.cond = sync.NewCond(&sess.mu)
	sess.mu.flushMode = AutoFlushSync
	sess.mu.bufferBytes = uint64(s.cfg.Session.MutationBufferSpace)
	sess.mu.maxOps = s.cfg.Session.MutationBufferMaxOps
	sess.mu.timeout = s.cfg.Session.OperationTimeout.Duration
	sess.mu.flushInterval = s.cfg.Session.FlushInterval.Duration

	metric.IncSessionCount()
	sess.startBackgroundFlusher()
	return sess
}

// startBackgroundFlusher periodically flushes the open batch while the
// session is in AutoFlushBackground mode.
func (s *session) startBackgroundFlusher() {
	err := s.c.stopper.RunNamedTask(context.Background(), "session-flusher", func(ctx context.Context) {
		for {
			s.mu.Lock()
			interval := s.mu.flushInterval
			s.mu.Unlock()

			select {
			case <-ctx.Done():
				return
			case <-s.closeC:
				return
			case <-time.After(interval):
			}

			s.mu.Lock()
			if s.mu.closed {
				s.mu.Unlock()
				return
			}
			var b *batcher
			var timeout time.Duration
			if s.mu.flushMode == AutoFlushBackground && s.mu.batcher != nil {
				b = s.mu.batcher
				s.mu.batcher = nil
				timeout = s.mu.timeout
			}
			s.mu.Unlock()

			if b != nil {
				metric.IncFlushCount(AutoFlushBackground.String())
				s.flushBatcherAsync(b, timeout)
			}
		}
	})
	if err != nil {
		s.logger.Error("fail to start background flusher",
			zap.Error(err))
	}
}

func (s *session) SetFlushMode(mode FlushMode) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mu.closed {
		return ErrSessionClosed
	}
	if s.mu.pendingOps > 0 {
		return errors.Wrap(ErrPendingOperations, "cannot change flush mode")
	}
	s.mu.flushMode = mode
	return nil
}

func (s *session) SetMutationBufferSpace(bytes uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mu.closed {
		return ErrSessionClosed
	}
	if s.mu.pendingOps > 0 {
		return errors.Wrap(ErrPendingOperations, "cannot resize mutation buffer")
	}
	if bytes == 0 {
		return errors.New("mutation buffer space must be positive")
	}
	s.mu.bufferBytes = bytes
	return nil
}

func (s *session) SetMutationBufferMaxOps(count int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mu.closed {
		return ErrSessionClosed
	}
	if s.mu.pendingOps > 0 {
		return errors.Wrap(ErrPendingOperations, "cannot resize mutation buffer")
	}
	s.mu.maxOps = count
	return nil
}

func (s *session) SetErrorBufferCapacity(capacity int) error {
	return s.errors.setCapacity(capacity)
}

func (s *session) SetFlushInterval(interval time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mu.flushInterval = interval
}

func (s *session) SetPriority(priority int32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mu.priority = priority
}

func (s *session) SetTimeout(timeout time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mu.timeout = timeout
}

func (s *session) Apply(op *WriteOp) error {
	return s.doApply(op, nil)
}

func (s *session) ApplyAsync(op *WriteOp, cb func(error)) {
	err := s.c.stopper.RunNamedTask(context.Background(), "session-apply", func(ctx context.Context) {
		if err := s.doApply(op, cb); err != nil {
			// budget and encoding rejections are not routed through batch
			// completion, report them to the callback directly
			if cb != nil && !errors.Is(err, ErrSomeOperationsFailed) {
				cb(err)
			}
		}
	})
	if err != nil && cb != nil {
		cb(err)
	}
}

func (s *session) doApply(op *WriteOp, cb func(error)) error {
	encoded, err := op.encode()
	if err != nil {
		return err
	}
	size := uint64(len(encoded.Key)+len(encoded.Row)) + opOverheadBytes

	s.mu.Lock()
	if s.mu.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	mode := s.mu.flushMode
	timeout := s.mu.timeout
	if size > s.mu.bufferBytes {
		s.mu.Unlock()
		return errors.Wrapf(ErrBufferFull, "operation of %d bytes exceeds buffer space", size)
	}

	// resolution happens outside the lock
	s.mu.Unlock()
	rctx, cancel := context.WithTimeout(context.Background(), timeout)
	tablet, resolveErr := s.c.location.ResolveTablet(rctx, op.table.Name(), encoded.Key)
	cancel()

	metric.IncOperationApplied(op.typeName())

	s.mu.Lock()
	if s.mu.closed {
		s.mu.Unlock()
		return ErrSessionClosed
	}

	switch mode {
	case ManualFlush:
		if !s.hasRoomLocked(size) {
			s.mu.Unlock()
			return errors.Wrap(ErrBufferFull, "manual flush required")
		}
		if resolveErr != nil {
			s.mu.Unlock()
			s.recordFailure(op, cb, resolveErr, false, "resolve")
			return nil
		}
		s.addLocked(&pendingOp{op: op, cb: cb, encoded: encoded, size: size, tablet: tablet})
		s.mu.Unlock()
		return nil

	case AutoFlushBackground:
		for !s.hasRoomLocked(size) {
			if b := s.mu.batcher; b != nil {
				s.mu.batcher = nil
				timeout := s.mu.timeout
				metric.IncFlushCount(AutoFlushBackground.String())
				s.flushBatcherAsync(b, timeout)
			}
			s.mu.cond.Wait()
			if s.mu.closed {
				s.mu.Unlock()
				return ErrSessionClosed
			}
		}
		if resolveErr != nil {
			s.mu.Unlock()
			s.recordFailure(op, cb, resolveErr, false, "resolve")
			return nil
		}
		s.addLocked(&pendingOp{op: op, cb: cb, encoded: encoded, size: size, tablet: tablet})
		s.mu.Unlock()
		return nil

	default: // AutoFlushSync
		if resolveErr != nil {
			s.mu.Unlock()
			s.recordFailure(op, cb, resolveErr, false, "resolve")
			return errors.Wrap(ErrSomeOperationsFailed, "flush failed")
		}
		b := newBatcher(s)
		b.add(&pendingOp{op: op, cb: cb, encoded: encoded, size: size, tablet: tablet})
		s.reserveLocked(size)
		s.mu.Unlock()

		metric.IncFlushCount(AutoFlushSync.String())
		b.flush(context.Background(), timeout)
		return b.result()
	}
}

// hasRoomLocked reports whether one more operation of the given size fits
// the buffer budget.
func (s *session) hasRoomLocked(size uint64) bool {
	if s.mu.pendingBytes+size > s.mu.bufferBytes {
		return false
	}
	if s.mu.maxOps > 0 && s.mu.pendingOps+1 > s.mu.maxOps {
		return false
	}
	return true
}

func (s *session) addLocked(p *pendingOp) {
	if s.mu.batcher == nil {
		s.mu.batcher = newBatcher(s)
	}
	s.mu.batcher.add(p)
	s.reserveLocked(p.size)
}

func (s *session) reserveLocked(size uint64) {
	s.mu.pendingBytes += size
	s.mu.pendingOps++
	metric.SetSessionBufferedBytes(s.id, s.mu.pendingBytes)
}

// releasePending returns buffer budget once a batch reaches its final
// state, waking Apply calls blocked on admission and Flush waiters.
func (s *session) releasePending(bytes uint64, count int) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.mu.pendingBytes -= bytes
	s.mu.pendingOps -= count
	metric.SetSessionBufferedBytes(s.id, s.mu.pendingBytes)
	s.mu.cond.Broadcast()
}

// recordFailure adds a per-operation error to the collector.
func (s *session) recordFailure(op *WriteOp, cb func(error), err error, possiblySuccessful bool, reason string) {
	metric.IncOperationError(reason)
	s.errors.add(newOpError(op, err, possiblySuccessful))
	if ce := s.logger.Check(zap.DebugLevel, "operation failed"); ce != nil {
		ce.Write(zap.String("reason", reason), zap.Error(err))
	}
	if cb != nil {
		cb(err)
	}
}

// takeBatcher closes the open batching unit for new writes. Later applies
// land in a fresh unit that the returned one knows nothing about.
func (s *session) takeBatcher() (*batcher, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mu.closed {
		return nil, 0, ErrSessionClosed
	}
	b := s.mu.batcher
	s.mu.batcher = nil
	if b != nil {
		metric.IncFlushCount(s.mu.flushMode.String())
	}
	return b, s.mu.timeout, nil
}

func (s *session) Flush(ctx context.Context) error {
	b, timeout, err := s.takeBatcher()
	if err != nil {
		return err
	}
	if b == nil {
		// nothing buffered since the previous flush
		return nil
	}
	b.flush(ctx, timeout)
	return b.result()
}

func (s *session) FlushAsync(cb func(error)) {
	b, timeout, err := s.takeBatcher()
	if err != nil {
		if cb != nil {
			cb(err)
		}
		return
	}
	if b == nil {
		if cb != nil {
			cb(nil)
		}
		return
	}
	rerr := s.c.stopper.RunNamedTask(context.Background(), "session-flush", func(ctx context.Context) {
		b.flush(ctx, timeout)
		if cb != nil {
			cb(b.result())
		}
	})
	if rerr != nil {
		b.fail(rerr, false)
		if cb != nil {
			cb(b.result())
		}
	}
}

// flushBatcherAsync flushes the batch without blocking the caller.
func (s *session) flushBatcherAsync(b *batcher, timeout time.Duration) {
	err := s.c.stopper.RunNamedTask(context.Background(), "batch-flush", func(ctx context.Context) {
		b.flush(ctx, timeout)
	})
	if err != nil {
		b.fail(err, false)
	}
}

func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mu.closed {
		return nil
	}
	if s.mu.pendingOps > 0 {
		return ErrPendingOperations
	}
	s.mu.closed = true
	close(s.closeC)
	s.mu.cond.Broadcast()
	metric.DecSessionCount()
	return nil
}

func (s *session) HasPendingOperations() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mu.pendingOps > 0
}

func (s *session) CountBufferedOperations() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mu.flushMode != ManualFlush || s.mu.batcher == nil {
		return 0
	}
	return s.mu.batcher.count()
}

func (s *session) CountPendingErrors() int {
	return s.errors.count()
}

func (s *session) GetPendingErrors() ([]*Error, bool) {
	return s.errors.drain()
}
