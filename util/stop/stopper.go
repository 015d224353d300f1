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

package stop

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
)

var (
	// ErrUnavailable stopper is not running
	ErrUnavailable = errors.New("stopper is unavailable")
)

var (
	defaultWaitStoppedTimeout = time.Minute
)

type state int

const (
	running  = state(0)
	stopping = state(1)
	stopped  = state(2)
)

// Stopper manages all tasks that are executed in a separate goroutine, so
// they can be cancelled and waited on centrally to avoid leaks. When Stop
// is called, tasks that do not exit within the timeout are returned by name
// for analysis.
type Stopper struct {
	name    string
	stopC   chan struct{}
	cancels sync.Map // id -> context.CancelFunc
	tasks   sync.Map // id -> name

	atomic struct {
		lastID    uint64
		taskCount int64
	}

	mu struct {
		sync.RWMutex
		state state
	}
}

// NewStopper create a stopper with the specified name
func NewStopper(name string) *Stopper {
	s := &Stopper{
		name:  name,
		stopC: make(chan struct{}),
	}

	s.mu.state = running
	return s
}

// RunTask run an anonymous task that can be cancelled. ErrUnavailable is
// returned if the stopper is not running. The parent ctx bounds the task
// together with the stopper's own lifetime.
func (s *Stopper) RunTask(ctx context.Context, task func(context.Context)) error {
	return s.RunNamedTask(ctx, "undefined", task)
}

// RunNamedTask run a named task that can be cancelled. ErrUnavailable is
// returned if the stopper is not running.
func (s *Stopper) RunNamedTask(ctx context.Context, name string, task func(context.Context)) error {
	// read lock here to avoid racing Stop
	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.mu.state != running {
		return ErrUnavailable
	}

	id, taskCtx := s.allocate(ctx)
	s.doRunCancelableTask(taskCtx, id, name, task)
	return nil
}

// Stop stop all tasks within the default timeout. If some tasks do not exit
// within that time, their names are returned for analysis.
func (s *Stopper) Stop() ([]string, error) {
	return s.StopWithTimeout(defaultWaitStoppedTimeout)
}

// StopWithTimeout stop all tasks within the specified timeout.
func (s *Stopper) StopWithTimeout(timeout time.Duration) ([]string, error) {
	s.mu.Lock()
	state := s.mu.state
	s.mu.state = stopping
	s.mu.Unlock()

	switch state {
	case stopped:
		return nil, nil
	case stopping:
		<-s.stopC // wait concurrent stop completed
		return s.runningTasks(), nil
	}

	defer func() {
		s.mu.Lock()
		s.mu.state = stopped
		s.mu.Unlock()
		close(s.stopC)
	}()

	s.cancels.Range(func(key, value interface{}) bool {
		cancel := value.(context.CancelFunc)
		cancel()
		return true
	})

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
			return s.runningTasks(), errors.New("waiting for tasks to complete timed out")
		default:
			if s.getTaskCount() == 0 {
				return nil, nil
			}
		}

		time.Sleep(time.Millisecond * 5)
	}
}

func (s *Stopper) runningTasks() []string {
	if s.getTaskCount() == 0 {
		return nil
	}

	var tasks []string
	s.tasks.Range(func(key, value interface{}) bool {
		tasks = append(tasks, value.(string))
		return true
	})
	return tasks
}

func (s *Stopper) setupTask(id uint64, name string) {
	s.tasks.Store(id, name)
	s.addTask(1)
}

func (s *Stopper) shutdownTask(id uint64) {
	s.tasks.Delete(id)
	s.cancels.Delete(id)
	s.addTask(-1)
}

func (s *Stopper) doRunCancelableTask(ctx context.Context, taskID uint64, name string, task func(context.Context)) {
	s.setupTask(taskID, name)
	go func() {
		defer func() {
			s.shutdownTask(taskID)
		}()

		task(ctx)
	}()
}

func (s *Stopper) allocate(parent context.Context) (uint64, context.Context) {
	if parent == nil {
		parent = context.Background()
	}
	ctx, cancel := context.WithCancel(parent)
	id := s.nextTaskID()
	s.cancels.Store(id, cancel)
	return id, ctx
}

func (s *Stopper) nextTaskID() uint64 {
	return atomic.AddUint64(&s.atomic.lastID, 1)
}

func (s *Stopper) addTask(v int64) {
	atomic.AddInt64(&s.atomic.taskCount, v)
}

func (s *Stopper) getTaskCount() int64 {
	return atomic.LoadInt64(&s.atomic.taskCount)
}
