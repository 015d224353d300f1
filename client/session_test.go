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
	"testing"
	"time"

	"github.com/lni/goutils/leaktest"
	"github.com/stretchr/testify/assert"

	"github.com/quarrydb/quarry/config"
	"github.com/quarrydb/quarry/util/keys"
)

func newTestSchema(t *testing.T) *Schema {
	schema, err := NewSchemaBuilder().
		AddKeyColumn("id", TypeInt64).
		AddColumn("name", TypeString).
		AddNullableColumn("qty", TypeInt64).
		Build()
	assert.NoError(t, err)
	return schema
}

// newTestCluster creates a fake cluster hosting table "orders" split into
// two tablets at id=100, and a started client over it.
func newTestCluster(t *testing.T) (*fakeCluster, Client) {
	fake := newFakeCluster()
	fake.catalog.AddTable("orders", newTestSchema(t))
	split := keys.EncodeInt64Ascending(nil, 100)
	fake.addTablet(1, "orders", nil, split)
	fake.addTablet(2, "orders", split, nil)

	c, err := NewBuilder().
		WithConfig(config.Config{}).
		WithLocation(fake.location).
		WithCatalog(fake.catalog).
		WithTransport(fake).
		Build()
	assert.NoError(t, err)
	assert.NoError(t, c.Start())
	return fake, c
}

func newInsert(t *testing.T, table *Table, id int64, name string) *WriteOp {
	op := table.NewInsert()
	assert.NoError(t, op.Row().SetInt64("id", id))
	assert.NoError(t, op.Row().SetString("name", name))
	return op
}

func TestPriorityForwardedWithWrites(t *testing.T) {
	defer leaktest.AfterTest(t)()

	fake, c := newTestCluster(t)
	defer c.Stop()

	table, err := c.OpenTable(context.Background(), "orders")
	assert.NoError(t, err)

	s := c.NewSession()
	s.SetPriority(7)
	assert.NoError(t, s.Apply(newInsert(t, table, 1, "a")))
	assert.Equal(t, int32(7), fake.lastWritePriority())
	assert.NoError(t, s.Close())
}

func TestAutoFlushSyncApply(t *testing.T) {
	defer leaktest.AfterTest(t)()

	fake, c := newTestCluster(t)
	defer c.Stop()

	table, err := c.OpenTable(context.Background(), "orders")
	assert.NoError(t, err)

	s := c.NewSession()
	assert.NoError(t, s.Apply(newInsert(t, table, 1, "a")))
	assert.False(t, s.HasPendingOperations())
	assert.Equal(t, 0, s.CountBufferedOperations())
	assert.Equal(t, 1, fake.rowCount(1))
	assert.NoError(t, s.Close())
}

func TestManualFlushBuffersUntilFlush(t *testing.T) {
	defer leaktest.AfterTest(t)()

	fake, c := newTestCluster(t)
	defer c.Stop()

	table, err := c.OpenTable(context.Background(), "orders")
	assert.NoError(t, err)

	s := c.NewSession()
	assert.NoError(t, s.SetFlushMode(ManualFlush))
	assert.NoError(t, s.Apply(newInsert(t, table, 1, "a")))
	assert.NoError(t, s.Apply(newInsert(t, table, 200, "b")))

	assert.True(t, s.HasPendingOperations())
	assert.Equal(t, 2, s.CountBufferedOperations())
	assert.Equal(t, 0, fake.rowCount(1))
	assert.Equal(t, 0, fake.rowCount(2))

	assert.NoError(t, s.Flush(context.Background()))
	assert.False(t, s.HasPendingOperations())
	assert.Equal(t, 0, s.CountBufferedOperations())
	assert.Equal(t, 1, fake.rowCount(1))
	assert.Equal(t, 1, fake.rowCount(2))
	assert.NoError(t, s.Close())
}

func TestManualFlushRejectsOverBudget(t *testing.T) {
	defer leaktest.AfterTest(t)()

	_, c := newTestCluster(t)
	defer c.Stop()

	table, err := c.OpenTable(context.Background(), "orders")
	assert.NoError(t, err)

	s := c.NewSession()
	assert.NoError(t, s.SetFlushMode(ManualFlush))
	assert.NoError(t, s.SetMutationBufferMaxOps(2))
	assert.NoError(t, s.Apply(newInsert(t, table, 1, "a")))
	assert.NoError(t, s.Apply(newInsert(t, table, 2, "b")))

	rejected := newInsert(t, table, 3, "c")
	err = s.Apply(rejected)
	assert.ErrorIs(t, err, ErrBufferFull)
	// the rejection is reported to the caller only, who keeps the
	// operation
	assert.Equal(t, 0, s.CountPendingErrors())
	assert.Equal(t, 2, s.CountBufferedOperations())
	assert.NoError(t, rejected.Row().SetString("name", "still mine"))

	assert.NoError(t, s.Flush(context.Background()))
	assert.NoError(t, s.Apply(rejected))
	assert.NoError(t, s.Flush(context.Background()))
	assert.NoError(t, s.Close())
}

func TestCloseFailsWithPendingOperations(t *testing.T) {
	defer leaktest.AfterTest(t)()

	_, c := newTestCluster(t)
	defer c.Stop()

	table, err := c.OpenTable(context.Background(), "orders")
	assert.NoError(t, err)

	s := c.NewSession()
	assert.NoError(t, s.SetFlushMode(ManualFlush))
	assert.NoError(t, s.Apply(newInsert(t, table, 1, "a")))

	assert.ErrorIs(t, s.Close(), ErrPendingOperations)
	assert.NoError(t, s.Flush(context.Background()))
	assert.NoError(t, s.Close())

	// the session is unusable once closed
	assert.ErrorIs(t, s.Apply(newInsert(t, table, 2, "b")), ErrSessionClosed)
}

func TestFlushAsyncBackToBack(t *testing.T) {
	defer leaktest.AfterTest(t)()

	fake, c := newTestCluster(t)
	defer c.Stop()

	table, err := c.OpenTable(context.Background(), "orders")
	assert.NoError(t, err)

	s := c.NewSession()
	assert.NoError(t, s.SetFlushMode(ManualFlush))
	assert.NoError(t, s.Apply(newInsert(t, table, 1, "a")))

	first := make(chan error, 1)
	second := make(chan error, 1)
	s.FlushAsync(func(err error) { first <- err })
	s.FlushAsync(func(err error) { second <- err })

	select {
	case err := <-first:
		assert.NoError(t, err)
	case <-time.After(time.Second * 10):
		assert.Fail(t, "timeout waiting for first flush")
	}
	select {
	case err := <-second:
		assert.NoError(t, err)
	case <-time.After(time.Second * 10):
		assert.Fail(t, "timeout waiting for second flush")
	}

	assert.Equal(t, 1, fake.rowCount(1))
	assert.False(t, s.HasPendingOperations())
	assert.NoError(t, s.Close())
}

func TestAutoFlushBackgroundFlushesOnInterval(t *testing.T) {
	defer leaktest.AfterTest(t)()

	fake, c := newTestCluster(t)
	defer c.Stop()

	table, err := c.OpenTable(context.Background(), "orders")
	assert.NoError(t, err)

	s := c.NewSession()
	assert.NoError(t, s.SetFlushMode(AutoFlushBackground))
	s.SetFlushInterval(time.Millisecond * 10)
	assert.NoError(t, s.Apply(newInsert(t, table, 1, "a")))

	assert.Eventually(t, func() bool {
		return fake.rowCount(1) == 1 && !s.HasPendingOperations()
	}, time.Second*10, time.Millisecond*10)
	assert.NoError(t, s.Close())
}

func TestAutoFlushBackgroundBlocksOverBudget(t *testing.T) {
	defer leaktest.AfterTest(t)()

	fake, c := newTestCluster(t)
	defer c.Stop()

	table, err := c.OpenTable(context.Background(), "orders")
	assert.NoError(t, err)

	s := c.NewSession()
	assert.NoError(t, s.SetFlushMode(AutoFlushBackground))
	assert.NoError(t, s.SetMutationBufferMaxOps(1))
	s.SetFlushInterval(time.Minute)

	// the second Apply exceeds the budget, forcing a flush of the first
	for i := int64(1); i <= 3; i++ {
		assert.NoError(t, s.Apply(newInsert(t, table, i, "x")))
	}

	assert.NoError(t, s.Flush(context.Background()))
	assert.Equal(t, 3, fake.rowCount(1))
	assert.NoError(t, s.Close())
}

func TestPerTabletSubmissionOrder(t *testing.T) {
	defer leaktest.AfterTest(t)()

	fake, c := newTestCluster(t)
	defer c.Stop()

	table, err := c.OpenTable(context.Background(), "orders")
	assert.NoError(t, err)

	s := c.NewSession()
	assert.NoError(t, s.SetFlushMode(ManualFlush))

	assert.NoError(t, s.Apply(newInsert(t, table, 7, "v1")))

	update := table.NewUpdate()
	assert.NoError(t, update.Row().SetInt64("id", 7))
	assert.NoError(t, update.Row().SetString("name", "v2"))
	assert.NoError(t, s.Apply(update))

	del := table.NewDelete()
	assert.NoError(t, del.Row().SetInt64("id", 7))
	assert.NoError(t, s.Apply(del))

	assert.NoError(t, s.Flush(context.Background()))
	assert.Equal(t, 0, s.CountPendingErrors())
	assert.Equal(t, 0, fake.rowCount(1))
	assert.NoError(t, s.Close())
}

func TestErrorMayAppearBeforeFlush(t *testing.T) {
	defer leaktest.AfterTest(t)()

	fake, c := newTestCluster(t)
	defer c.Stop()

	// the table exists in the catalog but no tablet hosts it
	fake.catalog.AddTable("ghost", newTestSchema(t))
	table, err := c.OpenTable(context.Background(), "ghost")
	assert.NoError(t, err)

	s := c.NewSession()
	assert.NoError(t, s.SetFlushMode(ManualFlush))
	assert.NoError(t, s.Apply(newInsert(t, table, 1, "a")))

	// routing failed at apply time, the error is already collected
	assert.Equal(t, 1, s.CountPendingErrors())
	assert.NoError(t, s.Close())
}

func TestSyncFlushReportsTimeoutAsPossiblySuccessful(t *testing.T) {
	defer leaktest.AfterTest(t)()

	fake, c := newTestCluster(t)
	defer c.Stop()

	table, err := c.OpenTable(context.Background(), "orders")
	assert.NoError(t, err)

	fake.dropRequests(true)
	s := c.NewSession()
	s.SetTimeout(time.Millisecond * 50)

	err = s.Apply(newInsert(t, table, 1, "a"))
	assert.ErrorIs(t, err, ErrSomeOperationsFailed)

	errs, overflowed := s.GetPendingErrors()
	assert.False(t, overflowed)
	assert.Equal(t, 1, len(errs))
	assert.True(t, errs[0].WasPossiblySuccessful())
	assert.NoError(t, s.Close())
}

func TestFlushReportsRowErrors(t *testing.T) {
	defer leaktest.AfterTest(t)()

	fake, c := newTestCluster(t)
	defer c.Stop()

	table, err := c.OpenTable(context.Background(), "orders")
	assert.NoError(t, err)

	s := c.NewSession()
	assert.NoError(t, s.SetFlushMode(ManualFlush))
	assert.NoError(t, s.Apply(newInsert(t, table, 1, "a")))
	assert.NoError(t, s.Flush(context.Background()))

	// duplicate insert fails the row, the sibling operation still applies
	assert.NoError(t, s.Apply(newInsert(t, table, 1, "dup")))
	assert.NoError(t, s.Apply(newInsert(t, table, 2, "b")))
	assert.ErrorIs(t, s.Flush(context.Background()), ErrSomeOperationsFailed)
	assert.Equal(t, 2, fake.rowCount(1))

	errs, overflowed := s.GetPendingErrors()
	assert.False(t, overflowed)
	assert.Equal(t, 1, len(errs))
	assert.False(t, errs[0].WasPossiblySuccessful())
	assert.NoError(t, s.Close())
}

func TestApplyAsyncReportsPerOperationOutcome(t *testing.T) {
	defer leaktest.AfterTest(t)()

	fake, c := newTestCluster(t)
	defer c.Stop()

	table, err := c.OpenTable(context.Background(), "orders")
	assert.NoError(t, err)

	s := c.NewSession()
	assert.NoError(t, s.Apply(newInsert(t, table, 1, "a")))
	assert.NoError(t, s.SetFlushMode(ManualFlush))

	good := make(chan error, 1)
	bad := make(chan error, 1)
	s.ApplyAsync(newInsert(t, table, 2, "b"), func(err error) { good <- err })
	s.ApplyAsync(newInsert(t, table, 1, "dup"), func(err error) { bad <- err })
	assert.Eventually(t, func() bool {
		return s.CountBufferedOperations() == 2
	}, time.Second*10, time.Millisecond*10)

	assert.ErrorIs(t, s.Flush(context.Background()), ErrSomeOperationsFailed)
	assert.NoError(t, <-good)
	assert.Error(t, <-bad)
	assert.Equal(t, 2, fake.rowCount(1))
	s.GetPendingErrors()
	assert.NoError(t, s.Close())
}

func TestApplyAsyncDoesNotBlockCaller(t *testing.T) {
	defer leaktest.AfterTest(t)()

	fake, c := newTestCluster(t)
	defer c.Stop()

	table, err := c.OpenTable(context.Background(), "orders")
	assert.NoError(t, err)

	fake.dropRequests(true)
	s := c.NewSession()
	s.SetTimeout(time.Millisecond * 400)

	done := make(chan error, 1)
	start := time.Now()
	s.ApplyAsync(newInsert(t, table, 1, "a"), func(err error) { done <- err })
	assert.True(t, time.Since(start) < time.Millisecond*200,
		"ApplyAsync held the caller for %v", time.Since(start))

	select {
	case err := <-done:
		assert.Error(t, err)
	case <-time.After(time.Second * 10):
		assert.Fail(t, "timeout waiting for the operation outcome")
	}
	s.GetPendingErrors()
	assert.Eventually(t, func() bool {
		return !s.HasPendingOperations()
	}, time.Second*10, time.Millisecond*10)
	assert.NoError(t, s.Close())
}

func TestFlushAsyncDoesNotWaitOnEarlierUnits(t *testing.T) {
	defer leaktest.AfterTest(t)()

	fake, c := newTestCluster(t)
	defer c.Stop()

	table, err := c.OpenTable(context.Background(), "orders")
	assert.NoError(t, err)

	fake.dropRequests(true)
	s := c.NewSession()
	assert.NoError(t, s.SetFlushMode(ManualFlush))
	s.SetTimeout(time.Millisecond * 500)
	assert.NoError(t, s.Apply(newInsert(t, table, 1, "a")))

	first := make(chan error, 1)
	second := make(chan error, 1)
	s.FlushAsync(func(err error) { first <- err })
	// nothing is buffered anymore, the callback must not wait for the
	// in-flight unit
	s.FlushAsync(func(err error) { second <- err })

	select {
	case err := <-second:
		assert.NoError(t, err)
	case <-time.After(time.Millisecond * 200):
		assert.Fail(t, "empty flush waited on an in-flight unit")
	}
	select {
	case err := <-first:
		assert.ErrorIs(t, err, ErrSomeOperationsFailed)
	case <-time.After(time.Second * 10):
		assert.Fail(t, "timeout waiting for the first flush")
	}
	s.GetPendingErrors()
	assert.Eventually(t, func() bool {
		return !s.HasPendingOperations()
	}, time.Second*10, time.Millisecond*10)
	assert.NoError(t, s.Close())
}

func TestFlushAsyncCompletesDespiteLaterApplies(t *testing.T) {
	defer leaktest.AfterTest(t)()

	fake, c := newTestCluster(t)
	defer c.Stop()

	table, err := c.OpenTable(context.Background(), "orders")
	assert.NoError(t, err)

	fake.dropRequests(true)
	s := c.NewSession()
	assert.NoError(t, s.SetFlushMode(ManualFlush))
	s.SetTimeout(time.Millisecond * 300)
	assert.NoError(t, s.Apply(newInsert(t, table, 1, "a")))

	done := make(chan error, 1)
	s.FlushAsync(func(err error) { done <- err })
	// lands in a fresh unit the closed one knows nothing about
	assert.NoError(t, s.Apply(newInsert(t, table, 2, "b")))

	select {
	case err := <-done:
		assert.ErrorIs(t, err, ErrSomeOperationsFailed)
	case <-time.After(time.Second * 5):
		assert.Fail(t, "flush waited on operations applied after it was called")
	}
	assert.Equal(t, 1, s.CountBufferedOperations())
	s.GetPendingErrors()

	fake.dropRequests(false)
	assert.NoError(t, s.Flush(context.Background()))
	assert.Equal(t, 1, fake.rowCount(1))
	assert.NoError(t, s.Close())
}

func TestSettersRejectPendingOperations(t *testing.T) {
	defer leaktest.AfterTest(t)()

	_, c := newTestCluster(t)
	defer c.Stop()

	table, err := c.OpenTable(context.Background(), "orders")
	assert.NoError(t, err)

	s := c.NewSession()
	assert.NoError(t, s.SetFlushMode(ManualFlush))
	assert.NoError(t, s.Apply(newInsert(t, table, 1, "a")))

	assert.Error(t, s.SetFlushMode(AutoFlushSync))
	assert.Error(t, s.SetMutationBufferSpace(1024))
	assert.Error(t, s.SetMutationBufferMaxOps(10))

	assert.NoError(t, s.Flush(context.Background()))
	assert.NoError(t, s.SetFlushMode(AutoFlushSync))
	assert.NoError(t, s.Close())
}
