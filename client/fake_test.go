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
	"bytes"
	"context"
	"sort"
	"sync"

	"github.com/quarrydb/quarry/location"
	"github.com/quarrydb/quarry/rpc"
)

// rowVersion one MVCC version of a row.
type rowVersion struct {
	ts      uint64
	payload []byte
	deleted bool
}

type fakeTablet struct {
	rows map[string][]rowVersion // encoded key -> versions, ts ascending
}

// fakeCluster is an in-process tablet server cluster behind the transport
// boundary. Requests are served synchronously from Send.
type fakeCluster struct {
	catalog  *StaticCatalog
	location *location.Static

	mu struct {
		sync.Mutex
		clock      uint64
		tablets    map[uint64]*fakeTablet
		drop       bool
		failWith   string
		scanCloses int
		scanReqs   int
		firstRows  []int // row count of each scan response, in order
		priority   int32 // priority of the most recent write request
	}

	success rpc.SuccessCallback
	failure rpc.FailureCallback
}

var _ rpc.Transport = (*fakeCluster)(nil)

func newFakeCluster() *fakeCluster {
	f := &fakeCluster{
		catalog:  NewStaticCatalog(),
		location: location.NewStatic(),
	}
	f.mu.clock = 1000
	f.mu.tablets = make(map[uint64]*fakeTablet)
	return f
}

// addTablet registers a tablet in the location service and creates its
// store, replicated on a single leader.
func (f *fakeCluster) addTablet(id uint64, table string, start, end []byte) {
	f.location.UpdateTablet(location.Tablet{
		ID:    id,
		Table: table,
		Start: start,
		End:   end,
		Replicas: []location.Replica{
			{ID: id*10 + 1, Address: "fake-1", Leader: true},
			{ID: id*10 + 2, Address: "fake-2", Distance: 1},
		},
	})
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mu.tablets[id] = &fakeTablet{rows: make(map[string][]rowVersion)}
}

// dropRequests makes Send swallow requests without responding, so callers
// run into their timeouts.
func (f *fakeCluster) dropRequests(drop bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mu.drop = drop
}

// failRequests makes every request fail with a request-level error.
func (f *fakeCluster) failRequests(message string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.mu.failWith = message
}

func (f *fakeCluster) lastWritePriority() int32 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mu.priority
}

func (f *fakeCluster) scanCloseCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.mu.scanCloses
}

func (f *fakeCluster) scanResponseSizes() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]int, len(f.mu.firstRows))
	copy(out, f.mu.firstRows)
	return out
}

// rowCount returns the count of live rows in a tablet, read at the current
// server clock.
func (f *fakeCluster) rowCount(tabletID uint64) int {
	f.mu.Lock()
	defer f.mu.Unlock()

	tablet := f.mu.tablets[tabletID]
	if tablet == nil {
		return 0
	}
	n := 0
	for _, versions := range tablet.rows {
		if v, ok := visibleAt(versions, f.mu.clock); ok && !v.deleted {
			n++
		}
	}
	return n
}

func (f *fakeCluster) Start() error { return nil }
func (f *fakeCluster) Stop() error  { return nil }

func (f *fakeCluster) SetCallback(success rpc.SuccessCallback, failure rpc.FailureCallback) {
	f.success = success
	f.failure = failure
}

func (f *fakeCluster) Send(replica location.Replica, req rpc.Request) error {
	f.mu.Lock()
	if f.mu.drop {
		f.mu.Unlock()
		return nil
	}
	if f.mu.failWith != "" {
		msg := f.mu.failWith
		f.mu.Unlock()
		f.success(rpc.Response{ID: req.ID, Error: msg})
		return nil
	}

	var resp rpc.Response
	resp.ID = req.ID
	switch req.Type {
	case rpc.Write:
		resp.Write = f.handleWrite(req)
	case rpc.Scan:
		resp.Scan = f.handleScan(req)
	case rpc.ScanClose:
		f.mu.scanCloses++
	default:
		resp.Error = "unknown request type"
	}
	f.mu.Unlock()

	f.success(resp)
	return nil
}

func (f *fakeCluster) handleWrite(req rpc.Request) *rpc.WriteResponse {
	schema, err := f.catalog.TableSchema(context.Background(), req.Write.Table)
	if err != nil {
		return nil
	}
	tablet := f.mu.tablets[req.TabletID]
	if tablet == nil {
		return nil
	}
	f.mu.priority = req.Priority

	f.mu.clock++
	ts := f.mu.clock

	var rowErrors []rpc.RowError
	for i, op := range req.Write.Ops {
		key := string(op.Key)
		versions := tablet.rows[key]
		live, exists := visibleAt(versions, ts)
		present := exists && !live.deleted

		switch op.Op {
		case rpc.OpInsert:
			if present {
				rowErrors = append(rowErrors, rpc.RowError{Index: int32(i), Message: "key already present"})
				continue
			}
			tablet.rows[key] = append(versions, rowVersion{ts: ts, payload: op.Row})
		case rpc.OpUpdate:
			if !present {
				rowErrors = append(rowErrors, rpc.RowError{Index: int32(i), Message: "key not found"})
				continue
			}
			merged, err := mergeRows(schema, live.payload, op.Row)
			if err != nil {
				rowErrors = append(rowErrors, rpc.RowError{Index: int32(i), Message: err.Error()})
				continue
			}
			tablet.rows[key] = append(versions, rowVersion{ts: ts, payload: merged})
		case rpc.OpDelete:
			if !present {
				rowErrors = append(rowErrors, rpc.RowError{Index: int32(i), Message: "key not found"})
				continue
			}
			tablet.rows[key] = append(versions, rowVersion{ts: ts, deleted: true})
		}
	}
	return &rpc.WriteResponse{RowErrors: rowErrors, TimestampMicros: ts}
}

func (f *fakeCluster) handleScan(req rpc.Request) *rpc.ScanResponse {
	scan := req.Scan
	schema, err := f.catalog.TableSchema(context.Background(), scan.Table)
	if err != nil {
		return nil
	}
	tablet := f.mu.tablets[req.TabletID]
	if tablet == nil {
		return nil
	}
	f.mu.scanReqs++

	if scan.PropagatedMicros > f.mu.clock {
		f.mu.clock = scan.PropagatedMicros
	}
	snapshot := uint64(0)
	if scan.ReadMode == rpc.ReadAtSnapshot {
		snapshot = scan.SnapshotMicros
		if snapshot == 0 {
			snapshot = f.mu.clock
		}
	} else {
		snapshot = f.mu.clock
	}

	start := scan.Start
	if len(scan.ContinuationToken) > 0 {
		start = scan.ContinuationToken
	}

	var keys []string
	for key := range tablet.rows {
		k := []byte(key)
		if len(start) > 0 && bytes.Compare(k, start) < 0 {
			continue
		}
		if len(scan.End) > 0 && bytes.Compare(k, scan.End) >= 0 {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)

	resp := &rpc.ScanResponse{}
	if scan.ReadMode == rpc.ReadAtSnapshot {
		resp.SnapshotMicros = snapshot
	}

	size := uint32(0)
	for _, key := range keys {
		if scan.BatchSizeBytes == 0 || (size > 0 && size >= scan.BatchSizeBytes) {
			resp.More = true
			resp.ContinuationToken = []byte(key)
			break
		}
		v, ok := visibleAt(tablet.rows[key], snapshot)
		if !ok || v.deleted {
			continue
		}
		row, err := unmarshalRow(schema, v.payload)
		if err != nil {
			continue
		}
		if !matchPredicates(schema, row, scan.Predicates) {
			continue
		}
		payload := projectRow(schema, row, scan.Projection)
		resp.Rows = append(resp.Rows, payload)
		size += uint32(len(payload))
	}
	f.mu.firstRows = append(f.mu.firstRows, len(resp.Rows))
	return resp
}

// visibleAt returns the latest version with ts <= snapshot.
func visibleAt(versions []rowVersion, snapshot uint64) (rowVersion, bool) {
	for i := len(versions) - 1; i >= 0; i-- {
		if versions[i].ts <= snapshot {
			return versions[i], true
		}
	}
	return rowVersion{}, false
}

// mergeRows overlays the set columns of an update on the stored row.
func mergeRows(schema *Schema, base, update []byte) ([]byte, error) {
	baseRow, err := unmarshalRow(schema, base)
	if err != nil {
		return nil, err
	}
	updateRow, err := unmarshalRow(schema, update)
	if err != nil {
		return nil, err
	}
	for idx := range schema.cols {
		if updateRow.set[idx] {
			baseRow.values[idx] = updateRow.values[idx]
			baseRow.set[idx] = true
		}
	}
	return marshalRow(baseRow), nil
}

func matchPredicates(schema *Schema, row *Row, predicates []rpc.ColumnPredicate) bool {
	for _, pred := range predicates {
		idx := schema.columnIndex(pred.Column)
		if idx < 0 || !row.set[idx] || row.values[idx] == nil {
			return false
		}
		encoded := encodeKeyValue(nil, schema.cols[idx].Type, row.values[idx])
		if len(pred.Lower) > 0 && bytes.Compare(encoded, pred.Lower) < 0 {
			return false
		}
		if len(pred.Upper) > 0 && bytes.Compare(encoded, pred.Upper) > 0 {
			return false
		}
	}
	return true
}

// projectRow re-encodes a row keeping only the projected columns. An empty
// projection keeps every column.
func projectRow(schema *Schema, row *Row, projection []string) []byte {
	if len(projection) == 0 {
		return marshalRow(row)
	}
	projected := schema.NewRow()
	for _, name := range projection {
		idx := schema.columnIndex(name)
		if idx < 0 || !row.set[idx] {
			continue
		}
		projected.values[idx] = row.values[idx]
		projected.set[idx] = true
	}
	return marshalRow(projected)
}
