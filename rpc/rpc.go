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

// Package rpc defines the request and response types exchanged with tablet
// servers and the Transport boundary that carries them. The wire encoding is
// owned by the transport implementation; these are plain in-memory types.
package rpc

import (
	"github.com/quarrydb/quarry/location"
)

// CmdType request type
type CmdType byte

const (
	// Write grouped write request
	Write = CmdType(1)
	// Scan scan open/continue request
	Scan = CmdType(2)
	// ScanClose best-effort scan resource release
	ScanClose = CmdType(3)
)

// OpType write operation type
type OpType byte

const (
	// OpInsert insert a new row, fails if the key exists
	OpInsert = OpType(1)
	// OpUpdate update an existing row, fails if the key is missing
	OpUpdate = OpType(2)
	// OpDelete delete a row, fails if the key is missing
	OpDelete = OpType(3)
)

// ReadMode scan consistency mode
type ReadMode byte

const (
	// ReadLatest the server returns all writes visible at receipt time. Not
	// repeatable; no snapshot timestamp is assigned or returned.
	ReadLatest = ReadMode(0)
	// ReadAtSnapshot the server reads as of a snapshot timestamp, waiting
	// out in-flight writes with lower timestamps. Repeatable.
	ReadAtSnapshot = ReadMode(1)
)

// EncodedOp one write operation, encoded for the wire.
type EncodedOp struct {
	Op  OpType
	Key []byte
	Row []byte
}

// WriteRequest a group of write operations for a single tablet, in
// submission order.
type WriteRequest struct {
	Table string
	Ops   []EncodedOp
}

// RowError the failure of a single operation within a write request.
type RowError struct {
	// Index into WriteRequest.Ops.
	Index   int32
	Message string
}

// WriteResponse the result of a WriteRequest. Operations without a RowError
// entry were applied.
type WriteResponse struct {
	RowErrors []RowError
	// TimestampMicros is the hybrid timestamp assigned to the applied
	// operations, propagated into the client clock.
	TimestampMicros uint64
}

// ColumnPredicate an inclusive range constraint on one column. Encoded
// bounds use order-preserving encoding; nil means unbounded. Predicates in
// a scan request are conjunctive.
type ColumnPredicate struct {
	Column string
	Lower  []byte
	Upper  []byte
}

// ScanRequest opens or continues a scan on a single tablet.
type ScanRequest struct {
	Table string
	// Scan range clamped to the target tablet, encoded primary keys.
	Start []byte
	End   []byte
	// Projection column names; empty means all columns.
	Projection []string
	Predicates []ColumnPredicate
	ReadMode   ReadMode
	// SnapshotMicros is the snapshot to read at. Zero in ReadAtSnapshot mode
	// means the serving replica picks "now" and returns it.
	SnapshotMicros uint64
	// PropagatedMicros carries the client's last observed hybrid timestamp
	// so the replica's clock is not behind the client's writes.
	PropagatedMicros uint64
	// BatchSizeBytes hint for the page size. Zero on the opening request
	// means return no rows on the first round trip.
	BatchSizeBytes uint32
	// ContinuationToken resumes a scan within the tablet. Empty opens it.
	ContinuationToken []byte
}

// ScanResponse one page of scan results.
type ScanResponse struct {
	Rows [][]byte
	// More is true if the tablet has more data to return.
	More              bool
	ContinuationToken []byte
	// SnapshotMicros the snapshot actually used by the server. Zero in
	// ReadLatest mode.
	SnapshotMicros uint64
}

// ScanCloseRequest releases server-side scan resources. Best effort.
type ScanCloseRequest struct {
	ContinuationToken []byte
}

// Request a routed tablet server request.
type Request struct {
	ID            []byte
	Type          CmdType
	TabletID      uint64
	TimeoutMillis int64
	// Priority is accepted and forwarded but servers currently ignore it.
	Priority  int32
	Write     *WriteRequest
	Scan      *ScanRequest
	ScanClose *ScanCloseRequest
}

// Response a tablet server response, matched to its request by ID.
type Response struct {
	ID []byte
	// Error is a request-level failure; per-operation failures travel in
	// WriteResponse.RowErrors. Empty means ok.
	Error string
	Write *WriteResponse
	Scan  *ScanResponse
}

// SuccessCallback request success callback
type SuccessCallback func(resp Response)

// FailureCallback request failure callback
type FailureCallback func(requestID []byte, err error)

// Transport sends requests to tablet server replicas and delivers responses
// asynchronously through the registered callbacks. Implementations own
// connection management and the wire encoding.
type Transport interface {
	Start() error
	Stop() error
	// Send enqueues the request for delivery to the replica. An error means
	// the request was never handed to the network; after a nil return the
	// outcome arrives through a callback.
	Send(replica location.Replica, req Request) error
	SetCallback(SuccessCallback, FailureCallback)
}
