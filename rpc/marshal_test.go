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

package rpc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMarshalWriteRequest(t *testing.T) {
	req := Request{
		ID:            []byte("req-1"),
		Type:          Write,
		TabletID:      7,
		TimeoutMillis: 5000,
		Priority:      3,
		Write: &WriteRequest{
			Table: "metrics",
			Ops: []EncodedOp{
				{Op: OpInsert, Key: []byte("k1"), Row: []byte("row1")},
				{Op: OpDelete, Key: []byte("k2")},
			},
		},
	}

	decoded, err := UnmarshalRequest(MarshalRequest(req))
	assert.NoError(t, err)
	assert.Equal(t, req, decoded)
}

func TestMarshalScanRequest(t *testing.T) {
	req := Request{
		ID:       []byte("req-2"),
		Type:     Scan,
		TabletID: 9,
		Scan: &ScanRequest{
			Table:      "metrics",
			Start:      []byte("a"),
			End:        []byte("z"),
			Projection: []string{"host", "value"},
			Predicates: []ColumnPredicate{
				{Column: "value", Lower: []byte{1}, Upper: []byte{9}},
			},
			ReadMode:          ReadAtSnapshot,
			SnapshotMicros:    12345,
			PropagatedMicros:  12000,
			BatchSizeBytes:    1 << 20,
			ContinuationToken: []byte("tok"),
		},
	}

	decoded, err := UnmarshalRequest(MarshalRequest(req))
	assert.NoError(t, err)
	assert.Equal(t, req, decoded)
}

func TestMarshalResponses(t *testing.T) {
	write := Response{
		ID: []byte("req-1"),
		Write: &WriteResponse{
			RowErrors:       []RowError{{Index: 1, Message: "key already exists"}},
			TimestampMicros: 99,
		},
	}
	decoded, err := UnmarshalResponse(MarshalResponse(write))
	assert.NoError(t, err)
	assert.Equal(t, write, decoded)

	scan := Response{
		ID: []byte("req-2"),
		Scan: &ScanResponse{
			Rows:              [][]byte{[]byte("r1"), []byte("r2")},
			More:              true,
			ContinuationToken: []byte("tok"),
			SnapshotMicros:    12345,
		},
	}
	decoded, err = UnmarshalResponse(MarshalResponse(scan))
	assert.NoError(t, err)
	assert.Equal(t, scan, decoded)

	failure := Response{ID: []byte("req-3"), Error: "tablet not found"}
	decoded, err = UnmarshalResponse(MarshalResponse(failure))
	assert.NoError(t, err)
	assert.Equal(t, failure, decoded)
}

func TestUnmarshalRejectsGarbage(t *testing.T) {
	_, err := UnmarshalRequest([]byte{0xFF, 0x01})
	assert.Equal(t, ErrBadMessage, err)

	_, err = UnmarshalRequest(MarshalResponse(Response{ID: []byte("x")}))
	assert.Equal(t, ErrBadMessage, err)

	_, err = UnmarshalResponse([]byte{responseMagic, 0xFF})
	assert.Equal(t, ErrBadMessage, err)
}
