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
	"encoding/binary"

	"github.com/cockroachdb/errors"
)

// ErrBadMessage is the error returned to indicate the incoming message is
// corrupted.
var ErrBadMessage = errors.New("invalid message")

const (
	requestMagic  byte = 0xA1
	responseMagic byte = 0xA2
)

// MarshalRequest encodes req.
func MarshalRequest(req Request) []byte {
	w := newWriter()
	w.writeByte(requestMagic)
	w.writeBytes(req.ID)
	w.writeByte(byte(req.Type))
	w.writeUint64(req.TabletID)
	w.writeUint64(uint64(req.TimeoutMillis))
	w.writeUint32(uint32(req.Priority))

	switch req.Type {
	case Write:
		w.writeString(req.Write.Table)
		w.writeUint32(uint32(len(req.Write.Ops)))
		for _, op := range req.Write.Ops {
			w.writeByte(byte(op.Op))
			w.writeBytes(op.Key)
			w.writeBytes(op.Row)
		}
	case Scan:
		s := req.Scan
		w.writeString(s.Table)
		w.writeBytes(s.Start)
		w.writeBytes(s.End)
		w.writeUint32(uint32(len(s.Projection)))
		for _, col := range s.Projection {
			w.writeString(col)
		}
		w.writeUint32(uint32(len(s.Predicates)))
		for _, p := range s.Predicates {
			w.writeString(p.Column)
			w.writeBytes(p.Lower)
			w.writeBytes(p.Upper)
		}
		w.writeByte(byte(s.ReadMode))
		w.writeUint64(s.SnapshotMicros)
		w.writeUint64(s.PropagatedMicros)
		w.writeUint32(s.BatchSizeBytes)
		w.writeBytes(s.ContinuationToken)
	case ScanClose:
		w.writeBytes(req.ScanClose.ContinuationToken)
	}
	return w.data
}

// UnmarshalRequest decodes data written by MarshalRequest.
func UnmarshalRequest(data []byte) (Request, error) {
	r := &reader{data: data}
	if r.readByte() != requestMagic {
		return Request{}, ErrBadMessage
	}

	var req Request
	req.ID = r.readBytes()
	req.Type = CmdType(r.readByte())
	req.TabletID = r.readUint64()
	req.TimeoutMillis = int64(r.readUint64())
	req.Priority = int32(r.readUint32())

	switch req.Type {
	case Write:
		wr := &WriteRequest{}
		wr.Table = r.readString()
		n := int(r.readUint32())
		for i := 0; i < n; i++ {
			var op EncodedOp
			op.Op = OpType(r.readByte())
			op.Key = r.readBytes()
			op.Row = r.readBytes()
			wr.Ops = append(wr.Ops, op)
		}
		req.Write = wr
	case Scan:
		s := &ScanRequest{}
		s.Table = r.readString()
		s.Start = r.readBytes()
		s.End = r.readBytes()
		n := int(r.readUint32())
		for i := 0; i < n; i++ {
			s.Projection = append(s.Projection, r.readString())
		}
		n = int(r.readUint32())
		for i := 0; i < n; i++ {
			var p ColumnPredicate
			p.Column = r.readString()
			p.Lower = r.readBytes()
			p.Upper = r.readBytes()
			s.Predicates = append(s.Predicates, p)
		}
		s.ReadMode = ReadMode(r.readByte())
		s.SnapshotMicros = r.readUint64()
		s.PropagatedMicros = r.readUint64()
		s.BatchSizeBytes = r.readUint32()
		s.ContinuationToken = r.readBytes()
		req.Scan = s
	case ScanClose:
		req.ScanClose = &ScanCloseRequest{ContinuationToken: r.readBytes()}
	default:
		return Request{}, ErrBadMessage
	}

	if r.failed {
		return Request{}, ErrBadMessage
	}
	return req, nil
}

// MarshalResponse encodes resp.
func MarshalResponse(resp Response) []byte {
	w := newWriter()
	w.writeByte(responseMagic)
	w.writeBytes(resp.ID)
	w.writeString(resp.Error)

	if resp.Write != nil {
		w.writeByte(byte(Write))
		w.writeUint32(uint32(len(resp.Write.RowErrors)))
		for _, re := range resp.Write.RowErrors {
			w.writeUint32(uint32(re.Index))
			w.writeString(re.Message)
		}
		w.writeUint64(resp.Write.TimestampMicros)
	} else if resp.Scan != nil {
		w.writeByte(byte(Scan))
		w.writeUint32(uint32(len(resp.Scan.Rows)))
		for _, row := range resp.Scan.Rows {
			w.writeBytes(row)
		}
		w.writeBool(resp.Scan.More)
		w.writeBytes(resp.Scan.ContinuationToken)
		w.writeUint64(resp.Scan.SnapshotMicros)
	} else {
		w.writeByte(0)
	}
	return w.data
}

// UnmarshalResponse decodes data written by MarshalResponse.
func UnmarshalResponse(data []byte) (Response, error) {
	r := &reader{data: data}
	if r.readByte() != responseMagic {
		return Response{}, ErrBadMessage
	}

	var resp Response
	resp.ID = r.readBytes()
	resp.Error = r.readString()

	switch CmdType(r.readByte()) {
	case Write:
		wr := &WriteResponse{}
		n := int(r.readUint32())
		for i := 0; i < n; i++ {
			var re RowError
			re.Index = int32(r.readUint32())
			re.Message = r.readString()
			wr.RowErrors = append(wr.RowErrors, re)
		}
		wr.TimestampMicros = r.readUint64()
		resp.Write = wr
	case Scan:
		s := &ScanResponse{}
		n := int(r.readUint32())
		for i := 0; i < n; i++ {
			s.Rows = append(s.Rows, r.readBytes())
		}
		s.More = r.readBool()
		s.ContinuationToken = r.readBytes()
		s.SnapshotMicros = r.readUint64()
		resp.Scan = s
	}

	if r.failed {
		return Response{}, ErrBadMessage
	}
	return resp, nil
}

type writer struct {
	data []byte
}

func newWriter() *writer {
	return &writer{data: make([]byte, 0, 64)}
}

func (w *writer) writeByte(b byte) {
	w.data = append(w.data, b)
}

func (w *writer) writeBool(v bool) {
	if v {
		w.writeByte(1)
		return
	}
	w.writeByte(0)
}

func (w *writer) writeUint32(v uint32) {
	var b [4]byte
	binary.BigEndian.PutUint32(b[:], v)
	w.data = append(w.data, b[:]...)
}

func (w *writer) writeUint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	w.data = append(w.data, b[:]...)
}

func (w *writer) writeBytes(v []byte) {
	w.writeUint32(uint32(len(v)))
	w.data = append(w.data, v...)
}

func (w *writer) writeString(v string) {
	w.writeUint32(uint32(len(v)))
	w.data = append(w.data, v...)
}

type reader struct {
	data   []byte
	failed bool
}

func (r *reader) take(n int) []byte {
	if r.failed || len(r.data) < n {
		r.failed = true
		return nil
	}
	v := r.data[:n]
	r.data = r.data[n:]
	return v
}

func (r *reader) readByte() byte {
	v := r.take(1)
	if v == nil {
		return 0
	}
	return v[0]
}

func (r *reader) readBool() bool {
	return r.readByte() != 0
}

func (r *reader) readUint32() uint32 {
	v := r.take(4)
	if v == nil {
		return 0
	}
	return binary.BigEndian.Uint32(v)
}

func (r *reader) readUint64() uint64 {
	v := r.take(8)
	if v == nil {
		return 0
	}
	return binary.BigEndian.Uint64(v)
}

func (r *reader) readBytes() []byte {
	n := int(r.readUint32())
	if n == 0 {
		return nil
	}
	v := r.take(n)
	if v == nil {
		return nil
	}
	out := make([]byte, n)
	copy(out, v)
	return out
}

func (r *reader) readString() string {
	n := int(r.readUint32())
	if n == 0 {
		return ""
	}
	v := r.take(n)
	if v == nil {
		return ""
	}
	return string(v)
}
