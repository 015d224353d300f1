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
	"github.com/quarrydb/quarry/rpc"
)

// WriteOp a single-row write operation against one table. Created by the
// table, filled in through Row, then handed to a session with Apply.
type WriteOp struct {
	table  *Table
	opType rpc.OpType
	row    *Row
}

func newWriteOp(table *Table, opType rpc.OpType) *WriteOp {
	return &WriteOp{
		table:  table,
		opType: opType,
		row:    table.schema.NewRow(),
	}
}

// Table returns the table the operation writes to.
func (op *WriteOp) Table() *Table {
	return op.table
}

// Row returns the mutable row of the operation.
func (op *WriteOp) Row() *Row {
	return op.row
}

// Type returns the operation type.
func (op *WriteOp) Type() rpc.OpType {
	return op.opType
}

func (op *WriteOp) typeName() string {
	switch op.opType {
	case rpc.OpInsert:
		return "insert"
	case rpc.OpUpdate:
		return "update"
	case rpc.OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// encode produces the wire form of the operation. Delete operations carry
// only the key.
func (op *WriteOp) encode() (rpc.EncodedOp, error) {
	key, err := op.row.EncodeKey()
	if err != nil {
		return rpc.EncodedOp{}, err
	}
	encoded := rpc.EncodedOp{
		Op:  op.opType,
		Key: key,
	}
	if op.opType != rpc.OpDelete {
		encoded.Row = marshalRow(op.row)
	}
	return encoded, nil
}
