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

// Table a handle to an opened table. Tables are immutable and safe for
// concurrent use.
type Table struct {
	name   string
	schema *Schema
}

// Name returns the table name.
func (t *Table) Name() string {
	return t.name
}

// Schema returns the table schema.
func (t *Table) Schema() *Schema {
	return t.schema
}

// NewInsert creates an insert operation. Inserting an existing key fails
// the operation.
func (t *Table) NewInsert() *WriteOp {
	return newWriteOp(t, rpc.OpInsert)
}

// NewUpdate creates an update operation. Updating a missing key fails the
// operation.
func (t *Table) NewUpdate() *WriteOp {
	return newWriteOp(t, rpc.OpUpdate)
}

// NewDelete creates a delete operation. Only the key columns need to be
// set. Deleting a missing key fails the operation.
func (t *Table) NewDelete() *WriteOp {
	return newWriteOp(t, rpc.OpDelete)
}
