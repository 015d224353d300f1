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
	"github.com/cockroachdb/errors"
)

// Type column type
type Type byte

const (
	// TypeInt64 64-bit signed integer
	TypeInt64 = Type(1)
	// TypeString utf-8 string
	TypeString = Type(2)
	// TypeBool boolean
	TypeBool = Type(3)
	// TypeBytes raw bytes
	TypeBytes = Type(4)
)

// Column one column of a table schema. Key columns are ordered and form the
// encoded primary key.
type Column struct {
	Name     string
	Type     Type
	Key      bool
	Nullable bool
}

// Schema an immutable table schema. Key columns come first, in primary key
// order.
type Schema struct {
	cols     []Column
	byName   map[string]int
	keyCount int
}

// Columns returns all columns in schema order.
func (s *Schema) Columns() []Column {
	return s.cols
}

// KeyColumns returns the primary key columns in key order.
func (s *Schema) KeyColumns() []Column {
	return s.cols[:s.keyCount]
}

// Column returns the column with the given name.
func (s *Schema) Column(name string) (Column, bool) {
	idx, ok := s.byName[name]
	if !ok {
		return Column{}, false
	}
	return s.cols[idx], true
}

func (s *Schema) columnIndex(name string) int {
	idx, ok := s.byName[name]
	if !ok {
		return -1
	}
	return idx
}

// NewRow creates an empty row of this schema.
func (s *Schema) NewRow() *Row {
	return &Row{
		schema: s,
		values: make([]interface{}, len(s.cols)),
		set:    make([]bool, len(s.cols)),
	}
}

// SchemaBuilder builds a Schema. Errors are deferred to Build, the first
// error wins.
type SchemaBuilder struct {
	cols []Column
	err  error
}

// NewSchemaBuilder creates a schema builder.
func NewSchemaBuilder() *SchemaBuilder {
	return &SchemaBuilder{}
}

// AddKeyColumn adds a primary key column. Key columns must be added before
// any value column, their order is the primary key order.
func (b *SchemaBuilder) AddKeyColumn(name string, t Type) *SchemaBuilder {
	return b.add(Column{Name: name, Type: t, Key: true})
}

// AddColumn adds a non-nullable value column.
func (b *SchemaBuilder) AddColumn(name string, t Type) *SchemaBuilder {
	return b.add(Column{Name: name, Type: t})
}

// AddNullableColumn adds a nullable value column.
func (b *SchemaBuilder) AddNullableColumn(name string, t Type) *SchemaBuilder {
	return b.add(Column{Name: name, Type: t, Nullable: true})
}

func (b *SchemaBuilder) add(col Column) *SchemaBuilder {
	if b.err != nil {
		return b
	}
	if col.Name == "" {
		b.err = errors.New("schema: empty column name")
		return b
	}
	for _, c := range b.cols {
		if c.Name == col.Name {
			b.err = errors.Errorf("schema: duplicated column %s", col.Name)
			return b
		}
	}
	if col.Key && len(b.cols) > 0 && !b.cols[len(b.cols)-1].Key {
		b.err = errors.Errorf("schema: key column %s after value columns", col.Name)
		return b
	}
	b.cols = append(b.cols, col)
	return b
}

// Build validates and returns the schema.
func (b *SchemaBuilder) Build() (*Schema, error) {
	if b.err != nil {
		return nil, b.err
	}
	if len(b.cols) == 0 {
		return nil, errors.New("schema: no columns")
	}
	if !b.cols[0].Key {
		return nil, errors.New("schema: no key columns")
	}

	s := &Schema{
		cols:   b.cols,
		byName: make(map[string]int, len(b.cols)),
	}
	for idx, col := range b.cols {
		s.byName[col.Name] = idx
		if col.Key {
			s.keyCount = idx + 1
		}
	}
	return s, nil
}
