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
	"encoding/binary"

	"github.com/cockroachdb/errors"

	"github.com/quarrydb/quarry/util/keys"
)

// ErrNoSuchColumn the named column is not in the schema.
var ErrNoSuchColumn = errors.New("no such column")

// Row holds the column values of one write operation or one scan result.
// A Row is bound to its schema and is not thread-safe.
type Row struct {
	schema *Schema
	values []interface{}
	set    []bool
}

// Schema returns the schema the row is bound to.
func (r *Row) Schema() *Schema {
	return r.schema
}

// SetInt64 sets an int64 column.
func (r *Row) SetInt64(name string, value int64) error {
	return r.setValue(name, TypeInt64, value)
}

// SetString sets a string column.
func (r *Row) SetString(name string, value string) error {
	return r.setValue(name, TypeString, value)
}

// SetBool sets a bool column.
func (r *Row) SetBool(name string, value bool) error {
	return r.setValue(name, TypeBool, value)
}

// SetBytes sets a bytes column.
func (r *Row) SetBytes(name string, value []byte) error {
	return r.setValue(name, TypeBytes, value)
}

// SetNull sets a nullable column to null.
func (r *Row) SetNull(name string) error {
	idx := r.schema.columnIndex(name)
	if idx < 0 {
		return errors.Wrapf(ErrNoSuchColumn, "column %s", name)
	}
	col := r.schema.cols[idx]
	if !col.Nullable {
		return errors.Errorf("column %s is not nullable", name)
	}
	r.values[idx] = nil
	r.set[idx] = true
	return nil
}

func (r *Row) setValue(name string, t Type, value interface{}) error {
	idx := r.schema.columnIndex(name)
	if idx < 0 {
		return errors.Wrapf(ErrNoSuchColumn, "column %s", name)
	}
	col := r.schema.cols[idx]
	if col.Type != t {
		return errors.Errorf("column %s type mismatch", name)
	}
	r.values[idx] = value
	r.set[idx] = true
	return nil
}

// GetInt64 returns an int64 column value.
func (r *Row) GetInt64(name string) (int64, error) {
	v, err := r.getValue(name, TypeInt64)
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// GetString returns a string column value.
func (r *Row) GetString(name string) (string, error) {
	v, err := r.getValue(name, TypeString)
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

// GetBool returns a bool column value.
func (r *Row) GetBool(name string) (bool, error) {
	v, err := r.getValue(name, TypeBool)
	if err != nil {
		return false, err
	}
	return v.(bool), nil
}

// GetBytes returns a bytes column value.
func (r *Row) GetBytes(name string) ([]byte, error) {
	v, err := r.getValue(name, TypeBytes)
	if err != nil {
		return nil, err
	}
	return v.([]byte), nil
}

func (r *Row) getValue(name string, t Type) (interface{}, error) {
	idx := r.schema.columnIndex(name)
	if idx < 0 {
		return nil, errors.Wrapf(ErrNoSuchColumn, "column %s", name)
	}
	if !r.set[idx] {
		return nil, errors.Errorf("column %s is not set", name)
	}
	if r.values[idx] == nil {
		return nil, errors.Errorf("column %s is null", name)
	}
	if r.schema.cols[idx].Type != t {
		return nil, errors.Errorf("column %s type mismatch", name)
	}
	return r.values[idx], nil
}

// IsSet returns true if the column has been assigned, including to null.
func (r *Row) IsSet(name string) bool {
	idx := r.schema.columnIndex(name)
	return idx >= 0 && r.set[idx]
}

// IsNull returns true if the column is set to null.
func (r *Row) IsNull(name string) bool {
	idx := r.schema.columnIndex(name)
	return idx >= 0 && r.set[idx] && r.values[idx] == nil
}

// EncodeKey encodes the primary key columns into an order-preserving key.
// All key columns must be set.
func (r *Row) EncodeKey() ([]byte, error) {
	var key []byte
	for idx, col := range r.schema.KeyColumns() {
		if !r.set[idx] || r.values[idx] == nil {
			return nil, errors.Errorf("key column %s is not set", col.Name)
		}
		key = encodeKeyValue(key, col.Type, r.values[idx])
	}
	return key, nil
}

func encodeKeyValue(dst []byte, t Type, value interface{}) []byte {
	switch t {
	case TypeInt64:
		return keys.EncodeInt64Ascending(dst, value.(int64))
	case TypeString:
		return keys.EncodeBytesAscending(dst, []byte(value.(string)))
	case TypeBool:
		return keys.EncodeBoolAscending(dst, value.(bool))
	case TypeBytes:
		return keys.EncodeBytesAscending(dst, value.([]byte))
	default:
		panic("BUG: unknown column type")
	}
}

const (
	cellNull  = byte(0)
	cellValue = byte(1)
)

// marshalRow encodes the set columns of a row. The layout is a column count
// followed by (index, null flag, value) triples in schema order.
func marshalRow(r *Row) []byte {
	size := 2
	n := 0
	for idx := range r.schema.cols {
		if !r.set[idx] {
			continue
		}
		n++
		size += 3
		if r.values[idx] == nil {
			continue
		}
		switch r.schema.cols[idx].Type {
		case TypeInt64:
			size += 8
		case TypeBool:
			size++
		case TypeString:
			size += 4 + len(r.values[idx].(string))
		case TypeBytes:
			size += 4 + len(r.values[idx].([]byte))
		}
	}

	data := make([]byte, 0, size)
	var buf [8]byte
	binary.BigEndian.PutUint16(buf[:2], uint16(n))
	data = append(data, buf[:2]...)
	for idx := range r.schema.cols {
		if !r.set[idx] {
			continue
		}
		binary.BigEndian.PutUint16(buf[:2], uint16(idx))
		data = append(data, buf[:2]...)
		if r.values[idx] == nil {
			data = append(data, cellNull)
			continue
		}
		data = append(data, cellValue)
		switch r.schema.cols[idx].Type {
		case TypeInt64:
			binary.BigEndian.PutUint64(buf[:8], uint64(r.values[idx].(int64)))
			data = append(data, buf[:8]...)
		case TypeBool:
			if r.values[idx].(bool) {
				data = append(data, 1)
			} else {
				data = append(data, 0)
			}
		case TypeString:
			v := r.values[idx].(string)
			binary.BigEndian.PutUint32(buf[:4], uint32(len(v)))
			data = append(data, buf[:4]...)
			data = append(data, v...)
		case TypeBytes:
			v := r.values[idx].([]byte)
			binary.BigEndian.PutUint32(buf[:4], uint32(len(v)))
			data = append(data, buf[:4]...)
			data = append(data, v...)
		}
	}
	return data
}

var errBadRow = errors.New("malformed row payload")

// unmarshalRow decodes a row payload produced by marshalRow.
func unmarshalRow(schema *Schema, data []byte) (*Row, error) {
	r := schema.NewRow()
	if len(data) < 2 {
		return nil, errBadRow
	}
	n := int(binary.BigEndian.Uint16(data))
	data = data[2:]
	for i := 0; i < n; i++ {
		if len(data) < 3 {
			return nil, errBadRow
		}
		idx := int(binary.BigEndian.Uint16(data))
		flag := data[2]
		data = data[3:]
		if idx >= len(schema.cols) {
			return nil, errBadRow
		}
		if flag == cellNull {
			r.values[idx] = nil
			r.set[idx] = true
			continue
		}
		switch schema.cols[idx].Type {
		case TypeInt64:
			if len(data) < 8 {
				return nil, errBadRow
			}
			r.values[idx] = int64(binary.BigEndian.Uint64(data))
			data = data[8:]
		case TypeBool:
			if len(data) < 1 {
				return nil, errBadRow
			}
			r.values[idx] = data[0] == 1
			data = data[1:]
		case TypeString:
			v, rest, err := readCell(data)
			if err != nil {
				return nil, err
			}
			r.values[idx] = string(v)
			data = rest
		case TypeBytes:
			v, rest, err := readCell(data)
			if err != nil {
				return nil, err
			}
			r.values[idx] = v
			data = rest
		}
		r.set[idx] = true
	}
	return r, nil
}

func readCell(data []byte) ([]byte, []byte, error) {
	if len(data) < 4 {
		return nil, nil, errBadRow
	}
	size := int(binary.BigEndian.Uint32(data))
	data = data[4:]
	if len(data) < size {
		return nil, nil, errBadRow
	}
	v := make([]byte, size)
	copy(v, data[:size])
	return v, data[size:], nil
}
