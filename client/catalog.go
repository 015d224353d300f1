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
	"sync"

	"github.com/cockroachdb/errors"
)

// ErrNoSuchTable the named table does not exist.
var ErrNoSuchTable = errors.New("no such table")

// Catalog resolves table names to schemas.
type Catalog interface {
	// TableSchema returns the schema of the named table.
	TableSchema(ctx context.Context, name string) (*Schema, error)
}

// StaticCatalog an in-memory catalog, used by embedded deployments and
// tests.
type StaticCatalog struct {
	mu      sync.RWMutex
	schemas map[string]*Schema
}

var _ Catalog = (*StaticCatalog)(nil)

// NewStaticCatalog creates an empty static catalog.
func NewStaticCatalog() *StaticCatalog {
	return &StaticCatalog{
		schemas: make(map[string]*Schema),
	}
}

// AddTable registers a table schema, replacing any previous one.
func (c *StaticCatalog) AddTable(name string, schema *Schema) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.schemas[name] = schema
}

func (c *StaticCatalog) TableSchema(ctx context.Context, name string) (*Schema, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	schema, ok := c.schemas[name]
	if !ok {
		return nil, errors.Wrapf(ErrNoSuchTable, "table %s", name)
	}
	return schema, nil
}
