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

package location

import (
	"context"
	"sync"
)

// Static is an in-memory Service fed by explicit tablet updates. It is used
// by embedded deployments and by tests; production deployments plug in a
// Service backed by the cluster's metadata servers instead.
type Static struct {
	mu     sync.RWMutex
	tables map[string]*tabletTree
}

var _ Service = (*Static)(nil)

// NewStatic creates an empty static location service.
func NewStatic() *Static {
	return &Static{
		tables: make(map[string]*tabletTree),
	}
}

// UpdateTablet adds the tablet or replaces any tablets it overlaps.
func (s *Static) UpdateTablet(tablet Tablet) {
	s.mu.Lock()
	tree, ok := s.tables[tablet.Table]
	if !ok {
		tree = newTabletTree()
		s.tables[tablet.Table] = tree
	}
	s.mu.Unlock()

	tree.update(tablet)
}

// TabletCount returns the number of tablets known for the table.
func (s *Static) TabletCount(table string) int {
	tree := s.tree(table)
	if tree == nil {
		return 0
	}
	return tree.length()
}

// ResolveTablet implements Service.
func (s *Static) ResolveTablet(ctx context.Context, table string, key []byte) (Tablet, error) {
	tree := s.tree(table)
	if tree == nil {
		return Tablet{}, ErrNoSuchTable
	}

	tablet := tree.search(key)
	if tablet.ID == 0 {
		return Tablet{}, ErrNoSuchTablet
	}
	return tablet, nil
}

// AscendRange implements Service.
func (s *Static) AscendRange(ctx context.Context, table string, start, end []byte, fn func(Tablet) bool) error {
	tree := s.tree(table)
	if tree == nil {
		return ErrNoSuchTable
	}

	tree.ascendRange(start, end, fn)
	return nil
}

func (s *Static) tree(table string) *tabletTree {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.tables[table]
}
