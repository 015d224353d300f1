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
	"bytes"
	"sync"

	"github.com/google/btree"
)

const (
	defaultBTreeDegree = 64
)

var (
	emptyTablet Tablet
)

type tabletItem struct {
	tablet Tablet
}

// Less returns true if the tablet start key is greater than the other.
// Tablets are sorted by start key reversely, so that the tablet covering a
// key is the first item whose start key is <= the key when descending.
func (item *tabletItem) Less(other btree.Item) bool {
	left := item.tablet.Start
	right := other.(*tabletItem).tablet.Start
	return bytes.Compare(left, right) > 0
}

func containsKey(start, end, key []byte) bool {
	// len(end) == 0 means positive infinity
	return bytes.Compare(key, start) >= 0 &&
		(len(end) == 0 || bytes.Compare(key, end) < 0)
}

// tabletTree is the btree of one table's tablets
type tabletTree struct {
	sync.RWMutex
	tree *btree.BTree
}

func newTabletTree() *tabletTree {
	return &tabletTree{
		tree: btree.New(defaultBTreeDegree),
	}
}

func (t *tabletTree) length() int {
	t.RLock()
	defer t.RUnlock()
	return t.tree.Len()
}

// update updates the tree with the tablet. It finds and deletes all the
// overlapped tablets first, and then inserts the tablet.
func (t *tabletTree) update(tablet Tablet) {
	t.Lock()
	defer t.Unlock()

	item := &tabletItem{tablet: tablet}

	var overlaps []*tabletItem
	t.tree.DescendLessOrEqual(item, func(i btree.Item) bool {
		over := i.(*tabletItem)
		if len(tablet.End) > 0 && bytes.Compare(tablet.End, over.tablet.Start) <= 0 {
			return false
		}
		overlaps = append(overlaps, over)
		return true
	})

	for _, over := range overlaps {
		t.tree.Delete(over)
	}

	t.tree.ReplaceOrInsert(item)
}

// search returns the tablet covering key, or the zero Tablet.
func (t *tabletTree) search(key []byte) Tablet {
	t.RLock()
	defer t.RUnlock()

	pivot := &tabletItem{tablet: Tablet{Start: key}}
	var result *tabletItem
	t.tree.AscendGreaterOrEqual(pivot, func(i btree.Item) bool {
		result = i.(*tabletItem)
		return false
	})

	if result == nil || !result.tablet.Contains(key) {
		return emptyTablet
	}
	return result.tablet
}

// ascendRange walks the tablets intersecting [start, end) in ascending key
// order.
func (t *tabletTree) ascendRange(start, end []byte, fn func(Tablet) bool) {
	t.RLock()

	// the tree sorts by start key reversed, so a key-ascending walk is a
	// btree descend
	pivot := &tabletItem{tablet: Tablet{Start: start}}
	var hit []Tablet
	t.tree.AscendGreaterOrEqual(pivot, func(i btree.Item) bool {
		item := i.(*tabletItem)
		if item.tablet.Contains(start) {
			hit = append(hit, item.tablet)
		}
		return false
	})
	t.tree.DescendLessOrEqual(pivot, func(i btree.Item) bool {
		item := i.(*tabletItem)
		if bytes.Compare(item.tablet.Start, start) <= 0 {
			return true
		}
		if len(end) > 0 && bytes.Compare(item.tablet.Start, end) >= 0 {
			return false
		}
		hit = append(hit, item.tablet)
		return true
	})
	t.RUnlock()

	for _, tablet := range hit {
		if !fn(tablet) {
			return
		}
	}
}
