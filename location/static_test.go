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
	"testing"

	"github.com/stretchr/testify/assert"
)

func testTablet(id uint64, table string, start, end string) Tablet {
	var s, e []byte
	if start != "" {
		s = []byte(start)
	}
	if end != "" {
		e = []byte(end)
	}
	return Tablet{
		ID:    id,
		Table: table,
		Start: s,
		End:   e,
		Replicas: []Replica{
			{ID: id*10 + 1, Address: "127.0.0.1:20000", Leader: true},
			{ID: id*10 + 2, Address: "127.0.0.1:20001"},
		},
	}
}

func TestResolveTablet(t *testing.T) {
	s := NewStatic()
	s.UpdateTablet(testTablet(1, "t", "", "b"))
	s.UpdateTablet(testTablet(2, "t", "b", "d"))
	s.UpdateTablet(testTablet(3, "t", "d", ""))

	ctx := context.Background()

	tablet, err := s.ResolveTablet(ctx, "t", []byte("a"))
	assert.NoError(t, err)
	assert.Equal(t, uint64(1), tablet.ID)

	tablet, err = s.ResolveTablet(ctx, "t", []byte("b"))
	assert.NoError(t, err)
	assert.Equal(t, uint64(2), tablet.ID)

	tablet, err = s.ResolveTablet(ctx, "t", []byte("zzz"))
	assert.NoError(t, err)
	assert.Equal(t, uint64(3), tablet.ID)

	_, err = s.ResolveTablet(ctx, "missing", []byte("a"))
	assert.Equal(t, ErrNoSuchTable, err)
}

func TestResolveTabletWithGap(t *testing.T) {
	s := NewStatic()
	s.UpdateTablet(testTablet(1, "t", "b", "d"))

	_, err := s.ResolveTablet(context.Background(), "t", []byte("a"))
	assert.Equal(t, ErrNoSuchTablet, err)
}

func TestUpdateTabletReplacesOverlaps(t *testing.T) {
	s := NewStatic()
	s.UpdateTablet(testTablet(1, "t", "", "d"))
	s.UpdateTablet(testTablet(2, "t", "", "b"))
	s.UpdateTablet(testTablet(3, "t", "b", "d"))

	assert.Equal(t, 2, s.TabletCount("t"))

	tablet, err := s.ResolveTablet(context.Background(), "t", []byte("c"))
	assert.NoError(t, err)
	assert.Equal(t, uint64(3), tablet.ID)
}

func TestAscendRange(t *testing.T) {
	s := NewStatic()
	s.UpdateTablet(testTablet(1, "t", "", "b"))
	s.UpdateTablet(testTablet(2, "t", "b", "d"))
	s.UpdateTablet(testTablet(3, "t", "d", ""))

	var ids []uint64
	assert.NoError(t, s.AscendRange(context.Background(), "t", []byte("a"), nil, func(tablet Tablet) bool {
		ids = append(ids, tablet.ID)
		return true
	}))
	assert.Equal(t, []uint64{1, 2, 3}, ids)

	ids = nil
	assert.NoError(t, s.AscendRange(context.Background(), "t", []byte("b"), []byte("c"), func(tablet Tablet) bool {
		ids = append(ids, tablet.ID)
		return true
	}))
	assert.Equal(t, []uint64{2}, ids)

	ids = nil
	assert.NoError(t, s.AscendRange(context.Background(), "t", []byte("c"), []byte("z"), func(tablet Tablet) bool {
		ids = append(ids, tablet.ID)
		return false
	}))
	assert.Equal(t, []uint64{2}, ids)
}

func TestLeaderReplica(t *testing.T) {
	tablet := testTablet(1, "t", "", "")
	r, err := tablet.LeaderReplica()
	assert.NoError(t, err)
	assert.True(t, r.Leader)

	tablet.Replicas = []Replica{{ID: 1, Address: "x"}}
	_, err = tablet.LeaderReplica()
	assert.Equal(t, ErrNoLeader, err)
}
