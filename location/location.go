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

// Package location defines the tablet-location boundary of the client. A
// Service maps a table and an encoded primary key to the tablet currently
// serving it and to that tablet's replicas. The client only consumes this
// interface; cluster metadata caching and freshness are the implementation's
// concern.
package location

import (
	"context"

	"github.com/cockroachdb/errors"
)

var (
	// ErrNoSuchTable no tablets are known for the table
	ErrNoSuchTable = errors.New("no such table")
	// ErrNoSuchTablet no tablet covers the requested key
	ErrNoSuchTablet = errors.New("no tablet covers the requested key")
	// ErrNoLeader the tablet has no leader replica
	ErrNoLeader = errors.New("tablet has no leader replica")
)

// Replica is a single serving copy of a tablet.
type Replica struct {
	ID      uint64
	Address string
	Leader  bool
	// Distance is a relative proximity hint for replica selection, lower is
	// closer. Zero means unknown.
	Distance int
}

// Tablet is a horizontal partition of a table covering the encoded primary
// key range [Start, End). An empty End means positive infinity.
type Tablet struct {
	ID       uint64
	Table    string
	Start    []byte
	End      []byte
	Replicas []Replica
}

// Contains returns true if the tablet's range covers key.
func (t Tablet) Contains(key []byte) bool {
	return containsKey(t.Start, t.End, key)
}

// LeaderReplica returns the tablet's leader replica.
func (t Tablet) LeaderReplica() (Replica, error) {
	for _, r := range t.Replicas {
		if r.Leader {
			return r, nil
		}
	}
	return Replica{}, ErrNoLeader
}

// Service resolves tablet locations.
type Service interface {
	// ResolveTablet returns the tablet of the table serving the encoded key.
	ResolveTablet(ctx context.Context, table string, key []byte) (Tablet, error)
	// AscendRange walks, in ascending key order, the tablets of the table
	// intersecting [start, end). An empty end means positive infinity.
	// Returning false from fn stops the walk.
	AscendRange(ctx context.Context, table string, start, end []byte, fn func(Tablet) bool) error
}
