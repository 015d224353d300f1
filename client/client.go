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

// Package client provides write sessions and scanners over a cluster of
// tablet servers. Write operations are buffered per session, grouped by
// tablet and flushed as one rpc per tablet. Scans walk the tablets of a
// table in key order, one tablet at a time.
package client

import (
	"context"
	"sync"

	"github.com/fagongzi/util/hack"
	"go.uber.org/zap"

	"github.com/quarrydb/quarry/components/log"
	"github.com/quarrydb/quarry/config"
	"github.com/quarrydb/quarry/location"
	"github.com/quarrydb/quarry/rpc"
	"github.com/quarrydb/quarry/util/hlc"
	"github.com/quarrydb/quarry/util/stop"
	"github.com/quarrydb/quarry/util/uuid"
)

// ReplicaSelection which replica of a tablet serves a read.
type ReplicaSelection int

const (
	// LeaderOnly read from the leader replica only.
	LeaderOnly = ReplicaSelection(0)
	// ClosestReplica read from the replica closest to the client.
	ClosestReplica = ReplicaSelection(1)
	// FirstReplica read from the first listed replica.
	FirstReplica = ReplicaSelection(2)
)

// Client is a quarry client, providing buffered write sessions and scanners.
type Client interface {
	// Start start the quarry client
	Start() error
	// Stop stop the quarry client
	Stop() error

	// OpenTable returns a handle to the named table.
	OpenTable(ctx context.Context, name string) (*Table, error)
	// NewSession creates a write session with the client's defaults.
	NewSession() Session
	// NewScanner creates a scanner over the table, in configuring state.
	NewScanner(table *Table) *Scanner

	// LastObservedTimestamp returns the client's last observed hybrid
	// timestamp in microseconds.
	LastObservedTimestamp() uint64
}

var _ Client = (*client)(nil)

type client struct {
	cfg       config.Config
	logger    *zap.Logger
	location  location.Service
	transport rpc.Transport
	catalog   Catalog
	clock     *hlc.Clock
	stopper   *stop.Stopper
	inflights sync.Map // request id -> *Future
}

func (s *client) Start() error {
	s.logger.Info("begin to start quarry client")
	s.transport.SetCallback(s.done, s.doneError)
	if err := s.transport.Start(); err != nil {
		return err
	}
	s.logger.Info("quarry client started")
	return nil
}

func (s *client) Stop() error {
	if err := s.transport.Stop(); err != nil {
		return err
	}
	s.stopper.Stop()
	s.logger.Info("quarry client stopped")
	return nil
}

func (s *client) OpenTable(ctx context.Context, name string) (*Table, error) {
	schema, err := s.catalog.TableSchema(ctx, name)
	if err != nil {
		return nil, err
	}
	return &Table{name: name, schema: schema}, nil
}

func (s *client) LastObservedTimestamp() uint64 {
	return s.clock.Last()
}

// exec sends the request to the replica and returns a future for its
// response.
func (s *client) exec(ctx context.Context, replica location.Replica, req rpc.Request) *Future {
	req.ID = uuid.New()
	f := newFuture(ctx, req)
	s.inflights.Store(hack.SliceToString(req.ID), f)

	if ce := s.logger.Check(zap.DebugLevel, "begin to send request"); ce != nil {
		ce.Write(log.RequestIDField(req.ID))
	}

	if err := s.transport.Send(replica, req); err != nil {
		s.doneError(req.ID, err)
	}
	return f
}

// release drops the inflight entry of a future that the caller stopped
// waiting for.
func (s *client) release(f *Future) {
	s.inflights.Delete(hack.SliceToString(f.req.ID))
	f.Close()
}

func (s *client) done(resp rpc.Response) {
	if ce := s.logger.Check(zap.DebugLevel, "response received"); ce != nil {
		ce.Write(log.RequestIDField(resp.ID))
	}

	s.observeTimestamp(resp)

	id := hack.SliceToString(resp.ID)
	if c, ok := s.inflights.Load(id); ok {
		s.inflights.Delete(id)
		c.(*Future).done(resp, nil)
	} else {
		if ce := s.logger.Check(zap.DebugLevel, "response skipped"); ce != nil {
			ce.Write(log.RequestIDField(resp.ID), log.ReasonField("missing ctx"))
		}
	}
}

func (s *client) doneError(requestID []byte, err error) {
	if ce := s.logger.Check(zap.DebugLevel, "error response received"); ce != nil {
		ce.Write(log.RequestIDField(requestID), zap.Error(err))
	}

	id := hack.SliceToString(requestID)
	if c, ok := s.inflights.Load(id); ok {
		s.inflights.Delete(id)
		c.(*Future).done(rpc.Response{}, err)
	}
}

// observeTimestamp forwards the client clock past any hybrid timestamp seen
// in a response, so later snapshot reads cover the writes this client has
// already observed.
func (s *client) observeTimestamp(resp rpc.Response) {
	if resp.Write != nil && resp.Write.TimestampMicros > 0 {
		s.clock.Update(resp.Write.TimestampMicros)
	}
	if resp.Scan != nil && resp.Scan.SnapshotMicros > 0 {
		s.clock.Update(resp.Scan.SnapshotMicros)
	}
}
