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
	"bytes"
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/quarrydb/quarry/components/log"
	"github.com/quarrydb/quarry/location"
	"github.com/quarrydb/quarry/metric"
	"github.com/quarrydb/quarry/rpc"
	"github.com/quarrydb/quarry/util/keys"
)

type scannerState int

const (
	scannerConfiguring = scannerState(0)
	scannerOpen        = scannerState(1)
)

var (
	// ErrScannerOpen the setting cannot change while the scanner is open.
	ErrScannerOpen = errors.New("scanner is open")
	// ErrScannerNotOpen the scanner must be opened first.
	ErrScannerNotOpen = errors.New("scanner is not open")
)

// Scanner reads the rows of a table in primary key order, one tablet at a
// time. A scanner starts in configuring state, serves rows once opened and
// returns to configuring state on Close with its configuration reset, so
// it can be configured and opened again. Scanners are not safe for
// concurrent use.
type Scanner struct {
	c      *client
	logger *zap.Logger
	table  *Table

	// configuration, frozen while open
	readMode       rpc.ReadMode
	replicaSel     ReplicaSelection
	snapshotMicros uint64
	batchSizeSet   bool
	batchSizeBytes uint32
	projection     []string
	predicates     []rpc.ColumnPredicate
	startKey       []byte
	endKey         []byte
	timeout        time.Duration

	// scan state
	state      scannerState
	tablet     location.Tablet
	token      []byte
	tabletMore bool
	exhausted  bool
	buffered   []*Row
	// snapshot actually served, pinned on the first response
	scanSnapshot uint64
}

func (s *client) NewScanner(table *Table) *Scanner {
	return &Scanner{
		c:       s,
		logger:  s.logger.Named("scanner").With(log.TableField(table.Name())),
		table:   table,
		timeout: s.cfg.Scan.OperationTimeout.Duration,
	}
}

// SetReadMode sets the consistency mode. Only valid while configuring.
func (sc *Scanner) SetReadMode(mode rpc.ReadMode) error {
	if sc.state != scannerConfiguring {
		return ErrScannerOpen
	}
	sc.readMode = mode
	return nil
}

// SetSnapshotMicros pins the snapshot of a ReadAtSnapshot scan. Zero lets
// the first serving replica pick the snapshot.
func (sc *Scanner) SetSnapshotMicros(micros uint64) error {
	if sc.state != scannerConfiguring {
		return ErrScannerOpen
	}
	sc.snapshotMicros = micros
	return nil
}

// SetReplicaSelection sets which replica of each tablet serves the scan.
func (sc *Scanner) SetReplicaSelection(sel ReplicaSelection) error {
	if sc.state != scannerConfiguring {
		return ErrScannerOpen
	}
	sc.replicaSel = sel
	return nil
}

// SetBatchSizeBytes hints the page size of each round trip. Zero requests
// no rows on the first round trip.
func (sc *Scanner) SetBatchSizeBytes(size uint32) error {
	if sc.state != scannerConfiguring {
		return ErrScannerOpen
	}
	sc.batchSizeSet = true
	sc.batchSizeBytes = size
	return nil
}

// SetProjection restricts the returned columns. Empty means all columns.
func (sc *Scanner) SetProjection(columns ...string) error {
	if sc.state != scannerConfiguring {
		return ErrScannerOpen
	}
	for _, name := range columns {
		if _, ok := sc.table.schema.Column(name); !ok {
			return errors.Wrapf(ErrNoSuchColumn, "column %s", name)
		}
	}
	sc.projection = columns
	return nil
}

// SetTimeout sets the timeout of a single tablet rpc.
func (sc *Scanner) SetTimeout(timeout time.Duration) error {
	if sc.state != scannerConfiguring {
		return ErrScannerOpen
	}
	sc.timeout = timeout
	return nil
}

// AddRangePredicate constrains a column to the inclusive [lower, upper]
// range. Nil bounds are unbounded. Predicates are conjunctive.
func (sc *Scanner) AddRangePredicate(column string, lower, upper interface{}) error {
	if sc.state != scannerConfiguring {
		return ErrScannerOpen
	}
	col, ok := sc.table.schema.Column(column)
	if !ok {
		return errors.Wrapf(ErrNoSuchColumn, "column %s", column)
	}
	pred := rpc.ColumnPredicate{Column: column}
	if lower != nil {
		v, err := checkPredicateValue(col, lower)
		if err != nil {
			return err
		}
		pred.Lower = encodeKeyValue(nil, col.Type, v)
	}
	if upper != nil {
		v, err := checkPredicateValue(col, upper)
		if err != nil {
			return err
		}
		pred.Upper = encodeKeyValue(nil, col.Type, v)
	}
	sc.predicates = append(sc.predicates, pred)
	return nil
}

func checkPredicateValue(col Column, value interface{}) (interface{}, error) {
	switch col.Type {
	case TypeInt64:
		if v, ok := value.(int64); ok {
			return v, nil
		}
		if v, ok := value.(int); ok {
			return int64(v), nil
		}
	case TypeString:
		if v, ok := value.(string); ok {
			return v, nil
		}
	case TypeBool:
		if v, ok := value.(bool); ok {
			return v, nil
		}
	case TypeBytes:
		if v, ok := value.([]byte); ok {
			return v, nil
		}
	}
	return nil, errors.Errorf("predicate value type mismatch for column %s", col.Name)
}

// SetKeyRange restricts the scan to encoded primary keys in [start, end).
// Nil bounds are unbounded.
func (sc *Scanner) SetKeyRange(start, end []byte) error {
	if sc.state != scannerConfiguring {
		return ErrScannerOpen
	}
	sc.startKey = keys.Clone(start)
	sc.endKey = keys.Clone(end)
	return nil
}

// Open locates the first tablet of the scan range and opens the scan on
// it. In ReadAtSnapshot mode without an explicit snapshot, the snapshot
// chosen by the first replica is pinned for the rest of the scan.
func (sc *Scanner) Open(ctx context.Context) error {
	if sc.state != scannerConfiguring {
		return ErrScannerOpen
	}

	sc.exhausted = false
	sc.token = nil
	sc.tabletMore = false
	sc.buffered = nil
	sc.scanSnapshot = sc.snapshotMicros

	tablet, ok, err := sc.firstTablet(ctx)
	if err != nil {
		return err
	}
	sc.state = scannerOpen
	if !ok {
		// empty table or empty range
		sc.exhausted = true
		return nil
	}
	sc.tablet = tablet

	if err := sc.fetch(ctx, true); err != nil {
		sc.state = scannerConfiguring
		return err
	}
	metric.IncScanBatchCount("open")
	return nil
}

// firstTablet returns the first tablet intersecting the scan range.
func (sc *Scanner) firstTablet(ctx context.Context) (location.Tablet, bool, error) {
	var first location.Tablet
	found := false
	err := sc.c.location.AscendRange(ctx, sc.table.Name(), sc.startKey, sc.endKey,
		func(t location.Tablet) bool {
			first = t
			found = true
			return false
		})
	if err != nil {
		return location.Tablet{}, false, err
	}
	return first, found, nil
}

// HasMoreRows returns true while the scan may still produce rows, that is
// while rows are buffered or tablets remain to try. A true return does not
// promise the next batch is non-empty.
func (sc *Scanner) HasMoreRows() bool {
	if sc.state != scannerOpen {
		return false
	}
	return len(sc.buffered) > 0 || !sc.exhausted
}

// NextBatch returns the next batch of rows, advancing across tablets as
// each is exhausted. A nil batch means the scan is exhausted.
func (sc *Scanner) NextBatch(ctx context.Context) ([]*Row, error) {
	if sc.state != scannerOpen {
		return nil, ErrScannerNotOpen
	}

	for {
		if len(sc.buffered) > 0 {
			rows := sc.buffered
			sc.buffered = nil
			metric.IncScanBatchCount("rows")
			return rows, nil
		}
		if sc.exhausted {
			return nil, nil
		}

		if sc.tabletMore {
			if err := sc.fetch(ctx, false); err != nil {
				return nil, err
			}
			continue
		}
		if err := sc.advanceTablet(ctx); err != nil {
			return nil, err
		}
	}
}

// advanceTablet moves the scan to the tablet after the current one, or
// marks the scan exhausted when none remains.
func (sc *Scanner) advanceTablet(ctx context.Context) error {
	next := sc.tablet.End
	if len(next) == 0 || (len(sc.endKey) > 0 && bytes.Compare(next, sc.endKey) >= 0) {
		sc.exhausted = true
		return nil
	}

	tablet, err := sc.c.location.ResolveTablet(ctx, sc.table.Name(), next)
	if err != nil {
		if errors.Is(err, location.ErrNoSuchTablet) {
			sc.exhausted = true
			return nil
		}
		return err
	}
	sc.tablet = tablet
	sc.token = nil
	if ce := sc.logger.Check(zap.DebugLevel, "scan advanced to next tablet"); ce != nil {
		ce.Write(log.TabletIDField(tablet.ID))
	}
	return sc.fetch(ctx, false)
}

// fetch runs one scan round trip against the current tablet.
func (sc *Scanner) fetch(ctx context.Context, opening bool) error {
	replica, err := sc.pickReplica()
	if err != nil {
		return err
	}

	batch := sc.batchSize(opening)
	req := rpc.Request{
		Type:          rpc.Scan,
		TabletID:      sc.tablet.ID,
		TimeoutMillis: int64(sc.timeout / time.Millisecond),
		Scan: &rpc.ScanRequest{
			Table:             sc.table.Name(),
			Start:             sc.clampStart(),
			End:               sc.clampEnd(),
			Projection:        sc.projection,
			Predicates:        sc.predicates,
			ReadMode:          sc.readMode,
			SnapshotMicros:    sc.scanSnapshot,
			PropagatedMicros:  sc.c.clock.Last(),
			BatchSizeBytes:    batch,
			ContinuationToken: sc.token,
		},
	}

	cctx, cancel := context.WithTimeout(ctx, sc.timeout)
	defer cancel()
	f := sc.c.exec(cctx, replica, req)
	resp, err := f.Get()
	sc.c.release(f)
	if err != nil {
		return err
	}
	if resp.Error != "" {
		return errors.New(resp.Error)
	}
	if resp.Scan == nil {
		return errors.New("malformed scan response")
	}

	if sc.readMode == rpc.ReadAtSnapshot && sc.scanSnapshot == 0 {
		sc.scanSnapshot = resp.Scan.SnapshotMicros
		if ce := sc.logger.Check(zap.DebugLevel, "snapshot pinned"); ce != nil {
			ce.Write(log.SnapshotField(sc.scanSnapshot))
		}
	}
	sc.token = resp.Scan.ContinuationToken
	sc.tabletMore = resp.Scan.More

	rows := make([]*Row, 0, len(resp.Scan.Rows))
	for _, data := range resp.Scan.Rows {
		row, err := unmarshalRow(sc.table.schema, data)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	sc.buffered = rows
	return nil
}

// batchSize returns the page size hint of one round trip. An explicit zero
// is honored only on the opening request.
func (sc *Scanner) batchSize(opening bool) uint32 {
	if sc.batchSizeSet && (sc.batchSizeBytes > 0 || opening) {
		return sc.batchSizeBytes
	}
	return uint32(sc.c.cfg.Scan.BatchSize)
}

// clampStart clamps the scan start to the current tablet.
func (sc *Scanner) clampStart() []byte {
	if len(sc.startKey) > 0 && bytes.Compare(sc.startKey, sc.tablet.Start) > 0 {
		return sc.startKey
	}
	return sc.tablet.Start
}

// clampEnd clamps the scan end to the current tablet.
func (sc *Scanner) clampEnd() []byte {
	if len(sc.tablet.End) == 0 {
		return sc.endKey
	}
	if len(sc.endKey) > 0 && bytes.Compare(sc.endKey, sc.tablet.End) < 0 {
		return sc.endKey
	}
	return sc.tablet.End
}

func (sc *Scanner) pickReplica() (location.Replica, error) {
	replicas := sc.tablet.Replicas
	if len(replicas) == 0 {
		return location.Replica{}, errors.Wrapf(location.ErrNoLeader, "tablet %d has no replicas", sc.tablet.ID)
	}

	switch sc.replicaSel {
	case ClosestReplica:
		best := replicas[0]
		for _, r := range replicas[1:] {
			if r.Distance < best.Distance {
				best = r
			}
		}
		return best, nil
	case FirstReplica:
		return replicas[0], nil
	default:
		return sc.tablet.LeaderReplica()
	}
}

// Close releases the scan and resets the scanner to a freshly configured
// state, so it can be configured and opened again. Server-side resources
// are released best effort; Close never blocks on the network and never
// fails.
func (sc *Scanner) Close() error {
	if sc.state != scannerOpen {
		return nil
	}

	if len(sc.token) > 0 {
		token := sc.token
		tablet := sc.tablet
		replica, err := sc.pickReplica()
		if err == nil {
			req := rpc.Request{
				Type:      rpc.ScanClose,
				TabletID:  tablet.ID,
				ScanClose: &rpc.ScanCloseRequest{ContinuationToken: token},
			}
			rerr := sc.c.stopper.RunNamedTask(context.Background(), "scan-close", func(ctx context.Context) {
				cctx, cancel := context.WithTimeout(ctx, sc.timeout)
				defer cancel()
				f := sc.c.exec(cctx, replica, req)
				f.Get()
				sc.c.release(f)
			})
			if rerr != nil {
				if ce := sc.logger.Check(zap.DebugLevel, "scan close skipped"); ce != nil {
					ce.Write(zap.Error(rerr))
				}
			}
		}
	}

	sc.state = scannerConfiguring
	sc.token = nil
	sc.tabletMore = false
	sc.buffered = nil
	sc.exhausted = false
	sc.scanSnapshot = 0

	sc.readMode = rpc.ReadLatest
	sc.replicaSel = LeaderOnly
	sc.snapshotMicros = 0
	sc.batchSizeSet = false
	sc.batchSizeBytes = 0
	sc.projection = nil
	sc.predicates = nil
	sc.startKey = nil
	sc.endKey = nil
	sc.timeout = sc.c.cfg.Scan.OperationTimeout.Duration
	return nil
}
