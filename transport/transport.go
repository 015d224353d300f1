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

package transport

import (
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/fagongzi/goetty"
	"github.com/fagongzi/goetty/codec"
	"github.com/fagongzi/goetty/codec/length"
	"github.com/juju/ratelimit"
	"go.uber.org/zap"

	"github.com/quarrydb/quarry/components/log"
	"github.com/quarrydb/quarry/location"
	"github.com/quarrydb/quarry/rpc"
)

var (
	defaultMaxBodySize    = 1024 * 1024 * 64
	defaultConnectTimeout = time.Second * 10

	// ErrCallbackNotSet returned by Send before SetCallback.
	ErrCallbackNotSet = errors.New("transport: callbacks not set")
	// ErrStopped returned by Send after Stop.
	ErrStopped = errors.New("transport: stopped")
)

// Option configures the TCP transport.
type Option func(*TCPTransport)

// WithLogger sets the logger.
func WithLogger(logger *zap.Logger) Option {
	return func(t *TCPTransport) {
		t.logger = logger
	}
}

// WithMaxBodySize sets the max size of a single message body.
func WithMaxBodySize(size int) Option {
	return func(t *TCPTransport) {
		t.maxBodySize = size
	}
}

// WithRateLimit limits outbound requests per second across all backends.
func WithRateLimit(requestsPerSecond int64) Option {
	return func(t *TCPTransport) {
		t.limiter = ratelimit.NewBucketWithRate(float64(requestsPerSecond), requestsPerSecond)
	}
}

// WithConnectTimeout sets the timeout of connecting to a tablet server.
func WithConnectTimeout(timeout time.Duration) Option {
	return func(t *TCPTransport) {
		t.connectTimeout = timeout
	}
}

// TCPTransport maintains one connection per tablet server address,
// creating backends lazily on first send.
type TCPTransport struct {
	logger         *zap.Logger
	maxBodySize    int
	connectTimeout time.Duration
	limiter        *ratelimit.Bucket
	encoder        codec.Encoder
	decoder        codec.Decoder

	successCallback rpc.SuccessCallback
	failureCallback rpc.FailureCallback

	mu struct {
		sync.RWMutex
		stopped  bool
		backends map[string]*remoteBackend
	}
}

var _ rpc.Transport = (*TCPTransport)(nil)

// NewTCPTransport creates a TCP transport.
func NewTCPTransport(opts ...Option) *TCPTransport {
	t := &TCPTransport{
		maxBodySize:    defaultMaxBodySize,
		connectTimeout: defaultConnectTimeout,
	}
	for _, opt := range opts {
		opt(t)
	}
	t.logger = log.Adjust(t.logger).Named("transport")

	v := &clientCodec{}
	t.encoder, t.decoder = length.NewWithSize(v, v, 0, 0, 0, t.maxBodySize)
	t.mu.backends = make(map[string]*remoteBackend)
	return t
}

func (t *TCPTransport) SetCallback(success rpc.SuccessCallback, failure rpc.FailureCallback) {
	t.successCallback = success
	t.failureCallback = failure
}

func (t *TCPTransport) Start() error {
	if t.successCallback == nil || t.failureCallback == nil {
		return ErrCallbackNotSet
	}
	return nil
}

func (t *TCPTransport) Stop() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.mu.stopped {
		return nil
	}
	t.mu.stopped = true
	for _, bc := range t.mu.backends {
		bc.close()
	}
	t.mu.backends = nil
	return nil
}

func (t *TCPTransport) Send(replica location.Replica, req rpc.Request) error {
	bc, err := t.getBackend(replica.Address)
	if err != nil {
		return err
	}
	return bc.dispatch(req)
}

func (t *TCPTransport) getBackend(addr string) (*remoteBackend, error) {
	t.mu.RLock()
	if t.mu.stopped {
		t.mu.RUnlock()
		return nil, ErrStopped
	}
	if bc, ok := t.mu.backends[addr]; ok {
		t.mu.RUnlock()
		return bc, nil
	}
	t.mu.RUnlock()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.mu.stopped {
		return nil, ErrStopped
	}
	if bc, ok := t.mu.backends[addr]; ok {
		return bc, nil
	}

	bc := newRemoteBackend(t.logger,
		t.successCallback,
		t.failureCallback,
		addr,
		goetty.NewIOSession(goetty.WithCodec(t.encoder, t.decoder)),
		t.limiter,
		t.connectTimeout)
	t.mu.backends[addr] = bc
	if ce := t.logger.Check(zap.DebugLevel, "backend created"); ce != nil {
		ce.Write(zap.String("addr", addr))
	}
	return bc, nil
}
