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
	"time"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"

	"github.com/quarrydb/quarry/components/log"
	"github.com/quarrydb/quarry/config"
	"github.com/quarrydb/quarry/location"
	"github.com/quarrydb/quarry/rpc"
	"github.com/quarrydb/quarry/transport"
	"github.com/quarrydb/quarry/util/hlc"
	"github.com/quarrydb/quarry/util/stop"
)

var defaultClockMaxOffset = time.Millisecond * 500

// Builder builds a Client. Setters never fail, validation is deferred to
// Build and the first error wins.
type Builder struct {
	cfg       config.Config
	logger    *zap.Logger
	location  location.Service
	transport rpc.Transport
	catalog   Catalog
	clock     *hlc.Clock
	err       error
}

// NewBuilder creates a client builder.
func NewBuilder() *Builder {
	return &Builder{}
}

// WithConfig sets the client config.
func (b *Builder) WithConfig(cfg config.Config) *Builder {
	cfg.Adjust()
	b.cfg = cfg
	return b
}

// WithLogger sets the logger.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithLocation sets the tablet location service.
func (b *Builder) WithLocation(svc location.Service) *Builder {
	if svc == nil {
		b.fail(errors.New("client: nil location service"))
		return b
	}
	b.location = svc
	return b
}

// WithTransport sets the tablet server transport. Defaults to a TCP
// transport built from the config.
func (b *Builder) WithTransport(tp rpc.Transport) *Builder {
	if tp == nil {
		b.fail(errors.New("client: nil transport"))
		return b
	}
	b.transport = tp
	return b
}

// WithCatalog sets the table catalog.
func (b *Builder) WithCatalog(catalog Catalog) *Builder {
	if catalog == nil {
		b.fail(errors.New("client: nil catalog"))
		return b
	}
	b.catalog = catalog
	return b
}

// WithClock sets the hybrid clock. Defaults to a wall clock with a 500ms
// max offset.
func (b *Builder) WithClock(clock *hlc.Clock) *Builder {
	if clock == nil {
		b.fail(errors.New("client: nil clock"))
		return b
	}
	b.clock = clock
	return b
}

func (b *Builder) fail(err error) {
	if b.err == nil {
		b.err = err
	}
}

// Build validates the builder and returns the client. The returned client
// must be started before use.
func (b *Builder) Build() (Client, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.location == nil {
		return nil, errors.New("client: location service not set")
	}
	if b.catalog == nil {
		return nil, errors.New("client: catalog not set")
	}

	b.cfg.Adjust()
	logger := log.Adjust(b.logger).Named("quarry-client")
	tp := b.transport
	if tp == nil {
		opts := []transport.Option{
			transport.WithLogger(logger),
			transport.WithMaxBodySize(int(b.cfg.Transport.MaxBodySize)),
			transport.WithConnectTimeout(b.cfg.Transport.ConnectTimeout.Duration),
		}
		if b.cfg.Transport.RateLimit > 0 {
			opts = append(opts, transport.WithRateLimit(b.cfg.Transport.RateLimit))
		}
		tp = transport.NewTCPTransport(opts...)
	}
	clock := b.clock
	if clock == nil {
		clock = hlc.NewUnixNanoHLCClock(defaultClockMaxOffset)
	}

	return &client{
		cfg:       b.cfg,
		logger:    logger,
		location:  b.location,
		transport: tp,
		catalog:   b.catalog,
		clock:     clock,
		stopper:   stop.NewStopper("quarry-client"),
	}, nil
}
