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

package config

import (
	"time"

	"github.com/BurntSushi/toml"

	"github.com/quarrydb/quarry/util/typeutil"
)

var (
	defaultMutationBufferSpace = typeutil.ByteSize(1024 * 1024 * 7)
	defaultErrorBufferCapacity = 1000
	defaultFlushInterval       = time.Second
	defaultOperationTimeout    = time.Second * 30
	defaultScanBatchSize       = typeutil.ByteSize(1024 * 1024 * 4)
	defaultMaxBodySize         = typeutil.ByteSize(1024 * 1024 * 64)
	defaultConnectTimeout      = time.Second * 10
)

// Config client config
type Config struct {
	// Session session defaults, can be overridden per session
	Session SessionConfig `toml:"session"`
	// Scan scanner defaults, can be overridden per scanner
	Scan ScanConfig `toml:"scan"`
	// Transport tablet server connection config
	Transport TransportConfig `toml:"transport"`
}

// SessionConfig write session config
type SessionConfig struct {
	// MutationBufferSpace max bytes of buffered plus in-flight operations per session
	MutationBufferSpace typeutil.ByteSize `toml:"mutation-buffer-space"`
	// MutationBufferMaxOps max count of buffered plus in-flight operations per
	// session, 0 means no count limit
	MutationBufferMaxOps int `toml:"mutation-buffer-max-ops"`
	// ErrorBufferCapacity max per-operation errors retained per session
	ErrorBufferCapacity int `toml:"error-buffer-capacity"`
	// FlushInterval background flush interval in AUTO_FLUSH_BACKGROUND mode
	FlushInterval typeutil.Duration `toml:"flush-interval"`
	// OperationTimeout timeout of a single tablet write rpc
	OperationTimeout typeutil.Duration `toml:"operation-timeout"`
}

// ScanConfig scanner config
type ScanConfig struct {
	// BatchSize max bytes of rows returned per scan round trip
	BatchSize typeutil.ByteSize `toml:"batch-size"`
	// OperationTimeout timeout of a single tablet scan rpc
	OperationTimeout typeutil.Duration `toml:"operation-timeout"`
}

// TransportConfig tablet server connection config
type TransportConfig struct {
	// MaxBodySize max bytes of a single message body
	MaxBodySize typeutil.ByteSize `toml:"max-body-size"`
	// ConnectTimeout timeout of connecting to a tablet server
	ConnectTimeout typeutil.Duration `toml:"connect-timeout"`
	// RateLimit max outbound requests per second, 0 means unlimited
	RateLimit int64 `toml:"rate-limit"`
}

// Adjust fills in the default values of unset fields.
func (c *Config) Adjust() {
	c.Session.adjust()
	c.Scan.adjust()
	c.Transport.adjust()
}

func (c *SessionConfig) adjust() {
	if c.MutationBufferSpace == 0 {
		c.MutationBufferSpace = defaultMutationBufferSpace
	}

	if c.ErrorBufferCapacity == 0 {
		c.ErrorBufferCapacity = defaultErrorBufferCapacity
	}

	if c.FlushInterval.Duration == 0 {
		c.FlushInterval.Duration = defaultFlushInterval
	}

	if c.OperationTimeout.Duration == 0 {
		c.OperationTimeout.Duration = defaultOperationTimeout
	}
}

func (c *ScanConfig) adjust() {
	if c.BatchSize == 0 {
		c.BatchSize = defaultScanBatchSize
	}

	if c.OperationTimeout.Duration == 0 {
		c.OperationTimeout.Duration = defaultOperationTimeout
	}
}

func (c *TransportConfig) adjust() {
	if c.MaxBodySize == 0 {
		c.MaxBodySize = defaultMaxBodySize
	}

	if c.ConnectTimeout.Duration == 0 {
		c.ConnectTimeout.Duration = defaultConnectTimeout
	}
}

// LoadFromFile loads the config from a toml file and fills in defaults.
func LoadFromFile(file string) (Config, error) {
	var c Config
	if _, err := toml.DecodeFile(file, &c); err != nil {
		return Config{}, err
	}
	c.Adjust()
	return c, nil
}
