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
	"github.com/juju/ratelimit"
	"go.uber.org/zap"

	"github.com/quarrydb/quarry/components/log"
	"github.com/quarrydb/quarry/rpc"
	"github.com/quarrydb/quarry/util/task"
)

var (
	closeFlag = &struct{}{}

	errConnect = errors.New("not connected")
)

// remoteBackend owns the connection to a single tablet server address.
// Requests are enqueued and written by a dedicated write loop, responses
// are delivered by a read loop through the success callback.
type remoteBackend struct {
	sync.Mutex

	addr            string
	logger          *zap.Logger
	successCallback rpc.SuccessCallback
	failureCallback rpc.FailureCallback
	conn            goetty.IOSession
	reqs            *task.Queue
	limiter         *ratelimit.Bucket
	connectTimeout  time.Duration
}

func newRemoteBackend(logger *zap.Logger,
	successCallback rpc.SuccessCallback,
	failureCallback rpc.FailureCallback,
	addr string,
	conn goetty.IOSession,
	limiter *ratelimit.Bucket,
	connectTimeout time.Duration) *remoteBackend {
	bc := &remoteBackend{
		logger:          log.Adjust(logger).With(zap.String("remote", addr)),
		successCallback: successCallback,
		failureCallback: failureCallback,
		addr:            addr,
		conn:            conn,
		reqs:            task.New(32),
		limiter:         limiter,
		connectTimeout:  connectTimeout,
	}

	bc.writeLoop()
	return bc
}

func (bc *remoteBackend) dispatch(req rpc.Request) error {
	if !bc.checkConnect() {
		return errConnect
	}

	return bc.reqs.Put(req)
}

func (bc *remoteBackend) close() {
	bc.reqs.Put(closeFlag)
}

func (bc *remoteBackend) checkConnect() bool {
	if nil == bc {
		return false
	}

	if bc.conn.Connected() {
		return true
	}

	bc.Lock()
	defer bc.Unlock()

	if bc.conn.Connected() {
		return true
	}

	ok, err := bc.conn.Connect(bc.addr, bc.connectTimeout)
	if err != nil {
		bc.logger.Error("fail to connect to tablet server",
			zap.Error(err))
		return false
	}

	bc.readLoop()
	return ok
}

func (bc *remoteBackend) writeLoop() {
	go func() {
		defer func() {
			if err := recover(); err != nil {
				bc.logger.Error("backend write loop failed, restart later",
					zap.Any("err", err))
				bc.writeLoop()
			}
		}()

		batch := int64(16)
		bc.logger.Info("backend write loop started")

		items := make([]interface{}, batch)
		for {
			n, err := bc.reqs.Get(batch, items)
			if err != nil {
				bc.logger.Info("backend write loop stopped",
					zap.Error(err))
				return
			}

			for i := int64(0); i < n; i++ {
				if items[i] == closeFlag {
					bc.conn.Close()
					bc.logger.Info("backend write loop stopped")
					return
				}

				if bc.limiter != nil {
					bc.limiter.Wait(1)
				}

				req := items[i].(rpc.Request)
				if ce := bc.logger.Check(zap.DebugLevel, "send request"); ce != nil {
					ce.Write(log.HexField("id", req.ID))
				}
				bc.conn.Write(req)
			}

			err = bc.conn.Flush()
			if err != nil {
				for i := int64(0); i < n; i++ {
					if items[i] == closeFlag {
						continue
					}
					req := items[i].(rpc.Request)
					bc.failureCallback(req.ID, err)
				}
			}
		}
	}()
}

func (bc *remoteBackend) readLoop() {
	go func() {
		bc.logger.Info("backend read loop started")

		for {
			data, err := bc.conn.Read()
			if err != nil {
				bc.logger.Info("backend read loop stopped")
				bc.conn.Close()
				return
			}

			if rsp, ok := data.(rpc.Response); ok {
				if ce := bc.logger.Check(zap.DebugLevel, "receive response"); ce != nil {
					ce.Write(log.HexField("id", rsp.ID))
				}
				bc.successCallback(rsp)
			}
		}
	}()
}
