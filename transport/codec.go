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
	"github.com/fagongzi/goetty/buf"

	"github.com/quarrydb/quarry/rpc"
)

// clientCodec encodes outbound requests and decodes inbound responses. The
// outer length framing is handled by the goetty length codec.
type clientCodec struct {
}

func (c *clientCodec) Decode(in *buf.ByteBuf) (bool, interface{}, error) {
	data := in.GetMarkedRemindData()
	resp, err := rpc.UnmarshalResponse(data)
	in.MarkedBytesReaded()
	if err != nil {
		return true, nil, err
	}
	return true, resp, nil
}

func (c *clientCodec) Encode(data interface{}, out *buf.ByteBuf) error {
	req := data.(rpc.Request)
	_, err := out.Write(rpc.MarshalRequest(req))
	return err
}

// serverCodec is the mirror of clientCodec, used by in-process tablet
// servers and tests.
type serverCodec struct {
}

func (c *serverCodec) Decode(in *buf.ByteBuf) (bool, interface{}, error) {
	data := in.GetMarkedRemindData()
	req, err := rpc.UnmarshalRequest(data)
	in.MarkedBytesReaded()
	if err != nil {
		return true, nil, err
	}
	return true, req, nil
}

func (c *serverCodec) Encode(data interface{}, out *buf.ByteBuf) error {
	resp := data.(rpc.Response)
	_, err := out.Write(rpc.MarshalResponse(resp))
	return err
}
