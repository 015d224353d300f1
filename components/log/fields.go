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

package log

import (
	"encoding/hex"

	"go.uber.org/zap"
)

// HexField returns a hex-encoded zap.StringField
func HexField(key string, data []byte) zap.Field {
	return zap.String(key, hex.EncodeToString(data))
}

// RequestIDField returns request id field
func RequestIDField(id []byte) zap.Field {
	return HexField("request-id", id)
}

// ReasonField returns zap.StringField
func ReasonField(why string) zap.Field {
	return zap.String("reason", why)
}

// TableField returns table name field
func TableField(name string) zap.Field {
	return zap.String("table", name)
}

// TabletIDField returns zap.Uint64Field
func TabletIDField(id uint64) zap.Field {
	return zap.Uint64("tablet-id", id)
}

// ReplicaField returns replica address field
func ReplicaField(addr string) zap.Field {
	return zap.String("replica", addr)
}

// OpCountField returns zap.IntField
func OpCountField(count int) zap.Field {
	return zap.Int("op-count", count)
}

// SnapshotField returns snapshot timestamp field
func SnapshotField(micros uint64) zap.Field {
	return zap.Uint64("snapshot-micros", micros)
}
