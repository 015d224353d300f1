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

package typeutil

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestByteSizeJSON(t *testing.T) {
	b := ByteSize(265421587)
	o, err := json.Marshal(b)
	assert.NoError(t, err)

	var nb ByteSize
	assert.NoError(t, json.Unmarshal(o, &nb))

	var text ByteSize
	assert.NoError(t, text.UnmarshalText([]byte("1GiB")))
	assert.Equal(t, ByteSize(1<<30), text)
}

func TestDurationJSON(t *testing.T) {
	d := NewDuration(time.Second * 3)
	o, err := json.Marshal(d)
	assert.NoError(t, err)

	var nd Duration
	assert.NoError(t, json.Unmarshal(o, &nd))
	assert.Equal(t, time.Second*3, nd.Duration)

	var text Duration
	assert.NoError(t, text.UnmarshalText([]byte("250ms")))
	assert.Equal(t, 250*time.Millisecond, text.Duration)
}
