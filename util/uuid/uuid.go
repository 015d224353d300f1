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

package uuid

import (
	"github.com/google/uuid"
)

// New returns the bytes of a new random (v4) uuid
func New() []byte {
	id := uuid.New()
	return id[:]
}

// String returns a new random (v4) uuid in string form
func String() string {
	return uuid.NewString()
}
