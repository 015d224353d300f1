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
	"go.uber.org/zap"
)

var (
	l = GetDefaultZapLogger()
)

// UseLogger set quarry global logger
func UseLogger(logger *zap.Logger) {
	l = logger
}

// Logger returns the quarry global logger
func Logger() *zap.Logger {
	return l
}
