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

package metric

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	bufferedGauge = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "quarry",
			Subsystem: "client",
			Name:      "session_buffered_bytes",
			Help:      "Bytes of buffered plus in-flight operations per session.",
		}, []string{"session"})

	sessionGauge = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "quarry",
			Subsystem: "client",
			Name:      "session_total",
			Help:      "Total number of open sessions.",
		})
)

// SetSessionBufferedBytes set the bytes held by a session buffer
func SetSessionBufferedBytes(session string, value uint64) {
	bufferedGauge.WithLabelValues(session).Set(float64(value))
}

// IncSessionCount inc the count of open sessions
func IncSessionCount() {
	sessionGauge.Inc()
}

// DecSessionCount dec the count of open sessions
func DecSessionCount() {
	sessionGauge.Dec()
}
