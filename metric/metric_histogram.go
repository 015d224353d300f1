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
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	flushDurationHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "quarry",
			Subsystem: "client",
			Name:      "flush_duration_seconds",
			Help:      "Bucketed histogram of batch flush duration.",
			Buckets:   prometheus.ExponentialBuckets(0.0005, 2.0, 20),
		})

	batchBytesHistogram = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: "quarry",
			Subsystem: "client",
			Name:      "flush_batch_bytes",
			Help:      "Bucketed histogram of flushed batch size.",
			Buckets:   []float64{256.0, 512.0, 1024.0, 4096.0, 65536.0, 262144.0, 524288.0, 1048576.0, 2097152.0, 4194304.0, 8388608.0},
		})
)

// ObserveFlushDuration observe the duration of a batch flush
func ObserveFlushDuration(start time.Time) {
	flushDurationHistogram.Observe(time.Since(start).Seconds())
}

// ObserveFlushBatchBytes observe the size of a flushed batch
func ObserveFlushBatchBytes(value uint64) {
	batchBytesHistogram.Observe(float64(value))
}
