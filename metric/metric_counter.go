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
	operationCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quarry",
			Subsystem: "client",
			Name:      "operation_applied_total",
			Help:      "Total number of write operations applied to sessions.",
		}, []string{"type"})

	flushCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quarry",
			Subsystem: "client",
			Name:      "flush_total",
			Help:      "Total number of batch flushes.",
		}, []string{"mode"})

	operationErrorCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quarry",
			Subsystem: "client",
			Name:      "operation_error_total",
			Help:      "Total number of failed write operations.",
		}, []string{"type"})

	scanCounter = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "quarry",
			Subsystem: "client",
			Name:      "scan_batch_total",
			Help:      "Total number of scan batches fetched.",
		}, []string{"type"})
)

// IncOperationApplied inc the count of applied operations
func IncOperationApplied(op string) {
	operationCounter.WithLabelValues(op).Inc()
}

// IncFlushCount inc the count of batch flushes
func IncFlushCount(mode string) {
	flushCounter.WithLabelValues(mode).Inc()
}

// IncOperationError inc the count of failed operations
func IncOperationError(reason string) {
	operationErrorCounter.WithLabelValues(reason).Inc()
}

// IncScanBatchCount inc the count of fetched scan batches
func IncScanBatchCount(tp string) {
	scanCounter.WithLabelValues(tp).Inc()
}
