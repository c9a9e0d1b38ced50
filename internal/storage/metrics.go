// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package storage

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	storeOperations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cook_storage_operations_total",
			Help: "Total storage operations by store and kind",
		},
		[]string{"store", "operation"},
	)

	storeConflicts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cook_storage_conflicts_total",
			Help: "Total compare-and-swap or lock conflicts by store",
		},
		[]string{"store"},
	)

	storeBytes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cook_storage_bytes_written_total",
			Help: "Total bytes written by store",
		},
		[]string{"store"},
	)
)

func recordOperation(store, operation string) {
	storeOperations.WithLabelValues(store, operation).Inc()
}

func recordConflict(store string) {
	storeConflicts.WithLabelValues(store).Inc()
}

func recordBytes(store string, n int) {
	storeBytes.WithLabelValues(store).Add(float64(n))
}
