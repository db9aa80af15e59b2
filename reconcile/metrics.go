/*
Copyright 2026 Chainguard, Inc.
SPDX-License-Identifier: Apache-2.0
*/

package reconcile

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	responseOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "matrixbatch_responses_total",
			Help: "Total batch responses reconciled, by terminal outcome",
		},
		[]string{"outcome"},
	)

	salvagedCells = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "matrixbatch_salvaged_cells_total",
			Help: "Total cell evaluations recovered from truncated responses",
		},
	)
)
