/*
Copyright 2023-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package metrics

import (
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

type MergeMetrics struct {
	Rounds               metric.Int64Counter
	FailedRounds         metric.Int64Counter
	DroppedClaims        metric.Int64Counter
	OrphanedCoordinators metric.Int64Counter
	RoundDuration        metric.Float64Histogram
}

var (
	mergeMetrics     *MergeMetrics
	mergeMetricsLock sync.Mutex
)

func GetMergeMetrics() *MergeMetrics {
	mergeMetricsLock.Lock()

	if mergeMetrics != nil {
		mergeMetricsLock.Unlock()
		return mergeMetrics
	}

	mergeMetrics = newMergeMetrics(otel.Meter("com.couchbase.viewmerger"))

	mergeMetricsLock.Unlock()
	return mergeMetrics
}

// NewMergeMetrics builds instruments against a specific meter rather than the
// global one.  Tests use this with an in-memory reader.
func NewMergeMetrics(meter metric.Meter) *MergeMetrics {
	return newMergeMetrics(meter)
}

func newMergeMetrics(meter metric.Meter) *MergeMetrics {
	rounds, _ := meter.Int64Counter("merge_rounds_total",
		metric.WithDescription("Merge rounds whose views were sanitized."))
	failedRounds, _ := meter.Int64Counter("merge_failed_rounds_total",
		metric.WithDescription("Merge rounds aborted before sanitization completed."))
	droppedClaims, _ := meter.Int64Counter("merge_dropped_claims_total",
		metric.WithDescription("Membership claims removed for lack of corroboration."))
	orphanedCoordinators, _ := meter.Int64Counter("merge_orphaned_coordinators_total",
		metric.WithDescription("Sanitized views whose coordinator is no longer a member."))
	roundDuration, _ := meter.Float64Histogram("merge_round_duration_seconds",
		metric.WithUnit("s"),
		metric.WithDescription("Time taken to collect and sanitize a merge round."))

	return &MergeMetrics{
		Rounds:               rounds,
		FailedRounds:         failedRounds,
		DroppedClaims:        droppedClaims,
		OrphanedCoordinators: orphanedCoordinators,
		RoundDuration:        roundDuration,
	}
}
