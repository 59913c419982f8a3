/*
Copyright 2022-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package merger

import (
	"context"

	"github.com/couchbase/viewmerger/contrib/views"
	"github.com/couchbase/viewmerger/pkg/metrics"
	"go.uber.org/zap"
)

type Sanitizer struct {
	Logger  *zap.Logger
	Metrics *metrics.MergeMetrics
}

// Sanitize behaves like SanitizeViews but also reports what was removed.
// The context is only used for recording metrics.
func (s *Sanitizer) Sanitize(ctx context.Context, snap *views.Snapshot) (*Result, error) {
	logger := s.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	res, err := sanitize(snap)
	if err != nil {
		logger.Error("refusing to sanitize inconsistent snapshot", zap.Error(err))
		return nil, err
	}

	for _, claim := range res.Dropped {
		logger.Debug("dropped uncorroborated membership claim",
			zap.String("owner", string(claim.Owner)),
			zap.String("member", string(claim.Member)))
	}

	for _, owner := range res.OrphanedCoordinators {
		view, _ := res.Views.Get(owner)
		logger.Warn("sanitized view no longer contains its coordinator",
			zap.String("owner", string(owner)),
			zap.String("coordinator", string(view.Coordinator())),
			zap.Stringer("view", view))
	}

	logger.Info("sanitized views",
		zap.Int("reporters", snap.Len()),
		zap.Int("droppedClaims", len(res.Dropped)),
		zap.Int("orphanedCoordinators", len(res.OrphanedCoordinators)))

	if s.Metrics != nil {
		s.Metrics.DroppedClaims.Add(ctx, int64(len(res.Dropped)))
		s.Metrics.OrphanedCoordinators.Add(ctx, int64(len(res.OrphanedCoordinators)))
	}

	return res, nil
}
