/*
Copyright 2022-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

// Package mergeround drives merge rounds: it collects the views published by
// every reporter, sanitizes them, and keeps the outcome for whoever computes
// the merged view.
package mergeround

import (
	"context"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/couchbase/viewmerger/common/merger"
	"github.com/couchbase/viewmerger/contrib/goviewcollect"
	"github.com/couchbase/viewmerger/contrib/views"
	"github.com/couchbase/viewmerger/pkg/metrics"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const defaultMaxElapsed = 30 * time.Second

var errWatchEnded = errors.New("view watch ended")

type Round struct {
	ID        uuid.UUID
	Revision  []uint64
	Input     *views.Snapshot
	Result    *merger.Result
	StartedAt time.Time
	Duration  time.Duration
}

type DriverOptions struct {
	Provider goviewcollect.Provider
	Logger   *zap.Logger
	Metrics  *metrics.MergeMetrics

	// MaxElapsed bounds how long collection, or re-establishing a watch that
	// ended, keeps retrying before giving up.
	MaxElapsed    time.Duration
	RetryInterval time.Duration
}

type Driver struct {
	provider      goviewcollect.Provider
	logger        *zap.Logger
	metrics       *metrics.MergeMetrics
	maxElapsed    time.Duration
	retryInterval time.Duration

	lock   sync.Mutex
	latest *Round
}

func NewDriver(opts DriverOptions) *Driver {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	maxElapsed := opts.MaxElapsed
	if maxElapsed <= 0 {
		maxElapsed = defaultMaxElapsed
	}

	return &Driver{
		provider:      opts.Provider,
		logger:        logger,
		metrics:       opts.Metrics,
		maxElapsed:    maxElapsed,
		retryInterval: opts.RetryInterval,
	}
}

func (d *Driver) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = d.maxElapsed
	if d.retryInterval > 0 {
		b.InitialInterval = d.retryInterval
	}
	return b
}

func (d *Driver) collect(ctx context.Context) (*goviewcollect.Collection, error) {
	var collected *goviewcollect.Collection
	err := backoff.RetryNotify(func() error {
		c, err := d.provider.Get(ctx)
		if err != nil {
			return err
		}

		collected = c
		return nil
	}, backoff.WithContext(d.newBackOff(), ctx), func(err error, delay time.Duration) {
		d.logger.Warn("failed to collect views, retrying",
			zap.Error(err),
			zap.Duration("delay", delay))
	})
	if err != nil {
		return nil, err
	}

	return collected, nil
}

// RunRound collects the currently published views and sanitizes them.  A
// snapshot that violates the collection guarantees aborts the round.
func (d *Driver) RunRound(ctx context.Context) (*Round, error) {
	startedAt := time.Now()

	collected, err := d.collect(ctx)
	if err != nil {
		d.recordFailure(ctx)
		return nil, errors.Wrap(err, "failed to collect views")
	}

	return d.sanitizeRound(ctx, startedAt, collected)
}

func (d *Driver) sanitizeRound(ctx context.Context, startedAt time.Time, collected *goviewcollect.Collection) (*Round, error) {
	roundID := uuid.New()
	logger := d.logger.With(zap.String("roundId", roundID.String()))

	sanitizer := &merger.Sanitizer{
		Logger:  logger.Named("sanitizer"),
		Metrics: d.metrics,
	}

	res, err := sanitizer.Sanitize(ctx, collected.Views)
	if err != nil {
		d.recordFailure(ctx)
		return nil, errors.Wrap(err, "merge round aborted")
	}

	round := &Round{
		ID:        roundID,
		Revision:  collected.Revision,
		Input:     collected.Views,
		Result:    res,
		StartedAt: startedAt,
		Duration:  time.Since(startedAt),
	}

	if d.metrics != nil {
		d.metrics.Rounds.Add(ctx, 1)
		d.metrics.RoundDuration.Record(ctx, round.Duration.Seconds())
	}

	d.lock.Lock()
	d.latest = round
	d.lock.Unlock()

	logger.Info("merge round complete",
		zap.Uint64s("revision", round.Revision),
		zap.Int("reporters", collected.Views.Len()),
		zap.Duration("duration", round.Duration))

	return round, nil
}

func (d *Driver) recordFailure(ctx context.Context) {
	if d.metrics != nil {
		d.metrics.FailedRounds.Add(ctx, 1)
	}
}

// Run runs a merge round for every collection the provider reports until ctx
// is cancelled, handing each completed round to onRound.  Rounds that fail are
// logged and skipped.  A watch that ends while ctx is live is re-established,
// retrying for up to MaxElapsed since the last collection it delivered; once
// that gives up Run returns the last error.  Run returns nil when ctx is
// cancelled.
func (d *Driver) Run(ctx context.Context, onRound func(*Round)) error {
	b := d.newBackOff()

	watchOnce := func() error {
		collectedCh, err := d.provider.Watch(ctx)
		if err != nil {
			return errors.Wrap(err, "failed to watch published views")
		}

		for collected := range collectedCh {
			b.Reset()

			round, err := d.sanitizeRound(ctx, time.Now(), collected)
			if err != nil {
				d.logger.Warn("skipping merge round", zap.Error(err))
				continue
			}

			if onRound != nil {
				onRound(round)
			}
		}

		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		return errWatchEnded
	}

	err := backoff.RetryNotify(watchOnce, backoff.WithContext(b, ctx), func(err error, delay time.Duration) {
		d.logger.Warn("view watch interrupted, re-establishing",
			zap.Error(err),
			zap.Duration("delay", delay))
	})
	if ctx.Err() != nil {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "gave up watching published views")
	}
	return nil
}

// Latest returns the most recently completed round, or nil.
func (d *Driver) Latest() *Round {
	d.lock.Lock()
	defer d.lock.Unlock()
	return d.latest
}
