/*
Copyright 2022-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package goviewcollect

import (
	"context"
	"errors"
	"time"

	"github.com/couchbase/viewmerger/contrib/etcdviewlist"
	"github.com/couchbase/viewmerger/contrib/views"
	clientv3 "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

type EtcdProviderOptions struct {
	EtcdClient  *clientv3.Client
	KeyPrefix   string
	LeasePeriod time.Duration
	Logger      *zap.Logger
}

type EtcdProvider struct {
	vl          *etcdviewlist.ViewList
	leasePeriod time.Duration
}

var _ Provider = (*EtcdProvider)(nil)

func NewEtcdProvider(opts EtcdProviderOptions) (*EtcdProvider, error) {
	vl, err := etcdviewlist.NewViewList(etcdviewlist.ViewListOptions{
		EtcdClient: opts.EtcdClient,
		KeyPrefix:  opts.KeyPrefix,
		Logger:     opts.Logger,
	})
	if err != nil {
		return nil, err
	}

	return &EtcdProvider{
		vl:          vl,
		leasePeriod: opts.LeasePeriod,
	}, nil
}

func (p *EtcdProvider) Publish(ctx context.Context, reporter views.Identity, view *views.View) (Publication, error) {
	pub, err := p.vl.Publish(ctx, &etcdviewlist.PublishOptions{
		Reporter:    reporter,
		View:        view,
		LeasePeriod: p.leasePeriod,
	})
	if err != nil {
		return nil, err
	}

	return &etcdPublication{pub}, nil
}

type etcdPublication struct {
	pub *etcdviewlist.Publication
}

func (m *etcdPublication) Update(ctx context.Context, view *views.View) error {
	err := m.pub.Update(ctx, view)
	if errors.Is(err, etcdviewlist.ErrWithdrawn) {
		return ErrAlreadyWithdrawn
	}
	return err
}

func (m *etcdPublication) Withdraw(ctx context.Context) error {
	err := m.pub.Withdraw(ctx)
	if errors.Is(err, etcdviewlist.ErrWithdrawn) {
		return ErrAlreadyWithdrawn
	}
	return err
}

func toCollection(reports *etcdviewlist.Reports) *Collection {
	return &Collection{
		Revision: []uint64{uint64(reports.Revision)},
		Views:    reports.Views,
	}
}

func (p *EtcdProvider) Watch(ctx context.Context) (<-chan *Collection, error) {
	reportsCh, err := p.vl.WatchViews(ctx)
	if err != nil {
		return nil, err
	}

	outputCh := make(chan *Collection, 1)
	go func() {
		defer close(outputCh)

		for reports := range reportsCh {
			select {
			case outputCh <- toCollection(reports):
			case <-ctx.Done():
				return
			}
		}
	}()

	return outputCh, nil
}

func (p *EtcdProvider) Get(ctx context.Context) (*Collection, error) {
	reports, err := p.vl.Views(ctx)
	if err != nil {
		return nil, err
	}

	return toCollection(reports), nil
}
