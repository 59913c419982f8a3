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
	"sync"

	"github.com/couchbase/viewmerger/contrib/views"
)

type InProcProviderOptions struct {
	DisableVersions bool
}

type inProcPublication struct {
	parent   *InProcProvider
	reporter views.Identity
}

// inProcWatcher is told that something changed, never what.  A watcher that
// falls behind therefore only ever sees the latest collection.
type inProcWatcher struct {
	notifyCh chan struct{}
}

func (w *inProcWatcher) notify() {
	select {
	case w.notifyCh <- struct{}{}:
	default:
	}
}

type InProcProvider struct {
	lock     sync.Mutex
	revision uint64
	current  *views.Snapshot
	owners   map[views.Identity]*inProcPublication
	watchers map[*inProcWatcher]struct{}
}

var _ Provider = (*InProcProvider)(nil)

func NewInProcProvider(opts InProcProviderOptions) (*InProcProvider, error) {
	var initialVersion uint64 = 1
	if opts.DisableVersions {
		initialVersion = 0
	}

	return &InProcProvider{
		revision: initialVersion,
		current:  views.NewSnapshot(),
		owners:   make(map[views.Identity]*inProcPublication),
		watchers: make(map[*inProcWatcher]struct{}),
	}, nil
}

func (p *InProcProvider) getCollectionLocked() *Collection {
	return &Collection{
		Revision: []uint64{p.revision},
		Views:    p.current.Clone(),
	}
}

// signalUpdatedLocked never blocks, publishers hold the lock while calling it.
func (p *InProcProvider) signalUpdatedLocked() {
	if p.revision > 0 {
		p.revision++
	}

	for w := range p.watchers {
		w.notify()
	}
}

// Publish records reporter's view.  Publishing again for a reporter replaces
// its previous view and retires the previous Publication, the same way a put
// on the same etcd key would.
func (p *InProcProvider) Publish(ctx context.Context, reporter views.Identity, view *views.View) (Publication, error) {
	err := views.CheckReport(reporter, view)
	if err != nil {
		return nil, err
	}

	pub := &inProcPublication{
		parent:   p,
		reporter: reporter,
	}

	p.lock.Lock()
	p.owners[reporter] = pub
	p.current.Put(reporter, view)
	p.signalUpdatedLocked()
	p.lock.Unlock()

	return pub, nil
}

func (pub *inProcPublication) Update(ctx context.Context, view *views.View) error {
	err := views.CheckReport(pub.reporter, view)
	if err != nil {
		return err
	}

	pub.parent.lock.Lock()
	defer pub.parent.lock.Unlock()

	if pub.parent.owners[pub.reporter] != pub {
		return ErrAlreadyWithdrawn
	}

	pub.parent.current.Put(pub.reporter, view)
	pub.parent.signalUpdatedLocked()

	return nil
}

func (pub *inProcPublication) Withdraw(ctx context.Context) error {
	pub.parent.lock.Lock()
	defer pub.parent.lock.Unlock()

	if pub.parent.owners[pub.reporter] != pub {
		return ErrAlreadyWithdrawn
	}

	delete(pub.parent.owners, pub.reporter)
	pub.parent.current.Delete(pub.reporter)
	pub.parent.signalUpdatedLocked()

	return nil
}

func (p *InProcProvider) Watch(ctx context.Context) (<-chan *Collection, error) {
	w := &inProcWatcher{
		notifyCh: make(chan struct{}, 1),
	}

	// the first pass around the loop below emits the current collection
	w.notify()

	p.lock.Lock()
	p.watchers[w] = struct{}{}
	p.lock.Unlock()

	outputCh := make(chan *Collection)
	go func() {
		defer func() {
			p.lock.Lock()
			delete(p.watchers, w)
			p.lock.Unlock()

			close(outputCh)
		}()

		for {
			select {
			case <-w.notifyCh:
			case <-ctx.Done():
				return
			}

			p.lock.Lock()
			coll := p.getCollectionLocked()
			p.lock.Unlock()

			select {
			case outputCh <- coll:
			case <-ctx.Done():
				return
			}
		}
	}()

	return outputCh, nil
}

func (p *InProcProvider) Get(ctx context.Context) (*Collection, error) {
	p.lock.Lock()
	coll := p.getCollectionLocked()
	p.lock.Unlock()

	return coll, nil
}
