package etcdviewlist

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/couchbase/viewmerger/contrib/views"
	pkgerrors "github.com/pkg/errors"
	etcd "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
)

const revokeTimeout = 5 * time.Second

var ErrWithdrawn = errors.New("view has been withdrawn")

// Publication is a single reporter's published view.
type Publication struct {
	kv          etcd.KV
	lease       etcd.Lease
	logger      *zap.Logger
	key         string
	reporter    views.Identity
	leasePeriod time.Duration

	leaseID       etcd.LeaseID
	stopKeepAlive context.CancelFunc
	keepAliveDone chan struct{}
	withdrawn     atomic.Bool
}

func (p *Publication) Reporter() views.Identity {
	return p.reporter
}

func (p *Publication) publish(ctx context.Context, data []byte) error {
	leaseTimeoutInSecs := int64(p.leasePeriod / time.Second)

	lease, err := p.lease.Grant(ctx, leaseTimeoutInSecs)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to grant view lease")
	}
	p.leaseID = lease.ID

	// the keep-alive outlives ctx, it only ends with the publication
	keepAliveCtx, stopKeepAlive := context.WithCancel(context.Background())
	leaseKaCh, err := p.lease.KeepAlive(keepAliveCtx, lease.ID)
	if err != nil {
		stopKeepAlive()
		p.revokeLease()
		return pkgerrors.Wrap(err, "failed to keep view lease alive")
	}
	p.stopKeepAlive = stopKeepAlive

	go func() {
		defer close(p.keepAliveDone)

		for range leaseKaCh {
		}

		if !p.withdrawn.Load() {
			p.logger.Warn("view lease keep-alive stopped",
				zap.String("reporter", string(p.reporter)),
				zap.Int64("leaseId", int64(lease.ID)))
		}
	}()

	_, err = p.kv.Put(ctx, p.key, string(data), etcd.WithLease(lease.ID))
	if err != nil {
		p.withdrawn.Store(true)
		p.stopKeepAlive()
		p.revokeLease()
		return pkgerrors.Wrap(err, "failed to publish view")
	}

	return nil
}

// revokeLease releases the lease even when the caller's context is already
// done.
func (p *Publication) revokeLease() {
	ctx, cancel := context.WithTimeout(context.Background(), revokeTimeout)
	defer cancel()

	_, err := p.lease.Revoke(ctx, p.leaseID)
	if err != nil {
		p.logger.Warn("failed to revoke view lease",
			zap.String("reporter", string(p.reporter)),
			zap.Int64("leaseId", int64(p.leaseID)),
			zap.Error(err))
	}
}

// Update replaces the published view, typically after the reporter installs
// a new view.
func (p *Publication) Update(ctx context.Context, view *views.View) error {
	if p.withdrawn.Load() {
		return ErrWithdrawn
	}

	data, err := encodeReport(p.reporter, view)
	if err != nil {
		return err
	}

	_, err = p.kv.Put(ctx, p.key, string(data), etcd.WithLease(p.leaseID))
	if err != nil {
		return pkgerrors.Wrap(err, "failed to update view")
	}

	return nil
}

// Withdraw removes the published view and releases its lease.
func (p *Publication) Withdraw(ctx context.Context) error {
	if !p.withdrawn.CompareAndSwap(false, true) {
		return ErrWithdrawn
	}

	p.stopKeepAlive()

	_, err := p.kv.Delete(ctx, p.key)
	if err != nil {
		p.revokeLease()
		return pkgerrors.Wrap(err, "failed to delete view")
	}

	_, err = p.lease.Revoke(ctx, p.leaseID)
	if err != nil {
		return pkgerrors.Wrap(err, "failed to revoke view lease")
	}

	return nil
}
