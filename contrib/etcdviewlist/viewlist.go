// Package etcdviewlist stores the view each reporter currently holds under a
// common etcd prefix, so that a merge leader can collect all of them at once.
// Views travel in the compact form produced by views.MarshalView.
package etcdviewlist

import (
	"context"
	"errors"
	"time"

	"github.com/couchbase/viewmerger/contrib/views"
	"go.etcd.io/etcd/api/v3/mvccpb"
	etcd "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"golang.org/x/exp/slices"
)

const minLeasePeriod = 5 * time.Second

var ErrLeasePeriodTooShort = errors.New("lease period must be at least 5 seconds")

type ViewListOptions struct {
	EtcdClient *etcd.Client
	KeyPrefix  string
	Logger     *zap.Logger
}

type ViewList struct {
	kv        etcd.KV
	lease     etcd.Lease
	watcher   etcd.Watcher
	keyPrefix string
	logger    *zap.Logger
}

// Reports is every readable view published as of Revision.
type Reports struct {
	Revision int64
	Views    *views.Snapshot

	// Unreadable lists, sorted, the reporters whose payload could not be
	// decoded or did not hold up as a report.  They are left out of Views,
	// which makes them look like reporters that did not respond.
	Unreadable []views.Identity
}

func NewViewList(opts ViewListOptions) (*ViewList, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	vl := &ViewList{
		keyPrefix: opts.KeyPrefix,
		logger:    logger,
	}
	if opts.EtcdClient != nil {
		vl.kv = opts.EtcdClient.KV
		vl.lease = opts.EtcdClient.Lease
		vl.watcher = opts.EtcdClient.Watcher
	}

	return vl, nil
}

type PublishOptions struct {
	Reporter    views.Identity
	View        *views.View
	LeasePeriod time.Duration
}

// Publish makes a reporter's view visible to the merge leader.  The entry is
// bound to a lease, so it disappears if the reporter stops keeping it alive.
func (vl *ViewList) Publish(ctx context.Context, opts *PublishOptions) (*Publication, error) {
	if opts == nil {
		opts = &PublishOptions{}
	}

	leasePeriod := minLeasePeriod
	if opts.LeasePeriod != 0 {
		// etcdv3 has the same minimum
		if opts.LeasePeriod < minLeasePeriod {
			return nil, ErrLeasePeriodTooShort
		}

		leasePeriod = opts.LeasePeriod
	}

	data, err := encodeReport(opts.Reporter, opts.View)
	if err != nil {
		return nil, err
	}

	p := &Publication{
		kv:            vl.kv,
		lease:         vl.lease,
		logger:        vl.logger,
		key:           vl.prefix() + string(opts.Reporter),
		reporter:      opts.Reporter,
		leasePeriod:   leasePeriod,
		keepAliveDone: make(chan struct{}),
	}

	err = p.publish(ctx, data)
	if err != nil {
		return nil, err
	}

	return p, nil
}

func (vl *ViewList) prefix() string {
	return vl.keyPrefix + "/"
}

// reportSet accumulates decoded reports keyed by reporter.
type reportSet struct {
	logger     *zap.Logger
	views      *views.Snapshot
	unreadable map[views.Identity]struct{}
}

func newReportSet(logger *zap.Logger) *reportSet {
	return &reportSet{
		logger:     logger,
		views:      views.NewSnapshot(),
		unreadable: make(map[views.Identity]struct{}),
	}
}

func (rs *reportSet) put(reporter views.Identity, data []byte) {
	view, err := decodeReport(reporter, data)
	if err != nil {
		rs.logger.Warn("skipping unreadable view",
			zap.String("reporter", string(reporter)),
			zap.Error(err))

		rs.views.Delete(reporter)
		rs.unreadable[reporter] = struct{}{}
		return
	}

	delete(rs.unreadable, reporter)
	rs.views.Put(reporter, view)
}

func (rs *reportSet) remove(reporter views.Identity) {
	delete(rs.unreadable, reporter)
	rs.views.Delete(reporter)
}

func (rs *reportSet) reports(revision int64) *Reports {
	var unreadable []views.Identity
	for reporter := range rs.unreadable {
		unreadable = append(unreadable, reporter)
	}
	slices.Sort(unreadable)

	return &Reports{
		Revision:   revision,
		Views:      rs.views.Clone(),
		Unreadable: unreadable,
	}
}

func (vl *ViewList) reporterOf(key []byte) views.Identity {
	return views.Identity(key[len(vl.prefix()):])
}

func (vl *ViewList) Views(ctx context.Context) (*Reports, error) {
	resp, err := vl.kv.Get(ctx, vl.prefix(), etcd.WithPrefix())
	if err != nil {
		return nil, err
	}

	rs := newReportSet(vl.logger)
	for _, kv := range resp.Kvs {
		rs.put(vl.reporterOf(kv.Key), kv.Value)
	}

	return rs.reports(resp.Header.Revision), nil
}

// WatchViews emits the current set of published views, followed by a new
// set every time etcd reports a batch of changes.  Payloads are decoded once,
// when they change.  The channel closes once ctx is cancelled or the watch
// ends, for instance because the revision it resumed from was compacted.
func (vl *ViewList) WatchViews(ctx context.Context) (chan *Reports, error) {
	outputCh := make(chan *Reports, 1)

	emit := func(reports *Reports) bool {
		select {
		case outputCh <- reports:
			return true
		case <-ctx.Done():
			return false
		}
	}

	resp, err := vl.kv.Get(ctx, vl.prefix(), etcd.WithPrefix())
	if err != nil {
		return nil, err
	}

	rs := newReportSet(vl.logger)
	for _, kv := range resp.Kvs {
		rs.put(vl.reporterOf(kv.Key), kv.Value)
	}

	// the channel is buffered, so the initial set never blocks
	emit(rs.reports(resp.Header.Revision))

	// watch from the revision after the one we just read
	watchCh := vl.watcher.Watch(ctx, vl.prefix(),
		etcd.WithPrefix(), etcd.WithRev(resp.Header.Revision+1))
	go func() {
		defer close(outputCh)

		for watchResp := range watchCh {
			if err := watchResp.Err(); err != nil {
				vl.logger.Warn("view watch failed", zap.Error(err))
				return
			}

			for _, evt := range watchResp.Events {
				reporter := vl.reporterOf(evt.Kv.Key)
				switch evt.Type {
				case mvccpb.PUT:
					rs.put(reporter, evt.Kv.Value)
				case mvccpb.DELETE:
					rs.remove(reporter)
				default:
					vl.logger.Debug("ignoring unexpected watch event",
						zap.String("type", evt.Type.String()))
				}
			}

			if !emit(rs.reports(watchResp.Header.Revision)) {
				return
			}
		}
	}()

	return outputCh, nil
}

func encodeReport(reporter views.Identity, view *views.View) ([]byte, error) {
	err := views.CheckReport(reporter, view)
	if err != nil {
		return nil, err
	}

	return views.MarshalView(view)
}

func decodeReport(reporter views.Identity, data []byte) (*views.View, error) {
	view, err := views.UnmarshalView(data)
	if err != nil {
		return nil, err
	}

	err = views.CheckReport(reporter, view)
	if err != nil {
		return nil, err
	}

	return view, nil
}
