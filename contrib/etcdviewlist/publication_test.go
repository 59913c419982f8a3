package etcdviewlist

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/couchbase/viewmerger/contrib/views"
	"github.com/stretchr/testify/require"
	etcd "go.etcd.io/etcd/client/v3"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

const testLeaseID = etcd.LeaseID(42)

type fakeLease struct {
	etcd.Lease

	lock    sync.Mutex
	revoked []etcd.LeaseID
	kaCh    chan *etcd.LeaseKeepAliveResponse
}

func (l *fakeLease) Grant(ctx context.Context, ttl int64) (*etcd.LeaseGrantResponse, error) {
	return &etcd.LeaseGrantResponse{ID: testLeaseID, TTL: ttl}, nil
}

func (l *fakeLease) KeepAlive(ctx context.Context, id etcd.LeaseID) (<-chan *etcd.LeaseKeepAliveResponse, error) {
	l.kaCh = make(chan *etcd.LeaseKeepAliveResponse)
	kaCh := l.kaCh
	go func() {
		<-ctx.Done()
		close(kaCh)
	}()
	return kaCh, nil
}

func (l *fakeLease) Revoke(ctx context.Context, id etcd.LeaseID) (*etcd.LeaseRevokeResponse, error) {
	l.lock.Lock()
	defer l.lock.Unlock()
	l.revoked = append(l.revoked, id)
	return &etcd.LeaseRevokeResponse{}, nil
}

func (l *fakeLease) revokedLeases() []etcd.LeaseID {
	l.lock.Lock()
	defer l.lock.Unlock()
	return append([]etcd.LeaseID(nil), l.revoked...)
}

type fakeKV struct {
	etcd.KV

	putErr error
	puts   int
}

func (kv *fakeKV) Put(ctx context.Context, key, val string, opts ...etcd.OpOption) (*etcd.PutResponse, error) {
	kv.puts++
	if kv.putErr != nil {
		return nil, kv.putErr
	}
	return &etcd.PutResponse{}, nil
}

func (kv *fakeKV) Delete(ctx context.Context, key string, opts ...etcd.OpOption) (*etcd.DeleteResponse, error) {
	return &etcd.DeleteResponse{}, nil
}

func newFakeViewList(kv *fakeKV, lease *fakeLease, logger *zap.Logger) *ViewList {
	return &ViewList{
		kv:        kv,
		lease:     lease,
		keyPrefix: "test",
		logger:    logger,
	}
}

func waitKeepAliveDone(t *testing.T, pub *Publication) {
	select {
	case <-pub.keepAliveDone:
	case <-time.After(time.Second):
		t.Fatalf("keep-alive did not stop")
	}
}

func TestPublishFailureRevokesLease(t *testing.T) {
	errPut := errors.New("put rejected")
	kv := &fakeKV{putErr: errPut}
	lease := &fakeLease{}
	vl := newFakeViewList(kv, lease, zap.NewNop())

	pub, err := vl.Publish(context.Background(), &PublishOptions{
		Reporter: "A",
		View:     views.NewView("A", "A"),
	})
	require.ErrorIs(t, err, errPut)
	require.Nil(t, pub)
	require.Equal(t, []etcd.LeaseID{testLeaseID}, lease.revokedLeases())

	select {
	case _, ok := <-lease.kaCh:
		require.False(t, ok)
	case <-time.After(time.Second):
		t.Fatalf("keep-alive was left running after a failed publish")
	}
}

func TestWithdrawDoesNotWarnAboutKeepAlive(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	kv := &fakeKV{}
	lease := &fakeLease{}
	vl := newFakeViewList(kv, lease, zap.New(core))

	pub, err := vl.Publish(context.Background(), &PublishOptions{
		Reporter: "A",
		View:     views.NewView("A", "A"),
	})
	require.NoError(t, err)

	require.NoError(t, pub.Withdraw(context.Background()))
	waitKeepAliveDone(t, pub)

	require.Equal(t, 0, logs.FilterMessage("view lease keep-alive stopped").Len())
	require.Equal(t, []etcd.LeaseID{testLeaseID}, lease.revokedLeases())
	require.ErrorIs(t, pub.Update(context.Background(), views.NewView("A", "A")), ErrWithdrawn)
}

func TestLostKeepAliveWarns(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	kv := &fakeKV{}
	lease := &fakeLease{}
	vl := newFakeViewList(kv, lease, zap.New(core))

	pub, err := vl.Publish(context.Background(), &PublishOptions{
		Reporter: "A",
		View:     views.NewView("A", "A"),
	})
	require.NoError(t, err)

	// etcd ending the keep-alive on its own, as it does when the lease expires
	pub.stopKeepAlive()
	waitKeepAliveDone(t, pub)

	require.Equal(t, 1, logs.FilterMessage("view lease keep-alive stopped").Len())
}

func TestUpdateChecksReporter(t *testing.T) {
	kv := &fakeKV{}
	vl := newFakeViewList(kv, &fakeLease{}, zap.NewNop())

	pub, err := vl.Publish(context.Background(), &PublishOptions{
		Reporter: "A",
		View:     views.NewView("A", "A"),
	})
	require.NoError(t, err)

	require.ErrorIs(t, pub.Update(context.Background(), views.NewView("B", "B")), views.ErrMissingSelf)
	require.NoError(t, pub.Update(context.Background(), views.NewView("B", "B", "A")))
	require.Equal(t, 2, kv.puts)
}

func TestReportSetTracksUnreadable(t *testing.T) {
	rs := newReportSet(zap.NewNop())

	good, err := views.MarshalView(views.NewView("A", "A", "B"))
	require.NoError(t, err)
	selfless, err := views.MarshalView(views.NewView("A", "A"))
	require.NoError(t, err)

	rs.put("A", good)
	rs.put("B", []byte("garbage"))
	rs.put("C", selfless)

	reports := rs.reports(7)
	require.Equal(t, int64(7), reports.Revision)
	require.Equal(t, 1, reports.Views.Len())
	require.Equal(t, []views.Identity{"B", "C"}, reports.Unreadable)

	// a readable republish clears the earlier failure
	fixed, err := views.MarshalView(views.NewView("B", "B"))
	require.NoError(t, err)
	rs.put("B", fixed)
	rs.remove("C")
	rs.put("A", []byte("garbage"))

	later := rs.reports(8)
	require.Equal(t, []views.Identity{"A"}, later.Unreadable)
	_, ok := later.Views.Get("B")
	require.True(t, ok)
	require.Equal(t, 1, later.Views.Len())

	// earlier results are unaffected by later changes
	require.Equal(t, 1, reports.Views.Len())
	_, ok = reports.Views.Get("A")
	require.True(t, ok)
}
