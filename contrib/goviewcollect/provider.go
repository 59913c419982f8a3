/*
Copyright 2022-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

// Package goviewcollect collects the views reporters publish for a merge
// round, either in process or through etcd.
package goviewcollect

import (
	"context"
	"errors"

	"github.com/couchbase/viewmerger/contrib/views"
)

var ErrAlreadyWithdrawn = errors.New("view already withdrawn")

// Collection is the set of views readable at Revision.  Every Collection
// owns its Views, later changes never show through.
type Collection struct {
	Revision []uint64
	Views    *views.Snapshot
}

type Publication interface {
	Update(ctx context.Context, view *views.View) error
	Withdraw(ctx context.Context) error
}

/*
Providers only accept a view from a reporter it lists, and leave out of every
Collection any view they cannot read back, so the reporter looks like it did
not respond.

Note that Publish/Withdraw for a single reporter must not be called
concurrently.  It is however safe to call them alongside Watch/Get calls.
*/
type Provider interface {
	Publish(ctx context.Context, reporter views.Identity, view *views.View) (Publication, error)

	Watch(ctx context.Context) (<-chan *Collection, error)
	Get(ctx context.Context) (*Collection, error)
}
