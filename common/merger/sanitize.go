/*
Copyright 2022-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

// Package merger reconciles the views reported by subgroup coordinators when
// a partition heals, before a single merged view is computed from them.
package merger

import (
	"github.com/couchbase/viewmerger/contrib/views"
)

// DroppedClaim records that Owner listed Member but Member's own report did
// not list Owner back.
type DroppedClaim struct {
	Owner  views.Identity
	Member views.Identity
}

type Result struct {
	Views   *views.Snapshot
	Dropped []DroppedClaim

	// OrphanedCoordinators lists the reporters whose sanitized view no longer
	// contains its own coordinator.  Picking a new coordinator for these is
	// left to whoever computes the merged view.
	OrphanedCoordinators []views.Identity
}

// SanitizeViews removes every membership claim that is contradicted by the
// claimed member's own report.  The input is left untouched and a new
// snapshot with the same reporters and coordinators is returned.
func SanitizeViews(snap *views.Snapshot) (*views.Snapshot, error) {
	res, err := sanitize(snap)
	if err != nil {
		return nil, err
	}
	return res.Views, nil
}

func sanitize(snap *views.Snapshot) (*Result, error) {
	err := snap.Validate()
	if err != nil {
		return nil, err
	}

	out := views.NewSnapshot()
	res := &Result{
		Views: out,
	}

	// Every corroboration check reads snap, never out, so the outcome does not
	// depend on the order owners are visited in.  We walk them sorted only so
	// that Dropped is stable.
	for _, owner := range snap.Reporters() {
		view, _ := snap.Get(owner)

		members := view.Members()
		retained := make([]views.Identity, 0, len(members))
		for _, member := range members {
			if !isCorroborated(snap, owner, member) {
				res.Dropped = append(res.Dropped, DroppedClaim{
					Owner:  owner,
					Member: member,
				})
				continue
			}

			retained = append(retained, member)
		}

		sanitized := views.NewView(view.Coordinator(), retained...)
		out.Put(owner, sanitized)

		if !sanitized.HasCoordinator() {
			res.OrphanedCoordinators = append(res.OrphanedCoordinators, owner)
		}
	}

	return res, nil
}
