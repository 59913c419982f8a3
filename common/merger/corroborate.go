/*
Copyright 2022-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package merger

import "github.com/couchbase/viewmerger/contrib/views"

// isCorroborated decides whether owner may keep member in its view.  An owner
// always keeps itself, and a member that did not report this round is kept
// since nothing contradicts the claim.
func isCorroborated(snap *views.Snapshot, owner, member views.Identity) bool {
	if member == owner {
		return true
	}

	memberView, ok := snap.Get(member)
	if !ok {
		return true
	}

	return memberView.Contains(owner)
}

// IsConsistent reports whether every claim in snap is already corroborated,
// in which case sanitizing it changes nothing.
func IsConsistent(snap *views.Snapshot) bool {
	consistent := true
	snap.ForEach(func(owner views.Identity, view *views.View) {
		if !consistent || view == nil {
			return
		}

		for _, member := range view.Members() {
			if !isCorroborated(snap, owner, member) {
				consistent = false
				return
			}
		}
	})
	return consistent
}
