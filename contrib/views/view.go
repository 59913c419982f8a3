/*
Copyright 2022-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

// Package views holds the membership views reported by the coordinators of
// each subgroup during a merge round, and the snapshot they are collected in.
package views

import (
	"strings"

	"golang.org/x/exp/slices"
)

// Identity names a single participant in the group, usually its address.
type Identity string

// View is one reporter's belief about the current composition of the group.
// A View is immutable once constructed.
type View struct {
	coordinator Identity
	members     []Identity
	index       map[Identity]struct{}
}

// NewView builds a view with the given coordinator and members.  The member
// order is preserved since it encodes join order.
func NewView(coordinator Identity, members ...Identity) *View {
	v := &View{
		coordinator: coordinator,
		members:     slices.Clone(members),
		index:       make(map[Identity]struct{}, len(members)),
	}
	for _, m := range members {
		v.index[m] = struct{}{}
	}
	return v
}

func (v *View) Coordinator() Identity {
	return v.coordinator
}

// Members returns a copy of the member list in its original order.
func (v *View) Members() []Identity {
	return slices.Clone(v.members)
}

func (v *View) Size() int {
	return len(v.members)
}

// Contains reports whether id is listed as a member of the view.
func (v *View) Contains(id Identity) bool {
	_, ok := v.index[id]
	return ok
}

// HasCoordinator reports whether the coordinator is itself one of the
// members.  Sanitization can remove the coordinator from a view, in which
// case this returns false and the caller must decide who leads.
func (v *View) HasCoordinator() bool {
	return v.Contains(v.coordinator)
}

func (v *View) hasDuplicates() bool {
	return len(v.index) != len(v.members)
}

func (v *View) String() string {
	names := make([]string, len(v.members))
	for i, m := range v.members {
		names[i] = string(m)
	}
	return "[" + string(v.coordinator) + "|" + strings.Join(names, ", ") + "]"
}
