/*
Copyright 2022-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package views

import (
	"github.com/pkg/errors"
	"golang.org/x/exp/slices"
)

// Snapshot maps each reporter that responded during a merge round to the
// view it reported.  A Snapshot is owned by a single merge round and is not
// safe for concurrent mutation.
type Snapshot struct {
	views map[Identity]*View
}

func NewSnapshot() *Snapshot {
	return &Snapshot{
		views: make(map[Identity]*View),
	}
}

// Put records the view reported by reporter, replacing any earlier one.
func (s *Snapshot) Put(reporter Identity, view *View) {
	s.views[reporter] = view
}

// Get returns the view reported by id, or false if id did not report.
func (s *Snapshot) Get(id Identity) (*View, bool) {
	v, ok := s.views[id]
	return v, ok
}

// ForEach calls fn for every reporter in no particular order.
func (s *Snapshot) ForEach(fn func(reporter Identity, view *View)) {
	if s == nil {
		return
	}
	for reporter, view := range s.views {
		fn(reporter, view)
	}
}

func (s *Snapshot) Len() int {
	if s == nil {
		return 0
	}
	return len(s.views)
}

// Reporters returns the reporter identities in sorted order.
func (s *Snapshot) Reporters() []Identity {
	out := make([]Identity, 0, len(s.views))
	for reporter := range s.views {
		out = append(out, reporter)
	}
	slices.Sort(out)
	return out
}

// Delete forgets reporter's view.
func (s *Snapshot) Delete(reporter Identity) {
	delete(s.views, reporter)
}

// Clone returns a shallow copy.  Views are immutable so they are shared.
func (s *Snapshot) Clone() *Snapshot {
	out := &Snapshot{
		views: make(map[Identity]*View, len(s.views)),
	}
	for reporter, view := range s.views {
		out.views[reporter] = view
	}
	return out
}

// CheckReport checks the guarantees the collection stage makes about the view
// a single reporter published: it is present, non-empty, duplicate-free, and
// lists the reporter itself.
func CheckReport(reporter Identity, view *View) error {
	if view == nil {
		return errors.Wrapf(ErrNilView, "reporter %s", reporter)
	}
	if view.Size() == 0 {
		return errors.Wrapf(ErrEmptyView, "reporter %s", reporter)
	}
	if view.hasDuplicates() {
		return errors.Wrapf(ErrDuplicateMember, "reporter %s", reporter)
	}
	if !view.Contains(reporter) {
		return errors.Wrapf(ErrMissingSelf, "reporter %s", reporter)
	}
	return nil
}

// Validate runs CheckReport over every reporter in sorted order.
func (s *Snapshot) Validate() error {
	if s == nil {
		return ErrNilSnapshot
	}

	for _, reporter := range s.Reporters() {
		err := CheckReport(reporter, s.views[reporter])
		if err != nil {
			return err
		}
	}
	return nil
}

func (s *Snapshot) String() string {
	var out string
	for _, reporter := range s.Reporters() {
		view := s.views[reporter]
		if view == nil {
			out += string(reporter) + ": <nil>\n"
			continue
		}
		out += string(reporter) + ": " + view.String() + "\n"
	}
	return out
}
