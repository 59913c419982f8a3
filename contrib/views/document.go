/*
Copyright 2022-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package views

// ViewDocument is the human editable form of a single view.
type ViewDocument struct {
	Coordinator Identity   `json:"coordinator" yaml:"coordinator"`
	Members     []Identity `json:"members" yaml:"members"`
}

// SnapshotDocument is the human editable form of a Snapshot, keyed by
// reporter.
type SnapshotDocument struct {
	Views map[Identity]*ViewDocument `json:"views" yaml:"views"`
}

func ToDocument(s *Snapshot) *SnapshotDocument {
	doc := &SnapshotDocument{
		Views: make(map[Identity]*ViewDocument, s.Len()),
	}
	s.ForEach(func(reporter Identity, view *View) {
		if view == nil {
			doc.Views[reporter] = nil
			return
		}
		doc.Views[reporter] = &ViewDocument{
			Coordinator: view.Coordinator(),
			Members:     view.Members(),
		}
	})
	return doc
}

// FromDocument converts a document into a Snapshot.  A reporter whose view
// is null in the document is kept with a nil view so Validate can report it.
func FromDocument(doc *SnapshotDocument) *Snapshot {
	s := NewSnapshot()
	for reporter, vd := range doc.Views {
		if vd == nil {
			s.Put(reporter, nil)
			continue
		}
		s.Put(reporter, NewView(vd.Coordinator, vd.Members...))
	}
	return s
}
