// Package snapshotdoc reads and writes snapshots of reported views in the
// document form used by the CLI and the web API.
package snapshotdoc

import (
	"encoding/json"
	"errors"
	"io"

	"github.com/couchbase/viewmerger/common/merger"
	"github.com/couchbase/viewmerger/contrib/views"
	pkgerrors "github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

var ErrEmptyDocument = errors.New("snapshot document is empty")

type DroppedClaimDocument struct {
	Owner  views.Identity `json:"owner"`
	Member views.Identity `json:"member"`
}

type ResultDocument struct {
	Views                *views.SnapshotDocument `json:"views"`
	Dropped              []DroppedClaimDocument  `json:"dropped"`
	OrphanedCoordinators []views.Identity        `json:"orphanedCoordinators"`
}

// Read decodes a YAML or JSON snapshot document.
func Read(r io.Reader) (*views.Snapshot, error) {
	var doc views.SnapshotDocument
	err := yaml.NewDecoder(r).Decode(&doc)
	if errors.Is(err, io.EOF) {
		return nil, ErrEmptyDocument
	}
	if err != nil {
		return nil, pkgerrors.Wrap(err, "failed to parse snapshot document")
	}

	return views.FromDocument(&doc), nil
}

func Write(w io.Writer, snap *views.Snapshot) error {
	return writeJSON(w, views.ToDocument(snap))
}

func NewResultDocument(res *merger.Result) *ResultDocument {
	doc := &ResultDocument{
		Views:                views.ToDocument(res.Views),
		Dropped:              make([]DroppedClaimDocument, 0, len(res.Dropped)),
		OrphanedCoordinators: res.OrphanedCoordinators,
	}
	for _, claim := range res.Dropped {
		doc.Dropped = append(doc.Dropped, DroppedClaimDocument{
			Owner:  claim.Owner,
			Member: claim.Member,
		})
	}
	if doc.OrphanedCoordinators == nil {
		doc.OrphanedCoordinators = []views.Identity{}
	}
	return doc
}

func WriteResult(w io.Writer, res *merger.Result) error {
	return writeJSON(w, NewResultDocument(res))
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
