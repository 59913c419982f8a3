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
	"encoding/json"

	"github.com/golang/snappy"
	"github.com/pkg/errors"
)

// The JSON representation of this data is intentionally terse as it is what
// every reporter publishes for each merge round.
type wireView struct {
	Coordinator Identity   `json:"c"`
	Members     []Identity `json:"m"`
}

// MarshalView encodes a view into its snappy compressed wire form.
func MarshalView(v *View) ([]byte, error) {
	data, err := json.Marshal(wireView{
		Coordinator: v.coordinator,
		Members:     v.members,
	})
	if err != nil {
		return nil, err
	}

	out := make([]byte, snappy.MaxEncodedLen(len(data)))
	out = snappy.Encode(out, data)
	return out, nil
}

// UnmarshalView decodes a view previously encoded with MarshalView.
func UnmarshalView(data []byte) (*View, error) {
	decLen, err := snappy.DecodedLen(data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read view length")
	}

	raw := make([]byte, decLen)
	raw, err = snappy.Decode(raw, data)
	if err != nil {
		return nil, errors.Wrap(err, "failed to decompress view")
	}

	var wv wireView
	err = json.Unmarshal(raw, &wv)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse view")
	}

	return NewView(wv.Coordinator, wv.Members...), nil
}
