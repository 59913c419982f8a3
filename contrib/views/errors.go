/*
Copyright 2022-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package views

import "errors"

var (
	ErrNilSnapshot     = errors.New("no snapshot to sanitize")
	ErrNilView         = errors.New("reporter has no view")
	ErrEmptyView       = errors.New("view has no members")
	ErrMissingSelf     = errors.New("view does not list its own reporter")
	ErrDuplicateMember = errors.New("view lists a member more than once")
)
