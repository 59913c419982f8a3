/*
Copyright 2022-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package relayconfig

import "errors"

var (
	ErrUnexpectedElement = errors.New("unexpected element")
	ErrMissingAttribute  = errors.New("missing attribute")
	ErrInvalidSiteID     = errors.New("site id must be > 0")
	ErrDuplicateSite     = errors.New("site already defined")
	ErrDuplicateSiteID   = errors.New("site id is defined multiple times")
)
