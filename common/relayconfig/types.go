/*
Copyright 2022-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

package relayconfig

import (
	"fmt"
	"strings"
)

type SiteConfig struct {
	Name     string
	ID       int16
	Bridges  []*BridgeConfig
	Forwards []*ForwardConfig
}

func (s *SiteConfig) String() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "name=%s (id=%d)\n", s.Name, s.ID)
	for _, b := range s.Bridges {
		sb.WriteString(b.String())
		sb.WriteString("\n")
	}
	for _, f := range s.Forwards {
		sb.WriteString(f.String())
		sb.WriteString("\n")
	}
	return sb.String()
}

// BridgeConfig names the stack configuration used to join the bridge
// cluster between sites.  Name is optional.
type BridgeConfig struct {
	Name   string
	Config string
}

func (b *BridgeConfig) String() string {
	if b.Name == "" {
		return "config=" + b.Config
	}
	return "config=" + b.Config + " (name=" + b.Name + ")"
}

// ForwardConfig routes traffic for site To through site Gateway.
type ForwardConfig struct {
	To      string
	Gateway string
}

func (f *ForwardConfig) String() string {
	return "forward to=" + f.To + " gateway=" + f.Gateway
}
