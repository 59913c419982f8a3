/*
Copyright 2022-Present Couchbase, Inc.

Use of this software is governed by the Business Source License included in
the file licenses/BSL-Couchbase.txt.  As of the Change Date specified in that
file, in accordance with the Business Source License, use of this software will
be governed by the Apache License, Version 2.0, included in the file
licenses/APL2.txt.
*/

// Package relayconfig reads the relay topology document that describes the
// sites taking part in cross-site relaying, the bridges joining them, and
// the forwarding routes between them.
package relayconfig

import (
	"encoding/xml"
	"io"
	"os"
	"strconv"

	"github.com/pkg/errors"
)

const (
	elemRelayConfig = "RelayConfiguration"
	elemSites       = "sites"
	elemSite        = "site"
	elemBridges     = "bridges"
	elemBridge      = "bridge"
	elemForwards    = "forwards"
	elemForward     = "forward"
)

type xmlNode struct {
	XMLName  xml.Name
	Attrs    []xml.Attr `xml:",any,attr"`
	Children []xmlNode  `xml:",any"`
}

func (n *xmlNode) attr(name string) (string, bool) {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value, true
		}
	}
	return "", false
}

func (n *xmlNode) requireAttr(name string) (string, error) {
	v, ok := n.attr(name)
	if !ok {
		return "", errors.Wrapf(ErrMissingAttribute, "%q on <%s>", name, n.XMLName.Local)
	}
	return v, nil
}

func match(expected string, n *xmlNode) error {
	if n.XMLName.Local != expected {
		return errors.Wrapf(ErrUnexpectedElement, "<%s> didn't match <%s>", n.XMLName.Local, expected)
	}
	return nil
}

// ParseFile parses the relay configuration stored at path.
func ParseFile(path string) (map[string]*SiteConfig, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	return Parse(f)
}

// Parse returns the configured sites keyed by site name.
func Parse(r io.Reader) (map[string]*SiteConfig, error) {
	var root xmlNode
	err := xml.NewDecoder(r).Decode(&root)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse relay configuration")
	}

	err = match(elemRelayConfig, &root)
	if err != nil {
		return nil, err
	}

	sites := make(map[string]*SiteConfig)
	for i := range root.Children {
		node := &root.Children[i]
		if node.XMLName.Local != elemSites {
			return nil, errors.Wrapf(ErrUnexpectedElement, "expected <%s>, but got <%s>", elemSites, node.XMLName.Local)
		}

		err := parseSites(sites, node)
		if err != nil {
			return nil, err
		}
	}

	return sites, nil
}

func parseSites(sites map[string]*SiteConfig, root *xmlNode) error {
	for i := range root.Children {
		node := &root.Children[i]
		err := match(elemSite, node)
		if err != nil {
			return err
		}

		if len(node.Attrs) == 0 {
			continue
		}

		name, err := node.requireAttr("name")
		if err != nil {
			return err
		}

		idStr, err := node.requireAttr("id")
		if err != nil {
			return err
		}

		id, err := strconv.ParseInt(idStr, 10, 16)
		if err != nil {
			return errors.Wrapf(err, "invalid id for site %q", name)
		}
		if id <= 0 {
			return errors.Wrapf(ErrInvalidSiteID, "site %q has id %d", name, id)
		}

		if _, ok := sites[name]; ok {
			return errors.Wrapf(ErrDuplicateSite, "site %q", name)
		}

		site := &SiteConfig{
			Name: name,
			ID:   int16(id),
		}
		sites[name] = site

		err = parseBridgesAndForwards(site, node)
		if err != nil {
			return err
		}
	}

	ids := make(map[int16]string, len(sites))
	for _, site := range sites {
		if other, ok := ids[site.ID]; ok {
			return errors.Wrapf(ErrDuplicateSiteID, "id %d used by %q and %q", site.ID, other, site.Name)
		}
		ids[site.ID] = site.Name
	}

	return nil
}

func parseBridgesAndForwards(site *SiteConfig, root *xmlNode) error {
	for i := range root.Children {
		node := &root.Children[i]

		var err error
		switch node.XMLName.Local {
		case elemBridges:
			err = parseBridges(site, node)
		case elemForwards:
			err = parseForwards(site, node)
		default:
			err = errors.Wrapf(ErrUnexpectedElement, "expected <%s> or <%s>, but got <%s>",
				elemBridges, elemForwards, node.XMLName.Local)
		}
		if err != nil {
			return err
		}
	}

	return nil
}

func parseBridges(site *SiteConfig, root *xmlNode) error {
	for i := range root.Children {
		node := &root.Children[i]
		err := match(elemBridge, node)
		if err != nil {
			return err
		}

		if len(node.Attrs) == 0 {
			continue
		}

		name, _ := node.attr("name")
		config, err := node.requireAttr("config")
		if err != nil {
			return err
		}

		site.Bridges = append(site.Bridges, &BridgeConfig{
			Name:   name,
			Config: config,
		})
	}

	return nil
}

func parseForwards(site *SiteConfig, root *xmlNode) error {
	for i := range root.Children {
		node := &root.Children[i]
		err := match(elemForward, node)
		if err != nil {
			return err
		}

		if len(node.Attrs) == 0 {
			continue
		}

		to, err := node.requireAttr("to")
		if err != nil {
			return err
		}

		gateway, err := node.requireAttr("gateway")
		if err != nil {
			return err
		}

		site.Forwards = append(site.Forwards, &ForwardConfig{
			To:      to,
			Gateway: gateway,
		})
	}

	return nil
}
