// Package catalog is the static registry of supported asset types.
//
// The catalog is fixed at process start. Lookups never mutate it and every
// accessor returns copies, so callers may share the default catalog freely.
package catalog

import (
	"fmt"
	"strings"
)

// AssetTypeID identifies a supported asset type.
type AssetTypeID string

const (
	AssetYouTube  AssetTypeID = "youtube"
	AssetSubstack AssetTypeID = "substack"
	AssetGitHub   AssetTypeID = "github"
	AssetSpotify  AssetTypeID = "spotify"
	AssetKindle   AssetTypeID = "kindle"
	// AssetOther is the unclassified kind; it carries a fee surcharge.
	AssetOther AssetTypeID = "other"
)

// RoutingKey selects the ownership verification backend for an asset type.
type RoutingKey string

const (
	RouteYouTube  RoutingKey = "youtube_api"
	RouteSubstack RoutingKey = "substack_api"
	RouteGitHub   RoutingKey = "github_api"
	RouteSpotify  RoutingKey = "spotify_api"
	RouteKDP      RoutingKey = "kdp_api"
	RouteGeneric  RoutingKey = "generic_api"
)

func (id AssetTypeID) String() string { return string(id) }
func (k RoutingKey) String() string   { return string(k) }

// Descriptor describes one asset type.
type Descriptor struct {
	ID          AssetTypeID `json:"id" yaml:"id"`
	DisplayName string      `json:"display_name" yaml:"display_name"`
	Description string      `json:"description" yaml:"description"`
	Placeholder string      `json:"placeholder" yaml:"placeholder"`
	RoutingKey  RoutingKey  `json:"routing_key" yaml:"routing_key"`
}

// IsOther reports whether the descriptor is the unclassified kind.
func (d Descriptor) IsOther() bool { return d.ID == AssetOther }

// Catalog is an immutable, ordered set of descriptors.
type Catalog struct {
	order []AssetTypeID
	byID  map[AssetTypeID]Descriptor
}

var defaultDescriptors = []Descriptor{
	{
		ID:          AssetYouTube,
		DisplayName: "YouTube Channel",
		Description: "Monetize YouTube ad revenue & memberships",
		Placeholder: "https://youtube.com/@yourchannel or Channel ID",
		RoutingKey:  RouteYouTube,
	},
	{
		ID:          AssetSubstack,
		DisplayName: "Substack Publication",
		Description: "Token-gate newsletter subscriptions",
		Placeholder: "https://yourname.substack.com",
		RoutingKey:  RouteSubstack,
	},
	{
		ID:          AssetGitHub,
		DisplayName: "GitHub Repository",
		Description: "Monetize GitHub Sponsors & contributions",
		Placeholder: "https://github.com/username/repo or @username",
		RoutingKey:  RouteGitHub,
	},
	{
		ID:          AssetSpotify,
		DisplayName: "Spotify Artist",
		Description: "Share streaming royalties with fans",
		Placeholder: "Spotify Artist URI or Profile URL",
		RoutingKey:  RouteSpotify,
	},
	{
		ID:          AssetKindle,
		DisplayName: "Amazon KDP Book",
		Description: "Tokenize book royalties & sales",
		Placeholder: "Amazon ASIN or Book URL",
		RoutingKey:  RouteKDP,
	},
	{
		ID:          AssetOther,
		DisplayName: "Other IP Asset",
		Description: "Any other revenue-generating asset, reviewed manually",
		Placeholder: "URL or identifier of the asset",
		RoutingKey:  RouteGeneric,
	},
}

// New builds a catalog from descriptors, rejecting duplicates and empty fields.
func New(descriptors []Descriptor) (*Catalog, error) {
	c := &Catalog{byID: make(map[AssetTypeID]Descriptor, len(descriptors))}
	for _, d := range descriptors {
		if d.ID == "" || d.RoutingKey == "" || strings.TrimSpace(d.DisplayName) == "" {
			return nil, fmt.Errorf("catalog: descriptor %q is incomplete", d.ID)
		}
		if _, dup := c.byID[d.ID]; dup {
			return nil, fmt.Errorf("catalog: duplicate asset type %q", d.ID)
		}
		c.byID[d.ID] = d
		c.order = append(c.order, d.ID)
	}
	return c, nil
}

var defaultCatalog = mustNew(defaultDescriptors)

func mustNew(descriptors []Descriptor) *Catalog {
	c, err := New(descriptors)
	if err != nil {
		panic(err)
	}
	return c
}

// Default returns the built-in catalog.
func Default() *Catalog { return defaultCatalog }

// Lookup returns the descriptor for id.
func (c *Catalog) Lookup(id AssetTypeID) (Descriptor, bool) {
	d, ok := c.byID[id]
	return d, ok
}

// List returns descriptors in catalog order.
func (c *Catalog) List() []Descriptor {
	out := make([]Descriptor, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, c.byID[id])
	}
	return out
}

// RoutingKeys returns the distinct routing keys in catalog order.
func (c *Catalog) RoutingKeys() []RoutingKey {
	seen := make(map[RoutingKey]bool, len(c.order))
	var keys []RoutingKey
	for _, id := range c.order {
		k := c.byID[id].RoutingKey
		if !seen[k] {
			seen[k] = true
			keys = append(keys, k)
		}
	}
	return keys
}
