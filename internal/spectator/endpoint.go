package spectator

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// ErrUnknownRegion is returned by ParseRegion for names outside the region table.
var ErrUnknownRegion = errors.New("unknown region")

// Endpoint identifies a spectator server and the platform partition a session
// lives on. It is built once from configuration and never mutated.
type Endpoint struct {
	BaseURL    string `json:"base_url"`
	PlatformID string `json:"platform_id"`
}

// NewEndpoint returns an Endpoint for a custom spectator server.
func NewEndpoint(baseURL, platformID string) Endpoint {
	return Endpoint{
		BaseURL:    strings.TrimRight(strings.TrimSpace(baseURL), "/"),
		PlatformID: strings.TrimSpace(platformID),
	}
}

// Validate reports whether both fields are populated.
func (e Endpoint) Validate() error {
	if e.BaseURL == "" {
		return errors.New("endpoint base url required")
	}
	if e.PlatformID == "" {
		return errors.New("endpoint platform id required")
	}
	return nil
}

func (e Endpoint) String() string {
	return e.PlatformID + "@" + e.BaseURL
}

// Region is a public spectator region with a well-known endpoint.
type Region string

const (
	RegionKR   Region = "kr"
	RegionEUW1 Region = "euw1"
	RegionNA1  Region = "na1"
)

var regions = map[Region]struct{}{
	RegionKR:   {},
	RegionEUW1: {},
	RegionNA1:  {},
}

// ParseRegion maps a region name (case-insensitive) to a Region.
func ParseRegion(s string) (Region, error) {
	r := Region(strings.ToLower(strings.TrimSpace(s)))
	if _, ok := regions[r]; !ok {
		return "", fmt.Errorf("%w: %q is not a valid region", ErrUnknownRegion, s)
	}
	return r, nil
}

// Regions lists the known region names in sorted order.
func Regions() []string {
	names := make([]string, 0, len(regions))
	for r := range regions {
		names = append(names, string(r))
	}
	sort.Strings(names)
	return names
}

func (r Region) String() string {
	return string(r)
}

// PlatformID is the upper-cased region name.
func (r Region) PlatformID() string {
	return strings.ToUpper(string(r))
}

// BaseURL is the public spectator consumer address for the region.
func (r Region) BaseURL() string {
	return fmt.Sprintf("http://spectator-consumer.%s.lol.pvp.net:80", string(r))
}

// Endpoint returns the region's spectator endpoint.
func (r Region) Endpoint() Endpoint {
	return Endpoint{BaseURL: r.BaseURL(), PlatformID: r.PlatformID()}
}
