// Package inventory implements the Product Inventory: CPE 2.3 URI parsing,
// full-text-searchable product storage (delegated to internal/store), and
// the external-catalog sync job that keeps the inventory current.
package inventory

import (
	"fmt"
	"strings"

	"github.com/package-url/packageurl-go"
)

// cpePrefix is the formatted-string-binding prefix every CPE 2.3 URI
// starts with; VulnDash only parses this binding, not the older
// URI-binding (cpe:/...) form.
const cpePrefix = "cpe:2.3:"

// cpeFieldCount is the number of colon-delimited components after the
// "cpe:2.3:" prefix: part, vendor, product, version, update, edition,
// language, sw_edition, target_sw, target_hw, other.
const cpeFieldCount = 11

// CPE holds the decomposed components of a CPE 2.3 formatted string
// binding. Vendor and Product are the two fields VulnDash keys inventory
// correlation on; the rest round-trip through String but are otherwise
// opaque to the rest of the system.
type CPE struct {
	Part      string
	Vendor    string
	Product   string
	Version   string
	Update    string
	Edition   string
	Language  string
	SWEdition string
	TargetSW  string
	TargetHW  string
	Other     string
}

// ParseCPE decomposes a CPE 2.3 formatted string binding into its
// (part, vendor, product, version) components. Escaped colons (`\:`)
// inside a component are unescaped, not treated as
// delimiters, the way packageurl-go's component parser treats escaped
// purl separators.
func ParseCPE(uri string) (CPE, error) {
	if !strings.HasPrefix(uri, cpePrefix) {
		return CPE{}, fmt.Errorf("not a cpe 2.3 uri: %q", uri)
	}

	fields := splitUnescaped(strings.TrimPrefix(uri, cpePrefix), ':')
	if len(fields) != cpeFieldCount {
		return CPE{}, fmt.Errorf("cpe 2.3 uri %q: expected %d fields, got %d", uri, cpeFieldCount, len(fields))
	}

	for i, f := range fields {
		fields[i] = unescapeCPEComponent(f)
	}

	return CPE{
		Part:      fields[0],
		Vendor:    fields[1],
		Product:   fields[2],
		Version:   fields[3],
		Update:    fields[4],
		Edition:   fields[5],
		Language:  fields[6],
		SWEdition: fields[7],
		TargetSW:  fields[8],
		TargetHW:  fields[9],
		Other:     fields[10],
	}, nil
}

// String reassembles the CPE 2.3 formatted string binding, re-escaping
// any colon that appears inside a component.
func (c CPE) String() string {
	fields := []string{c.Part, c.Vendor, c.Product, c.Version, c.Update, c.Edition,
		c.Language, c.SWEdition, c.TargetSW, c.TargetHW, c.Other}
	for i, f := range fields {
		if f == "" {
			fields[i] = "*"
		} else {
			fields[i] = escapeCPEComponent(f)
		}
	}
	return cpePrefix + strings.Join(fields, ":")
}

// PURL derives a generic package-url identifier from the CPE's
// vendor/product/version, for cross-referencing against tooling that
// keys on purl rather than CPE (VulnDash stores CPE as the canonical
// inventory key; this is a display/interop convenience only).
func (c CPE) PURL() string {
	version := c.Version
	if version == "*" || version == "-" {
		version = ""
	}
	p := packageurl.NewPackageURL("generic", c.Vendor, c.Product, version, nil, "")
	return p.ToString()
}

// splitUnescaped splits s on sep, treating a backslash-escaped sep as a
// literal character rather than a delimiter.
func splitUnescaped(s string, sep byte) []string {
	var fields []string
	var current strings.Builder
	escaped := false

	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case escaped:
			current.WriteByte(c)
			escaped = false
		case c == '\\':
			escaped = true
		case c == sep:
			fields = append(fields, current.String())
			current.Reset()
		default:
			current.WriteByte(c)
		}
	}
	fields = append(fields, current.String())
	return fields
}

// unescapeCPEComponent maps CPE's ANY/NA wildcards ("*", "-") to the
// empty string; splitUnescaped has already resolved any backslash-escaped
// colon within the component by the time this runs.
func unescapeCPEComponent(s string) string {
	if s == "*" || s == "-" {
		return ""
	}
	return s
}

func escapeCPEComponent(s string) string {
	return strings.ReplaceAll(s, ":", `\:`)
}
