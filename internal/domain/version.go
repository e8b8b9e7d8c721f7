// Package domain version.go contains parsing and ordering of release versions.
package domain

import (
	"strconv"
	"strings"
)

// Component is a single numeric element of a VersionVector. Present is false
// when the source text had no leading digits (e.g. "x" in "1.x.3").
type Component struct {
	Value   uint64
	Present bool
}

// VersionVector is an ordered sequence of numeric components such as
// major.minor.patch, compared left to right.
type VersionVector []Component

// ParseVersion splits s on dots and reads the leading decimal digits of each
// part. Parts without leading digits become absent components; they are kept so
// that later indexes still line up.
func ParseVersion(s string) VersionVector {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ".")
	out := make(VersionVector, 0, len(parts))
	for _, p := range parts {
		out = append(out, parseComponent(p))
	}
	return out
}

func parseComponent(p string) Component {
	p = strings.TrimSpace(p)
	end := 0
	for end < len(p) && p[end] >= '0' && p[end] <= '9' {
		end++
	}
	if end == 0 {
		return Component{}
	}
	n, err := strconv.ParseUint(p[:end], 10, 64)
	if err != nil {
		return Component{}
	}
	return Component{Value: n, Present: true}
}

// String renders the vector with absent components as "?".
func (v VersionVector) String() string {
	parts := make([]string, len(v))
	for i, c := range v {
		if !c.Present {
			parts[i] = "?"
			continue
		}
		parts[i] = strconv.FormatUint(c.Value, 10)
	}
	return strings.Join(parts, ".")
}

// IsOutdated reports whether local is older than the server minimum.
//
// Only the server vector's length is walked. At each index the first
// component that differs decides: a higher local component means up to date, a
// higher server component means outdated. Absent components on either side
// are skipped. A local vector shorter than the server vector is padded with
// zeros, so "1.2" is older than a "1.2.1" minimum and equal to "1.2.0".
func IsOutdated(server, local VersionVector) bool {
	for i, s := range server {
		if !s.Present {
			continue
		}
		l := Component{Present: true}
		if i < len(local) {
			l = local[i]
		}
		if !l.Present {
			continue
		}
		if l.Value > s.Value {
			return false
		}
		if s.Value > l.Value {
			return true
		}
	}
	return false
}
