// SPDX-License-Identifier: MPL-2.0

package coordinate

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
)

// Version represents a parsed artifact version: dotted numeric segments with
// an optional hyphenated qualifier, e.g. "1.2.0" or "2.0.0-beta".
type Version struct {
	// Segments are the numeric components, most significant first.
	Segments []int
	// Qualifier is the pre-release qualifier, empty for final versions.
	Qualifier string
	// Original is the unparsed input string.
	Original string
}

// versionRegex matches version strings of the form 1[.2[.3...]][-qualifier].
var versionRegex = regexp.MustCompile(`^(\d+(?:\.\d+)*)(?:-([0-9A-Za-z][0-9A-Za-z.\-]*))?$`)

// ParseVersion parses a version string into a Version.
func ParseVersion(s string) (*Version, error) {
	matches := versionRegex.FindStringSubmatch(s)
	if matches == nil {
		return nil, fmt.Errorf("invalid version format: %q", s)
	}

	v := &Version{Original: s, Qualifier: matches[2]}
	for _, seg := range strings.Split(matches[1], ".") {
		n, err := strconv.Atoi(seg)
		if err != nil {
			return nil, fmt.Errorf("invalid version segment %q: %w", seg, err)
		}
		v.Segments = append(v.Segments, n)
	}
	return v, nil
}

// String returns the version as a string.
func (v *Version) String() string {
	return v.Original
}

// segment returns the i-th numeric segment, treating missing segments as 0
// so that "1.0" and "1.0.0" compare equal.
func (v *Version) segment(i int) int {
	if i < len(v.Segments) {
		return v.Segments[i]
	}
	return 0
}

// Compare compares two versions.
// Returns -1 if v < other, 0 if v == other, 1 if v > other.
// A version without qualifier orders above the same version with one.
func (v *Version) Compare(other *Version) int {
	n := len(v.Segments)
	if len(other.Segments) > n {
		n = len(other.Segments)
	}
	for i := 0; i < n; i++ {
		a, b := v.segment(i), other.segment(i)
		if a != b {
			if a < b {
				return -1
			}
			return 1
		}
	}

	// Qualified versions have lower precedence than final ones.
	if v.Qualifier == "" && other.Qualifier != "" {
		return 1
	}
	if v.Qualifier != "" && other.Qualifier == "" {
		return -1
	}
	if v.Qualifier != other.Qualifier {
		if v.Qualifier < other.Qualifier {
			return -1
		}
		return 1
	}
	return 0
}

// Range is a version requirement: either an exact pin or an interval in
// bracket notation, e.g. "[1.0,2.0)", "(1.0,2.0]", "[1.0,)", "(,2.0]".
type Range struct {
	// Lower is the lower bound, nil when unbounded below.
	Lower *Version
	// Upper is the upper bound, nil when unbounded above.
	Upper *Version
	// LowerInclusive and UpperInclusive record the bracket kinds.
	LowerInclusive bool
	UpperInclusive bool
	// Original is the unparsed input string.
	Original string

	// exact is set for pins ("1.2.0" or "[1.2.0]"); such a range matches
	// only versions comparing equal to it.
	exact *Version
}

// IsRange reports whether s uses interval notation rather than an exact
// version.
func IsRange(s string) bool {
	s = strings.TrimSpace(s)
	return strings.HasPrefix(s, "[") || strings.HasPrefix(s, "(")
}

// ParseSpec parses a version requirement: an exact version or an interval
// range.
func ParseSpec(s string) (*Range, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty version requirement")
	}
	if !IsRange(s) {
		v, err := ParseVersion(s)
		if err != nil {
			return nil, err
		}
		return &Range{exact: v, Original: s}, nil
	}
	return parseInterval(s)
}

// parseInterval parses bracket notation.
func parseInterval(s string) (*Range, error) {
	if len(s) < 3 {
		return nil, fmt.Errorf("invalid version range %q", s)
	}
	open, close := s[0], s[len(s)-1]
	if (open != '[' && open != '(') || (close != ']' && close != ')') {
		return nil, fmt.Errorf("invalid version range %q: expected bracket notation", s)
	}

	r := &Range{
		LowerInclusive: open == '[',
		UpperInclusive: close == ']',
		Original:       s,
	}

	inner := s[1 : len(s)-1]
	parts := strings.Split(inner, ",")
	switch len(parts) {
	case 1:
		// Bracket pin form, e.g. "[1.2.0]".
		if !r.LowerInclusive || !r.UpperInclusive {
			return nil, fmt.Errorf("invalid version range %q: single-version range must use square brackets", s)
		}
		v, err := ParseVersion(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("invalid version range %q: %w", s, err)
		}
		r.exact = v
		r.Lower, r.Upper = v, v
		return r, nil
	case 2:
		// Interval form below.
	default:
		return nil, fmt.Errorf("invalid version range %q: expected a single comma", s)
	}

	if lo := strings.TrimSpace(parts[0]); lo != "" {
		v, err := ParseVersion(lo)
		if err != nil {
			return nil, fmt.Errorf("invalid version range %q: %w", s, err)
		}
		r.Lower = v
	}
	if hi := strings.TrimSpace(parts[1]); hi != "" {
		v, err := ParseVersion(hi)
		if err != nil {
			return nil, fmt.Errorf("invalid version range %q: %w", s, err)
		}
		r.Upper = v
	}

	if r.Lower == nil && r.Upper == nil {
		return nil, fmt.Errorf("invalid version range %q: unbounded on both sides", s)
	}
	if r.Lower != nil && r.Upper != nil {
		switch cmp := r.Lower.Compare(r.Upper); {
		case cmp > 0:
			return nil, fmt.Errorf("invalid version range %q: lower bound above upper bound", s)
		case cmp == 0 && !(r.LowerInclusive && r.UpperInclusive):
			return nil, fmt.Errorf("invalid version range %q: equal bounds must both be inclusive", s)
		}
	}
	return r, nil
}

// IsExact reports whether the range pins a single version.
func (r *Range) IsExact() bool {
	return r.exact != nil
}

// Matches reports whether v satisfies the range.
func (r *Range) Matches(v *Version) bool {
	if r.exact != nil {
		return v.Compare(r.exact) == 0
	}
	if r.Lower != nil {
		cmp := v.Compare(r.Lower)
		if cmp < 0 || (cmp == 0 && !r.LowerInclusive) {
			return false
		}
	}
	if r.Upper != nil {
		cmp := v.Compare(r.Upper)
		if cmp > 0 || (cmp == 0 && !r.UpperInclusive) {
			return false
		}
	}
	return true
}

// String returns the original requirement string.
func (r *Range) String() string {
	return r.Original
}

// Resolve finds the highest version among available that satisfies spec.
// Unparseable entries in available are skipped.
func Resolve(spec string, available []string) (string, error) {
	r, err := ParseSpec(spec)
	if err != nil {
		return "", err
	}

	var matching []*Version
	valid := 0
	for _, vs := range available {
		v, err := ParseVersion(vs)
		if err != nil {
			continue
		}
		valid++
		if r.Matches(v) {
			matching = append(matching, v)
		}
	}

	if valid == 0 {
		return "", fmt.Errorf("no valid versions available")
	}
	if len(matching) == 0 {
		return "", fmt.Errorf("no version satisfies %q (available: %s)", spec, strings.Join(available, ", "))
	}

	sort.Slice(matching, func(i, j int) bool {
		return matching[i].Compare(matching[j]) > 0
	})
	return matching[0].Original, nil
}

// SortVersions sorts version strings in descending order (newest first),
// dropping entries that do not parse.
func SortVersions(versions []string) []string {
	var parsed []*Version
	for _, vs := range versions {
		v, err := ParseVersion(vs)
		if err != nil {
			continue
		}
		parsed = append(parsed, v)
	}

	sort.Slice(parsed, func(i, j int) bool {
		return parsed[i].Compare(parsed[j]) > 0
	})

	result := make([]string, len(parsed))
	for i, v := range parsed {
		result[i] = v.Original
	}
	return result
}

// IsValidVersion reports whether s parses as an exact version.
func IsValidVersion(s string) bool {
	_, err := ParseVersion(s)
	return err == nil
}
