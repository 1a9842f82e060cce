// SPDX-License-Identifier: MPL-2.0

// Package coordinate defines package coordinates for bundle artifacts and
// the version/range grammar used to resolve them against registries.
//
// A coordinate string has the form:
//
//	namespace:name:version[:type[:classifier]]
//
// where version is either an exact version ("1.2.0") or an interval range
// ("[1.0,2.0)"). Identity for list-merge purposes is the triple
// (namespace, name, classifier); version and type are attributes.
package coordinate

import (
	"fmt"
	"strings"
)

// Type is the packaging type of an artifact.
type Type string

const (
	// TypeBundle is an opaque runtime bundle payload (zip archive).
	TypeBundle Type = "bundle"
	// TypePartial is a partial bundle-list document (CUE).
	TypePartial Type = "partial"
	// TypeConfig is a launcher configuration payload (zip archive).
	TypeConfig Type = "config"
)

// Valid reports whether t is a known packaging type.
func (t Type) Valid() bool {
	switch t {
	case TypeBundle, TypePartial, TypeConfig:
		return true
	}
	return false
}

// Ext returns the artifact file extension for the packaging type.
func (t Type) Ext() string {
	if t == TypePartial {
		return "cue"
	}
	return "zip"
}

// ParseType parses a packaging type string. An empty string maps to
// TypeBundle.
func ParseType(s string) (Type, error) {
	if s == "" {
		return TypeBundle, nil
	}
	t := Type(s)
	if !t.Valid() {
		return "", fmt.Errorf("unknown packaging type %q (expected bundle, partial, or config)", s)
	}
	return t, nil
}

// ID is the merge identity of a coordinate: namespace, name, and classifier.
// Version and packaging type are deliberately excluded.
type ID struct {
	Namespace  string
	Name       string
	Classifier string
}

// String returns the identity in namespace:name[:classifier] form.
func (id ID) String() string {
	if id.Classifier == "" {
		return id.Namespace + ":" + id.Name
	}
	return id.Namespace + ":" + id.Name + ":" + id.Classifier
}

// Coordinate identifies an artifact in a registry.
type Coordinate struct {
	Namespace  string
	Name       string
	Version    string
	Type       Type
	Classifier string
}

// Parse parses a coordinate string in
// namespace:name:version[:type[:classifier]] form.
func Parse(s string) (Coordinate, error) {
	parts := strings.Split(s, ":")
	if len(parts) < 3 || len(parts) > 5 {
		return Coordinate{}, fmt.Errorf("invalid coordinate %q: expected namespace:name:version[:type[:classifier]]", s)
	}

	c := Coordinate{
		Namespace: parts[0],
		Name:      parts[1],
		Version:   parts[2],
		Type:      TypeBundle,
	}
	if len(parts) >= 4 {
		t, err := ParseType(parts[3])
		if err != nil {
			return Coordinate{}, fmt.Errorf("invalid coordinate %q: %w", s, err)
		}
		c.Type = t
	}
	if len(parts) == 5 {
		c.Classifier = parts[4]
	}

	if err := c.Validate(); err != nil {
		return Coordinate{}, err
	}
	return c, nil
}

// String returns the canonical coordinate string. The type segment is
// included whenever it is not the default or a classifier is present.
func (c Coordinate) String() string {
	var sb strings.Builder
	sb.WriteString(c.Namespace)
	sb.WriteByte(':')
	sb.WriteString(c.Name)
	sb.WriteByte(':')
	sb.WriteString(c.Version)
	if c.Type != TypeBundle || c.Classifier != "" {
		sb.WriteByte(':')
		sb.WriteString(string(c.Type))
	}
	if c.Classifier != "" {
		sb.WriteByte(':')
		sb.WriteString(c.Classifier)
	}
	return sb.String()
}

// Validate checks that all coordinate fields are well formed.
func (c Coordinate) Validate() error {
	if err := validateSegment("namespace", c.Namespace); err != nil {
		return err
	}
	if err := validateSegment("name", c.Name); err != nil {
		return err
	}
	if c.Version == "" {
		return fmt.Errorf("coordinate %s:%s: version is required", c.Namespace, c.Name)
	}
	if _, err := ParseSpec(c.Version); err != nil {
		return fmt.Errorf("coordinate %s:%s: %w", c.Namespace, c.Name, err)
	}
	if !c.Type.Valid() {
		return fmt.Errorf("coordinate %s:%s: unknown packaging type %q", c.Namespace, c.Name, c.Type)
	}
	if c.Classifier != "" {
		if err := validateSegment("classifier", c.Classifier); err != nil {
			return err
		}
	}
	return nil
}

// validateSegment rejects values that could escape the registry/cache path
// space when joined into file paths.
func validateSegment(field, value string) error {
	if value == "" {
		return fmt.Errorf("coordinate %s is required", field)
	}
	if strings.ContainsAny(value, "/\\ \t") {
		return fmt.Errorf("coordinate %s %q contains path or whitespace characters", field, value)
	}
	if value == "." || value == ".." || strings.Contains(value, "..") {
		return fmt.Errorf("coordinate %s %q contains path traversal", field, value)
	}
	return nil
}

// ID returns the merge identity of the coordinate.
func (c Coordinate) ID() ID {
	return ID{Namespace: c.Namespace, Name: c.Name, Classifier: c.Classifier}
}

// IsPinned reports whether the version is an exact version rather than a
// range.
func (c Coordinate) IsPinned() bool {
	return !IsRange(c.Version)
}

// WithVersion returns a copy of the coordinate pinned to the given version.
func (c Coordinate) WithVersion(version string) Coordinate {
	c.Version = version
	return c
}

// Filename returns the artifact file name for a pinned coordinate:
// name-version[-classifier].ext.
func (c Coordinate) Filename() string {
	var sb strings.Builder
	sb.WriteString(c.Name)
	sb.WriteByte('-')
	sb.WriteString(c.Version)
	if c.Classifier != "" {
		sb.WriteByte('-')
		sb.WriteString(c.Classifier)
	}
	sb.WriteByte('.')
	sb.WriteString(c.Type.Ext())
	return sb.String()
}

// RegistryPath returns the artifact path below a registry base URL or cache
// root: namespace/name/version/filename. The coordinate must be pinned.
func (c Coordinate) RegistryPath() string {
	return c.Namespace + "/" + c.Name + "/" + c.Version + "/" + c.Filename()
}

// MetadataPath returns the version-metadata path below a registry base URL:
// namespace/name/index.json.
func (c Coordinate) MetadataPath() string {
	return c.Namespace + "/" + c.Name + "/index.json"
}
