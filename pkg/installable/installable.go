// SPDX-License-Identifier: MPL-2.0

// Package installable defines the resource value object handed to
// downstream provisioning after assembly.
//
// A resource is either a bundle payload (a file on disk) or a configuration
// dictionary; it is immutable after construction and validated up front so
// provisioning code never has to re-check the combination.
package installable

import (
	"errors"
	"fmt"
)

// ResourceType classifies an installable resource.
type ResourceType string

const (
	// TypeBundle is a runtime bundle payload.
	TypeBundle ResourceType = "bundle"
	// TypeConfig is a configuration dictionary.
	TypeConfig ResourceType = "config"
)

const (
	// DefaultPriority is used when no priority is given. Priorities decide
	// which resource wins when several target the same launcher entity.
	DefaultPriority = 100

	// PropStartPriority is the property key carrying a bundle's activation
	// order.
	PropStartPriority = "bundle.startpriority"
	// PropRunModes is the property key carrying a bundle's run modes as a
	// comma-separated string.
	PropRunModes = "bundle.runmodes"
)

// ErrInvalidResource is the sentinel error for construction failures.
var ErrInvalidResource = errors.New("invalid installable resource")

// Resource is an immutable installable resource.
type Resource struct {
	id           string
	resourceType ResourceType
	payloadPath  string
	properties   map[string]string
	digest       string
	priority     int
}

// Option configures a Resource during construction.
type Option func(*Resource)

// WithPayloadPath sets the payload file path. Required for bundles.
func WithPayloadPath(path string) Option {
	return func(r *Resource) {
		r.payloadPath = path
	}
}

// WithProperties sets the property dictionary. Required for configs; bundles
// may carry one as well. The map is copied.
func WithProperties(props map[string]string) Option {
	return func(r *Resource) {
		if props == nil {
			return
		}
		r.properties = make(map[string]string, len(props))
		for k, v := range props {
			r.properties[k] = v
		}
	}
}

// WithDigest sets an opaque change marker: any string that changes when the
// resource data changes.
func WithDigest(digest string) Option {
	return func(r *Resource) {
		r.digest = digest
	}
}

// WithPriority sets the resource priority. Values below 1 fall back to
// DefaultPriority.
func WithPriority(priority int) Option {
	return func(r *Resource) {
		r.priority = priority
	}
}

// New creates a validated resource.
//
// The id must be non-empty and should carry a recognizable extension, since
// downstream provisioning may use it for type detection. Every resource
// needs a payload path or a property dictionary; bundles must have a
// payload, configs must have a dictionary and no payload.
func New(id string, resourceType ResourceType, opts ...Option) (*Resource, error) {
	r := &Resource{
		id:           id,
		resourceType: resourceType,
		priority:     DefaultPriority,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.priority < 1 {
		r.priority = DefaultPriority
	}

	if r.id == "" {
		return nil, fmt.Errorf("%w: id must not be empty", ErrInvalidResource)
	}
	if r.payloadPath == "" && r.properties == nil {
		return nil, fmt.Errorf("%w: %s: needs a payload path or a property dictionary", ErrInvalidResource, id)
	}
	switch r.resourceType {
	case TypeBundle:
		if r.payloadPath == "" {
			return nil, fmt.Errorf("%w: %s: bundle resources need a payload path", ErrInvalidResource, id)
		}
	case TypeConfig:
		if r.properties == nil {
			return nil, fmt.Errorf("%w: %s: config resources need a property dictionary", ErrInvalidResource, id)
		}
		if r.payloadPath != "" {
			return nil, fmt.Errorf("%w: %s: config resources must not have a payload path", ErrInvalidResource, id)
		}
	case "":
		// Unknown type is allowed; downstream detects it from the id.
	default:
		return nil, fmt.Errorf("%w: %s: unknown resource type %q", ErrInvalidResource, id, r.resourceType)
	}

	return r, nil
}

// ID returns the unique resource id.
func (r *Resource) ID() string { return r.id }

// Type returns the resource type, empty when unknown.
func (r *Resource) Type() ResourceType { return r.resourceType }

// PayloadPath returns the payload file path, empty for config resources.
func (r *Resource) PayloadPath() string { return r.payloadPath }

// Properties returns a copy of the property dictionary, nil when the
// resource carries none.
func (r *Resource) Properties() map[string]string {
	if r.properties == nil {
		return nil
	}
	out := make(map[string]string, len(r.properties))
	for k, v := range r.properties {
		out[k] = v
	}
	return out
}

// Digest returns the opaque change marker, empty when unset.
func (r *Resource) Digest() string { return r.digest }

// Priority returns the resource priority.
func (r *Resource) Priority() int { return r.priority }

// String returns a short description for diagnostics.
func (r *Resource) String() string {
	return fmt.Sprintf("Resource, priority=%d, id=%s", r.priority, r.id)
}
