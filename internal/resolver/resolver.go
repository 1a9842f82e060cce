// SPDX-License-Identifier: MPL-2.0

// Package resolver turns package coordinates into local artifact files,
// consulting the cache first and then the configured registries in order.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"launchkit-cli/internal/registry"
	"launchkit-cli/pkg/coordinate"
)

var (
	// ErrVersionNotFound is returned when registry metadata was available
	// but no advertised version satisfies the requirement.
	ErrVersionNotFound = errors.New("no version satisfies requirement")

	// ErrNoRegistries is returned when an artifact is not cached and no
	// registries are configured to fetch it from.
	ErrNoRegistries = errors.New("no registries configured")
)

type (
	// Resolved describes a successfully resolved artifact.
	Resolved struct {
		// Coordinate is the input coordinate pinned to an exact version.
		Coordinate coordinate.Coordinate
		// Path is the local artifact file.
		Path string
		// FromCache is true when the cache satisfied the request without
		// any network traffic.
		FromCache bool
		// Registry is the base URL that served the artifact; empty on a
		// cache hit.
		Registry string
	}

	// Resolver resolves coordinates against a cache and ordered registries.
	Resolver struct {
		cache      *registry.Cache
		client     *registry.Client
		registries []string
		log        *slog.Logger
	}
)

// New creates a resolver. registries are consulted in the given order; an
// empty list restricts resolution to the cache. A nil logger discards logs.
func New(cache *registry.Cache, client *registry.Client, registries []string, log *slog.Logger) *Resolver {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Resolver{
		cache:      cache,
		client:     client,
		registries: registries,
		log:        log,
	}
}

// Resolve resolves a coordinate to a local artifact file. Exact versions go
// straight to the cache and then the registries; range requirements are
// pinned first using version metadata from the first registry that can
// provide it.
func (r *Resolver) Resolve(ctx context.Context, coord coordinate.Coordinate) (*Resolved, error) {
	if err := coord.Validate(); err != nil {
		return nil, err
	}

	if coord.IsPinned() {
		return r.fetchPinned(ctx, coord)
	}

	pinned, err := r.pin(ctx, coord)
	if err != nil {
		return nil, err
	}
	return r.fetchPinned(ctx, pinned)
}

// pin selects the highest version satisfying the coordinate's range from
// the first registry that produces metadata for the package.
func (r *Resolver) pin(ctx context.Context, coord coordinate.Coordinate) (coordinate.Coordinate, error) {
	if len(r.registries) == 0 {
		return coordinate.Coordinate{}, fmt.Errorf("resolving %s: %w", coord, ErrNoRegistries)
	}

	var failures []string
	for _, base := range r.registries {
		meta, err := r.client.Metadata(ctx, base, coord)
		if err != nil {
			r.log.Warn("registry metadata unavailable", "registry", base, "coordinate", coord.String(), "error", err)
			failures = append(failures, fmt.Sprintf("%s: %v", base, err))
			continue
		}

		version, err := coordinate.Resolve(coord.Version, meta.Versions)
		if err != nil {
			return coordinate.Coordinate{}, fmt.Errorf("resolving %s from %s: %w: %s", coord, base, ErrVersionNotFound, err)
		}

		r.log.Debug("pinned version requirement",
			"coordinate", coord.String(), "version", version, "registry", base)
		return coord.WithVersion(version), nil
	}

	return coordinate.Coordinate{}, fmt.Errorf("resolving %s: %w:\n  %s",
		coord, registry.ErrMetadataUnavailable, strings.Join(failures, "\n  "))
}

// fetchPinned materializes a pinned coordinate in the cache, downloading it
// from the first registry that has it when it is not already present.
func (r *Resolver) fetchPinned(ctx context.Context, coord coordinate.Coordinate) (*Resolved, error) {
	path := r.cache.Path(coord)
	if r.cache.Has(coord) {
		r.log.Debug("artifact cache hit", "coordinate", coord.String(), "path", path)
		return &Resolved{Coordinate: coord, Path: path, FromCache: true}, nil
	}

	if len(r.registries) == 0 {
		return nil, fmt.Errorf("artifact %s not cached: %w", coord, ErrNoRegistries)
	}

	var failures []string
	for _, base := range r.registries {
		err := r.client.Download(ctx, base, coord, path)
		if err == nil {
			r.log.Info("downloaded artifact", "coordinate", coord.String(), "registry", base)
			return &Resolved{Coordinate: coord, Path: path, Registry: base}, nil
		}

		if errors.Is(err, registry.ErrArtifactNotFound) {
			r.log.Debug("artifact not in registry", "coordinate", coord.String(), "registry", base)
		} else {
			r.log.Warn("artifact download failed", "coordinate", coord.String(), "registry", base, "error", err)
		}
		failures = append(failures, fmt.Sprintf("%s: %v", base, err))

		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}

	return nil, fmt.Errorf("%w: %s, tried:\n  %s",
		registry.ErrArtifactNotFound, coord, strings.Join(failures, "\n  "))
}

// Registries returns the configured registry base URLs in consultation
// order.
func (r *Resolver) Registries() []string {
	out := make([]string, len(r.registries))
	copy(out, r.registries)
	return out
}
