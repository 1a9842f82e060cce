// SPDX-License-Identifier: MPL-2.0

// Package registry talks to bundle registries over HTTP and manages the
// local artifact cache.
//
// A registry is a plain HTTP(S) base URL serving two kinds of paths:
//
//	{base}/{namespace}/{name}/index.json            version metadata
//	{base}/{namespace}/{name}/{version}/{filename}  artifact payloads
package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"launchkit-cli/pkg/coordinate"
)

// maxMetadataBytes is the upper bound on index.json response size (1 MB).
// Prevents unbounded memory consumption from malformed or hostile registries.
const maxMetadataBytes = 1 << 20

var (
	// ErrArtifactNotFound is returned when a registry does not have the
	// requested artifact.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrMetadataUnavailable is returned when a registry cannot produce
	// version metadata for a package: missing index, unexpected status, or
	// an undecodable response.
	ErrMetadataUnavailable = errors.New("registry metadata unavailable")
)

type (
	// Metadata lists the versions a registry advertises for a package.
	Metadata struct {
		Namespace string
		Name      string
		Versions  []string
	}

	// metadataDocument is the JSON wire format of index.json.
	metadataDocument struct {
		Namespace string   `json:"namespace"`
		Name      string   `json:"name"`
		Versions  []string `json:"versions"`
	}

	// Client fetches metadata and artifacts from bundle registries.
	Client struct {
		httpClient *http.Client
		userAgent  string
	}

	// ClientOption configures a Client during construction.
	ClientOption func(*Client)
)

// WithHTTPClient sets a custom HTTP client, useful for tests or proxy
// configurations.
func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) {
		cl.httpClient = c
	}
}

// WithUserAgent sets the User-Agent header sent with every request.
func WithUserAgent(ua string) ClientOption {
	return func(cl *Client) {
		cl.userAgent = ua
	}
}

// NewClient creates a registry client with sensible defaults:
// httpClient=http.DefaultClient, userAgent="launchkit/dev".
func NewClient(opts ...ClientOption) *Client {
	c := &Client{
		httpClient: http.DefaultClient,
		userAgent:  "launchkit/dev",
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Metadata fetches the version metadata for the coordinate's package from
// the registry at base. Any failure to produce usable metadata maps to
// ErrMetadataUnavailable so callers can fall through to the next registry.
func (c *Client) Metadata(ctx context.Context, base string, coord coordinate.Coordinate) (*Metadata, error) {
	metaURL := joinURL(base, coord.MetadataPath())

	resp, err := c.doRequest(ctx, metaURL)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrMetadataUnavailable, redactURL(metaURL), err)
	}
	defer func() { _ = resp.Body.Close() }() // read-only response body

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: %s: unexpected status %d", ErrMetadataUnavailable, redactURL(metaURL), resp.StatusCode)
	}

	var doc metadataDocument
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxMetadataBytes)).Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %s: decoding response: %s", ErrMetadataUnavailable, redactURL(metaURL), err)
	}

	return &Metadata{
		Namespace: doc.Namespace,
		Name:      doc.Name,
		Versions:  doc.Versions,
	}, nil
}

// Download fetches the artifact for a pinned coordinate from the registry at
// base and writes it to dest. The write is atomic: the payload streams into
// a temporary file next to dest which is renamed into place only on success,
// so a crash or failed download never leaves a partial artifact under the
// final name.
func (c *Client) Download(ctx context.Context, base string, coord coordinate.Coordinate, dest string) error {
	if !coord.IsPinned() {
		return fmt.Errorf("downloading %s: coordinate is not pinned to an exact version", coord)
	}

	artifactURL := joinURL(base, coord.RegistryPath())

	resp, err := c.doRequest(ctx, artifactURL)
	if err != nil {
		return fmt.Errorf("downloading %s: %w", coord, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		return fmt.Errorf("%w: %s at %s", ErrArtifactNotFound, coord, redactURL(artifactURL))
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("downloading %s: unexpected status %d from %s", coord, resp.StatusCode, redactURL(artifactURL))
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("downloading %s: %w", coord, err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(dest), ".download-*")
	if err != nil {
		return fmt.Errorf("downloading %s: %w", coord, err)
	}
	tmpPath := tmp.Name()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("downloading %s: %w", coord, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("downloading %s: %w", coord, err)
	}
	if err := os.Rename(tmpPath, dest); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("downloading %s: %w", coord, err)
	}
	return nil
}

// doRequest creates and executes a GET request with common headers.
func (c *Client) doRequest(ctx context.Context, reqURL string) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}

	req.Header.Set("Accept", "application/json, application/octet-stream")
	req.Header.Set("User-Agent", c.userAgent)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("executing request: %w", err)
	}
	return resp, nil
}

// joinURL appends a registry path to a base URL, tolerating a trailing
// slash on the base.
func joinURL(base, path string) string {
	return strings.TrimRight(base, "/") + "/" + path
}

// redactURL strips query parameters and fragments from a URL for safe
// inclusion in error messages, preventing accidental exposure of tokens.
func redactURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "<invalid-url>"
	}
	u.RawQuery = ""
	u.Fragment = ""
	return u.String()
}
