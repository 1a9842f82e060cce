// SPDX-License-Identifier: MPL-2.0

// Package project loads and validates launchkit.cue project manifests.
package project

import (
	_ "embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"launchkit-cli/pkg/bundlelist"
	"launchkit-cli/pkg/coordinate"
	"launchkit-cli/pkg/cueutil"
)

//go:embed manifest_schema.cue
var manifestSchema string

// DefaultManifestName is the manifest filename looked up by Find.
const DefaultManifestName = "launchkit.cue"

var (
	// ErrManifestInvalid is returned when a manifest file exists but fails
	// schema validation or carries malformed coordinates.
	ErrManifestInvalid = errors.New("invalid project manifest")

	// ErrManifestNotFound is returned by Find when no manifest exists in
	// the start directory or any of its parents.
	ErrManifestNotFound = errors.New("no launchkit.cue manifest found")
)

type (
	// Info identifies the project itself.
	Info struct {
		Namespace string
		Name      string
		Version   string
	}

	// Dependency is a declared artifact dependency.
	Dependency struct {
		Coordinate coordinate.Coordinate
	}

	// Exclusion names a bundle entry to drop from the assembled list.
	Exclusion struct {
		Namespace    string
		Name         string
		Classifier   string
		FailIfAbsent bool
	}

	// Extras points at optional project-local launcher inputs, relative to
	// the manifest directory. Empty means unset.
	Extras struct {
		Properties string
		Bootstrap  string
	}

	// Manifest is a loaded launchkit.cue with defaults applied.
	Manifest struct {
		Project         Info
		BundlesFile     string
		IncludeDefaults bool
		// DefaultList overrides the configured default-list coordinate;
		// the zero value means no override.
		DefaultList  coordinate.Coordinate
		Dependencies []Dependency
		Additions    []bundlelist.Entry
		Exclusions   []Exclusion
		RuleFiles    []string
		ConfigDir    string
		Launcher     Extras

		path string
		dir  string
	}
)

// ID returns the list identity the exclusion removes.
func (e Exclusion) ID() coordinate.ID {
	return coordinate.ID{Namespace: e.Namespace, Name: e.Name, Classifier: e.Classifier}
}

// wire types for CUE decoding
type (
	manifestDocument struct {
		Project struct {
			Namespace string `json:"namespace"`
			Name      string `json:"name"`
			Version   string `json:"version"`
		} `json:"project"`
		BundlesFile     string               `json:"bundles_file"`
		IncludeDefaults bool                 `json:"include_defaults"`
		DefaultList     string               `json:"default_list"`
		Dependencies    []dependencyDocument `json:"dependencies"`
		Additions       []entryDocument      `json:"additions"`
		Exclusions      []exclusionDocument  `json:"exclusions"`
		RuleFiles       []string             `json:"rule_files"`
		ConfigDir       string               `json:"config_dir"`
		Launcher        struct {
			Properties string `json:"properties"`
			Bootstrap  string `json:"bootstrap"`
		} `json:"launcher"`
	}

	dependencyDocument struct {
		Coordinate string `json:"coordinate"`
	}

	entryDocument struct {
		Namespace     string   `json:"namespace"`
		Name          string   `json:"name"`
		Classifier    string   `json:"classifier"`
		Version       string   `json:"version"`
		StartPriority int      `json:"start_priority"`
		RunModes      []string `json:"run_modes"`
	}

	exclusionDocument struct {
		Namespace    string `json:"namespace"`
		Name         string `json:"name"`
		Classifier   string `json:"classifier"`
		FailIfAbsent bool   `json:"fail_if_absent"`
	}
)

// Load reads and validates the manifest at path.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest: %w", err)
	}
	return Parse(data, path)
}

// Parse validates manifest data. filename is used in error messages and to
// anchor the manifest's relative paths.
func Parse(data []byte, filename string) (*Manifest, error) {
	result, err := cueutil.ParseAndDecodeString[manifestDocument](
		manifestSchema,
		data,
		"#Manifest",
		cueutil.WithFilename(filename),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrManifestInvalid, err)
	}

	doc := result.Value

	abs, err := filepath.Abs(filename)
	if err != nil {
		return nil, fmt.Errorf("resolving manifest path: %w", err)
	}

	m := &Manifest{
		Project: Info{
			Namespace: doc.Project.Namespace,
			Name:      doc.Project.Name,
			Version:   doc.Project.Version,
		},
		BundlesFile:     doc.BundlesFile,
		IncludeDefaults: doc.IncludeDefaults,
		RuleFiles:       doc.RuleFiles,
		ConfigDir:       doc.ConfigDir,
		Launcher: Extras{
			Properties: doc.Launcher.Properties,
			Bootstrap:  doc.Launcher.Bootstrap,
		},
		path: abs,
		dir:  filepath.Dir(abs),
	}

	if doc.DefaultList != "" {
		coord, err := coordinate.Parse(doc.DefaultList)
		if err != nil {
			return nil, fmt.Errorf("%w: default_list: %s", ErrManifestInvalid, err)
		}
		if coord.Type != coordinate.TypePartial {
			return nil, fmt.Errorf("%w: default_list %q must be type %q, got %q",
				ErrManifestInvalid, doc.DefaultList, coordinate.TypePartial, coord.Type)
		}
		m.DefaultList = coord
	}

	for i, dep := range doc.Dependencies {
		coord, err := coordinate.Parse(dep.Coordinate)
		if err != nil {
			return nil, fmt.Errorf("%w: dependencies[%d]: %s", ErrManifestInvalid, i, err)
		}
		if err := coord.Validate(); err != nil {
			return nil, fmt.Errorf("%w: dependencies[%d]: %s", ErrManifestInvalid, i, err)
		}
		m.Dependencies = append(m.Dependencies, Dependency{Coordinate: coord})
	}

	for i, add := range doc.Additions {
		entry := bundlelist.Entry{
			Namespace:     add.Namespace,
			Name:          add.Name,
			Classifier:    add.Classifier,
			Version:       add.Version,
			StartPriority: add.StartPriority,
			RunModes:      add.RunModes,
		}
		if err := entry.Validate(); err != nil {
			return nil, fmt.Errorf("%w: additions[%d]: %s", ErrManifestInvalid, i, err)
		}
		m.Additions = append(m.Additions, entry)
	}

	for _, excl := range doc.Exclusions {
		m.Exclusions = append(m.Exclusions, Exclusion{
			Namespace:    excl.Namespace,
			Name:         excl.Name,
			Classifier:   excl.Classifier,
			FailIfAbsent: excl.FailIfAbsent,
		})
	}

	return m, nil
}

// Find walks from startDir up to the filesystem root looking for a
// launchkit.cue manifest and returns its path.
func Find(startDir string) (string, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", err
	}

	for {
		candidate := filepath.Join(dir, DefaultManifestName)
		info, err := os.Stat(candidate)
		if err == nil && info.Mode().IsRegular() {
			return candidate, nil
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return "", fmt.Errorf("%w (searched from %s upward)", ErrManifestNotFound, startDir)
		}
		dir = parent
	}
}

// Path returns the absolute manifest file path.
func (m *Manifest) Path() string { return m.path }

// Dir returns the project directory, the anchor for the manifest's
// relative paths.
func (m *Manifest) Dir() string { return m.dir }

// HasDefaultList reports whether the manifest overrides the default-list
// coordinate.
func (m *Manifest) HasDefaultList() bool { return m.DefaultList.Namespace != "" }

// PartialDependencies returns the coordinates of all dependencies with
// packaging type partial, in declaration order.
func (m *Manifest) PartialDependencies() []coordinate.Coordinate {
	var out []coordinate.Coordinate
	for _, dep := range m.Dependencies {
		if dep.Coordinate.Type == coordinate.TypePartial {
			out = append(out, dep.Coordinate)
		}
	}
	return out
}

// BundlesPath returns the absolute path of the project bundle list.
func (m *Manifest) BundlesPath() string {
	return filepath.Join(m.dir, filepath.FromSlash(m.BundlesFile))
}

// ConfigDirPath returns the absolute path of the project config tree.
func (m *Manifest) ConfigDirPath() string {
	return filepath.Join(m.dir, filepath.FromSlash(m.ConfigDir))
}

// RuleFilePaths returns the absolute paths of the configured rule files,
// in declaration order.
func (m *Manifest) RuleFilePaths() []string {
	out := make([]string, len(m.RuleFiles))
	for i, rel := range m.RuleFiles {
		out[i] = filepath.Join(m.dir, filepath.FromSlash(rel))
	}
	return out
}

// PropertiesPath returns the absolute path of the project launcher
// properties file, or "" when not configured.
func (m *Manifest) PropertiesPath() string {
	if m.Launcher.Properties == "" {
		return ""
	}
	return filepath.Join(m.dir, filepath.FromSlash(m.Launcher.Properties))
}

// BootstrapPath returns the absolute path of the project bootstrap
// fragment, or "" when not configured.
func (m *Manifest) BootstrapPath() string {
	if m.Launcher.Bootstrap == "" {
		return ""
	}
	return filepath.Join(m.dir, filepath.FromSlash(m.Launcher.Bootstrap))
}
