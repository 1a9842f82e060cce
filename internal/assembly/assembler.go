// SPDX-License-Identifier: MPL-2.0

// Package assembly runs the bundle-list assembly pipeline: base list,
// project additions and exclusions, partial-list merging with configuration
// overlays, project launcher extras, and the rule rewrite stage.
//
// Stage order is a contract. Exclusions are applied before partial lists are
// folded in, so a partial list can reintroduce an entry the project tried to
// exclude: partial lists are authoritative for their own contributions.
package assembly

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"time"

	toml "github.com/pelletier/go-toml/v2"

	"launchkit-cli/internal/overlay"
	"launchkit-cli/internal/project"
	"launchkit-cli/internal/resolver"
	"launchkit-cli/internal/rules"
	"launchkit-cli/pkg/bundlelist"
	"launchkit-cli/pkg/coordinate"
)

// configClassifier marks the companion configuration artifact of a partial
// bundle list: same namespace, name, and version, type config.
const configClassifier = "config"

// toolName is surfaced to rewrite rules as session.tool.
const toolName = "launchkit"

type (
	// ArtifactResolver resolves registry coordinates to local artifact
	// files. Implemented by resolver.Resolver.
	ArtifactResolver interface {
		Resolve(ctx context.Context, coord coordinate.Coordinate) (*resolver.Resolved, error)
	}

	// Options configures one assembly run.
	Options struct {
		// ManifestPath is the project manifest file.
		ManifestPath string
		// WorkDir hosts extraction temp dirs and the config overlay. Empty
		// selects a fresh temp dir owned by the Result (Cleanup removes it);
		// a caller-provided dir is the caller's to remove.
		WorkDir string
		// DefaultList is the configured default-list coordinate. The
		// manifest's default_list overrides it; the zero value means no
		// default list is available.
		DefaultList coordinate.Coordinate
		// SkipRules disables the rewrite stage even when the manifest
		// configures rule files.
		SkipRules bool
		// ToolVersion is surfaced to rewrite rules as session.version.
		ToolVersion string
	}

	// Assembler runs the pipeline. Construct with New.
	Assembler struct {
		resolver ArtifactResolver
		engine   rules.Engine
		log      *slog.Logger
		now      func() time.Time
	}

	// Result is the outcome of a successful assembly run.
	Result struct {
		manifest *project.Manifest
		list     *bundlelist.List
		overlay  *overlay.Manager
		pinned   []resolver.Resolved
		resolver ArtifactResolver
		log      *slog.Logger

		workDir  string
		ownsWork bool
	}
)

// New creates an assembler. A nil engine selects the HCL rule engine; a nil
// logger discards logs.
func New(res ArtifactResolver, engine rules.Engine, log *slog.Logger) *Assembler {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if engine == nil {
		engine = rules.NewHCLEngine(log)
	}
	return &Assembler{
		resolver: res,
		engine:   engine,
		log:      log,
		now:      time.Now,
	}
}

// Assemble runs the full pipeline and returns the assembled result. Any
// resolution, parse, extraction, or rule failure aborts the run; there is no
// partial-success output. A work dir created by Assemble itself is removed
// on the error paths.
func (a *Assembler) Assemble(ctx context.Context, opts Options) (result *Result, err error) {
	manifest, err := project.Load(opts.ManifestPath)
	if err != nil {
		return nil, err
	}

	workDir := opts.WorkDir
	ownsWork := false
	if workDir == "" {
		workDir, err = os.MkdirTemp("", "launchkit-work-*")
		if err != nil {
			return nil, fmt.Errorf("creating assembly work dir: %w", err)
		}
		ownsWork = true
	}
	defer func() {
		if err != nil && ownsWork {
			os.RemoveAll(workDir)
		}
	}()

	ovl, err := overlay.NewManager(workDir, manifest.ConfigDirPath(), a.log)
	if err != nil {
		return nil, err
	}

	result = &Result{
		manifest: manifest,
		overlay:  ovl,
		resolver: a.resolver,
		log:      a.log,
		workDir:  workDir,
		ownsWork: ownsWork,
	}

	list, err := a.baseList(ctx, manifest, opts, result)
	if err != nil {
		return nil, err
	}

	for _, entry := range manifest.Additions {
		list.Add(entry)
	}

	for _, excl := range manifest.Exclusions {
		if err := list.Remove(excl.ID(), excl.FailIfAbsent); err != nil {
			return nil, fmt.Errorf("applying exclusion: %w", err)
		}
	}

	if err := a.mergePartials(ctx, manifest, list, result); err != nil {
		return nil, err
	}

	if err := a.applyProjectExtras(manifest, ovl); err != nil {
		return nil, err
	}

	if err := a.rewrite(ctx, manifest, list, opts); err != nil {
		return nil, err
	}

	result.list = list
	a.log.Info("assembled bundle list",
		"project", manifest.Project.Namespace+":"+manifest.Project.Name,
		"entries", list.Len())
	return result, nil
}

// baseList builds the initial list from the default list and the project's
// own bundles file. When the project is itself the default-list artifact,
// its bundles file is the base and nothing is resolved.
func (a *Assembler) baseList(ctx context.Context, manifest *project.Manifest, opts Options, result *Result) (*bundlelist.List, error) {
	defaultCoord := opts.DefaultList
	if manifest.HasDefaultList() {
		defaultCoord = manifest.DefaultList
	}

	if defaultCoord.Namespace == manifest.Project.Namespace && defaultCoord.Name == manifest.Project.Name {
		a.log.Debug("project provides the default bundle list itself", "file", manifest.BundlesPath())
		list, err := bundlelist.ParseFile(manifest.BundlesPath())
		if err != nil {
			return nil, fmt.Errorf("project bundle list: %w", err)
		}
		return list, nil
	}

	list := bundlelist.New()

	if manifest.IncludeDefaults {
		if defaultCoord.Namespace == "" {
			a.log.Debug("no default bundle list configured, starting empty")
		} else {
			resolved, err := a.resolver.Resolve(ctx, defaultCoord)
			if err != nil {
				return nil, fmt.Errorf("default bundle list: %w", err)
			}
			result.pinned = append(result.pinned, *resolved)

			a.log.Info("using default bundle list", "coordinate", resolved.Coordinate.String(), "file", resolved.Path)
			list, err = bundlelist.ParseFile(resolved.Path)
			if err != nil {
				return nil, fmt.Errorf("default bundle list %s: %w", resolved.Coordinate, err)
			}
		}
	}

	if _, err := os.Stat(manifest.BundlesPath()); err == nil {
		frag, err := bundlelist.ParseFile(manifest.BundlesPath())
		if err != nil {
			return nil, fmt.Errorf("project bundle list: %w", err)
		}
		list.Merge(frag)
		a.log.Debug("merged project bundle list", "file", manifest.BundlesPath(), "entries", frag.Len())
	}

	return list, nil
}

// mergePartials folds every partial-list dependency into the working list,
// in declaration order, and applies each one's configuration companion when
// it exists. A missing companion is the one tolerated absence in the whole
// pipeline.
func (a *Assembler) mergePartials(ctx context.Context, manifest *project.Manifest, list *bundlelist.List, result *Result) error {
	for _, dep := range manifest.PartialDependencies() {
		resolved, err := a.resolver.Resolve(ctx, dep)
		if err != nil {
			return fmt.Errorf("partial bundle list: %w", err)
		}
		result.pinned = append(result.pinned, *resolved)

		a.log.Info("merging partial bundle list", "coordinate", resolved.Coordinate.String())
		frag, err := bundlelist.ParseFile(resolved.Path)
		if err != nil {
			return fmt.Errorf("partial bundle list %s: %w", resolved.Coordinate, err)
		}
		list.Merge(frag)

		companion := coordinate.Coordinate{
			Namespace:  dep.Namespace,
			Name:       dep.Name,
			Version:    resolved.Coordinate.Version,
			Type:       coordinate.TypeConfig,
			Classifier: configClassifier,
		}
		cfgResolved, err := a.resolver.Resolve(ctx, companion)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			a.log.Debug("partial list has no configuration companion",
				"coordinate", companion.String(), "reason", err)
			continue
		}
		result.pinned = append(result.pinned, *cfgResolved)

		a.log.Info("merging partial bundle list configuration", "coordinate", cfgResolved.Coordinate.String())
		if err := result.overlay.Apply(cfgResolved.Path); err != nil {
			return err
		}
	}
	return nil
}

// applyProjectExtras merges the project's own launcher properties and
// bootstrap fragment last, so they win over every payload-contributed value.
// A configured but absent file is skipped, matching the payload entries.
func (a *Assembler) applyProjectExtras(manifest *project.Manifest, ovl *overlay.Manager) error {
	if path := manifest.PropertiesPath(); path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			a.log.Debug("project launcher properties absent", "file", path)
		case err != nil:
			return fmt.Errorf("reading project launcher properties: %w", err)
		default:
			var props map[string]string
			if err := toml.Unmarshal(data, &props); err != nil {
				return fmt.Errorf("project launcher properties %s: %w", path, err)
			}
			ovl.MergeProperties(props)
			a.log.Debug("merged project launcher properties", "file", path, "keys", len(props))
		}
	}

	if path := manifest.BootstrapPath(); path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			a.log.Debug("project bootstrap fragment absent", "file", path)
		case err != nil:
			return fmt.Errorf("reading project bootstrap fragment: %w", err)
		default:
			ovl.AppendBootstrap(string(data))
			a.log.Debug("appended project bootstrap fragment", "file", path, "bytes", len(data))
		}
	}

	return nil
}

// rewrite runs the rule stage against the merged list. Load failures abort
// before any rule fires.
func (a *Assembler) rewrite(ctx context.Context, manifest *project.Manifest, list *bundlelist.List, opts Options) error {
	if opts.SkipRules || len(manifest.RuleFiles) == 0 {
		return nil
	}

	set, err := a.engine.Load(manifest.RuleFilePaths())
	if err != nil {
		return err
	}

	facts := rules.Facts{
		Project: rules.ProjectFacts{
			Namespace: manifest.Project.Namespace,
			Name:      manifest.Project.Name,
			Version:   manifest.Project.Version,
		},
		Session: rules.SessionFacts{
			Tool:      toolName,
			Version:   opts.ToolVersion,
			StartedAt: a.now(),
		},
	}

	a.log.Debug("rewriting bundle list", "rules", set.Len(), "files", len(manifest.RuleFiles))
	return a.engine.Run(ctx, set, list, facts)
}

// List returns the assembled bundle list.
func (r *Result) List() *bundlelist.List {
	return r.list
}

// Entries returns the assembled entries in list order.
func (r *Result) Entries() []bundlelist.Entry {
	return r.list.Entries()
}

// Manifest returns the project manifest the result was assembled from.
func (r *Result) Manifest() *project.Manifest {
	return r.manifest
}

// Properties returns a copy of the merged launcher properties.
func (r *Result) Properties() map[string]string {
	return r.overlay.Properties()
}

// Bootstrap returns the concatenated bootstrap script.
func (r *Result) Bootstrap() string {
	return r.overlay.Bootstrap()
}

// ConfigDir returns the effective configuration directory: the overlay dir
// once any payload carried a config tree, otherwise the project config dir.
func (r *Result) ConfigDir() string {
	return r.overlay.ConfigDir()
}

// Pinned returns the artifacts resolved during assembly: the default list,
// partial lists, and configuration companions, in resolution order.
func (r *Result) Pinned() []resolver.Resolved {
	out := make([]resolver.Resolved, len(r.pinned))
	copy(out, r.pinned)
	return out
}

// Cleanup removes the work dir when Assemble created it. A caller-provided
// work dir is left alone. The result must not be used afterwards.
func (r *Result) Cleanup() error {
	if !r.ownsWork {
		return nil
	}
	return os.RemoveAll(r.workDir)
}
