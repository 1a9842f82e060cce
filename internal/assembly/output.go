// SPDX-License-Identifier: MPL-2.0

package assembly

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	toml "github.com/pelletier/go-toml/v2"

	"launchkit-cli/internal/overlay"
	"launchkit-cli/pkg/bundlelist"
	"launchkit-cli/pkg/installable"
)

const (
	// listFileName is the assembled list document inside an output dir.
	listFileName = "bundles.cue"
	// bundlesDirName holds bundle payloads grouped by start priority.
	bundlesDirName = "bundles"
	// defaultPriorityDir holds payloads with no explicit start priority.
	defaultPriorityDir = "default"
	// launcherDirName holds the merged launcher properties and bootstrap.
	launcherDirName = "launcher"
	// configDirName holds the effective configuration tree.
	configDirName = "config"

	propertiesFileName = "launcher.toml"
	bootstrapFileName  = "bootstrap.sh"
)

// Installables resolves every assembled entry to its payload and returns the
// resources downstream provisioning consumes: one bundle resource per entry,
// plus one configuration resource carrying the merged launcher properties
// when any exist.
func (r *Result) Installables(ctx context.Context) ([]*installable.Resource, error) {
	entries := r.list.Entries()
	out := make([]*installable.Resource, 0, len(entries)+1)

	for _, e := range entries {
		resolved, err := r.resolver.Resolve(ctx, e.Coordinate())
		if err != nil {
			return nil, fmt.Errorf("resolving bundle %s: %w", e.ID(), err)
		}

		props := make(map[string]string)
		if e.StartPriority != bundlelist.DefaultStartPriority {
			props[installable.PropStartPriority] = strconv.Itoa(e.StartPriority)
		}
		if len(e.RunModes) > 0 {
			props[installable.PropRunModes] = strings.Join(e.RunModes, ",")
		}

		opts := []installable.Option{
			installable.WithPayloadPath(resolved.Path),
			installable.WithDigest(resolved.Coordinate.Version),
		}
		if len(props) > 0 {
			opts = append(opts, installable.WithProperties(props))
		}

		res, err := installable.New(resolved.Coordinate.Filename(), installable.TypeBundle, opts...)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}

	if props := r.overlay.Properties(); len(props) > 0 {
		res, err := installable.New(propertiesFileName, installable.TypeConfig,
			installable.WithProperties(props),
			installable.WithDigest(propertiesDigest(props)),
		)
		if err != nil {
			return nil, err
		}
		out = append(out, res)
	}

	return out, nil
}

// Materialize writes the assembled output below dir:
//
//	bundles.cue                the final list document
//	bundles/<priority>/<file>  bundle payloads by start priority
//	launcher/launcher.toml     merged launcher properties, when any
//	launcher/bootstrap.sh      concatenated bootstrap script, when any
//	config/...                 the effective configuration tree, when any
//
// Payloads are resolved on demand, so Materialize may hit the network for
// entries not already cached.
func (r *Result) Materialize(ctx context.Context, dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating output dir: %w", err)
	}

	if err := bundlelist.WriteFile(filepath.Join(dir, listFileName), r.list); err != nil {
		return err
	}

	for _, e := range r.list.Entries() {
		resolved, err := r.resolver.Resolve(ctx, e.Coordinate())
		if err != nil {
			return fmt.Errorf("resolving bundle %s: %w", e.ID(), err)
		}

		destDir := filepath.Join(dir, bundlesDirName, priorityDir(e.StartPriority))
		if err := os.MkdirAll(destDir, 0o755); err != nil {
			return fmt.Errorf("creating payload dir: %w", err)
		}
		dest := filepath.Join(destDir, resolved.Coordinate.Filename())
		if err := copyFile(resolved.Path, dest); err != nil {
			return fmt.Errorf("copying bundle %s: %w", e.ID(), err)
		}
	}

	if props := r.overlay.Properties(); len(props) > 0 {
		data, err := toml.Marshal(props)
		if err != nil {
			return fmt.Errorf("encoding launcher properties: %w", err)
		}
		path := filepath.Join(dir, launcherDirName, propertiesFileName)
		if err := writeFile(path, data, 0o644); err != nil {
			return err
		}
	}

	if script := r.overlay.Bootstrap(); script != "" {
		path := filepath.Join(dir, launcherDirName, bootstrapFileName)
		if err := writeFile(path, []byte(script), 0o644); err != nil {
			return err
		}
	}

	cfg := r.overlay.ConfigDir()
	if info, err := os.Stat(cfg); err == nil && info.IsDir() {
		if err := overlay.CopyTree(cfg, filepath.Join(dir, configDirName)); err != nil {
			return fmt.Errorf("copying configuration tree: %w", err)
		}
	}

	r.log.Info("materialized assembly output", "dir", dir, "entries", r.list.Len())
	return nil
}

// priorityDir names the payload subdirectory for a start priority.
func priorityDir(priority int) string {
	if priority == bundlelist.DefaultStartPriority {
		return defaultPriorityDir
	}
	return strconv.Itoa(priority)
}

// propertiesDigest derives a change marker from the property dictionary:
// keys and values in sorted key order.
func propertiesDigest(props map[string]string) string {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var sb strings.Builder
	for _, k := range keys {
		sb.WriteString(k)
		sb.WriteByte('=')
		sb.WriteString(props[k])
		sb.WriteByte('\n')
	}
	return sb.String()
}

func writeFile(path string, data []byte, perm os.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating %s: %w", filepath.Dir(path), err)
	}
	if err := os.WriteFile(path, data, perm); err != nil {
		return fmt.Errorf("writing %s: %w", path, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dst)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
