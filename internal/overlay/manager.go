// SPDX-License-Identifier: MPL-2.0

// Package overlay accumulates launcher configuration from config payload
// archives and project extras: launcher properties (later wins), bootstrap
// script fragments (concatenated), and a configuration directory overlay.
package overlay

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"os"
	"path/filepath"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"mvdan.cc/sh/v3/syntax"

	"launchkit-cli/pkg/platform"
)

// Well-known entry paths inside a config payload archive.
const (
	propertiesEntry = "launcher/launcher.toml"
	bootstrapEntry  = "launcher/bootstrap.sh"
	configEntryDir  = "config"
)

// ErrExtractionFailed is returned when a config payload archive cannot be
// extracted. Extraction failures are fatal to the assembly.
var ErrExtractionFailed = errors.New("config payload extraction failed")

// Manager accumulates overlay state across applied payloads. It is not safe
// for concurrent use; the assembly pipeline applies payloads sequentially.
type Manager struct {
	workDir          string
	projectConfigDir string

	// overlayDir is created lazily on the first payload that carries a
	// config tree, seeded from projectConfigDir.
	overlayDir string

	props     map[string]string
	bootstrap []string
	log       *slog.Logger
}

// NewManager creates a manager rooted at workDir. Extraction temp dirs and
// the config overlay live under workDir; the caller owns its lifetime.
// projectConfigDir seeds the overlay and may name a missing directory.
// A nil logger discards logs.
func NewManager(workDir, projectConfigDir string, log *slog.Logger) (*Manager, error) {
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if workDir == "" {
		dir, err := os.MkdirTemp("", "launchkit-overlay-*")
		if err != nil {
			return nil, fmt.Errorf("creating overlay work dir: %w", err)
		}
		workDir = dir
	} else if err := os.MkdirAll(workDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating overlay work dir: %w", err)
	}

	return &Manager{
		workDir:          workDir,
		projectConfigDir: projectConfigDir,
		props:            make(map[string]string),
		log:              log,
	}, nil
}

// Apply extracts a config payload archive and merges its parts into the
// accumulated state. The extraction directory is removed before Apply
// returns, on success and failure alike.
func (m *Manager) Apply(archivePath string) error {
	tmp, err := os.MkdirTemp(m.workDir, "extract-*")
	if err != nil {
		return fmt.Errorf("creating extraction dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	if err := m.extractZip(archivePath, tmp); err != nil {
		return fmt.Errorf("%w: %s: %s", ErrExtractionFailed, filepath.Base(archivePath), err)
	}

	name := filepath.Base(archivePath)

	propsPath := filepath.Join(tmp, filepath.FromSlash(propertiesEntry))
	if data, err := os.ReadFile(propsPath); err == nil {
		var props map[string]string
		if err := toml.Unmarshal(data, &props); err != nil {
			return fmt.Errorf("launcher properties in %s: %w", name, err)
		}
		m.MergeProperties(props)
		m.log.Debug("merged launcher properties", "payload", name, "keys", len(props))
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("reading launcher properties from %s: %w", name, err)
	}

	bootPath := filepath.Join(tmp, filepath.FromSlash(bootstrapEntry))
	if data, err := os.ReadFile(bootPath); err == nil {
		m.checkShellSyntax(data, name)
		m.AppendBootstrap(string(data))
		m.log.Debug("appended bootstrap fragment", "payload", name, "bytes", len(data))
	} else if !os.IsNotExist(err) {
		return fmt.Errorf("reading bootstrap fragment from %s: %w", name, err)
	}

	configPath := filepath.Join(tmp, configEntryDir)
	if info, err := os.Stat(configPath); err == nil && info.IsDir() {
		if err := m.ensureOverlayDir(); err != nil {
			return err
		}
		if err := CopyTree(configPath, m.overlayDir); err != nil {
			return fmt.Errorf("overlaying config tree from %s: %w", name, err)
		}
		m.log.Debug("overlaid config tree", "payload", name)
	}

	return nil
}

// MergeProperties merges props into the accumulated launcher properties.
// Later values win over earlier ones for the same key.
func (m *Manager) MergeProperties(props map[string]string) {
	for k, v := range props {
		m.props[k] = v
	}
}

// AppendBootstrap appends a script fragment to the accumulated bootstrap
// script. Empty fragments are ignored.
func (m *Manager) AppendBootstrap(fragment string) {
	fragment = strings.TrimRight(fragment, "\n")
	if fragment == "" {
		return
	}
	m.bootstrap = append(m.bootstrap, fragment)
}

// Properties returns a copy of the accumulated launcher properties.
func (m *Manager) Properties() map[string]string {
	return maps.Clone(m.props)
}

// Bootstrap returns the accumulated bootstrap script, fragments joined in
// application order. Empty when no fragment was applied.
func (m *Manager) Bootstrap() string {
	return strings.Join(m.bootstrap, "\n")
}

// ConfigDir returns the effective configuration directory: the overlay dir
// once a payload has carried a config tree, otherwise the project config
// dir.
func (m *Manager) ConfigDir() string {
	if m.overlayDir != "" {
		return m.overlayDir
	}
	return m.projectConfigDir
}

// HasOverlay reports whether any applied payload carried a config tree.
func (m *Manager) HasOverlay() bool {
	return m.overlayDir != ""
}

// ensureOverlayDir creates the overlay dir on first use, seeding it from
// the project config dir when that exists.
func (m *Manager) ensureOverlayDir() error {
	if m.overlayDir != "" {
		return nil
	}

	dir := filepath.Join(m.workDir, "config-overlay")
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("creating config overlay dir: %w", err)
	}

	if info, err := os.Stat(m.projectConfigDir); err == nil && info.IsDir() {
		if err := CopyTree(m.projectConfigDir, dir); err != nil {
			return fmt.Errorf("seeding config overlay from project: %w", err)
		}
		m.log.Debug("seeded config overlay", "from", m.projectConfigDir)
	}

	m.overlayDir = dir
	return nil
}

// checkShellSyntax parses the fragment as POSIX shell and logs a warning on
// failure. A fragment that does not parse is still applied; the launcher's
// shell has the final say.
func (m *Manager) checkShellSyntax(data []byte, source string) {
	parser := syntax.NewParser(syntax.Variant(syntax.LangPOSIX))
	if _, err := parser.Parse(bytes.NewReader(data), source); err != nil {
		m.log.Warn("bootstrap fragment has shell syntax errors", "payload", source, "error", err)
	}
}

// extractZip extracts an archive into destDir, rejecting entries that would
// escape it. Entries with Windows-reserved names are extracted but flagged.
func (m *Manager) extractZip(archivePath, destDir string) error {
	zipReader, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("opening archive: %w", err)
	}
	defer zipReader.Close()

	for _, file := range zipReader.File {
		destPath := filepath.Join(destDir, filepath.FromSlash(file.Name))

		// Reject entries escaping the extraction root.
		relPath, err := filepath.Rel(destDir, destPath)
		if err != nil || strings.HasPrefix(relPath, "..") {
			return fmt.Errorf("invalid path in archive: %s", file.Name)
		}

		if platform.IsWindowsReservedName(filepath.Base(destPath)) {
			m.log.Warn("archive entry name is reserved on Windows", "entry", file.Name)
		}

		if file.FileInfo().IsDir() {
			if err := os.MkdirAll(destPath, 0o755); err != nil {
				return fmt.Errorf("creating directory: %w", err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(destPath), 0o755); err != nil {
			return fmt.Errorf("creating parent directory: %w", err)
		}
		if err := extractFile(file, destPath); err != nil {
			return fmt.Errorf("extracting %s: %w", file.Name, err)
		}
	}

	return nil
}

// extractFile extracts a single file from the archive.
func extractFile(file *zip.File, destPath string) error {
	rc, err := file.Open()
	if err != nil {
		return err
	}
	defer rc.Close()

	destFile, err := os.OpenFile(destPath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer destFile.Close()

	_, err = io.Copy(destFile, rc)
	return err
}

// CopyTree copies the src directory tree into dst, overwriting files that
// already exist.
func CopyTree(src, dst string) error {
	return filepath.WalkDir(src, func(path string, d os.DirEntry, walkErr error) error {
		if walkErr != nil {
			return walkErr
		}

		relPath, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		if relPath == "." {
			return nil
		}
		destPath := filepath.Join(dst, relPath)

		if d.IsDir() {
			return os.MkdirAll(destPath, 0o755)
		}
		return copyFile(path, destPath)
	})
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
