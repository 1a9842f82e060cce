// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"launchkit-cli/internal/config"
	"launchkit-cli/internal/issue"
	"launchkit-cli/internal/resolver"
	"launchkit-cli/pkg/bundlelist"
	"launchkit-cli/pkg/coordinate"
)

// fakeConfigProvider returns a canned config or error without touching the
// user's real configuration files.
type fakeConfigProvider struct {
	cfg  *config.Config
	err  error
	opts []config.LoadOptions
}

func (f *fakeConfigProvider) Load(_ context.Context, opts config.LoadOptions) (*config.Config, error) {
	f.opts = append(f.opts, opts)
	if f.err != nil {
		return nil, f.err
	}
	return f.cfg, nil
}

// localConfig builds a config that keeps all service activity inside the
// test's temp space: a private cache dir, no registries, no default list.
func localConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		CacheDir: config.CacheDirPath(t.TempDir()),
		UI:       config.UIConfig{ColorScheme: config.ColorSchemeAuto},
	}
}

// writeTestProject lays out a manifest plus sibling files under a temp dir
// and returns the manifest path.
func writeTestProject(t *testing.T, manifest string, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	manifestPath := filepath.Join(dir, "launchkit.cue")
	if err := os.WriteFile(manifestPath, []byte(manifest), 0o644); err != nil {
		t.Fatal(err)
	}
	for rel, content := range files {
		path := filepath.Join(dir, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatal(err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	return manifestPath
}

func TestNewAppDefaults(t *testing.T) {
	t.Parallel()

	app := NewApp(Dependencies{})
	if app.Config == nil {
		t.Error("NewApp left Config nil")
	}
	if app.Assembly == nil {
		t.Error("NewApp left Assembly nil")
	}
	if app.Resolver == nil {
		t.Error("NewApp left Resolver nil")
	}
}

func TestNewAppKeepsProvidedDependencies(t *testing.T) {
	t.Parallel()

	provider := &fakeConfigProvider{cfg: config.DefaultConfig()}
	app := NewApp(Dependencies{Config: provider})

	if app.Config != provider {
		t.Error("NewApp replaced the provided ConfigProvider")
	}
}

func TestLoadConfigWithFallback(t *testing.T) {
	t.Parallel()

	t.Run("successful load", func(t *testing.T) {
		t.Parallel()

		want := localConfig(t)
		provider := &fakeConfigProvider{cfg: want}

		got, err := loadConfigWithFallback(context.Background(), provider, "")
		if err != nil {
			t.Fatalf("loadConfigWithFallback() error = %v", err)
		}
		if got != want {
			t.Error("loadConfigWithFallback() did not return the provider's config")
		}
	})

	t.Run("explicit path failure is fatal", func(t *testing.T) {
		t.Parallel()

		provider := &fakeConfigProvider{err: errors.New("bad cue")}

		_, err := loadConfigWithFallback(context.Background(), provider, "/tmp/custom.cue")
		if err == nil {
			t.Fatal("explicit config path failure did not propagate")
		}
		if !strings.Contains(err.Error(), "/tmp/custom.cue") {
			t.Errorf("error %q does not name the config path", err)
		}
	})

	t.Run("default path failure falls back to defaults", func(t *testing.T) {
		t.Parallel()

		provider := &fakeConfigProvider{err: errors.New("bad cue")}

		got, err := loadConfigWithFallback(context.Background(), provider, "")
		if err != nil {
			t.Fatalf("loadConfigWithFallback() error = %v", err)
		}
		if got.DefaultList != config.DefaultConfig().DefaultList {
			t.Errorf("fallback config = %+v, want defaults", got)
		}
	})

	t.Run("explicit path reaches the provider", func(t *testing.T) {
		t.Parallel()

		provider := &fakeConfigProvider{cfg: localConfig(t)}

		if _, err := loadConfigWithFallback(context.Background(), provider, "/tmp/custom.cue"); err != nil {
			t.Fatalf("loadConfigWithFallback() error = %v", err)
		}
		if len(provider.opts) != 1 || provider.opts[0].ConfigFilePath != "/tmp/custom.cue" {
			t.Errorf("provider options = %+v, want ConfigFilePath passthrough", provider.opts)
		}
	})
}

func TestDefaultListCoordinate(t *testing.T) {
	t.Parallel()

	t.Run("unset means none", func(t *testing.T) {
		t.Parallel()

		coord, err := defaultListCoordinate(&config.Config{})
		if err != nil {
			t.Fatalf("defaultListCoordinate() error = %v", err)
		}
		if coord != (coordinate.Coordinate{}) {
			t.Errorf("coord = %+v, want zero value", coord)
		}
	})

	t.Run("configured coordinate parses", func(t *testing.T) {
		t.Parallel()

		cfg := &config.Config{DefaultList: "io.launchkit:default-bundles:[1.0,2.0):partial"}
		coord, err := defaultListCoordinate(cfg)
		if err != nil {
			t.Fatalf("defaultListCoordinate() error = %v", err)
		}
		if coord.Namespace != "io.launchkit" || coord.Name != "default-bundles" {
			t.Errorf("coord = %+v, want the configured identity", coord)
		}
	})

	t.Run("malformed coordinate errors", func(t *testing.T) {
		t.Parallel()

		if _, err := defaultListCoordinate(&config.Config{DefaultList: "nonsense"}); err == nil {
			t.Fatal("malformed default_list accepted")
		}
	})
}

func TestAssemblyServiceLocalProject(t *testing.T) {
	t.Parallel()

	manifestPath := writeTestProject(t, `
project: {
	namespace: "com.acme"
	name:      "shop"
	version:   "1.0.0"
}
include_defaults: false
`, map[string]string{
		"bundles.cue": `
bundles: [
	{namespace: "com.acme", name: "shop-app", version: "1.0.0"},
	{namespace: "com.acme", name: "shop-theme", version: "2.0.0", start_priority: 5},
]
`,
	})

	svc := &appAssemblyService{config: &fakeConfigProvider{cfg: localConfig(t)}}
	result, err := svc.Assemble(context.Background(), AssembleRequest{
		ManifestPath: manifestPath,
		Offline:      true,
	})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	t.Cleanup(func() {
		if err := result.Cleanup(); err != nil {
			t.Errorf("Cleanup() error = %v", err)
		}
	})

	entries := result.Entries()
	if len(entries) != 2 {
		t.Fatalf("len(Entries()) = %d, want 2", len(entries))
	}
	if got := entries[0].ID().String(); got != "com.acme:shop-app" {
		t.Errorf("entries[0] = %q, want com.acme:shop-app", got)
	}
	if got := result.Manifest().Project.Name; got != "shop" {
		t.Errorf("Manifest().Project.Name = %q, want shop", got)
	}
}

func TestAssemblyServiceWrapsAssemblyErrors(t *testing.T) {
	t.Parallel()

	manifestPath := writeTestProject(t, `
project: {
	namespace: "com.acme"
	name:      "shop"
	version:   "1.0.0"
}
include_defaults: false
exclusions: [
	{namespace: "io.launchkit", name: "ghost", fail_if_absent: true},
]
`, nil)

	svc := &appAssemblyService{config: &fakeConfigProvider{cfg: localConfig(t)}}
	_, err := svc.Assemble(context.Background(), AssembleRequest{
		ManifestPath: manifestPath,
		Offline:      true,
	})
	if err == nil {
		t.Fatal("Assemble() succeeded with a strict exclusion on an empty list")
	}

	var svcErr *ServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("error %v is not a ServiceError", err)
	}
	if svcErr.IssueID != issue.EntryNotFoundId {
		t.Errorf("IssueID = %d, want EntryNotFoundId", svcErr.IssueID)
	}
	if !errors.Is(err, bundlelist.ErrEntryNotFound) {
		t.Error("underlying ErrEntryNotFound not reachable through the ServiceError")
	}
}

func TestAssemblyServiceExplicitConfigFailure(t *testing.T) {
	t.Parallel()

	svc := &appAssemblyService{config: &fakeConfigProvider{err: errors.New("bad cue")}}
	_, err := svc.Assemble(context.Background(), AssembleRequest{
		ManifestPath: "launchkit.cue",
		ConfigPath:   "/tmp/custom.cue",
	})
	if err == nil {
		t.Fatal("Assemble() succeeded with a broken explicit config")
	}

	var svcErr *ServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("error %v is not a ServiceError", err)
	}
	if svcErr.IssueID != issue.ConfigLoadFailedId {
		t.Errorf("IssueID = %d, want ConfigLoadFailedId", svcErr.IssueID)
	}
}

func TestResolveServiceOfflineCacheMiss(t *testing.T) {
	t.Parallel()

	svc := &appResolveService{config: &fakeConfigProvider{cfg: localConfig(t)}}
	coord := coordinate.Coordinate{
		Namespace: "com.acme",
		Name:      "shop-app",
		Version:   "1.0.0",
		Type:      coordinate.TypeBundle,
	}

	_, err := svc.Resolve(context.Background(), ResolveRequest{Coordinate: coord, Offline: true})
	if err == nil {
		t.Fatal("Resolve() succeeded offline with an empty cache")
	}
	if !errors.Is(err, resolver.ErrNoRegistries) {
		t.Errorf("error = %v, want ErrNoRegistries", err)
	}

	var svcErr *ServiceError
	if !errors.As(err, &svcErr) {
		t.Fatalf("error %v is not a ServiceError", err)
	}
}
