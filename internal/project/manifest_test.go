// SPDX-License-Identifier: MPL-2.0

package project

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"launchkit-cli/pkg/coordinate"
)

const fullManifest = `
project: {
	namespace: "com.example"
	name:      "storefront"
	version:   "2.1.0"
}
bundles_file:     "lists/bundles.cue"
include_defaults: true
default_list:     "io.launchkit:default-bundles:[1.0,2.0):partial"
dependencies: [
	{coordinate: "com.example:feature-search:1.4.2:partial"},
	{coordinate: "com.example:theme:2.0.0:config"},
	{coordinate: "com.example:feature-cart:[1.0,):partial"},
]
additions: [
	{namespace: "org.example", name: "metrics", version: "3.0.1", start_priority: 20},
]
exclusions: [
	{namespace: "org.example", name: "legacy-auth"},
	{namespace: "org.example", name: "debug-console", fail_if_absent: true},
]
rule_files: ["rules/site.hcl", "rules/perf.hcl"]
config_dir: "src/launcher/config"
launcher: {
	properties: "launcher/extra.toml"
	bootstrap:  "launcher/extra.sh"
}
`

func TestParseFullManifest(t *testing.T) {
	m, err := Parse([]byte(fullManifest), "launchkit.cue")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if m.Project.Namespace != "com.example" || m.Project.Name != "storefront" || m.Project.Version != "2.1.0" {
		t.Errorf("Project = %+v, want com.example/storefront/2.1.0", m.Project)
	}
	if m.BundlesFile != "lists/bundles.cue" {
		t.Errorf("BundlesFile = %q, want %q", m.BundlesFile, "lists/bundles.cue")
	}
	if !m.IncludeDefaults {
		t.Error("IncludeDefaults = false, want true")
	}
	if !m.HasDefaultList() {
		t.Fatal("HasDefaultList() = false, want true")
	}
	if got := m.DefaultList.String(); got != "io.launchkit:default-bundles:[1.0,2.0):partial" {
		t.Errorf("DefaultList = %q, want the manifest coordinate", got)
	}
	if len(m.Dependencies) != 3 {
		t.Fatalf("len(Dependencies) = %d, want 3", len(m.Dependencies))
	}
	if len(m.Additions) != 1 {
		t.Fatalf("len(Additions) = %d, want 1", len(m.Additions))
	}
	if got := m.Additions[0].StartPriority; got != 20 {
		t.Errorf("Additions[0].StartPriority = %d, want 20", got)
	}
	if len(m.Exclusions) != 2 {
		t.Fatalf("len(Exclusions) = %d, want 2", len(m.Exclusions))
	}
	if m.Exclusions[0].FailIfAbsent {
		t.Error("Exclusions[0].FailIfAbsent = true, want default false")
	}
	if !m.Exclusions[1].FailIfAbsent {
		t.Error("Exclusions[1].FailIfAbsent = false, want true")
	}
	if got := m.Exclusions[0].ID(); got != (coordinate.ID{Namespace: "org.example", Name: "legacy-auth"}) {
		t.Errorf("Exclusions[0].ID() = %v", got)
	}
	if m.ConfigDir != "src/launcher/config" {
		t.Errorf("ConfigDir = %q, want %q", m.ConfigDir, "src/launcher/config")
	}
	if m.Launcher.Properties != "launcher/extra.toml" || m.Launcher.Bootstrap != "launcher/extra.sh" {
		t.Errorf("Launcher = %+v", m.Launcher)
	}
}

func TestParseMinimalManifestDefaults(t *testing.T) {
	minimal := `
project: {
	namespace: "com.example"
	name:      "minimal"
	version:   "0.1.0"
}
`
	m, err := Parse([]byte(minimal), "launchkit.cue")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if m.BundlesFile != "bundles.cue" {
		t.Errorf("BundlesFile = %q, want default %q", m.BundlesFile, "bundles.cue")
	}
	if !m.IncludeDefaults {
		t.Error("IncludeDefaults = false, want default true")
	}
	if m.HasDefaultList() {
		t.Error("HasDefaultList() = true, want false")
	}
	if m.ConfigDir != "config" {
		t.Errorf("ConfigDir = %q, want default %q", m.ConfigDir, "config")
	}
	if len(m.Dependencies) != 0 || len(m.Additions) != 0 || len(m.Exclusions) != 0 || len(m.RuleFiles) != 0 {
		t.Errorf("non-empty collections in minimal manifest: %+v", m)
	}
	if m.PropertiesPath() != "" || m.BootstrapPath() != "" {
		t.Error("launcher extras paths set without configuration")
	}
}

func TestParseInvalidManifests(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{
			name: "missing project name",
			data: `project: {namespace: "com.example", version: "1.0.0"}`,
		},
		{
			name: "empty project namespace",
			data: `project: {namespace: "", name: "x", version: "1.0.0"}`,
		},
		{
			name: "malformed default_list coordinate",
			data: `
project: {namespace: "com.example", name: "x", version: "1.0.0"}
default_list: "not-a-coordinate"
`,
		},
		{
			name: "default_list with bundle type",
			data: `
project: {namespace: "com.example", name: "x", version: "1.0.0"}
default_list: "io.launchkit:default-bundles:1.0.0:bundle"
`,
		},
		{
			name: "malformed dependency coordinate",
			data: `
project: {namespace: "com.example", name: "x", version: "1.0.0"}
dependencies: [{coordinate: "com.example:broken"}]
`,
		},
		{
			name: "dependency with unknown type",
			data: `
project: {namespace: "com.example", name: "x", version: "1.0.0"}
dependencies: [{coordinate: "com.example:thing:1.0.0:jar"}]
`,
		},
		{
			name: "addition with invalid version",
			data: `
project: {namespace: "com.example", name: "x", version: "1.0.0"}
additions: [{namespace: "org.example", name: "metrics", version: "not a version"}]
`,
		},
		{
			name: "addition missing version",
			data: `
project: {namespace: "com.example", name: "x", version: "1.0.0"}
additions: [{namespace: "org.example", name: "metrics"}]
`,
		},
		{
			name: "exclusion with empty name",
			data: `
project: {namespace: "com.example", name: "x", version: "1.0.0"}
exclusions: [{namespace: "org.example", name: ""}]
`,
		},
		{
			name: "empty rule file path",
			data: `
project: {namespace: "com.example", name: "x", version: "1.0.0"}
rule_files: [""]
`,
		},
		{
			name: "not cue at all",
			data: `{{{{`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), "launchkit.cue")
			if !errors.Is(err, ErrManifestInvalid) {
				t.Errorf("Parse() error = %v, want ErrManifestInvalid", err)
			}
		})
	}
}

func TestPartialDependencies(t *testing.T) {
	m, err := Parse([]byte(fullManifest), "launchkit.cue")
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	partials := m.PartialDependencies()
	if len(partials) != 2 {
		t.Fatalf("len(PartialDependencies()) = %d, want 2", len(partials))
	}
	if got := partials[0].Name; got != "feature-search" {
		t.Errorf("partials[0].Name = %q, want %q (declaration order)", got, "feature-search")
	}
	if got := partials[1].Name; got != "feature-cart" {
		t.Errorf("partials[1].Name = %q, want %q", got, "feature-cart")
	}
}

func TestManifestPaths(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "launchkit.cue")
	if err := os.WriteFile(path, []byte(fullManifest), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if m.Dir() != dir {
		t.Errorf("Dir() = %q, want %q", m.Dir(), dir)
	}
	if want := filepath.Join(dir, "lists", "bundles.cue"); m.BundlesPath() != want {
		t.Errorf("BundlesPath() = %q, want %q", m.BundlesPath(), want)
	}
	if want := filepath.Join(dir, "src", "launcher", "config"); m.ConfigDirPath() != want {
		t.Errorf("ConfigDirPath() = %q, want %q", m.ConfigDirPath(), want)
	}
	rulePaths := m.RuleFilePaths()
	if len(rulePaths) != 2 || rulePaths[0] != filepath.Join(dir, "rules", "site.hcl") {
		t.Errorf("RuleFilePaths() = %v", rulePaths)
	}
	if want := filepath.Join(dir, "launcher", "extra.toml"); m.PropertiesPath() != want {
		t.Errorf("PropertiesPath() = %q, want %q", m.PropertiesPath(), want)
	}
}

func TestFind(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "a", "b", "c")
	if err := os.MkdirAll(nested, 0o755); err != nil {
		t.Fatal(err)
	}
	manifest := filepath.Join(root, DefaultManifestName)
	if err := os.WriteFile(manifest, []byte("project: {}"), 0o644); err != nil {
		t.Fatal(err)
	}

	found, err := Find(nested)
	if err != nil {
		t.Fatalf("Find() error = %v", err)
	}
	if found != manifest {
		t.Errorf("Find() = %q, want %q", found, manifest)
	}
}

func TestFindNotFound(t *testing.T) {
	_, err := Find(t.TempDir())
	if !errors.Is(err, ErrManifestNotFound) {
		t.Errorf("Find() error = %v, want ErrManifestNotFound", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "launchkit.cue"))
	if err == nil {
		t.Fatal("Load() of missing file succeeded, want error")
	}
	if errors.Is(err, ErrManifestInvalid) {
		t.Errorf("missing file reported as invalid manifest: %v", err)
	}
}
