// SPDX-License-Identifier: MPL-2.0

package assembly

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"launchkit-cli/internal/registry"
	"launchkit-cli/internal/resolver"
	"launchkit-cli/internal/testutil"
	"launchkit-cli/pkg/bundlelist"
	"launchkit-cli/pkg/coordinate"
)

// fakeResolver serves artifacts from an in-memory stock rooted in a temp
// dir, recording every coordinate it is asked for. Range requirements pin
// to the highest stocked version, like the real resolver.
type fakeResolver struct {
	t     testing.TB
	dir   string
	stock []stocked
	calls []string
}

type stocked struct {
	coord coordinate.Coordinate
	path  string
}

func newFakeResolver(t testing.TB) *fakeResolver {
	return &fakeResolver{t: t, dir: t.TempDir()}
}

func (f *fakeResolver) addList(coord coordinate.Coordinate, doc string) {
	f.t.Helper()
	path := filepath.Join(f.dir, coord.Filename())
	testutil.MustWriteFile(f.t, path, []byte(doc))
	f.stock = append(f.stock, stocked{coord: coord, path: path})
}

func (f *fakeResolver) addZip(coord coordinate.Coordinate, entries map[string]string) {
	f.t.Helper()
	path := filepath.Join(f.dir, coord.Filename())
	testutil.BuildZip(f.t, path, entries)
	f.stock = append(f.stock, stocked{coord: coord, path: path})
}

func (f *fakeResolver) Resolve(_ context.Context, coord coordinate.Coordinate) (*resolver.Resolved, error) {
	f.calls = append(f.calls, coord.String())

	if !coord.IsPinned() {
		var versions []string
		for _, s := range f.stock {
			if s.coord.Namespace == coord.Namespace && s.coord.Name == coord.Name &&
				s.coord.Type == coord.Type && s.coord.Classifier == coord.Classifier {
				versions = append(versions, s.coord.Version)
			}
		}
		version, err := coordinate.Resolve(coord.Version, versions)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %s", registry.ErrArtifactNotFound, coord, err)
		}
		coord = coord.WithVersion(version)
	}

	for _, s := range f.stock {
		if s.coord == coord {
			return &resolver.Resolved{Coordinate: coord, Path: s.path, FromCache: true}, nil
		}
	}
	return nil, fmt.Errorf("%w: %s", registry.ErrArtifactNotFound, coord)
}

func partialCoord(ns, name, version string) coordinate.Coordinate {
	return coordinate.Coordinate{Namespace: ns, Name: name, Version: version, Type: coordinate.TypePartial}
}

func companionCoord(ns, name, version string) coordinate.Coordinate {
	return coordinate.Coordinate{
		Namespace:  ns,
		Name:       name,
		Version:    version,
		Type:       coordinate.TypeConfig,
		Classifier: "config",
	}
}

// writeProject lays out a manifest plus optional sibling files under a fresh
// temp dir and returns the manifest path. Map keys are slash-separated paths
// relative to the project dir.
func writeProject(t *testing.T, manifest string, files map[string]string) string {
	t.Helper()
	dir := t.TempDir()
	testutil.MustWriteFile(t, filepath.Join(dir, "launchkit.cue"), []byte(manifest))
	for rel, content := range files {
		testutil.MustWriteFile(t, filepath.Join(dir, filepath.FromSlash(rel)), []byte(content))
	}
	return filepath.Join(dir, "launchkit.cue")
}

func ids(t *testing.T, entries []bundlelist.Entry) []string {
	t.Helper()
	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.ID().String()
	}
	return out
}

func wantOrder(t *testing.T, entries []bundlelist.Entry, want ...string) {
	t.Helper()
	got := ids(t, entries)
	if len(got) != len(want) {
		t.Fatalf("entry order = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("entry order = %v, want %v", got, want)
		}
	}
}

func assemble(t *testing.T, res ArtifactResolver, opts Options) *Result {
	t.Helper()
	result, err := New(res, nil, nil).Assemble(context.Background(), opts)
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	t.Cleanup(func() {
		if err := result.Cleanup(); err != nil {
			t.Errorf("Cleanup() error = %v", err)
		}
	})
	return result
}

const minimalProject = `
project: {
	namespace: "com.acme"
	name:      "shop"
	version:   "1.0.0"
}
`

func TestAssembleDefaultListThenProjectList(t *testing.T) {
	res := newFakeResolver(t)
	res.addList(partialCoord("io.launchkit", "base", "1.5.0"), `
bundles: [
	{namespace: "io.launchkit", name: "core", version: "1.0.0", start_priority: 1},
	{namespace: "io.launchkit", name: "web", version: "1.0.0"},
]
`)

	manifestPath := writeProject(t, minimalProject+`
default_list: "io.launchkit:base:[1.0,2.0):partial"
`, map[string]string{
		"bundles.cue": `
bundles: [
	{namespace: "io.launchkit", name: "web", version: "2.0.0"},
	{namespace: "com.acme", name: "shop-app", version: "1.0.0"},
]
`,
	})

	result := assemble(t, res, Options{ManifestPath: manifestPath})

	// The project's web entry overrides attributes but keeps the default
	// list's position.
	wantOrder(t, result.Entries(),
		"io.launchkit:core", "io.launchkit:web", "com.acme:shop-app")

	web, ok := result.List().Get(coordinate.ID{Namespace: "io.launchkit", Name: "web"})
	if !ok {
		t.Fatal("web entry missing")
	}
	if web.Version != "2.0.0" {
		t.Errorf("web version = %q, want %q (project override)", web.Version, "2.0.0")
	}

	pinned := result.Pinned()
	if len(pinned) != 1 {
		t.Fatalf("Pinned() = %d artifacts, want 1", len(pinned))
	}
	if got := pinned[0].Coordinate.Version; got != "1.5.0" {
		t.Errorf("pinned default list version = %q, want %q", got, "1.5.0")
	}
}

func TestAssembleConfiguredDefaultUsedWhenManifestSilent(t *testing.T) {
	res := newFakeResolver(t)
	res.addList(partialCoord("io.launchkit", "default-bundles", "1.0.0"), `
bundles: [{namespace: "io.launchkit", name: "core", version: "1.0.0"}]
`)

	manifestPath := writeProject(t, minimalProject, nil)

	result := assemble(t, res, Options{
		ManifestPath: manifestPath,
		DefaultList:  partialCoord("io.launchkit", "default-bundles", "[1.0,2.0)"),
	})

	wantOrder(t, result.Entries(), "io.launchkit:core")
}

func TestAssembleSkipsDefaultsWhenDisabled(t *testing.T) {
	res := newFakeResolver(t)

	manifestPath := writeProject(t, minimalProject+`
include_defaults: false
`, map[string]string{
		"bundles.cue": `
bundles: [{namespace: "com.acme", name: "shop-app", version: "1.0.0"}]
`,
	})

	result := assemble(t, res, Options{
		ManifestPath: manifestPath,
		DefaultList:  partialCoord("io.launchkit", "default-bundles", "[1.0,2.0)"),
	})

	wantOrder(t, result.Entries(), "com.acme:shop-app")
	if len(res.calls) != 0 {
		t.Errorf("resolver calls = %v, want none with defaults disabled", res.calls)
	}
}

func TestAssembleNoDefaultConfiguredStartsEmpty(t *testing.T) {
	res := newFakeResolver(t)
	manifestPath := writeProject(t, minimalProject, map[string]string{
		"bundles.cue": `
bundles: [{namespace: "com.acme", name: "shop-app", version: "1.0.0"}]
`,
	})

	result := assemble(t, res, Options{ManifestPath: manifestPath})
	wantOrder(t, result.Entries(), "com.acme:shop-app")
}

func TestAssembleProjectIsTheDefaultList(t *testing.T) {
	res := newFakeResolver(t)

	manifestPath := writeProject(t, `
project: {
	namespace: "io.launchkit"
	name:      "base"
	version:   "2.0.0"
}
default_list: "io.launchkit:base:[1.0,3.0):partial"
`, map[string]string{
		"bundles.cue": `
bundles: [{namespace: "io.launchkit", name: "core", version: "1.0.0"}]
`,
	})

	result := assemble(t, res, Options{ManifestPath: manifestPath})

	wantOrder(t, result.Entries(), "io.launchkit:core")
	if len(res.calls) != 0 {
		t.Errorf("resolver calls = %v, want none when the project is the default list", res.calls)
	}
}

func TestAssembleProjectIsTheDefaultListRequiresOwnFile(t *testing.T) {
	res := newFakeResolver(t)

	manifestPath := writeProject(t, `
project: {
	namespace: "io.launchkit"
	name:      "base"
	version:   "2.0.0"
}
default_list: "io.launchkit:base:[1.0,3.0):partial"
`, nil)

	_, err := New(res, nil, nil).Assemble(context.Background(), Options{ManifestPath: manifestPath})
	if err == nil {
		t.Fatal("Assemble() succeeded without the project's own bundle list")
	}
}

func TestAssembleAdditionsAndExclusions(t *testing.T) {
	res := newFakeResolver(t)
	res.addList(partialCoord("io.launchkit", "base", "1.0.0"), `
bundles: [
	{namespace: "io.launchkit", name: "core", version: "1.0.0"},
	{namespace: "io.launchkit", name: "legacy", version: "1.0.0"},
]
`)

	manifestPath := writeProject(t, minimalProject+`
default_list: "io.launchkit:base:1.0.0:partial"
additions: [
	{namespace: "com.acme", name: "extra", version: "3.1.0", start_priority: 5},
]
exclusions: [
	{namespace: "io.launchkit", name: "legacy"},
	{namespace: "io.launchkit", name: "never-there"},
]
`, nil)

	result := assemble(t, res, Options{ManifestPath: manifestPath})

	wantOrder(t, result.Entries(), "io.launchkit:core", "com.acme:extra")

	extra, _ := result.List().Get(coordinate.ID{Namespace: "com.acme", Name: "extra"})
	if extra.StartPriority != 5 {
		t.Errorf("extra start priority = %d, want 5", extra.StartPriority)
	}
}

func TestAssembleStrictExclusionFailsWhenAbsent(t *testing.T) {
	res := newFakeResolver(t)
	manifestPath := writeProject(t, minimalProject+`
exclusions: [
	{namespace: "io.launchkit", name: "ghost", fail_if_absent: true},
]
`, nil)

	_, err := New(res, nil, nil).Assemble(context.Background(), Options{ManifestPath: manifestPath})
	if !errors.Is(err, bundlelist.ErrEntryNotFound) {
		t.Fatalf("Assemble() error = %v, want ErrEntryNotFound", err)
	}
}

func TestAssemblePartialReintroducesExcludedEntry(t *testing.T) {
	res := newFakeResolver(t)
	res.addList(partialCoord("io.launchkit", "base", "1.0.0"), `
bundles: [
	{namespace: "io.launchkit", name: "core", version: "1.0.0"},
	{namespace: "io.launchkit", name: "metrics", version: "1.0.0"},
]
`)
	res.addList(partialCoord("com.example", "observability", "2.0.0"), `
bundles: [
	{namespace: "io.launchkit", name: "metrics", version: "2.0.0"},
	{namespace: "com.example", name: "tracing", version: "2.0.0"},
]
`)

	manifestPath := writeProject(t, minimalProject+`
default_list: "io.launchkit:base:1.0.0:partial"
dependencies: [
	{coordinate: "com.example:observability:2.0.0:partial"},
]
exclusions: [
	{namespace: "io.launchkit", name: "metrics"},
]
`, nil)

	result := assemble(t, res, Options{ManifestPath: manifestPath})

	// The exclusion ran before the partial merge, so the partial's metrics
	// entry is back in the list, now at the partial's position.
	wantOrder(t, result.Entries(),
		"io.launchkit:core", "io.launchkit:metrics", "com.example:tracing")

	metrics, _ := result.List().Get(coordinate.ID{Namespace: "io.launchkit", Name: "metrics"})
	if metrics.Version != "2.0.0" {
		t.Errorf("reintroduced metrics version = %q, want %q", metrics.Version, "2.0.0")
	}
}

func TestAssemblePartialsMergeInDeclarationOrder(t *testing.T) {
	res := newFakeResolver(t)
	res.addList(partialCoord("com.example", "first", "1.0.0"), `
bundles: [{namespace: "com.example", name: "shared", version: "1.0.0"}]
`)
	res.addList(partialCoord("com.example", "second", "1.0.0"), `
bundles: [{namespace: "com.example", name: "shared", version: "9.0.0"}]
`)

	manifestPath := writeProject(t, minimalProject+`
dependencies: [
	{coordinate: "com.example:first:1.0.0:partial"},
	{coordinate: "com.example:second:1.0.0:partial"},
]
`, nil)

	result := assemble(t, res, Options{ManifestPath: manifestPath})

	shared, ok := result.List().Get(coordinate.ID{Namespace: "com.example", Name: "shared"})
	if !ok {
		t.Fatal("shared entry missing")
	}
	if shared.Version != "9.0.0" {
		t.Errorf("shared version = %q, want %q (later partial wins)", shared.Version, "9.0.0")
	}
}

func TestAssembleCompanionConfigApplied(t *testing.T) {
	res := newFakeResolver(t)
	res.addList(partialCoord("com.example", "search", "1.4.0"), `
bundles: [{namespace: "com.example", name: "search-core", version: "1.4.0"}]
`)
	res.addZip(companionCoord("com.example", "search", "1.4.0"), map[string]string{
		"launcher/launcher.toml":   "search_host = \"localhost\"\nsearch_port = \"9200\"\n",
		"launcher/bootstrap.sh":    "echo search ready\n",
		"config/search/index.conf": "shards=3\n",
	})

	manifestPath := writeProject(t, minimalProject+`
dependencies: [
	{coordinate: "com.example:search:[1.0,2.0):partial"},
]
`, nil)

	result := assemble(t, res, Options{ManifestPath: manifestPath})

	props := result.Properties()
	if props["search_host"] != "localhost" || props["search_port"] != "9200" {
		t.Errorf("properties = %v, want search_host/search_port from companion", props)
	}
	if !strings.Contains(result.Bootstrap(), "echo search ready") {
		t.Errorf("bootstrap = %q, want companion fragment", result.Bootstrap())
	}

	overlaid := filepath.Join(result.ConfigDir(), "search", "index.conf")
	if _, err := os.Stat(overlaid); err != nil {
		t.Errorf("overlaid config file missing: %v", err)
	}

	// The companion is resolved pinned to the partial's version.
	want := companionCoord("com.example", "search", "1.4.0").String()
	found := false
	for _, call := range res.calls {
		if call == want {
			found = true
		}
	}
	if !found {
		t.Errorf("resolver calls = %v, want companion %s", res.calls, want)
	}
}

func TestAssembleMissingCompanionTolerated(t *testing.T) {
	res := newFakeResolver(t)
	res.addList(partialCoord("com.example", "search", "1.0.0"), `
bundles: [{namespace: "com.example", name: "search-core", version: "1.0.0"}]
`)

	manifestPath := writeProject(t, minimalProject+`
dependencies: [
	{coordinate: "com.example:search:1.0.0:partial"},
]
`, nil)

	result := assemble(t, res, Options{ManifestPath: manifestPath})

	wantOrder(t, result.Entries(), "com.example:search-core")
	if result.Bootstrap() != "" {
		t.Errorf("Bootstrap() = %q, want empty without a companion", result.Bootstrap())
	}
}

func TestAssembleMalformedPartialFatal(t *testing.T) {
	res := newFakeResolver(t)
	res.addList(partialCoord("com.example", "broken", "1.0.0"), `bundles: "not a list"`)

	manifestPath := writeProject(t, minimalProject+`
dependencies: [
	{coordinate: "com.example:broken:1.0.0:partial"},
]
`, nil)

	_, err := New(res, nil, nil).Assemble(context.Background(), Options{ManifestPath: manifestPath})
	if !errors.Is(err, bundlelist.ErrMalformedList) {
		t.Fatalf("Assemble() error = %v, want ErrMalformedList", err)
	}
}

func TestAssembleUnresolvablePartialFatal(t *testing.T) {
	res := newFakeResolver(t)

	manifestPath := writeProject(t, minimalProject+`
dependencies: [
	{coordinate: "com.example:gone:1.0.0:partial"},
]
`, nil)

	_, err := New(res, nil, nil).Assemble(context.Background(), Options{ManifestPath: manifestPath})
	if !errors.Is(err, registry.ErrArtifactNotFound) {
		t.Fatalf("Assemble() error = %v, want ErrArtifactNotFound", err)
	}
}

func TestAssembleProjectExtrasWinLast(t *testing.T) {
	res := newFakeResolver(t)
	res.addList(partialCoord("com.example", "search", "1.0.0"), `
bundles: [{namespace: "com.example", name: "search-core", version: "1.0.0"}]
`)
	res.addZip(companionCoord("com.example", "search", "1.0.0"), map[string]string{
		"launcher/launcher.toml": "mode = \"payload\"\nkeep = \"payload\"\n",
		"launcher/bootstrap.sh":  "echo from payload\n",
	})

	manifestPath := writeProject(t, minimalProject+`
dependencies: [
	{coordinate: "com.example:search:1.0.0:partial"},
]
launcher: {
	properties: "launcher.toml"
	bootstrap:  "bootstrap.sh"
}
`, map[string]string{
		"launcher.toml": "mode = \"project\"\n",
		"bootstrap.sh":  "echo from project\n",
	})

	result := assemble(t, res, Options{ManifestPath: manifestPath})

	props := result.Properties()
	if props["mode"] != "project" {
		t.Errorf("mode = %q, want project value to win", props["mode"])
	}
	if props["keep"] != "payload" {
		t.Errorf("keep = %q, want untouched payload value", props["keep"])
	}

	boot := result.Bootstrap()
	payloadAt := strings.Index(boot, "echo from payload")
	projectAt := strings.Index(boot, "echo from project")
	if payloadAt < 0 || projectAt < 0 || projectAt < payloadAt {
		t.Errorf("bootstrap = %q, want payload fragment before project fragment", boot)
	}
}

func TestAssembleConfiguredExtrasMayBeAbsent(t *testing.T) {
	res := newFakeResolver(t)
	manifestPath := writeProject(t, minimalProject+`
launcher: {
	properties: "launcher.toml"
	bootstrap:  "bootstrap.sh"
}
`, nil)

	result := assemble(t, res, Options{ManifestPath: manifestPath})
	if len(result.Properties()) != 0 {
		t.Errorf("Properties() = %v, want empty for absent extras", result.Properties())
	}
}

func TestAssembleRulesRewriteList(t *testing.T) {
	res := newFakeResolver(t)

	manifestPath := writeProject(t, minimalProject+`
rule_files: ["rules/cleanup.hcl"]
`, map[string]string{
		"bundles.cue": `
bundles: [
	{namespace: "com.acme", name: "shop-app", version: "1.0.0"},
	{namespace: "com.acme", name: "debug-tools", version: "1.0.0"},
]
`,
		"rules/cleanup.hcl": `
rule "drop-debug" {
  when   = entry.name == "debug-tools"
  remove = true
}

rule "pin-app-priority" {
  when = entry.name == "shop-app"
  set {
    start_priority = 10
  }
}
`,
	})

	result := assemble(t, res, Options{ManifestPath: manifestPath, ToolVersion: "1.2.3"})

	wantOrder(t, result.Entries(), "com.acme:shop-app")
	app, _ := result.List().Get(coordinate.ID{Namespace: "com.acme", Name: "shop-app"})
	if app.StartPriority != 10 {
		t.Errorf("shop-app start priority = %d, want 10", app.StartPriority)
	}
}

func TestAssembleSkipRules(t *testing.T) {
	res := newFakeResolver(t)

	manifestPath := writeProject(t, minimalProject+`
rule_files: ["rules/cleanup.hcl"]
`, map[string]string{
		"bundles.cue": `
bundles: [{namespace: "com.acme", name: "debug-tools", version: "1.0.0"}]
`,
		"rules/cleanup.hcl": `
rule "drop-debug" {
  when   = entry.name == "debug-tools"
  remove = true
}
`,
	})

	result := assemble(t, res, Options{ManifestPath: manifestPath, SkipRules: true})
	wantOrder(t, result.Entries(), "com.acme:debug-tools")
}

func TestAssembleInvalidRuleFileFatal(t *testing.T) {
	res := newFakeResolver(t)

	manifestPath := writeProject(t, minimalProject+`
rule_files: ["rules/bad.hcl"]
`, map[string]string{
		"bundles.cue": `
bundles: [{namespace: "com.acme", name: "shop-app", version: "1.0.0"}]
`,
		"rules/bad.hcl": `
rule "broken" {
  when   = entry.nonsense == "x"
  remove = true
}
`,
	})

	_, err := New(res, nil, nil).Assemble(context.Background(), Options{ManifestPath: manifestPath})
	if err == nil {
		t.Fatal("Assemble() succeeded with an invalid rule file")
	}
}

func TestAssembleManifestMissing(t *testing.T) {
	res := newFakeResolver(t)

	_, err := New(res, nil, nil).Assemble(context.Background(), Options{
		ManifestPath: filepath.Join(t.TempDir(), "launchkit.cue"),
	})
	if err == nil {
		t.Fatal("Assemble() succeeded without a manifest")
	}
}

func TestAssembleOwnedWorkDirLifecycle(t *testing.T) {
	res := newFakeResolver(t)
	manifestPath := writeProject(t, minimalProject, nil)

	result := New(res, nil, nil)
	r, err := result.Assemble(context.Background(), Options{ManifestPath: manifestPath})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if r.workDir == "" {
		t.Fatal("no work dir created")
	}
	if _, err := os.Stat(r.workDir); err != nil {
		t.Fatalf("work dir not usable: %v", err)
	}

	if err := r.Cleanup(); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if _, err := os.Stat(r.workDir); !errors.Is(err, os.ErrNotExist) {
		t.Errorf("work dir still present after Cleanup(): %v", err)
	}
}

func TestAssembleCallerWorkDirKept(t *testing.T) {
	res := newFakeResolver(t)
	manifestPath := writeProject(t, minimalProject, nil)
	workDir := t.TempDir()

	r, err := New(res, nil, nil).Assemble(context.Background(), Options{
		ManifestPath: manifestPath,
		WorkDir:      workDir,
	})
	if err != nil {
		t.Fatalf("Assemble() error = %v", err)
	}
	if err := r.Cleanup(); err != nil {
		t.Fatalf("Cleanup() error = %v", err)
	}
	if _, err := os.Stat(workDir); err != nil {
		t.Errorf("caller work dir removed by Cleanup(): %v", err)
	}
}

func TestAssembleErrorRemovesOwnedWorkDir(t *testing.T) {
	res := newFakeResolver(t)

	manifestPath := writeProject(t, minimalProject+`
dependencies: [
	{coordinate: "com.example:gone:1.0.0:partial"},
]
`, nil)

	parent := os.TempDir()
	before := countWorkDirs(t, parent)

	_, err := New(res, nil, nil).Assemble(context.Background(), Options{ManifestPath: manifestPath})
	if err == nil {
		t.Fatal("Assemble() succeeded with an unresolvable partial")
	}

	if after := countWorkDirs(t, parent); after > before {
		t.Errorf("work dirs leaked: %d before, %d after", before, after)
	}
}

func countWorkDirs(t *testing.T, parent string) int {
	t.Helper()
	matches, err := filepath.Glob(filepath.Join(parent, "launchkit-work-*"))
	if err != nil {
		t.Fatalf("globbing work dirs: %v", err)
	}
	return len(matches)
}
