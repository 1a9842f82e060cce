// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"launchkit-cli/internal/project"

	"github.com/spf13/cobra"
)

// newTestCommand builds a detached command with captured output streams.
func newTestCommand() (*cobra.Command, *bytes.Buffer, *bytes.Buffer) {
	cmd := &cobra.Command{}
	var out, errOut bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errOut)
	return cmd, &out, &errOut
}

func TestDetectValidationTarget(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		setup    func(t *testing.T, dir string) string // returns absPath to test
		wantType pathType
		wantErr  bool
	}{
		{
			name: "manifest file by name",
			setup: func(t *testing.T, dir string) string {
				t.Helper()
				p := filepath.Join(dir, project.DefaultManifestName)
				if err := os.WriteFile(p, []byte("project: {}"), 0o644); err != nil {
					t.Fatal(err)
				}
				return p
			},
			wantType: pathTypeManifest,
		},
		{
			name: "rule file",
			setup: func(t *testing.T, dir string) string {
				t.Helper()
				p := filepath.Join(dir, "site.hcl")
				if err := os.WriteFile(p, []byte(""), 0o644); err != nil {
					t.Fatal(err)
				}
				return p
			},
			wantType: pathTypeRules,
		},
		{
			name: "bundle list file",
			setup: func(t *testing.T, dir string) string {
				t.Helper()
				p := filepath.Join(dir, "bundles.cue")
				if err := os.WriteFile(p, []byte("bundles: []"), 0o644); err != nil {
					t.Fatal(err)
				}
				return p
			},
			wantType: pathTypeList,
		},
		{
			name: "directory resolves to its manifest",
			setup: func(t *testing.T, dir string) string {
				t.Helper()
				p := filepath.Join(dir, project.DefaultManifestName)
				if err := os.WriteFile(p, []byte("project: {}"), 0o644); err != nil {
					t.Fatal(err)
				}
				return dir
			},
			wantType: pathTypeManifest,
		},
		{
			name: "nested directory walks up to the manifest",
			setup: func(t *testing.T, dir string) string {
				t.Helper()
				p := filepath.Join(dir, project.DefaultManifestName)
				if err := os.WriteFile(p, []byte("project: {}"), 0o644); err != nil {
					t.Fatal(err)
				}
				nested := filepath.Join(dir, "src", "deep")
				if err := os.MkdirAll(nested, 0o755); err != nil {
					t.Fatal(err)
				}
				return nested
			},
			wantType: pathTypeManifest,
		},
		{
			name: "directory without manifest",
			setup: func(t *testing.T, dir string) string {
				return dir
			},
			wantErr: true,
		},
		{
			name: "missing path",
			setup: func(t *testing.T, dir string) string {
				return filepath.Join(dir, "absent")
			},
			wantErr: true,
		},
		{
			name: "unrelated file",
			setup: func(t *testing.T, dir string) string {
				t.Helper()
				p := filepath.Join(dir, "notes.txt")
				if err := os.WriteFile(p, []byte("hello"), 0o644); err != nil {
					t.Fatal(err)
				}
				return p
			},
			wantType: pathTypeUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			dir := t.TempDir()
			absPath := tt.setup(t, dir)

			gotType, resolved, err := detectValidationTarget(absPath)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("detectValidationTarget(%q) succeeded, want error", absPath)
				}
				return
			}
			if err != nil {
				t.Fatalf("detectValidationTarget(%q) error = %v", absPath, err)
			}
			if gotType != tt.wantType {
				t.Errorf("detectValidationTarget(%q) type = %d, want %d", absPath, gotType, tt.wantType)
			}
			if gotType == pathTypeManifest && filepath.Base(resolved) != project.DefaultManifestName {
				t.Errorf("resolved = %q, want a %s path", resolved, project.DefaultManifestName)
			}
		})
	}
}

func TestRunListFileValidation(t *testing.T) {
	t.Parallel()

	t.Run("valid list", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "bundles.cue")
		doc := `
bundles: [
	{namespace: "org.example", name: "core", version: "1.0.0"},
	{namespace: "org.example", name: "api", version: "[1.0,2.0)"},
]
`
		if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
			t.Fatal(err)
		}

		cmd, out, _ := newTestCommand()
		if err := runListFileValidation(cmd, path); err != nil {
			t.Fatalf("runListFileValidation() error = %v", err)
		}
		if !strings.Contains(out.String(), "2 entries") {
			t.Errorf("output = %q, want entry count", out.String())
		}
	})

	t.Run("malformed list", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "bundles.cue")
		if err := os.WriteFile(path, []byte(`bundles: "nope"`), 0o644); err != nil {
			t.Fatal(err)
		}

		cmd, _, errOut := newTestCommand()
		err := runListFileValidation(cmd, path)

		var exitErr *ExitError
		if !errors.As(err, &exitErr) || exitErr.Code != 1 {
			t.Fatalf("runListFileValidation() error = %v, want ExitError code 1", err)
		}
		if !strings.Contains(errOut.String(), "validation failed") {
			t.Errorf("stderr = %q, want failure report", errOut.String())
		}
	})
}

func TestRunRuleFileValidation(t *testing.T) {
	t.Parallel()

	t.Run("valid rules", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "cleanup.hcl")
		doc := `
rule "drop-debug" {
  when   = entry.name == "debug-tools"
  remove = true
}
`
		if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
			t.Fatal(err)
		}

		cmd, out, _ := newTestCommand()
		if err := runRuleFileValidation(cmd, path); err != nil {
			t.Fatalf("runRuleFileValidation() error = %v", err)
		}
		if !strings.Contains(out.String(), "1 rule(s)") {
			t.Errorf("output = %q, want rule count", out.String())
		}
	})

	t.Run("unknown fact attribute", func(t *testing.T) {
		t.Parallel()

		path := filepath.Join(t.TempDir(), "bad.hcl")
		doc := `
rule "broken" {
  when   = entry.nonsense == "x"
  remove = true
}
`
		if err := os.WriteFile(path, []byte(doc), 0o644); err != nil {
			t.Fatal(err)
		}

		cmd, _, errOut := newTestCommand()
		err := runRuleFileValidation(cmd, path)

		var exitErr *ExitError
		if !errors.As(err, &exitErr) || exitErr.Code != 1 {
			t.Fatalf("runRuleFileValidation() error = %v, want ExitError code 1", err)
		}
		if !strings.Contains(errOut.String(), "Rule validation failed") {
			t.Errorf("stderr = %q, want failure report", errOut.String())
		}
	})
}

func TestRunManifestValidation(t *testing.T) {
	t.Parallel()

	t.Run("complete project", func(t *testing.T) {
		t.Parallel()

		manifestPath := writeTestProject(t, `
project: {
	namespace: "com.acme"
	name:      "shop"
	version:   "1.0.0"
}
rule_files: ["rules/cleanup.hcl"]
launcher: {
	properties: "launcher.toml"
	bootstrap:  "bootstrap.sh"
}
`, map[string]string{
			"bundles.cue": `
bundles: [{namespace: "com.acme", name: "shop-app", version: "1.0.0"}]
`,
			"rules/cleanup.hcl": `
rule "drop-debug" {
  when   = entry.name == "debug-tools"
  remove = true
}
`,
			"launcher.toml": "mode = \"production\"\nregion = \"eu\"\n",
			"bootstrap.sh":  "echo ready\n",
		})

		cmd, out, _ := newTestCommand()
		if err := runManifestValidation(cmd, manifestPath); err != nil {
			t.Fatalf("runManifestValidation() error = %v", err)
		}

		output := out.String()
		for _, want := range []string{
			"com.acme:shop",
			"Bundle list parses successfully",
			"1 rule file(s) valid",
			"Launcher properties decode (2 key(s))",
			"Bootstrap script parses as POSIX shell",
			"Project inputs are valid",
		} {
			if !strings.Contains(output, want) {
				t.Errorf("output missing %q:\n%s", want, output)
			}
		}
	})

	t.Run("invalid manifest", func(t *testing.T) {
		t.Parallel()

		manifestPath := writeTestProject(t, `project: {namespace: "", name: "x", version: "1.0.0"}`, nil)

		cmd, _, errOut := newTestCommand()
		err := runManifestValidation(cmd, manifestPath)

		var exitErr *ExitError
		if !errors.As(err, &exitErr) || exitErr.Code != 1 {
			t.Fatalf("runManifestValidation() error = %v, want ExitError code 1", err)
		}
		if !strings.Contains(errOut.String(), "Manifest validation failed") {
			t.Errorf("stderr = %q, want schema failure report", errOut.String())
		}
	})

	t.Run("broken bundle list collected as issue", func(t *testing.T) {
		t.Parallel()

		manifestPath := writeTestProject(t, `
project: {
	namespace: "com.acme"
	name:      "shop"
	version:   "1.0.0"
}
`, map[string]string{
			"bundles.cue": `bundles: "nope"`,
		})

		cmd, _, errOut := newTestCommand()
		err := runManifestValidation(cmd, manifestPath)

		var exitErr *ExitError
		if !errors.As(err, &exitErr) || exitErr.Code != 1 {
			t.Fatalf("runManifestValidation() error = %v, want ExitError code 1", err)
		}
		stderr := errOut.String()
		if !strings.Contains(stderr, "1 issue(s)") || !strings.Contains(stderr, "[bundle_list]") {
			t.Errorf("stderr = %q, want numbered bundle_list issue", stderr)
		}
	})

	t.Run("missing bundle list is informational", func(t *testing.T) {
		t.Parallel()

		manifestPath := writeTestProject(t, `
project: {
	namespace: "com.acme"
	name:      "shop"
	version:   "1.0.0"
}
`, nil)

		cmd, out, _ := newTestCommand()
		if err := runManifestValidation(cmd, manifestPath); err != nil {
			t.Fatalf("runManifestValidation() error = %v", err)
		}
		if !strings.Contains(out.String(), "No project bundle list") {
			t.Errorf("output = %q, want absent-list note", out.String())
		}
	})
}

func TestCheckLauncherExtras(t *testing.T) {
	t.Parallel()

	load := func(t *testing.T, manifestPath string) *project.Manifest {
		t.Helper()
		m, err := project.Load(manifestPath)
		if err != nil {
			t.Fatalf("Load() error = %v", err)
		}
		return m
	}

	t.Run("absent files warn but pass", func(t *testing.T) {
		t.Parallel()

		manifestPath := writeTestProject(t, `
project: {namespace: "com.acme", name: "shop", version: "1.0.0"}
launcher: {
	properties: "launcher.toml"
	bootstrap:  "bootstrap.sh"
}
`, nil)

		var out bytes.Buffer
		issues := checkLauncherExtras(&out, load(t, manifestPath))
		if len(issues) != 0 {
			t.Errorf("issues = %v, want none for absent extras", issues)
		}
		output := out.String()
		if !strings.Contains(output, "Launcher properties configured but absent") {
			t.Errorf("output = %q, want absent-properties warning", output)
		}
		if !strings.Contains(output, "Bootstrap script configured but absent") {
			t.Errorf("output = %q, want absent-bootstrap warning", output)
		}
	})

	t.Run("invalid properties", func(t *testing.T) {
		t.Parallel()

		manifestPath := writeTestProject(t, `
project: {namespace: "com.acme", name: "shop", version: "1.0.0"}
launcher: {properties: "launcher.toml"}
`, map[string]string{
			"launcher.toml": "not = = toml\n",
		})

		var out bytes.Buffer
		issues := checkLauncherExtras(&out, load(t, manifestPath))
		if len(issues) != 1 || issues[0].kind != "launcher" {
			t.Fatalf("issues = %v, want one launcher issue", issues)
		}
	})

	t.Run("invalid bootstrap syntax", func(t *testing.T) {
		t.Parallel()

		manifestPath := writeTestProject(t, `
project: {namespace: "com.acme", name: "shop", version: "1.0.0"}
launcher: {bootstrap: "bootstrap.sh"}
`, map[string]string{
			"bootstrap.sh": "echo \"unterminated\n",
		})

		var out bytes.Buffer
		issues := checkLauncherExtras(&out, load(t, manifestPath))
		if len(issues) != 1 || issues[0].kind != "bootstrap" {
			t.Fatalf("issues = %v, want one bootstrap issue", issues)
		}
	})
}
