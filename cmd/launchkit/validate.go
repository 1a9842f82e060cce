// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"launchkit-cli/internal/project"
	"launchkit-cli/internal/rules"
	"launchkit-cli/pkg/bundlelist"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"
	"mvdan.cc/sh/v3/syntax"
)

const (
	pathTypeUnknown  pathType = iota
	pathTypeManifest          // launchkit.cue or a directory inside a project
	pathTypeList              // bundle-list .cue document
	pathTypeRules             // .hcl rule file
)

// pathType represents the detected type of a filesystem path for validation routing.
type pathType int

// checkIssue is one problem found during validation.
type checkIssue struct {
	kind    string
	path    string
	message string
}

// newValidateCommand creates the `launchkit validate` command.
// Without arguments it validates the nearest project manifest and every
// project-local input it references. With a path argument it auto-detects
// manifest vs bundle list vs rule file. Nothing is resolved or downloaded.
func newValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate [path]",
		Short: "Validate project inputs without resolving anything",
		Long: `Validate a project manifest, a bundle-list document, or a rule file.

Without arguments, finds the nearest launchkit.cue by walking up from
the working directory and validates it together with the project bundle
list, rule files, and launcher extras it references.

With a path argument, auto-detects the target type:
  - launchkit.cue or a directory → full project validation
  - other .cue file              → bundle-list validation
  - .hcl file                    → rule-file validation

No registry access happens: partial dependencies and artifact versions
stay unresolved. Use 'launchkit assemble' for an end-to-end check.

Examples:
  launchkit validate
  launchkit validate ./launchkit.cue
  launchkit validate ./bundles.cue
  launchkit validate ./rules/pin-versions.hcl`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			target := "."
			if len(args) == 1 {
				target = args[0]
			}
			return runValidate(cmd, target)
		},
	}
}

// runValidate validates a single path, auto-detecting its type.
func runValidate(cmd *cobra.Command, target string) error {
	absPath, err := filepath.Abs(target)
	if err != nil {
		return fmt.Errorf("failed to resolve path: %w", err)
	}

	pt, resolvedPath, err := detectValidationTarget(absPath)
	if err != nil {
		return err
	}

	switch pt {
	case pathTypeManifest:
		return runManifestValidation(cmd, resolvedPath)
	case pathTypeList:
		return runListFileValidation(cmd, resolvedPath)
	case pathTypeRules:
		return runRuleFileValidation(cmd, resolvedPath)
	default:
		return fmt.Errorf("cannot determine input type for %s: expected launchkit.cue, a bundle-list .cue file, an .hcl rule file, or a project directory", target)
	}
}

// detectValidationTarget determines what kind of input a path is.
// Directories go through project.Find so `launchkit validate` works from
// anywhere inside a project tree.
func detectValidationTarget(absPath string) (pathType, string, error) {
	info, err := os.Stat(absPath)
	if err != nil {
		return pathTypeUnknown, "", err
	}

	if info.IsDir() {
		manifestPath, findErr := project.Find(absPath)
		if findErr != nil {
			return pathTypeUnknown, "", findErr
		}
		return pathTypeManifest, manifestPath, nil
	}

	switch {
	case filepath.Base(absPath) == project.DefaultManifestName:
		return pathTypeManifest, absPath, nil
	case strings.HasSuffix(absPath, ".hcl"):
		return pathTypeRules, absPath, nil
	case strings.HasSuffix(absPath, ".cue"):
		return pathTypeList, absPath, nil
	}

	return pathTypeUnknown, absPath, nil
}

// runManifestValidation validates a manifest and every project-local input it
// references, rendering styled per-check results.
func runManifestValidation(cmd *cobra.Command, manifestPath string) error {
	stdout := cmd.OutOrStdout()
	stderr := cmd.ErrOrStderr()

	fmt.Fprintln(stdout, reportTitleStyle.Render("Project Validation"))
	fmt.Fprintf(stdout, "%s Path: %s\n", reportInfoIcon, pathStyle.Render(manifestPath))
	fmt.Fprintln(stdout)

	manifest, err := project.Load(manifestPath)
	if err != nil {
		fmt.Fprintf(stderr, "%s Manifest validation failed\n", reportErrorIcon)
		fmt.Fprintln(stderr)
		fmt.Fprintf(stderr, "  %s\n", formatErrorForDisplay(err, verbose))
		cmd.SilenceUsage = true
		cmd.SilenceErrors = true
		return &ExitError{Code: 1}
	}

	fmt.Fprintf(stdout, "%s Manifest schema validation passed\n", reportSuccessIcon)
	fmt.Fprintf(stdout, "%s Project: %s %s\n", reportInfoIcon,
		coordStyle.Render(manifest.Project.Namespace+":"+manifest.Project.Name),
		versionStyle.Render(manifest.Project.Version))

	var issues []checkIssue

	// Project bundle list.
	if _, statErr := os.Stat(manifest.BundlesPath()); statErr == nil {
		if _, listErr := bundlelist.ParseFile(manifest.BundlesPath()); listErr != nil {
			issues = append(issues, checkIssue{kind: "bundle_list", path: manifest.BundlesPath(), message: listErr.Error()})
		} else {
			fmt.Fprintf(stdout, "%s Bundle list parses successfully\n", reportSuccessIcon)
		}
	} else {
		fmt.Fprintf(stdout, "%s No project bundle list (%s)\n", reportInfoIcon, pathStyle.Render(manifest.BundlesFile))
	}

	// Rule files.
	if len(manifest.RuleFiles) > 0 {
		if _, rulesErr := rules.NewHCLEngine(nil).Load(manifest.RuleFilePaths()); rulesErr != nil {
			issues = append(issues, checkIssue{kind: "rules", message: rulesErr.Error()})
		} else {
			fmt.Fprintf(stdout, "%s %d rule file(s) valid\n", reportSuccessIcon, len(manifest.RuleFiles))
		}
	}

	issues = append(issues, checkLauncherExtras(stdout, manifest)...)

	fmt.Fprintln(stdout)

	if len(issues) == 0 {
		fmt.Fprintf(stdout, "%s Project inputs are valid\n", reportSuccessIcon)
		return nil
	}

	fmt.Fprintf(stderr, "%s Validation failed with %d issue(s)\n", reportErrorIcon, len(issues))
	fmt.Fprintln(stderr)

	for i, iss := range issues {
		issueNum := fmt.Sprintf("%d.", i+1)
		issueTag := issueTagStyle.Render(fmt.Sprintf("[%s]", iss.kind))
		if iss.path != "" {
			fmt.Fprintf(stderr, "%s %s %s\n", issueNum, issueTag, pathStyle.Render(iss.path))
			fmt.Fprintf(stderr, "   %s\n", iss.message)
		} else {
			fmt.Fprintf(stderr, "%s %s %s\n", issueNum, issueTag, iss.message)
		}
	}

	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	return &ExitError{Code: 1}
}

// checkLauncherExtras validates the optional launcher property and bootstrap
// files. Absent files are fine (the assembler skips them too); present ones
// must decode.
func checkLauncherExtras(stdout io.Writer, manifest *project.Manifest) []checkIssue {
	var issues []checkIssue

	if path := manifest.PropertiesPath(); path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			fmt.Fprintf(stdout, "%s Launcher properties configured but absent (%s)\n", reportWarningIcon, pathStyle.Render(path))
		case err != nil:
			issues = append(issues, checkIssue{kind: "launcher", path: path, message: err.Error()})
		default:
			var props map[string]string
			if tomlErr := toml.Unmarshal(data, &props); tomlErr != nil {
				issues = append(issues, checkIssue{kind: "launcher", path: path, message: tomlErr.Error()})
			} else {
				fmt.Fprintf(stdout, "%s Launcher properties decode (%d key(s))\n", reportSuccessIcon, len(props))
			}
		}
	}

	if path := manifest.BootstrapPath(); path != "" {
		data, err := os.ReadFile(path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			fmt.Fprintf(stdout, "%s Bootstrap script configured but absent (%s)\n", reportWarningIcon, pathStyle.Render(path))
		case err != nil:
			issues = append(issues, checkIssue{kind: "bootstrap", path: path, message: err.Error()})
		default:
			parser := syntax.NewParser(syntax.Variant(syntax.LangPOSIX))
			if _, parseErr := parser.Parse(bytes.NewReader(data), filepath.Base(path)); parseErr != nil {
				issues = append(issues, checkIssue{kind: "bootstrap", path: path, message: parseErr.Error()})
			} else {
				fmt.Fprintf(stdout, "%s Bootstrap script parses as POSIX shell\n", reportSuccessIcon)
			}
		}
	}

	return issues
}

// runListFileValidation validates a standalone bundle-list document.
func runListFileValidation(cmd *cobra.Command, listPath string) error {
	stdout := cmd.OutOrStdout()
	stderr := cmd.ErrOrStderr()

	fmt.Fprintln(stdout, reportTitleStyle.Render("Bundle List Validation"))
	fmt.Fprintf(stdout, "%s Path: %s\n", reportInfoIcon, pathStyle.Render(listPath))
	fmt.Fprintln(stdout)

	list, err := bundlelist.ParseFile(listPath)
	if err != nil {
		fmt.Fprintf(stderr, "%s Bundle list validation failed\n", reportErrorIcon)
		fmt.Fprintln(stderr)
		fmt.Fprintf(stderr, "  %s\n", formatErrorForDisplay(err, verbose))
		cmd.SilenceUsage = true
		cmd.SilenceErrors = true
		return &ExitError{Code: 1}
	}

	fmt.Fprintf(stdout, "%s CUE schema validation passed\n", reportSuccessIcon)
	fmt.Fprintf(stdout, "%s Bundle list is valid (%d entries)\n", reportSuccessIcon, list.Len())
	return nil
}

// runRuleFileValidation validates a standalone rule file.
func runRuleFileValidation(cmd *cobra.Command, rulePath string) error {
	stdout := cmd.OutOrStdout()
	stderr := cmd.ErrOrStderr()

	fmt.Fprintln(stdout, reportTitleStyle.Render("Rule File Validation"))
	fmt.Fprintf(stdout, "%s Path: %s\n", reportInfoIcon, pathStyle.Render(rulePath))
	fmt.Fprintln(stdout)

	set, err := rules.NewHCLEngine(nil).Load([]string{rulePath})
	if err != nil {
		fmt.Fprintf(stderr, "%s Rule validation failed\n", reportErrorIcon)
		fmt.Fprintln(stderr)
		fmt.Fprintf(stderr, "  %s\n", formatErrorForDisplay(err, verbose))
		cmd.SilenceUsage = true
		cmd.SilenceErrors = true
		return &ExitError{Code: 1}
	}

	fmt.Fprintf(stdout, "%s Rule definitions valid (%d rule(s))\n", reportSuccessIcon, set.Len())
	return nil
}
