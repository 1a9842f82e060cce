// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"launchkit-cli/pkg/bundlelist"

	"github.com/spf13/cobra"
)

// newAssembleCommand creates the `launchkit assemble` command.
func newAssembleCommand(app *App) *cobra.Command {
	var (
		manifestPath string
		outputDir    string
		workDir      string
		printList    bool
		skipRules    bool
		offline      bool
	)

	cmd := &cobra.Command{
		Use:   "assemble",
		Short: "Assemble the project bundle list",
		Long: `Assemble the final bundle list for the current project.

The pipeline starts from the shared default list (unless the manifest
opts out), merges the project's own bundle list, additions, and
exclusions, then merges every partial dependency in declaration order
and applies the project's rewrite rules until the list stops changing.

Every referenced artifact ends up pinned to an exact version and fetched
into the local cache. With --output-dir the assembled launcher layout is
also written out:

  <dir>/bundles.cue       final merged list
  <dir>/bundles/<prio>/   bundle payloads grouped by start priority
  <dir>/launcher/         merged properties and bootstrap script
  <dir>/config/           configuration overlay tree

Examples:
  launchkit assemble
  launchkit assemble --output-dir ./build/launcher
  launchkit assemble --print --skip-rules
  launchkit assemble --offline`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := AssembleRequest{
				ManifestPath: manifestPath,
				WorkDir:      workDir,
				SkipRules:    skipRules,
				Offline:      offline,
				ConfigPath:   cfgFile,
			}
			return runAssemble(cmd, app, req, outputDir, printList)
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "project manifest (default: nearest launchkit.cue)")
	cmd.Flags().StringVarP(&outputDir, "output-dir", "o", "", "write the launcher layout into this directory")
	cmd.Flags().StringVar(&workDir, "work-dir", "", "working directory for the config overlay (default: temp dir)")
	cmd.Flags().BoolVar(&printList, "print", false, "print the assembled list as CUE")
	cmd.Flags().BoolVar(&skipRules, "skip-rules", false, "skip the rule rewrite stage")
	cmd.Flags().BoolVar(&offline, "offline", false, "resolve from the local cache only")

	return cmd
}

// runAssemble drives the assembly pipeline and renders a styled report.
func runAssemble(cmd *cobra.Command, app *App, req AssembleRequest, outputDir string, printList bool) error {
	stdout := cmd.OutOrStdout()

	result, err := app.Assembly.Assemble(cmd.Context(), req)
	if err != nil {
		return failWithServiceError(cmd, err)
	}
	defer func() { _ = result.Cleanup() }()

	manifest := result.Manifest()
	entries := result.Entries()

	fmt.Fprintln(stdout, reportTitleStyle.Render("Bundle List Assembly"))
	fmt.Fprintf(stdout, "%s Project:  %s %s\n", reportInfoIcon,
		coordStyle.Render(manifest.Project.Namespace+":"+manifest.Project.Name),
		versionStyle.Render(manifest.Project.Version))
	fmt.Fprintf(stdout, "%s Manifest: %s\n", reportInfoIcon, pathStyle.Render(manifest.Path()))
	fmt.Fprintln(stdout)
	fmt.Fprintf(stdout, "%s %d bundle(s) assembled, %d artifact(s) resolved\n",
		reportSuccessIcon, len(entries), len(result.Pinned()))

	if verbose {
		for _, pin := range result.Pinned() {
			fmt.Fprintf(stdout, "  %s\n", VerboseStyle.Render(fmt.Sprintf("%s [%s]", pin.Coordinate, pin.Path)))
		}
	}

	if printList {
		fmt.Fprintln(stdout)
		_, _ = stdout.Write(bundlelist.Format(result.List()))
	}

	if outputDir != "" {
		if err := result.Materialize(cmd.Context(), outputDir); err != nil {
			return failWithServiceError(cmd, newServiceError(err, classifyIssue(err), ""))
		}
		fmt.Fprintf(stdout, "%s Launcher layout written to %s\n", reportSuccessIcon, pathStyle.Render(outputDir))
	}

	return nil
}
