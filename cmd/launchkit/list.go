// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"
	"strconv"
	"strings"

	"launchkit-cli/pkg/bundlelist"

	"github.com/spf13/cobra"
)

// newListCommand creates the `launchkit list` command.
func newListCommand(app *App) *cobra.Command {
	var (
		manifestPath string
		skipRules    bool
		offline      bool
		asCUE        bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "Print the assembled bundle list",
		Long: `Assemble the project bundle list and print the final entries.

The full pipeline runs (defaults, partials, exclusions, rules) but
nothing is written out; use this to inspect exactly what a launcher
build would ship.

Examples:
  launchkit list
  launchkit list --cue > bundles.cue
  launchkit list --skip-rules --offline`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := AssembleRequest{
				ManifestPath: manifestPath,
				SkipRules:    skipRules,
				Offline:      offline,
				ConfigPath:   cfgFile,
			}
			return runList(cmd, app, req, asCUE)
		},
	}

	cmd.Flags().StringVarP(&manifestPath, "manifest", "m", "", "project manifest (default: nearest launchkit.cue)")
	cmd.Flags().BoolVar(&skipRules, "skip-rules", false, "skip the rule rewrite stage")
	cmd.Flags().BoolVar(&offline, "offline", false, "resolve from the local cache only")
	cmd.Flags().BoolVar(&asCUE, "cue", false, "print the list as a CUE document instead of a table")

	return cmd
}

// runList assembles the list and prints the final entries.
func runList(cmd *cobra.Command, app *App, req AssembleRequest, asCUE bool) error {
	stdout := cmd.OutOrStdout()

	result, err := app.Assembly.Assemble(cmd.Context(), req)
	if err != nil {
		return failWithServiceError(cmd, err)
	}
	defer func() { _ = result.Cleanup() }()

	if asCUE {
		_, err := stdout.Write(bundlelist.Format(result.List()))
		return err
	}

	entries := result.Entries()

	fmt.Fprintln(stdout, reportTitleStyle.Render("Assembled Bundle List"))
	if len(entries) == 0 {
		fmt.Fprintf(stdout, "%s List is empty\n", reportInfoIcon)
		return nil
	}

	fmt.Fprint(stdout, formatEntryTable(entries))
	fmt.Fprintln(stdout)
	fmt.Fprintf(stdout, "%s %d bundle(s)\n", reportSuccessIcon, len(entries))
	return nil
}

// formatEntryTable renders list entries as aligned columns. Versions show the
// declared requirement (exact or range); payloads pin during materialization.
func formatEntryTable(entries []bundlelist.Entry) string {
	headers := [4]string{"BUNDLE", "VERSION", "PRIORITY", "RUN MODES"}
	rows := make([][4]string, 0, len(entries))

	widths := [4]int{len(headers[0]), len(headers[1]), len(headers[2]), len(headers[3])}
	for _, e := range entries {
		priority := "default"
		if e.StartPriority != bundlelist.DefaultStartPriority {
			priority = strconv.Itoa(e.StartPriority)
		}

		row := [4]string{e.ID().String(), e.Version, priority, strings.Join(e.RunModes, ",")}
		for i, cell := range row {
			if len(cell) > widths[i] {
				widths[i] = len(cell)
			}
		}
		rows = append(rows, row)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s  %s  %s  %s\n",
		SubtitleStyle.Render(pad(headers[0], widths[0])),
		SubtitleStyle.Render(pad(headers[1], widths[1])),
		SubtitleStyle.Render(pad(headers[2], widths[2])),
		SubtitleStyle.Render(headers[3]))

	for _, row := range rows {
		fmt.Fprintf(&b, "%s  %s  %s  %s\n",
			CmdStyle.Render(pad(row[0], widths[0])),
			versionStyle.Render(pad(row[1], widths[1])),
			pad(row[2], widths[2]),
			row[3])
	}

	return b.String()
}

// pad right-pads s with spaces to the given width. Styling happens after
// padding so ANSI escape sequences never skew the column math.
func pad(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return s + strings.Repeat(" ", width-len(s))
}
