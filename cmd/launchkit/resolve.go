// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"fmt"

	"launchkit-cli/pkg/coordinate"

	"github.com/spf13/cobra"
)

// newResolveCommand creates the `launchkit resolve` command.
func newResolveCommand(app *App) *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "resolve <coordinate>",
		Short: "Resolve a coordinate to a local artifact",
		Long: `Resolve a single artifact coordinate into the local cache.

The coordinate has the form namespace:name:version[:type[:classifier]].
A version range such as [1.0,2.0) is pinned to the highest version any
configured registry advertises before the artifact is fetched.

Examples:
  launchkit resolve org.example:core:1.2.0
  launchkit resolve "org.example:metrics:[3.0,4.0)"
  launchkit resolve "io.launchkit:default-bundles:[1.0,2.0):partial"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			coord, err := coordinate.Parse(args[0])
			if err != nil {
				return err
			}

			req := ResolveRequest{
				Coordinate: coord,
				Offline:    offline,
				ConfigPath: cfgFile,
			}
			return runResolve(cmd, app, req)
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "resolve from the local cache only")

	return cmd
}

// runResolve resolves one coordinate and reports where the artifact landed.
func runResolve(cmd *cobra.Command, app *App, req ResolveRequest) error {
	stdout := cmd.OutOrStdout()

	resolved, err := app.Resolver.Resolve(cmd.Context(), req)
	if err != nil {
		return failWithServiceError(cmd, err)
	}

	fmt.Fprintln(stdout, reportTitleStyle.Render("Artifact Resolution"))
	fmt.Fprintf(stdout, "%s Requested: %s\n", reportInfoIcon, CmdStyle.Render(req.Coordinate.String()))
	fmt.Fprintf(stdout, "%s Pinned:    %s\n", reportSuccessIcon, coordStyle.Render(resolved.Coordinate.String()))
	fmt.Fprintf(stdout, "%s Path:      %s\n", reportInfoIcon, pathStyle.Render(resolved.Path))

	if resolved.FromCache {
		fmt.Fprintf(stdout, "%s Served from local cache\n", reportInfoIcon)
	} else {
		fmt.Fprintf(stdout, "%s Downloaded from %s\n", reportInfoIcon, resolved.Registry)
	}

	return nil
}
