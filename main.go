// SPDX-License-Identifier: MPL-2.0

// launchkit is a CLI tool for assembling launcher bundle lists: it merges
// a shared default list, a project's own bundle list, and any referenced
// partial lists into a single resolved list, then materializes the launcher
// directory layout from it.
package main

import (
	cmd "launchkit-cli/cmd/launchkit"
)

func main() {
	cmd.Execute()
}
