// SPDX-License-Identifier: MPL-2.0

// Package cmd contains all CLI commands for launchkit.
//
// This package implements the Cobra command hierarchy for the launchkit CLI,
// including the root command and subcommands for assembling bundle lists,
// resolving coordinates, validating project inputs, and managing configuration.
package cmd
