// SPDX-License-Identifier: MPL-2.0

// Package platform provides cross-platform compatibility utilities.
//
// This package contains utilities for handling platform-specific concerns,
// such as Windows reserved filenames that cannot appear in extracted
// configuration trees or assembled output directories.
package platform
