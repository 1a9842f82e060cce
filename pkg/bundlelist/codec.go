// SPDX-License-Identifier: MPL-2.0

package bundlelist

import (
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"launchkit-cli/pkg/cueutil"
)

//go:embed bundlelist_schema.cue
var listSchema string

// ErrMalformedList is returned when a bundle-list document fails to parse
// or validate. A malformed list always aborts assembly.
var ErrMalformedList = errors.New("malformed bundle list")

type (
	// document is the CUE wire shape of a bundle-list file.
	document struct {
		Bundles []entryDocument `json:"bundles"`
	}

	entryDocument struct {
		Namespace     string   `json:"namespace"`
		Name          string   `json:"name"`
		Classifier    string   `json:"classifier"`
		Version       string   `json:"version"`
		StartPriority int      `json:"start_priority"`
		RunModes      []string `json:"run_modes"`
	}
)

// Parse parses a bundle-list document. The filename is used only for error
// messages. Duplicate identities inside one document follow Add semantics:
// the last occurrence wins attributes, the first decides the position.
func Parse(data []byte, filename string) (*List, error) {
	result, err := cueutil.ParseAndDecodeString[document](
		listSchema,
		data,
		"#BundleList",
		cueutil.WithFilename(filename),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrMalformedList, err)
	}

	list := New()
	for _, d := range result.Value.Bundles {
		e := Entry{
			Namespace:     d.Namespace,
			Name:          d.Name,
			Classifier:    d.Classifier,
			Version:       d.Version,
			StartPriority: d.StartPriority,
			RunModes:      d.RunModes,
		}
		if err := e.Validate(); err != nil {
			return nil, fmt.Errorf("%w: %s: %s", ErrMalformedList, filename, err)
		}
		list.Add(e)
	}
	return list, nil
}

// ParseFile reads and parses a bundle-list document from path.
func ParseFile(path string) (*List, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read bundle list at %s: %w", path, err)
	}
	return Parse(data, path)
}

// Format renders the list as a CUE document that Parse round-trips.
func Format(l *List) []byte {
	var sb strings.Builder
	sb.WriteString("// Bundle list written by launchkit; do not edit manually.\n")
	sb.WriteString("bundles: [\n")
	for _, e := range l.Entries() {
		sb.WriteString("\t{\n")
		fmt.Fprintf(&sb, "\t\tnamespace: %s\n", strconv.Quote(e.Namespace))
		fmt.Fprintf(&sb, "\t\tname:      %s\n", strconv.Quote(e.Name))
		if e.Classifier != "" {
			fmt.Fprintf(&sb, "\t\tclassifier: %s\n", strconv.Quote(e.Classifier))
		}
		fmt.Fprintf(&sb, "\t\tversion:   %s\n", strconv.Quote(e.Version))
		if e.StartPriority != DefaultStartPriority {
			fmt.Fprintf(&sb, "\t\tstart_priority: %d\n", e.StartPriority)
		}
		if len(e.RunModes) > 0 {
			quoted := make([]string, len(e.RunModes))
			for i, m := range e.RunModes {
				quoted[i] = strconv.Quote(m)
			}
			fmt.Fprintf(&sb, "\t\trun_modes: [%s]\n", strings.Join(quoted, ", "))
		}
		sb.WriteString("\t},\n")
	}
	sb.WriteString("]\n")
	return []byte(sb.String())
}

// Write writes the list as a CUE document to w.
func Write(w io.Writer, l *List) error {
	_, err := w.Write(Format(l))
	return err
}

// WriteFile writes the list as a CUE document to path.
func WriteFile(path string, l *List) error {
	if err := os.WriteFile(path, Format(l), 0o644); err != nil {
		return fmt.Errorf("failed to write bundle list to %s: %w", path, err)
	}
	return nil
}
