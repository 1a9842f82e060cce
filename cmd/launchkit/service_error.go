// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"errors"
	"fmt"
	"io"
	"log/slog"

	"launchkit-cli/internal/issue"
	"launchkit-cli/internal/overlay"
	"launchkit-cli/internal/project"
	"launchkit-cli/internal/registry"
	"launchkit-cli/internal/resolver"
	"launchkit-cli/internal/rules"
	"launchkit-cli/pkg/bundlelist"

	"github.com/spf13/cobra"
)

// ServiceError is an error that carries optional rendering information for
// the CLI layer. When the CLI layer receives a ServiceError, it renders the
// styled error message (if present) before formatting the underlying error.
// Always create via newServiceError to enforce the Err-must-be-non-nil invariant.
type ServiceError struct {
	// Err is the underlying error (must not be nil).
	Err error
	// IssueID is the optional issue catalog ID for rendering help text.
	IssueID issue.Id
	// StyledMessage is the optional pre-rendered styled error text.
	StyledMessage string
}

// newServiceError creates a ServiceError with a nil-Err panic guard.
// All construction sites must use this instead of struct literals.
func newServiceError(err error, issueID issue.Id, styledMessage string) *ServiceError {
	if err == nil {
		panic("ServiceError: Err must not be nil")
	}
	return &ServiceError{
		Err:           err,
		IssueID:       issueID,
		StyledMessage: styledMessage,
	}
}

// Error implements the error interface.
func (e *ServiceError) Error() string { return e.Err.Error() }

// Unwrap returns the underlying error for errors.Is/As chains.
func (e *ServiceError) Unwrap() error { return e.Err }

// renderServiceError renders a ServiceError in the CLI layer.
// It prints any styled message first, then the optional issue help section.
func renderServiceError(stderr io.Writer, svcErr *ServiceError) {
	if svcErr == nil {
		return
	}

	if svcErr.StyledMessage != "" {
		fmt.Fprint(stderr, svcErr.StyledMessage)
	}

	if svcErr.IssueID == 0 {
		return
	}

	if catalogEntry := issue.Get(svcErr.IssueID); catalogEntry != nil {
		rendered, renderErr := catalogEntry.Render("dark")
		if renderErr != nil {
			slog.Warn("failed to render issue catalog entry", "issueID", svcErr.IssueID, "error", renderErr)
		} else {
			fmt.Fprint(stderr, rendered)
		}
	}
}

// failWithServiceError renders a ServiceError (when err is one) and converts
// it to a silent non-zero exit. Other errors pass through for cobra to report.
func failWithServiceError(cmd *cobra.Command, err error) error {
	var svcErr *ServiceError
	if !errors.As(err, &svcErr) {
		return err
	}

	stderr := cmd.ErrOrStderr()
	fmt.Fprintf(stderr, "%s %s\n", reportErrorIcon, formatErrorForDisplay(err, verbose))
	renderServiceError(stderr, svcErr)

	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	return &ExitError{Code: 1}
}

// classifyIssue maps sentinel errors from the service layer to their issue
// catalog pages. Unknown errors map to 0 (no catalog entry).
func classifyIssue(err error) issue.Id {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, resolver.ErrVersionNotFound):
		return issue.VersionNotFoundId
	case errors.Is(err, registry.ErrMetadataUnavailable):
		return issue.MetadataUnavailableId
	case errors.Is(err, registry.ErrArtifactNotFound):
		return issue.ArtifactNotFoundId
	case errors.Is(err, bundlelist.ErrMalformedList):
		return issue.MalformedBundleListId
	case errors.Is(err, bundlelist.ErrEntryNotFound):
		return issue.EntryNotFoundId
	case errors.Is(err, overlay.ErrExtractionFailed):
		return issue.ExtractionFailedId
	case errors.Is(err, rules.ErrRuleInvalid):
		return issue.RuleDefinitionInvalidId
	case errors.Is(err, rules.ErrNotConverged):
		return issue.RulesNotConvergedId
	case errors.Is(err, project.ErrManifestInvalid):
		return issue.ManifestInvalidId
	default:
		return 0
	}
}
