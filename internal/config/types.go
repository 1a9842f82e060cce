// SPDX-License-Identifier: MPL-2.0

package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"launchkit-cli/pkg/coordinate"
)

const (
	// ColorSchemeAuto detects the terminal color scheme automatically.
	ColorSchemeAuto ColorScheme = "auto"
	// ColorSchemeDark forces dark color scheme.
	ColorSchemeDark ColorScheme = "dark"
	// ColorSchemeLight forces light color scheme.
	ColorSchemeLight ColorScheme = "light"
)

var (
	// ErrInvalidRegistryURL is the sentinel error wrapped by InvalidRegistryURLError.
	ErrInvalidRegistryURL = errors.New("invalid registry URL")
	// ErrInvalidCacheDirPath is returned when a CacheDirPath value is whitespace-only.
	ErrInvalidCacheDirPath = errors.New("invalid cache dir path")
	// ErrInvalidDefaultList is the sentinel error wrapped by InvalidDefaultListError.
	ErrInvalidDefaultList = errors.New("invalid default list coordinate")
	// ErrInvalidColorScheme is returned when a ColorScheme value is not recognized.
	ErrInvalidColorScheme = errors.New("invalid color scheme")
	// ErrInvalidUIConfig is the sentinel error wrapped by InvalidUIConfigError.
	ErrInvalidUIConfig = errors.New("invalid UI config")
	// ErrInvalidConfig is the sentinel error wrapped by InvalidConfigError.
	ErrInvalidConfig = errors.New("invalid config")
)

type (
	// RegistryURL represents an HTTP(S) base URL of a bundle registry.
	// A valid URL must be non-empty, parse as a URL, and use the http or
	// https scheme.
	RegistryURL string

	// InvalidRegistryURLError is returned when a RegistryURL value does not
	// parse or uses an unsupported scheme. It wraps ErrInvalidRegistryURL
	// for errors.Is() compatibility.
	InvalidRegistryURLError struct {
		Value  RegistryURL
		Reason string
	}

	// CacheDirPath represents a filesystem path to the artifact cache.
	// The zero value ("") is valid and means "use default cache directory".
	// Non-zero values must not be whitespace-only.
	CacheDirPath string

	// InvalidCacheDirPathError is returned when a CacheDirPath value is
	// non-empty but whitespace-only.
	InvalidCacheDirPathError struct {
		Value CacheDirPath
	}

	// DefaultListCoordinate represents the coordinate of the shared default
	// bundle list. The zero value ("") is valid and means "no default list
	// configured"; non-zero values must parse as a full coordinate.
	DefaultListCoordinate string

	// InvalidDefaultListError is returned when a DefaultListCoordinate value
	// is non-empty but does not parse as a coordinate.
	InvalidDefaultListError struct {
		Value DefaultListCoordinate
		Cause error
	}

	// ColorScheme specifies the terminal color scheme preference.
	ColorScheme string

	// InvalidColorSchemeError is returned when a ColorScheme value is not recognized.
	// It wraps ErrInvalidColorScheme for errors.Is() compatibility.
	InvalidColorSchemeError struct {
		Value ColorScheme
	}

	// InvalidUIConfigError is returned when a UIConfig has invalid fields.
	// It wraps ErrInvalidUIConfig for errors.Is() compatibility and collects
	// field-level validation errors.
	InvalidUIConfigError struct {
		FieldErrors []error
	}

	// InvalidConfigError is returned when a Config has invalid fields.
	// It wraps ErrInvalidConfig for errors.Is() compatibility and collects
	// field-level validation errors from all sub-components.
	InvalidConfigError struct {
		FieldErrors []error
	}

	// Config holds the application configuration.
	Config struct {
		// Registries lists bundle registry base URLs in consultation order.
		Registries []RegistryURL `json:"registries" mapstructure:"registries"`
		// CacheDir overrides the artifact cache location.
		CacheDir CacheDirPath `json:"cache_dir" mapstructure:"cache_dir"`
		// DefaultList is the coordinate of the shared default bundle list
		// used when a project manifest sets include_defaults.
		DefaultList DefaultListCoordinate `json:"default_list" mapstructure:"default_list"`
		// UI configures the user interface
		UI UIConfig `json:"ui" mapstructure:"ui"`
	}

	// UIConfig configures the user interface.
	UIConfig struct {
		// ColorScheme sets the color scheme
		ColorScheme ColorScheme `json:"color_scheme" mapstructure:"color_scheme"`
		// Verbose enables verbose output
		Verbose bool `json:"verbose" mapstructure:"verbose"`
	}
)

// String returns the string representation of the RegistryURL.
func (u RegistryURL) String() string { return string(u) }

// IsValid returns whether the RegistryURL is a usable registry base URL.
// A valid value is non-empty, parses as a URL, and uses http or https.
func (u RegistryURL) IsValid() (bool, []error) {
	if strings.TrimSpace(string(u)) == "" {
		return false, []error{&InvalidRegistryURLError{Value: u, Reason: "must be non-empty"}}
	}

	parsed, err := url.Parse(string(u))
	if err != nil {
		return false, []error{&InvalidRegistryURLError{Value: u, Reason: err.Error()}}
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false, []error{&InvalidRegistryURLError{Value: u, Reason: "scheme must be http or https"}}
	}
	if parsed.Host == "" {
		return false, []error{&InvalidRegistryURLError{Value: u, Reason: "missing host"}}
	}
	return true, nil
}

// Error implements the error interface for InvalidRegistryURLError.
func (e *InvalidRegistryURLError) Error() string {
	return fmt.Sprintf("invalid registry URL %q: %s", e.Value, e.Reason)
}

// Unwrap returns ErrInvalidRegistryURL for errors.Is() compatibility.
func (e *InvalidRegistryURLError) Unwrap() error { return ErrInvalidRegistryURL }

// String returns the string representation of the CacheDirPath.
func (p CacheDirPath) String() string { return string(p) }

// IsValid returns whether the CacheDirPath is valid.
// The zero value ("") is valid (means "use default cache directory").
// Non-zero values must not be whitespace-only.
func (p CacheDirPath) IsValid() (bool, []error) {
	if p == "" {
		return true, nil
	}
	if strings.TrimSpace(string(p)) == "" {
		return false, []error{&InvalidCacheDirPathError{Value: p}}
	}
	return true, nil
}

// Error implements the error interface for InvalidCacheDirPathError.
func (e *InvalidCacheDirPathError) Error() string {
	return fmt.Sprintf("invalid cache dir path %q: non-empty value must not be whitespace-only", e.Value)
}

// Unwrap returns ErrInvalidCacheDirPath for errors.Is() compatibility.
func (e *InvalidCacheDirPathError) Unwrap() error { return ErrInvalidCacheDirPath }

// String returns the string representation of the DefaultListCoordinate.
func (d DefaultListCoordinate) String() string { return string(d) }

// IsValid returns whether the DefaultListCoordinate is valid.
// The zero value ("") is valid (means "no default list configured").
// Non-zero values must parse as a full coordinate.
func (d DefaultListCoordinate) IsValid() (bool, []error) {
	if d == "" {
		return true, nil
	}
	if _, err := coordinate.Parse(string(d)); err != nil {
		return false, []error{&InvalidDefaultListError{Value: d, Cause: err}}
	}
	return true, nil
}

// Coordinate parses the value. Call only after IsValid; the zero value
// returns an error.
func (d DefaultListCoordinate) Coordinate() (coordinate.Coordinate, error) {
	return coordinate.Parse(string(d))
}

// Error implements the error interface for InvalidDefaultListError.
func (e *InvalidDefaultListError) Error() string {
	return fmt.Sprintf("invalid default list coordinate %q: %v", e.Value, e.Cause)
}

// Unwrap returns ErrInvalidDefaultList for errors.Is() compatibility.
func (e *InvalidDefaultListError) Unwrap() error { return ErrInvalidDefaultList }

// Error implements the error interface for InvalidColorSchemeError.
func (e *InvalidColorSchemeError) Error() string {
	return fmt.Sprintf("invalid color scheme %q (valid: auto, dark, light)", e.Value)
}

// Unwrap returns the sentinel error for errors.Is() compatibility.
func (e *InvalidColorSchemeError) Unwrap() error {
	return ErrInvalidColorScheme
}

// String returns the string representation of the ColorScheme.
func (cs ColorScheme) String() string { return string(cs) }

// IsValid returns whether the ColorScheme is one of the defined color schemes,
// and a list of validation errors if it is not.
func (cs ColorScheme) IsValid() (bool, []error) {
	switch cs {
	case ColorSchemeAuto, ColorSchemeDark, ColorSchemeLight:
		return true, nil
	default:
		return false, []error{&InvalidColorSchemeError{Value: cs}}
	}
}

// IsValid returns whether the UIConfig has valid fields.
// It delegates to ColorScheme.IsValid(); bool fields need no validation.
func (c UIConfig) IsValid() (bool, []error) {
	var errs []error
	if valid, fieldErrs := c.ColorScheme.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if len(errs) > 0 {
		return false, []error{&InvalidUIConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// Error implements the error interface for InvalidUIConfigError.
func (e *InvalidUIConfigError) Error() string {
	return fmt.Sprintf("invalid UI config: %d field error(s)", len(e.FieldErrors))
}

// Unwrap returns ErrInvalidUIConfig for errors.Is() compatibility.
func (e *InvalidUIConfigError) Unwrap() error { return ErrInvalidUIConfig }

// IsValid returns whether the Config has valid fields.
// It delegates to each Registries entry's IsValid(), CacheDir.IsValid(),
// DefaultList.IsValid(), and UI.IsValid().
func (c Config) IsValid() (bool, []error) {
	var errs []error
	for _, reg := range c.Registries {
		if valid, fieldErrs := reg.IsValid(); !valid {
			errs = append(errs, fieldErrs...)
		}
	}
	if valid, fieldErrs := c.CacheDir.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.DefaultList.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if valid, fieldErrs := c.UI.IsValid(); !valid {
		errs = append(errs, fieldErrs...)
	}
	if len(errs) > 0 {
		return false, []error{&InvalidConfigError{FieldErrors: errs}}
	}
	return true, nil
}

// RegistryStrings returns the registry URLs as plain strings in
// consultation order.
func (c Config) RegistryStrings() []string {
	out := make([]string, len(c.Registries))
	for i, reg := range c.Registries {
		out[i] = string(reg)
	}
	return out
}

// Error implements the error interface for InvalidConfigError.
func (e *InvalidConfigError) Error() string {
	return fmt.Sprintf("invalid config: %d field error(s)", len(e.FieldErrors))
}

// Unwrap returns ErrInvalidConfig for errors.Is() compatibility.
func (e *InvalidConfigError) Unwrap() error { return ErrInvalidConfig }

// DefaultConfig returns the default configuration
func DefaultConfig() *Config {
	return &Config{
		Registries:  []RegistryURL{},
		CacheDir:    "", // Will use $LAUNCHKIT_CACHE_PATH or ~/.launchkit/cache if empty
		DefaultList: "io.launchkit:default-bundles:[1.0,2.0):partial",
		UI: UIConfig{
			ColorScheme: ColorSchemeAuto,
			Verbose:     false,
		},
	}
}
