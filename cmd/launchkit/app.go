// SPDX-License-Identifier: MPL-2.0

package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"launchkit-cli/internal/assembly"
	"launchkit-cli/internal/config"
	"launchkit-cli/internal/issue"
	"launchkit-cli/internal/project"
	"launchkit-cli/internal/registry"
	"launchkit-cli/internal/resolver"
	"launchkit-cli/pkg/coordinate"

	"github.com/charmbracelet/log"
)

type (
	// App wires CLI services and shared dependencies. It is the composition root
	// for the CLI layer: all Cobra command handlers receive an App reference and
	// delegate business logic through its service interfaces (Assembly, Resolver,
	// Config).
	App struct {
		Config   ConfigProvider
		Assembly AssemblyService
		Resolver ResolveService
	}

	// Dependencies defines the injection points for building an App. Nil fields
	// are replaced with production defaults by NewApp. Tests can supply fake
	// implementations to isolate specific service behavior.
	Dependencies struct {
		Config   ConfigProvider
		Assembly AssemblyService
		Resolver ResolveService
	}

	// AssembleRequest captures all CLI assembly inputs as an immutable value.
	// It is the request-scoped data contract between the CLI layer (Cobra
	// handlers) and the AssemblyService implementation.
	AssembleRequest struct {
		// ManifestPath is the project manifest file. Empty means find one by
		// walking up from the working directory.
		ManifestPath string
		// WorkDir hosts the config overlay. Empty selects a temp dir owned
		// by the returned Result.
		WorkDir string
		// SkipRules disables the rule rewrite stage.
		SkipRules bool
		// Offline restricts artifact resolution to the local cache.
		Offline bool
		// ConfigPath is the explicit --config flag value.
		ConfigPath string
	}

	// ResolveRequest captures the inputs for resolving a single coordinate.
	ResolveRequest struct {
		// Coordinate is the artifact to resolve; a range requirement is
		// pinned against registry metadata first.
		Coordinate coordinate.Coordinate
		// Offline restricts resolution to the local cache.
		Offline bool
		// ConfigPath is the explicit --config flag value.
		ConfigPath string
	}

	// AssemblyService runs the full assembly pipeline for a project. The
	// caller owns the returned Result and must call Cleanup on it.
	AssemblyService interface {
		Assemble(ctx context.Context, req AssembleRequest) (*assembly.Result, error)
	}

	// ResolveService resolves one coordinate to a local artifact file.
	ResolveService interface {
		Resolve(ctx context.Context, req ResolveRequest) (*resolver.Resolved, error)
	}

	// ConfigProvider loads configuration using explicit options.
	// This abstraction enables testing with custom config sources or fake
	// implementations.
	ConfigProvider interface {
		Load(ctx context.Context, opts config.LoadOptions) (*config.Config, error)
	}

	// appAssemblyService implements AssemblyService with the real resolver
	// stack, built per request from the loaded configuration.
	appAssemblyService struct {
		config ConfigProvider
	}

	// appResolveService implements ResolveService the same way.
	appResolveService struct {
		config ConfigProvider
	}
)

// NewApp creates an App with defaults for omitted dependencies.
func NewApp(deps Dependencies) *App {
	if deps.Config == nil {
		deps.Config = config.NewProvider()
	}
	if deps.Assembly == nil {
		deps.Assembly = &appAssemblyService{config: deps.Config}
	}
	if deps.Resolver == nil {
		deps.Resolver = &appResolveService{config: deps.Config}
	}

	return &App{
		Config:   deps.Config,
		Assembly: deps.Assembly,
		Resolver: deps.Resolver,
	}
}

// Assemble loads configuration, builds the resolver stack, and runs the
// assembly pipeline. Failures come back as ServiceErrors carrying the issue
// catalog page for the triggering condition.
func (s *appAssemblyService) Assemble(ctx context.Context, req AssembleRequest) (*assembly.Result, error) {
	cfg, err := loadConfigWithFallback(ctx, s.config, req.ConfigPath)
	if err != nil {
		return nil, newServiceError(err, issue.ConfigLoadFailedId, "")
	}

	manifestPath := req.ManifestPath
	if manifestPath == "" {
		manifestPath, err = project.Find(".")
		if err != nil {
			return nil, err
		}
	}

	defaultList, err := defaultListCoordinate(cfg)
	if err != nil {
		return nil, newServiceError(err, issue.ConfigLoadFailedId, "")
	}

	res, err := buildResolver(cfg, req.Offline)
	if err != nil {
		return nil, err
	}

	asm := assembly.New(res, nil, serviceLogger())
	result, err := asm.Assemble(ctx, assembly.Options{
		ManifestPath: manifestPath,
		WorkDir:      req.WorkDir,
		DefaultList:  defaultList,
		SkipRules:    req.SkipRules,
		ToolVersion:  Version,
	})
	if err != nil {
		return nil, newServiceError(err, classifyIssue(err), "")
	}
	return result, nil
}

// Resolve loads configuration and resolves a single coordinate through the
// cache and the configured registries.
func (s *appResolveService) Resolve(ctx context.Context, req ResolveRequest) (*resolver.Resolved, error) {
	cfg, err := loadConfigWithFallback(ctx, s.config, req.ConfigPath)
	if err != nil {
		return nil, newServiceError(err, issue.ConfigLoadFailedId, "")
	}

	res, err := buildResolver(cfg, req.Offline)
	if err != nil {
		return nil, err
	}

	resolved, err := res.Resolve(ctx, req.Coordinate)
	if err != nil {
		return nil, newServiceError(err, classifyIssue(err), "")
	}
	return resolved, nil
}

// loadConfigWithFallback loads configuration via the provider. An explicit
// --config path must load; on the default path a failed load falls back to
// defaults so commands stay operational (the root initializer has already
// warned about the broken file).
func loadConfigWithFallback(ctx context.Context, provider ConfigProvider, configPath string) (*config.Config, error) {
	cfg, err := provider.Load(ctx, config.LoadOptions{ConfigFilePath: configPath})
	if err == nil {
		return cfg, nil
	}

	if configPath != "" {
		return nil, fmt.Errorf("loading config from %s: %w", configPath, err)
	}

	return config.DefaultConfig(), nil
}

// buildResolver assembles the cache/client/registry stack from configuration.
// Offline mode drops the registries so only the local cache can serve.
func buildResolver(cfg *config.Config, offline bool) (*resolver.Resolver, error) {
	cache, err := registry.NewCache(string(cfg.CacheDir))
	if err != nil {
		return nil, fmt.Errorf("opening artifact cache: %w", err)
	}

	var registries []string
	if !offline {
		registries = cfg.RegistryStrings()
	}

	return resolver.New(cache, registry.NewClient(), registries, serviceLogger()), nil
}

// defaultListCoordinate parses the configured default-list coordinate. An
// unset value means no default list is available, which is not an error.
func defaultListCoordinate(cfg *config.Config) (coordinate.Coordinate, error) {
	if cfg.DefaultList == "" {
		return coordinate.Coordinate{}, nil
	}

	coord, err := cfg.DefaultList.Coordinate()
	if err != nil {
		return coordinate.Coordinate{}, fmt.Errorf("invalid default_list in config: %w", err)
	}
	return coord, nil
}

// serviceLogger builds the slog logger handed to the service stack. The
// charmbracelet handler writes styled, human-oriented lines to stderr; the
// verbose flag lowers the level to Debug.
func serviceLogger() *slog.Logger {
	handler := log.NewWithOptions(os.Stderr, log.Options{Prefix: "launchkit"})
	if verbose {
		handler.SetLevel(log.DebugLevel)
	} else {
		handler.SetLevel(log.WarnLevel)
	}
	return slog.New(handler)
}
