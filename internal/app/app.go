// Package app wires the enrichment pipeline together: it loads a pipeline
// document, registers lookup sources, runs the steps through the accessor,
// and writes the result.
package app

import (
	"io"
	"log/slog"

	"github.com/vk/enrichgo/internal/registry"
)

// App encapsulates the application's dependencies, configuration, and lifecycle.
type App struct {
	outW     io.Writer
	logger   *slog.Logger
	registry *registry.Registry
}

// NewApp is the constructor for the main application. It returns a fully
// initialized App instance, including its own isolated logger and registry.
// Additional modules are registered on top of the pipeline's own sources.
func NewApp(outW io.Writer, cfg *Config, modules ...registry.Module) (*App, error) {
	logger := newLogger(cfg.LogLevel, cfg.LogFormat, outW)
	logger.Debug("Logger configured successfully.")

	reg := registry.New()
	for _, mod := range modules {
		if err := mod.Register(reg); err != nil {
			return nil, err
		}
	}
	logger.Debug("All Go modules registered.", "count", len(modules))

	return &App{
		outW:     outW,
		logger:   logger,
		registry: reg,
	}, nil
}

// Registry returns the application's registry. This is primarily for testing.
func (a *App) Registry() *registry.Registry {
	return a.registry
}
