package main

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	infraconfig "github.com/alexisbeaulieu97/pipez/internal/infrastructure/config"
	"github.com/alexisbeaulieu97/pipez/internal/logger"
	"github.com/alexisbeaulieu97/pipez/internal/operator"
	"github.com/alexisbeaulieu97/pipez/internal/operators/demo"
	"github.com/alexisbeaulieu97/pipez/internal/transport"
)

// appContext bundles the services every command builds at startup.
type appContext struct {
	settings *infraconfig.Settings
	logger   *logger.Logger
	registry *operator.Registry
	loader   *infraconfig.PipelineLoader
}

func newAppContext(cmd *cobra.Command, root *rootFlags) (*appContext, error) {
	settings, err := infraconfig.Load(root.settingsPath, cmd.Flags())
	if err != nil {
		return nil, err
	}

	level := settings.Log.Level
	if root.verbose {
		level = "debug"
	}
	log, err := logger.New(logger.Options{
		Level:         level,
		HumanReadable: term.IsTerminal(int(os.Stderr.Fd())),
		Writer:        cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, err
	}

	registry := operator.NewRegistry(log)
	if err := demo.Register(registry); err != nil {
		return nil, err
	}

	return &appContext{
		settings: settings,
		logger:   log,
		registry: registry,
		loader:   infraconfig.NewPipelineLoader(registry, log),
	}, nil
}

func (a *appContext) dialerOptions() []transport.Option {
	return []transport.Option{
		transport.WithLogger(a.logger),
		transport.WithMemoryCapacity(a.settings.Transport.Capacity),
	}
}
