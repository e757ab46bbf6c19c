// Package config loads the inputs of the pipez binary: pipeline documents
// from YAML files and runtime settings through koanf.
package config

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	docconfig "github.com/alexisbeaulieu97/pipez/internal/config"
	"github.com/alexisbeaulieu97/pipez/internal/logger"
	"github.com/alexisbeaulieu97/pipez/internal/operator"
	"github.com/alexisbeaulieu97/pipez/internal/pipeline"
	"github.com/alexisbeaulieu97/pipez/internal/pipelineconv"
	pipezerrors "github.com/alexisbeaulieu97/pipez/pkg/errors"
)

// PipelineLoader reads pipeline documents from disk and builds pipelines
// against an operator registry.
type PipelineLoader struct {
	registry *operator.Registry
	logger   *logger.Logger
}

func NewPipelineLoader(registry *operator.Registry, log *logger.Logger) *PipelineLoader {
	if log == nil {
		log = logger.Nop()
	}
	return &PipelineLoader{registry: registry, logger: log}
}

// Load parses, validates and builds the pipeline at path.
func (l *PipelineLoader) Load(ctx context.Context, path string) (*pipeline.Pipeline, error) {
	if err := contextCheck(ctx); err != nil {
		return nil, err
	}

	log := l.logger.With("path", path)
	log.Debug("loading pipeline document")

	doc, err := docconfig.ParseFile(path)
	if err != nil {
		log.Error(err, "failed to parse pipeline document")
		return nil, err
	}

	if err := contextCheck(ctx); err != nil {
		return nil, err
	}

	p, err := pipelineconv.FromDocument(doc, l.registry)
	if err != nil {
		log.Error(err, "pipeline document failed to build")
		return nil, err
	}

	log.WithFields(map[string]any{"pipeline": p.Name(), "operators": len(p.Operators())}).Info("pipeline document loaded")
	return p, nil
}

// Validate checks that path is a YAML file holding a buildable pipeline.
func (l *PipelineLoader) Validate(ctx context.Context, path string) error {
	if err := contextCheck(ctx); err != nil {
		return err
	}

	info, err := os.Stat(path)
	if err != nil {
		return pipezerrors.NewParseError(path, 0, err)
	}
	if info.IsDir() {
		return pipezerrors.NewValidationError("path", fmt.Sprintf("%s is a directory", path), nil)
	}

	switch ext := filepath.Ext(path); ext {
	case ".yaml", ".yml":
		_, err = l.Load(ctx, path)
		return err
	default:
		return pipezerrors.NewValidationError("path", fmt.Sprintf("unsupported document extension %q", ext), nil)
	}
}

func contextCheck(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("load cancelled: %w", err)
	}
	return nil
}
