// Package adapters builds the registry.Adapter selected by configuration.
package adapters

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/kiranshivaraju/enaupload/internal/config"
	"github.com/kiranshivaraju/enaupload/internal/registry"
	"github.com/kiranshivaraju/enaupload/internal/registry/ena"
	"github.com/kiranshivaraju/enaupload/internal/registry/mock"
	"github.com/kiranshivaraju/enaupload/internal/registry/webin"
)

// New constructs the registry adapter named by cfg.Adapter.
// Called once at server startup.
func New(cfg config.RegistryConfig, env *registry.Environment, logger *slog.Logger) (registry.Adapter, error) {
	if logger == nil {
		logger = slog.Default()
	}

	switch cfg.Adapter {
	case "ena":
		transfer := ena.NewFTPTransfer(cfg.FTPHost, cfg.Username, cfg.Password, cfg.Timeout)
		records := ena.NewClient(ena.Config{
			Username:    cfg.Username,
			Password:    cfg.Password,
			ToolName:    cfg.ToolName,
			ToolVersion: cfg.ToolVersion,
			DataDir:     cfg.DataDir,
			Timeout:     cfg.Timeout,
		}, env, transfer,
			ena.WithTaxonomy(ena.NewTaxonomyClient(ena.DefaultTaxonomyURL, &http.Client{Timeout: cfg.Timeout})),
			ena.WithLogger(logger),
		)
		analyses := webin.NewRunner(webin.Config{
			JavaPath: cfg.JavaPath,
			Jar:      cfg.WebinJar,
			Context:  cfg.WebinContext,
			Username: cfg.Username,
			Password: cfg.Password,
			Timeout:  cfg.WebinTimeout,
		}, env, logger)
		return &registry.Composite{Records: records, Analyses: analyses}, nil
	case "mock":
		return mock.NewAdapter(), nil
	default:
		return nil, fmt.Errorf("unknown registry adapter %q: must be one of ena, mock", cfg.Adapter)
	}
}
