// Package cmd defines the CLI commands for the readlater-importer executable.
package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/readlater-importer/internal/config"
	"github.com/JakeFAU/readlater-importer/internal/importer"
	"github.com/JakeFAU/readlater-importer/internal/pipeline"
	"github.com/JakeFAU/readlater-importer/internal/server"
	"github.com/JakeFAU/readlater-importer/internal/service"
)

// App is what the subcommands need from the application. Tests swap in a fake.
type App interface {
	Run(ctx context.Context) error
	Import(
		ctx context.Context,
		urls []string,
		opts pipeline.Options,
		onEvent func(importer.ProgressEvent),
	) (service.Result, error)
	Close(ctx context.Context) error
}

// newApp is the application factory. It's a variable so tests can replace it.
var newApp = func(ctx context.Context, cfg config.Config) (App, error) {
	return server.Build(ctx, cfg)
}

type cfgKeyType struct{}

var cfgKey cfgKeyType

func newRootCmd() *cobra.Command {
	var cfgFile string
	cmd := &cobra.Command{
		Use:   "readlater-importer",
		Short: "Bulk URL importer for the read-it-later library.",
		Long: `readlater-importer scrapes batches of URLs into item drafts.
It runs either as an HTTP service streaming progress as NDJSON, or as a
one-shot CLI import that prints progress to the terminal.`,
		SilenceUsage: true,

		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(cfgFile)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cmd.SetContext(context.WithValue(cmd.Context(), cfgKey, cfg))
			return nil
		},
	}

	cmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); environment uses the READLATER_ prefix")
	cmd.AddCommand(newServeCmd(), newImportCmd())
	return cmd
}

func configFrom(ctx context.Context) (config.Config, error) {
	cfg, ok := ctx.Value(cfgKey).(config.Config)
	if !ok {
		return config.Config{}, errors.New("configuration not loaded")
	}
	return cfg, nil
}

// Execute is the main entry point.
func Execute() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}
