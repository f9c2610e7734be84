// Package commands implements the trackctl operator CLI.
package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/noah-isme/tracking-engine/internal/app"
	"github.com/noah-isme/tracking-engine/internal/config"
)

// LoadFunc returns the configuration commands run against.
type LoadFunc func() (*config.Config, error)

type options struct {
	load       LoadFunc
	jsonOutput bool
	verbose    bool
}

// Execute runs the root command.
func Execute(ctx context.Context, version string) error {
	return NewRootCommand(version, config.Load).ExecuteContext(ctx)
}

// NewRootCommand builds the command tree. load is called lazily by commands
// that need configuration.
func NewRootCommand(version string, load LoadFunc) *cobra.Command {
	o := &options{load: load}
	root := &cobra.Command{
		Use:   "trackctl",
		Short: "Operate the shipment tracking engine",
		Long: `trackctl resolves tracking numbers through the configured providers,
inspects the provider registry and manages database migrations.

Configuration is read from the environment (and .env) exactly as the API does.`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	root.PersistentFlags().BoolVar(&o.jsonOutput, "json", false, "output in JSON format")
	root.PersistentFlags().BoolVarP(&o.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(newTrackCommand(o))
	root.AddCommand(newProvidersCommand(o))
	root.AddCommand(newMigrateCommand(o))
	root.AddCommand(newTokenCommand(o))
	return root
}

func (o *options) logger(cmd *cobra.Command) zerolog.Logger {
	level := zerolog.WarnLevel
	if o.verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: cmd.ErrOrStderr(), TimeFormat: time.Kitchen}).
		Level(level).With().Timestamp().Logger()
}

func (o *options) config() (*config.Config, error) {
	cfg, err := o.load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	return cfg, nil
}

// build wires the engine without the queue client. The caller must call the
// returned release func.
func (o *options) build(cmd *cobra.Command) (*app.Dependencies, func(), error) {
	cfg, err := o.config()
	if err != nil {
		return nil, nil, err
	}
	deps, err := app.Build(cmd.Context(), cfg, o.logger(cmd), app.Options{
		Name:       "trackctl",
		Registerer: prometheus.NewRegistry(),
		SkipQueue:  true,
	})
	if err != nil {
		return nil, nil, err
	}
	release := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = deps.Close(ctx)
	}
	return deps, release, nil
}

// render writes v as indented JSON when --json is set, otherwise calls text.
func (o *options) render(w io.Writer, v any, text func(io.Writer) error) error {
	if o.jsonOutput || text == nil {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	}
	return text(w)
}
