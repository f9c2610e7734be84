package commands

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/noah-isme/tracking-engine/internal/registry"
	"github.com/noah-isme/tracking-engine/internal/requestlog"
)

func newProvidersCommand(o *options) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "providers",
		Short: "Inspect and seed the provider registry",
	}
	cmd.AddCommand(newProvidersListCommand(o))
	cmd.AddCommand(newProvidersHealthCommand(o))
	cmd.AddCommand(newProvidersSeedCommand(o))
	return cmd
}

func newProvidersListCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List every registered provider, active or not",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			deps, release, err := o.build(cmd)
			if err != nil {
				return err
			}
			defer release()

			providers, err := deps.Registry.Providers(cmd.Context())
			if err != nil {
				return fmt.Errorf("list providers: %w", err)
			}
			return o.render(cmd.OutOrStdout(), providers, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "ID\tPRIORITY\tADAPTER\tACTIVE\tTYPES\tORG")
				for _, p := range providers {
					types := make([]string, len(p.Types))
					for i, t := range p.Types {
						types[i] = string(t)
					}
					fmt.Fprintf(tw, "%s\t%d\t%s\t%t\t%s\t%s\n",
						p.ID, p.Priority, p.Adapter, p.Active, strings.Join(types, ","), dash(p.OrganizationID))
				}
				return tw.Flush()
			})
		},
	}
}

func newProvidersHealthCommand(o *options) *cobra.Command {
	var (
		window time.Duration
		limit  int
	)
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Score providers from the request log",
		Long: `Aggregate recent provider attempts from the request log into success rate,
latency and error class counts. Without DATABASE_URL the log is in-process
and therefore empty.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if window <= 0 {
				return errors.New("--window must be positive")
			}
			deps, release, err := o.build(cmd)
			if err != nil {
				return err
			}
			defer release()

			entries, err := deps.History.Recent(cmd.Context(), time.Now().Add(-window), limit)
			if err != nil {
				return fmt.Errorf("read request log: %w", err)
			}
			scores := requestlog.Score(entries)
			return o.render(cmd.OutOrStdout(), scores, func(w io.Writer) error {
				tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
				fmt.Fprintln(tw, "PROVIDER\tATTEMPTS\tSKIPPED\tSUCCESS\tAVG_MS\tP95_MS\tLAST_ERROR")
				for _, s := range scores {
					fmt.Fprintf(tw, "%s\t%d\t%d\t%.1f%%\t%d\t%d\t%s\n",
						s.Provider, s.Attempts, s.Skipped, s.SuccessRate*100, s.AvgLatencyMs, s.P95LatencyMs, dash(s.LastError))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().DurationVar(&window, "window", 24*time.Hour, "how far back to read")
	cmd.Flags().IntVar(&limit, "limit", 5000, "maximum entries to read")
	return cmd
}

func newProvidersSeedCommand(o *options) *cobra.Command {
	return &cobra.Command{
		Use:     "seed <file>",
		Short:   "Upsert every provider from a YAML or JSON file",
		Example: `  DATABASE_URL=postgres://... trackctl providers seed deploy/providers.yaml`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, release, err := o.build(cmd)
			if err != nil {
				return err
			}
			defer release()

			if deps.Store == nil {
				return registry.ErrReadOnly
			}
			src, err := registry.NewFileSource(args[0])
			if err != nil {
				return err
			}
			n, err := registry.Seed(cmd.Context(), deps.Store, src)
			if err != nil {
				return err
			}
			result := map[string]int{"seeded": n}
			return o.render(cmd.OutOrStdout(), result, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "seeded %d providers\n", n)
				return err
			})
		},
	}
}
