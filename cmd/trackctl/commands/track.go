package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/noah-isme/tracking-engine/internal/tracking"
)

func newTrackCommand(o *options) *cobra.Command {
	var (
		carrier string
		org     string
		force   bool
	)

	cmd := &cobra.Command{
		Use:   "track <number> [number...]",
		Short: "Resolve one or more tracking numbers",
		Example: `  # Resolve a container number
  trackctl track MEDU7905689

  # Bypass the cache and hint the carrier
  trackctl track --force --carrier MSC MEDU7905689

  # Several numbers go through the batch coordinator
  trackctl track --json MEDU7905689 MSCU1234567`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, release, err := o.build(cmd)
			if err != nil {
				return err
			}
			defer release()

			template := tracking.Request{CarrierHint: carrier, ForceRefresh: force, OrganizationID: org}
			var responses []tracking.Response
			if len(args) == 1 {
				req := template
				req.TrackingNumber = args[0]
				responses = []tracking.Response{deps.Orchestrator.Resolve(cmd.Context(), req)}
			} else {
				responses = deps.Batch.ResolveBatch(cmd.Context(), args, template)
			}

			var out any = responses
			if len(responses) == 1 {
				out = responses[0]
			}
			if err := o.render(cmd.OutOrStdout(), out, func(w io.Writer) error {
				return writeResponses(w, responses)
			}); err != nil {
				return err
			}

			failed := 0
			for _, r := range responses {
				if !r.Success {
					failed++
				}
			}
			if failed > 0 {
				return fmt.Errorf("%d of %d tracking numbers could not be resolved", failed, len(responses))
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&carrier, "carrier", "", "carrier hint, part of the cache key")
	cmd.Flags().StringVar(&org, "org", "", "organization whose providers are eligible")
	cmd.Flags().BoolVar(&force, "force", false, "skip the cache read")
	return cmd
}

func writeResponses(w io.Writer, responses []tracking.Response) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NUMBER\tSTATUS\tCARRIER\tPROVIDER\tCACHED\tMS\tERROR")
	for _, r := range responses {
		var statusCol, carrierCol string
		if r.Result != nil {
			statusCol, carrierCol = string(r.Result.Status), r.Result.Carrier
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%t\t%d\t%s\n",
			r.TrackingNumber, dash(statusCol), dash(carrierCol), dash(r.Provider), r.Cached, r.ResponseTimeMs, dash(r.Error))
	}
	return tw.Flush()
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
