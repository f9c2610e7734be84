package commands

import (
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/noah-isme/tracking-engine/internal/auth"
	"github.com/noah-isme/tracking-engine/internal/common"
)

func newTokenCommand(o *options) *cobra.Command {
	var (
		p   common.Principal
		ttl time.Duration
	)
	cmd := &cobra.Command{
		Use:     "token",
		Short:   "Issue a signed API token for local testing",
		Example: `  trackctl token --sub ops --org acme --role admin --ttl 1h`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := o.config()
			if err != nil {
				return err
			}
			if cfg.JWTSecret == "" {
				return errors.New("JWT_SECRET is not set")
			}
			if p.Subject == "" {
				return errors.New("--sub is required")
			}
			token, err := auth.NewTokens(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience).Issue(p, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVar(&p.Subject, "sub", "", "token subject")
	cmd.Flags().StringVar(&p.OrganizationID, "org", "", "organization claim")
	cmd.Flags().StringVar(&p.Role, "role", "", "role claim")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	return cmd
}
