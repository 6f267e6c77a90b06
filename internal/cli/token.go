package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"ipx/internal/identity"
	"ipx/internal/platform/config"
	id "ipx/pkg/domain"
)

func newTokenCommand(loadConfig func() (*config.Config, error)) *cobra.Command {
	var (
		principal string
		ttl       time.Duration
	)
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for a principal",
		Long: `Issue a signed bearer token accepted by the registration API.

The token is signed with the configured auth.signing_key, so it is only
useful against a server sharing that configuration.

Examples:
  ipxctl token --principal alice
  curl -H "Authorization: Bearer $(ipxctl token -p alice)" localhost:8080/asset-types`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			pid, err := id.ParsePrincipalID(principal)
			if err != nil {
				return err
			}
			svc := identity.NewService(cfg.Auth.SigningKey, cfg.Auth.Issuer, cfg.Auth.Audience)
			token, err := svc.IssueToken(pid, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			return nil
		},
	}
	cmd.Flags().StringVarP(&principal, "principal", "p", "", "principal identifier (token subject)")
	cmd.Flags().DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	_ = cmd.MarkFlagRequired("principal")
	return cmd
}
