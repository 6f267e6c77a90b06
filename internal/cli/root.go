// Package cli implements the ipxctl operator commands.
package cli

import (
	"io"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"ipx/internal/platform/config"
)

// Version is overridden at build time with -ldflags.
var Version = "dev"

// NewRootCommand builds the ipxctl command tree writing to out.
func NewRootCommand(out io.Writer) *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:           "ipxctl",
		Short:         "Operate the IPX registration service",
		Long:          `ipxctl inspects the asset catalog, estimates registration parameters, issues development tokens, tails the audit stream and runs the registration server.`,
		Version:       Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(out)
	root.PersistentFlags().StringP("config", "c", "", "config file (default: $IPX_CONFIG)")
	_ = v.BindPFlag("config", root.PersistentFlags().Lookup("config"))

	loadConfig := func() (*config.Config, error) {
		return config.Load(v.GetString("config"))
	}

	root.AddCommand(
		newCatalogCommand(),
		newEstimateCommand(loadConfig),
		newTokenCommand(loadConfig),
		newServeCommand(loadConfig),
		newAuditCommand(loadConfig),
	)
	return root
}
