package cli

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"ipx/internal/catalog"
	"ipx/internal/platform/config"
	"ipx/internal/registration/models"
	"ipx/internal/registration/params"
)

const dateLayout = "2006-01-02"

func newEstimateCommand(loadConfig func() (*config.Config, error)) *cobra.Command {
	var (
		assetType string
		term      int
		on        string
	)
	cmd := &cobra.Command{
		Use:   "estimate",
		Short: "Estimate the protocol fee and bond term window",
		Long: `Estimate the protocol fee and term window a registration would show.

The window starts on --date (default today) in the configured calendar
location and ends --term calendar months later, clamped to month end.

Examples:
  ipxctl estimate --type github --term 6
  ipxctl estimate --type other --term 3 --date 2025-11-30`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			loc := cfg.CalendarLocation()

			desc, ok := catalog.Default().Lookup(catalog.AssetTypeID(strings.ToLower(strings.TrimSpace(assetType))))
			if !ok {
				return fmt.Errorf("unknown asset type %q", assetType)
			}
			if !models.IsValidBondTerm(term) {
				return fmt.Errorf("bond term must be one of %v months", models.BondTerms())
			}

			now := time.Now()
			if on != "" {
				now, err = time.ParseInLocation(dateLayout, on, loc)
				if err != nil {
					return fmt.Errorf("parse --date: %w", err)
				}
			}

			form := models.NewForm()
			form.AssetType = desc.ID
			form.BondTermMonths = term
			window := params.EstimatedTermWindow(form, now, loc)

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "asset type:  %s (%s)\n", desc.DisplayName, desc.RoutingKey)
			fmt.Fprintf(out, "fee:         %s\n", params.FormatFee(params.EstimatedFee(form)))
			fmt.Fprintf(out, "term:        %d months\n", term)
			fmt.Fprintf(out, "term window: %s to %s\n", window.Start.Format(dateLayout), window.End.Format(dateLayout))
			return nil
		},
	}
	cmd.Flags().StringVarP(&assetType, "type", "t", "", "asset type id (see ipxctl catalog)")
	cmd.Flags().IntVar(&term, "term", models.DefaultBondTermMonths, "bond term in months")
	cmd.Flags().StringVar(&on, "date", "", "start date as YYYY-MM-DD (default today)")
	_ = cmd.MarkFlagRequired("type")
	return cmd
}
