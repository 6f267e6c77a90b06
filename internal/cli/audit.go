package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"ipx/internal/app"
	"ipx/internal/platform/config"
	"ipx/internal/platform/kafka"
	"ipx/pkg/platform/audit"
	auditkafka "ipx/pkg/platform/audit/store/kafka"
)

func newAuditCommand(loadConfig func() (*config.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "audit",
		Short: "Inspect the audit event stream",
	}

	var group string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Follow audit events published to Kafka",
		Long: `Consume the audit topic and print one line per event until interrupted.

Requires audit.brokers to be configured.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if len(cfg.Audit.Brokers) == 0 {
				return errors.New("audit.brokers is not configured")
			}
			consumer, err := kafka.NewConsumer(app.KafkaConfig(cfg.Audit), group, slog.Default())
			if err != nil {
				return err
			}
			defer consumer.Close()

			out := cmd.OutOrStdout()
			return consumer.Run(cmd.Context(), func(_ context.Context, msg *kafka.Message) error {
				event, err := auditkafka.Decode(msg)
				if err != nil {
					fmt.Fprintf(cmd.ErrOrStderr(), "skip offset %d: %v\n", msg.Offset, err)
					return nil
				}
				writeEvent(out, event)
				return nil
			})
		},
	}
	tail.Flags().StringVar(&group, "group", "ipxctl-tail", "consumer group")
	cmd.AddCommand(tail)
	return cmd
}

func writeEvent(w io.Writer, e audit.Event) {
	fmt.Fprintf(w, "%s %-28s principal=%s registration=%s",
		e.Timestamp.UTC().Format(time.RFC3339), e.Action, e.Principal, e.RegistrationID)
	if e.Subject != "" {
		fmt.Fprintf(w, " subject=%s", e.Subject)
	}
	if e.Decision != "" {
		fmt.Fprintf(w, " decision=%s", e.Decision)
	}
	if e.Reason != "" {
		fmt.Fprintf(w, " reason=%q", e.Reason)
	}
	fmt.Fprintln(w)
}
