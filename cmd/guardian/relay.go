package main

import (
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mniyk/guardian-agent/internal/agent"
	"github.com/mniyk/guardian-agent/internal/transmission"
	"github.com/mniyk/guardian-agent/module"
)

func newRelayCommand() *cobra.Command {
	var natsURL, subject string
	var compress, strict bool

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Forward a JSON-lines event stream from stdin to NATS or stdout",
		Long: `relay reads the agent's event stream from stdin. Lines that are not
JSON objects are ignored and malformed events are logged and skipped.
Valid events are published to NATS, or written back to stdout when no
NATS URL is configured. With --strict every line must also match the
wire schema (all fields present, no null where a value is required).`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, log, err := setup()
			if err != nil {
				return err
			}
			defer log.Sync()

			if natsURL == "" {
				natsURL = cfg.Sink.NATS.URL
			}
			if subject == "" {
				subject = cfg.Sink.NATS.Subject
			}
			if !cmd.Flags().Changed("compress") {
				compress = cfg.Sink.NATS.Compress
			}

			var sink transmission.EventSink = transmission.NewJSONLinesSink(cmd.OutOrStdout())
			if natsURL != "" {
				nc, err := transmission.ConnectNATS(natsURL, agent.CLIENT_NAME+"-relay", log.Named("nats"))
				if err != nil {
					return err
				}
				natsSink, err := transmission.NewNATSSink(nc, subject, compress)
				if err != nil {
					nc.Close()
					return err
				}
				sink = natsSink
			}
			defer sink.Close()

			var validator transmission.LineValidator
			if strict {
				v, err := transmission.NewSchemaValidator()
				if err != nil {
					return err
				}
				validator = v
			}

			relayed := 0
			err = transmission.DecodeStreamWith(cmd.InOrStdin(), validator, log, nil, func(event *module.Event) error {
				if err := sink.Write(event); err != nil {
					log.Error("Failed to forward event", zap.String("id", event.ID), zap.Error(err))
					return nil
				}
				relayed++
				return nil
			})
			log.Info("Relay finished", zap.Int("relayed", relayed))
			return err
		},
	}

	cmd.Flags().StringVar(&natsURL, "nats-url", "", "NATS server URL (default from configuration)")
	cmd.Flags().StringVar(&subject, "subject", "", "NATS subject (default from configuration)")
	cmd.Flags().BoolVar(&compress, "compress", false, "Compress payloads with zstd")
	cmd.Flags().BoolVar(&strict, "strict", false, "Drop lines that do not match the wire schema exactly")
	return cmd
}
