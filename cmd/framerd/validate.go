package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/banshee-data/serialframe/internal/config"
	"github.com/banshee-data/serialframe/internal/framer"
)

func newValidateCommand(root *rootOptions) *cobra.Command {
	var configPath string
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check a configuration file and print the packet table",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			portOpts, err := cfg.PortOptions()
			if err != nil {
				return err
			}

			registry := framer.NewRegistry()
			if _, err := registerPackets(registry, cfg, root.logger); err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "port:   %s (%v, read timeout %v)\n", cfg.Port, portOpts, portOpts.ReadTimeout)
			fmt.Fprintf(out, "listen: %s\n", cfg.GetListen())
			if cfg.DBPath != "" {
				fmt.Fprintf(out, "db:     %s\n", cfg.DBPath)
			}
			fmt.Fprintln(out)

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "HEADER\tSIZE\tNAME\tDECODER\tRECORD")
			for _, spec := range cfg.Packets {
				h, _ := spec.HeaderByte()
				pc, _ := registry.Config(h)
				fmt.Fprintf(tw, "0x%02X\t%d\t%s\t%s\t%t\n", h, pc.Size, pc.Name, orDash(spec.Decoder), spec.Record)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().StringVar(&configPath, ConfigOptionName, config.ExampleConfigPath, "Path to the JSON configuration file")
	return cmd
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}
