package main

import (
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/banshee-data/serialframe/internal/version"
)

const (
	LogLevelOptionName = "log-level"
	LogFileOptionName  = "log-file"
	ConfigOptionName   = "config"
)

// rootOptions is shared by every subcommand.
type rootOptions struct {
	logLevel string
	logFile  string

	logger  *logrus.Logger
	closeFn func() error
}

func newRootCommand(out io.Writer) *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:          "framerd",
		Short:        "Frame header-delimited packets from a serial port",
		Version:      version.String(),
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			logger, closeFn, err := setupLogging(cmd.ErrOrStderr(), opts.logLevel, opts.logFile)
			if err != nil {
				return err
			}
			opts.logger = logger
			opts.closeFn = closeFn
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.closeFn != nil {
				return opts.closeFn()
			}
			return nil
		},
	}
	cmd.SetOut(out)
	cmd.PersistentFlags().StringVar(&opts.logLevel, LogLevelOptionName, "info", "Log level: panic, fatal, error, warning, info, debug or trace")
	cmd.PersistentFlags().StringVar(&opts.logFile, LogFileOptionName, "", "Also write logs to this file, rotated by size")

	cmd.AddCommand(newRunCommand(opts))
	cmd.AddCommand(newValidateCommand(opts))
	cmd.AddCommand(newParseCommand(opts))
	cmd.AddCommand(newPortsCommand())
	return cmd
}
