package main

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/banshee-data/serialframe/internal/config"
	"github.com/banshee-data/serialframe/internal/framer"
)

const parseChunkSize = 4096

func newParseCommand(root *rootOptions) *cobra.Command {
	var (
		configPath string
		hexInput   bool
		quiet      bool
	)
	cmd := &cobra.Command{
		Use:   "parse <capture-file|->",
		Short: "Frame a captured byte stream offline and print the packets",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}

			var in io.Reader = cmd.InOrStdin()
			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open capture: %w", err)
				}
				defer f.Close()
				in = f
			}
			if hexInput {
				raw, err := io.ReadAll(in)
				if err != nil {
					return fmt.Errorf("failed to read capture: %w", err)
				}
				data, err := decodeHexCapture(raw)
				if err != nil {
					return err
				}
				in = bytes.NewReader(data)
			}

			registry := framer.NewRegistry()
			if _, err := registerPackets(registry, cfg, root.logger); err != nil {
				return err
			}
			return parseCapture(cmd.OutOrStdout(), in, registry, quiet)
		},
	}
	cmd.Flags().StringVar(&configPath, ConfigOptionName, config.ExampleConfigPath, "Path to the JSON configuration file")
	cmd.Flags().BoolVar(&hexInput, "hex", false, "Capture is hex text (whitespace ignored) rather than raw bytes")
	cmd.Flags().BoolVarP(&quiet, "quiet", "q", false, "Only print the summary")
	return cmd
}

// decodeHexCapture accepts hex text with arbitrary whitespace.
func decodeHexCapture(raw []byte) ([]byte, error) {
	clean := strings.Join(strings.Fields(string(raw)), "")
	data, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("invalid hex capture: %w", err)
	}
	return data, nil
}

// parseCapture frames everything read from in and writes one line per packet
// or dropped byte, followed by per-header totals. Bytes left over at EOF are
// reported as a trailing partial packet.
func parseCapture(out io.Writer, in io.Reader, registry *framer.Registry, quiet bool) error {
	var offset, desyncs int
	f := framer.NewFramer(registry, nil,
		framer.WithDesyncHandler(func(b byte) {
			desyncs++
			if !quiet {
				fmt.Fprintf(out, "%08d  desync  %02X\n", offset, b)
			}
			offset++
		}),
		framer.WithPacketObserver(func(packet []byte, cfg framer.PacketConfig) {
			if !quiet {
				fmt.Fprintf(out, "%08d  %-14s % X\n", offset, cfg.Name, packet)
			}
			offset += len(packet)
		}),
	)

	buf := make([]byte, parseChunkSize)
	for {
		n, err := in.Read(buf)
		if n > 0 {
			f.Feed(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read capture: %w", err)
		}
	}

	if pending := f.Pending(); len(pending) > 0 {
		fmt.Fprintf(out, "%08d  partial % X\n", offset, pending)
	}

	fmt.Fprintln(out)
	stats := registry.Stats()
	for _, pc := range registry.Configs() {
		s := stats[pc.Header]
		fmt.Fprintf(out, "0x%02X %-14s packets=%d errors=%d\n", pc.Header, pc.Name, s.Count, s.Errors)
	}
	fmt.Fprintf(out, "desyncs=%d trailing=%d\n", desyncs, f.Buffered())
	return nil
}
