package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/banshee-data/serialframe/internal/config"
	"github.com/banshee-data/serialframe/internal/framer"
	"github.com/banshee-data/serialframe/internal/recorder"
	"github.com/banshee-data/serialframe/internal/serialport"
)

const demoPath = "demo"

type runOptions struct {
	configPath   string
	port         string
	listen       string
	dbPath       string
	dev          bool
	demoInterval time.Duration
}

func newRunCommand(root *rootOptions) *cobra.Command {
	o := runOptions{}
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Read packets from the serial port until interrupted",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(o.configPath)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runDaemon(ctx, root.logger, cfg, o)
		},
	}
	cmd.Flags().StringVar(&o.configPath, ConfigOptionName, config.ExampleConfigPath, "Path to the JSON configuration file")
	cmd.Flags().StringVar(&o.port, "port", "", "Serial port to use, overriding the configuration (ignored in dev mode)")
	cmd.Flags().StringVar(&o.listen, "listen", "", "Admin HTTP listen address, overriding the configuration")
	cmd.Flags().StringVar(&o.dbPath, "db", "", "SQLite database for recorded packets, overriding the configuration")
	cmd.Flags().BoolVar(&o.dev, "dev", false, "Read from a synthetic demo stream instead of a serial port")
	cmd.Flags().DurationVar(&o.demoInterval, "demo-interval", 500*time.Millisecond, "Interval between demo packet batches")
	return cmd
}

// demoOpener opens a fresh DemoPort for every connection.
func demoOpener(interval time.Duration) serialport.Opener {
	return serialport.OpenerFunc(func(path string, opts serialport.PortOptions) (serialport.Port, error) {
		p := serialport.NewDemoPort(nil, interval, time.Now().UnixNano())
		if err := p.SetReadTimeout(opts.ReadTimeout); err != nil {
			return nil, err
		}
		p.Start()
		return p, nil
	})
}

// runDaemon runs the reader, the recorder consumers and the admin HTTP server
// until ctx is cancelled or the serial connection is lost. A lost connection
// is returned as an error.
func runDaemon(ctx context.Context, logger *logrus.Logger, cfg *config.Config, o runOptions) error {
	portOpts, err := cfg.PortOptions()
	if err != nil {
		return err
	}

	path := cfg.Port
	if o.port != "" {
		path = o.port
	}
	var opener serialport.Opener = serialport.SerialOpener{}
	if o.dev {
		opener = demoOpener(o.demoInterval)
		path = demoPath
	}
	if path == "" {
		return fmt.Errorf("no serial port configured")
	}

	reader := framer.NewReader(framer.Options{
		Path:        path,
		Port:        portOpts,
		Opener:      opener,
		StopTimeout: cfg.GetStopTimeout(),
	})
	defer reader.Close()

	bindings, err := registerPackets(reader.Registry(), cfg, logger)
	if err != nil {
		return err
	}

	dbPath := cfg.DBPath
	if o.dbPath != "" {
		dbPath = o.dbPath
	}
	var rec *recorder.Recorder
	if dbPath != "" {
		rec, err = recorder.Open(dbPath, nil)
		if err != nil {
			return err
		}
		defer rec.Close()
		logger.WithField("path", dbPath).Info("recording packets")
	} else if len(bindings) > 0 {
		logger.Warn("packets marked for recording but no database configured; they will be dropped")
	}

	listen := cfg.GetListen()
	if o.listen != "" {
		listen = o.listen
	}
	ln, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", listen, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		wg        sync.WaitGroup
		mu        sync.Mutex
		transport error
	)

	// recorder consumers
	if rec != nil {
		for _, b := range bindings {
			wg.Add(1)
			go func(b recordBinding) {
				defer wg.Done()
				rec.Consume(ctx, b.name, b.queue)
			}(b)
		}
	}

	// watch reader notifications; losing the port ends the run
	id, events := reader.Subscribe()
	wg.Add(1)
	go func() {
		defer wg.Done()
		defer reader.Unsubscribe(id)
		for {
			select {
			case ev, ok := <-events:
				if !ok {
					return
				}
				switch ev.Kind {
				case framer.EventError:
					logger.WithError(ev.Err).Error("serial transport error")
					mu.Lock()
					transport = ev.Err
					mu.Unlock()
				case framer.EventStatus:
					if ev.Connected {
						logger.WithField("port", path).Info("serial port connected")
						continue
					}
					logger.WithField("port", path).Warn("serial port disconnected")
					cancel()
					return
				case framer.EventDesync:
					logger.WithField("byte", fmt.Sprintf("0x%02X", ev.Dropped)).Trace("desync")
				}
			case <-ctx.Done():
				return
			}
		}
	}()

	// HTTP server goroutine
	mux := http.NewServeMux()
	reader.AttachAdminRoutes(mux)
	if rec != nil {
		if err := rec.AttachAdminRoutes(mux); err != nil {
			logger.WithError(err).Warn("recorder admin routes unavailable")
		}
	}
	mux.Handle("/", http.RedirectHandler("/debug/", http.StatusFound))
	server := &http.Server{Handler: mux}

	wg.Add(1)
	go func() {
		defer wg.Done()
		go func() {
			if err := server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.WithError(err).Error("HTTP server failed")
				cancel()
			}
		}()

		<-ctx.Done()
		shutdownCtx, done := context.WithTimeout(context.Background(), 1*time.Second)
		defer done()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.WithError(err).Warn("HTTP server shutdown error")
			server.Close()
		}
	}()
	logger.WithField("listen", ln.Addr().String()).Info("admin routes on /debug/")

	reader.Start(ctx)
	<-ctx.Done()
	reader.Stop()
	wg.Wait()

	logStats(logger, reader)

	mu.Lock()
	defer mu.Unlock()
	if transport != nil {
		return fmt.Errorf("serial reader stopped: %w", transport)
	}
	return nil
}

func logStats(logger *logrus.Logger, reader *framer.Reader) {
	stats := reader.PacketStats()
	for _, pc := range reader.Registry().Configs() {
		s := stats[pc.Header]
		logger.WithFields(logrus.Fields{
			"header": fmt.Sprintf("0x%02X", pc.Header),
			"count":  s.Count,
			"errors": s.Errors,
		}).Info(pc.Name)
	}
	logger.WithFields(logrus.Fields{
		"bytes":   reader.Received(),
		"desyncs": reader.Desyncs(),
	}).Info("reader totals")
}
