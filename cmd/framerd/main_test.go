package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/serialframe/internal/config"
	"github.com/banshee-data/serialframe/internal/framer"
	"github.com/banshee-data/serialframe/internal/monitoring"
	"github.com/banshee-data/serialframe/internal/recorder"
)

const testConfig = `{
  "port": "/dev/ttyUSB9",
  "packets": [
    {"header": "0xA0", "size": 5, "name": "Arc", "decoder": "arc", "record": true},
    {"header": "0xC0", "size": 4, "decoder": "temperature"}
  ]
}`

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	t.Cleanup(func() {
		monitoring.SetLogger(nil)
		monitoring.SetDebugLogger(nil)
	})
	var out bytes.Buffer
	cmd := newRootCommand(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestValidateCommand(t *testing.T) {
	path := writeFile(t, "framerd.json", testConfig)

	out, err := execute(t, "validate", "--config", path)
	require.NoError(t, err)

	assert.Contains(t, out, "/dev/ttyUSB9 (115200/8E1")
	assert.Contains(t, out, "0xA0")
	assert.Contains(t, out, "Packet_C0")
	assert.Contains(t, out, "temperature")
}

func TestValidateCommandUnknownDecoder(t *testing.T) {
	path := writeFile(t, "framerd.json", `{"packets": [{"header": "0x10", "size": 2, "decoder": "nope"}]}`)
	_, err := execute(t, "validate", "--config", path)
	assert.ErrorContains(t, err, "unknown decoder")
}

func TestRootRejectsBadLogLevel(t *testing.T) {
	path := writeFile(t, "framerd.json", testConfig)
	_, err := execute(t, "--log-level", "loud", "validate", "--config", path)
	assert.ErrorContains(t, err, "invalid --log-level")
}

func TestParseCommandHex(t *testing.T) {
	cfgPath := writeFile(t, "framerd.json", testConfig)
	capture := writeFile(t, "capture.hex", "FF A0 E8 03 00 00\nC0 01 EB 00 A0 01")

	out, err := execute(t, "parse", "--config", cfgPath, "--hex", capture)
	require.NoError(t, err)

	lines := strings.Split(out, "\n")
	assert.Equal(t, "00000000  desync  FF", lines[0])
	assert.Contains(t, lines[1], "Arc")
	assert.Contains(t, lines[1], "A0 E8 03 00 00")
	assert.Contains(t, lines[2], "Packet_C0")
	assert.Contains(t, out, "partial A0 01")
	assert.Contains(t, out, fmt.Sprintf("0xA0 %-14s packets=1 errors=0", "Arc"))
	assert.Contains(t, out, "desyncs=1 trailing=2")
}

func TestParseCommandRawStdin(t *testing.T) {
	cfgPath := writeFile(t, "framerd.json", testConfig)

	var out bytes.Buffer
	cmd := newRootCommand(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(bytes.NewReader([]byte{0xC0, 0x00, 0x10, 0x00, 0xC0, 0x01, 0x20, 0x00}))
	cmd.SetArgs([]string{"parse", "--config", cfgPath, "-q", "-"})
	t.Cleanup(func() { monitoring.SetLogger(nil) })
	require.NoError(t, cmd.Execute())

	assert.NotContains(t, out.String(), "desync  ")
	assert.Contains(t, out.String(), "packets=2")
	assert.Contains(t, out.String(), "desyncs=0 trailing=0")
}

func TestParseCommandBadHex(t *testing.T) {
	cfgPath := writeFile(t, "framerd.json", testConfig)
	capture := writeFile(t, "capture.hex", "A0 0")
	_, err := execute(t, "parse", "--config", cfgPath, "--hex", capture)
	assert.ErrorContains(t, err, "invalid hex capture")
}

func TestRegisterPackets(t *testing.T) {
	cfg, err := config.LoadConfig(writeFile(t, "framerd.json", testConfig))
	require.NoError(t, err)

	registry := framer.NewRegistry()
	bindings, err := registerPackets(registry, cfg, quietLogger())
	require.NoError(t, err)

	require.Len(t, bindings, 1)
	assert.Equal(t, "Arc", bindings[0].name)
	assert.Equal(t, config.DefaultQueueSize, cap(bindings[0].queue))

	q, ok := registry.QueueForHeader(0xA0)
	require.True(t, ok)
	assert.Equal(t, bindings[0].queue, q)

	q, ok = registry.QueueForHeader(0xC0)
	assert.True(t, ok)
	assert.Nil(t, q)

	pc, ok := registry.Config(0xC0)
	require.True(t, ok)
	assert.NotNil(t, pc.Callback)
}

func TestRunDaemonDevMode(t *testing.T) {
	cfg, err := config.LoadConfig(writeFile(t, "framerd.json", testConfig))
	require.NoError(t, err)
	dbPath := filepath.Join(t.TempDir(), "packets.db")

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()

	err = runDaemon(ctx, quietLogger(), cfg, runOptions{
		dev:          true,
		demoInterval: 10 * time.Millisecond,
		listen:       "127.0.0.1:0",
		dbPath:       dbPath,
	})
	require.NoError(t, err)

	rec, err := recorder.Open(dbPath, nil)
	require.NoError(t, err)
	defer rec.Close()

	counts, err := rec.CountByHeader(context.Background())
	require.NoError(t, err)
	assert.Greater(t, counts[0xA0], int64(0), "demo arc packets should be recorded")
	assert.Zero(t, counts[0xC0], "temperature packets are not recorded")
}

func TestRunDaemonOpenFailure(t *testing.T) {
	cfg, err := config.LoadConfig(writeFile(t, "framerd.json", `{"port": "/dev/does-not-exist-framerd", "packets": []}`))
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err = runDaemon(ctx, quietLogger(), cfg, runOptions{listen: "127.0.0.1:0"})
	var terr *framer.TransportError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "open", terr.Op)
}

func TestSetupLoggingWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "framerd.log")
	var console bytes.Buffer

	logger, closeFn, err := setupLogging(&console, "debug", path)
	require.NoError(t, err)
	t.Cleanup(func() {
		monitoring.SetLogger(nil)
		monitoring.SetDebugLogger(nil)
	})

	monitoring.Logf("hello %d", 1)
	monitoring.Debugf("trace %s", "on")
	logger.Info("direct")
	require.NoError(t, closeFn())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	for _, want := range []string{"hello 1", "trace on", "direct"} {
		assert.Contains(t, string(data), want)
		assert.Contains(t, console.String(), want)
	}
}

func TestSetupLoggingMapsLibraryLevels(t *testing.T) {
	var out bytes.Buffer
	_, closeFn, err := setupLogging(&out, "info", "")
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = closeFn()
		monitoring.SetLogger(nil)
		monitoring.SetDebugLogger(nil)
	})

	monitoring.Logf("[WARNING] Queue full for %s, dropping packet", "Arc")
	monitoring.Logf("[ERROR] %v", "callback error for Arc: boom")
	monitoring.Logf("serial reader on %s stopped", "/dev/ttyUSB0")

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[0], "level=warning")
	assert.Contains(t, lines[0], `msg="Queue full for Arc, dropping packet"`)
	assert.Contains(t, lines[1], "level=error")
	assert.Contains(t, lines[1], `msg="callback error for Arc: boom"`)
	assert.Contains(t, lines[2], "level=info")
	assert.NotContains(t, out.String(), "[WARNING]")
}
