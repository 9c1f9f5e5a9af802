package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/banshee-data/serialframe/internal/serialport"
)

// ExampleConfigPath is the annotated example configuration shipped with the
// repository.
const ExampleConfigPath = "config/framerd.example.json"

const (
	DefaultListen      = "localhost:8080"
	DefaultQueueSize   = 256
	DefaultStopTimeout = 5 * time.Second
)

// Config is the framerd daemon configuration. Optional scalar fields are
// pointers so an omitted key falls back to its default.
type Config struct {
	// Port is the serial device path. The --port flag overrides it.
	Port string `json:"port"`

	Serial *SerialConfig `json:"serial,omitempty"`

	ReadTimeout *string `json:"read_timeout,omitempty"` // duration string like "100ms"
	StopTimeout *string `json:"stop_timeout,omitempty"` // duration string like "5s"
	QueueSize   *int    `json:"queue_size,omitempty"`

	// Listen is the admin HTTP address.
	Listen string `json:"listen,omitempty"`
	// DBPath enables the packet recorder when set.
	DBPath string `json:"db_path,omitempty"`

	Packets []PacketSpec `json:"packets"`
}

// SerialConfig holds the line settings. Unset fields use the serialport
// defaults (115200/8E1).
type SerialConfig struct {
	BaudRate *int    `json:"baud_rate,omitempty"`
	DataBits *int    `json:"data_bits,omitempty"`
	Parity   *string `json:"parity,omitempty"`
	StopBits *int    `json:"stop_bits,omitempty"`
}

// PacketSpec describes one packet type to register with the reader.
type PacketSpec struct {
	// Header is "0xA0" style hex or a decimal string.
	Header string `json:"header"`
	// Size is the total packet length including the header byte.
	Size int    `json:"size"`
	Name string `json:"name,omitempty"`
	// Decoder selects a payload decoder run as the packet callback.
	Decoder string `json:"decoder,omitempty"`
	// Record stores the packet with the recorder when DBPath is set.
	Record bool `json:"record,omitempty"`
}

// HeaderByte parses Header.
func (p PacketSpec) HeaderByte() (byte, error) {
	return ParseHeader(p.Header)
}

// ParseHeader accepts "0xA0", "0XA0", "160" or "0240" (octal), the forms
// strconv.ParseUint understands with base 0.
func ParseHeader(s string) (byte, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("empty header")
	}
	v, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("invalid header %q: %w", s, err)
	}
	return byte(v), nil
}

// LoadConfig loads a Config from a JSON file.
// The file is validated to ensure it has a .json extension and is under the max file size.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	// Check file size for safety (max 1MB)
	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := &Config{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *Config) Validate() error {
	if c.ReadTimeout != nil && *c.ReadTimeout != "" {
		d, err := time.ParseDuration(*c.ReadTimeout)
		if err != nil {
			return fmt.Errorf("invalid read_timeout '%s': %w", *c.ReadTimeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("read_timeout must be positive, got %v", d)
		}
	}

	if c.StopTimeout != nil && *c.StopTimeout != "" {
		d, err := time.ParseDuration(*c.StopTimeout)
		if err != nil {
			return fmt.Errorf("invalid stop_timeout '%s': %w", *c.StopTimeout, err)
		}
		if d <= 0 {
			return fmt.Errorf("stop_timeout must be positive, got %v", d)
		}
	}

	if c.QueueSize != nil && *c.QueueSize < 0 {
		return fmt.Errorf("queue_size must be non-negative, got %d", *c.QueueSize)
	}

	if _, err := c.PortOptions(); err != nil {
		return fmt.Errorf("invalid serial settings: %w", err)
	}

	seen := make(map[byte]int, len(c.Packets))
	for i, p := range c.Packets {
		h, err := p.HeaderByte()
		if err != nil {
			return fmt.Errorf("packets[%d]: %w", i, err)
		}
		if prev, dup := seen[h]; dup {
			return fmt.Errorf("packets[%d]: header 0x%02X already defined by packets[%d]", i, h, prev)
		}
		seen[h] = i
		if p.Size < 1 {
			return fmt.Errorf("packets[%d]: size must be at least 1, got %d", i, p.Size)
		}
	}

	return nil
}

// GetReadTimeout returns read_timeout or the serialport default.
func (c *Config) GetReadTimeout() time.Duration {
	return parseDurationOr(c.ReadTimeout, serialport.DefaultReadTimeout)
}

// GetStopTimeout returns stop_timeout or DefaultStopTimeout.
func (c *Config) GetStopTimeout() time.Duration {
	return parseDurationOr(c.StopTimeout, DefaultStopTimeout)
}

// GetQueueSize returns queue_size or DefaultQueueSize.
func (c *Config) GetQueueSize() int {
	if c.QueueSize == nil {
		return DefaultQueueSize
	}
	return *c.QueueSize
}

// GetListen returns the admin listen address.
func (c *Config) GetListen() string {
	if c.Listen == "" {
		return DefaultListen
	}
	return c.Listen
}

// PortOptions merges the serial section and read timeout over the defaults
// and normalises the result.
func (c *Config) PortOptions() (serialport.PortOptions, error) {
	opts := serialport.DefaultPortOptions()
	if s := c.Serial; s != nil {
		if s.BaudRate != nil {
			opts.BaudRate = *s.BaudRate
		}
		if s.DataBits != nil {
			opts.DataBits = *s.DataBits
		}
		if s.Parity != nil {
			opts.Parity = *s.Parity
		}
		if s.StopBits != nil {
			opts.StopBits = *s.StopBits
		}
	}
	opts.ReadTimeout = c.GetReadTimeout()
	return opts.Normalize()
}

func parseDurationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}
