package main

import (
	"fmt"

	"github.com/sirupsen/logrus"

	"github.com/banshee-data/serialframe/internal/config"
	"github.com/banshee-data/serialframe/internal/framer"
)

// recordBinding is a queue to be drained into the recorder.
type recordBinding struct {
	name  string
	queue chan []byte
}

// registerPackets adds every configured packet to registry. Packets with a
// decoder get a logging callback; packets marked record get a queue of
// queueSize. Returns the queues to drain.
func registerPackets(registry *framer.Registry, cfg *config.Config, logger *logrus.Logger) ([]recordBinding, error) {
	var bindings []recordBinding
	for i, spec := range cfg.Packets {
		header, err := spec.HeaderByte()
		if err != nil {
			return nil, fmt.Errorf("packets[%d]: %w", i, err)
		}

		pc := framer.PacketConfig{
			Header: header,
			Size:   spec.Size,
			Name:   spec.Name,
		}
		if pc.Name == "" {
			pc.Name = framer.DefaultName(header)
		}
		if spec.Decoder != "" {
			d, err := lookupDecoder(spec.Decoder)
			if err != nil {
				return nil, fmt.Errorf("packets[%d]: %w", i, err)
			}
			pc.Callback = decoderCallback(logger, pc.Name, d)
		}
		if spec.Record {
			pc.Queue = make(chan []byte, cfg.GetQueueSize())
			bindings = append(bindings, recordBinding{name: pc.Name, queue: pc.Queue})
		}

		if err := registry.Add(pc); err != nil {
			return nil, fmt.Errorf("packets[%d]: %w", i, err)
		}
	}
	return bindings, nil
}

func loadConfig(path string) (*config.Config, error) {
	if path == "" {
		return nil, fmt.Errorf("--%s is required", ConfigOptionName)
	}
	return config.LoadConfig(path)
}
