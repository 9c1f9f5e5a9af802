package main

import (
	"encoding/binary"
	"fmt"
	"sort"

	"github.com/sirupsen/logrus"

	"github.com/banshee-data/serialframe/internal/framer"
)

// decoder interprets one packet payload. The packet includes its header.
type decoder func(packet []byte) (logrus.Fields, error)

var decoders = map[string]decoder{
	"arc":           decodeArc,
	"short_circuit": decodeShortCircuit,
	"temperature":   decodeTemperature,
}

func decoderNames() []string {
	names := make([]string, 0, len(decoders))
	for name := range decoders {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func lookupDecoder(name string) (decoder, error) {
	d, ok := decoders[name]
	if !ok {
		return nil, fmt.Errorf("unknown decoder %q (available: %v)", name, decoderNames())
	}
	return d, nil
}

// decodeArc reads the arc intensity from bytes 1-4, little endian, in
// thousandths.
func decodeArc(packet []byte) (logrus.Fields, error) {
	if len(packet) < 5 {
		return nil, fmt.Errorf("arc packet too short: %d bytes", len(packet))
	}
	intensity := float64(binary.LittleEndian.Uint32(packet[1:5])) / 1000.0
	return logrus.Fields{"intensity": intensity}, nil
}

// decodeShortCircuit reads the location from byte 1 and the current in
// hundredths of an amp from bytes 2-5.
func decodeShortCircuit(packet []byte) (logrus.Fields, error) {
	if len(packet) < 6 {
		return nil, fmt.Errorf("short circuit packet too short: %d bytes", len(packet))
	}
	return logrus.Fields{
		"location":  int(packet[1]),
		"current_a": float64(binary.LittleEndian.Uint32(packet[2:6])) / 100.0,
	}, nil
}

// decodeTemperature reads the sensor id from byte 1 and tenths of a degree
// from bytes 2-3.
func decodeTemperature(packet []byte) (logrus.Fields, error) {
	if len(packet) < 4 {
		return nil, fmt.Errorf("temperature packet too short: %d bytes", len(packet))
	}
	return logrus.Fields{
		"sensor":  int(packet[1]),
		"celsius": float64(binary.LittleEndian.Uint16(packet[2:4])) / 10.0,
	}, nil
}

// decoderCallback adapts a decoder to a packet callback that logs the
// decoded fields.
func decoderCallback(logger *logrus.Logger, name string, d decoder) framer.Callback {
	return func(packet []byte) error {
		fields, err := d(packet)
		if err != nil {
			return err
		}
		logger.WithFields(fields).WithField("packet", name).Info("decoded")
		return nil
	}
}
