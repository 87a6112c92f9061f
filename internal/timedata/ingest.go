package timedata

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
)

// DecodeSamples parses an ingest payload of the form
//
//	{"<epoch ms>": {"<component/Channel>": <value>, ...}, ...}
//
// Number literals keep their text so that "42" and "42.0" stay distinct.
func DecodeSamples(payload []byte) (Samples, error) {
	var raw map[string]map[string]Value
	dec := json.NewDecoder(bytes.NewReader(payload))
	dec.UseNumber()
	if err := dec.Decode(&raw); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidPayload, err)
	}

	samples := make(Samples, len(raw))
	for key, channels := range raw {
		ts, err := strconv.ParseInt(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: timestamp %q is not epoch milliseconds", ErrInvalidPayload, key)
		}
		if channels == nil {
			channels = map[string]Value{}
		}
		samples[ts] = channels
	}
	return samples, nil
}

// Ingest decodes a payload and writes it for the named device.
func (s *Service) Ingest(deviceName string, payload []byte) error {
	if _, err := ParseDeviceID(deviceName); err != nil {
		return err
	}
	samples, err := DecodeSamples(payload)
	if err != nil {
		return err
	}
	return s.Write(deviceName, samples)
}
