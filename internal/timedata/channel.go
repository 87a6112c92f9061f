package timedata

import (
	"fmt"
	"sort"
	"strings"
)

// ChannelAddress identifies a channel of a component, e.g. "meter0/ActivePower".
// Its string form is the InfluxDB field name.
type ChannelAddress struct {
	Component string
	Channel   string
}

// ParseChannelAddress parses "component/Channel".
func ParseChannelAddress(s string) (ChannelAddress, error) {
	component, channel, ok := strings.Cut(s, "/")
	if !ok || component == "" || channel == "" || strings.Contains(channel, "/") {
		return ChannelAddress{}, fmt.Errorf("%w: %q", ErrInvalidChannelAddress, s)
	}
	return ChannelAddress{Component: component, Channel: channel}, nil
}

// ParseChannelAddresses parses a list, failing on the first invalid entry.
func ParseChannelAddresses(values []string) ([]ChannelAddress, error) {
	out := make([]ChannelAddress, 0, len(values))
	for _, v := range values {
		a, err := ParseChannelAddress(v)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// String returns "component/Channel".
func (a ChannelAddress) String() string {
	return a.Component + "/" + a.Channel
}

// MarshalText lets ChannelAddress serve as a JSON object key.
func (a ChannelAddress) MarshalText() ([]byte, error) {
	return []byte(a.String()), nil
}

// UnmarshalText parses "component/Channel".
func (a *ChannelAddress) UnmarshalText(text []byte) error {
	parsed, err := ParseChannelAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// uniqueFields returns the sorted, de-duplicated field names of channels.
func uniqueFields(channels []ChannelAddress) []string {
	seen := make(map[string]struct{}, len(channels))
	fields := make([]string, 0, len(channels))
	for _, c := range channels {
		name := c.String()
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		fields = append(fields, name)
	}
	sort.Strings(fields)
	return fields
}
