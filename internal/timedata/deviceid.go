package timedata

import (
	"fmt"
	"regexp"
	"strconv"
)

// deviceNamePattern captures the trailing digit run of a device name.
// At least one non-digit must precede it.
var deviceNamePattern = regexp.MustCompile(`[^0-9]+([0-9]+)$`)

// ParseDeviceID extracts the numeric device id from a device name.
//
// The id is the trailing run of digits: "edge0" is 0, "device42" is 42.
//
// Returns:
//   - uint32: The device id
//   - error: ErrMalformedDeviceName if the name is empty, has no trailing
//     digits, consists only of digits, or the number exceeds uint32
func ParseDeviceID(name string) (uint32, error) {
	m := deviceNamePattern.FindStringSubmatch(name)
	if m == nil {
		return 0, fmt.Errorf("%w: %q", ErrMalformedDeviceName, name)
	}

	id, err := strconv.ParseUint(m[1], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("%w: %q: %w", ErrMalformedDeviceName, name, err)
	}

	return uint32(id), nil
}

// FormatDeviceTag renders a device id as the tag value written to InfluxDB.
func FormatDeviceTag(id uint32) string {
	return strconv.FormatUint(uint64(id), 10)
}
