package tuya

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Enum vocabulary differences between the device protocol and the bridge's
// published values. Only "mode" and "fan_speed_enum" diverge; all other
// enum values pass through unchanged in both directions.
var deviceToBridgeEnums = map[string]map[string]string{
	"mode": {
		"cold": "cool",
		"hot":  "heat",
		"wind": "fan_only",
	},
	"fan_speed_enum": {
		"mid": "medium",
	},
}

var bridgeToDeviceEnums = invertEnumTables(deviceToBridgeEnums)

func invertEnumTables(tables map[string]map[string]string) map[string]map[string]string {
	out := make(map[string]map[string]string, len(tables))
	for code, table := range tables {
		inv := make(map[string]string, len(table))
		for k, v := range table {
			inv[v] = k
		}
		out[code] = inv
	}
	return out
}

// DeviceValueToBridge translates an enum value read from a device into the
// bridge's vocabulary. Values without a translation pass through unchanged.
func DeviceValueToBridge(code, value string) string {
	if table, ok := deviceToBridgeEnums[code]; ok {
		if v, ok := table[value]; ok {
			return v
		}
	}
	return value
}

// BridgeValueToDevice translates a commanded value into the device's
// vocabulary. Values without a translation pass through unchanged.
func BridgeValueToDevice(code, value string) string {
	if table, ok := bridgeToDeviceEnums[code]; ok {
		if v, ok := table[value]; ok {
			return v
		}
	}
	return value
}

// BridgeValueString stringifies a raw JSON datapoint reading for publication.
// Booleans and numbers keep their JSON literal spelling, strings go through
// the enum translation table, and anything else passes through as JSON text.
func BridgeValueString(code string, raw json.RawMessage) string {
	s := strings.TrimSpace(string(raw))
	if len(s) >= 2 && s[0] == '"' {
		var str string
		if err := json.Unmarshal(raw, &str); err == nil {
			return DeviceValueToBridge(code, str)
		}
	}
	return s
}

// BuildCommand translates a commanded (dp_code, value) pair into the dp_id
// keyed write for the target device.
//
// Mode commands on devices that also expose a power switch become compound
// writes: "off" turns the switch off without touching the mode, any other
// mode turns the switch on and sets the mode in the same write.
//
// Out-of-range enum values are passed through with a warning rather than
// rejected; device firmware is the authority on what it accepts, and the
// declared ranges in listings are frequently stale.
//
// The logger is optional; pass nil to skip the enum warning.
func BuildCommand(d *Descriptor, code, value string, log Logger) (*Command, error) {
	dpID, dp, ok := d.DatapointByCode(code)
	if !ok {
		return nil, fmt.Errorf("%w: %q on device %q", ErrUnknownDatapoint, code, d.TopicName)
	}

	converted := BridgeValueToDevice(code, value)

	if code == "mode" {
		if switchID, ok := d.Codes["switch"]; ok {
			if value == "off" {
				return &Command{DPS: map[string]any{switchID: false}}, nil
			}
			return &Command{DPS: map[string]any{switchID: true, dpID: converted}}, nil
		}
	}

	switch dp.Type {
	case DpBoolean:
		b, err := parseBool(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %q for %q", ErrInvalidBoolean, value, code)
		}
		return &Command{DPS: map[string]any{dpID: b}}, nil

	case DpInteger:
		n, err := parseInteger(value)
		if err != nil {
			return nil, fmt.Errorf("%w: %q for %q", ErrInvalidInteger, value, code)
		}
		return &Command{DPS: map[string]any{dpID: n}}, nil

	case DpEnum:
		if len(dp.EnumRange) > 0 && !contains(dp.EnumRange, converted) {
			if log != nil {
				log.Warn("enum value outside declared range, sending anyway",
					"device", d.TopicName,
					"dp_code", code,
					"value", converted,
					"range", dp.EnumRange)
			}
		}
		return &Command{DPS: map[string]any{dpID: converted}}, nil

	case DpBitmap:
		return nil, fmt.Errorf("%w: %q on device %q", ErrBitmapWrite, code, d.TopicName)

	default:
		return nil, fmt.Errorf("%w: %q for %q", ErrInvalidInteger, value, code)
	}
}

// parseBool matches the exact lowercase literals; case variants like "ON"
// or "True" are rejected rather than guessed at.
func parseBool(s string) (bool, error) {
	switch s {
	case "true", "1", "on":
		return true, nil
	case "false", "0", "off":
		return false, nil
	default:
		return false, fmt.Errorf("unrecognized boolean %q", s)
	}
}

// parseInteger parses whole numbers, truncating a float form if a publisher
// sends "21.0" style values.
func parseInteger(s string) (int64, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, err
	}
	return int64(f), nil
}

func contains(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
