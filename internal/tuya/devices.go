package tuya

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// rawDevice mirrors one entry of the tinytuya-style devices.json listing.
type rawDevice struct {
	ID      string                `json:"id"`
	Key     string                `json:"key"`
	IP      string                `json:"ip"`
	Name    string                `json:"name"`
	Mapping map[string]rawMapping `json:"mapping"`
}

type rawMapping struct {
	Code   string    `json:"code"`
	Type   string    `json:"type"`
	Values rawValues `json:"values"`
}

type rawValues struct {
	Range []string `json:"range"`
}

// LoadDevices reads a tinytuya-style device listing and builds the bridge's
// device descriptors.
//
// Each entry must carry an IP address; devices without one cannot be reached
// over the LAN and make the listing invalid. Entries without a mapping table
// are accepted: their readings are forwarded under raw dp_id codes and they
// accept no commands.
//
// Parameters:
//   - path: Path to the devices.json file
//
// Returns:
//   - []*Descriptor: One descriptor per listed device
//   - error: File, JSON, or listing validation failure
func LoadDevices(path string) ([]*Descriptor, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading device listing: %w", err)
	}

	var raws []rawDevice
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("parsing device listing: %w", err)
	}
	if len(raws) == 0 {
		return nil, ErrNoDevices
	}

	devices := make([]*Descriptor, 0, len(raws))
	for i, raw := range raws {
		if raw.ID == "" {
			return nil, fmt.Errorf("device %d: missing id", i)
		}
		if raw.IP == "" {
			return nil, fmt.Errorf("device %q: missing ip address", raw.ID)
		}
		if raw.Key == "" {
			return nil, fmt.Errorf("device %q: missing local key", raw.ID)
		}

		d := &Descriptor{
			ID:         raw.ID,
			Key:        raw.Key,
			Address:    raw.IP,
			Name:       raw.Name,
			TopicName:  sanitizeTopicName(raw.Name),
			Datapoints: make(map[string]Datapoint, len(raw.Mapping)),
			Codes:      make(map[string]string, len(raw.Mapping)),
		}
		for dpID, m := range raw.Mapping {
			dp := Datapoint{
				Code:      m.Code,
				Type:      parseDpType(m.Type),
				EnumRange: m.Values.Range,
			}
			d.Datapoints[dpID] = dp
			d.Codes[m.Code] = dpID
		}
		devices = append(devices, d)
	}

	return devices, nil
}

// parseDpType maps a listing type declaration onto the closed DpType set.
// Unrecognized declarations are treated as Integer, which stringifies any
// scalar reading without loss.
func parseDpType(s string) DpType {
	switch s {
	case "Boolean":
		return DpBoolean
	case "Integer":
		return DpInteger
	case "Enum":
		return DpEnum
	case "Bitmap":
		return DpBitmap
	default:
		return DpInteger
	}
}

// sanitizeTopicName converts a device display name into a topic-safe
// identifier: lowercase ASCII letters and digits pass through, everything
// else collapses to underscores, with leading/trailing underscores trimmed.
func sanitizeTopicName(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z' || r >= '0' && r <= '9':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteByte('_')
		}
	}
	return strings.Trim(b.String(), "_")
}
