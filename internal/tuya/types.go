package tuya

// DpType classifies a datapoint's value domain as declared in the device
// listing. It is a closed set; unknown declarations fall back to Integer.
type DpType int

const (
	// DpBoolean is an on/off style datapoint.
	DpBoolean DpType = iota

	// DpInteger is a whole-number datapoint (temperatures, percentages).
	DpInteger

	// DpEnum is a string datapoint with a declared range of allowed values.
	DpEnum

	// DpBitmap is a fault/status bitmask. Read-only: writes are rejected.
	DpBitmap
)

// String returns the listing's spelling of the type.
func (t DpType) String() string {
	switch t {
	case DpBoolean:
		return "Boolean"
	case DpInteger:
		return "Integer"
	case DpEnum:
		return "Enum"
	case DpBitmap:
		return "Bitmap"
	default:
		return "Unknown"
	}
}

// Datapoint describes a single DP in a device's mapping table.
type Datapoint struct {
	// Code is the human-readable name (e.g. "switch", "target_temp").
	Code string

	// Type is the declared value domain.
	Type DpType

	// EnumRange is the declared list of allowed values for DpEnum
	// datapoints. May be empty even for enums.
	EnumRange []string
}

// Descriptor holds everything the bridge knows about one configured device.
//
// Descriptors are immutable after loading and safely shared read-only by the
// device's session and the command router.
type Descriptor struct {
	// ID is the Tuya device id.
	ID string

	// Key is the local encryption key used by the device protocol.
	Key string

	// Address is the device's LAN address (host or host:port).
	Address string

	// Name is the display name from the device listing.
	Name string

	// TopicName is the sanitized, topic-safe form of Name.
	TopicName string

	// Datapoints maps dp_id → datapoint description.
	Datapoints map[string]Datapoint

	// Codes is the inverse mapping, dp_code → dp_id.
	Codes map[string]string
}

// CodeFor resolves a dp_id to its code. Unknown ids fall back to the raw id
// string so readings from unmapped datapoints are still forwarded.
func (d *Descriptor) CodeFor(dpID string) string {
	if dp, ok := d.Datapoints[dpID]; ok {
		return dp.Code
	}
	return dpID
}

// DatapointByCode resolves a dp_code to its dp_id and description.
func (d *Descriptor) DatapointByCode(code string) (dpID string, dp Datapoint, ok bool) {
	dpID, ok = d.Codes[code]
	if !ok {
		return "", Datapoint{}, false
	}
	return dpID, d.Datapoints[dpID], true
}

// StateUpdate is a single translated datapoint reading flowing from a device
// session toward publication. Created per reading, consumed once.
type StateUpdate struct {
	TopicName string
	Code      string
	Value     string
}

// Command is a dp_id → value mapping to be written to one device. A command
// may carry more than one dp_id (a mode change that also toggles the power
// switch). Created by the router, consumed once by the device's session.
type Command struct {
	DPS map[string]any
}

// Logger is the optional structured logger accepted by this package.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}
