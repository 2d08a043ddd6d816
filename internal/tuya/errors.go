package tuya

import "errors"

// Domain-specific errors. Use errors.Is() to check for these in calling code.
var (
	// ErrNoDevices is returned when the device listing contains no devices.
	ErrNoDevices = errors.New("tuya: no devices in listing")

	// ErrUnknownDatapoint is returned when a dp_code has no entry in the
	// device's mapping table.
	ErrUnknownDatapoint = errors.New("tuya: unknown datapoint code")

	// ErrInvalidBoolean is returned when a value cannot be coerced to a
	// boolean datapoint.
	ErrInvalidBoolean = errors.New("tuya: invalid boolean value")

	// ErrInvalidInteger is returned when a value cannot be coerced to an
	// integer datapoint.
	ErrInvalidInteger = errors.New("tuya: invalid integer value")

	// ErrBitmapWrite is returned when a command targets a bitmap datapoint.
	// Bitmaps are read-only fault masks.
	ErrBitmapWrite = errors.New("tuya: bitmap datapoints are read-only")

	// ErrStreamClosed is returned when the device's inbound message stream
	// ends without a transport error. There is no graceful close on the
	// device side, so this is still treated as a session failure.
	ErrStreamClosed = errors.New("tuya: device stream closed")
)
