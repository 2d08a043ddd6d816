package tuya

import (
	"context"
	"encoding/json"
)

// CommandType identifies the protocol-level message type carried by a frame.
type CommandType uint32

const (
	// CmdControl writes datapoint values to a device.
	CmdControl CommandType = 0x07

	// CmdStatus is an unsolicited datapoint report pushed by a device.
	CmdStatus CommandType = 0x08

	// CmdHeartbeat is the keepalive ping and its acknowledgement.
	CmdHeartbeat CommandType = 0x09

	// CmdDpQuery requests a datapoint snapshot.
	CmdDpQuery CommandType = 0x0a
)

// Payload is the decoded body of an inbound device message. Exactly three
// shapes occur on the wire: a structured JSON object, a bare JSON text, and
// raw bytes that could not be decoded.
type Payload interface {
	payload()
}

// StructPayload is the common shape: a JSON object with device id and a dps
// map of datapoint readings.
type StructPayload struct {
	DevID string          `json:"devId"`
	DPS   json.RawMessage `json:"dps"`
}

// StringPayload is JSON text that did not match the structured shape but may
// still contain a dps object when parsed again.
type StringPayload string

// RawPayload is an undecodable body. It carries no usable datapoints and is
// skipped by sessions.
type RawPayload []byte

func (StructPayload) payload() {}
func (StringPayload) payload() {}
func (RawPayload) payload()    {}

// Message is one decoded inbound frame from a device.
type Message struct {
	Command CommandType
	Payload Payload
}

// Datapoints extracts the dp_id → raw value readings from a message, or nil
// if the message carries none.
func (m Message) Datapoints() map[string]json.RawMessage {
	switch p := m.Payload.(type) {
	case StructPayload:
		return parseDPS(p.DPS)
	case StringPayload:
		var body struct {
			DPS json.RawMessage `json:"dps"`
		}
		if err := json.Unmarshal([]byte(p), &body); err != nil {
			return nil
		}
		return parseDPS(body.DPS)
	default:
		return nil
	}
}

func parseDPS(raw json.RawMessage) map[string]json.RawMessage {
	if len(raw) == 0 {
		return nil
	}
	var dps map[string]json.RawMessage
	if err := json.Unmarshal(raw, &dps); err != nil {
		return nil
	}
	if len(dps) == 0 {
		return nil
	}
	return dps
}

// Conn is one live connection to a device. Implementations own a background
// reader that feeds Messages; writes may be issued concurrently with reads
// but not with each other from multiple goroutines.
type Conn interface {
	// Messages returns the inbound message stream. The channel closes when
	// the transport fails or the connection is closed; Err reports why.
	Messages() <-chan Message

	// Err returns the terminal transport error after Messages closes, or
	// nil if the connection was closed locally.
	Err() error

	// Query requests a datapoint snapshot. An empty filter requests all
	// datapoints. Readings arrive asynchronously on Messages.
	Query(ctx context.Context, dpIDs []string) error

	// Heartbeat sends a keepalive ping.
	Heartbeat(ctx context.Context) error

	// SetValues writes datapoint values. The device reports resulting state
	// changes asynchronously on Messages.
	SetValues(ctx context.Context, dps map[string]any) error

	// Close tears down the connection and releases the reader.
	Close() error
}

// Dialer establishes device connections. The concrete implementation lives
// in the protocol package; sessions depend only on this contract.
type Dialer interface {
	Dial(ctx context.Context, d *Descriptor) (Conn, error)
}
