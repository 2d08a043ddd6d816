package protocol

import (
	"context"
	"encoding/json"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/nerrad567/tuya-bridge/internal/tuya"
)

const (
	// protocolVersion is the LAN protocol generation this client speaks.
	protocolVersion = "3.3"

	// defaultPort is the device's LAN listener port.
	defaultPort = "6668"

	defaultDialTimeout  = 5 * time.Second
	defaultWriteTimeout = 5 * time.Second
)

// Dialer establishes encrypted LAN connections to devices. It implements
// tuya.Dialer.
type Dialer struct {
	// Timeout bounds connection establishment. Zero means 5s.
	Timeout time.Duration
}

// Dial connects to the device and starts its frame reader.
func (d Dialer) Dial(ctx context.Context, desc *tuya.Descriptor) (tuya.Conn, error) {
	cipher, err := newPayloadCipher(desc.Key)
	if err != nil {
		return nil, fmt.Errorf("device %q: %w", desc.ID, err)
	}

	timeout := d.Timeout
	if timeout <= 0 {
		timeout = defaultDialTimeout
	}
	nd := net.Dialer{Timeout: timeout}

	address := desc.Address
	if !strings.Contains(address, ":") {
		address = net.JoinHostPort(address, defaultPort)
	}

	tcp, err := nd.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", address, err)
	}

	c := &conn{
		desc:     desc,
		tcp:      tcp,
		cipher:   cipher,
		messages: make(chan tuya.Message, 16),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	return c, nil
}

// conn is one live device connection. A single background goroutine reads
// frames; writers serialize through writeMu.
type conn struct {
	desc   *tuya.Descriptor
	tcp    net.Conn
	cipher *payloadCipher

	writeMu sync.Mutex
	seq     uint32 // guarded by writeMu

	messages chan tuya.Message

	// done releases a readLoop parked on the message channel send when the
	// consumer has already gone away.
	done chan struct{}

	closeOnce sync.Once
	errMu     sync.Mutex
	err       error
	closed    bool
}

func (c *conn) Messages() <-chan tuya.Message { return c.messages }

// Err returns the terminal transport error, or nil if the connection was
// closed locally. Valid after Messages closes.
func (c *conn) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	if c.closed {
		return nil
	}
	return c.err
}

func (c *conn) Close() error {
	c.errMu.Lock()
	c.closed = true
	c.errMu.Unlock()
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		err = c.tcp.Close()
	})
	return err
}

// readLoop decodes inbound frames until the transport fails, then records
// the error and closes the message channel.
func (c *conn) readLoop() {
	defer close(c.messages)
	for {
		f, err := readFrame(c.tcp)
		if err != nil {
			c.errMu.Lock()
			c.err = err
			c.errMu.Unlock()
			return
		}
		select {
		case c.messages <- c.decodeMessage(f):
		case <-c.done:
			return
		}
	}
}

// decodeMessage turns a raw frame into one of the three payload shapes.
// Bodies that cannot be decrypted or are not text decode to RawPayload,
// which sessions skip.
func (c *conn) decodeMessage(f frame) tuya.Message {
	msg := tuya.Message{Command: tuya.CommandType(f.Command)}

	body := stripEnvelope(f.Payload)
	if len(body) == 0 {
		msg.Payload = tuya.RawPayload(nil)
		return msg
	}

	plain, err := c.cipher.decrypt(body)
	if err != nil {
		msg.Payload = tuya.RawPayload(body)
		return msg
	}

	var sp tuya.StructPayload
	if json.Unmarshal(plain, &sp) == nil && sp.DPS != nil {
		msg.Payload = sp
		return msg
	}
	if utf8.Valid(plain) {
		msg.Payload = tuya.StringPayload(plain)
		return msg
	}
	msg.Payload = tuya.RawPayload(plain)
	return msg
}

// Query requests a datapoint snapshot. An empty filter requests everything.
func (c *conn) Query(ctx context.Context, dpIDs []string) error {
	dps := make(map[string]any, len(dpIDs))
	for _, id := range dpIDs {
		dps[id] = nil
	}
	body, err := json.Marshal(map[string]any{
		"gwId":  c.desc.ID,
		"devId": c.desc.ID,
		"uid":   c.desc.ID,
		"t":     fmt.Sprintf("%d", time.Now().Unix()),
		"dps":   dps,
	})
	if err != nil {
		return fmt.Errorf("encoding query: %w", err)
	}
	return c.send(ctx, uint32(tuya.CmdDpQuery), c.cipher.encrypt(body))
}

// Heartbeat sends a keepalive ping. The body is empty and unencrypted.
func (c *conn) Heartbeat(ctx context.Context) error {
	return c.send(ctx, uint32(tuya.CmdHeartbeat), nil)
}

// SetValues writes datapoint values. Control payloads carry the version
// header before the ciphertext.
func (c *conn) SetValues(ctx context.Context, dps map[string]any) error {
	body, err := json.Marshal(map[string]any{
		"devId": c.desc.ID,
		"gwId":  c.desc.ID,
		"uid":   c.desc.ID,
		"t":     fmt.Sprintf("%d", time.Now().Unix()),
		"dps":   dps,
	})
	if err != nil {
		return fmt.Errorf("encoding control: %w", err)
	}
	payload := append(append([]byte{}, versionHeader...), c.cipher.encrypt(body)...)
	return c.send(ctx, uint32(tuya.CmdControl), payload)
}

func (c *conn) send(ctx context.Context, command uint32, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.seq++
	data := encodeFrame(frame{Seq: c.seq, Command: command, Payload: payload})

	deadline := time.Now().Add(defaultWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.tcp.SetWriteDeadline(deadline); err != nil {
		return fmt.Errorf("setting write deadline: %w", err)
	}
	if _, err := c.tcp.Write(data); err != nil {
		return fmt.Errorf("writing frame: %w", err)
	}
	return nil
}
