package protocol

import (
	"context"
	"encoding/json"
	"net"
	"runtime"
	"testing"
	"time"

	"github.com/nerrad567/tuya-bridge/internal/tuya"
)

func testDesc() *tuya.Descriptor {
	return &tuya.Descriptor{
		ID:      "bf1234567890abcdef",
		Key:     testKey,
		Address: "127.0.0.1",
	}
}

// newPipeConn wires a conn to an in-memory pipe; the returned end plays the
// device.
func newPipeConn(t *testing.T) (*conn, net.Conn) {
	t.Helper()
	bridgeEnd, deviceEnd := net.Pipe()

	cipher, err := newPayloadCipher(testKey)
	if err != nil {
		t.Fatal(err)
	}
	c := &conn{
		desc:     testDesc(),
		tcp:      bridgeEnd,
		cipher:   cipher,
		messages: make(chan tuya.Message, 16),
		done:     make(chan struct{}),
	}
	go c.readLoop()
	t.Cleanup(func() {
		c.Close()
		deviceEnd.Close()
	})
	return c, deviceEnd
}

func TestConn_DecodesStatusPush(t *testing.T) {
	c, device := newPipeConn(t)

	body := []byte(`{"devId":"bf1234567890abcdef","dps":{"1":true,"4":21}}`)
	payload := append(append([]byte{}, versionHeader...), c.cipher.encrypt(body)...)
	go device.Write(encodeFrame(frame{Seq: 1, Command: uint32(tuya.CmdStatus), Payload: payload}))

	select {
	case msg := <-c.Messages():
		if msg.Command != tuya.CmdStatus {
			t.Errorf("command = %#x, want CmdStatus", msg.Command)
		}
		dps := msg.Datapoints()
		if len(dps) != 2 {
			t.Fatalf("got %d datapoints, want 2", len(dps))
		}
		if string(dps["4"]) != "21" {
			t.Errorf("dps[4] = %s, want 21", dps["4"])
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestConn_UndecryptableBodyIsRaw(t *testing.T) {
	c, device := newPipeConn(t)

	// Block-aligned garbage: delivered as RawPayload, not a stream error.
	garbage := make([]byte, 32)
	for i := range garbage {
		garbage[i] = byte(i)
	}
	go device.Write(encodeFrame(frame{Seq: 1, Command: uint32(tuya.CmdStatus), Payload: garbage}))

	select {
	case msg := <-c.Messages():
		if _, ok := msg.Payload.(tuya.RawPayload); !ok {
			t.Errorf("payload type = %T, want RawPayload", msg.Payload)
		}
		if msg.Datapoints() != nil {
			t.Error("raw payload should carry no datapoints")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for message")
	}
}

func TestConn_StreamErrorAfterPeerClose(t *testing.T) {
	c, device := newPipeConn(t)

	device.Close()

	select {
	case _, ok := <-c.Messages():
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel close")
	}
	if c.Err() == nil {
		t.Error("Err() should report the transport failure")
	}
}

func TestConn_LocalCloseReportsNoError(t *testing.T) {
	c, _ := newPipeConn(t)

	c.Close()

	select {
	case _, ok := <-c.Messages():
		if ok {
			t.Fatal("expected closed channel")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for channel close")
	}
	if err := c.Err(); err != nil {
		t.Errorf("Err() after local close = %v, want nil", err)
	}
}

func TestConn_Writes(t *testing.T) {
	c, device := newPipeConn(t)
	ctx := context.Background()

	readDeviceFrame := func(op func() error) frame {
		t.Helper()
		errCh := make(chan error, 1)
		go func() { errCh <- op() }()
		f, err := readFrame(device)
		if err != nil {
			t.Fatalf("device readFrame: %v", err)
		}
		if err := <-errCh; err != nil {
			t.Fatalf("write op: %v", err)
		}
		return f
	}

	// Heartbeat: empty unencrypted body.
	f := readDeviceFrame(func() error { return c.Heartbeat(ctx) })
	if f.Command != uint32(tuya.CmdHeartbeat) || len(f.Payload) != 0 {
		t.Errorf("heartbeat frame = cmd %#x payload %d bytes", f.Command, len(f.Payload))
	}
	if f.Seq != 1 {
		t.Errorf("first seq = %d, want 1", f.Seq)
	}

	// Query: encrypted body, no version header, empty dps filter.
	f = readDeviceFrame(func() error { return c.Query(ctx, nil) })
	if f.Command != uint32(tuya.CmdDpQuery) {
		t.Errorf("query command = %#x", f.Command)
	}
	if f.Seq != 2 {
		t.Errorf("second seq = %d, want 2", f.Seq)
	}
	plain, err := c.cipher.decrypt(f.Payload)
	if err != nil {
		t.Fatalf("query body not decryptable: %v", err)
	}
	var q struct {
		GwID string         `json:"gwId"`
		DPS  map[string]any `json:"dps"`
	}
	if err := json.Unmarshal(plain, &q); err != nil {
		t.Fatalf("query body: %v", err)
	}
	if q.GwID != "bf1234567890abcdef" || len(q.DPS) != 0 {
		t.Errorf("query body = %s", plain)
	}

	// Control: version header before ciphertext.
	f = readDeviceFrame(func() error {
		return c.SetValues(ctx, map[string]any{"1": true})
	})
	if f.Command != uint32(tuya.CmdControl) {
		t.Errorf("control command = %#x", f.Command)
	}
	body := stripEnvelope(f.Payload)
	if len(body) == len(f.Payload) {
		t.Error("control payload missing version header")
	}
	plain, err = c.cipher.decrypt(body)
	if err != nil {
		t.Fatalf("control body not decryptable: %v", err)
	}
	var ctl struct {
		DPS map[string]any `json:"dps"`
	}
	if err := json.Unmarshal(plain, &ctl); err != nil {
		t.Fatalf("control body: %v", err)
	}
	if v, ok := ctl.DPS["1"].(bool); !ok || !v {
		t.Errorf("control dps = %v", ctl.DPS)
	}
}

func TestConn_CloseReleasesReaderWithFullBuffer(t *testing.T) {
	baseline := runtime.NumGoroutine()

	c, device := newPipeConn(t)

	// Flood the connection without draining Messages: the reader fills the
	// channel buffer and parks on the send.
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		data := encodeFrame(frame{Seq: 1, Command: uint32(tuya.CmdHeartbeat)})
		for i := 0; i < 25; i++ {
			if _, err := device.Write(data); err != nil {
				return
			}
		}
	}()

	// Give the reader time to park before tearing down.
	time.Sleep(50 * time.Millisecond)
	c.Close()
	device.Close()
	<-writerDone

	// Both the reader and the writer must exit even though nobody consumed
	// the buffered messages.
	deadline := time.Now().Add(2 * time.Second)
	for runtime.NumGoroutine() > baseline {
		if time.Now().After(deadline) {
			t.Fatalf("goroutines did not return to baseline: %d > %d",
				runtime.NumGoroutine(), baseline)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestDialer(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatal(err)
	}
	defer ln.Close()

	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := ln.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	desc := testDesc()
	desc.Address = ln.Addr().String()

	c, err := Dialer{}.Dial(context.Background(), desc)
	if err != nil {
		t.Fatalf("Dial() error = %v", err)
	}
	defer c.Close()

	select {
	case dc := <-accepted:
		dc.Close()
	case <-time.After(2 * time.Second):
		t.Fatal("listener never accepted")
	}
}

func TestDialer_BadKey(t *testing.T) {
	desc := testDesc()
	desc.Key = "short"

	if _, err := (Dialer{}).Dial(context.Background(), desc); err == nil {
		t.Error("expected error for bad key length")
	}
}
