package bridge

import (
	"context"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/tuya-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/tuya-bridge/internal/tuya"
)

func testDescriptor() *tuya.Descriptor {
	return &tuya.Descriptor{
		ID:        "bf1234567890abcdef",
		Key:       "0123456789abcdef",
		Address:   "192.168.1.50",
		Name:      "Heat Pump",
		TopicName: "heat_pump",
		Datapoints: map[string]tuya.Datapoint{
			"1":  {Code: "switch", Type: tuya.DpBoolean},
			"2":  {Code: "mode", Type: tuya.DpEnum, EnumRange: []string{"cold", "hot", "wind"}},
			"4":  {Code: "target_temp", Type: tuya.DpInteger},
			"22": {Code: "fault", Type: tuya.DpBitmap},
		},
		Codes: map[string]string{
			"switch":      "1",
			"mode":        "2",
			"target_temp": "4",
			"fault":       "22",
		},
	}
}

func secondDescriptor() *tuya.Descriptor {
	return &tuya.Descriptor{
		ID:         "bf0000000000000001",
		Key:        "fedcba9876543210",
		Address:    "192.168.1.51",
		Name:       "Plug",
		TopicName:  "plug",
		Datapoints: map[string]tuya.Datapoint{"1": {Code: "switch", Type: tuya.DpBoolean}},
		Codes:      map[string]string{"switch": "1"},
	}
}

type publication struct {
	topic    string
	payload  string
	qos      byte
	retained bool
}

type fakeMQTT struct {
	mu        sync.Mutex
	published []publication
	handlers  map[string]mqtt.MessageHandler
	onConnect func()

	// pubNotify receives one signal per publish, for tests that need to
	// wait on the async publish loop.
	pubNotify chan struct{}
}

func newFakeMQTT() *fakeMQTT {
	return &fakeMQTT{
		handlers:  make(map[string]mqtt.MessageHandler),
		pubNotify: make(chan struct{}, 64),
	}
}

func (f *fakeMQTT) Publish(topic string, payload []byte, qos byte, retained bool) error {
	f.mu.Lock()
	f.published = append(f.published, publication{topic, string(payload), qos, retained})
	f.mu.Unlock()
	f.pubNotify <- struct{}{}
	return nil
}

func (f *fakeMQTT) Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[topic] = handler
	return nil
}

func (f *fakeMQTT) SetOnConnect(fn func()) { f.onConnect = fn }

func (f *fakeMQTT) publications() []publication {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]publication{}, f.published...)
}

func (f *fakeMQTT) awaitPublications(t *testing.T, n int) []publication {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		pubs := f.publications()
		if len(pubs) >= n {
			return pubs
		}
		select {
		case <-f.pubNotify:
		case <-deadline:
			t.Fatalf("timed out waiting for %d publications, have %d", n, len(f.publications()))
		}
	}
}

// blockingDialer never completes; sessions stay in the connecting state so
// orchestrator tests are not disturbed by session traffic.
type blockingDialer struct{}

func (blockingDialer) Dial(ctx context.Context, _ *tuya.Descriptor) (tuya.Conn, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func validOptions(mq MQTTClient) Options {
	return Options{
		TopicPrefix:  "tuya",
		QoS:          1,
		Devices:      []*tuya.Descriptor{testDescriptor()},
		MQTT:         mq,
		Dialer:       blockingDialer{},
		PollInterval: time.Minute,
	}
}

func TestNew_Validation(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Options)
	}{
		{"empty prefix", func(o *Options) { o.TopicPrefix = "" }},
		{"no devices", func(o *Options) { o.Devices = nil }},
		{"nil mqtt", func(o *Options) { o.MQTT = nil }},
		{"nil dialer", func(o *Options) { o.Dialer = nil }},
		{"zero poll interval", func(o *Options) { o.PollInterval = 0 }},
		{"duplicate topic names", func(o *Options) {
			o.Devices = []*tuya.Descriptor{testDescriptor(), testDescriptor()}
		}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			opts := validOptions(newFakeMQTT())
			tt.mutate(&opts)
			if _, err := New(opts); err == nil {
				t.Error("expected error, got nil")
			}
		})
	}

	if _, err := New(validOptions(newFakeMQTT())); err != nil {
		t.Errorf("valid options rejected: %v", err)
	}
}

func TestStart_SingleDeviceAvailability(t *testing.T) {
	mq := newFakeMQTT()
	b, err := New(validOptions(mq))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	pubs := mq.awaitPublications(t, 1)
	if len(pubs) != 1 {
		t.Fatalf("got %d publications, want 1: %v", len(pubs), pubs)
	}
	got := pubs[0]
	if got.topic != "tuya/bridge_status" || got.payload != "online" || !got.retained || got.qos != 1 {
		t.Errorf("availability = %+v", got)
	}

	if _, ok := mq.handlers["tuya/heat_pump/command/#"]; !ok {
		t.Errorf("missing command subscription, have %v", mq.handlers)
	}
}

func TestStart_MultiDeviceAvailability(t *testing.T) {
	mq := newFakeMQTT()
	opts := validOptions(mq)
	opts.Devices = []*tuya.Descriptor{testDescriptor(), secondDescriptor()}
	b, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := b.Start(ctx); err != nil {
		t.Fatalf("Start() error = %v", err)
	}

	pubs := mq.awaitPublications(t, 3)
	topics := make([]string, 0, len(pubs))
	for _, p := range pubs {
		if p.payload != "online" || !p.retained {
			t.Errorf("availability = %+v", p)
		}
		topics = append(topics, p.topic)
	}
	sort.Strings(topics)
	want := []string{"tuya/bridge_status", "tuya/heat_pump/bridge_status", "tuya/plug/bridge_status"}
	for i := range want {
		if topics[i] != want[i] {
			t.Errorf("topics = %v, want %v", topics, want)
		}
	}
}

func TestStart_ReconnectRepublishesAvailability(t *testing.T) {
	mq := newFakeMQTT()
	b, err := New(validOptions(mq))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := b.Start(ctx); err != nil {
		t.Fatal(err)
	}
	mq.awaitPublications(t, 1)

	if mq.onConnect == nil {
		t.Fatal("Start should register an on-connect hook")
	}
	mq.onConnect()

	pubs := mq.awaitPublications(t, 2)
	if pubs[1].topic != "tuya/bridge_status" || pubs[1].payload != "online" {
		t.Errorf("reconnect publication = %+v", pubs[1])
	}
}

func TestPublishPath_DedupAndRetainDenyList(t *testing.T) {
	mq := newFakeMQTT()
	b, err := New(validOptions(mq))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := b.Start(ctx); err != nil {
		t.Fatal(err)
	}
	mq.awaitPublications(t, 1) // availability

	b.updates <- tuya.StateUpdate{TopicName: "heat_pump", Code: "switch", Value: "true"}
	b.updates <- tuya.StateUpdate{TopicName: "heat_pump", Code: "switch", Value: "true"} // duplicate
	b.updates <- tuya.StateUpdate{TopicName: "heat_pump", Code: "grid_power", Value: "1500"}
	b.updates <- tuya.StateUpdate{TopicName: "heat_pump", Code: "switch", Value: "false"}

	pubs := mq.awaitPublications(t, 4)[1:]
	if len(pubs) != 3 {
		t.Fatalf("got %d state publications, want 3: %v", len(pubs), pubs)
	}

	if pubs[0].topic != "tuya/heat_pump/state/switch" || pubs[0].payload != "true" {
		t.Errorf("first publish = %+v", pubs[0])
	}
	if !pubs[0].retained || pubs[0].qos != 0 {
		t.Errorf("state publish should be retained at QoS 0, got %+v", pubs[0])
	}
	if pubs[1].topic != "tuya/heat_pump/state/grid_power" {
		t.Errorf("second publish = %+v", pubs[1])
	}
	if pubs[1].retained {
		t.Error("grid_power is on the retain deny-list")
	}
	if pubs[2].payload != "false" {
		t.Errorf("third publish = %+v", pubs[2])
	}
}

// reportOnceDialer hands out a connection that reports one set of datapoint
// values and then stays silent.
type reportOnceDialer struct {
	dps string
}

type scriptedConn struct {
	messages chan tuya.Message
}

func (d reportOnceDialer) Dial(ctx context.Context, _ *tuya.Descriptor) (tuya.Conn, error) {
	c := &scriptedConn{messages: make(chan tuya.Message, 1)}
	c.messages <- tuya.Message{
		Command: tuya.CmdStatus,
		Payload: tuya.StructPayload{DPS: []byte(d.dps)},
	}
	return c, nil
}

func (c *scriptedConn) Messages() <-chan tuya.Message { return c.messages }

func (c *scriptedConn) Err() error { return nil }

func (c *scriptedConn) Query(context.Context, []string) error { return nil }

func (c *scriptedConn) Heartbeat(context.Context) error { return nil }

func (c *scriptedConn) SetValues(context.Context, map[string]any) error { return nil }

func (c *scriptedConn) Close() error { return nil }

func TestStatePath_EndToEnd(t *testing.T) {
	mq := newFakeMQTT()
	opts := validOptions(mq)
	opts.Dialer = reportOnceDialer{dps: `{"1": true, "4": 21}`}
	b, err := New(opts)
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := b.Start(ctx); err != nil {
		t.Fatal(err)
	}

	// One availability publish plus two state publishes.
	pubs := mq.awaitPublications(t, 3)[1:]
	if pubs[0].topic != "tuya/heat_pump/state/switch" || pubs[0].payload != "true" {
		t.Errorf("first state publish = %+v", pubs[0])
	}
	if pubs[1].topic != "tuya/heat_pump/state/target_temp" || pubs[1].payload != "21" {
		t.Errorf("second state publish = %+v", pubs[1])
	}
}

func TestCommandPath_EndToEnd(t *testing.T) {
	mq := newFakeMQTT()
	b, err := New(validOptions(mq))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := b.Start(ctx); err != nil {
		t.Fatal(err)
	}

	handler := mq.handlers["tuya/heat_pump/command/#"]
	if handler == nil {
		t.Fatal("no command handler registered")
	}
	if err := handler("tuya/heat_pump/command/mode", []byte("cool")); err != nil {
		t.Fatalf("handler error = %v", err)
	}

	select {
	case cmd := <-b.commands["heat_pump"]:
		if v, ok := cmd.DPS["1"].(bool); !ok || !v {
			t.Errorf("compound mode write should switch on, got %v", cmd.DPS)
		}
		if cmd.DPS["2"] != "cold" {
			t.Errorf("mode should translate to device vocabulary, got %v", cmd.DPS)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("command never reached the device channel")
	}
}
