package bridge

import (
	"context"
	"fmt"
	"time"

	"github.com/nerrad567/tuya-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/tuya-bridge/internal/tuya"
)

const (
	// commandQueueDepth bounds each device's private command channel.
	commandQueueDepth = 50

	// updateQueueDepth bounds the shared state-update channel fed by all
	// sessions.
	updateQueueDepth = 200

	// inboundQueueDepth bounds the broker-inbound message channel.
	inboundQueueDepth = 100

	// stateQoS is used for state publishes; lost readings are replaced by
	// the next poll.
	stateQoS byte = 0

	// availabilityQoS is used for online/offline markers.
	availabilityQoS byte = 1

	payloadOnline  = "online"
	payloadOffline = "offline"
)

// retainDenied lists dp_codes whose state publishes are never retained:
// high-frequency telemetry where a stale retained value is worse than none.
var retainDenied = map[string]bool{
	"solar_power":  true,
	"grid_power":   true,
	"grid_percent": true,
}

// Logger is the structured logger accepted by this package. Compatible with
// logging.Logger.
type Logger interface {
	Debug(msg string, keysAndValues ...any)
	Info(msg string, keysAndValues ...any)
	Warn(msg string, keysAndValues ...any)
	Error(msg string, keysAndValues ...any)
}

// MQTTClient is the broker surface the orchestrator needs. Satisfied by
// *mqtt.Client; tests substitute fakes.
type MQTTClient interface {
	Publish(topic string, payload []byte, qos byte, retained bool) error
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	SetOnConnect(fn func())
}

// Options configures the orchestrator.
type Options struct {
	// TopicPrefix roots every broker topic. Required.
	TopicPrefix string

	// QoS for command subscriptions.
	QoS byte

	// Devices are the descriptors to bridge. Required, non-empty.
	Devices []*tuya.Descriptor

	// MQTT is the connected broker client. Required.
	MQTT MQTTClient

	// Dialer establishes device connections. Required.
	Dialer tuya.Dialer

	// PollInterval is passed to each device session. Required.
	PollInterval time.Duration

	// Logger is optional.
	Logger Logger
}

// Bridge wires device sessions to the broker: readings fan in over a shared
// update channel and are deduplicated before publishing; broker commands fan
// out over per-device channels. The dedup cache and router run only on the
// orchestrator's own loops.
type Bridge struct {
	prefix  string
	qos     byte
	devices []*tuya.Descriptor
	byTopic map[string]*tuya.Descriptor
	mqtt    MQTTClient
	logger  Logger

	sessions []*tuya.Session
	commands map[string]chan tuya.Command
	updates  chan tuya.StateUpdate
	inbound  chan inboundMessage

	dedup  *DedupCache
	router *Router
}

type inboundMessage struct {
	topic   string
	payload []byte
}

// New validates the options and wires channels, sessions, and the router.
// Nothing runs until Start.
func New(opts Options) (*Bridge, error) {
	if opts.TopicPrefix == "" {
		return nil, fmt.Errorf("bridge: topic prefix is required")
	}
	if len(opts.Devices) == 0 {
		return nil, fmt.Errorf("bridge: at least one device is required")
	}
	if opts.MQTT == nil {
		return nil, fmt.Errorf("bridge: mqtt client is required")
	}
	if opts.Dialer == nil {
		return nil, fmt.Errorf("bridge: dialer is required")
	}
	if opts.PollInterval <= 0 {
		return nil, fmt.Errorf("bridge: poll interval must be positive")
	}
	logger := opts.Logger
	if logger == nil {
		logger = nopLogger{}
	}

	b := &Bridge{
		prefix:   opts.TopicPrefix,
		qos:      opts.QoS,
		devices:  opts.Devices,
		byTopic:  make(map[string]*tuya.Descriptor, len(opts.Devices)),
		mqtt:     opts.MQTT,
		logger:   logger,
		commands: make(map[string]chan tuya.Command, len(opts.Devices)),
		updates:  make(chan tuya.StateUpdate, updateQueueDepth),
		inbound:  make(chan inboundMessage, inboundQueueDepth),
		dedup:    NewDedupCache(),
	}

	routerCommands := make(map[string]chan<- tuya.Command, len(opts.Devices))
	for _, d := range opts.Devices {
		if _, dup := b.byTopic[d.TopicName]; dup {
			return nil, fmt.Errorf("bridge: duplicate device topic name %q", d.TopicName)
		}
		b.byTopic[d.TopicName] = d

		ch := make(chan tuya.Command, commandQueueDepth)
		b.commands[d.TopicName] = ch
		routerCommands[d.TopicName] = ch

		session, err := tuya.NewSession(tuya.SessionOptions{
			Descriptor:   d,
			Dialer:       opts.Dialer,
			Updates:      b.updates,
			Commands:     ch,
			PollInterval: opts.PollInterval,
			Logger:       logger,
		})
		if err != nil {
			return nil, fmt.Errorf("bridge: device %q: %w", d.TopicName, err)
		}
		b.sessions = append(b.sessions, session)
	}

	b.router = NewRouter(opts.TopicPrefix, b.byTopic, routerCommands, logger)
	return b, nil
}

// WillTopic returns the topic the broker should publish the retained
// "offline" marker to when the bridge disconnects unexpectedly.
func WillTopic(prefix string) string {
	return mqtt.SharedAvailabilityTopic(prefix)
}

// Start publishes availability, subscribes to command topics, and launches
// the session and orchestrator goroutines. It returns once everything is
// running; cancelling ctx abandons all of it without draining.
func (b *Bridge) Start(ctx context.Context) error {
	// Re-announce availability whenever the broker connection comes back,
	// clearing the retained "offline" left by the last-will.
	b.mqtt.SetOnConnect(b.publishAvailability)
	b.publishAvailability()

	for _, d := range b.devices {
		topic := mqtt.CommandSubscription(b.prefix, d.TopicName)
		if err := b.mqtt.Subscribe(topic, b.qos, func(topic string, payload []byte) error {
			select {
			case b.inbound <- inboundMessage{topic: topic, payload: payload}:
			case <-ctx.Done():
			}
			return nil
		}); err != nil {
			return fmt.Errorf("subscribing to %s: %w", topic, err)
		}
		b.logger.Info("subscribed to command topic", "topic", topic)
	}

	for _, s := range b.sessions {
		go s.Run(ctx)
	}
	go b.publishLoop(ctx)
	go b.routeLoop(ctx)

	b.logger.Info("bridge started",
		"devices", len(b.devices),
		"topic_prefix", b.prefix)
	return nil
}

// availabilityTopics returns the online-marker topics: the shared marker for
// a single-device bridge, per-device markers plus the shared one otherwise.
// The shared topic is always included because the last-will writes its
// retained "offline" there.
func (b *Bridge) availabilityTopics() []string {
	if len(b.devices) == 1 {
		return []string{mqtt.SharedAvailabilityTopic(b.prefix)}
	}
	topics := make([]string, 0, len(b.devices)+1)
	for _, d := range b.devices {
		topics = append(topics, mqtt.AvailabilityTopic(b.prefix, d.TopicName))
	}
	return append(topics, mqtt.SharedAvailabilityTopic(b.prefix))
}

func (b *Bridge) publishAvailability() {
	for _, topic := range b.availabilityTopics() {
		if err := b.mqtt.Publish(topic, []byte(payloadOnline), availabilityQoS, true); err != nil {
			b.logger.Warn("availability publish failed", "topic", topic, "error", err)
			continue
		}
		b.logger.Debug("availability published", "topic", topic)
	}
}

// publishLoop drains the shared update channel, deduplicates, and publishes.
// It is the only goroutine touching the dedup cache.
func (b *Bridge) publishLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case update := <-b.updates:
			b.publishUpdate(update)
		}
	}
}

func (b *Bridge) publishUpdate(u tuya.StateUpdate) {
	if !b.dedup.Changed(u.TopicName, u.Code, u.Value) {
		b.logger.Debug("unchanged value suppressed",
			"device", u.TopicName, "dp_code", u.Code)
		return
	}

	topic := mqtt.StateTopic(b.prefix, u.TopicName, u.Code)
	retained := !retainDenied[u.Code]
	if err := b.mqtt.Publish(topic, []byte(u.Value), stateQoS, retained); err != nil {
		b.logger.Warn("state publish failed", "topic", topic, "error", err)
		return
	}
	b.logger.Info("state published",
		"device", u.TopicName, "dp_code", u.Code, "value", u.Value)
}

// routeLoop drains broker-inbound messages through the router.
func (b *Bridge) routeLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-b.inbound:
			b.router.Route(ctx, msg.topic, msg.payload)
		}
	}
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
