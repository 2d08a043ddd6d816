package bridge

import (
	"context"
	"strings"

	"github.com/nerrad567/tuya-bridge/internal/tuya"
)

// ParseCommandTopic matches a topic against {prefix}/{topic_name}/command/{dp_code}.
//
// The prefix is stripped literally, the remainder splits once on "/", and
// the rest must start with "command/". Anything after that literal is the
// dp_code, slashes included; bogus codes fail the datapoint lookup later.
func ParseCommandTopic(topic, prefix string) (topicName, dpCode string, ok bool) {
	rest, found := strings.CutPrefix(topic, prefix+"/")
	if !found {
		return "", "", false
	}
	topicName, rest, found = strings.Cut(rest, "/")
	if !found || topicName == "" {
		return "", "", false
	}
	dpCode, found = strings.CutPrefix(rest, "command/")
	if !found || dpCode == "" {
		return "", "", false
	}
	return topicName, dpCode, true
}

// Router translates inbound broker messages into device commands and
// enqueues them on the target device's command channel.
type Router struct {
	prefix   string
	devices  map[string]*tuya.Descriptor
	commands map[string]chan<- tuya.Command
	logger   Logger
}

// NewRouter builds a router over the given devices, keyed by topic name.
func NewRouter(prefix string, devices map[string]*tuya.Descriptor, commands map[string]chan<- tuya.Command, logger Logger) *Router {
	return &Router{
		prefix:   prefix,
		devices:  devices,
		commands: commands,
		logger:   logger,
	}
}

// Route processes one inbound broker message. Malformed topics, unknown
// devices, and untranslatable values are discarded with a log line; none of
// them are fatal. A full command channel blocks until the session catches
// up or ctx is cancelled.
func (r *Router) Route(ctx context.Context, topic string, payload []byte) {
	topicName, dpCode, ok := ParseCommandTopic(topic, r.prefix)
	if !ok {
		r.logger.Debug("ignoring malformed command topic", "topic", topic)
		return
	}

	device, ok := r.devices[topicName]
	if !ok {
		r.logger.Warn("command for unknown device", "device", topicName, "topic", topic)
		return
	}

	cmd, err := tuya.BuildCommand(device, dpCode, string(payload), r.logger)
	if err != nil {
		r.logger.Warn("discarding command",
			"device", topicName,
			"dp_code", dpCode,
			"value", string(payload),
			"error", err)
		return
	}

	select {
	case r.commands[topicName] <- *cmd:
	case <-ctx.Done():
	}
}
