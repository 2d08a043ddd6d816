package tuya

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"time"
)

const (
	// heartbeatInterval is how often a live session pings its device.
	heartbeatInterval = 10 * time.Second

	// backoffInitial is the first reconnect delay after a session failure.
	backoffInitial = 5 * time.Second

	// backoffMax caps the reconnect delay.
	backoffMax = 60 * time.Second
)

// SessionOptions configures a device session.
type SessionOptions struct {
	// Descriptor identifies and describes the device. Required.
	Descriptor *Descriptor

	// Dialer establishes connections to the device. Required.
	Dialer Dialer

	// Updates receives translated datapoint readings. Required.
	Updates chan<- StateUpdate

	// Commands delivers writes destined for this device. Required.
	Commands <-chan Command

	// PollInterval is how often a live session re-queries the full
	// datapoint snapshot. Required, must be positive.
	PollInterval time.Duration

	// Logger is optional; nil disables session logging.
	Logger Logger
}

// Session supervises the connection to a single device: it dials, issues the
// initial snapshot query, keeps the connection alive with heartbeats and
// periodic polls, forwards readings, and writes commands. On any transport
// failure it reconnects with exponential backoff.
//
// One session per device; Run is the only goroutine touching the connection.
type Session struct {
	desc         *Descriptor
	dialer       Dialer
	updates      chan<- StateUpdate
	commands     <-chan Command
	pollInterval time.Duration
	logger       Logger

	// sleep waits for the backoff delay or context cancellation and
	// reports whether the wait completed. Replaceable in tests.
	sleep func(ctx context.Context, d time.Duration) bool
}

// NewSession validates the options and builds a session. Run must be called
// to start it.
func NewSession(opts SessionOptions) (*Session, error) {
	if opts.Descriptor == nil {
		return nil, fmt.Errorf("session: descriptor is required")
	}
	if opts.Dialer == nil {
		return nil, fmt.Errorf("session: dialer is required")
	}
	if opts.Updates == nil {
		return nil, fmt.Errorf("session: updates channel is required")
	}
	if opts.Commands == nil {
		return nil, fmt.Errorf("session: commands channel is required")
	}
	if opts.PollInterval <= 0 {
		return nil, fmt.Errorf("session: poll interval must be positive")
	}

	return &Session{
		desc:         opts.Descriptor,
		dialer:       opts.Dialer,
		updates:      opts.Updates,
		commands:     opts.Commands,
		pollInterval: opts.PollInterval,
		logger:       opts.Logger,
		sleep:        sleepCtx,
	}, nil
}

// Run supervises the session until ctx is cancelled. It never returns early:
// every failure is logged and retried with backoff. A session that reached
// the connected state resets the backoff, so a long-lived connection that
// drops is retried promptly.
func (s *Session) Run(ctx context.Context) {
	delay := backoffInitial
	for {
		if ctx.Err() != nil {
			return
		}

		connected, err := s.runSession(ctx)
		if ctx.Err() != nil {
			return
		}
		if connected {
			delay = backoffInitial
		}

		s.logWarn("device session ended", "error", err, "retry_in", delay)
		if !s.sleep(ctx, delay) {
			return
		}
		delay = nextBackoff(delay)
	}
}

// runSession drives one connection from dial to failure. The connected
// return reports whether the dial succeeded, independent of how the session
// later ended.
func (s *Session) runSession(ctx context.Context) (connected bool, err error) {
	s.logInfo("connecting to device", "address", s.desc.Address)

	conn, err := s.dialer.Dial(ctx, s.desc)
	if err != nil {
		return false, fmt.Errorf("connect: %w", err)
	}
	defer conn.Close()

	s.logInfo("device connected", "address", s.desc.Address)

	// Full snapshot up front so consumers see complete state immediately.
	if err := conn.Query(ctx, nil); err != nil {
		return true, fmt.Errorf("initial query: %w", err)
	}

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	// The ticker's first fire lands one full interval after the initial
	// query above, so there is no doubled-up snapshot at startup.
	poll := time.NewTicker(s.pollInterval)
	defer poll.Stop()

	for {
		select {
		case <-ctx.Done():
			return true, ctx.Err()

		case <-heartbeat.C:
			if err := conn.Heartbeat(ctx); err != nil {
				return true, fmt.Errorf("heartbeat: %w", err)
			}

		case <-poll.C:
			if err := conn.Query(ctx, nil); err != nil {
				return true, fmt.Errorf("poll query: %w", err)
			}

		case msg, ok := <-conn.Messages():
			if !ok {
				if err := conn.Err(); err != nil {
					return true, fmt.Errorf("device stream: %w", err)
				}
				return true, ErrStreamClosed
			}
			if msg.Command == CmdHeartbeat {
				continue
			}
			s.forwardReadings(ctx, msg)

		case cmd := <-s.commands:
			s.logInfo("writing command", "device", s.desc.TopicName, "dps", cmd.DPS)
			// Write failures are not session-fatal: the device may have
			// rejected the value while the connection itself is healthy.
			if err := conn.SetValues(ctx, cmd.DPS); err != nil {
				s.logWarn("command write failed", "device", s.desc.TopicName, "error", err)
			}
		}
	}
}

// forwardReadings translates the datapoints in one message into state
// updates. Readings are emitted in dp_id order so repeated snapshots of the
// same state produce the same update sequence.
func (s *Session) forwardReadings(ctx context.Context, msg Message) {
	dps := msg.Datapoints()
	if dps == nil {
		s.logDebug("message without datapoints", "device", s.desc.TopicName, "command", msg.Command)
		return
	}

	ids := make([]string, 0, len(dps))
	for id := range dps {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return dpIDLess(ids[i], ids[j]) })

	for _, id := range ids {
		code := s.desc.CodeFor(id)
		update := StateUpdate{
			TopicName: s.desc.TopicName,
			Code:      code,
			Value:     BridgeValueString(code, dps[id]),
		}
		select {
		case s.updates <- update:
		case <-ctx.Done():
			return
		}
	}
}

// dpIDLess orders dp_ids numerically when both parse as numbers, falling
// back to string order.
func dpIDLess(a, b string) bool {
	na, errA := strconv.Atoi(a)
	nb, errB := strconv.Atoi(b)
	if errA == nil && errB == nil {
		return na < nb
	}
	return a < b
}

func nextBackoff(d time.Duration) time.Duration {
	d *= 2
	if d > backoffMax {
		return backoffMax
	}
	return d
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return true
	case <-ctx.Done():
		return false
	}
}

func (s *Session) logDebug(msg string, kv ...any) {
	if s.logger != nil {
		s.logger.Debug(msg, kv...)
	}
}

func (s *Session) logInfo(msg string, kv ...any) {
	if s.logger != nil {
		s.logger.Info(msg, kv...)
	}
}

func (s *Session) logWarn(msg string, kv ...any) {
	if s.logger != nil {
		s.logger.Warn(msg, kv...)
	}
}
