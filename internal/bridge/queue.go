package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"github.com/presencesync/presenced/internal/registry"
	"go.uber.org/zap"
)

// Syncer is the engine surface the bridges drive.
type Syncer interface {
	SyncOne(ctx context.Context, calendarID string) error
}

// commandMessage is the queue payload delivered for each chat command.
type commandMessage struct {
	Token      string `json:"token"`
	CalendarID string `json:"calendar_id"`
	Text       string `json:"text"`
	ReplyTo    string `json:"reply_to"`
}

// commandReply is the user-visible response published to ReplyTo.
type commandReply struct {
	CalendarID string `json:"calendar_id"`
	OK         bool   `json:"ok"`
	Message    string `json:"message"`
}

// QueueConsumer subscribes to the command subject and maps each message onto
// a registry or engine operation. Messages are acknowledged only after
// successful handling; messages failing the verification-token check are
// discarded.
type QueueConsumer struct {
	conn     *nats.Conn
	js       nats.JetStreamContext
	sub      *nats.Subscription
	subject  string
	verify   string
	registry *registry.Registry
	syncer   Syncer
	logger   *zap.Logger
}

// NewQueueConsumer connects to the queue server and prepares the consumer.
func NewQueueConsumer(url, subject, verifyToken string, reg *registry.Registry, syncer Syncer, logger *zap.Logger) (*QueueConsumer, error) {
	conn, err := nats.Connect(url, nats.Name("presenced"))
	if err != nil {
		return nil, fmt.Errorf("connect queue: %w", err)
	}
	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("jetstream context: %w", err)
	}
	return &QueueConsumer{
		conn:     conn,
		js:       js,
		subject:  subject,
		verify:   verifyToken,
		registry: reg,
		syncer:   syncer,
		logger:   logger,
	}, nil
}

// Start subscribes with a durable consumer and explicit acks.
func (c *QueueConsumer) Start(ctx context.Context) error {
	sub, err := c.js.Subscribe(c.subject, func(m *nats.Msg) {
		c.handle(ctx, m)
	}, nats.Durable("presenced"), nats.ManualAck(), nats.AckExplicit())
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", c.subject, err)
	}
	c.sub = sub
	c.logger.Info("command consumer started", zap.String("subject", c.subject))
	return nil
}

// Stop drains the subscription and closes the connection.
func (c *QueueConsumer) Stop() {
	if c.sub != nil {
		_ = c.sub.Drain()
	}
	c.conn.Close()
}

func (c *QueueConsumer) handle(ctx context.Context, m *nats.Msg) {
	var msg commandMessage
	if err := json.Unmarshal(m.Data, &msg); err != nil {
		c.logger.Warn("malformed command payload, discarding", zap.Error(err))
		_ = m.Ack()
		return
	}
	if msg.Token != c.verify {
		c.logger.Warn("command failed verification check, discarding",
			zap.String("calendar_id", msg.CalendarID))
		_ = m.Ack()
		return
	}

	reply, err := c.dispatch(ctx, msg)
	if err != nil {
		// Transient handling failure: leave unacked for redelivery.
		c.logger.Warn("command handling failed",
			zap.String("calendar_id", msg.CalendarID),
			zap.String("text", msg.Text),
			zap.Error(err))
		_ = m.Nak()
		return
	}

	c.respond(msg, reply)
	_ = m.Ack()
}

// dispatch executes the command. A returned error means handling should be
// retried; user mistakes (bad grammar, unknown user) come back as a reply
// string instead.
func (c *QueueConsumer) dispatch(ctx context.Context, msg commandMessage) (commandReply, error) {
	fail := func(format string, args ...any) commandReply {
		return commandReply{CalendarID: msg.CalendarID, Message: fmt.Sprintf(format, args...)}
	}
	ok := func(format string, args ...any) commandReply {
		return commandReply{CalendarID: msg.CalendarID, OK: true, Message: fmt.Sprintf(format, args...)}
	}

	cmd, err := ParseCommand(msg.Text)
	if err != nil {
		return fail("%v", err), nil
	}

	switch cmd.Verb {
	case VerbResync:
		if err := c.syncer.SyncOne(ctx, msg.CalendarID); err != nil {
			if isUserError(err) {
				return fail("%v", err), nil
			}
			return commandReply{}, err
		}
		return ok("resynced %s", msg.CalendarID), nil

	case VerbPause:
		if err := c.setPaused(msg.CalendarID, true); err != nil {
			if isUserError(err) {
				return fail("%v", err), nil
			}
			return commandReply{}, err
		}
		return ok("sync paused for %s", msg.CalendarID), nil

	case VerbResume:
		if err := c.setPaused(msg.CalendarID, false); err != nil {
			if isUserError(err) {
				return fail("%v", err), nil
			}
			return commandReply{}, err
		}
		return ok("sync resumed for %s", msg.CalendarID), nil

	case VerbStatus:
		u, err := c.registry.Lookup(msg.CalendarID)
		if err != nil {
			return fail("%v", err), nil
		}
		if u.CurrentStatus == "" {
			return ok("no status set for %s", msg.CalendarID), nil
		}
		return ok("status for %s: %q (event %s)", msg.CalendarID, u.CurrentStatus, u.LastEventID), nil
	}
	return fail("unknown command"), nil
}

func (c *QueueConsumer) setPaused(calendarID string, paused bool) error {
	return c.registry.Update(calendarID, func(u *registry.User) error {
		u.Paused = paused
		return nil
	})
}

func (c *QueueConsumer) respond(msg commandMessage, reply commandReply) {
	if msg.ReplyTo == "" {
		return
	}
	data, err := json.Marshal(reply)
	if err != nil {
		return
	}
	if err := c.conn.Publish(msg.ReplyTo, data); err != nil {
		c.logger.Warn("reply publish failed",
			zap.String("reply_to", msg.ReplyTo),
			zap.Error(err))
	}
}

func isUserError(err error) bool {
	return errors.Is(err, registry.ErrNotFound)
}
