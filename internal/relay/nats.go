package relay

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"strconv"
	"time"

	"github.com/nats-io/nats.go"
)

// NATSSink publishes every event on <subject>.<event type>, so consumers can
// subscribe to e.g. "uptimeline.events.cycle.>".
type NATSSink struct {
	nc      *nats.Conn
	pub     msgPublisher
	subject string
	closed  chan struct{}
}

type msgPublisher interface {
	PublishMsg(*nats.Msg) error
}

const drainTimeout = 5 * time.Second

// DialNATS connects with unlimited reconnects.
func DialNATS(url, subject string, logger *slog.Logger) (*NATSSink, error) {
	if logger == nil {
		logger = slog.Default()
	}
	closed := make(chan struct{})
	nc, err := nats.Connect(url,
		nats.Name("uptimeline-relay"),
		nats.DrainTimeout(drainTimeout),
		nats.ClosedHandler(func(*nats.Conn) { close(closed) }),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warn("nats disconnected", "err", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, err
	}
	return &NATSSink{nc: nc, pub: nc, subject: subject, closed: closed}, nil
}

func (s *NATSSink) Name() string { return "nats:" + s.subject }

func (s *NATSSink) Accepts(string) bool { return true }

func (s *NATSSink) Deliver(_ context.Context, env Envelope) error {
	if s.pub == nil || (s.nc != nil && s.nc.IsClosed()) {
		return errors.New("nats not connected")
	}
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	msg := nats.NewMsg(subjectFor(s.subject, env.Type))
	msg.Data = data
	// JetStream streams de-duplicate on this header.
	msg.Header.Set(nats.MsgIdHdr, env.Network+"-"+strconv.FormatInt(env.ID, 10))
	return s.pub.PublishMsg(msg)
}

// Close drains the connection and waits until pending publishes are flushed
// and the connection reports closed.
func (s *NATSSink) Close() {
	if s.nc == nil {
		return
	}
	if err := s.nc.Drain(); err != nil {
		s.nc.Close()
		return
	}
	select {
	case <-s.closed:
	case <-time.After(drainTimeout + time.Second):
		s.nc.Close()
	}
}

func subjectFor(base, evtType string) string {
	if base == "" {
		return evtType
	}
	return base + "." + evtType
}
