// Package relay forwards the engine event log to operator-configured sinks.
package relay

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"time"

	"uptimeline/internal/domain"
	"uptimeline/internal/metrics"
)

const (
	defaultInterval = 2 * time.Second
	defaultBatch    = 100
)

// Source is the read side of the event log.
type Source interface {
	EventsAfter(ctx context.Context, limit int, cursor int64) ([]domain.Event, error)
	LatestEventID(ctx context.Context) (int64, error)
}

// Sink receives events in log order. A failed delivery is retried on the next tick.
type Sink interface {
	Name() string
	Accepts(evtType string) bool
	Deliver(ctx context.Context, env Envelope) error
}

// Envelope is the wire form of one event.
type Envelope struct {
	ID         int64           `json:"id"`
	Type       string          `json:"type"`
	Network    string          `json:"network"`
	EntityKind string          `json:"entity_kind"`
	EntityID   string          `json:"entity_id,omitempty"`
	ActorID    string          `json:"actor_id"`
	TS         string          `json:"ts"`
	Payload    json.RawMessage `json:"payload"`
	PayloadRaw string          `json:"payload_raw,omitempty"`
}

func envelope(network string, evt domain.Event) Envelope {
	env := Envelope{
		ID:         evt.ID,
		Type:       evt.Type,
		Network:    network,
		EntityKind: evt.EntityKind,
		EntityID:   evt.EntityID,
		ActorID:    evt.ActorID,
		TS:         evt.TS,
		Payload:    json.RawMessage("{}"),
	}
	if evt.Payload != "" {
		if json.Valid([]byte(evt.Payload)) {
			env.Payload = json.RawMessage(evt.Payload)
		} else {
			env.PayloadRaw = evt.Payload
		}
	}
	return env
}

// Dispatcher polls the event log and fans each new event out to its sinks.
// Every sink keeps its own cursor, starting at the newest event seen at
// startup, so a slow or failing sink never holds back the others.
type Dispatcher struct {
	Source   Source
	Sinks    []Sink
	Network  string
	Interval time.Duration
	Batch    int
	Logger   *slog.Logger
	Metrics  *metrics.Metrics

	mu      sync.Mutex
	cursors map[int]int64
}

// Run dispatches until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) error {
	if len(d.Sinks) == 0 {
		return nil
	}
	interval := d.Interval
	if interval <= 0 {
		interval = defaultInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	d.logger().InfoContext(ctx, "relay started", "sinks", len(d.Sinks), "interval", interval)
	for {
		d.DispatchOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// DispatchOnce delivers one batch to every sink.
func (d *Dispatcher) DispatchOnce(ctx context.Context) {
	for i, sink := range d.Sinks {
		if ctx.Err() != nil {
			return
		}
		d.dispatch(ctx, i, sink)
	}
}

func (d *Dispatcher) dispatch(ctx context.Context, idx int, sink Sink) {
	log := d.logger().With("sink", sink.Name())
	cursor, err := d.cursorFor(ctx, idx)
	if err != nil {
		log.WarnContext(ctx, "relay: init cursor failed", "err", err)
		return
	}
	batch := d.Batch
	if batch <= 0 {
		batch = defaultBatch
	}
	evts, err := d.Source.EventsAfter(ctx, batch, cursor)
	if err != nil {
		log.WarnContext(ctx, "relay: fetch events failed", "err", err)
		return
	}
	for _, evt := range evts {
		if sink.Accepts(evt.Type) {
			if err := sink.Deliver(ctx, envelope(d.Network, evt)); err != nil {
				d.Metrics.RelayDelivery(sink.Name(), "error")
				log.WarnContext(ctx, "relay: delivery failed", "event", evt.ID, "type", evt.Type, "err", err)
				return
			}
			d.Metrics.RelayDelivery(sink.Name(), "ok")
		}
		d.setCursor(idx, evt.ID)
	}
}

func (d *Dispatcher) cursorFor(ctx context.Context, idx int) (int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.cursors == nil {
		d.cursors = make(map[int]int64)
	}
	if cur, ok := d.cursors[idx]; ok {
		return cur, nil
	}
	cur, err := d.Source.LatestEventID(ctx)
	if err != nil {
		return 0, err
	}
	d.cursors[idx] = cur
	return cur, nil
}

func (d *Dispatcher) setCursor(idx int, value int64) {
	d.mu.Lock()
	d.cursors[idx] = value
	d.mu.Unlock()
}

func (d *Dispatcher) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}

type eventFilter struct {
	all bool
	set map[string]struct{}
}

func newEventFilter(events []string) eventFilter {
	set := make(map[string]struct{}, len(events))
	for _, evt := range events {
		if key := strings.TrimSpace(evt); key != "" {
			set[key] = struct{}{}
		}
	}
	if len(set) == 0 {
		return eventFilter{all: true}
	}
	return eventFilter{set: set}
}

func (f eventFilter) match(evt string) bool {
	if f.all {
		return true
	}
	_, ok := f.set[evt]
	return ok
}
