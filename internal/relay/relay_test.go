package relay

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"uptimeline/internal/config"
	"uptimeline/internal/domain"
)

type memSource struct {
	events []domain.Event
	fail   bool
}

func (m *memSource) EventsAfter(_ context.Context, limit int, cursor int64) ([]domain.Event, error) {
	if m.fail {
		return nil, errors.New("db down")
	}
	var out []domain.Event
	for _, e := range m.events {
		if e.ID > cursor && len(out) < limit {
			out = append(out, e)
		}
	}
	return out, nil
}

func (m *memSource) LatestEventID(context.Context) (int64, error) {
	if len(m.events) == 0 {
		return 0, nil
	}
	return m.events[len(m.events)-1].ID, nil
}

func (m *memSource) add(typ, payload string) {
	m.events = append(m.events, domain.Event{
		ID: int64(len(m.events) + 1), Type: typ, EntityKind: "domain", EntityID: "example.com",
		ActorID: "v1", TS: "2024-01-01T00:00:00Z", Payload: payload,
	})
}

type receiver struct {
	mu      sync.Mutex
	got     []Envelope
	headers []http.Header
	status  int
}

func (r *receiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.status != 0 {
		w.WriteHeader(r.status)
		return
	}
	var env Envelope
	_ = json.NewDecoder(req.Body).Decode(&env)
	r.got = append(r.got, env)
	r.headers = append(r.headers, req.Header.Clone())
	w.WriteHeader(http.StatusNoContent)
}

func TestWebhookDeliveryFollowsLog(t *testing.T) {
	rec := &receiver{}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	src := &memSource{}
	src.add("domain.registered", `{"stake":100}`)
	sink := NewWebhookSink(config.WebhookConfig{URL: srv.URL, Secret: "s3cret", Events: []string{"cycle.finalized"}})
	d := &Dispatcher{Source: src, Sinks: []Sink{sink}, Network: "net-1"}
	ctx := context.Background()

	d.DispatchOnce(ctx)
	assert.Empty(t, rec.got, "events before startup are not replayed")

	src.add("cycle.initiated", `{"cycle_id":1}`)
	src.add("cycle.finalized", `{"outcome":"UP"}`)
	d.DispatchOnce(ctx)
	require.Len(t, rec.got, 1)
	assert.Equal(t, "cycle.finalized", rec.got[0].Type)
	assert.Equal(t, "net-1", rec.got[0].Network)
	assert.JSONEq(t, `{"outcome":"UP"}`, string(rec.got[0].Payload))
	assert.Equal(t, "s3cret", rec.headers[0].Get("X-Uptimeline-Secret"))
	assert.Equal(t, "3", rec.headers[0].Get("X-Uptimeline-Event-Id"))
	assert.NotEmpty(t, rec.headers[0].Get("X-Uptimeline-Delivery"))

	d.DispatchOnce(ctx)
	assert.Len(t, rec.got, 1, "delivered events are not resent")
}

func TestFailedDeliveryIsRetried(t *testing.T) {
	rec := &receiver{status: http.StatusBadGateway}
	srv := httptest.NewServer(rec)
	defer srv.Close()

	src := &memSource{}
	d := &Dispatcher{Source: src, Sinks: []Sink{NewWebhookSink(config.WebhookConfig{URL: srv.URL})}}
	ctx := context.Background()
	d.DispatchOnce(ctx)

	src.add("reward.paid", `not json`)
	d.DispatchOnce(ctx)
	assert.Empty(t, rec.got)

	rec.mu.Lock()
	rec.status = 0
	rec.mu.Unlock()
	d.DispatchOnce(ctx)
	require.Len(t, rec.got, 1)
	assert.Equal(t, "not json", rec.got[0].PayloadRaw)
	assert.JSONEq(t, `{}`, string(rec.got[0].Payload))
}

func TestSourceErrorsAreSwallowed(t *testing.T) {
	src := &memSource{fail: true}
	d := &Dispatcher{Source: src, Sinks: []Sink{NewWebhookSink(config.WebhookConfig{URL: "http://127.0.0.1:1"})}}
	assert.NotPanics(t, func() { d.DispatchOnce(context.Background()) })
}

func TestSinksFromConfigSkipsDisabled(t *testing.T) {
	off := false
	cfg := config.Default("net-1")
	cfg.Webhooks = []config.WebhookConfig{
		{URL: "http://a.example/hook"},
		{URL: "http://b.example/hook", Enabled: &off},
	}
	sinks, closeAll, err := SinksFromConfig(cfg, nil)
	require.NoError(t, err)
	defer closeAll()
	require.Len(t, sinks, 1)
	assert.Equal(t, "webhook:http://a.example/hook", sinks[0].Name())
}

func TestEventFilterAndSubjects(t *testing.T) {
	f := newEventFilter([]string{" cycle.finalized ", ""})
	assert.True(t, f.match("cycle.finalized"))
	assert.False(t, f.match("reward.paid"))
	assert.True(t, newEventFilter(nil).match("anything"))

	assert.Equal(t, "uptimeline.events.reward.paid", subjectFor("uptimeline.events", "reward.paid"))
	assert.Equal(t, "reward.paid", subjectFor("", "reward.paid"))
}

type capturePublisher struct {
	msgs []*nats.Msg
	err  error
}

func (c *capturePublisher) PublishMsg(m *nats.Msg) error {
	if c.err != nil {
		return c.err
	}
	c.msgs = append(c.msgs, m)
	return nil
}

func TestNATSSinkPublishesPerEventSubject(t *testing.T) {
	pub := &capturePublisher{}
	sink := &NATSSink{pub: pub, subject: "uptimeline.events"}
	src := &memSource{}
	d := &Dispatcher{Source: src, Sinks: []Sink{sink}, Network: "net-1"}
	ctx := context.Background()
	d.DispatchOnce(ctx)

	src.add("cycle.finalized", `{"outcome":"DOWN"}`)
	src.add("reward.paid", `{"amount":5}`)
	d.DispatchOnce(ctx)
	require.Len(t, pub.msgs, 2)
	assert.Equal(t, "uptimeline.events.cycle.finalized", pub.msgs[0].Subject)
	assert.Equal(t, "net-1-1", pub.msgs[0].Header.Get(nats.MsgIdHdr))
	var env Envelope
	require.NoError(t, json.Unmarshal(pub.msgs[0].Data, &env))
	assert.Equal(t, "net-1", env.Network)
	assert.JSONEq(t, `{"outcome":"DOWN"}`, string(env.Payload))
	assert.Equal(t, "uptimeline.events.reward.paid", pub.msgs[1].Subject)

	pub.err = errors.New("slow consumer")
	src.add("cycle.initiated", `{}`)
	d.DispatchOnce(ctx)
	pub.err = nil
	d.DispatchOnce(ctx)
	require.Len(t, pub.msgs, 3, "a failed publish is retried")
	assert.Equal(t, "uptimeline.events.cycle.initiated", pub.msgs[2].Subject)
}

func TestNATSSinkWithoutConnection(t *testing.T) {
	sink := &NATSSink{subject: "x"}
	require.Error(t, sink.Deliver(context.Background(), Envelope{Type: "cycle.finalized"}))
	assert.NotPanics(t, sink.Close)
}
