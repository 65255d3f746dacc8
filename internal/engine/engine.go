package engine

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"uptimeline/internal/config"
	"uptimeline/internal/events"
	"uptimeline/internal/metrics"
	"uptimeline/internal/repo"
)

var tracer = otel.Tracer("uptimeline/internal/engine")

// Engine owns the four ledgers: stake, validator rotation, cycles and rewards.
// Every mutating call runs under one lock and one SQL transaction, so calls
// are atomic and totally ordered.
type Engine struct {
	DB      *sql.DB
	Repo    repo.Repo
	Events  events.Writer
	Config  *config.Config
	Now     func() time.Time
	Logger  *slog.Logger
	Metrics *metrics.Metrics
	// Slasher receives dissenting validators of each finalized cycle. Nil disables it.
	Slasher Slasher

	mu *sync.Mutex
}

func New(db *sql.DB, cfg *config.Config) Engine {
	return Engine{
		DB:     db,
		Repo:   repo.Repo{DB: db},
		Events: events.Writer{DB: db},
		Config: cfg,
		Now:    time.Now,
		Logger: slog.Default(),
		mu:     &sync.Mutex{},
	}
}

// WithClock returns a copy of the engine reading time from now.
func (e Engine) WithClock(now func() time.Time) Engine {
	e.Now = now
	e.Events.Now = now
	return e
}

func (e Engine) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e Engine) unix() int64 {
	return e.now().Unix()
}

func (e Engine) stamp() string {
	return e.now().UTC().Format(time.RFC3339)
}

func (e Engine) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// serialize takes the engine-wide write lock.
func (e Engine) serialize() func() {
	if e.mu == nil {
		return func() {}
	}
	e.mu.Lock()
	return e.mu.Unlock
}

// write runs fn in a transaction under the engine lock and commits when fn succeeds.
func (e Engine) write(ctx context.Context, op string, attrs []attribute.KeyValue, fn func(ctx context.Context, tx *sql.Tx) error) error {
	ctx, span := tracer.Start(ctx, op, trace.WithAttributes(attrs...))
	defer span.End()
	unlock := e.serialize()
	defer unlock()
	tx, err := e.DB.BeginTx(ctx, nil)
	if err != nil {
		return traceErr(span, err)
	}
	defer tx.Rollback()
	if err := fn(ctx, tx); err != nil {
		return traceErr(span, err)
	}
	return traceErr(span, tx.Commit())
}

func traceErr(span trace.Span, err error) error {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return err
}

func requireCaller(caller string) (string, error) {
	caller = strings.TrimSpace(caller)
	if caller == "" {
		return "", ErrCallerRequired
	}
	return caller, nil
}

func domainAttr(id string) []attribute.KeyValue {
	return []attribute.KeyValue{attribute.String("domain.id", id)}
}
