// Copyright (C) 2025, ADXYZ Inc. All rights reserved.
// See the file LICENSE for licensing terms.

// Package banker implements the asynchronous committer of winning-bid
// amounts to a remote account service (C3), with retry and
// reconciliation pluggable across an HTTP or message-bus transport.
package banker

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/luxfi/postauction/pkg/event"
	"github.com/luxfi/postauction/pkg/ids"
)

// ErrBackpressure is returned by CommitWin when the outbound queue is
// at its high-water mark. It is retryable: the matcher treats it as a
// transient fault and retries on the next tick.
var ErrBackpressure = errors.New("banker: outbound queue full")

// Client commits a winning bid's chargeable amount to the remote
// account service. It is fire-and-forget from the matcher's
// perspective: a nil error means the commit was accepted onto the
// outbound queue, not that it was durably applied.
type Client interface {
	CommitWin(ctx context.Context, bidID ids.BidID, agent string, amount decimal.Decimal, deadline time.Time) error
	Close() error
}

// Transport delivers one already-accepted commit to the remote
// account service. Transient errors are retried by the worker with
// backoff; permanent errors are escalated to diagnostics and dropped.
type Transport interface {
	Deliver(ctx context.Context, c Commit) error
}

// Commit is one accepted, not-yet-delivered commit. IdempotencyKey is
// generated once at acceptance and stays fixed across retries, so a
// transport can dedupe a commit redelivered after a timed-out
// response whose original request may have actually succeeded.
type Commit struct {
	BidID          ids.BidID
	Agent          string
	Amount         decimal.Decimal
	Deadline       time.Time
	IdempotencyKey string
	attempts       int
}

// TransportFactory builds a Transport from a target endpoint string
// (an HTTP base URL, or a broker address list joined by commas).
type TransportFactory func(target string) (Transport, error)

var registry = map[string]TransportFactory{}

// RegisterTransport registers a named transport factory, mirroring
// the bidder-interface registry in pkg/bidder and the original C++'s
// BidderInterface::registerFactory.
func RegisterTransport(name string, factory TransportFactory) {
	registry[name] = factory
}

// NewTransport builds a registered transport by name.
func NewTransport(name, target string) (Transport, error) {
	factory, ok := registry[name]
	if !ok {
		return nil, errors.New("banker: unknown transport " + name)
	}
	return factory(target)
}

// PermanentError wraps a Transport error that must not be retried
// (the equivalent of an HTTP 4xx): the worker escalates it to
// diagnostics immediately instead of backing off.
type PermanentError struct{ Err error }

func (e *PermanentError) Error() string { return e.Err.Error() }
func (e *PermanentError) Unwrap() error { return e.Err }

// Config controls queue sizing, retry backoff, and where diagnostics
// land.
type Config struct {
	QueueCapacity int
	BaseBackoff   time.Duration
	MaxBackoff    time.Duration
	Diagnostics   chan<- event.Diagnostic
	Metrics       CommitObserver
}

// CommitObserver is the narrow slice of pkg/metric.Metrics the banker
// worker needs, kept as an interface so tests can supply a stub
// without constructing a real Prometheus registry.
type CommitObserver interface {
	ObserveCommit(outcome string)
}

type worker struct {
	transport Transport
	queue     chan Commit
	cfg       Config
	done      chan struct{}
}

// New builds a Client backed by transport, draining its bounded
// outbound queue on a dedicated goroutine.
func New(transport Transport, cfg Config) Client {
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 1024
	}
	if cfg.BaseBackoff <= 0 {
		cfg.BaseBackoff = 200 * time.Millisecond
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = 10 * time.Second
	}
	w := &worker{
		transport: transport,
		queue:     make(chan Commit, cfg.QueueCapacity),
		cfg:       cfg,
		done:      make(chan struct{}),
	}
	go w.run()
	return w
}

func (w *worker) CommitWin(ctx context.Context, bidID ids.BidID, agent string, amount decimal.Decimal, deadline time.Time) error {
	c := Commit{BidID: bidID, Agent: agent, Amount: amount, Deadline: deadline, IdempotencyKey: uuid.NewString()}
	select {
	case w.queue <- c:
		return nil
	default:
		return ErrBackpressure
	}
}

func (w *worker) Close() error {
	close(w.done)
	return nil
}

func (w *worker) run() {
	for {
		select {
		case <-w.done:
			return
		case c := <-w.queue:
			w.deliver(c)
		}
	}
}

func (w *worker) deliver(c Commit) {
	backoff := w.cfg.BaseBackoff
	for {
		if !c.Deadline.IsZero() && time.Now().After(c.Deadline) {
			w.diagnose(event.Transient, "commit abandoned past deadline", c, nil)
			w.observe("abandoned")
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := w.transport.Deliver(ctx, c)
		cancel()
		if err == nil {
			w.observe("success")
			return
		}
		var perm *PermanentError
		if errors.As(err, &perm) {
			w.diagnose(event.Protocol, "commit rejected permanently", c, perm.Err)
			w.observe("permanent_failure")
			return
		}
		w.diagnose(event.Transient, "commit delivery failed, retrying", c, err)
		w.observe("retry")
		c.attempts++
		select {
		case <-w.done:
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > w.cfg.MaxBackoff {
			backoff = w.cfg.MaxBackoff
		}
	}
}

func (w *worker) diagnose(kind event.DiagnosticKind, msg string, c Commit, err error) {
	if w.cfg.Diagnostics == nil {
		return
	}
	d := event.Diagnostic{Kind: kind, Message: msg, BidID: c.BidID.String(), Err: err, At: time.Now()}
	select {
	case w.cfg.Diagnostics <- d:
	default:
	}
}

func (w *worker) observe(outcome string) {
	if w.cfg.Metrics != nil {
		w.cfg.Metrics.ObserveCommit(outcome)
	}
}
