package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"syscall"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/awfultie/chatpoll/internal/domain"
	apperrors "github.com/awfultie/chatpoll/internal/errors"
	"github.com/awfultie/chatpoll/internal/metrics"
)

const retryBackoffBase = time.Second

// wirePayload is the outbound representation of one event.
type wirePayload struct {
	Type      string `json:"type"`
	EventType string `json:"event_type"`
	Timestamp string `json:"timestamp"`
	Platform  string `json:"platform"`
	Channel   string `json:"channel"`
	Data      any    `json:"data"`
}

// Options configures a Dispatcher.
type Options struct {
	// Endpoints in selection priority order. An empty list makes the
	// dispatcher a sink that discards every batch.
	Endpoints []Endpoint

	Platform string
	Channel  string

	BatchInterval  time.Duration
	RequestTimeout time.Duration
	RetryAttempts  int
}

// Stats is a point-in-time view of dispatcher internals, used by readiness
// checks and tests.
type Stats struct {
	Pending  int
	Attempt  int
	InFlight bool
	Dropped  int
}

type dispatchCmd interface{ dispatchCmd() }

type cmdEnqueue struct {
	event domain.Event
}

func (cmdEnqueue) dispatchCmd() {}

type cmdFlushTick struct{}

func (cmdFlushTick) dispatchCmd() {}

type cmdFlushResult struct {
	generation int
	batch      []domain.Event
	err        error
}

func (cmdFlushResult) dispatchCmd() {}

type cmdStats struct {
	replyCh chan Stats
}

func (cmdStats) dispatchCmd() {}

type cmdDispatchReset struct {
	doneCh chan struct{}
}

func (cmdDispatchReset) dispatchCmd() {}

type cmdDispatchStop struct {
	doneCh chan struct{}
}

func (cmdDispatchStop) dispatchCmd() {}

// Dispatcher batches events and delivers each batch as one HTTP request to
// the highest-priority configured endpoint. A single flush may be in flight
// at a time; events arriving meanwhile accumulate into the next batch. Failed
// batches are re-queued at the front and retried with exponential backoff,
// then dropped after the attempt cap. Delivery failures never propagate to
// producers.
type Dispatcher struct {
	cmdCh  chan dispatchCmd
	clock  clockwork.Clock
	opts   Options
	client *http.Client

	pending     []domain.Event
	attempt     int
	nextAllowed time.Time
	inFlight    bool
	dropped     int

	// generation invalidates in-flight flush results across Reset.
	generation int

	stopCh chan struct{}
}

func NewDispatcher(opts Options, clock clockwork.Clock) *Dispatcher {
	return &Dispatcher{
		cmdCh:  make(chan dispatchCmd, 512),
		clock:  clock,
		opts:   opts,
		client: &http.Client{},
		stopCh: make(chan struct{}),
	}
}

func (d *Dispatcher) Start() {
	go d.run()
	go d.flushLoop()
}

// Stop shuts the dispatcher down after one best-effort flush of the pending
// batch. An in-flight request is left to its own timeout.
func (d *Dispatcher) Stop() {
	doneCh := make(chan struct{})
	d.cmdCh <- cmdDispatchStop{doneCh: doneCh}
	<-doneCh
}

// Enqueue adds one event to the current batch.
func (d *Dispatcher) Enqueue(ev domain.Event) {
	d.cmdCh <- cmdEnqueue{event: ev}
}

// Reset discards the pending batch and all retry state. Results of any
// in-flight request are ignored once it completes.
func (d *Dispatcher) Reset() {
	doneCh := make(chan struct{})
	d.cmdCh <- cmdDispatchReset{doneCh: doneCh}
	<-doneCh
}

func (d *Dispatcher) Stats() Stats {
	replyCh := make(chan Stats, 1)
	d.cmdCh <- cmdStats{replyCh: replyCh}
	return <-replyCh
}

func (d *Dispatcher) run() {
	for cmd := range d.cmdCh {
		switch c := cmd.(type) {
		case cmdEnqueue:
			d.pending = append(d.pending, c.event)
		case cmdFlushTick:
			d.maybeFlush()
		case cmdFlushResult:
			d.handleFlushResult(c)
		case cmdStats:
			c.replyCh <- Stats{
				Pending:  len(d.pending),
				Attempt:  d.attempt,
				InFlight: d.inFlight,
				Dropped:  d.dropped,
			}
		case cmdDispatchReset:
			d.pending = nil
			d.attempt = 0
			d.nextAllowed = time.Time{}
			d.generation++
			close(c.doneCh)
		case cmdDispatchStop:
			if !d.inFlight && len(d.pending) > 0 {
				if err := d.send(d.pending); err != nil {
					slog.Warn("Final dispatch flush failed on shutdown",
						"batch_size", len(d.pending), "error", err)
				}
			}
			close(d.stopCh)
			close(c.doneCh)
			return
		}
	}
}

func (d *Dispatcher) flushLoop() {
	ticker := d.clock.NewTicker(d.opts.BatchInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.Chan():
			d.cmdCh <- cmdFlushTick{}
		case <-d.stopCh:
			return
		}
	}
}

func (d *Dispatcher) maybeFlush() {
	if d.inFlight || len(d.pending) == 0 {
		return
	}
	if d.clock.Now().Before(d.nextAllowed) {
		return
	}

	batch := d.pending
	d.pending = nil
	d.attempt++
	d.inFlight = true

	gen := d.generation
	go func() {
		err := d.send(batch)
		d.cmdCh <- cmdFlushResult{generation: gen, batch: batch, err: err}
	}()
}

func (d *Dispatcher) handleFlushResult(res cmdFlushResult) {
	d.inFlight = false

	if res.generation != d.generation {
		slog.Debug("Discarding stale flush result from before reset")
		return
	}

	if res.err == nil {
		metrics.DispatchBatchesTotal.WithLabelValues("delivered").Inc()
		d.attempt = 0
		d.nextAllowed = time.Time{}
		return
	}

	metrics.DispatchBatchesTotal.WithLabelValues("failed").Inc()
	metrics.DispatchErrorsTotal.WithLabelValues(classifyError(res.err)).Inc()

	if d.attempt >= d.opts.RetryAttempts {
		metrics.DispatchDroppedBatchesTotal.Inc()
		d.dropped++
		slog.Error("Dropping dispatch batch after exhausting retries",
			"attempts", d.attempt, "batch_size", len(res.batch), "error", res.err)
		d.attempt = 0
		d.nextAllowed = time.Time{}
		return
	}

	metrics.DispatchRetriesTotal.Inc()
	delay := retryBackoffBase << (d.attempt - 1)
	d.nextAllowed = d.clock.Now().Add(delay)
	// Failed events go back to the front so ordering survives the retry.
	d.pending = append(res.batch, d.pending...)
	slog.Warn("Dispatch batch failed, retry scheduled",
		"attempt", d.attempt, "retry_in", delay.String(), "error", res.err)
}

// send delivers the batch to the highest-priority endpoint as one request.
func (d *Dispatcher) send(batch []domain.Event) error {
	if len(d.opts.Endpoints) == 0 {
		return nil
	}
	ep := d.opts.Endpoints[0]

	payloads := make([]wirePayload, 0, len(batch))
	for _, ev := range batch {
		if !ep.accepts(ev.Type) {
			continue
		}
		payloads = append(payloads, wirePayload{
			Type:      "message_event",
			EventType: ev.Type,
			Timestamp: ev.CreatedAt.UTC().Format(time.RFC3339Nano),
			Platform:  d.opts.Platform,
			Channel:   d.opts.Channel,
			Data:      ev.Data,
		})
	}
	if len(payloads) == 0 {
		return nil
	}

	body, err := json.Marshal(payloads)
	if err != nil {
		return apperrors.InternalError("failed to encode dispatch batch", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), d.opts.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return apperrors.DispatchError("failed to build dispatch request", err).
			WithField("endpoint", ep.Name)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := d.client.Do(req)
	metrics.DispatchRequestDuration.Observe(time.Since(start).Seconds())
	if err != nil {
		derr := apperrors.DispatchError("dispatch request failed", err).
			WithField("endpoint", ep.Name)
		if errors.Is(err, context.DeadlineExceeded) {
			return derr.WithTimeout()
		}
		if isOpaqueTransportFailure(err) {
			return derr.WithCorsSuspected()
		}
		return derr
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return apperrors.DispatchError(fmt.Sprintf("endpoint returned status %d", resp.StatusCode), nil).
			WithField("endpoint", ep.Name).
			WithField("status", fmt.Sprintf("%d", resp.StatusCode))
	}
	return nil
}

// isOpaqueTransportFailure reports failures where the request never produced
// an HTTP response, the shape a browser reports for CORS rejections.
func isOpaqueTransportFailure(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var opErr *net.OpError
	return errors.As(err, &opErr)
}

func classifyError(err error) string {
	var serr *apperrors.Error
	if errors.As(err, &serr) {
		switch {
		case serr.Timeout:
			return "timeout"
		case serr.CorsSuspected:
			return "cors_suspected"
		}
	}
	return "generic"
}
