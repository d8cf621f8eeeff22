package dispatch

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awfultie/chatpoll/internal/domain"
)

// --- Helpers ---

type recordingServer struct {
	mu        sync.Mutex
	server    *httptest.Server
	failFirst int
	requests  [][]wirePayload
	failures  int
}

// newRecordingServer fails the first failFirst requests with a 500 and
// records the decoded body of every request.
func newRecordingServer(t *testing.T, failFirst int) *recordingServer {
	t.Helper()
	rs := &recordingServer{failFirst: failFirst}
	rs.server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)

		var payloads []wirePayload
		require.NoError(t, json.Unmarshal(body, &payloads))

		rs.mu.Lock()
		defer rs.mu.Unlock()
		rs.requests = append(rs.requests, payloads)
		if rs.failures < rs.failFirst {
			rs.failures++
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	t.Cleanup(rs.server.Close)
	return rs
}

func (rs *recordingServer) requestCount() int {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	return len(rs.requests)
}

func (rs *recordingServer) getRequests() [][]wirePayload {
	rs.mu.Lock()
	defer rs.mu.Unlock()
	cp := make([][]wirePayload, len(rs.requests))
	copy(cp, rs.requests)
	return cp
}

type testDispatcher struct {
	dispatcher *Dispatcher
	clock      *clockwork.FakeClock
}

func newTestDispatcher(t *testing.T, opts Options) *testDispatcher {
	t.Helper()
	if opts.BatchInterval == 0 {
		opts.BatchInterval = 300 * time.Millisecond
	}
	if opts.RequestTimeout == 0 {
		opts.RequestTimeout = 2 * time.Second
	}
	if opts.RetryAttempts == 0 {
		opts.RetryAttempts = 3
	}
	if opts.Platform == "" {
		opts.Platform = "twitch"
		opts.Channel = "somechannel"
	}

	fakeClock := clockwork.NewFakeClock()
	d := NewDispatcher(opts, fakeClock)

	// Start the actor goroutine only; flush ticks are injected directly so
	// tests stay deterministic.
	go d.run()
	t.Cleanup(func() {
		d.Stop()
	})
	return &testDispatcher{dispatcher: d, clock: fakeClock}
}

func (td *testDispatcher) enqueue(eventType string) {
	td.dispatcher.Enqueue(domain.Event{
		ID:        uuid.New(),
		Type:      eventType,
		Data:      map[string]int{"total": 1},
		CreatedAt: td.clock.Now(),
	})
}

// flush injects one flush tick and waits for any resulting request to
// complete.
func (td *testDispatcher) flush(t *testing.T) {
	t.Helper()
	td.dispatcher.cmdCh <- cmdFlushTick{}
	require.Eventually(t, func() bool {
		return !td.dispatcher.Stats().InFlight
	}, 5*time.Second, 5*time.Millisecond)
}

// --- Tests ---

func TestDispatcherSendsBatchAsOneRequest(t *testing.T) {
	rs := newRecordingServer(t, 0)
	td := newTestDispatcher(t, Options{
		Endpoints: []Endpoint{{Name: "primary", URL: rs.server.URL}},
	})

	td.enqueue(domain.EventPollStarted)
	td.enqueue(domain.EventPollUpdate)
	td.enqueue(domain.EventPollUpdate)
	td.flush(t)

	requests := rs.getRequests()
	require.Len(t, requests, 1)
	require.Len(t, requests[0], 3)

	first := requests[0][0]
	assert.Equal(t, "message_event", first.Type)
	assert.Equal(t, domain.EventPollStarted, first.EventType)
	assert.Equal(t, "twitch", first.Platform)
	assert.Equal(t, "somechannel", first.Channel)
	assert.NotEmpty(t, first.Timestamp)

	stats := td.dispatcher.Stats()
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, 0, stats.Attempt)
}

func TestDispatcherEmptyBatchSendsNothing(t *testing.T) {
	rs := newRecordingServer(t, 0)
	td := newTestDispatcher(t, Options{
		Endpoints: []Endpoint{{Name: "primary", URL: rs.server.URL}},
	})

	td.flush(t)
	assert.Equal(t, 0, rs.requestCount())
}

func TestDispatcherRetriesWithBackoffThenSucceeds(t *testing.T) {
	rs := newRecordingServer(t, 2)
	td := newTestDispatcher(t, Options{
		Endpoints: []Endpoint{{Name: "primary", URL: rs.server.URL}},
	})

	td.enqueue(domain.EventPollStarted)
	td.enqueue(domain.EventPollConcluded)
	td.flush(t)

	// First attempt failed, batch re-queued for retry.
	stats := td.dispatcher.Stats()
	assert.Equal(t, 2, stats.Pending)
	assert.Equal(t, 1, stats.Attempt)

	// Retry is gated by backoff: a tick before 1s does nothing.
	td.flush(t)
	assert.Equal(t, 1, rs.requestCount())

	td.clock.Advance(1 * time.Second)
	td.flush(t)
	assert.Equal(t, 2, rs.requestCount())
	assert.Equal(t, 2, td.dispatcher.Stats().Attempt)

	// Second failure doubles the backoff.
	td.clock.Advance(1 * time.Second)
	td.flush(t)
	assert.Equal(t, 2, rs.requestCount())

	td.clock.Advance(1 * time.Second)
	td.flush(t)
	require.Equal(t, 3, rs.requestCount())

	// Exactly one successful delivery with every event, none duplicated.
	requests := rs.getRequests()
	success := requests[2]
	require.Len(t, success, 2)
	assert.Equal(t, domain.EventPollStarted, success[0].EventType)
	assert.Equal(t, domain.EventPollConcluded, success[1].EventType)

	stats = td.dispatcher.Stats()
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, 0, stats.Attempt)
	assert.Equal(t, 0, stats.Dropped)
}

func TestDispatcherDropsBatchAfterAttemptCap(t *testing.T) {
	rs := newRecordingServer(t, 100)
	td := newTestDispatcher(t, Options{
		Endpoints:     []Endpoint{{Name: "primary", URL: rs.server.URL}},
		RetryAttempts: 2,
	})

	td.enqueue(domain.EventPollStarted)
	td.flush(t)
	require.Equal(t, 1, td.dispatcher.Stats().Attempt)

	td.clock.Advance(1 * time.Second)
	td.flush(t)

	stats := td.dispatcher.Stats()
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, 0, stats.Attempt)
	assert.Equal(t, 1, stats.Dropped)
	assert.Equal(t, 2, rs.requestCount())

	// A later batch starts fresh.
	td.enqueue(domain.EventPollUpdate)
	td.clock.Advance(1 * time.Second)
	td.flush(t)
	assert.Equal(t, 3, rs.requestCount())
}

func TestDispatcherEventsDuringFlightJoinNextBatch(t *testing.T) {
	rs := newRecordingServer(t, 1)
	td := newTestDispatcher(t, Options{
		Endpoints: []Endpoint{{Name: "primary", URL: rs.server.URL}},
	})

	td.enqueue(domain.EventPollStarted)
	td.flush(t)
	require.Equal(t, 1, td.dispatcher.Stats().Attempt)

	// New event arrives while the failed batch waits for retry. The retried
	// request carries the failed batch first, then the new event.
	td.enqueue(domain.EventSentimentUpdate)
	td.clock.Advance(1 * time.Second)
	td.flush(t)

	requests := rs.getRequests()
	require.Len(t, requests, 2)
	require.Len(t, requests[1], 2)
	assert.Equal(t, domain.EventPollStarted, requests[1][0].EventType)
	assert.Equal(t, domain.EventSentimentUpdate, requests[1][1].EventType)
}

func TestDispatcherUsesHighestPriorityEndpoint(t *testing.T) {
	override := newRecordingServer(t, 0)
	primary := newRecordingServer(t, 0)
	td := newTestDispatcher(t, Options{
		Endpoints: []Endpoint{
			{Name: "override", URL: override.server.URL},
			{Name: "primary", URL: primary.server.URL},
		},
	})

	td.enqueue(domain.EventPollStarted)
	td.flush(t)

	assert.Equal(t, 1, override.requestCount())
	assert.Equal(t, 0, primary.requestCount())
}

func TestDispatcherLegacyEndpointFiltersEventTypes(t *testing.T) {
	rs := newRecordingServer(t, 0)
	td := newTestDispatcher(t, Options{
		Endpoints: []Endpoint{{
			Name:       "legacy",
			URL:        rs.server.URL,
			EventTypes: []string{domain.EventPollStarted, domain.EventPollConcluded},
		}},
	})

	td.enqueue(domain.EventPollStarted)
	td.enqueue(domain.EventSentimentUpdate)
	td.enqueue(domain.EventPollConcluded)
	td.flush(t)

	requests := rs.getRequests()
	require.Len(t, requests, 1)
	require.Len(t, requests[0], 2)
	assert.Equal(t, domain.EventPollStarted, requests[0][0].EventType)
	assert.Equal(t, domain.EventPollConcluded, requests[0][1].EventType)
}

func TestDispatcherFullyFilteredBatchSkipsRequest(t *testing.T) {
	rs := newRecordingServer(t, 0)
	td := newTestDispatcher(t, Options{
		Endpoints: []Endpoint{{
			Name:       "legacy",
			URL:        rs.server.URL,
			EventTypes: []string{domain.EventPollConcluded},
		}},
	})

	td.enqueue(domain.EventSentimentUpdate)
	td.flush(t)

	assert.Equal(t, 0, rs.requestCount())
	assert.Equal(t, 0, td.dispatcher.Stats().Pending)
}

func TestDispatcherNoEndpointsDiscardsEvents(t *testing.T) {
	td := newTestDispatcher(t, Options{})

	td.enqueue(domain.EventPollStarted)
	td.flush(t)

	stats := td.dispatcher.Stats()
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, 0, stats.Dropped)
}

func TestDispatcherResetClearsPendingAndRetryState(t *testing.T) {
	rs := newRecordingServer(t, 100)
	td := newTestDispatcher(t, Options{
		Endpoints: []Endpoint{{Name: "primary", URL: rs.server.URL}},
	})

	td.enqueue(domain.EventPollStarted)
	td.flush(t)
	require.Equal(t, 1, td.dispatcher.Stats().Attempt)

	td.dispatcher.Reset()

	stats := td.dispatcher.Stats()
	assert.Equal(t, 0, stats.Pending)
	assert.Equal(t, 0, stats.Attempt)

	// Nothing left to send after reset.
	td.clock.Advance(5 * time.Second)
	td.flush(t)
	assert.Equal(t, 1, rs.requestCount())
}
