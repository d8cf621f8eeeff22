package broadcast

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	ws "github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/awfultie/chatpoll/internal/domain"
)

// mockEngine returns a fixed snapshot.
type mockEngine struct {
	mu       sync.Mutex
	snapshot domain.StateSnapshot
}

func (m *mockEngine) IngestMessage(_, _ string, _, _ []string) {}

func (m *mockEngine) Snapshot() domain.StateSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot
}

func (m *mockEngine) EndPoll() error { return nil }

func (m *mockEngine) Reset() {}

func (m *mockEngine) setSnapshot(s domain.StateSnapshot) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshot = s
}

// testBroadcaster sets up a Broadcaster behind a test HTTP server.
func testBroadcaster(t *testing.T, engine *mockEngine, maxClients int) (*Broadcaster, func() *ws.Conn) {
	t.Helper()

	if engine == nil {
		engine = &mockEngine{}
	}

	broadcaster := NewBroadcaster(engine, clockwork.NewRealClock(), maxClients, 20*time.Millisecond)
	t.Cleanup(func() { broadcaster.Stop() })

	upgrader := ws.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			t.Errorf("upgrade failed: %v", err)
			return
		}
		if err := broadcaster.Register(conn); err != nil {
			return
		}

		go func() {
			defer broadcaster.Unregister(conn)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					break
				}
			}
		}()
	}))
	t.Cleanup(func() { server.Close() })

	dial := func() *ws.Conn {
		t.Helper()
		url := "ws" + strings.TrimPrefix(server.URL, "http")
		conn, _, err := ws.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		t.Cleanup(func() { conn.Close() })
		return conn
	}

	return broadcaster, dial
}

func waitForClientCount(b *Broadcaster, expected int) bool {
	for i := 0; i < 100; i++ {
		if b.ClientCount() == expected {
			return true
		}
		time.Sleep(time.Millisecond)
	}
	return false
}

func TestBroadcasterRegisterAndReceiveTick(t *testing.T) {
	engine := &mockEngine{}
	engine.setSnapshot(domain.StateSnapshot{
		PollType: "yesno",
		IsActive: true,
		Counts:   map[string]int{"yes": 2, "no": 1},
	})
	broadcaster, dial := testBroadcaster(t, engine, 4)

	conn := dial()
	require.True(t, waitForClientCount(broadcaster, 1))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var snap domain.StateSnapshot
	require.NoError(t, json.Unmarshal(data, &snap))
	assert.Equal(t, "yesno", snap.PollType)
	assert.True(t, snap.IsActive)
	assert.Equal(t, map[string]int{"yes": 2, "no": 1}, snap.Counts)
}

func TestBroadcasterRejectsClientsOverLimit(t *testing.T) {
	broadcaster, dial := testBroadcaster(t, nil, 1)

	dial()
	require.True(t, waitForClientCount(broadcaster, 1))

	// The second connection is registered over the limit and dropped.
	dial()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, broadcaster.ClientCount())
}

func TestBroadcasterUnregisterOnDisconnect(t *testing.T) {
	broadcaster, dial := testBroadcaster(t, nil, 4)

	conn := dial()
	require.True(t, waitForClientCount(broadcaster, 1))

	conn.Close()
	assert.True(t, waitForClientCount(broadcaster, 0))
}

func TestBroadcasterStopClosesClients(t *testing.T) {
	broadcaster, dial := testBroadcaster(t, nil, 4)

	conn := dial()
	require.True(t, waitForClientCount(broadcaster, 1))

	broadcaster.Stop()

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}
}
