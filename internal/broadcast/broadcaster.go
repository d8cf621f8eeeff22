package broadcast

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/awfultie/chatpoll/internal/domain"
	"github.com/awfultie/chatpoll/internal/metrics"
)

const (
	commandTimeout = 5 * time.Second
	stopTimeout    = 10 * time.Second
)

type broadcasterCmd interface{ isBroadcasterCmd() }

type registerCmd struct {
	connection   *websocket.Conn
	errorChannel chan error
}

func (registerCmd) isBroadcasterCmd() {}

type unregisterCmd struct {
	connection *websocket.Conn
}

func (unregisterCmd) isBroadcasterCmd() {}

type clientCountCmd struct {
	replyChannel chan int
}

func (clientCountCmd) isBroadcasterCmd() {}

type stopCmd struct{}

func (stopCmd) isBroadcasterCmd() {}

// Broadcaster manages overlay WebSocket connections and pulls a state
// snapshot from the engine on a tick loop, pushing it to every connected
// client. Clients whose send buffer is full are evicted rather than allowed
// to stall the tick.
type Broadcaster struct {
	cmdCh        chan broadcasterCmd
	clock        clockwork.Clock
	engine       domain.PollEngine
	clients      map[*websocket.Conn]*clientWriter
	maxClients   int
	tickInterval time.Duration
	done         chan struct{}
}

func NewBroadcaster(engine domain.PollEngine, clock clockwork.Clock, maxClients int, tickInterval time.Duration) *Broadcaster {
	b := &Broadcaster{
		cmdCh:        make(chan broadcasterCmd, 256),
		clock:        clock,
		engine:       engine,
		clients:      make(map[*websocket.Conn]*clientWriter),
		maxClients:   maxClients,
		tickInterval: tickInterval,
		done:         make(chan struct{}),
	}
	go b.run()
	return b
}

// Register adds a client connection. Fails when the client limit is reached;
// the connection is closed in that case.
func (b *Broadcaster) Register(conn *websocket.Conn) error {
	errCh := make(chan error, 1)
	b.cmdCh <- registerCmd{connection: conn, errorChannel: errCh}

	timer := b.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case err := <-errCh:
		return err
	case <-timer.Chan():
		return fmt.Errorf("register command timed out after %v", commandTimeout)
	}
}

// Unregister removes a client connection.
func (b *Broadcaster) Unregister(conn *websocket.Conn) {
	b.cmdCh <- unregisterCmd{connection: conn}
}

// ClientCount returns the number of connected clients, or -1 on timeout.
func (b *Broadcaster) ClientCount() int {
	replyCh := make(chan int, 1)
	b.cmdCh <- clientCountCmd{replyChannel: replyCh}

	timer := b.clock.NewTimer(commandTimeout)
	defer timer.Stop()

	select {
	case count := <-replyCh:
		return count
	case <-timer.Chan():
		slog.Warn("ClientCount timed out", "timeout", commandTimeout)
		return -1
	}
}

// Stop shuts the broadcaster down, closing all client connections. Blocks
// until the actor goroutine has exited or the stop timeout is reached.
func (b *Broadcaster) Stop() {
	b.cmdCh <- stopCmd{}

	timer := b.clock.NewTimer(stopTimeout)
	defer timer.Stop()

	select {
	case <-b.done:
		slog.Info("Broadcaster stopped gracefully")
	case <-timer.Chan():
		slog.Warn("Broadcaster stop timeout exceeded, forcing exit", "timeout", stopTimeout)
	}
}

func (b *Broadcaster) run() {
	ticker := b.clock.NewTicker(b.tickInterval)
	defer ticker.Stop()
	defer close(b.done)

	for {
		select {
		case cmd := <-b.cmdCh:
			switch c := cmd.(type) {
			case registerCmd:
				b.handleRegister(c)
			case unregisterCmd:
				b.handleUnregister(c.connection)
			case clientCountCmd:
				c.replyChannel <- len(b.clients)
			case stopCmd:
				b.handleStop()
				return
			}
		case <-ticker.Chan():
			b.handleTick()
		}
	}
}

func (b *Broadcaster) handleRegister(c registerCmd) {
	if len(b.clients) >= b.maxClients {
		slog.Warn("Rejecting overlay client: max clients reached", "max_clients", b.maxClients)
		c.connection.Close()
		c.errorChannel <- fmt.Errorf("max overlay clients (%d) reached", b.maxClients)
		return
	}

	b.clients[c.connection] = newClientWriter(c.connection, b.clock)
	metrics.BroadcastConnectedClients.Set(float64(len(b.clients)))
	slog.Debug("Overlay client registered", "total_clients", len(b.clients))
	c.errorChannel <- nil
}

func (b *Broadcaster) handleUnregister(conn *websocket.Conn) {
	cw, exists := b.clients[conn]
	if !exists {
		return
	}

	cw.stop()
	delete(b.clients, conn)
	metrics.BroadcastConnectedClients.Set(float64(len(b.clients)))
	slog.Debug("Overlay client unregistered", "remaining_clients", len(b.clients))
}

func (b *Broadcaster) handleTick() {
	if len(b.clients) == 0 {
		return
	}

	snapshot := b.engine.Snapshot()
	data, err := json.Marshal(snapshot)
	if err != nil {
		slog.Error("Failed to marshal broadcast snapshot", "error", err)
		return
	}

	var slow []*websocket.Conn
	for conn, writer := range b.clients {
		select {
		case writer.sendCh <- data:
		default:
			slow = append(slow, conn)
		}
	}

	for _, conn := range slow {
		slog.Warn("Disconnecting slow overlay client")
		metrics.BroadcastSlowClientsEvicted.Inc()
		b.handleUnregister(conn)
	}
}

func (b *Broadcaster) handleStop() {
	for conn, cw := range b.clients {
		cw.stopGraceful("server shutting down")
		delete(b.clients, conn)
	}
	metrics.BroadcastConnectedClients.Set(0)
}
