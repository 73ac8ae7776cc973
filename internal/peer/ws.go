package peer

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// wsHello is the first frame on every websocket connection, identifying
// the device behind it.
type wsHello struct {
	Name string `json:"name"`
}

// wsConn is one connected peer socket with its outbound queue. The send
// channel is never closed; done signals the pumps and any in-flight
// Send that the conn is gone.
type wsConn struct {
	id   string
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// WebsocketChannel is a Channel over websockets. It both accepts inbound
// connections (Handler) and dials out to known peers (Dial), treating
// all of them uniformly afterwards.
type WebsocketChannel struct {
	name     string
	upgrader websocket.Upgrader
	events   chan Event
	log      *zap.Logger

	mu     sync.Mutex
	conns  map[string]*wsConn
	closed bool
	done   chan struct{}
}

// NewWebsocketChannel creates a channel that advertises the given
// display name.
func NewWebsocketChannel(name string, log *zap.Logger) *WebsocketChannel {
	if log == nil {
		log = zap.NewNop()
	}
	return &WebsocketChannel{
		name:   name,
		events: make(chan Event, 64),
		conns:  make(map[string]*wsConn),
		done:   make(chan struct{}),
		log:    log,
	}
}

// Handler upgrades inbound HTTP requests to peer connections.
func (c *WebsocketChannel) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := c.upgrader.Upgrade(w, r, nil)
		if err != nil {
			c.log.Warn("websocket upgrade failed", zap.Error(err))
			return
		}
		c.accept(conn, false)
	})
}

// Dial connects out to a peer's websocket endpoint.
func (c *WebsocketChannel) Dial(ctx context.Context, url string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return fmt.Errorf("dial peer %s: %w", url, err)
	}
	c.accept(conn, true)
	return nil
}

// accept completes the hello handshake and starts the pumps. The dialing
// side sends its hello first.
func (c *WebsocketChannel) accept(conn *websocket.Conn, dialed bool) {
	hello := wsHello{Name: c.name}

	if dialed {
		if err := conn.WriteJSON(hello); err != nil {
			c.log.Warn("failed to send hello", zap.Error(err))
			conn.Close()
			return
		}
	}

	var remote wsHello
	if err := conn.ReadJSON(&remote); err != nil {
		c.log.Warn("failed to read hello", zap.Error(err))
		conn.Close()
		return
	}

	if !dialed {
		if err := conn.WriteJSON(hello); err != nil {
			c.log.Warn("failed to send hello", zap.Error(err))
			conn.Close()
			return
		}
	}

	peer := &wsConn{
		id:   conn.RemoteAddr().String(),
		conn: conn,
		send: make(chan []byte, 64),
		done: make(chan struct{}),
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		conn.Close()
		return
	}
	c.conns[peer.id] = peer
	c.mu.Unlock()

	c.emit(Event{Type: EventConnected, PeerID: peer.id, DisplayName: remote.Name})

	go c.writePump(peer)
	go c.readPump(peer)
}

func (c *WebsocketChannel) readPump(p *wsConn) {
	defer c.drop(p)
	for {
		_, data, err := p.conn.ReadMessage()
		if err != nil {
			return
		}
		c.emit(Event{Type: EventPayload, PeerID: p.id, Payload: data})
	}
}

func (c *WebsocketChannel) writePump(p *wsConn) {
	for {
		select {
		case message := <-p.send:
			if err := p.conn.WriteMessage(websocket.BinaryMessage, message); err != nil {
				return
			}
		case <-p.done:
			return
		}
	}
}

func (c *WebsocketChannel) drop(p *wsConn) {
	c.mu.Lock()
	_, present := c.conns[p.id]
	delete(c.conns, p.id)
	closed := c.closed
	c.mu.Unlock()

	p.conn.Close()
	close(p.done)

	if present && !closed {
		c.emit(Event{Type: EventDisconnected, PeerID: p.id})
	}
}

// emit delivers an event unless the channel is shutting down, so pumps
// never block on a consumer that already stopped.
func (c *WebsocketChannel) emit(ev Event) {
	select {
	case c.events <- ev:
	case <-c.done:
	}
}

// Send queues a payload for one peer. A full queue counts as a send
// failure rather than blocking the caller.
func (c *WebsocketChannel) Send(ctx context.Context, peerID string, payload []byte) error {
	c.mu.Lock()
	p, ok := c.conns[peerID]
	c.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown peer %s", peerID)
	}

	select {
	case p.send <- payload:
		return nil
	case <-p.done:
		return fmt.Errorf("unknown peer %s", peerID)
	case <-ctx.Done():
		return ctx.Err()
	default:
		return errors.New("peer send queue full")
	}
}

// Broadcast queues a payload for every connected peer. Peers with full
// queues are skipped.
func (c *WebsocketChannel) Broadcast(ctx context.Context, payload []byte) error {
	c.mu.Lock()
	peers := make([]*wsConn, 0, len(c.conns))
	for _, p := range c.conns {
		peers = append(peers, p)
	}
	c.mu.Unlock()

	for _, p := range peers {
		select {
		case p.send <- payload:
		default:
			c.log.Warn("broadcast skipped slow peer", zap.String("peer", p.id))
		}
	}
	return nil
}

// Events returns the event stream.
func (c *WebsocketChannel) Events() <-chan Event {
	return c.events
}

// Close tears down all connections and the event stream.
func (c *WebsocketChannel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	conns := make([]*wsConn, 0, len(c.conns))
	for _, p := range c.conns {
		conns = append(conns, p)
	}
	c.conns = make(map[string]*wsConn)
	c.mu.Unlock()

	close(c.done)
	for _, p := range conns {
		p.conn.Close()
	}
	return nil
}
