package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"market-replay-broker/internal/errs"
	"market-replay-broker/internal/events"
	"market-replay-broker/internal/logging"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 54 * time.Second
)

// WSClient is one websocket subscriber. sessionID narrows the stream to one
// session; uuid.Nil receives everything the key owns.
type WSClient struct {
	conn      *websocket.Conn
	send      chan []byte
	hub       *WSHub
	sessionID uuid.UUID
}

// WSHub fans session events out to websocket clients.
type WSHub struct {
	clients    map[*WSClient]bool
	broadcast  chan events.Event
	register   chan *WSClient
	unregister chan *WSClient
	logger     *logging.Logger
}

// NewWSHub creates a hub.
func NewWSHub(logger *logging.Logger) *WSHub {
	return &WSHub{
		clients:    make(map[*WSClient]bool),
		broadcast:  make(chan events.Event, 4096),
		register:   make(chan *WSClient),
		unregister: make(chan *WSClient),
		logger:     logger.WithComponent("websocket"),
	}
}

// Attach subscribes the hub to the event bus.
func (h *WSHub) Attach(bus *events.Bus) {
	bus.SubscribeAll(func(e events.Event) {
		select {
		case h.broadcast <- e:
		default:
			h.logger.Warn("broadcast channel full, dropping event", "type", string(e.Type))
		}
	})
}

// Run owns the client set. Single goroutine, no locks.
func (h *WSHub) Run() {
	for {
		select {
		case client := <-h.register:
			h.clients[client] = true

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}

		case event := <-h.broadcast:
			data, err := json.Marshal(event)
			if err != nil {
				h.logger.Error("event marshal failed", "error", err)
				continue
			}
			for client := range h.clients {
				if client.sessionID != uuid.Nil && client.sessionID != event.SessionID {
					continue
				}
				select {
				case client.send <- data:
				default:
					// slow client, drop it
					delete(h.clients, client)
					close(client.send)
				}
			}
		}
	}
}

// handleStream upgrades the connection and streams session events. Browser
// websocket clients cannot set headers, so credentials also come via the
// authorization query parameter.
func (s *Server) handleStream(c *gin.Context) {
	header := c.GetHeader("Authorization")
	if header == "" {
		header = c.Query("authorization")
	}
	key, err := s.keys.Authenticate(header)
	if err != nil {
		writeError(c, err)
		return
	}

	var sid uuid.UUID
	if raw := c.Query("session_id"); raw != "" {
		sid, err = uuid.Parse(raw)
		if err != nil {
			writeError(c, errs.Field("session_id", "session_id must be a UUID"))
			return
		}
		if _, err := s.controller.GetSession(c.Request.Context(), key.Key, sid); err != nil {
			writeError(c, err)
			return
		}
	}

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		conn:      conn,
		send:      make(chan []byte, 256),
		hub:       s.hub,
		sessionID: sid,
	}
	s.hub.register <- client

	go client.writePump()
	go client.readPump()
}

// writePump pushes events and pings until the send channel closes.
func (c *WSClient) writePump() {
	ticker := time.NewTicker(wsPingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump discards inbound messages and detects disconnects.
func (c *WSClient) readPump() {
	defer func() {
		c.hub.unregister <- c
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
