// Package notify fans auction events out to websocket subscribers.
package notify

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/xtrntr/auction/internal/models"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 16
)

type client struct {
	conn   *websocket.Conn
	send   chan []byte
	closed bool
}

// Hub tracks websocket subscribers per auction. Publish never blocks: a
// subscriber whose buffer is full is dropped.
type Hub struct {
	Upgrader websocket.Upgrader

	mu   sync.Mutex
	subs map[uuid.UUID]map[*client]struct{}
	log  logrus.FieldLogger
}

// NewHub creates a hub. A nil logger uses the standard logger.
func NewHub(logger logrus.FieldLogger) *Hub {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Hub{
		Upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		subs: make(map[uuid.UUID]map[*client]struct{}),
		log:  logger,
	}
}

// Publish sends the event to every subscriber of its auction
func (h *Hub) Publish(event models.Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.WithError(err).Error("failed to marshal event")
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.subs[event.AuctionID] {
		select {
		case c.send <- data:
		default:
			h.log.WithField("auction_id", event.AuctionID).Warn("dropping slow websocket subscriber")
			h.removeLocked(event.AuctionID, c)
		}
	}
}

// subscribers returns the number of live subscribers for an auction
func (h *Hub) subscribers(auctionID uuid.UUID) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs[auctionID])
}

// ServeWS upgrades the request and streams the auction's events until the
// peer disconnects.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request, auctionID uuid.UUID) {
	conn, err := h.Upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Debug("failed to upgrade connection")
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendBuffer)}
	h.mu.Lock()
	if h.subs[auctionID] == nil {
		h.subs[auctionID] = make(map[*client]struct{})
	}
	h.subs[auctionID][c] = struct{}{}
	h.mu.Unlock()
	h.log.WithFields(logrus.Fields{
		"auction_id":  auctionID,
		"subscribers": h.subscribers(auctionID),
	}).Debug("websocket subscribed")

	go h.writePump(c)
	h.readPump(auctionID, c)
}

// readPump discards client messages and unregisters on disconnect
func (h *Hub) readPump(auctionID uuid.UUID, c *client) {
	defer func() {
		h.mu.Lock()
		h.removeLocked(auctionID, c)
		h.mu.Unlock()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// removeLocked must be called with h.mu held
func (h *Hub) removeLocked(auctionID uuid.UUID, c *client) {
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
	delete(h.subs[auctionID], c)
	if len(h.subs[auctionID]) == 0 {
		delete(h.subs, auctionID)
	}
}
