package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/puyokura/nchat/logger"
	"github.com/puyokura/nchat/model"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	feedBuffer     = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: model.MaxDatagramSize,
	CheckOrigin: func(r *http.Request) bool {
		return true // read-only feed for local tooling
	},
}

// FeedEvent is one websocket frame on the monitor feed.
type FeedEvent struct {
	Type       string         `json:"type"` // welcome, relay, join, leave
	Recipients int            `json:"recipients,omitempty"`
	Message    *model.Message `json:"message,omitempty"`
	Member     *model.Member  `json:"member,omitempty"`
	Text       string         `json:"text,omitempty"`
}

// Watcher is a middleman between a monitor websocket and the hub.
type Watcher struct {
	hub  *Hub
	conn *websocket.Conn

	// Buffered channel of outbound frames.
	send chan []byte
}

// Hub maintains the set of active watchers and copies the relay feed to
// each of them. It is an engine Observer.
type Hub struct {
	watchers   map[*Watcher]bool
	feed       chan []byte
	register   chan *Watcher
	unregister chan *Watcher
	done       chan struct{}
	log        *logger.Logger
}

func NewHub(log *logger.Logger) *Hub {
	return &Hub{
		watchers:   make(map[*Watcher]bool),
		feed:       make(chan []byte, feedBuffer),
		register:   make(chan *Watcher),
		unregister: make(chan *Watcher),
		done:       make(chan struct{}),
		log:        log,
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			for w := range h.watchers {
				delete(h.watchers, w)
				close(w.send)
			}
			return
		case w := <-h.register:
			h.watchers[w] = true
			h.log.Debugf("watcher %s connected", w.conn.RemoteAddr())
		case w := <-h.unregister:
			if _, ok := h.watchers[w]; ok {
				delete(h.watchers, w)
				close(w.send)
				h.log.Debugf("watcher %s gone", w.conn.RemoteAddr())
			}
		case frame := <-h.feed:
			for w := range h.watchers {
				select {
				case w.send <- frame:
				default:
					close(w.send)
					delete(h.watchers, w)
				}
			}
		}
	}
}

func (h *Hub) Relayed(msg model.Message, recipients int) {
	h.publish(FeedEvent{Type: "relay", Recipients: recipients, Message: &msg})
}

func (h *Hub) Joined(member model.Member) {
	h.publish(FeedEvent{Type: "join", Member: &member})
}

func (h *Hub) Left(member model.Member) {
	h.publish(FeedEvent{Type: "leave", Member: &member})
}

// publish never blocks; the engine loop calls it.
func (h *Hub) publish(ev FeedEvent) {
	frame, err := json.Marshal(ev)
	if err != nil {
		h.log.WithError(err).Error("feed event not encoded")
		return
	}
	select {
	case h.feed <- frame:
	default:
		h.log.Warn("monitor feed full, dropping event")
	}
}

func (w *Watcher) readPump() {
	defer func() {
		select {
		case w.hub.unregister <- w:
		case <-w.hub.done:
		}
		w.conn.Close()
	}()
	w.conn.SetReadLimit(maxMessageSize)
	w.conn.SetReadDeadline(time.Now().Add(pongWait))
	w.conn.SetPongHandler(func(string) error { w.conn.SetReadDeadline(time.Now().Add(pongWait)); return nil })
	for {
		// The feed is one way; anything a watcher sends is ignored.
		if _, _, err := w.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				w.hub.log.WithError(err).Debug("watcher read failed")
			}
			return
		}
	}
}

func (w *Watcher) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		w.conn.Close()
	}()
	for {
		select {
		case frame, ok := <-w.send:
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel.
				w.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := w.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		case <-ticker.C:
			w.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := w.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// serveWs upgrades a monitor request and registers the watcher. Pumps start
// only after registration, so a watcher that has read the welcome frame sees
// every later event.
func serveWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.log.WithError(err).Warn("websocket upgrade failed")
		return
	}
	watcher := &Watcher{hub: hub, conn: conn, send: make(chan []byte, feedBuffer)}
	welcome, _ := json.Marshal(FeedEvent{Type: "welcome", Text: "nchat relay feed"})
	watcher.send <- welcome

	select {
	case hub.register <- watcher:
	case <-hub.done:
		conn.Close()
		return
	}

	go watcher.writePump()
	go watcher.readPump()
}
