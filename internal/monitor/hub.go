// Copyright ©2025 curioloop. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package monitor streams the progress of a running fit to WebSocket clients.
package monitor

import (
	"encoding/json"
	"math"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/curioloop/mcrals/mcrals"
)

// Message is the event envelope sent over WebSocket.
// Clients switch on Type and read Data as a JSON object.
type Message struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// client serializes the writes to one connection.
type client struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

// Hub broadcasts messages to a set of WebSocket clients.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
}

// NewHub constructs an empty hub.
func NewHub() *Hub {
	return &Hub{clients: make(map[*client]struct{})}
}

func (h *Hub) add(conn *websocket.Conn) *client {
	c := &client{conn: conn}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	return c
}

func (h *Hub) remove(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	_ = c.conn.Close()
}

// Len is the number of connected clients.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast marshals msg once and sends it to every client.
// Write failures are ignored, the read loop of a broken connection removes it.
func (h *Hub) Broadcast(msg Message) error {
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		c.mu.Lock()
		_ = c.conn.WriteMessage(websocket.TextMessage, b)
		c.mu.Unlock()
	}
	return nil
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		_ = c.conn.Close()
		delete(h.clients, c)
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// local tool, any origin
	CheckOrigin: func(r *http.Request) bool { return true },
}

// ServeHTTP upgrades the request and keeps the client registered until it disconnects.
// Incoming messages are discarded.
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	c := h.add(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			h.remove(c)
			return
		}
	}
}

// IterationEvent is the payload of an "iteration" message.
// Values that are not finite are sent as null.
type IterationEvent struct {
	Iter      int      `json:"iter"`
	StdDev    *float64 `json:"stdev"`
	StdDevPCA *float64 `json:"stdevPCA"`
	Change    *float64 `json:"change"`
	NumDiv    int      `json:"ndiv"`
	Status    string   `json:"status,omitempty"`
}

// SummaryEvent is the payload of a "done" message.
type SummaryEvent struct {
	Status    string   `json:"status"`
	NumIter   int      `json:"numIter"`
	StdDev    *float64 `json:"stdev"`
	StdDevPCA *float64 `json:"stdevPCA"`
	Change    *float64 `json:"change"`
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// Iteration broadcasts the bookkeeping of one ALS iteration.
// It has the signature of mcrals.Problem.Progress.
func (h *Hub) Iteration(it mcrals.Iteration) {
	ev := IterationEvent{
		Iter:      it.Iter,
		StdDev:    finite(it.StdDev),
		StdDevPCA: finite(it.StdDevPCA),
		Change:    finite(it.Change),
		NumDiv:    it.NumDiv,
	}
	if it.Status != 0 {
		ev.Status = it.Status.String()
	}
	_ = h.Broadcast(Message{Type: "iteration", Data: ev})
}

// Done broadcasts the final summary of a fit.
func (h *Hub) Done(s mcrals.Summary) {
	_ = h.Broadcast(Message{Type: "done", Data: NewSummaryEvent(s)})
}

// Failed broadcasts the error that aborted a fit.
func (h *Hub) Failed(err error) {
	_ = h.Broadcast(Message{Type: "error", Data: map[string]string{"message": err.Error()}})
}

// NewSummaryEvent converts a fit summary into its JSON-safe form.
func NewSummaryEvent(s mcrals.Summary) SummaryEvent {
	return SummaryEvent{
		Status:    s.Status.String(),
		NumIter:   s.NumIter,
		StdDev:    finite(s.StdDev),
		StdDevPCA: finite(s.StdDevPCA),
		Change:    finite(s.Change),
	}
}
