package gateway

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/lklkevin/pear/internal/state"
)

// MsgType tags frames sent over /ws.
type MsgType string

const MsgTypeState MsgType = "STATE"

// Envelope is the frame format on /ws.
type Envelope struct {
	Type    MsgType     `json:"type"`
	Payload interface{} `json:"payload"`
}

// ─────────────────────────────────────────────
// Hub: fans state snapshots out to every viewer
// ─────────────────────────────────────────────

// Hub keeps the connected viewers and pushes each store change to them.
type Hub struct {
	store *state.Store

	mu      sync.RWMutex
	clients map[string]*Client // clientID → Client
}

// NewHub creates a hub for store.
func NewHub(store *state.Store) *Hub {
	return &Hub{
		store:   store,
		clients: make(map[string]*Client),
	}
}

// Run broadcasts snapshots until ctx is done.
func (h *Hub) Run(ctx context.Context) {
	updates, stop := h.store.Subscribe()
	defer stop()

	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-updates:
			h.Broadcast(snap)
		}
	}
}

// Register adds a client and queues the current snapshot for it.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()
	log.Printf("[hub] viewer %s connected (total: %d)", c.ID, h.ClientCount())

	if data, err := encodeState(h.store.Snapshot()); err == nil {
		c.enqueue(data)
	}
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	delete(h.clients, c.ID)
	h.mu.Unlock()
	log.Printf("[hub] viewer %s disconnected (total: %d)", c.ID, h.ClientCount())
}

// ClientCount returns the number of connected viewers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends snap to every viewer.
func (h *Hub) Broadcast(snap state.Snapshot) {
	data, err := encodeState(snap)
	if err != nil {
		log.Printf("[hub] marshal state error: %v", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for _, c := range h.clients {
		c.enqueue(data)
	}
}

func encodeState(snap state.Snapshot) ([]byte, error) {
	return json.Marshal(Envelope{Type: MsgTypeState, Payload: snap})
}
