package battleserver

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/cormorant-games/skirmish/internal/game/event"
)

// writeTimeout bounds one outbound frame.
const writeTimeout = 3 * time.Second

// Envelope is the wire shape of every outbound event.
type Envelope struct {
	Type    string `json:"type"`
	Payload any    `json:"payload,omitempty"`
}

// Hub tracks the websocket connection of each player in each battle and
// implements EventSink. A player has at most one connection per battle;
// a newer connection displaces the older one.
type Hub struct {
	mu     sync.Mutex
	rooms  map[string]map[string]*websocket.Conn
	logger *zap.Logger
}

// NewHub creates an empty Hub.
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		rooms:  make(map[string]map[string]*websocket.Conn),
		logger: logger,
	}
}

// Register attaches a player's connection to a battle room, closing any
// previous connection for the same player.
func (h *Hub) Register(battleID, playerID string, conn *websocket.Conn) {
	h.mu.Lock()
	room, ok := h.rooms[battleID]
	if !ok {
		room = make(map[string]*websocket.Conn)
		h.rooms[battleID] = room
	}
	old := room[playerID]
	room[playerID] = conn
	h.mu.Unlock()

	if old != nil && old != conn {
		_ = old.Close(websocket.StatusPolicyViolation, "superseded by a newer connection")
	}
}

// Unregister detaches a player's connection. A no-op when a different
// connection has already taken the slot.
func (h *Hub) Unregister(battleID, playerID string, conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[battleID]
	if !ok {
		return
	}
	if room[playerID] == conn {
		delete(room, playerID)
	}
	if len(room) == 0 {
		delete(h.rooms, battleID)
	}
}

// Deliver sends one event to the named players. Write failures close and
// drop the failing connection; delivery to the rest continues.
func (h *Hub) Deliver(battleID string, playerIDs []string, ev event.Event) {
	data, err := json.Marshal(Envelope{Type: ev.Type, Payload: ev.Payload})
	if err != nil {
		h.logger.Error("event marshal failed",
			zap.String("battle_id", battleID),
			zap.String("event_type", ev.Type),
			zap.Error(err),
		)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	room, ok := h.rooms[battleID]
	if !ok {
		return
	}
	for _, playerID := range playerIDs {
		conn, ok := room[playerID]
		if !ok {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := conn.Write(ctx, websocket.MessageText, data)
		cancel()
		if err != nil {
			_ = conn.Close(websocket.StatusNormalClosure, "")
			delete(room, playerID)
		}
	}
}
