package battleserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/coder/websocket"
	"go.uber.org/zap"

	"github.com/cormorant-games/skirmish/internal/game/event"
	"github.com/cormorant-games/skirmish/internal/game/qte"
)

// Intent is the wire shape of every inbound client message.
type Intent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

type movePayload struct {
	UnitID string `json:"unit_id"`
	ToX    int    `json:"to_x"`
	ToY    int    `json:"to_y"`
}

type unitPayload struct {
	UnitID string `json:"unit_id"`
}

type executePayload struct {
	UnitID      string `json:"unit_id"`
	AbilityCode string `json:"ability_code"`
	Target      *struct {
		X int `json:"x"`
		Y int `json:"y"`
	} `json:"target"`
}

type qtePayload struct {
	ExchangeID string `json:"exchange_id"`
	Reaction   string `json:"reaction"`
}

// Router terminates player websockets and dispatches their intents onto
// the owning session.
type Router struct {
	manager *Manager
	hub     *Hub
	logger  *zap.Logger
}

// NewRouter creates a Router.
//
// Precondition: manager, hub, and logger must be non-nil.
func NewRouter(manager *Manager, hub *Hub, logger *zap.Logger) *Router {
	return &Router{manager: manager, hub: hub, logger: logger}
}

// ServeWS upgrades the request to a websocket and runs the player's read
// loop until the connection drops. Expects battle_id and player_id query
// parameters.
func (rt *Router) ServeWS(w http.ResponseWriter, r *http.Request) {
	battleID := r.URL.Query().Get("battle_id")
	playerID := r.URL.Query().Get("player_id")
	if battleID == "" || playerID == "" {
		http.Error(w, "battle_id and player_id are required", http.StatusBadRequest)
		return
	}

	sess, ok := rt.manager.Get(battleID)
	if !ok {
		http.Error(w, fmt.Sprintf("battle %q not found", battleID), http.StatusNotFound)
		return
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		rt.logger.Warn("websocket accept failed",
			zap.String("battle_id", battleID),
			zap.String("player_id", playerID),
			zap.Error(err),
		)
		return
	}

	rt.hub.Register(battleID, playerID, conn)
	if err := sess.Connect(playerID); err != nil {
		rt.hub.Unregister(battleID, playerID, conn)
		_ = conn.Close(websocket.StatusPolicyViolation, err.Error())
		return
	}

	rt.readLoop(r.Context(), conn, sess, battleID, playerID)

	rt.hub.Unregister(battleID, playerID, conn)
	sess.Disconnect(playerID)
	_ = conn.Close(websocket.StatusNormalClosure, "")
}

func (rt *Router) readLoop(ctx context.Context, conn *websocket.Conn, sess *Session, battleID, playerID string) {
	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var intent Intent
		if err := json.Unmarshal(data, &intent); err != nil {
			rt.sendError(battleID, playerID, fmt.Errorf("malformed intent: %w", err))
			continue
		}
		if err := rt.dispatch(sess, playerID, &intent); err != nil {
			rt.sendError(battleID, playerID, err)
		}
	}
}

func (rt *Router) dispatch(sess *Session, playerID string, intent *Intent) error {
	switch intent.Type {
	case "move":
		var p movePayload
		if err := json.Unmarshal(intent.Payload, &p); err != nil {
			return fmt.Errorf("malformed move payload: %w", err)
		}
		return sess.Move(playerID, p.UnitID, p.ToX, p.ToY)

	case "begin_action":
		var p unitPayload
		if err := json.Unmarshal(intent.Payload, &p); err != nil {
			return fmt.Errorf("malformed begin_action payload: %w", err)
		}
		return sess.BeginAction(playerID, p.UnitID)

	case "end_action":
		var p unitPayload
		if err := json.Unmarshal(intent.Payload, &p); err != nil {
			return fmt.Errorf("malformed end_action payload: %w", err)
		}
		return sess.EndAction(playerID, p.UnitID)

	case "execute_action":
		var p executePayload
		if err := json.Unmarshal(intent.Payload, &p); err != nil {
			return fmt.Errorf("malformed execute_action payload: %w", err)
		}
		targetX, targetY, hasTarget := 0, 0, false
		if p.Target != nil {
			targetX, targetY, hasTarget = p.Target.X, p.Target.Y, true
		}
		return sess.ExecuteAction(playerID, p.UnitID, p.AbilityCode, targetX, targetY, hasTarget)

	case "qte_response":
		var p qtePayload
		if err := json.Unmarshal(intent.Payload, &p); err != nil {
			return fmt.Errorf("malformed qte_response payload: %w", err)
		}
		return sess.RespondQTE(playerID, p.ExchangeID, qte.Response{Reaction: qte.Reaction(p.Reaction)})

	case "surrender":
		return sess.Surrender(playerID)

	case "request_rematch":
		return rt.handleRematch(sess, playerID)

	default:
		return fmt.Errorf("unknown intent type %q", intent.Type)
	}
}

// handleRematch flags the player's wish and, once everyone has agreed,
// creates the fresh battle and tells all participants where to go.
func (rt *Router) handleRematch(sess *Session, playerID string) error {
	ready, err := sess.RequestRematch(playerID)
	if err != nil || !ready {
		return err
	}

	next, err := rt.manager.Rematch(sess.BattleID())
	if err != nil {
		return fmt.Errorf("creating rematch for battle %q: %w", sess.BattleID(), err)
	}
	rt.hub.Deliver(sess.BattleID(), sess.PlayerIDs(), event.Event{
		Type: "rematch_created",
		Payload: map[string]any{
			"battle_id": next.BattleID(),
		},
	})
	return nil
}

type createBattleRequest struct {
	MapID   string `json:"map_id"`
	Players []struct {
		PlayerID  string `json:"player_id"`
		FactionID string `json:"faction_id"`
		Units     []struct {
			TemplateID   string `json:"template_id"`
			X            int    `json:"x"`
			Y            int    `json:"y"`
			AIControlled bool   `json:"ai_controlled"`
			BoundTo      *int   `json:"bound_to"`
		} `json:"units"`
	} `json:"players"`
}

// ServeCreate handles POST /battles: build a battle from the posted setup
// and return its id. The battle stays in the lobby until started.
func (rt *Router) ServeCreate(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req createBattleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("malformed setup: %v", err), http.StatusBadRequest)
		return
	}

	setup := &BattleSetup{MapID: req.MapID}
	for _, p := range req.Players {
		ps := PlayerSetup{PlayerID: p.PlayerID, FactionID: p.FactionID}
		for _, u := range p.Units {
			ps.Units = append(ps.Units, UnitPlacement{
				TemplateID:   u.TemplateID,
				X:            u.X,
				Y:            u.Y,
				AIControlled: u.AIControlled,
				BoundTo:      u.BoundTo,
			})
		}
		setup.Players = append(setup.Players, ps)
	}

	sess, err := rt.manager.CreateBattle(setup)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(map[string]string{"battle_id": sess.BattleID()})
}

// ServeStart handles POST /battles/start?battle_id=: compute the action
// order and begin the fight.
func (rt *Router) ServeStart(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	battleID := r.URL.Query().Get("battle_id")
	sess, ok := rt.manager.Get(battleID)
	if !ok {
		http.Error(w, fmt.Sprintf("battle %q not found", battleID), http.StatusNotFound)
		return
	}
	if err := sess.Start(); err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Mux returns the HTTP routes of the battle server.
func (rt *Router) Mux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/ws", rt.ServeWS)
	mux.HandleFunc("/battles", rt.ServeCreate)
	mux.HandleFunc("/battles/start", rt.ServeStart)
	return mux
}

// sendError delivers a rejection back to the offending player only.
func (rt *Router) sendError(battleID, playerID string, err error) {
	rt.hub.Deliver(battleID, []string{playerID}, event.Event{
		Type: "error",
		Payload: map[string]any{
			"message": err.Error(),
		},
	})
}
