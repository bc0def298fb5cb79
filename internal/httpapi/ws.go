package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"

	"github.com/example/smartline-dispatch/internal/auth"
	"github.com/example/smartline-dispatch/internal/dispatch"
	"github.com/example/smartline-dispatch/internal/models"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// handleWS upgrades a driver or customer connection, registers it with the
// broadcaster and, for drivers, consumes inbound location events until the
// socket closes.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	claims, err := s.resolveClaims(r)
	if err != nil || claims.UserID == "" {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written its own error response
		s.logger.Warn("ws upgrade failed", "user_id", claims.UserID, "error", err)
		return
	}

	handle := dispatch.NewWSHandle(conn)
	id := s.broadcaster.Register(claims.UserID, handle)
	defer s.broadcaster.Unregister(claims.UserID, id)

	for {
		var ev models.Event
		if err := conn.ReadJSON(&ev); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("ws closed", "user_id", claims.UserID, "error", err)
			}
			return
		}
		if claims.Role != auth.RoleDriver {
			continue // customers only listen
		}
		s.handleDriverEvent(r, claims.UserID, handle, ev)
	}
}

func (s *Server) handleDriverEvent(r *http.Request, driverID string, handle *dispatch.WSHandle, ev models.Event) {
	switch ev.Type {
	case models.EvLocationUpdate:
		var upd models.LocationUpdate
		if err := json.Unmarshal(ev.Data, &upd); err != nil {
			s.logger.Warn("bad location update", "driver_id", driverID, "error", err)
			return
		}
		recorded := s.ingestLocation(r.Context(), driverID, upd)
		s.ack(handle, models.EvLocationUpdated, map[string]any{"recorded": recorded})

	case models.EvLocationBatchUpdate:
		var batch models.LocationBatchUpdate
		if err := json.Unmarshal(ev.Data, &batch); err != nil {
			s.logger.Warn("bad location batch", "driver_id", driverID, "error", err)
			return
		}
		recorded := 0
		for _, upd := range batch.Locations {
			if s.ingestLocation(r.Context(), driverID, upd) {
				recorded++
			}
		}
		s.ack(handle, models.EvLocationBatchUpdated, map[string]any{
			"received": len(batch.Locations),
			"recorded": recorded,
		})

	default:
		s.logger.Debug("unknown ws event", "driver_id", driverID, "type", ev.Type)
	}
}

func (s *Server) ack(handle *dispatch.WSHandle, eventType string, payload any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	if err := handle.WriteJSON(models.Event{Type: eventType, Data: data}); err != nil {
		s.logger.Debug("ack not delivered", "event", eventType, "error", err)
	}
}
