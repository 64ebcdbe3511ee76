package ws

import (
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/gosuda/tether/internal/events"
)

// Hub streams published events to WebSocket clients.
type Hub struct {
	broker events.Broker
}

// NewHub creates a new WebSocket hub reading from broker.
func NewHub(broker events.Broker) *Hub {
	return &Hub{broker: broker}
}

// ServeExecutions streams execution and revocation events as JSON text
// frames. With ?policyId=<id> only that policy's events are sent.
func (h *Hub) ServeExecutions(w http.ResponseWriter, r *http.Request) {
	channel := events.ExecutionsChannel
	if raw := r.URL.Query().Get("policyId"); raw != "" {
		policyID, err := uuid.Parse(raw)
		if err != nil {
			http.Error(w, "invalid policy id", http.StatusBadRequest)
			return
		}
		channel = events.PolicyChannel(policyID)
	}

	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("websocket accept")
		return
	}
	defer conn.CloseNow()

	// Clients only listen; CloseRead handles their close frames and cancels
	// ctx when the peer goes away.
	ctx := conn.CloseRead(r.Context())

	messages, cleanup, err := h.broker.Subscribe(ctx, channel)
	if err != nil {
		log.Error().Err(err).Str("channel", channel).Msg("websocket subscribe")
		_ = conn.Close(websocket.StatusInternalError, "subscribe failed")
		return
	}
	defer cleanup()

	for {
		select {
		case <-ctx.Done():
			_ = conn.Close(websocket.StatusNormalClosure, "connection closed")
			return
		case msg, msgOK := <-messages:
			if !msgOK {
				_ = conn.Close(websocket.StatusNormalClosure, "channel closed")
				return
			}
			if writeErr := conn.Write(ctx, websocket.MessageText, msg); writeErr != nil {
				log.Debug().Err(writeErr).Msg("websocket write")
				return
			}
		}
	}
}
