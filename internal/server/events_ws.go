package server

import (
	"context"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"

	"github.com/aristath/foresight/internal/events"
)

// EventsHandler streams pipeline lifecycle events over a websocket
type EventsHandler struct {
	bus *events.Bus
	log zerolog.Logger
}

// NewEventsHandler creates the websocket event stream handler
func NewEventsHandler(bus *events.Bus, log zerolog.Logger) *EventsHandler {
	return &EventsHandler{
		bus: bus,
		log: log.With().Str("handler", "events_ws").Logger(),
	}
}

// HandleWebSocket handles GET /api/events/ws
func (h *EventsHandler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		// Browser dashboards connect cross-origin in dev mode
		InsecureSkipVerify: true,
	})
	if err != nil {
		h.log.Warn().Err(err).Msg("Websocket accept failed")
		return
	}
	defer conn.Close(websocket.StatusInternalError, "stream closed")

	sub, cancel := h.bus.Subscribe()
	defer cancel()

	h.log.Debug().Str("remote", r.RemoteAddr).Msg("Event stream client connected")

	// The connection is hijacked at this point. Tie the stream to the
	// socket itself (CloseRead cancels when the client goes away) instead
	// of the request context, so request-scoped deadlines cannot cut
	// long-lived clients off.
	ctx := conn.CloseRead(context.Background())
	keepalive := time.NewTicker(30 * time.Second)
	defer keepalive.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.Close(websocket.StatusNormalClosure, "")
			return

		case evt, ok := <-sub:
			if !ok {
				conn.Close(websocket.StatusNormalClosure, "")
				return
			}
			writeCtx, writeCancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(writeCtx, conn, evt)
			writeCancel()
			if err != nil {
				h.log.Debug().Err(err).Msg("Event stream client gone")
				return
			}

		case <-keepalive.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, 5*time.Second)
			err := conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				h.log.Debug().Err(err).Msg("Event stream keepalive failed")
				return
			}
		}
	}
}
