package httpapi

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/R3E-Network/token_ledger/internal/events"
	"github.com/R3E-Network/token_ledger/internal/metrics"
)

// handleStream upgrades to a websocket and pushes every committed event
// matching the optional "type" filters as a JSON text message. A client
// that falls more than streamBuffer events behind is disconnected.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	types, ok := s.parseEventTypes(w, r)
	if !ok {
		return
	}
	var filter events.EventFilter
	if len(types) > 0 {
		filter = events.TypeFilter(types...)
	}

	// Subscribed before the handshake: the client sees every commit made
	// after its dial returns.
	queue := make(chan events.Event, streamBuffer)
	overflow := make(chan struct{})
	var once sync.Once
	unsubscribe := s.ledger.Subscribe(filter, func(e events.Event) {
		select {
		case queue <- e:
		default:
			once.Do(func() { close(overflow) })
		}
	})
	defer unsubscribe()

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the error response.
		s.log.WithContext(r.Context()).WithError(err).Debug("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	metrics.StreamSubscribed()
	defer metrics.StreamUnsubscribed()

	log := s.log.WithContext(r.Context())
	log.Debug("Event stream opened")

	closed := make(chan struct{})
	go func() {
		defer close(closed)
		conn.SetReadLimit(512)
		_ = conn.SetReadDeadline(time.Now().Add(streamPongWait))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(streamPongWait))
		})
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(streamPingPeriod)
	defer ping.Stop()

	for {
		select {
		case e := <-queue:
			_ = conn.SetWriteDeadline(time.Now().Add(streamWriteWait))
			if err := conn.WriteJSON(e); err != nil {
				log.WithError(err).Debug("Event stream write failed")
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteWait)); err != nil {
				return
			}
		case <-overflow:
			log.Warn("Event stream client too slow, disconnecting")
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.ClosePolicyViolation, "consumer too slow"),
				time.Now().Add(streamWriteWait))
			return
		case <-closed:
			log.Debug("Event stream closed by client")
			return
		case <-r.Context().Done():
			return
		}
	}
}
