package gateway

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

const (
	eventWriteTimeout = 10 * time.Second
	eventPingInterval = 30 * time.Second
)

// handleEvents upgrades to a websocket and streams manager events until the
// client disconnects. Events missed while a client is slow are dropped, not
// queued.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn().Err(err).Msg("Websocket upgrade failed")
		return
	}
	defer conn.Close()

	events, cancel := s.manager.Events().Subscribe()
	defer cancel()

	s.logger.Info().Str("remote", r.RemoteAddr).Msg("Event stream connected")

	// Drain reads so close frames and ping replies are processed.
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ping := time.NewTicker(eventPingInterval)
	defer ping.Stop()

	for {
		select {
		case e, ok := <-events:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteJSON(e); err != nil {
				s.logger.Debug().Err(err).Msg("Event stream write failed")
				return
			}

		case <-ping.C:
			conn.SetWriteDeadline(time.Now().Add(eventWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-done:
			s.logger.Info().Str("remote", r.RemoteAddr).Msg("Event stream disconnected")
			return

		case <-r.Context().Done():
			return
		}
	}
}
