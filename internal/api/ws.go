// ws.go - Websocket event stream
package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"

	"github.com/HamzaZF/shieldpool/internal/pool"
)

const (
	streamBuffer = 256
	writeWait    = 10 * time.Second
)

// streamEvents upgrades to a websocket and writes committed events as JSON text frames. With
// ?after=N the committed history after N is replayed first, then the live stream follows with no
// gap and no duplicates.
func (s *Server) streamEvents(w http.ResponseWriter, r *http.Request) {
	var after uint64
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, ErrorResponse{Error: "after: " + err.Error(), Kind: "validation"})
			return
		}
		after = n
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}
	defer conn.Close()

	// Subscribe before reading history so nothing committed in between is lost.
	live, cancel := s.pool.Subscribe(streamBuffer)
	defer cancel()

	closing := make(chan struct{})
	go func() {
		defer close(closing)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	last := after
	if r.URL.Query().Has("after") {
		for _, ev := range s.pool.Events(after, 0) {
			if err := s.writeEvent(conn, ev); err != nil {
				return
			}
			last = ev.Seq
		}
	}

	s.log.Debug().Str("remote", r.RemoteAddr).Uint64("after", last).Msg("event stream opened")
	for {
		select {
		case ev, ok := <-live:
			if !ok {
				return
			}
			if ev.Seq <= last {
				continue
			}
			if err := s.writeEvent(conn, ev); err != nil {
				s.log.Debug().Err(err).Msg("event stream closed")
				return
			}
			last = ev.Seq
		case <-closing:
			s.log.Debug().Str("remote", r.RemoteAddr).Msg("event stream closed by peer")
			return
		}
	}
}

func (s *Server) writeEvent(conn *websocket.Conn, ev pool.Event) error {
	if err := conn.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	if err := conn.WriteJSON(ev); err != nil {
		return err
	}
	s.metrics.events.WithLabelValues(string(ev.Type)).Inc()
	return nil
}
