package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// handleStream serves notifications as Server-Sent Events. The current
// door status is sent first so a fresh dashboard needs no extra call.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeError(w, http.StatusServiceUnavailable, "stream_unavailable", "notification stream is not configured")
		return
	}
	rc := http.NewResponseController(w)

	ch, cancel := s.hub.Subscribe(64)
	defer cancel()

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	st := s.coordinator.DoorStatus()
	if err := writeSSE(w, "door_status", 0, st); err != nil {
		return
	}
	if err := rc.Flush(); err != nil {
		s.logger.Warn("stream flush unsupported", "err", err)
		return
	}

	ping := time.NewTicker(s.keepAlive)
	defer ping.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-ping.C:
			if _, err := fmt.Fprint(w, ": ping\n\n"); err != nil {
				return
			}
		case n, ok := <-ch:
			if !ok {
				return
			}
			if err := writeSSE(w, string(n.Kind), n.Seq, n); err != nil {
				return
			}
		}
		if err := rc.Flush(); err != nil {
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, id uint64, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if id > 0 {
		if _, err := fmt.Fprintf(w, "id: %d\n", id); err != nil {
			return err
		}
	}
	_, err = fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}
