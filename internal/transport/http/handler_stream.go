package httptransport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"bingo-coordinator/internal/app/play"
	"bingo-coordinator/internal/session"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var (
	ssePingInterval = 15 * time.Second
	wsWriteWait     = 10 * time.Second
)

func WriteSSE(w http.ResponseWriter, ev session.StreamEvent) error {
	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	if ev.EventID != "" {
		if _, err := fmt.Fprintf(w, "id: %s\n", ev.EventID); err != nil {
			return err
		}
	}
	if _, err := fmt.Fprintf(w, "event: %s\n", ev.Event); err != nil {
		return err
	}
	if _, err := fmt.Fprintf(w, "data: %s\n\n", data); err != nil {
		return err
	}
	return nil
}

// SetSSEHeaders applies headers that keep event streams stable across proxies.
func SetSSEHeaders(w http.ResponseWriter) {
	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache, no-transform")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	h.Set("X-Content-Type-Options", "nosniff")
}

type StreamHandlers struct {
	svc      *play.Service
	upgrader websocket.Upgrader
}

func NewStreamHandlers(svc *play.Service) *StreamHandlers {
	return &StreamHandlers{
		svc:      svc,
		upgrader: websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }},
	}
}

func (h *StreamHandlers) buffer(w http.ResponseWriter, r *http.Request) (int64, *session.EventBuffer, bool) {
	sessionID, err := strconv.ParseInt(chi.URLParam(r, "session_id"), 10, 64)
	if err != nil || sessionID <= 0 {
		WriteHTTPError(w, http.StatusBadRequest, "invalid_session_id")
		return 0, nil, false
	}
	buf, err := h.svc.Stream(session.Ref{ID: sessionID})
	if err != nil {
		writeAppError(w, err)
		return 0, nil, false
	}
	return sessionID, buf, true
}

func lastEventID(r *http.Request) string {
	if v := r.Header.Get("Last-Event-ID"); v != "" {
		return v
	}
	return r.URL.Query().Get("lastEventId")
}

func (h *StreamHandlers) Events() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, buf, ok := h.buffer(w, r)
		if !ok {
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			WriteHTTPError(w, http.StatusInternalServerError, "stream_not_supported")
			return
		}

		metricSSEConnectionsTotal.Add(1)
		metricSSEConnectionsActive.Add(1)
		defer metricSSEConnectionsActive.Add(-1)

		SetSSEHeaders(w)
		log.Info().
			Str("request_id", chimw.GetReqID(r.Context())).
			Int64("session_id", sessionID).
			Msg("sse stream opened")

		replay, ch := buf.SubscribeAfter(lastEventID(r))
		defer buf.Unsubscribe(ch)
		for _, ev := range replay {
			if err := WriteSSE(w, ev); err != nil {
				return
			}
			logStreamEvent(r, "sse", "replay", ev)
		}
		flusher.Flush()

		ticker := time.NewTicker(ssePingInterval)
		defer ticker.Stop()

		for {
			select {
			case <-r.Context().Done():
				log.Info().
					Str("request_id", chimw.GetReqID(r.Context())).
					Int64("session_id", sessionID).
					Err(r.Context().Err()).
					Msg("sse stream closed")
				return
			case ev, ok := <-ch:
				if !ok {
					log.Info().
						Str("request_id", chimw.GetReqID(r.Context())).
						Int64("session_id", sessionID).
						Msg("sse stream channel closed")
					return
				}
				if err := WriteSSE(w, ev); err != nil {
					return
				}
				logStreamEvent(r, "sse", "live", ev)
				flusher.Flush()
			case <-ticker.C:
				now := time.Now().UnixMilli()
				ping := session.StreamEvent{
					Event:     "ping",
					SessionID: sessionID,
					ServerTS:  now,
					Data:      map[string]any{"ts": now},
				}
				if err := WriteSSE(w, ping); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

// Socket serves the same event stream over a websocket. Inbound frames are
// only read to notice the peer going away.
func (h *StreamHandlers) Socket() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sessionID, buf, ok := h.buffer(w, r)
		if !ok {
			return
		}
		conn, err := h.upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warn().Err(err).Int64("session_id", sessionID).Msg("ws upgrade failed")
			return
		}
		defer conn.Close()

		metricWSConnectionsTotal.Add(1)
		metricWSConnectionsActive.Add(1)
		defer metricWSConnectionsActive.Add(-1)

		replay, ch := buf.SubscribeAfter(lastEventID(r))
		defer buf.Unsubscribe(ch)

		gone := make(chan struct{})
		go func() {
			defer close(gone)
			for {
				if _, _, err := conn.ReadMessage(); err != nil {
					return
				}
			}
		}()

		write := func(ev session.StreamEvent) error {
			_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			return conn.WriteJSON(ev)
		}
		for _, ev := range replay {
			if err := write(ev); err != nil {
				return
			}
			logStreamEvent(r, "ws", "replay", ev)
		}

		ticker := time.NewTicker(ssePingInterval)
		defer ticker.Stop()
		for {
			select {
			case <-gone:
				log.Info().Int64("session_id", sessionID).Msg("ws peer closed")
				return
			case <-r.Context().Done():
				return
			case ev, ok := <-ch:
				if !ok {
					msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "stream_closed")
					_ = conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(wsWriteWait))
					return
				}
				if err := write(ev); err != nil {
					return
				}
				logStreamEvent(r, "ws", "live", ev)
			case <-ticker.C:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
					return
				}
			}
		}
	}
}

func logStreamEvent(r *http.Request, transport, source string, ev session.StreamEvent) {
	log.Debug().
		Str("request_id", chimw.GetReqID(r.Context())).
		Int64("session_id", ev.SessionID).
		Str("transport", transport).
		Str("event", ev.Event).
		Str("event_id", ev.EventID).
		Str("source", source).
		Msg("stream event sent")
}
