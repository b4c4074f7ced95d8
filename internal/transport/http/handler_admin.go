package httptransport

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"bingo-coordinator/internal/app/play"
	"bingo-coordinator/internal/store"

	"github.com/go-chi/chi/v5"
)

type Pinger interface {
	Ping(ctx context.Context) error
}

type AdminHandlers struct {
	svc    *play.Service
	health Pinger
}

func NewAdminHandlers(svc *play.Service, health Pinger) *AdminHandlers {
	return &AdminHandlers{svc: svc, health: health}
}

func (h *AdminHandlers) Health() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if h.health != nil {
			if err := h.health.Ping(r.Context()); err != nil {
				writeJSON(w, http.StatusServiceUnavailable, map[string]any{"ok": false, "db": "down"})
				return
			}
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "db": "up"})
	}
}

func (h *AdminHandlers) CardHistory() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cardNo, err := strconv.Atoi(chi.URLParam(r, "card_no"))
		if err != nil {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_card_id")
			return
		}
		limit, _ := ParsePagination(r)
		items, err := h.svc.CardHistory(r.Context(), cardNo, limit)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "limit": limit})
	}
}

func (h *AdminHandlers) Ledger() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit, offset := ParsePagination(r)
		f := store.LedgerFilter{UserID: r.URL.Query().Get("user_id"), RefID: r.URL.Query().Get("ref_id")}
		if v := r.URL.Query().Get("from"); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				f.From = &t
			}
		}
		if v := r.URL.Query().Get("to"); v != "" {
			if t, err := time.Parse(time.RFC3339, v); err == nil {
				f.To = &t
			}
		}
		items, err := h.svc.LedgerEntries(r.Context(), f, limit, offset)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items, "limit": limit, "offset": offset})
	}
}

func (h *AdminHandlers) Topup() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			UserID string `json:"userId"`
			Amount int64  `json:"amount"`
			Ref    string `json:"ref"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeAppError(w, err)
			return
		}
		if body.Ref == "" {
			body.Ref = r.Header.Get("Idempotency-Key")
		}
		res, err := h.svc.Topup(r.Context(), body.UserID, body.Ref, body.Amount)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}
