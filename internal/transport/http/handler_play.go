package httptransport

import (
	"math"
	"net/http"
	"strconv"
	"strings"
	"time"

	"bingo-coordinator/internal/app/play"
	"bingo-coordinator/internal/reservation"
	"bingo-coordinator/internal/session"

	"github.com/go-chi/chi/v5"
)

type PlayHandlers struct {
	svc *play.Service
}

func NewPlayHandlers(svc *play.Service) *PlayHandlers {
	return &PlayHandlers{svc: svc}
}

// caller resolves the acting user. A verified token wins; a body or query
// userId that disagrees with it is rejected.
func caller(w http.ResponseWriter, r *http.Request, claimed string) (string, bool) {
	claimed = strings.TrimSpace(claimed)
	id, ok := IdentityFromContext(r.Context())
	if !ok {
		if claimed == "" {
			WriteHTTPError(w, http.StatusBadRequest, "missing_user")
			return "", false
		}
		return claimed, true
	}
	if claimed != "" && claimed != id.UserID && !id.Admin() {
		metricUserMismatch.Add(1)
		WriteHTTPError(w, http.StatusForbidden, "user_mismatch")
		return "", false
	}
	if claimed != "" {
		return claimed, true
	}
	return id.UserID, true
}

type cardRequest struct {
	CardID int    `json:"cardId"`
	UserID string `json:"userId"`
}

type holdResponse struct {
	reservation.Hold
	ExpiresInSeconds int `json:"expiresInSeconds"`
}

type releaseResponse struct {
	reservation.Release
	OK bool `json:"ok"`
}

func (h *PlayHandlers) Hold() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body cardRequest
		if err := decodeJSON(r, &body); err != nil {
			writeAppError(w, err)
			return
		}
		userID, ok := caller(w, r, body.UserID)
		if !ok {
			return
		}
		res, err := h.svc.Hold(r.Context(), userID, body.CardID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		remaining := int(math.Ceil(time.Until(res.ExpiresAt).Seconds()))
		writeJSON(w, http.StatusOK, holdResponse{Hold: res, ExpiresInSeconds: max(remaining, 0)})
	}
}

func (h *PlayHandlers) Release() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body cardRequest
		if err := decodeJSON(r, &body); err != nil {
			writeAppError(w, err)
			return
		}
		userID, ok := caller(w, r, body.UserID)
		if !ok {
			return
		}
		res, err := h.svc.Release(r.Context(), userID, body.CardID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, releaseResponse{Release: res, OK: true})
	}
}

func (h *PlayHandlers) Commit() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			CardID      int              `json:"cardId"`
			UserID      string           `json:"userId"`
			Stake       int64            `json:"stake"`
			CardPayload *play.CardLayout `json:"cardPayload"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeAppError(w, err)
			return
		}
		userID, ok := caller(w, r, body.UserID)
		if !ok {
			return
		}
		res, err := h.svc.Commit(r.Context(), play.CommitRequest{
			UserID:  userID,
			CardNo:  body.CardID,
			Stake:   body.Stake,
			Payload: body.CardPayload,
		})
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (h *PlayHandlers) Leave() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			SessionID int64  `json:"sessionId"`
			UserID    string `json:"userId"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeAppError(w, err)
			return
		}
		userID, ok := caller(w, r, body.UserID)
		if !ok {
			return
		}
		if body.SessionID <= 0 {
			WriteHTTPError(w, http.StatusBadRequest, "missing_session")
			return
		}
		if err := h.svc.Leave(r.Context(), userID, body.SessionID); err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"ok": true, "sessionId": body.SessionID})
	}
}

func (h *PlayHandlers) ClaimWin() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			SessionID     int64  `json:"sessionId"`
			UserID        string `json:"userId"`
			Pattern       string `json:"pattern"`
			CalledNumbers []int  `json:"calledNumbers"`
			CardNumber    int    `json:"cardNumber"`
		}
		if err := decodeJSON(r, &body); err != nil {
			writeAppError(w, err)
			return
		}
		userID, ok := caller(w, r, body.UserID)
		if !ok {
			return
		}
		if body.SessionID <= 0 {
			WriteHTTPError(w, http.StatusBadRequest, "missing_session")
			return
		}
		res, err := h.svc.Claim(r.Context(), session.ClaimRequest{
			SessionID:     body.SessionID,
			UserID:        userID,
			Pattern:       body.Pattern,
			CalledNumbers: body.CalledNumbers,
			CardNo:        body.CardNumber,
		})
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "winDetails": res.Win, "announcement": res.Announcement})
	}
}

func (h *PlayHandlers) Session() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		ref := session.Ref{Code: strings.TrimSpace(q.Get("code"))}
		if v := q.Get("id"); v != "" {
			id, err := strconv.ParseInt(v, 10, 64)
			if err != nil || id <= 0 {
				WriteHTTPError(w, http.StatusBadRequest, "invalid_session_id")
				return
			}
			ref.ID = id
		}
		userID := q.Get("userId")
		if id, ok := IdentityFromContext(r.Context()); ok && userID == "" {
			userID = id.UserID
		}
		view, err := h.svc.Session(r.Context(), ref, userID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, view)
	}
}

func (h *PlayHandlers) Balance() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID, ok := caller(w, r, r.URL.Query().Get("userId"))
		if !ok {
			return
		}
		res, err := h.svc.Balance(r.Context(), userID)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (h *PlayHandlers) Cards() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, h.svc.Cards())
	}
}

func (h *PlayHandlers) Card() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cardNo, err := strconv.Atoi(chi.URLParam(r, "card_no"))
		if err != nil {
			WriteHTTPError(w, http.StatusBadRequest, "invalid_card_id")
			return
		}
		res, err := h.svc.Layout(cardNo)
		if err != nil {
			writeAppError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, res)
	}
}

func (h *PlayHandlers) Rules() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, h.svc.Rules())
	}
}
