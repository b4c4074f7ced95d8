package httptransport

import (
	"encoding/json"
	"errors"
	"net/http"

	"bingo-coordinator/internal/apperr"
)

type errorBody struct {
	Error   string `json:"error"`
	Kind    string `json:"kind,omitempty"`
	Reason  string `json:"reason,omitempty"`
	Message string `json:"message,omitempty"`
	Detail  any    `json:"detail,omitempty"`
}

func WriteHTTPError(w http.ResponseWriter, status int, code string) {
	writeJSON(w, status, errorBody{Error: code})
}

// statusOf maps an error kind onto the HTTP status clients react to.
func statusOf(e *apperr.Error) int {
	switch e.Kind {
	case apperr.KindConflict, apperr.KindExpired:
		return http.StatusConflict
	case apperr.KindNotAParticipant:
		return http.StatusForbidden
	case apperr.KindTransient:
		return http.StatusServiceUnavailable
	}
	switch e.Class {
	case apperr.CodeNotFound:
		return http.StatusNotFound
	case apperr.CodeInvalid:
		if e.Code == "invalid_claim" {
			return http.StatusUnprocessableEntity
		}
		return http.StatusBadRequest
	}
	return http.StatusInternalServerError
}

func writeAppError(w http.ResponseWriter, err error) {
	e, ok := apperr.As(err)
	if !ok {
		metricInternalErrors.Add(1)
		WriteHTTPError(w, http.StatusInternalServerError, apperr.CodeInternal)
		return
	}
	status := statusOf(e)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", "1")
	}
	if status == http.StatusInternalServerError {
		metricInternalErrors.Add(1)
		WriteHTTPError(w, status, apperr.CodeInternal)
		return
	}
	body := errorBody{Error: e.Code, Kind: e.Kind.String(), Message: e.Message, Detail: e.Detail}
	if status == http.StatusConflict {
		body.Reason = e.Code
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, 1<<16))
	if err := dec.Decode(v); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			return apperr.Invalid("body_too_large", "request body too large")
		}
		return apperr.Invalid("invalid_json", err.Error())
	}
	return nil
}
