// Package handlers serves run state, intents, placements and account data over HTTP.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/crajarshi/SwingTrading/internal/state"
	"github.com/crajarshi/SwingTrading/pkg/apperr"
)

func respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{
		"error": message,
	})
}

// statusFor maps the error taxonomy onto HTTP status codes
func statusFor(err error) int {
	if errors.Is(err, state.ErrNotFound) {
		return http.StatusNotFound
	}
	switch apperr.KindOf(err) {
	case apperr.KindConfiguration:
		return http.StatusBadRequest
	case apperr.KindData:
		return http.StatusNotFound
	case apperr.KindNetwork, apperr.KindAuthorization:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func respondErr(w http.ResponseWriter, err error) {
	respondError(w, statusFor(err), err.Error())
}
