package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/vindennt/gus-marketplace/internal/db"
	"github.com/vindennt/gus-marketplace/internal/models"
)

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, models.ErrorResponse{Error: msg})
}

// respondStoreError passes a backend's status and text through. fallback
// is used when the backend said nothing
func respondStoreError(w http.ResponseWriter, err error, fallback string) {
	var be *db.BackendError
	switch {
	case errors.As(err, &be):
		msg := strings.TrimSpace(be.Body)
		if msg == "" {
			msg = fallback
		}
		respondError(w, be.Status, msg)
	case errors.Is(err, db.ErrNotFound):
		respondError(w, http.StatusNotFound, "Listing not found")
	case errors.Is(err, db.ErrUnsupported):
		respondError(w, http.StatusNotImplemented, err.Error())
	default:
		msg := err.Error()
		if msg == "" {
			msg = "Internal server error"
		}
		respondError(w, http.StatusInternalServerError, msg)
	}
}
