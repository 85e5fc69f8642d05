package token

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
)

// Handler serves GET /api/token?identity=...&room=...
func Handler(issuer *Issuer) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		identity := r.URL.Query().Get("identity")
		room := r.URL.Query().Get("room")
		if identity == "" || room == "" {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing identity or room"})
			return
		}
		if issuer == nil {
			slog.Error("token request failed", "error", ErrNotConfigured)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
			return
		}

		signed, err := issuer.Issue(identity, room)
		if err != nil {
			if errors.Is(err, ErrMissingParams) {
				writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing identity or room"})
				return
			}
			slog.Error("token request failed", "identity", identity, "room", room, "error", err)
			writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "Internal Server Error"})
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{"token": signed})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
