package handlers

import (
	"encoding/json"
	"net/http"

	"prism-server/work/catalog"
	"prism-server/work/database"
	"prism-server/work/epg"
	"prism-server/work/logger"

	"github.com/gorilla/mux"
)

// HandleEPG serves the normalized program guide. The EPG service degrades
// to an empty schedule on upstream failure, so this endpoint always answers
// 200 with well-formed guide data.
func HandleEPG(svc *epg.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, svc.GetSchedule(r.Context()))
	}
}

// HandleChannels serves the full channel catalog ordered by name.
func HandleChannels(db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channels, err := db.ListChannels()
		if err != nil {
			logger.Error("{handlers - HandleChannels} Failed to load channels: %v", err)
			writeError(w, http.StatusInternalServerError, "Failed to fetch channels")
			return
		}
		writeJSON(w, http.StatusOK, channels)
	}
}

// HandleFavorites serves the favorited channels.
func HandleFavorites(db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channels, err := db.ListFavorites()
		if err != nil {
			logger.Error("{handlers - HandleFavorites} Failed to load favorites: %v", err)
			writeError(w, http.StatusInternalServerError, "Failed to fetch channels")
			return
		}
		writeJSON(w, http.StatusOK, channels)
	}
}

// HandleSetFavorite toggles the favorite flag on one channel.
func HandleSetFavorite(db *database.DB) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]

		var body struct {
			Favorite bool `json:"favorite"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, http.StatusBadRequest, "Invalid request body")
			return
		}

		if err := db.SetFavorite(id, body.Favorite); err != nil {
			writeError(w, http.StatusNotFound, "Channel not found")
			return
		}

		writeJSON(w, http.StatusOK, map[string]bool{"success": true})
	}
}

// HandleChannelSync triggers a catalog sync from a playlist URL.
func HandleChannelSync(svc *catalog.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			URL string `json:"url"`
			// Mode is accepted for client compatibility; syncs always
			// replace the catalog wholesale with favorites preserved.
			Mode string `json:"mode"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.URL == "" {
			writeError(w, http.StatusBadRequest, "Missing M3U url")
			return
		}

		count, err := svc.Sync(r.Context(), body.URL)
		if err != nil {
			logger.Error("{handlers - HandleChannelSync} Sync failed: %v", err)
			writeError(w, http.StatusInternalServerError, "Sync failed")
			return
		}

		writeJSON(w, http.StatusOK, map[string]any{
			"success": true,
			"count":   count,
		})
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("{handlers - writeJSON} Failed to encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
