package handlers

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/camden-git/facesentry/models"
	"github.com/go-chi/chi/v5"
	"github.com/jinzhu/copier"
	"go.uber.org/zap"
)

type WatchlistService interface {
	Watchlist() []models.WatchlistEntry
	UpsertWatchlist(entry models.WatchlistEntry) (models.WatchlistEntry, error)
	DeleteWatchlist(personName string) error
}

type WatchlistHandler struct {
	Watchlist WatchlistService
	Logger    *zap.Logger
}

type watchlistRequest struct {
	PersonName  string `json:"person_name"`
	ThreatLevel string `json:"threat_level"`
	Description string `json:"description"`
}

func (h *WatchlistHandler) ListWatchlist(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Watchlist.Watchlist())
}

func (h *WatchlistHandler) GetWatchlistEntry(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "person_name")
	for _, e := range h.Watchlist.Watchlist() {
		if strings.EqualFold(e.PersonName, name) {
			writeJSON(w, http.StatusOK, e)
			return
		}
	}
	writeError(w, h.Logger, fmt.Errorf("watchlist entry %q: %w", name, models.ErrNotFound))
}

// UpsertWatchlistEntry creates or replaces an entry. On PUT the person name
// comes from the path.
func (h *WatchlistHandler) UpsertWatchlistEntry(w http.ResponseWriter, r *http.Request) {
	var req watchlistRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if name := chi.URLParam(r, "person_name"); name != "" {
		req.PersonName = name
	}
	var entry models.WatchlistEntry
	if err := copier.Copy(&entry, &req); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	if req.ThreatLevel == "" {
		entry.ThreatLevel = models.ThreatMedium
	}
	saved, err := h.Watchlist.UpsertWatchlist(entry)
	if err != nil {
		writeError(w, h.Logger, err)
		return
	}
	status := http.StatusOK
	if r.Method == http.MethodPost {
		status = http.StatusCreated
	}
	writeJSON(w, status, saved)
}

func (h *WatchlistHandler) DeleteWatchlistEntry(w http.ResponseWriter, r *http.Request) {
	if err := h.Watchlist.DeleteWatchlist(chi.URLParam(r, "person_name")); err != nil {
		writeError(w, h.Logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
