package rest

import (
	"net/http"
	"strconv"

	"github.com/italolelis/seedbox_aria2/internal/fetch"
	"github.com/italolelis/seedbox_aria2/internal/logctx"
	"github.com/italolelis/seedbox_aria2/internal/storage"
)

const defaultListLimit = 100

// HandleListFetches returns queued fetch records, newest first.
// Query: status (optional), limit (default 100).
func (h *TransmissionHandler) HandleListFetches(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	filter := storage.ListFilter{
		Status: r.URL.Query().Get("status"),
		Limit:  defaultListLimit,
	}

	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			http.Error(w, "limit must be a positive integer", http.StatusBadRequest)

			return
		}

		filter.Limit = limit
	}

	records, err := h.queue.ListFetches(r.Context(), filter)
	if err != nil {
		logger.Error("failed to list fetches", "err", err)
		http.Error(w, "failed to list fetches", http.StatusInternalServerError)

		return
	}

	if records == nil {
		records = []storage.FetchRecord{}
	}

	writeJSON(w, r, http.StatusOK, records)
}

// HandleListDownloads returns the daemon's downloads in normalized form.
func (h *TransmissionHandler) HandleListDownloads(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())

	onlyComplete := false

	if raw := r.URL.Query().Get("only_complete"); raw != "" {
		v, err := strconv.ParseBool(raw)
		if err != nil {
			http.Error(w, "only_complete must be a boolean", http.StatusBadRequest)

			return
		}

		onlyComplete = v
	}

	downloads, err := fetch.ListDownloads(r.Context(), h.downloads, onlyComplete)
	if err != nil {
		logger.Error("failed to list downloads", "err", err)
		http.Error(w, "failed to list downloads", http.StatusBadGateway)

		return
	}

	if downloads == nil {
		downloads = []fetch.Download{}
	}

	writeJSON(w, r, http.StatusOK, downloads)
}
