package rest

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/http"
	"path"
	"strings"

	"github.com/anacrolix/torrent/metainfo"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/zeebo/bencode"

	"github.com/italolelis/seedbox_aria2/internal/config"
	"github.com/italolelis/seedbox_aria2/internal/fetch"
	"github.com/italolelis/seedbox_aria2/internal/logctx"
	"github.com/italolelis/seedbox_aria2/internal/storage"
)

const sessionID = "useless-session-id"

const maxTorrentSize = 10 * 1024 * 1024

type TransmissionTorrentStatus int

const (
	StatusStopped TransmissionTorrentStatus = iota
	StatusCheckWait
	StatusCheck
	StatusDownloadWait
	StatusDownload
	StatusSeedWait
	StatusSeed
)

type TransmissionTorrent struct {
	ID             int64                     `json:"id"`
	HashString     string                    `json:"hashString,omitempty"`
	Name           string                    `json:"name"`
	DownloadDir    string                    `json:"downloadDir"`
	TotalSize      int64                     `json:"totalSize"`
	LeftUntilDone  int64                     `json:"leftUntilDone"`
	IsFinished     bool                      `json:"isFinished"`
	ETA            int64                     `json:"eta"`
	Status         TransmissionTorrentStatus `json:"status"`
	ErrorString    *string                   `json:"errorString,omitempty"`
	DownloadedEver int64                     `json:"downloadedEver"`
	SeedRatioLimit float32                   `json:"seedRatioLimit"`
	SeedRatioMode  uint32                    `json:"seedRatioMode"`
	SeedIdleLimit  uint64                    `json:"seedIdleLimit"`
	SeedIdleMode   uint32                    `json:"seedIdleMode"`
}

type TransmissionResponse struct {
	Result    string          `json:"result"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
}

type TransmissionRequest struct {
	Method    string `json:"method"`
	Arguments struct {
		Fields          []string `json:"fields"`
		IDs             []string `json:"ids"`
		FileName        string   `json:"filename"`
		Paused          bool     `json:"paused"`
		DownloadDir     string   `json:"download-dir"`
		Labels          []string `json:"labels"`
		MetaInfo        string   `json:"metainfo"`
		DeleteLocalData bool     `json:"delete-local-data"`
	} `json:"arguments"`
}

type TransmissionConfig struct {
	RPCVersion              string  `json:"rpc-version"`
	Version                 string  `json:"version"`
	DownloadDir             string  `json:"download-dir"`
	SeedRatioLimit          float32 `json:"seedRatioLimit"`
	SeedRatioLimited        bool    `json:"seedRatioLimited"`
	IdleSeedingLimit        uint64  `json:"idle-seeding-limit"`
	IdleSeedingLimitEnabled bool    `json:"idle-seeding-limit-enabled"`
}

func NewTransmissionConfig(downloadDir string) *TransmissionConfig {
	return &TransmissionConfig{
		RPCVersion:       "18",
		Version:          "14.0.0",
		DownloadDir:      downloadDir,
		SeedRatioLimit:   1.0,
		SeedRatioLimited: true,
		IdleSeedingLimit: 100,
	}
}

// Queue is where torrent-add puts new fetch requests.
type Queue interface {
	Enqueue(ctx context.Context, req fetch.FetchRequest) error
	ListFetches(ctx context.Context, filter storage.ListFilter) ([]storage.FetchRecord, error)
}

// Downloads is the part of the daemon the handler reads from and removes from.
type Downloads interface {
	fetch.Catalog
	Remove(ctx context.Context, gid string) error
}

type TransmissionHandler struct {
	username  string
	password  string
	queue     Queue
	downloads Downloads
	task      config.TaskConfig
}

func NewTransmissionHandler(username, password string, queue Queue, downloads Downloads, task config.TaskConfig) *TransmissionHandler {
	return &TransmissionHandler{
		username:  username,
		password:  password,
		queue:     queue,
		downloads: downloads,
		task:      task,
	}
}

func (h *TransmissionHandler) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(h.basicAuthMiddleware)

	r.Post("/transmission/rpc", h.HandleRPC)
	r.Get("/transmission/rpc", h.HandleRPCGet)

	r.Get("/api/fetches", h.HandleListFetches)
	r.Get("/api/downloads", h.HandleListDownloads)

	return r
}

// HandleRPC serves the subset of the Transmission RPC that *arr applications use.
func (h *TransmissionHandler) HandleRPC(w http.ResponseWriter, r *http.Request) {
	logger := logctx.LoggerFromContext(r.Context())
	logger.Debug("received post rpc request")

	var req TransmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		logger.Error("failed to decode request", "err", err)
		http.Error(w, "invalid request body", http.StatusBadRequest)

		return
	}

	var (
		response *TransmissionResponse
		err      error
	)

	switch req.Method {
	case "session-get":
		response, err = success(NewTransmissionConfig(h.task.Path))
	case "torrent-get":
		response, err = h.handleTorrentGet(r.Context())
	case "torrent-set", "queue-move-top":
		response = &TransmissionResponse{Result: "success"}
	case "torrent-remove":
		response, err = h.handleTorrentRemove(r.Context(), &req)
	case "torrent-add":
		response, err = h.handleTorrentAdd(r.Context(), &req)
	default:
		logger.Error("unknown method", "method", req.Method)
		http.Error(w, fmt.Sprintf("unknown method %s", req.Method), http.StatusBadRequest)

		return
	}

	if err != nil {
		logger.Error("failed to handle request", "method", req.Method, "err", err)

		// Transmission reports failures in the result field of a 200 response.
		response = &TransmissionResponse{Result: formatTransmissionError(err)}
	}

	writeJSON(w, r, http.StatusOK, response)
}

// HandleRPCGet answers the session handshake.
func (h *TransmissionHandler) HandleRPCGet(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("X-Transmission-Session-Id", sessionID)
	w.WriteHeader(http.StatusConflict)
	_, _ = w.Write([]byte("{}"))
}

func (h *TransmissionHandler) basicAuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		username, password, ok := r.BasicAuth()
		if !ok {
			http.Error(w, "invalid authorization format", http.StatusUnauthorized)

			return
		}

		if username != h.username || password != h.password {
			http.Error(w, "invalid username or password", http.StatusUnauthorized)

			return
		}

		next.ServeHTTP(w, r)
	})
}

// validateBencodeStructure checks that data is a bencoded dictionary with an info key.
func validateBencodeStructure(data []byte) error {
	var torrentData interface{}

	if err := bencode.DecodeBytes(data, &torrentData); err != nil {
		return &InvalidContentError{
			Filename: "metainfo",
			Reason:   fmt.Sprintf("invalid bencode structure: %v", err),
			Err:      err,
		}
	}

	dict, ok := torrentData.(map[string]interface{})
	if !ok {
		return &InvalidContentError{
			Filename: "metainfo",
			Reason:   "bencode root must be a dictionary",
		}
	}

	if _, hasInfo := dict["info"]; !hasInfo {
		return &InvalidContentError{
			Filename: "metainfo",
			Reason:   "bencode missing required 'info' dictionary",
		}
	}

	return nil
}

// requestFromMetaInfo decodes a base64 .torrent payload into a fetch request
// carrying the metainfo itself.
func requestFromMetaInfo(encoded string) (fetch.FetchRequest, error) {
	torrentBytes, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return fetch.FetchRequest{}, &InvalidContentError{
			Filename: "metainfo",
			Reason:   fmt.Sprintf("invalid base64 encoding: %v", err),
			Err:      err,
		}
	}

	// size first, so a huge payload is never decoded
	if len(torrentBytes) > maxTorrentSize {
		return fetch.FetchRequest{}, &InvalidContentError{
			Filename: "metainfo",
			Reason:   fmt.Sprintf("size %d bytes exceeds maximum %d bytes", len(torrentBytes), maxTorrentSize),
		}
	}

	if err := validateBencodeStructure(torrentBytes); err != nil {
		return fetch.FetchRequest{}, err
	}

	mi, err := metainfo.Load(bytes.NewReader(torrentBytes))
	if err != nil {
		return fetch.FetchRequest{}, &InvalidContentError{Filename: "metainfo", Reason: err.Error(), Err: err}
	}

	hash := mi.HashInfoBytes().HexString()

	title := hash
	if info, err := mi.UnmarshalInfo(); err == nil && info.Name != "" {
		title = info.Name
	}

	return fetch.FetchRequest{
		ID:       hash,
		Title:    title,
		InfoHash: hash,
		Torrent:  torrentBytes,
	}, nil
}

// requestFromURL builds a fetch request for a magnet link or a .torrent URL.
func requestFromURL(rawURL string) fetch.FetchRequest {
	req := fetch.FetchRequest{URL: rawURL}

	if m, err := metainfo.ParseMagnetUri(rawURL); err == nil {
		req.InfoHash = m.InfoHash.HexString()
		req.ID = req.InfoHash
		req.Title = m.DisplayName
	} else {
		req.ID = uuid.NewString()
		req.Title = strings.TrimSuffix(path.Base(rawURL), ".torrent")
	}

	if req.Title == "" {
		req.Title = req.ID
	}

	return req
}

func (h *TransmissionHandler) handleTorrentAdd(ctx context.Context, req *TransmissionRequest) (*TransmissionResponse, error) {
	logger := logctx.LoggerFromContext(ctx).With("method", "handle_torrent_add")

	var (
		fr  fetch.FetchRequest
		err error
	)

	switch {
	case req.Arguments.MetaInfo != "":
		logger.Debug("processing torrent add request", "torrent_type", "metainfo")

		fr, err = requestFromMetaInfo(req.Arguments.MetaInfo)
		if err != nil {
			return nil, err
		}
	case req.Arguments.FileName != "":
		logger.Debug("processing torrent add request", "torrent_type", "url")

		fr = requestFromURL(req.Arguments.FileName)
	default:
		return nil, errors.New("either metainfo or filename must be provided")
	}

	if dir := req.Arguments.DownloadDir; dir != "" {
		fr.Overrides.Path = &dir
	}

	if req.Arguments.Paused {
		// keep the task's daemon options, asking only to stay paused once running
		aria := maps.Clone(map[string]string(h.task.AriaConfig))
		if aria == nil {
			aria = map[string]string{}
		}

		aria["pause-metadata"] = "true"
		fr.Overrides.AriaConfig = aria
	}

	if len(req.Arguments.Labels) > 0 {
		fr.Fields = map[string]string{"label": req.Arguments.Labels[0]}
	}

	key := "torrent-added"

	if err := h.queue.Enqueue(ctx, fr); err != nil {
		if !errors.Is(err, storage.ErrDuplicate) {
			return nil, fmt.Errorf("failed to enqueue fetch: %w", err)
		}

		key = "torrent-duplicate"
	}

	logger.Info("fetch queued", "request_id", fr.ID, "title", fr.Title, "result", key)

	return success(map[string]interface{}{
		key: map[string]interface{}{
			"id":         fr.ID,
			"name":       fr.Title,
			"hashString": fr.InfoHash,
		},
	})
}

func (h *TransmissionHandler) handleTorrentRemove(ctx context.Context, req *TransmissionRequest) (*TransmissionResponse, error) {
	logger := logctx.LoggerFromContext(ctx)
	logger.Debug("received torrent remove request", "ids", req.Arguments.IDs)

	downloads, err := fetch.ListDownloads(ctx, h.downloads, false)
	if err != nil {
		return nil, fmt.Errorf("failed to list downloads: %w", err)
	}

	wanted := make(map[string]struct{}, len(req.Arguments.IDs))
	for _, id := range req.Arguments.IDs {
		wanted[strings.ToLower(id)] = struct{}{}
	}

	for _, d := range downloads {
		_, byGID := wanted[strings.ToLower(d.GID)]
		_, byHash := wanted[strings.ToLower(d.InfoHash)]

		if !byGID && (!byHash || d.InfoHash == "") {
			continue
		}

		if err := h.downloads.Remove(ctx, d.GID); err != nil {
			return nil, fmt.Errorf("failed to remove download %s: %w", d.GID, err)
		}

		logger.Info("download removed", "gid", d.GID, "title", d.Title)
	}

	return &TransmissionResponse{Result: "success"}, nil
}

func (h *TransmissionHandler) handleTorrentGet(ctx context.Context) (*TransmissionResponse, error) {
	logger := logctx.LoggerFromContext(ctx).With("method", "handle_torrent_get")

	downloads, err := fetch.ListDownloads(ctx, h.downloads, false)
	if err != nil {
		return nil, fmt.Errorf("failed to get downloads: %w", err)
	}

	logger.Debug("fetched downloads from daemon", "count", len(downloads))

	torrents := make([]TransmissionTorrent, len(downloads))
	for i, d := range downloads {
		torrents[i] = toTransmissionTorrent(int64(i+1), d)
	}

	return success(map[string]interface{}{"torrents": torrents})
}

func toTransmissionTorrent(id int64, d fetch.Download) TransmissionTorrent {
	hash := d.InfoHash
	if hash == "" {
		hash = d.GID
	}

	t := TransmissionTorrent{
		ID:             id,
		HashString:     hash,
		Name:           d.Title,
		DownloadDir:    d.Dir,
		TotalSize:      d.Size,
		LeftUntilDone:  max(d.Size-d.CompletedLength, 0),
		DownloadedEver: d.CompletedLength,
		ETA:            -1,
		SeedRatioLimit: 1.0,
		SeedRatioMode:  1,
		SeedIdleLimit:  100,
		SeedIdleMode:   1,
	}

	switch d.Status {
	case fetch.StateActive:
		t.Status = StatusDownload
		if d.Size > 0 && d.CompletedLength >= d.Size {
			t.Status = StatusSeed
		}
	case fetch.StateWaiting:
		t.Status = StatusDownloadWait
	case fetch.StateComplete:
		t.Status = StatusSeed
		t.IsFinished = true
		t.LeftUntilDone = 0
	case fetch.StateError:
		msg := "download failed"
		t.ErrorString = &msg
	}

	return t
}

func success(arguments interface{}) (*TransmissionResponse, error) {
	raw, err := json.Marshal(arguments)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal arguments: %w", err)
	}

	return &TransmissionResponse{Result: "success", Arguments: raw}, nil
}

func writeJSON(w http.ResponseWriter, r *http.Request, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	if err := json.NewEncoder(w).Encode(v); err != nil {
		logctx.LoggerFromContext(r.Context()).Error("failed to encode response", "err", err)
	}
}

// formatTransmissionError turns an error into the text Transmission clients show
// in their UI.
func formatTransmissionError(err error) string {
	var invalidErr *InvalidContentError
	if errors.As(err, &invalidErr) {
		return fmt.Sprintf("invalid torrent: %s", invalidErr.Reason)
	}

	var transportErr *fetch.TransportError
	if errors.As(err, &transportErr) {
		return "aria2 is unreachable"
	}

	var daemonErr *fetch.DaemonFault
	if errors.As(err, &daemonErr) {
		return fmt.Sprintf("aria2 error: %s", daemonErr.Message)
	}

	return fmt.Sprintf("error: %v", err)
}
