package aria2

import (
	"strings"

	"github.com/italolelis/seedbox_aria2/internal/fetch"
)

// metadataPrefix marks the placeholder file aria2 reports for a magnet link until
// its metadata has been downloaded.
const metadataPrefix = "[METADATA]"

// aria2 encodes every number and boolean as a JSON string.

type statusWire struct {
	GID             string `json:"gid"`
	Status          string `json:"status"`
	TotalLength     int64  `json:"totalLength,string"`
	CompletedLength int64  `json:"completedLength,string"`
	NumPieces       int64  `json:"numPieces,string"`
	Dir             string `json:"dir"`
	InfoHash        string `json:"infoHash"`
	ErrorMessage    string `json:"errorMessage"`
	BitTorrent      *struct {
		Info *struct {
			Name string `json:"name"`
		} `json:"info"`
	} `json:"bittorrent"`
	Files      []fileWire `json:"files"`
	FollowedBy []string   `json:"followedBy"`
}

type fileWire struct {
	Index    int       `json:"index,string"`
	Path     string    `json:"path"`
	Length   int64     `json:"length,string"`
	Selected bool      `json:"selected,string"`
	URIs     []uriWire `json:"uris"`
}

type uriWire struct {
	URI    string `json:"uri"`
	Status string `json:"status"`
}

func (s statusWire) toStatus() fetch.DaemonStatus {
	st := fetch.DaemonStatus{
		GID:             s.GID,
		Status:          s.Status,
		InfoHash:        s.InfoHash,
		Dir:             s.Dir,
		TotalLength:     s.TotalLength,
		CompletedLength: s.CompletedLength,
		NumPieces:       s.NumPieces,
		ErrorMessage:    s.ErrorMessage,
		Files:           toFiles(s.Files),
		FollowedBy:      s.FollowedBy,
	}

	if s.BitTorrent != nil && s.BitTorrent.Info != nil {
		st.Name = s.BitTorrent.Info.Name
	}

	return st
}

func toFiles(files []fileWire) []fetch.FileEntry {
	if files == nil {
		return nil
	}

	out := make([]fetch.FileEntry, 0, len(files))
	for _, f := range files {
		if strings.HasPrefix(f.Path, metadataPrefix) {
			continue
		}

		out = append(out, fetch.FileEntry{
			Index:    f.Index,
			Path:     f.Path,
			Length:   f.Length,
			Selected: f.Selected,
			URIs:     toURIs(f.URIs),
		})
	}

	return out
}

func toURIs(uris []uriWire) []fetch.URI {
	if uris == nil {
		return nil
	}

	out := make([]fetch.URI, len(uris))
	for i, u := range uris {
		out[i] = fetch.URI{URI: u.URI, Status: u.Status}
	}

	return out
}
