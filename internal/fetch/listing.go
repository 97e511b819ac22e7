package fetch

import (
	"context"
	"fmt"
	"path"
)

const listPageSize = 1000

// Download is the normalized view of a download the daemon knows about.
type Download struct {
	GID             string   `json:"gid"`
	Title           string   `json:"title"`
	URL             string   `json:"url"`            // first URI in use
	URIs            []string `json:"uris,omitempty"` // every URI in use
	InfoHash        string   `json:"info_hash,omitempty"`
	Size            int64    `json:"size"`
	CompletedLength int64    `json:"completed_length"`
	Dir             string   `json:"dir"`
	Status          string   `json:"status"`
}

// ListDownloads returns the daemon's active, waiting and stopped downloads. With
// onlyComplete only stopped downloads in the complete state are returned.
func ListDownloads(ctx context.Context, catalog Catalog, onlyComplete bool) ([]Download, error) {
	var statuses []DaemonStatus

	if !onlyComplete {
		active, err := catalog.Active(ctx)
		if err != nil {
			return nil, fmt.Errorf("listing active downloads: %w", err)
		}

		statuses = append(statuses, active...)

		waiting, err := paginate(ctx, catalog.Waiting)
		if err != nil {
			return nil, fmt.Errorf("listing waiting downloads: %w", err)
		}

		statuses = append(statuses, waiting...)
	}

	stopped, err := paginate(ctx, catalog.Stopped)
	if err != nil {
		return nil, fmt.Errorf("listing stopped downloads: %w", err)
	}

	statuses = append(statuses, stopped...)

	downloads := make([]Download, 0, len(statuses))

	for _, st := range statuses {
		if onlyComplete && st.Status != StateComplete {
			continue
		}

		uris, err := catalog.URIs(ctx, st.GID)
		if err != nil {
			return nil, fmt.Errorf("listing uris of %s: %w", st.GID, err)
		}

		downloads = append(downloads, normalize(st, uris))
	}

	return downloads, nil
}

func paginate(ctx context.Context, page func(ctx context.Context, offset, num int) ([]DaemonStatus, error)) ([]DaemonStatus, error) {
	var all []DaemonStatus

	for offset := 0; ; offset += listPageSize {
		batch, err := page(ctx, offset, listPageSize)
		if err != nil {
			return nil, err
		}

		all = append(all, batch...)

		if len(batch) < listPageSize {
			return all, nil
		}
	}
}

func normalize(st DaemonStatus, uris []URI) Download {
	d := Download{
		GID:             st.GID,
		Title:           st.Name,
		InfoHash:        st.InfoHash,
		Size:            st.TotalLength,
		CompletedLength: st.CompletedLength,
		Dir:             st.Dir,
		Status:          st.Status,
	}

	for _, u := range uris {
		if u.Status != "used" {
			continue
		}

		if d.URL == "" {
			d.URL = u.URI
		}

		d.URIs = append(d.URIs, u.URI)
	}

	if d.Title == "" && len(st.Files) > 0 {
		d.Title = path.Base(st.Files[0].Path)
	}

	if d.Title == "" {
		d.Title = st.GID
	}

	return d
}
