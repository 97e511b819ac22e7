package fetch

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/anacrolix/torrent/metainfo"

	"github.com/italolelis/seedbox_aria2/internal/config"
	"github.com/italolelis/seedbox_aria2/internal/logctx"
)

// Demagnetizer resolves magnet links into metainfo files by letting the daemon
// fetch only the metadata, ahead of the real submission.
type Demagnetizer struct {
	daemon Daemon
	waiter *Waiter
	cfg    config.DemagnetizeConfig
}

func NewDemagnetizer(daemon Daemon, cfg config.DemagnetizeConfig, waiter *Waiter) *Demagnetizer {
	if waiter == nil {
		waiter = NewWaiter(daemon, DefaultPollInterval)
	}

	return &Demagnetizer{daemon: daemon, waiter: waiter, cfg: cfg}
}

// MagnetInfoHash returns the hex info hash of a magnet link, or fallback when uri
// is not a magnet link or carries no v1 hash.
func MagnetInfoHash(uri, fallback string) (string, bool) {
	if !strings.HasPrefix(uri, "magnet:") {
		return "", false
	}

	if m, err := metainfo.ParseMagnetUri(uri); err == nil {
		return m.InfoHash.HexString(), true
	}

	if fallback != "" {
		return strings.ToLower(fallback), true
	}

	return "", false
}

// Demagnetize returns req with the saved metainfo attached, when the daemon managed
// to fetch it in time. Requests that are not magnet links, or already carry
// metainfo, are returned unchanged. The metadata-only download is always removed.
func (d *Demagnetizer) Demagnetize(ctx context.Context, req FetchRequest) (FetchRequest, error) {
	if len(req.Torrent) > 0 {
		return req, nil
	}

	hash, ok := MagnetInfoHash(req.URL, req.InfoHash)
	if !ok {
		return req, nil
	}

	ctx, logger := logctx.With(ctx, "request_id", req.ID, "info_hash", hash)

	options := map[string]string{
		"bt-metadata-only": "true",
		"bt-save-metadata": "true",
		optDir:             d.cfg.Dir,
	}

	top := 0

	gid, err := d.daemon.Submit(ctx, []string{req.URL}, options, &top)
	if err != nil {
		return req, err
	}

	logger.Debug("resolving magnet link", "gid", gid, "timeout_seconds", d.cfg.Timeout)

	defer func() {
		// The metadata download is discarded even when the caller gave up.
		if err := d.daemon.Remove(context.WithoutCancel(ctx), gid); err != nil {
			logger.Warn("failed to remove metadata download", "gid", gid, "err", err)
		}
	}()

	status, err := d.waiter.Until(ctx, gid, d.cfg.Timeout, nil, func(s *DaemonStatus) bool {
		return s.Status != StateActive
	})
	if err != nil {
		return req, err
	}

	if status == nil || status.Status != StateComplete {
		logger.Warn("magnet link was not resolved before the timeout")

		return req, nil
	}

	file := filepath.Join(d.cfg.Dir, hash+".torrent")

	out := req
	out.InfoHash = hash
	out.URLs = append(append([]string(nil), req.URLs...), "file://"+file)

	data, err := os.ReadFile(file)
	if err != nil {
		// The daemon may run on another host; the file url is all we have.
		logger.Debug("saved metainfo is not readable locally", "path", file, "err", err)

		return out, nil
	}

	mi, err := metainfo.Load(bytes.NewReader(data))
	if err != nil {
		return req, fmt.Errorf("decoding saved metainfo %s: %w", file, err)
	}

	if got := mi.HashInfoBytes().HexString(); got != hash {
		return req, fmt.Errorf("saved metainfo %s has info hash %s", file, got)
	}

	out.Torrent = data

	logger.Info("magnet link resolved", "gid", gid, "bytes", len(data))

	return out, nil
}
