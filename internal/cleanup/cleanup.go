package cleanup

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"runtime/debug"
	"time"

	"github.com/italolelis/seedbox_aria2/internal/logctx"
	"github.com/italolelis/seedbox_aria2/internal/storage"
)

// metainfoName matches the files the daemon saves when resolving magnet links.
var metainfoName = regexp.MustCompile(`^[0-9a-f]{40}\.torrent$`)

// Janitor keeps the fetch queue and the metadata directory from growing forever.
type Janitor struct {
	repo         storage.FetchWriteRepository
	keepFinished time.Duration
	staleAfter   time.Duration
	metainfoDir  string // empty disables metainfo cleanup
	now          func() time.Time
}

func NewJanitor(repo storage.FetchWriteRepository, keepFinished, staleAfter time.Duration, metainfoDir string) *Janitor {
	return &Janitor{
		repo:         repo,
		keepFinished: keepFinished,
		staleAfter:   staleAfter,
		metainfoDir:  metainfoDir,
		now:          time.Now,
	}
}

// Run sweeps once per interval until ctx is cancelled.
func (j *Janitor) Run(ctx context.Context, interval time.Duration) {
	logger := logctx.LoggerFromContext(ctx)

	defer func() {
		if r := recover(); r != nil {
			logger.Error("janitor panic", "panic", r, "stack", string(debug.Stack()))
		}
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info("janitor shutdown", "reason", "context_cancelled")
			return
		case <-ticker.C:
			if err := j.Sweep(ctx); err != nil {
				logger.Error("cleanup sweep failed", "err", err)
			}
		}
	}
}

// Sweep purges finished fetch records, requeues records whose processing instance
// went away, and deletes expired metainfo files.
func (j *Janitor) Sweep(ctx context.Context) error {
	logger := logctx.LoggerFromContext(ctx)
	now := j.now()

	purged, err := j.repo.PurgeFinished(ctx, now.Add(-j.keepFinished))
	if err != nil {
		return err
	}

	requeued, err := j.repo.RequeueStale(ctx, now.Add(-j.staleAfter))
	if err != nil {
		return err
	}

	if purged > 0 || requeued > 0 {
		logger.Info("fetch queue cleaned", "purged", purged, "requeued", requeued)
	}

	if j.metainfoDir == "" {
		return nil
	}

	return DeleteExpiredMetainfo(ctx, j.metainfoDir, j.keepFinished, now)
}

// DeleteExpiredMetainfo deletes saved magnet metadata in dir older than keep.
// Other files in dir are never touched.
func DeleteExpiredMetainfo(ctx context.Context, dir string, keep time.Duration, now time.Time) error {
	logger := logctx.LoggerFromContext(ctx)

	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}

		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || !metainfoName.MatchString(entry.Name()) {
			continue
		}

		filePath := filepath.Join(dir, entry.Name())

		info, err := entry.Info()
		if err != nil {
			if os.IsNotExist(err) {
				continue // already deleted
			}

			return err
		}

		if now.Sub(info.ModTime()) <= keep {
			continue
		}

		if err := os.Remove(filePath); err != nil && !os.IsNotExist(err) {
			logger.Error("Failed to delete expired metainfo", "file", filePath, "err", err)

			return err
		}

		logger.Info("Deleted expired metainfo", "file", filePath)
	}

	return nil
}
