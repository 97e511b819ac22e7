package fetch

import (
	"context"
	"fmt"
	"time"

	"github.com/dustin/go-humanize"
	"golang.org/x/sync/errgroup"

	"github.com/italolelis/seedbox_aria2/internal/config"
	"github.com/italolelis/seedbox_aria2/internal/logctx"
	"github.com/italolelis/seedbox_aria2/internal/telemetry"
)

// Orchestrator hands fetch requests to a daemon and steers each resulting download
// through metadata retrieval, file selection, renaming and unpausing.
type Orchestrator struct {
	daemon      Daemon
	task        config.TaskConfig
	waiter      *Waiter
	maxParallel int
	tel         *telemetry.Telemetry
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithPollInterval changes the interval used while waiting for metadata.
func WithPollInterval(interval time.Duration) Option {
	return func(o *Orchestrator) {
		o.waiter = NewWaiter(o.daemon, interval)
	}
}

// WithTelemetry records fetch metrics and spans on tel.
func WithTelemetry(tel *telemetry.Telemetry) Option {
	return func(o *Orchestrator) {
		o.tel = tel
	}
}

// WithMaxParallel bounds how many requests ProcessBatch works on at once.
func WithMaxParallel(n int) Option {
	return func(o *Orchestrator) {
		if n > 0 {
			o.maxParallel = n
		}
	}
}

func NewOrchestrator(daemon Daemon, task config.TaskConfig, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		daemon:      daemon,
		task:        task,
		waiter:      NewWaiter(daemon, DefaultPollInterval),
		maxParallel: 1,
	}

	for _, opt := range opts {
		opt(o)
	}

	return o
}

// ProcessBatch runs Fetch for every request, at most maxParallel at a time, and
// returns the outcomes in request order. A failing request never stops its siblings.
func (o *Orchestrator) ProcessBatch(ctx context.Context, reqs []FetchRequest) []Outcome {
	outcomes := make([]Outcome, len(reqs))

	var g errgroup.Group
	g.SetLimit(o.maxParallel)

	for i, req := range reqs {
		g.Go(func() error {
			outcomes[i] = o.Fetch(ctx, req)
			return nil
		})
	}

	_ = g.Wait()

	return outcomes
}

// Fetch submits one request and drives it until the download is underway, or left
// paused when that is what the configuration asked for.
func (o *Orchestrator) Fetch(ctx context.Context, req FetchRequest) Outcome {
	ctx, logger := logctx.With(ctx, "request_id", req.ID, "title", req.Title)

	var outcome Outcome

	o.tel.InstrumentFetch(ctx, func(ctx context.Context) (string, string) {
		outcome = o.fetch(ctx, req)
		return string(outcome.Status), string(outcome.Kind())
	})

	switch outcome.Status {
	case StatusAccepted:
		logger.Info("fetch accepted", "gid", outcome.GID)
	case StatusRejected:
		logger.Warn("fetch rejected", "reason", outcome.Reason)
	case StatusFailed:
		logger.Error("fetch failed", "gid", outcome.GID, "kind", outcome.Kind(), "err", outcome.Err.Err)
	}

	return outcome
}

func (o *Orchestrator) fetch(ctx context.Context, req FetchRequest) Outcome {
	if req.URL == "" && len(req.Torrent) == 0 {
		return rejected(req, "request has neither a url nor torrent metainfo")
	}

	opts, err := Resolve(o.task, req)
	if err != nil {
		return Failed(req, "", err)
	}

	gid, err := o.submit(ctx, req, opts)
	if err != nil {
		return Failed(req, "", err)
	}

	ctx, _ = logctx.With(ctx, "gid", gid)

	if opts.OriginallyPaused && !opts.RequiresFileList {
		logctx.LoggerFromContext(ctx).Debug("leaving download paused")

		return accepted(req, gid)
	}

	next, status, err := o.settle(ctx, gid, opts)
	if err != nil {
		return Failed(req, next, err)
	}

	if next != gid {
		gid = next
		ctx, _ = logctx.With(ctx, "download_gid", gid)
	}

	if opts.RequiresFileList {
		if err := o.selectFiles(ctx, gid, status, opts); err != nil {
			return Failed(req, gid, err)
		}
	}

	if err := o.finalize(ctx, gid, status, opts); err != nil {
		return Failed(req, gid, err)
	}

	return accepted(req, gid)
}

func (o *Orchestrator) submit(ctx context.Context, req FetchRequest, opts ResolvedOptions) (string, error) {
	logger := logctx.LoggerFromContext(ctx)

	if len(req.Torrent) > 0 {
		logger.Debug("submitting torrent metainfo", "bytes", len(req.Torrent))

		return o.daemon.SubmitTorrent(ctx, req.Torrent, opts.Options(), nil)
	}

	uris := append([]string{req.URL}, req.URLs...)
	logger.Debug("submitting uris", "uris", len(uris), "dir", opts.RPCOptions[optDir])

	return o.daemon.Submit(ctx, dedupe(uris), opts.Options(), nil)
}

// settle reads the status of a submitted download, waits for its metadata when a
// timeout is configured, and moves on to the follow-up download when the daemon
// created one. Magnet links and .torrent URLs are fetched by a first download that
// is followed by the real, paused, torrent download. It returns the gid every later
// call must use.
func (o *Orchestrator) settle(ctx context.Context, gid string, opts ResolvedOptions) (string, *DaemonStatus, error) {
	logger := logctx.LoggerFromContext(ctx)

	status, err := o.daemon.Status(ctx, gid)
	if err != nil {
		return gid, nil, fmt.Errorf("reading status: %w", err)
	}

	if !metadataReady(status) && opts.MagnetizationTimeout > 0 {
		logger.Debug("waiting for metadata", "timeout_seconds", opts.MagnetizationTimeout)

		start := time.Now()

		status, err = o.waiter.AwaitMetadata(ctx, gid, opts.MagnetizationTimeout, status)
		if err != nil {
			return gid, nil, fmt.Errorf("waiting for metadata: %w", err)
		}

		o.tel.RecordMagnetization(ctx, metadataReady(status), time.Since(start))

		if !metadataReady(status) {
			logger.Warn("metadata did not arrive before the timeout, file list unavailable",
				"timeout_seconds", opts.MagnetizationTimeout)
		}
	}

	next := status.Successor()
	if next == "" {
		return gid, status, nil
	}

	logger.Debug("following download created from metadata", "followed_by", next)

	status, err = o.daemon.Status(ctx, next)
	if err != nil {
		return next, nil, fmt.Errorf("reading status of follow-up download: %w", err)
	}

	return next, status, nil
}

// selectFiles applies the file selection and then the renames, in that order. A
// download whose file list is still unknown is left with the daemon's selection.
func (o *Orchestrator) selectFiles(ctx context.Context, gid string, status *DaemonStatus, opts ResolvedOptions) error {
	logger := logctx.LoggerFromContext(ctx)

	if !status.HasMetadata() {
		logger.Warn("file list unavailable, leaving the daemon's selection untouched")

		return nil
	}

	files, err := o.daemon.ListFiles(ctx, gid)
	if err != nil {
		return fmt.Errorf("listing files: %w", err)
	}

	plan, err := Plan(files, status.TotalLength, opts, opts.ContentName)
	if err != nil {
		return err
	}

	if len(plan.SelectedIndices) == 0 {
		logger.Warn("no files to select, leaving the daemon's selection untouched", "files", len(files))

		return nil
	}

	logger.Debug("applying file selection",
		"selected", len(plan.SelectedIndices),
		"files", len(files),
		"main_file_index", plan.MainFileIndex,
		"total_size", humanize.Bytes(uint64(max(status.TotalLength, 0))),
		"renames", len(plan.Renames))

	if err := o.daemon.SetOption(ctx, gid, optSelectFile, plan.SelectFileValue()); err != nil {
		return fmt.Errorf("selecting files: %w", err)
	}

	for _, op := range plan.Renames {
		if err := o.daemon.SetOption(ctx, gid, optIndexOut, op.IndexOutValue()); err != nil {
			return fmt.Errorf("renaming file %d: %w", op.Index, err)
		}
	}

	return nil
}

// finalize unpauses the download unless the caller wanted it paused. The daemon
// refuses to unpause a download that is not paused, so only paused ones are.
func (o *Orchestrator) finalize(ctx context.Context, gid string, status *DaemonStatus, opts ResolvedOptions) error {
	logger := logctx.LoggerFromContext(ctx)

	if opts.OriginallyPaused {
		logger.Debug("leaving download paused")

		return nil
	}

	switch {
	case status.Status == StatePaused:
		if err := o.daemon.Unpause(ctx, gid); err != nil {
			return fmt.Errorf("unpausing: %w", err)
		}
	case !metadataReady(status):
		logger.Warn("metadata still downloading, the download created from it will start paused",
			"state", status.Status)
	default:
		logger.Debug("download is not paused, nothing to unpause", "state", status.Status)
	}

	return nil
}

func dedupe(uris []string) []string {
	seen := make(map[string]bool, len(uris))
	out := uris[:0]

	for _, u := range uris {
		if u == "" || seen[u] {
			continue
		}

		seen[u] = true
		out = append(out, u)
	}

	return out
}
