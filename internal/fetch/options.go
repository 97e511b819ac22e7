package fetch

import (
	"maps"
	"strconv"

	"github.com/italolelis/seedbox_aria2/internal/config"
	"github.com/italolelis/seedbox_aria2/internal/match"
	"github.com/italolelis/seedbox_aria2/internal/render"
)

// RPC option keys the orchestrator reads or forces.
const (
	optPause                 = "pause"
	optPauseMetadata         = "pause-metadata"
	optRemoveUnselectedFiles = "bt-remove-unselected-file"
	optDir                   = "dir"
	optDryRun                = "dry-run"
	optSelectFile            = "select-file"
	optIndexOut              = "index-out"
)

// ResolvedOptions is the merged, rendered view of a task configuration and one
// request's overrides. It is computed once per request and not modified afterwards.
type ResolvedOptions struct {
	RPCOptions           map[string]string
	MainFileOnly         bool
	MainFileRatio        float64
	IncludeSubs          bool
	IncludeFiles         []string
	SkipFiles            []string
	RenameLikeFiles      bool
	ContentFilename      string // template, empty when renaming is off
	ContentName          string // ContentFilename rendered for the request
	MagnetizationTimeout int    // seconds
	RequiresFileList     bool
	OriginallyPaused     bool
}

// Options returns a copy of the RPC options, safe for the caller to modify.
func (o ResolvedOptions) Options() map[string]string {
	return maps.Clone(o.RPCOptions)
}

// Resolve merges task with the overrides carried by req. Every RPC option value,
// the download path and the content filename are rendered against the request.
// It fails with a ConfigConflictError or a render.Error.
func Resolve(task config.TaskConfig, req FetchRequest) (ResolvedOptions, error) {
	ov := req.Overrides

	opts := ResolvedOptions{
		MainFileOnly:         pick(ov.MainFileOnly, task.MainFileOnly),
		MainFileRatio:        pick(ov.MainFileRatio, task.MainFileRatio),
		IncludeSubs:          pick(ov.IncludeSubs, task.IncludeSubs),
		IncludeFiles:         pickList(ov.IncludeFiles, task.IncludeFiles),
		SkipFiles:            pickList(ov.SkipFiles, task.SkipFiles),
		RenameLikeFiles:      pick(ov.RenameLikeFiles, task.RenameLikeFiles),
		ContentFilename:      pick(ov.ContentFilename, task.ContentFilename),
		MagnetizationTimeout: max(pick(ov.MagnetizationTimeout, task.MagnetizationTimeout), 0),
	}

	if opts.MainFileRatio <= 0 || opts.MainFileRatio > 1 {
		return ResolvedOptions{}, &ConfigConflictError{Reason: "main_file_ratio must be in (0, 1]"}
	}

	for _, patterns := range [][]string{opts.IncludeFiles, opts.SkipFiles} {
		if err := match.Validate(patterns); err != nil {
			return ResolvedOptions{}, &ConfigConflictError{Reason: err.Error()}
		}
	}

	opts.RequiresFileList = opts.ContentFilename != "" ||
		opts.MainFileOnly ||
		len(opts.SkipFiles) > 0 ||
		len(opts.IncludeFiles) > 0 ||
		opts.IncludeSubs

	// aria_config overrides replace the task map as a whole.
	source := map[string]string(task.AriaConfig)
	if ov.AriaConfig != nil {
		source = ov.AriaConfig
	}

	rctx := req.RenderContext()
	rpc := make(map[string]string, len(source)+4)

	for key, value := range source {
		rendered, err := render.Render(value, rctx)
		if err != nil {
			return ResolvedOptions{}, err
		}

		rpc[key] = rendered
	}

	if path := pick(ov.Path, task.Path); path != "" {
		rendered, err := render.Render(path, rctx)
		if err != nil {
			return ResolvedOptions{}, err
		}

		rpc[optDir] = render.ScrubPath(render.ExpandUser(rendered))
	}

	if opts.ContentFilename != "" {
		name, err := render.Render(opts.ContentFilename, rctx)
		if err != nil {
			return ResolvedOptions{}, err
		}

		opts.ContentName = render.ScrubPath(name)
	}

	if opts.RequiresFileList && enabled(rpc[optPause]) {
		return ResolvedOptions{}, &ConfigConflictError{
			Reason: "pause stops the download before its file list is known; use pause-metadata instead",
		}
	}

	if task.DryRun {
		rpc[optDryRun] = "true"
	}

	opts.OriginallyPaused = enabled(rpc[optPauseMetadata]) || enabled(rpc[optPause])

	// Always start paused after metadata so files can be selected before any data
	// is transferred. OriginallyPaused decides whether to unpause at the end.
	rpc[optPauseMetadata] = "true"

	if opts.RequiresFileList {
		rpc[optRemoveUnselectedFiles] = "true"
	}

	opts.RPCOptions = rpc

	return opts, nil
}

func pick[T any](override *T, fallback T) T {
	if override != nil {
		return *override
	}

	return fallback
}

func pickList(override, fallback []string) []string {
	if override != nil {
		return append([]string(nil), override...)
	}

	return append([]string(nil), fallback...)
}

// enabled reports whether a daemon boolean option is on. YAML and templates may
// produce "True" or "1" as well as "true".
func enabled(value string) bool {
	on, err := strconv.ParseBool(value)
	return err == nil && on
}
