package fetch

import (
	"path"
	"strconv"
	"strings"

	"github.com/italolelis/seedbox_aria2/internal/match"
)

var subtitleExtensions = map[string]bool{
	"srt": true,
	"sub": true,
	"idx": true,
	"ssa": true,
	"ass": true,
	"vob": true,
}

// RenameOp moves the file at Index to NewPath, relative to the download directory.
type RenameOp struct {
	Index   int
	NewPath string
}

// SelectionPlan is the outcome of filtering a download's file list.
type SelectionPlan struct {
	SelectedIndices []int // ascending, in file list order
	Renames         []RenameOp
	MainFileIndex   int // -1 when no file passes the ratio
}

// SelectFileValue formats the selection for the select-file RPC option.
func (p SelectionPlan) SelectFileValue() string {
	parts := make([]string, len(p.SelectedIndices))
	for i, idx := range p.SelectedIndices {
		parts[i] = strconv.Itoa(idx)
	}

	return strings.Join(parts, ",")
}

// IndexOutValue formats op for the index-out RPC option.
func (op RenameOp) IndexOutValue() string {
	return strconv.Itoa(op.Index) + "=" + op.NewPath
}

// Plan decides which of files to download and how to rename them. Only files the
// daemon already reports as selected are candidates. contentName is the rendered
// content filename; renames are planned only when it is non-empty.
//
// Inclusion is evaluated per file with later rules winning: subtitles (when
// IncludeSubs), IncludeFiles patterns, the main file rule, then SkipFiles which
// always excludes.
func Plan(files []FileEntry, totalLength int64, opts ResolvedOptions, contentName string) (SelectionPlan, error) {
	plan := SelectionPlan{MainFileIndex: mainFileIndex(files, totalLength, opts.MainFileRatio)}

	candidates := 0

	for _, f := range files {
		if !f.Selected {
			continue
		}

		candidates++

		if !included(f, plan.MainFileIndex, opts) {
			continue
		}

		plan.SelectedIndices = append(plan.SelectedIndices, f.Index)

		if contentName != "" && (f.Index == plan.MainFileIndex || opts.RenameLikeFiles) {
			plan.Renames = append(plan.Renames, RenameOp{
				Index:   f.Index,
				NewPath: contentName + path.Ext(f.Path),
			})
		}
	}

	if candidates > 0 && len(plan.SelectedIndices) == 0 {
		return SelectionPlan{MainFileIndex: plan.MainFileIndex}, &EmptySelectionError{Candidates: candidates}
	}

	return plan, nil
}

// mainFileIndex returns the index of the first selected file whose length exceeds
// ratio of the total. List order decides ties, not size.
func mainFileIndex(files []FileEntry, totalLength int64, ratio float64) int {
	threshold := ratio * float64(totalLength)

	for _, f := range files {
		if f.Selected && float64(f.Length) > threshold {
			return f.Index
		}
	}

	return -1
}

func included(f FileEntry, mainIndex int, opts ResolvedOptions) bool {
	ok := false

	if opts.IncludeSubs && isSubtitle(f.Path) {
		ok = true
	}

	if matchesFile(f.Path, opts.IncludeFiles) {
		ok = true
	}

	if !opts.MainFileOnly || f.Index == mainIndex {
		ok = true
	}

	if matchesFile(f.Path, opts.SkipFiles) {
		ok = false
	}

	return ok
}

// matchesFile tries patterns against the full path and then the base name, since
// the daemon reports absolute paths.
func matchesFile(p string, patterns []string) bool {
	return match.Any(p, patterns) || match.Any(path.Base(p), patterns)
}

func isSubtitle(p string) bool {
	ext := strings.TrimPrefix(path.Ext(p), ".")
	return subtitleExtensions[strings.ToLower(ext)]
}
