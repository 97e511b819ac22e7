package fetch

import (
	"errors"

	"github.com/italolelis/seedbox_aria2/internal/render"
)

// FetchRequest identifies one item to hand to the daemon. It is owned by the caller
// and never modified by the orchestrator.
type FetchRequest struct {
	ID        string            `json:"id"`
	Title     string            `json:"title"`
	URL       string            `json:"url"`
	URLs      []string          `json:"urls,omitempty"`      // alternate locations of the same content
	InfoHash  string            `json:"info_hash,omitempty"` // known ahead of submission, e.g. from an indexer
	Torrent   []byte            `json:"-"`                   // raw metainfo, submitted instead of URL when present
	Fields    map[string]string `json:"fields,omitempty"`    // free-form values available to templates
	Overrides Overrides         `json:"overrides"`
}

// Overrides are per-request values that win over the task configuration. A nil
// field means "not set, use the task value".
type Overrides struct {
	ContentFilename      *string           `json:"content_filename,omitempty"`
	Path                 *string           `json:"path,omitempty"`
	MainFileOnly         *bool             `json:"main_file_only,omitempty"`
	MainFileRatio        *float64          `json:"main_file_ratio,omitempty"`
	MagnetizationTimeout *int              `json:"magnetization_timeout,omitempty"`
	IncludeSubs          *bool             `json:"include_subs,omitempty"`
	IncludeFiles         []string          `json:"include_files,omitempty"`
	SkipFiles            []string          `json:"skip_files,omitempty"`
	RenameLikeFiles      *bool             `json:"rename_like_files,omitempty"`
	AriaConfig           map[string]string `json:"aria_config,omitempty"`
}

// RenderContext exposes the request to templates. The canonical keys title, url
// and id shadow free-form fields with the same name.
func (r FetchRequest) RenderContext() render.Context {
	ctx := make(render.Context, len(r.Fields)+4)
	for k, v := range r.Fields {
		ctx[k] = v
	}

	ctx["id"] = r.ID
	ctx["title"] = r.Title
	ctx["url"] = r.URL
	ctx["info_hash"] = r.InfoHash

	return ctx
}

// OutcomeStatus is the terminal state reported for a fetch request.
type OutcomeStatus string

const (
	StatusAccepted OutcomeStatus = "accepted"
	StatusRejected OutcomeStatus = "rejected"
	StatusFailed   OutcomeStatus = "failed"
)

// Outcome is what the orchestrator reports back for one fetch request.
type Outcome struct {
	RequestID string
	Title     string
	Status    OutcomeStatus
	GID       string // set when the daemon accepted the submission
	Reason    string // rejection reason or failure message
	Err       *Error // set for StatusFailed
}

func accepted(req FetchRequest, gid string) Outcome {
	return Outcome{RequestID: req.ID, Title: req.Title, Status: StatusAccepted, GID: gid}
}

func rejected(req FetchRequest, reason string) Outcome {
	return Outcome{RequestID: req.ID, Title: req.Title, Status: StatusRejected, Reason: reason}
}

func failed(req FetchRequest, err *Error) Outcome {
	return Outcome{
		RequestID: req.ID,
		Title:     req.Title,
		Status:    StatusFailed,
		GID:       err.GID,
		Reason:    err.Err.Error(),
		Err:       err,
	}
}

// Failed builds the outcome of a request that could not be handed to the daemon,
// classifying err. gid may be empty.
func Failed(req FetchRequest, gid string, err error) Outcome {
	return failed(req, wrapError(req, gid, err))
}

func wrapError(req FetchRequest, gid string, err error) *Error {
	var fe *Error
	if errors.As(err, &fe) {
		return fe
	}

	return &Error{Kind: Classify(err), Title: req.Title, GID: gid, Err: err}
}

// Kind returns the failure kind, empty unless the outcome failed.
func (o Outcome) Kind() ErrorKind {
	if o.Err == nil {
		return ""
	}

	return o.Err.Kind
}
