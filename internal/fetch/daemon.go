package fetch

import "context"

// Daemon is the capability the orchestrator needs from a download daemon. Every
// call is a self-contained RPC; implementations must be safe for concurrent use.
type Daemon interface {
	// Submit adds a download from uris (all pointing at the same content) and
	// returns its gid. A non-nil position places it at that queue position.
	Submit(ctx context.Context, uris []string, options map[string]string, position *int) (string, error)
	// SubmitTorrent adds a download from raw metainfo.
	SubmitTorrent(ctx context.Context, torrent []byte, options map[string]string, position *int) (string, error)
	Status(ctx context.Context, gid string) (*DaemonStatus, error)
	ListFiles(ctx context.Context, gid string) ([]FileEntry, error)
	SetOption(ctx context.Context, gid, key, value string) error
	Unpause(ctx context.Context, gid string) error
	Remove(ctx context.Context, gid string) error
}

// Catalog enumerates the downloads a daemon knows about.
type Catalog interface {
	Active(ctx context.Context) ([]DaemonStatus, error)
	Waiting(ctx context.Context, offset, num int) ([]DaemonStatus, error)
	Stopped(ctx context.Context, offset, num int) ([]DaemonStatus, error)
	URIs(ctx context.Context, gid string) ([]URI, error)
}

// Download states reported by the daemon.
const (
	StateActive   = "active"
	StateWaiting  = "waiting"
	StatePaused   = "paused"
	StateError    = "error"
	StateComplete = "complete"
	StateRemoved  = "removed"
)

// DaemonStatus is a snapshot of one download.
type DaemonStatus struct {
	GID             string
	Status          string
	Name            string // torrent name, empty until metadata is known
	InfoHash        string
	Dir             string
	TotalLength     int64
	CompletedLength int64
	NumPieces       int64
	ErrorMessage    string
	Files           []FileEntry
	// FollowedBy lists the downloads created when this one finished, e.g. the
	// torrent download started from a magnet link's metadata.
	FollowedBy []string
}

// HasMetadata reports whether the file list of the download is known.
func (s *DaemonStatus) HasMetadata() bool {
	return s != nil && s.NumPieces != 0
}

// Successor returns the first download created by this one, empty when none was.
func (s *DaemonStatus) Successor() string {
	if s == nil || len(s.FollowedBy) == 0 {
		return ""
	}

	return s.FollowedBy[0]
}

// metadataReady reports whether waiting for metadata can stop: the file list is
// known, or the metadata download has handed over to a follow-up download.
func metadataReady(s *DaemonStatus) bool {
	return s.HasMetadata() || s.Successor() != ""
}

// FileEntry is one file inside a download.
type FileEntry struct {
	Index    int
	Path     string
	Length   int64
	Selected bool
	URIs     []URI
}

// URI is one source of a download together with its use state ("used" or "waiting").
type URI struct {
	URI    string
	Status string
}

// Client is a daemon that can also enumerate its downloads.
type Client interface {
	Daemon
	Catalog
}
