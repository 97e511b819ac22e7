package storage

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"os"
	"strconv"
	"time"

	"github.com/italolelis/seedbox_aria2/internal/fetch"
)

// Queue states of a fetch record. Accepted, rejected and failed are terminal.
const (
	StatusPending    = "pending"
	StatusProcessing = "processing"
	StatusAccepted   = string(fetch.StatusAccepted)
	StatusRejected   = string(fetch.StatusRejected)
	StatusFailed     = string(fetch.StatusFailed)
)

var (
	ErrNotFound  = errors.New("fetch request not found")
	ErrDuplicate = errors.New("fetch request already queued")
)

// FetchRecord is a queued fetch request together with its processing state.
type FetchRecord struct {
	Request   fetch.FetchRequest `json:"request"`
	Status    string             `json:"status"`
	GID       string             `json:"gid,omitempty"`
	ErrorKind string             `json:"error_kind,omitempty"`
	Message   string             `json:"message,omitempty"`
	LockedBy  string             `json:"locked_by,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	UpdatedAt time.Time          `json:"updated_at"`
}

// ListFilter narrows ListFetches. Zero values mean "any".
type ListFilter struct {
	Status string
	Limit  int
}

type FetchReadRepository interface {
	GetFetch(ctx context.Context, id string) (*FetchRecord, error)
	ListFetches(ctx context.Context, filter ListFilter) ([]FetchRecord, error)
}

type FetchWriteRepository interface {
	// Enqueue stores req as pending. It fails with ErrDuplicate when req.ID is taken.
	Enqueue(ctx context.Context, req fetch.FetchRequest) error
	// ClaimPending atomically moves up to limit pending records to processing,
	// locked by instanceID, oldest first.
	ClaimPending(ctx context.Context, instanceID string, limit int) ([]FetchRecord, error)
	// RecordOutcome stores the terminal state of a claimed record and releases it.
	RecordOutcome(ctx context.Context, outcome fetch.Outcome) error
	// RequeueStale returns records stuck in processing since before to pending.
	RequeueStale(ctx context.Context, before time.Time) (int64, error)
	// PurgeFinished deletes terminal records last updated before before.
	PurgeFinished(ctx context.Context, before time.Time) (int64, error)
}

type FetchRepository interface {
	FetchReadRepository
	FetchWriteRepository
}

// GenerateInstanceID returns a unique string for this process (hostname+pid+random)
func GenerateInstanceID() string {
	host, _ := os.Hostname()
	pid := os.Getpid()
	rnd := make([]byte, 4)
	_, _ = rand.Read(rnd)

	return host + "-" + strconv.Itoa(pid) + "-" + hex.EncodeToString(rnd)
}
