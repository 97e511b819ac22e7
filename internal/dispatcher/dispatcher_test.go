package dispatcher

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/seedbox_aria2/internal/fetch"
	"github.com/italolelis/seedbox_aria2/internal/storage"
)

type fakeQueue struct {
	mu       sync.Mutex
	pending  []storage.FetchRecord
	recorded []fetch.Outcome
	claimErr error
	claimed  string
}

func (f *fakeQueue) Enqueue(context.Context, fetch.FetchRequest) error { return nil }

func (f *fakeQueue) ClaimPending(_ context.Context, instanceID string, limit int) ([]storage.FetchRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.claimErr != nil {
		return nil, f.claimErr
	}

	f.claimed = instanceID

	n := min(limit, len(f.pending))
	batch := f.pending[:n]
	f.pending = f.pending[n:]

	return batch, nil
}

func (f *fakeQueue) RecordOutcome(_ context.Context, o fetch.Outcome) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.recorded = append(f.recorded, o)

	return nil
}

func (f *fakeQueue) RequeueStale(context.Context, time.Time) (int64, error) { return 0, nil }

func (f *fakeQueue) PurgeFinished(context.Context, time.Time) (int64, error) { return 0, nil }

func (f *fakeQueue) outcomes() []fetch.Outcome {
	f.mu.Lock()
	defer f.mu.Unlock()

	return append([]fetch.Outcome(nil), f.recorded...)
}

// echoProcessor accepts every request with a URL and fails the rest.
type echoProcessor struct {
	seen []fetch.FetchRequest
}

func (p *echoProcessor) ProcessBatch(_ context.Context, reqs []fetch.FetchRequest) []fetch.Outcome {
	p.seen = append(p.seen, reqs...)

	out := make([]fetch.Outcome, len(reqs))
	for i, r := range reqs {
		if r.URL == "" {
			out[i] = fetch.Failed(r, "", &fetch.ConfigConflictError{Reason: "no url"})
			continue
		}

		out[i] = fetch.Outcome{RequestID: r.ID, Title: r.Title, Status: fetch.StatusAccepted, GID: "gid-" + r.ID}
	}

	return out
}

type fakeResolver struct {
	fail map[string]bool
}

func (r fakeResolver) Demagnetize(_ context.Context, req fetch.FetchRequest) (fetch.FetchRequest, error) {
	if r.fail[req.ID] {
		return req, errors.New("metadata download failed")
	}

	req.Torrent = []byte("d4:infod4:name1:xee")

	return req, nil
}

func record(id, url string) storage.FetchRecord {
	return storage.FetchRecord{
		Request: fetch.FetchRequest{ID: id, Title: "title " + id, URL: url},
		Status:  storage.StatusProcessing,
	}
}

func TestDispatch(t *testing.T) {
	queue := &fakeQueue{pending: []storage.FetchRecord{
		record("1", "magnet:?xt=urn:btih:aaaa"),
		record("2", ""),
		record("3", "http://example.com/b.torrent"),
	}}
	proc := &echoProcessor{}

	d := NewDispatcher(queue, proc, fakeResolver{fail: map[string]bool{"3": true}}, "node-a", 10, time.Minute)

	outcomes, err := d.Dispatch(context.Background())
	require.NoError(t, err)
	require.Len(t, outcomes, 3)

	assert.Equal(t, "node-a", queue.claimed)
	assert.Len(t, queue.outcomes(), 3)

	require.Len(t, proc.seen, 2, "a request that failed to resolve never reaches the processor")
	assert.NotEmpty(t, proc.seen[0].Torrent)

	byID := map[string]fetch.Outcome{}
	for _, o := range outcomes {
		byID[o.RequestID] = o
	}

	assert.Equal(t, fetch.StatusAccepted, byID["1"].Status)
	assert.Equal(t, fetch.StatusFailed, byID["2"].Status)
	assert.Equal(t, fetch.StatusFailed, byID["3"].Status)
	assert.Contains(t, byID["3"].Reason, "metadata download failed")

	assert.Len(t, d.OnFetchAccepted, 1)
	assert.Len(t, d.OnFetchFailed, 2)
}

func TestDispatch_Empty(t *testing.T) {
	d := NewDispatcher(&fakeQueue{}, &echoProcessor{}, nil, "node-a", 5, time.Minute)

	outcomes, err := d.Dispatch(context.Background())
	require.NoError(t, err)
	assert.Empty(t, outcomes)
}

func TestDispatch_ClaimError(t *testing.T) {
	d := NewDispatcher(&fakeQueue{claimErr: errors.New("database is locked")}, &echoProcessor{}, nil, "node-a", 5, time.Minute)

	_, err := d.Dispatch(context.Background())
	assert.Error(t, err)
}

func TestDispatch_BatchSize(t *testing.T) {
	queue := &fakeQueue{pending: []storage.FetchRecord{
		record("1", "http://a"), record("2", "http://b"), record("3", "http://c"),
	}}

	d := NewDispatcher(queue, &echoProcessor{}, nil, "node-a", 2, time.Minute)

	outcomes, err := d.Dispatch(context.Background())
	require.NoError(t, err)
	assert.Len(t, outcomes, 2)
	assert.Len(t, queue.pending, 1)
}

func TestStart_DrainsQueue(t *testing.T) {
	queue := &fakeQueue{pending: []storage.FetchRecord{record("1", "http://a")}}
	d := NewDispatcher(queue, &echoProcessor{}, nil, "node-a", 5, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	d.Start(ctx)

	select {
	case o := <-d.OnFetchAccepted:
		assert.Equal(t, "1", o.RequestID)
	case <-time.After(2 * time.Second):
		t.Fatal("dispatcher never published the accepted fetch")
	}
}
