package cleanup

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/italolelis/seedbox_aria2/internal/fetch"
	"github.com/italolelis/seedbox_aria2/internal/storage"
)

type fakeRepo struct {
	purgedBefore, requeuedBefore time.Time
	err                          error
}

func (f *fakeRepo) Enqueue(context.Context, fetch.FetchRequest) error { return nil }

func (f *fakeRepo) ClaimPending(context.Context, string, int) ([]storage.FetchRecord, error) {
	return nil, nil
}

func (f *fakeRepo) RecordOutcome(context.Context, fetch.Outcome) error { return nil }

func (f *fakeRepo) RequeueStale(_ context.Context, before time.Time) (int64, error) {
	f.requeuedBefore = before
	return 1, f.err
}

func (f *fakeRepo) PurgeFinished(_ context.Context, before time.Time) (int64, error) {
	f.purgedBefore = before
	return 2, f.err
}

const hash = "c9e15763f722f23e98a29decdfae341b98d53056"

func TestSweep(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	dir := t.TempDir()

	old := filepath.Join(dir, hash+".torrent")
	fresh := filepath.Join(dir, "0000000000000000000000000000000000000000.torrent")
	unrelated := filepath.Join(dir, "notes.torrent")

	for _, p := range []string{old, fresh, unrelated} {
		require.NoError(t, os.WriteFile(p, []byte("x"), 0o600))
	}

	require.NoError(t, os.Chtimes(old, now.Add(-48*time.Hour), now.Add(-48*time.Hour)))
	require.NoError(t, os.Chtimes(unrelated, now.Add(-48*time.Hour), now.Add(-48*time.Hour)))
	require.NoError(t, os.Chtimes(fresh, now.Add(-time.Hour), now.Add(-time.Hour)))

	repo := &fakeRepo{}
	j := NewJanitor(repo, 24*time.Hour, 30*time.Minute, dir)
	j.now = func() time.Time { return now }

	require.NoError(t, j.Sweep(context.Background()))

	assert.Equal(t, now.Add(-24*time.Hour), repo.purgedBefore)
	assert.Equal(t, now.Add(-30*time.Minute), repo.requeuedBefore)

	assert.NoFileExists(t, old)
	assert.FileExists(t, fresh)
	assert.FileExists(t, unrelated, "only metadata named after an info hash is removed")
}

func TestSweep_RepositoryError(t *testing.T) {
	repo := &fakeRepo{err: errors.New("database is locked")}
	j := NewJanitor(repo, time.Hour, time.Hour, "")

	assert.Error(t, j.Sweep(context.Background()))
}

func TestDeleteExpiredMetainfo_MissingDir(t *testing.T) {
	err := DeleteExpiredMetainfo(context.Background(), filepath.Join(t.TempDir(), "absent"), time.Hour, time.Now())
	assert.NoError(t, err)
}

func TestRun_StopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan struct{})

	go func() {
		NewJanitor(&fakeRepo{}, time.Hour, time.Hour, "").Run(ctx, time.Millisecond)
		close(done)
	}()

	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("janitor did not stop")
	}
}
