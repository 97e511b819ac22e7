package fetch

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListDownloads(t *testing.T) {
	daemon := newFakeDaemon()
	daemon.active = []DaemonStatus{{GID: "a", Status: StateActive, Name: "Active Movie", TotalLength: 100, Dir: "/dl"}}
	daemon.waiting = []DaemonStatus{{GID: "w", Status: StatePaused, Files: []FileEntry{{Path: "/dl/paused.iso"}}}}
	daemon.stopped = []DaemonStatus{
		{GID: "c", Status: StateComplete, Name: "Done", InfoHash: "abc", TotalLength: 50, CompletedLength: 50},
		{GID: "e", Status: StateError},
	}
	daemon.uris["w"] = []URI{
		{URI: "http://mirror1/paused.iso", Status: "waiting"},
		{URI: "http://mirror2/paused.iso", Status: "used"},
		{URI: "http://mirror3/paused.iso", Status: "used"},
	}

	t.Run("everything", func(t *testing.T) {
		downloads, err := ListDownloads(context.Background(), daemon, false)
		require.NoError(t, err)
		require.Len(t, downloads, 4)

		assert.Equal(t, "Active Movie", downloads[0].Title)
		assert.Equal(t, "/dl", downloads[0].Dir)

		paused := downloads[1]
		assert.Equal(t, "paused.iso", paused.Title, "falls back to the first file name")
		assert.Equal(t, "http://mirror2/paused.iso", paused.URL)
		assert.Equal(t, []string{"http://mirror2/paused.iso", "http://mirror3/paused.iso"}, paused.URIs)

		assert.Equal(t, "e", downloads[3].Title, "falls back to the gid")
	})

	t.Run("only complete", func(t *testing.T) {
		downloads, err := ListDownloads(context.Background(), daemon, true)
		require.NoError(t, err)
		require.Len(t, downloads, 1)

		assert.Equal(t, Download{
			GID:             "c",
			Title:           "Done",
			InfoHash:        "abc",
			Size:            50,
			CompletedLength: 50,
			Status:          StateComplete,
		}, downloads[0])
	})
}

func TestListDownloads_Paginates(t *testing.T) {
	daemon := newFakeDaemon()

	for i := range listPageSize + 5 {
		daemon.stopped = append(daemon.stopped, DaemonStatus{GID: fmt.Sprint(i), Status: StateComplete})
	}

	downloads, err := ListDownloads(context.Background(), daemon, true)
	require.NoError(t, err)
	assert.Len(t, downloads, listPageSize+5)
}

func TestListDownloads_Error(t *testing.T) {
	daemon := newFakeDaemon()
	daemon.fail["active"] = &TransportError{Method: "aria2.tellActive", Err: context.DeadlineExceeded}

	_, err := ListDownloads(context.Background(), daemon, false)
	require.Error(t, err)

	var transport *TransportError
	assert.ErrorAs(t, err, &transport)
}
