package fetch

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

type daemonCall struct {
	Method string
	GID    string
	Args   []string
}

// fakeDaemon is an in-memory Daemon and Catalog. Fail hooks return an error for a
// method, keyed by method name; statuses are served in order, the last one repeating.
type fakeDaemon struct {
	mu sync.Mutex

	calls    []daemonCall
	nextGID  int
	statuses map[string][]*DaemonStatus
	files    map[string][]FileEntry
	fail     map[string]error
	failURL  map[string]error // Submit fails for requests whose first uri is the key

	active, waiting, stopped []DaemonStatus
	uris                     map[string][]URI
}

func newFakeDaemon() *fakeDaemon {
	return &fakeDaemon{
		statuses: map[string][]*DaemonStatus{},
		files:    map[string][]FileEntry{},
		fail:     map[string]error{},
		failURL:  map[string]error{},
		uris:     map[string][]URI{},
	}
}

// preset arranges for the next submitted download to report statuses and files.
func (f *fakeDaemon) preset(gid string, files []FileEntry, statuses ...*DaemonStatus) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.files[gid] = files
	f.statuses[gid] = statuses
}

func (f *fakeDaemon) record(method, gid string, args ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.calls = append(f.calls, daemonCall{Method: method, GID: gid, Args: args})

	return f.fail[method]
}

func (f *fakeDaemon) callsFor(gid string) []daemonCall {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []daemonCall

	for _, c := range f.calls {
		if c.GID == gid {
			out = append(out, c)
		}
	}

	return out
}

func (f *fakeDaemon) methods(gid string) []string {
	var out []string
	for _, c := range f.callsFor(gid) {
		out = append(out, c.Method)
	}

	return out
}

func formatOptions(options map[string]string) string {
	var parts []string
	for k, v := range options {
		parts = append(parts, k+"="+v)
	}

	return strings.Join(parts, ";")
}

func (f *fakeDaemon) Submit(_ context.Context, uris []string, options map[string]string, position *int) (string, error) {
	f.mu.Lock()
	if err := f.failURL[uris[0]]; err != nil {
		f.mu.Unlock()
		return "", err
	}
	f.nextGID++
	gid := fmt.Sprintf("gid%d", f.nextGID)
	f.mu.Unlock()

	pos := ""
	if position != nil {
		pos = fmt.Sprint(*position)
	}

	if err := f.record("submit", gid, strings.Join(uris, ","), formatOptions(options), pos); err != nil {
		return "", err
	}

	return gid, nil
}

func (f *fakeDaemon) SubmitTorrent(_ context.Context, torrent []byte, options map[string]string, _ *int) (string, error) {
	f.mu.Lock()
	f.nextGID++
	gid := fmt.Sprintf("gid%d", f.nextGID)
	f.mu.Unlock()

	if err := f.record("submit_torrent", gid, string(torrent), formatOptions(options)); err != nil {
		return "", err
	}

	return gid, nil
}

func (f *fakeDaemon) Status(_ context.Context, gid string) (*DaemonStatus, error) {
	if err := f.record("status", gid); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	queue := f.statuses[gid]
	if len(queue) == 0 {
		return &DaemonStatus{GID: gid, Status: StatePaused}, nil
	}

	st := queue[0]
	if len(queue) > 1 {
		f.statuses[gid] = queue[1:]
	}

	return st, nil
}

func (f *fakeDaemon) ListFiles(_ context.Context, gid string) ([]FileEntry, error) {
	if err := f.record("list_files", gid); err != nil {
		return nil, err
	}

	f.mu.Lock()
	defer f.mu.Unlock()

	return f.files[gid], nil
}

func (f *fakeDaemon) SetOption(_ context.Context, gid, key, value string) error {
	return f.record("set_option", gid, key, value)
}

func (f *fakeDaemon) Unpause(_ context.Context, gid string) error {
	return f.record("unpause", gid)
}

func (f *fakeDaemon) Remove(_ context.Context, gid string) error {
	return f.record("remove", gid)
}

func (f *fakeDaemon) Active(context.Context) ([]DaemonStatus, error) {
	return f.active, f.fail["active"]
}

func (f *fakeDaemon) Waiting(_ context.Context, offset, num int) ([]DaemonStatus, error) {
	return page(f.waiting, offset, num), f.fail["waiting"]
}

func (f *fakeDaemon) Stopped(_ context.Context, offset, num int) ([]DaemonStatus, error) {
	return page(f.stopped, offset, num), f.fail["stopped"]
}

func (f *fakeDaemon) URIs(_ context.Context, gid string) ([]URI, error) {
	return f.uris[gid], f.fail["uris"]
}

func page(all []DaemonStatus, offset, num int) []DaemonStatus {
	if offset >= len(all) {
		return nil
	}

	return all[offset:min(offset+num, len(all))]
}
