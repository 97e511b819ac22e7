package fetch

import (
	"context"
	"time"
)

// DefaultPollInterval is the time between two status polls, and the unit in which
// wait timeouts are expressed.
const DefaultPollInterval = time.Second

// StatusReader is the part of Daemon the Waiter needs.
type StatusReader interface {
	Status(ctx context.Context, gid string) (*DaemonStatus, error)
}

// Waiter polls a download's status at a fixed interval until a condition holds or
// the wait budget is spent.
type Waiter struct {
	daemon   StatusReader
	interval time.Duration
}

// NewWaiter returns a Waiter polling every interval, DefaultPollInterval when interval is zero.
func NewWaiter(daemon StatusReader, interval time.Duration) *Waiter {
	if interval <= 0 {
		interval = DefaultPollInterval
	}

	return &Waiter{daemon: daemon, interval: interval}
}

// AwaitMetadata waits up to timeout intervals for the download's file list to become
// known, or for the download to hand over to a follow-up download (see
// DaemonStatus.Successor). Running out of time is not an error: the last observed
// status is returned and the caller decides what to do with it. last may be nil.
func (w *Waiter) AwaitMetadata(ctx context.Context, gid string, timeout int, last *DaemonStatus) (*DaemonStatus, error) {
	return w.Until(ctx, gid, timeout, last, metadataReady)
}

// Until polls gid at most attempts times, sleeping one interval before each poll,
// and returns as soon as done reports true. It returns early with ctx.Err() when ctx
// is cancelled and with the daemon's error when a poll fails.
func (w *Waiter) Until(
	ctx context.Context,
	gid string,
	attempts int,
	last *DaemonStatus,
	done func(*DaemonStatus) bool,
) (*DaemonStatus, error) {
	if last != nil && done(last) {
		return last, nil
	}

	if attempts <= 0 {
		return last, nil
	}

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for range attempts {
		select {
		case <-ctx.Done():
			return last, ctx.Err()
		case <-ticker.C:
		}

		status, err := w.daemon.Status(ctx, gid)
		if err != nil {
			return last, err
		}

		last = status
		if done(status) {
			return status, nil
		}
	}

	return last, nil
}
