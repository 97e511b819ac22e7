package fetch

import (
	"context"

	"github.com/italolelis/seedbox_aria2/internal/telemetry"
)

// InstrumentedClient wraps a Client with telemetry.
type InstrumentedClient struct {
	client     Client
	telemetry  *telemetry.Telemetry
	clientType string
}

var _ Client = (*InstrumentedClient)(nil)

// NewInstrumentedClient creates a new instrumented daemon client.
func NewInstrumentedClient(client Client, tel *telemetry.Telemetry, clientType string) *InstrumentedClient {
	return &InstrumentedClient{
		client:     client,
		telemetry:  tel,
		clientType: clientType,
	}
}

func instrument[T any](ctx context.Context, c *InstrumentedClient, operation string, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T

	err := c.telemetry.InstrumentClientOperation(ctx, c.clientType, operation, func(ctx context.Context) error {
		var err error
		result, err = fn(ctx)

		return err
	})

	return result, err
}

// Submit adds a download from uris with telemetry.
func (c *InstrumentedClient) Submit(ctx context.Context, uris []string, options map[string]string, position *int) (string, error) {
	return instrument(ctx, c, "add_uri", func(ctx context.Context) (string, error) {
		return c.client.Submit(ctx, uris, options, position)
	})
}

// SubmitTorrent adds a download from metainfo with telemetry.
func (c *InstrumentedClient) SubmitTorrent(ctx context.Context, torrent []byte, options map[string]string, position *int) (string, error) {
	return instrument(ctx, c, "add_torrent", func(ctx context.Context) (string, error) {
		return c.client.SubmitTorrent(ctx, torrent, options, position)
	})
}

// Status reads a download's status with telemetry.
func (c *InstrumentedClient) Status(ctx context.Context, gid string) (*DaemonStatus, error) {
	return instrument(ctx, c, "tell_status", func(ctx context.Context) (*DaemonStatus, error) {
		return c.client.Status(ctx, gid)
	})
}

// ListFiles lists a download's files with telemetry.
func (c *InstrumentedClient) ListFiles(ctx context.Context, gid string) ([]FileEntry, error) {
	return instrument(ctx, c, "get_files", func(ctx context.Context) ([]FileEntry, error) {
		return c.client.ListFiles(ctx, gid)
	})
}

// SetOption changes one download option with telemetry.
func (c *InstrumentedClient) SetOption(ctx context.Context, gid, key, value string) error {
	return c.telemetry.InstrumentClientOperation(ctx, c.clientType, "change_option", func(ctx context.Context) error {
		return c.client.SetOption(ctx, gid, key, value)
	})
}

// Unpause resumes a download with telemetry.
func (c *InstrumentedClient) Unpause(ctx context.Context, gid string) error {
	return c.telemetry.InstrumentClientOperation(ctx, c.clientType, "unpause", func(ctx context.Context) error {
		return c.client.Unpause(ctx, gid)
	})
}

// Remove removes a download with telemetry.
func (c *InstrumentedClient) Remove(ctx context.Context, gid string) error {
	return c.telemetry.InstrumentClientOperation(ctx, c.clientType, "remove", func(ctx context.Context) error {
		return c.client.Remove(ctx, gid)
	})
}

// Active lists active downloads with telemetry.
func (c *InstrumentedClient) Active(ctx context.Context) ([]DaemonStatus, error) {
	return instrument(ctx, c, "tell_active", c.client.Active)
}

// Waiting lists queued downloads with telemetry.
func (c *InstrumentedClient) Waiting(ctx context.Context, offset, num int) ([]DaemonStatus, error) {
	return instrument(ctx, c, "tell_waiting", func(ctx context.Context) ([]DaemonStatus, error) {
		return c.client.Waiting(ctx, offset, num)
	})
}

// Stopped lists stopped downloads with telemetry.
func (c *InstrumentedClient) Stopped(ctx context.Context, offset, num int) ([]DaemonStatus, error) {
	return instrument(ctx, c, "tell_stopped", func(ctx context.Context) ([]DaemonStatus, error) {
		return c.client.Stopped(ctx, offset, num)
	})
}

// URIs lists a download's sources with telemetry.
func (c *InstrumentedClient) URIs(ctx context.Context, gid string) ([]URI, error) {
	return instrument(ctx, c, "get_uris", func(ctx context.Context) ([]URI, error) {
		return c.client.URIs(ctx, gid)
	})
}
