// Package aria2 talks to an aria2 daemon over its JSON-RPC interface.
package aria2

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/italolelis/seedbox_aria2/internal/fetch"
	"github.com/italolelis/seedbox_aria2/internal/logctx"
)

const maxErrorBody = 512

// statusKeys limits tellStatus replies to the fields that are decoded.
var statusKeys = []string{
	"gid", "status", "totalLength", "completedLength", "numPieces",
	"dir", "infoHash", "errorMessage", "bittorrent", "files", "followedBy",
}

type Client struct {
	RPCURL     string
	secret     string
	httpClient *http.Client
	nextID     atomic.Uint64
}

// Ensure Client implements the daemon capabilities.
var _ fetch.Client = (*Client)(nil)

// NewClient returns a client for the daemon listening at rpcURL, e.g.
// http://localhost:6800/jsonrpc. secret is the daemon's --rpc-secret, empty when
// none is set. A nil httpClient gets a client with a 10s timeout.
func NewClient(rpcURL, secret string, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}

	return &Client{
		RPCURL:     rpcURL,
		secret:     secret,
		httpClient: httpClient,
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	ID     string          `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

// call invokes method and decodes the result into result, which may be nil.
func (c *Client) call(ctx context.Context, method string, result any, params ...any) error {
	logger := logctx.LoggerFromContext(ctx).With("method", method)

	if c.secret != "" {
		params = append([]any{"token:" + c.secret}, params...)
	}

	if params == nil {
		params = []any{}
	}

	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      strconv.FormatUint(c.nextID.Add(1), 10),
		Method:  method,
		Params:  params,
	})
	if err != nil {
		return fmt.Errorf("encoding %s request: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.RPCURL, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating %s request: %w", method, err)
	}

	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		logger.Debug("daemon unreachable", "err", err)

		return &fetch.TransportError{Method: method, Err: err}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &fetch.TransportError{Method: method, Err: fmt.Errorf("reading response: %w", err)}
	}

	var rpcResp rpcResponse

	decodeErr := json.Unmarshal(data, &rpcResp)

	// aria2 answers faults with a non-200 status and an error object; the error
	// object is the more useful of the two.
	if decodeErr == nil && rpcResp.Error != nil {
		logger.Debug("daemon fault", "code", rpcResp.Error.Code, "message", rpcResp.Error.Message)

		return &fetch.DaemonFault{Method: method, Code: rpcResp.Error.Code, Message: rpcResp.Error.Message}
	}

	if resp.StatusCode != http.StatusOK {
		logger.Debug("non-200 response", "status", resp.StatusCode)

		return &fetch.ProtocolFault{Method: method, StatusCode: resp.StatusCode, Message: truncate(data)}
	}

	if decodeErr != nil {
		return &fetch.ProtocolFault{Method: method, Message: "undecodable reply", Err: decodeErr}
	}

	if result == nil {
		return nil
	}

	if err := json.Unmarshal(rpcResp.Result, result); err != nil {
		return &fetch.ProtocolFault{Method: method, Message: "unexpected result shape", Err: err}
	}

	return nil
}

func truncate(b []byte) string {
	if len(b) > maxErrorBody {
		return string(b[:maxErrorBody]) + "..."
	}

	return string(b)
}

// Version is the reply of aria2.getVersion.
type Version struct {
	Version         string   `json:"version"`
	EnabledFeatures []string `json:"enabledFeatures"`
}

// Version reports the daemon version. It doubles as a connectivity check.
func (c *Client) Version(ctx context.Context) (*Version, error) {
	var v Version
	if err := c.call(ctx, "aria2.getVersion", &v); err != nil {
		return nil, err
	}

	return &v, nil
}

func withPosition(params []any, position *int) []any {
	if position != nil {
		params = append(params, *position)
	}

	return params
}

// Submit calls aria2.addUri.
func (c *Client) Submit(ctx context.Context, uris []string, options map[string]string, position *int) (string, error) {
	var gid string
	if err := c.call(ctx, "aria2.addUri", &gid, withPosition([]any{uris, nonNil(options)}, position)...); err != nil {
		return "", err
	}

	return gid, nil
}

// SubmitTorrent calls aria2.addTorrent with the base64 encoded metainfo.
func (c *Client) SubmitTorrent(ctx context.Context, torrent []byte, options map[string]string, position *int) (string, error) {
	if len(torrent) == 0 {
		return "", errors.New("empty torrent metainfo")
	}

	encoded := base64.StdEncoding.EncodeToString(torrent)

	var gid string
	if err := c.call(ctx, "aria2.addTorrent", &gid, withPosition([]any{encoded, []string{}, nonNil(options)}, position)...); err != nil {
		return "", err
	}

	return gid, nil
}

// Status calls aria2.tellStatus.
func (c *Client) Status(ctx context.Context, gid string) (*fetch.DaemonStatus, error) {
	var st statusWire
	if err := c.call(ctx, "aria2.tellStatus", &st, gid, statusKeys); err != nil {
		return nil, err
	}

	status := st.toStatus()

	return &status, nil
}

// ListFiles calls aria2.getFiles.
func (c *Client) ListFiles(ctx context.Context, gid string) ([]fetch.FileEntry, error) {
	var files []fileWire
	if err := c.call(ctx, "aria2.getFiles", &files, gid); err != nil {
		return nil, err
	}

	return toFiles(files), nil
}

// SetOption calls aria2.changeOption with a single option.
func (c *Client) SetOption(ctx context.Context, gid, key, value string) error {
	return c.call(ctx, "aria2.changeOption", nil, gid, map[string]string{key: value})
}

// Unpause calls aria2.unpause.
func (c *Client) Unpause(ctx context.Context, gid string) error {
	return c.call(ctx, "aria2.unpause", nil, gid)
}

// Remove calls aria2.remove.
func (c *Client) Remove(ctx context.Context, gid string) error {
	return c.call(ctx, "aria2.remove", nil, gid)
}

// Active calls aria2.tellActive.
func (c *Client) Active(ctx context.Context) ([]fetch.DaemonStatus, error) {
	return c.statuses(ctx, "aria2.tellActive", statusKeys)
}

// Waiting calls aria2.tellWaiting.
func (c *Client) Waiting(ctx context.Context, offset, num int) ([]fetch.DaemonStatus, error) {
	return c.statuses(ctx, "aria2.tellWaiting", offset, num, statusKeys)
}

// Stopped calls aria2.tellStopped.
func (c *Client) Stopped(ctx context.Context, offset, num int) ([]fetch.DaemonStatus, error) {
	return c.statuses(ctx, "aria2.tellStopped", offset, num, statusKeys)
}

func (c *Client) statuses(ctx context.Context, method string, params ...any) ([]fetch.DaemonStatus, error) {
	var wire []statusWire
	if err := c.call(ctx, method, &wire, params...); err != nil {
		return nil, err
	}

	out := make([]fetch.DaemonStatus, len(wire))
	for i, st := range wire {
		out[i] = st.toStatus()
	}

	return out, nil
}

// URIs calls aria2.getUris.
func (c *Client) URIs(ctx context.Context, gid string) ([]fetch.URI, error) {
	var uris []uriWire
	if err := c.call(ctx, "aria2.getUris", &uris, gid); err != nil {
		return nil, err
	}

	return toURIs(uris), nil
}

func nonNil(options map[string]string) map[string]string {
	if options == nil {
		return map[string]string{}
	}

	return options
}
