package ledgerclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"time"
)

// Command is a claimed ledger command as the agent sees it.
type Command struct {
	ID      string          `json:"id"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	Status  string          `json:"status"`
}

// AppPayload is the payload of INSTALL_APP, UPDATE_APP and UNINSTALL_APP.
type AppPayload struct {
	PackageName string          `json:"package_name"`
	VersionCode int64           `json:"version_code"`
	VersionName string          `json:"version_name,omitempty"`
	URL         string          `json:"url"`
	Digest      string          `json:"digest,omitempty"`
	Metadata    json.RawMessage `json:"metadata,omitempty"`
}

// MaxMessageLen is the longest result message, in bytes, the ledger stores.
const MaxMessageLen = 1024

type Result struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
	Code    string `json:"code,omitempty"`
}

type InstalledPackage struct {
	PackageName string `json:"package_name"`
	VersionCode int64  `json:"version_code"`
}

type UpdateCandidate struct {
	PackageName string `json:"package_name"`
	VersionCode int64  `json:"version_code"`
	VersionName string `json:"version_name,omitempty"`
	URL         string `json:"url"`
	Digest      string `json:"digest,omitempty"`
}

// StatusError is a non-2xx answer from the ledger.
type StatusError struct {
	Code int
	Body string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("ledger returned %d: %s", e.Code, e.Body)
}

// Client talks to the ledger with the device's bearer token.
type Client struct {
	base  string
	token atomic.Value
	http  *http.Client
}

func New(baseURL, token string) *Client {
	c := &Client{base: strings.TrimRight(baseURL, "/"), http: &http.Client{Timeout: 30 * time.Second}}
	c.token.Store(token)
	return c
}

// SetToken swaps the device token used by later calls.
func (c *Client) SetToken(t string) { c.token.Store(t) }

func (c *Client) do(ctx context.Context, method, path string, in, out any) error {
	var body io.Reader
	if in != nil {
		raw, err := json.Marshal(in)
		if err != nil {
			return err
		}
		body = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.base+path, body)
	if err != nil {
		return err
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if tok, _ := c.token.Load().(string); tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &StatusError{Code: resp.StatusCode, Body: strings.TrimSpace(string(msg))}
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Pull claims up to max pending commands for this device.
func (c *Client) Pull(ctx context.Context, max int) ([]Command, error) {
	var out []Command
	if err := c.do(ctx, http.MethodPost, "/api/commands/pull", map[string]int{"max": max}, &out); err != nil {
		return nil, fmt.Errorf("pull commands: %w", err)
	}
	return out, nil
}

// Report sends a command result. A 404 means the ledger no longer knows the command.
func (c *Client) Report(ctx context.Context, id string, res Result) error {
	if err := c.do(ctx, http.MethodPost, "/api/commands/"+id+"/result", res, nil); err != nil {
		return fmt.Errorf("report %s: %w", id, err)
	}
	return nil
}

func (c *Client) CheckUpdates(ctx context.Context, installed []InstalledPackage) ([]UpdateCandidate, error) {
	if installed == nil {
		installed = []InstalledPackage{}
	}
	var out []UpdateCandidate
	req := map[string]any{"packages": installed}
	if err := c.do(ctx, http.MethodPost, "/api/updates/check", req, &out); err != nil {
		return nil, fmt.Errorf("check updates: %w", err)
	}
	return out, nil
}

// Ping reports whether the ledger is reachable.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}
