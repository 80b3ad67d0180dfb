package tui

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

// Client wraps HTTP calls to the Weft API
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates a new API client with timeout
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: baseURL,
		httpClient: &http.Client{
			Timeout: DefaultClientTimeout,
		},
	}
}

// ListLocks fetches the current locks
func (c *Client) ListLocks() ([]LockItem, error) {
	resp, err := c.httpClient.Get(c.baseURL + "/locks")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error: %s", string(body))
	}

	var locks []struct {
		Scope     string `json:"scope"`
		ScopeKind string `json:"scope_kind"`
		Mode      string `json:"mode"`
		OwnerID   string `json:"owner_context_id"`
		Recursive bool   `json:"recursive"`
		Inherited bool   `json:"inherited"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&locks); err != nil {
		return nil, err
	}

	items := make([]LockItem, len(locks))
	for i, l := range locks {
		items[i] = LockItem{
			Scope:     l.Scope,
			ScopeKind: l.ScopeKind,
			Mode:      l.Mode,
			OwnerID:   l.OwnerID,
			Recursive: l.Recursive,
			Inherited: l.Inherited,
		}
	}
	return items, nil
}

// ListEvents fetches recent action events
func (c *Client) ListEvents(limit int) ([]EventItem, error) {
	url := c.baseURL + "/events"
	if limit > 0 {
		url += fmt.Sprintf("?limit=%d", limit)
	}

	resp, err := c.httpClient.Get(url)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("API error: %s", string(body))
	}

	var events []struct {
		ContextID string    `json:"context_id"`
		Kind      string    `json:"kind"`
		Summary   string    `json:"summary"`
		Status    string    `json:"status"`
		Detail    string    `json:"detail"`
		Timestamp time.Time `json:"timestamp"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&events); err != nil {
		return nil, err
	}

	items := make([]EventItem, len(events))
	for i, ev := range events {
		items[i] = EventItem{
			ContextID: ev.ContextID,
			Kind:      ev.Kind,
			Summary:   ev.Summary,
			Status:    ev.Status,
			Detail:    ev.Detail,
			Timestamp: ev.Timestamp.Local().Format("15:04:05"),
		}
	}
	return items, nil
}

// AcquireLock creates a lock on a path. contextID == "" makes it global.
func (c *Client) AcquireLock(scope, scopeKind, mode, contextID string, recursive bool) error {
	body := map[string]interface{}{
		"scope":      scope,
		"scope_kind": scopeKind,
		"mode":       mode,
		"context_id": contextID,
		"recursive":  recursive,
	}
	_, err := c.post("/locks", body)
	return err
}

// ReleaseLock removes a lock on a path
func (c *Client) ReleaseLock(scope, contextID string) error {
	body := map[string]string{
		"scope":      scope,
		"context_id": contextID,
	}
	_, err := c.post("/locks/release", body)
	return err
}

func (c *Client) post(path string, data interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Post(c.baseURL+path, "application/json", bytes.NewReader(jsonData))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("API error: %s", string(body))
	}

	return body, nil
}

// CheckHealth checks if the daemon is reachable
func (c *Client) CheckHealth() bool {
	resp, err := c.httpClient.Get(c.baseURL + "/health")
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
