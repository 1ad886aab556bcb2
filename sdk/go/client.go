package avcbsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal AVCB portal HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound
}

// AdvanceResult mirrors the advance endpoint response.
type AdvanceResult struct {
	Advanced bool   `json:"advanced"`
	From     string `json:"from"`
	To       string `json:"to"`
	Reason   string `json:"reason,omitempty"`
	Pending  int    `json:"pending"`
	Rejected int    `json:"rejected"`
}

// Session is returned by login and signup.
type Session struct {
	Token     string `json:"token"`
	UserID    string `json:"user_id"`
	ExpiresAt string `json:"expires_at,omitempty"`
}

// GetRecord fetches one record from the generic table API.
func (c *Client) GetRecord(ctx context.Context, table, id string) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodGet, tablePath(table, id), nil, &out)
	return out, err
}

// ScanRecords lists a table, optionally filtered by one equality field
// (user_id or process_id on the server side).
func (c *Client) ScanRecords(ctx context.Context, table, field, value string) ([]map[string]any, error) {
	endpoint := tablePath(table, "")
	if field != "" {
		endpoint = fmt.Sprintf("%s?%s=%s", endpoint, url.QueryEscape(field), url.QueryEscape(value))
	}
	var out []map[string]any
	err := c.do(ctx, http.MethodGet, endpoint, nil, &out)
	return out, err
}

// CreateRecord creates a record and returns it with server-assigned fields.
func (c *Client) CreateRecord(ctx context.Context, table string, rec map[string]any) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodPost, tablePath(table, ""), rec, &out)
	return out, err
}

// UpdateRecord merges patch into an existing record.
func (c *Client) UpdateRecord(ctx context.Context, table, id string, patch map[string]any) (map[string]any, error) {
	var out map[string]any
	err := c.do(ctx, http.MethodPut, tablePath(table, id), patch, &out)
	return out, err
}

// DeleteRecord removes a record by id.
func (c *Client) DeleteRecord(ctx context.Context, table, id string) error {
	return c.do(ctx, http.MethodDelete, tablePath(table, id), nil, nil)
}

// Login exchanges credentials for a bearer token and keeps it on the client.
func (c *Client) Login(ctx context.Context, email, password string) (Session, error) {
	var out Session
	err := c.do(ctx, http.MethodPost, "v1/auth/login", map[string]any{"email": email, "password": password}, &out)
	if err == nil {
		c.BearerToken = out.Token
	}
	return out, err
}

// AdvanceStage asks the server to move a process to its next stage.
func (c *Client) AdvanceStage(ctx context.Context, processID, observation string) (AdvanceResult, error) {
	var out AdvanceResult
	endpoint := fmt.Sprintf("v1/processes/%s/advance", url.PathEscape(processID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"observation": observation}, &out)
	return out, err
}

// ApproveDocument approves a document.
func (c *Client) ApproveDocument(ctx context.Context, documentID, observation string) (map[string]any, error) {
	var out map[string]any
	endpoint := fmt.Sprintf("v1/documents/%s/approve", url.PathEscape(documentID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"observation": observation}, &out)
	return out, err
}

// RejectDocument rejects a document with a reason.
func (c *Client) RejectDocument(ctx context.Context, documentID, reason string) (map[string]any, error) {
	var out map[string]any
	endpoint := fmt.Sprintf("v1/documents/%s/reject", url.PathEscape(documentID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"reason": reason}, &out)
	return out, err
}

// ResubmitDocument sends a corrected file with a justification.
func (c *Client) ResubmitDocument(ctx context.Context, documentID, fileURL, justification string) (map[string]any, error) {
	var out map[string]any
	endpoint := fmt.Sprintf("v1/documents/%s/resubmit", url.PathEscape(documentID))
	err := c.do(ctx, http.MethodPost, endpoint, map[string]any{"file_url": fileURL, "justification": justification}, &out)
	return out, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func tablePath(table, id string) string {
	p := "api/" + url.PathEscape(table)
	if id != "" {
		p += "/" + url.PathEscape(id)
	}
	return p
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
