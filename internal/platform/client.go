package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Client is a shared HTTP client for corebase peer instances. Requests are
// authenticated with the project id and API key headers.
type Client struct {
	baseURL    string
	projectID  string
	apiKey     string
	httpClient *http.Client
}

// NewPeerClient creates a Client for a peer endpoint such as
// "http://corebase/v1".
func NewPeerClient(endpoint, projectID, apiKey string) *Client {
	return &Client{
		baseURL:   endpoint,
		projectID: projectID,
		apiKey:    apiKey,
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

func (c *Client) newRequest(ctx context.Context, method, path string, body io.Reader) (*http.Request, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Corebase-Project", c.projectID)
	req.Header.Set("X-Corebase-Key", c.apiKey)
	return req, nil
}

// pagedResponse is the standard corebase list envelope.
type pagedResponse struct {
	Total  int               `json:"total"`
	Cursor string            `json:"cursor"`
	Data   []json.RawMessage `json:"data"`
}

// Get performs an authenticated GET request and returns the response body.
func (c *Client) Get(ctx context.Context, path string, params url.Values) ([]byte, error) {
	u := path
	if len(params) > 0 {
		u += "?" + params.Encode()
	}
	req, err := c.newRequest(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("GET %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return body, fmt.Errorf("GET %s: HTTP %d: %s", path, resp.StatusCode, truncate(string(body), 200))
	}
	return body, nil
}

// GetJSON performs an authenticated GET and unmarshals the response into dest.
func (c *Client) GetJSON(ctx context.Context, path string, params url.Values, dest any) error {
	body, err := c.Get(ctx, path, params)
	if err != nil {
		return err
	}
	return json.Unmarshal(body, dest)
}

// GetAll fetches every page of a cursor-paginated list endpoint.
func (c *Client) GetAll(ctx context.Context, path string) ([]map[string]any, error) {
	var all []map[string]any
	cursor := ""

	for {
		params := url.Values{"limit": {"100"}}
		if cursor != "" {
			params.Set("cursor", cursor)
		}
		var page pagedResponse
		if err := c.GetJSON(ctx, path, params, &page); err != nil {
			return nil, err
		}
		for _, raw := range page.Data {
			var item map[string]any
			if err := json.Unmarshal(raw, &item); err != nil {
				return nil, fmt.Errorf("parsing resource: %w", err)
			}
			all = append(all, item)
		}
		if page.Cursor == "" || len(page.Data) == 0 {
			return all, nil
		}
		cursor = page.Cursor
	}
}

// Post performs an authenticated POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, payload any) ([]byte, int, error) {
	var bodyReader io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("marshaling body: %w", err)
		}
		bodyReader = bytes.NewReader(data)
	}

	req, err := c.newRequest(ctx, http.MethodPost, path, bodyReader)
	if err != nil {
		return nil, 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("POST %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return body, resp.StatusCode, fmt.Errorf("POST %s: HTTP %d: %s", path, resp.StatusCode, truncate(string(body), 200))
	}
	return body, resp.StatusCode, nil
}

// Put performs an authenticated PUT request with a JSON body.
func (c *Client) Put(ctx context.Context, path string, payload any) ([]byte, int, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, 0, fmt.Errorf("marshaling body: %w", err)
	}

	req, err := c.newRequest(ctx, http.MethodPut, path, bytes.NewReader(data))
	if err != nil {
		return nil, 0, err
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("PUT %s: %w", path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("reading response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return body, resp.StatusCode, fmt.Errorf("PUT %s: HTTP %d: %s", path, resp.StatusCode, truncate(string(body), 200))
	}
	return body, resp.StatusCode, nil
}

// Ping checks connectivity and auth by hitting the health endpoint.
func (c *Client) Ping(ctx context.Context) error {
	_, err := c.Get(ctx, "/health", nil)
	return err
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
