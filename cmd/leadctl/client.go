package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strings"

	httpserver "github.com/fyrsmithlabs/leadflow/internal/http"
)

// maxResponseBody caps how much of a server response is read.
const maxResponseBody = 1 << 20

// apiError is a non-2xx answer from the server.
type apiError struct {
	StatusCode int
	Message    string
}

func (e *apiError) Error() string {
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Message)
}

type client struct {
	baseURL string
	http    *http.Client
}

func newClient(opts *options) *client {
	return &client{
		baseURL: strings.TrimRight(opts.serverURL, "/"),
		http:    &http.Client{Timeout: opts.timeout},
	}
}

// get decodes the JSON body of GET path into out. Statuses listed in accept
// are decoded like a 200.
func (c *client) get(ctx context.Context, path string, out any, accept ...int) error {
	return c.do(ctx, http.MethodGet, path, out, accept)
}

func (c *client) post(ctx context.Context, path string, out any) error {
	return c.do(ctx, http.MethodPost, path, out, nil)
}

func (c *client) do(ctx context.Context, method, path string, out any, accept []int) error {
	url := c.baseURL + path
	req, err := http.NewRequestWithContext(ctx, method, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		if !slices.Contains(accept, resp.StatusCode) {
			return errorFromBody(resp.StatusCode, body)
		}
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func errorFromBody(code int, body []byte) error {
	var e httpserver.ErrorResponse
	if err := json.Unmarshal(body, &e); err == nil && e.Error != "" {
		return &apiError{StatusCode: code, Message: e.Error}
	}
	msg := strings.TrimSpace(string(body))
	if msg == "" {
		msg = http.StatusText(code)
	}
	return &apiError{StatusCode: code, Message: msg}
}
