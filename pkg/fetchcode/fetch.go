package fetchcode

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// Fetch requests url on the server and returns the response body. Failures are
// returned as readable text rather than errors, so the message lands in the
// page where the fragment would have been. A nil client means http.DefaultClient.
//
// Fetch applies no timeout of its own; bound it through ctx or the client.
func Fetch(ctx context.Context, client *http.Client, url, method, jsonBody string) string {
	if client == nil {
		client = http.DefaultClient
	}
	if method == "" {
		method = "GET"
	}
	if jsonBody == "" {
		jsonBody = "{}"
	}

	var req *http.Request
	var err error
	switch strings.ToLower(method) {
	case "get":
		req, err = http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	case "post":
		req, err = http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(jsonBody))
		if err == nil {
			req.Header.Set("Content-Type", "application/json")
		}
	default:
		return fmt.Sprintf("Invalid method: %s", method)
	}
	if err != nil {
		return fmt.Sprintf("Request error: %v", err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Sprintf("Request error: %v", err)
	}
	defer func(body io.ReadCloser) {
		_ = body.Close()
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return fmt.Sprintf("Request failed with status: %s", resp.Status)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "Failed to read response body"
	}
	return string(body)
}
