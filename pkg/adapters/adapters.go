// Package adapters contains the four external-service integrations behind
// the deploy.Adapter contract: Cloudflare (DNS), UniFi (port forwarding),
// Nginx Proxy Manager (reverse proxy), and Pterodactyl (hosting panel).
//
// Each adapter hides one service's authentication handshake and payload
// shape, and maps remote responses into typed outcomes at the boundary.
// Raw provider payloads never leave this package.
package adapters

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/treestandk/wingman/pkg/deploy"
)

const defaultTimeout = 15 * time.Second

// doJSON performs one JSON round-trip: marshal body (when non-nil), send,
// and decode the response into out (when non-nil and the status is 2xx).
// The response body is returned raw for callers that inspect error
// payloads; non-2xx statuses are not treated as errors here.
func doJSON(ctx context.Context, client *http.Client, method, url string, headers map[string]string, body, out any) (int, []byte, error) {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to encode request body: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, reader)
	if err != nil {
		return 0, nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return resp.StatusCode, nil, err
	}

	if out != nil && resp.StatusCode >= 200 && resp.StatusCode < 300 && len(raw) > 0 {
		if err := json.Unmarshal(raw, out); err != nil {
			return resp.StatusCode, raw, fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return resp.StatusCode, raw, nil
}

// jsonRequest builds a request with a JSON-encoded body.
func jsonRequest(ctx context.Context, method, url string, body any) (*http.Request, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, bytes.NewReader(payload))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	return req, nil
}

// transportError classifies a failed round-trip (no HTTP response) as
// unreachable, or cancelled when the caller's context ended.
func transportError(service, op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return deploy.NewCancelledError("request cancelled", err).WithService(service).WithOp(op)
	}
	return deploy.NewUnreachableError("request failed", err).WithService(service).WithOp(op)
}

// statusError maps a non-2xx HTTP status into a classified error.
func statusError(service, op string, status int, detail string) *deploy.DeployError {
	msg := fmt.Sprintf("unexpected status %d", status)
	if detail != "" {
		msg = fmt.Sprintf("unexpected status %d: %s", status, detail)
	}
	var err *deploy.DeployError
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		err = deploy.NewAuthError(msg, nil)
	case status == http.StatusNotFound:
		err = deploy.NewNotFoundError(msg, nil)
	case status == http.StatusConflict:
		err = deploy.NewConflictError(msg, nil)
	default:
		err = deploy.NewRemoteRejectedError(msg, nil)
	}
	return err.WithService(service).WithOp(op).WithStatus(status)
}

// trim shortens a raw error payload for inclusion in an error message.
func trim(raw []byte) string {
	const max = 200
	s := string(raw)
	if len(s) > max {
		return s[:max] + "..."
	}
	return s
}
