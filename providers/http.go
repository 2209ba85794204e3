package providers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"newsindex/types"
)

// StatusError carries the HTTP status of a failed provider call.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.StatusCode, e.Body)
}

// Classify maps an HTTP status to the fetch error taxonomy:
// 408, 429 and 5xx are transient, the rest of 4xx fatal.
func Classify(op string, status int, body string) error {
	err := &StatusError{StatusCode: status, Body: body}
	switch {
	case status == http.StatusTooManyRequests,
		status == http.StatusRequestTimeout,
		status >= 500:
		return types.NewTransient(op, err)
	default:
		return types.NewFatal(op, err)
	}
}

// ClassifyTransport maps a transport failure. Context cancellation is passed
// through untouched; timeouts, resets and refused connections are transient.
func ClassifyTransport(op string, err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	return types.NewTransient(op, err)
}

// getJSON performs a GET and decodes a JSON body into out, classifying any
// failure into the fetch error taxonomy.
func getJSON(ctx context.Context, client *http.Client, op, endpoint string, header http.Header, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return types.NewFatal(op, err)
	}
	for k, vs := range header {
		for _, v := range vs {
			req.Header.Add(k, v)
		}
	}
	req.Header.Set("Accept", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		return ClassifyTransport(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return Classify(op, resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		return types.NewFatal(op, fmt.Errorf("decode response: %w", err))
	}
	return nil
}
