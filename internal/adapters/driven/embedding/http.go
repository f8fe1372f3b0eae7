package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

// Do sends req and returns the body of a 200 response.
func Do(ctx context.Context, client *http.Client, op string, req *http.Request) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, TransportError(ctx, op, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, TransportError(ctx, op, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, StatusError(op, resp, body)
	}
	return body, nil
}

// PostJSON posts payload to url and decodes the 200 response into out.
func PostJSON(ctx context.Context, client *http.Client, op, url string, header http.Header, payload, out any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("%s: marshal request: %w", op, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	for k, vs := range header {
		req.Header[k] = vs
	}
	req.Header.Set("Content-Type", "application/json")

	body, err := Do(ctx, client, op, req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s: decode response: %w", op, err)
	}
	return nil
}

// Get issues a GET to url and discards a 200 response body.
func Get(ctx context.Context, client *http.Client, op, url string, header http.Header) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return fmt.Errorf("%s: create request: %w", op, err)
	}
	for k, vs := range header {
		req.Header[k] = vs
	}
	_, err = Do(ctx, client, op, req)
	return err
}

// Float32s narrows a decoded JSON vector.
func Float32s(v []float64) []float32 {
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(x)
	}
	return out
}
