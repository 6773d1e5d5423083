package remote

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	gferrors "github.com/kfarrell/groupfill/pkg/groupfill/errors"
)

// Endpoints used by the HTTP client, relative to the base URL.
const (
	updateEndpoint = "works.update"
	readEndpoint   = "works.get"
	pingEndpoint   = "users.self"
)

// HTTPClient talks to the ticketing API over HTTP with bearer-token auth.
// It implements Client, Reader and Pinger.
//
// The client performs no retries of its own: retry policy, rate limiting
// and circuit breaking belong to the engine, and a second retry layer
// here would corrupt its attempt accounting.
type HTTPClient struct {
	baseURL string
	token   string
	http    *http.Client
}

// NewHTTPClient creates a client for the API at baseURL.
// If httpClient is nil, http.DefaultClient is used; per-attempt timeouts
// come from the request context.
func NewHTTPClient(baseURL, token string, httpClient *http.Client) *HTTPClient {
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	return &HTTPClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    httpClient,
	}
}

// updateRequest is the works.update payload.
type updateRequest struct {
	ID           string   `json:"id"`
	CreatorGroup groupRef `json:"creator_group"`
}

type groupRef struct {
	ID string `json:"id"`
}

// workEnvelope is the relevant slice of works.* responses.
type workEnvelope struct {
	Work struct {
		ID           string   `json:"id"`
		CreatorGroup groupRef `json:"creator_group"`
	} `json:"work"`
}

// UpdateField implements Client.
func (c *HTTPClient) UpdateField(ctx context.Context, id, value string) (string, error) {
	body, err := c.post(ctx, updateEndpoint, updateRequest{
		ID:           id,
		CreatorGroup: groupRef{ID: value},
	})
	if err != nil {
		return "", err
	}

	var env workEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", fmt.Errorf("decode update response: %w", err)
	}
	// Some deployments return an empty envelope on update. Report nothing
	// rather than echoing the intended value: an unconfirmed write must be
	// re-read, not assumed.
	return env.Work.CreatorGroup.ID, nil
}

// ReadField implements Reader.
func (c *HTTPClient) ReadField(ctx context.Context, id string) (string, error) {
	body, err := c.post(ctx, readEndpoint, map[string]string{"id": id})
	if err != nil {
		return "", err
	}

	var env workEnvelope
	if err := json.Unmarshal(body, &env); err != nil {
		return "", fmt.Errorf("decode read response: %w", err)
	}
	return env.Work.CreatorGroup.ID, nil
}

// Ping implements Pinger.
func (c *HTTPClient) Ping(ctx context.Context) error {
	_, err := c.post(ctx, pingEndpoint, struct{}{})
	return err
}

// post sends a JSON POST and returns the response body, mapping non-2xx
// statuses to typed HTTPErrors for classification.
func (c *HTTPClient) post(ctx context.Context, endpoint string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode %s request: %w", endpoint, err)
	}

	url := c.baseURL + "/" + endpoint
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("build %s request: %w", endpoint, err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		// Transport errors (DNS, refused connections, timeouts) are
		// transient; context errors unwrap for classification.
		return nil, gferrors.Transient(err, endpoint)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, gferrors.Transient(err, endpoint)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &gferrors.HTTPError{
			StatusCode: resp.StatusCode,
			Message:    truncate(string(body), 256),
			Endpoint:   endpoint,
		}
	}
	return body, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
