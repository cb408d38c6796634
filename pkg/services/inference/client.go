// Package inference relays the conversation to the remote inference endpoint.
package inference

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/liut/parley/pkg/models/convo"
)

const (
	DefaultTimeout = time.Second * 10

	maxBodySize = 4 << 20
)

var (
	ErrNoEndpoint  = errors.New("api endpoint not set")
	ErrUnreachable = errors.New("api request failed")
)

// StatusError is a non-2xx reply
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%d %s", e.Status, http.StatusText(e.Status))
}

// Endpoint is supplied per session, never persisted
type Endpoint struct {
	URL   string
	Token string
}

type inputData struct {
	InputString convo.Turns `json:"input_string"`
}

type request struct {
	InputData inputData `json:"input_data"`
}

// Client posts the whole history and parses the reply
type Client struct {
	hc *http.Client
}

// NewClient returns a client whose calls are capped by timeout
func NewClient(timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Client{hc: &http.Client{
		Timeout:   timeout,
		Transport: &http.Transport{Proxy: http.ProxyFromEnvironment},
	}}
}

// Send posts turns to ep and returns the parsed reply.
// Errors: those of Post, or ErrInvalidReply (wrapped).
func (c *Client) Send(ctx context.Context, ep Endpoint, turns convo.Turns) (*Reply, error) {
	body, err := c.Post(ctx, ep, turns)
	if err != nil {
		return nil, err
	}
	return ParseReply(body)
}

// Post sends turns to ep and returns the body of a 2xx reply.
// Errors: ErrNoEndpoint, ErrUnreachable (wrapped) or *StatusError.
func (c *Client) Post(ctx context.Context, ep Endpoint, turns convo.Turns) ([]byte, error) {
	if len(ep.URL) == 0 {
		return nil, ErrNoEndpoint
	}
	body, err := json.Marshal(request{InputData: inputData{InputString: turns}})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ep.URL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnreachable, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+ep.Token)

	resp, err := c.hc.Do(req)
	if err != nil {
		logger().Infow("api call fail", "url", ep.URL, "err", err)
		return nil, fmt.Errorf("%w: %s", ErrUnreachable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %s", ErrUnreachable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		logger().Infow("api status fail", "url", ep.URL, "status", resp.StatusCode, "body", len(respBody))
		return nil, &StatusError{Status: resp.StatusCode, Body: string(respBody)}
	}

	logger().Debugw("api call ok", "url", ep.URL, "turns", len(turns), "body", len(respBody))
	return respBody, nil
}
