package queue

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// HTTPInitiator hands a promoted call job to the dial-out service.
type HTTPInitiator struct {
	URL    string
	Client *http.Client
}

func NewHTTPInitiator(url string, timeout time.Duration) *HTTPInitiator {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPInitiator{URL: url, Client: &http.Client{Timeout: timeout}}
}

type initiateRequest struct {
	CallJobID string `json:"call_job_id"`
}

func (i *HTTPInitiator) Initiate(ctx context.Context, callJobID string) error {
	if strings.TrimSpace(i.URL) == "" {
		return errors.New("queue: initiator url not configured")
	}
	if callJobID == "" {
		return errors.New("queue: call job id required")
	}

	body, err := json.Marshal(initiateRequest{CallJobID: callJobID})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, i.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	client := i.Client
	if client == nil {
		client = http.DefaultClient
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("queue: initiator returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}
	return nil
}

// InitiatorFunc adapts a function to Initiator.
type InitiatorFunc func(ctx context.Context, callJobID string) error

func (f InitiatorFunc) Initiate(ctx context.Context, callJobID string) error {
	return f(ctx, callJobID)
}
