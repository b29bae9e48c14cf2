// Package client is a Go client for the gateway's HTTP wire contract:
// publishing with POST /v1/publish and subscribing with GET /v1/stream.
package client

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

	"github.com/Strob0t/tideway/internal/resilience"
	"github.com/Strob0t/tideway/internal/service"
)

const (
	headerTopic = "X-Sse-Topic"
	headerID    = "X-Sse-Id"
)

// StatusError is returned when the gateway answers with an unexpected
// status code.
type StatusError struct {
	StatusCode int
	Message    string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("gateway returned %d: %s", e.StatusCode, e.Message)
}

// Publisher publishes events through the gateway's HTTP API.
type Publisher struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	breaker    *resilience.Breaker
}

// NewPublisher creates a publisher for the gateway at baseURL.
func NewPublisher(baseURL, apiKey string) *Publisher {
	return &Publisher{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// SetBreaker attaches a circuit breaker to all publish calls. Rejections
// (4xx) do not count as failures.
func (p *Publisher) SetBreaker(b *resilience.Breaker) {
	p.breaker = b
}

// Publish sends payload to every topic in topics under the event id. An
// empty id lets the gateway generate one.
func (p *Publisher) Publish(ctx context.Context, topics []string, id string, payload []byte) (service.PublishResult, error) {
	var result service.PublishResult
	call := func() error {
		r, err := p.publish(ctx, topics, id, payload)
		if err != nil {
			return err
		}
		result = r
		return nil
	}

	var err error
	if p.breaker == nil {
		err = call()
	} else {
		err = p.breaker.Execute(func() error {
			err := call()
			var se *StatusError
			if errors.As(err, &se) && se.StatusCode < http.StatusInternalServerError {
				return resilience.Ignore(err)
			}
			return err
		})
	}
	if err != nil {
		return service.PublishResult{}, fmt.Errorf("publish: %w", err)
	}
	return result, nil
}

func (p *Publisher) publish(ctx context.Context, topics []string, id string, payload []byte) (service.PublishResult, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL+"/v1/publish", bytes.NewReader(payload))
	if err != nil {
		return service.PublishResult{}, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+p.apiKey)
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set(headerTopic, strings.Join(topics, ","))
	if id != "" {
		req.Header.Set(headerID, id)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return service.PublishResult{}, fmt.Errorf("http request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return service.PublishResult{}, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusAccepted {
		return service.PublishResult{}, &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(data)}
	}

	var result service.PublishResult
	if err := json.Unmarshal(data, &result); err != nil {
		return service.PublishResult{}, fmt.Errorf("unmarshal publish result: %w", err)
	}
	return result, nil
}

// errorMessage extracts the error field of a JSON error body, falling back
// to the raw text.
func errorMessage(body []byte) string {
	var e struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(body, &e) == nil && e.Error != "" {
		return e.Error
	}
	return strings.TrimSpace(string(body))
}
