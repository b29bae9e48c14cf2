package client

import (
	"context"
	"fmt"
	"io"
	"iter"
	"net/http"
	"strings"

	"github.com/Strob0t/tideway/internal/sse"
)

// Subscriber opens event streams from the gateway.
type Subscriber struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewSubscriber creates a subscriber for the gateway at baseURL. token is
// sent as a bearer token when non-empty, for gateways that protect their
// stream endpoint.
func NewSubscriber(baseURL, token string) *Subscriber {
	return &Subscriber{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		token:   token,
		// No client timeout: streams are unbounded and end with ctx.
		httpClient: &http.Client{},
	}
}

// Stream is one open subscription.
type Stream struct {
	body io.ReadCloser
	dec  *sse.Decoder
}

// Subscribe opens a stream on topic. An empty subscriberID lets the gateway
// generate one. The stream ends when ctx is done or Close is called.
func (s *Subscriber) Subscribe(ctx context.Context, topic, subscriberID string) (*Stream, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/v1/stream", http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", sse.ContentType)
	req.Header.Set(headerTopic, topic)
	if subscriberID != "" {
		req.Header.Set(headerID, subscriberID)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("subscribe: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		defer func() { _ = resp.Body.Close() }()
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("subscribe: %w", &StatusError{StatusCode: resp.StatusCode, Message: errorMessage(data)})
	}

	return &Stream{body: resp.Body, dec: sse.NewDecoder(resp.Body)}, nil
}

// Next blocks until the next event arrives. It returns io.EOF when the
// gateway ends the stream.
func (st *Stream) Next() (sse.Event, error) {
	return st.dec.Next()
}

// Events returns a lazy sequence over the remaining events.
func (st *Stream) Events() iter.Seq2[sse.Event, error] {
	return st.dec.All()
}

// Close ends the subscription.
func (st *Stream) Close() error {
	return st.body.Close()
}
