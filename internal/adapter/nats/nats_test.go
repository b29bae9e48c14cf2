package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Strob0t/tideway/internal/domain"
	"github.com/Strob0t/tideway/internal/service"
)

func TestSubjectToTopic(t *testing.T) {
	tests := []struct {
		subject string
		want    string
		ok      bool
	}{
		{"tideway.alerts", "alerts", true},
		{"tideway.orders.eu", "orders.eu", true},
		{"tideway.", "", false},
		{"other.alerts", "", false},
	}
	for _, tt := range tests {
		got, ok := SubjectToTopic("tideway.", tt.subject)
		if got != tt.want || ok != tt.ok {
			t.Errorf("SubjectToTopic(%q) = %q, %v; want %q, %v", tt.subject, got, ok, tt.want, tt.ok)
		}
	}
}

func TestTopicToSubject(t *testing.T) {
	tests := []struct {
		topic   string
		want    string
		wantErr bool
	}{
		{"alerts", "tideway.alerts", false},
		{"orders.eu", "tideway.orders.eu", false},
		{"", "", true},
		{"a b", "", true},
		{"a.*", "", true},
		{"a.>", "", true},
		{"a..b", "", true},
	}
	for _, tt := range tests {
		got, err := topicToSubject("tideway.", tt.topic)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("topicToSubject(%q) = %q, %v; want %q, err=%v", tt.topic, got, err, tt.want, tt.wantErr)
		}
	}
}

// topicToSubject maps topic to the subject a NATS publisher uses to reach
// the gateway.
func topicToSubject(prefix, topic string) (string, error) {
	if topic == "" || strings.ContainsAny(topic, " \t\r\n*>") {
		return "", fmt.Errorf("topic %q is not a valid NATS subject", topic)
	}
	for tok := range strings.SplitSeq(topic, ".") {
		if tok == "" {
			return "", fmt.Errorf("topic %q has an empty subject token", topic)
		}
	}
	return prefix + topic, nil
}

// publishTopic publishes payload the way an upstream NATS producer would.
func publishTopic(t *testing.T, in *Ingress, topic, id string, payload []byte) {
	t.Helper()
	subject, err := topicToSubject(in.prefix, topic)
	if err != nil {
		t.Fatal(err)
	}
	msg := nats.NewMsg(subject)
	msg.Data = payload
	if id != "" {
		msg.Header.Set(HeaderID, id)
	}
	if err := in.nc.PublishMsg(msg); err != nil {
		t.Fatalf("publish %s: %v", subject, err)
	}
}

type publishCall struct {
	topics  []string
	id      string
	payload string
}

type recordingPublisher struct {
	mu    sync.Mutex
	calls []publishCall
	err   error
	got   chan struct{}
}

func newRecordingPublisher() *recordingPublisher {
	return &recordingPublisher{got: make(chan struct{}, 16)}
}

func (p *recordingPublisher) PublishTopics(_ context.Context, topics []string, id string, payload []byte) (service.PublishResult, error) {
	p.mu.Lock()
	p.calls = append(p.calls, publishCall{topics: topics, id: id, payload: string(payload)})
	p.mu.Unlock()
	p.got <- struct{}{}
	if p.err != nil {
		return service.PublishResult{}, p.err
	}
	return service.PublishResult{Status: service.StatusAccepted, ID: id, Delivered: 1, DroppedTopics: []string{}}, nil
}

// testConnect connects to NATS or skips the test if NATS_URL is not set.
func testConnect(t *testing.T) *Ingress {
	t.Helper()

	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("requires NATS_URL")
	}

	in, err := Connect(url, "tideway-test."+t.Name()+".")
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	t.Cleanup(in.Close)
	return in
}

func startIngress(t *testing.T, in *Ingress, pub Publisher) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- in.Run(ctx, pub) }()
	t.Cleanup(func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	})
	// Let the subscription reach the server before publishing.
	time.Sleep(50 * time.Millisecond)
	if err := in.nc.Flush(); err != nil {
		t.Fatalf("Flush: %v", err)
	}
}

func TestIngress_ForwardsMessages(t *testing.T) {
	in := testConnect(t)
	pub := newRecordingPublisher()
	startIngress(t, in, pub)

	publishTopic(t, in, "orders.eu", "e1", []byte("hello"))

	select {
	case <-pub.got:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for ingress")
	}

	pub.mu.Lock()
	defer pub.mu.Unlock()
	call := pub.calls[0]
	if len(call.topics) != 1 || call.topics[0] != "orders.eu" || call.id != "e1" || call.payload != "hello" {
		t.Fatalf("unexpected publish call %+v", call)
	}
}

func TestIngress_RequestReply(t *testing.T) {
	in := testConnect(t)
	pub := newRecordingPublisher()
	pub.err = domain.ErrPayloadTooLarge
	startIngress(t, in, pub)

	msg := nats.NewMsg(in.prefix + "alerts")
	msg.Data = []byte("x")
	resp, err := in.nc.RequestMsg(msg, 5*time.Second)
	if err != nil {
		t.Fatalf("RequestMsg: %v", err)
	}

	var r ingressReply
	if err := json.Unmarshal(resp.Data, &r); err != nil {
		t.Fatalf("unmarshal reply: %v", err)
	}
	if r.Error == "" || r.Result != nil {
		t.Fatalf("expected an error reply, got %+v", r)
	}
}
