package http_test

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/bernerdschaefer/eventsource"
	"github.com/go-chi/chi/v5"

	"github.com/Strob0t/tideway/internal/adapter/apikey"
	twhttp "github.com/Strob0t/tideway/internal/adapter/http"
	"github.com/Strob0t/tideway/internal/service"
	"github.com/Strob0t/tideway/internal/sse"
)

const testKey = "test-publisher-key"

type gateway struct {
	srv      *httptest.Server
	registry *service.Registry
}

type gatewayOption func(*service.RegistryConfig, *twhttp.StreamConfig, *twhttp.RouteOptions)

func newGateway(t *testing.T, opts ...gatewayOption) *gateway {
	t.Helper()

	regCfg := service.RegistryConfig{QueueCapacity: 256, OverflowPolicy: service.OverflowDropOldest, TailSize: 200}
	streamCfg := twhttp.StreamConfig{}
	routeOpts := twhttp.RouteOptions{Authorizer: apikey.New([]string{testKey})}
	for _, o := range opts {
		o(&regCfg, &streamCfg, &routeOpts)
	}

	reg := service.NewRegistry(regCfg)
	h := &twhttp.Handlers{
		Broker:       service.NewBrokerService(reg, 1024, nil),
		Registry:     reg,
		Admin:        service.NewAdminService(reg),
		StreamConfig: streamCfg,
		MaxPayload:   1024,
	}

	r := chi.NewRouter()
	twhttp.MountRoutes(r, h, routeOpts)
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		reg.CloseAll()
		srv.Close()
	})
	return &gateway{srv: srv, registry: reg}
}

func (g *gateway) publish(t *testing.T, topic, id, body string) (int, service.PublishResult) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, g.srv.URL+"/v1/publish", strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+testKey)
	req.Header.Set(twhttp.HeaderTopic, topic)
	if id != "" {
		req.Header.Set(twhttp.HeaderID, id)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	defer resp.Body.Close()

	var result service.PublishResult
	if resp.StatusCode == http.StatusAccepted {
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			t.Fatalf("decode publish result: %v", err)
		}
	}
	return resp.StatusCode, result
}

// openStream subscribes and returns once the gateway has registered the
// channel, which happens before the response headers are sent.
func (g *gateway) openStream(t *testing.T, topic, id string) (*http.Response, *sse.Decoder) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, g.srv.URL+"/v1/stream", http.NoBody)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set(twhttp.HeaderTopic, topic)
	if id != "" {
		req.Header.Set(twhttp.HeaderID, id)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream: %v", err)
	}
	t.Cleanup(func() { resp.Body.Close() })
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status %d, want 200", resp.StatusCode)
	}
	return resp, sse.NewDecoder(resp.Body)
}

func (g *gateway) adminGet(t *testing.T, path string, out any) int {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, g.srv.URL+path, http.NoBody)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Authorization", "Bearer "+testKey)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("GET %s: %v", path, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusOK && out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s: %v", path, err)
		}
	}
	return resp.StatusCode
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestPublishThenSubscribeScenario(t *testing.T) {
	g := newGateway(t)

	status, result := g.publish(t, "alerts", "e1", "hello")
	if status != http.StatusAccepted {
		t.Fatalf("publish without subscribers: status %d, want 202", status)
	}
	if result.Status != service.StatusAccepted || result.ID != "e1" || result.Delivered != 0 {
		t.Errorf("unexpected result %+v", result)
	}
	if len(result.DroppedTopics) != 1 || result.DroppedTopics[0] != "alerts" {
		t.Errorf("droppedTopics = %v, want [alerts]", result.DroppedTopics)
	}

	_, dec := g.openStream(t, "alerts", "sub-1")

	status, result = g.publish(t, "alerts", "e2", "line1\nline2")
	if status != http.StatusAccepted || result.Delivered != 1 {
		t.Fatalf("publish: status %d result %+v", status, result)
	}

	ev, err := dec.Next()
	if err != nil {
		t.Fatalf("read event: %v", err)
	}
	if ev.ID != "e2" || ev.Data != "line1\nline2" {
		t.Fatalf("got event %+v, want id=e2 data=line1\\nline2", ev)
	}
}

func TestTwoSubscribersReceiveSameOrder(t *testing.T) {
	g := newGateway(t)

	_, a := g.openStream(t, "orders", "a")
	_, b := g.openStream(t, "orders", "b")

	const n = 100
	for i := range n {
		if status, _ := g.publish(t, "orders", fmt.Sprintf("e%d", i), fmt.Sprintf("payload-%d", i)); status != http.StatusAccepted {
			t.Fatalf("publish %d: status %d", i, status)
		}
	}

	for name, dec := range map[string]*sse.Decoder{"a": a, "b": b} {
		for i := range n {
			ev, err := dec.Next()
			if err != nil {
				t.Fatalf("subscriber %s event %d: %v", name, i, err)
			}
			if want := fmt.Sprintf("e%d", i); ev.ID != want {
				t.Fatalf("subscriber %s event %d: id %q, want %q", name, i, ev.ID, want)
			}
		}
	}
}

func TestStreamPreamble(t *testing.T) {
	g := newGateway(t, func(_ *service.RegistryConfig, s *twhttp.StreamConfig, _ *twhttp.RouteOptions) {
		s.RetryHint = 3 * time.Second
	})

	resp, _ := g.openStream(t, "alerts", "client-7")

	if ct := resp.Header.Get("Content-Type"); ct != sse.ContentType {
		t.Errorf("Content-Type = %q", ct)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-cache, no-transform" {
		t.Errorf("Cache-Control = %q", cc)
	}
	if resp.Header.Get("X-Accel-Buffering") != "no" {
		t.Error("missing X-Accel-Buffering: no")
	}

	br := bufio.NewReader(resp.Body)
	var lines []string
	for range 4 {
		line, err := br.ReadString('\n')
		if err != nil {
			t.Fatalf("read preamble: %v", err)
		}
		lines = append(lines, line)
	}
	want := []string{": connected client-7\n", "\n", "retry: 3000\n", "\n"}
	if strings.Join(lines, "") != strings.Join(want, "") {
		t.Fatalf("preamble = %q, want %q", lines, want)
	}
}

func TestStreamGeneratesSubscriberID(t *testing.T) {
	g := newGateway(t)
	resp, _ := g.openStream(t, "alerts", "")

	line, err := bufio.NewReader(resp.Body).ReadString('\n')
	if err != nil {
		t.Fatal(err)
	}
	id := strings.TrimSpace(strings.TrimPrefix(line, ": connected "))
	if len(id) != 36 {
		t.Fatalf("expected a generated UUID, got %q", line)
	}
}

func TestStreamQueryParameters(t *testing.T) {
	g := newGateway(t)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, g.srv.URL+"/v1/stream?topic=alerts&id=browser-1", http.NoBody)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, want 200", resp.StatusCode)
	}

	conns := g.registry.Connections()
	if len(conns) != 1 || conns[0].ConnectionID != "browser-1" || conns[0].Topic != "alerts" {
		t.Fatalf("connections = %+v", conns)
	}
}

func TestStreamRejectsBadTopic(t *testing.T) {
	g := newGateway(t)

	for _, topic := range []string{"", "a,b", "a,,b"} {
		req, _ := http.NewRequest(http.MethodGet, g.srv.URL+"/v1/stream", http.NoBody)
		req.Header.Set(twhttp.HeaderTopic, topic)
		resp, err := http.DefaultClient.Do(req)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusBadRequest {
			t.Errorf("topic %q: status %d, want 400", topic, resp.StatusCode)
		}
	}
}

func TestStreamDisconnectUnsubscribes(t *testing.T) {
	g := newGateway(t)

	resp, _ := g.openStream(t, "alerts", "leaver")
	if n := g.registry.ActiveSubscribers(); n != 1 {
		t.Fatalf("active subscribers = %d, want 1", n)
	}

	resp.Body.Close()
	waitFor(t, "unsubscribe", func() bool { return g.registry.ActiveSubscribers() == 0 })

	// Later publishes neither block nor fail.
	for i := range 10 {
		if status, _ := g.publish(t, "alerts", fmt.Sprintf("e%d", i), "x"); status != http.StatusAccepted {
			t.Fatalf("publish after disconnect: status %d", status)
		}
	}
}

func TestStreamReplacedBySameID(t *testing.T) {
	g := newGateway(t)

	_, first := g.openStream(t, "alerts", "dup")
	_, second := g.openStream(t, "alerts", "dup")

	// The replaced stream ends.
	if _, err := first.Next(); err == nil {
		t.Fatal("expected the replaced stream to end")
	}

	g.publish(t, "alerts", "e1", "hi")
	ev, err := second.Next()
	if err != nil || ev.ID != "e1" {
		t.Fatalf("replacement stream: got %+v, %v", ev, err)
	}
	if n := g.registry.ActiveSubscribers(); n != 1 {
		t.Fatalf("active subscribers = %d, want 1", n)
	}
}

func TestStreamKeepalive(t *testing.T) {
	g := newGateway(t, func(_ *service.RegistryConfig, s *twhttp.StreamConfig, _ *twhttp.RouteOptions) {
		s.KeepaliveInterval = 20 * time.Millisecond
	})

	resp, _ := g.openStream(t, "quiet", "k")
	br := bufio.NewReader(resp.Body)
	for {
		line, err := br.ReadString('\n')
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		if line == ": keepalive\n" {
			return
		}
	}
}

func TestStreamMaxLifetime(t *testing.T) {
	g := newGateway(t, func(_ *service.RegistryConfig, s *twhttp.StreamConfig, _ *twhttp.RouteOptions) {
		s.MaxLifetime = 50 * time.Millisecond
	})

	_, dec := g.openStream(t, "alerts", "short")
	if _, err := dec.Next(); err == nil {
		t.Fatal("expected the stream to end at its lifetime")
	}
	waitFor(t, "unsubscribe", func() bool { return g.registry.ActiveSubscribers() == 0 })
}

func TestShutdownClosesStreams(t *testing.T) {
	g := newGateway(t)
	_, dec := g.openStream(t, "alerts", "s")

	g.registry.CloseAll()

	if _, err := dec.Next(); err == nil {
		t.Fatal("expected stream to end after CloseAll")
	}
	waitFor(t, "release", func() bool { return g.registry.ActiveSubscribers() == 0 })
}

func TestStreamDropOldest(t *testing.T) {
	g := newGateway(t, func(r *service.RegistryConfig, _ *twhttp.StreamConfig, _ *twhttp.RouteOptions) {
		r.QueueCapacity = 4
	})

	// Subscribe directly so nothing drains the queue while publishing.
	ch, err := g.registry.Subscribe("fast", "slow")
	if err != nil {
		t.Fatal(err)
	}
	defer g.registry.Release(ch)

	for i := range 20 {
		g.publish(t, "fast", fmt.Sprintf("e%d", i), "x")
	}

	stats := ch.Stats()
	if stats.Queued != 4 || stats.Dropped != 16 {
		t.Fatalf("stats = %+v, want queued 4 dropped 16", stats)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	var last string
	for range 4 {
		env, err := ch.Dequeue(ctx)
		if err != nil {
			t.Fatal(err)
		}
		last = env.ID()
	}
	if last != "e19" {
		t.Fatalf("latest event %q, want e19", last)
	}
}

// heldFlushWriter blocks the first Flush until release is closed, which
// parks a stream between subscribing and its send loop.
type heldFlushWriter struct {
	http.ResponseWriter
	once    sync.Once
	release <-chan struct{}
}

func (w *heldFlushWriter) Flush() {
	w.once.Do(func() { <-w.release })
	w.ResponseWriter.(http.Flusher).Flush()
}

func (w *heldFlushWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

func TestStreamRejectPolicyDrainsThenCloses(t *testing.T) {
	reg := service.NewRegistry(service.RegistryConfig{QueueCapacity: 2, OverflowPolicy: service.OverflowReject})
	h := &twhttp.Handlers{
		Broker:     service.NewBrokerService(reg, 1024, nil),
		Registry:   reg,
		Admin:      service.NewAdminService(reg),
		MaxPayload: 1024,
	}
	r := chi.NewRouter()
	twhttp.MountRoutes(r, h, twhttp.RouteOptions{Authorizer: apikey.New([]string{testKey})})

	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		if req.URL.Path == "/v1/stream" {
			w = &heldFlushWriter{ResponseWriter: w, release: release}
		}
		r.ServeHTTP(w, req)
	}))
	t.Cleanup(func() {
		reg.CloseAll()
		srv.Close()
	})
	g := &gateway{srv: srv, registry: reg}

	type opened struct {
		resp *http.Response
		err  error
	}
	openc := make(chan opened, 1)
	go func() {
		req, err := http.NewRequest(http.MethodGet, srv.URL+"/v1/stream", http.NoBody)
		if err != nil {
			openc <- opened{err: err}
			return
		}
		req.Header.Set(twhttp.HeaderTopic, "alerts")
		req.Header.Set(twhttp.HeaderID, "slow")
		resp, err := http.DefaultClient.Do(req)
		openc <- opened{resp: resp, err: err}
	}()
	waitFor(t, "subscription", func() bool { return reg.ActiveSubscribers() == 1 })

	for i, want := range []int{1, 1, 0} {
		status, result := g.publish(t, "alerts", fmt.Sprintf("e%d", i), "x")
		if status != http.StatusAccepted || result.Delivered != want {
			t.Fatalf("publish e%d: status %d delivered %d, want 202/%d", i, status, result.Delivered, want)
		}
	}
	close(release)

	o := <-openc
	if o.err != nil {
		t.Fatalf("stream: %v", o.err)
	}
	defer o.resp.Body.Close()
	if o.resp.StatusCode != http.StatusOK {
		t.Fatalf("stream status %d, want 200", o.resp.StatusCode)
	}

	dec := sse.NewDecoder(o.resp.Body)
	for _, want := range []string{"e0", "e1"} {
		ev, err := dec.Next()
		if err != nil {
			t.Fatalf("reading %s: %v", want, err)
		}
		if ev.ID != want {
			t.Fatalf("event %q, want %q", ev.ID, want)
		}
	}
	if ev, err := dec.Next(); !errors.Is(err, io.EOF) {
		t.Fatalf("expected the stream to close after draining, got %+v, %v", ev, err)
	}
	waitFor(t, "release", func() bool { return reg.ActiveSubscribers() == 0 })
}

func TestPublishMultipleTopics(t *testing.T) {
	g := newGateway(t)

	_, a := g.openStream(t, "a", "sub-a")
	_, c := g.openStream(t, "c", "sub-c")

	status, result := g.publish(t, "a, b ,c,a", "multi", "payload")
	if status != http.StatusAccepted {
		t.Fatalf("status %d", status)
	}
	if result.Delivered != 2 {
		t.Errorf("delivered = %d, want 2", result.Delivered)
	}
	if len(result.DroppedTopics) != 1 || result.DroppedTopics[0] != "b" {
		t.Errorf("droppedTopics = %v, want [b]", result.DroppedTopics)
	}

	for name, dec := range map[string]*sse.Decoder{"a": a, "c": c} {
		ev, err := dec.Next()
		if err != nil || ev.ID != "multi" || ev.Data != "payload" {
			t.Fatalf("subscriber %s: got %+v, %v", name, ev, err)
		}
	}
}

func TestPublishGeneratesID(t *testing.T) {
	g := newGateway(t)
	status, result := g.publish(t, "alerts", "", "x")
	if status != http.StatusAccepted {
		t.Fatalf("status %d", status)
	}
	if len(result.ID) != 36 {
		t.Fatalf("expected generated UUID id, got %q", result.ID)
	}
}

func TestPublishErrors(t *testing.T) {
	g := newGateway(t)

	tests := []struct {
		name   string
		auth   string
		topic  string
		id     string
		body   string
		status int
	}{
		{"missing auth", "", "alerts", "", "x", http.StatusUnauthorized},
		{"wrong key", "Bearer nope", "alerts", "", "x", http.StatusUnauthorized},
		{"wrong scheme", "Basic " + testKey, "alerts", "", "x", http.StatusUnauthorized},
		{"lowercase scheme", "bearer " + testKey, "alerts", "", "x", http.StatusAccepted},
		{"missing topic", "Bearer " + testKey, "", "", "x", http.StatusBadRequest},
		{"empty topic member", "Bearer " + testKey, "a,,b", "", "x", http.StatusBadRequest},
		{"payload too large", "Bearer " + testKey, "alerts", "", strings.Repeat("x", 1025), http.StatusRequestEntityTooLarge},
		{"payload at limit", "Bearer " + testKey, "alerts", "", strings.Repeat("x", 1024), http.StatusAccepted},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodPost, g.srv.URL+"/v1/publish", strings.NewReader(tt.body))
			if tt.auth != "" {
				req.Header.Set("Authorization", tt.auth)
			}
			req.Header.Set(twhttp.HeaderTopic, tt.topic)
			resp, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatal(err)
			}
			defer resp.Body.Close()

			if resp.StatusCode != tt.status {
				t.Fatalf("status %d, want %d", resp.StatusCode, tt.status)
			}
			if tt.status >= 400 {
				var body struct {
					Error string `json:"error"`
				}
				if err := json.NewDecoder(resp.Body).Decode(&body); err != nil || body.Error == "" {
					t.Errorf("expected JSON error body, got err=%v body=%+v", err, body)
				}
			}
		})
	}
}

func TestProtectedStream(t *testing.T) {
	g := newGateway(t, func(_ *service.RegistryConfig, _ *twhttp.StreamConfig, o *twhttp.RouteOptions) {
		o.ProtectStream = true
	})

	req, _ := http.NewRequest(http.MethodGet, g.srv.URL+"/v1/stream", http.NoBody)
	req.Header.Set(twhttp.HeaderTopic, "alerts")
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("status %d, want 401", resp.StatusCode)
	}
}

func TestAdminRequiresAuth(t *testing.T) {
	g := newGateway(t)
	for _, path := range []string{"/v1/admin/topics", "/v1/admin/connections", "/v1/admin/topics/alerts/tail"} {
		resp, err := http.Get(g.srv.URL + path)
		if err != nil {
			t.Fatal(err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusUnauthorized {
			t.Errorf("%s: status %d, want 401", path, resp.StatusCode)
		}
	}
}

func TestAdminTopicsAndConnections(t *testing.T) {
	g := newGateway(t)

	for _, s := range []struct{ topic, id string }{
		{"b", "s3"}, {"a", "s1"}, {"a", "s2"}, {"c", "s4"},
	} {
		if _, err := g.registry.Subscribe(s.topic, s.id); err != nil {
			t.Fatal(err)
		}
	}

	var topics service.Page[service.TopicInfo]
	if status := g.adminGet(t, "/v1/admin/topics?page=1&pageSize=2", &topics); status != http.StatusOK {
		t.Fatalf("status %d", status)
	}
	if topics.Total != 3 || topics.PageSize != 2 || len(topics.Data) != 2 {
		t.Fatalf("topics page = %+v", topics)
	}
	if topics.Data[0].Topic != "a" || topics.Data[0].ConnectionCount != 2 || topics.Data[1].Topic != "b" {
		t.Fatalf("topics data = %+v", topics.Data)
	}

	var second service.Page[service.TopicInfo]
	g.adminGet(t, "/v1/admin/topics?page=2&pageSize=2", &second)
	if len(second.Data) != 1 || second.Data[0].Topic != "c" {
		t.Fatalf("second page = %+v", second)
	}

	var fallback service.Page[service.TopicInfo]
	g.adminGet(t, "/v1/admin/topics?page=-3&pageSize=abc", &fallback)
	if fallback.Page != 1 || fallback.PageSize != service.DefaultPageSize {
		t.Fatalf("fallback paging = page %d size %d", fallback.Page, fallback.PageSize)
	}

	var capped service.Page[service.TopicInfo]
	g.adminGet(t, "/v1/admin/topics?pageSize=10000", &capped)
	if capped.PageSize != service.MaxPageSize {
		t.Fatalf("pageSize = %d, want %d", capped.PageSize, service.MaxPageSize)
	}

	var far service.Page[service.TopicInfo]
	if status := g.adminGet(t, "/v1/admin/topics?page=2305843009213693953&pageSize=4", &far); status != http.StatusOK {
		t.Fatalf("huge page status %d, want 200", status)
	}
	if len(far.Data) != 0 || far.Total != 3 {
		t.Fatalf("huge page = %+v, want empty data", far)
	}

	var conns service.Page[service.ChannelStats]
	g.adminGet(t, "/v1/admin/connections", &conns)
	if conns.Total != 4 {
		t.Fatalf("connections total = %d, want 4", conns.Total)
	}
	for i, want := range []string{"s1", "s2", "s3", "s4"} {
		if conns.Data[i].ConnectionID != want {
			t.Errorf("connection %d = %q, want %q", i, conns.Data[i].ConnectionID, want)
		}
	}
}

func TestAdminUI(t *testing.T) {
	g := newGateway(t)

	resp, err := http.Get(g.srv.URL + "/admin")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status %d, want 200", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Fatalf("Content-Type = %q", ct)
	}
	if cc := resp.Header.Get("Cache-Control"); cc != "no-store" {
		t.Fatalf("Cache-Control = %q, want no-store", cc)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"/v1/admin/topics", "/v1/admin/connections", "/tail?limit="} {
		if !strings.Contains(string(body), want) {
			t.Errorf("dashboard does not reference %s", want)
		}
	}
}

func TestAdminTail(t *testing.T) {
	g := newGateway(t)

	ch, err := g.registry.Subscribe("alerts", "tail-holder")
	if err != nil {
		t.Fatal(err)
	}
	defer g.registry.Release(ch)

	for i := range 30 {
		g.publish(t, "alerts", fmt.Sprintf("e%d", i), fmt.Sprintf("p%d", i))
	}

	var tail struct {
		Topic  string              `json:"topic"`
		Events []service.TailEvent `json:"events"`
	}
	if status := g.adminGet(t, "/v1/admin/topics/alerts/tail?limit=5", &tail); status != http.StatusOK {
		t.Fatalf("status %d", status)
	}
	if tail.Topic != "alerts" || len(tail.Events) != 5 {
		t.Fatalf("tail = %+v", tail)
	}
	if tail.Events[0].ID != "e25" || tail.Events[4].ID != "e29" {
		t.Fatalf("tail ids %s..%s, want e25..e29", tail.Events[0].ID, tail.Events[4].ID)
	}

	g.adminGet(t, "/v1/admin/topics/alerts/tail", &tail)
	if len(tail.Events) != service.DefaultTailLimit {
		t.Fatalf("default tail length %d, want %d", len(tail.Events), service.DefaultTailLimit)
	}

	g.adminGet(t, "/v1/admin/topics/unknown/tail", &tail)
	if tail.Events == nil || len(tail.Events) != 0 {
		t.Fatalf("unknown topic tail = %+v, want empty list", tail.Events)
	}
}

func TestHealthz(t *testing.T) {
	g := newGateway(t)
	g.openStream(t, "alerts", "h")

	resp, err := http.Get(g.srv.URL + "/healthz")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()

	var health service.Health
	if err := json.NewDecoder(resp.Body).Decode(&health); err != nil {
		t.Fatal(err)
	}
	if health.Status != "ok" || health.Topics != 1 || health.Connections != 1 {
		t.Fatalf("health = %+v", health)
	}
}

// An independent EventSource client parses the stream.
func TestEventSourceClientCompatibility(t *testing.T) {
	g := newGateway(t)

	req, _ := http.NewRequest(http.MethodGet, g.srv.URL+"/v1/stream", http.NoBody)
	req.Header.Set(twhttp.HeaderTopic, "compat")
	req.Header.Set(twhttp.HeaderID, "es-client")
	es := eventsource.New(req, 50*time.Millisecond)
	closeES := sync.OnceFunc(es.Close)

	type result struct {
		ev  eventsource.Event
		err error
	}
	events := make(chan result, 8)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			ev, err := es.Read()
			events <- result{ev, err}
			if err != nil {
				return
			}
		}
	}()
	defer func() {
		closeES()
		wg.Wait()
	}()

	waitFor(t, "eventsource subscription", func() bool { return g.registry.ActiveSubscribers() == 1 })

	g.publish(t, "compat", "c1", "first")
	g.publish(t, "compat", "c2", "multi\nline")

	for _, want := range []struct{ id, data string }{{"c1", "first"}, {"c2", "multi\nline"}} {
		select {
		case r := <-events:
			if r.err != nil {
				t.Fatalf("eventsource read: %v", r.err)
			}
			if r.ev.ID != want.id || string(r.ev.Data) != want.data {
				t.Fatalf("got id=%q data=%q, want id=%q data=%q", r.ev.ID, r.ev.Data, want.id, want.data)
			}
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for eventsource event")
		}
	}

	closeES()
	select {
	case r := <-events:
		if !errors.Is(r.err, eventsource.ErrClosed) {
			t.Fatalf("expected ErrClosed after Close, got %v", r.err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("eventsource did not stop after Close")
	}
}
