// Package nats implements a publish ingress over core NATS. Messages on
// <prefix><topic> are published to the gateway exactly like POST
// /v1/publish.
package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/Strob0t/tideway/internal/adapter/otel"
	"github.com/Strob0t/tideway/internal/service"
)

// HeaderID carries the optional event id on NATS messages.
const HeaderID = "X-Sse-Id"

// Publisher is the part of the broker the ingress depends on.
type Publisher interface {
	PublishTopics(ctx context.Context, topics []string, id string, payload []byte) (service.PublishResult, error)
}

// Ingress subscribes to the gateway's subject space on a NATS connection.
type Ingress struct {
	nc     *nats.Conn
	prefix string
}

// Connect establishes a connection to NATS. Subjects below prefix map to
// topics; prefix should end with a dot.
func Connect(url, prefix string) (*Ingress, error) {
	nc, err := nats.Connect(url,
		nats.Name("tideway"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2*time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				slog.Warn("nats disconnected", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			slog.Info("nats reconnected", "url", c.ConnectedUrlRedacted())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	slog.Info("nats connected", "url", nc.ConnectedUrlRedacted(), "subject_prefix", prefix)
	return &Ingress{nc: nc, prefix: prefix}, nil
}

// Run subscribes to <prefix>> and forwards every message to pub until ctx
// is done, then drains the subscription.
func (in *Ingress) Run(ctx context.Context, pub Publisher) error {
	sub, err := in.nc.Subscribe(in.prefix+">", func(msg *nats.Msg) {
		in.handle(ctx, pub, msg)
	})
	if err != nil {
		return fmt.Errorf("nats subscribe %s>: %w", in.prefix, err)
	}
	slog.Info("nats ingress started", "subject", sub.Subject)

	<-ctx.Done()

	if err := sub.Drain(); err != nil {
		return fmt.Errorf("nats drain: %w", err)
	}
	return nil
}

func (in *Ingress) handle(ctx context.Context, pub Publisher, msg *nats.Msg) {
	ctx, span := otel.StartIngressSpan(ctx, msg.Subject)
	defer span.End()

	topic, ok := SubjectToTopic(in.prefix, msg.Subject)
	if !ok {
		slog.Warn("nats subject outside prefix", "subject", msg.Subject)
		return
	}

	var id string
	if msg.Header != nil {
		id = msg.Header.Get(HeaderID)
	}

	result, err := pub.PublishTopics(ctx, []string{topic}, id, msg.Data)
	if err != nil {
		slog.Warn("nats publish rejected", "subject", msg.Subject, "topic", topic, "error", err)
		in.reply(msg, ingressReply{Error: err.Error()})
		return
	}
	in.reply(msg, ingressReply{Result: &result})
}

type ingressReply struct {
	Result *service.PublishResult `json:"result,omitempty"`
	Error  string                 `json:"error,omitempty"`
}

// reply answers request-reply publishes with the publish outcome.
func (in *Ingress) reply(msg *nats.Msg, r ingressReply) {
	if msg.Reply == "" {
		return
	}
	data, err := json.Marshal(r)
	if err != nil {
		slog.Error("marshal nats reply", "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Warn("nats respond failed", "subject", msg.Subject, "error", err)
	}
}

// Conn returns the underlying connection for other NATS-backed components.
func (in *Ingress) Conn() *nats.Conn {
	return in.nc
}

// Close shuts down the NATS connection.
func (in *Ingress) Close() {
	in.nc.Close()
}

// SubjectToTopic strips prefix from subject.
func SubjectToTopic(prefix, subject string) (string, bool) {
	topic, ok := strings.CutPrefix(subject, prefix)
	if !ok || topic == "" {
		return "", false
	}
	return topic, true
}
