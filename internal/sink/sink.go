// Package sink holds listeners the daemon attaches to configured
// subscriptions: one that logs deliveries and one that forwards them to NATS.
package sink

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"sync/atomic"

	"github.com/nats-io/nats.go"

	"github.com/mithrel/upbridge/internal/logging"
	"github.com/mithrel/upbridge/pkg/api"
)

// Header keys set on forwarded NATS messages.
const (
	HeaderID       = "Upb-Id"
	HeaderType     = "Upb-Type"
	HeaderSource   = "Upb-Source"
	HeaderSink     = "Upb-Sink"
	HeaderPriority = "Upb-Priority"
	HeaderFormat   = "Upb-Format"
	HeaderTTL      = "Upb-Ttl"
	HeaderTrace    = "Traceparent"
)

// Publisher is the part of *nats.Conn the forwarder needs.
type Publisher interface {
	PublishMsg(m *nats.Msg) error
}

// Connect dials the NATS server at url.
func Connect(url, name string) (*nats.Conn, error) {
	return nats.Connect(url, nats.Name(name), nats.MaxReconnects(-1))
}

// NATS forwards every delivered message to a subject derived from its
// source topic under Prefix.
type NATS struct {
	Pub    Publisher
	Prefix string
	Log    *slog.Logger

	forwarded atomic.Int64
	failed    atomic.Int64
}

func NewNATS(pub Publisher, prefix string, log *slog.Logger) *NATS {
	return &NATS{Pub: pub, Prefix: prefix, Log: logging.OrDiscard(log).With(logging.Component("sink.nats"))}
}

func (n *NATS) OnReceive(_ context.Context, msg api.Message) {
	m := nats.NewMsg(Subject(n.Prefix, msg.Attributes.Source))
	m.Data = msg.Payload
	a := msg.Attributes
	m.Header.Set(HeaderID, a.ID.String())
	m.Header.Set(HeaderType, a.Type.String())
	m.Header.Set(HeaderSource, a.Source.String())
	if !a.Sink.IsEmpty() {
		m.Header.Set(HeaderSink, a.Sink.String())
	}
	m.Header.Set(HeaderPriority, strconv.Itoa(int(a.Priority)))
	m.Header.Set(HeaderFormat, strconv.Itoa(int(msg.Format)))
	if a.TTL > 0 {
		m.Header.Set(HeaderTTL, strconv.FormatUint(uint64(a.TTL), 10))
	}
	if a.Traceparent != "" {
		m.Header.Set(HeaderTrace, a.Traceparent)
	}
	if err := n.Pub.PublishMsg(m); err != nil {
		n.failed.Add(1)
		n.Log.Warn("nats publish failed", slog.String("subject", m.Subject), logging.Err(err))
		return
	}
	n.forwarded.Add(1)
}

// Counts returns how many messages were forwarded and how many failed.
func (n *NATS) Counts() (forwarded, failed int64) { return n.forwarded.Load(), n.failed.Load() }

// Subject maps a topic to a NATS subject: prefix.authority.entity.vN.resource.instance.
// Characters NATS gives meaning to are replaced by '_'.
func Subject(prefix string, topic api.URI) string {
	parts := make([]string, 0, 6)
	if prefix != "" {
		parts = append(parts, prefix)
	}
	add := func(s string) {
		if s != "" {
			parts = append(parts, token(s))
		}
	}
	if topic.Authority.Name != "" {
		add(topic.Authority.Name)
	} else {
		add("local")
	}
	add(topic.Entity.Name)
	if topic.Entity.VersionMajor > 0 {
		add("v" + strconv.FormatUint(uint64(topic.Entity.VersionMajor), 10))
	}
	add(topic.Resource.Name)
	add(topic.Resource.Instance)
	return strings.Join(parts, ".")
}

var tokenReplacer = strings.NewReplacer(".", "_", " ", "_", "*", "_", ">", "_", "\t", "_")

func token(s string) string { return tokenReplacer.Replace(s) }

// Log writes every delivered message to the logger.
type Log struct {
	L *slog.Logger
}

func NewLog(l *slog.Logger) *Log {
	return &Log{L: logging.OrDiscard(l).With(logging.Component("sink.log"))}
}

func (s *Log) OnReceive(_ context.Context, msg api.Message) {
	s.L.Info("message received",
		logging.Topic(msg.Attributes.Source),
		slog.String("id", msg.Attributes.ID.String()),
		slog.String("type", msg.Attributes.Type.String()),
		slog.Int("bytes", len(msg.Payload)))
}
