package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/kirillkom/answer-pipeline/internal/core/domain"
)

// Sink publishes stage events to a NATS subject. Emit is fire-and-forget:
// publish failures are logged and swallowed so telemetry can never block or
// fail a run.
type Sink struct {
	conn    *nats.Conn
	subject string
}

type Options struct {
	ConnectTimeout       time.Duration
	ReconnectWait        time.Duration
	MaxReconnects        int
	RetryOnFailedConnect *bool
}

func New(url, subject string) (*Sink, error) {
	return NewWithOptions(url, subject, Options{})
}

func NewWithOptions(url, subject string, options Options) (*Sink, error) {
	connectTimeout := options.ConnectTimeout
	if connectTimeout <= 0 {
		connectTimeout = 2 * time.Second
	}
	reconnectWait := options.ReconnectWait
	if reconnectWait <= 0 {
		reconnectWait = 2 * time.Second
	}
	maxReconnects := options.MaxReconnects
	if maxReconnects <= 0 {
		maxReconnects = 60
	}
	retryOnFailedConnect := true
	if options.RetryOnFailedConnect != nil {
		retryOnFailedConnect = *options.RetryOnFailedConnect
	}

	conn, err := nats.Connect(
		url,
		nats.Name("answer-pipeline"),
		nats.Timeout(connectTimeout),
		nats.ReconnectWait(reconnectWait),
		nats.MaxReconnects(maxReconnects),
		nats.RetryOnFailedConnect(retryOnFailedConnect),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			slog.Warn("telemetry_nats_disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			slog.Info("telemetry_nats_reconnected", "url", nc.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("connect nats: %w", err)
	}
	return &Sink{
		conn:    conn,
		subject: subject,
	}, nil
}

func (s *Sink) Emit(event domain.StageEvent) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Debug("telemetry_marshal_failed", "run_id", event.RunID, "stage", event.Stage, "error", err)
		return
	}
	if err := s.conn.Publish(s.subject, payload); err != nil {
		slog.Debug("telemetry_publish_failed", "run_id", event.RunID, "stage", event.Stage, "error", err)
	}
}

// Subscribe delivers decoded stage events from the subject until the context
// ends. Undecodable messages are logged and skipped.
func (s *Sink) Subscribe(ctx context.Context, handler func(ctx context.Context, event domain.StageEvent)) error {
	sub, err := s.conn.Subscribe(s.subject, func(msg *nats.Msg) {
		var event domain.StageEvent
		if err := json.Unmarshal(msg.Data, &event); err != nil {
			slog.Warn("telemetry_decode_failed", "subject", s.subject, "error", err)
			return
		}
		handler(ctx, event)
	})
	if err != nil {
		return fmt.Errorf("subscribe %s: %w", s.subject, err)
	}
	defer func() { _ = sub.Unsubscribe() }()

	<-ctx.Done()
	return nil
}

func (s *Sink) Close() {
	if s.conn != nil {
		s.conn.Close()
	}
}
