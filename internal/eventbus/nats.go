package eventbus

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/infra-logging/indexaudit/internal/models"
	"github.com/infra-logging/indexaudit/internal/telemetry"
)

// NATSPublisher publishes finished reports to a JetStream stream and
// lets downstream consumers read them back through durable consumers.
type NATSPublisher struct {
	conn   *nats.Conn
	js     nats.JetStreamContext
	logger *zap.Logger
	config *Config

	subscriptions map[string]*nats.Subscription
	subMutex      sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewNATSPublisher connects to NATS and creates or updates the report stream
func NewNATSPublisher(config *Config, logger *zap.Logger) (*NATSPublisher, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid event bus configuration: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	ctx, cancel := context.WithCancel(context.Background())

	p := &NATSPublisher{
		logger:        logger,
		config:        config,
		subscriptions: make(map[string]*nats.Subscription),
		ctx:           ctx,
		cancel:        cancel,
	}

	if err := p.connect(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to connect to NATS: %w", err)
	}

	if err := p.setupStream(); err != nil {
		cancel()
		p.conn.Close()
		return nil, fmt.Errorf("failed to setup JetStream: %w", err)
	}

	return p, nil
}

func (p *NATSPublisher) connect() error {
	opts := []nats.Option{
		nats.Name("indexaudit-publisher"),
		nats.Timeout(p.config.ConnectTimeout),
		nats.ReconnectWait(p.config.ReconnectWait),
		nats.MaxReconnects(p.config.MaxReconnectAttempts),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			p.logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			p.logger.Info("NATS reconnected", zap.String("url", nc.ConnectedUrl()))
		}),
		nats.ClosedHandler(func(nc *nats.Conn) {
			p.logger.Debug("NATS connection closed")
		}),
	}

	conn, err := nats.Connect(p.config.URL, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS server: %w", err)
	}

	js, err := conn.JetStream()
	if err != nil {
		conn.Close()
		return fmt.Errorf("failed to get JetStream context: %w", err)
	}

	p.conn = conn
	p.js = js

	p.logger.Info("Connected to NATS JetStream",
		zap.String("url", p.config.URL),
		zap.String("stream", p.config.StreamName))

	return nil
}

func (p *NATSPublisher) setupStream() error {
	streamConfig := &nats.StreamConfig{
		Name:       p.config.StreamName,
		Subjects:   p.config.streamSubjects(),
		Retention:  nats.LimitsPolicy,
		MaxAge:     p.config.MaxAge,
		MaxBytes:   orUnlimited(p.config.MaxBytes),
		MaxMsgs:    orUnlimited(p.config.MaxMsgs),
		Replicas:   p.config.Replicas,
		Storage:    nats.FileStorage,
		Duplicates: p.config.DuplicateWindow,
	}

	if _, err := p.js.StreamInfo(p.config.StreamName); err != nil {
		if !errors.Is(err, nats.ErrStreamNotFound) {
			return fmt.Errorf("failed to look up stream: %w", err)
		}
		if _, err := p.js.AddStream(streamConfig); err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
		p.logger.Info("Created JetStream stream", zap.String("stream", p.config.StreamName))
		return nil
	}

	if _, err := p.js.UpdateStream(streamConfig); err != nil {
		return fmt.Errorf("failed to update stream: %w", err)
	}
	p.logger.Debug("Updated JetStream stream", zap.String("stream", p.config.StreamName))
	return nil
}

// Publish sends r on the report subject. The run id is the JetStream
// message id, so republishing the same report within the duplicate
// window is a no-op.
func (p *NATSPublisher) Publish(ctx context.Context, r *models.Report) error {
	if r == nil {
		return fmt.Errorf("report cannot be nil")
	}

	ctx, span := telemetry.StartSpan(ctx, "eventbus.publish")
	defer span.End()

	subject := p.config.ReportSubject()
	span.SetAttributes(
		attribute.String("subject", subject),
		attribute.String("run_id", r.RunID),
	)

	msg, err := newReportMsg(subject, r, traceID(ctx))
	if err != nil {
		return err
	}

	ack, err := p.js.PublishMsg(msg, nats.MsgId(r.RunID), nats.Context(ctx))
	if err != nil {
		span.RecordError(err)
		return fmt.Errorf("failed to publish report: %w", err)
	}

	p.logger.Debug("Published report",
		zap.String("run_id", r.RunID),
		zap.String("subject", subject),
		zap.Uint64("sequence", ack.Sequence),
		zap.Bool("duplicate", ack.Duplicate))

	return nil
}

// Subscribe starts a durable pull consumer that hands every report on the
// report subject to handler. Reports the handler fails on are redelivered.
func (p *NATSPublisher) Subscribe(ctx context.Context, durable string, handler ReportHandler) error {
	name := consumerName(durable)

	p.subMutex.Lock()
	defer p.subMutex.Unlock()

	if _, exists := p.subscriptions[name]; exists {
		return fmt.Errorf("already subscribed as consumer: %s", name)
	}

	sub, err := p.js.PullSubscribe(p.config.ReportSubject(), name,
		nats.AckExplicit(),
		nats.DeliverAll(),
		nats.MaxDeliver(3),
		nats.AckWait(30*time.Second))
	if err != nil {
		return fmt.Errorf("failed to create subscription: %w", err)
	}

	p.subscriptions[name] = sub

	p.wg.Add(1)
	go p.processMessages(ctx, sub, handler, name)

	p.logger.Info("Subscribed to reports",
		zap.String("subject", p.config.ReportSubject()),
		zap.String("consumer", name))

	return nil
}

func (p *NATSPublisher) processMessages(ctx context.Context, sub *nats.Subscription, handler ReportHandler, consumer string) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.ctx.Done():
			return
		default:
		}

		msgs, err := sub.Fetch(10, nats.MaxWait(time.Second))
		if err != nil {
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				return
			}
			p.logger.Error("Failed to fetch reports",
				zap.String("consumer", consumer),
				zap.Error(err))
			continue
		}

		for _, msg := range msgs {
			if err := p.handleMessage(ctx, msg, handler); err != nil {
				p.logger.Error("Failed to handle report",
					zap.String("consumer", consumer),
					zap.String("run_id", msg.Header.Get(HeaderRunID)),
					zap.Error(err))
				_ = msg.Nak()
				continue
			}
			_ = msg.Ack()
		}
	}
}

func (p *NATSPublisher) handleMessage(ctx context.Context, msg *nats.Msg, handler ReportHandler) error {
	r, err := decodeReport(msg)
	if err != nil {
		return err
	}
	return handler.Handle(ctx, r)
}

// StreamInfo returns information about the report stream
func (p *NATSPublisher) StreamInfo() (*nats.StreamInfo, error) {
	return p.js.StreamInfo(p.config.StreamName)
}

// Close stops consumers and drains the connection
func (p *NATSPublisher) Close() error {
	p.cancel()

	p.subMutex.Lock()
	for name, sub := range p.subscriptions {
		if err := sub.Unsubscribe(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
			p.logger.Warn("Failed to unsubscribe",
				zap.String("consumer", name),
				zap.Error(err))
		}
	}
	p.subscriptions = make(map[string]*nats.Subscription)
	p.subMutex.Unlock()

	p.wg.Wait()

	if p.conn == nil || p.conn.IsClosed() {
		return nil
	}
	if err := p.conn.Drain(); err != nil && !errors.Is(err, nats.ErrConnectionClosed) {
		p.conn.Close()
		return fmt.Errorf("failed to drain NATS connection: %w", err)
	}
	return nil
}

func consumerName(durable string) string {
	name := strings.NewReplacer(".", "-", "*", "star", ">", "gt", " ", "-").Replace(durable)
	if name == "" {
		name = "default"
	}
	return "indexaudit-" + name
}

func orUnlimited(v int64) int64 {
	if v <= 0 {
		return -1
	}
	return v
}

func traceID(ctx context.Context) string {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.HasTraceID() {
		return ""
	}
	return sc.TraceID().String()
}
