package eventbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/nats-io/nats.go"

	"github.com/infra-logging/indexaudit/internal/models"
)

// Message headers set on every published report
const (
	HeaderRunID   = "Indexaudit-Run-Id"
	HeaderSource  = "Indexaudit-Source"
	HeaderTraceID = "Indexaudit-Trace-Id"
)

// ReportHandler consumes published reports
type ReportHandler interface {
	Handle(ctx context.Context, r *models.Report) error
}

// ReportHandlerFunc adapts a function to ReportHandler
type ReportHandlerFunc func(ctx context.Context, r *models.Report) error

func (f ReportHandlerFunc) Handle(ctx context.Context, r *models.Report) error {
	return f(ctx, r)
}

// newReportMsg encodes r as a JetStream message on subject
func newReportMsg(subject string, r *models.Report, traceID string) (*nats.Msg, error) {
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal report: %w", err)
	}

	msg := nats.NewMsg(subject)
	msg.Data = data
	msg.Header.Set(HeaderRunID, r.RunID)
	msg.Header.Set(HeaderSource, r.Source)
	if traceID != "" {
		msg.Header.Set(HeaderTraceID, traceID)
	}
	return msg, nil
}

// decodeReport parses a report message body
func decodeReport(msg *nats.Msg) (*models.Report, error) {
	var r models.Report
	if err := json.Unmarshal(msg.Data, &r); err != nil {
		return nil, fmt.Errorf("failed to unmarshal report: %w", err)
	}
	return &r, nil
}
