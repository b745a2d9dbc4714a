package gqlAuth

import (
	"context"
	"io"
	"strconv"
	"time"

	"github.com/MrEthical07/gqlAuth/internal/audit"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AuditEvent is one audit record. It never carries the raw token.
type AuditEvent = audit.Event

// AuditSink receives audit events from the dispatcher goroutine.
type AuditSink = audit.Sink

// Audit event types.
const (
	AuditEventAuthorize     = audit.EventAuthorize
	AuditEventKeySetRefresh = audit.EventKeySetRefresh
)

// NoOpSink discards events.
type NoOpSink = audit.NoOpSink

// ChannelSink buffers events in a channel.
type ChannelSink = audit.ChannelSink

// JSONWriterSink writes one JSON object per line.
type JSONWriterSink = audit.JSONWriterSink

// ZapSink logs events through zap.
type ZapSink = audit.ZapSink

// NewChannelSink returns a sink backed by a channel of the given capacity.
func NewChannelSink(buffer int) *ChannelSink { return audit.NewChannelSink(buffer) }

// NewJSONWriterSink returns a sink writing JSON lines to w.
func NewJSONWriterSink(w io.Writer) *JSONWriterSink { return audit.NewJSONWriterSink(w) }

// NewZapSink returns a sink logging to logger.
func NewZapSink(logger *zap.Logger) *ZapSink { return audit.NewZapSink(logger) }

func (e *Extension) emitAudit(ctx context.Context, event AuditEvent) {
	if e.audit == nil {
		return
	}
	event.ID = uuid.NewString()
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now().UTC()
	}
	e.audit.Emit(ctx, event)
}

// auditObserver turns resolver refresh outcomes into audit events.
type auditObserver struct {
	ext *Extension
}

func (o auditObserver) RefreshSucceeded(keys int, took time.Duration) {
	o.ext.emitAudit(context.Background(), AuditEvent{
		EventType: AuditEventKeySetRefresh,
		Success:   true,
		Metadata: map[string]string{
			"keys": strconv.Itoa(keys),
			"took": took.String(),
		},
	})
}

func (o auditObserver) RefreshFailed(error) {
	o.ext.emitAudit(context.Background(), AuditEvent{
		EventType: AuditEventKeySetRefresh,
		Reason:    string(KindKeySetUnavailable),
	})
}

func (o auditObserver) StaleServed() {}
