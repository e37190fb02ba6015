// Package audit persists invocation records and fans them out.
package audit

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/entrys/gateway/internal/metrics"
	"github.com/entrys/gateway/internal/scrub"
	"github.com/entrys/gateway/internal/storage"
	"github.com/entrys/gateway/internal/store"
	"github.com/entrys/gateway/internal/webhook"
)

const defaultWriteTimeout = 3 * time.Second

// Store appends audit rows.
type Store interface {
	InsertAuditLog(ctx context.Context, l *store.AuditLog) error
}

// Notifier receives an event for every persisted record.
type Notifier interface {
	FanOutAuditEvent(payload webhook.Payload, teamID string)
}

// Entry is one invocation attempt as seen by the orchestrator.
type Entry struct {
	TeamID      string
	EnvID       string
	Environment string
	RequestID   string
	AgentKeyID  string
	AgentName   string
	AgentLabel  string
	ToolName    string
	LogicalName *string
	ToolVersion *string
	BackendType *string
	Decision    string
	ErrorCode   string
	StatusCode  *int
	LatencyMs   int
	Redactions  []scrub.Redaction
}

// Recorder writes one audit row per Entry, then mirrors it to analytics and
// webhooks. Nothing it does can fail the caller.
type Recorder struct {
	store    Store
	events   storage.EventWriter
	notifier Notifier
	timeout  time.Duration
	logger   *zap.Logger
}

// NewRecorder creates a Recorder. events and notifier may be nil.
func NewRecorder(s Store, events storage.EventWriter, notifier Notifier, logger *zap.Logger) *Recorder {
	return &Recorder{
		store:    s,
		events:   events,
		notifier: notifier,
		timeout:  defaultWriteTimeout,
		logger:   logger,
	}
}

// Record persists e. A failed insert is logged and counted, and no event is
// emitted for it.
func (r *Recorder) Record(ctx context.Context, e Entry) {
	redactions, err := json.Marshal(nonNil(e.Redactions))
	if err != nil {
		redactions = []byte(`[]`)
	}

	row := &store.AuditLog{
		TeamID:      e.TeamID,
		EnvID:       e.EnvID,
		RequestID:   e.RequestID,
		AgentLabel:  e.AgentLabel,
		ToolName:    e.ToolName,
		LogicalName: e.LogicalName,
		ToolVersion: e.ToolVersion,
		BackendType: e.BackendType,
		Decision:    e.Decision,
		StatusCode:  e.StatusCode,
		LatencyMs:   e.LatencyMs,
		Redactions:  redactions,
	}
	if e.AgentKeyID != "" {
		row.AgentKeyID = &e.AgentKeyID
	}

	// The row outlives a caller that hung up mid-request.
	writeCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()
	if err := r.store.InsertAuditLog(writeCtx, row); err != nil {
		metrics.AuditWriteFailures.Inc()
		r.logger.Error("audit write failed",
			zap.String("request_id", e.RequestID),
			zap.String("decision", e.Decision),
			zap.Error(err),
		)
		return
	}

	if r.events != nil {
		r.events.Write(toEvent(e, row.CreatedAt))
	}
	if r.notifier != nil {
		r.notifier.FanOutAuditEvent(toPayload(e, row.CreatedAt), e.TeamID)
	}
}

func toPayload(e Entry, at time.Time) webhook.Payload {
	return webhook.Payload{
		RequestID:      e.RequestID,
		Timestamp:      at,
		Environment:    e.Environment,
		AgentName:      e.AgentName,
		ToolName:       e.ToolName,
		LogicalName:    e.LogicalName,
		Version:        e.ToolVersion,
		BackendType:    e.BackendType,
		Decision:       e.Decision,
		StatusCode:     e.StatusCode,
		LatencyMs:      e.LatencyMs,
		RedactionCount: scrub.Total(e.Redactions),
	}
}

func toEvent(e Entry, at time.Time) *storage.InvocationEvent {
	ev := &storage.InvocationEvent{
		RequestID:       e.RequestID,
		TeamID:          e.TeamID,
		EnvID:           e.EnvID,
		Environment:     e.Environment,
		Timestamp:       at,
		AgentKeyID:      e.AgentKeyID,
		AgentName:       e.AgentName,
		ToolName:        e.ToolName,
		LogicalName:     deref(e.LogicalName),
		ToolVersion:     deref(e.ToolVersion),
		BackendType:     deref(e.BackendType),
		Decision:        e.Decision,
		ErrorCode:       e.ErrorCode,
		LatencyMs:       float32(e.LatencyMs),
		RedactionTypes:  make([]string, 0, len(e.Redactions)),
		RedactionCounts: make([]uint32, 0, len(e.Redactions)),
	}
	if e.StatusCode != nil {
		ev.StatusCode = int32(*e.StatusCode)
	}
	for _, r := range e.Redactions {
		ev.RedactionTypes = append(ev.RedactionTypes, r.Type)
		ev.RedactionCounts = append(ev.RedactionCounts, uint32(r.Count))
	}
	return ev
}

func nonNil(rs []scrub.Redaction) []scrub.Redaction {
	if rs == nil {
		return []scrub.Redaction{}
	}
	return rs
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
