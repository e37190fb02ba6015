package storage

import "time"

// EventWriter is the interface for writing invocation events to the analytics sink.
// Write() must NEVER block the caller.
type EventWriter interface {
	Write(event *InvocationEvent)
	Close()
}

// InvocationEvent is the analytics copy of one audit record.
type InvocationEvent struct {
	RequestID       string
	TeamID          string
	EnvID           string
	Environment     string
	Timestamp       time.Time
	AgentKeyID      string
	AgentName       string
	ToolName        string
	LogicalName     string
	ToolVersion     string
	BackendType     string
	Decision        string
	ErrorCode       string
	StatusCode      int32 // 0 when the backend gave none
	LatencyMs       float32
	RedactionTypes  []string
	RedactionCounts []uint32
}
