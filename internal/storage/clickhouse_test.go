package storage

import (
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func sampleEvent(id string) *InvocationEvent {
	return &InvocationEvent{
		RequestID:       id,
		TeamID:          "team-1",
		Environment:     "staging",
		Timestamp:       time.Now().UTC(),
		AgentName:       "demo-agent",
		ToolName:        "echo",
		LogicalName:     "echo_httpbin",
		ToolVersion:     "v1",
		BackendType:     "http",
		Decision:        "allow",
		StatusCode:      200,
		LatencyMs:       12.5,
		RedactionTypes:  []string{"email"},
		RedactionCounts: []uint32{1},
	}
}

func TestClickHouseWriter_DropsWhenBufferFull(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	w := newClickHouseWriter(nil, 1, zap.New(core))

	done := make(chan struct{})
	go func() {
		w.Write(sampleEvent("a"))
		w.Write(sampleEvent("b"))
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Write blocked on a full buffer")
	}

	if len(w.buffer) != 1 {
		t.Errorf("buffered = %d, want 1", len(w.buffer))
	}
	dropped := logs.FilterMessage("clickhouse buffer full, dropping event").All()
	if len(dropped) != 1 {
		t.Fatalf("drop logs = %d, want 1", len(dropped))
	}
	if got := dropped[0].ContextMap()["request_id"]; got != "b" {
		t.Errorf("dropped request_id = %v", got)
	}
}

func TestLogWriter_LogsEvent(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	var w EventWriter = NewLogWriter(zap.New(core))

	w.Write(sampleEvent("req-1"))
	w.Close()

	entries := logs.FilterMessage("invocation_event").All()
	if len(entries) != 1 {
		t.Fatalf("entries = %d", len(entries))
	}
	fields := entries[0].ContextMap()
	if fields["request_id"] != "req-1" || fields["logical_name"] != "echo_httpbin" || fields["decision"] != "allow" {
		t.Errorf("fields = %v", fields)
	}
}
