package storage

import (
	"context"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

const (
	bufferSize    = 10_000
	flushInterval = 100 * time.Millisecond
	flushBatch    = 1000
	drainTimeout  = 2 * time.Second
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS invocation_events (
	request_id        String,
	team_id           String,
	env_id            String,
	environment       LowCardinality(String),
	timestamp         DateTime64(3, 'UTC'),
	agent_key_id      String,
	agent_name        String,
	tool_name         String,
	logical_name      String,
	tool_version      String,
	backend_type      LowCardinality(String),
	decision          LowCardinality(String),
	error_code        LowCardinality(String),
	status_code       Int32,
	latency_ms        Float32,
	redaction_types   Array(String),
	redaction_counts  Array(UInt32)
) ENGINE = MergeTree
ORDER BY (team_id, timestamp)
TTL toDateTime(timestamp) + INTERVAL 90 DAY`

// ClickHouseWriter writes invocation events to ClickHouse asynchronously.
// Write() is non-blocking; events are buffered and batch-inserted in a background goroutine.
type ClickHouseWriter struct {
	conn    driver.Conn
	buffer  chan *InvocationEvent
	done    chan struct{}
	flushed chan struct{} // closed by flushLoop when it returns
	logger  *zap.Logger
}

// Open parses a ClickHouse DSN and returns a pinged connection. TLS is
// enabled by ?secure=true in the DSN.
func Open(ctx context.Context, dsn string) (driver.Conn, error) {
	opts, err := clickhouse.ParseDSN(dsn)
	if err != nil {
		return nil, err
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, err
	}
	if err := conn.Ping(ctx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return conn, nil
}

// NewClickHouseWriter creates the events table if needed and starts the background flush loop.
func NewClickHouseWriter(ctx context.Context, conn driver.Conn, logger *zap.Logger) (*ClickHouseWriter, error) {
	if err := conn.Exec(ctx, createTableSQL); err != nil {
		return nil, err
	}

	w := newClickHouseWriter(conn, bufferSize, logger)
	go w.flushLoop()
	return w, nil
}

func newClickHouseWriter(conn driver.Conn, size int, logger *zap.Logger) *ClickHouseWriter {
	return &ClickHouseWriter{
		conn:    conn,
		buffer:  make(chan *InvocationEvent, size),
		done:    make(chan struct{}),
		flushed: make(chan struct{}),
		logger:  logger,
	}
}

// Write queues an event for async insertion.
// Non-blocking: drops the event if the buffer is full.
func (w *ClickHouseWriter) Write(event *InvocationEvent) {
	select {
	case w.buffer <- event:
	default:
		w.logger.Warn("clickhouse buffer full, dropping event",
			zap.String("request_id", event.RequestID),
		)
	}
}

// Close signals the flush loop to drain remaining events, waits for it to
// finish (up to drainTimeout), and then returns. Safe to call once.
func (w *ClickHouseWriter) Close() {
	close(w.done)
	<-w.flushed
}

func (w *ClickHouseWriter) flushLoop() {
	defer close(w.flushed)

	ticker := time.NewTicker(flushInterval)
	defer ticker.Stop()

	batch := make([]*InvocationEvent, 0, flushBatch)

	for {
		select {
		case event := <-w.buffer:
			batch = append(batch, event)
			if len(batch) >= flushBatch {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-ticker.C:
			if len(batch) > 0 {
				w.flush(batch)
				batch = batch[:0]
			}
		case <-w.done:
			drainCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
			defer cancel()
		drainLoop:
			for {
				select {
				case event := <-w.buffer:
					batch = append(batch, event)
				case <-drainCtx.Done():
					break drainLoop
				default:
					break drainLoop
				}
			}
			if len(batch) > 0 {
				w.flush(batch)
			}
			return
		}
	}
}

func (w *ClickHouseWriter) flush(events []*InvocationEvent) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	batch, err := w.conn.PrepareBatch(ctx, `
		INSERT INTO invocation_events (
			request_id, team_id, env_id, environment, timestamp,
			agent_key_id, agent_name, tool_name, logical_name, tool_version,
			backend_type, decision, error_code, status_code, latency_ms,
			redaction_types, redaction_counts
		)
	`)
	if err != nil {
		w.logger.Error("clickhouse prepare batch failed", zap.Error(err))
		return
	}

	for _, e := range events {
		if err := batch.Append(
			e.RequestID,
			e.TeamID,
			e.EnvID,
			e.Environment,
			e.Timestamp,
			e.AgentKeyID,
			e.AgentName,
			e.ToolName,
			e.LogicalName,
			e.ToolVersion,
			e.BackendType,
			e.Decision,
			e.ErrorCode,
			e.StatusCode,
			e.LatencyMs,
			e.RedactionTypes,
			e.RedactionCounts,
		); err != nil {
			w.logger.Error("clickhouse append event failed",
				zap.String("request_id", e.RequestID),
				zap.Error(err),
			)
		}
	}

	if err := batch.Send(); err != nil {
		w.logger.Error("clickhouse batch send failed",
			zap.Int("batch_size", len(events)),
			zap.Error(err),
		)
	}
}

// LogWriter is a fallback EventWriter for local development.
// It logs events as structured JSON to stdout via zap.
type LogWriter struct {
	logger *zap.Logger
}

// NewLogWriter creates a LogWriter that outputs events to the given logger.
func NewLogWriter(logger *zap.Logger) *LogWriter {
	return &LogWriter{logger: logger}
}

func (w *LogWriter) Write(event *InvocationEvent) {
	w.logger.Info("invocation_event",
		zap.String("request_id", event.RequestID),
		zap.String("team_id", event.TeamID),
		zap.String("environment", event.Environment),
		zap.String("agent_name", event.AgentName),
		zap.String("tool_name", event.ToolName),
		zap.String("logical_name", event.LogicalName),
		zap.String("tool_version", event.ToolVersion),
		zap.String("decision", event.Decision),
		zap.String("error_code", event.ErrorCode),
		zap.Int32("status_code", event.StatusCode),
		zap.Float32("latency_ms", event.LatencyMs),
		zap.Strings("redaction_types", event.RedactionTypes),
	)
}

func (w *LogWriter) Close() {}
