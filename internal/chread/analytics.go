// Package chread runs analytics queries against the invocation_events table.
package chread

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
)

const (
	DefaultDays = 7
	MaxDays     = 90
)

// Reader provides read access to invocation analytics.
type Reader struct {
	conn driver.Conn
}

// NewReader wraps an open ClickHouse connection.
func NewReader(conn driver.Conn) *Reader {
	return &Reader{conn: conn}
}

// DecisionTotals holds invocation counts per decision.
type DecisionTotals struct {
	Total  int `json:"total"`
	Allow  int `json:"allow"`
	Deny   int `json:"deny"`
	Errors int `json:"error"`
}

// ToolCount holds a tool and its invocation count.
type ToolCount struct {
	LogicalName string `json:"logicalName"`
	Count       int    `json:"count"`
	Errors      int    `json:"errors"`
}

// CodeCount holds an error code and its count.
type CodeCount struct {
	Code  string `json:"code"`
	Count int    `json:"count"`
}

// RedactionCount holds a redaction type and the number of replacements.
type RedactionCount struct {
	Type  string `json:"type"`
	Count int    `json:"count"`
}

// TimeSeriesBucket holds an hourly count.
type TimeSeriesBucket struct {
	Hour  string `json:"hour"`
	Count int    `json:"count"`
}

// LatencyStats holds latency percentiles in milliseconds.
type LatencyStats struct {
	P50 float64 `json:"p50"`
	P95 float64 `json:"p95"`
	P99 float64 `json:"p99"`
}

// Summary holds all aggregations for one team.
type Summary struct {
	Days                int                `json:"days"`
	Totals              DecisionTotals     `json:"totals"`
	TopTools            []ToolCount        `json:"topTools"`
	ErrorCodes          []CodeCount        `json:"errorCodes"`
	Redactions          []RedactionCount   `json:"redactions"`
	InvocationsOverTime []TimeSeriesBucket `json:"invocationsOverTime"`
	Latency             LatencyStats       `json:"latency"`
}

// ClampDays bounds a requested window to [1, MaxDays], defaulting to DefaultDays.
func ClampDays(days int) int {
	switch {
	case days <= 0:
		return DefaultDays
	case days > MaxDays:
		return MaxDays
	}
	return days
}

// GetSummary returns aggregated analytics for a team over the given number of days.
func (r *Reader) GetSummary(ctx context.Context, teamID string, days int) (*Summary, error) {
	days = ClampDays(days)
	rangeStart := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)

	args := []any{
		clickhouse.Named("team_id", teamID),
		clickhouse.Named("range_start", rangeStart),
	}
	result := &Summary{Days: days}

	var total, allow, deny, errs uint64
	err := r.conn.QueryRow(ctx,
		"SELECT count(), "+
			"countIf(decision = 'allow'), "+
			"countIf(decision = 'deny'), "+
			"countIf(decision = 'error') "+
			"FROM invocation_events "+
			"WHERE team_id = @team_id AND timestamp >= @range_start",
		args...,
	).Scan(&total, &allow, &deny, &errs)
	if err != nil {
		return nil, fmt.Errorf("GetSummary totals: %w", err)
	}
	result.Totals = DecisionTotals{Total: int(total), Allow: int(allow), Deny: int(deny), Errors: int(errs)}

	toolRows, err := r.conn.Query(ctx,
		"SELECT logical_name, count() AS c, countIf(decision != 'allow') "+
			"FROM invocation_events "+
			"WHERE team_id = @team_id AND logical_name != '' AND timestamp >= @range_start "+
			"GROUP BY logical_name ORDER BY c DESC LIMIT 10",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetSummary top_tools: %w", err)
	}
	defer func() { _ = toolRows.Close() }()
	for toolRows.Next() {
		var name string
		var count, failed uint64
		if err := toolRows.Scan(&name, &count, &failed); err != nil {
			return nil, fmt.Errorf("GetSummary top_tools scan: %w", err)
		}
		result.TopTools = append(result.TopTools, ToolCount{LogicalName: name, Count: int(count), Errors: int(failed)})
	}

	codeRows, err := r.conn.Query(ctx,
		"SELECT error_code, count() AS c "+
			"FROM invocation_events "+
			"WHERE team_id = @team_id AND error_code != '' AND timestamp >= @range_start "+
			"GROUP BY error_code ORDER BY c DESC",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetSummary error_codes: %w", err)
	}
	defer func() { _ = codeRows.Close() }()
	for codeRows.Next() {
		var code string
		var count uint64
		if err := codeRows.Scan(&code, &count); err != nil {
			return nil, fmt.Errorf("GetSummary error_codes scan: %w", err)
		}
		result.ErrorCodes = append(result.ErrorCodes, CodeCount{Code: code, Count: int(count)})
	}

	redRows, err := r.conn.Query(ctx,
		"SELECT t, sum(c) AS n "+
			"FROM invocation_events "+
			"ARRAY JOIN redaction_types AS t, redaction_counts AS c "+
			"WHERE team_id = @team_id AND timestamp >= @range_start "+
			"GROUP BY t ORDER BY n DESC",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetSummary redactions: %w", err)
	}
	defer func() { _ = redRows.Close() }()
	for redRows.Next() {
		var typ string
		var n uint64
		if err := redRows.Scan(&typ, &n); err != nil {
			return nil, fmt.Errorf("GetSummary redactions scan: %w", err)
		}
		result.Redactions = append(result.Redactions, RedactionCount{Type: typ, Count: int(n)})
	}

	hourRows, err := r.conn.Query(ctx,
		"SELECT toStartOfHour(timestamp) AS hour, count() "+
			"FROM invocation_events "+
			"WHERE team_id = @team_id AND timestamp >= @range_start "+
			"GROUP BY hour ORDER BY hour",
		args...,
	)
	if err != nil {
		return nil, fmt.Errorf("GetSummary over_time: %w", err)
	}
	defer func() { _ = hourRows.Close() }()
	for hourRows.Next() {
		var hour time.Time
		var count uint64
		if err := hourRows.Scan(&hour, &count); err != nil {
			return nil, fmt.Errorf("GetSummary over_time scan: %w", err)
		}
		result.InvocationsOverTime = append(result.InvocationsOverTime, TimeSeriesBucket{
			Hour:  hour.Format(time.RFC3339),
			Count: int(count),
		})
	}

	var p50, p95, p99 float64
	err = r.conn.QueryRow(ctx,
		"SELECT quantile(0.5)(toFloat64(latency_ms)), "+
			"quantile(0.95)(toFloat64(latency_ms)), "+
			"quantile(0.99)(toFloat64(latency_ms)) "+
			"FROM invocation_events "+
			"WHERE team_id = @team_id AND decision = 'allow' AND timestamp >= @range_start",
		args...,
	).Scan(&p50, &p95, &p99)
	if err != nil {
		return nil, fmt.Errorf("GetSummary latency: %w", err)
	}
	result.Latency = LatencyStats{P50: safeFloat(p50), P95: safeFloat(p95), P99: safeFloat(p99)}

	result.normalize()
	return result, nil
}

// normalize makes slices non-nil for JSON serialization.
func (s *Summary) normalize() {
	if s.TopTools == nil {
		s.TopTools = []ToolCount{}
	}
	if s.ErrorCodes == nil {
		s.ErrorCodes = []CodeCount{}
	}
	if s.Redactions == nil {
		s.Redactions = []RedactionCount{}
	}
	if s.InvocationsOverTime == nil {
		s.InvocationsOverTime = []TimeSeriesBucket{}
	}
}

// safeFloat replaces NaN/Inf with 0.0.
// ClickHouse returns NaN for quantile() on empty result sets.
func safeFloat(f float64) float64 {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0.0
	}
	return f
}
