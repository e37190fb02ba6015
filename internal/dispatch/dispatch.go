// Package dispatch executes a resolved tool call against its HTTP or MCP backend.
package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/entrys/gateway/internal/metrics"
	"github.com/entrys/gateway/internal/store"
)

// Failure codes a dispatch can end with.
const (
	CodeValidation = "VALIDATION_ERROR"
	CodeMCP        = "MCP_ERROR"
	CodeUpstream   = "UPSTREAM_ERROR"
)

// DefaultTimeout bounds one backend round trip.
const DefaultTimeout = 30 * time.Second

// Error is a dispatch failure carrying the code reported to the caller.
type Error struct {
	Code    string
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Message + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func validationError(format string, args ...any) *Error {
	return &Error{Code: CodeValidation, Message: fmt.Sprintf(format, args...)}
}

// Request is the caller-supplied part of an invocation.
type Request struct {
	Input  any               // decoded JSON body input, may be nil
	Params map[string]string // URL template substitutions
}

// Result is a successful backend response. StatusCode is nil for MCP.
type Result struct {
	Output     any
	StatusCode *int
}

// Config configures a Dispatcher.
type Config struct {
	Timeout time.Duration
	Client  *http.Client // optional; overrides Timeout
}

// Dispatcher routes a call by tool type. It is safe for concurrent use.
type Dispatcher struct {
	client  *http.Client
	schemas sync.Map // tool id + updated_at -> compiled schema
	logger  *zap.Logger
}

// New creates a Dispatcher.
func New(cfg Config, logger *zap.Logger) *Dispatcher {
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = DefaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Dispatcher{client: client, logger: logger}
}

// Dispatch validates the input and calls the tool's backend.
func (d *Dispatcher) Dispatch(ctx context.Context, tool *store.Tool, req Request) (*Result, error) {
	if err := d.validateInput(tool, req.Input); err != nil {
		return nil, err
	}

	start := time.Now()
	var (
		res *Result
		err error
	)
	switch tool.Type {
	case store.ToolTypeMCP:
		res, err = d.callMCP(ctx, tool, req)
	case store.ToolTypeHTTP, "":
		res, err = d.callHTTP(ctx, tool, req)
	default:
		return nil, &Error{Code: CodeUpstream, Message: "Unsupported tool type: " + tool.Type}
	}

	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	metrics.BackendDuration.WithLabelValues(tool.Type, outcome).Observe(time.Since(start).Seconds())
	return res, err
}
