// Package invoke runs the tool invocation pipeline:
// resolve, authorize, rate limit, dispatch, scrub, then audit.
package invoke

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/entrys/gateway/internal/audit"
	"github.com/entrys/gateway/internal/dispatch"
	"github.com/entrys/gateway/internal/metrics"
	"github.com/entrys/gateway/internal/scrub"
	"github.com/entrys/gateway/internal/store"
)

// Error codes returned to callers.
const (
	CodeToolNotFound = "TOOL_NOT_FOUND"
	CodeUnauthorized = "UNAUTHORIZED"
	CodeRateLimited  = "RATE_LIMITED"
	CodeValidation   = dispatch.CodeValidation
	CodeMCP          = dispatch.CodeMCP
	CodeUpstream     = dispatch.CodeUpstream
)

// Resolver maps a caller-supplied name to the active tool version.
type Resolver interface {
	ResolveActiveVersion(ctx context.Context, nameOrAlias, envID, teamID string) (*store.Tool, error)
}

// Authorizer decides whether an agent may call a tool.
type Authorizer interface {
	IsAllowed(ctx context.Context, teamID, toolID, agentKeyID string) (bool, error)
}

// Limiter takes one token for an (agent, tool) pair.
type Limiter interface {
	Consume(ctx context.Context, agentKeyID, toolID string) bool
}

// Dispatcher calls a tool backend.
type Dispatcher interface {
	Dispatch(ctx context.Context, tool *store.Tool, req dispatch.Request) (*dispatch.Result, error)
}

// Recorder persists one audit entry.
type Recorder interface {
	Record(ctx context.Context, e audit.Entry)
}

// Call is one authenticated invocation request.
type Call struct {
	TeamID         string
	EnvID          string
	Environment    string
	AgentKeyID     string
	AgentName      string
	AgentKeyPrefix string
	ToolName       string
	Input          any
	Params         map[string]string
}

func (c *Call) agentLabel() string {
	return fmt.Sprintf("%s (%s...)", c.AgentName, c.AgentKeyPrefix)
}

// ErrorBody is the error part of a failed Response.
type ErrorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Meta describes a completed invocation.
type Meta struct {
	RequestID   string            `json:"requestId"`
	LatencyMs   int               `json:"latencyMs"`
	Redactions  []scrub.Redaction `json:"redactions"`
	Version     string            `json:"version"`
	BackendType string            `json:"backendType"`
}

// Response is the pipeline result. Exactly one of Output/Meta or Error is
// meaningful, selected by OK.
type Response struct {
	OK     bool
	Tool   string
	Output any
	Meta   Meta
	Error  *ErrorBody
}

// MarshalJSON renders the success and failure shapes.
func (r *Response) MarshalJSON() ([]byte, error) {
	if r.OK {
		return json.Marshal(struct {
			OK     bool   `json:"ok"`
			Tool   string `json:"tool"`
			Output any    `json:"output"`
			Meta   Meta   `json:"meta"`
		}{true, r.Tool, r.Output, r.Meta})
	}
	return json.Marshal(struct {
		OK    bool        `json:"ok"`
		Error *ErrorBody  `json:"error"`
		Meta  failureMeta `json:"meta"`
	}{false, r.Error, failureMeta{r.Meta.RequestID}})
}

type failureMeta struct {
	RequestID string `json:"requestId"`
}

// Orchestrator wires the pipeline stages together.
type Orchestrator struct {
	resolver   Resolver
	authorizer Authorizer
	limiter    Limiter
	dispatcher Dispatcher
	recorder   Recorder
	logger     *zap.Logger
	now        func() time.Time
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(res Resolver, authz Authorizer, lim Limiter, disp Dispatcher, rec Recorder, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		resolver:   res,
		authorizer: authz,
		limiter:    lim,
		dispatcher: disp,
		recorder:   rec,
		logger:     logger,
		now:        time.Now,
	}
}

// run holds the state of one invocation as it moves through the stages.
type run struct {
	call      *Call
	requestID string
	start     time.Time
	tool      *store.Tool
}

// Invoke executes call. It never returns nil, and every return path has
// written exactly one audit entry.
func (o *Orchestrator) Invoke(ctx context.Context, call Call) *Response {
	r := &run{call: &call, requestID: uuid.NewString(), start: o.now()}

	tool, err := o.resolver.ResolveActiveVersion(ctx, call.ToolName, call.EnvID, call.TeamID)
	if err != nil {
		o.logger.Error("tool resolution failed",
			zap.String("request_id", r.requestID),
			zap.String("tool_name", call.ToolName),
			zap.Error(err),
		)
		return o.fail(ctx, r, store.DecisionError, CodeToolNotFound, notFoundMessage(call.ToolName))
	}
	if tool == nil {
		return o.fail(ctx, r, store.DecisionDeny, CodeToolNotFound, notFoundMessage(call.ToolName))
	}
	r.tool = tool

	allowed, err := o.authorizer.IsAllowed(ctx, call.TeamID, tool.ID, call.AgentKeyID)
	if err != nil {
		o.logger.Error("authorization check failed",
			zap.String("request_id", r.requestID),
			zap.String("tool_id", tool.ID),
			zap.Error(err),
		)
		return o.fail(ctx, r, store.DecisionError, CodeUnauthorized, "Agent not authorized for this tool")
	}
	if !allowed {
		return o.fail(ctx, r, store.DecisionDeny, CodeUnauthorized, "Agent not authorized for this tool")
	}

	if !o.limiter.Consume(ctx, call.AgentKeyID, tool.ID) {
		return o.fail(ctx, r, store.DecisionDeny, CodeRateLimited, "Rate limit exceeded")
	}

	res, err := o.dispatch(ctx, tool, dispatch.Request{Input: call.Input, Params: call.Params})
	if err != nil {
		code, msg := classify(err)
		o.logger.Warn("tool dispatch failed",
			zap.String("request_id", r.requestID),
			zap.String("logical_name", tool.LogicalName),
			zap.String("version", tool.Version),
			zap.String("code", code),
			zap.Error(err),
		)
		return o.fail(ctx, r, store.DecisionError, code, msg)
	}

	latency := o.elapsedMs(r)
	output, redactions := res.Output, []scrub.Redaction{}
	if tool.RedactionEnabled {
		s := scrub.Scrub(res.Output)
		output = s.Scrubbed
		if s.Redactions != nil {
			redactions = s.Redactions
		}
		for _, rd := range redactions {
			metrics.Redactions.WithLabelValues(rd.Type).Add(float64(rd.Count))
		}
	}

	o.record(ctx, r, store.DecisionAllow, "", res.StatusCode, latency, redactions)
	o.observe(store.DecisionAllow, "", tool.Type, latency)

	return &Response{
		OK:     true,
		Tool:   call.ToolName,
		Output: output,
		Meta: Meta{
			RequestID:   r.requestID,
			LatencyMs:   latency,
			Redactions:  redactions,
			Version:     tool.Version,
			BackendType: tool.Type,
		},
	}
}

// dispatch calls the backend, turning a panic into an upstream error.
func (o *Orchestrator) dispatch(ctx context.Context, tool *store.Tool, req dispatch.Request) (res *dispatch.Result, err error) {
	defer func() {
		if p := recover(); p != nil {
			o.logger.Error("panic during dispatch", zap.Any("panic", p), zap.String("tool_id", tool.ID))
			res, err = nil, &dispatch.Error{Code: CodeUpstream, Message: fmt.Sprint(p)}
		}
	}()
	res, err = o.dispatcher.Dispatch(ctx, tool, req)
	if err == nil && res == nil {
		res = &dispatch.Result{}
	}
	return res, err
}

func (o *Orchestrator) fail(ctx context.Context, r *run, decision, code, message string) *Response {
	latency := o.elapsedMs(r)
	o.record(ctx, r, decision, code, nil, latency, nil)

	backend := ""
	if r.tool != nil {
		backend = r.tool.Type
	}
	o.observe(decision, code, backend, latency)

	return &Response{
		OK:    false,
		Meta:  Meta{RequestID: r.requestID},
		Error: &ErrorBody{Code: code, Message: message},
	}
}

func (o *Orchestrator) record(ctx context.Context, r *run, decision, code string, status *int, latency int, redactions []scrub.Redaction) {
	e := audit.Entry{
		TeamID:      r.call.TeamID,
		EnvID:       r.call.EnvID,
		Environment: r.call.Environment,
		RequestID:   r.requestID,
		AgentKeyID:  r.call.AgentKeyID,
		AgentName:   r.call.AgentName,
		AgentLabel:  r.call.agentLabel(),
		ToolName:    r.call.ToolName,
		Decision:    decision,
		ErrorCode:   code,
		StatusCode:  status,
		LatencyMs:   latency,
		Redactions:  redactions,
	}
	if t := r.tool; t != nil {
		e.LogicalName = &t.LogicalName
		e.ToolVersion = &t.Version
		e.BackendType = &t.Type
	}
	o.recorder.Record(ctx, e)
}

func (o *Orchestrator) observe(decision, code, backend string, latencyMs int) {
	metrics.Invocations.WithLabelValues(decision, code).Inc()
	metrics.InvocationDuration.WithLabelValues(backend).Observe(float64(latencyMs) / 1000)
}

func (o *Orchestrator) elapsedMs(r *run) int {
	return int(o.now().Sub(r.start).Milliseconds())
}

// classify maps a dispatch failure to a caller-facing code and message.
func classify(err error) (string, string) {
	var de *dispatch.Error
	if errors.As(err, &de) {
		msg := de.Message
		if de.Err != nil {
			msg += ": " + de.Err.Error()
		}
		return de.Code, msg
	}
	return CodeUpstream, err.Error()
}

func notFoundMessage(name string) string {
	return fmt.Sprintf("Tool %q not found or no active version", name)
}
