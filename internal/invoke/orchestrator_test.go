package invoke

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"sync"
	"testing"

	"go.uber.org/zap"

	"github.com/entrys/gateway/internal/audit"
	"github.com/entrys/gateway/internal/dispatch"
	"github.com/entrys/gateway/internal/ratelimit"
	"github.com/entrys/gateway/internal/scrub"
	"github.com/entrys/gateway/internal/store"
)

type fakeResolver struct {
	tools map[string]*store.Tool
	err   error
}

func (f *fakeResolver) ResolveActiveVersion(_ context.Context, name, _, _ string) (*store.Tool, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.tools[name], nil
}

type fakeAuthorizer struct {
	allowed bool
	err     error
}

func (f *fakeAuthorizer) IsAllowed(context.Context, string, string, string) (bool, error) {
	return f.allowed, f.err
}

type fakeLimiter struct{ allow bool }

func (f *fakeLimiter) Consume(context.Context, string, string) bool { return f.allow }

type fakeDispatcher struct {
	res   *dispatch.Result
	err   error
	panic any
	calls int
}

func (f *fakeDispatcher) Dispatch(context.Context, *store.Tool, dispatch.Request) (*dispatch.Result, error) {
	f.calls++
	if f.panic != nil {
		panic(f.panic)
	}
	return f.res, f.err
}

type fakeRecorder struct {
	mu      sync.Mutex
	entries []audit.Entry
}

func (f *fakeRecorder) Record(_ context.Context, e audit.Entry) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries = append(f.entries, e)
}

func echoTool(url string) *store.Tool {
	return &store.Tool{
		ID: "tool-1", LogicalName: "echo_httpbin", Version: "v1", Type: store.ToolTypeHTTP,
		Method: http.MethodPost, URLTemplate: url, IsActive: true, AllowAllAgents: true, RedactionEnabled: true,
	}
}

func testCall(name string) Call {
	return Call{
		TeamID: "team-1", EnvID: "env-1", Environment: "staging",
		AgentKeyID: "agent-1", AgentName: "demo-agent", AgentKeyPrefix: "ent_stag_abc",
		ToolName: name,
	}
}

type harness struct {
	resolver   *fakeResolver
	authorizer *fakeAuthorizer
	limiter    *fakeLimiter
	dispatcher *fakeDispatcher
	recorder   *fakeRecorder
	orch       *Orchestrator
}

func newHarness(tool *store.Tool) *harness {
	h := &harness{
		resolver:   &fakeResolver{tools: map[string]*store.Tool{"echo": tool}},
		authorizer: &fakeAuthorizer{allowed: true},
		limiter:    &fakeLimiter{allow: true},
		dispatcher: &fakeDispatcher{res: &dispatch.Result{Output: map[string]any{"ok": 1.0}}},
		recorder:   &fakeRecorder{},
	}
	h.orch = NewOrchestrator(h.resolver, h.authorizer, h.limiter, h.dispatcher, h.recorder, zap.NewNop())
	return h
}

func (h *harness) onlyEntry(t *testing.T) audit.Entry {
	t.Helper()
	if len(h.recorder.entries) != 1 {
		t.Fatalf("audit entries = %d, want 1", len(h.recorder.entries))
	}
	return h.recorder.entries[0]
}

func TestInvoke_TerminalPaths(t *testing.T) {
	tests := []struct {
		name         string
		setup        func(h *harness)
		wantCode     string
		wantDecision string
		wantResolved bool
	}{
		{"missing tool", func(h *harness) { h.resolver.tools = nil }, CodeToolNotFound, store.DecisionDeny, false},
		{"resolver error", func(h *harness) { h.resolver.err = errors.New("db down") }, CodeToolNotFound, store.DecisionError, false},
		{"policy deny", func(h *harness) { h.authorizer.allowed = false }, CodeUnauthorized, store.DecisionDeny, true},
		{"policy error", func(h *harness) { h.authorizer.err = errors.New("db down") }, CodeUnauthorized, store.DecisionError, true},
		{"rate limited", func(h *harness) { h.limiter.allow = false }, CodeRateLimited, store.DecisionDeny, true},
		{"validation", func(h *harness) {
			h.dispatcher.err = &dispatch.Error{Code: dispatch.CodeValidation, Message: "Missing required parameter: id"}
		}, CodeValidation, store.DecisionError, true},
		{"mcp", func(h *harness) {
			h.dispatcher.err = &dispatch.Error{Code: dispatch.CodeMCP, Message: "MCP tool call failed"}
		}, CodeMCP, store.DecisionError, true},
		{"plain error", func(h *harness) { h.dispatcher.err = errors.New("connection reset") }, CodeUpstream, store.DecisionError, true},
		{"panic", func(h *harness) { h.dispatcher.panic = "nil map write" }, CodeUpstream, store.DecisionError, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(echoTool("http://unused"))
			tt.setup(h)

			resp := h.orch.Invoke(context.Background(), testCall("echo"))
			if resp.OK || resp.Error == nil || resp.Error.Code != tt.wantCode {
				t.Fatalf("response = %+v", resp)
			}
			if resp.Meta.RequestID == "" {
				t.Error("failure response has no request id")
			}

			e := h.onlyEntry(t)
			if e.Decision != tt.wantDecision || e.ErrorCode != tt.wantCode || e.RequestID != resp.Meta.RequestID {
				t.Errorf("entry = %+v", e)
			}
			if (e.LogicalName != nil) != tt.wantResolved {
				t.Errorf("logical name set = %v, want %v", e.LogicalName != nil, tt.wantResolved)
			}
			if e.AgentLabel != "demo-agent (ent_stag_abc...)" {
				t.Errorf("label = %q", e.AgentLabel)
			}
		})
	}
}

func TestInvoke_StopsAtFirstFailingStage(t *testing.T) {
	h := newHarness(echoTool("http://unused"))
	h.limiter.allow = false
	h.orch.Invoke(context.Background(), testCall("echo"))
	if h.dispatcher.calls != 0 {
		t.Error("dispatcher called after rate limit")
	}
}

func TestInvoke_PanicMessageSurfaced(t *testing.T) {
	h := newHarness(echoTool("http://unused"))
	h.dispatcher.panic = "boom"
	resp := h.orch.Invoke(context.Background(), testCall("echo"))
	if resp.Error.Message != "boom" {
		t.Errorf("message = %q", resp.Error.Message)
	}
}

func TestInvoke_RedactionDisabledPassesOutputThrough(t *testing.T) {
	tool := echoTool("http://unused")
	tool.RedactionEnabled = false
	h := newHarness(tool)
	h.dispatcher.res = &dispatch.Result{Output: map[string]any{"email": "x@y.com"}}

	resp := h.orch.Invoke(context.Background(), testCall("echo"))
	if !resp.OK {
		t.Fatalf("response = %+v", resp)
	}
	if !reflect.DeepEqual(resp.Output, map[string]any{"email": "x@y.com"}) {
		t.Errorf("output = %v", resp.Output)
	}
	if len(resp.Meta.Redactions) != 0 || resp.Meta.Redactions == nil {
		t.Errorf("redactions = %#v", resp.Meta.Redactions)
	}
}

func TestInvoke_CleanOutputReportsEmptyRedactions(t *testing.T) {
	h := newHarness(echoTool("http://unused"))
	h.dispatcher.res = &dispatch.Result{Output: map[string]any{"status": "ok"}}

	resp := h.orch.Invoke(context.Background(), testCall("echo"))
	if !resp.OK {
		t.Fatalf("response = %+v", resp)
	}
	b, err := json.Marshal(resp)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(b), `"redactions":[]`) {
		t.Errorf("body = %s", b)
	}
	if e := h.onlyEntry(t); e.Redactions == nil {
		t.Errorf("entry redactions = %#v", e.Redactions)
	}
}

func TestInvoke_EndToEndEchoWithRedaction(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]any
		_ = json.NewDecoder(r.Body).Decode(&body)
		w.Header().Set("Content-Type", "application/json")
		raw, _ := json.Marshal(body)
		_ = json.NewEncoder(w).Encode(map[string]any{"data": string(raw)})
	}))
	defer backend.Close()

	rec := &fakeRecorder{}
	orch := NewOrchestrator(
		&fakeResolver{tools: map[string]*store.Tool{"echo_httpbin": echoTool(backend.URL)}},
		&fakeAuthorizer{allowed: true},
		ratelimit.NewMemoryLimiter(ratelimit.Config{}),
		dispatch.New(dispatch.Config{}, zap.NewNop()),
		rec,
		zap.NewNop(),
	)

	call := testCall("echo_httpbin")
	call.Input = map[string]any{"email": "x@y.com"}
	resp := orch.Invoke(context.Background(), call)
	if !resp.OK {
		t.Fatalf("response = %+v", resp.Error)
	}

	out, _ := json.Marshal(resp.Output)
	if want := `{"data":"{\"email\":\"[REDACTED]\"}"}`; string(out) != want {
		t.Errorf("output = %s, want %s", out, want)
	}
	if !reflect.DeepEqual(resp.Meta.Redactions, []scrub.Redaction{{Type: "email", Count: 1}}) {
		t.Errorf("redactions = %v", resp.Meta.Redactions)
	}
	if resp.Meta.Version != "v1" || resp.Meta.BackendType != "http" || resp.Tool != "echo_httpbin" {
		t.Errorf("meta = %+v", resp.Meta)
	}

	if len(rec.entries) != 1 {
		t.Fatalf("entries = %d", len(rec.entries))
	}
	e := rec.entries[0]
	if e.Decision != store.DecisionAllow || e.StatusCode == nil || *e.StatusCode != 200 || scrub.Total(e.Redactions) != 1 {
		t.Errorf("entry = %+v", e)
	}
}

func TestResponse_JSONShapes(t *testing.T) {
	ok := &Response{OK: true, Tool: "echo", Output: nil, Meta: Meta{RequestID: "r1", Redactions: []scrub.Redaction{}, Version: "v1", BackendType: "http"}}
	b, err := json.Marshal(ok)
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"ok":true,"tool":"echo","output":null,"meta":{"requestId":"r1","latencyMs":0,"redactions":[],"version":"v1","backendType":"http"}}`; string(b) != want {
		t.Errorf("success = %s", b)
	}

	failed := &Response{Meta: Meta{RequestID: "r2", Version: "v9"}, Error: &ErrorBody{Code: CodeToolNotFound, Message: "nope"}}
	b, err = json.Marshal(failed)
	if err != nil {
		t.Fatal(err)
	}
	if want := `{"ok":false,"error":{"code":"TOOL_NOT_FOUND","message":"nope"},"meta":{"requestId":"r2"}}`; string(b) != want {
		t.Errorf("failure = %s", b)
	}
}
