package dispatch

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"reflect"
	"strings"
	"testing"

	"github.com/entrys/gateway/internal/store"
)

// mcpServer answers every tools/call with reply and records the request.
func mcpServer(t *testing.T, status int, reply string, seen *rpcRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if seen != nil {
			if err := json.NewDecoder(r.Body).Decode(seen); err != nil {
				t.Errorf("decode request: %v", err)
			}
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func mcpTool(url string) *store.Tool {
	return &store.Tool{Type: store.ToolTypeMCP, LogicalName: "lookup_customer", URLTemplate: url}
}

func TestMCP_EnvelopeAndSingleTextJSON(t *testing.T) {
	var seen rpcRequest
	srv := mcpServer(t, 200,
		`{"jsonrpc":"2.0","id":"1","result":{"content":[{"type":"text","text":"{\"name\":\"Ada\"}"}]}}`, &seen)

	tool := mcpTool(srv.URL)
	tool.MCPToolName = strPtr("customers.lookup")
	res, err := newTestDispatcher().Dispatch(context.Background(), tool, Request{Input: map[string]any{"id": "c-1"}})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if seen.JSONRPC != "2.0" || seen.Method != "tools/call" || seen.ID == "" {
		t.Errorf("envelope = %+v", seen)
	}
	if seen.Params.Name != "customers.lookup" {
		t.Errorf("name = %s", seen.Params.Name)
	}
	if seen.Params.Arguments["id"] != "c-1" {
		t.Errorf("arguments = %v", seen.Params.Arguments)
	}
	if !reflect.DeepEqual(res.Output, map[string]any{"name": "Ada"}) {
		t.Errorf("output = %#v", res.Output)
	}
	if res.StatusCode != nil {
		t.Error("MCP result should carry no status code")
	}
}

func TestMCP_DefaultsNameAndEmptyArguments(t *testing.T) {
	var seen rpcRequest
	srv := mcpServer(t, 200,
		`{"jsonrpc":"2.0","id":"1","result":{"content":[{"type":"text","text":"plain words"}]}}`, &seen)

	res, err := newTestDispatcher().Dispatch(context.Background(), mcpTool(srv.URL), Request{})
	if err != nil {
		t.Fatal(err)
	}
	if seen.Params.Name != "lookup_customer" {
		t.Errorf("name = %s", seen.Params.Name)
	}
	if seen.Params.Arguments == nil {
		t.Error("arguments should be an empty object, got null/missing")
	}
	if res.Output != "plain words" {
		t.Errorf("output = %#v", res.Output)
	}
}

func TestMCP_MixedContent(t *testing.T) {
	srv := mcpServer(t, 200, `{"jsonrpc":"2.0","id":"1","result":{"content":[
		{"type":"text","text":"summary"},
		{"type":"image","data":"aGVsbG8=","mimeType":"image/png"},
		{"type":"resource","resource":{"uri":"file:///report.csv","mimeType":"text/csv","text":"a,b"}}
	]}}`, nil)

	res, err := newTestDispatcher().Dispatch(context.Background(), mcpTool(srv.URL), Request{})
	if err != nil {
		t.Fatal(err)
	}
	want := []any{
		map[string]any{"type": "text", "content": "summary"},
		map[string]any{"type": "image", "mimeType": "image/png", "data": "[REDACTED]"},
		map[string]any{"type": "resource", "uri": "file:///report.csv"},
	}
	if !reflect.DeepEqual(res.Output, want) {
		t.Errorf("output = %#v", res.Output)
	}
}

func TestMCP_LooseContentWithholdsImageData(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		want  []any
	}{
		{
			"resource with top-level uri",
			`{"jsonrpc":"2.0","id":"1","result":{"content":[
				{"type":"image","data":"SECRETBYTES","mimeType":"image/png"},
				{"type":"resource","uri":"file:///x"}
			]}}`,
			[]any{
				map[string]any{"type": "image", "mimeType": "image/png", "data": "[REDACTED]"},
				map[string]any{"type": "resource", "uri": "file:///x"},
			},
		},
		{
			"unknown part type",
			`{"jsonrpc":"2.0","id":"1","result":{"content":[
				{"type":"text","text":"see attached"},
				{"type":"image","data":"SECRETBYTES","mimeType":"image/jpeg"},
				{"type":"custom"}
			]}}`,
			[]any{
				map[string]any{"type": "text", "content": "see attached"},
				map[string]any{"type": "image", "mimeType": "image/jpeg", "data": "[REDACTED]"},
				map[string]any{"type": "custom"},
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := mcpServer(t, 200, tt.reply, nil)
			res, err := newTestDispatcher().Dispatch(context.Background(), mcpTool(srv.URL), Request{})
			if err != nil {
				t.Fatal(err)
			}
			if !reflect.DeepEqual(res.Output, tt.want) {
				t.Errorf("output = %#v", res.Output)
			}
			b, _ := json.Marshal(res.Output)
			if strings.Contains(string(b), "SECRETBYTES") {
				t.Errorf("image data returned to caller: %s", b)
			}
		})
	}
}

func TestMCP_Failures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		reply  string
	}{
		{"http status", 500, `{"error":"boom"}`},
		{"rpc error", 200, `{"jsonrpc":"2.0","id":"1","error":{"code":-32601,"message":"Method not found"}}`},
		{"tool error", 200, `{"jsonrpc":"2.0","id":"1","result":{"isError":true,"content":[{"type":"text","text":"bad id"}]}}`},
		{"not json", 200, `<html>`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := mcpServer(t, tt.status, tt.reply, nil)
			_, err := newTestDispatcher().Dispatch(context.Background(), mcpTool(srv.URL), Request{})
			if code := codeOf(t, err); code != CodeMCP {
				t.Errorf("code = %s", code)
			}
		})
	}
}

func TestMCP_NonObjectInputRejected(t *testing.T) {
	srv := mcpServer(t, 200, `{}`, nil)
	_, err := newTestDispatcher().Dispatch(context.Background(), mcpTool(srv.URL), Request{Input: []any{1.0}})
	if code := codeOf(t, err); code != CodeValidation {
		t.Errorf("code = %s", code)
	}
}

func TestMCP_NonConformingResultPassesThrough(t *testing.T) {
	srv := mcpServer(t, 200, `{"jsonrpc":"2.0","id":"1","result":{"rows":[1,2]}}`, nil)
	res, err := newTestDispatcher().Dispatch(context.Background(), mcpTool(srv.URL), Request{})
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(res.Output, map[string]any{"rows": []any{1.0, 2.0}}) {
		t.Errorf("output = %#v", res.Output)
	}
}
