package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/entrys/gateway/internal/store"
)

// UserAgent is sent on every outbound backend and webhook request.
const UserAgent = "AgentToolGateway/1.0"

// maxResponseBytes caps how much of a backend response is read.
const maxResponseBytes = 10 << 20

func (d *Dispatcher) callHTTP(ctx context.Context, tool *store.Tool, req Request) (*Result, error) {
	target, err := ExpandURL(tool.URLTemplate, req.Params)
	if err != nil {
		return nil, err
	}

	method := strings.ToUpper(tool.Method)
	if method == "" {
		method = http.MethodPost
	}

	var body io.Reader
	if method != http.MethodGet && req.Input != nil {
		b, err := json.Marshal(req.Input)
		if err != nil {
			return nil, &Error{Code: CodeValidation, Message: "Input is not serializable", Err: err}
		}
		body = bytes.NewReader(b)
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, body)
	if err != nil {
		return nil, &Error{Code: CodeUpstream, Message: "Invalid backend request", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("User-Agent", UserAgent)
	for k, v := range d.toolHeaders(tool) {
		httpReq.Header.Set(k, v)
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, &Error{Code: CodeUpstream, Message: "Upstream request failed", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &Error{Code: CodeUpstream, Message: "Failed to read upstream response", Err: err}
	}

	status := resp.StatusCode
	result := &Result{StatusCode: &status}

	if strings.Contains(resp.Header.Get("Content-Type"), "application/json") {
		if len(bytes.TrimSpace(raw)) == 0 {
			return result, nil
		}
		var out any
		if err := json.Unmarshal(raw, &out); err != nil {
			return nil, &Error{Code: CodeUpstream, Message: "Upstream returned invalid JSON", Err: err}
		}
		result.Output = out
		return result, nil
	}

	result.Output = map[string]any{"raw": string(raw)}
	return result, nil
}

// toolHeaders decodes headers_json. Malformed JSON is ignored.
func (d *Dispatcher) toolHeaders(tool *store.Tool) map[string]string {
	if len(tool.HeadersJSON) == 0 {
		return nil
	}
	var headers map[string]string
	if err := json.Unmarshal(tool.HeadersJSON, &headers); err != nil {
		d.logger.Warn("ignoring malformed tool headers",
			zap.String("tool_id", tool.ID),
			zap.Error(err),
		)
		return nil
	}
	return headers
}
