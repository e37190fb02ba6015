package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"

	"github.com/entrys/gateway/internal/scrub"
	"github.com/entrys/gateway/internal/store"
)

type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      string         `json:"id"`
	Method  mcp.MCPMethod  `json:"method"`
	Params  toolCallParams `json:"params"`
}

// toolCallParams always carries arguments, even when empty.
type toolCallParams struct {
	Name      string         `json:"name"`
	Arguments map[string]any `json:"arguments"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result json.RawMessage `json:"result"`
	Error  *rpcError       `json:"error"`
}

func mcpError(format string, args ...any) *Error {
	return &Error{Code: CodeMCP, Message: fmt.Sprintf(format, args...)}
}

func (d *Dispatcher) callMCP(ctx context.Context, tool *store.Tool, req Request) (*Result, error) {
	args := map[string]any{}
	switch in := req.Input.(type) {
	case nil:
	case map[string]any:
		args = in
	default:
		return nil, validationError("MCP tool input must be a JSON object")
	}

	name := tool.LogicalName
	if tool.MCPToolName != nil && *tool.MCPToolName != "" {
		name = *tool.MCPToolName
	}

	payload, err := json.Marshal(rpcRequest{
		JSONRPC: mcp.JSONRPC_VERSION,
		ID:      uuid.NewString(),
		Method:  mcp.MethodToolsCall,
		Params:  toolCallParams{Name: name, Arguments: args},
	})
	if err != nil {
		return nil, &Error{Code: CodeValidation, Message: "Input is not serializable", Err: err}
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, tool.URLTemplate, bytes.NewReader(payload))
	if err != nil {
		return nil, &Error{Code: CodeMCP, Message: "Invalid MCP server address", Err: err}
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("User-Agent", UserAgent)
	for k, v := range d.toolHeaders(tool) {
		httpReq.Header.Set(k, v)
	}

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return nil, &Error{Code: CodeMCP, Message: "MCP request failed", Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, &Error{Code: CodeMCP, Message: "Failed to read MCP response", Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, mcpError("MCP server returned HTTP %d", resp.StatusCode)
	}

	var envelope rpcResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, &Error{Code: CodeMCP, Message: "MCP server returned invalid JSON", Err: err}
	}
	if envelope.Error != nil {
		return nil, mcpError("MCP error %d: %s", envelope.Error.Code, envelope.Error.Message)
	}

	out, err := normalizeToolResult(envelope.Result)
	if err != nil {
		return nil, err
	}
	return &Result{Output: out}, nil
}

// normalizeToolResult turns a tools/call result into the output returned to
// the agent. A single text part is unwrapped; anything else becomes a list of
// typed parts with image data withheld.
func normalizeToolResult(raw json.RawMessage) (any, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return nil, nil
	}

	var generic any
	if err := json.Unmarshal(raw, &generic); err != nil {
		return nil, &Error{Code: CodeMCP, Message: "MCP result is not valid JSON", Err: err}
	}
	if m, ok := generic.(map[string]any); ok {
		if isErr, _ := m["isError"].(bool); isErr {
			return nil, mcpError("MCP tool reported an error: %s", firstText(m))
		}
		if _, hasContent := m["content"]; !hasContent {
			return generic, nil
		}
	} else {
		return generic, nil
	}

	result, err := mcp.ParseCallToolResult(&raw)
	if err != nil {
		// Parts mcp-go does not model are mapped by hand so image data is
		// still withheld.
		return looseContent(generic.(map[string]any)), nil
	}

	if len(result.Content) == 1 {
		if text, ok := mcp.AsTextContent(result.Content[0]); ok {
			var parsed any
			if err := json.Unmarshal([]byte(text.Text), &parsed); err == nil {
				return parsed, nil
			}
			return text.Text, nil
		}
	}

	parts := make([]any, 0, len(result.Content))
	for _, c := range result.Content {
		parts = append(parts, contentPart(c))
	}
	return parts, nil
}

func contentPart(c mcp.Content) map[string]any {
	if text, ok := mcp.AsTextContent(c); ok {
		return map[string]any{"type": "text", "content": text.Text}
	}
	if img, ok := mcp.AsImageContent(c); ok {
		return map[string]any{"type": "image", "mimeType": img.MIMEType, "data": scrub.Marker}
	}
	if res, ok := mcp.AsEmbeddedResource(c); ok {
		return map[string]any{"type": "resource", "uri": resourceURI(res.Resource)}
	}

	// Other part kinds keep only their declared type.
	part := map[string]any{}
	if b, err := json.Marshal(c); err == nil {
		var m map[string]any
		if json.Unmarshal(b, &m) == nil {
			part["type"] = m["type"]
			if uri, ok := m["uri"]; ok {
				part["uri"] = uri
			}
		}
	}
	return part
}

// looseContent normalizes a result whose content array did not parse as MCP
// content. A non-array content field is returned as sent.
func looseContent(result map[string]any) any {
	content, ok := result["content"].([]any)
	if !ok {
		return result
	}
	if len(content) == 1 {
		if part, _ := content[0].(map[string]any); part["type"] == "text" {
			text, _ := part["text"].(string)
			var parsed any
			if err := json.Unmarshal([]byte(text), &parsed); err == nil {
				return parsed
			}
			return text
		}
	}

	parts := make([]any, 0, len(content))
	for _, c := range content {
		part, _ := c.(map[string]any)
		switch part["type"] {
		case "text":
			parts = append(parts, map[string]any{"type": "text", "content": part["text"]})
		case "image":
			parts = append(parts, map[string]any{"type": "image", "mimeType": part["mimeType"], "data": scrub.Marker})
		default:
			out := map[string]any{"type": part["type"]}
			if uri, ok := part["uri"]; ok {
				out["uri"] = uri
			} else if res, ok := part["resource"].(map[string]any); ok {
				out["uri"] = res["uri"]
			}
			parts = append(parts, out)
		}
	}
	return parts
}

func resourceURI(r mcp.ResourceContents) string {
	switch rc := r.(type) {
	case mcp.TextResourceContents:
		return rc.URI
	case *mcp.TextResourceContents:
		return rc.URI
	case mcp.BlobResourceContents:
		return rc.URI
	case *mcp.BlobResourceContents:
		return rc.URI
	}
	return ""
}

// firstText pulls the first text part out of an error result for the message.
func firstText(result map[string]any) string {
	content, _ := result["content"].([]any)
	for _, c := range content {
		part, _ := c.(map[string]any)
		if part["type"] == "text" {
			if s, ok := part["text"].(string); ok {
				return s
			}
		}
	}
	return "unknown error"
}
