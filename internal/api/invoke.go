package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/entrys/gateway/internal/auth"
	"github.com/entrys/gateway/internal/invoke"
)

// statusForCode maps a pipeline error code to its HTTP status.
func statusForCode(code string) int {
	switch code {
	case invoke.CodeToolNotFound:
		return http.StatusNotFound
	case invoke.CodeUnauthorized:
		return http.StatusForbidden
	case invoke.CodeRateLimited:
		return http.StatusTooManyRequests
	case invoke.CodeValidation:
		return http.StatusBadRequest
	default:
		return http.StatusBadGateway
	}
}

func (d *Dependencies) handleInvoke(w http.ResponseWriter, r *http.Request) {
	agent := auth.AgentFromContext(r.Context())

	var req InvokeRequest
	if err := readJSON(r, &req); err != nil && !errors.Is(err, io.EOF) {
		writeInvokeError(w, http.StatusBadRequest, invoke.CodeValidation, "Invalid JSON body")
		return
	}
	params, err := stringParams(req.Params)
	if err != nil {
		writeInvokeError(w, http.StatusBadRequest, invoke.CodeValidation, err.Error())
		return
	}

	resp := d.Invoker.Invoke(r.Context(), invoke.Call{
		TeamID:         agent.TeamID,
		EnvID:          agent.EnvID,
		Environment:    agent.EnvName,
		AgentKeyID:     agent.AgentKeyID,
		AgentName:      agent.Name,
		AgentKeyPrefix: agent.KeyPrefix,
		ToolName:       r.PathValue("toolName"),
		Input:          req.Input,
		Params:         params,
	})

	status := http.StatusOK
	if !resp.OK {
		status = statusForCode(resp.Error.Code)
	}
	writeJSON(w, status, resp)
}

// stringParams flattens scalar URL template parameters to strings.
func stringParams(in map[string]any) (map[string]string, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(in))
	for k, v := range in {
		switch v := v.(type) {
		case nil:
		case string:
			out[k] = v
		case float64, bool:
			out[k] = fmt.Sprint(v)
		default:
			return nil, fmt.Errorf("parameter %q must be a string, number or boolean", k)
		}
	}
	return out, nil
}

// writeInvokeError writes a failure that never reached the pipeline, in the
// same shape as a pipeline failure.
func writeInvokeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, &invoke.Response{
		Meta:  invoke.Meta{RequestID: uuid.NewString()},
		Error: &invoke.ErrorBody{Code: code, Message: message},
	})
}
