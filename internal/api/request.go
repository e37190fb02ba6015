package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"regexp"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
)

var validate = validator.New()

// Tool names and aliases appear as a single URL path segment.
var toolNameRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.-]{0,127}$`)

func init() {
	validate.RegisterValidation("toolname", func(fl validator.FieldLevel) bool { //nolint:errcheck
		return toolNameRegex.MatchString(fl.Field().String())
	})
}

// decode reads a JSON body into v and validates its struct tags.
func decode(r *http.Request, v any) error {
	if err := readJSON(r, v); err != nil {
		return fmt.Errorf("invalid JSON: %w", err)
	}
	if err := validate.Struct(v); err != nil {
		return fmt.Errorf("validation error: %w", err)
	}
	return nil
}

// badRequest writes a 400 for a decode failure.
func badRequest(w http.ResponseWriter, err error) {
	writeJSON(w, http.StatusBadRequest, ErrorResp{Detail: err.Error()})
}

func isUUID(s string) bool {
	return uuid.Validate(s) == nil
}

// rawJSON returns nil for an absent or null value so the column stays NULL.
func rawJSON(v json.RawMessage) json.RawMessage {
	if len(v) == 0 || string(v) == "null" {
		return nil
	}
	return v
}
