package dispatch

import (
	"bytes"
	"encoding/json"
	"strconv"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/entrys/gateway/internal/store"
)

// validateInput checks input against the tool's JSON Schema, if it has one.
func (d *Dispatcher) validateInput(tool *store.Tool, input any) error {
	if len(tool.InputSchemaJSON) == 0 {
		return nil
	}

	sch, err := d.compiledSchema(tool)
	if err != nil {
		return &Error{Code: CodeValidation, Message: "Tool input schema is invalid", Err: err}
	}

	// Round-trip through JSON so the validator sees plain decoded values.
	raw, err := json.Marshal(input)
	if err != nil {
		return &Error{Code: CodeValidation, Message: "Input is not valid JSON", Err: err}
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return &Error{Code: CodeValidation, Message: "Input is not valid JSON", Err: err}
	}
	if err := sch.Validate(doc); err != nil {
		return &Error{Code: CodeValidation, Message: "Input failed schema validation: " + err.Error()}
	}
	return nil
}

func (d *Dispatcher) compiledSchema(tool *store.Tool) (*jsonschema.Schema, error) {
	key := tool.ID + "@" + strconv.FormatInt(tool.UpdatedAt.UnixNano(), 10)
	if v, ok := d.schemas.Load(key); ok {
		return v.(*jsonschema.Schema), nil
	}

	sch, err := CompileSchema(tool.InputSchemaJSON)
	if err != nil {
		return nil, err
	}
	d.schemas.Store(key, sch)
	return sch, nil
}

// CompileSchema parses and compiles a JSON Schema document.
func CompileSchema(raw []byte) (*jsonschema.Schema, error) {
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return nil, err
	}
	c := jsonschema.NewCompiler()
	if err := c.AddResource("schema.json", doc); err != nil {
		return nil, err
	}
	return c.Compile("schema.json")
}
