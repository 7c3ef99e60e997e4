package normalize

import (
	"bytes"
	_ "embed"
	"fmt"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed item.schema.json
var itemSchemaJSON []byte

// ItemValidator checks decoded item objects against the line-item schema.
type ItemValidator struct {
	schema *jsonschema.Schema
}

// NewItemValidator compiles the embedded line-item schema.
func NewItemValidator() (*ItemValidator, error) {
	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource("item.schema.json", bytes.NewReader(itemSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema: %w", err)
	}
	schema, err := compiler.Compile("item.schema.json")
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return &ItemValidator{schema: schema}, nil
}

// Validate reports why v is not a usable item, or nil.
func (v *ItemValidator) Validate(item any) error {
	if err := v.schema.Validate(item); err != nil {
		return fmt.Errorf("item does not match schema: %w", err)
	}
	return nil
}
