package validate

import (
	"fmt"

	"github.com/ppiankov/reconcile/internal/model"
	"github.com/xeipuuv/gojsonschema"
)

// receiptSchema describes the record a well-behaved model should produce.
// Prices and totals are strings on receipts but numbers are tolerated.
const receiptSchema = `{
  "type": "object",
  "required": ["merchant", "address", "date", "total", "items"],
  "properties": {
    "merchant": {"type": "string"},
    "address":  {"type": "string"},
    "date":     {"type": "string"},
    "total":    {"type": ["string", "number"]},
    "items": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["name", "qty"],
        "properties": {
          "name":        {"type": "string"},
          "qty":         {"type": "integer", "minimum": 1},
          "unit_price":  {"type": ["string", "number"]},
          "total_price": {"type": ["string", "number"]}
        }
      }
    }
  }
}`

// SchemaChecker reports receipt shape problems as warnings. It never
// modifies the record.
type SchemaChecker struct {
	schema *gojsonschema.Schema
}

// NewSchemaChecker compiles the receipt schema
func NewSchemaChecker() (*SchemaChecker, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(receiptSchema))
	if err != nil {
		return nil, fmt.Errorf("compile receipt schema: %w", err)
	}
	return &SchemaChecker{schema: schema}, nil
}

// Check validates r and returns one warning per violation
func (c *SchemaChecker) Check(r model.Receipt) []string {
	result, err := c.schema.Validate(gojsonschema.NewGoLoader(map[string]interface{}(r)))
	if err != nil {
		return []string{fmt.Sprintf("schema check failed: %v", err)}
	}
	if result.Valid() {
		return nil
	}

	warnings := make([]string, len(result.Errors()))
	for i, desc := range result.Errors() {
		warnings[i] = desc.String()
	}
	return warnings
}
