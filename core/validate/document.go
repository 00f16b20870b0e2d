package validate

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/kaptinlin/jsonschema"
)

//go:embed packet_document_schema.json
var packetDocumentSchema []byte

var (
	documentSchemaOnce sync.Once
	documentSchema     *jsonschema.Schema
	documentSchemaErr  error
)

// Document validates the persisted packet document form against the
// embedded JSON Schema. This is the entry point for re-checking packet
// files supplied from outside the pipeline.
func Document(data []byte) error {
	documentSchemaOnce.Do(func() {
		compiler := jsonschema.NewCompiler()
		compiler.AssertFormat = true
		documentSchema, documentSchemaErr = compiler.Compile(packetDocumentSchema)
	})
	if documentSchemaErr != nil {
		return fmt.Errorf("compile packet document schema: %w", documentSchemaErr)
	}
	result := documentSchema.ValidateJSON(data)
	if result.IsValid() {
		return nil
	}
	return fmt.Errorf("packet document schema validation failed: %v", result.Errors)
}
