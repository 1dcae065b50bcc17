package config

import (
	"sync"

	"github.com/invopop/jsonschema"
)

var (
	schemaOnce sync.Once
	schema     *jsonschema.Schema
)

// Schema returns the JSON schema of the project file. It is built once.
func Schema() *jsonschema.Schema {
	schemaOnce.Do(func() {
		reflector := &jsonschema.Reflector{
			AllowAdditionalProperties: false,
			DoNotReference:            true,
			ExpandedStruct:            true,
		}
		schema = reflector.Reflect(&Config{})
		if schema.Version == "" {
			schema.Version = jsonschema.Version
		}
		schema.Title = "treemirror project file"
	})
	return schema
}
