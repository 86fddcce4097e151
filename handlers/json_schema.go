package handlers

import "github.com/xeipuuv/gojsonschema"

// Request body schemas are compiled once at startup; a schema that fails to
// compile is a programming error and panics immediately rather than on the
// first request that needs it.
var inputSchemasCompiled = map[string]*gojsonschema.Schema{
	"InitializeUpload": mustCompileSchema(InitializeUploadRequestSchemaDefinition),
}

func mustCompileSchema(text string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(text))
	if err != nil {
		panic(err)
	}
	return schema
}
