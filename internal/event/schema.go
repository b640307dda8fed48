package event

import (
	_ "embed"

	"github.com/xeipuuv/gojsonschema"
)

//go:embed payload.schema.json
var payloadSchemaJSON string

var payloadSchema = mustCompileSchema(payloadSchemaJSON)

func mustCompileSchema(src string) *gojsonschema.Schema {
	s, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(src))
	if err != nil {
		panic("event: invalid payload schema: " + err.Error())
	}
	return s
}

// validateSchema adds a result error for each schema violation.
func validateSchema(p *Payload, res *ValidationResult) {
	out, err := payloadSchema.Validate(gojsonschema.NewGoLoader(p))
	if err != nil {
		res.AddError("", CodeValueInvalid, "payload is not serializable: "+err.Error())
		return
	}
	for _, e := range out.Errors() {
		field := e.Field()
		if field == "(root)" {
			field = ""
		}
		res.AddError(field, schemaCode(e.Type()), e.Description())
	}
}

func schemaCode(t string) string {
	switch t {
	case "required":
		return CodeValueRequired
	case "number_gte", "number_lte", "array_min_items", "array_max_items", "string_gte", "string_lte":
		return CodeValueOutOfBounds
	default:
		return CodeValueInvalid
	}
}
