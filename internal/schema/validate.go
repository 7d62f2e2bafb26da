package schema

import (
	"fmt"
	"strings"

	"github.com/kartikbazzad/corebase/internal/errors"
	"github.com/xeipuuv/gojsonschema"
)

// compiled pairs a Schema with its compiled JSON-Schema validator, grounded
// on bundoc/collection.go's schemaLoader field (same gojsonschema.Schema
// type, same NewGoLoader validation call).
type compiled struct {
	schema *Schema
	loader *gojsonschema.Schema
}

func compile(s *Schema) (*compiled, error) {
	root := rootJSONSchema(s)
	loader, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(root))
	if err != nil {
		return nil, fmt.Errorf("compile schema %s: %w", s.SchemaID(), err)
	}
	return &compiled{schema: s, loader: loader}, nil
}

// ValidateDocument checks doc against the compiled schema: required/typed
// fields, unknown-field rejection, non-empty string _id, and (via
// gojsonschema's recursive "properties"/"items") nested object and array
// constraints (spec §4.2 Contract, invariants I1/I2).
//
// On failure it returns a *errors.CoreError of Kind validation naming the
// first offending field path.
func (c *compiled) ValidateDocument(doc map[string]interface{}) error {
	id, ok := doc["_id"]
	if !ok {
		return errors.NewField(errors.KindValidation, "_id", errors.ErrMissingID)
	}
	idStr, ok := id.(string)
	if !ok || idStr == "" {
		return errors.NewField(errors.KindValidation, "_id", errors.ErrMissingID)
	}

	result, err := c.loader.Validate(gojsonschema.NewGoLoader(doc))
	if err != nil {
		return errors.New(errors.KindValidation, fmt.Errorf("validate document: %w", err))
	}
	if !result.Valid() {
		resErrs := result.Errors()
		first := resErrs[0]
		field := jsonSchemaFieldToPath(first.Field())
		return errors.NewField(errors.KindValidation, field, fmt.Errorf("%s", first.Description()))
	}
	return nil
}

// jsonSchemaFieldToPath normalizes gojsonschema's "(root).a.b" field
// locator into a dotted field path.
func jsonSchemaFieldToPath(f string) string {
	f = strings.TrimPrefix(f, "(root)")
	f = strings.TrimPrefix(f, ".")
	if f == "" {
		return "(root)"
	}
	return f
}
