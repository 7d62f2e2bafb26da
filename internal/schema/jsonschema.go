package schema

// fieldsToJSONSchema translates a corebase Schema's Fields into a JSON Schema
// document (as a plain map, fed to gojsonschema.NewGoLoader) with
// additionalProperties:false so unknown fields are rejected (invariant I1)
// and required/typed fields are enforced (invariant I2) by the library
// instead of a hand-rolled walker.
func fieldsToJSONSchema(fields map[string]Field) map[string]interface{} {
	props := make(map[string]interface{}, len(fields))
	var required []string
	for name, f := range fields {
		props[name] = fieldToJSONSchema(f)
		if f.Required {
			required = append(required, name)
		}
	}
	obj := map[string]interface{}{
		"type":                 "object",
		"properties":           props,
		"additionalProperties": false,
	}
	if len(required) > 0 {
		obj["required"] = required
	}
	return obj
}

func fieldToJSONSchema(f Field) map[string]interface{} {
	switch f.Type {
	case TypeString:
		m := map[string]interface{}{"type": "string"}
		if f.MinLen != nil {
			m["minLength"] = *f.MinLen
		}
		if f.MaxLen != nil {
			m["maxLength"] = *f.MaxLen
		}
		return m
	case TypeInt:
		return map[string]interface{}{"type": "integer"}
	case TypeFloat:
		return map[string]interface{}{"type": "number"}
	case TypeBool:
		return map[string]interface{}{"type": "boolean"}
	case TypeObject:
		return fieldsToJSONSchema(f.Fields)
	case TypeArray:
		m := map[string]interface{}{"type": "array"}
		if f.Items != nil {
			m["items"] = fieldToJSONSchema(*f.Items)
		}
		if f.MinLen != nil {
			m["minItems"] = *f.MinLen
		}
		if f.MaxLen != nil {
			m["maxItems"] = *f.MaxLen
		}
		return m
	default:
		return map[string]interface{}{}
	}
}

// rootJSONSchema builds the full per-collection document schema: every
// declared field plus the mandatory _id (invariant I2: present,
// string-typed, required in every schema, regardless of what the schema
// file itself declares for it).
func rootJSONSchema(s *Schema) map[string]interface{} {
	fields := make(map[string]Field, len(s.Fields)+1)
	for k, v := range s.Fields {
		fields[k] = v
	}
	fields["_id"] = Field{Type: TypeString, Required: true, MinLen: intPtr(1)}
	return fieldsToJSONSchema(fields)
}

func intPtr(n int) *int { return &n }
