package tool

import (
	"github.com/google/jsonschema-go/jsonschema"
)

// JSONSchema renders s as a JSON Schema object, as advertised to MCP clients
// and the HTTP tool listing.
func (s Schema) JSONSchema() *jsonschema.Schema {
	out := &jsonschema.Schema{
		Type:       TypeObject,
		Properties: make(map[string]*jsonschema.Schema, len(s.Fields)),
	}
	for _, name := range sortedFieldNames(s.Fields) {
		spec := s.Fields[name]
		out.Properties[name] = spec.JSONSchema()
		if spec.Required {
			out.Required = append(out.Required, name)
		}
	}
	if s.Strict {
		out.AdditionalProperties = &jsonschema.Schema{Not: &jsonschema.Schema{}}
	}
	return out
}

// JSONSchema renders one field declaration.
func (f FieldSpec) JSONSchema() *jsonschema.Schema {
	out := &jsonschema.Schema{
		Description: f.Description,
		Minimum:     f.Minimum,
		Maximum:     f.Maximum,
		MinItems:    f.MinItems,
	}
	if len(f.Enum) > 0 {
		out.Enum = append([]any(nil), f.Enum...)
	}

	switch {
	case f.Type == TypeAny:
	case f.Nullable:
		out.Types = []string{f.Type, "null"}
	default:
		out.Type = f.Type
	}

	if f.Items != nil {
		out.Items = f.Items.JSONSchema()
	}
	if len(f.Properties) > 0 {
		out.Properties = make(map[string]*jsonschema.Schema, len(f.Properties))
		for _, name := range sortedFieldNames(f.Properties) {
			prop := f.Properties[name]
			out.Properties[name] = prop.JSONSchema()
			if prop.Required {
				out.Required = append(out.Required, name)
			}
		}
	}
	return out
}
