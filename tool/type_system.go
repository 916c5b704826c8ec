package tool

import (
	"fmt"
	"slices"
	"strings"
)

// Type literals accepted in tool schemas.
const (
	TypeString  = "string"
	TypeInteger = "integer"
	TypeNumber  = "number"
	TypeBoolean = "boolean"
	TypeArray   = "array"
	TypeObject  = "object"
	TypeAny     = "any"
)

var validTypes = map[string]struct{}{
	TypeString:  {},
	TypeInteger: {},
	TypeNumber:  {},
	TypeBoolean: {},
	TypeArray:   {},
	TypeObject:  {},
	TypeAny:     {},
}

// DefinitionErrors validates a definition's own declarations: its name, worker
// reference and every field type in its input and output schemas.
func (d Definition) DefinitionErrors() []Diagnostic {
	diags := make([]Diagnostic, 0)
	prefix := "tools." + d.Name

	if strings.TrimSpace(d.Name) == "" {
		diags = append(diags, Diagnostic{
			Field:    "tools[].name",
			Code:     "REQUIRED_NAME",
			Severity: SeverityError,
			Message:  "tool name is required",
		})
		prefix = "tools.<unnamed>"
	}
	if strings.TrimSpace(d.Worker.Command) == "" {
		diags = append(diags, Diagnostic{
			Field:    prefix + ".worker.command",
			Code:     "REQUIRED_COMMAND",
			Severity: SeverityError,
			Message:  "worker command is required",
		})
	}
	switch d.Worker.Input {
	case "", InputArgv, InputStdin:
	default:
		diags = append(diags, Diagnostic{
			Field:    prefix + ".worker.input",
			Code:     "INVALID_INPUT_MODE",
			Severity: SeverityError,
			Message:  fmt.Sprintf("Unsupported input mode %q; allowed: argv, stdin", d.Worker.Input),
		})
	}
	if d.TimeoutMS < 0 {
		diags = append(diags, Diagnostic{
			Field:    prefix + ".timeout_ms",
			Code:     "INVALID_TIMEOUT",
			Severity: SeverityError,
			Message:  "timeout_ms must not be negative",
		})
	}

	for _, name := range sortedFieldNames(d.Input.Fields) {
		validateFieldSpec(prefix+".input."+name, d.Input.Fields[name], &diags)
	}
	for _, name := range sortedFieldNames(d.Output.Fields) {
		if name == PresentationKey {
			diags = append(diags, Diagnostic{
				Field:    prefix + ".output." + name,
				Code:     "RESERVED_FIELD",
				Severity: SeverityError,
				Message:  fmt.Sprintf("%q is reserved for presentation metadata", PresentationKey),
			})
			continue
		}
		validateFieldSpec(prefix+".output."+name, d.Output.Fields[name], &diags)
	}
	return diags
}

func validateFieldSpec(path string, spec FieldSpec, diags *[]Diagnostic) {
	if !isValidType(spec.Type) {
		*diags = append(*diags, Diagnostic{
			Field:    path + ".type",
			Code:     "INVALID_TYPE",
			Severity: SeverityError,
			Message:  fmt.Sprintf("Unsupported type %q; allowed: string, integer, number, boolean, array, object, any", spec.Type),
		})
		return
	}

	if spec.Minimum != nil && spec.Maximum != nil && *spec.Minimum > *spec.Maximum {
		*diags = append(*diags, Diagnostic{
			Field:    path,
			Code:     "INVALID_BOUNDS",
			Severity: SeverityError,
			Message:  "minimum is greater than maximum",
		})
	}

	if spec.Type == TypeArray {
		if spec.Items == nil {
			*diags = append(*diags, Diagnostic{
				Field:    path + ".items",
				Code:     "REQUIRED_ITEMS",
				Severity: SeverityError,
				Message:  "items is required when type is array",
			})
			return
		}
		validateFieldSpec(path+".items", *spec.Items, diags)
	}

	for _, name := range sortedFieldNames(spec.Properties) {
		validateFieldSpec(path+".properties."+name, spec.Properties[name], diags)
	}
}

func isValidType(typeName string) bool {
	_, ok := validTypes[typeName]
	return ok
}

func sortedFieldNames(fields map[string]FieldSpec) []string {
	names := make([]string, 0, len(fields))
	for name := range fields {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
