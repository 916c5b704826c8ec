package tool

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"slices"
	"strconv"
)

// Severity defines diagnostic severity produced by validators.
type Severity string

const (
	SeverityError   Severity = "error"
	SeverityWarning Severity = "warning"
)

// Diagnostic is a structured validation finding.
type Diagnostic struct {
	Field    string   `json:"field,omitempty"`
	Code     string   `json:"code,omitempty"`
	Severity Severity `json:"severity"`
	Message  string   `json:"message"`
}

// Result aggregates diagnostics from one validation pass.
type Result struct {
	Diagnostics []Diagnostic `json:"diagnostics"`
}

// HasErrors returns true when at least one error-severity diagnostic exists.
func (r Result) HasErrors() bool {
	for _, d := range r.Diagnostics {
		if d.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Errors returns the error-severity diagnostics only.
func (r Result) Errors() []Diagnostic {
	out := make([]Diagnostic, 0, len(r.Diagnostics))
	for _, d := range r.Diagnostics {
		if d.Severity == SeverityError {
			out = append(out, d)
		}
	}
	return out
}

// ValidateInput checks call arguments against a tool's input schema. Every
// violation is reported.
func ValidateInput(def Definition, args map[string]any) Result {
	result := Result{Diagnostics: make([]Diagnostic, 0)}
	if args == nil {
		args = map[string]any{}
	}
	validateObject("", def.Input.Fields, def.Input.Strict, args, &result.Diagnostics)
	return result
}

// ValidateOutput checks a split result body against a tool's output schema.
// A schema without declared fields accepts any body.
func ValidateOutput(def Definition, body any) Result {
	result := Result{Diagnostics: make([]Diagnostic, 0)}
	if len(def.Output.Fields) == 0 && !def.Output.Strict {
		return result
	}
	object, ok := body.(map[string]any)
	if !ok {
		result.Diagnostics = append(result.Diagnostics, Diagnostic{
			Field:    "$",
			Code:     "TYPE_MISMATCH",
			Severity: SeverityError,
			Message:  fmt.Sprintf("expected object, got %s", typeName(body)),
		})
		return result
	}
	validateObject("", def.Output.Fields, def.Output.Strict, object, &result.Diagnostics)
	return result
}

func validateObject(path string, fields map[string]FieldSpec, strict bool, object map[string]any, diags *[]Diagnostic) {
	for _, name := range sortedFieldNames(fields) {
		spec := fields[name]
		value, present := object[name]
		fieldPath := joinPath(path, name)
		if !present {
			if spec.Required {
				*diags = append(*diags, Diagnostic{
					Field:    fieldPath,
					Code:     "REQUIRED_FIELD",
					Severity: SeverityError,
					Message:  fmt.Sprintf("%s is required", fieldPath),
				})
			}
			continue
		}
		validateValue(fieldPath, spec, value, diags)
	}

	if !strict {
		return
	}
	unknown := make([]string, 0)
	for key := range object {
		if _, declared := fields[key]; !declared {
			unknown = append(unknown, key)
		}
	}
	slices.Sort(unknown)
	for _, key := range unknown {
		*diags = append(*diags, Diagnostic{
			Field:    joinPath(path, key),
			Code:     "UNKNOWN_FIELD",
			Severity: SeverityError,
			Message:  fmt.Sprintf("%s is not a declared field", joinPath(path, key)),
		})
	}
}

func validateValue(path string, spec FieldSpec, value any, diags *[]Diagnostic) {
	if value == nil {
		if !spec.Nullable && spec.Type != TypeAny {
			*diags = append(*diags, Diagnostic{
				Field:    path,
				Code:     "NULL_NOT_ALLOWED",
				Severity: SeverityError,
				Message:  fmt.Sprintf("%s must not be null", path),
			})
		}
		return
	}

	if !matchesType(spec.Type, value) {
		*diags = append(*diags, Diagnostic{
			Field:    path,
			Code:     "TYPE_MISMATCH",
			Severity: SeverityError,
			Message:  fmt.Sprintf("%s: expected %s, got %s", path, spec.Type, typeName(value)),
		})
		return
	}

	if len(spec.Enum) > 0 && !slices.ContainsFunc(spec.Enum, func(candidate any) bool {
		return valuesEqual(candidate, value)
	}) {
		*diags = append(*diags, Diagnostic{
			Field:    path,
			Code:     "ENUM_MISMATCH",
			Severity: SeverityError,
			Message:  fmt.Sprintf("%s: %v is not one of %v", path, value, spec.Enum),
		})
	}

	if number, ok := numericValue(value); ok {
		if spec.Minimum != nil && number < *spec.Minimum {
			*diags = append(*diags, Diagnostic{
				Field:    path,
				Code:     "BELOW_MINIMUM",
				Severity: SeverityError,
				Message:  fmt.Sprintf("%s: %v is less than minimum %v", path, number, *spec.Minimum),
			})
		}
		if spec.Maximum != nil && number > *spec.Maximum {
			*diags = append(*diags, Diagnostic{
				Field:    path,
				Code:     "ABOVE_MAXIMUM",
				Severity: SeverityError,
				Message:  fmt.Sprintf("%s: %v is greater than maximum %v", path, number, *spec.Maximum),
			})
		}
	}

	switch typed := value.(type) {
	case []any:
		if spec.MinItems != nil && len(typed) < *spec.MinItems {
			*diags = append(*diags, Diagnostic{
				Field:    path,
				Code:     "TOO_FEW_ITEMS",
				Severity: SeverityError,
				Message:  fmt.Sprintf("%s: has %d items, needs at least %d", path, len(typed), *spec.MinItems),
			})
		}
		if spec.Items != nil {
			for i, item := range typed {
				validateValue(path+"["+strconv.Itoa(i)+"]", *spec.Items, item, diags)
			}
		}
	case map[string]any:
		if len(spec.Properties) > 0 {
			validateObject(path, spec.Properties, false, typed, diags)
		}
	}
}

func matchesType(typ string, value any) bool {
	switch typ {
	case TypeAny:
		return true
	case TypeString:
		_, ok := value.(string)
		return ok
	case TypeBoolean:
		_, ok := value.(bool)
		return ok
	case TypeNumber:
		_, ok := numericValue(value)
		return ok
	case TypeInteger:
		number, ok := numericValue(value)
		return ok && !math.IsInf(number, 0) && number == math.Trunc(number)
	case TypeArray:
		_, ok := value.([]any)
		return ok
	case TypeObject:
		_, ok := value.(map[string]any)
		return ok
	default:
		return false
	}
}

// numericValue normalizes the numeric shapes produced by encoding/json (with or
// without UseNumber) and by Go callers.
func numericValue(value any) (float64, bool) {
	switch n := value.(type) {
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8, int16, int32, int64:
		return float64(reflect.ValueOf(n).Int()), true
	case uint, uint8, uint16, uint32, uint64:
		return float64(reflect.ValueOf(n).Uint()), true
	default:
		return 0, false
	}
}

func valuesEqual(a, b any) bool {
	na, aNumeric := numericValue(a)
	nb, bNumeric := numericValue(b)
	if aNumeric || bNumeric {
		return aNumeric && bNumeric && na == nb
	}
	return reflect.DeepEqual(a, b)
}

func typeName(value any) string {
	switch value.(type) {
	case nil:
		return "null"
	case string:
		return "string"
	case bool:
		return "boolean"
	case []any:
		return "array"
	case map[string]any:
		return "object"
	}
	if _, ok := numericValue(value); ok {
		return "number"
	}
	return fmt.Sprintf("%T", value)
}

func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "." + name
}
