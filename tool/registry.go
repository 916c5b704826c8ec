package tool

import (
	"fmt"
	"slices"
	"strings"
)

// Registry is the immutable tool catalogue. It is built once by NewRegistry
// and only read afterwards, so lookups need no locking.
type Registry struct {
	ordered []Definition
	byName  map[string]int
}

// RegistryError reports every diagnostic that prevented registry construction.
type RegistryError struct {
	Diagnostics []Diagnostic
}

func (e *RegistryError) Error() string {
	if e == nil || len(e.Diagnostics) == 0 {
		return "tool: invalid catalogue"
	}
	parts := make([]string, 0, len(e.Diagnostics))
	for _, d := range e.Diagnostics {
		parts = append(parts, fmt.Sprintf("%s: %s", d.Field, d.Message))
	}
	return "tool: invalid catalogue: " + strings.Join(parts, "; ")
}

// Unwrap lets callers match ErrDuplicateTool when a name collision was found.
func (e *RegistryError) Unwrap() error {
	if e == nil {
		return nil
	}
	for _, d := range e.Diagnostics {
		if d.Code == "DUPLICATE_NAME" {
			return ErrDuplicateTool
		}
	}
	return nil
}

// NewRegistry validates defs and freezes them into a Registry. Catalogue order
// is preserved by List.
func NewRegistry(defs ...Definition) (*Registry, error) {
	reg := &Registry{
		ordered: make([]Definition, 0, len(defs)),
		byName:  make(map[string]int, len(defs)),
	}

	diags := make([]Diagnostic, 0)
	for _, def := range defs {
		def.Name = strings.TrimSpace(def.Name)
		defDiags := def.DefinitionErrors()
		diags = append(diags, defDiags...)
		if def.Name == "" {
			continue
		}
		if _, exists := reg.byName[def.Name]; exists {
			diags = append(diags, Diagnostic{
				Field:    "tools." + def.Name,
				Code:     "DUPLICATE_NAME",
				Severity: SeverityError,
				Message:  fmt.Sprintf("tool %q is declared more than once", def.Name),
			})
			continue
		}
		reg.byName[def.Name] = len(reg.ordered)
		reg.ordered = append(reg.ordered, cloneDefinition(def))
	}

	if (Result{Diagnostics: diags}).HasErrors() {
		return nil, &RegistryError{Diagnostics: diags}
	}
	return reg, nil
}

// Lookup returns the definition registered under name.
func (r *Registry) Lookup(name string) (Definition, error) {
	if r != nil {
		if idx, ok := r.byName[name]; ok {
			return r.ordered[idx], nil
		}
	}
	return Definition{}, NewToolError(
		KindUnknownTool,
		fmt.Sprintf("unknown tool %q", name),
		fmt.Errorf("%w: %s", ErrToolNotFound, name),
	)
}

// List returns all definitions in catalogue order.
func (r *Registry) List() []Definition {
	if r == nil {
		return nil
	}
	return slices.Clone(r.ordered)
}

// Len returns the number of registered tools.
func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.ordered)
}

// Categories returns the distinct category tags in sorted order.
func (r *Registry) Categories() []string {
	if r == nil {
		return nil
	}
	seen := make(map[string]struct{})
	out := make([]string, 0)
	for _, def := range r.ordered {
		if def.Category == "" {
			continue
		}
		if _, ok := seen[def.Category]; ok {
			continue
		}
		seen[def.Category] = struct{}{}
		out = append(out, def.Category)
	}
	slices.Sort(out)
	return out
}

// cloneDefinition detaches the slices and maps a caller could still mutate.
func cloneDefinition(def Definition) Definition {
	out := def
	out.Worker.Args = slices.Clone(def.Worker.Args)
	if def.Worker.Env != nil {
		out.Worker.Env = make(map[string]string, len(def.Worker.Env))
		for key, value := range def.Worker.Env {
			out.Worker.Env[key] = value
		}
	}
	out.Input.Fields = cloneFields(def.Input.Fields)
	out.Output.Fields = cloneFields(def.Output.Fields)
	return out
}

func cloneFields(fields map[string]FieldSpec) map[string]FieldSpec {
	if fields == nil {
		return nil
	}
	out := make(map[string]FieldSpec, len(fields))
	for name, spec := range fields {
		out[name] = cloneFieldSpec(spec)
	}
	return out
}

func cloneFieldSpec(spec FieldSpec) FieldSpec {
	out := spec
	out.Enum = slices.Clone(spec.Enum)
	if spec.Items != nil {
		items := cloneFieldSpec(*spec.Items)
		out.Items = &items
	}
	out.Properties = cloneFields(spec.Properties)
	return out
}
