package tool

import "time"

// InputMode selects how the argument document reaches a worker.
type InputMode string

const (
	// InputArgv appends the argument document as the final command-line argument.
	InputArgv InputMode = "argv"
	// InputStdin writes the argument document to the worker's stdin.
	InputStdin InputMode = "stdin"
)

// Definition describes one catalogued tool. Definitions are built once at
// startup and never mutated afterwards.
type Definition struct {
	Name        string     `json:"name" yaml:"name"`
	Description string     `json:"description,omitempty" yaml:"description,omitempty"`
	Category    string     `json:"category,omitempty" yaml:"category,omitempty"`
	Input       Schema     `json:"input" yaml:"input"`
	Output      Schema     `json:"output" yaml:"output"`
	Worker      WorkerSpec `json:"worker" yaml:"worker"`
	TimeoutMS   int        `json:"timeout_ms,omitempty" yaml:"timeout_ms,omitempty"`
}

// Timeout returns the per-tool override, or fallback when none is declared.
func (d Definition) Timeout(fallback time.Duration) time.Duration {
	if d.TimeoutMS > 0 {
		return time.Duration(d.TimeoutMS) * time.Millisecond
	}
	return fallback
}

// Schema is a structural object schema for tool arguments or results.
type Schema struct {
	Fields map[string]FieldSpec `json:"fields,omitempty" yaml:"fields,omitempty"`
	// Strict rejects keys that are not declared in Fields.
	Strict bool `json:"strict,omitempty" yaml:"strict,omitempty"`
}

// FieldSpec is the field/type descriptor used for inputs and outputs.
type FieldSpec struct {
	Type        string               `json:"type" yaml:"type"`
	Required    bool                 `json:"required,omitempty" yaml:"required,omitempty"`
	Nullable    bool                 `json:"nullable,omitempty" yaml:"nullable,omitempty"`
	Description string               `json:"description,omitempty" yaml:"description,omitempty"`
	Enum        []any                `json:"enum,omitempty" yaml:"enum,omitempty"`
	Minimum     *float64             `json:"minimum,omitempty" yaml:"minimum,omitempty"`
	Maximum     *float64             `json:"maximum,omitempty" yaml:"maximum,omitempty"`
	MinItems    *int                 `json:"min_items,omitempty" yaml:"min_items,omitempty"`
	Items       *FieldSpec           `json:"items,omitempty" yaml:"items,omitempty"`
	Properties  map[string]FieldSpec `json:"properties,omitempty" yaml:"properties,omitempty"`
}

// WorkerSpec references the external program that computes a tool's result.
type WorkerSpec struct {
	Command string            `json:"command" yaml:"command"`
	Args    []string          `json:"args,omitempty" yaml:"args,omitempty"`
	Env     map[string]string `json:"env,omitempty" yaml:"env,omitempty"`
	Dir     string            `json:"dir,omitempty" yaml:"dir,omitempty"`
	Input   InputMode         `json:"input,omitempty" yaml:"input,omitempty"`
}
