package server

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/petal-labs/petalstat/dispatch"
	"github.com/petal-labs/petalstat/tool"
)

// stubExecutor answers per tool name without spawning processes.
type stubExecutor struct{}

func (stubExecutor) Execute(ctx context.Context, def tool.Definition, args map[string]any, _ time.Duration) tool.Outcome {
	switch def.Name {
	case "mean":
		return tool.Outcome{Kind: tool.OutcomeSuccess, Output: map[string]any{
			"mean":        json.Number("2"),
			"_formatting": map[string]any{"summary": "mean is 2"},
		}}
	case "slow":
		<-ctx.Done()
		if errors.Is(ctx.Err(), context.Canceled) {
			return tool.Outcome{Kind: tool.OutcomeCancelled, ExitCode: -1}
		}
		return tool.Outcome{Kind: tool.OutcomeTimeout, ExitCode: -1}
	case "broken":
		return tool.Outcome{Kind: tool.OutcomeMalformedOutput, ExitCode: 0, ParseError: errors.New("invalid character 'm'")}
	case "stuck":
		return tool.Outcome{Kind: tool.OutcomeTimeout, ExitCode: -1, Timeout: time.Second}
	default:
		return tool.Outcome{Kind: tool.OutcomeProcessFailure, ExitCode: 2, Stderr: "no such worker"}
	}
}

func testDefinition(name, category, description string) tool.Definition {
	return tool.Definition{
		Name:        name,
		Category:    category,
		Description: description,
		Input: tool.Schema{Strict: true, Fields: map[string]tool.FieldSpec{
			"data": {Type: tool.TypeArray, Required: true, Items: &tool.FieldSpec{Type: tool.TypeNumber}},
		}},
		Output: tool.Schema{Fields: map[string]tool.FieldSpec{
			"mean": {Type: tool.TypeNumber, Required: true},
		}},
		Worker: tool.WorkerSpec{Command: "unused"},
	}
}

func newTestDispatcher(t *testing.T, observers ...dispatch.CallObserver) *dispatch.Dispatcher {
	t.Helper()
	reg, err := tool.NewRegistry(
		testDefinition("mean", "descriptive", "Arithmetic mean of a numeric sample"),
		testDefinition("slow", "test", "Blocks until cancelled"),
		testDefinition("broken", "test", "Prints prose instead of JSON"),
		testDefinition("stuck", "test", "Always times out"),
	)
	if err != nil {
		t.Fatalf("NewRegistry() error = %v", err)
	}
	d, err := dispatch.New(dispatch.Config{
		Registry:  reg,
		Executor:  stubExecutor{},
		Observers: observers,
		Logger:    quietLogger(),
	})
	if err != nil {
		t.Fatalf("dispatch.New() error = %v", err)
	}
	return d
}

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not reached before deadline")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func decodeResponse(t *testing.T, data []byte) dispatch.Response {
	t.Helper()
	var resp dispatch.Response
	if err := json.Unmarshal(data, &resp); err != nil {
		t.Fatalf("decoding response %s: %v", data, err)
	}
	return resp
}
