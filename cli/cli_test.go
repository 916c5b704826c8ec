package cli

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

// newTestRoot creates a fresh cobra root command wired to all subcommands.
// Each test gets an isolated command tree to avoid shared state.
func newTestRoot() *cobra.Command {
	root := &cobra.Command{
		Use:          "petalstat",
		Version:      "test",
		SilenceUsage: true,
	}
	root.PersistentFlags().Bool("verbose", false, "")
	root.PersistentFlags().Bool("quiet", false, "")
	root.AddCommand(NewServeCmd())
	root.AddCommand(NewToolsCmd())
	root.AddCommand(NewCallCmd())
	root.AddCommand(NewValidateCmd())
	return root
}

// executeCommand runs a cobra command with the given args and captures stdout/stderr.
func executeCommand(root *cobra.Command, args ...string) (stdout, stderr string, err error) {
	var outBuf, errBuf bytes.Buffer
	root.SetOut(&outBuf)
	root.SetErr(&errBuf)
	root.SetArgs(args)
	err = root.Execute()
	return outBuf.String(), errBuf.String(), err
}

// isolate moves the test into an empty working directory and home so
// catalogue discovery falls back to the built-in catalogue.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Chdir(dir)
	t.Setenv("HOME", t.TempDir())
	return dir
}

// writeTestFile creates a temporary file with the given content and returns its path.
func writeTestFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

// helperCatalog writes a catalogue whose workers re-enter this test binary.
func helperCatalog(t *testing.T) string {
	t.Helper()
	var b strings.Builder
	b.WriteString("tools:\n")
	for _, mode := range []string{"mean", "fail"} {
		fmt.Fprintf(&b, `  - name: %s
    description: helper tool in %s mode
    category: test
    input:
      strict: true
      fields:
        data: {type: array, required: true, items: {type: number}}
    output:
      fields:
        mean: {type: number, required: true}
    worker:
      command: %q
      args: ["-test.run=TestCLIHelperProcess", "--"]
      env:
        GO_WANT_CLI_HELPER: "1"
        GO_CLI_HELPER_MODE: %s
`, mode, mode, os.Args[0], mode)
	}
	return writeTestFile(t, "petalstat.yaml", b.String())
}

func TestCLIHelperProcess(t *testing.T) {
	if os.Getenv("GO_WANT_CLI_HELPER") != "1" {
		return
	}
	switch os.Getenv("GO_CLI_HELPER_MODE") {
	case "mean":
		_, _ = fmt.Fprintln(os.Stdout, `{"mean": 2, "_formatting": {"summary": "mean is 2"}}`)
	case "fail":
		_, _ = fmt.Fprintln(os.Stderr, "no convergence")
		os.Exit(3)
	}
	os.Exit(0)
}

func exitCode(t *testing.T, err error) int {
	t.Helper()
	if err == nil {
		return exitSuccess
	}
	var exitErr *ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("error = %v (%T), want *ExitError", err, err)
	}
	return exitErr.Code
}

func TestValidateBuiltInCatalogue(t *testing.T) {
	isolate(t)

	stdout, _, err := executeCommand(newTestRoot(), "validate")
	if err != nil {
		t.Fatalf("validate error = %v", err)
	}
	if !strings.Contains(stdout, "Valid!") {
		t.Fatalf("stdout = %q, want Valid!", stdout)
	}
	if !strings.Contains(stdout, "8 tools in built-in catalogue") {
		t.Fatalf("stdout = %q, want tool count and source", stdout)
	}
}

func TestValidateReportsDiagnostics(t *testing.T) {
	isolate(t)
	path := writeTestFile(t, "bad.yaml", `
tools:
  - name: mean
    input:
      fields:
        data: {type: list}
    worker: {command: python3}
`)

	stdout, _, err := executeCommand(newTestRoot(), "validate", path)
	if got := exitCode(t, err); got != exitValidation {
		t.Fatalf("exit code = %d, want %d", got, exitValidation)
	}
	if !strings.Contains(stdout, "ERROR [INVALID_TYPE]") {
		t.Fatalf("stdout = %q, want INVALID_TYPE diagnostic", stdout)
	}
	if !strings.Contains(stdout, "1 error, 0 warnings") {
		t.Fatalf("stdout = %q, want summary line", stdout)
	}
}

func TestValidateJSONFormat(t *testing.T) {
	isolate(t)
	path := writeTestFile(t, "bad.yaml", `
tools:
  - name: mean
    worker: {command: ""}
`)

	stdout, _, err := executeCommand(newTestRoot(), "validate", "--format", "json", path)
	if got := exitCode(t, err); got != exitValidation {
		t.Fatalf("exit code = %d, want %d", got, exitValidation)
	}
	var diags []map[string]any
	if err := json.Unmarshal([]byte(stdout), &diags); err != nil {
		t.Fatalf("stdout is not a JSON array: %v\n%s", err, stdout)
	}
	if len(diags) == 0 || diags[0]["code"] != "REQUIRED_COMMAND" {
		t.Fatalf("diagnostics = %v, want REQUIRED_COMMAND", diags)
	}
}

func TestValidateExitCodes(t *testing.T) {
	isolate(t)
	unparsable := writeTestFile(t, "broken.yaml", "tools: [\n")

	tests := []struct {
		name string
		args []string
		want int
	}{
		{name: "missing file", args: []string{"validate", filepath.Join(t.TempDir(), "nope.yaml")}, want: exitFileNotFound},
		{name: "unparsable", args: []string{"validate", unparsable}, want: exitInputParse},
		{name: "bad format", args: []string{"validate", "--format", "xml"}, want: exitValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := executeCommand(newTestRoot(), tt.args...)
			if got := exitCode(t, err); got != tt.want {
				t.Fatalf("exit code = %d, want %d (err=%v)", got, tt.want, err)
			}
		})
	}
}

func TestValidateCheckWorkersWarns(t *testing.T) {
	isolate(t)
	path := writeTestFile(t, "catalog.yaml", `
tools:
  - name: mean
    worker: {command: petalstat-no-such-worker-binary}
`)

	stdout, _, err := executeCommand(newTestRoot(), "validate", "--check-workers", path)
	if err != nil {
		t.Fatalf("validate error = %v, warnings must not fail", err)
	}
	if !strings.Contains(stdout, "WARNING [WORKER_NOT_FOUND]") {
		t.Fatalf("stdout = %q, want WORKER_NOT_FOUND warning", stdout)
	}
	if !strings.Contains(stdout, "Valid! (1 warning)") {
		t.Fatalf("stdout = %q, want warning summary", stdout)
	}
}

func TestExitCodeForKind(t *testing.T) {
	tests := map[string]int{
		"UNKNOWN_TOOL":      exitValidation,
		"INVALID_ARGUMENTS": exitValidation,
		"INVALID_REQUEST":   exitValidation,
		"PROCESS_TIMEOUT":   exitTimeout,
		"CANCELLED":         exitRuntime,
		"PROCESS_FAILURE":   exitCallFailed,
		"MALFORMED_OUTPUT":  exitCallFailed,
		"LOGICAL_FAILURE":   exitCallFailed,
		"INVALID_OUTPUT":    exitCallFailed,
	}
	for kind, want := range tests {
		if got := exitCodeForKind(kind); got != want {
			t.Errorf("exitCodeForKind(%s) = %d, want %d", kind, got, want)
		}
	}
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger, err := newLogger(&buf, "warn", "json")
	if err != nil {
		t.Fatalf("newLogger() error = %v", err)
	}
	logger.Info("hidden")
	logger.Warn("shown", "tool", "t_test")

	var record map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &record); err != nil {
		t.Fatalf("log output is not one JSON record: %v\n%s", err, buf.String())
	}
	if record["msg"] != "shown" || record["tool"] != "t_test" {
		t.Fatalf("record = %v", record)
	}

	if _, err := newLogger(&buf, "loud", "text"); err == nil {
		t.Fatal("newLogger() accepted an unknown level")
	}
	if _, err := newLogger(&buf, "info", "xml"); err == nil {
		t.Fatal("newLogger() accepted an unknown format")
	}
}
