package cli

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/petal-labs/petalstat/dispatch"
	"github.com/petal-labs/petalstat/tool"
)

// NewCallCmd creates the "call" subcommand, a one-shot dispatch.
func NewCallCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "call <tool>",
		Short: "Run one tool call and print the response envelope",
		Example: `  petalstat call descriptive_stats --args '{"data":[1,2,3,4]}'
  echo '{"data":[1,2,3]}' | petalstat call descriptive_stats --args-file -`,
		Args: cobra.ExactArgs(1),
		RunE: runCall,
	}
	addEngineFlags(cmd)
	cmd.Flags().String("args", "", "Tool arguments as a JSON object")
	cmd.Flags().String("args-file", "", "Read tool arguments from a file (- for stdin)")
	cmd.Flags().String("id", "", "Correlation id to echo (default: random UUID)")
	cmd.Flags().Bool("pretty", false, "Indent the response envelope")
	cmd.MarkFlagsMutuallyExclusive("args", "args-file")
	return cmd
}

func runCall(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	logger, err := newLogger(cmd.ErrOrStderr(), logLevelFor(cmd, cfg.LogLevel), cfg.LogFormat)
	if err != nil {
		return exitError(exitValidation, "%v", err)
	}

	toolArgs, err := readCallArgs(cmd)
	if err != nil {
		return err
	}

	id, _ := cmd.Flags().GetString("id")
	if strings.TrimSpace(id) == "" {
		id = uuid.NewString()
	}

	eng, err := newEngine(cmd.Context(), cfg, logger, engineOptions{})
	if err != nil {
		return err
	}
	defer eng.Close()

	ctx := dispatch.WithTransport(cmd.Context(), "cli")
	resp := eng.dispatcher.Dispatch(ctx, dispatch.Request{
		ID:   id,
		Tool: strings.TrimSpace(args[0]),
		Args: toolArgs,
	})

	pretty, _ := cmd.Flags().GetBool("pretty")
	if err := writeEnvelope(cmd.OutOrStdout(), resp, pretty); err != nil {
		return err
	}
	if resp.Error != nil {
		return exitError(exitCodeForKind(resp.Error.Kind), "%s: %s", resp.Error.Kind, resp.Error.Message)
	}
	return nil
}

// readCallArgs decodes --args or --args-file into an argument object,
// keeping numbers as json.Number.
func readCallArgs(cmd *cobra.Command) (map[string]any, error) {
	raw, _ := cmd.Flags().GetString("args")
	path, _ := cmd.Flags().GetString("args-file")

	var data []byte
	switch {
	case path == "-":
		b, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return nil, exitError(exitInputParse, "reading arguments from stdin: %v", err)
		}
		data = b
	case path != "":
		// #nosec G304 -- path is supplied by the operator on the command line.
		b, err := os.ReadFile(path)
		if err != nil {
			if os.IsNotExist(err) {
				return nil, exitError(exitFileNotFound, "arguments file not found: %s", path)
			}
			return nil, exitError(exitInputParse, "reading arguments file: %v", err)
		}
		data = b
	default:
		data = []byte(raw)
	}

	if len(bytes.TrimSpace(data)) == 0 {
		return map[string]any{}, nil
	}

	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	var decoded any
	if err := decoder.Decode(&decoded); err != nil {
		return nil, exitError(exitInputParse, "arguments are not valid JSON: %v", err)
	}
	if decoder.More() {
		return nil, exitError(exitInputParse, "arguments must be a single JSON object")
	}
	object, ok := decoded.(map[string]any)
	if !ok {
		return nil, exitError(exitInputParse, "arguments must be a JSON object, got %s", jsonKind(decoded))
	}
	return object, nil
}

func jsonKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	case json.Number:
		return "number"
	default:
		return fmt.Sprintf("%T", v)
	}
}

func writeEnvelope(w io.Writer, resp dispatch.Response, pretty bool) error {
	var (
		data []byte
		err  error
	)
	if pretty {
		data, err = json.MarshalIndent(resp, "", "  ")
	} else {
		data, err = json.Marshal(resp)
	}
	if err != nil {
		return exitError(exitRuntime, "encoding response: %v", err)
	}
	data = append(data, '\n')
	if _, err := w.Write(data); err != nil {
		return exitError(exitRuntime, "writing response: %v", err)
	}
	return nil
}

// exitCodeForKind maps a failed call to a process exit code.
func exitCodeForKind(kind string) int {
	switch kind {
	case tool.KindUnknownTool, tool.KindInvalidArguments, tool.KindInvalidRequest:
		return exitValidation
	case tool.KindProcessTimeout:
		return exitTimeout
	case tool.KindCancelled:
		return exitRuntime
	default:
		return exitCallFailed
	}
}
