package cli

import (
	"errors"
	"fmt"
	"io"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/petal-labs/petalstat/catalog"
	"github.com/petal-labs/petalstat/tool"
)

// NewValidateCmd creates the "validate" subcommand.
func NewValidateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "validate [catalog]",
		Short: "Validate a tool catalogue without starting a server",
		Long: "Validate a tool catalogue. Without an argument the catalogue is " +
			"discovered the same way serve discovers it.",
		Args: cobra.MaximumNArgs(1),
		RunE: runValidate,
	}
	addCatalogFlags(cmd)
	cmd.Flags().String("format", "text", "Output format: text | json")
	cmd.Flags().Bool("check-workers", false, "Warn when a worker command cannot be found")
	return cmd
}

func runValidate(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		cfg.Catalog = args[0]
	}

	out := cmd.OutOrStdout()
	cat, err := catalog.Open(cfg.Catalog, catalog.Options{WorkerDir: cfg.WorkerDir})
	if err != nil {
		var regErr *tool.RegistryError
		if !errors.As(err, &regErr) {
			return catalogExitError(err)
		}
		printValidateDiagnostics(out, regErr.Diagnostics, format)
		errs := len(errorDiagnostics(regErr.Diagnostics))
		return exitError(exitValidation, "catalogue has %d %s", errs, pluralize("error", errs))
	}

	var diags []tool.Diagnostic
	if checkWorkers, _ := cmd.Flags().GetBool("check-workers"); checkWorkers {
		diags = workerDiagnostics(cat.Registry)
	}
	printValidateDiagnostics(out, diags, format)
	if format == "text" {
		fmt.Fprintf(out, "%d %s in %s\n", cat.Registry.Len(), pluralize("tool", cat.Registry.Len()), describeSource(cat))
	}
	return nil
}

// workerDiagnostics warns about worker commands that are not resolvable.
// A catalogue is still valid without them; calls would fail at spawn time.
func workerDiagnostics(reg *tool.Registry) []tool.Diagnostic {
	var diags []tool.Diagnostic
	for _, def := range reg.List() {
		command := def.Worker.Command
		if strings.ContainsRune(command, filepath.Separator) && !filepath.IsAbs(command) {
			command = filepath.Join(def.Worker.Dir, command)
		}
		if _, err := exec.LookPath(command); err != nil {
			diags = append(diags, tool.Diagnostic{
				Field:    "tools." + def.Name + ".worker.command",
				Code:     "WORKER_NOT_FOUND",
				Severity: tool.SeverityWarning,
				Message:  fmt.Sprintf("worker command %q not found", def.Worker.Command),
			})
		}
	}
	return diags
}

// printValidateDiagnostics writes diagnostics to the writer in the requested
// format, followed by a summary line (for text format).
func printValidateDiagnostics(w io.Writer, diags []tool.Diagnostic, format string) {
	if format == "json" {
		printDiagnosticsJSON(w, diags)
		return
	}
	printDiagnosticsText(w, diags)
}

func printDiagnosticsText(w io.Writer, diags []tool.Diagnostic) {
	for _, d := range diags {
		sev := strings.ToUpper(string(d.Severity))
		if d.Field != "" {
			fmt.Fprintf(w, "%s [%s]: %s (at %s)\n", sev, d.Code, d.Message, d.Field)
		} else {
			fmt.Fprintf(w, "%s [%s]: %s\n", sev, d.Code, d.Message)
		}
	}

	errs := len(errorDiagnostics(diags))
	warns := len(diags) - errs

	switch {
	case errs == 0 && warns == 0:
		fmt.Fprintln(w, "Valid!")
	case errs == 0:
		fmt.Fprintf(w, "\nValid! (%d %s)\n", warns, pluralize("warning", warns))
	default:
		fmt.Fprintf(w, "\n%d %s, %d %s\n",
			errs, pluralize("error", errs),
			warns, pluralize("warning", warns))
	}
}

func printDiagnosticsJSON(w io.Writer, diags []tool.Diagnostic) {
	// Output an empty array rather than null when there are no diagnostics.
	if diags == nil {
		diags = []tool.Diagnostic{}
	}
	_ = writeIndentedJSON(w, diags)
}

func errorDiagnostics(diags []tool.Diagnostic) []tool.Diagnostic {
	return tool.Result{Diagnostics: diags}.Errors()
}

// pluralize returns the singular or plural form of a word based on count.
func pluralize(word string, count int) string {
	if count == 1 {
		return word
	}
	return word + "s"
}
