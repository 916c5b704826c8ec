package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/petal-labs/petalstat/catalog"
	"github.com/petal-labs/petalstat/tool"
)

// NewToolsCmd creates the "tools" command group.
func NewToolsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Inspect the tool catalogue",
	}
	cmd.AddCommand(newToolsListCmd())
	cmd.AddCommand(newToolsShowCmd())
	cmd.AddCommand(newToolsSearchCmd())
	return cmd
}

func newToolsListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List catalogued tools",
		Args:  cobra.NoArgs,
		RunE:  runToolsList,
	}
	addCatalogFlags(cmd)
	cmd.Flags().String("category", "", "Only list tools in this category")
	cmd.Flags().String("format", "text", "Output format: text | json")
	return cmd
}

func newToolsShowCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "show <name>",
		Short: "Show one tool with its input and output JSON Schema",
		Args:  cobra.ExactArgs(1),
		RunE:  runToolsShow,
	}
	addCatalogFlags(cmd)
	return cmd
}

func newToolsSearchCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "search <query...>",
		Short: "Search tools by name, category and description",
		Args:  cobra.MinimumNArgs(1),
		RunE:  runToolsSearch,
	}
	addCatalogFlags(cmd)
	cmd.Flags().Int("limit", 10, "Maximum number of results")
	cmd.Flags().String("format", "text", "Output format: text | json")
	return cmd
}

func loadRegistry(cmd *cobra.Command) (*tool.Registry, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	cat, err := openCatalog(cfg)
	if err != nil {
		return nil, err
	}
	return cat.Registry, nil
}

func outputFormat(cmd *cobra.Command) (string, error) {
	format, _ := cmd.Flags().GetString("format")
	format = strings.ToLower(strings.TrimSpace(format))
	if format != "text" && format != "json" {
		return "", exitError(exitValidation, "unknown format %q (want text or json)", format)
	}
	return format, nil
}

type toolSummary struct {
	Name        string `json:"name"`
	Category    string `json:"category,omitempty"`
	Description string `json:"description,omitempty"`
	TimeoutMS   int    `json:"timeout_ms,omitempty"`
}

func runToolsList(cmd *cobra.Command, _ []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	reg, err := loadRegistry(cmd)
	if err != nil {
		return err
	}
	category, _ := cmd.Flags().GetString("category")
	category = strings.TrimSpace(category)

	summaries := make([]toolSummary, 0, reg.Len())
	for _, def := range reg.List() {
		if category != "" && !strings.EqualFold(def.Category, category) {
			continue
		}
		summaries = append(summaries, toolSummary{
			Name:        def.Name,
			Category:    def.Category,
			Description: def.Description,
			TimeoutMS:   def.TimeoutMS,
		})
	}

	out := cmd.OutOrStdout()
	if format == "json" {
		return writeIndentedJSON(out, summaries)
	}
	if len(summaries) == 0 {
		fmt.Fprintln(out, "No tools found.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCATEGORY\tDESCRIPTION")
	for _, s := range summaries {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", s.Name, s.Category, s.Description)
	}
	return tw.Flush()
}

type toolDetail struct {
	toolSummary
	InputSchema  any `json:"input_schema"`
	OutputSchema any `json:"output_schema"`
}

func runToolsShow(cmd *cobra.Command, args []string) error {
	reg, err := loadRegistry(cmd)
	if err != nil {
		return err
	}
	def, err := reg.Lookup(strings.TrimSpace(args[0]))
	if err != nil {
		return exitError(exitValidation, "%v", err)
	}
	return writeIndentedJSON(cmd.OutOrStdout(), toolDetail{
		toolSummary: toolSummary{
			Name:        def.Name,
			Category:    def.Category,
			Description: def.Description,
			TimeoutMS:   def.TimeoutMS,
		},
		InputSchema:  def.Input.JSONSchema(),
		OutputSchema: def.Output.JSONSchema(),
	})
}

func runToolsSearch(cmd *cobra.Command, args []string) error {
	format, err := outputFormat(cmd)
	if err != nil {
		return err
	}
	limit, _ := cmd.Flags().GetInt("limit")
	if limit < 1 {
		return exitError(exitValidation, "--limit must be at least 1")
	}
	reg, err := loadRegistry(cmd)
	if err != nil {
		return err
	}

	index, err := catalog.NewIndex(reg)
	if err != nil {
		return exitError(exitRuntime, "building catalogue index: %v", err)
	}
	defer func() { _ = index.Close() }()

	hits, err := index.Search(strings.Join(args, " "), limit)
	if err != nil {
		return exitError(exitRuntime, "search failed: %v", err)
	}

	out := cmd.OutOrStdout()
	if format == "json" {
		return writeIndentedJSON(out, hits)
	}
	if len(hits) == 0 {
		fmt.Fprintln(out, "No matching tools.")
		return nil
	}
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tCATEGORY\tSCORE\tDESCRIPTION")
	for _, h := range hits {
		fmt.Fprintf(tw, "%s\t%s\t%.3f\t%s\n", h.Name, h.Category, h.Score, h.Description)
	}
	return tw.Flush()
}

func writeIndentedJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return exitError(exitRuntime, "encoding output: %v", err)
	}
	return nil
}
