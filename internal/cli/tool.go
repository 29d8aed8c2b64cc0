package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"sleuth/internal/server"
	"sleuth/internal/toolservice"
)

// NewToolCmd creates the tools command. Without a subcommand it lists the
// catalog.
func NewToolCmd() *cobra.Command {
	list := newToolListCmd()

	cmd := &cobra.Command{
		Use:     "tools",
		Aliases: []string{"tool"},
		Short:   "Inspect and execute tool service tools",
		Long:    `List the tool service catalog, view tool details, and execute single tools.`,
		Args:    cobra.NoArgs,
		RunE:    list.RunE,
	}
	cmd.Flags().AddFlagSet(list.Flags())

	cmd.AddCommand(list)
	cmd.AddCommand(newToolInfoCmd())
	cmd.AddCommand(newToolRunCmd())

	return cmd
}

func newToolListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List the tool catalog",
		Long: `List the tools the tool service advertises. When the service is
unreachable the built-in catalog is shown instead.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			tools, source, err := listTools(cmd)
			if err != nil {
				return err
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), map[string]any{"source": source, "tools": tools})
			}
			if source != "tool_service" {
				fmt.Fprintln(cmd.ErrOrStderr(), "tool service unavailable, showing built-in catalog")
			}
			printTools(cmd.OutOrStdout(), tools)
			return nil
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}

func newToolInfoCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "info <tool-name>",
		Short: "Show tool details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			tools, _, err := listTools(cmd)
			if err != nil {
				return err
			}
			for _, t := range tools {
				if t.Name == args[0] {
					return printToolInfo(cmd.OutOrStdout(), t)
				}
			}
			return fmt.Errorf("tool not found: %s", args[0])
		},
	}

	return cmd
}

func newToolRunCmd() *cobra.Command {
	var argsJSON string

	cmd := &cobra.Command{
		Use:   "run <tool-name> [--args <json>]",
		Short: "Execute a single tool",
		Long: `Execute one tool against the tool service and print its raw result.

Arguments should be provided as a JSON object using the --args flag.`,
		Example: `  sleuth tools run search_resources --args '{"query": "vector-0"}'
  sleuth tools run get_resource_by_id --args '{"resource_id": 77}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var params map[string]any
			if err := json.Unmarshal([]byte(argsJSON), &params); err != nil {
				return fmt.Errorf("invalid --args JSON: %w", err)
			}

			svc, err := toolService(cmd)
			if err != nil {
				return err
			}
			defer closeTools(svc)

			res, err := svc.Execute(cmd.Context(), args[0], params)
			if err != nil {
				return fmt.Errorf("execute %s: %w", args[0], err)
			}
			if err := writeJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if !res.Success {
				return fmt.Errorf("tool %s failed: %s", args[0], res.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&argsJSON, "args", "{}", "tool arguments as JSON")

	return cmd
}

func toolService(cmd *cobra.Command) (toolservice.Service, error) {
	cliCtx := GetCLIContext(cmd)
	if cliCtx == nil {
		return nil, errNoContext
	}
	return server.NewToolService(cliCtx.Config.ToolService, CurrentBuild().Version)
}

// listTools returns the live catalog, or the built-in one when the service
// cannot be reached.
func listTools(cmd *cobra.Command) ([]toolservice.Tool, string, error) {
	svc, err := toolService(cmd)
	if err != nil {
		return nil, "", err
	}
	defer closeTools(svc)

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	tools, err := svc.ListTools(ctx)
	if err != nil {
		log := GetCLIContext(cmd).Log()
		log.Debug().Err(err).Msg("list tools failed")
		return toolservice.FallbackCatalog(), "fallback", nil
	}
	return tools, "tool_service", nil
}

func printTools(w io.Writer, tools []toolservice.Tool) {
	if len(tools) == 0 {
		fmt.Fprintln(w, "No tools found.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "NAME\tDESCRIPTION")
	fmt.Fprintln(tw, "----\t-----------")
	for _, t := range tools {
		fmt.Fprintf(tw, "%s\t%s\n", t.Name, truncate(t.Description, 60))
	}
	tw.Flush()

	fmt.Fprintf(w, "\nTotal: %d tools\n", len(tools))
}

func printToolInfo(w io.Writer, t toolservice.Tool) error {
	fmt.Fprintf(w, "Name:        %s\n", t.Name)
	fmt.Fprintf(w, "Description: %s\n", t.Description)
	if len(t.InputSchema) == 0 {
		return nil
	}
	var schema any
	if err := json.Unmarshal(t.InputSchema, &schema); err != nil {
		return fmt.Errorf("decode input schema: %w", err)
	}
	data, err := json.MarshalIndent(schema, "  ", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(w, "Input schema:\n  %s\n", data)
	return nil
}

func closeTools(svc toolservice.Service) {
	if c, ok := svc.(interface{ Close() error }); ok {
		_ = c.Close()
	}
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// truncate shortens s to max runes, marking the cut with "...".
func truncate(s string, max int) string {
	s = strings.ReplaceAll(s, "\n", " ")
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max-3]) + "..."
}
