package cli

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"sleuth/internal/gateway/handlers"
	"sleuth/internal/server"
	"sleuth/internal/session"
	"sleuth/internal/workflow"
)

const (
	ansiDim   = "\033[2m"
	ansiCyan  = "\033[36m"
	ansiReset = "\033[0m"
)

// AskOptions ask 命令选项
type AskOptions struct {
	SessionID string
	JSON      bool
	Ephemeral bool
}

// NewAskCmd creates the ask command.
func NewAskCmd() *cobra.Command {
	opts := &AskOptions{}

	cmd := &cobra.Command{
		Use:   "ask [query]",
		Short: "Ask a question and stream the answer",
		Long: `Run one conversational turn without a server.

The query is taken from the arguments, or read from stdin when none are
given. Tool batches are reported on stderr while the answer streams to
stdout. Pass --session to continue an earlier conversation.`,
		Example: `  sleuth ask "what is the status of vector-0"
  sleuth ask --session 5f0c... "and its tickets?"
  echo "open incidents today" | sleuth ask --json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAsk(cmd, args, opts)
		},
	}

	cmd.Flags().StringVarP(&opts.SessionID, "session", "s", "", "session to continue")
	cmd.Flags().BoolVar(&opts.JSON, "json", false, "print the finished turn as JSON")
	cmd.Flags().BoolVar(&opts.Ephemeral, "ephemeral", false, "do not persist the conversation")

	return cmd
}

func runAsk(cmd *cobra.Command, args []string, opts *AskOptions) error {
	cliCtx := GetCLIContext(cmd)
	if cliCtx == nil {
		return errNoContext
	}

	out := cmd.OutOrStdout()
	errOut := cmd.ErrOrStderr()
	tty := isTerminal(out)

	query, err := readQuery(cmd.InOrStdin(), errOut, args)
	if err != nil {
		return err
	}

	comps, err := cliCtx.Components(cmd.Context(), server.Options{Ephemeral: opts.Ephemeral})
	if err != nil {
		return err
	}

	sink := workflow.FuncSink{
		OnTools: func(b workflow.ToolBatch) {
			label := "running"
			if b.Phase != "" {
				label = b.Phase
			}
			line := fmt.Sprintf("→ %s: %s", label, strings.Join(b.Names, ", "))
			if tty {
				line = ansiDim + line + ansiReset
			}
			fmt.Fprintln(errOut, line)
		},
	}
	if !opts.JSON {
		sink.OnToken = func(tok string) { fmt.Fprint(out, tok) }
	}

	state, err := comps.Engine.Run(cmd.Context(), session.Request{
		Query:     query,
		SessionID: opts.SessionID,
	}, sink)
	if err != nil {
		return fmt.Errorf("ask: %w", err)
	}

	if opts.JSON {
		if err := writeJSON(out, handlers.NewChatResponse(state)); err != nil {
			return err
		}
	} else {
		fmt.Fprintln(out)
		printForwardLinks(out, state.Enrichment().ForwardLinks, tty)
	}

	if !cliCtx.Quiet {
		fmt.Fprintf(errOut, "session: %s\n", state.SessionID())
	}

	if state.Status() == session.StatusFailed {
		if opts.JSON {
			return errors.New("turn failed")
		}
		return fmt.Errorf("turn failed: %s", state.Answer())
	}
	return nil
}

// readQuery joins args, or falls back to stdin. An interactive stdin gets a
// prompt and a single line; a pipe is read to the end.
func readQuery(in io.Reader, prompt io.Writer, args []string) (string, error) {
	query := strings.TrimSpace(strings.Join(args, " "))
	if query != "" {
		return query, nil
	}

	if isTerminal(in) {
		fmt.Fprint(prompt, "? ")
		line, err := bufio.NewReader(in).ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return "", err
		}
		query = strings.TrimSpace(line)
	} else {
		data, err := io.ReadAll(in)
		if err != nil {
			return "", fmt.Errorf("read query: %w", err)
		}
		query = strings.TrimSpace(string(data))
	}

	if query == "" {
		return "", errors.New("query is required")
	}
	return query, nil
}

func printForwardLinks(w io.Writer, links []string, tty bool) {
	if len(links) == 0 {
		return
	}
	fmt.Fprintln(w)
	fmt.Fprintln(w, "You could also ask:")
	for _, link := range links {
		if tty {
			fmt.Fprintf(w, "  %s•%s %s\n", ansiCyan, ansiReset, link)
		} else {
			fmt.Fprintf(w, "  - %s\n", link)
		}
	}
}

func isTerminal(v any) bool {
	f, ok := v.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}
