package cli

import (
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"sleuth/internal/storage"
)

// NewSessionCmd creates the session command.
func NewSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Manage conversation sessions",
		Long:  `List, view, and delete the conversation checkpoints in the local store.`,
	}

	cmd.AddCommand(newSessionListCmd())
	cmd.AddCommand(newSessionShowCmd())
	cmd.AddCommand(newSessionDeleteCmd())

	return cmd
}

func newSessionListCmd() *cobra.Command {
	var (
		limit      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions",
		Long:  `List stored sessions, most recently updated first.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := sessionStore(cmd)
			if err != nil {
				return err
			}
			cps, err := store.ListCheckpoints(cmd.Context(), limit, 0)
			if err != nil {
				return fmt.Errorf("list sessions: %w", err)
			}
			if jsonOutput {
				if cps == nil {
					cps = []*storage.Checkpoint{}
				}
				return writeJSON(cmd.OutOrStdout(), cps)
			}
			printSessions(cmd.OutOrStdout(), cps)
			return nil
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "l", 20, "maximum number of sessions to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}

type sessionDetail struct {
	*storage.Checkpoint
	Turns []*storage.Turn `json:"turns"`
}

func newSessionShowCmd() *cobra.Command {
	var (
		turns      int
		jsonOutput bool
	)

	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show session details",
		Long:  `Display the history and recent turns of a session.`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := sessionStore(cmd)
			if err != nil {
				return err
			}
			cp, err := store.GetCheckpoint(cmd.Context(), args[0])
			if err != nil {
				return sessionError(args[0], err)
			}
			list, err := store.ListTurns(cmd.Context(), args[0], turns)
			if err != nil {
				return fmt.Errorf("list turns: %w", err)
			}
			if list == nil {
				list = []*storage.Turn{}
			}
			if jsonOutput {
				return writeJSON(cmd.OutOrStdout(), sessionDetail{Checkpoint: cp, Turns: list})
			}
			printSession(cmd.OutOrStdout(), cp, list)
			return nil
		},
	}

	cmd.Flags().IntVarP(&turns, "turns", "n", 10, "number of recent turns to show")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output in JSON format")

	return cmd
}

func newSessionDeleteCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "delete <session-id>",
		Short: "Delete a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := sessionStore(cmd)
			if err != nil {
				return err
			}
			if err := store.DeleteCheckpoint(cmd.Context(), args[0]); err != nil {
				return sessionError(args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Session %s deleted.\n", args[0])
			return nil
		},
	}

	return cmd
}

func sessionStore(cmd *cobra.Command) (storage.Checkpointer, error) {
	cliCtx := GetCLIContext(cmd)
	if cliCtx == nil {
		return nil, errNoContext
	}
	return cliCtx.Store()
}

func sessionError(id string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return fmt.Errorf("session not found: %s", id)
	}
	return err
}

func printSessions(w io.Writer, cps []*storage.Checkpoint) {
	if len(cps) == 0 {
		fmt.Fprintln(w, "No sessions found.")
		return
	}

	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tTURNS\tSTATUS\tCREATED\tUPDATED")
	fmt.Fprintln(tw, "--\t-----\t------\t-------\t-------")
	for _, cp := range cps {
		fmt.Fprintf(tw, "%s\t%d\t%s\t%s\t%s\n",
			cp.SessionID,
			cp.TurnCount,
			cp.LastStatus,
			cp.CreatedAt.Format("2006-01-02 15:04"),
			cp.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	tw.Flush()
}

func printSession(w io.Writer, cp *storage.Checkpoint, turns []*storage.Turn) {
	fmt.Fprintf(w, "Session: %s\n", cp.SessionID)
	fmt.Fprintf(w, "Turns:   %d (last: %s)\n", cp.TurnCount, cp.LastStatus)
	fmt.Fprintf(w, "Created: %s\n", cp.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Fprintf(w, "Updated: %s\n", cp.UpdatedAt.Format("2006-01-02 15:04:05"))

	if len(cp.History) > 0 {
		fmt.Fprintln(w, "\nHistory:")
		for _, h := range cp.History {
			fmt.Fprintf(w, "  [%s] %s\n", h.Role, truncate(h.Content, 100))
		}
	}

	if len(turns) > 0 {
		fmt.Fprintln(w, "\nRecent turns:")
		tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
		fmt.Fprintln(tw, "  TIME\tSTATUS\tTOOLS\tERRORS\tQUERY")
		for _, t := range turns {
			fmt.Fprintf(tw, "  %s\t%s\t%d\t%d\t%s\n",
				t.CreatedAt.Format("15:04:05"),
				t.Status,
				len(t.Tools),
				t.ErrorCount,
				truncate(t.Query, 50),
			)
		}
		tw.Flush()
	}
}
