package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/formflow/internal/model"
	"github.com/sells-group/formflow/internal/store"
	"github.com/sells-group/formflow/internal/workflow"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Inspect decomposition workflow sessions",
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List workflow sessions",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		status, _ := cmd.Flags().GetString("status")
		limit, _ := cmd.Flags().GetInt("limit")

		sessions, err := st.ListSessions(ctx, store.SessionFilter{
			Status: model.WorkflowStatus(status),
			Limit:  limit,
		})
		if err != nil {
			return eris.Wrap(err, "sessions list")
		}

		if len(sessions) == 0 {
			fmt.Fprintln(os.Stderr, "No sessions found.")
			return nil
		}

		formatSessionsList(os.Stdout, sessions)
		return nil
	},
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <session-id>",
	Short: "Show the full state of a session as JSON",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close() //nolint:errcheck

		state, err := st.GetSession(ctx, args[0])
		if err != nil {
			return eris.Wrap(err, "sessions show")
		}

		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(state)
	},
}

var sessionsContinueCmd = &cobra.Command{
	Use:   "continue <session-id>",
	Short: "Resume a session that was interrupted while in progress",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return driveSession(cmd, "sessions continue", func(ctx context.Context, m *workflow.Machine) (*model.WorkflowState, error) {
			return m.Continue(ctx, args[0])
		})
	},
}

func init() {
	sessionsListCmd.Flags().String("status", "", "filter by status (in_progress, awaiting_review, completed, failed)")
	sessionsListCmd.Flags().Int("limit", 50, "max number of sessions to display")

	sessionsCmd.AddCommand(sessionsListCmd)
	sessionsCmd.AddCommand(sessionsShowCmd)
	sessionsCmd.AddCommand(sessionsContinueCmd)
	rootCmd.AddCommand(sessionsCmd)
}

// formatSessionsList writes a tabular list of sessions to out.
func formatSessionsList(out io.Writer, sessions []model.WorkflowState) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tFORM\tSTATUS\tSTAGE\tATTEMPT\tTASK\tUPDATED")
	_, _ = fmt.Fprintln(w, "--\t----\t------\t-----\t-------\t----\t-------")

	for _, s := range sessions {
		form := s.Form.Name
		if len(form) > 30 {
			form = form[:27] + "..."
		}
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			truncateID(s.SessionID),
			form,
			s.Status,
			s.Stage,
			s.Attempt,
			s.MaxAttempts,
			s.TaskName,
			s.UpdatedAt.Format("2006-01-02 15:04"),
		)
	}
	_ = w.Flush()
}
