package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/josedab/docsynth-sub010/internal/models"
	"github.com/josedab/docsynth-sub010/internal/output"
)

var qaCmd = &cobra.Command{
	Use:   "qa",
	Short: "Review sessions and answer quality questions",
}

var qaSessionsCmd = &cobra.Command{
	Use:   "sessions <owner/name>",
	Short: "List QA sessions for a repository",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, name, err := splitRepoArg(args[0])
		if err != nil {
			return err
		}
		s, err := getStore()
		if err != nil {
			return err
		}

		repo, err := s.GetRepositoryByOwnerName(cmd.Context(), owner, name)
		if err != nil {
			return fmt.Errorf("repository %s/%s: %w", owner, name, err)
		}

		var statuses []models.QASessionStatus
		if statusFlag, _ := cmd.Flags().GetString("status"); statusFlag != "" {
			statuses = append(statuses, models.QASessionStatus(statusFlag))
		}

		sessions, err := s.ListQASessions(cmd.Context(), repo.ID, statuses, 50)
		if err != nil {
			return err
		}
		if len(sessions) == 0 {
			ui.Info("No QA sessions for %s/%s", owner, name)
			return nil
		}

		table := ui.Table([]string{"ID", "PR", "STATUS", "CONFIDENCE", "DOCUMENTS"})
		for _, sess := range sessions {
			table.Append([]string{
				sess.ID,
				fmt.Sprintf("#%d", sess.PRNumber),
				output.SessionStatusColor(sess.Status),
				output.ConfidenceColor(sess.ConfidenceScore),
				strings.Join(sess.DocumentPaths, ", "),
			})
		}
		return table.Render()
	},
}

var qaQuestionsCmd = &cobra.Command{
	Use:   "questions <session-id>",
	Short: "List a session's questions in presentation order",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}

		questions, err := s.ListQAQuestions(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		if len(questions) == 0 {
			ui.Info("No questions for session %s", args[0])
			return nil
		}

		for _, q := range questions {
			marker := string(q.Priority)
			if q.Priority == models.QuestionPriorityCritical {
				marker = output.Red(marker)
			}
			ui.Info("[%s] %s (%s, %s)", marker, output.Cyan(q.ID), q.DocumentPath, q.Status)
			fmt.Fprintf(ui.Out, "    %s\n", q.Text)
			if q.Answer != "" {
				fmt.Fprintf(ui.Out, "    %s %s\n", output.Green("answer:"), q.Answer)
			}
		}
		return nil
	},
}

var qaAnswerCmd = &cobra.Command{
	Use:   "answer <question-id> <answer>",
	Short: "Answer a pending question",
	Long: `Records an answer on a pending question. When the last pending
question of the session is settled, the answered documents are refined with
the answers folded in and the session completes.`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}

		questionID := args[0]
		answer := strings.Join(args[1:], " ")

		if dryRun {
			ui.DryRunMsg("Would answer question %s", questionID)
			return nil
		}

		if err := deps.sessions.AnswerQuestion(cmd.Context(), questionID, answer); err != nil {
			return err
		}
		if err := finalizeJobForQuestion(cmd, deps, questionID); err != nil {
			return err
		}
		ui.Success("Answer recorded")
		return nil
	},
}

var qaSkipCmd = &cobra.Command{
	Use:   "skip <question-id>",
	Short: "Skip a pending question",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}

		if dryRun {
			ui.DryRunMsg("Would skip question %s", args[0])
			return nil
		}

		if err := deps.sessions.SkipQuestion(cmd.Context(), args[0]); err != nil {
			return err
		}
		if err := finalizeJobForQuestion(cmd, deps, args[0]); err != nil {
			return err
		}
		ui.Success("Question skipped")
		return nil
	},
}

var qaApproveCmd = &cobra.Command{
	Use:   "approve <session-id>",
	Short: "Manually approve a session with no pending questions",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}

		if dryRun {
			ui.DryRunMsg("Would approve session %s", args[0])
			return nil
		}

		if err := deps.sessions.ApproveManually(cmd.Context(), args[0]); err != nil {
			return err
		}
		if err := deps.pipeline.FinalizeSession(cmd.Context(), args[0]); err != nil {
			return err
		}
		ui.Success("Session approved")
		return nil
	},
}

// finalizeJobForQuestion completes the generation job when settling the
// question closed its session.
func finalizeJobForQuestion(cmd *cobra.Command, deps *appDeps, questionID string) error {
	q, err := deps.store.GetQAQuestion(cmd.Context(), questionID)
	if err != nil {
		return err
	}
	session, err := deps.store.GetQASession(cmd.Context(), q.SessionID)
	if err != nil {
		return err
	}
	if !session.Status.Terminal() {
		return nil
	}
	ui.Info("Session %s completed", session.ID)
	return deps.pipeline.FinalizeSession(cmd.Context(), session.ID)
}

func init() {
	qaSessionsCmd.Flags().String("status", "", "Filter by status (pending, reviewing, awaiting_response, approved, completed)")
	qaCmd.AddCommand(qaSessionsCmd)
	qaCmd.AddCommand(qaQuestionsCmd)
	qaCmd.AddCommand(qaAnswerCmd)
	qaCmd.AddCommand(qaSkipCmd)
	qaCmd.AddCommand(qaApproveCmd)
	rootCmd.AddCommand(qaCmd)
}
