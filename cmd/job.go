package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/josedab/docsynth-sub010/internal/models"
	"github.com/josedab/docsynth-sub010/internal/output"
)

var jobCmd = &cobra.Command{
	Use:   "job",
	Short: "Inspect and retry generation jobs",
}

var jobListCmd = &cobra.Command{
	Use:   "list <owner/name>",
	Short: "List generation jobs for a repository, newest first",
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

		var statuses []models.JobStatus
		if statusFlag, _ := cmd.Flags().GetString("status"); statusFlag != "" {
			statuses = append(statuses, models.JobStatus(statusFlag))
		}

		jobs, err := s.ListGenerationJobs(cmd.Context(), repo.ID, statuses, 50)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			ui.Info("No jobs for %s/%s", owner, name)
			return nil
		}

		table := ui.Table([]string{"ID", "PR", "STATUS", "PROGRESS", "CREATED"})
		for _, j := range jobs {
			table.Append([]string{
				j.ID,
				fmt.Sprintf("#%d", j.PRNumber),
				output.JobStatusColor(j.Status),
				fmt.Sprintf("%d%%", j.Progress),
				j.CreatedAt.Format("2006-01-02 15:04"),
			})
		}
		return table.Render()
	},
}

var jobShowCmd = &cobra.Command{
	Use:   "show <job-id>",
	Short: "Show one generation job",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}

		job, err := s.GetGenerationJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}

		ui.Info("Job %s", output.Cyan(job.ID))
		ui.Info("  PR: #%d", job.PRNumber)
		ui.Info("  Status: %s (%d%%)", output.JobStatusColor(job.Status), job.Progress)
		if job.Error != "" {
			ui.Error("  Error: %s", job.Error)
		}
		if job.CompletedAt != nil {
			ui.Info("  Completed: %s", job.CompletedAt.Format("2006-01-02 15:04:05"))
		}

		if session, err := s.GetActiveQASessionForPR(cmd.Context(), job.RepositoryID, job.PRNumber); err == nil {
			ui.Info("  QA session: %s (%s, confidence %s)",
				session.ID, output.SessionStatusColor(session.Status), output.ConfidenceColor(session.ConfidenceScore))
		}
		return nil
	},
}

var jobRetryCmd = &cobra.Command{
	Use:   "retry <job-id>",
	Short: "Retry a failed generation job from the stage that failed",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}

		if dryRun {
			ui.DryRunMsg("Would retry job %s", args[0])
			return nil
		}

		job, err := deps.pipeline.RetryJob(cmd.Context(), args[0])
		if err != nil {
			return err
		}
		ui.Success("Job %s re-enqueued", output.Cyan(job.ID))
		return nil
	},
}

func init() {
	jobListCmd.Flags().String("status", "", "Filter by status (PENDING, ANALYZING, INFERRING, GENERATING, REVIEWING, COMPLETED, FAILED)")
	jobCmd.AddCommand(jobListCmd)
	jobCmd.AddCommand(jobShowCmd)
	jobCmd.AddCommand(jobRetryCmd)
	rootCmd.AddCommand(jobCmd)
}
