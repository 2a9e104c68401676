package cmd

import (
	"errors"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/josedab/docsynth-sub010/internal/output"
	"github.com/josedab/docsynth-sub010/internal/pipeline"
)

var prCmd = &cobra.Command{
	Use:   "pr",
	Short: "Process pull-request events",
}

var prProcessCmd = &cobra.Command{
	Use:   "process <owner/name> <pr-number>",
	Short: "Start a documentation generation job for a pull request",
	Long: `Creates a generation job for the pull request and enqueues the
analysis stage. The job is processed by a running worker ("docsynth worker").
A pull request can only have one active job at a time.`,
	Args: cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, name, err := splitRepoArg(args[0])
		if err != nil {
			return err
		}
		prNumber, err := strconv.Atoi(args[1])
		if err != nil {
			return err
		}

		deps, err := buildDeps()
		if err != nil {
			return err
		}

		if dryRun {
			ui.DryRunMsg("Would start a generation job for %s/%s#%d", owner, name, prNumber)
			return nil
		}

		job, err := deps.pipeline.HandlePREvent(cmd.Context(), owner, name, prNumber)
		if errors.Is(err, pipeline.ErrJobInFlight) {
			ui.Warning("PR #%d already has an active job: %s (%s)", prNumber, job.ID, output.JobStatusColor(job.Status))
			return nil
		}
		if err != nil {
			return err
		}

		ui.Success("Job %s created for %s#%d", output.Cyan(job.ID), owner+"/"+name, prNumber)
		ui.Info("Run %s to process it", output.Cyan("docsynth worker"))
		return nil
	},
}

func init() {
	prCmd.AddCommand(prProcessCmd)
	rootCmd.AddCommand(prCmd)
}
