package cmd

import (
	"github.com/spf13/cobra"

	"github.com/josedab/docsynth-sub010/internal/mcp"
)

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP stdio server for agent integration",
	Long: `Start an MCP (Model Context Protocol) server on stdio.

This lets agents trigger documentation jobs, answer review questions,
and manage drift without the CLI. Configure with:

  {
    "mcpServers": {
      "docsynth": { "command": "docsynth", "args": ["mcp"] }
    }
  }

Available tools: docsynth_trigger_pr, docsynth_list_jobs, docsynth_job_status,
docsynth_retry_job, docsynth_list_questions, docsynth_answer_question,
docsynth_skip_question, docsynth_approve_session, docsynth_list_drift,
docsynth_drift_action, docsynth_trigger_healing`,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}

		srv := mcp.NewServer(deps.store, deps.pipeline, deps.sessions, deps.monitor)
		return srv.ServeStdio(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(mcpCmd)
}
