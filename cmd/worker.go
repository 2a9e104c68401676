package cmd

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/josedab/docsynth-sub010/internal/queue"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Run the pipeline worker",
	Long: `Starts the queue consumers for every pipeline stage and blocks until
interrupted. Jobs enqueued by "docsynth pr process", the MCP server, or the
drift scheduler are processed here. Multiple workers can share one database;
leases keep any job on exactly one worker at a time.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}

		runner := queue.NewRunner(deps.queue, deps.logger)
		if err := deps.pipeline.Register(runner); err != nil {
			return err
		}

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if err := runner.Start(ctx); err != nil {
			return err
		}
		go deps.pipeline.ScheduleDriftScans(ctx, viper.GetDuration("drift.scan_interval"))
		ui.Success("Worker started, press Ctrl+C to stop")

		<-ctx.Done()
		ui.Info("Shutting down, waiting for in-flight jobs")
		runner.Stop()
		ui.Success("Worker stopped")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(workerCmd)
}
