package cmd

import (
	"fmt"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/josedab/docsynth-sub010/internal/drift"
	"github.com/josedab/docsynth-sub010/internal/models"
	"github.com/josedab/docsynth-sub010/internal/output"
	"github.com/josedab/docsynth-sub010/internal/pipeline"
	"github.com/josedab/docsynth-sub010/internal/store"
)

var driftCmd = &cobra.Command{
	Use:   "drift",
	Short: "Detect and heal documentation drift",
}

var driftScanCmd = &cobra.Command{
	Use:   "scan <owner/name>",
	Short: "Scan a repository's documents for drift",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, name, err := splitRepoArg(args[0])
		if err != nil {
			return err
		}
		deps, err := buildDeps()
		if err != nil {
			return err
		}

		repo, err := deps.store.GetRepositoryByOwnerName(cmd.Context(), owner, name)
		if err != nil {
			return fmt.Errorf("repository %s/%s: %w", owner, name, err)
		}
		docs, err := deps.store.ListDocuments(cmd.Context(), repo.ID)
		if err != nil {
			return err
		}
		if len(docs) == 0 {
			ui.Info("No documents to scan for %s/%s", owner, name)
			return nil
		}

		if dryRun {
			ui.DryRunMsg("Would scan %d document(s)", len(docs))
			return nil
		}

		bar := progressbar.Default(int64(len(docs)), "Scanning")
		atRisk := 0
		for _, doc := range docs {
			p, err := deps.monitor.ScanDocument(cmd.Context(), repo, doc)
			_ = bar.Add(1)
			if err != nil {
				ui.Warning("scan %s: %v", doc.Path, err)
				continue
			}
			if p.RiskLevel != models.RiskLow {
				atRisk++
			}
		}

		ui.Success("Scanned %d document(s), %d at medium or high risk", len(docs), atRisk)
		return nil
	},
}

var driftListCmd = &cobra.Command{
	Use:   "list <owner/name>",
	Short: "List drift predictions for a repository",
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

		filter := store.DriftFilter{RepositoryID: repo.ID}
		if statusFlag, _ := cmd.Flags().GetString("status"); statusFlag != "" {
			filter.Status = models.DriftStatus(statusFlag)
		}
		if riskFlag, _ := cmd.Flags().GetString("risk"); riskFlag != "" {
			filter.RiskLevel = models.RiskLevel(riskFlag)
		}

		predictions, err := s.ListDriftPredictions(cmd.Context(), filter)
		if err != nil {
			return err
		}
		if len(predictions) == 0 {
			ui.Info("No drift predictions for %s/%s", owner, name)
			return nil
		}

		table := ui.Table([]string{"ID", "DOCUMENT", "PROBABILITY", "RISK", "STATUS"})
		for _, p := range predictions {
			docPath := p.DocumentID
			if doc, err := s.GetDocument(cmd.Context(), p.DocumentID); err == nil {
				docPath = doc.Path
			}
			table.Append([]string{
				p.ID,
				docPath,
				fmt.Sprintf("%.2f", p.DriftProbability),
				output.RiskColor(p.RiskLevel),
				string(p.Status),
			})
		}
		return table.Render()
	},
}

var driftActionCmd = &cobra.Command{
	Use:   "action <prediction-id> <acknowledged|dismissed|resolved>",
	Short: "Apply a decision to a drift prediction",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		deps, err := buildDeps()
		if err != nil {
			return err
		}

		if dryRun {
			ui.DryRunMsg("Would mark prediction %s as %s", args[0], args[1])
			return nil
		}

		if err := deps.monitor.TakeAction(cmd.Context(), args[0], models.DriftStatus(args[1])); err != nil {
			return err
		}
		ui.Success("Prediction %s marked %s", args[0], args[1])
		return nil
	},
}

var driftHealCmd = &cobra.Command{
	Use:   "heal <owner/name>",
	Short: "Regenerate documents whose drift exceeds the threshold",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, name, err := splitRepoArg(args[0])
		if err != nil {
			return err
		}
		deps, err := buildDeps()
		if err != nil {
			return err
		}

		repo, err := deps.store.GetRepositoryByOwnerName(cmd.Context(), owner, name)
		if err != nil {
			return fmt.Errorf("repository %s/%s: %w", owner, name, err)
		}

		cfg := drift.HealConfig{
			DriftThreshold:    viper.GetFloat64("drift.threshold"),
			ConfidenceMinimum: viper.GetInt("drift.confidence_minimum"),
			MaxSectionsPerRun: viper.GetInt("drift.max_sections_per_run"),
		}

		if dryRun {
			ui.DryRunMsg("Would heal %s/%s (threshold %.2f, min confidence %d, section budget %d)",
				owner, name, cfg.DriftThreshold, cfg.ConfidenceMinimum, cfg.MaxSectionsPerRun)
			return nil
		}

		report, err := deps.healer.Heal(cmd.Context(), repo.ID, cfg)
		if err != nil {
			return err
		}

		ui.Success("Healing pass: %d considered, %d regenerated, %d below confidence, %d error(s), %d section(s) touched",
			report.Considered, report.Regenerated, report.SkippedLow, report.Errors, report.SectionsUsed)
		return nil
	},
}

var driftScheduleCmd = &cobra.Command{
	Use:   "schedule <owner/name> <assess-drift|regenerate|create-pr>",
	Short: "Enqueue a self-healing action for the worker",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		owner, name, err := splitRepoArg(args[0])
		if err != nil {
			return err
		}
		deps, err := buildDeps()
		if err != nil {
			return err
		}

		repo, err := deps.store.GetRepositoryByOwnerName(cmd.Context(), owner, name)
		if err != nil {
			return fmt.Errorf("repository %s/%s: %w", owner, name, err)
		}

		if dryRun {
			ui.DryRunMsg("Would enqueue %s for %s/%s", args[1], owner, name)
			return nil
		}

		handle, err := deps.pipeline.EnqueueSelfHealing(cmd.Context(), pipeline.SelfHealingMessage{
			RepositoryID: repo.ID,
			Action:       args[1],
		})
		if err != nil {
			return err
		}
		if handle.Coalesced {
			ui.Info("Action already queued (%s)", handle.ID)
			return nil
		}
		ui.Success("Enqueued %s (%s)", args[1], handle.ID)
		return nil
	},
}

func init() {
	driftListCmd.Flags().String("status", "", "Filter by status (open, acknowledged, dismissed, resolved)")
	driftListCmd.Flags().String("risk", "", "Filter by risk level (low, medium, high)")
	driftCmd.AddCommand(driftScanCmd)
	driftCmd.AddCommand(driftListCmd)
	driftCmd.AddCommand(driftActionCmd)
	driftCmd.AddCommand(driftHealCmd)
	driftCmd.AddCommand(driftScheduleCmd)
	rootCmd.AddCommand(driftCmd)
}
