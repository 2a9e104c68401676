package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/josedab/docsynth-sub010/internal/models"
	"github.com/josedab/docsynth-sub010/internal/output"
)

var repoCmd = &cobra.Command{
	Use:   "repo",
	Short: "Manage tracked repositories",
}

var repoAddCmd = &cobra.Command{
	Use:   "add <owner/name>",
	Short: "Register a repository for documentation management",
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

		installationID, _ := cmd.Flags().GetString("installation")

		if dryRun {
			ui.DryRunMsg("Would register repository %s/%s", owner, name)
			return nil
		}

		repo := &models.Repository{Owner: owner, Name: name, InstallationID: installationID}
		if err := s.CreateRepository(cmd.Context(), repo); err != nil {
			return fmt.Errorf("register repository: %w", err)
		}
		ui.Success("Registered %s (%s)", output.Cyan(owner+"/"+name), repo.ID)
		return nil
	},
}

var repoListCmd = &cobra.Command{
	Use:   "list",
	Short: "List tracked repositories",
	RunE: func(cmd *cobra.Command, args []string) error {
		s, err := getStore()
		if err != nil {
			return err
		}

		repos, err := s.ListRepositories(cmd.Context())
		if err != nil {
			return err
		}
		if len(repos) == 0 {
			ui.Info("No repositories registered")
			return nil
		}

		table := ui.Table([]string{"ID", "REPOSITORY", "DOCUMENTS"})
		for _, r := range repos {
			docs, _ := s.ListDocuments(cmd.Context(), r.ID)
			table.Append([]string{r.ID, r.Owner + "/" + r.Name, fmt.Sprintf("%d", len(docs))})
		}
		return table.Render()
	},
}

// splitRepoArg parses an owner/name argument.
func splitRepoArg(arg string) (owner, name string, err error) {
	parts := strings.SplitN(arg, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("expected <owner>/<name>, got %q", arg)
	}
	return parts[0], parts[1], nil
}

func init() {
	repoAddCmd.Flags().String("installation", "", "Source-control app installation id")
	repoCmd.AddCommand(repoAddCmd)
	repoCmd.AddCommand(repoListCmd)
	rootCmd.AddCommand(repoCmd)
}
