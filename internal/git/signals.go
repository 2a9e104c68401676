package git

import (
	"context"
	"fmt"
	"time"

	"github.com/josedab/docsynth-sub010/internal/models"
)

// dependencyManifests are the paths whose commits count as dependency churn.
var dependencyManifests = []string{"go.mod", "go.sum", "package.json", "requirements.txt"}

// HostSignalSource derives drift signals from the host's commit history. It
// satisfies the drift monitor's signal-source contract and layers change
// counts on top of the document's age.
type HostSignalSource struct {
	client *GHClient
}

// NewHostSignalSource creates a commit-history signal source.
func NewHostSignalSource(client *GHClient) *HostSignalSource {
	return &HostSignalSource{client: client}
}

func (s *HostSignalSource) SignalsFor(ctx context.Context, repo *models.Repository, doc *models.Document) (models.DriftSignals, error) {
	since := doc.UpdatedAt.UTC().Format(time.RFC3339)

	code, err := s.countCommits(ctx, repo.Owner, repo.Name, since, "")
	if err != nil {
		return models.DriftSignals{}, err
	}
	api, err := s.countCommits(ctx, repo.Owner, repo.Name, since, "api")
	if err != nil {
		return models.DriftSignals{}, err
	}
	deps := 0
	for _, manifest := range dependencyManifests {
		n, err := s.countCommits(ctx, repo.Owner, repo.Name, since, manifest)
		if err != nil {
			return models.DriftSignals{}, err
		}
		deps += n
	}

	days := int(time.Since(doc.UpdatedAt).Hours() / 24)
	if days < 0 {
		days = 0
	}
	return models.DriftSignals{
		CodeChanges:         code,
		APIChanges:          api,
		DependencyChanges:   deps,
		TimeSinceUpdateDays: days,
	}, nil
}

func (s *HostSignalSource) countCommits(ctx context.Context, owner, repo, since, path string) (int, error) {
	endpoint := fmt.Sprintf("repos/%s/%s/commits?since=%s&per_page=100", owner, repo, since)
	if path != "" {
		endpoint += "&path=" + path
	}
	out, err := ghCmd(ctx, "api", "--paginate", endpoint, "--jq", ".[].sha")
	if err != nil {
		return 0, err
	}
	if out == "" {
		return 0, nil
	}
	count := 1
	for _, c := range out {
		if c == '\n' {
			count++
		}
	}
	return count, nil
}
