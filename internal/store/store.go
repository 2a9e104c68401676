package store

import (
	"context"
	"errors"
	"time"

	"github.com/josedab/docsynth-sub010/internal/models"
)

// ErrNotFound is returned when an entity does not exist.
var ErrNotFound = errors.New("not found")

// QueueJobFilter specifies filters for listing queue jobs.
type QueueJobFilter struct {
	Queue    string
	Statuses []models.QueueJobStatus
	Limit    int
}

// DriftFilter specifies filters for listing drift predictions.
type DriftFilter struct {
	RepositoryID string
	Status       models.DriftStatus
	RiskLevel    models.RiskLevel
}

// Store defines the persistence interface for docsynth.
type Store interface {
	// Repositories
	CreateRepository(ctx context.Context, r *models.Repository) error
	GetRepository(ctx context.Context, id string) (*models.Repository, error)
	GetRepositoryByOwnerName(ctx context.Context, owner, name string) (*models.Repository, error)
	ListRepositories(ctx context.Context) ([]*models.Repository, error)

	// Documents
	CreateDocument(ctx context.Context, d *models.Document) error
	GetDocument(ctx context.Context, id string) (*models.Document, error)
	GetDocumentByPath(ctx context.Context, repositoryID, path string) (*models.Document, error)
	ListDocuments(ctx context.Context, repositoryID string) ([]*models.Document, error)
	UpdateDocument(ctx context.Context, d *models.Document) error

	// Generation jobs
	CreateGenerationJob(ctx context.Context, j *models.GenerationJob) error
	GetGenerationJob(ctx context.Context, id string) (*models.GenerationJob, error)
	GetActiveGenerationJobForPR(ctx context.Context, repositoryID string, prNumber int) (*models.GenerationJob, error)
	ListGenerationJobs(ctx context.Context, repositoryID string, statuses []models.JobStatus, limit int) ([]*models.GenerationJob, error)
	UpdateGenerationJob(ctx context.Context, j *models.GenerationJob) error

	// Change analyses (immutable once created)
	CreateChangeAnalysis(ctx context.Context, a *models.ChangeAnalysis) error
	GetChangeAnalysis(ctx context.Context, id string) (*models.ChangeAnalysis, error)

	// Intent contexts (immutable once created)
	CreateIntentContext(ctx context.Context, ic *models.IntentContext) error
	GetIntentContext(ctx context.Context, id string) (*models.IntentContext, error)

	// QA sessions
	CreateQASession(ctx context.Context, s *models.QASession) error
	GetQASession(ctx context.Context, id string) (*models.QASession, error)
	GetActiveQASessionForPR(ctx context.Context, repositoryID string, prNumber int) (*models.QASession, error)
	ListQASessions(ctx context.Context, repositoryID string, statuses []models.QASessionStatus, limit int) ([]*models.QASession, error)
	UpdateQASession(ctx context.Context, s *models.QASession) error

	// QA questions
	CreateQAQuestions(ctx context.Context, questions []*models.QAQuestion) error
	GetQAQuestion(ctx context.Context, id string) (*models.QAQuestion, error)
	ListQAQuestions(ctx context.Context, sessionID string) ([]*models.QAQuestion, error)
	CountPendingQuestions(ctx context.Context, sessionID string) (int, error)
	UpdateQAQuestion(ctx context.Context, q *models.QAQuestion) error

	// Drift predictions
	UpsertDriftPrediction(ctx context.Context, p *models.DriftPrediction) error
	GetDriftPrediction(ctx context.Context, id string) (*models.DriftPrediction, error)
	ListDriftPredictions(ctx context.Context, filter DriftFilter) ([]*models.DriftPrediction, error)
	UpdateDriftPrediction(ctx context.Context, p *models.DriftPrediction) error

	// Queue jobs
	InsertQueueJob(ctx context.Context, j *models.QueueJob) (inserted bool, err error)
	GetQueueJob(ctx context.Context, id string) (*models.QueueJob, error)
	GetQueueJobByKey(ctx context.Context, queue, key string) (*models.QueueJob, error)
	LeaseQueueJobs(ctx context.Context, queue string, limit int, leaseFor time.Duration) ([]*models.QueueJob, error)
	UpdateQueueJob(ctx context.Context, j *models.QueueJob) error
	RequeueExpiredLeases(ctx context.Context, queue string) (int64, error)
	ListQueueJobs(ctx context.Context, filter QueueJobFilter) ([]*models.QueueJob, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
