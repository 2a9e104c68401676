package pipeline

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josedab/docsynth-sub010/internal/drift"
	"github.com/josedab/docsynth-sub010/internal/generator"
	"github.com/josedab/docsynth-sub010/internal/git"
	"github.com/josedab/docsynth-sub010/internal/intent"
	"github.com/josedab/docsynth-sub010/internal/llm"
	"github.com/josedab/docsynth-sub010/internal/models"
	"github.com/josedab/docsynth-sub010/internal/qa"
	"github.com/josedab/docsynth-sub010/internal/queue"
	"github.com/josedab/docsynth-sub010/internal/store"
)

// fakeSCM is an in-memory SourceControlClient.
type fakeSCM struct {
	mu       sync.Mutex
	pr       *git.PullRequest
	files    []models.FileChange
	contents map[string][]byte
	comments []string
	docPRs   []string
}

func (f *fakeSCM) GetPullRequest(_ context.Context, _, _ string, number int) (*git.PullRequest, error) {
	if f.pr == nil {
		return nil, fmt.Errorf("pr %d not found", number)
	}
	return f.pr, nil
}

func (f *fakeSCM) ListPullRequestFiles(_ context.Context, _, _ string, _ int) ([]models.FileChange, error) {
	return f.files, nil
}

func (f *fakeSCM) GetFileContent(_ context.Context, _, _, path string) ([]byte, error) {
	if data, ok := f.contents[path]; ok {
		return data, nil
	}
	return nil, fmt.Errorf("file %s not found", path)
}

func (f *fakeSCM) CreatePRComment(_ context.Context, _, _ string, _ int, body string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.comments = append(f.comments, body)
	return nil
}

func (f *fakeSCM) CreateDocPR(_ context.Context, _, _, branch, _, _ string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.docPRs = append(f.docPRs, branch)
	return "https://example.test/pr/1", nil
}

func (f *fakeSCM) commentCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.comments)
}

func (f *fakeSCM) lastComment() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.comments) == 0 {
		return ""
	}
	return f.comments[len(f.comments)-1]
}

// routedLLM answers each stage by matching on the system prompt.
type routedLLM struct {
	intentJSON string
	docsJSON   string
	reviewJSON string
}

func (c *routedLLM) Generate(_ context.Context, req llm.Request) (*llm.Result, error) {
	var content string
	switch {
	case strings.Contains(req.System, "infer the intent"):
		content = c.intentJSON
	case strings.Contains(req.System, "write developer documentation"):
		content = c.docsJSON
	case strings.Contains(req.System, "review generated developer documentation"):
		content = c.reviewJSON
	default:
		return nil, fmt.Errorf("unexpected system prompt: %s", req.System)
	}
	return &llm.Result{Content: content, Provider: llm.ProviderAnthropic}, nil
}

// testEnv wires a full pipeline over a temp sqlite store and an in-memory SCM.
type testEnv struct {
	store    *store.SQLiteStore
	queue    *queue.Queue
	runner   *queue.Runner
	pipeline *Pipeline
	scm      *fakeSCM
	repo     *models.Repository
}

func newTestEnv(t *testing.T, client llm.Client, scm *fakeSCM) *testEnv {
	t.Helper()
	ctx := context.Background()

	dir := t.TempDir()
	s, err := store.NewSQLiteStore(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(ctx))
	t.Cleanup(func() { _ = s.Close() })

	repo := &models.Repository{Owner: "acme", Name: "widgets", InstallationID: "inst-1"}
	require.NoError(t, s.CreateRepository(ctx, repo))

	q := queue.New(s)
	p := New(Config{
		Store:     s,
		Queue:     q,
		SCM:       scm,
		Intent:    intent.NewEngine(client, nil, nil),
		Generator: generator.NewLLMGenerator(client),
		Gate:      qa.NewGate(s, client, nil),
		Monitor:   drift.NewMonitor(s, drift.AgeSignalSource{}, nil),
		Healer:    drift.NewHealer(s, drift.NewLLMRegenerator(client), nil),
	})

	r := queue.NewRunner(q, nil)
	require.NoError(t, p.Register(r))

	return &testEnv{store: s, queue: q, runner: r, pipeline: p, scm: scm, repo: repo}
}

func (e *testEnv) start(t *testing.T) {
	t.Helper()
	require.NoError(t, e.runner.Start(context.Background()))
	t.Cleanup(e.runner.Stop)
}

func (e *testEnv) waitForJob(t *testing.T, jobID string, status models.JobStatus) *models.GenerationJob {
	t.Helper()
	var job *models.GenerationJob
	require.Eventually(t, func() bool {
		j, err := e.store.GetGenerationJob(context.Background(), jobID)
		if err != nil {
			return false
		}
		job = j
		return j.Status == status
	}, 20*time.Second, 100*time.Millisecond)
	return job
}

func apiChangeFiles() []models.FileChange {
	return []models.FileChange{
		{Path: "api/widgets.go", ChangeType: models.ChangeTypeModified, AddedLines: 80, RemovedLines: 5,
			SemanticChanges: []models.SemanticChange{{Kind: models.SemanticNewEndpoint, Symbol: "POST /v1/widgets"}}},
	}
}

func TestPipelineEndToEndAutoApproved(t *testing.T) {
	scm := &fakeSCM{
		pr:    &git.PullRequest{Number: 7, Title: "Add widget creation", Body: "Closes #3"},
		files: apiChangeFiles(),
	}
	client := &routedLLM{
		intentJSON: `{"businessPurpose":"Allow widget creation","technicalApproach":"New POST handler","targetAudience":"API consumers","keyConcepts":["widgets"]}`,
		docsJSON:   `[{"path":"docs/api/widgets.md","title":"Widgets API","content":"# Widgets API\n\nPOST /v1/widgets creates a widget.\n"}]`,
		reviewJSON: `{"confidenceScore":92,"canAutoApprove":true,"questions":[]}`,
	}
	env := newTestEnv(t, client, scm)
	env.start(t)
	ctx := context.Background()

	job, err := env.pipeline.HandlePREvent(ctx, "acme", "widgets", 7)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusPending, job.Status)

	done := env.waitForJob(t, job.ID, models.JobStatusCompleted)
	assert.Equal(t, 100, done.Progress)
	assert.NotNil(t, done.StartedAt)
	assert.NotNil(t, done.CompletedAt)
	assert.NotEmpty(t, done.ChangeAnalysisID)
	assert.NotEmpty(t, done.IntentContextID)

	// Generated document persisted.
	doc, err := env.store.GetDocumentByPath(ctx, env.repo.ID, "docs/api/widgets.md")
	require.NoError(t, err)
	assert.Contains(t, doc.Content, "POST /v1/widgets")

	// Session auto-approved.
	sessions, err := env.store.ListQASessions(ctx, env.repo.ID, nil, 0)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, models.QASessionApproved, sessions[0].Status)
	assert.True(t, sessions[0].AutoApproved)
	assert.Equal(t, 92, sessions[0].ConfidenceScore)

	// Exactly one PR comment for the whole job.
	assert.Equal(t, 1, scm.commentCount())
	assert.Contains(t, scm.lastComment(), "confidence 92/100")
}

func TestPipelineNoDocumentationRequired(t *testing.T) {
	scm := &fakeSCM{
		files: []models.FileChange{
			{Path: "internal/cache.go", ChangeType: models.ChangeTypeModified, AddedLines: 10, RemovedLines: 2},
		},
	}
	env := newTestEnv(t, llm.FallbackClient{}, scm)
	env.start(t)
	ctx := context.Background()

	job, err := env.pipeline.HandlePREvent(ctx, "acme", "widgets", 4)
	require.NoError(t, err)

	done := env.waitForJob(t, job.ID, models.JobStatusCompleted)
	assert.Equal(t, 100, done.Progress)

	// No QA session, one explanatory comment.
	sessions, err := env.store.ListQASessions(ctx, env.repo.ID, nil, 0)
	require.NoError(t, err)
	assert.Empty(t, sessions)
	assert.Equal(t, 1, scm.commentCount())
	assert.Contains(t, scm.lastComment(), "No documentation updates required")
}

func TestPipelineDegradedWithoutProvider(t *testing.T) {
	scm := &fakeSCM{files: apiChangeFiles()}
	env := newTestEnv(t, llm.FallbackClient{}, scm)
	env.start(t)
	ctx := context.Background()

	job, err := env.pipeline.HandlePREvent(ctx, "acme", "widgets", 9)
	require.NoError(t, err)

	// Without a provider the pipeline still runs end to end: fallback intent,
	// stub change notes, conservative QA score, human review requested.
	done := env.waitForJob(t, job.ID, models.JobStatusReviewing)
	assert.Equal(t, 90, done.Progress)

	var session *models.QASession
	require.Eventually(t, func() bool {
		sessions, err := env.store.ListQASessions(ctx, env.repo.ID, nil, 0)
		if err != nil || len(sessions) != 1 {
			return false
		}
		session = sessions[0]
		return session.Status == models.QASessionAwaitingResponse
	}, 20*time.Second, 100*time.Millisecond)

	assert.Equal(t, 50, session.ConfidenceScore)
	assert.Equal(t, qa.ManualReviewNotice, session.Notice)

	ic, err := env.store.GetIntentContext(ctx, done.IntentContextID)
	require.NoError(t, err)
	assert.True(t, ic.Fallback)

	doc, err := env.store.GetDocumentByPath(ctx, env.repo.ID, "docs/changes/pr-9.md")
	require.NoError(t, err)
	assert.Contains(t, doc.Content, "api/widgets.go")

	require.Eventually(t, func() bool { return scm.commentCount() == 1 }, 10*time.Second, 100*time.Millisecond)
	assert.Contains(t, scm.lastComment(), "human review requested")

	// The operator closes the session manually, which completes the job.
	m := qa.NewSessionManager(env.store, qa.NewRefiner(env.store, llm.FallbackClient{}), nil)
	require.NoError(t, m.ApproveManually(ctx, session.ID))
	require.NoError(t, env.pipeline.FinalizeSession(ctx, session.ID))

	final, err := env.store.GetGenerationJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, models.JobStatusCompleted, final.Status)
	assert.Equal(t, 100, final.Progress)

	// Still exactly one comment; finalization does not notify again.
	assert.Equal(t, 1, scm.commentCount())
}

func TestPipelineDisabledByRepoConfig(t *testing.T) {
	scm := &fakeSCM{
		files:    apiChangeFiles(),
		contents: map[string][]byte{".docsynth.yaml": []byte("enabled: false\n")},
	}
	env := newTestEnv(t, llm.FallbackClient{}, scm)
	env.start(t)

	job, err := env.pipeline.HandlePREvent(context.Background(), "acme", "widgets", 2)
	require.NoError(t, err)

	env.waitForJob(t, job.ID, models.JobStatusCompleted)
	// Disabled repositories complete quietly, without comments or sessions.
	assert.Equal(t, 0, scm.commentCount())
}

func TestPipelineIgnoredFilesDropped(t *testing.T) {
	scm := &fakeSCM{
		files: []models.FileChange{
			{Path: "api/widgets.gen.go", ChangeType: models.ChangeTypeModified, AddedLines: 500,
				SemanticChanges: []models.SemanticChange{{Kind: models.SemanticNewExport, Symbol: "Generated"}}},
		},
		contents: map[string][]byte{".docsynth.yaml": []byte("ignore: [\"api/*.gen.go\"]\n")},
	}
	env := newTestEnv(t, llm.FallbackClient{}, scm)
	env.start(t)
	ctx := context.Background()

	job, err := env.pipeline.HandlePREvent(ctx, "acme", "widgets", 6)
	require.NoError(t, err)

	done := env.waitForJob(t, job.ID, models.JobStatusCompleted)

	// With every file ignored, the analysis finds nothing to document.
	analysis, err := env.store.GetChangeAnalysis(ctx, done.ChangeAnalysisID)
	require.NoError(t, err)
	assert.Empty(t, analysis.Files)
	assert.False(t, analysis.RequiresDocumentation)
	assert.Contains(t, scm.lastComment(), "No documentation updates required")
}

func TestHandlePREventRejectsInFlightDuplicate(t *testing.T) {
	scm := &fakeSCM{files: apiChangeFiles()}
	env := newTestEnv(t, llm.FallbackClient{}, scm)
	ctx := context.Background()

	// Runner not started: the first job stays PENDING.
	first, err := env.pipeline.HandlePREvent(ctx, "acme", "widgets", 11)
	require.NoError(t, err)

	dup, err := env.pipeline.HandlePREvent(ctx, "acme", "widgets", 11)
	require.ErrorIs(t, err, ErrJobInFlight)
	require.NotNil(t, dup)
	assert.Equal(t, first.ID, dup.ID)

	// A different PR on the same repository is unaffected.
	_, err = env.pipeline.HandlePREvent(ctx, "acme", "widgets", 12)
	require.NoError(t, err)
}

func TestHandlePREventUnknownRepository(t *testing.T) {
	env := newTestEnv(t, llm.FallbackClient{}, &fakeSCM{})
	_, err := env.pipeline.HandlePREvent(context.Background(), "nobody", "nothing", 1)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestRetryJobRequiresFailedStatus(t *testing.T) {
	env := newTestEnv(t, llm.FallbackClient{}, &fakeSCM{files: apiChangeFiles()})
	ctx := context.Background()

	job, err := env.pipeline.HandlePREvent(ctx, "acme", "widgets", 3)
	require.NoError(t, err)

	_, err = env.pipeline.RetryJob(ctx, job.ID)
	assert.ErrorContains(t, err, "only FAILED jobs can be retried")
}

func TestRetryJobResumesFromFailedStage(t *testing.T) {
	env := newTestEnv(t, llm.FallbackClient{}, &fakeSCM{files: apiChangeFiles()})
	ctx := context.Background()

	job, err := env.pipeline.HandlePREvent(ctx, "acme", "widgets", 3)
	require.NoError(t, err)

	// Simulate a terminal failure after the analysis row committed.
	analysis := &models.ChangeAnalysis{RepositoryID: env.repo.ID, PREventID: job.PREventID,
		PRNumber: 3, Priority: models.PriorityHigh, RequiresDocumentation: true}
	require.NoError(t, env.store.CreateChangeAnalysis(ctx, analysis))
	now := time.Now().UTC()
	job.ChangeAnalysisID = analysis.ID
	job.Status = models.JobStatusFailed
	job.Error = "intent stage failed"
	job.CompletedAt = &now
	require.NoError(t, env.store.UpdateGenerationJob(ctx, job))

	retried, err := env.pipeline.RetryJob(ctx, job.ID)
	require.NoError(t, err)

	// Same job reset in place; the analysis checkpoint is kept.
	assert.Equal(t, job.ID, retried.ID)
	assert.Equal(t, models.JobStatusPending, retried.Status)
	assert.Empty(t, retried.Error)
	assert.Nil(t, retried.CompletedAt)
	assert.Equal(t, analysis.ID, retried.ChangeAnalysisID)

	// Re-enqueued at intent inference, not at analysis.
	qj, err := env.store.GetQueueJobByKey(ctx, QueueIntentInference, stageKey(job.ID, QueueIntentInference))
	require.NoError(t, err)
	assert.Equal(t, models.QueueJobQueued, qj.Status)
}

func TestRetryJobWithoutCheckpointsRestartsAnalysis(t *testing.T) {
	env := newTestEnv(t, llm.FallbackClient{}, &fakeSCM{files: apiChangeFiles()})
	ctx := context.Background()

	job, err := env.pipeline.HandlePREvent(ctx, "acme", "widgets", 5)
	require.NoError(t, err)

	// Dead-letter the analysis stage's queue row, then fail the job.
	key := stageKey(job.ID, QueueChangeAnalysis)
	qj, err := env.store.GetQueueJobByKey(ctx, QueueChangeAnalysis, key)
	require.NoError(t, err)
	qj.Status = models.QueueJobDead
	qj.Attempts = 3
	qj.LastError = "list PR files: host unavailable"
	require.NoError(t, env.store.UpdateQueueJob(ctx, qj))

	now := time.Now().UTC()
	job.Status = models.JobStatusFailed
	job.Error = "list PR files: host unavailable"
	job.CompletedAt = &now
	require.NoError(t, env.store.UpdateGenerationJob(ctx, job))

	retried, err := env.pipeline.RetryJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, retried.ID)

	// The dead queue row is reset rather than duplicated.
	qj, err = env.store.GetQueueJobByKey(ctx, QueueChangeAnalysis, key)
	require.NoError(t, err)
	assert.Equal(t, models.QueueJobQueued, qj.Status)
	assert.Equal(t, 0, qj.Attempts)
}

func TestScheduleDriftScansEnqueuesPerRepository(t *testing.T) {
	env := newTestEnv(t, llm.FallbackClient{}, &fakeSCM{})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go env.pipeline.ScheduleDriftScans(ctx, 50*time.Millisecond)

	key := env.repo.ID + ":" + ActionAssessDrift
	require.Eventually(t, func() bool {
		qj, err := env.store.GetQueueJobByKey(context.Background(), QueueSelfHealing, key)
		return err == nil && qj.Status == models.QueueJobQueued
	}, 10*time.Second, 50*time.Millisecond)
}

func TestEnqueueSelfHealingCoalesces(t *testing.T) {
	env := newTestEnv(t, llm.FallbackClient{}, &fakeSCM{})
	ctx := context.Background()

	h1, err := env.pipeline.EnqueueSelfHealing(ctx, SelfHealingMessage{RepositoryID: env.repo.ID, Action: ActionAssessDrift})
	require.NoError(t, err)
	assert.False(t, h1.Coalesced)

	h2, err := env.pipeline.EnqueueSelfHealing(ctx, SelfHealingMessage{RepositoryID: env.repo.ID, Action: ActionAssessDrift})
	require.NoError(t, err)
	assert.True(t, h2.Coalesced)

	// A different action for the same repository is its own job.
	h3, err := env.pipeline.EnqueueSelfHealing(ctx, SelfHealingMessage{RepositoryID: env.repo.ID, Action: ActionRegenerate})
	require.NoError(t, err)
	assert.False(t, h3.Coalesced)

	_, err = env.pipeline.EnqueueSelfHealing(ctx, SelfHealingMessage{RepositoryID: env.repo.ID, Action: "defragment"})
	assert.ErrorContains(t, err, "unknown self-healing action")
}

func TestSelfHealingAssessDrift(t *testing.T) {
	scm := &fakeSCM{}
	env := newTestEnv(t, llm.FallbackClient{}, scm)
	ctx := context.Background()

	// An old document the age source will flag.
	doc := &models.Document{RepositoryID: env.repo.ID, Path: "docs/old.md", Title: "Old", Content: "# Old\n"}
	require.NoError(t, env.store.CreateDocument(ctx, doc))

	env.start(t)

	h, err := env.pipeline.EnqueueSelfHealing(ctx, SelfHealingMessage{RepositoryID: env.repo.ID, Action: ActionAssessDrift})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, err := env.queue.Status(ctx, h.ID)
		return err == nil && st.State == models.QueueJobSucceeded
	}, 20*time.Second, 100*time.Millisecond)

	predictions, err := env.store.ListDriftPredictions(ctx, store.DriftFilter{RepositoryID: env.repo.ID})
	require.NoError(t, err)
	require.Len(t, predictions, 1)
	assert.Equal(t, models.DriftOpen, predictions[0].Status)
}

func TestSelfHealingCreatePR(t *testing.T) {
	scm := &fakeSCM{}
	env := newTestEnv(t, llm.FallbackClient{}, scm)
	ctx := context.Background()

	doc := &models.Document{RepositoryID: env.repo.ID, Path: "docs/healed.md", Title: "Healed", Content: "# Healed\n"}
	require.NoError(t, env.store.CreateDocument(ctx, doc))
	p := &models.DriftPrediction{RepositoryID: env.repo.ID, DocumentID: doc.ID,
		DriftProbability: 0.8, RiskLevel: models.RiskHigh}
	require.NoError(t, env.store.UpsertDriftPrediction(ctx, p))
	p.Status = models.DriftResolved
	require.NoError(t, env.store.UpdateDriftPrediction(ctx, p))

	env.start(t)

	h, err := env.pipeline.EnqueueSelfHealing(ctx, SelfHealingMessage{RepositoryID: env.repo.ID, Action: ActionCreatePR})
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		st, err := env.queue.Status(ctx, h.ID)
		return err == nil && st.State == models.QueueJobSucceeded
	}, 20*time.Second, 100*time.Millisecond)

	scm.mu.Lock()
	defer scm.mu.Unlock()
	require.Len(t, scm.docPRs, 1)
	assert.True(t, strings.HasPrefix(scm.docPRs[0], "docsynth/self-healing-"))
}

func TestFinalizeSessionRequiresTerminalSession(t *testing.T) {
	env := newTestEnv(t, llm.FallbackClient{}, &fakeSCM{})
	ctx := context.Background()

	sess := &models.QASession{RepositoryID: env.repo.ID, JobID: "job-1", PRNumber: 1,
		Status: models.QASessionAwaitingResponse}
	require.NoError(t, env.store.CreateQASession(ctx, sess))

	err := env.pipeline.FinalizeSession(ctx, sess.ID)
	assert.ErrorContains(t, err, "not terminal")
}
