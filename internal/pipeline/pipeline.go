// Package pipeline orchestrates the documentation stages: analysis, intent
// inference, generation, and QA review, plus the scheduled self-healing pass.
// Stages hand off exclusively through durable queues; a crash between stages
// loses nothing.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/josedab/docsynth-sub010/internal/analyzer"
	"github.com/josedab/docsynth-sub010/internal/drift"
	"github.com/josedab/docsynth-sub010/internal/generator"
	"github.com/josedab/docsynth-sub010/internal/git"
	"github.com/josedab/docsynth-sub010/internal/intent"
	"github.com/josedab/docsynth-sub010/internal/models"
	"github.com/josedab/docsynth-sub010/internal/qa"
	"github.com/josedab/docsynth-sub010/internal/queue"
	"github.com/josedab/docsynth-sub010/internal/ratelimit"
	"github.com/josedab/docsynth-sub010/internal/repoconfig"
	"github.com/josedab/docsynth-sub010/internal/store"
)

// Stage progress checkpoints. Progress only moves forward.
const (
	progressAnalyzed  = 25
	progressInferred  = 50
	progressGenerated = 75
	progressReviewing = 90
)

// defaultLLMRequestsPerMinute caps LLM-backed stages per repository.
const defaultLLMRequestsPerMinute = 30

// Per-queue worker counts. Analysis is cheap; LLM stages are bounded tighter.
const (
	concurrencyAnalysis   = 5
	concurrencyInference  = 3
	concurrencyGeneration = 2
	concurrencyReview     = 2
	concurrencyHealing    = 1
)

// ErrJobInFlight is returned when a PR already has an active generation job.
var ErrJobInFlight = errors.New("generation job already in flight for this pull request")

// Pipeline wires the stage components to the queues and the store.
type Pipeline struct {
	store     store.Store
	queue     *queue.Queue
	scm       git.SourceControlClient
	analyzer  *analyzer.Analyzer
	intent    *intent.Engine
	generator generator.Generator
	gate      *qa.Gate
	monitor   *drift.Monitor
	healer    *drift.Healer
	limiter   *ratelimit.Pool
	llmRPM    int
	logger    *slog.Logger
}

// Config collects the pipeline's collaborators.
type Config struct {
	Store     store.Store
	Queue     *queue.Queue
	SCM       git.SourceControlClient
	Intent    *intent.Engine
	Generator generator.Generator
	Gate      *qa.Gate
	Monitor   *drift.Monitor
	Healer    *drift.Healer
	Limiter   *ratelimit.Pool
	LLMRPM    int
	Logger    *slog.Logger
}

// New creates a Pipeline.
func New(cfg Config) *Pipeline {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	rpm := cfg.LLMRPM
	if rpm <= 0 {
		rpm = defaultLLMRequestsPerMinute
	}
	limiter := cfg.Limiter
	if limiter == nil {
		limiter = ratelimit.NewPool(logger)
	}
	return &Pipeline{
		store:     cfg.Store,
		queue:     cfg.Queue,
		scm:       cfg.SCM,
		analyzer:  analyzer.New(),
		intent:    cfg.Intent,
		generator: cfg.Generator,
		gate:      cfg.Gate,
		monitor:   cfg.Monitor,
		healer:    cfg.Healer,
		limiter:   limiter,
		llmRPM:    rpm,
		logger:    logger,
	}
}

// Register binds the stage handlers to their queues on the runner.
func (p *Pipeline) Register(r *queue.Runner) error {
	if err := r.Consume(QueueChangeAnalysis, concurrencyAnalysis, p.handleChangeAnalysis); err != nil {
		return err
	}
	if err := r.Consume(QueueIntentInference, concurrencyInference, p.handleIntentInference); err != nil {
		return err
	}
	if err := r.Consume(QueueDocGeneration, concurrencyGeneration, p.handleDocGeneration); err != nil {
		return err
	}
	if err := r.Consume(QueueDocReview, concurrencyReview, p.handleDocReview); err != nil {
		return err
	}
	return r.Consume(QueueSelfHealing, concurrencyHealing, p.handleSelfHealing)
}

// HandlePREvent is the pipeline entry point for one pull-request event. It
// creates a PENDING generation job and enqueues the analysis stage. A PR with
// an active job rejects the new event with ErrJobInFlight.
func (p *Pipeline) HandlePREvent(ctx context.Context, owner, repoName string, prNumber int) (*models.GenerationJob, error) {
	repo, err := p.store.GetRepositoryByOwnerName(ctx, owner, repoName)
	if err != nil {
		return nil, err
	}

	if active, err := p.store.GetActiveGenerationJobForPR(ctx, repo.ID, prNumber); err == nil && active != nil {
		return active, ErrJobInFlight
	} else if err != nil && !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	job := &models.GenerationJob{
		RepositoryID: repo.ID,
		PREventID:    uuid.NewString(),
		PRNumber:     prNumber,
		Status:       models.JobStatusPending,
	}
	if err := p.store.CreateGenerationJob(ctx, job); err != nil {
		return nil, err
	}

	msg := ChangeAnalysisMessage{
		JobID:          job.ID,
		PREventID:      job.PREventID,
		RepositoryID:   repo.ID,
		InstallationID: repo.InstallationID,
		Owner:          repo.Owner,
		Repo:           repo.Name,
		PRNumber:       prNumber,
	}
	if _, err := p.queue.Enqueue(ctx, QueueChangeAnalysis, msg, queue.Options{JobID: stageKey(job.ID, QueueChangeAnalysis)}); err != nil {
		p.failJob(ctx, job, fmt.Errorf("enqueue analysis: %w", err))
		return nil, err
	}

	p.logger.Info("generation job created", "job_id", job.ID, "repo", owner+"/"+repoName, "pr", prNumber)
	return job, nil
}

// RetryJob resets a FAILED job to PENDING and re-enqueues it at the failed
// stage's entry point. Committed checkpoints (analysis, intent, session) are
// kept and not recomputed.
func (p *Pipeline) RetryJob(ctx context.Context, jobID string) (*models.GenerationJob, error) {
	job, err := p.store.GetGenerationJob(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != models.JobStatusFailed {
		return nil, fmt.Errorf("job %s is %s, only %s jobs can be retried", jobID, job.Status, models.JobStatusFailed)
	}
	repo, err := p.store.GetRepository(ctx, job.RepositoryID)
	if err != nil {
		return nil, err
	}

	queueName, msg := p.resumePoint(ctx, job, repo)

	job.Status = models.JobStatusPending
	job.Error = ""
	job.CompletedAt = nil
	if err := p.store.UpdateGenerationJob(ctx, job); err != nil {
		return nil, err
	}

	// The stage's queue row usually still exists in the dead set; reset it.
	// Enqueue fresh only when the original enqueue itself never happened.
	key := stageKey(job.ID, queueName)
	requeued, err := p.queue.Requeue(ctx, queueName, key)
	if err == nil && !requeued {
		_, err = p.queue.Enqueue(ctx, queueName, msg, queue.Options{JobID: key})
	}
	if err != nil {
		p.failJob(ctx, job, fmt.Errorf("re-enqueue %s: %w", queueName, err))
		return nil, err
	}

	p.logger.Info("generation job retried", "job_id", job.ID, "stage", queueName)
	return job, nil
}

// resumePoint picks the stage a retried job re-enters, from its durable
// checkpoints: the latest stage whose inputs are all committed.
func (p *Pipeline) resumePoint(ctx context.Context, job *models.GenerationJob, repo *models.Repository) (string, any) {
	if job.IntentContextID != "" {
		if sess, err := p.sessionForJob(ctx, job.ID, job.RepositoryID); err == nil &&
			(sess.Status == models.QASessionPending || sess.Status == models.QASessionReviewing) {
			return QueueDocReview, DocReviewMessage{
				JobID:            job.ID,
				SessionID:        sess.ID,
				ChangeAnalysisID: job.ChangeAnalysisID,
				IntentContextID:  job.IntentContextID,
				RepositoryID:     job.RepositoryID,
				InstallationID:   repo.InstallationID,
			}
		}
		return QueueDocGeneration, DocGenerationMessage{
			JobID:            job.ID,
			ChangeAnalysisID: job.ChangeAnalysisID,
			IntentContextID:  job.IntentContextID,
			RepositoryID:     job.RepositoryID,
			InstallationID:   repo.InstallationID,
		}
	}
	if job.ChangeAnalysisID != "" {
		return QueueIntentInference, IntentInferenceMessage{
			JobID:            job.ID,
			ChangeAnalysisID: job.ChangeAnalysisID,
			RepositoryID:     job.RepositoryID,
			InstallationID:   repo.InstallationID,
		}
	}
	return QueueChangeAnalysis, ChangeAnalysisMessage{
		JobID:          job.ID,
		PREventID:      job.PREventID,
		RepositoryID:   job.RepositoryID,
		InstallationID: repo.InstallationID,
		Owner:          repo.Owner,
		Repo:           repo.Name,
		PRNumber:       job.PRNumber,
	}
}

func (p *Pipeline) sessionForJob(ctx context.Context, jobID, repositoryID string) (*models.QASession, error) {
	sessions, err := p.store.ListQASessions(ctx, repositoryID, nil, 0)
	if err != nil {
		return nil, err
	}
	for _, s := range sessions {
		if s.JobID == jobID {
			return s, nil
		}
	}
	return nil, store.ErrNotFound
}

// EnqueueSelfHealing schedules one self-healing action for a repository.
// Actions for the same repository coalesce while one is still queued.
func (p *Pipeline) EnqueueSelfHealing(ctx context.Context, msg SelfHealingMessage) (*queue.JobHandle, error) {
	switch msg.Action {
	case ActionAssessDrift, ActionRegenerate, ActionCreatePR:
	default:
		return nil, fmt.Errorf("unknown self-healing action %q", msg.Action)
	}
	key := fmt.Sprintf("%s:%s", msg.RepositoryID, msg.Action)
	return p.queue.Enqueue(ctx, QueueSelfHealing, msg, queue.Options{JobID: key})
}

// DefaultDriftScanInterval is the periodic drift assessment cadence when the
// config does not set one.
const DefaultDriftScanInterval = 24 * time.Hour

// ScheduleDriftScans enqueues a drift assessment for every registered
// repository on a fixed interval, blocking until ctx is cancelled. An
// assessment already queued for a repository absorbs the new one.
func (p *Pipeline) ScheduleDriftScans(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultDriftScanInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.enqueueDriftScans(ctx)
		}
	}
}

func (p *Pipeline) enqueueDriftScans(ctx context.Context) {
	repos, err := p.store.ListRepositories(ctx)
	if err != nil {
		p.logger.Error("list repositories for drift schedule", "error", err)
		return
	}
	for _, repo := range repos {
		msg := SelfHealingMessage{RepositoryID: repo.ID, Action: ActionAssessDrift}
		if _, err := p.EnqueueSelfHealing(ctx, msg); err != nil {
			p.logger.Warn("schedule drift assessment", "repository_id", repo.ID, "error", err)
		}
	}
	p.logger.Debug("drift assessments scheduled", "repositories", len(repos))
}

// stageKey derives the idempotent enqueue key for a stage handoff, so a
// redelivered predecessor cannot double-enqueue its successor.
func stageKey(jobID, queueName string) string {
	return jobID + ":" + queueName
}

func (p *Pipeline) handleChangeAnalysis(ctx context.Context, jc *queue.JobContext) error {
	var msg ChangeAnalysisMessage
	if err := jc.Unmarshal(&msg); err != nil {
		return queue.Permanent(err)
	}

	job, err := p.store.GetGenerationJob(ctx, msg.JobID)
	if err != nil {
		return queue.Permanent(err)
	}
	if err := p.advance(ctx, job, models.JobStatusAnalyzing, 0); err != nil {
		return queue.Permanent(err)
	}

	cfg := p.repoConfig(ctx, msg.Owner, msg.Repo)
	if !cfg.IsEnabled() {
		p.logger.Info("pipeline disabled by repository config", "repo", msg.Owner+"/"+msg.Repo)
		p.completeJob(ctx, job)
		return nil
	}

	files, err := p.scm.ListPullRequestFiles(ctx, msg.Owner, msg.Repo, msg.PRNumber)
	if err != nil {
		return p.stageFailure(ctx, job, jc, fmt.Errorf("list PR files: %w", err))
	}
	files = dropIgnored(files, cfg)

	analysis, err := p.analyzer.Analyze(analyzer.ChangeSet{
		RepositoryID: msg.RepositoryID,
		PREventID:    msg.PREventID,
		PRNumber:     msg.PRNumber,
		Files:        files,
	})
	if err != nil {
		p.failJob(ctx, job, err)
		return queue.Permanent(err)
	}
	if err := p.store.CreateChangeAnalysis(ctx, analysis); err != nil {
		return p.stageFailure(ctx, job, jc, err)
	}

	job.ChangeAnalysisID = analysis.ID
	job.Progress = progressAnalyzed
	if err := p.store.UpdateGenerationJob(ctx, job); err != nil {
		return p.stageFailure(ctx, job, jc, err)
	}
	_ = jc.UpdateProgress(ctx, progressAnalyzed)

	if !analysis.RequiresDocumentation {
		p.completeJob(ctx, job)
		p.notify(ctx, msg.Owner, msg.Repo, msg.PRNumber,
			"No documentation updates required for this change.")
		return nil
	}

	next := IntentInferenceMessage{
		JobID:            job.ID,
		ChangeAnalysisID: analysis.ID,
		RepositoryID:     msg.RepositoryID,
		InstallationID:   msg.InstallationID,
	}
	if _, err := p.queue.Enqueue(ctx, QueueIntentInference, next, queue.Options{JobID: stageKey(job.ID, QueueIntentInference)}); err != nil {
		return p.stageFailure(ctx, job, jc, err)
	}
	return nil
}

func (p *Pipeline) handleIntentInference(ctx context.Context, jc *queue.JobContext) error {
	var msg IntentInferenceMessage
	if err := jc.Unmarshal(&msg); err != nil {
		return queue.Permanent(err)
	}

	job, err := p.store.GetGenerationJob(ctx, msg.JobID)
	if err != nil {
		return queue.Permanent(err)
	}
	if err := p.advance(ctx, job, models.JobStatusInferring, progressAnalyzed); err != nil {
		return queue.Permanent(err)
	}

	analysis, err := p.store.GetChangeAnalysis(ctx, msg.ChangeAnalysisID)
	if err != nil {
		return p.stageFailure(ctx, job, jc, err)
	}
	repo, err := p.store.GetRepository(ctx, msg.RepositoryID)
	if err != nil {
		return p.stageFailure(ctx, job, jc, err)
	}

	in := intent.Input{Analysis: analysis}
	if pr, err := p.scm.GetPullRequest(ctx, repo.Owner, repo.Name, analysis.PRNumber); err == nil {
		in.PRTitle = pr.Title
		in.PRBody = pr.Body
	} else {
		p.logger.Warn("PR metadata unavailable, inferring from analysis only", "job_id", job.ID, "error", err)
	}

	if err := p.limiter.Wait(ctx, msg.RepositoryID, p.llmRPM); err != nil {
		return err
	}
	ic, err := p.intent.Infer(ctx, in)
	if err != nil {
		return p.stageFailure(ctx, job, jc, err)
	}
	if err := p.store.CreateIntentContext(ctx, ic); err != nil {
		return p.stageFailure(ctx, job, jc, err)
	}

	job.IntentContextID = ic.ID
	job.Progress = progressInferred
	if err := p.store.UpdateGenerationJob(ctx, job); err != nil {
		return p.stageFailure(ctx, job, jc, err)
	}
	_ = jc.UpdateProgress(ctx, progressInferred)

	next := DocGenerationMessage{
		JobID:            job.ID,
		ChangeAnalysisID: analysis.ID,
		IntentContextID:  ic.ID,
		RepositoryID:     msg.RepositoryID,
		InstallationID:   msg.InstallationID,
	}
	if _, err := p.queue.Enqueue(ctx, QueueDocGeneration, next, queue.Options{JobID: stageKey(job.ID, QueueDocGeneration)}); err != nil {
		return p.stageFailure(ctx, job, jc, err)
	}
	return nil
}

func (p *Pipeline) handleDocGeneration(ctx context.Context, jc *queue.JobContext) error {
	var msg DocGenerationMessage
	if err := jc.Unmarshal(&msg); err != nil {
		return queue.Permanent(err)
	}

	job, err := p.store.GetGenerationJob(ctx, msg.JobID)
	if err != nil {
		return queue.Permanent(err)
	}
	if err := p.advance(ctx, job, models.JobStatusGenerating, progressInferred); err != nil {
		return queue.Permanent(err)
	}

	analysis, err := p.store.GetChangeAnalysis(ctx, msg.ChangeAnalysisID)
	if err != nil {
		return p.stageFailure(ctx, job, jc, err)
	}
	ic, err := p.store.GetIntentContext(ctx, msg.IntentContextID)
	if err != nil {
		return p.stageFailure(ctx, job, jc, err)
	}

	if err := p.limiter.Wait(ctx, msg.RepositoryID, p.llmRPM); err != nil {
		return err
	}
	docs, err := p.generator.Generate(ctx, analysis, ic)
	if err != nil {
		return p.stageFailure(ctx, job, jc, fmt.Errorf("generate: %w", err))
	}
	if len(docs) == 0 {
		err := fmt.Errorf("generator produced no documents")
		p.failJob(ctx, job, err)
		return queue.Permanent(err)
	}

	paths := make([]string, 0, len(docs))
	for _, d := range docs {
		if err := p.upsertDocument(ctx, msg.RepositoryID, d); err != nil {
			return p.stageFailure(ctx, job, jc, err)
		}
		paths = append(paths, d.Path)
	}

	session := &models.QASession{
		RepositoryID:  msg.RepositoryID,
		JobID:         job.ID,
		PRNumber:      analysis.PRNumber,
		Status:        models.QASessionPending,
		DocumentPaths: paths,
	}
	if err := p.store.CreateQASession(ctx, session); err != nil {
		return p.stageFailure(ctx, job, jc, err)
	}

	job.Progress = progressGenerated
	if err := p.store.UpdateGenerationJob(ctx, job); err != nil {
		return p.stageFailure(ctx, job, jc, err)
	}
	_ = jc.UpdateProgress(ctx, progressGenerated)

	next := DocReviewMessage{
		JobID:            job.ID,
		SessionID:        session.ID,
		ChangeAnalysisID: msg.ChangeAnalysisID,
		IntentContextID:  msg.IntentContextID,
		RepositoryID:     msg.RepositoryID,
		InstallationID:   msg.InstallationID,
	}
	if _, err := p.queue.Enqueue(ctx, QueueDocReview, next, queue.Options{JobID: stageKey(job.ID, QueueDocReview)}); err != nil {
		return p.stageFailure(ctx, job, jc, err)
	}
	return nil
}

func (p *Pipeline) handleDocReview(ctx context.Context, jc *queue.JobContext) error {
	var msg DocReviewMessage
	if err := jc.Unmarshal(&msg); err != nil {
		return queue.Permanent(err)
	}

	job, err := p.store.GetGenerationJob(ctx, msg.JobID)
	if err != nil {
		return queue.Permanent(err)
	}
	if err := p.advance(ctx, job, models.JobStatusReviewing, progressReviewing); err != nil {
		return queue.Permanent(err)
	}
	_ = jc.UpdateProgress(ctx, progressReviewing)

	session, err := p.store.GetQASession(ctx, msg.SessionID)
	if err != nil {
		return p.stageFailure(ctx, job, jc, err)
	}
	ic, err := p.store.GetIntentContext(ctx, msg.IntentContextID)
	if err != nil {
		return p.stageFailure(ctx, job, jc, err)
	}

	docs := make([]generator.CandidateDoc, 0, len(session.DocumentPaths))
	for _, path := range session.DocumentPaths {
		doc, err := p.store.GetDocumentByPath(ctx, msg.RepositoryID, path)
		if err != nil {
			return p.stageFailure(ctx, job, jc, err)
		}
		docs = append(docs, generator.CandidateDoc{Path: doc.Path, Title: doc.Title, Content: doc.Content})
	}

	if err := p.limiter.Wait(ctx, msg.RepositoryID, p.llmRPM); err != nil {
		return err
	}
	result, err := p.gate.Review(ctx, session, docs, ic)
	if err != nil {
		return p.stageFailure(ctx, job, jc, err)
	}

	repo, repoErr := p.store.GetRepository(ctx, msg.RepositoryID)

	if session.Status == models.QASessionApproved {
		p.completeJob(ctx, job)
		if repoErr == nil {
			p.notify(ctx, repo.Owner, repo.Name, session.PRNumber, approvedComment(session, docs))
		}
		return nil
	}

	// Awaiting human response: the job stays in REVIEWING until the session
	// closes, then FinalizeSession completes it.
	if repoErr == nil {
		p.notify(ctx, repo.Owner, repo.Name, session.PRNumber, reviewComment(session, result))
	}
	return nil
}

// FinalizeSession completes the generation job behind a closed QA session.
// Called by the operator surfaces once answering or manual approval finishes
// the session.
func (p *Pipeline) FinalizeSession(ctx context.Context, sessionID string) error {
	session, err := p.store.GetQASession(ctx, sessionID)
	if err != nil {
		return err
	}
	if !session.Status.Terminal() {
		return fmt.Errorf("qa session %s is %s, not terminal", session.ID, session.Status)
	}

	job, err := p.store.GetGenerationJob(ctx, session.JobID)
	if err != nil {
		return err
	}
	if job.Status.Terminal() {
		return nil
	}
	p.completeJob(ctx, job)
	return nil
}

func (p *Pipeline) handleSelfHealing(ctx context.Context, jc *queue.JobContext) error {
	var msg SelfHealingMessage
	if err := jc.Unmarshal(&msg); err != nil {
		return queue.Permanent(err)
	}

	switch msg.Action {
	case ActionAssessDrift:
		predictions, err := p.monitor.ScanRepository(ctx, msg.RepositoryID)
		if err != nil {
			return err
		}
		p.logger.Info("drift scan complete", "repository_id", msg.RepositoryID, "documents", len(predictions))
		return nil

	case ActionRegenerate:
		cfg := drift.DefaultHealConfig
		if msg.DriftThreshold > 0 {
			cfg.DriftThreshold = msg.DriftThreshold
		}
		if msg.ConfidenceMinimum > 0 {
			cfg.ConfidenceMinimum = msg.ConfidenceMinimum
		}
		if msg.MaxSectionsPerRun > 0 {
			cfg.MaxSectionsPerRun = msg.MaxSectionsPerRun
		}
		report, err := p.healer.Heal(ctx, msg.RepositoryID, cfg)
		if err != nil {
			return err
		}
		p.logger.Info("healing pass complete", "repository_id", msg.RepositoryID,
			"considered", report.Considered, "regenerated", report.Regenerated,
			"skipped_low_confidence", report.SkippedLow, "errors", report.Errors)
		return nil

	case ActionCreatePR:
		return p.createHealingPR(ctx, msg.RepositoryID)

	default:
		return queue.Permanent(fmt.Errorf("unknown self-healing action %q", msg.Action))
	}
}

// createHealingPR publishes recently healed documents as a documentation PR.
func (p *Pipeline) createHealingPR(ctx context.Context, repositoryID string) error {
	repo, err := p.store.GetRepository(ctx, repositoryID)
	if err != nil {
		return err
	}
	resolved, err := p.store.ListDriftPredictions(ctx, store.DriftFilter{
		RepositoryID: repositoryID,
		Status:       models.DriftResolved,
	})
	if err != nil {
		return err
	}
	if len(resolved) == 0 {
		p.logger.Info("no healed documents to publish", "repository_id", repositoryID)
		return nil
	}

	var body strings.Builder
	body.WriteString("Automated documentation refresh for documents that had drifted from the code.\n\nUpdated documents:\n")
	for _, pred := range resolved {
		doc, err := p.store.GetDocument(ctx, pred.DocumentID)
		if err != nil {
			continue
		}
		fmt.Fprintf(&body, "- %s\n", doc.Path)
	}

	branch := fmt.Sprintf("docsynth/self-healing-%s", time.Now().UTC().Format("20060102"))
	url, err := p.scm.CreateDocPR(ctx, repo.Owner, repo.Name, branch,
		"docs: refresh drifted documentation", body.String())
	if err != nil {
		return fmt.Errorf("create healing PR: %w", err)
	}
	p.logger.Info("healing PR created", "repository_id", repositoryID, "url", url)
	return nil
}

// repoConfig loads the repository's .docsynth.yaml from the host. Any fetch
// or parse failure falls back to defaults; a broken config never blocks the
// pipeline.
func (p *Pipeline) repoConfig(ctx context.Context, owner, repo string) *repoconfig.Config {
	data, err := p.scm.GetFileContent(ctx, owner, repo, repoconfig.FileName)
	if err != nil {
		return repoconfig.Default()
	}
	cfg, err := repoconfig.Parse(data)
	if err != nil {
		p.logger.Warn("invalid repository config, using defaults", "repo", owner+"/"+repo, "error", err)
		return repoconfig.Default()
	}
	return cfg
}

// dropIgnored filters out files the repository config excludes.
func dropIgnored(files []models.FileChange, cfg *repoconfig.Config) []models.FileChange {
	kept := files[:0]
	for _, f := range files {
		if cfg.Ignores(f.Path) {
			continue
		}
		kept = append(kept, f)
	}
	return kept
}

// advance moves the job to the next stage, setting StartedAt on first entry.
// Redelivered messages for a stage the job already passed are rejected.
func (p *Pipeline) advance(ctx context.Context, job *models.GenerationJob, next models.JobStatus, minProgress int) error {
	if job.Status == next {
		return nil
	}
	if !job.Status.CanTransition(next) {
		return fmt.Errorf("job %s cannot move %s -> %s", job.ID, job.Status, next)
	}
	if job.StartedAt == nil {
		now := time.Now().UTC()
		job.StartedAt = &now
	}
	job.Status = next
	if job.Progress < minProgress {
		job.Progress = minProgress
	}
	return p.store.UpdateGenerationJob(ctx, job)
}

// stageFailure settles one failed attempt: the queue retries transient
// failures, and the job is only marked FAILED once the budget is exhausted.
func (p *Pipeline) stageFailure(ctx context.Context, job *models.GenerationJob, jc *queue.JobContext, err error) error {
	if jc.Attempt() >= queue.DefaultMaxAttempts {
		p.failJob(ctx, job, err)
	}
	return err
}

func (p *Pipeline) failJob(ctx context.Context, job *models.GenerationJob, cause error) {
	now := time.Now().UTC()
	job.Status = models.JobStatusFailed
	job.Error = cause.Error()
	job.CompletedAt = &now
	if err := p.store.UpdateGenerationJob(ctx, job); err != nil {
		p.logger.Error("persist failed job", "job_id", job.ID, "error", err)
	}
	p.logger.Warn("generation job failed", "job_id", job.ID, "error", cause)
}

func (p *Pipeline) completeJob(ctx context.Context, job *models.GenerationJob) {
	now := time.Now().UTC()
	job.Status = models.JobStatusCompleted
	job.Progress = 100
	job.CompletedAt = &now
	if err := p.store.UpdateGenerationJob(ctx, job); err != nil {
		p.logger.Error("persist completed job", "job_id", job.ID, "error", err)
	}
	p.logger.Info("generation job completed", "job_id", job.ID)
}

// notify posts the single per-job PR comment. Notification failure never
// fails the job; the work is already persisted.
func (p *Pipeline) notify(ctx context.Context, owner, repo string, prNumber int, body string) {
	if err := p.scm.CreatePRComment(ctx, owner, repo, prNumber, body); err != nil {
		p.logger.Warn("PR notification failed", "repo", owner+"/"+repo, "pr", prNumber, "error", err)
	}
}

func approvedComment(session *models.QASession, docs []generator.CandidateDoc) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Documentation updated automatically (confidence %d/100).\n\n", session.ConfidenceScore)
	for _, d := range docs {
		fmt.Fprintf(&sb, "- `%s`\n", d.Path)
	}
	return sb.String()
}

func reviewComment(session *models.QASession, result *qa.AnalysisResult) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Documentation drafted, human review requested (confidence %d/100).\n", session.ConfidenceScore)
	if len(result.Questions) > 0 {
		fmt.Fprintf(&sb, "\n%d question(s) need answers before the update is applied.\n", len(result.Questions))
	} else if session.Notice != "" {
		fmt.Fprintf(&sb, "\n%s\n", session.Notice)
	}
	return sb.String()
}

// upsertDocument stores a candidate document, updating content in place when
// the path already exists.
func (p *Pipeline) upsertDocument(ctx context.Context, repositoryID string, d generator.CandidateDoc) error {
	existing, err := p.store.GetDocumentByPath(ctx, repositoryID, d.Path)
	switch {
	case err == nil:
		existing.Title = d.Title
		existing.Content = d.Content
		return p.store.UpdateDocument(ctx, existing)
	case errors.Is(err, store.ErrNotFound):
		return p.store.CreateDocument(ctx, &models.Document{
			RepositoryID: repositoryID,
			Path:         d.Path,
			Title:        d.Title,
			Content:      d.Content,
		})
	default:
		return err
	}
}
