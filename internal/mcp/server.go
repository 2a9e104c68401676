// Package mcp exposes the documentation pipeline as MCP tools so agents and
// editors can trigger runs, answer review questions, and manage drift.
package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/josedab/docsynth-sub010/internal/drift"
	"github.com/josedab/docsynth-sub010/internal/models"
	"github.com/josedab/docsynth-sub010/internal/pipeline"
	"github.com/josedab/docsynth-sub010/internal/qa"
	"github.com/josedab/docsynth-sub010/internal/store"
)

// Server wraps the docsynth data layer and exposes it as MCP tools.
type Server struct {
	store    store.Store
	pipeline *pipeline.Pipeline
	sessions *qa.SessionManager
	monitor  *drift.Monitor
}

// NewServer creates the MCP server wrapper with all required dependencies.
func NewServer(s store.Store, p *pipeline.Pipeline, sessions *qa.SessionManager, monitor *drift.Monitor) *Server {
	return &Server{
		store:    s,
		pipeline: p,
		sessions: sessions,
		monitor:  monitor,
	}
}

// MCPServer returns a configured mcp-go server with all tools registered.
func (s *Server) MCPServer() *server.MCPServer {
	srv := server.NewMCPServer("docsynth", "1.0.0", server.WithToolCapabilities(true))

	srv.AddTool(s.triggerPRTool())
	srv.AddTool(s.listJobsTool())
	srv.AddTool(s.jobStatusTool())
	srv.AddTool(s.retryJobTool())
	srv.AddTool(s.listQuestionsTool())
	srv.AddTool(s.answerQuestionTool())
	srv.AddTool(s.skipQuestionTool())
	srv.AddTool(s.approveSessionTool())
	srv.AddTool(s.listDriftTool())
	srv.AddTool(s.driftActionTool())
	srv.AddTool(s.triggerHealingTool())

	return srv
}

// ServeStdio starts the stdio transport, blocking until ctx is cancelled.
func (s *Server) ServeStdio(ctx context.Context) error {
	srv := s.MCPServer()
	stdioServer := server.NewStdioServer(srv)
	return stdioServer.Listen(ctx, os.Stdin, os.Stdout)
}

// ---------------------------------------------------------------------------
// Tool definitions and handlers
// ---------------------------------------------------------------------------

// docsynth_trigger_pr
func (s *Server) triggerPRTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("docsynth_trigger_pr",
		mcp.WithDescription("Start a documentation generation job for a pull request. Returns the created job. Fails if the PR already has an active job."),
		mcp.WithString("owner", mcp.Required(), mcp.Description("Repository owner")),
		mcp.WithString("repo", mcp.Required(), mcp.Description("Repository name")),
		mcp.WithNumber("pr", mcp.Required(), mcp.Description("Pull request number")),
	)
	return tool, s.handleTriggerPR
}

func (s *Server) handleTriggerPR(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, err := request.RequireString("owner")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: owner"), nil
	}
	repo, err := request.RequireString("repo")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: repo"), nil
	}
	pr, err := request.RequireInt("pr")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: pr"), nil
	}

	job, err := s.pipeline.HandlePREvent(ctx, owner, repo, pr)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to start job: %v", err)), nil
	}
	return marshalResult(jobOut(job))
}

// docsynth_list_jobs
func (s *Server) listJobsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("docsynth_list_jobs",
		mcp.WithDescription("List generation jobs for a repository, newest first. Optionally filter by status (PENDING, ANALYZING, INFERRING, GENERATING, REVIEWING, COMPLETED, FAILED)."),
		mcp.WithString("owner", mcp.Required(), mcp.Description("Repository owner")),
		mcp.WithString("repo", mcp.Required(), mcp.Description("Repository name")),
		mcp.WithString("status", mcp.Description("Status filter")),
	)
	return tool, s.handleListJobs
}

func (s *Server) handleListJobs(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, err := request.RequireString("owner")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: owner"), nil
	}
	repoName, err := request.RequireString("repo")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: repo"), nil
	}

	repo, err := s.store.GetRepositoryByOwnerName(ctx, owner, repoName)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("repository not found: %s/%s", owner, repoName)), nil
	}

	var statuses []models.JobStatus
	if status := request.GetString("status", ""); status != "" {
		statuses = append(statuses, models.JobStatus(status))
	}

	jobs, err := s.store.ListGenerationJobs(ctx, repo.ID, statuses, 50)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list jobs: %v", err)), nil
	}

	out := make([]map[string]any, len(jobs))
	for i, j := range jobs {
		out[i] = jobOut(j)
	}
	return marshalResult(out)
}

// docsynth_job_status
func (s *Server) jobStatusTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("docsynth_job_status",
		mcp.WithDescription("Get one generation job by id, including its QA session if the pipeline reached review."),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("Generation job id")),
	)
	return tool, s.handleJobStatus
}

func (s *Server) handleJobStatus(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID, err := request.RequireString("job_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: job_id"), nil
	}

	job, err := s.store.GetGenerationJob(ctx, jobID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("job not found: %s", jobID)), nil
	}

	result := map[string]any{"job": jobOut(job)}
	if session, err := s.store.GetActiveQASessionForPR(ctx, job.RepositoryID, job.PRNumber); err == nil {
		result["qa_session"] = sessionOut(session)
	}
	return marshalResult(result)
}

// docsynth_retry_job
func (s *Server) retryJobTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("docsynth_retry_job",
		mcp.WithDescription("Retry a FAILED generation job from the stage that failed. Returns the reset job."),
		mcp.WithString("job_id", mcp.Required(), mcp.Description("Failed generation job id")),
	)
	return tool, s.handleRetryJob
}

func (s *Server) handleRetryJob(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	jobID, err := request.RequireString("job_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: job_id"), nil
	}

	job, err := s.pipeline.RetryJob(ctx, jobID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to retry job: %v", err)), nil
	}
	return marshalResult(jobOut(job))
}

// docsynth_list_questions
func (s *Server) listQuestionsTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("docsynth_list_questions",
		mcp.WithDescription("List the questions of a QA session in presentation order (critical first). Each question has id, document path, type, priority, status, and text."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("QA session id")),
	)
	return tool, s.handleListQuestions
}

func (s *Server) handleListQuestions(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}

	questions, err := s.store.ListQAQuestions(ctx, sessionID)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list questions: %v", err)), nil
	}

	type questionOut struct {
		ID           string `json:"id"`
		DocumentPath string `json:"document_path"`
		Type         string `json:"type"`
		Priority     string `json:"priority"`
		Status       string `json:"status"`
		Text         string `json:"text"`
		Answer       string `json:"answer,omitempty"`
	}
	out := make([]questionOut, len(questions))
	for i, q := range questions {
		out[i] = questionOut{
			ID:           q.ID,
			DocumentPath: q.DocumentPath,
			Type:         string(q.Type),
			Priority:     string(q.Priority),
			Status:       string(q.Status),
			Text:         q.Text,
			Answer:       q.Answer,
		}
	}
	return marshalResult(out)
}

// docsynth_answer_question
func (s *Server) answerQuestionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("docsynth_answer_question",
		mcp.WithDescription("Answer a pending QA question. When the last pending question is settled, the answered documents are refined and the session completes."),
		mcp.WithString("question_id", mcp.Required(), mcp.Description("Question id")),
		mcp.WithString("answer", mcp.Required(), mcp.Description("Answer text")),
	)
	return tool, s.handleAnswerQuestion
}

func (s *Server) handleAnswerQuestion(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	questionID, err := request.RequireString("question_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: question_id"), nil
	}
	answer, err := request.RequireString("answer")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: answer"), nil
	}

	if err := s.sessions.AnswerQuestion(ctx, questionID, answer); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to answer question: %v", err)), nil
	}
	if err := s.finalizeIfClosed(ctx, questionID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("answer recorded but job finalization failed: %v", err)), nil
	}
	return mcp.NewToolResultText(`{"ok":true}`), nil
}

// docsynth_skip_question
func (s *Server) skipQuestionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("docsynth_skip_question",
		mcp.WithDescription("Skip a pending QA question. Skipped questions do not feed refinement."),
		mcp.WithString("question_id", mcp.Required(), mcp.Description("Question id")),
	)
	return tool, s.handleSkipQuestion
}

func (s *Server) handleSkipQuestion(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	questionID, err := request.RequireString("question_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: question_id"), nil
	}

	if err := s.sessions.SkipQuestion(ctx, questionID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to skip question: %v", err)), nil
	}
	if err := s.finalizeIfClosed(ctx, questionID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("question skipped but job finalization failed: %v", err)), nil
	}
	return mcp.NewToolResultText(`{"ok":true}`), nil
}

// docsynth_approve_session
func (s *Server) approveSessionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("docsynth_approve_session",
		mcp.WithDescription("Manually approve a QA session that is awaiting response and has no pending questions."),
		mcp.WithString("session_id", mcp.Required(), mcp.Description("QA session id")),
	)
	return tool, s.handleApproveSession
}

func (s *Server) handleApproveSession(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	sessionID, err := request.RequireString("session_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: session_id"), nil
	}

	if err := s.sessions.ApproveManually(ctx, sessionID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to approve session: %v", err)), nil
	}
	if err := s.pipeline.FinalizeSession(ctx, sessionID); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("session approved but job finalization failed: %v", err)), nil
	}
	return mcp.NewToolResultText(`{"ok":true}`), nil
}

// docsynth_list_drift
func (s *Server) listDriftTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("docsynth_list_drift",
		mcp.WithDescription("List drift predictions for a repository. Optionally filter by status (open, acknowledged, dismissed, resolved) and risk (low, medium, high)."),
		mcp.WithString("owner", mcp.Required(), mcp.Description("Repository owner")),
		mcp.WithString("repo", mcp.Required(), mcp.Description("Repository name")),
		mcp.WithString("status", mcp.Description("Status filter")),
		mcp.WithString("risk", mcp.Description("Risk level filter")),
	)
	return tool, s.handleListDrift
}

func (s *Server) handleListDrift(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, err := request.RequireString("owner")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: owner"), nil
	}
	repoName, err := request.RequireString("repo")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: repo"), nil
	}

	repo, err := s.store.GetRepositoryByOwnerName(ctx, owner, repoName)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("repository not found: %s/%s", owner, repoName)), nil
	}

	filter := store.DriftFilter{RepositoryID: repo.ID}
	if status := request.GetString("status", ""); status != "" {
		filter.Status = models.DriftStatus(status)
	}
	if risk := request.GetString("risk", ""); risk != "" {
		filter.RiskLevel = models.RiskLevel(risk)
	}

	predictions, err := s.store.ListDriftPredictions(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to list drift predictions: %v", err)), nil
	}

	out := make([]map[string]any, len(predictions))
	for i, p := range predictions {
		entry := map[string]any{
			"id":          p.ID,
			"document_id": p.DocumentID,
			"probability": p.DriftProbability,
			"risk":        string(p.RiskLevel),
			"status":      string(p.Status),
			"signals":     p.Signals,
			"updated_at":  p.UpdatedAt.Format(time.RFC3339),
		}
		if doc, err := s.store.GetDocument(ctx, p.DocumentID); err == nil {
			entry["document_path"] = doc.Path
		}
		out[i] = entry
	}
	return marshalResult(out)
}

// docsynth_drift_action
func (s *Server) driftActionTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("docsynth_drift_action",
		mcp.WithDescription("Apply a human decision to a drift prediction: acknowledged, dismissed, or resolved."),
		mcp.WithString("prediction_id", mcp.Required(), mcp.Description("Drift prediction id")),
		mcp.WithString("action", mcp.Required(), mcp.Description("One of: acknowledged, dismissed, resolved")),
	)
	return tool, s.handleDriftAction
}

func (s *Server) handleDriftAction(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	predictionID, err := request.RequireString("prediction_id")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: prediction_id"), nil
	}
	action, err := request.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: action"), nil
	}

	if err := s.monitor.TakeAction(ctx, predictionID, models.DriftStatus(action)); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to apply drift action: %v", err)), nil
	}
	return mcp.NewToolResultText(`{"ok":true}`), nil
}

// docsynth_trigger_healing
func (s *Server) triggerHealingTool() (mcp.Tool, server.ToolHandlerFunc) {
	tool := mcp.NewTool("docsynth_trigger_healing",
		mcp.WithDescription("Enqueue a self-healing action for a repository: assess-drift, regenerate, or create-pr. Duplicate requests coalesce while one is queued."),
		mcp.WithString("owner", mcp.Required(), mcp.Description("Repository owner")),
		mcp.WithString("repo", mcp.Required(), mcp.Description("Repository name")),
		mcp.WithString("action", mcp.Required(), mcp.Description("One of: assess-drift, regenerate, create-pr")),
		mcp.WithNumber("drift_threshold", mcp.Description("Override drift probability threshold (0-1)")),
		mcp.WithNumber("confidence_minimum", mcp.Description("Override regeneration confidence minimum (0-100)")),
		mcp.WithNumber("max_sections", mcp.Description("Override per-run section budget")),
	)
	return tool, s.handleTriggerHealing
}

func (s *Server) handleTriggerHealing(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	owner, err := request.RequireString("owner")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: owner"), nil
	}
	repoName, err := request.RequireString("repo")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: repo"), nil
	}
	action, err := request.RequireString("action")
	if err != nil {
		return mcp.NewToolResultError("missing required parameter: action"), nil
	}

	repo, err := s.store.GetRepositoryByOwnerName(ctx, owner, repoName)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("repository not found: %s/%s", owner, repoName)), nil
	}

	msg := pipeline.SelfHealingMessage{
		RepositoryID:      repo.ID,
		Action:            action,
		DriftThreshold:    request.GetFloat("drift_threshold", 0),
		ConfidenceMinimum: request.GetInt("confidence_minimum", 0),
		MaxSectionsPerRun: request.GetInt("max_sections", 0),
	}
	handle, err := s.pipeline.EnqueueSelfHealing(ctx, msg)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to enqueue healing: %v", err)), nil
	}
	return marshalResult(map[string]any{"queue_job_id": handle.ID, "coalesced": handle.Coalesced})
}

// ---------------------------------------------------------------------------
// Helpers
// ---------------------------------------------------------------------------

// finalizeIfClosed completes the generation job when settling a question
// closed its session.
func (s *Server) finalizeIfClosed(ctx context.Context, questionID string) error {
	q, err := s.store.GetQAQuestion(ctx, questionID)
	if err != nil {
		return err
	}
	session, err := s.store.GetQASession(ctx, q.SessionID)
	if err != nil {
		return err
	}
	if !session.Status.Terminal() {
		return nil
	}
	return s.pipeline.FinalizeSession(ctx, session.ID)
}

func jobOut(j *models.GenerationJob) map[string]any {
	out := map[string]any{
		"id":            j.ID,
		"repository_id": j.RepositoryID,
		"pr_number":     j.PRNumber,
		"status":        string(j.Status),
		"progress":      j.Progress,
		"created_at":    j.CreatedAt.Format(time.RFC3339),
	}
	if j.Error != "" {
		out["error"] = j.Error
	}
	if j.CompletedAt != nil {
		out["completed_at"] = j.CompletedAt.Format(time.RFC3339)
	}
	return out
}

func sessionOut(sess *models.QASession) map[string]any {
	return map[string]any{
		"id":               sess.ID,
		"status":           string(sess.Status),
		"confidence_score": sess.ConfidenceScore,
		"auto_approved":    sess.AutoApproved,
		"document_paths":   sess.DocumentPaths,
		"notice":           sess.Notice,
	}
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
