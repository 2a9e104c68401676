package qa

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/josedab/docsynth-sub010/internal/models"
	"github.com/josedab/docsynth-sub010/internal/store"
)

// SessionManager handles human answer submission and drives sessions from
// awaiting_response to completed through refinement.
type SessionManager struct {
	store   store.Store
	refiner *Refiner
	logger  *slog.Logger
}

// NewSessionManager creates a session manager. refiner may not be nil.
func NewSessionManager(s store.Store, refiner *Refiner, logger *slog.Logger) *SessionManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &SessionManager{store: s, refiner: refiner, logger: logger}
}

// AnswerQuestion records an answer on a pending question. When no pending
// questions remain afterward, the refinement pass runs.
func (m *SessionManager) AnswerQuestion(ctx context.Context, questionID, answer string) error {
	if answer == "" {
		return fmt.Errorf("answer must not be empty")
	}
	return m.settleQuestion(ctx, questionID, models.QuestionAnswered, answer)
}

// SkipQuestion marks a pending question skipped. When no pending questions
// remain afterward, the refinement pass runs.
func (m *SessionManager) SkipQuestion(ctx context.Context, questionID string) error {
	return m.settleQuestion(ctx, questionID, models.QuestionSkipped, "")
}

func (m *SessionManager) settleQuestion(ctx context.Context, questionID string, status models.QuestionStatus, answer string) error {
	q, err := m.store.GetQAQuestion(ctx, questionID)
	if err != nil {
		return err
	}
	if q.Status != models.QuestionPending {
		return fmt.Errorf("question %s is %s, expected %s", q.ID, q.Status, models.QuestionPending)
	}

	session, err := m.store.GetQASession(ctx, q.SessionID)
	if err != nil {
		return err
	}
	if session.Status != models.QASessionAwaitingResponse {
		return fmt.Errorf("qa session %s is %s, expected %s", session.ID, session.Status, models.QASessionAwaitingResponse)
	}

	now := time.Now().UTC()
	q.Status = status
	q.Answer = answer
	if status == models.QuestionAnswered {
		q.AnsweredAt = &now
	}
	if err := m.store.UpdateQAQuestion(ctx, q); err != nil {
		return err
	}

	pending, err := m.store.CountPendingQuestions(ctx, session.ID)
	if err != nil {
		return err
	}
	if pending > 0 {
		return nil
	}
	return m.refine(ctx, session)
}

// ApproveManually closes an awaiting_response session without refinement.
// Rejected while any question is still pending.
func (m *SessionManager) ApproveManually(ctx context.Context, sessionID string) error {
	session, err := m.store.GetQASession(ctx, sessionID)
	if err != nil {
		return err
	}
	if session.Status != models.QASessionAwaitingResponse {
		return fmt.Errorf("qa session %s is %s, expected %s", session.ID, session.Status, models.QASessionAwaitingResponse)
	}
	pending, err := m.store.CountPendingQuestions(ctx, session.ID)
	if err != nil {
		return err
	}
	if pending > 0 {
		return fmt.Errorf("qa session %s has %d pending question(s)", session.ID, pending)
	}

	now := time.Now().UTC()
	session.Status = models.QASessionCompleted
	session.CompletedAt = &now
	return m.store.UpdateQASession(ctx, session)
}

// refine rewrites each document that has at least one answered question,
// moves those questions to applied, and completes the session. A refinement
// error leaves the session in awaiting_response with an embedded error note
// rather than losing it; document writes are all-or-nothing per document.
func (m *SessionManager) refine(ctx context.Context, session *models.QASession) error {
	questions, err := m.store.ListQAQuestions(ctx, session.ID)
	if err != nil {
		return err
	}

	answeredByDoc := map[string][]*models.QAQuestion{}
	for _, q := range questions {
		if q.Status == models.QuestionAnswered {
			answeredByDoc[q.DocumentPath] = append(answeredByDoc[q.DocumentPath], q)
		}
	}

	for docPath, answered := range answeredByDoc {
		if err := m.refiner.RefineDocument(ctx, session.RepositoryID, docPath, answered); err != nil {
			session.Error = fmt.Sprintf("refinement failed for %s: %v", docPath, err)
			m.logger.Warn("refinement failed", "session_id", session.ID, "document", docPath, "error", err)
			if updateErr := m.store.UpdateQASession(ctx, session); updateErr != nil {
				return updateErr
			}
			return err
		}
		for _, q := range answered {
			q.Status = models.QuestionApplied
			if err := m.store.UpdateQAQuestion(ctx, q); err != nil {
				return err
			}
		}
	}

	now := time.Now().UTC()
	session.Status = models.QASessionCompleted
	session.CompletedAt = &now
	return m.store.UpdateQASession(ctx, session)
}
