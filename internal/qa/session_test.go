package qa

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josedab/docsynth-sub010/internal/llm"
	"github.com/josedab/docsynth-sub010/internal/models"
	"github.com/josedab/docsynth-sub010/internal/store"
)

// sessionFixture seeds a repository, a stored document, an awaiting_response
// session, and its pending questions.
type sessionFixture struct {
	store     *store.SQLiteStore
	session   *models.QASession
	questions []*models.QAQuestion
}

func newSessionFixture(t *testing.T, client llm.Client, questionTexts ...string) (*SessionManager, *sessionFixture) {
	t.Helper()
	ctx := context.Background()
	s := newTestStore(t)

	r := &models.Repository{Owner: "acme", Name: "widgets"}
	require.NoError(t, s.CreateRepository(ctx, r))
	require.NoError(t, s.CreateDocument(ctx, &models.Document{
		RepositoryID: r.ID, Path: "docs/api.md", Title: "API", Content: "# API\n\nOld body.\n"}))

	sess := &models.QASession{RepositoryID: r.ID, JobID: "job-1", PRNumber: 3,
		Status: models.QASessionAwaitingResponse, ConfidenceScore: 70,
		DocumentPaths: []string{"docs/api.md"}}
	require.NoError(t, s.CreateQASession(ctx, sess))

	var questions []*models.QAQuestion
	for _, text := range questionTexts {
		questions = append(questions, &models.QAQuestion{
			SessionID: sess.ID, DocumentPath: "docs/api.md",
			Type: models.QuestionVerification, Priority: models.QuestionPriorityHigh, Text: text,
		})
	}
	require.NoError(t, s.CreateQAQuestions(ctx, questions))

	m := NewSessionManager(s, NewRefiner(s, client), nil)
	return m, &sessionFixture{store: s, session: sess, questions: questions}
}

func TestAnswerQuestionKeepsSessionOpenWhilePending(t *testing.T) {
	m, fx := newSessionFixture(t, &scriptedClient{content: `{"content": "# API\n\nNew body.\n"}`},
		"q one", "q two")
	ctx := context.Background()

	require.NoError(t, m.AnswerQuestion(ctx, fx.questions[0].ID, "returns 201"))

	sess, err := fx.store.GetQASession(ctx, fx.session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QASessionAwaitingResponse, sess.Status)

	q, err := fx.store.GetQAQuestion(ctx, fx.questions[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.QuestionAnswered, q.Status)
	assert.Equal(t, "returns 201", q.Answer)
	require.NotNil(t, q.AnsweredAt)
}

func TestLastAnswerTriggersRefinementAndCompletes(t *testing.T) {
	m, fx := newSessionFixture(t, &scriptedClient{content: `{"content": "# API\n\nNew body.\n"}`}, "q one")
	ctx := context.Background()

	require.NoError(t, m.AnswerQuestion(ctx, fx.questions[0].ID, "returns 201"))

	sess, err := fx.store.GetQASession(ctx, fx.session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QASessionCompleted, sess.Status)
	require.NotNil(t, sess.CompletedAt)

	q, err := fx.store.GetQAQuestion(ctx, fx.questions[0].ID)
	require.NoError(t, err)
	assert.Equal(t, models.QuestionApplied, q.Status)

	doc, err := fx.store.GetDocumentByPath(ctx, fx.session.RepositoryID, "docs/api.md")
	require.NoError(t, err)
	assert.Equal(t, "# API\n\nNew body.\n", doc.Content)
}

func TestSkipAllQuestionsCompletesWithoutRewrite(t *testing.T) {
	// No answered questions, so the refiner must never run; a fallback client
	// would fail refinement if it did.
	m, fx := newSessionFixture(t, llm.FallbackClient{}, "q one")
	ctx := context.Background()

	require.NoError(t, m.SkipQuestion(ctx, fx.questions[0].ID))

	sess, err := fx.store.GetQASession(ctx, fx.session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QASessionCompleted, sess.Status)

	doc, err := fx.store.GetDocumentByPath(ctx, fx.session.RepositoryID, "docs/api.md")
	require.NoError(t, err)
	assert.Equal(t, "# API\n\nOld body.\n", doc.Content)
}

func TestRefinementFailureLeavesSessionOpen(t *testing.T) {
	m, fx := newSessionFixture(t, llm.FallbackClient{}, "q one")
	ctx := context.Background()

	err := m.AnswerQuestion(ctx, fx.questions[0].ID, "returns 201")
	require.Error(t, err)

	sess, getErr := fx.store.GetQASession(ctx, fx.session.ID)
	require.NoError(t, getErr)
	assert.Equal(t, models.QASessionAwaitingResponse, sess.Status)
	assert.Contains(t, sess.Error, "refinement failed for docs/api.md")

	// The stored document is untouched.
	doc, getErr := fx.store.GetDocumentByPath(ctx, fx.session.RepositoryID, "docs/api.md")
	require.NoError(t, getErr)
	assert.Equal(t, "# API\n\nOld body.\n", doc.Content)
}

func TestAnswerValidation(t *testing.T) {
	m, fx := newSessionFixture(t, &scriptedClient{}, "q one")
	ctx := context.Background()

	assert.Error(t, m.AnswerQuestion(ctx, fx.questions[0].ID, ""))

	// Settling a non-pending question is rejected.
	require.NoError(t, m.SkipQuestion(ctx, fx.questions[0].ID))
	assert.Error(t, m.SkipQuestion(ctx, fx.questions[0].ID))
}

func TestApproveManually(t *testing.T) {
	m, fx := newSessionFixture(t, &scriptedClient{}, "q one")
	ctx := context.Background()

	// Pending questions block manual approval.
	err := m.ApproveManually(ctx, fx.session.ID)
	assert.ErrorContains(t, err, "pending question")

	q, err := fx.store.GetQAQuestion(ctx, fx.questions[0].ID)
	require.NoError(t, err)
	q.Status = models.QuestionSkipped
	require.NoError(t, fx.store.UpdateQAQuestion(ctx, q))

	require.NoError(t, m.ApproveManually(ctx, fx.session.ID))
	sess, err := fx.store.GetQASession(ctx, fx.session.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QASessionCompleted, sess.Status)

	// Terminal sessions cannot be approved again.
	assert.Error(t, m.ApproveManually(ctx, fx.session.ID))
}
