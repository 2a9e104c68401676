package qa

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josedab/docsynth-sub010/internal/generator"
	"github.com/josedab/docsynth-sub010/internal/llm"
	"github.com/josedab/docsynth-sub010/internal/models"
	"github.com/josedab/docsynth-sub010/internal/store"
)

type scriptedClient struct {
	content string
	err     error
}

func (c *scriptedClient) Generate(_ context.Context, _ llm.Request) (*llm.Result, error) {
	if c.err != nil {
		return nil, c.err
	}
	return &llm.Result{Content: c.content, Provider: llm.ProviderAnthropic}, nil
}

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := store.NewSQLiteStore(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func newPendingSession(t *testing.T, s store.Store) *models.QASession {
	t.Helper()
	ctx := context.Background()
	r := &models.Repository{Owner: "acme", Name: "widgets"}
	require.NoError(t, s.CreateRepository(ctx, r))
	sess := &models.QASession{RepositoryID: r.ID, JobID: "job-1", PRNumber: 3,
		DocumentPaths: []string{"docs/api.md"}}
	require.NoError(t, s.CreateQASession(ctx, sess))
	return sess
}

var testDocs = []generator.CandidateDoc{
	{Path: "docs/api.md", Title: "API", Content: "# API\n\nEndpoints.\n"},
}

func TestCanAutoApprove(t *testing.T) {
	assert.True(t, CanAutoApprove(85, 0))
	assert.True(t, CanAutoApprove(100, 0))
	assert.False(t, CanAutoApprove(84, 0))
	assert.False(t, CanAutoApprove(85, 1))
	assert.False(t, CanAutoApprove(0, 0))
}

func TestReviewAutoApproves(t *testing.T) {
	s := newTestStore(t)
	sess := newPendingSession(t, s)
	client := &scriptedClient{content: `{"confidenceScore": 92, "canAutoApprove": true, "questions": []}`}

	result, err := NewGate(s, client, nil).Review(context.Background(), sess, testDocs, nil)
	require.NoError(t, err)
	assert.Equal(t, 92, result.ConfidenceScore)

	got, err := s.GetQASession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QASessionApproved, got.Status)
	assert.True(t, got.AutoApproved)
	require.NotNil(t, got.CompletedAt)
}

func TestReviewCriticalQuestionBlocksApproval(t *testing.T) {
	s := newTestStore(t)
	sess := newPendingSession(t, s)
	client := &scriptedClient{content: `{"confidenceScore": 95, "canAutoApprove": true, "questions": [
		{"document": "docs/api.md", "type": "verification", "category": "accuracy",
		 "priority": "critical", "text": "Does the endpoint really return 201?"}
	]}`}

	_, err := NewGate(s, client, nil).Review(context.Background(), sess, testDocs, nil)
	require.NoError(t, err)

	got, err := s.GetQASession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QASessionAwaitingResponse, got.Status)
	assert.False(t, got.AutoApproved)

	questions, err := s.ListQAQuestions(context.Background(), sess.ID)
	require.NoError(t, err)
	require.Len(t, questions, 1)
	assert.Equal(t, models.QuestionPriorityCritical, questions[0].Priority)
}

func TestReviewZeroQuestionsBelowThreshold(t *testing.T) {
	s := newTestStore(t)
	sess := newPendingSession(t, s)
	client := &scriptedClient{content: `{"confidenceScore": 70, "canAutoApprove": false, "questions": []}`}

	_, err := NewGate(s, client, nil).Review(context.Background(), sess, testDocs, nil)
	require.NoError(t, err)

	got, err := s.GetQASession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QASessionAwaitingResponse, got.Status)
	assert.Equal(t, ManualReviewNotice, got.Notice)
}

func TestReviewScorerUnavailableIsConservative(t *testing.T) {
	s := newTestStore(t)
	sess := newPendingSession(t, s)

	result, err := NewGate(s, llm.FallbackClient{}, nil).Review(context.Background(), sess, testDocs, nil)
	require.NoError(t, err)
	assert.Equal(t, fallbackConfidence, result.ConfidenceScore)
	assert.False(t, result.CanAutoApprove)

	got, err := s.GetQASession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QASessionAwaitingResponse, got.Status)
}

func TestReviewClampsAndNormalizes(t *testing.T) {
	s := newTestStore(t)
	sess := newPendingSession(t, s)
	client := &scriptedClient{content: `{"confidenceScore": 140, "canAutoApprove": false, "questions": [
		{"document": "docs/api.md", "type": "weird", "priority": "urgent", "text": "q"}
	]}`}

	result, err := NewGate(s, client, nil).Review(context.Background(), sess, testDocs, nil)
	require.NoError(t, err)
	assert.Equal(t, 100, result.ConfidenceScore)
	require.Len(t, result.Questions, 1)
	assert.Equal(t, models.QuestionVerification, result.Questions[0].Type)
	assert.Equal(t, models.QuestionPriorityMedium, result.Questions[0].Priority)
}

func TestReviewResumesInterruptedReview(t *testing.T) {
	s := newTestStore(t)
	sess := newPendingSession(t, s)

	// A previous attempt died after moving the session to reviewing.
	sess.Status = models.QASessionReviewing
	require.NoError(t, s.UpdateQASession(context.Background(), sess))

	client := &scriptedClient{content: `{"confidenceScore": 92, "canAutoApprove": true, "questions": []}`}
	_, err := NewGate(s, client, nil).Review(context.Background(), sess, testDocs, nil)
	require.NoError(t, err)

	got, err := s.GetQASession(context.Background(), sess.ID)
	require.NoError(t, err)
	assert.Equal(t, models.QASessionApproved, got.Status)
}

func TestReviewRejectsNonPendingSession(t *testing.T) {
	s := newTestStore(t)
	sess := newPendingSession(t, s)
	sess.Status = models.QASessionApproved
	require.NoError(t, s.UpdateQASession(context.Background(), sess))

	_, err := NewGate(s, &scriptedClient{}, nil).Review(context.Background(), sess, testDocs, nil)
	assert.Error(t, err)
}
