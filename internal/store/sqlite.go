package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"math/rand"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/josedab/docsynth-sub010/internal/models"

	_ "modernc.org/sqlite"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, no CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database at the given path.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	// Ensure parent directory exists
	dir := filepath.Dir(dbPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	// SQLite only supports one concurrent writer. Limiting to a single
	// connection serializes all DB access through Go's connection pool,
	// preventing "database is locked" errors from concurrent workers.
	db.SetMaxOpenConns(1)

	// Enable WAL mode for concurrent reads
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable WAL mode: %w", err)
	}

	// Set busy timeout so concurrent writes wait instead of failing immediately
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}

	// Enable foreign keys
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enable foreign keys: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// boolToInt converts a bool to 0 or 1 for SQLite storage.
func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// newULID generates a new ULID string.
func newULID() string {
	entropy := rand.New(rand.NewSource(time.Now().UnixNano()))
	return ulid.MustNew(ulid.Timestamp(time.Now()), ulid.Monotonic(entropy, 0)).String()
}

// marshalJSON serializes v for a TEXT column, defaulting to fallback on nil.
func marshalJSON(v any, fallback string) string {
	data, err := json.Marshal(v)
	if err != nil || string(data) == "null" {
		return fallback
	}
	return string(data)
}

// Migrate runs all embedded SQL migration files in order.
func (s *SQLiteStore) Migrate(ctx context.Context) error {
	// Create migrations tracking table
	_, err := s.db.ExecContext(ctx, `CREATE TABLE IF NOT EXISTS schema_migrations (
		filename TEXT PRIMARY KEY,
		applied_at DATETIME NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}

	// Sort by filename
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}

		name := entry.Name()

		// Check if already applied
		var count int
		err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM schema_migrations WHERE filename = ?", name).Scan(&count)
		if err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if count > 0 {
			continue
		}

		data, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, string(data)); err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}

		if _, err := s.db.ExecContext(ctx, "INSERT INTO schema_migrations (filename) VALUES (?)", name); err != nil {
			return fmt.Errorf("record migration %s: %w", name, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Repositories ---

func (s *SQLiteStore) CreateRepository(ctx context.Context, r *models.Repository) error {
	if r.ID == "" {
		r.ID = newULID()
	}
	now := time.Now().UTC()
	r.CreatedAt = now
	r.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO repositories (id, owner, name, installation_id, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		r.ID, r.Owner, r.Name, r.InstallationID, r.CreatedAt, r.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create repository: %w", err)
	}
	return nil
}

func (s *SQLiteStore) scanRepository(row *sql.Row) (*models.Repository, error) {
	r := &models.Repository{}
	err := row.Scan(&r.ID, &r.Owner, &r.Name, &r.InstallationID, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

func (s *SQLiteStore) GetRepository(ctx context.Context, id string) (*models.Repository, error) {
	r, err := s.scanRepository(s.db.QueryRowContext(ctx,
		`SELECT id, owner, name, installation_id, created_at, updated_at
		FROM repositories WHERE id = ?`, id))
	if err == ErrNotFound {
		return nil, fmt.Errorf("repository %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get repository: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) GetRepositoryByOwnerName(ctx context.Context, owner, name string) (*models.Repository, error) {
	r, err := s.scanRepository(s.db.QueryRowContext(ctx,
		`SELECT id, owner, name, installation_id, created_at, updated_at
		FROM repositories WHERE owner = ? AND name = ?`, owner, name))
	if err == ErrNotFound {
		return nil, fmt.Errorf("repository %s/%s: %w", owner, name, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get repository by owner/name: %w", err)
	}
	return r, nil
}

func (s *SQLiteStore) ListRepositories(ctx context.Context) ([]*models.Repository, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, owner, name, installation_id, created_at, updated_at
		FROM repositories ORDER BY owner, name`)
	if err != nil {
		return nil, fmt.Errorf("list repositories: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var repos []*models.Repository
	for rows.Next() {
		r := &models.Repository{}
		if err := rows.Scan(&r.ID, &r.Owner, &r.Name, &r.InstallationID, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan repository: %w", err)
		}
		repos = append(repos, r)
	}
	return repos, rows.Err()
}

// --- Documents ---

func (s *SQLiteStore) CreateDocument(ctx context.Context, d *models.Document) error {
	if d.ID == "" {
		d.ID = newULID()
	}
	now := time.Now().UTC()
	d.CreatedAt = now
	d.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO documents (id, repository_id, path, title, content, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.RepositoryID, d.Path, d.Title, d.Content, d.CreatedAt, d.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("create document: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetDocument(ctx context.Context, id string) (*models.Document, error) {
	d := &models.Document{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, repository_id, path, title, content, created_at, updated_at
		FROM documents WHERE id = ?`, id,
	).Scan(&d.ID, &d.RepositoryID, &d.Path, &d.Title, &d.Content, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get document: %w", err)
	}
	return d, nil
}

func (s *SQLiteStore) GetDocumentByPath(ctx context.Context, repositoryID, path string) (*models.Document, error) {
	d := &models.Document{}
	err := s.db.QueryRowContext(ctx,
		`SELECT id, repository_id, path, title, content, created_at, updated_at
		FROM documents WHERE repository_id = ? AND path = ?`, repositoryID, path,
	).Scan(&d.ID, &d.RepositoryID, &d.Path, &d.Title, &d.Content, &d.CreatedAt, &d.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("document %s: %w", path, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get document by path: %w", err)
	}
	return d, nil
}

func (s *SQLiteStore) ListDocuments(ctx context.Context, repositoryID string) ([]*models.Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, repository_id, path, title, content, created_at, updated_at
		FROM documents WHERE repository_id = ? ORDER BY path`, repositoryID)
	if err != nil {
		return nil, fmt.Errorf("list documents: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var docs []*models.Document
	for rows.Next() {
		d := &models.Document{}
		if err := rows.Scan(&d.ID, &d.RepositoryID, &d.Path, &d.Title, &d.Content, &d.CreatedAt, &d.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan document: %w", err)
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

func (s *SQLiteStore) UpdateDocument(ctx context.Context, d *models.Document) error {
	d.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE documents SET path=?, title=?, content=?, updated_at=? WHERE id=?`,
		d.Path, d.Title, d.Content, d.UpdatedAt, d.ID,
	)
	if err != nil {
		return fmt.Errorf("update document: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("document %s: %w", d.ID, ErrNotFound)
	}
	return nil
}

// --- Generation jobs ---

func (s *SQLiteStore) CreateGenerationJob(ctx context.Context, j *models.GenerationJob) error {
	if j.ID == "" {
		j.ID = newULID()
	}
	if j.Status == "" {
		j.Status = models.JobStatusPending
	}
	j.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO generation_jobs (id, repository_id, pr_event_id, pr_number, change_analysis_id, intent_context_id, status, progress, error, created_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		j.ID, j.RepositoryID, j.PREventID, j.PRNumber, j.ChangeAnalysisID, j.IntentContextID,
		j.Status, j.Progress, j.Error, j.CreatedAt, j.StartedAt, j.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("create generation job: %w", err)
	}
	return nil
}

func scanGenerationJob(scan func(...any) error) (*models.GenerationJob, error) {
	j := &models.GenerationJob{}
	err := scan(&j.ID, &j.RepositoryID, &j.PREventID, &j.PRNumber, &j.ChangeAnalysisID,
		&j.IntentContextID, &j.Status, &j.Progress, &j.Error, &j.CreatedAt, &j.StartedAt, &j.CompletedAt)
	if err != nil {
		return nil, err
	}
	return j, nil
}

const generationJobCols = `id, repository_id, pr_event_id, pr_number, change_analysis_id, intent_context_id, status, progress, error, created_at, started_at, completed_at`

func (s *SQLiteStore) GetGenerationJob(ctx context.Context, id string) (*models.GenerationJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+generationJobCols+` FROM generation_jobs WHERE id = ?`, id)
	j, err := scanGenerationJob(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("generation job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get generation job: %w", err)
	}
	return j, nil
}

func (s *SQLiteStore) GetActiveGenerationJobForPR(ctx context.Context, repositoryID string, prNumber int) (*models.GenerationJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+generationJobCols+` FROM generation_jobs
		WHERE repository_id = ? AND pr_number = ? AND status NOT IN (?, ?)
		ORDER BY created_at DESC LIMIT 1`,
		repositoryID, prNumber, models.JobStatusCompleted, models.JobStatusFailed)
	j, err := scanGenerationJob(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get active generation job: %w", err)
	}
	return j, nil
}

func (s *SQLiteStore) ListGenerationJobs(ctx context.Context, repositoryID string, statuses []models.JobStatus, limit int) ([]*models.GenerationJob, error) {
	query := `SELECT ` + generationJobCols + ` FROM generation_jobs`
	var conds []string
	var args []any
	if repositoryID != "" {
		conds = append(conds, "repository_id = ?")
		args = append(args, repositoryID)
	}
	if len(statuses) > 0 {
		placeholders := strings.Repeat("?,", len(statuses))
		conds = append(conds, "status IN ("+placeholders[:len(placeholders)-1]+")")
		for _, st := range statuses {
			args = append(args, st)
		}
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list generation jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*models.GenerationJob
	for rows.Next() {
		j, err := scanGenerationJob(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan generation job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

// UpdateGenerationJob persists job mutations. Progress never moves backward;
// a lower value than the stored one is ignored in favor of the stored value.
func (s *SQLiteStore) UpdateGenerationJob(ctx context.Context, j *models.GenerationJob) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE generation_jobs
		SET status=?, progress=MAX(progress, ?), error=?, change_analysis_id=?, intent_context_id=?, started_at=?, completed_at=?
		WHERE id=?`,
		j.Status, j.Progress, j.Error, j.ChangeAnalysisID, j.IntentContextID, j.StartedAt, j.CompletedAt, j.ID,
	)
	if err != nil {
		return fmt.Errorf("update generation job: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("generation job %s: %w", j.ID, ErrNotFound)
	}
	return nil
}

// --- Change analyses ---

func (s *SQLiteStore) CreateChangeAnalysis(ctx context.Context, a *models.ChangeAnalysis) error {
	if a.ID == "" {
		a.ID = newULID()
	}
	a.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO change_analyses (id, repository_id, pr_event_id, pr_number, files, priority, requires_documentation, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.RepositoryID, a.PREventID, a.PRNumber, marshalJSON(a.Files, "[]"),
		a.Priority, boolToInt(a.RequiresDocumentation), a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create change analysis: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetChangeAnalysis(ctx context.Context, id string) (*models.ChangeAnalysis, error) {
	a := &models.ChangeAnalysis{}
	var files string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, repository_id, pr_event_id, pr_number, files, priority, requires_documentation, created_at
		FROM change_analyses WHERE id = ?`, id,
	).Scan(&a.ID, &a.RepositoryID, &a.PREventID, &a.PRNumber, &files, &a.Priority, &a.RequiresDocumentation, &a.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("change analysis %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get change analysis: %w", err)
	}
	if err := json.Unmarshal([]byte(files), &a.Files); err != nil {
		return nil, fmt.Errorf("parse change analysis files: %w", err)
	}
	return a, nil
}

// --- Intent contexts ---

func (s *SQLiteStore) CreateIntentContext(ctx context.Context, ic *models.IntentContext) error {
	if ic.ID == "" {
		ic.ID = newULID()
	}
	ic.CreatedAt = time.Now().UTC()

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO intent_contexts (id, change_analysis_id, repository_id, business_purpose, technical_approach, alternatives_considered, target_audience, key_concepts, sources, fallback, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ic.ID, ic.ChangeAnalysisID, ic.RepositoryID, ic.BusinessPurpose, ic.TechnicalApproach,
		marshalJSON(ic.AlternativesConsidered, "[]"), ic.TargetAudience,
		marshalJSON(ic.KeyConcepts, "[]"), marshalJSON(ic.Sources, "[]"),
		boolToInt(ic.Fallback), ic.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create intent context: %w", err)
	}
	return nil
}

func (s *SQLiteStore) GetIntentContext(ctx context.Context, id string) (*models.IntentContext, error) {
	ic := &models.IntentContext{}
	var alternatives, concepts, sources string
	err := s.db.QueryRowContext(ctx,
		`SELECT id, change_analysis_id, repository_id, business_purpose, technical_approach, alternatives_considered, target_audience, key_concepts, sources, fallback, created_at
		FROM intent_contexts WHERE id = ?`, id,
	).Scan(&ic.ID, &ic.ChangeAnalysisID, &ic.RepositoryID, &ic.BusinessPurpose, &ic.TechnicalApproach,
		&alternatives, &ic.TargetAudience, &concepts, &sources, &ic.Fallback, &ic.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("intent context %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get intent context: %w", err)
	}
	if err := json.Unmarshal([]byte(alternatives), &ic.AlternativesConsidered); err != nil {
		return nil, fmt.Errorf("parse alternatives: %w", err)
	}
	if err := json.Unmarshal([]byte(concepts), &ic.KeyConcepts); err != nil {
		return nil, fmt.Errorf("parse key concepts: %w", err)
	}
	if err := json.Unmarshal([]byte(sources), &ic.Sources); err != nil {
		return nil, fmt.Errorf("parse sources: %w", err)
	}
	return ic, nil
}

// --- QA sessions ---

func (s *SQLiteStore) CreateQASession(ctx context.Context, sess *models.QASession) error {
	if sess.ID == "" {
		sess.ID = newULID()
	}
	if sess.Status == "" {
		sess.Status = models.QASessionPending
	}
	now := time.Now().UTC()
	sess.CreatedAt = now
	sess.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO qa_sessions (id, repository_id, job_id, pr_number, status, confidence_score, auto_approved, document_paths, notice, error, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		sess.ID, sess.RepositoryID, sess.JobID, sess.PRNumber, sess.Status, sess.ConfidenceScore,
		boolToInt(sess.AutoApproved), marshalJSON(sess.DocumentPaths, "[]"), sess.Notice, sess.Error,
		sess.CreatedAt, sess.UpdatedAt, sess.CompletedAt,
	)
	if err != nil {
		return fmt.Errorf("create qa session: %w", err)
	}
	return nil
}

const qaSessionCols = `id, repository_id, job_id, pr_number, status, confidence_score, auto_approved, document_paths, notice, error, created_at, updated_at, completed_at`

func scanQASession(scan func(...any) error) (*models.QASession, error) {
	sess := &models.QASession{}
	var paths string
	err := scan(&sess.ID, &sess.RepositoryID, &sess.JobID, &sess.PRNumber, &sess.Status,
		&sess.ConfidenceScore, &sess.AutoApproved, &paths, &sess.Notice, &sess.Error,
		&sess.CreatedAt, &sess.UpdatedAt, &sess.CompletedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(paths), &sess.DocumentPaths); err != nil {
		return nil, fmt.Errorf("parse document paths: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) GetQASession(ctx context.Context, id string) (*models.QASession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+qaSessionCols+` FROM qa_sessions WHERE id = ?`, id)
	sess, err := scanQASession(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("qa session %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get qa session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) GetActiveQASessionForPR(ctx context.Context, repositoryID string, prNumber int) (*models.QASession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+qaSessionCols+` FROM qa_sessions
		WHERE repository_id = ? AND pr_number = ? AND status NOT IN (?, ?)
		ORDER BY created_at DESC LIMIT 1`,
		repositoryID, prNumber, models.QASessionApproved, models.QASessionCompleted)
	sess, err := scanQASession(row.Scan)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get active qa session: %w", err)
	}
	return sess, nil
}

func (s *SQLiteStore) ListQASessions(ctx context.Context, repositoryID string, statuses []models.QASessionStatus, limit int) ([]*models.QASession, error) {
	query := `SELECT ` + qaSessionCols + ` FROM qa_sessions`
	var conds []string
	var args []any
	if repositoryID != "" {
		conds = append(conds, "repository_id = ?")
		args = append(args, repositoryID)
	}
	if len(statuses) > 0 {
		placeholders := strings.Repeat("?,", len(statuses))
		conds = append(conds, "status IN ("+placeholders[:len(placeholders)-1]+")")
		for _, st := range statuses {
			args = append(args, st)
		}
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list qa sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var sessions []*models.QASession
	for rows.Next() {
		sess, err := scanQASession(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan qa session: %w", err)
		}
		sessions = append(sessions, sess)
	}
	return sessions, rows.Err()
}

func (s *SQLiteStore) UpdateQASession(ctx context.Context, sess *models.QASession) error {
	sess.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE qa_sessions
		SET status=?, confidence_score=?, auto_approved=?, document_paths=?, notice=?, error=?, updated_at=?, completed_at=?
		WHERE id=?`,
		sess.Status, sess.ConfidenceScore, boolToInt(sess.AutoApproved),
		marshalJSON(sess.DocumentPaths, "[]"), sess.Notice, sess.Error,
		sess.UpdatedAt, sess.CompletedAt, sess.ID,
	)
	if err != nil {
		return fmt.Errorf("update qa session: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("qa session %s: %w", sess.ID, ErrNotFound)
	}
	return nil
}

// --- QA questions ---

func (s *SQLiteStore) CreateQAQuestions(ctx context.Context, questions []*models.QAQuestion) error {
	if len(questions) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	for i, q := range questions {
		if q.ID == "" {
			q.ID = newULID()
		}
		if q.Status == "" {
			q.Status = models.QuestionPending
		}
		q.Position = i
		q.CreatedAt = now
		_, err := tx.ExecContext(ctx,
			`INSERT INTO qa_questions (id, session_id, document_path, question_type, category, priority, status, text, answer, line_start, line_end, position, created_at, answered_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			q.ID, q.SessionID, q.DocumentPath, q.Type, q.Category, q.Priority, q.Status,
			q.Text, q.Answer, q.LineStart, q.LineEnd, q.Position, q.CreatedAt, q.AnsweredAt,
		)
		if err != nil {
			return fmt.Errorf("create qa question: %w", err)
		}
	}
	return tx.Commit()
}

const qaQuestionCols = `id, session_id, document_path, question_type, category, priority, status, text, answer, line_start, line_end, position, created_at, answered_at`

func scanQAQuestion(scan func(...any) error) (*models.QAQuestion, error) {
	q := &models.QAQuestion{}
	err := scan(&q.ID, &q.SessionID, &q.DocumentPath, &q.Type, &q.Category, &q.Priority,
		&q.Status, &q.Text, &q.Answer, &q.LineStart, &q.LineEnd, &q.Position, &q.CreatedAt, &q.AnsweredAt)
	if err != nil {
		return nil, err
	}
	return q, nil
}

func (s *SQLiteStore) GetQAQuestion(ctx context.Context, id string) (*models.QAQuestion, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+qaQuestionCols+` FROM qa_questions WHERE id = ?`, id)
	q, err := scanQAQuestion(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("qa question %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get qa question: %w", err)
	}
	return q, nil
}

// ListQAQuestions returns a session's questions in presentation order:
// priority tier first (critical > high > medium > low), insertion order
// within a tier.
func (s *SQLiteStore) ListQAQuestions(ctx context.Context, sessionID string) ([]*models.QAQuestion, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+qaQuestionCols+` FROM qa_questions WHERE session_id = ? ORDER BY position`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list qa questions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var questions []*models.QAQuestion
	for rows.Next() {
		q, err := scanQAQuestion(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan qa question: %w", err)
		}
		questions = append(questions, q)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	sort.SliceStable(questions, func(i, j int) bool {
		return questions[i].Priority.PresentationRank() < questions[j].Priority.PresentationRank()
	})
	return questions, nil
}

func (s *SQLiteStore) CountPendingQuestions(ctx context.Context, sessionID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM qa_questions WHERE session_id = ? AND status = ?`,
		sessionID, models.QuestionPending,
	).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count pending questions: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) UpdateQAQuestion(ctx context.Context, q *models.QAQuestion) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE qa_questions SET status=?, answer=?, answered_at=? WHERE id=?`,
		q.Status, q.Answer, q.AnsweredAt, q.ID,
	)
	if err != nil {
		return fmt.Errorf("update qa question: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("qa question %s: %w", q.ID, ErrNotFound)
	}
	return nil
}

// --- Drift predictions ---

// UpsertDriftPrediction creates or refreshes the prediction for a document.
// A scan refreshes probability, risk, and signals but keeps human-set status
// unless the existing prediction was resolved, in which case it reopens.
func (s *SQLiteStore) UpsertDriftPrediction(ctx context.Context, p *models.DriftPrediction) error {
	if p.ID == "" {
		p.ID = newULID()
	}
	if p.Status == "" {
		p.Status = models.DriftOpen
	}
	now := time.Now().UTC()
	p.CreatedAt = now
	p.UpdatedAt = now

	_, err := s.db.ExecContext(ctx,
		`INSERT INTO drift_predictions (id, repository_id, document_id, drift_probability, risk_level, signals, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id) DO UPDATE SET
			drift_probability=excluded.drift_probability,
			risk_level=excluded.risk_level,
			signals=excluded.signals,
			status=CASE WHEN drift_predictions.status = 'resolved' THEN 'open' ELSE drift_predictions.status END,
			updated_at=excluded.updated_at`,
		p.ID, p.RepositoryID, p.DocumentID, p.DriftProbability, p.RiskLevel,
		marshalJSON(p.Signals, "{}"), p.Status, p.CreatedAt, p.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("upsert drift prediction: %w", err)
	}

	// Re-read to pick up the canonical row (the insert may have been an update).
	row := s.db.QueryRowContext(ctx,
		`SELECT id, status, created_at FROM drift_predictions WHERE document_id = ?`, p.DocumentID)
	if err := row.Scan(&p.ID, &p.Status, &p.CreatedAt); err != nil {
		return fmt.Errorf("reload drift prediction: %w", err)
	}
	return nil
}

const driftCols = `id, repository_id, document_id, drift_probability, risk_level, signals, status, created_at, updated_at`

func scanDriftPrediction(scan func(...any) error) (*models.DriftPrediction, error) {
	p := &models.DriftPrediction{}
	var signals string
	err := scan(&p.ID, &p.RepositoryID, &p.DocumentID, &p.DriftProbability, &p.RiskLevel,
		&signals, &p.Status, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(signals), &p.Signals); err != nil {
		return nil, fmt.Errorf("parse drift signals: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) GetDriftPrediction(ctx context.Context, id string) (*models.DriftPrediction, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+driftCols+` FROM drift_predictions WHERE id = ?`, id)
	p, err := scanDriftPrediction(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("drift prediction %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get drift prediction: %w", err)
	}
	return p, nil
}

func (s *SQLiteStore) ListDriftPredictions(ctx context.Context, filter DriftFilter) ([]*models.DriftPrediction, error) {
	query := `SELECT ` + driftCols + ` FROM drift_predictions`
	var conds []string
	var args []any
	if filter.RepositoryID != "" {
		conds = append(conds, "repository_id = ?")
		args = append(args, filter.RepositoryID)
	}
	if filter.Status != "" {
		conds = append(conds, "status = ?")
		args = append(args, filter.Status)
	}
	if filter.RiskLevel != "" {
		conds = append(conds, "risk_level = ?")
		args = append(args, filter.RiskLevel)
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY drift_probability DESC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list drift predictions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var predictions []*models.DriftPrediction
	for rows.Next() {
		p, err := scanDriftPrediction(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan drift prediction: %w", err)
		}
		predictions = append(predictions, p)
	}
	return predictions, rows.Err()
}

func (s *SQLiteStore) UpdateDriftPrediction(ctx context.Context, p *models.DriftPrediction) error {
	p.UpdatedAt = time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE drift_predictions
		SET drift_probability=?, risk_level=?, signals=?, status=?, updated_at=?
		WHERE id=?`,
		p.DriftProbability, p.RiskLevel, marshalJSON(p.Signals, "{}"), p.Status, p.UpdatedAt, p.ID,
	)
	if err != nil {
		return fmt.Errorf("update drift prediction: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("drift prediction %s: %w", p.ID, ErrNotFound)
	}
	return nil
}

// --- Queue jobs ---

// InsertQueueJob inserts a queue job, returning inserted=false when a job
// with the same queue+key already exists (idempotent enqueue).
func (s *SQLiteStore) InsertQueueJob(ctx context.Context, j *models.QueueJob) (bool, error) {
	now := time.Now().UTC()
	j.CreatedAt = now
	j.UpdatedAt = now
	if j.Status == "" {
		j.Status = models.QueueJobQueued
	}
	if j.NextRunAt.IsZero() {
		j.NextRunAt = now
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO queue_jobs (id, queue, key, payload, priority, status, progress, attempts, max_attempts, next_run_at, lease_expires_at, last_error, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(queue, key) DO NOTHING`,
		j.ID, j.Queue, j.Key, j.Payload, j.Priority, j.Status, j.Progress,
		j.Attempts, j.MaxAttempts, j.NextRunAt, j.LeaseExpiresAt, j.LastError,
		j.CreatedAt, j.UpdatedAt, j.CompletedAt,
	)
	if err != nil {
		return false, fmt.Errorf("insert queue job: %w", err)
	}
	n, _ := result.RowsAffected()
	return n > 0, nil
}

const queueJobCols = `id, queue, key, payload, priority, status, progress, attempts, max_attempts, next_run_at, lease_expires_at, last_error, created_at, updated_at, completed_at`

func scanQueueJob(scan func(...any) error) (*models.QueueJob, error) {
	j := &models.QueueJob{}
	err := scan(&j.ID, &j.Queue, &j.Key, &j.Payload, &j.Priority, &j.Status, &j.Progress,
		&j.Attempts, &j.MaxAttempts, &j.NextRunAt, &j.LeaseExpiresAt, &j.LastError,
		&j.CreatedAt, &j.UpdatedAt, &j.CompletedAt)
	if err != nil {
		return nil, err
	}
	return j, nil
}

func (s *SQLiteStore) GetQueueJob(ctx context.Context, id string) (*models.QueueJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+queueJobCols+` FROM queue_jobs WHERE id = ?`, id)
	j, err := scanQueueJob(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("queue job %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get queue job: %w", err)
	}
	return j, nil
}

func (s *SQLiteStore) GetQueueJobByKey(ctx context.Context, queue, key string) (*models.QueueJob, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+queueJobCols+` FROM queue_jobs WHERE queue = ? AND key = ?`, queue, key)
	j, err := scanQueueJob(row.Scan)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("queue job %s/%s: %w", queue, key, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get queue job by key: %w", err)
	}
	return j, nil
}

// LeaseQueueJobs atomically claims up to limit due jobs on a queue. Claimed
// jobs move to leased with a lease deadline; workers that die without acking
// are recovered by RequeueExpiredLeases.
func (s *SQLiteStore) LeaseQueueJobs(ctx context.Context, queue string, limit int, leaseFor time.Duration) ([]*models.QueueJob, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	rows, err := tx.QueryContext(ctx,
		`SELECT `+queueJobCols+` FROM queue_jobs
		WHERE queue = ? AND status IN (?, ?) AND next_run_at <= ?
		ORDER BY priority DESC, next_run_at ASC
		LIMIT ?`,
		queue, models.QueueJobQueued, models.QueueJobFailed, now, limit)
	if err != nil {
		return nil, fmt.Errorf("select due jobs: %w", err)
	}

	var jobs []*models.QueueJob
	for rows.Next() {
		j, err := scanQueueJob(rows.Scan)
		if err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan queue job: %w", err)
		}
		jobs = append(jobs, j)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	deadline := now.Add(leaseFor)
	for _, j := range jobs {
		j.Status = models.QueueJobLeased
		j.Attempts++
		j.LeaseExpiresAt = &deadline
		j.UpdatedAt = now
		_, err := tx.ExecContext(ctx,
			`UPDATE queue_jobs SET status=?, attempts=?, lease_expires_at=?, updated_at=? WHERE id=?`,
			j.Status, j.Attempts, j.LeaseExpiresAt, j.UpdatedAt, j.ID)
		if err != nil {
			return nil, fmt.Errorf("lease queue job: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit lease: %w", err)
	}
	return jobs, nil
}

// UpdateQueueJob persists job mutations. Progress never moves backward within
// an attempt; a retry reset (progress=0 with status queued/failed) is allowed.
func (s *SQLiteStore) UpdateQueueJob(ctx context.Context, j *models.QueueJob) error {
	j.UpdatedAt = time.Now().UTC()
	progressExpr := "MAX(progress, ?)"
	if j.Progress == 0 && (j.Status == models.QueueJobQueued || j.Status == models.QueueJobFailed) {
		progressExpr = "?"
	}
	result, err := s.db.ExecContext(ctx,
		`UPDATE queue_jobs
		SET status=?, progress=`+progressExpr+`, attempts=?, next_run_at=?, lease_expires_at=?, last_error=?, updated_at=?, completed_at=?
		WHERE id=?`,
		j.Status, j.Progress, j.Attempts, j.NextRunAt, j.LeaseExpiresAt,
		j.LastError, j.UpdatedAt, j.CompletedAt, j.ID,
	)
	if err != nil {
		return fmt.Errorf("update queue job: %w", err)
	}
	n, _ := result.RowsAffected()
	if n == 0 {
		return fmt.Errorf("queue job %s: %w", j.ID, ErrNotFound)
	}
	return nil
}

// RequeueExpiredLeases returns leased jobs with expired deadlines to the
// queue for redelivery (at-least-once).
func (s *SQLiteStore) RequeueExpiredLeases(ctx context.Context, queue string) (int64, error) {
	now := time.Now().UTC()
	result, err := s.db.ExecContext(ctx,
		`UPDATE queue_jobs
		SET status=?, progress=0, lease_expires_at=NULL, updated_at=?
		WHERE queue=? AND status=? AND lease_expires_at IS NOT NULL AND lease_expires_at <= ?`,
		models.QueueJobQueued, now, queue, models.QueueJobLeased, now,
	)
	if err != nil {
		return 0, fmt.Errorf("requeue expired leases: %w", err)
	}
	n, _ := result.RowsAffected()
	return n, nil
}

func (s *SQLiteStore) ListQueueJobs(ctx context.Context, filter QueueJobFilter) ([]*models.QueueJob, error) {
	query := `SELECT ` + queueJobCols + ` FROM queue_jobs`
	var conds []string
	var args []any
	if filter.Queue != "" {
		conds = append(conds, "queue = ?")
		args = append(args, filter.Queue)
	}
	if len(filter.Statuses) > 0 {
		placeholders := strings.Repeat("?,", len(filter.Statuses))
		conds = append(conds, "status IN ("+placeholders[:len(placeholders)-1]+")")
		for _, st := range filter.Statuses {
			args = append(args, st)
		}
	}
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at DESC"
	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list queue jobs: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var jobs []*models.QueueJob
	for rows.Next() {
		j, err := scanQueueJob(rows.Scan)
		if err != nil {
			return nil, fmt.Errorf("scan queue job: %w", err)
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
