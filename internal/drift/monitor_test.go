package drift

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/josedab/docsynth-sub010/internal/models"
	"github.com/josedab/docsynth-sub010/internal/store"
)

func newTestStore(t *testing.T) *store.SQLiteStore {
	t.Helper()
	dir := t.TempDir()
	s, err := store.NewSQLiteStore(filepath.Join(dir, "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

// fixedSignalSource returns the same signal vector for every document, or an
// error for documents whose path is in failPaths.
type fixedSignalSource struct {
	signals   models.DriftSignals
	failPaths map[string]bool
}

func (f *fixedSignalSource) SignalsFor(_ context.Context, _ *models.Repository, doc *models.Document) (models.DriftSignals, error) {
	if f.failPaths[doc.Path] {
		return models.DriftSignals{}, errors.New("signal source down")
	}
	return f.signals, nil
}

func TestProbabilityBoundaries(t *testing.T) {
	th := DefaultThresholds

	assert.Equal(t, 0.0, Probability(models.DriftSignals{}, th))

	// Every signal at its threshold contributes full weight; the weights sum
	// to exactly 1.
	full := models.DriftSignals{CodeChanges: 20, APIChanges: 10, DependencyChanges: 5, TimeSinceUpdateDays: 60}
	assert.InDelta(t, 1.0, Probability(full, th), 1e-9)

	// Values beyond the threshold are clamped, not amplified.
	over := models.DriftSignals{CodeChanges: 2000, APIChanges: 999, DependencyChanges: 99, TimeSinceUpdateDays: 9000}
	assert.InDelta(t, 1.0, Probability(over, th), 1e-9)

	// Half of every threshold lands at 0.5.
	half := models.DriftSignals{CodeChanges: 10, APIChanges: 5, DependencyChanges: 2, TimeSinceUpdateDays: 30}
	got := Probability(half, th)
	assert.InDelta(t, 0.35*0.5+0.30*0.5+0.15*0.4+0.20*0.5, got, 1e-9)
}

func TestClassify(t *testing.T) {
	assert.Equal(t, models.RiskHigh, Classify(0.7))
	assert.Equal(t, models.RiskHigh, Classify(1.0))
	assert.Equal(t, models.RiskMedium, Classify(0.4))
	assert.Equal(t, models.RiskMedium, Classify(0.69))
	assert.Equal(t, models.RiskLow, Classify(0.39))
	assert.Equal(t, models.RiskLow, Classify(0))
}

func TestAgeSignalSource(t *testing.T) {
	doc := &models.Document{UpdatedAt: time.Now().Add(-72 * time.Hour)}
	signals, err := AgeSignalSource{}.SignalsFor(context.Background(), nil, doc)
	require.NoError(t, err)
	assert.Equal(t, 3, signals.TimeSinceUpdateDays)
	assert.Equal(t, 0, signals.CodeChanges)
}

func TestScanRepositoryPersistsPredictions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := &models.Repository{Owner: "acme", Name: "widgets"}
	require.NoError(t, s.CreateRepository(ctx, r))
	for _, path := range []string{"docs/a.md", "docs/b.md"} {
		require.NoError(t, s.CreateDocument(ctx, &models.Document{RepositoryID: r.ID, Path: path, Title: path}))
	}

	src := &fixedSignalSource{signals: models.DriftSignals{CodeChanges: 20, APIChanges: 10, DependencyChanges: 5, TimeSinceUpdateDays: 60}}
	m := NewMonitor(s, src, nil)

	predictions, err := m.ScanRepository(ctx, r.ID)
	require.NoError(t, err)
	require.Len(t, predictions, 2)
	for _, p := range predictions {
		assert.InDelta(t, 1.0, p.DriftProbability, 1e-9)
		assert.Equal(t, models.RiskHigh, p.RiskLevel)
		assert.Equal(t, models.DriftOpen, p.Status)
	}

	stored, err := s.ListDriftPredictions(ctx, store.DriftFilter{RepositoryID: r.ID})
	require.NoError(t, err)
	assert.Len(t, stored, 2)
}

func TestScanRepositorySkipsFailingDocuments(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := &models.Repository{Owner: "acme", Name: "widgets"}
	require.NoError(t, s.CreateRepository(ctx, r))
	for _, path := range []string{"docs/a.md", "docs/b.md"} {
		require.NoError(t, s.CreateDocument(ctx, &models.Document{RepositoryID: r.ID, Path: path, Title: path}))
	}

	src := &fixedSignalSource{
		signals:   models.DriftSignals{CodeChanges: 10},
		failPaths: map[string]bool{"docs/a.md": true},
	}
	m := NewMonitor(s, src, nil)

	predictions, err := m.ScanRepository(ctx, r.ID)
	require.NoError(t, err)
	assert.Len(t, predictions, 1)
}

func TestTakeAction(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	r := &models.Repository{Owner: "acme", Name: "widgets"}
	require.NoError(t, s.CreateRepository(ctx, r))
	d := &models.Document{RepositoryID: r.ID, Path: "docs/a.md", Title: "A"}
	require.NoError(t, s.CreateDocument(ctx, d))

	m := NewMonitor(s, &fixedSignalSource{signals: models.DriftSignals{CodeChanges: 40}}, nil)
	p, err := m.ScanDocument(ctx, r, d)
	require.NoError(t, err)

	require.NoError(t, m.TakeAction(ctx, p.ID, models.DriftAcknowledged))
	got, err := s.GetDriftPrediction(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, models.DriftAcknowledged, got.Status)

	err = m.TakeAction(ctx, p.ID, "escalate")
	var invalid *InvalidActionError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "escalate", invalid.Action)
}
