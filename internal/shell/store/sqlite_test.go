package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/berth/internal/core/deploy"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "berth.db")
	st, err := NewSQLiteStore(dsn)
	require.NoError(t, err)
	t.Cleanup(func() {
		st.Close()
	})
	return st
}

func testRun(id, service string, startedAt time.Time) *Run {
	return &Run{
		ID:        id,
		Service:   service,
		Project:   service,
		Kind:      deploy.SourceCompose,
		Access:    deploy.AccessLocalhost,
		Ingress:   deploy.IngressManaged,
		Status:    deploy.StatusRunning,
		Services:  []string{"web"},
		StartedAt: startedAt,
	}
}

func createTestRun(t *testing.T, st Store, id, service string, startedAt time.Time) *Run {
	t.Helper()
	run := testRun(id, service, startedAt)
	require.NoError(t, st.CreateRun(context.Background(), run))
	return run
}

// Whole seconds so RFC3339 round-trips exactly.
var testStart = time.Date(2026, 2, 3, 10, 0, 0, 0, time.UTC)

// =============================================================================
// Create / Finish
// =============================================================================

func TestCreateRun_RoundTrip(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	run := &Run{
		ID:       "run-1",
		Service:  "shop",
		Project:  "shop",
		Kind:     deploy.SourceDockerfile,
		Access:   deploy.AccessPublic,
		Ingress:  deploy.IngressExternal,
		Status:   deploy.StatusRunning,
		Attempts: 0,
		Services: []string{"web", "worker"},
		Routes: []deploy.Route{
			{Host: "shop.example.com", Path: "/", Upstream: "web", Port: 8080},
			{Host: "shop.example.com", Path: "/api", Upstream: "api", Port: 9090},
		},
		StartedAt: testStart,
	}
	require.NoError(t, st.CreateRun(ctx, run))

	runs, err := st.ListRuns(ctx, DefaultListOptions())
	require.NoError(t, err)
	require.Len(t, runs, 1)

	got := runs[0]
	assert.Equal(t, "run-1", got.ID)
	assert.Equal(t, "shop", got.Service)
	assert.Equal(t, "shop", got.Project)
	assert.Equal(t, deploy.SourceDockerfile, got.Kind)
	assert.Equal(t, deploy.AccessPublic, got.Access)
	assert.Equal(t, deploy.IngressExternal, got.Ingress)
	assert.Equal(t, deploy.StatusRunning, got.Status)
	assert.Equal(t, []string{"web", "worker"}, got.Services)
	assert.Equal(t, run.Routes, got.Routes)
	assert.Empty(t, got.Error)
	assert.True(t, got.StartedAt.Equal(testStart))
	assert.Nil(t, got.FinishedAt)
}

func TestCreateRun_DuplicateID(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	createTestRun(t, st, "run-1", "shop", testStart)

	err := st.CreateRun(ctx, testRun("run-1", "blog", testStart))
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrDuplicateID)

	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "CreateRun", storeErr.Op)
	assert.Equal(t, "run-1", storeErr.ID)
}

func TestFinishRun_RecordsOutcome(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	run := &Run{
		ID:        "run-1",
		Service:   "shop",
		Project:   "shop",
		Kind:      deploy.SourceAuto,
		Access:    deploy.AccessPublic,
		Ingress:   deploy.IngressManaged,
		Status:    deploy.StatusRunning,
		StartedAt: testStart,
	}
	require.NoError(t, st.CreateRun(ctx, run))

	// Resolution concretizes the kind and service set; the outcome update
	// carries them along with status and attempts.
	finished := testStart.Add(42 * time.Second)
	run.Status = deploy.StatusDeployedDegraded
	run.Kind = deploy.SourceCompose
	run.Attempts = 3
	run.Services = []string{"web", "worker"}
	run.Routes = []deploy.Route{{Host: "shop.example.com", Path: "/", Upstream: "web", Port: 8080}}
	run.Error = "certificate issuance for shop.example.com failed"
	run.FinishedAt = &finished
	require.NoError(t, st.FinishRun(ctx, run))

	runs, err := st.ListRuns(ctx, DefaultListOptions())
	require.NoError(t, err)
	require.Len(t, runs, 1)

	got := runs[0]
	assert.Equal(t, deploy.StatusDeployedDegraded, got.Status)
	assert.Equal(t, deploy.SourceCompose, got.Kind)
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, []string{"web", "worker"}, got.Services)
	assert.Equal(t, run.Routes, got.Routes)
	assert.Equal(t, "certificate issuance for shop.example.com failed", got.Error)
	require.NotNil(t, got.FinishedAt)
	assert.True(t, got.FinishedAt.Equal(finished))
}

func TestFinishRun_NotFound(t *testing.T) {
	st := setupTestStore(t)

	run := testRun("run-missing", "shop", testStart)
	run.Status = deploy.StatusFailed

	err := st.FinishRun(context.Background(), run)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNotFound)
}

// =============================================================================
// Listing
// =============================================================================

func TestListRuns_MostRecentFirst(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	// Inserted out of chronological order on purpose.
	createTestRun(t, st, "run-2", "shop", testStart.Add(1*time.Minute))
	createTestRun(t, st, "run-1", "shop", testStart)
	createTestRun(t, st, "run-3", "shop", testStart.Add(2*time.Minute))

	runs, err := st.ListRuns(ctx, DefaultListOptions())
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "run-3", runs[0].ID)
	assert.Equal(t, "run-2", runs[1].ID)
	assert.Equal(t, "run-1", runs[2].ID)
}

func TestListRuns_SameSecondOrdersByInsertion(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	createTestRun(t, st, "run-1", "shop", testStart)
	createTestRun(t, st, "run-2", "shop", testStart)

	runs, err := st.ListRuns(ctx, DefaultListOptions())
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-2", runs[0].ID)
	assert.Equal(t, "run-1", runs[1].ID)
}

func TestListRuns_LimitAndOffset(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		createTestRun(t, st, string(rune('a'+i)), "shop", testStart.Add(time.Duration(i)*time.Minute))
	}

	runs, err := st.ListRuns(ctx, ListOptions{Limit: 2})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "e", runs[0].ID)
	assert.Equal(t, "d", runs[1].ID)

	runs, err = st.ListRuns(ctx, ListOptions{Limit: 2, Offset: 2})
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "c", runs[0].ID)
	assert.Equal(t, "b", runs[1].ID)
}

func TestListRuns_Empty(t *testing.T) {
	st := setupTestStore(t)

	runs, err := st.ListRuns(context.Background(), DefaultListOptions())
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestListRunsByService_Filters(t *testing.T) {
	st := setupTestStore(t)
	ctx := context.Background()

	createTestRun(t, st, "run-1", "shop", testStart)
	createTestRun(t, st, "run-2", "blog", testStart.Add(1*time.Minute))
	createTestRun(t, st, "run-3", "shop", testStart.Add(2*time.Minute))

	runs, err := st.ListRunsByService(ctx, "shop", DefaultListOptions())
	require.NoError(t, err)
	require.Len(t, runs, 2)
	assert.Equal(t, "run-3", runs[0].ID)
	assert.Equal(t, "run-1", runs[1].ID)

	runs, err = st.ListRunsByService(ctx, "missing", DefaultListOptions())
	require.NoError(t, err)
	assert.Empty(t, runs)
}

// =============================================================================
// Lifecycle
// =============================================================================

func TestNewSQLiteStore_ReopenKeepsHistory(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "berth.db")
	ctx := context.Background()

	st, err := NewSQLiteStore(dsn)
	require.NoError(t, err)
	createTestRun(t, st, "run-1", "shop", testStart)
	require.NoError(t, st.Close())

	// Reopening runs migrations again; ErrNoChange must be tolerated.
	st, err = NewSQLiteStore(dsn)
	require.NoError(t, err)
	defer st.Close()

	runs, err := st.ListRuns(ctx, DefaultListOptions())
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "run-1", runs[0].ID)
}

func TestNewSQLiteStore_MissingParentDir(t *testing.T) {
	dsn := filepath.Join(t.TempDir(), "no", "such", "dir", "berth.db")

	st, err := NewSQLiteStore(dsn)
	require.Error(t, err)
	assert.Nil(t, st)
	assert.ErrorIs(t, err, ErrConnectionFailed)
}

// =============================================================================
// Options
// =============================================================================

func TestListOptions_Normalize(t *testing.T) {
	tests := []struct {
		name string
		in   ListOptions
		want ListOptions
	}{
		{"zero gets defaults", ListOptions{}, ListOptions{Limit: 100}},
		{"negative offset clamped", ListOptions{Limit: 10, Offset: -5}, ListOptions{Limit: 10}},
		{"limit capped", ListOptions{Limit: 5000}, ListOptions{Limit: 1000}},
		{"valid untouched", ListOptions{Limit: 25, Offset: 50}, ListOptions{Limit: 25, Offset: 50}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.in.Normalize())
		})
	}
}
