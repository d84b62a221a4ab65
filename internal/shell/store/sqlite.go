package store

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"

	"github.com/artpar/berth/internal/core/deploy"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// =============================================================================
// SQLiteStore
// =============================================================================

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sqlx.DB
}

// NewSQLiteStore opens (or creates) the run database at dsn and runs
// migrations. The parent directory must exist.
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	db, err := sqlx.Open("sqlite3", dsn+"?_foreign_keys=on")
	if err != nil {
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to open database", ErrConnectionFailed)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", "failed to ping database", ErrConnectionFailed)
	}

	if err := runMigrations(db.DB); err != nil {
		db.Close()
		return nil, NewStoreError("NewSQLiteStore", "", "", err.Error(), ErrMigrationFailed)
	}

	return &SQLiteStore{db: db}, nil
}

// runMigrations runs database migrations using embedded SQL files.
func runMigrations(db *sql.DB) error {
	driver, err := sqlite3.WithInstance(db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create migration driver: %w", err)
	}

	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migrator: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// =============================================================================
// Run Operations
// =============================================================================

// runRow represents a run row in the database.
type runRow struct {
	ID           string  `db:"id"`
	Service      string  `db:"service"`
	Project      string  `db:"project"`
	Kind         string  `db:"kind"`
	Access       string  `db:"access"`
	Ingress      string  `db:"ingress"`
	Status       string  `db:"status"`
	Attempts     int     `db:"attempts"`
	Services     *string `db:"services"`
	Routes       *string `db:"routes"`
	ErrorMessage string  `db:"error_message"`
	StartedAt    string  `db:"started_at"`
	FinishedAt   *string `db:"finished_at"`
}

func (s *SQLiteStore) CreateRun(ctx context.Context, run *Run) error {
	servicesJSON, err := json.Marshal(run.Services)
	if err != nil {
		return NewStoreError("CreateRun", "run", run.ID, "failed to serialize services", ErrInvalidData)
	}
	routesJSON, err := json.Marshal(run.Routes)
	if err != nil {
		return NewStoreError("CreateRun", "run", run.ID, "failed to serialize routes", ErrInvalidData)
	}

	query := `
		INSERT INTO runs (
			id, service, project, kind, access, ingress, status, attempts,
			services, routes, error_message, started_at, finished_at
		) VALUES (
			:id, :service, :project, :kind, :access, :ingress, :status, :attempts,
			:services, :routes, :error_message, :started_at, :finished_at
		)`

	row := map[string]any{
		"id":            run.ID,
		"service":       run.Service,
		"project":       run.Project,
		"kind":          string(run.Kind),
		"access":        string(run.Access),
		"ingress":       string(run.Ingress),
		"status":        string(run.Status),
		"attempts":      run.Attempts,
		"services":      string(servicesJSON),
		"routes":        string(routesJSON),
		"error_message": run.Error,
		"started_at":    run.StartedAt.UTC().Format(time.RFC3339),
		"finished_at":   formatNullableTime(run.FinishedAt),
	}

	_, err = s.db.NamedExecContext(ctx, query, row)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed: runs.id") {
			return NewStoreError("CreateRun", "run", run.ID, "run with this ID already exists", ErrDuplicateID)
		}
		return NewStoreError("CreateRun", "run", run.ID, err.Error(), err)
	}

	return nil
}

func (s *SQLiteStore) FinishRun(ctx context.Context, run *Run) error {
	servicesJSON, err := json.Marshal(run.Services)
	if err != nil {
		return NewStoreError("FinishRun", "run", run.ID, "failed to serialize services", ErrInvalidData)
	}
	routesJSON, err := json.Marshal(run.Routes)
	if err != nil {
		return NewStoreError("FinishRun", "run", run.ID, "failed to serialize routes", ErrInvalidData)
	}

	query := `
		UPDATE runs SET
			status = :status,
			kind = :kind,
			attempts = :attempts,
			services = :services,
			routes = :routes,
			error_message = :error_message,
			finished_at = :finished_at
		WHERE id = :id`

	row := map[string]any{
		"id":            run.ID,
		"status":        string(run.Status),
		"kind":          string(run.Kind),
		"attempts":      run.Attempts,
		"services":      string(servicesJSON),
		"routes":        string(routesJSON),
		"error_message": run.Error,
		"finished_at":   formatNullableTime(run.FinishedAt),
	}

	result, err := s.db.NamedExecContext(ctx, query, row)
	if err != nil {
		return NewStoreError("FinishRun", "run", run.ID, err.Error(), err)
	}

	rowsAffected, _ := result.RowsAffected()
	if rowsAffected == 0 {
		return NewStoreError("FinishRun", "run", run.ID, "run not found", ErrNotFound)
	}

	return nil
}

func (s *SQLiteStore) ListRuns(ctx context.Context, opts ListOptions) ([]Run, error) {
	opts = opts.Normalize()
	// rowid breaks ties between runs started within the same second.
	query := `SELECT * FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ? OFFSET ?`

	var rows []runRow
	err := s.db.SelectContext(ctx, &rows, query, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListRuns", "run", "", err.Error(), err)
	}

	return rowsToRuns("ListRuns", rows)
}

func (s *SQLiteStore) ListRunsByService(ctx context.Context, service string, opts ListOptions) ([]Run, error) {
	opts = opts.Normalize()
	query := `SELECT * FROM runs WHERE service = ? ORDER BY started_at DESC, rowid DESC LIMIT ? OFFSET ?`

	var rows []runRow
	err := s.db.SelectContext(ctx, &rows, query, service, opts.Limit, opts.Offset)
	if err != nil {
		return nil, NewStoreError("ListRunsByService", "run", "", err.Error(), err)
	}

	return rowsToRuns("ListRunsByService", rows)
}

// =============================================================================
// Row Conversion
// =============================================================================

func rowsToRuns(op string, rows []runRow) ([]Run, error) {
	runs := make([]Run, 0, len(rows))
	for _, row := range rows {
		run, err := rowToRun(op, &row)
		if err != nil {
			return nil, err
		}
		runs = append(runs, *run)
	}
	return runs, nil
}

func rowToRun(op string, row *runRow) (*Run, error) {
	startedAt, _ := time.Parse(time.RFC3339, row.StartedAt)

	var finishedAt *time.Time
	if row.FinishedAt != nil && *row.FinishedAt != "" {
		t, _ := time.Parse(time.RFC3339, *row.FinishedAt)
		finishedAt = &t
	}

	var services []string
	if row.Services != nil && *row.Services != "" && *row.Services != "null" {
		if err := json.Unmarshal([]byte(*row.Services), &services); err != nil {
			return nil, NewStoreError(op, "run", row.ID, "failed to parse services", ErrInvalidData)
		}
	}

	var routes []deploy.Route
	if row.Routes != nil && *row.Routes != "" && *row.Routes != "null" {
		if err := json.Unmarshal([]byte(*row.Routes), &routes); err != nil {
			return nil, NewStoreError(op, "run", row.ID, "failed to parse routes", ErrInvalidData)
		}
	}

	return &Run{
		ID:         row.ID,
		Service:    row.Service,
		Project:    row.Project,
		Kind:       deploy.SourceKind(row.Kind),
		Access:     deploy.AccessMode(row.Access),
		Ingress:    deploy.IngressMode(row.Ingress),
		Status:     deploy.Status(row.Status),
		Attempts:   row.Attempts,
		Services:   services,
		Routes:     routes,
		Error:      row.ErrorMessage,
		StartedAt:  startedAt,
		FinishedAt: finishedAt,
	}, nil
}

func formatNullableTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.UTC().Format(time.RFC3339)
	return &s
}
