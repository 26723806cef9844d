package stores

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"

	// SQLite driver
	_ "modernc.org/sqlite"

	"github.com/treestandk/wingman/pkg/deploy"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLiteStore persists deployments and their step records in SQLite.
type SQLiteStore struct {
	db  *sql.DB
	cfg Config
}

// Config holds SQLite store configuration
type Config struct {
	Path            string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// NewSQLiteStore creates a new SQLite store instance
func NewSQLiteStore(cfg Config) (*SQLiteStore, error) {
	if cfg.Path == "" {
		return nil, fmt.Errorf("database path is required")
	}
	if cfg.MaxOpenConns <= 0 {
		cfg.MaxOpenConns = 25
	}
	if cfg.MaxIdleConns <= 0 {
		cfg.MaxIdleConns = 5
	}
	if cfg.ConnMaxLifetime <= 0 {
		cfg.ConnMaxLifetime = 5 * time.Minute
	}
	return &SQLiteStore{cfg: cfg}, nil
}

// Init opens the database connection and enables WAL mode.
func (s *SQLiteStore) Init(ctx context.Context) error {
	dsn := fmt.Sprintf("%s?_foreign_keys=on&_journal_mode=WAL&_busy_timeout=5000&_synchronous=NORMAL&_txlock=immediate", s.cfg.Path)

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(s.cfg.MaxOpenConns)
	db.SetMaxIdleConns(s.cfg.MaxIdleConns)
	db.SetConnMaxLifetime(s.cfg.ConnMaxLifetime)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to ping database: %w", err)
	}

	// Foreign keys are a connection-level setting.
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	s.db = db
	return nil
}

// Close closes the database connection
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Migrate runs database migrations.
func (s *SQLiteStore) Migrate(_ context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}

	sourceDriver, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return fmt.Errorf("failed to create migration source: %w", err)
	}

	driver, err := sqlite3.WithInstance(s.db, &sqlite3.Config{})
	if err != nil {
		return fmt.Errorf("failed to create database driver: %w", err)
	}

	m, err := migrate.NewWithInstance("iofs", sourceDriver, "sqlite3", driver)
	if err != nil {
		return fmt.Errorf("failed to create migration instance: %w", err)
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return fmt.Errorf("failed to run migrations: %w", err)
	}

	return nil
}

// CreateDeployment inserts a new deployment and its step records.
func (s *SQLiteStore) CreateDeployment(ctx context.Context, d *deploy.Deployment) error {
	row, err := toDeploymentRow(d)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		INSERT INTO deployments (id, subdomain, fqdn, status, cursor, parameters, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	if _, err := tx.ExecContext(ctx, query,
		row.ID, row.Subdomain, row.FQDN, row.Status, row.Cursor, row.Parameters, row.CreatedAt, row.UpdatedAt,
	); err != nil {
		return fmt.Errorf("failed to create deployment: %w", err)
	}

	if err := insertSteps(ctx, tx, d); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit deployment: %w", err)
	}
	return nil
}

// SaveDeployment overwrites the full persisted record in one
// transaction: the deployment row and every step row together, so a
// reader never observes a cursor that disagrees with the step outcomes.
func (s *SQLiteStore) SaveDeployment(ctx context.Context, d *deploy.Deployment) error {
	row, err := toDeploymentRow(d)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	query := `
		UPDATE deployments
		SET subdomain = ?, fqdn = ?, status = ?, cursor = ?, parameters = ?, updated_at = ?
		WHERE id = ?
	`
	result, err := tx.ExecContext(ctx, query,
		row.Subdomain, row.FQDN, row.Status, row.Cursor, row.Parameters, row.UpdatedAt, row.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to save deployment: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return deploy.NewNotFoundError(fmt.Sprintf("deployment not found: %s", d.ID), nil).WithService("store")
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM deployment_steps WHERE deployment_id = ?`, d.ID); err != nil {
		return fmt.Errorf("failed to clear step records: %w", err)
	}
	if err := insertSteps(ctx, tx, d); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit deployment: %w", err)
	}
	return nil
}

func insertSteps(ctx context.Context, tx *sql.Tx, d *deploy.Deployment) error {
	query := `
		INSERT INTO deployment_steps (deployment_id, position, name, outcome, ref, error, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`
	for i, step := range d.Steps {
		row, err := toStepRow(d.ID, i, step)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query,
			row.DeploymentID, row.Position, row.Name, row.Outcome, row.Ref, row.Error, row.StartedAt, row.CompletedAt,
		); err != nil {
			return fmt.Errorf("failed to insert step record: %w", err)
		}
	}
	return nil
}

// GetDeployment retrieves a deployment with its step records.
func (s *SQLiteStore) GetDeployment(ctx context.Context, id string) (*deploy.Deployment, error) {
	query := `
		SELECT id, subdomain, fqdn, status, cursor, parameters, created_at, updated_at
		FROM deployments
		WHERE id = ?
	`
	row := deploymentRow{}
	err := s.db.QueryRowContext(ctx, query, id).Scan(
		&row.ID, &row.Subdomain, &row.FQDN, &row.Status, &row.Cursor, &row.Parameters, &row.CreatedAt, &row.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, deploy.NewNotFoundError(fmt.Sprintf("deployment not found: %s", id), nil).WithService("store")
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get deployment: %w", err)
	}

	d, err := row.toDeployment()
	if err != nil {
		return nil, err
	}
	if d.Steps, err = s.stepsFor(ctx, id); err != nil {
		return nil, err
	}
	return d, nil
}

func (s *SQLiteStore) stepsFor(ctx context.Context, deploymentID string) ([]deploy.StepRecord, error) {
	query := `
		SELECT deployment_id, position, name, outcome, ref, error, started_at, completed_at
		FROM deployment_steps
		WHERE deployment_id = ?
		ORDER BY position ASC
	`
	rows, err := s.db.QueryContext(ctx, query, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list step records: %w", err)
	}
	defer rows.Close()

	steps := []deploy.StepRecord{}
	for rows.Next() {
		row := stepRow{}
		if err := rows.Scan(
			&row.DeploymentID, &row.Position, &row.Name, &row.Outcome, &row.Ref, &row.Error, &row.StartedAt, &row.CompletedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan step record: %w", err)
		}
		step, err := row.toStepRecord()
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating step records: %w", err)
	}
	return steps, nil
}

// ListDeployments lists all deployments, newest first, with their step
// records.
func (s *SQLiteStore) ListDeployments(ctx context.Context) ([]*deploy.Deployment, error) {
	query := `
		SELECT id, subdomain, fqdn, status, cursor, parameters, created_at, updated_at
		FROM deployments
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	defer rows.Close()

	deployments := []*deploy.Deployment{}
	for rows.Next() {
		row := deploymentRow{}
		if err := rows.Scan(
			&row.ID, &row.Subdomain, &row.FQDN, &row.Status, &row.Cursor, &row.Parameters, &row.CreatedAt, &row.UpdatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan deployment: %w", err)
		}
		d, err := row.toDeployment()
		if err != nil {
			return nil, err
		}
		deployments = append(deployments, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating deployments: %w", err)
	}

	for _, d := range deployments {
		if d.Steps, err = s.stepsFor(ctx, d.ID); err != nil {
			return nil, err
		}
	}
	return deployments, nil
}

// DeleteDeployment deletes a deployment. Step records go with it via the
// foreign key cascade.
func (s *SQLiteStore) DeleteDeployment(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM deployments WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete deployment: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if rows == 0 {
		return deploy.NewNotFoundError(fmt.Sprintf("deployment not found: %s", id), nil).WithService("store")
	}
	return nil
}

// HealthCheck verifies the database connection is healthy
func (s *SQLiteStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("database not initialized")
	}
	return s.db.PingContext(ctx)
}
