package stores

import (
	"context"
	"fmt"
	"time"
)

// EventRecord is one persisted step event. The event log is append-only
// and serves polling readers; dropping an append never affects the
// deployment itself.
type EventRecord struct {
	ID           string    `json:"id"`
	DeploymentID string    `json:"deployment_id"`
	Step         string    `json:"step"`
	Kind         string    `json:"kind"`
	Message      string    `json:"message"`
	CreatedAt    time.Time `json:"created_at"`
}

// AppendEvent appends one event to the deployment's event log.
func (s *SQLiteStore) AppendEvent(ctx context.Context, e EventRecord) error {
	query := `
		INSERT INTO deployment_events (id, deployment_id, step, kind, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	if _, err := s.db.ExecContext(ctx, query,
		e.ID, e.DeploymentID, e.Step, e.Kind, e.Message, e.CreatedAt.UTC(),
	); err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

// ListEvents returns a deployment's event log in emission order.
func (s *SQLiteStore) ListEvents(ctx context.Context, deploymentID string) ([]EventRecord, error) {
	query := `
		SELECT id, deployment_id, step, kind, message, created_at
		FROM deployment_events
		WHERE deployment_id = ?
		ORDER BY created_at ASC, rowid ASC
	`
	rows, err := s.db.QueryContext(ctx, query, deploymentID)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	defer rows.Close()

	events := []EventRecord{}
	for rows.Next() {
		e := EventRecord{}
		if err := rows.Scan(&e.ID, &e.DeploymentID, &e.Step, &e.Kind, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		events = append(events, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating events: %w", err)
	}
	return events, nil
}
