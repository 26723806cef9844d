package stores

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/treestandk/wingman/pkg/deploy"
)

// deploymentRow mirrors one row of the deployments table. Parameters are
// stored as a JSON document; everything queried or filtered on has its
// own column.
type deploymentRow struct {
	ID         string
	Subdomain  string
	FQDN       string
	Status     string
	Cursor     int
	Parameters []byte
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// stepRow mirrors one row of the deployment_steps table. Position
// preserves the execution order; ref and error are nullable JSON
// documents.
type stepRow struct {
	DeploymentID string
	Position     int
	Name         string
	Outcome      string
	Ref          sql.NullString
	Error        sql.NullString
	StartedAt    sql.NullTime
	CompletedAt  sql.NullTime
}

func toDeploymentRow(d *deploy.Deployment) (deploymentRow, error) {
	params, err := json.Marshal(d.Parameters)
	if err != nil {
		return deploymentRow{}, fmt.Errorf("marshal parameters: %w", err)
	}
	return deploymentRow{
		ID:         d.ID,
		Subdomain:  d.Parameters.Subdomain,
		FQDN:       d.FQDN,
		Status:     string(d.Status),
		Cursor:     d.Cursor,
		Parameters: params,
		CreatedAt:  d.CreatedAt.UTC(),
		UpdatedAt:  d.UpdatedAt.UTC(),
	}, nil
}

func (r deploymentRow) toDeployment() (*deploy.Deployment, error) {
	d := &deploy.Deployment{
		ID:        r.ID,
		FQDN:      r.FQDN,
		Status:    deploy.Status(r.Status),
		Cursor:    r.Cursor,
		CreatedAt: r.CreatedAt,
		UpdatedAt: r.UpdatedAt,
	}
	if err := json.Unmarshal(r.Parameters, &d.Parameters); err != nil {
		return nil, fmt.Errorf("unmarshal parameters for %s: %w", r.ID, err)
	}
	return d, nil
}

func toStepRow(deploymentID string, position int, s deploy.StepRecord) (stepRow, error) {
	row := stepRow{
		DeploymentID: deploymentID,
		Position:     position,
		Name:         string(s.Name),
		Outcome:      string(s.Outcome),
	}
	if s.Ref != nil {
		raw, err := json.Marshal(s.Ref)
		if err != nil {
			return stepRow{}, fmt.Errorf("marshal step ref: %w", err)
		}
		row.Ref = sql.NullString{String: string(raw), Valid: true}
	}
	if s.Error != nil {
		raw, err := json.Marshal(s.Error)
		if err != nil {
			return stepRow{}, fmt.Errorf("marshal step error: %w", err)
		}
		row.Error = sql.NullString{String: string(raw), Valid: true}
	}
	if s.StartedAt != nil {
		row.StartedAt = sql.NullTime{Time: s.StartedAt.UTC(), Valid: true}
	}
	if s.CompletedAt != nil {
		row.CompletedAt = sql.NullTime{Time: s.CompletedAt.UTC(), Valid: true}
	}
	return row, nil
}

func (r stepRow) toStepRecord() (deploy.StepRecord, error) {
	s := deploy.StepRecord{
		Name:    deploy.StepName(r.Name),
		Outcome: deploy.StepOutcome(r.Outcome),
	}
	if r.Ref.Valid {
		s.Ref = &deploy.ResourceRef{}
		if err := json.Unmarshal([]byte(r.Ref.String), s.Ref); err != nil {
			return s, fmt.Errorf("unmarshal step ref: %w", err)
		}
	}
	if r.Error.Valid {
		s.Error = &deploy.ErrorDetail{}
		if err := json.Unmarshal([]byte(r.Error.String), s.Error); err != nil {
			return s, fmt.Errorf("unmarshal step error: %w", err)
		}
	}
	if r.StartedAt.Valid {
		t := r.StartedAt.Time
		s.StartedAt = &t
	}
	if r.CompletedAt.Valid {
		t := r.CompletedAt.Time
		s.CompletedAt = &t
	}
	return s, nil
}
