package stores

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/treestandk/wingman/pkg/deploy"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(Config{Path: filepath.Join(t.TempDir(), "test.db")})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	ctx := context.Background()
	if err := store.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := store.Migrate(ctx); err != nil {
		t.Fatalf("Migrate: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func testDeployment(id string) *deploy.Deployment {
	now := time.Now().UTC().Truncate(time.Second)
	return &deploy.Deployment{
		ID: id,
		Parameters: deploy.Parameters{
			Subdomain: "mc",
			ServerIP:  "192.168.1.50",
			GamePort:  25565,
			Protocol:  deploy.ProtocolTCPUDP,
		},
		FQDN:   "mc.example.com",
		Status: deploy.StatusPending,
		Steps: []deploy.StepRecord{
			{Name: deploy.StepDNS, Outcome: deploy.StepPending},
			{Name: deploy.StepFirewall, Outcome: deploy.StepPending},
			{Name: deploy.StepProxy, Outcome: deploy.StepPending},
			{Name: deploy.StepPanel, Outcome: deploy.StepPending},
		},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestInitAppliesPoolConfig(t *testing.T) {
	store, err := NewSQLiteStore(Config{
		Path:            filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns:    3,
		MaxIdleConns:    2,
		ConnMaxLifetime: time.Minute,
	})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	if got := store.db.Stats().MaxOpenConnections; got != 3 {
		t.Errorf("max open connections = %d, want 3", got)
	}
}

func TestNewSQLiteStoreDefaultsPool(t *testing.T) {
	store, err := NewSQLiteStore(Config{Path: "wingman.db"})
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	if store.cfg.MaxOpenConns != 25 || store.cfg.MaxIdleConns != 5 || store.cfg.ConnMaxLifetime != 5*time.Minute {
		t.Errorf("pool defaults = %+v", store.cfg)
	}
}

func TestCreateAndGetDeployment(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	d := testDeployment("dep-1")
	if err := store.CreateDeployment(ctx, d); err != nil {
		t.Fatalf("CreateDeployment: %v", err)
	}

	got, err := store.GetDeployment(ctx, "dep-1")
	if err != nil {
		t.Fatalf("GetDeployment: %v", err)
	}
	if got.FQDN != "mc.example.com" || got.Status != deploy.StatusPending || got.Cursor != 0 {
		t.Errorf("got %+v", got)
	}
	if got.Parameters.Subdomain != "mc" || got.Parameters.GamePort != 25565 {
		t.Errorf("parameters = %+v", got.Parameters)
	}
	if len(got.Steps) != 4 || got.Steps[0].Name != deploy.StepDNS || got.Steps[3].Name != deploy.StepPanel {
		t.Errorf("steps = %+v", got.Steps)
	}
}

func TestGetDeploymentNotFound(t *testing.T) {
	store := newTestStore(t)

	_, err := store.GetDeployment(context.Background(), "missing")
	if !deploy.IsNotFound(err) {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestSaveDeploymentRoundTripsProgress(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	d := testDeployment("dep-2")
	if err := store.CreateDeployment(ctx, d); err != nil {
		t.Fatalf("CreateDeployment: %v", err)
	}

	started := time.Now().UTC().Truncate(time.Second)
	completed := started.Add(2 * time.Second)
	d.Status = deploy.StatusFailed
	d.Cursor = 1
	d.Steps[0].Outcome = deploy.StepDone
	d.Steps[0].Ref = &deploy.ResourceRef{RecordID: "rec-1"}
	d.Steps[0].StartedAt = &started
	d.Steps[0].CompletedAt = &completed
	d.Steps[1].Outcome = deploy.StepFailed
	d.Steps[1].Ref = &deploy.ResourceRef{RuleIDs: []string{"rule-1"}}
	d.Steps[1].Error = &deploy.ErrorDetail{Kind: deploy.ErrorKindRemoteRejected, Service: "unifi", Message: "rule rejected"}

	if err := store.SaveDeployment(ctx, d); err != nil {
		t.Fatalf("SaveDeployment: %v", err)
	}

	got, err := store.GetDeployment(ctx, "dep-2")
	if err != nil {
		t.Fatalf("GetDeployment: %v", err)
	}
	if got.Status != deploy.StatusFailed || got.Cursor != 1 {
		t.Errorf("status=%s cursor=%d", got.Status, got.Cursor)
	}
	dns := got.Step(deploy.StepDNS)
	if dns.Outcome != deploy.StepDone || dns.Ref == nil || dns.Ref.RecordID != "rec-1" {
		t.Errorf("dns step = %+v", dns)
	}
	if dns.StartedAt == nil || !dns.StartedAt.Equal(started) {
		t.Errorf("dns started_at = %v, want %v", dns.StartedAt, started)
	}
	fw := got.Step(deploy.StepFirewall)
	if fw.Outcome != deploy.StepFailed {
		t.Errorf("firewall outcome = %s", fw.Outcome)
	}
	if fw.Ref == nil || len(fw.Ref.RuleIDs) != 1 || fw.Ref.RuleIDs[0] != "rule-1" {
		t.Errorf("partial firewall ref not preserved: %+v", fw.Ref)
	}
	if fw.Error == nil || fw.Error.Kind != deploy.ErrorKindRemoteRejected || fw.Error.Service != "unifi" {
		t.Errorf("firewall error = %+v", fw.Error)
	}
}

func TestSaveDeploymentNotFound(t *testing.T) {
	store := newTestStore(t)

	err := store.SaveDeployment(context.Background(), testDeployment("never-created"))
	if !deploy.IsNotFound(err) {
		t.Fatalf("expected not_found, got %v", err)
	}
}

func TestListDeploymentsNewestFirst(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	older := testDeployment("dep-old")
	older.CreatedAt = time.Now().UTC().Add(-time.Hour)
	older.UpdatedAt = older.CreatedAt
	newer := testDeployment("dep-new")

	if err := store.CreateDeployment(ctx, older); err != nil {
		t.Fatalf("CreateDeployment: %v", err)
	}
	if err := store.CreateDeployment(ctx, newer); err != nil {
		t.Fatalf("CreateDeployment: %v", err)
	}

	list, err := store.ListDeployments(ctx)
	if err != nil {
		t.Fatalf("ListDeployments: %v", err)
	}
	if len(list) != 2 {
		t.Fatalf("expected 2 deployments, got %d", len(list))
	}
	if list[0].ID != "dep-new" || list[1].ID != "dep-old" {
		t.Errorf("order = %s, %s", list[0].ID, list[1].ID)
	}
	if len(list[0].Steps) != 4 {
		t.Errorf("listed deployment missing steps: %d", len(list[0].Steps))
	}
}

func TestDeleteDeploymentCascadesSteps(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	d := testDeployment("dep-del")
	if err := store.CreateDeployment(ctx, d); err != nil {
		t.Fatalf("CreateDeployment: %v", err)
	}
	if err := store.DeleteDeployment(ctx, "dep-del"); err != nil {
		t.Fatalf("DeleteDeployment: %v", err)
	}

	var count int
	if err := store.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM deployment_steps WHERE deployment_id = ?`, "dep-del").Scan(&count); err != nil {
		t.Fatalf("count steps: %v", err)
	}
	if count != 0 {
		t.Errorf("step rows left behind: %d", count)
	}

	if err := store.DeleteDeployment(ctx, "dep-del"); !deploy.IsNotFound(err) {
		t.Fatalf("expected not_found on second delete, got %v", err)
	}
}
