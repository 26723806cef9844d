package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"

	"github.com/treestandk/wingman/pkg/adapters"
	"github.com/treestandk/wingman/pkg/config"
	"github.com/treestandk/wingman/pkg/deploy"
	"github.com/treestandk/wingman/pkg/stores"
	"github.com/treestandk/wingman/pkg/telemetry"
)

// app holds the wired application: config, store, telemetry, and the
// orchestrator over the configured adapters. Commands build one per
// invocation and close it when done.
type app struct {
	cfg    *config.Config
	logger zerolog.Logger
	store  *stores.SQLiteStore
	events *telemetry.EventPublisher
	tracer *telemetry.Tracer
	orch   *deploy.Orchestrator

	// panel is set when the hosting-panel service is enabled; the panel
	// command group needs its catalog reads.
	panel *adapters.Pterodactyl
}

// eventBridge forwards orchestrator step events into the event
// publisher's fan-out.
type eventBridge struct {
	pub *telemetry.EventPublisher
}

func (b eventBridge) Emit(deploymentID string, step deploy.StepName, kind deploy.EventKind, message string) {
	b.pub.Emit(deploymentID, string(step), string(kind), message)
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	logger, err := telemetry.NewLogger(cfg.Telemetry.Logging)
	if err != nil {
		return nil, err
	}

	store, err := stores.NewSQLiteStore(stores.Config{Path: cfg.Database.Path})
	if err != nil {
		return nil, err
	}
	if err := store.Init(ctx); err != nil {
		return nil, err
	}
	if err := store.Migrate(ctx); err != nil {
		_ = store.Close()
		return nil, err
	}

	tracer, err := telemetry.NewTracer(cfg.Telemetry.Tracing,
		cfg.Telemetry.ServiceName, cfg.Telemetry.ServiceVersion, cfg.Telemetry.Environment)
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	events := telemetry.NewEventPublisher(cfg.Telemetry.Events)
	events.Subscribe(consoleEvents)
	events.Subscribe(persistEvents(store, logger))

	a := &app{
		cfg:    cfg,
		logger: logger,
		store:  store,
		events: events,
		tracer: tracer,
	}

	adapterMap := map[deploy.StepName]deploy.Adapter{
		deploy.StepDNS: adapters.NewCloudflare(adapters.CloudflareConfig{
			APIToken: cfg.Cloudflare.APIToken,
			ZoneID:   cfg.Cloudflare.ZoneID,
			PublicIP: cfg.PublicIP,
			Timeout:  config.RequestTimeout,
		}, telemetry.ComponentLogger(logger, "cloudflare")),
		deploy.StepProxy: adapters.NewNPM(adapters.NPMConfig{
			APIURL:    cfg.Proxy.APIURL,
			Email:     cfg.Proxy.Email,
			Password:  cfg.Proxy.Password,
			CertEmail: cfg.Proxy.CertEmail,
			Timeout:   config.RequestTimeout,
		}, telemetry.ComponentLogger(logger, "npm")),
	}
	if cfg.UniFi.Enabled {
		adapterMap[deploy.StepFirewall] = adapters.NewUniFi(adapters.UniFiConfig{
			URL:                cfg.UniFi.URL,
			Username:           cfg.UniFi.Username,
			Password:           cfg.UniFi.Password,
			Site:               cfg.UniFi.Site,
			IsUDM:              cfg.UniFi.IsUDM,
			InsecureSkipVerify: cfg.UniFi.InsecureSkipVerify,
			Timeout:            config.RequestTimeout,
		}, telemetry.ComponentLogger(logger, "unifi"))
	}
	if cfg.Pterodactyl.Enabled {
		a.panel = adapters.NewPterodactyl(adapters.PterodactylConfig{
			URL:     cfg.Pterodactyl.URL,
			APIKey:  cfg.Pterodactyl.APIKey,
			OwnerID: cfg.Pterodactyl.OwnerID,
		}, telemetry.ComponentLogger(logger, "pterodactyl"))
		adapterMap[deploy.StepPanel] = a.panel
	}

	metrics := telemetry.NewMetrics(cfg.Telemetry.Metrics)

	orch, err := deploy.NewOrchestrator(store, adapterMap,
		deploy.WithEventSink(eventBridge{pub: events}),
		deploy.WithLogger(telemetry.ComponentLogger(logger, "orchestrator")),
		deploy.WithMetrics(metrics),
		deploy.WithTracer(tracer),
	)
	if err != nil {
		a.close(ctx)
		return nil, err
	}
	a.orch = orch
	return a, nil
}

func (a *app) close(ctx context.Context) {
	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := a.events.Shutdown(shutdownCtx); err != nil {
		a.logger.Warn().Err(err).Msg("event publisher shutdown")
	}
	if a.tracer != nil {
		if err := a.tracer.Shutdown(shutdownCtx); err != nil {
			a.logger.Warn().Err(err).Msg("tracer shutdown")
		}
	}
	if err := a.store.Close(); err != nil {
		a.logger.Warn().Err(err).Msg("store close")
	}
}

// fqdn joins the subdomain with the configured base domain.
func (a *app) fqdn(subdomain string) string {
	return fmt.Sprintf("%s.%s", subdomain, a.cfg.Domain)
}

// consoleEvents prints step progress to stderr as it happens.
func consoleEvents(e telemetry.Event) {
	fmt.Fprintf(os.Stderr, "  [%s] %s: %s\n", e.Step, e.Kind, e.Message)
}

// persistEvents mirrors step events into the store's append-only event
// log for `wingman logs`. An append failure is logged and dropped.
func persistEvents(store *stores.SQLiteStore, logger zerolog.Logger) telemetry.EventSubscriber {
	return func(e telemetry.Event) {
		rec := stores.EventRecord{
			ID:           e.ID,
			DeploymentID: e.DeploymentID,
			Step:         e.Step,
			Kind:         e.Kind,
			Message:      e.Message,
			CreatedAt:    e.Timestamp,
		}
		if err := store.AppendEvent(context.Background(), rec); err != nil {
			logger.Warn().Err(err).Str("deployment_id", e.DeploymentID).Msg("failed to persist event")
		}
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func printDeployment(d *deploy.Deployment) {
	fmt.Printf("Deployment:  %s\n", d.ID)
	fmt.Printf("Domain:      %s\n", d.FQDN)
	fmt.Printf("Status:      %s\n", d.Status)
	fmt.Printf("Created:     %s\n", d.CreatedAt.Format(time.RFC3339))
	fmt.Println("Steps:")
	for _, step := range d.Steps {
		line := fmt.Sprintf("  %-10s %s", step.Name, step.Outcome)
		if step.Error != nil {
			line += fmt.Sprintf("  (%s)", step.Error.Message)
		}
		fmt.Println(line)
	}
}
