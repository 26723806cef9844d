package deploy

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/treestandk/wingman/pkg/telemetry"
)

// RollbackOptions controls a compensating rollback.
type RollbackOptions struct {
	// DeletePanelServer opts in to deleting the hosting-panel server.
	// Deleting a live game server destroys in-progress game state, so by
	// default rollback leaves it in place and reports it as not
	// auto-removed.
	DeletePanelServer bool
}

// Orchestrator drives the fixed step sequence against the adapters,
// persisting the deployment after every transition. It is the single
// writer of deployment state; nothing else mutates a deployment's steps,
// cursor, or status.
type Orchestrator struct {
	store    Store
	adapters map[StepName]Adapter
	sink     EventSink
	validate *validator.Validate
	logger   zerolog.Logger
	metrics  *telemetry.Metrics
	tracer   *telemetry.Tracer

	// locks serializes operations per deployment id. Different
	// deployments proceed independently.
	mu    sync.Mutex
	locks map[string]*sync.Mutex
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithEventSink sets the step-event sink.
func WithEventSink(sink EventSink) Option {
	return func(o *Orchestrator) { o.sink = sink }
}

// WithLogger sets the structured logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *Orchestrator) { o.logger = logger }
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *telemetry.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// WithTracer sets the tracer for per-run and per-step spans.
func WithTracer(tracer *telemetry.Tracer) Option {
	return func(o *Orchestrator) { o.tracer = tracer }
}

// NewOrchestrator creates an orchestrator over the given store and
// adapters. The adapters map holds one entry per enabled service; optional
// steps whose service is not configured are omitted from every run.
func NewOrchestrator(store Store, adapters map[StepName]Adapter, opts ...Option) (*Orchestrator, error) {
	if store == nil {
		return nil, fmt.Errorf("store is required")
	}
	if adapters[StepDNS] == nil {
		return nil, fmt.Errorf("dns adapter is required")
	}
	if adapters[StepProxy] == nil {
		return nil, fmt.Errorf("proxy adapter is required")
	}

	o := &Orchestrator{
		store:    store,
		adapters: adapters,
		validate: validator.New(),
		logger:   zerolog.Nop(),
		locks:    make(map[string]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// lock returns the per-deployment mutex, creating it on first use.
func (o *Orchestrator) lock(id string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.locks[id]
	if !ok {
		l = &sync.Mutex{}
		o.locks[id] = l
	}
	return l
}

// applicableSteps returns the ordered step list for the given parameters.
// Optional steps (firewall, panel) appear only when their adapter is
// configured and the parameters do not exclude them.
func (o *Orchestrator) applicableSteps(p Parameters) []StepName {
	steps := make([]StepName, 0, len(stepOrder))
	for _, name := range stepOrder {
		if o.adapters[name] == nil {
			continue
		}
		if name == StepPanel && p.SkipPanel {
			continue
		}
		steps = append(steps, name)
	}
	return steps
}

// StartDeployment validates the parameters, performs the DNS conflict
// pre-check, persists a new deployment, and executes it to completion or
// first failure. Validation and conflict errors are returned before any
// deployment record exists.
func (o *Orchestrator) StartDeployment(ctx context.Context, params Parameters, fqdn string) (*Deployment, error) {
	if params.Protocol == "" {
		params.Protocol = ProtocolTCPUDP
	}
	if err := o.validate.Struct(params); err != nil {
		return nil, NewValidationError("invalid deployment parameters", err)
	}
	if fqdn == "" {
		return nil, NewValidationError("fqdn is required", nil)
	}

	// Conflict pre-check: a pre-existing address record aborts before a
	// run is created, unless the caller confirmed the overwrite.
	if !params.OverwriteDNS {
		if checker, ok := o.adapters[StepDNS].(DNSPrechecker); ok {
			recordID, err := checker.LookupRecord(ctx, fqdn)
			if err != nil {
				return nil, err
			}
			if recordID != "" {
				return nil, NewConflictError(
					fmt.Sprintf("dns record for %s already exists (id %s)", fqdn, recordID), nil,
				).WithService("cloudflare")
			}
		}
	}

	now := time.Now().UTC()
	d := &Deployment{
		ID:         uuid.New().String(),
		Parameters: params,
		FQDN:       fqdn,
		Status:     StatusPending,
		Cursor:     0,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for _, name := range o.applicableSteps(params) {
		d.Steps = append(d.Steps, StepRecord{Name: name, Outcome: StepPending})
	}

	if err := o.store.CreateDeployment(ctx, d); err != nil {
		return nil, fmt.Errorf("failed to create deployment: %w", err)
	}

	o.logger.Info().
		Str("deployment_id", d.ID).
		Str("fqdn", d.FQDN).
		Int("steps", len(d.Steps)).
		Msg("deployment created")
	o.metricsDeploymentStarted()

	return d, o.execute(ctx, d)
}

// ResumeDeployment re-enters the forward algorithm for a failed or
// interrupted deployment. Steps before the cursor are not re-executed and
// not re-validated: the persisted resource refs are trusted as proof of
// completion.
func (o *Orchestrator) ResumeDeployment(ctx context.Context, id string) (*Deployment, error) {
	l := o.lock(id)
	l.Lock()
	defer l.Unlock()

	d, err := o.store.GetDeployment(ctx, id)
	if err != nil {
		return nil, err
	}
	// A persisted in_progress status is the residue of a process crash
	// mid-run: the single writer is gone, so the run is safe to re-enter.
	switch d.Status {
	case StatusFailed, StatusInProgress:
	default:
		return nil, NewValidationError(
			fmt.Sprintf("deployment %s is %s, only failed or interrupted deployments can be resumed", id, d.Status), nil)
	}

	// Clear the prior failure on the step being retried, and demote a
	// step the crash left mid-flight. The adapter call may or may not
	// have reached the service; retrying from a clean pending outcome is
	// the conservative reading of a write that never landed.
	for i := range d.Steps {
		switch d.Steps[i].Outcome {
		case StepFailed, StepInProgress:
			d.Steps[i].Outcome = StepPending
			d.Steps[i].Error = nil
		}
	}

	o.logger.Info().Str("deployment_id", d.ID).Int("cursor", d.Cursor).Msg("resuming deployment")
	return d, o.execute(ctx, d)
}

// execute runs the forward algorithm from the deployment's cursor. The
// caller holds the per-deployment lock for resumes; StartDeployment owns a
// freshly created record.
func (o *Orchestrator) execute(ctx context.Context, d *Deployment) (err error) {
	if o.tracer != nil {
		var span trace.Span
		ctx, span = o.tracer.StartDeploymentSpan(ctx, d.ID)
		defer func() {
			telemetry.RecordError(span, err)
			span.End()
		}()
	}

	d.Status = StatusInProgress
	if err := o.save(ctx, d); err != nil {
		return err
	}

	for i := d.Cursor; i < len(d.Steps); i++ {
		// Cancellation is honored between steps only; an in-flight
		// remote call runs to completion or times out.
		if err := ctx.Err(); err != nil {
			cancel := NewCancelledError("deployment cancelled", err)
			d.Steps[i].Outcome = StepFailed
			d.Steps[i].Error = Detail(cancel)
			d.Status = StatusFailed
			if saveErr := o.save(ctx, d); saveErr != nil {
				return saveErr
			}
			o.emit(d.ID, d.Steps[i].Name, EventFailed, cancel.Error())
			return cancel
		}

		if err := o.executeStep(ctx, d, i); err != nil {
			d.Status = StatusFailed
			if saveErr := o.save(ctx, d); saveErr != nil {
				return saveErr
			}
			o.metricsDeploymentCompleted(string(StatusFailed), time.Since(d.CreatedAt))
			return err
		}
	}

	d.Status = StatusCompleted
	if err := o.save(ctx, d); err != nil {
		return err
	}
	o.logger.Info().Str("deployment_id", d.ID).Msg("deployment completed")
	o.metricsDeploymentCompleted(string(StatusCompleted), time.Since(d.CreatedAt))
	return nil
}

// executeStep runs one step: mark in_progress, persist, invoke the
// adapter, persist the outcome, emit the event. Event emission follows the
// durable write so an observer never sees a success that is not persisted.
func (o *Orchestrator) executeStep(ctx context.Context, d *Deployment, idx int) error {
	step := &d.Steps[idx]
	adapter := o.adapters[step.Name]
	log := telemetry.DeploymentLogger(o.logger, d.ID).With().Str("step", string(step.Name)).Logger()

	now := time.Now().UTC()
	step.Outcome = StepInProgress
	step.StartedAt = &now
	if err := o.save(ctx, d); err != nil {
		return err
	}
	o.emit(d.ID, step.Name, EventStarted, fmt.Sprintf("step %s started", step.Name))
	log.Info().Msg("step started")

	ctx, span := o.startSpan(ctx, "deploy.step",
		telemetry.AttrDeploymentID.String(d.ID),
		telemetry.AttrStep.String(string(step.Name)))

	start := time.Now()
	ref, err := adapter.Create(ctx, o.stepInput(d, step.Name))
	o.metricsAdapterCall(string(step.Name), "create", time.Since(start), err != nil)
	o.endSpan(span, err)

	done := time.Now().UTC()
	step.CompletedAt = &done

	if err != nil {
		step.Outcome = StepFailed
		step.Error = Detail(err)
		// A partially successful step (some firewall rules created)
		// keeps the refs it produced so rollback can reverse them.
		if !ref.IsZero() {
			r := ref
			step.Ref = &r
		}
		if saveErr := o.save(ctx, d); saveErr != nil {
			return saveErr
		}
		o.emit(d.ID, step.Name, EventFailed, fmt.Sprintf("step %s failed: %v", step.Name, err))
		log.Error().Err(err).Msg("step failed")
		return err
	}

	r := ref
	step.Ref = &r
	step.Outcome = StepDone
	step.Error = nil
	d.Cursor = idx + 1
	if err := o.save(ctx, d); err != nil {
		return err
	}
	o.emit(d.ID, step.Name, EventSucceeded, fmt.Sprintf("step %s succeeded", step.Name))
	log.Info().Dur("duration", time.Since(start)).Msg("step succeeded")
	return nil
}

// stepInput builds the adapter input for a step. The Warn callback routes
// non-fatal sub-warnings to the event sink.
func (o *Orchestrator) stepInput(d *Deployment, name StepName) StepInput {
	ports := make([]PortSpec, 0, 1+len(d.Parameters.AdditionalPorts))
	for _, p := range d.Parameters.Ports() {
		ports = append(ports, PortSpec{Port: p, Protocol: d.Parameters.Protocol})
	}
	return StepInput{
		DeploymentID: d.ID,
		FQDN:         d.FQDN,
		Subdomain:    d.Parameters.Subdomain,
		ServerIP:     d.Parameters.ServerIP,
		GamePort:     d.Parameters.GamePort,
		Ports:        ports,
		EnableSSL:    d.Parameters.EnableSSL,
		MemoryMB:     d.Parameters.MemoryMB,
		DiskMB:       d.Parameters.DiskMB,
		CPUPercent:   d.Parameters.CPUPercent,
		EggID:        d.Parameters.EggID,
		NestID:       d.Parameters.NestID,
		NodeID:       d.Parameters.NodeID,
		AllocationID: d.Parameters.AllocationID,
		AutoAllocate: d.Parameters.AutoAllocate,
		GameType:     d.Parameters.GameType,
		Warn: func(message string) {
			o.emit(d.ID, name, EventWarning, message)
			o.logger.Warn().
				Str("deployment_id", d.ID).
				Str("step", string(name)).
				Msg(message)
		},
	}
}

// RollbackDeployment walks the deployment's created resources in reverse
// order and deletes them. A single unreachable service does not block
// reversal of the others; surviving resources are reported for manual
// cleanup via the rollback_partial status. The hosting-panel server is
// deleted only when opts.DeletePanelServer is set.
func (o *Orchestrator) RollbackDeployment(ctx context.Context, id string, opts RollbackOptions) (*Deployment, error) {
	l := o.lock(id)
	l.Lock()
	defer l.Unlock()

	d, err := o.store.GetDeployment(ctx, id)
	if err != nil {
		return nil, err
	}
	switch d.Status {
	case StatusRolledBack:
		return nil, NewValidationError(fmt.Sprintf("deployment %s is already rolled back", id), nil)
	case StatusPending:
		return nil, NewValidationError(fmt.Sprintf("deployment %s has not created any resources", id), nil)
	}

	log := telemetry.DeploymentLogger(o.logger, d.ID)
	log.Info().Bool("delete_panel_server", opts.DeletePanelServer).Msg("rollback started")

	panelSkipped := false

	// Reverse walk. Steps with a resource ref are reversible whether
	// they completed (done), partially completed before failing
	// (failed with refs), or failed a prior rollback attempt.
	for i := len(d.Steps) - 1; i >= 0; i-- {
		step := &d.Steps[i]
		if step.Ref == nil || step.Ref.IsZero() {
			continue
		}
		switch step.Outcome {
		case StepDone, StepFailed, StepRollbackFailed:
		default:
			continue
		}

		if step.Name == StepPanel && !opts.DeletePanelServer {
			panelSkipped = true
			o.emit(d.ID, step.Name, EventWarning,
				fmt.Sprintf("panel server %s not auto-removed; re-run rollback with panel deletion enabled or remove it manually", step.Ref.ServerUUID))
			continue
		}

		o.emit(d.ID, step.Name, EventStarted, fmt.Sprintf("rolling back step %s", step.Name))

		start := time.Now()
		delErr := o.adapters[step.Name].Delete(ctx, *step.Ref)
		o.metricsAdapterCall(string(step.Name), "delete", time.Since(start), delErr != nil && !IsNotFound(delErr))

		if delErr != nil && !IsNotFound(delErr) {
			step.Outcome = StepRollbackFailed
			step.Error = Detail(delErr)
			if saveErr := o.save(ctx, d); saveErr != nil {
				return d, saveErr
			}
			o.emit(d.ID, step.Name, EventFailed, fmt.Sprintf("rollback of step %s failed: %v", step.Name, delErr))
			log.Error().Err(delErr).Str("step", string(step.Name)).Msg("rollback step failed")
			continue
		}

		step.Outcome = StepRolledBack
		step.Error = nil
		if saveErr := o.save(ctx, d); saveErr != nil {
			return d, saveErr
		}
		o.emit(d.ID, step.Name, EventSucceeded, fmt.Sprintf("step %s rolled back", step.Name))
		log.Info().Str("step", string(step.Name)).Msg("rollback step succeeded")
	}

	// The run is fully reversed only when every reversible step reports
	// rolled_back and nothing was deliberately left in place.
	fullyReversed := !panelSkipped
	for i := range d.Steps {
		if d.Steps[i].Outcome == StepRollbackFailed {
			fullyReversed = false
		}
	}

	if fullyReversed {
		d.Status = StatusRolledBack
		d.Cursor = 0
	} else {
		d.Status = StatusRollbackPartial
	}
	if err := o.save(ctx, d); err != nil {
		return d, err
	}
	o.metricsRollback(string(d.Status))
	log.Info().Str("status", string(d.Status)).Msg("rollback finished")
	return d, nil
}

// GetDeployment returns the deployment by id.
func (o *Orchestrator) GetDeployment(ctx context.Context, id string) (*Deployment, error) {
	return o.store.GetDeployment(ctx, id)
}

// ListDeployments returns all deployments, newest first.
func (o *Orchestrator) ListDeployments(ctx context.Context) ([]*Deployment, error) {
	return o.store.ListDeployments(ctx)
}

// DeleteDeployment removes a terminal deployment record. Deployments that
// still track remote resources are never garbage-collected implicitly.
func (o *Orchestrator) DeleteDeployment(ctx context.Context, id string) error {
	d, err := o.store.GetDeployment(ctx, id)
	if err != nil {
		return err
	}
	if !d.Status.IsTerminal() {
		return NewValidationError(
			fmt.Sprintf("deployment %s is %s; only completed or rolled_back deployments can be deleted", id, d.Status), nil)
	}
	return o.store.DeleteDeployment(ctx, id)
}

func (o *Orchestrator) save(ctx context.Context, d *Deployment) error {
	d.UpdatedAt = time.Now().UTC()
	// State writes must land even when the step's context was cancelled
	// or timed out; losing the write would orphan the created resources.
	ctx = context.WithoutCancel(ctx)
	if err := o.store.SaveDeployment(ctx, d); err != nil {
		return fmt.Errorf("failed to persist deployment %s: %w", d.ID, err)
	}
	return nil
}

func (o *Orchestrator) emit(id string, step StepName, kind EventKind, message string) {
	if o.sink == nil {
		return
	}
	o.sink.Emit(id, step, kind, message)
}

func (o *Orchestrator) startSpan(ctx context.Context, name string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	if o.tracer == nil {
		return ctx, nil
	}
	return o.tracer.Start(ctx, name, trace.WithAttributes(attrs...))
}

func (o *Orchestrator) endSpan(span trace.Span, err error) {
	if span == nil {
		return
	}
	if detail := Detail(err); detail != nil {
		span.SetAttributes(
			telemetry.AttrService.String(detail.Service),
			telemetry.AttrErrorKind.String(string(detail.Kind)))
	}
	telemetry.RecordError(span, err)
	span.End()
}

func (o *Orchestrator) metricsDeploymentStarted() {
	if o.metrics != nil {
		o.metrics.DeploymentStarted()
	}
}

func (o *Orchestrator) metricsDeploymentCompleted(status string, dur time.Duration) {
	if o.metrics != nil {
		o.metrics.DeploymentCompleted(status, dur)
	}
}

func (o *Orchestrator) metricsAdapterCall(service, op string, dur time.Duration, failed bool) {
	if o.metrics != nil {
		o.metrics.AdapterCall(service, op, dur, failed)
	}
}

func (o *Orchestrator) metricsRollback(status string) {
	if o.metrics != nil {
		o.metrics.RollbackCompleted(status)
	}
}
