package deploy

import (
	"context"
	"time"
)

// Status represents the lifecycle status of a deployment.
type Status string

const (
	// StatusPending indicates the deployment is accepted but not started.
	StatusPending Status = "pending"

	// StatusInProgress indicates steps are executing.
	StatusInProgress Status = "in_progress"

	// StatusCompleted indicates every applicable step finished. Terminal.
	StatusCompleted Status = "completed"

	// StatusFailed indicates a step failed and execution stopped. The
	// deployment remains resumable.
	StatusFailed Status = "failed"

	// StatusRolledBack indicates every created resource was reversed.
	// Terminal.
	StatusRolledBack Status = "rolled_back"

	// StatusRollbackPartial indicates at least one resource could not be
	// reversed and requires manual cleanup. Rollback may be re-attempted.
	StatusRollbackPartial Status = "rollback_partial"
)

// IsTerminal reports whether the status admits no further mutation.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusRolledBack
}

// StepOutcome represents the per-step execution outcome.
type StepOutcome string

const (
	StepPending        StepOutcome = "pending"
	StepInProgress     StepOutcome = "in_progress"
	StepDone           StepOutcome = "done"
	StepFailed         StepOutcome = "failed"
	StepRolledBack     StepOutcome = "rolled_back"
	StepRollbackFailed StepOutcome = "rollback_failed"
)

// StepName identifies a step in the fixed provisioning sequence.
type StepName string

const (
	// StepDNS creates the address record for the subdomain.
	StepDNS StepName = "dns"

	// StepFirewall creates one port-forward rule per requested port.
	StepFirewall StepName = "firewall"

	// StepProxy creates the reverse-proxy host and, optionally, its
	// certificate.
	StepProxy StepName = "proxy"

	// StepPanel creates the game server on the hosting panel.
	StepPanel StepName = "panel"
)

// stepOrder is the fixed forward sequence. Later steps reference the
// domain and ports the earlier steps establish; rollback is the exact
// mirror. The order is a design invariant, not configurable per run.
var stepOrder = []StepName{StepDNS, StepFirewall, StepProxy, StepPanel}

// Protocol selects the transport protocol(s) for forwarded ports.
type Protocol string

const (
	ProtocolTCP    Protocol = "tcp"
	ProtocolUDP    Protocol = "udp"
	ProtocolTCPUDP Protocol = "tcp_udp"
)

// Parameters is the validated input for one deployment.
type Parameters struct {
	// Subdomain is the label prepended to the configured base domain.
	Subdomain string `json:"subdomain" validate:"required,hostname_rfc1123,max=63"`

	// ServerIP is the internal address the game server listens on.
	ServerIP string `json:"server_ip" validate:"required,ip"`

	// GamePort is the primary game port.
	GamePort int `json:"game_port" validate:"required,min=1,max=65535"`

	// AdditionalPorts are extra ports forwarded alongside the game port
	// (query ports, voice, RCON).
	AdditionalPorts []int `json:"additional_ports,omitempty" validate:"dive,min=1,max=65535"`

	// Protocol applies to every forwarded port.
	Protocol Protocol `json:"protocol" validate:"omitempty,oneof=tcp udp tcp_udp"`

	// GameType is a free-form label ("minecraft", "valheim", ...).
	GameType string `json:"game_type,omitempty"`

	// EnableSSL requests a certificate for the proxy host. Certificate
	// failure is a warning, never a step failure.
	EnableSSL bool `json:"enable_ssl"`

	// MemoryMB and DiskMB size the panel server.
	MemoryMB int `json:"memory_mb" validate:"omitempty,min=128"`
	DiskMB   int `json:"disk_mb" validate:"omitempty,min=256"`

	// CPUPercent limits the panel server CPU (100 = one core, 0 = unlimited).
	CPUPercent int `json:"cpu_percent" validate:"omitempty,min=0"`

	// EggID, NestID and NodeID select the panel egg and placement.
	EggID  int `json:"egg_id,omitempty"`
	NestID int `json:"nest_id,omitempty"`
	NodeID int `json:"node_id,omitempty"`

	// AllocationID pins the panel server to an existing allocation.
	// When zero and AutoAllocate is false, GamePort is used as a literal
	// port on the selected node.
	AllocationID int `json:"allocation_id,omitempty"`

	// AutoAllocate lets the panel choose an allocation from its pool.
	AutoAllocate bool `json:"auto_allocate,omitempty"`

	// SkipPanel omits the hosting-panel step entirely.
	SkipPanel bool `json:"skip_panel,omitempty"`

	// OverwriteDNS confirms replacement of a conflicting DNS record.
	// Without it a pre-existing record aborts before a run is created.
	OverwriteDNS bool `json:"overwrite_dns,omitempty"`
}

// Ports returns the primary port followed by the additional ports.
func (p Parameters) Ports() []int {
	ports := make([]int, 0, 1+len(p.AdditionalPorts))
	ports = append(ports, p.GamePort)
	ports = append(ports, p.AdditionalPorts...)
	return ports
}

// ResourceRef holds the provider-opaque identifiers a completed step
// produced. Exactly the fields for the step's service are populated.
type ResourceRef struct {
	// RecordID is the DNS provider's record id.
	RecordID string `json:"record_id,omitempty"`

	// RuleIDs are the firewall rule ids created so far. A step that
	// failed partway keeps the ids of the rules it did create, so a
	// rollback can reverse them individually.
	RuleIDs []string `json:"rule_ids,omitempty"`

	// ProxyHostID is the reverse-proxy host id.
	ProxyHostID int `json:"proxy_host_id,omitempty"`

	// CertificateID is set when certificate issuance succeeded.
	CertificateID int `json:"certificate_id,omitempty"`

	// ServerID and ServerUUID identify the panel server.
	ServerID   int    `json:"server_id,omitempty"`
	ServerUUID string `json:"server_uuid,omitempty"`
}

// IsZero reports whether the ref carries no identifiers at all.
func (r ResourceRef) IsZero() bool {
	return r.RecordID == "" && len(r.RuleIDs) == 0 && r.ProxyHostID == 0 &&
		r.CertificateID == 0 && r.ServerID == 0 && r.ServerUUID == ""
}

// ErrorDetail is the structured failure captured on a step record.
type ErrorDetail struct {
	Service string    `json:"service,omitempty"`
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

// StepRecord tracks one step of a deployment.
type StepRecord struct {
	// Name identifies the step.
	Name StepName `json:"name"`

	// Outcome is the step's current outcome.
	Outcome StepOutcome `json:"outcome"`

	// Ref holds the identifiers the step produced. It is set when the
	// step completed, and may also be set on a failed firewall step that
	// created some of its rules before failing.
	Ref *ResourceRef `json:"ref,omitempty"`

	// Error is the failure detail for a failed step or delete.
	Error *ErrorDetail `json:"error,omitempty"`

	// StartedAt and CompletedAt bound the step's forward execution.
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
}

// Deployment is a single provisioning run.
type Deployment struct {
	// ID is assigned at creation and immutable.
	ID string `json:"id"`

	// Parameters is the validated input the run was created with.
	Parameters Parameters `json:"parameters"`

	// FQDN is the full domain computed at creation
	// (subdomain + configured base domain).
	FQDN string `json:"fqdn"`

	// Status is the run lifecycle status.
	Status Status `json:"status"`

	// Cursor is the index of the last successfully completed step
	// (0 = none completed). Never decreases except by a fully successful
	// rollback, which resets it to 0.
	Cursor int `json:"cursor"`

	// Steps is the ordered list of applicable steps for this run.
	// Inapplicable optional steps are omitted entirely, not marked.
	Steps []StepRecord `json:"steps"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Step returns the record for the named step, or nil when the step is not
// applicable to this deployment.
func (d *Deployment) Step(name StepName) *StepRecord {
	for i := range d.Steps {
		if d.Steps[i].Name == name {
			return &d.Steps[i]
		}
	}
	return nil
}

// PortSpec is one port to forward, with its protocol.
type PortSpec struct {
	Port     int      `json:"port"`
	Protocol Protocol `json:"protocol"`
}

// StepInput is the pre-validated input handed to an adapter's Create.
type StepInput struct {
	// DeploymentID identifies the run, for adapter-side logging.
	DeploymentID string

	// FQDN is the full public domain for the deployment.
	FQDN string

	// Subdomain is the bare label.
	Subdomain string

	// ServerIP is the internal target address.
	ServerIP string

	// GamePort is the primary port; Ports covers every forwarded port.
	GamePort int
	Ports    []PortSpec

	// EnableSSL requests certificate issuance on the proxy step.
	EnableSSL bool

	// Panel sizing and placement.
	MemoryMB     int
	DiskMB       int
	CPUPercent   int
	EggID        int
	NestID       int
	NodeID       int
	AllocationID int
	AutoAllocate bool

	// GameType labels the panel server.
	GameType string

	// Warn reports a non-fatal sub-problem (e.g. certificate issuance
	// failed while the proxy host was created). Never nil.
	Warn func(message string)
}

// Adapter is the contract each external service integration satisfies.
// Inputs are pre-validated by the orchestrator; the adapter is responsible
// only for the remote call and for mapping the response into a typed
// outcome. Adapters keep no state across calls beyond one authenticated
// session.
type Adapter interface {
	// Create provisions the service's resource(s) for the step. On
	// failure the returned ref may still carry identifiers for resources
	// created before the failure; the orchestrator persists them so they
	// remain reversible.
	Create(ctx context.Context, in StepInput) (ResourceRef, error)

	// Delete reverses a previously created resource. A reference that is
	// already gone remotely is success, not failure.
	Delete(ctx context.Context, ref ResourceRef) error

	// TestConnectivity is a lightweight read-only probe sharing the
	// adapter's authentication logic.
	TestConnectivity(ctx context.Context) error
}

// DNSPrechecker is implemented by the DNS adapter to detect a conflicting
// record before any run is created.
type DNSPrechecker interface {
	// LookupRecord returns the id of an existing address record for the
	// fqdn, or "" when none exists.
	LookupRecord(ctx context.Context, fqdn string) (string, error)
}

// EventKind classifies a step-level notification.
type EventKind string

const (
	EventStarted   EventKind = "started"
	EventSucceeded EventKind = "succeeded"
	EventFailed    EventKind = "failed"
	EventWarning   EventKind = "warning"
)

// EventSink receives step-level notifications. Implementations must not
// block or fail the orchestrator; delivery is fire-and-forget.
type EventSink interface {
	Emit(deploymentID string, step StepName, kind EventKind, message string)
}

// Store is the durable record of deployments, keyed by id. Save must be
// atomic from the caller's perspective and is invoked after every single
// step transition; that is what makes resume possible after a crash.
type Store interface {
	CreateDeployment(ctx context.Context, d *Deployment) error
	SaveDeployment(ctx context.Context, d *Deployment) error
	GetDeployment(ctx context.Context, id string) (*Deployment, error)
	ListDeployments(ctx context.Context) ([]*Deployment, error)
	DeleteDeployment(ctx context.Context, id string) error
}
