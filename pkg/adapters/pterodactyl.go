package adapters

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/treestandk/wingman/pkg/deploy"
)

const pteroService = "pterodactyl"

// PterodactylConfig configures the hosting-panel adapter.
type PterodactylConfig struct {
	// URL is the panel base URL, including scheme.
	URL string

	// APIKey is an application API key (not a client key) with nodes,
	// eggs, and servers permissions.
	APIKey string

	// OwnerID is the panel user id that owns created servers.
	OwnerID int

	// Timeout bounds each remote call. Server creation can be slow while
	// the panel pulls images, so this defaults higher than the other
	// adapters.
	Timeout time.Duration
}

// Pterodactyl creates and deletes game servers through the panel's
// application API, and exposes the catalog reads (nests, eggs, nodes,
// allocations) the deploy form needs.
type Pterodactyl struct {
	cfg    PterodactylConfig
	client *http.Client
	logger zerolog.Logger
}

// NewPterodactyl creates the hosting-panel adapter.
func NewPterodactyl(cfg PterodactylConfig, logger zerolog.Logger) *Pterodactyl {
	if cfg.Timeout == 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.OwnerID == 0 {
		cfg.OwnerID = 1
	}
	return &Pterodactyl{
		cfg:    cfg,
		client: &http.Client{Timeout: cfg.Timeout},
		logger: logger.With().Str("adapter", pteroService).Logger(),
	}
}

func (p *Pterodactyl) headers() map[string]string {
	return map[string]string{
		"Authorization": "Bearer " + p.cfg.APIKey,
		"Accept":        "application/vnd.pterodactyl.v1+json",
	}
}

// listResponse is the panel's paginated list wrapper.
type listResponse[T any] struct {
	Data []struct {
		Attributes T `json:"attributes"`
	} `json:"data"`
}

// Nest is a panel egg category.
type Nest struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	Description string `json:"description"`
}

// Egg is a server template within a nest.
type Egg struct {
	ID          int    `json:"id"`
	Name        string `json:"name"`
	DockerImage string `json:"docker_image"`
	Startup     string `json:"startup"`
}

// Node is a panel compute node.
type Node struct {
	ID     int    `json:"id"`
	Name   string `json:"name"`
	FQDN   string `json:"fqdn"`
	Memory int    `json:"memory"`
	Disk   int    `json:"disk"`
}

// Allocation is an ip:port slot on a node.
type Allocation struct {
	ID       int    `json:"id"`
	IP       string `json:"ip"`
	Port     int    `json:"port"`
	Assigned bool   `json:"assigned"`
}

func pteroList[T any](ctx context.Context, p *Pterodactyl, op, path string) ([]T, error) {
	var resp listResponse[T]
	status, raw, err := doJSON(ctx, p.client, http.MethodGet, p.cfg.URL+path, p.headers(), nil, &resp)
	if err != nil {
		return nil, transportError(pteroService, op, err)
	}
	if status < 200 || status >= 300 {
		return nil, statusError(pteroService, op, status, trim(raw))
	}
	out := make([]T, 0, len(resp.Data))
	for _, item := range resp.Data {
		out = append(out, item.Attributes)
	}
	return out, nil
}

// Nests lists the panel's nests.
func (p *Pterodactyl) Nests(ctx context.Context) ([]Nest, error) {
	return pteroList[Nest](ctx, p, "list_nests", "/api/application/nests")
}

// Eggs lists the eggs within a nest.
func (p *Pterodactyl) Eggs(ctx context.Context, nestID int) ([]Egg, error) {
	return pteroList[Egg](ctx, p, "list_eggs", fmt.Sprintf("/api/application/nests/%d/eggs", nestID))
}

// Nodes lists the panel's nodes.
func (p *Pterodactyl) Nodes(ctx context.Context) ([]Node, error) {
	return pteroList[Node](ctx, p, "list_nodes", "/api/application/nodes")
}

// Allocations lists the ip:port slots on a node.
func (p *Pterodactyl) Allocations(ctx context.Context, nodeID int) ([]Allocation, error) {
	return pteroList[Allocation](ctx, p, "list_allocations", fmt.Sprintf("/api/application/nodes/%d/allocations", nodeID))
}

// egg fetches one egg with its variable defaults, needed to build the
// server-creation payload.
func (p *Pterodactyl) egg(ctx context.Context, nestID, eggID int) (Egg, map[string]string, error) {
	var resp struct {
		Attributes struct {
			Egg
			Relationships struct {
				Variables struct {
					Data []struct {
						Attributes struct {
							EnvVariable  string `json:"env_variable"`
							DefaultValue string `json:"default_value"`
						} `json:"attributes"`
					} `json:"data"`
				} `json:"variables"`
			} `json:"relationships"`
		} `json:"attributes"`
	}

	path := fmt.Sprintf("%s/api/application/nests/%d/eggs/%d?include=variables", p.cfg.URL, nestID, eggID)
	status, raw, err := doJSON(ctx, p.client, http.MethodGet, path, p.headers(), nil, &resp)
	if err != nil {
		return Egg{}, nil, transportError(pteroService, "get_egg", err)
	}
	if status < 200 || status >= 300 {
		return Egg{}, nil, statusError(pteroService, "get_egg", status, trim(raw))
	}

	env := make(map[string]string)
	for _, v := range resp.Attributes.Relationships.Variables.Data {
		env[v.Attributes.EnvVariable] = v.Attributes.DefaultValue
	}
	return resp.Attributes.Egg, env, nil
}

// pickAllocation resolves the allocation for the new server: the caller's
// explicit allocation id, the first free slot on the node when
// auto-allocating, or the free slot matching the literal game port.
func (p *Pterodactyl) pickAllocation(ctx context.Context, in deploy.StepInput) (int, error) {
	if in.AllocationID != 0 {
		return in.AllocationID, nil
	}

	allocations, err := p.Allocations(ctx, in.NodeID)
	if err != nil {
		return 0, err
	}

	if in.AutoAllocate {
		for _, a := range allocations {
			if !a.Assigned {
				return a.ID, nil
			}
		}
		return 0, deploy.NewRemoteRejectedError(
			fmt.Sprintf("node %d has no free allocations", in.NodeID), nil).
			WithService(pteroService).WithOp("pick_allocation")
	}

	for _, a := range allocations {
		if !a.Assigned && a.Port == in.GamePort {
			return a.ID, nil
		}
	}
	return 0, deploy.NewRemoteRejectedError(
		fmt.Sprintf("node %d has no free allocation for port %d", in.NodeID, in.GamePort), nil).
		WithService(pteroService).WithOp("pick_allocation")
}

// Create provisions a game server with the selected egg, sizing, and
// allocation.
func (p *Pterodactyl) Create(ctx context.Context, in deploy.StepInput) (deploy.ResourceRef, error) {
	egg, env, err := p.egg(ctx, in.NestID, in.EggID)
	if err != nil {
		return deploy.ResourceRef{}, err
	}

	allocationID, err := p.pickAllocation(ctx, in)
	if err != nil {
		return deploy.ResourceRef{}, err
	}

	name := in.Subdomain
	if in.GameType != "" {
		name = fmt.Sprintf("%s (%s)", in.Subdomain, in.GameType)
	}

	body := map[string]any{
		"name":         name,
		"user":         p.cfg.OwnerID,
		"egg":          in.EggID,
		"docker_image": egg.DockerImage,
		"startup":      egg.Startup,
		"environment":  env,
		"limits": map[string]any{
			"memory": in.MemoryMB,
			"swap":   0,
			"disk":   in.DiskMB,
			"io":     500,
			"cpu":    in.CPUPercent,
		},
		"feature_limits": map[string]any{
			"databases":   0,
			"backups":     1,
			"allocations": 1,
		},
		"allocation": map[string]any{
			"default": allocationID,
		},
	}

	var created struct {
		Attributes struct {
			ID   int    `json:"id"`
			UUID string `json:"uuid"`
		} `json:"attributes"`
	}
	status, raw, err := doJSON(ctx, p.client, http.MethodPost, p.cfg.URL+"/api/application/servers", p.headers(), body, &created)
	if err != nil {
		return deploy.ResourceRef{}, transportError(pteroService, "create_server", err)
	}
	if status < 200 || status >= 300 || created.Attributes.ID == 0 {
		return deploy.ResourceRef{}, statusError(pteroService, "create_server", status, trim(raw))
	}

	p.logger.Info().
		Int("server_id", created.Attributes.ID).
		Str("server_uuid", created.Attributes.UUID).
		Int("allocation_id", allocationID).
		Msg("panel server created")
	return deploy.ResourceRef{ServerID: created.Attributes.ID, ServerUUID: created.Attributes.UUID}, nil
}

// Delete removes the panel server. This destroys the server's files and
// is only invoked when the operator opted in to panel deletion during
// rollback. A server already gone is success.
func (p *Pterodactyl) Delete(ctx context.Context, ref deploy.ResourceRef) error {
	if ref.ServerID == 0 {
		return nil
	}
	endpoint := fmt.Sprintf("%s/api/application/servers/%d", p.cfg.URL, ref.ServerID)
	status, raw, err := doJSON(ctx, p.client, http.MethodDelete, endpoint, p.headers(), nil, nil)
	if err != nil {
		return transportError(pteroService, "delete_server", err)
	}
	if status == http.StatusNotFound {
		p.logger.Debug().Int("server_id", ref.ServerID).Msg("panel server already gone")
		return nil
	}
	if status < 200 || status >= 300 {
		return statusError(pteroService, "delete_server", status, trim(raw))
	}
	p.logger.Info().Int("server_id", ref.ServerID).Msg("panel server deleted")
	return nil
}

// TestConnectivity lists nodes, which exercises the application API key.
func (p *Pterodactyl) TestConnectivity(ctx context.Context) error {
	_, err := p.Nodes(ctx)
	return err
}
