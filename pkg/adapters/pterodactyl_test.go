package adapters

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/treestandk/wingman/pkg/deploy"
)

// fakePanel serves a small Pterodactyl application API: one node with a
// few allocations and one egg with variables.
func fakePanel(t *testing.T, onCreate func(body map[string]any) (int, any)) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/application/nodes/1/allocations", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"attributes": map[string]any{"id": 10, "ip": "0.0.0.0", "port": 25565, "assigned": true}},
				{"attributes": map[string]any{"id": 11, "ip": "0.0.0.0", "port": 25566, "assigned": false}},
				{"attributes": map[string]any{"id": 12, "ip": "0.0.0.0", "port": 25567, "assigned": false}},
			},
		})
	})
	mux.HandleFunc("/api/application/nests/5/eggs/3", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("include") != "variables" {
			t.Errorf("egg fetch missing include=variables")
		}
		json.NewEncoder(w).Encode(map[string]any{
			"attributes": map[string]any{
				"id":           3,
				"name":         "Vanilla Minecraft",
				"docker_image": "ghcr.io/pterodactyl/yolks:java_17",
				"startup":      "java -Xms128M -jar server.jar",
				"relationships": map[string]any{
					"variables": map[string]any{
						"data": []map[string]any{
							{"attributes": map[string]any{"env_variable": "SERVER_JARFILE", "default_value": "server.jar"}},
							{"attributes": map[string]any{"env_variable": "VANILLA_VERSION", "default_value": "latest"}},
						},
					},
				},
			},
		})
	})
	mux.HandleFunc("/api/application/servers", func(w http.ResponseWriter, r *http.Request) {
		if got := r.Header.Get("Authorization"); got != "Bearer app-key" {
			t.Errorf("auth header = %q", got)
		}
		var body map[string]any
		json.NewDecoder(r.Body).Decode(&body)
		status, resp := onCreate(body)
		w.WriteHeader(status)
		json.NewEncoder(w).Encode(resp)
	})
	return httptest.NewServer(mux)
}

func panelInput() deploy.StepInput {
	return deploy.StepInput{
		Subdomain:  "mc",
		GameType:   "minecraft",
		GamePort:   25566,
		MemoryMB:   4096,
		DiskMB:     10240,
		CPUPercent: 200,
		NestID:     5,
		EggID:      3,
		NodeID:     1,
	}
}

func TestPterodactylCreateLiteralPort(t *testing.T) {
	var gotBody map[string]any
	srv := fakePanel(t, func(body map[string]any) (int, any) {
		gotBody = body
		return http.StatusCreated, map[string]any{
			"attributes": map[string]any{"id": 77, "uuid": "aaaa-bbbb"},
		}
	})
	defer srv.Close()

	p := NewPterodactyl(PterodactylConfig{URL: srv.URL, APIKey: "app-key"}, zerolog.Nop())

	ref, err := p.Create(context.Background(), panelInput())
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if ref.ServerID != 77 || ref.ServerUUID != "aaaa-bbbb" {
		t.Errorf("ref = %+v", ref)
	}

	// Port 25566 matches the free allocation with id 11.
	alloc, _ := gotBody["allocation"].(map[string]any)
	if alloc["default"] != float64(11) {
		t.Errorf("allocation = %v, want 11", alloc)
	}
	if gotBody["docker_image"] != "ghcr.io/pterodactyl/yolks:java_17" {
		t.Errorf("docker_image = %v", gotBody["docker_image"])
	}
	env, _ := gotBody["environment"].(map[string]any)
	if env["SERVER_JARFILE"] != "server.jar" || env["VANILLA_VERSION"] != "latest" {
		t.Errorf("environment = %v", env)
	}
	limits, _ := gotBody["limits"].(map[string]any)
	if limits["memory"] != float64(4096) || limits["disk"] != float64(10240) || limits["cpu"] != float64(200) {
		t.Errorf("limits = %v", limits)
	}
}

func TestPterodactylCreateAutoAllocate(t *testing.T) {
	var gotBody map[string]any
	srv := fakePanel(t, func(body map[string]any) (int, any) {
		gotBody = body
		return http.StatusCreated, map[string]any{
			"attributes": map[string]any{"id": 78, "uuid": "cccc"},
		}
	})
	defer srv.Close()

	p := NewPterodactyl(PterodactylConfig{URL: srv.URL, APIKey: "app-key"}, zerolog.Nop())

	in := panelInput()
	in.AutoAllocate = true
	in.GamePort = 9999 // ignored when auto-allocating

	if _, err := p.Create(context.Background(), in); err != nil {
		t.Fatalf("Create: %v", err)
	}
	alloc, _ := gotBody["allocation"].(map[string]any)
	if alloc["default"] != float64(11) {
		t.Errorf("allocation = %v, want first free slot", alloc)
	}
}

func TestPterodactylCreateExplicitAllocation(t *testing.T) {
	var gotBody map[string]any
	srv := fakePanel(t, func(body map[string]any) (int, any) {
		gotBody = body
		return http.StatusCreated, map[string]any{
			"attributes": map[string]any{"id": 79, "uuid": "dddd"},
		}
	})
	defer srv.Close()

	p := NewPterodactyl(PterodactylConfig{URL: srv.URL, APIKey: "app-key"}, zerolog.Nop())

	in := panelInput()
	in.AllocationID = 12

	if _, err := p.Create(context.Background(), in); err != nil {
		t.Fatalf("Create: %v", err)
	}
	alloc, _ := gotBody["allocation"].(map[string]any)
	if alloc["default"] != float64(12) {
		t.Errorf("allocation = %v, want explicit 12", alloc)
	}
}

func TestPterodactylCreateNoFreeAllocation(t *testing.T) {
	srv := fakePanel(t, func(body map[string]any) (int, any) {
		t.Error("server creation should not be reached")
		return http.StatusCreated, nil
	})
	defer srv.Close()

	p := NewPterodactyl(PterodactylConfig{URL: srv.URL, APIKey: "app-key"}, zerolog.Nop())

	in := panelInput()
	in.GamePort = 25565 // only matches an assigned slot

	_, err := p.Create(context.Background(), in)
	if !deploy.IsRemoteRejected(err) {
		t.Fatalf("expected remote_rejected, got %v", err)
	}
}

func TestPterodactylDeleteMissingServerIsSuccess(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/application/servers/77", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewPterodactyl(PterodactylConfig{URL: srv.URL, APIKey: "app-key"}, zerolog.Nop())

	if err := p.Delete(context.Background(), deploy.ResourceRef{ServerID: 77}); err != nil {
		t.Fatalf("Delete of missing server should succeed, got %v", err)
	}
}

func TestPterodactylCatalogReads(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/application/nests", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"attributes": map[string]any{"id": 5, "name": "Minecraft"}},
			},
		})
	})
	mux.HandleFunc("/api/application/nests/5/eggs", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"data": []map[string]any{
				{"attributes": map[string]any{"id": 3, "name": "Vanilla Minecraft"}},
			},
		})
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewPterodactyl(PterodactylConfig{URL: srv.URL, APIKey: "app-key"}, zerolog.Nop())

	nests, err := p.Nests(context.Background())
	if err != nil {
		t.Fatalf("Nests: %v", err)
	}
	if len(nests) != 1 || nests[0].Name != "Minecraft" {
		t.Errorf("nests = %+v", nests)
	}

	eggs, err := p.Eggs(context.Background(), 5)
	if err != nil {
		t.Fatalf("Eggs: %v", err)
	}
	if len(eggs) != 1 || eggs[0].ID != 3 {
		t.Errorf("eggs = %+v", eggs)
	}
}

func TestPterodactylBadKey(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/application/nodes", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	p := NewPterodactyl(PterodactylConfig{URL: srv.URL, APIKey: "bad"}, zerolog.Nop())

	if err := p.TestConnectivity(context.Background()); !deploy.IsAuth(err) {
		t.Fatalf("expected auth error, got %v", err)
	}
}
