package commands

import (
	"context"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const watchConfigYAML = `
domain: example.com
database:
  path: /tmp/wingman.db
cloudflare:
  api_token: cf-token
  zone_id: zone-1
proxy:
  api_url: http://npm:81/api
  email: admin@example.com
  password: npm-pw
`

func TestProbeOnReloadRerunsProbe(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(watchConfigYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var probes atomic.Int32
	done := make(chan error, 1)
	go func() {
		done <- probeOnReload(ctx, path, zerolog.Nop(), func() error {
			probes.Add(1)
			return nil
		})
	}()

	// Give the watcher a moment to establish before rewriting the file.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(path, []byte(watchConfigYAML), 0o600); err != nil {
		t.Fatalf("rewrite config: %v", err)
	}

	deadline := time.After(5 * time.Second)
	for probes.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("probe not re-run after config change")
		case <-time.After(10 * time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("probeOnReload: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("probeOnReload did not stop on context cancel")
	}
}

func TestProbeOnReloadKeepsWatchingAfterProbeFailure(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(watchConfigYAML), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var probes atomic.Int32
	go func() {
		_ = probeOnReload(ctx, path, zerolog.Nop(), func() error {
			probes.Add(1)
			return context.DeadlineExceeded
		})
	}()

	time.Sleep(100 * time.Millisecond)
	for i := 0; i < 2; i++ {
		if err := os.WriteFile(path, []byte(watchConfigYAML), 0o600); err != nil {
			t.Fatalf("rewrite config: %v", err)
		}
		deadline := time.After(5 * time.Second)
		for probes.Load() <= int32(i) {
			select {
			case <-deadline:
				t.Fatalf("probe %d not re-run after config change", i+1)
			case <-time.After(10 * time.Millisecond):
			}
		}
	}
}
