package deploy

import (
	"context"
	"testing"
)

func TestTestAllReportsPerService(t *testing.T) {
	h := newHarness(t)

	results := h.orch.TestAll(context.Background())
	if len(results) != 4 {
		t.Fatalf("expected 4 probe results, got %d", len(results))
	}
	for name, res := range results {
		if !res.OK {
			t.Errorf("probe %s failed: %s", name, res.Error)
		}
	}
}

func TestTestAllIsolatesFailures(t *testing.T) {
	h := newHarness(t)
	h.orch.adapters[StepFirewall] = &probeFailAdapter{
		fakeAdapter: *h.firewall,
		probeErr:    NewUnreachableError("controller down", nil),
	}

	results := h.orch.TestAll(context.Background())
	if results[StepFirewall].OK {
		t.Error("firewall probe should fail")
	}
	if results[StepFirewall].Error == "" {
		t.Error("failed probe missing its error text")
	}
	for _, name := range []StepName{StepDNS, StepProxy, StepPanel} {
		if !results[name].OK {
			t.Errorf("probe %s must be unaffected, got %s", name, results[name].Error)
		}
	}
}

type probeFailAdapter struct {
	fakeAdapter
	probeErr error
}

func (p *probeFailAdapter) TestConnectivity(_ context.Context) error { return p.probeErr }
