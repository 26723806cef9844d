package deploy

import (
	"context"
	"sync"
	"time"
)

// ProbeResult is the outcome of one connectivity probe.
type ProbeResult struct {
	// OK reports whether the probe succeeded.
	OK bool `json:"ok"`

	// Error is the failure detail when OK is false.
	Error string `json:"error,omitempty"`

	// Duration is the probe round-trip time.
	Duration time.Duration `json:"duration"`
}

// TestAll probes every configured adapter concurrently and returns one
// result per step. Probes are read-only and share each adapter's
// authentication logic; they are not part of the saga itself.
func (o *Orchestrator) TestAll(ctx context.Context) map[StepName]ProbeResult {
	results := make(map[StepName]ProbeResult, len(o.adapters))

	var mu sync.Mutex
	var wg sync.WaitGroup
	for name, adapter := range o.adapters {
		wg.Add(1)
		go func(name StepName, adapter Adapter) {
			defer wg.Done()
			start := time.Now()
			err := adapter.TestConnectivity(ctx)
			res := ProbeResult{OK: err == nil, Duration: time.Since(start)}
			if err != nil {
				res.Error = err.Error()
			}
			mu.Lock()
			results[name] = res
			mu.Unlock()
		}(name, adapter)
	}
	wg.Wait()
	return results
}
