// File: internal/orchestrator/registry.go
package orchestrator

import (
	"sync"

	"github.com/ttsops/secflow/api/schemas"
)

// runState is the registry's per-run record: the run itself plus everything
// the stage handlers produce along the way. Access is serialized through mu;
// the worker goroutine and external Advance/Abort callers share it.
type runState struct {
	mu  sync.Mutex
	run *schemas.PipelineRun

	// cancel tears down the run's working context on abort.
	cancel func()

	// Abort flags live under their own lock so Abort never has to wait for
	// an in-flight stage holding mu.
	abortMu     sync.Mutex
	aborted     bool
	abortReason string

	// Stage products, filled as the run advances.
	codePath     string
	results      []schemas.ToolResult
	findings     []schemas.Finding
	summary      *schemas.SecuritySummary
	gateResult   *schemas.GateResult
	artifact     string
	deployRecord *schemas.DeploymentRecord
	deployErr    error
	reportPath   string

	// last caches the most recent stage outcome so Advance on a terminal or
	// already-advanced run is a no-op returning the cached value.
	last StageOutcome

	// done closes when the run reaches a terminal outcome.
	done chan struct{}
}

// requestAbort flags the run for abort. It reports false when the run is
// already terminal.
func (s *runState) requestAbort(reason string) bool {
	select {
	case <-s.done:
		return false
	default:
	}
	s.abortMu.Lock()
	s.aborted = true
	s.abortReason = reason
	s.abortMu.Unlock()
	s.cancel()
	return true
}

// abortRequested reports whether an abort is pending and its reason.
func (s *runState) abortRequested() (bool, string) {
	s.abortMu.Lock()
	defer s.abortMu.Unlock()
	return s.aborted, s.abortReason
}

// registry is the append-only in-memory run index. Runs are added on trigger
// and never removed; it is the authoritative record of in-flight state even
// when a persistent store is configured.
type registry struct {
	mu   sync.RWMutex
	runs map[string]*runState
	// order preserves insertion order for listing.
	order []string
}

func newRegistry() *registry {
	return &registry{runs: make(map[string]*runState)}
}

func (r *registry) add(state *runState) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.runs[state.run.ID] = state
	r.order = append(r.order, state.run.ID)
}

func (r *registry) get(runID string) (*runState, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	state, ok := r.runs[runID]
	return state, ok
}

// snapshot returns copies of all runs in trigger order.
func (r *registry) snapshot() []schemas.PipelineRun {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]schemas.PipelineRun, 0, len(r.order))
	for _, id := range r.order {
		state := r.runs[id]
		state.mu.Lock()
		out = append(out, *state.run)
		state.mu.Unlock()
	}
	return out
}
