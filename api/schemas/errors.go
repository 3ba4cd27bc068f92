package schemas

import (
	"errors"
)

// -- Error Taxonomy --
// Failures are resolved at the lowest component capable of a meaningful
// decision; only failures that change a run's terminal outcome surface to
// the orchestrator.

var (
	// ErrRunNotFound is returned when a run ID does not exist in the registry.
	ErrRunNotFound = errors.New("pipeline run not found")

	// ErrRunTerminal is returned when an operation targets a run that has
	// already reached a terminal outcome.
	ErrRunTerminal = errors.New("pipeline run already terminal")

	// ErrUnknownComponent is returned for a trigger naming a component type
	// the pipeline is not configured for.
	ErrUnknownComponent = errors.New("unknown component type")

	// ErrBuildFailed marks a build failure. It is fatal to the run; the
	// deployment manager is never invoked after it.
	ErrBuildFailed = errors.New("artifact build failed")

	// ErrRollbackFailed marks the most severe deployment failure: the
	// forward deployment failed and the compensating rollback also failed,
	// leaving the target environment in an unknown state.
	ErrRollbackFailed = errors.New("deployment rollback failed")
)
