package runtime

import (
	"context"

	"github.com/stagehand-sh/stagehand/internal/stack"
)

// Health is the liveness signal reported for a unit.
type Health string

const (
	Healthy   Health = "healthy"
	Unhealthy Health = "unhealthy"
	Unknown   Health = "unknown"
)

// UnitState describes one running unit at inspection time.
type UnitState struct {
	Name        string `json:"name"`
	ImageRef    string `json:"image_ref"`
	ContainerID string `json:"container_id"`
}

// Runtime is the container runtime surface the orchestrator depends on.
// The Docker client implements it in production; tests substitute fakes.
type Runtime interface {
	// Stop stops a unit's containers. A unit with no running containers
	// is a success, not an error.
	Stop(ctx context.Context, unit string) error
	// Remove removes a unit's containers, running or not.
	Remove(ctx context.Context, unit string) error
	// Pull fetches the image for the given reference.
	Pull(ctx context.Context, imageRef string) error
	// Start creates and starts containers for every unit of the
	// descriptor at the given tag.
	Start(ctx context.Context, desc stack.Descriptor, tag string) error
	// InspectHealth reports the unit's current liveness signal.
	InspectHealth(ctx context.Context, unit string) (Health, error)
	// Inventory lists the currently running units.
	Inventory(ctx context.Context) ([]UnitState, error)
}
