package executor

import (
	"context"
	"fmt"

	"github.com/stagehand-sh/stagehand/internal/logging"
	"github.com/stagehand-sh/stagehand/internal/runtime"
	"github.com/stagehand-sh/stagehand/internal/stack"
)

// TeardownError means the old stack could not be stopped or removed.
type TeardownError struct {
	Unit  string
	Cause error
}

func (e *TeardownError) Error() string {
	return fmt.Sprintf("teardown failed for unit %s: %v", e.Unit, e.Cause)
}

func (e *TeardownError) Unwrap() error { return e.Cause }

// PullError means an image for the target tag could not be fetched.
// A single pull failure fails the whole step; partial image sets are
// never started.
type PullError struct {
	Image string
	Cause error
}

func (e *PullError) Error() string {
	return fmt.Sprintf("pull failed for image %s: %v", e.Image, e.Cause)
}

func (e *PullError) Unwrap() error { return e.Cause }

// StartError means the new stack could not be started.
type StartError struct {
	Cause error
}

func (e *StartError) Error() string {
	return fmt.Sprintf("start failed: %v", e.Cause)
}

func (e *StartError) Unwrap() error { return e.Cause }

// Executor replaces the running stack with the target tag: stop and
// remove the old units, pull every target image, then start the new
// units together. It mutates the live unit set and reports failures with
// enough type information for the rollback path to log root cause.
type Executor struct {
	rt       runtime.Runtime
	registry string
}

func New(rt runtime.Runtime, registry string) *Executor {
	return &Executor{rt: rt, registry: registry}
}

// Deploy runs the stop-then-start cutover for the descriptor at the
// given tag. Units already stopped count as stopped.
func (e *Executor) Deploy(ctx context.Context, desc stack.Descriptor, tag string) error {
	logger := logging.Ctx(ctx)

	logger.Info().Str("tag", tag).Msg("Tearing down running stack")
	for _, unit := range desc.Units {
		if err := e.rt.Stop(ctx, unit.Name); err != nil {
			return &TeardownError{Unit: unit.Name, Cause: err}
		}
		if err := e.rt.Remove(ctx, unit.Name); err != nil {
			return &TeardownError{Unit: unit.Name, Cause: err}
		}
	}

	logger.Info().Str("tag", tag).Int("units", len(desc.Units)).Msg("Pulling target images")
	for _, unit := range desc.Units {
		imageRef := unit.ImageRef(e.registry, tag)
		if err := e.rt.Pull(ctx, imageRef); err != nil {
			return &PullError{Image: imageRef, Cause: err}
		}
	}

	logger.Info().Str("tag", tag).Msg("Starting new stack")
	if err := e.rt.Start(ctx, desc, tag); err != nil {
		return &StartError{Cause: err}
	}
	return nil
}
