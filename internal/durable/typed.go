package durable

import (
	"context"

	"voice2action/internal/services"
)

// Activity adapts a typed function into an ActivityFunc.
func Activity[I, O any](fn func(ctx context.Context, in I) (O, error)) ActivityFunc {
	return func(ctx context.Context, input Payload) (any, error) {
		var in I
		if err := input.Decode(&in); err != nil {
			return nil, services.Wrap(services.ErrValidation, engineStage, "activity", "decode input", err)
		}
		out, err := fn(ctx, in)
		if err != nil {
			return nil, err
		}
		return out, nil
	}
}

// Orchestrator adapts a typed function into an OrchestratorFunc.
func Orchestrator[I, O any](fn func(octx *OrchestrationContext, in I) (O, error)) OrchestratorFunc {
	return func(octx *OrchestrationContext, input Payload) (any, error) {
		var in I
		if err := input.Decode(&in); err != nil {
			return nil, services.Wrap(services.ErrValidation, engineStage, "orchestrator", "decode input", err)
		}
		out, err := fn(octx, in)
		if err != nil {
			return nil, err
		}
		return out, nil
	}
}
