// Package adapter defines the pluggable Stop/Start collaborators an
// emergency switch drives — voice pipeline, model inference, telephony,
// rate limiter — and the startup-time registry that binds them to
// severity levels.
package adapter

import (
	"context"

	"github.com/opsline/failsafe/internal/scope"
)

// Adapter is implemented by each external collaborator. Both operations
// must be idempotent and honor context cancellation: an invocation that
// outlives its context slice is counted as failed by the engine.
type Adapter interface {
	Name() string
	Stop(ctx context.Context, s scope.Ref, reason string, opts map[string]string) error
	Start(ctx context.Context, s scope.Ref, reason string, opts map[string]string) error
}

// Func adapts plain functions into an Adapter. Used by embedders and
// throughout the test suite.
type Func struct {
	AdapterName string
	StopFn      func(ctx context.Context, s scope.Ref, reason string, opts map[string]string) error
	StartFn     func(ctx context.Context, s scope.Ref, reason string, opts map[string]string) error
}

func (f *Func) Name() string { return f.AdapterName }

func (f *Func) Stop(ctx context.Context, s scope.Ref, reason string, opts map[string]string) error {
	if f.StopFn == nil {
		return nil
	}
	return f.StopFn(ctx, s, reason, opts)
}

func (f *Func) Start(ctx context.Context, s scope.Ref, reason string, opts map[string]string) error {
	if f.StartFn == nil {
		return nil
	}
	return f.StartFn(ctx, s, reason, opts)
}
