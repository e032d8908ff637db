package analysis

import (
	"context"
	"errors"
	"sync/atomic"

	"github.com/dytto-app/dytto/internal/model"
)

// ErrStubFailure is returned by a failing Stub.
var ErrStubFailure = errors.New("analysis: stub failure")

// Stub is a scriptable Provider that counts calls. A nil ClassifyFunc
// delegates to the keyword classifier; a nil GenerateFunc echoes a fixed
// completion.
type Stub struct {
	ClassifyFunc func(ctx context.Context, text string) (model.Sentiment, error)
	GenerateFunc func(ctx context.Context, prompt string) (string, error)

	classifyCalls atomic.Int64
	generateCalls atomic.Int64
}

// FailingStub returns a Stub whose every call fails.
func FailingStub() *Stub {
	return &Stub{
		ClassifyFunc: func(context.Context, string) (model.Sentiment, error) {
			return model.Sentiment{}, ErrStubFailure
		},
		GenerateFunc: func(context.Context, string) (string, error) {
			return "", ErrStubFailure
		},
	}
}

// HangingStub returns a Stub that blocks until the caller's context is done.
func HangingStub() *Stub {
	return &Stub{
		ClassifyFunc: func(ctx context.Context, _ string) (model.Sentiment, error) {
			<-ctx.Done()
			return model.Sentiment{}, ctx.Err()
		},
		GenerateFunc: func(ctx context.Context, _ string) (string, error) {
			<-ctx.Done()
			return "", ctx.Err()
		},
	}
}

// Name returns "stub".
func (s *Stub) Name() string { return "stub" }

// Classify records the call and runs ClassifyFunc.
func (s *Stub) Classify(ctx context.Context, text string) (model.Sentiment, error) {
	s.classifyCalls.Add(1)
	if s.ClassifyFunc != nil {
		return s.ClassifyFunc(ctx, text)
	}
	return NewKeywordProvider().Classify(ctx, text)
}

// Generate records the call and runs GenerateFunc.
func (s *Stub) Generate(ctx context.Context, prompt string) (string, error) {
	s.generateCalls.Add(1)
	if s.GenerateFunc != nil {
		return s.GenerateFunc(ctx, prompt)
	}
	return "Plan a relaxed catch-up this week.", nil
}

// ClassifyCalls reports how many times Classify ran.
func (s *Stub) ClassifyCalls() int64 { return s.classifyCalls.Load() }

// GenerateCalls reports how many times Generate ran.
func (s *Stub) GenerateCalls() int64 { return s.generateCalls.Load() }
