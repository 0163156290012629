package testutil

import (
	"context"

	"github.com/haatos/verify-ci/internal/service"
	"github.com/haatos/verify-ci/internal/store"
	"github.com/haatos/verify-ci/internal/types"
	"github.com/stretchr/testify/mock"
)

type MockRunService struct {
	mock.Mock
}

func (m *MockRunService) Trigger(
	ctx context.Context,
	ev types.Event,
) (service.AdmissionDecision, error) {
	args := m.Called(ctx, ev)
	return args.Get(0).(service.AdmissionDecision), args.Error(1)
}

func (m *MockRunService) Cancel(ctx context.Context, runID int64) (bool, error) {
	args := m.Called(ctx, runID)
	return args.Bool(0), args.Error(1)
}

func (m *MockRunService) GetRun(ctx context.Context, runID int64) (*store.Run, error) {
	args := m.Called(ctx, runID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*store.Run), nil
}

func (m *MockRunService) ListActiveRuns(ctx context.Context, group string) ([]store.Run, error) {
	args := m.Called(ctx, group)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]store.Run), nil
}
