package storagemock

import (
	"context"
	"time"

	"github.com/jameshartig/gridplan/pkg/storage"
	"github.com/jameshartig/gridplan/pkg/types"
	"github.com/stretchr/testify/mock"
)

type MockDatabase struct {
	mock.Mock
}

var _ storage.Database = (*MockDatabase)(nil)

func (m *MockDatabase) LoadSchedule(ctx context.Context) (types.ScheduleDocument, int, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).(types.ScheduleDocument), args.Int(1), args.Error(2)
	}
	return types.ScheduleDocument{}, 0, nil
}

func (m *MockDatabase) SaveSchedule(ctx context.Context, schedule types.ScheduleDocument, version int) error {
	args := m.Called(ctx, schedule, version)
	return args.Error(0)
}

func (m *MockDatabase) GetSettings(ctx context.Context) (types.Settings, int, error) {
	args := m.Called(ctx)
	if len(args) > 0 {
		return args.Get(0).(types.Settings), args.Int(1), args.Error(2)
	}
	return types.Settings{}, 0, nil
}

func (m *MockDatabase) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	args := m.Called(ctx, settings, version)
	return args.Error(0)
}

func (m *MockDatabase) InsertModeChange(ctx context.Context, change types.ModeChange) error {
	args := m.Called(ctx, change)
	return args.Error(0)
}

func (m *MockDatabase) GetModeHistory(ctx context.Context, start, end time.Time) ([]types.ModeChange, error) {
	args := m.Called(ctx, start, end)
	if len(args) > 0 {
		return args.Get(0).([]types.ModeChange), args.Error(1)
	}
	return nil, nil
}

func (m *MockDatabase) Close() error {
	args := m.Called()
	return args.Error(0)
}
