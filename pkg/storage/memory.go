package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jameshartig/gridplan/pkg/types"
)

// MemoryProvider implements the Database interface in process memory. It is
// used for local development and tests; nothing survives a restart.
type MemoryProvider struct {
	mu              sync.Mutex
	schedule        types.ScheduleDocument
	scheduleVersion int
	settings        types.Settings
	settingsVersion int
	hasSettings     bool
	history         []types.ModeChange
}

// NewMemoryProvider returns an empty in-memory Database.
func NewMemoryProvider() *MemoryProvider {
	return &MemoryProvider{schedule: types.ScheduleDocument{}}
}

func (m *MemoryProvider) LoadSchedule(_ context.Context) (types.ScheduleDocument, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.schedule.Clone(), m.scheduleVersion, nil
}

func (m *MemoryProvider) SaveSchedule(_ context.Context, schedule types.ScheduleDocument, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedule = schedule.Clone()
	m.scheduleVersion = version
	return nil
}

func (m *MemoryProvider) GetSettings(_ context.Context) (types.Settings, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.hasSettings {
		return types.Settings{}, 0, nil
	}
	return m.settings, m.settingsVersion, nil
}

func (m *MemoryProvider) SetSettings(_ context.Context, settings types.Settings, version int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.settings = settings
	m.settingsVersion = version
	m.hasSettings = true
	return nil
}

func (m *MemoryProvider) InsertModeChange(_ context.Context, change types.ModeChange) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.history = append(m.history, change)
	return nil
}

func (m *MemoryProvider) GetModeHistory(_ context.Context, start, end time.Time) ([]types.ModeChange, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var changes []types.ModeChange
	for _, c := range m.history {
		if !c.Timestamp.Before(start) && c.Timestamp.Before(end) {
			changes = append(changes, c)
		}
	}
	sort.Slice(changes, func(i, j int) bool { return changes[i].Timestamp.Before(changes[j].Timestamp) })
	return changes, nil
}

func (m *MemoryProvider) Close() error {
	return nil
}
