// Package schedule manages the persisted hour-by-hour plan. The Store keeps
// a working copy of the document and writes the whole document back on
// every mutation.
package schedule

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jameshartig/gridplan/pkg/log"
	"github.com/jameshartig/gridplan/pkg/storage"
	"github.com/jameshartig/gridplan/pkg/types"
)

// DefaultDaysToKeep is how long old dates are retained when no retention is
// configured.
const DefaultDaysToKeep = 7

// Store is the schedule document plus its persistence. Safe for concurrent
// use.
type Store struct {
	db storage.Database

	mu  sync.Mutex
	doc types.ScheduleDocument
}

// NewStore returns a Store backed by db. Call Load before use.
func NewStore(db storage.Database) *Store {
	return &Store{db: db, doc: types.ScheduleDocument{}}
}

// Load reads the persisted document into the working copy.
func (s *Store) Load(ctx context.Context) error {
	doc, version, err := s.db.LoadSchedule(ctx)
	if err != nil {
		return fmt.Errorf("failed to load schedule: %w", err)
	}
	log.Ctx(ctx).DebugContext(ctx, "loaded schedule",
		slog.Int("dates", len(doc)), slog.Int("version", version))

	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
	return nil
}

// Document returns a copy of the whole schedule document.
func (s *Store) Document() types.ScheduleDocument {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.doc.Clone()
}

// Date returns a copy of the entries for one date, which may be empty.
func (s *Store) Date(date string) map[string]types.ScheduleEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	hours := make(map[string]types.ScheduleEntry, len(s.doc[date]))
	for hour, entry := range s.doc[date] {
		hours[hour] = entry
	}
	return hours
}

// Hour returns the entry for a specific date and hour.
func (s *Store) Hour(date, hour string) (types.ScheduleEntry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.doc[date][hour]
	return entry, ok
}

// SetHour writes one entry and persists. Zero-valued optional fields are
// simply absent from the persisted form; Action is always kept.
func (s *Store) SetHour(ctx context.Context, date, hour string, entry types.ScheduleEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.doc[date] == nil {
		s.doc[date] = map[string]types.ScheduleEntry{}
	}
	s.doc[date][hour] = entry
	if err := s.save(ctx); err != nil {
		return err
	}
	log.Ctx(ctx).InfoContext(ctx, "set schedule entry",
		slog.String("date", date), slog.String("hour", hour), slog.String("action", entry.Action))
	return nil
}

// ClearHour removes one entry and persists. An empty date bucket is removed
// with it. Clearing an absent entry is a no-op.
func (s *Store) ClearHour(ctx context.Context, date, hour string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	hours, ok := s.doc[date]
	if !ok {
		return nil
	}
	if _, ok := hours[hour]; !ok {
		return nil
	}
	delete(hours, hour)
	if len(hours) == 0 {
		delete(s.doc, date)
	}
	if err := s.save(ctx); err != nil {
		return err
	}
	log.Ctx(ctx).InfoContext(ctx, "cleared schedule entry",
		slog.String("date", date), slog.String("hour", hour))
	return nil
}

// ClearDate removes all entries for a date, optionally keeping the manual
// ones, and persists.
func (s *Store) ClearDate(ctx context.Context, date string, preserveManual bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	hours, ok := s.doc[date]
	if !ok {
		return nil
	}

	if preserveManual {
		manual := map[string]types.ScheduleEntry{}
		for hour, entry := range hours {
			if entry.Manual {
				manual[hour] = entry
			}
		}
		if len(manual) > 0 {
			s.doc[date] = manual
		} else {
			delete(s.doc, date)
		}
	} else {
		delete(s.doc, date)
	}
	if err := s.save(ctx); err != nil {
		return err
	}
	log.Ctx(ctx).InfoContext(ctx, "cleared schedule date",
		slog.String("date", date), slog.Bool("preserveManual", preserveManual))
	return nil
}

// ClearAll removes the entire document and persists.
func (s *Store) ClearAll(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.doc = types.ScheduleDocument{}
	if err := s.save(ctx); err != nil {
		return err
	}
	log.Ctx(ctx).InfoContext(ctx, "cleared all schedule data")
	return nil
}

// SetManual updates the manual flag on an existing entry and persists.
// Absent entries are left alone.
func (s *Store) SetManual(ctx context.Context, date, hour string, manual bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.doc[date][hour]
	if !ok {
		return nil
	}
	entry.Manual = manual
	s.doc[date][hour] = entry
	return s.save(ctx)
}

// ManualHours returns the hours of a date that carry a manual entry.
func (s *Store) ManualHours(date string) map[string]bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	manual := map[string]bool{}
	for hour, entry := range s.doc[date] {
		if entry.Manual {
			manual[hour] = true
		}
	}
	return manual
}

// Cleanup removes dates more than daysToKeep days before now, along with any
// unparseable date keys. A date exactly daysToKeep days old is retained.
func (s *Store) Cleanup(ctx context.Context, now time.Time, daysToKeep int) error {
	if daysToKeep <= 0 {
		daysToKeep = DefaultDaysToKeep
	}
	today, _ := time.ParseInLocation(types.DateKeyLayout, types.DateKey(now), now.Location())

	s.mu.Lock()
	defer s.mu.Unlock()
	var removed []string
	for date := range s.doc {
		day, err := time.ParseInLocation(types.DateKeyLayout, date, now.Location())
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "invalid date key in schedule", slog.String("date", date))
			removed = append(removed, date)
			continue
		}
		if int(today.Sub(day).Hours()/24) > daysToKeep {
			removed = append(removed, date)
		}
	}
	if len(removed) == 0 {
		return nil
	}

	for _, date := range removed {
		delete(s.doc, date)
	}
	if err := s.save(ctx); err != nil {
		return err
	}
	log.Ctx(ctx).InfoContext(ctx, "cleaned up old schedule dates", slog.Any("dates", removed))
	return nil
}

// save persists the working copy. Callers must hold the lock.
func (s *Store) save(ctx context.Context) error {
	if err := s.db.SaveSchedule(ctx, s.doc, types.CurrentScheduleVersion); err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}
	return nil
}
