package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jameshartig/gridplan/pkg/types"
	"github.com/levenlabs/go-lflag"
)

// Database defines the interface for persisting the schedule, settings and
// mode history.
type Database interface {
	// Schedule
	LoadSchedule(ctx context.Context) (types.ScheduleDocument, int, error)
	SaveSchedule(ctx context.Context, doc types.ScheduleDocument, version int) error

	// Settings
	GetSettings(ctx context.Context) (types.Settings, int, error)
	SetSettings(ctx context.Context, settings types.Settings, version int) error

	// Mode history
	InsertModeChange(ctx context.Context, change types.ModeChange) error
	GetModeHistory(ctx context.Context, start, end time.Time) ([]types.ModeChange, error)

	// Lifecycle
	Close() error
}

// Configured sets up the storage provider based on flags.
func Configured() Database {
	provider := lflag.String("storage-provider", "firestore", "Storage provider to use (available: firestore, memory)")

	var p struct{ Database }

	fs := configuredFirestore()

	lflag.Do(func() {
		switch *provider {
		case "firestore":
			if err := fs.Validate(); err != nil {
				panic(fmt.Sprintf("firestore validation failed: %v", err))
			}
			p.Database = fs
			if err := fs.Init(context.Background()); err != nil {
				panic(fmt.Sprintf("firestore init failed: %v", err))
			}
		case "memory":
			p.Database = NewMemoryProvider()
		default:
			panic(fmt.Sprintf("unknown storage provider: %s", *provider))
		}
	})

	return &p
}
