package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/jameshartig/gridplan/pkg/log"
	"github.com/jameshartig/gridplan/pkg/types"
	"github.com/levenlabs/go-lflag"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// FirestoreProvider implements the Database interface using Google Cloud
// Firestore. The schedule and settings each live in a single document under
// the "config" collection as JSON strings; mode changes append to the
// "mode_history" collection keyed by timestamp.
type FirestoreProvider struct {
	client    *firestore.Client
	projectID string
	database  string
}

// configuredFirestore sets up the Firestore provider.
// It registers flags for configuration.
func configuredFirestore() *FirestoreProvider {
	projectID := lflag.String("firestore-project-id", "", "Google Cloud Project ID for Firestore")
	database := lflag.String("firestore-database", "", "Google Cloud Firestore Database")
	emulator := lflag.String("firestore-emulator", "", "Use Firestore emulator")

	f := &FirestoreProvider{}

	lflag.Do(func() {
		f.projectID = *projectID
		f.database = *database

		// set this because that's how firestore client expects it
		if *emulator != "" {
			os.Setenv("FIRESTORE_EMULATOR_HOST", *emulator)
		}
	})

	return f
}

// Validate checks if the provider is properly configured.
func (f *FirestoreProvider) Validate() error {
	// Project ID verification could be here, but we allow empty if inferred.
	return nil
}

// Init initializes the Firestore client.
// This must be called before using the provider methods.
func (f *FirestoreProvider) Init(ctx context.Context) error {
	projectID := f.projectID
	if projectID == "" {
		projectID = firestore.DetectProjectID
	}
	database := f.database
	if database == "" {
		database = firestore.DefaultDatabaseID
	}
	client, err := firestore.NewClientWithDatabase(ctx, projectID, database)
	if err != nil {
		return fmt.Errorf("failed to create firestore client (project=%s, database=%s): %w", projectID, database, err)
	}
	f.client = client
	return nil
}

// Close closes the Firestore client connection.
func (f *FirestoreProvider) Close() error {
	if f.client != nil {
		return f.client.Close()
	}
	return nil
}

// LoadSchedule retrieves the schedule document from "config/schedule". A
// missing document yields an empty schedule, not an error.
func (f *FirestoreProvider) LoadSchedule(ctx context.Context) (types.ScheduleDocument, int, error) {
	doc, err := f.client.Collection("config").Doc("schedule").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return types.ScheduleDocument{}, 0, nil
		}
		return nil, 0, fmt.Errorf("failed to fetch schedule doc: %w", err)
	}

	version := docVersion(doc)
	jsonStr, err := docJSON(doc)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "schedule doc malformed", slog.Any("err", err))
		return nil, 0, err
	}

	var schedule types.ScheduleDocument
	if err := json.Unmarshal([]byte(jsonStr), &schedule); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal schedule json", slog.Any("err", err))
		return nil, 0, fmt.Errorf("failed to unmarshal schedule json: %w", err)
	}
	if schedule == nil {
		schedule = types.ScheduleDocument{}
	}
	return schedule, version, nil
}

// SaveSchedule replaces the whole schedule document at "config/schedule".
func (f *FirestoreProvider) SaveSchedule(ctx context.Context, schedule types.ScheduleDocument, version int) error {
	jsonBytes, err := json.Marshal(schedule)
	if err != nil {
		return fmt.Errorf("failed to marshal schedule: %w", err)
	}
	_, err = f.client.Collection("config").Doc("schedule").Set(ctx, map[string]interface{}{
		"json":    string(jsonBytes),
		"version": version,
	})
	if err != nil {
		return fmt.Errorf("failed to save schedule: %w", err)
	}
	return nil
}

// GetSettings retrieves the dynamic configuration from the "config/settings"
// document.
func (f *FirestoreProvider) GetSettings(ctx context.Context) (types.Settings, int, error) {
	doc, err := f.client.Collection("config").Doc("settings").Get(ctx)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			// Return default settings if not found
			return types.Settings{}, 0, nil
		}
		return types.Settings{}, 0, fmt.Errorf("failed to fetch settings doc: %w", err)
	}

	version := docVersion(doc)
	jsonStr, err := docJSON(doc)
	if err != nil {
		log.Ctx(ctx).WarnContext(ctx, "settings doc malformed", slog.Any("err", err))
		return types.Settings{}, 0, err
	}

	var s types.Settings
	if err := json.Unmarshal([]byte(jsonStr), &s); err != nil {
		log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal settings json", slog.Any("err", err))
		return types.Settings{}, 0, fmt.Errorf("failed to unmarshal settings json: %w", err)
	}
	return s, version, nil
}

// SetSettings saves the dynamic configuration to the "config/settings"
// document. It stores the settings as a JSON string for portability.
func (f *FirestoreProvider) SetSettings(ctx context.Context, settings types.Settings, version int) error {
	jsonBytes, err := json.Marshal(settings)
	if err != nil {
		return fmt.Errorf("failed to marshal settings: %w", err)
	}
	_, err = f.client.Collection("config").Doc("settings").Set(ctx, map[string]interface{}{
		"json":    string(jsonBytes),
		"version": version,
	})
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// InsertModeChange adds a mode change record to the "mode_history"
// collection as a JSON blob. The document ID is the RFC3339 timestamp for
// efficient range queries.
func (f *FirestoreProvider) InsertModeChange(ctx context.Context, change types.ModeChange) error {
	jsonBytes, err := json.Marshal(change)
	if err != nil {
		return fmt.Errorf("failed to marshal mode change: %w", err)
	}

	// RFC3339 doc IDs sort lexicographically in time order
	docID := change.Timestamp.UTC().Format(time.RFC3339)
	_, err = f.client.Collection("mode_history").Doc(docID).Set(ctx, map[string]interface{}{
		"json":      string(jsonBytes),
		"timestamp": change.Timestamp,
	})
	if err != nil {
		return fmt.Errorf("failed to insert mode change: %w", err)
	}
	return nil
}

// GetModeHistory retrieves mode change records within the specified time
// range. Uses document ID range queries for efficient filtering without
// reading all documents.
func (f *FirestoreProvider) GetModeHistory(ctx context.Context, start, end time.Time) ([]types.ModeChange, error) {
	coll := f.client.Collection("mode_history")
	iter := coll.
		Where(firestore.DocumentID, ">=", coll.Doc(start.UTC().Format(time.RFC3339))).
		Where(firestore.DocumentID, "<", coll.Doc(end.UTC().Format(time.RFC3339))).
		OrderBy(firestore.DocumentID, firestore.Asc).
		Documents(ctx)
	defer iter.Stop()

	var changes []types.ModeChange
	for {
		doc, err := iter.Next()
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("error iterating mode history: %w", err)
		}

		jsonStr, err := docJSON(doc)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "mode change doc malformed", slog.String("docID", doc.Ref.ID), slog.Any("err", err))
			return nil, fmt.Errorf("mode change document %s: %w", doc.Ref.ID, err)
		}

		var c types.ModeChange
		if err := json.Unmarshal([]byte(jsonStr), &c); err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to unmarshal mode change", slog.String("docID", doc.Ref.ID), slog.Any("err", err))
			return nil, fmt.Errorf("failed to unmarshal mode change (id=%s): %w", doc.Ref.ID, err)
		}
		changes = append(changes, c)
	}
	return changes, nil
}

func docJSON(doc *firestore.DocumentSnapshot) (string, error) {
	val, err := doc.DataAt("json")
	if err != nil {
		return "", fmt.Errorf("document missing 'json' field: %w", err)
	}
	jsonStr, ok := val.(string)
	if !ok {
		return "", fmt.Errorf("document 'json' field is not a string")
	}
	return jsonStr, nil
}

func docVersion(doc *firestore.DocumentSnapshot) int {
	if v, err := doc.DataAt("version"); err == nil {
		if vInt, ok := v.(int64); ok {
			return int(vInt)
		}
	}
	return 0
}
