package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

const (
	// FieldSyncedAt is added to every synced record
	FieldSyncedAt = "syncedAt"

	collectionPolarData = "polarData"
	collectionAll       = "all"
)

// RecordCollection returns users/{userId}/polarData/{category}/all
func RecordCollection(userID, category string) string {
	return Join(CollectionUsers, userID, collectionPolarData, category, collectionAll)
}

// RecordPath returns users/{userId}/polarData/{category}/all/{dateOrId}
func RecordPath(userID, category, id string) string {
	return Join(RecordCollection(userID, category), id)
}

// SaveSyncedRecord overwrites the record for (user, category, date) stamped with syncedAt
func (r *Repository) SaveSyncedRecord(ctx context.Context, userID, category, date string, doc Document, syncedAt time.Time) error {
	record := make(Document, len(doc)+1)
	for k, v := range doc {
		record[k] = v
	}
	record[FieldSyncedAt] = syncedAt.UTC().Format(time.RFC3339)

	if err := r.store.Set(ctx, RecordPath(userID, category, date), record); err != nil {
		return fmt.Errorf("failed to save %s record for %s: %w", category, date, err)
	}
	return nil
}

// AddPhysicalInfo stores one physical-info entry under a generated id
func (r *Repository) AddPhysicalInfo(ctx context.Context, userID string, doc Document, syncedAt time.Time) (string, error) {
	id := uuid.NewString()
	if err := r.SaveSyncedRecord(ctx, userID, "physicalInfo", id, doc, syncedAt); err != nil {
		return "", err
	}
	return id, nil
}

// GetSyncedRecord returns one record or ErrNotFound
func (r *Repository) GetSyncedRecord(ctx context.Context, userID, category, id string) (Document, error) {
	doc, err := r.store.Get(ctx, RecordPath(userID, category, id))
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// ListSyncedRecords returns every stored record of a category ordered by id
func (r *Repository) ListSyncedRecords(ctx context.Context, userID, category string) ([]Snapshot, error) {
	snaps, err := r.store.List(ctx, RecordCollection(userID, category))
	if err != nil {
		return nil, fmt.Errorf("failed to list %s records: %w", category, err)
	}
	return snaps, nil
}
