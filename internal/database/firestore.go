package database

import (
	"context"
	"fmt"
	"strings"

	"cloud.google.com/go/firestore"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"polar-fitness-sync/internal/metrics"
)

const backendFirestore = "firestore"

// FirestoreStore is a Store backed by Cloud Firestore.
// Paths map directly onto Firestore document and collection paths.
type FirestoreStore struct {
	client *firestore.Client
}

var _ Store = (*FirestoreStore)(nil)

// OpenFirestore connects to the project's default database.
// FIRESTORE_EMULATOR_HOST is honoured by the client library.
func OpenFirestore(ctx context.Context, projectID string) (*FirestoreStore, error) {
	client, err := firestore.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Firestore client: %w", err)
	}
	return &FirestoreStore{client: client}, nil
}

// NewFirestoreStore wraps an existing client
func NewFirestoreStore(client *firestore.Client) *FirestoreStore {
	return &FirestoreStore{client: client}
}

func (s *FirestoreStore) Close() error {
	return s.client.Close()
}

func (s *FirestoreStore) Get(ctx context.Context, path string) (Document, error) {
	var doc Document
	err := instrument(backendFirestore, metrics.StoreOpGet, func() error {
		snap, err := s.client.Doc(path).Get(ctx)
		if err != nil {
			if status.Code(err) == codes.NotFound {
				return ErrNotFound
			}
			return fmt.Errorf("failed to get %s: %w", path, err)
		}
		doc = Document(snap.Data())
		return nil
	})
	return doc, err
}

func (s *FirestoreStore) Set(ctx context.Context, path string, doc Document) error {
	return instrument(backendFirestore, metrics.StoreOpSet, func() error {
		clean := map[string]any{}
		deepMerge(clean, doc)
		if _, err := s.client.Doc(path).Set(ctx, clean); err != nil {
			return fmt.Errorf("failed to set %s: %w", path, err)
		}
		return nil
	})
}

func (s *FirestoreStore) Merge(ctx context.Context, path string, doc Document) error {
	return instrument(backendFirestore, metrics.StoreOpMerge, func() error {
		if _, err := s.client.Doc(path).Set(ctx, toFirestore(doc), firestore.MergeAll); err != nil {
			return fmt.Errorf("failed to merge %s: %w", path, err)
		}
		return nil
	})
}

func (s *FirestoreStore) Increment(ctx context.Context, path, field string, delta int64) error {
	return instrument(backendFirestore, metrics.StoreOpIncrement, func() error {
		update := map[string]any{field: firestore.Increment(delta)}
		if _, err := s.client.Doc(path).Set(ctx, update, firestore.MergeAll); err != nil {
			return fmt.Errorf("failed to increment %s on %s: %w", field, path, err)
		}
		return nil
	})
}

func (s *FirestoreStore) Delete(ctx context.Context, path string) error {
	return instrument(backendFirestore, metrics.StoreOpDelete, func() error {
		if _, err := s.client.Doc(path).Delete(ctx); err != nil {
			return fmt.Errorf("failed to delete %s: %w", path, err)
		}
		return nil
	})
}

func (s *FirestoreStore) List(ctx context.Context, collection string) ([]Snapshot, error) {
	var out []Snapshot
	err := instrument(backendFirestore, metrics.StoreOpList, func() error {
		snaps, err := s.client.Collection(collection).OrderBy(firestore.DocumentID, firestore.Asc).Documents(ctx).GetAll()
		if err != nil {
			return fmt.Errorf("failed to list %s: %w", collection, err)
		}
		out = fromSnapshots(snaps)
		return nil
	})
	return out, err
}

func (s *FirestoreStore) Query(ctx context.Context, collection, field string, value any) ([]Snapshot, error) {
	var out []Snapshot
	err := instrument(backendFirestore, metrics.StoreOpQuery, func() error {
		q := s.client.Collection(collection).WherePath(firestore.FieldPath{field}, "==", value)
		snaps, err := q.Documents(ctx).GetAll()
		if err != nil {
			return fmt.Errorf("failed to query %s by %s: %w", collection, field, err)
		}
		out = fromSnapshots(snaps)
		return nil
	})
	return out, err
}

func fromSnapshots(snaps []*firestore.DocumentSnapshot) []Snapshot {
	out := make([]Snapshot, 0, len(snaps))
	for _, snap := range snaps {
		out = append(out, Snapshot{
			ID:   snap.Ref.ID,
			Path: relativePath(snap.Ref.Path),
			Data: Document(snap.Data()),
		})
	}
	return out
}

// relativePath strips the "projects/{p}/databases/{d}/documents/" prefix
func relativePath(full string) string {
	if _, rel, ok := strings.Cut(full, "/documents/"); ok {
		return rel
	}
	return full
}

// toFirestore converts DeleteField markers into firestore.Delete sentinels
func toFirestore(doc map[string]any) map[string]any {
	out := make(map[string]any, len(doc))
	for key, value := range doc {
		if _, ok := value.(deleteField); ok {
			out[key] = firestore.Delete
			continue
		}
		if nested, ok := asMap(value); ok {
			out[key] = toFirestore(nested)
			continue
		}
		out[key] = value
	}
	return out
}
