package database

import (
	"context"
	"errors"
	"fmt"
)

// AchievementsPath returns users/{userId}/meta/achievements
func AchievementsPath(userID string) string {
	return Join(CollectionUsers, userID, "meta", "achievements")
}

// InstructorPath returns instructors/{userId}
func InstructorPath(userID string) string {
	return Join(CollectionInstructors, userID)
}

const fieldSelectedUsers = "selectedUsers"

// GetProfile returns the numeric counters stored on users/{userId}.
// A missing user yields an empty profile.
func (r *Repository) GetProfile(ctx context.Context, userID string) (map[string]float64, error) {
	doc, err := r.store.Get(ctx, UserPath(userID))
	if errors.Is(err, ErrNotFound) {
		return map[string]float64{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get profile: %w", err)
	}

	profile := make(map[string]float64)
	for key, value := range doc {
		if n, ok := Float64(value); ok {
			profile[key] = n
		}
	}
	return profile, nil
}

// MergeProfile merges fields into users/{userId}
func (r *Repository) MergeProfile(ctx context.Context, userID string, fields Document) error {
	if err := r.store.Merge(ctx, UserPath(userID), fields); err != nil {
		return fmt.Errorf("failed to update profile: %w", err)
	}
	return nil
}

// IncrementProfile atomically adds delta to a counter on users/{userId}
func (r *Repository) IncrementProfile(ctx context.Context, userID, field string, delta int64) error {
	if err := r.store.Increment(ctx, UserPath(userID), field, delta); err != nil {
		return fmt.Errorf("failed to increment %s: %w", field, err)
	}
	return nil
}

// GetAchievements returns the achievements progress map, empty when absent
func (r *Repository) GetAchievements(ctx context.Context, userID string) (Document, error) {
	doc, err := r.store.Get(ctx, AchievementsPath(userID))
	if errors.Is(err, ErrNotFound) {
		return Document{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get achievements: %w", err)
	}
	return doc, nil
}

// SaveAchievements merges progress entries into the achievements document
func (r *Repository) SaveAchievements(ctx context.Context, userID string, progress Document) error {
	if err := r.store.Merge(ctx, AchievementsPath(userID), progress); err != nil {
		return fmt.Errorf("failed to save achievements: %w", err)
	}
	return nil
}

// GetSelectedUsers returns the instructor's dashboard scope
func (r *Repository) GetSelectedUsers(ctx context.Context, instructorID string) ([]string, error) {
	doc, err := r.store.Get(ctx, InstructorPath(instructorID))
	if errors.Is(err, ErrNotFound) {
		return []string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get selected users: %w", err)
	}

	users := []string{}
	if list, ok := doc[fieldSelectedUsers].([]any); ok {
		for _, v := range list {
			if s, ok := v.(string); ok {
				users = append(users, s)
			}
		}
	}
	return users, nil
}

// SetSelectedUsers replaces the instructor's dashboard scope
func (r *Repository) SetSelectedUsers(ctx context.Context, instructorID string, users []string) error {
	list := make([]any, len(users))
	for i, u := range users {
		list[i] = u
	}
	if err := r.store.Merge(ctx, InstructorPath(instructorID), Document{fieldSelectedUsers: list}); err != nil {
		return fmt.Errorf("failed to set selected users: %w", err)
	}
	return nil
}
