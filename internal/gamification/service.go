package gamification

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/goccy/go-json"

	"polar-fitness-sync/internal/database"
	"polar-fitness-sync/internal/events"
	"polar-fitness-sync/internal/metrics"
)

// AchievementsService evaluates and persists achievements for users
type AchievementsService struct {
	repo        *database.Repository
	definitions []Definition
	publisher   events.Publisher
	logger      *slog.Logger
	now         func() time.Time
}

// NewAchievementsService creates a service over repo using defs
func NewAchievementsService(repo *database.Repository, defs []Definition, publisher events.Publisher) *AchievementsService {
	if publisher == nil {
		publisher = events.Discard
	}
	return &AchievementsService{
		repo:        repo,
		definitions: defs,
		publisher:   publisher,
		logger:      slog.Default(),
		now:         time.Now,
	}
}

// Summary is the achievements view returned to clients
type Summary struct {
	XP           int                 `json:"xp"`
	Level        int                 `json:"level"`
	Achievements map[string]Progress `json:"achievements"`
	Unlocked     []string            `json:"newlyUnlocked"`
}

// Evaluate recomputes the user's achievements, persists them and awards
// points for newly unlocked ones. Each achievement's points are added to XP
// once: the pointsAwarded flag is written before XP is incremented. XP is
// incremented in the store so concurrent awards are not lost.
func (s *AchievementsService) Evaluate(ctx context.Context, userID string) (*Summary, error) {
	profile, err := s.repo.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	stored, err := s.repo.GetAchievements(ctx, userID)
	if err != nil {
		return nil, err
	}
	previous, err := decodeProgress(stored)
	if err != nil {
		return nil, err
	}

	next := ComputeAchievements(Profile(profile), s.definitions, previous, s.now().UTC())

	points := 0
	for _, def := range s.definitions {
		p := next[def.ID]
		if p.Unlocked && !p.PointsAwarded {
			points += def.Points
			p.PointsAwarded = true
			next[def.ID] = p
		}
	}

	encoded, err := encodeProgress(next)
	if err != nil {
		return nil, err
	}
	if err := s.repo.SaveAchievements(ctx, userID, encoded); err != nil {
		return nil, err
	}

	xp := int(profile[MetricXP])
	if points > 0 {
		if err := s.repo.IncrementProfile(ctx, userID, MetricXP, int64(points)); err != nil {
			return nil, fmt.Errorf("failed to award %d points: %w", points, err)
		}
		updated, err := s.repo.GetProfile(ctx, userID)
		if err != nil {
			return nil, err
		}
		xp = int(updated[MetricXP])
	}

	unlocked := NewlyUnlocked(previous, next)
	for _, id := range unlocked {
		metrics.AchievementsUnlockedTotal.Inc()
		s.logger.Info("Achievement unlocked", "user_id", userID, "achievement", id)
		s.publisher.Publish(events.Event{
			Type:   events.TypeAchievementUnlocked,
			UserID: userID,
			Data:   map[string]any{"achievementId": id},
		})
	}
	if unlocked == nil {
		unlocked = []string{}
	}

	return &Summary{
		XP:           xp,
		Level:        Level(xp, DefaultRewardLadder),
		Achievements: next,
		Unlocked:     unlocked,
	}, nil
}

// Current returns the stored achievements without re-evaluating them.
// Definitions never evaluated for the user report zero progress.
func (s *AchievementsService) Current(ctx context.Context, userID string) (*Summary, error) {
	profile, err := s.repo.GetProfile(ctx, userID)
	if err != nil {
		return nil, err
	}
	stored, err := s.repo.GetAchievements(ctx, userID)
	if err != nil {
		return nil, err
	}
	progress, err := decodeProgress(stored)
	if err != nil {
		return nil, err
	}
	for _, def := range s.definitions {
		if _, ok := progress[def.ID]; !ok {
			progress[def.ID] = Progress{}
		}
	}

	xp := int(profile[MetricXP])
	return &Summary{
		XP:           xp,
		Level:        Level(xp, DefaultRewardLadder),
		Achievements: progress,
		Unlocked:     []string{},
	}, nil
}

// decodeProgress converts the stored document into typed progress
func decodeProgress(doc database.Document) (map[string]Progress, error) {
	out := make(map[string]Progress, len(doc))
	if len(doc) == 0 {
		return out, nil
	}
	b, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("failed to encode achievements: %w", err)
	}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, fmt.Errorf("failed to decode achievements: %w", err)
	}
	return out, nil
}

// encodeProgress converts typed progress into a storable document
func encodeProgress(progress map[string]Progress) (database.Document, error) {
	b, err := json.Marshal(progress)
	if err != nil {
		return nil, fmt.Errorf("failed to encode achievements: %w", err)
	}
	doc := database.Document{}
	if err := json.Unmarshal(b, &doc); err != nil {
		return nil, fmt.Errorf("failed to decode achievements: %w", err)
	}
	return doc, nil
}
