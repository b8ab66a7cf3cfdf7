// Package progress keeps a user's completed levels and answer statistics
// and derives the dashboard from them.
package progress

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strconv"
	"time"

	"github.com/pavelanni/pmpcoach/internal/levels"
	"github.com/pavelanni/pmpcoach/internal/model"
	"github.com/pavelanni/pmpcoach/internal/store"
)

var (
	// ErrInvalidLevel is returned for ids not shaped like "<world>-<index>".
	ErrInvalidLevel = errors.New("invalid level id")
	// ErrUnknownLevel is returned when a level name is not in the catalog.
	ErrUnknownLevel = errors.New("unknown level")
)

// Store is the persistence the service needs.
type Store interface {
	GetProgress(ctx context.Context, userID string) (*model.Progress, error)
	UpdateProgress(ctx context.Context, userID string, fn func(p *model.Progress) (bool, error)) (*model.Progress, error)
	ListStudySessions(ctx context.Context, userID string) ([]model.StudySession, error)
}

// Service reads and updates progress.
type Service struct {
	store   Store
	catalog *levels.Catalog
	now     func() time.Time
}

// NewService creates a progress service.
func NewService(st Store, catalog *levels.Catalog) *Service {
	return &Service{store: st, catalog: catalog, now: time.Now}
}

// Catalog returns the level map the service checks names against.
func (s *Service) Catalog() *levels.Catalog {
	return s.catalog
}

// Get returns the user's progress, or an empty record if there is none.
func (s *Service) Get(ctx context.Context, userID string) (*model.Progress, error) {
	p, err := s.store.GetProgress(ctx, userID)
	if errors.Is(err, store.ErrNotFound) {
		return &model.Progress{UserID: userID, CompletedLevels: []string{}, Stats: model.Stats{Accuracy: Accuracy(0, 0)}}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get progress: %w", err)
	}
	return p, nil
}

// Sync merges the client's cached completed levels into the stored set.
// The stored order is kept and new ids are appended. Nothing is written
// unless the union is larger than what is stored, so a user with no
// record and no local levels stays without one.
func (s *Service) Sync(ctx context.Context, userID string, local []string) (*model.Progress, error) {
	p, err := s.store.UpdateProgress(ctx, userID, func(p *model.Progress) (bool, error) {
		merged := Union(p.CompletedLevels, local)
		if len(merged) == len(p.CompletedLevels) {
			return false, nil
		}
		p.CompletedLevels = merged
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("sync progress: %w", err)
	}
	return p, nil
}

// Union returns base followed by the valid ids of extra that base lacks.
func Union(base, extra []string) []string {
	seen := make(map[string]bool, len(base)+len(extra))
	out := make([]string, 0, len(base)+len(extra))
	for _, id := range base {
		if !seen[id] {
			seen[id] = true
			out = append(out, id)
		}
	}
	for _, id := range extra {
		if !seen[id] && levels.ValidID(id) {
			seen[id] = true
			out = append(out, id)
		}
	}
	return out
}

// MarkLevel adds levelID to the completed set. Marking twice is a no-op.
func (s *Service) MarkLevel(ctx context.Context, userID, levelID string) (*model.Progress, error) {
	if !levels.ValidID(levelID) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidLevel, levelID)
	}
	p, err := s.store.UpdateProgress(ctx, userID, func(p *model.Progress) (bool, error) {
		for _, id := range p.CompletedLevels {
			if id == levelID {
				return false, nil
			}
		}
		p.CompletedLevels = append(p.CompletedLevels, levelID)
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("mark level: %w", err)
	}
	return p, nil
}

// MarkLevelByName resolves a level name, as it appears in a level mode
// topic, and marks it completed. It returns the resolved id.
func (s *Service) MarkLevelByName(ctx context.Context, userID, name string) (string, error) {
	l, ok := s.catalog.Lookup(name)
	if !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownLevel, name)
	}
	if _, err := s.MarkLevel(ctx, userID, l.ID); err != nil {
		return "", err
	}
	return l.ID, nil
}

// RecordScore adds correct out of total to the user's statistics.
func (s *Service) RecordScore(ctx context.Context, userID string, correct, total int) (*model.Progress, error) {
	if total <= 0 || correct < 0 || correct > total {
		return nil, fmt.Errorf("invalid score %d/%d", correct, total)
	}
	p, err := s.store.UpdateProgress(ctx, userID, func(p *model.Progress) (bool, error) {
		p.Stats.CorrectAnswers += correct
		p.Stats.TotalQuestions += total
		p.Stats.Accuracy = Accuracy(p.Stats.CorrectAnswers, p.Stats.TotalQuestions)
		return true, nil
	})
	if err != nil {
		return nil, fmt.Errorf("record score: %w", err)
	}
	return p, nil
}

// Accuracy formats correct/total as a rounded percentage such as "67%".
func Accuracy(correct, total int) string {
	if total <= 0 {
		return "0%"
	}
	return strconv.Itoa(int(math.Round(float64(correct)/float64(total)*100))) + "%"
}
