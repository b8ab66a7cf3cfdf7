package progress

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/pavelanni/pmpcoach/internal/levels"
	"github.com/pavelanni/pmpcoach/internal/model"
)

// Rank is the title earned by the number of study sessions. TitleID is
// an i18n message id.
type Rank struct {
	Level   int    `json:"level"`
	TitleID string `json:"-"`
}

var ranks = []struct {
	minSessions int
	rank        Rank
}{
	{50, Rank{6, "RankLegend"}},
	{25, Rank{5, "RankProgramDirector"}},
	{15, Rank{4, "RankProjectManager"}},
	{10, Rank{3, "RankCoordinator"}},
	{5, Rank{2, "RankAssistant"}},
	{0, Rank{1, "RankNovice"}},
}

// RankFor returns the rank for a study session count.
func RankFor(sessions int) Rank {
	for _, r := range ranks {
		if sessions >= r.minSessions {
			return r.rank
		}
	}
	return ranks[len(ranks)-1].rank
}

// Dashboard summarizes a user's progress.
type Dashboard struct {
	CompletedLevels []string      `json:"completed_levels"`
	Stats           model.Stats   `json:"stats"`
	MasteredAreas   int           `json:"mastered_areas"`
	NextLevel       *levels.Level `json:"next_level,omitempty"`
	Sessions        int           `json:"sessions"`
	Streak          int           `json:"streak"`
	Rank            Rank          `json:"rank"`
}

// Dashboard assembles the user's dashboard.
func (s *Service) Dashboard(ctx context.Context, userID string) (*Dashboard, error) {
	p, err := s.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	sessions, err := s.store.ListStudySessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list study sessions: %w", err)
	}

	done := levels.Set(p.CompletedLevels)
	d := &Dashboard{
		CompletedLevels: p.CompletedLevels,
		Stats:           p.Stats,
		MasteredAreas:   s.catalog.MasteredWorlds(done),
		Sessions:        len(sessions),
		Streak:          Streak(sessions, s.now()),
		Rank:            RankFor(len(sessions)),
	}
	if next, ok := s.catalog.NextLevel(done); ok {
		d.NextLevel = &next
	}
	return d, nil
}

// Streak counts consecutive calendar days with at least one study
// session, ending today or yesterday.
func Streak(sessions []model.StudySession, now time.Time) int {
	if len(sessions) == 0 {
		return 0
	}
	loc := now.Location()
	days := make(map[time.Time]bool, len(sessions))
	var sorted []time.Time
	for _, ss := range sessions {
		d := day(ss.CreatedAt.In(loc))
		if !days[d] {
			days[d] = true
			sorted = append(sorted, d)
		}
	}
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].After(sorted[j]) })

	today := day(now)
	if sorted[0].Before(today.AddDate(0, 0, -1)) {
		return 0
	}
	streak := 1
	for i := 1; i < len(sorted); i++ {
		if !sorted[i].Equal(sorted[i-1].AddDate(0, 0, -1)) {
			break
		}
		streak++
	}
	return streak
}

func day(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
