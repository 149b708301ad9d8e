package publisher

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/propago/internal/common"
	"github.com/ternarybob/propago/internal/interfaces"
	"github.com/ternarybob/propago/internal/models"
)

// StaggerSameSlot redistributes articles that share one scheduled publish
// instant. The oldest article keeps the instant; each younger one moves to
// the next configured slot strictly after it that no article occupies yet,
// walking today's remaining slots first and then tomorrow's in order.
func StaggerSameSlot(ctx context.Context, articles interfaces.ArticleStorage, ws *models.Workspace, slot time.Time, logger arbor.ILogger) error {
	scheduled, err := articles.ArticlesScheduledAt(ctx, ws.ID, slot)
	if err != nil {
		return fmt.Errorf("failed to load articles for slot: %w", err)
	}
	if len(scheduled) <= 1 {
		return nil
	}

	candidates := slotsAfter(ws.PublishTimes, slot)

	// Oldest-created keeps the slot; the rest move
	for _, article := range scheduled[1:] {
		var next *time.Time
		for len(candidates) > 0 {
			candidate := candidates[0]
			candidates = candidates[1:]

			occupants, err := articles.ArticlesScheduledAt(ctx, ws.ID, candidate)
			if err != nil {
				return fmt.Errorf("failed to check slot occupancy: %w", err)
			}
			if len(occupants) == 0 {
				next = &candidate
				break
			}
		}
		if next == nil {
			// Both days exhausted; the article keeps its contended slot
			logger.Warn().
				Str("workspace_id", ws.ID).
				Str("article_id", article.ID).
				Msg("No free publish slot within two days, leaving article in place")
			break
		}

		article.ScheduledPublishAt = next
		if err := articles.SaveArticle(ctx, article); err != nil {
			return fmt.Errorf("failed to restagger article %s: %w", article.ID, err)
		}
		logger.Debug().
			Str("workspace_id", ws.ID).
			Str("article_id", article.ID).
			Str("scheduled_at", next.Format(time.RFC3339)).
			Msg("Article moved to a later publish slot")
	}
	return nil
}

// NextPublishSlot returns the first configured slot strictly after the
// instant: today's next slot, or tomorrow's first when today is exhausted.
// publishTimes must be non-empty and validated.
func NextPublishSlot(publishTimes []string, after time.Time) time.Time {
	return slotsAfter(publishTimes, after)[0]
}

// slotsAfter returns the configured slot instants strictly after the given
// instant: the rest of its calendar day first, then all of the next day, in
// wall-clock order.
func slotsAfter(publishTimes []string, after time.Time) []time.Time {
	clocks := make([]common.WallClock, 0, len(publishTimes))
	for _, hhmm := range publishTimes {
		clocks = append(clocks, common.MustParseWallClock(hhmm))
	}
	sort.Slice(clocks, func(i, j int) bool {
		if clocks[i].Hour != clocks[j].Hour {
			return clocks[i].Hour < clocks[j].Hour
		}
		return clocks[i].Minute < clocks[j].Minute
	})

	var out []time.Time
	for _, wc := range clocks {
		if t := wc.On(after); t.After(after) {
			out = append(out, t)
		}
	}
	tomorrow := after.In(common.ScheduleLocation()).AddDate(0, 0, 1)
	for _, wc := range clocks {
		out = append(out, wc.On(tomorrow))
	}
	return out
}
