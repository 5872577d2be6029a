package ranking

import (
	"context"
	"fmt"
	"sort"
	"strings"
)

// HeuristicRanker scores candidates locally from overlapping profile fields.
// It is deterministic and is used when no model API key is configured.
type HeuristicRanker struct{}

func (HeuristicRanker) Rank(_ context.Context, viewer Profile, candidates []Profile) ([]Ranked, error) {
	mine := make(map[string]bool, len(viewer.Interests))
	for _, s := range viewer.Interests {
		mine[strings.ToLower(s)] = true
	}

	out := make([]Ranked, 0, len(candidates))
	for _, c := range candidates {
		score := MinScore
		var why []string

		var shared []string
		for _, s := range c.Interests {
			if mine[strings.ToLower(s)] {
				shared = append(shared, s)
			}
		}
		if len(shared) > 0 {
			score += 8 * len(shared)
			why = append(why, "shared interests: "+strings.Join(shared, ", "))
		}
		if c.University != "" && strings.EqualFold(c.University, viewer.University) {
			score += 8
			why = append(why, "same university")
		}
		if c.Major != "" && strings.EqualFold(c.Major, viewer.Major) {
			score += 10
			why = append(why, "same major")
		}
		if c.StudyStyle != "" && strings.EqualFold(c.StudyStyle, viewer.StudyStyle) {
			score += 5
			why = append(why, fmt.Sprintf("both prefer %s study", c.StudyStyle))
		}
		if viewer.Year > 0 && c.Year > 0 && abs(viewer.Year-c.Year) <= 1 {
			score += 4
			why = append(why, "similar year")
		}

		reason := "Open to new study partners"
		if len(why) > 0 {
			reason = strings.Join(why, "; ")
		}
		out = append(out, Ranked{UserID: c.UserID, Score: clamp(score), Reasoning: reason})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	return out, nil
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}
