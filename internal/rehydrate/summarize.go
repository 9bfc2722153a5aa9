package rehydrate

import (
	"context"
	"sort"
	"strings"

	"acms/internal/domain"
	"acms/internal/embedding"
)

// summaryGroupKey buckets selected items by topic and day (spec.md §4.6
// step 6), the topic and day bucketing internal/tier's consolidation groups
// also use (tier adds the target tier as a third key), for the same reason: items from one topic on one day tend to be one
// narrative thread worth summarizing together.
type summaryGroupKey struct {
	topicID string
	day     string
}

func groupForSummary(items []decryptedCandidate) [][]decryptedCandidate {
	groups := make(map[summaryGroupKey][]decryptedCandidate)
	var order []summaryGroupKey
	for _, c := range items {
		key := summaryGroupKey{topicID: c.Item.TopicID, day: c.Item.CreatedAt.UTC().Format("2006-01-02")}
		if _, ok := groups[key]; !ok {
			order = append(order, key)
		}
		groups[key] = append(groups[key], c)
	}
	out := make([][]decryptedCandidate, 0, len(order))
	for _, key := range order {
		out = append(out, groups[key])
	}
	return out
}

// summarizeGroups commissions one summary per topic/day group, each bounded
// by its proportional share of totalTokens (spec.md §4.6 step 6), and
// concatenates them with a trailing source-id list per group.
//
// A deadline that expires mid-run must not discard groups already
// summarized (spec.md §5 "Deadlines that expire during summarization MUST
// return a best-effort partial bundle"): summarizeGroups checks ctx before
// starting each group and, on expiry there or a Summarize call that fails
// because the context was cancelled, returns what it has with completed set
// to the number of groups whose summary made it into the result. A
// non-deadline Summarize failure is still a hard error, since that's a
// backend fault, not exhausted time.
func summarizeGroups(ctx context.Context, summarizer embedding.Summarizer, groups [][]decryptedCandidate, intent Intent, totalTokens int) (summary string, completed int, err error) {
	totalItems := 0
	for _, g := range groups {
		totalItems += len(g)
	}
	if totalItems == 0 {
		return "", 0, nil
	}

	var parts []string
	for _, group := range groups {
		if ctx.Err() != nil {
			return strings.Join(parts, "\n\n---\n\n"), len(parts), nil
		}

		texts := make([]string, len(group))
		ids := make([]string, len(group))
		for i, c := range group {
			texts[i] = c.Text
			ids[i] = c.Item.ID
		}
		sort.Strings(ids)

		share := totalTokens * len(group) / totalItems
		if share < 16 {
			share = 16
		}

		groupSummary, sumErr := summarizer.Summarize(ctx, texts, string(intent), share)
		if sumErr != nil {
			if ctx.Err() != nil {
				return strings.Join(parts, "\n\n---\n\n"), len(parts), nil
			}
			return "", len(parts), domain.Wrap(domain.KindInternal, "commission rehydration group summary", sumErr)
		}
		parts = append(parts, groupSummary+"\n\nSources: "+strings.Join(ids, ", "))
	}
	return strings.Join(parts, "\n\n---\n\n"), len(parts), nil
}
