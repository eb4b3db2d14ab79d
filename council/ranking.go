package council

import (
	"regexp"
	"sort"
	"strings"
)

var (
	numberedLabelRe = regexp.MustCompile(`\d+\.\s*Response [A-Z]`)
	labelRe         = regexp.MustCompile(`Response [A-Z]`)
)

// ParseRanking extracts an ordered list of labels from a reviewer's free-form
// ranking text. It prefers the numbered list under the "FINAL RANKING:"
// marker, falls back to label occurrences in that section, and finally to
// label occurrences anywhere in the text. Unknown labels are discarded and
// duplicates keep their first position. An empty result marks the ranking
// unusable.
func ParseRanking(text string, known []string) []string {
	knownSet := make(map[string]bool, len(known))
	for _, l := range known {
		knownSet[l] = true
	}

	section := text
	if _, after, found := strings.Cut(text, "FINAL RANKING:"); found {
		section = after
		if numbered := numberedLabelRe.FindAllString(section, -1); len(numbered) > 0 {
			labels := make([]string, 0, len(numbered))
			for _, m := range numbered {
				labels = append(labels, labelRe.FindString(m))
			}
			return dedupeKnown(labels, knownSet)
		}
	}

	return dedupeKnown(labelRe.FindAllString(section, -1), knownSet)
}

func dedupeKnown(labels []string, known map[string]bool) []string {
	seen := make(map[string]bool, len(labels))
	out := make([]string, 0, len(labels))
	for _, l := range labels {
		if !known[l] || seen[l] {
			continue
		}
		seen[l] = true
		out = append(out, l)
	}
	return out
}

// Aggregate merges the reviewer rankings into one consensus order using a
// Borda count: a label at 1-based position p in a ranking over n labels
// scores n-p from that reviewer. Labels a reviewer omitted score nothing
// from it; reviewers with no usable parsed ranking are dropped entirely. If
// no reviewer produced a usable ranking the result degrades to canonical
// label order rather than failing the run. Ties break by canonical label
// order, never arrival order, so the result is deterministic for identical
// inputs.
func Aggregate(rankings []Ranking, asg Assignment) AggregateRanking {
	n := len(asg.Labels)
	scores := make(map[string]int, n)
	counts := make(map[string]int, n)

	for _, r := range rankings {
		if len(r.ParsedRanking) == 0 {
			continue
		}
		for i, label := range r.ParsedRanking {
			if _, ok := asg.LabelToModel[label]; !ok {
				continue
			}
			scores[label] += n - (i + 1)
			counts[label]++
		}
	}

	entries := make([]AggregateEntry, 0, n)
	for _, label := range asg.Labels {
		entries = append(entries, AggregateEntry{
			Label:         label,
			Model:         asg.LabelToModel[label],
			Score:         scores[label],
			RankingsCount: counts[label],
		})
	}
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].Label < entries[j].Label
	})

	return AggregateRanking{Entries: entries, LabelToModel: asg.LabelToModel}
}
