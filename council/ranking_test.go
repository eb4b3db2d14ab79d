package council

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRanking(t *testing.T) {
	known := []string{"Response A", "Response B", "Response C"}

	tests := []struct {
		name     string
		text     string
		expected []string
	}{
		{
			name: "Numbered list under marker",
			text: "Response B is thorough. Response A is shallow.\n\nFINAL RANKING:\n1. Response B\n2. Response A\n3. Response C",
			expected: []string{
				"Response B", "Response A", "Response C",
			},
		},
		{
			name:     "Marker present without numbering",
			text:     "Some evaluation text.\nFINAL RANKING:\nResponse C then Response A then Response B",
			expected: []string{"Response C", "Response A", "Response B"},
		},
		{
			name:     "No marker falls back to whole text",
			text:     "I prefer Response B over Response A. Response C is last.",
			expected: []string{"Response B", "Response A", "Response C"},
		},
		{
			name:     "Duplicates keep first position",
			text:     "FINAL RANKING:\n1. Response A\n2. Response A\n3. Response B",
			expected: []string{"Response A", "Response B"},
		},
		{
			name:     "Unknown labels are discarded",
			text:     "FINAL RANKING:\n1. Response Z\n2. Response A\n3. Response B",
			expected: []string{"Response A", "Response B"},
		},
		{
			name:     "Partial ranking is preserved",
			text:     "FINAL RANKING:\n1. Response C",
			expected: []string{"Response C"},
		},
		{
			name:     "Nothing parseable",
			text:     "I cannot rank these.",
			expected: []string{},
		},
		{
			name: "Prose mentions before marker are ignored",
			text: "Response A is weak, Response B is strong.\nFINAL RANKING:\n1. Response B\n2. Response C\n3. Response A",
			expected: []string{
				"Response B", "Response C", "Response A",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, ParseRanking(tt.text, known))
		})
	}
}

func testAssignment(models ...string) Assignment {
	responses := make([]ModelResponse, 0, len(models))
	for _, m := range models {
		responses = append(responses, ModelResponse{Model: m, Response: "answer from " + m, OK: true})
	}
	return Anonymize(responses)
}

func TestAggregateBordaScores(t *testing.T) {
	asg := testAssignment("model-a", "model-b", "model-c")
	rankings := []Ranking{
		{Model: "model-a", ParsedRanking: []string{"Response A", "Response B", "Response C"}},
		{Model: "model-b", ParsedRanking: []string{"Response B", "Response A", "Response C"}},
		{Model: "model-c", ParsedRanking: []string{"Response A", "Response C", "Response B"}},
	}

	agg := Aggregate(rankings, asg)
	require.Len(t, agg.Entries, 3)

	// Position p in a ranking over 3 labels scores 3-p.
	assert.Equal(t, "Response A", agg.Entries[0].Label)
	assert.Equal(t, 5, agg.Entries[0].Score)
	assert.Equal(t, "Response B", agg.Entries[1].Label)
	assert.Equal(t, 3, agg.Entries[1].Score)
	assert.Equal(t, "Response C", agg.Entries[2].Label)
	assert.Equal(t, 1, agg.Entries[2].Score)

	for _, e := range agg.Entries {
		assert.Equal(t, 3, e.RankingsCount)
		assert.Equal(t, asg.LabelToModel[e.Label], e.Model)
	}
}

func TestAggregateTieBreaksByLabel(t *testing.T) {
	asg := testAssignment("model-a", "model-b")
	rankings := []Ranking{
		{Model: "model-a", ParsedRanking: []string{"Response A", "Response B"}},
		{Model: "model-b", ParsedRanking: []string{"Response B", "Response A"}},
	}

	agg := Aggregate(rankings, asg)
	require.Len(t, agg.Entries, 2)
	assert.Equal(t, agg.Entries[0].Score, agg.Entries[1].Score)
	assert.Equal(t, "Response A", agg.Entries[0].Label)
	assert.Equal(t, "Response B", agg.Entries[1].Label)
}

func TestAggregateOmittedLabelsScoreNothing(t *testing.T) {
	asg := testAssignment("model-a", "model-b", "model-c")
	rankings := []Ranking{
		{Model: "model-a", ParsedRanking: []string{"Response B"}},
	}

	agg := Aggregate(rankings, asg)
	require.Len(t, agg.Entries, 3)
	assert.Equal(t, "Response B", agg.Entries[0].Label)
	assert.Equal(t, 2, agg.Entries[0].Score)
	assert.Equal(t, 1, agg.Entries[0].RankingsCount)

	assert.Equal(t, 0, agg.Entries[1].Score)
	assert.Equal(t, 0, agg.Entries[1].RankingsCount)
	assert.Equal(t, 0, agg.Entries[2].Score)
}

func TestAggregateSkipsUnusableRankings(t *testing.T) {
	asg := testAssignment("model-a", "model-b")
	rankings := []Ranking{
		{Model: "model-a", ParsedRanking: nil},
		{Model: "model-b", ParsedRanking: []string{"Response B", "Response A"}},
	}

	agg := Aggregate(rankings, asg)
	assert.Equal(t, "Response B", agg.Entries[0].Label)
	assert.Equal(t, 1, agg.Entries[0].RankingsCount)
}

func TestAggregateNoUsableRankingsFallsBackToCanonicalOrder(t *testing.T) {
	asg := testAssignment("model-b", "model-a", "model-c")

	agg := Aggregate(nil, asg)
	require.Len(t, agg.Entries, 3)
	assert.Equal(t, []AggregateEntry{
		{Label: "Response A", Model: "model-a", Score: 0, RankingsCount: 0},
		{Label: "Response B", Model: "model-b", Score: 0, RankingsCount: 0},
		{Label: "Response C", Model: "model-c", Score: 0, RankingsCount: 0},
	}, agg.Entries)
}
