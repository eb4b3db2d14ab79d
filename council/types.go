package council

import (
	"context"

	"github.com/councild/councild/models"
)

// ModelResponse is the settled outcome of one Stage-1 call to one model.
// Created once per model per fan-out and never mutated.
type ModelResponse struct {
	Model     string `json:"model"`
	Response  string `json:"response,omitempty"`
	OK        bool   `json:"ok"`
	Error     string `json:"error,omitempty"`
	LatencyMS int64  `json:"latency_ms"`
}

// Ranking is one reviewing model's ordering of the anonymized responses.
// ParsedRanking may be partial when the reviewer omitted labels; an empty
// ParsedRanking marks the ranking unusable for aggregation.
type Ranking struct {
	Model         string   `json:"model"`
	Ranking       string   `json:"ranking"`
	ParsedRanking []string `json:"parsed_ranking"`
}

// AggregateEntry is one row of the consensus ranking, best first.
type AggregateEntry struct {
	Label         string `json:"label"`
	Model         string `json:"model"`
	Score         int    `json:"score"`
	RankingsCount int    `json:"rankings_count"`
}

// AggregateRanking is the merged consensus over all usable reviewer
// rankings, plus the reverse map needed to deanonymize for display.
type AggregateRanking struct {
	Entries      []AggregateEntry  `json:"entries"`
	LabelToModel map[string]string `json:"label_to_model"`
}

// FinalAnswer is the chairman's synthesized response.
type FinalAnswer struct {
	Model    string `json:"model"`
	Response string `json:"response"`
}

// StageMetadata accompanies stage2_complete and the persisted turn.
type StageMetadata struct {
	LabelToModel      map[string]string `json:"label_to_model"`
	AggregateRankings []AggregateEntry  `json:"aggregate_rankings"`
}

// RunResult collects everything a completed run produced, for callers that
// want the blocking (non-streaming) interface.
type RunResult struct {
	Stage1    []ModelResponse  `json:"stage1"`
	Stage2    []Ranking        `json:"stage2"`
	Stage3    FinalAnswer      `json:"stage3"`
	Aggregate AggregateRanking `json:"-"`
	Metadata  StageMetadata    `json:"metadata"`
}

// ConversationStore is the persistence interface the pipeline consumes.
// AppendTurn must be a single atomic append; the pipeline additionally
// serializes completion-time appends per conversation id.
type ConversationStore interface {
	Create(ctx context.Context) (*models.Conversation, error)
	Get(ctx context.Context, id string) (*models.Conversation, error)
	List(ctx context.Context) ([]models.ConversationSummary, error)
	Delete(ctx context.Context, id string) error
	UpdateTitle(ctx context.Context, id, title string) error
	AppendTurn(ctx context.Context, conversationID string, turn *models.Turn) error
}
