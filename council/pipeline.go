package council

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/councild/councild/models"
)

// ErrAllModelsFailed is the Stage-1 fatal condition: no council member
// produced a usable response.
var ErrAllModelsFailed = errors.New("all models failed to respond")

// Options is the configuration surface the pipeline consumes. It is owned by
// the caller (services.Config), not by the engine.
type Options struct {
	Models        []string      // council roster queried in Stage 1 and Stage 2
	Synthesizer   string        // chairman model, single Stage-3 call
	TitleModel    string        // small model used for title generation
	ContextWindow int           // prior turns included as context, oldest first
	CallTimeout   time.Duration // mandatory per-call timeout
	SelfRanking   bool          // whether a reviewer's own label stays in its ranking
}

// Pipeline drives the three-stage council run: parallel generation,
// anonymized peer ranking with Borda aggregation, and chairman synthesis.
// One Pipeline serves all conversations; each Run is independent except for
// the per-conversation append lock.
type Pipeline struct {
	gateway Gateway
	store   ConversationStore
	opts    Options

	mu          sync.Mutex
	appendLocks map[string]*sync.Mutex
}

func NewPipeline(gateway Gateway, store ConversationStore, opts Options) *Pipeline {
	return &Pipeline{
		gateway:     gateway,
		store:       store,
		opts:        opts,
		appendLocks: make(map[string]*sync.Mutex),
	}
}

// run carries the mutable state of one execution.
type run struct {
	id             string
	conversationID string
	query          string
	history        string
	firstTurn      bool
	state          State
	sink           EventSink
}

func (r *run) transition(next State) {
	slog.Debug("Pipeline state transition", "run_id", r.id, "from", r.state.String(), "to", next.String())
	r.state = next
}

func (r *run) emit(ev Event) {
	if err := r.sink.Publish(ev); err != nil {
		slog.Warn("Failed to publish run event", "run_id", r.id, "type", string(ev.Type), "error", err)
	}
}

func (r *run) fail(message string) {
	r.transition(StateFailed)
	r.emit(Event{Type: EventError, Message: message})
}

// Run executes one full council run for one user message. Events are
// published to sink in the fixed order stage1_start .. complete, with
// title_complete trailing when title generation succeeds; on unrecoverable
// error the sequence ends with an error event and no turn is persisted.
// Cancellation is honored between stage boundaries only: in-flight gateway
// calls settle under their own timeouts.
func (p *Pipeline) Run(ctx context.Context, conversationID, userText string, sink EventSink) (*RunResult, error) {
	conv, err := p.store.Get(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}

	r := &run{
		id:             uuid.New().String(),
		conversationID: conversationID,
		query:          userText,
		history:        FormatHistory(conv.Turns, p.opts.ContextWindow),
		firstTurn:      len(conv.Turns) == 0,
		state:          StateIdle,
		sink:           sink,
	}

	slog.Info("Council run started",
		"run_id", r.id,
		"conversation_id", conversationID,
		"models", len(p.opts.Models),
		"history_turns", min(len(conv.Turns), p.opts.ContextWindow))

	// Stage 1: parallel generation.
	r.transition(StateStage1Running)
	r.emit(Event{Type: EventStage1Start})
	stage1 := p.fanOut(ctx, p.opts.Models, Stage1Prompt(userText, r.history))
	r.emit(Event{Type: EventStage1Complete, Data: stage1})
	r.transition(StateStage1Done)

	successes := successful(stage1)
	if len(successes) == 0 {
		r.fail(ErrAllModelsFailed.Error())
		return nil, ErrAllModelsFailed
	}
	if err := ctx.Err(); err != nil {
		r.fail("run cancelled")
		return nil, err
	}

	// Stage 2: anonymized peer ranking and aggregation.
	r.transition(StateStage2Running)
	r.emit(Event{Type: EventStage2Start})
	asg := Anonymize(successes)
	var rankings []Ranking
	if len(successes) > 1 {
		rankings = p.collectRankings(ctx, r, asg)
	} else {
		// No peer review is possible with a single survivor; the aggregate
		// degrades to that one label at rank 1 and no ranking calls are made.
		slog.Info("Stage 2 skipped, single successful response", "run_id", r.id, "model", successes[0].Model)
	}
	agg := Aggregate(rankings, asg)
	meta := StageMetadata{LabelToModel: asg.LabelToModel, AggregateRankings: agg.Entries}
	r.emit(Event{Type: EventStage2Complete, Data: rankings, Metadata: meta})
	r.transition(StateStage2Done)

	if err := ctx.Err(); err != nil {
		r.fail("run cancelled")
		return nil, err
	}

	// Stage 3: single synthesis call; failure is fatal, no fallback chairman.
	r.transition(StateStage3Running)
	r.emit(Event{Type: EventStage3Start})
	text, err := p.gateway.Invoke(ctx, p.opts.Synthesizer, SynthesisPrompt(userText, r.history, successes, agg), p.opts.CallTimeout)
	if err != nil {
		slog.Error("Synthesis failed", "run_id", r.id, "model", p.opts.Synthesizer, "error", err)
		r.fail(fmt.Sprintf("synthesis failed: %v", err))
		return nil, fmt.Errorf("synthesis failed: %w", err)
	}
	final := FinalAnswer{Model: p.opts.Synthesizer, Response: text}
	r.emit(Event{Type: EventStage3Complete, Data: final})

	// Completed: one atomic append per run, serialized per conversation.
	turn, err := buildTurn(conversationID, userText, stage1, rankings, final, meta)
	if err != nil {
		r.fail(fmt.Sprintf("failed to encode turn: %v", err))
		return nil, err
	}
	if err := p.appendTurn(ctx, conversationID, turn); err != nil {
		slog.Error("Failed to persist turn", "run_id", r.id, "conversation_id", conversationID, "error", err)
		r.fail(fmt.Sprintf("failed to persist turn: %v", err))
		return nil, fmt.Errorf("failed to persist turn: %w", err)
	}
	r.transition(StateCompleted)

	r.emit(Event{Type: EventComplete})

	// Title generation runs after complete so it can never delay the run
	// outcome; the trailing title_complete is emitted only if it succeeds.
	if r.firstTurn {
		p.generateTitle(ctx, r)
	}

	slog.Info("Council run completed", "run_id", r.id, "conversation_id", conversationID)
	return &RunResult{
		Stage1:    stage1,
		Stage2:    rankings,
		Stage3:    final,
		Aggregate: agg,
		Metadata:  meta,
	}, nil
}

// fanOut queries every model concurrently and joins with a wait-for-all
// barrier. Each task writes exactly one pre-sized slot; completion order is
// never observed. Failures settle as ModelResponse entries rather than
// short-circuiting the stage.
func (p *Pipeline) fanOut(ctx context.Context, roster []string, prompt string) []ModelResponse {
	out := make([]ModelResponse, len(roster))
	var wg sync.WaitGroup
	for i, model := range roster {
		wg.Add(1)
		go func(i int, model string) {
			defer wg.Done()
			start := time.Now()
			text, err := p.gateway.Invoke(ctx, model, prompt, p.opts.CallTimeout)
			latency := time.Since(start).Milliseconds()
			if err != nil {
				slog.Warn("Model call failed", "model", model, "latency_ms", latency, "error", err)
				out[i] = ModelResponse{Model: model, OK: false, Error: err.Error(), LatencyMS: latency}
				return
			}
			out[i] = ModelResponse{Model: model, Response: text, OK: true, LatencyMS: latency}
		}(i, model)
	}
	wg.Wait()
	return out
}

// collectRankings fans the ranking prompt out to the full roster and parses
// each reply. Reviewers that fail or return nothing parseable are dropped
// from the result entirely.
func (p *Pipeline) collectRankings(ctx context.Context, r *run, asg Assignment) []Ranking {
	prompt := RankingPrompt(r.query, r.history, asg.Responses)
	replies := p.fanOut(ctx, p.opts.Models, prompt)

	rankings := make([]Ranking, 0, len(replies))
	for _, reply := range replies {
		if !reply.OK {
			continue
		}
		parsed := ParseRanking(reply.Response, asg.Labels)
		if !p.opts.SelfRanking {
			parsed = stripLabel(parsed, asg.ModelToLabel[reply.Model])
		}
		rankings = append(rankings, Ranking{
			Model:         reply.Model,
			Ranking:       reply.Response,
			ParsedRanking: parsed,
		})
	}
	return rankings
}

func (p *Pipeline) appendTurn(ctx context.Context, conversationID string, turn *models.Turn) error {
	lock := p.conversationLock(conversationID)
	lock.Lock()
	defer lock.Unlock()
	return p.store.AppendTurn(ctx, conversationID, turn)
}

func (p *Pipeline) conversationLock(conversationID string) *sync.Mutex {
	p.mu.Lock()
	defer p.mu.Unlock()
	lock, ok := p.appendLocks[conversationID]
	if !ok {
		lock = &sync.Mutex{}
		p.appendLocks[conversationID] = lock
	}
	return lock
}

// generateTitle makes the side call for the conversation's first title. Any
// failure only suppresses title_complete; the run is already complete.
func (p *Pipeline) generateTitle(ctx context.Context, r *run) {
	text, err := p.gateway.Invoke(ctx, p.opts.TitleModel, TitlePrompt(r.query), p.opts.CallTimeout)
	if err != nil {
		slog.Warn("Title generation failed", "run_id", r.id, "conversation_id", r.conversationID, "error", err)
		return
	}

	title := cleanTitle(text, r.query)
	if err := p.store.UpdateTitle(ctx, r.conversationID, title); err != nil {
		slog.Warn("Failed to store generated title", "conversation_id", r.conversationID, "error", err)
		return
	}
	r.emit(Event{Type: EventTitleComplete, Data: map[string]string{"title": title}})
}

func cleanTitle(text, query string) string {
	title := strings.Trim(strings.TrimSpace(text), `"'`)
	if len(title) > 50 {
		title = title[:47] + "..."
	}
	if title == "" {
		words := strings.Fields(query)
		if len(words) > 4 {
			words = words[:4]
		}
		title = strings.Join(words, " ") + "..."
	}
	return title
}

func buildTurn(conversationID, userText string, stage1 []ModelResponse, stage2 []Ranking, final FinalAnswer, meta StageMetadata) (*models.Turn, error) {
	stage1JSON, err := json.Marshal(stage1)
	if err != nil {
		return nil, err
	}
	stage2JSON, err := json.Marshal(stage2)
	if err != nil {
		return nil, err
	}
	stage3JSON, err := json.Marshal(final)
	if err != nil {
		return nil, err
	}
	metaJSON, err := json.Marshal(meta)
	if err != nil {
		return nil, err
	}

	return &models.Turn{
		ID:             uuid.New().String(),
		ConversationID: conversationID,
		UserContent:    userText,
		Stage1:         stage1JSON,
		Stage2:         stage2JSON,
		Stage3:         stage3JSON,
		Metadata:       metaJSON,
	}, nil
}

func successful(responses []ModelResponse) []ModelResponse {
	out := make([]ModelResponse, 0, len(responses))
	for _, r := range responses {
		if r.OK {
			out = append(out, r)
		}
	}
	return out
}

func stripLabel(labels []string, self string) []string {
	if self == "" {
		return labels
	}
	out := labels[:0]
	for _, l := range labels {
		if l != self {
			out = append(out, l)
		}
	}
	return out
}
