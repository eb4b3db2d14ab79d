package council

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/councild/councild/models"
	"github.com/councild/councild/repository"
)

type gatewayCall struct {
	model  string
	prompt string
}

type fakeGateway struct {
	mu      sync.Mutex
	calls   []gatewayCall
	respond func(model, prompt string) (string, error)
}

func (g *fakeGateway) Invoke(ctx context.Context, model, prompt string, timeout time.Duration) (string, error) {
	g.mu.Lock()
	g.calls = append(g.calls, gatewayCall{model: model, prompt: prompt})
	g.mu.Unlock()
	return g.respond(model, prompt)
}

func (g *fakeGateway) callCount(predicate func(gatewayCall) bool) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	n := 0
	for _, c := range g.calls {
		if predicate(c) {
			n++
		}
	}
	return n
}

type captureSink struct {
	mu     sync.Mutex
	events []Event
}

func (s *captureSink) Publish(ev Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *captureSink) types() []EventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]EventType, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Type)
	}
	return out
}

func isRankingPrompt(prompt string) bool {
	return strings.Contains(prompt, "FINAL RANKING")
}

func isTitlePrompt(prompt string) bool {
	return strings.Contains(prompt, "Generate a very short title")
}

// happyResponder answers every prompt kind sensibly for a three model roster.
func happyResponder(model, prompt string) (string, error) {
	switch {
	case isTitlePrompt(prompt):
		return "Generated Title", nil
	case isRankingPrompt(prompt):
		return "All fine.\nFINAL RANKING:\n1. Response A\n2. Response B\n3. Response C", nil
	default:
		return "answer from " + model, nil
	}
}

func newTestPipeline(t *testing.T, gateway Gateway, roster []string) (*Pipeline, *repository.MemoryStore, string) {
	t.Helper()
	store := repository.NewMemoryStore()
	conv, err := store.Create(context.Background())
	require.NoError(t, err)

	p := NewPipeline(gateway, store, Options{
		Models:        roster,
		Synthesizer:   "chairman",
		TitleModel:    "title-model",
		ContextWindow: 6,
		CallTimeout:   time.Second,
		SelfRanking:   true,
	})
	return p, store, conv.ID
}

func TestRunEmitsEventsInOrder(t *testing.T) {
	// Uneven per-model latency must not reorder the emitted events.
	delays := map[string]time.Duration{
		"model-a": 30 * time.Millisecond,
		"model-b": 5 * time.Millisecond,
		"model-c": 15 * time.Millisecond,
	}
	gateway := &fakeGateway{respond: func(model, prompt string) (string, error) {
		time.Sleep(delays[model])
		return happyResponder(model, prompt)
	}}
	roster := []string{"model-a", "model-b", "model-c"}
	p, store, convID := newTestPipeline(t, gateway, roster)

	sink := &captureSink{}
	result, err := p.Run(context.Background(), convID, "what is two plus two?", sink)
	require.NoError(t, err)

	assert.Equal(t, []EventType{
		EventStage1Start,
		EventStage1Complete,
		EventStage2Start,
		EventStage2Complete,
		EventStage3Start,
		EventStage3Complete,
		EventComplete,
		EventTitleComplete,
	}, sink.types())

	require.Len(t, result.Stage1, 3)
	for _, r := range result.Stage1 {
		assert.True(t, r.OK)
	}
	require.Len(t, result.Stage2, 3)
	assert.Equal(t, "chairman", result.Stage3.Model)
	assert.NotEmpty(t, result.Stage3.Response)

	conv, err := store.Get(context.Background(), convID)
	require.NoError(t, err)
	require.Len(t, conv.Turns, 1)
	assert.Equal(t, 1, conv.Turns[0].Seq)
	assert.Equal(t, "what is two plus two?", conv.Turns[0].UserContent)
	assert.Equal(t, "Generated Title", conv.Title)
}

func TestRunSecondTurnSkipsTitle(t *testing.T) {
	gateway := &fakeGateway{respond: happyResponder}
	p, _, convID := newTestPipeline(t, gateway, []string{"model-a", "model-b", "model-c"})

	_, err := p.Run(context.Background(), convID, "first question", &captureSink{})
	require.NoError(t, err)

	sink := &captureSink{}
	_, err = p.Run(context.Background(), convID, "second question", sink)
	require.NoError(t, err)

	types := sink.types()
	assert.Equal(t, EventComplete, types[len(types)-1])
	assert.NotContains(t, types, EventTitleComplete)
	assert.Equal(t, 1, gateway.callCount(func(c gatewayCall) bool { return c.model == "title-model" }))
}

func TestRunSingleSuccessSkipsRankingCalls(t *testing.T) {
	gateway := &fakeGateway{respond: func(model, prompt string) (string, error) {
		switch {
		case isTitlePrompt(prompt):
			return "Title", nil
		case model == "model-a" || model == "chairman":
			return "lone answer", nil
		default:
			return "", &BackendError{Model: model, Reason: FailureProvider, Err: errors.New("boom")}
		}
	}}
	p, _, convID := newTestPipeline(t, gateway, []string{"model-a", "model-b", "model-c"})

	sink := &captureSink{}
	result, err := p.Run(context.Background(), convID, "hello?", sink)
	require.NoError(t, err)

	assert.Zero(t, gateway.callCount(func(c gatewayCall) bool { return isRankingPrompt(c.prompt) }))
	assert.Empty(t, result.Stage2)
	require.Len(t, result.Metadata.AggregateRankings, 1)
	assert.Equal(t, "model-a", result.Metadata.AggregateRankings[0].Model)
	assert.Contains(t, sink.types(), EventStage2Complete)
}

func TestRunAllModelsFailed(t *testing.T) {
	gateway := &fakeGateway{respond: func(model, prompt string) (string, error) {
		return "", &BackendError{Model: model, Reason: FailureTimeout, Err: context.DeadlineExceeded}
	}}
	p, store, convID := newTestPipeline(t, gateway, []string{"model-a", "model-b"})

	sink := &captureSink{}
	_, err := p.Run(context.Background(), convID, "anyone there?", sink)
	require.ErrorIs(t, err, ErrAllModelsFailed)

	assert.Equal(t, []EventType{EventStage1Start, EventStage1Complete, EventError}, sink.types())

	conv, err := store.Get(context.Background(), convID)
	require.NoError(t, err)
	assert.Empty(t, conv.Turns)
}

func TestRunSynthesisFailureDoesNotPersist(t *testing.T) {
	gateway := &fakeGateway{respond: func(model, prompt string) (string, error) {
		if model == "chairman" {
			return "", &BackendError{Model: model, Reason: FailureProvider, Err: errors.New("overloaded")}
		}
		return happyResponder(model, prompt)
	}}
	p, store, convID := newTestPipeline(t, gateway, []string{"model-a", "model-b", "model-c"})

	sink := &captureSink{}
	_, err := p.Run(context.Background(), convID, "please synthesize", sink)
	require.Error(t, err)

	types := sink.types()
	assert.Equal(t, EventError, types[len(types)-1])
	assert.NotContains(t, types, EventStage3Complete)
	assert.NotContains(t, types, EventComplete)

	conv, err := store.Get(context.Background(), convID)
	require.NoError(t, err)
	assert.Empty(t, conv.Turns)
}

func TestRunTitleFailureSuppressesTitleEvent(t *testing.T) {
	gateway := &fakeGateway{respond: func(model, prompt string) (string, error) {
		if isTitlePrompt(prompt) {
			return "", &BackendError{Model: model, Reason: FailureTransport, Err: errors.New("connection reset")}
		}
		return happyResponder(model, prompt)
	}}
	p, store, convID := newTestPipeline(t, gateway, []string{"model-a", "model-b", "model-c"})

	sink := &captureSink{}
	_, err := p.Run(context.Background(), convID, "first message", sink)
	require.NoError(t, err)

	types := sink.types()
	assert.Equal(t, EventComplete, types[len(types)-1])
	assert.NotContains(t, types, EventTitleComplete)

	conv, err := store.Get(context.Background(), convID)
	require.NoError(t, err)
	require.Len(t, conv.Turns, 1)
	assert.Equal(t, models.DefaultTitle, conv.Title)
}

type failingAppendStore struct {
	ConversationStore
}

func (s *failingAppendStore) AppendTurn(ctx context.Context, conversationID string, turn *models.Turn) error {
	return errors.New("disk full")
}

func TestRunPersistenceFailure(t *testing.T) {
	gateway := &fakeGateway{respond: happyResponder}
	memory := repository.NewMemoryStore()
	conv, err := memory.Create(context.Background())
	require.NoError(t, err)

	p := NewPipeline(gateway, &failingAppendStore{ConversationStore: memory}, Options{
		Models:        []string{"model-a", "model-b", "model-c"},
		Synthesizer:   "chairman",
		TitleModel:    "title-model",
		ContextWindow: 6,
		CallTimeout:   time.Second,
		SelfRanking:   true,
	})

	sink := &captureSink{}
	_, err = p.Run(context.Background(), conv.ID, "store this", sink)
	require.Error(t, err)

	types := sink.types()
	assert.Contains(t, types, EventStage3Complete)
	assert.Equal(t, EventError, types[len(types)-1])
	assert.NotContains(t, types, EventComplete)
}

func TestRunSelfRankingDisabledStripsOwnLabel(t *testing.T) {
	gateway := &fakeGateway{respond: happyResponder}
	store := repository.NewMemoryStore()
	conv, err := store.Create(context.Background())
	require.NoError(t, err)

	p := NewPipeline(gateway, store, Options{
		Models:        []string{"model-a", "model-b", "model-c"},
		Synthesizer:   "chairman",
		TitleModel:    "title-model",
		ContextWindow: 6,
		CallTimeout:   time.Second,
		SelfRanking:   false,
	})

	result, err := p.Run(context.Background(), conv.ID, "rank yourselves", &captureSink{})
	require.NoError(t, err)

	// Sorted roster maps model-a to Response A and so on; with self-ranking
	// disabled each reviewer's own label is struck from its parsed list.
	require.Len(t, result.Stage2, 3)
	for _, r := range result.Stage2 {
		own := map[string]string{
			"model-a": "Response A",
			"model-b": "Response B",
			"model-c": "Response C",
		}[r.Model]
		assert.NotContains(t, r.ParsedRanking, own)
		assert.Len(t, r.ParsedRanking, 2)
	}
}

func TestConcurrentRunsSameConversation(t *testing.T) {
	gateway := &fakeGateway{respond: happyResponder}
	p, store, convID := newTestPipeline(t, gateway, []string{"model-a", "model-b", "model-c"})

	var wg sync.WaitGroup
	errs := make([]error, 2)
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = p.Run(context.Background(), convID, fmt.Sprintf("concurrent message %d", i), &captureSink{})
		}(i)
	}
	wg.Wait()

	require.NoError(t, errs[0])
	require.NoError(t, errs[1])

	conv, err := store.Get(context.Background(), convID)
	require.NoError(t, err)
	require.Len(t, conv.Turns, 2)
	assert.Equal(t, 1, conv.Turns[0].Seq)
	assert.Equal(t, 2, conv.Turns[1].Seq)
}
