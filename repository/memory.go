package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/councild/councild/models"
)

// MemoryStore is an in-process conversation store used when no database is
// configured, and by tests. Turns are copied on read so callers never share
// slices with the store.
type MemoryStore struct {
	mu            sync.Mutex
	conversations map[string]*models.Conversation
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{conversations: make(map[string]*models.Conversation)}
}

func (s *MemoryStore) Create(ctx context.Context) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	conv := &models.Conversation{
		ID:        uuid.New().String(),
		Title:     models.DefaultTitle,
		CreatedAt: now,
		UpdatedAt: now,
	}
	s.conversations[conv.ID] = conv
	return copyConversation(conv), nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return nil, ErrConversationNotFound
	}
	return copyConversation(conv), nil
}

func (s *MemoryStore) List(ctx context.Context) ([]models.ConversationSummary, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	summaries := make([]models.ConversationSummary, 0, len(s.conversations))
	for _, conv := range s.conversations {
		summaries = append(summaries, models.ConversationSummary{
			ID:           conv.ID,
			Title:        conv.Title,
			CreatedAt:    conv.CreatedAt,
			UpdatedAt:    conv.UpdatedAt,
			MessageCount: len(conv.Turns),
		})
	}
	sort.Slice(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}

func (s *MemoryStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.conversations[id]; !ok {
		return ErrConversationNotFound
	}
	delete(s.conversations, id)
	return nil
}

func (s *MemoryStore) UpdateTitle(ctx context.Context, id, title string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[id]
	if !ok {
		return ErrConversationNotFound
	}
	conv.Title = title
	conv.UpdatedAt = time.Now()
	return nil
}

func (s *MemoryStore) AppendTurn(ctx context.Context, conversationID string, turn *models.Turn) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	conv, ok := s.conversations[conversationID]
	if !ok {
		return ErrConversationNotFound
	}

	stored := *turn
	stored.ConversationID = conversationID
	stored.Seq = len(conv.Turns) + 1
	now := time.Now()
	stored.CreatedAt = now
	conv.Turns = append(conv.Turns, stored)
	conv.UpdatedAt = now

	turn.Seq = stored.Seq
	turn.CreatedAt = stored.CreatedAt
	return nil
}

func copyConversation(conv *models.Conversation) *models.Conversation {
	out := *conv
	out.Turns = make([]models.Turn, len(conv.Turns))
	copy(out.Turns, conv.Turns)
	return &out
}
