package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/councild/councild/models"
)

// ErrConversationNotFound is returned by all stores for an unknown or
// deleted conversation id.
var ErrConversationNotFound = errors.New("conversation not found")

type ConversationRepository struct {
	db *gorm.DB
}

func NewConversationRepository(db *gorm.DB) *ConversationRepository {
	return &ConversationRepository{db: db}
}

// AutoMigrate runs database migrations
func (r *ConversationRepository) AutoMigrate() error {
	return r.db.AutoMigrate(
		&models.Conversation{},
		&models.Turn{},
	)
}

func (r *ConversationRepository) Create(ctx context.Context) (*models.Conversation, error) {
	conv := &models.Conversation{
		ID:    uuid.New().String(),
		Title: models.DefaultTitle,
	}
	if err := r.db.WithContext(ctx).Create(conv).Error; err != nil {
		slog.Error("Failed to create conversation", "error", err)
		return nil, fmt.Errorf("failed to create conversation: %w", err)
	}
	slog.Info("Conversation created", "conversation_id", conv.ID)
	return conv, nil
}

func (r *ConversationRepository) Get(ctx context.Context, id string) (*models.Conversation, error) {
	var conv models.Conversation
	err := r.db.WithContext(ctx).
		Where("id = ?", id).
		Preload("Turns", func(db *gorm.DB) *gorm.DB {
			return db.Order("seq ASC")
		}).
		First(&conv).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrConversationNotFound
		}
		slog.Error("Failed to get conversation", "error", err, "conversation_id", id)
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return &conv, nil
}

func (r *ConversationRepository) List(ctx context.Context) ([]models.ConversationSummary, error) {
	var summaries []models.ConversationSummary
	err := r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Select("conversations.id, conversations.title, conversations.created_at, conversations.updated_at, COUNT(turns.id) AS message_count").
		Joins("LEFT JOIN turns ON turns.conversation_id = conversations.id").
		Group("conversations.id").
		Order("conversations.updated_at DESC").
		Scan(&summaries).Error
	if err != nil {
		slog.Error("Failed to list conversations", "error", err)
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	return summaries, nil
}

func (r *ConversationRepository) Delete(ctx context.Context, id string) error {
	result := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Conversation{})
	if result.Error != nil {
		slog.Error("Failed to delete conversation", "error", result.Error, "conversation_id", id)
		return fmt.Errorf("failed to delete conversation: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrConversationNotFound
	}
	slog.Info("Conversation deleted", "conversation_id", id)
	return nil
}

func (r *ConversationRepository) UpdateTitle(ctx context.Context, id, title string) error {
	result := r.db.WithContext(ctx).
		Model(&models.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]interface{}{"title": title, "updated_at": time.Now()})
	if result.Error != nil {
		slog.Error("Failed to update conversation title", "error", result.Error, "conversation_id", id)
		return fmt.Errorf("failed to update conversation title: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// AppendTurn inserts the turn with the next sequence number in one
// transaction, so concurrent appends to the same conversation never collide
// on seq.
func (r *ConversationRepository) AppendTurn(ctx context.Context, conversationID string, turn *models.Turn) error {
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var conv models.Conversation
		if err := tx.Where("id = ?", conversationID).First(&conv).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return ErrConversationNotFound
			}
			return err
		}

		var count int64
		if err := tx.Model(&models.Turn{}).Where("conversation_id = ?", conversationID).Count(&count).Error; err != nil {
			return err
		}

		turn.ConversationID = conversationID
		turn.Seq = int(count) + 1
		if err := tx.Create(turn).Error; err != nil {
			return err
		}

		return tx.Model(&models.Conversation{}).
			Where("id = ?", conversationID).
			Update("updated_at", time.Now()).Error
	})
	if err != nil {
		if errors.Is(err, ErrConversationNotFound) {
			return err
		}
		slog.Error("Failed to append turn", "error", err, "conversation_id", conversationID)
		return fmt.Errorf("failed to append turn: %w", err)
	}
	slog.Info("Turn appended", "conversation_id", conversationID, "turn_id", turn.ID, "seq", turn.Seq)
	return nil
}
