package models

import (
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"
)

const DefaultTitle = "New Conversation"

// Conversation is a titled, ordered sequence of turns.
type Conversation struct {
	ID        string         `gorm:"type:uuid;primaryKey" json:"id"`
	Title     string         `gorm:"type:varchar(255);not null" json:"title"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	Turns []Turn `gorm:"foreignKey:ConversationID" json:"turns"`
}

func (Conversation) TableName() string {
	return "conversations"
}

// Turn pairs one user message with its completed assistant result. Rows are
// append-only: a turn is written once, after the run that produced it has
// fully completed, and never updated.
type Turn struct {
	ID             string `gorm:"type:uuid;primaryKey" json:"id"`
	ConversationID string `gorm:"type:uuid;not null;index" json:"conversation_id"`
	Seq            int    `gorm:"not null" json:"seq"` // Position of the turn in the conversation, starting at 1
	UserContent    string `gorm:"type:text;not null" json:"user_content"`

	// Council run payloads, serialized once at completion.
	Stage1   datatypes.JSON `json:"stage1"`             // []council.ModelResponse
	Stage2   datatypes.JSON `json:"stage2,omitempty"`   // []council.Ranking
	Stage3   datatypes.JSON `json:"stage3"`             // council.FinalAnswer
	Metadata datatypes.JSON `json:"metadata,omitempty"` // council.StageMetadata

	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`

	// Relationships
	Conversation *Conversation `gorm:"foreignKey:ConversationID;references:ID;constraint:OnDelete:CASCADE" json:"-"`
}

func (Turn) TableName() string {
	return "turns"
}

// ConversationSummary is the list-view projection of a conversation.
type ConversationSummary struct {
	ID           string    `json:"id"`
	Title        string    `json:"title"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
	MessageCount int       `json:"message_count"`
}
