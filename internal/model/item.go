// Package model contains the typed shapes shared across packages. The
// classification, feedback and processing blobs are stored as schema-less
// JSONB, so every component converts them to these structs at the boundary
// instead of passing raw maps around.
package model

import (
	"time"

	"github.com/google/uuid"
)

// ItemStatus describes the inbox item lifecycle.
type ItemStatus string

const (
	StatusPending    ItemStatus = "pending"
	StatusProcessing ItemStatus = "processing"
	StatusReviewed   ItemStatus = "reviewed"
	StatusArchived   ItemStatus = "archived"
	StatusError      ItemStatus = "error"
)

// ItemType describes how an item was captured.
type ItemType string

const (
	TypeManual  ItemType = "manual"
	TypeImage   ItemType = "image"
	TypeVoice   ItemType = "voice"
	TypeEmail   ItemType = "email"
	TypeForward ItemType = "forward"
)

// Item is a captured unit of content moving through classification and review.
type Item struct {
	ID               uuid.UUID         `json:"id"`
	UserID           uuid.UUID         `json:"userId"`
	Type             ItemType          `json:"type"`
	Content          string            `json:"content"`
	Source           string            `json:"source,omitempty"`
	Status           ItemStatus        `json:"status"`
	// ObjectKey points at the raw capture attachment in object storage.
	ObjectKey        *string           `json:"objectKey,omitempty"`
	Classification   *Classification   `json:"classification,omitempty"`
	ExtractedActions []ExtractedAction `json:"extractedActions"`
	Tags             []Tag             `json:"tags"`
	Feedback         *UserFeedback     `json:"userFeedback,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
	ReviewedAt       *time.Time        `json:"reviewedAt,omitempty"`
	ArchivedAt       *time.Time        `json:"archivedAt,omitempty"`
}

// Classification is the normalized result of an AI classification attempt.
type Classification struct {
	Category         string          `json:"category"`
	Confidence       float64         `json:"confidence"`
	Reasoning        string          `json:"reasoning"`
	Model            string          `json:"model,omitempty"`
	ProcessingTimeMs int64           `json:"processingTimeMs,omitempty"`
	AutoFiled        bool            `json:"autoFiled,omitempty"`
	Error            string          `json:"error,omitempty"`
	Processing       *ProcessingMeta `json:"processing,omitempty"`
}

// ProcessingMeta tracks attempt/retry bookkeeping inside the classification
// blob. It is owned by the classification engine and its retry ledger; other
// components only read it.
type ProcessingMeta struct {
	StartedAt   *time.Time `json:"startedAt,omitempty"`
	CompletedAt *time.Time `json:"completedAt,omitempty"`
	LastError   string     `json:"lastError,omitempty"`
	RetryCount  int        `json:"retryCount"`
	NextRetryAt *time.Time `json:"nextRetryAt,omitempty"`
	FailedAt    *time.Time `json:"failedAt,omitempty"`
}

// ExtractedAction is a candidate task pulled out of the item content.
type ExtractedAction struct {
	Description string  `json:"description"`
	Confidence  float64 `json:"confidence"`
	Priority    string  `json:"priority,omitempty"`
	Owner       string  `json:"owner,omitempty"`
	DueDate     string  `json:"dueDate,omitempty"`
}

// Tag is a typed key-value label attached by the classifier.
type Tag struct {
	Type  string `json:"type,omitempty"`
	Value string `json:"value"`
}

// UserFeedback records the human verdict state on an item.
type UserFeedback struct {
	Agreed           bool `json:"agreed"`
	NeedsCorrection  bool `json:"needsCorrection,omitempty"`
	DeferredToWeekly bool `json:"deferredToWeekly,omitempty"`
	MarkedUrgent     bool `json:"markedUrgent,omitempty"`
	Hidden           bool `json:"hidden,omitempty"`
}

// Audit is one append-only record per completed classification attempt. The
// only mutation ever applied is attaching the human review verdict.
type Audit struct {
	ID             uuid.UUID  `json:"id"`
	ItemID         uuid.UUID  `json:"itemId"`
	UserID         uuid.UUID  `json:"userId"`
	Category       string     `json:"category"`
	Confidence     float64    `json:"confidence"`
	Reasoning      string     `json:"reasoning"`
	Model          string     `json:"model,omitempty"`
	UserAction     *string    `json:"userAction,omitempty"`
	UserReviewedAt *time.Time `json:"userReviewedAt,omitempty"`
	SessionID      *uuid.UUID `json:"sessionId,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
}

// DeadLetter is a durable record of a permanently failed classification.
type DeadLetter struct {
	ID         uuid.UUID `json:"id"`
	ItemID     uuid.UUID `json:"itemId"`
	UserID     uuid.UUID `json:"userId"`
	Kind       string    `json:"kind"`
	Payload    string    `json:"payload"`
	Error      string    `json:"error"`
	RetryCount int       `json:"retryCount"`
	MaxRetries int       `json:"maxRetries"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Settings holds the per-user knobs read by the engine and the sweeps.
type Settings struct {
	UserID              uuid.UUID `json:"userId"`
	ConfidenceThreshold float64   `json:"confidenceThreshold"`
	AutoArchiveDays     int       `json:"autoArchiveDays"`
}

const (
	DefaultConfidenceThreshold = 0.6
	DefaultAutoArchiveDays     = 30
)

// Correction is an immutable record of a human override, kept for insight
// only; nothing in the pipeline reads it back.
type Correction struct {
	ID                uuid.UUID         `json:"id"`
	ItemID            uuid.UUID         `json:"itemId"`
	UserID            uuid.UUID         `json:"userId"`
	OriginalCategory  string            `json:"originalCategory"`
	CorrectedCategory string            `json:"correctedCategory"`
	OriginalActions   []ExtractedAction `json:"originalActions"`
	CorrectedActions  []ExtractedAction `json:"correctedActions"`
	CreatedAt         time.Time         `json:"createdAt"`
}

// FilingTarget is a project or area an item can be filed into. Target names
// double as classification context.
type FilingTarget struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"userId"`
	Kind      string    `json:"kind"` // "project" or "area"
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"createdAt"`
}

// Note is created when an item is filed to a target.
type Note struct {
	ID        uuid.UUID `json:"id"`
	UserID    uuid.UUID `json:"userId"`
	ItemID    uuid.UUID `json:"itemId"`
	TargetID  uuid.UUID `json:"targetId"`
	Title     string    `json:"title"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}
