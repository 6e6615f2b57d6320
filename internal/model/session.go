package model

import (
	"time"

	"github.com/google/uuid"
)

// Verdict is one of the four human review actions.
type Verdict string

const (
	VerdictAgree    Verdict = "agree"
	VerdictDisagree Verdict = "disagree"
	VerdictUrgent   Verdict = "urgent"
	VerdictHide     Verdict = "hide"
)

// PreviousState is the snapshot taken before a verdict is applied, sufficient
// to reverse it exactly once.
type PreviousState struct {
	Status           ItemStatus        `json:"status"`
	ExtractedActions []ExtractedAction `json:"extractedActions"`
	ReviewedAt       *time.Time        `json:"reviewedAt,omitempty"`
	ArchivedAt       *time.Time        `json:"archivedAt,omitempty"`
}

// SessionAction is one entry in a session's append-only action log. Undo
// marks the entry undone instead of deleting it.
type SessionAction struct {
	ItemID   uuid.UUID     `json:"itemId"`
	Verdict  Verdict       `json:"verdict"`
	At       time.Time     `json:"at"`
	Undone   bool          `json:"undone,omitempty"`
	Previous PreviousState `json:"previous"`
}

// SessionStats aggregates verdict counts for a session.
type SessionStats struct {
	Agreed    int  `json:"agreed"`
	Disagreed int  `json:"disagreed"`
	Urgent    int  `json:"urgent"`
	Hidden    int  `json:"hidden"`
	Expired   bool `json:"expired,omitempty"`
}

// ReviewSession is a bounded-lifetime batch of items presented for swipe
// review. At most one active session exists per user.
type ReviewSession struct {
	ID           uuid.UUID       `json:"id"`
	UserID       uuid.UUID       `json:"userId"`
	ItemIDs      []uuid.UUID     `json:"itemIds"`
	CurrentIndex int             `json:"currentIndex"`
	Actions      []SessionAction `json:"actions"`
	Stats        SessionStats    `json:"stats"`
	StartedAt    time.Time       `json:"startedAt"`
	ExpiresAt    time.Time       `json:"expiresAt"`
	CompletedAt  *time.Time      `json:"completedAt,omitempty"`
}

// Active reports whether the session can still accept verdicts.
func (s *ReviewSession) Active(now time.Time) bool {
	return s.CompletedAt == nil && now.Before(s.ExpiresAt)
}

// Expired reports whether the session outlived its TTL without completing.
func (s *ReviewSession) Expired(now time.Time) bool {
	return s.CompletedAt == nil && !now.Before(s.ExpiresAt)
}
