// ABOUTME: Ledger types and errors for the tool-call store
// ABOUTME: ToolCallRecord is one executed tool call with its outcome

package store

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist
var ErrNotFound = errors.New("not found")

// ToolCallRecord is one tool call executed for a user.
type ToolCallRecord struct {
	ID        string // UUID v4, generated when empty
	CallID    string // assistant tool call id
	UserKey   string // frontend:user id
	Tool      string
	Arguments string // raw JSON as sent by the assistant
	Success   bool
	LeadID    string // set when a lead was created
	Error     string
	Duration  time.Duration
	CreatedAt time.Time // generated when zero
}

// ToolCallFilter narrows ListToolCalls.
type ToolCallFilter struct {
	UserKey     *string
	Tool        *string
	Since       *time.Time
	SuccessOnly bool
	Limit       int // default 100, max 1000
}

// ToolCallStats aggregates the ledger.
type ToolCallStats struct {
	Total     int64 `json:"total"`
	Succeeded int64 `json:"succeeded"`
	Leads     int64 `json:"leads"`
}
