// Package transcript records completed bridge invocations so the full
// tool-interaction history stays available for inspection.
package transcript

import (
	"context"
	"time"

	"github.com/sweetpotato0/mcp-bridge/message"
)

// Transcript is the durable record of one bridge invocation: the complete
// conversation, how many tool-call rounds ran, and how it ended.
type Transcript struct {
	ID          string             `json:"id"`
	Model       string             `json:"model"`
	Messages    []*message.Message `json:"messages"`
	Turns       int                `json:"turns"`
	Outcome     string             `json:"outcome"` // "done" or "aborted: <reason>"
	StartedAt   time.Time          `json:"started_at"`
	CompletedAt time.Time          `json:"completed_at"`
}

// Store persists transcripts. Implementations live in transcript/store.
type Store interface {
	// Save writes a transcript record.
	Save(ctx context.Context, t *Transcript) error
	// Get retrieves a transcript by id.
	Get(ctx context.Context, id string) (*Transcript, error)
	// List returns the most recent transcripts, newest first.
	List(ctx context.Context, limit int) ([]*Transcript, error)
	// Close releases store resources.
	Close() error
}
