package jobs

import (
	"encoding/json"

	"github.com/google/uuid"
)

// TerminalEvent is emitted once per job when it reaches a terminal state,
// whichever delivery path (poll loop, push callback, recovery sweep) gets
// there first.
type TerminalEvent struct {
	JobID   uuid.UUID       `json:"job_id"`
	State   string          `json:"state"`
	Outcome string          `json:"outcome"`
	Reason  string          `json:"reason,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
}

// TerminalFunc receives terminal events for rendering. It must not block.
type TerminalFunc func(TerminalEvent)

// ProgressFunc receives cosmetic progress notifications during submission.
// No business logic depends on it and failures are ignored.
type ProgressFunc func(stage string)
