package types

import (
	"fmt"
	"strings"
)

// TaskMessage is the SQS payload of one fanned-out dispatch. JSON tags use
// snake_case to match what the scheduler enqueues.
type TaskMessage struct {
	AccountID  int64  `json:"account_id"`
	SourceName string `json:"source_name"`

	// Observability
	CycleID string `json:"cycle_id,omitempty"`
	TraceID string `json:"trace_id,omitempty"`
}

// Validate checks the message identifies one task.
func (m TaskMessage) Validate() error {
	if m.AccountID <= 0 {
		return NewAppErrorWithDetails(ErrCodeConfigInvalidTask,
			fmt.Sprintf("invalid account id %d", m.AccountID), nil,
			map[string]any{"account_id": m.AccountID})
	}
	if strings.TrimSpace(m.SourceName) == "" {
		return NewAppError(ErrCodeConfigInvalidTask, "source name is required", nil)
	}
	return nil
}
