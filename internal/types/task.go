package types

import (
	"fmt"
	"log/slog"
	"time"
)

// CredentialSet is the decrypted field map of one task's credential blob.
// It is owned by a single dispatch unit.
type CredentialSet map[string]string

// Get returns the value for key, or def when the key is absent or empty.
func (c CredentialSet) Get(key, def string) string {
	if v, ok := c[key]; ok && v != "" {
		return v
	}
	return def
}

// Has reports whether key is present with a non-empty value.
func (c CredentialSet) Has(key string) bool {
	return c[key] != ""
}

// Missing returns the keys that are absent or empty.
func (c CredentialSet) Missing(keys ...string) []string {
	var missing []string
	for _, k := range keys {
		if !c.Has(k) {
			missing = append(missing, k)
		}
	}
	return missing
}

// PodcastTask is one (account, source) pair discovered from the credential store.
type PodcastTask struct {
	AccountID       int64
	Source          Source
	SourcePodcastID string
	PodName         string

	// EncryptedKeys is the raw stored blob; Credentials is filled after decryption.
	EncryptedKeys string
	Credentials   CredentialSet
}

// Key returns the lock identity of the task.
func (t PodcastTask) Key() string {
	return fmt.Sprintf("podcast-task:%d:%s", t.AccountID, t.Source)
}

// LogAttrs returns the structured fields attached to every log line about the task.
func (t PodcastTask) LogAttrs() []any {
	return []any{
		slog.Int64("account_id", t.AccountID),
		slog.String("source", string(t.Source)),
		slog.String("pod_name", t.PodName),
	}
}

// TaskStatus is the terminal status of one dispatched task.
type TaskStatus string

const (
	TaskStatusSuccess TaskStatus = "success"
	TaskStatusFailed  TaskStatus = "failed"
	TaskStatusSkipped TaskStatus = "skipped"
)

// ItemStats counts what happened to the fetch items of one task.
type ItemStats struct {
	Submitted int `json:"submitted"`
	Posted    int `json:"posted"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	Cancelled int `json:"cancelled"`
}

// Add accumulates other into s.
func (s *ItemStats) Add(other ItemStats) {
	s.Submitted += other.Submitted
	s.Posted += other.Posted
	s.Skipped += other.Skipped
	s.Failed += other.Failed
	s.Cancelled += other.Cancelled
}

// TaskOutcome is the result of dispatching one PodcastTask.
type TaskOutcome struct {
	AccountID int64
	Source    Source
	PodName   string
	Status    TaskStatus
	Reason    string
	Attempts  int
	Duration  time.Duration
	Items     ItemStats
	Err       error
}

// CycleSummary aggregates the outcomes of one dispatch cycle.
type CycleSummary struct {
	Succeeded int
	Failed    int
	Skipped   int
}

// Summarize counts outcomes by status.
func Summarize(outcomes []TaskOutcome) CycleSummary {
	var s CycleSummary
	for _, o := range outcomes {
		switch o.Status {
		case TaskStatusSuccess:
			s.Succeeded++
		case TaskStatusFailed:
			s.Failed++
		case TaskStatusSkipped:
			s.Skipped++
		}
	}
	return s
}
