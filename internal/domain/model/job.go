package model

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// JobStatus is the lifecycle state of an aggregation job.
type JobStatus string

const (
	JobStatusRunning             JobStatus = "running"
	JobStatusCompleted           JobStatus = "completed"
	JobStatusCompletedWithErrors JobStatus = "completed_with_errors"
	JobStatusTimedOut            JobStatus = "timed_out"
)

// IsTerminal reports whether no further transition can leave this status.
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusCompletedWithErrors, JobStatusTimedOut:
		return true
	default:
		return false
	}
}

// TerminalStatusFor picks the status a job settles in once every combo has
// reported.
func TerminalStatusFor(failed, timedOut int) JobStatus {
	if failed == 0 && timedOut == 0 {
		return JobStatusCompleted
	}
	return JobStatusCompletedWithErrors
}

// Outcome is the result kind of one dispatched combo.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeTimeout Outcome = "timeout"
)

func (o Outcome) IsValid() bool {
	switch o {
	case OutcomeSuccess, OutcomeFailure, OutcomeTimeout:
		return true
	default:
		return false
	}
}

type RecordStatus string

const (
	RecordStatusSuccess RecordStatus = "SUCCESS"
	RecordStatusFailed  RecordStatus = "FAILED"
)

// RecordStatusFor maps an outcome onto the processed-record status. Timeouts
// are recorded as failures carrying a timeout error string.
func RecordStatusFor(o Outcome) RecordStatus {
	if o == OutcomeSuccess {
		return RecordStatusSuccess
	}
	return RecordStatusFailed
}

// JobMeta is the shared per-job metadata hash.
type JobMeta struct {
	JobID         string
	Accounts      []string
	Chains        []Chain
	WalletGroupID string
	CreatedAt     time.Time
	ExpectedTotal int
	Succeeded     int
	Failed        int
	TimedOut      int
	Status        JobStatus
	FinalEmitted  bool
}

// ProcessedCount is the number of combos that have reported an outcome.
func (m JobMeta) ProcessedCount() int {
	return m.Succeeded + m.Failed + m.TimedOut
}

// ProcessedRecord is the per-combo outcome kept for diagnosability.
type ProcessedRecord struct {
	Provider   ProviderID   `json:"provider"`
	Chain      Chain        `json:"chain"`
	Account    string       `json:"account,omitempty"`
	Status     RecordStatus `json:"status"`
	Error      string       `json:"error,omitempty"`
	ReportedAt time.Time    `json:"reported_at"`
}

// Combo is one (provider, chain, account) unit of dispatched work.
type Combo struct {
	Provider ProviderID
	Chain    Chain
	Account  string
}

// Key renders the pending-set entry "provider:chain:account".
func (c Combo) Key() string {
	if c.Account == "" {
		return c.Provider.String() + ":" + c.Chain.String()
	}
	return c.Provider.String() + ":" + c.Chain.String() + ":" + c.Account
}

// ParseComboKey splits a pending-set entry back into its parts.
func ParseComboKey(key string) (Combo, error) {
	parts := strings.SplitN(key, ":", 3)
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return Combo{}, fmt.Errorf("invalid combo key %q", key)
	}
	c := Combo{Provider: ProviderID(parts[0]), Chain: Chain(parts[1])}
	if len(parts) == 3 {
		c.Account = parts[2]
	}
	return c, nil
}

// Snapshot is the read model returned to polling clients.
type Snapshot struct {
	JobID       string            `json:"job_id"`
	Status      JobStatus         `json:"status"`
	Expected    int               `json:"expected"`
	Succeeded   int               `json:"succeeded"`
	Failed      int               `json:"failed"`
	TimedOut    int               `json:"timed_out"`
	Pending     []string          `json:"pending"`
	Processed   []ProcessedRecord `json:"processed"`
	IsCompleted bool              `json:"is_completed"`
	Progress    float64           `json:"progress"`
	Items       []json.RawMessage `json:"items,omitempty"`
}

// Progress returns the reported share of expected combos, clamped to [0,1].
func Progress(expected, succeeded, failed, timedOut int) float64 {
	if expected <= 0 {
		return 0
	}
	p := float64(succeeded+failed+timedOut) / float64(expected)
	switch {
	case p < 0:
		return 0
	case p > 1:
		return 1
	default:
		return p
	}
}
