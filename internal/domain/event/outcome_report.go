package event

import (
	"encoding/json"

	"github.com/emperorhan/aggregation-orchestrator/internal/domain/model"
)

// OutcomeReport is what a worker (or the reaper) sends back for one combo.
// Account may be empty for single-account jobs.
type OutcomeReport struct {
	JobID    string           `json:"jobId" msgpack:"jobId"`
	Provider model.ProviderID `json:"provider" msgpack:"provider"`
	Chain    string           `json:"chain" msgpack:"chain"`
	Account  string           `json:"account,omitempty" msgpack:"account,omitempty"`
	Outcome  model.Outcome    `json:"outcome" msgpack:"outcome"`
	Payload  json.RawMessage  `json:"payload,omitempty" msgpack:"payload,omitempty"`
	Error    string           `json:"error,omitempty" msgpack:"error,omitempty"`
}
