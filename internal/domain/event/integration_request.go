package event

import (
	"time"

	"github.com/emperorhan/aggregation-orchestrator/internal/domain/model"
)

// IntegrationRequest is the bus message asking one provider's worker pool to
// fetch one account on one chain for a job.
type IntegrationRequest struct {
	JobID       string           `json:"jobId" msgpack:"jobId"`
	RequestID   string           `json:"requestId" msgpack:"requestId"` // consumers dedupe on this
	Account     string           `json:"account" msgpack:"account"`
	Chains      []model.Chain    `json:"chains" msgpack:"chains"`
	Provider    model.ProviderID `json:"provider" msgpack:"provider"`
	RequestedAt time.Time        `json:"requestedAt" msgpack:"requestedAt"`
	Attempt     int              `json:"attempt" msgpack:"attempt"`
}
