package redis

// Redis key naming conventions for orchestrator state. Per-job keys carry
// the job id as a hash tag so every key a script touches shares one slot.

const defaultKeyPrefix = "agg:"

type keyspace struct {
	prefix string
}

func newKeyspace(prefix string) keyspace {
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return keyspace{prefix: prefix}
}

func tag(jobID string) string { return "{" + jobID + "}" }

// metaKey returns the metadata hash key: agg:meta:{jobID}
func (k keyspace) metaKey(jobID string) string { return k.prefix + "meta:" + tag(jobID) }

// pendingKey returns the pending combo set key: agg:pending:{jobID}
func (k keyspace) pendingKey(jobID string) string { return k.prefix + "pending:" + tag(jobID) }

// processedKey returns the per-combo record hash key: agg:processed:{jobID}
func (k keyspace) processedKey(jobID string) string { return k.prefix + "processed:" + tag(jobID) }

// fragmentsKey returns the success payload hash key: agg:fragments:{jobID}
func (k keyspace) fragmentsKey(jobID string) string { return k.prefix + "fragments:" + tag(jobID) }

// itemsKey returns the assembled result key: agg:items:{jobID}
func (k keyspace) itemsKey(jobID string) string { return k.prefix + "items:" + tag(jobID) }

// pointerKey prefixes a resolved reuse key (active:...).
func (k keyspace) pointerKey(reuseKey string) string { return k.prefix + reuseKey }

// runningKey is the sorted set of running job ids scored by creation time.
func (k keyspace) runningKey() string { return k.prefix + "running" }

// jobKeys lists every key owned by one job.
func (k keyspace) jobKeys(jobID string) []string {
	return []string{
		k.metaKey(jobID),
		k.pendingKey(jobID),
		k.processedKey(jobID),
		k.fragmentsKey(jobID),
		k.itemsKey(jobID),
	}
}

// Meta hash fields.
const (
	fieldAccounts      = "accounts"
	fieldChains        = "chains"
	fieldWalletGroupID = "wallet_group_id"
	fieldCreatedAt     = "created_at"
	fieldExpectedTotal = "expected_total"
	fieldSucceeded     = "succeeded"
	fieldFailed        = "failed"
	fieldTimedOut      = "timed_out"
	fieldStatus        = "status"
	fieldFinalEmitted  = "final_emitted"
	fieldFinalizedAt   = "finalized_at"
)
