package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobStatus_IsTerminal(t *testing.T) {
	assert.False(t, JobStatusRunning.IsTerminal())
	assert.True(t, JobStatusCompleted.IsTerminal())
	assert.True(t, JobStatusCompletedWithErrors.IsTerminal())
	assert.True(t, JobStatusTimedOut.IsTerminal())
	assert.False(t, JobStatus("").IsTerminal())
}

func TestTerminalStatusFor(t *testing.T) {
	assert.Equal(t, JobStatusCompleted, TerminalStatusFor(0, 0))
	assert.Equal(t, JobStatusCompletedWithErrors, TerminalStatusFor(1, 0))
	assert.Equal(t, JobStatusCompletedWithErrors, TerminalStatusFor(0, 1))
}

func TestOutcome_IsValid(t *testing.T) {
	assert.True(t, OutcomeSuccess.IsValid())
	assert.True(t, OutcomeFailure.IsValid())
	assert.True(t, OutcomeTimeout.IsValid())
	assert.False(t, Outcome("partial").IsValid())
	assert.Equal(t, RecordStatusSuccess, RecordStatusFor(OutcomeSuccess))
	assert.Equal(t, RecordStatusFailed, RecordStatusFor(OutcomeTimeout))
}

func TestComboKey_Roundtrip(t *testing.T) {
	c := Combo{Provider: "aave-v3", Chain: ChainBase, Account: "0xabc"}
	assert.Equal(t, "aave-v3:base:0xabc", c.Key())

	parsed, err := ParseComboKey(c.Key())
	require.NoError(t, err)
	assert.Equal(t, c, parsed)

	noAccount, err := ParseComboKey("lido:ethereum")
	require.NoError(t, err)
	assert.Empty(t, noAccount.Account)
	assert.Equal(t, "lido:ethereum", noAccount.Key())

	_, err = ParseComboKey("lido")
	require.Error(t, err)
	_, err = ParseComboKey(":base:0xabc")
	require.Error(t, err)
}

func TestProgress(t *testing.T) {
	tests := []struct {
		name                                 string
		expected, succeeded, failed, timeout int
		want                                 float64
	}{
		{"zero expected", 0, 0, 0, 0, 0},
		{"none reported", 4, 0, 0, 0, 0},
		{"half", 4, 1, 1, 0, 0.5},
		{"all", 3, 2, 0, 1, 1},
		{"overflow clamps", 2, 3, 0, 0, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, Progress(tt.expected, tt.succeeded, tt.failed, tt.timeout), 1e-9)
		})
	}
}

func TestJobMeta_ProcessedCount(t *testing.T) {
	m := JobMeta{Succeeded: 2, Failed: 1, TimedOut: 1}
	assert.Equal(t, 4, m.ProcessedCount())
}
