package identity

import (
	"strings"
	"testing"

	"github.com/emperorhan/aggregation-orchestrator/internal/domain/model"
	"github.com/stretchr/testify/assert"
)

const (
	evmLower   = "0x52908400098527886e0f7030069857d2e4169ee7"
	evmMixed   = "0x52908400098527886E0F7030069857D2E4169EE7"
	solanaAddr = "4Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"
)

// ---------------------------------------------------------------------------
// Family
// ---------------------------------------------------------------------------

func TestFamily(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected model.AddressFamily
	}{
		{name: "EVM lowercase", input: evmLower, expected: model.AddressFamilyEVM},
		{name: "EVM checksum case", input: evmMixed, expected: model.AddressFamilyEVM},
		{name: "EVM upper 0X prefix", input: "0X" + strings.TrimPrefix(evmLower, "0x"), expected: model.AddressFamilyUnknown},
		{name: "EVM surrounding whitespace", input: "  " + evmLower + "\t", expected: model.AddressFamilyEVM},
		{name: "EVM missing prefix", input: strings.TrimPrefix(evmLower, "0x"), expected: model.AddressFamilyUnknown},
		{name: "EVM too short", input: evmLower[:41], expected: model.AddressFamilyUnknown},
		{name: "EVM non-hex digit", input: "0x52908400098527886e0f7030069857d2e4169eg7", expected: model.AddressFamilyUnknown},
		{name: "Base58 system program", input: "11111111111111111111111111111111", expected: model.AddressFamilyBase58},
		{name: "Base58 wallet", input: solanaAddr, expected: model.AddressFamilyBase58},
		{name: "Base58 wrapped SOL mint", input: "So11111111111111111111111111111111111111112", expected: model.AddressFamilyBase58},
		{name: "Base58 too short", input: "1111111111111111111111111111111", expected: model.AddressFamilyUnknown},
		{name: "Base58 too long", input: solanaAddr + "A", expected: model.AddressFamilyUnknown},
		{name: "Base58 with zero", input: "0Nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T", expected: model.AddressFamilyUnknown},
		{name: "Base58 with capital O", input: "ONd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T", expected: model.AddressFamilyUnknown},
		{name: "Base58 with capital I", input: "INd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T", expected: model.AddressFamilyUnknown},
		{name: "Base58 with lowercase l", input: "lNd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T", expected: model.AddressFamilyUnknown},
		{name: "empty", input: "", expected: model.AddressFamilyUnknown},
		{name: "garbage", input: "not-an-address", expected: model.AddressFamilyUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Family(tt.input))
		})
	}
}

// ---------------------------------------------------------------------------
// CanonicalAccount
// ---------------------------------------------------------------------------

func TestCanonicalAccount_EVMIsCaseFolded(t *testing.T) {
	assert.Equal(t, evmLower, CanonicalAccount(evmMixed))
	assert.Equal(t, evmLower, CanonicalAccount("0x"+strings.ToUpper(strings.TrimPrefix(evmLower, "0x"))))
	assert.Equal(t, CanonicalAccount(evmLower), CanonicalAccount(evmMixed))
}

func TestCanonicalAccount_Base58KeepsCase(t *testing.T) {
	variant := "4nd1mBQtrMJVYVfKf2PJy9NZUZdTAsp7D4xWLs4gDB4T"
	assert.Equal(t, model.AddressFamilyBase58, Family(variant))

	assert.Equal(t, solanaAddr, CanonicalAccount(solanaAddr))
	assert.Equal(t, variant, CanonicalAccount(variant))
	assert.NotEqual(t, CanonicalAccount(solanaAddr), CanonicalAccount(variant))
}

func TestCanonicalAccount_TrimsWhitespace(t *testing.T) {
	assert.Equal(t, solanaAddr, CanonicalAccount(" "+solanaAddr+" "))
	assert.Equal(t, "unknown-thing", CanonicalAccount(" unknown-thing "))
}

func TestCanonicalAccount_UpperPrefixIsNotEVM(t *testing.T) {
	upper := "0X" + strings.TrimPrefix(evmMixed, "0x")
	assert.Equal(t, upper, CanonicalAccount(upper))
}
