package identity

import (
	"strings"

	"github.com/emperorhan/aggregation-orchestrator/internal/domain/model"
	"github.com/ethereum/go-ethereum/common"
	"github.com/mr-tron/base58"
)

const (
	evmAddressLength = 42 // "0x" + 40 hex digits

	base58MinLength = 32
	base58MaxLength = 44
)

// Family classifies an address string into its address family. Anything
// that is neither a 0x-prefixed 40-digit hex string nor a 32-44 character
// Base58 string is AddressFamilyUnknown.
func Family(address string) model.AddressFamily {
	trimmed := strings.TrimSpace(address)
	if isEVMAddress(trimmed) {
		return model.AddressFamilyEVM
	}
	if isBase58Address(trimmed) {
		return model.AddressFamilyBase58
	}
	return model.AddressFamilyUnknown
}

// CanonicalAccount normalises an account for keying. EVM addresses are
// lowercased (checksum case carries no meaning); Base58 addresses are
// returned as-is because their case is significant.
func CanonicalAccount(address string) string {
	trimmed := strings.TrimSpace(address)
	if !isEVMAddress(trimmed) {
		return trimmed
	}
	return "0x" + strings.ToLower(trimmed[2:])
}

func isEVMAddress(v string) bool {
	if len(v) != evmAddressLength {
		return false
	}
	return strings.HasPrefix(v, "0x") && common.IsHexAddress(v)
}

func isBase58Address(v string) bool {
	if len(v) < base58MinLength || len(v) > base58MaxLength {
		return false
	}
	// Decode rejects 0, O, I and l along with anything outside the alphabet.
	_, err := base58.Decode(v)
	return err == nil
}
