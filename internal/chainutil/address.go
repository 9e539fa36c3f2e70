// Package chainutil provides address normalization and hash derivation on
// top of go-ethereum's primitives. All ledger entities are keyed by the
// normalized forms produced here so replicas derive identical keys.
package chainutil

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// NormalizeAddress validates a hex address and returns its EIP-55
// checksummed form. The checksummed form is the canonical key for every
// address-keyed map and store in the ledger.
func NormalizeAddress(addr string) (string, error) {
	if !common.IsHexAddress(addr) {
		return "", fmt.Errorf("chainutil: invalid address %q", addr)
	}
	return common.HexToAddress(addr).Hex(), nil
}

// MustNormalizeAddress is NormalizeAddress for known-good inputs (tests,
// config defaults). It panics on invalid input.
func MustNormalizeAddress(addr string) string {
	out, err := NormalizeAddress(addr)
	if err != nil {
		panic(err)
	}
	return out
}

// SameAddress reports whether two hex addresses refer to the same account,
// ignoring case and checksum differences.
func SameAddress(a, b string) bool {
	if !common.IsHexAddress(a) || !common.IsHexAddress(b) {
		return strings.EqualFold(a, b)
	}
	return common.HexToAddress(a) == common.HexToAddress(b)
}
