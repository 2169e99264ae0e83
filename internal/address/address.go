package address

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/avalkov/peerai-ledger/internal/apperr"
	"github.com/ethereum/go-ethereum/common"
)

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// Normalize returns the lowercase storage form used as the lookup key
// everywhere outside oracle calls.
func Normalize(raw string) (string, error) {
	if !addressPattern.MatchString(raw) {
		return "", fmt.Errorf("%w: %q", apperr.ErrInvalidAddressFormat, raw)
	}
	return strings.ToLower(raw), nil
}

// Checksum returns the EIP-55 mixed-case form expected by the oracle.
func Checksum(raw string) (common.Address, error) {
	if !addressPattern.MatchString(raw) {
		return common.Address{}, fmt.Errorf("%w: %q", apperr.ErrInvalidAddressFormat, raw)
	}
	return common.HexToAddress(raw), nil
}

// ChecksumHex is Checksum rendered as a string.
func ChecksumHex(raw string) (string, error) {
	addr, err := Checksum(raw)
	if err != nil {
		return "", err
	}
	return addr.Hex(), nil
}

// FromCommon returns the storage form of an address observed on the ledger.
func FromCommon(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}
