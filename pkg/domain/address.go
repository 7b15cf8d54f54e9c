package domain

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"

	dErrors "skillproof/pkg/domain-errors"
)

// Address is a wallet address in EIP-55 checksum form.
// Invariant: always 0x-prefixed, 40 hex digits, checksummed.
//
// Construct via ParseAddress at trust boundaries; inputs in any letter case
// normalize to the same value, so Address can be compared and used as a key.
type Address string

// ParseAddress validates a hex address and returns its checksum form.
func ParseAddress(s string) (Address, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeValidation, "address is required")
	}
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return "", dErrors.New(dErrors.CodeValidation, "address must be 0x-prefixed")
	}
	if !common.IsHexAddress(s) {
		return "", dErrors.New(dErrors.CodeValidation, "address must be 40 hex characters")
	}
	return Address(common.HexToAddress(s).Hex()), nil
}

// MustParseAddress is ParseAddress for constants and tests.
func MustParseAddress(s string) Address {
	a, err := ParseAddress(s)
	if err != nil {
		panic(err)
	}
	return a
}

func (a Address) String() string {
	return string(a)
}

func (a Address) IsNil() bool {
	return a == ""
}

// Common returns the go-ethereum representation.
func (a Address) Common() common.Address {
	return common.HexToAddress(string(a))
}
