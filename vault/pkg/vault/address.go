package vault

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// AddressLength is the raw byte length of an address (an ed25519 public key).
const AddressLength = 32

// Address identifies an external party: a depositor, a manager, a proposal
// recipient. It is the base58 encoding of a 32-byte ed25519 public key.
type Address string

// ParseAddress validates and normalizes a base58 address string.
func ParseAddress(s string) (Address, error) {
	if s == "" {
		return "", fmt.Errorf("empty address")
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return "", fmt.Errorf("failed to decode address: %w", err)
	}
	if len(raw) != AddressLength {
		return "", fmt.Errorf("invalid address length: expected %d bytes, got %d", AddressLength, len(raw))
	}
	allZero := true
	for _, b := range raw {
		if b != 0 {
			allZero = false
			break
		}
	}
	if allZero {
		return "", fmt.Errorf("zero address")
	}
	return Address(base58.Encode(raw)), nil
}

// AddressFromBytes encodes a raw 32-byte public key as an Address.
func AddressFromBytes(raw []byte) (Address, error) {
	if len(raw) != AddressLength {
		return "", fmt.Errorf("invalid address length: expected %d bytes, got %d", AddressLength, len(raw))
	}
	return Address(base58.Encode(raw)), nil
}

func (a Address) String() string { return string(a) }

// IsZero reports whether the address is unset.
func (a Address) IsZero() bool { return a == "" }
