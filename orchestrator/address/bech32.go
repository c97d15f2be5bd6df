// Package address validates and derives bech32 account addresses.
package address

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
)

var ErrInvalidAddress = errors.New("invalid address")

// Validate checks address is well formed bech32 and returns its prefix.
func Validate(address string) (string, error) {
	if address == "" {
		return "", fmt.Errorf("%w: address is empty", ErrInvalidAddress)
	}

	// prefix + "1" + data + checksum
	if len(address) < 10 {
		return "", fmt.Errorf("%w: address too short (minimum 10 characters)", ErrInvalidAddress)
	}

	sepIdx := strings.LastIndex(address, "1")
	if sepIdx < 1 {
		return "", fmt.Errorf("%w: missing bech32 separator '1'", ErrInvalidAddress)
	}
	prefix := address[:sepIdx]

	decodedPrefix, data, err := bech32.Decode(address)
	if err != nil {
		return "", fmt.Errorf("%w: checksum failed: %v", ErrInvalidAddress, err)
	}
	if decodedPrefix != prefix {
		return "", fmt.Errorf("%w: bech32 prefix mismatch", ErrInvalidAddress)
	}
	if len(data) == 0 {
		return "", fmt.Errorf("%w: empty data part", ErrInvalidAddress)
	}
	return decodedPrefix, nil
}

// ValidateWithPrefix checks address is valid and uses the expected prefix.
func ValidateWithPrefix(address, prefix string) error {
	got, err := Validate(address)
	if err != nil {
		return err
	}
	if prefix != "" && got != prefix {
		return fmt.Errorf("%w: prefix %q, expected %q", ErrInvalidAddress, got, prefix)
	}
	return nil
}

// Derive builds a deterministic address from a seed, the way module and
// contract accounts are derived from a name: sha256 of the seed, truncated
// to 20 bytes for accounts or kept whole for contracts.
func Derive(prefix, seed string, contract bool) (string, error) {
	sum := sha256.Sum256([]byte(seed))
	raw := sum[:]
	if !contract {
		raw = raw[:20]
	}
	conv, err := bech32.ConvertBits(raw, 8, 5, true)
	if err != nil {
		return "", fmt.Errorf("convert bits: %w", err)
	}
	return bech32.Encode(prefix, conv)
}

// MustDerive is Derive for fixed seeds.
func MustDerive(prefix, seed string, contract bool) string {
	addr, err := Derive(prefix, seed, contract)
	if err != nil {
		panic(err)
	}
	return addr
}
