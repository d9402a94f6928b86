// Package crypto derives the peripheral's static random device address from a
// configured secret, using HKDF-SHA256 so the address is stable across
// restarts without being stored.
package crypto

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"golang.org/x/crypto/hkdf"
)

// SecretLen is the required secret length in bytes.
const SecretLen = 32

const addressInfo = "lbs-peripheral static address"

// ErrDegenerateAddress is returned when the derived random part is all zeros
// or all ones. Neither is a valid static address.
var ErrDegenerateAddress = errors.New("ble/crypto: derived address has degenerate random part")

// ParseSecret decodes a hex-encoded 32-byte secret.
func ParseSecret(s string) ([]byte, error) {
	if len(s) != 2*SecretLen {
		return nil, fmt.Errorf("ble/crypto: secret must be %d hex chars, got %d", 2*SecretLen, len(s))
	}
	secret, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("ble/crypto: decode secret: %w", err)
	}
	return secret, nil
}

// DeriveStaticAddress returns a static random address (two most significant
// bits set) formatted as "XX:XX:XX:XX:XX:XX", most significant byte first.
// HKDF(secret, salt=nil, info=addressInfo, length=6).
func DeriveStaticAddress(secret []byte) (string, error) {
	if len(secret) != SecretLen {
		return "", fmt.Errorf("ble/crypto: secret must be %d bytes, got %d", SecretLen, len(secret))
	}

	r := hkdf.New(sha256.New, secret, nil, []byte(addressInfo))
	addr := make([]byte, 6)
	if _, err := io.ReadFull(r, addr); err != nil {
		return "", fmt.Errorf("ble/crypto: HKDF: %w", err)
	}
	addr[0] |= 0xc0

	// Random part is the remaining 46 bits.
	zeros, ones := addr[0] == 0xc0, addr[0] == 0xff
	for _, b := range addr[1:] {
		zeros = zeros && b == 0x00
		ones = ones && b == 0xff
	}
	if zeros || ones {
		return "", ErrDegenerateAddress
	}

	return fmt.Sprintf("%02X:%02X:%02X:%02X:%02X:%02X",
		addr[0], addr[1], addr[2], addr[3], addr[4], addr[5]), nil
}
