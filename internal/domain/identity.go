package domain

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// identityHexLen is the number of hex digits in an identity address (32 bytes).
const identityHexLen = 64

// Identity is the public address of the reader. The zero value means no
// identity is present.
type Identity string

// NoIdentity is the absent identity.
const NoIdentity Identity = ""

// ParseIdentity validates and normalises an address of the form
// 0x followed by 64 hex digits.
func ParseIdentity(s string) (Identity, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	digits, ok := strings.CutPrefix(s, "0x")
	if !ok || len(digits) != identityHexLen {
		return NoIdentity, fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
	}
	if _, err := hex.DecodeString(digits); err != nil {
		return NoIdentity, fmt.Errorf("%w: %q", ErrInvalidIdentity, s)
	}
	return Identity(s), nil
}

// Present reports whether an identity is set.
func (id Identity) Present() bool { return id != NoIdentity }

func (id Identity) String() string { return string(id) }
