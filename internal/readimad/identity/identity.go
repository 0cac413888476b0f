// Package identity derives ledger keys from printed serial numbers.
//
// A key is the Keccak-256 digest of the serial's exact UTF-8 bytes, the same
// digest the on-chain registry contract expects. No trimming or case folding
// is applied: "SN-1" and "sn-1" are different goods.
package identity

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/crypto/sha3"
)

// Size is the length of a Key in bytes.
const Size = 32

var ErrInvalidKey = errors.New("identity key must be 32 hex-encoded bytes")

// Key is the fixed-size lookup key for one serial number.
type Key [Size]byte

// Hash returns the key for serial. It never fails.
func Hash(serial string) Key {
	var k Key
	h := sha3.NewLegacyKeccak256()
	_, _ = h.Write([]byte(serial))
	h.Sum(k[:0])
	return k
}

// HashAll hashes serials in order. Duplicates map to identical keys.
func HashAll(serials []string) []Key {
	keys := make([]Key, len(serials))
	for i, s := range serials {
		keys[i] = Hash(s)
	}
	return keys
}

// Hex returns the 0x-prefixed lowercase hex form used on the wire.
func (k Key) Hex() string {
	return "0x" + hex.EncodeToString(k[:])
}

func (k Key) String() string { return k.Hex() }

func (k Key) IsZero() bool { return k == Key{} }

// ParseKey accepts the output of Hex, with or without the 0x prefix.
func ParseKey(s string) (Key, error) {
	var k Key
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	if len(s) != Size*2 {
		return k, fmt.Errorf("%w: got %d hex chars", ErrInvalidKey, len(s))
	}
	if _, err := hex.Decode(k[:], []byte(s)); err != nil {
		return Key{}, fmt.Errorf("%w: %v", ErrInvalidKey, err)
	}
	return k, nil
}

// FromBytes copies b into a Key. b must be exactly Size bytes long.
func FromBytes(b []byte) (Key, error) {
	var k Key
	if len(b) != Size {
		return k, fmt.Errorf("%w: got %d bytes", ErrInvalidKey, len(b))
	}
	copy(k[:], b)
	return k, nil
}
