package program

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

const (
	// HashSize is the size of every hash in the system.
	HashSize = sha256.Size
)

// Hash is a sha256 digest: tree hashes, coin ids and announcement ids.
type Hash [HashSize]byte

// String returns the hex encoding of the hash.
func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

// NewHashFromStr parses a hex encoded hash. An optional 0x prefix is allowed.
func NewHashFromStr(s string) (Hash, error) {
	var h Hash

	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}

	b, err := hex.DecodeString(s)
	if err != nil {
		return h, fmt.Errorf("invalid hash hex: %w", err)
	}
	if len(b) != HashSize {
		return h, fmt.Errorf("invalid hash length %d", len(b))
	}
	copy(h[:], b)

	return h, nil
}

// Sha256 hashes the concatenation of the given byte slices.
func Sha256(parts ...[]byte) Hash {
	h := sha256.New()
	for _, p := range parts {
		h.Write(p)
	}

	var out Hash
	copy(out[:], h.Sum(nil))

	return out
}

// TreeHash returns the structural hash of the program. Atoms hash as
// sha256(0x01 || atom) and pairs as sha256(0x02 || left || right).
func (p *Program) TreeHash() Hash {
	if !p.IsPair() {
		return Sha256([]byte{1}, p.atom)
	}

	left := p.first.TreeHash()
	right := p.rest.TreeHash()

	return Sha256([]byte{2}, left[:], right[:])
}
