package hash

import (
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/sha3"
)

const HashSize = 32

// Hash is a SHA3-256 digest.
type Hash [HashSize]byte

func NewHash(data []byte) Hash {
	return Hash(sha3.Sum256(data))
}

// NewHashOf hashes the concatenation of parts without an intermediate copy.
func NewHashOf(parts ...[]byte) Hash {
	h := sha3.New256()
	for _, p := range parts {
		h.Write(p)
	}
	var out Hash
	copy(out[:], h.Sum(nil))
	return out
}

func FromString(str string) (Hash, error) {
	data, err := hex.DecodeString(str)
	if err != nil {
		return Hash{}, err
	}
	return FromBytes(data)
}

func FromBytes(data []byte) (Hash, error) {
	if len(data) != HashSize {
		return Hash{}, fmt.Errorf("hash should be %d bytes, but it is %d bytes", HashSize, len(data))
	}
	var h Hash
	copy(h[:], data)
	return h, nil
}

func (h Hash) String() string {
	return hex.EncodeToString(h[:])
}

func (h Hash) Bytes() []byte {
	return h[:]
}

func (h Hash) IsZero() bool {
	return h == Hash{}
}

func (h Hash) MarshalText() ([]byte, error) {
	return []byte(h.String()), nil
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := FromString(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
