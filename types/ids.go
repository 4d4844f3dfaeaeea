package types

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/optimachain/optimachain/crypto/hash"
)

const IDSize = hash.HashSize

// BlockID is the hash of a block header's canonical encoding.
type BlockID [IDSize]byte

// TransactionID is the hash of a transaction's canonical encoding.
type TransactionID [IDSize]byte

// AccountID identifies an account across all shards.
type AccountID [IDSize]byte

// ShardID is the numeric identifier of a shard.
type ShardID uint32

func (id BlockID) String() string { return hex.EncodeToString(id[:]) }
func (id BlockID) Bytes() []byte  { return id[:] }
func (id BlockID) IsZero() bool   { return id == BlockID{} }

func (id BlockID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *BlockID) UnmarshalText(text []byte) error {
	return decodeID(id[:], string(text))
}

func BlockIDFromString(str string) (BlockID, error) {
	var id BlockID
	err := decodeID(id[:], str)
	return id, err
}

func (id TransactionID) String() string { return hex.EncodeToString(id[:]) }
func (id TransactionID) Bytes() []byte  { return id[:] }

func (id TransactionID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *TransactionID) UnmarshalText(text []byte) error {
	return decodeID(id[:], string(text))
}

func TransactionIDFromString(str string) (TransactionID, error) {
	var id TransactionID
	err := decodeID(id[:], str)
	return id, err
}

func (id AccountID) String() string { return hex.EncodeToString(id[:]) }
func (id AccountID) Bytes() []byte  { return id[:] }

func (id AccountID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

func (id *AccountID) UnmarshalText(text []byte) error {
	return decodeID(id[:], string(text))
}

func AccountIDFromString(str string) (AccountID, error) {
	var id AccountID
	err := decodeID(id[:], str)
	return id, err
}

// AccountIDFromBytes hashes arbitrary bytes (an address, a public key) into
// an AccountID.
func AccountIDFromBytes(data []byte) AccountID {
	return AccountID(hash.NewHash(data))
}

func (s ShardID) String() string {
	return strconv.FormatUint(uint64(s), 10)
}

func decodeID(dst []byte, str string) error {
	data, err := hex.DecodeString(str)
	if err != nil {
		return fmt.Errorf("invalid id %q: %w", str, err)
	}
	if len(data) != len(dst) {
		return fmt.Errorf("id should be %d bytes, but it is %d bytes", len(dst), len(data))
	}
	copy(dst, data)
	return nil
}
