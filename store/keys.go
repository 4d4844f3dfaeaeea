package store

import (
	"encoding/binary"

	"github.com/optimachain/optimachain/types"
)

// Key prefixes. Each record family lives under its own leading byte.
const (
	PrefixBlock        byte = 0x01
	PrefixTransaction  byte = 0x02
	PrefixAccount      byte = 0x03
	PrefixState        byte = 0x04
	PrefixMetadata     byte = 0x05
	PrefixFinality     byte = 0x06
	PrefixValidatorSet byte = 0x07
)

const (
	metaLatestFinalized = "latest_finalized"
	metaValidatorEpoch  = "validator_epoch"
)

func prefixed(prefix byte, parts ...[]byte) []byte {
	n := 1
	for _, p := range parts {
		n += len(p)
	}
	key := make([]byte, 0, n)
	key = append(key, prefix)
	for _, p := range parts {
		key = append(key, p...)
	}
	return key
}

func BlockKey(id types.BlockID) []byte {
	return prefixed(PrefixBlock, id[:])
}

func TransactionKey(id types.TransactionID) []byte {
	return prefixed(PrefixTransaction, id[:])
}

func AccountKey(id types.AccountID) []byte {
	return prefixed(PrefixAccount, id[:])
}

func FinalityKey(id types.BlockID) []byte {
	return prefixed(PrefixFinality, id[:])
}

func MetadataKey(name string) []byte {
	return prefixed(PrefixMetadata, []byte(name))
}

// ValidatorSetKey orders snapshots by epoch.
func ValidatorSetKey(epoch uint64) []byte {
	return prefixed(PrefixValidatorSet, binary.BigEndian.AppendUint64(nil, epoch))
}

// ShardedKey scopes a key to one shard: prefix, big-endian shard ID, then
// the remaining parts.
func ShardedKey(prefix byte, shard types.ShardID, parts ...[]byte) []byte {
	head := binary.BigEndian.AppendUint32(nil, uint32(shard))
	return prefixed(prefix, append([][]byte{head}, parts...)...)
}
