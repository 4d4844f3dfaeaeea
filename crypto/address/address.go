package address

import (
	"strings"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/optimachain/optimachain/crypto"
	"github.com/optimachain/optimachain/crypto/hash"
	"github.com/optimachain/optimachain/shared"
	"github.com/optimachain/optimachain/types"
)

const HRP = "opt"

// FromPublicKey derives the account owned by pub.
func FromPublicKey(pub crypto.PublicKey) types.AccountID {
	return types.AccountID(hash.NewHash(pub.Bytes()))
}

// Encode renders id as a bech32 address.
func Encode(id types.AccountID) (string, error) {
	words, err := bech32.ConvertBits(id[:], 8, 5, true)
	if err != nil {
		return "", shared.Errorf(shared.KindSerializationFailure, "convert account to words: %v", err)
	}
	addr, err := bech32.Encode(HRP, words)
	if err != nil {
		return "", shared.Errorf(shared.KindSerializationFailure, "bech32 encode: %v", err)
	}
	return addr, nil
}

// Decode parses a bech32 address with the chain prefix.
func Decode(addr string) (types.AccountID, error) {
	hrp, words, err := bech32.Decode(addr)
	if err != nil {
		return types.AccountID{}, shared.Errorf(shared.KindSerializationFailure, "decode address %q: %v", addr, err)
	}
	if hrp != HRP {
		return types.AccountID{}, shared.Errorf(shared.KindSerializationFailure, "address prefix %q, want %q", hrp, HRP)
	}
	data, err := bech32.ConvertBits(words, 5, 8, false)
	if err != nil {
		return types.AccountID{}, shared.Errorf(shared.KindSerializationFailure, "convert address words: %v", err)
	}
	var id types.AccountID
	if len(data) != len(id) {
		return types.AccountID{}, shared.Errorf(shared.KindSerializationFailure, "address holds %d bytes, want %d", len(data), len(id))
	}
	copy(id[:], data)
	return id, nil
}

func Validate(addr string) bool {
	_, err := Decode(addr)
	return err == nil
}

// Parse accepts either a bech32 address or the hex form of an account ID.
func Parse(s string) (types.AccountID, error) {
	if strings.HasPrefix(strings.ToLower(s), HRP+"1") {
		return Decode(s)
	}
	return types.AccountIDFromString(s)
}
