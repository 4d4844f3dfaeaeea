package types

import (
	"github.com/fxamacker/cbor/v2"
	"github.com/optimachain/optimachain/shared"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	// Core deterministic encoding: sorted map keys and shortest integer
	// forms, so equal values always produce equal bytes and equal hashes.
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic(err)
	}
	decMode, err = cbor.DecOptions{
		DupMapKey: cbor.DupMapKeyEnforcedAPF,
	}.DecMode()
	if err != nil {
		panic(err)
	}
}

// Encode serializes v with the canonical CBOR encoding.
func Encode(v interface{}) ([]byte, error) {
	data, err := encMode.Marshal(v)
	if err != nil {
		return nil, shared.Errorf(shared.KindSerializationFailure, "encode %T: %v", v, err)
	}
	return data, nil
}

// Decode parses canonical CBOR produced by Encode into v.
func Decode(data []byte, v interface{}) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		if shared.KindOf(err) == shared.KindSerializationFailure {
			return err
		}
		return shared.Errorf(shared.KindSerializationFailure, "decode %T: %v", v, err)
	}
	return nil
}

func mustEncode(v interface{}) []byte {
	data, err := Encode(v)
	if err != nil {
		panic(err)
	}
	return data
}
