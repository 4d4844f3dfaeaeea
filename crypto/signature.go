package crypto

import (
	"encoding/hex"

	"github.com/cloudflare/circl/sign/ed25519"
	"github.com/fxamacker/cbor/v2"
	"github.com/optimachain/optimachain/shared"
)

const SignatureSize = ed25519.SignatureSize

type Signature [SignatureSize]byte

func SignatureFromBytes(data []byte) (Signature, error) {
	if len(data) != SignatureSize {
		return Signature{}, shared.Errorf(shared.KindSerializationFailure,
			"signature should be %d bytes, but it is %d bytes", SignatureSize, len(data))
	}
	var s Signature
	copy(s[:], data)
	return s, nil
}

func (s Signature) Bytes() []byte {
	return s[:]
}

func (s Signature) String() string {
	return hex.EncodeToString(s[:])
}

func (s Signature) IsZero() bool {
	return s == Signature{}
}

func (s Signature) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(s[:])
}

func (s *Signature) UnmarshalCBOR(data []byte) error {
	var raw []byte
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return shared.Errorf(shared.KindSerializationFailure, "signature: %v", err)
	}
	sig, err := SignatureFromBytes(raw)
	if err != nil {
		return err
	}
	*s = sig
	return nil
}

func (s Signature) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *Signature) UnmarshalText(text []byte) error {
	data, err := hex.DecodeString(string(text))
	if err != nil {
		return shared.Errorf(shared.KindSerializationFailure, "signature hex: %v", err)
	}
	sig, err := SignatureFromBytes(data)
	if err != nil {
		return err
	}
	*s = sig
	return nil
}
