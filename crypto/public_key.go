package crypto

import (
	"bytes"
	"encoding/hex"

	"github.com/cloudflare/circl/sign/ed25519"
	"github.com/fxamacker/cbor/v2"
	"github.com/optimachain/optimachain/shared"
)

const PublicKeySize = ed25519.PublicKeySize

// PublicKey is a 32 byte ed25519 verifying key. It is the identity of a
// validator and is comparable, so it can key maps directly.
type PublicKey [PublicKeySize]byte

func PublicKeyFromBytes(data []byte) (PublicKey, error) {
	if len(data) != PublicKeySize {
		return PublicKey{}, shared.Errorf(shared.KindSerializationFailure,
			"public key should be %d bytes, but it is %d bytes", PublicKeySize, len(data))
	}
	var pk PublicKey
	copy(pk[:], data)
	return pk, nil
}

func PublicKeyFromString(str string) (PublicKey, error) {
	data, err := hex.DecodeString(str)
	if err != nil {
		return PublicKey{}, shared.Errorf(shared.KindSerializationFailure, "public key hex: %v", err)
	}
	return PublicKeyFromBytes(data)
}

func (p PublicKey) Bytes() []byte {
	return p[:]
}

func (p PublicKey) String() string {
	return hex.EncodeToString(p[:])
}

// Short is the first eight hex characters, for log fields.
func (p PublicKey) Short() string {
	return hex.EncodeToString(p[:4])
}

func (p PublicKey) IsZero() bool {
	return p == PublicKey{}
}

// Compare orders keys by their raw bytes. It is the canonical order used for
// every tie-break that affects consensus.
func (p PublicKey) Compare(other PublicKey) int {
	return bytes.Compare(p[:], other[:])
}

func (p PublicKey) Verify(data []byte, sig Signature) bool {
	return ed25519.Verify(ed25519.PublicKey(p[:]), data, sig[:])
}

func (p PublicKey) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(p[:])
}

func (p *PublicKey) UnmarshalCBOR(data []byte) error {
	var raw []byte
	if err := cbor.Unmarshal(data, &raw); err != nil {
		return shared.Errorf(shared.KindSerializationFailure, "public key: %v", err)
	}
	pk, err := PublicKeyFromBytes(raw)
	if err != nil {
		return err
	}
	*p = pk
	return nil
}

func (p PublicKey) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *PublicKey) UnmarshalText(text []byte) error {
	pk, err := PublicKeyFromString(string(text))
	if err != nil {
		return err
	}
	*p = pk
	return nil
}
