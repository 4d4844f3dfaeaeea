package crypto

import (
	"crypto/rand"
	"fmt"

	"github.com/cloudflare/circl/sign/ed25519"
)

const SeedSize = ed25519.SeedSize

type PrivateKey struct {
	key ed25519.PrivateKey
	pub PublicKey
}

func NewPrivateKey() (*PrivateKey, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("failed to generate ed25519 key: %w", err)
	}
	pk, err := PublicKeyFromBytes(pub)
	if err != nil {
		return nil, err
	}
	return &PrivateKey{key: priv, pub: pk}, nil
}

// PrivateKeyFromSeed derives a key deterministically from a 32 byte seed.
func PrivateKeyFromSeed(seed []byte) (*PrivateKey, error) {
	if len(seed) != SeedSize {
		return nil, fmt.Errorf("seed should be %d bytes, but it is %d bytes", SeedSize, len(seed))
	}
	priv := ed25519.NewKeyFromSeed(seed)
	var pk PublicKey
	copy(pk[:], priv[SeedSize:])
	return &PrivateKey{key: priv, pub: pk}, nil
}

func (p *PrivateKey) PublicKey() PublicKey {
	return p.pub
}

func (p *PrivateKey) Seed() []byte {
	return p.key.Seed()
}

func (p *PrivateKey) Sign(msg []byte) Signature {
	var sig Signature
	copy(sig[:], ed25519.Sign(p.key, msg))
	return sig
}
