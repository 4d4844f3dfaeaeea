package crypto

import "github.com/optimachain/optimachain/crypto/hash"

// Service is the signing, verification and hashing surface consumed by the
// consensus core. Inputs and outputs have fixed sizes.
type Service interface {
	Sign(priv *PrivateKey, msg []byte) Signature
	Verify(pub PublicKey, msg []byte, sig Signature) bool
	Hash(data []byte) hash.Hash
}

type Ed25519Service struct{}

func NewService() Ed25519Service {
	return Ed25519Service{}
}

func (Ed25519Service) Sign(priv *PrivateKey, msg []byte) Signature {
	return priv.Sign(msg)
}

func (Ed25519Service) Verify(pub PublicKey, msg []byte, sig Signature) bool {
	return pub.Verify(msg, sig)
}

func (Ed25519Service) Hash(data []byte) hash.Hash {
	return hash.NewHash(data)
}
