package finality

import (
	"sort"
	"time"

	"github.com/optimachain/optimachain/crypto"
	"github.com/optimachain/optimachain/types"
)

type ValidatorSignature struct {
	PublicKey crypto.PublicKey `cbor:"1,keyasint" json:"publicKey"`
	Signature crypto.Signature `cbor:"2,keyasint" json:"signature"`
}

// Proof is the immutable record that a block reached quorum.
type Proof struct {
	BlockID    types.BlockID        `cbor:"1,keyasint" json:"blockId"`
	Height     uint64               `cbor:"2,keyasint" json:"height"`
	Signatures []ValidatorSignature `cbor:"3,keyasint" json:"signatures"`
	Timestamp  int64                `cbor:"4,keyasint" json:"timestamp"`
}

func NewProof(blockID types.BlockID, height uint64) *Proof {
	return &Proof{
		BlockID:    blockID,
		Height:     height,
		Signatures: []ValidatorSignature{},
		Timestamp:  time.Now().Unix(),
	}
}

// AddSignature records a validator's signature once; later signatures from
// the same validator are ignored.
func (p *Proof) AddSignature(pub crypto.PublicKey, sig crypto.Signature) {
	if p.HasSignatureFrom(pub) {
		return
	}
	p.Signatures = append(p.Signatures, ValidatorSignature{PublicKey: pub, Signature: sig})
}

func (p *Proof) SignatureCount() int {
	return len(p.Signatures)
}

func (p *Proof) HasSignatureFrom(pub crypto.PublicKey) bool {
	for _, s := range p.Signatures {
		if s.PublicKey == pub {
			return true
		}
	}
	return false
}

// Signers lists the signing validators ordered by public key.
func (p *Proof) Signers() []crypto.PublicKey {
	out := make([]crypto.PublicKey, len(p.Signatures))
	for i, s := range p.Signatures {
		out[i] = s.PublicKey
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Compare(out[j]) < 0 })
	return out
}

func (p *Proof) Marshal() ([]byte, error) {
	return types.Encode(p)
}

// UnmarshalProof decodes a proof. Keys and signatures of the wrong length
// are rejected with a serialization failure.
func UnmarshalProof(data []byte) (*Proof, error) {
	var p Proof
	if err := types.Decode(data, &p); err != nil {
		return nil, err
	}
	if p.Signatures == nil {
		p.Signatures = []ValidatorSignature{}
	}
	return &p, nil
}
