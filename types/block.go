package types

import (
	"github.com/optimachain/optimachain/crypto"
	"github.com/optimachain/optimachain/crypto/hash"
)

const BlockVersion = 1

// BlockHeader carries the metadata of a block. Timestamp is in unix
// milliseconds so it can be matched against the production schedule.
type BlockHeader struct {
	Version          uint32           `cbor:"1,keyasint" json:"version"`
	Height           uint64           `cbor:"2,keyasint" json:"height"`
	Timestamp        uint64           `cbor:"3,keyasint" json:"timestamp"`
	PrevBlock        BlockID          `cbor:"4,keyasint" json:"prevBlock"`
	TransactionsRoot hash.Hash        `cbor:"5,keyasint" json:"transactionsRoot"`
	StateRoot        StateRoot        `cbor:"6,keyasint" json:"stateRoot"`
	Validator        crypto.PublicKey `cbor:"7,keyasint" json:"validator"`
	Signature        crypto.Signature `cbor:"8,keyasint" json:"signature"`
}

// CrossShardRef points at a transaction that continues on another shard.
type CrossShardRef struct {
	Shard         ShardID       `cbor:"1,keyasint" json:"shard"`
	TransactionID TransactionID `cbor:"2,keyasint" json:"transactionId"`
}

type Block struct {
	Header        BlockHeader     `cbor:"1,keyasint" json:"header"`
	Transactions  []TransactionID `cbor:"2,keyasint" json:"transactions"`
	ShardID       ShardID         `cbor:"3,keyasint" json:"shardId"`
	CrossShardTxs []CrossShardRef `cbor:"4,keyasint,omitempty" json:"crossShardTxs,omitempty"`
}

// NewBlock assembles an unsigned block. The caller signs it with Sign.
func NewBlock(height uint64, timestamp uint64, prev BlockID, txs []TransactionID, stateRoot StateRoot, validator crypto.PublicKey, shard ShardID) *Block {
	return &Block{
		Header: BlockHeader{
			Version:          BlockVersion,
			Height:           height,
			Timestamp:        timestamp,
			PrevBlock:        prev,
			TransactionsRoot: ComputeTransactionsRoot(txs),
			StateRoot:        stateRoot,
			Validator:        validator,
		},
		Transactions: txs,
		ShardID:      shard,
	}
}

// ID hashes the canonical encoding of the full header, signature included.
func (b *Block) ID() BlockID {
	return b.Header.ID()
}

func (h BlockHeader) ID() BlockID {
	return BlockID(hash.NewHash(mustEncode(h)))
}

// SigningBytes is the canonical header encoding with the signature zeroed.
func (h BlockHeader) SigningBytes() []byte {
	h.Signature = crypto.Signature{}
	return mustEncode(h)
}

func (b *Block) SigningBytes() []byte {
	return b.Header.SigningBytes()
}

// Sign stamps the producer's signature over SigningBytes.
func (b *Block) Sign(priv *crypto.PrivateKey) {
	b.Header.Validator = priv.PublicKey()
	b.Header.Signature = priv.Sign(b.Header.SigningBytes())
}

func (b *Block) Height() uint64 {
	return b.Header.Height
}

func (b *Block) Producer() crypto.PublicKey {
	return b.Header.Validator
}

func (b *Block) Marshal() ([]byte, error) {
	return Encode(b)
}

func (b *Block) Unmarshal(data []byte) error {
	return Decode(data, b)
}

// ComputeTransactionsRoot hashes the concatenated transaction IDs. An empty
// list yields the zero root.
func ComputeTransactionsRoot(txs []TransactionID) hash.Hash {
	if len(txs) == 0 {
		return hash.Hash{}
	}
	parts := make([][]byte, len(txs))
	for i := range txs {
		parts[i] = txs[i][:]
	}
	return hash.NewHashOf(parts...)
}
