package types

import (
	"time"

	"github.com/google/uuid"
	"github.com/optimachain/optimachain/crypto"
)

type MessageType uint8

const (
	MsgBlockAnnounce MessageType = iota
	MsgBlockRequest
	MsgBlockResponse
	MsgTransactionAnnounce
	MsgTransactionRequest
	MsgTransactionResponse
	MsgConsensus
	MsgDiscovery
	MsgStatus
	MsgPing
	MsgPong
)

func (t MessageType) String() string {
	switch t {
	case MsgBlockAnnounce:
		return "block_announce"
	case MsgBlockRequest:
		return "block_request"
	case MsgBlockResponse:
		return "block_response"
	case MsgTransactionAnnounce:
		return "transaction_announce"
	case MsgTransactionRequest:
		return "transaction_request"
	case MsgTransactionResponse:
		return "transaction_response"
	case MsgConsensus:
		return "consensus"
	case MsgDiscovery:
		return "discovery"
	case MsgStatus:
		return "status"
	case MsgPing:
		return "ping"
	case MsgPong:
		return "pong"
	default:
		return "unknown"
	}
}

const DefaultMessageTTL = 10

// Message is the envelope the network layer delivers. Payload is the
// canonical encoding of the type specific body.
type Message struct {
	ID        string      `cbor:"1,keyasint" json:"id"`
	Type      MessageType `cbor:"2,keyasint" json:"type"`
	Timestamp int64       `cbor:"3,keyasint" json:"timestamp"`
	TTL       uint8       `cbor:"4,keyasint" json:"ttl"`
	Payload   []byte      `cbor:"5,keyasint" json:"payload"`
}

// NewMessage encodes body into a fresh envelope.
func NewMessage(msgType MessageType, body interface{}) (*Message, error) {
	var payload []byte
	if body != nil {
		var err error
		payload, err = Encode(body)
		if err != nil {
			return nil, err
		}
	}
	return &Message{
		ID:        uuid.NewString(),
		Type:      msgType,
		Timestamp: time.Now().Unix(),
		TTL:       DefaultMessageTTL,
		Payload:   payload,
	}, nil
}

// DecodePayload parses the envelope body into v.
func (m *Message) DecodePayload(v interface{}) error {
	return Decode(m.Payload, v)
}

// Vote is a validator's signed approval of a block. It travels inside a
// consensus message.
type Vote struct {
	BlockID   BlockID          `cbor:"1,keyasint" json:"blockId"`
	Height    uint64           `cbor:"2,keyasint" json:"height"`
	Validator crypto.PublicKey `cbor:"3,keyasint" json:"validator"`
	Signature crypto.Signature `cbor:"4,keyasint" json:"signature"`
}

type voteBody struct {
	BlockID BlockID `cbor:"1,keyasint"`
	Height  uint64  `cbor:"2,keyasint"`
}

func (v *Vote) SigningBytes() []byte {
	return mustEncode(voteBody{BlockID: v.BlockID, Height: v.Height})
}

// NewVote signs a vote for the block.
func NewVote(block *Block, priv *crypto.PrivateKey) Vote {
	v := Vote{BlockID: block.ID(), Height: block.Height(), Validator: priv.PublicKey()}
	v.Signature = priv.Sign(v.SigningBytes())
	return v
}

// ConsensusMessage carries a round number and a vote.
type ConsensusMessage struct {
	Round uint64 `cbor:"1,keyasint" json:"round"`
	Vote  Vote   `cbor:"2,keyasint" json:"vote"`
}

// StatusMessage advertises the sender's view of the chain.
type StatusMessage struct {
	Height          uint64  `cbor:"1,keyasint" json:"height"`
	LatestBlock     BlockID `cbor:"2,keyasint" json:"latestBlock"`
	FinalizedHeight uint64  `cbor:"3,keyasint" json:"finalizedHeight"`
	Epoch           uint64  `cbor:"4,keyasint" json:"epoch"`
}

type BlockRequest struct {
	BlockID BlockID `cbor:"1,keyasint" json:"blockId"`
}
