package types

import (
	"github.com/optimachain/optimachain/crypto"
	"github.com/optimachain/optimachain/crypto/hash"
	"github.com/optimachain/optimachain/shared"
)

type TransactionType uint8

const (
	TxTransfer TransactionType = iota
	TxDeployContract
	TxCallContract
	TxStake
	TxUnstake
)

func (t TransactionType) String() string {
	switch t {
	case TxTransfer:
		return "transfer"
	case TxDeployContract:
		return "deploy_contract"
	case TxCallContract:
		return "call_contract"
	case TxStake:
		return "stake"
	case TxUnstake:
		return "unstake"
	default:
		return "unknown"
	}
}

// TransactionPayload holds the type specific fields. Only the fields of the
// transaction's Type are set.
type TransactionPayload struct {
	Recipient  AccountID `cbor:"1,keyasint,omitempty" json:"recipient,omitempty"`
	Amount     uint64    `cbor:"2,keyasint,omitempty" json:"amount,omitempty"`
	Code       []byte    `cbor:"3,keyasint,omitempty" json:"code,omitempty"`
	InitArgs   []byte    `cbor:"4,keyasint,omitempty" json:"initArgs,omitempty"`
	ContractID AccountID `cbor:"5,keyasint,omitempty" json:"contractId,omitempty"`
	Method     string    `cbor:"6,keyasint,omitempty" json:"method,omitempty"`
	Args       []byte    `cbor:"7,keyasint,omitempty" json:"args,omitempty"`
}

// Transaction defines the structure for chain transactions
type Transaction struct {
	Type      TransactionType    `cbor:"1,keyasint" json:"type"`
	Payload   TransactionPayload `cbor:"2,keyasint" json:"payload"`
	Sender    crypto.PublicKey   `cbor:"3,keyasint" json:"sender"`
	Nonce     uint64             `cbor:"4,keyasint" json:"nonce"`
	GasLimit  uint64             `cbor:"5,keyasint" json:"gasLimit"`
	GasPrice  uint64             `cbor:"6,keyasint" json:"gasPrice"`
	Signature crypto.Signature   `cbor:"7,keyasint" json:"signature"`
}

type TransactionStatus uint8

const (
	TxPending TransactionStatus = iota
	TxIncluded
	TxConfirmed
	TxFailed
)

// ID hashes the canonical encoding of the whole transaction.
func (tx *Transaction) ID() TransactionID {
	return TransactionID(hash.NewHash(mustEncode(tx)))
}

// SigningBytes is the canonical encoding with the signature zeroed.
func (tx *Transaction) SigningBytes() []byte {
	cp := *tx
	cp.Signature = crypto.Signature{}
	return mustEncode(&cp)
}

func (tx *Transaction) Sign(priv *crypto.PrivateKey) {
	tx.Sender = priv.PublicKey()
	tx.Signature = priv.Sign(tx.SigningBytes())
}

func (tx *Transaction) Verify() bool {
	return tx.Sender.Verify(tx.SigningBytes(), tx.Signature)
}

// CheckGas reports GasExceeded when the execution engine consumed more gas
// than the transaction allows.
func (tx *Transaction) CheckGas(used uint64) error {
	if used > tx.GasLimit {
		return shared.Errorf(shared.KindGasExceeded, "used %d, limit %d", used, tx.GasLimit)
	}
	return nil
}

// Fee is the maximum amount the sender pays for execution.
func (tx *Transaction) Fee() uint64 {
	return tx.GasLimit * tx.GasPrice
}

func (tx *Transaction) Marshal() ([]byte, error) {
	return Encode(tx)
}

func (tx *Transaction) Unmarshal(data []byte) error {
	return Decode(data, tx)
}

// ExecutionResult is what the execution engine hands back for a
// transaction: the new state root and whether it succeeded.
type ExecutionResult struct {
	TransactionID TransactionID `cbor:"1,keyasint" json:"transactionId"`
	StateRoot     StateRoot     `cbor:"2,keyasint" json:"stateRoot"`
	Success       bool          `cbor:"3,keyasint" json:"success"`
	GasUsed       uint64        `cbor:"4,keyasint" json:"gasUsed"`
	Error         string        `cbor:"5,keyasint,omitempty" json:"error,omitempty"`
}
