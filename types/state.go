package types

import (
	"bytes"
	"encoding/hex"

	"github.com/optimachain/optimachain/crypto/hash"
)

// StateRoot is the hash of a shard's whole account state.
type StateRoot [IDSize]byte

func (r StateRoot) String() string { return hex.EncodeToString(r[:]) }

func (r StateRoot) MarshalText() ([]byte, error) { return []byte(r.String()), nil }

func (r *StateRoot) UnmarshalText(text []byte) error {
	return decodeID(r[:], string(text))
}

type TokenBalance struct {
	Symbol string `cbor:"1,keyasint" json:"symbol"`
	Amount uint64 `cbor:"2,keyasint" json:"amount"`
}

type Balance struct {
	Native uint64         `cbor:"1,keyasint" json:"native"`
	Tokens []TokenBalance `cbor:"2,keyasint" json:"tokens"`
}

type StorageEntry struct {
	Key   []byte `cbor:"1,keyasint" json:"key"`
	Value []byte `cbor:"2,keyasint" json:"value"`
}

type Account struct {
	ID      AccountID      `cbor:"1,keyasint" json:"id"`
	Balance Balance        `cbor:"2,keyasint" json:"balance"`
	Nonce   uint64         `cbor:"3,keyasint" json:"nonce"`
	Code    []byte         `cbor:"4,keyasint,omitempty" json:"code,omitempty"`
	Storage []StorageEntry `cbor:"5,keyasint" json:"storage"`
}

func NewUserAccount(id AccountID) Account {
	return Account{ID: id}.withDefaults()
}

func NewContractAccount(id AccountID, code []byte) Account {
	acc := Account{ID: id, Code: code}
	return acc.withDefaults()
}

func (a Account) withDefaults() Account {
	if a.Balance.Tokens == nil {
		a.Balance.Tokens = []TokenBalance{}
	}
	if a.Storage == nil {
		a.Storage = []StorageEntry{}
	}
	return a
}

func (a *Account) IsContract() bool {
	return len(a.Code) > 0
}

// UpdateKind selects which field of StateUpdate is meaningful.
type UpdateKind uint8

const (
	UpdateCreateAccount UpdateKind = iota
	UpdateAccount
	UpdateDeleteAccount
)

// StorageUpdate sets Key to Value, or deletes Key when Delete is true.
type StorageUpdate struct {
	Key    []byte `cbor:"1,keyasint" json:"key"`
	Value  []byte `cbor:"2,keyasint,omitempty" json:"value,omitempty"`
	Delete bool   `cbor:"3,keyasint,omitempty" json:"delete,omitempty"`
}

type StateUpdate struct {
	Kind           UpdateKind      `cbor:"1,keyasint" json:"kind"`
	Account        Account         `cbor:"2,keyasint" json:"account"`
	ID             AccountID       `cbor:"3,keyasint" json:"id"`
	BalanceDelta   int64           `cbor:"4,keyasint" json:"balanceDelta"`
	NonceDelta     uint64          `cbor:"5,keyasint" json:"nonceDelta"`
	StorageUpdates []StorageUpdate `cbor:"6,keyasint" json:"storageUpdates"`
}

// State is the shard-local account state. Root is recomputed from the whole
// account list after every update; there is no incremental trie.
type State struct {
	Accounts []Account `cbor:"1,keyasint" json:"accounts"`
	Root     StateRoot `cbor:"2,keyasint" json:"root"`
}

func NewState() *State {
	return &State{Accounts: []Account{}}
}

func (s *State) Account(id AccountID) (*Account, bool) {
	for i := range s.Accounts {
		if s.Accounts[i].ID == id {
			return &s.Accounts[i], true
		}
	}
	return nil, false
}

// ApplyUpdate applies one update and recalculates the root. Updating or
// deleting an unknown account only recalculates the root.
func (s *State) ApplyUpdate(update StateUpdate) {
	switch update.Kind {
	case UpdateCreateAccount:
		s.Accounts = append(s.Accounts, update.Account.withDefaults())
	case UpdateAccount:
		acc, ok := s.Account(update.ID)
		if ok {
			if update.BalanceDelta >= 0 {
				acc.Balance.Native += uint64(update.BalanceDelta)
			} else {
				acc.Balance.Native -= uint64(-update.BalanceDelta)
			}
			acc.Nonce += update.NonceDelta
			for _, su := range update.StorageUpdates {
				applyStorageUpdate(acc, su)
			}
		}
	case UpdateDeleteAccount:
		kept := s.Accounts[:0]
		for _, acc := range s.Accounts {
			if acc.ID != update.ID {
				kept = append(kept, acc)
			}
		}
		s.Accounts = kept
	}
	s.recalculateRoot()
}

func applyStorageUpdate(acc *Account, su StorageUpdate) {
	if su.Delete {
		kept := acc.Storage[:0]
		for _, e := range acc.Storage {
			if !bytes.Equal(e.Key, su.Key) {
				kept = append(kept, e)
			}
		}
		acc.Storage = kept
		return
	}
	for i := range acc.Storage {
		if bytes.Equal(acc.Storage[i].Key, su.Key) {
			acc.Storage[i].Value = su.Value
			return
		}
	}
	acc.Storage = append(acc.Storage, StorageEntry{Key: su.Key, Value: su.Value})
}

func (s *State) recalculateRoot() {
	s.Root = StateRoot(hash.NewHash(mustEncode(s.Accounts)))
}
