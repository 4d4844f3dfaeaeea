package validator

import (
	"time"

	"github.com/optimachain/optimachain/crypto"
	"github.com/optimachain/optimachain/shared"
	"github.com/optimachain/optimachain/types"
)

const (
	MaxWeight     uint32 = 100
	InitialWeight uint32 = 50
)

type StakeInfo struct {
	Amount      uint64 `cbor:"1,keyasint" json:"amount"`
	Since       int64  `cbor:"2,keyasint" json:"since"`
	Locked      bool   `cbor:"3,keyasint" json:"locked"`
	LockedUntil int64  `cbor:"4,keyasint,omitempty" json:"lockedUntil,omitempty"`
}

// Info is display metadata only. It never affects selection.
type Info struct {
	Name        string `cbor:"1,keyasint" json:"name"`
	Website     string `cbor:"2,keyasint,omitempty" json:"website,omitempty"`
	Description string `cbor:"3,keyasint,omitempty" json:"description,omitempty"`
	Icon        string `cbor:"4,keyasint,omitempty" json:"icon,omitempty"`
}

type Validator struct {
	PublicKey   crypto.PublicKey  `cbor:"1,keyasint" json:"publicKey"`
	Stake       StakeInfo         `cbor:"2,keyasint" json:"stake"`
	Info        Info              `cbor:"3,keyasint" json:"info"`
	Weight      uint32            `cbor:"4,keyasint" json:"weight"`
	Delegations map[string]uint64 `cbor:"5,keyasint" json:"delegations"`
}

func NewValidator(publicKey crypto.PublicKey, stake uint64, info Info) *Validator {
	return &Validator{
		PublicKey: publicKey,
		Stake: StakeInfo{
			Amount: stake,
			Since:  time.Now().Unix(),
		},
		Info:        info,
		Weight:      InitialWeight,
		Delegations: make(map[string]uint64),
	}
}

// TotalStake is the validator's own stake plus everything delegated to it.
func (v *Validator) TotalStake() uint64 {
	total := v.Stake.Amount
	for _, amount := range v.Delegations {
		total += amount
	}
	return total
}

// SetWeight stores w, capped at MaxWeight.
func (v *Validator) SetWeight(w uint32) {
	if w > MaxWeight {
		w = MaxWeight
	}
	v.Weight = w
}

func (v *Validator) AddDelegation(delegator string, amount uint64) {
	if v.Delegations == nil {
		v.Delegations = make(map[string]uint64)
	}
	v.Delegations[delegator] += amount
}

// RemoveDelegation withdraws amount from a delegator. A delegation that
// reaches zero is deleted.
func (v *Validator) RemoveDelegation(delegator string, amount uint64) error {
	current, ok := v.Delegations[delegator]
	if !ok {
		return shared.Errorf(shared.KindInsufficientDelegation, "no delegation found for %s", delegator)
	}
	if current < amount {
		return shared.Errorf(shared.KindInsufficientDelegation, "delegator %s has %d, requested %d", delegator, current, amount)
	}
	if current == amount {
		delete(v.Delegations, delegator)
		return nil
	}
	v.Delegations[delegator] = current - amount
	return nil
}

func (v *Validator) LockStake(until time.Time) {
	v.Stake.Locked = true
	v.Stake.LockedUntil = until.Unix()
}

// UnlockStake releases a lock whose deadline has passed at now.
func (v *Validator) UnlockStake(now time.Time) error {
	if !v.Stake.Locked {
		return shared.Errorf(shared.KindStakeNotLocked, "stake of %s is not locked", v.PublicKey.Short())
	}
	if v.Stake.LockedUntil != 0 && now.Unix() < v.Stake.LockedUntil {
		return shared.Errorf(shared.KindStakeLocked, "stake of %s locked until %d", v.PublicKey.Short(), v.Stake.LockedUntil)
	}
	v.Stake.Locked = false
	v.Stake.LockedUntil = 0
	return nil
}

func (v *Validator) Clone() *Validator {
	cp := *v
	cp.Delegations = make(map[string]uint64, len(v.Delegations))
	for k, amount := range v.Delegations {
		cp.Delegations[k] = amount
	}
	return &cp
}

func (v *Validator) Marshal() ([]byte, error) {
	return types.Encode(v)
}

func (v *Validator) Unmarshal(data []byte) error {
	return types.Decode(data, v)
}
