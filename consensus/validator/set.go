package validator

import (
	"github.com/optimachain/optimachain/crypto"
	"github.com/optimachain/optimachain/types"
)

// Set is an ordered collection of validators with unique public keys. The
// stored order is the iteration order used by schedule generation and by
// the round-robin fallback, so it is part of consensus.
type Set struct {
	validators []*Validator
	index      map[crypto.PublicKey]int
}

func NewSet() *Set {
	return &Set{index: make(map[crypto.PublicKey]int)}
}

// Add appends v. Adding a key that is already present does nothing.
func (s *Set) Add(v *Validator) {
	if _, ok := s.index[v.PublicKey]; ok {
		return
	}
	s.index[v.PublicKey] = len(s.validators)
	s.validators = append(s.validators, v)
}

// Remove deletes the validator keeping the order of the rest. Unknown keys
// are ignored.
func (s *Set) Remove(pub crypto.PublicKey) *Validator {
	i, ok := s.index[pub]
	if !ok {
		return nil
	}
	removed := s.validators[i]
	s.validators = append(s.validators[:i], s.validators[i+1:]...)
	delete(s.index, pub)
	for j := i; j < len(s.validators); j++ {
		s.index[s.validators[j].PublicKey] = j
	}
	return removed
}

func (s *Set) Get(pub crypto.PublicKey) (*Validator, bool) {
	i, ok := s.index[pub]
	if !ok {
		return nil, false
	}
	return s.validators[i], true
}

func (s *Set) Contains(pub crypto.PublicKey) bool {
	_, ok := s.index[pub]
	return ok
}

func (s *Set) Len() int {
	return len(s.validators)
}

func (s *Set) IsEmpty() bool {
	return len(s.validators) == 0
}

// Validators returns the members in stored order. The slice is a copy; the
// validators are shared.
func (s *Set) Validators() []*Validator {
	out := make([]*Validator, len(s.validators))
	copy(out, s.validators)
	return out
}

// IndexOf returns the position of pub in stored order, or -1.
func (s *Set) IndexOf(pub crypto.PublicKey) int {
	if i, ok := s.index[pub]; ok {
		return i
	}
	return -1
}

// At returns the validator at position i in stored order.
func (s *Set) At(i int) *Validator {
	return s.validators[i]
}

func (s *Set) TotalStake() uint64 {
	var total uint64
	for _, v := range s.validators {
		total += v.TotalStake()
	}
	return total
}

func (s *Set) TotalWeight() uint64 {
	var total uint64
	for _, v := range s.validators {
		total += uint64(v.Weight)
	}
	return total
}

// LowestStake returns the member with the smallest own stake. Equal stakes
// resolve to the lowest public key so every node picks the same member.
func (s *Set) LowestStake() (*Validator, bool) {
	var lowest *Validator
	for _, v := range s.validators {
		if lowest == nil ||
			v.Stake.Amount < lowest.Stake.Amount ||
			(v.Stake.Amount == lowest.Stake.Amount && v.PublicKey.Compare(lowest.PublicKey) < 0) {
			lowest = v
		}
	}
	return lowest, lowest != nil
}

// Snapshot is the serializable form of a set, in stored order.
type Snapshot struct {
	Validators []*Validator `cbor:"1,keyasint" json:"validators"`
}

func (s *Set) Snapshot() Snapshot {
	out := make([]*Validator, len(s.validators))
	for i, v := range s.validators {
		out[i] = v.Clone()
	}
	return Snapshot{Validators: out}
}

func (snap Snapshot) Marshal() ([]byte, error) {
	return types.Encode(snap)
}

func UnmarshalSnapshot(data []byte) (*Set, error) {
	var snap Snapshot
	if err := types.Decode(data, &snap); err != nil {
		return nil, err
	}
	set := NewSet()
	for _, v := range snap.Validators {
		set.Add(v)
	}
	return set, nil
}
