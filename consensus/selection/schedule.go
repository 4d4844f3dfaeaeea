package selection

import (
	"encoding/binary"
	"math/rand/v2"
	"sort"

	"github.com/optimachain/optimachain/consensus/validator"
	"github.com/optimachain/optimachain/crypto"
	"github.com/optimachain/optimachain/types"
)

// Slot is one assigned production window.
type Slot struct {
	Start     uint64           `json:"start"`
	Validator crypto.PublicKey `json:"validator"`
}

// Schedule maps slot start times (ms) to the validator expected to produce
// in that slot. It is never modified after generation.
type Schedule struct {
	slots        map[uint64]crypto.PublicKey
	slotDuration uint64
	start        uint64
	end          uint64
	seed         uint64
}

// GenerateSchedule builds a schedule for [start, start+duration) seeded with
// start, matching the reference network.
func GenerateSchedule(validators []*validator.Validator, start, duration, slotDuration uint64) *Schedule {
	return Generate(validators, start, start, start+duration, slotDuration)
}

// Generate assigns every slot in [start, end) by a weight proportional draw.
//
// The draw sequence comes from PCG-DXSM seeded with (seed, seed). Each slot
// draws a uniform target in [0, totalWeight) and walks the validators in
// the given order until the running weight exceeds target. Both the
// generator and the order must match across nodes or they disagree on the
// expected producer.
func Generate(validators []*validator.Validator, seed, start, end, slotDuration uint64) *Schedule {
	s := &Schedule{
		slots:        make(map[uint64]crypto.PublicKey),
		slotDuration: slotDuration,
		start:        start,
		end:          end,
		seed:         seed,
	}
	if len(validators) == 0 || slotDuration == 0 || end <= start {
		return s
	}

	var totalWeight uint64
	for _, v := range validators {
		totalWeight += uint64(v.Weight)
	}
	if totalWeight == 0 {
		return s
	}

	rng := rand.New(rand.NewPCG(seed, seed))
	numSlots := (end - start) / slotDuration
	for i := uint64(0); i < numSlots; i++ {
		slotTime := start + i*slotDuration
		target := rng.Uint64N(totalWeight)

		var cumulative uint64
		for _, v := range validators {
			cumulative += uint64(v.Weight)
			if cumulative > target {
				s.slots[slotTime] = v.PublicKey
				break
			}
		}
	}
	return s
}

// SeedFromBlock derives a schedule seed from a block hash, for networks
// that seed from the parent block instead of wall time.
func SeedFromBlock(id types.BlockID) uint64 {
	return binary.LittleEndian.Uint64(id[:8])
}

func (s *Schedule) slotOf(t uint64) uint64 {
	return t - t%s.slotDuration
}

// ValidatorAt returns the validator assigned to the slot containing t.
func (s *Schedule) ValidatorAt(t uint64) (crypto.PublicKey, bool) {
	if s == nil || s.slotDuration == 0 {
		return crypto.PublicKey{}, false
	}
	pub, ok := s.slots[s.slotOf(t)]
	return pub, ok
}

func (s *Schedule) IsScheduled(pub crypto.PublicKey, t uint64) bool {
	scheduled, ok := s.ValidatorAt(t)
	return ok && scheduled == pub
}

// NextScheduled returns the first assigned slot after the one containing t,
// up to the schedule end.
func (s *Schedule) NextScheduled(t uint64) (Slot, bool) {
	if s == nil || s.slotDuration == 0 {
		return Slot{}, false
	}
	for next := s.slotOf(t) + s.slotDuration; next <= s.end; next += s.slotDuration {
		if pub, ok := s.slots[next]; ok {
			return Slot{Start: next, Validator: pub}, true
		}
	}
	return Slot{}, false
}

// Slots lists the assignments ordered by start time.
func (s *Schedule) Slots() []Slot {
	out := make([]Slot, 0, len(s.slots))
	for start, pub := range s.slots {
		out = append(out, Slot{Start: start, Validator: pub})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

func (s *Schedule) Len() int             { return len(s.slots) }
func (s *Schedule) Start() uint64        { return s.start }
func (s *Schedule) End() uint64          { return s.end }
func (s *Schedule) SlotDuration() uint64 { return s.slotDuration }
func (s *Schedule) Seed() uint64         { return s.seed }
