package selection

import (
	"github.com/optimachain/optimachain/consensus/validator"
	"github.com/optimachain/optimachain/crypto"
	"github.com/optimachain/optimachain/types"
)

// Producer answers "who should produce now" from the active schedule and
// counts missed slots for the running epoch. It is not safe for concurrent
// use; the consensus coordinator serializes access.
type Producer struct {
	schedule *Schedule
	missed   map[crypto.PublicKey]uint64
}

func NewProducer() *Producer {
	return &Producer{missed: make(map[crypto.PublicKey]uint64)}
}

// GenerateSchedule replaces the active schedule wholesale.
func (p *Producer) GenerateSchedule(set *validator.Set, start, duration, slotDuration uint64) *Schedule {
	p.schedule = GenerateSchedule(set.Validators(), start, duration, slotDuration)
	return p.schedule
}

func (p *Producer) SetSchedule(s *Schedule) {
	p.schedule = s
}

func (p *Producer) Schedule() *Schedule {
	return p.schedule
}

// GetProducer returns the validator expected at timestamp (ms). Without a
// usable slot it falls back to round robin: the validator after the parent
// block's producer, or the first validator when the parent's producer is no
// longer registered. It returns nil only for an empty set.
func (p *Producer) GetProducer(set *validator.Set, parent *types.Block, timestamp uint64) *validator.Validator {
	if pub, ok := p.schedule.ValidatorAt(timestamp); ok {
		if v, ok := set.Get(pub); ok {
			return v
		}
	}

	if set.IsEmpty() {
		return nil
	}
	if parent != nil {
		if idx := set.IndexOf(parent.Header.Validator); idx >= 0 {
			return set.At((idx + 1) % set.Len())
		}
	}
	return set.At(0)
}

func (p *Producer) RecordMissedBlock(pub crypto.PublicKey) {
	p.missed[pub]++
}

func (p *Producer) MissedBlocks(pub crypto.PublicKey) uint64 {
	return p.missed[pub]
}

func (p *Producer) ResetMissedBlocks() {
	p.missed = make(map[crypto.PublicKey]uint64)
}
