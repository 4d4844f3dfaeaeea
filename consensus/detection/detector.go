package detection

import (
	"sync"

	"github.com/optimachain/optimachain/crypto"
	"github.com/optimachain/optimachain/types"
)

type Thresholds struct {
	DoubleSignings    int
	MissedBlocks      int
	ConsecutiveMisses int
}

func DefaultThresholds() Thresholds {
	return Thresholds{
		DoubleSignings:    1,
		MissedBlocks:      50,
		ConsecutiveMisses: 20,
	}
}

type ValidatorBehavior struct {
	DoubleSignings    int
	MissedBlocks      int
	ConsecutiveMisses int
	LastActiveHeight  uint64
}

func (b *ValidatorBehavior) UpdateMissedBlock() {
	b.MissedBlocks++
	b.ConsecutiveMisses++
}

func (b *ValidatorBehavior) ResetConsecutiveMisses() {
	b.ConsecutiveMisses = 0
}

// Detector remembers which block each producer signed at each height and
// keeps a running behaviour record per validator.
type Detector struct {
	mu         sync.Mutex
	seen       map[uint64]map[crypto.PublicKey]types.BlockID
	behaviors  map[crypto.PublicKey]*ValidatorBehavior
	thresholds Thresholds
}

func NewDetector(thresholds Thresholds) *Detector {
	return &Detector{
		seen:       make(map[uint64]map[crypto.PublicKey]types.BlockID),
		behaviors:  make(map[crypto.PublicKey]*ValidatorBehavior),
		thresholds: thresholds,
	}
}

func (d *Detector) behavior(pub crypto.PublicKey) *ValidatorBehavior {
	b := d.behaviors[pub]
	if b == nil {
		b = &ValidatorBehavior{}
		d.behaviors[pub] = b
	}
	return b
}

// CheckDoubleSign reports whether producer already signed a different
// block at height. The first block seen is remembered; seeing that same
// block again is not an offence.
func (d *Detector) CheckDoubleSign(height uint64, producer crypto.PublicKey, id types.BlockID) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	byProducer := d.seen[height]
	if byProducer == nil {
		byProducer = make(map[crypto.PublicKey]types.BlockID)
		d.seen[height] = byProducer
	}
	previous, ok := byProducer[producer]
	if !ok {
		byProducer[producer] = id
		return false
	}
	if previous == id {
		return false
	}
	d.behavior(producer).DoubleSignings++
	return true
}

// RecordProduced marks producer active at height and clears its
// consecutive-miss streak.
func (d *Detector) RecordProduced(producer crypto.PublicKey, height uint64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b := d.behavior(producer)
	b.ResetConsecutiveMisses()
	if height > b.LastActiveHeight {
		b.LastActiveHeight = height
	}
}

func (d *Detector) RecordMissed(pub crypto.PublicKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.behavior(pub).UpdateMissedBlock()
}

// IsMalicious reports whether any behaviour counter reached its threshold.
func (d *Detector) IsMalicious(pub crypto.PublicKey) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.behaviors[pub]
	if !ok {
		return false
	}
	return b.DoubleSignings >= d.thresholds.DoubleSignings ||
		b.MissedBlocks >= d.thresholds.MissedBlocks ||
		b.ConsecutiveMisses >= d.thresholds.ConsecutiveMisses
}

func (d *Detector) Behavior(pub crypto.PublicKey) (ValidatorBehavior, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	b, ok := d.behaviors[pub]
	if !ok {
		return ValidatorBehavior{}, false
	}
	return *b, true
}

// ResetEpoch clears the per-epoch missed counter, keeping double-sign
// history.
func (d *Detector) ResetEpoch() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, b := range d.behaviors {
		b.MissedBlocks = 0
	}
}

// Forget drops a validator's behaviour record.
func (d *Detector) Forget(pub crypto.PublicKey) {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.behaviors, pub)
}

// Prune drops remembered signatures at or below height. Finalized heights
// can no longer be contested.
func (d *Detector) Prune(height uint64) int {
	d.mu.Lock()
	defer d.mu.Unlock()
	pruned := 0
	for h := range d.seen {
		if h <= height {
			delete(d.seen, h)
			pruned++
		}
	}
	return pruned
}

func (d *Detector) TrackedHeights() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
