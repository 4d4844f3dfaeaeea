package detection

import (
	"testing"

	"github.com/optimachain/optimachain/crypto"
	"github.com/optimachain/optimachain/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckDoubleSign(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	producer := crypto.PublicKey{1}

	assert.False(t, d.CheckDoubleSign(10, producer, types.BlockID{1}))
	assert.False(t, d.CheckDoubleSign(10, producer, types.BlockID{1}), "same block again")
	assert.False(t, d.CheckDoubleSign(10, crypto.PublicKey{2}, types.BlockID{2}), "other producer")
	assert.False(t, d.CheckDoubleSign(11, producer, types.BlockID{3}), "other height")

	assert.True(t, d.CheckDoubleSign(10, producer, types.BlockID{4}))
	b, ok := d.Behavior(producer)
	require.True(t, ok)
	assert.Equal(t, 1, b.DoubleSignings)
	assert.True(t, d.IsMalicious(producer))
	assert.False(t, d.IsMalicious(crypto.PublicKey{2}))
}

func TestMissedStreak(t *testing.T) {
	d := NewDetector(Thresholds{DoubleSignings: 1, MissedBlocks: 100, ConsecutiveMisses: 3})
	pub := crypto.PublicKey{5}

	d.RecordMissed(pub)
	d.RecordMissed(pub)
	assert.False(t, d.IsMalicious(pub))
	d.RecordProduced(pub, 7)
	d.RecordMissed(pub)
	d.RecordMissed(pub)
	assert.False(t, d.IsMalicious(pub))
	d.RecordMissed(pub)
	assert.True(t, d.IsMalicious(pub))

	b, _ := d.Behavior(pub)
	assert.Equal(t, 5, b.MissedBlocks)
	assert.Equal(t, uint64(7), b.LastActiveHeight)

	d.ResetEpoch()
	b, _ = d.Behavior(pub)
	assert.Zero(t, b.MissedBlocks)

	d.Forget(pub)
	_, ok := d.Behavior(pub)
	assert.False(t, ok)
}

func TestPrune(t *testing.T) {
	d := NewDetector(DefaultThresholds())
	for h := uint64(1); h <= 5; h++ {
		d.CheckDoubleSign(h, crypto.PublicKey{1}, types.BlockID{byte(h)})
	}
	assert.Equal(t, 3, d.Prune(3))
	assert.Equal(t, 2, d.TrackedHeights())

	// a pruned height forgets the earlier block
	assert.False(t, d.CheckDoubleSign(2, crypto.PublicKey{1}, types.BlockID{9}))
}
