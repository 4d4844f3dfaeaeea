package selection

import (
	"testing"

	"github.com/optimachain/optimachain/consensus/validator"
	"github.com/optimachain/optimachain/crypto"
	"github.com/optimachain/optimachain/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSet(weights ...uint32) *validator.Set {
	set := validator.NewSet()
	for i, w := range weights {
		v := validator.NewValidator(crypto.PublicKey{byte(i + 1)}, 1_000_000, validator.Info{})
		v.SetWeight(w)
		set.Add(v)
	}
	return set
}

func TestGenerateScheduleDeterminism(t *testing.T) {
	set := newSet(50, 30, 20)
	a := GenerateSchedule(set.Validators(), 1_000_000, 100_000, 1000)
	b := GenerateSchedule(set.Validators(), 1_000_000, 100_000, 1000)

	assert.Equal(t, 100, a.Len())
	assert.Equal(t, a.Slots(), b.Slots())

	c := GenerateSchedule(set.Validators(), 2_000_000, 100_000, 1000)
	var differs bool
	for i, slot := range c.Slots() {
		if slot.Validator != a.Slots()[i].Validator {
			differs = true
			break
		}
	}
	assert.True(t, differs, "different seeds should give a different assignment")
}

func TestGenerateScheduleWeighting(t *testing.T) {
	set := newSet(100, 0)
	s := GenerateSchedule(set.Validators(), 0, 50_000, 1000)
	for _, slot := range s.Slots() {
		assert.Equal(t, crypto.PublicKey{1}, slot.Validator)
	}

	set = newSet(90, 10)
	s = GenerateSchedule(set.Validators(), 0, 1_000_000, 1000)
	counts := map[crypto.PublicKey]int{}
	for _, slot := range s.Slots() {
		counts[slot.Validator]++
	}
	assert.Greater(t, counts[crypto.PublicKey{1}], counts[crypto.PublicKey{2}]*4)
}

func TestGenerateScheduleUniformDraw(t *testing.T) {
	set := newSet(1, 1, 1)
	s := Generate(set.Validators(), 7, 0, 30_000, 1)
	require.Equal(t, 30_000, s.Len())
	counts := map[crypto.PublicKey]int{}
	for _, slot := range s.Slots() {
		counts[slot.Validator]++
	}
	for i := byte(1); i <= 3; i++ {
		assert.InDelta(t, 10_000, counts[crypto.PublicKey{i}], 600, "validator %d", i)
	}
}

func TestGenerateScheduleEmpty(t *testing.T) {
	assert.Zero(t, GenerateSchedule(nil, 0, 10_000, 1000).Len())
	assert.Zero(t, GenerateSchedule(newSet(0, 0).Validators(), 0, 10_000, 1000).Len())
	assert.Zero(t, GenerateSchedule(newSet(10).Validators(), 0, 10_000, 0).Len())
}

func TestScheduleLookups(t *testing.T) {
	set := newSet(100)
	s := GenerateSchedule(set.Validators(), 10_000, 5_000, 1000)
	only := crypto.PublicKey{1}

	t.Run("truncates to slot start", func(t *testing.T) {
		pub, ok := s.ValidatorAt(12_345)
		require.True(t, ok)
		assert.Equal(t, only, pub)
		assert.True(t, s.IsScheduled(only, 14_999))
	})

	t.Run("outside window", func(t *testing.T) {
		_, ok := s.ValidatorAt(15_000)
		assert.False(t, ok)
		assert.False(t, s.IsScheduled(only, 9_999))
	})

	t.Run("next scheduled", func(t *testing.T) {
		slot, ok := s.NextScheduled(12_500)
		require.True(t, ok)
		assert.Equal(t, uint64(13_000), slot.Start)

		_, ok = s.NextScheduled(14_000)
		assert.False(t, ok)
	})
}

func TestGetProducer(t *testing.T) {
	set := newSet(40, 30, 30)
	p := NewProducer()
	parent := &types.Block{Header: types.BlockHeader{Validator: crypto.PublicKey{2}}}

	t.Run("round robin without schedule", func(t *testing.T) {
		v := p.GetProducer(set, parent, 5_000)
		require.NotNil(t, v)
		assert.Equal(t, crypto.PublicKey{3}, v.PublicKey)

		last := &types.Block{Header: types.BlockHeader{Validator: crypto.PublicKey{3}}}
		assert.Equal(t, crypto.PublicKey{1}, p.GetProducer(set, last, 5_000).PublicKey)

		stranger := &types.Block{Header: types.BlockHeader{Validator: crypto.PublicKey{42}}}
		assert.Equal(t, crypto.PublicKey{1}, p.GetProducer(set, stranger, 5_000).PublicKey)
	})

	t.Run("schedule hit", func(t *testing.T) {
		s := p.GenerateSchedule(set, 0, 10_000, 1000)
		want, ok := s.ValidatorAt(3_500)
		require.True(t, ok)
		assert.Equal(t, want, p.GetProducer(set, parent, 3_500).PublicKey)
	})

	t.Run("scheduled validator removed falls back", func(t *testing.T) {
		s := p.Schedule()
		want, _ := s.ValidatorAt(3_500)
		reduced := validator.NewSet()
		for _, v := range set.Validators() {
			if v.PublicKey != want {
				reduced.Add(v)
			}
		}
		got := p.GetProducer(reduced, parent, 3_500)
		require.NotNil(t, got)
		assert.NotEqual(t, want, got.PublicKey)
	})

	t.Run("empty set", func(t *testing.T) {
		assert.Nil(t, NewProducer().GetProducer(validator.NewSet(), parent, 0))
	})
}

func TestMissedBlocks(t *testing.T) {
	p := NewProducer()
	pub := crypto.PublicKey{7}
	p.RecordMissedBlock(pub)
	p.RecordMissedBlock(pub)
	assert.Equal(t, uint64(2), p.MissedBlocks(pub))
	p.ResetMissedBlocks()
	assert.Zero(t, p.MissedBlocks(pub))
}

func TestSeedFromBlock(t *testing.T) {
	id := types.BlockID{1, 0, 0, 0, 0, 0, 0, 0, 9}
	assert.Equal(t, uint64(1), SeedFromBlock(id))
}
