package sharding

import (
	"testing"

	"github.com/optimachain/optimachain/shared"
	"github.com/optimachain/optimachain/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func account(b ...byte) types.AccountID {
	var id types.AccountID
	copy(id[len(id)-len(b):], b)
	return id
}

func newAllocator(strategy AllocationStrategy, shards ...types.ShardID) *Allocator {
	a := NewAllocator(strategy, nil)
	for _, id := range shards {
		a.AddShard(id, DefaultShardConfig())
	}
	return a
}

func TestHashAccount(t *testing.T) {
	assert.Equal(t, uint32(0), HashAccount(types.AccountID{}))
	assert.Equal(t, uint32(5), HashAccount(account(5)))
	assert.Equal(t, uint32(31*1+2), HashAccount(account(1, 2)))
	assert.Equal(t, uint32(2284863455), HashAccount(types.AccountID{1}))
}

func TestHashStrategyUsesSortedShards(t *testing.T) {
	a := newAllocator(StrategyHash, 30, 10, 20)

	tests := []struct {
		name    string
		account types.AccountID
		want    types.ShardID
	}{
		{"zero hash picks lowest shard", types.AccountID{}, 10},
		{"hash 5 picks index 2", account(5), 30},
		{"hash 4 picks index 1", account(4), 20},
		{"wrapping hash", types.AccountID{1}, 30},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			alloc, err := a.AllocateAccount(tt.account)
			require.NoError(t, err)
			assert.Equal(t, tt.want, alloc.ShardID)
			assert.Equal(t, StrategyHash, alloc.Strategy)
		})
	}
}

func TestFallbackStrategiesMatchHash(t *testing.T) {
	for _, s := range []AllocationStrategy{StrategyActivity, StrategyGeographic, StrategyContractDependency} {
		t.Run(s.String(), func(t *testing.T) {
			a := newAllocator(s, 1, 2, 3)
			hashed := newAllocator(StrategyHash, 1, 2, 3)
			for i := byte(0); i < 20; i++ {
				got, err := a.AllocateAccount(account(i, i*7))
				require.NoError(t, err)
				want, err := hashed.AllocateAccount(account(i, i*7))
				require.NoError(t, err)
				assert.Equal(t, want.ShardID, got.ShardID)
			}
		})
	}
}

func TestBalanceStrategy(t *testing.T) {
	a := newAllocator(StrategyBalance, 2, 1)
	var got []types.ShardID
	for i := byte(1); i <= 4; i++ {
		alloc, err := a.AllocateAccount(account(i))
		require.NoError(t, err)
		got = append(got, alloc.ShardID)
	}
	assert.Equal(t, []types.ShardID{1, 2, 1, 2}, got)
	assert.Equal(t, 2, a.ShardAccountCount(1))
	assert.Equal(t, 2, a.ShardAccountCount(2))
}

func TestConsistentHashStrategy(t *testing.T) {
	full := newAllocator(StrategyConsistentHash, 1, 2, 3)
	reduced := newAllocator(StrategyConsistentHash, 1, 2)

	for i := 0; i < 50; i++ {
		acc := account(byte(i), byte(i*3))
		before, err := full.AllocateAccount(acc)
		require.NoError(t, err)
		assert.Contains(t, []types.ShardID{1, 2, 3}, before.ShardID)

		after, err := reduced.AllocateAccount(acc)
		require.NoError(t, err)
		if before.ShardID != 3 {
			assert.Equal(t, before.ShardID, after.ShardID, "only accounts of the removed shard move")
		}
	}
}

func TestAllocateErrors(t *testing.T) {
	empty := NewAllocator(StrategyHash, nil)
	_, err := empty.AllocateAccount(account(1))
	assert.ErrorIs(t, err, shared.ErrShardNotFound)

	a := newAllocator(StrategyHash, 1)
	_, err = a.AllocateAccount(account(1))
	require.NoError(t, err)
	_, err = a.AllocateAccount(account(1))
	assert.ErrorIs(t, err, shared.ErrAlreadyAllocated)
}

func TestReallocateAccount(t *testing.T) {
	a := newAllocator(StrategyHash, 1, 2)
	acc := types.AccountID{}
	_, err := a.ReallocateAccount(acc, 2)
	assert.ErrorIs(t, err, shared.ErrAccountNotAllocated)

	alloc, err := a.AllocateAccount(acc)
	require.NoError(t, err)
	require.Equal(t, types.ShardID(1), alloc.ShardID)

	_, err = a.ReallocateAccount(acc, 9)
	assert.ErrorIs(t, err, shared.ErrShardNotFound)
	shard, _ := a.ShardOf(acc)
	assert.Equal(t, types.ShardID(1), shard, "failed move leaves the allocation alone")

	moved, err := a.ReallocateAccount(acc, 2)
	require.NoError(t, err)
	assert.Equal(t, types.ShardID(2), moved.ShardID)
	assert.Empty(t, a.ShardAccounts(1))
	assert.Equal(t, []types.AccountID{acc}, a.ShardAccounts(2))
}

func TestReleaseAndRestore(t *testing.T) {
	a := newAllocator(StrategyHash, 1, 2)
	_, err := a.AllocateAccount(account(1))
	require.NoError(t, err)
	assert.True(t, a.ReleaseAccount(account(1)))
	assert.False(t, a.ReleaseAccount(account(1)))
	assert.Zero(t, a.ShardAccountCount(1)+a.ShardAccountCount(2))

	skipped := a.Restore([]Allocation{
		{AccountID: account(1), ShardID: 2},
		{AccountID: account(2), ShardID: 1},
		{AccountID: account(3), ShardID: 9},
		{AccountID: account(2), ShardID: 2},
	})
	assert.Equal(t, 1, skipped)
	assert.Equal(t, []types.AccountID{account(1), account(2)}, a.ShardAccounts(2))
	assert.Empty(t, a.ShardAccounts(1))
	_, ok := a.ShardOf(account(3))
	assert.False(t, ok)
}

func TestRemoveShardReturnsOrphans(t *testing.T) {
	a := newAllocator(StrategyHash, 7)
	for _, b := range []byte{9, 3, 6} {
		_, err := a.AllocateAccount(account(b))
		require.NoError(t, err)
	}

	orphans := a.RemoveShard(7)
	assert.Equal(t, []types.AccountID{account(3), account(6), account(9)}, orphans)
	_, ok := a.ShardOf(account(3))
	assert.False(t, ok)
	assert.False(t, a.HasShard(7))
	assert.Empty(t, a.ShardIDs())
	assert.Empty(t, a.RemoveShard(7))
}

func TestPlanRebalance(t *testing.T) {
	a := newAllocator(StrategyHash, 1, 2)
	for i := byte(1); i <= 6; i++ {
		_, err := a.AllocateAccount(account(i))
		require.NoError(t, err)
		_, err = a.ReallocateAccount(account(i), 1)
		require.NoError(t, err)
	}
	_, err := a.ReallocateAccount(account(6), 2)
	require.NoError(t, err)

	moves := a.PlanRebalance([]types.ShardID{2, 1})
	require.Len(t, moves, 2)
	assert.Equal(t, AccountMove{AccountID: account(4), From: 1, To: 2}, moves[0])
	assert.Equal(t, AccountMove{AccountID: account(5), From: 1, To: 2}, moves[1])
	assert.Equal(t, 5, a.ShardAccountCount(1), "planning does not move accounts")

	assert.Nil(t, a.PlanRebalance([]types.ShardID{1}))
}

func TestParseAllocationStrategy(t *testing.T) {
	s, err := ParseAllocationStrategy("consistent_hash")
	require.NoError(t, err)
	assert.Equal(t, StrategyConsistentHash, s)

	_, err = ParseAllocationStrategy("random")
	assert.Error(t, err)

	var decoded AllocationStrategy
	require.NoError(t, decoded.UnmarshalText([]byte("balance")))
	assert.Equal(t, StrategyBalance, decoded)
}
