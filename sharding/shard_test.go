package sharding

import (
	"testing"

	"github.com/optimachain/optimachain/crypto"
	"github.com/optimachain/optimachain/shared"
	"github.com/optimachain/optimachain/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shardBlock(height, ts uint64, txs int) *types.Block {
	ids := make([]types.TransactionID, txs)
	for i := range ids {
		ids[i] = types.TransactionID{byte(height), byte(i)}
	}
	return types.NewBlock(height, ts, types.BlockID{}, ids, types.StateRoot{}, crypto.PublicKey{1}, 0)
}

func TestShardAccounts(t *testing.T) {
	cfg := DefaultShardConfig()
	cfg.MaxAccounts = 2
	s := NewShard(4, cfg)
	assert.Equal(t, ShardCreating, s.State())
	s.SetState(ShardActive)
	assert.True(t, s.IsActive())

	require.NoError(t, s.AddAccount(account(1)))
	require.NoError(t, s.AddAccount(account(1)))
	require.NoError(t, s.AddAccount(account(2)))
	assert.ErrorIs(t, s.AddAccount(account(3)), shared.ErrShardFull)
	assert.Equal(t, 2, s.AccountCount())

	assert.True(t, s.RemoveAccount(account(1)))
	assert.False(t, s.RemoveAccount(account(1)))
	assert.False(t, s.HasAccount(account(1)))
	assert.Equal(t, 1, s.LoadMetrics().AccountCount)
}

func TestShardBlocks(t *testing.T) {
	s := NewShard(1, DefaultShardConfig())
	assert.Nil(t, s.LatestBlock())
	assert.Zero(t, s.LatestHeight())

	first := shardBlock(1, 1_000, 10)
	require.NoError(t, s.AddBlock(first))
	assert.ErrorIs(t, s.AddBlock(first), ErrDuplicateBlock)

	second := shardBlock(2, 3_000, 4)
	require.NoError(t, s.AddBlock(second))
	stale := shardBlock(1, 2_000, 0)
	require.NoError(t, s.AddBlock(stale))

	assert.Equal(t, uint64(2), s.LatestHeight())
	assert.Equal(t, second.ID(), s.LatestBlock().ID())
	got, ok := s.Block(stale.ID())
	require.True(t, ok)
	assert.Equal(t, stale, got)

	load := s.LoadMetrics()
	assert.Equal(t, 4.0, load.TPS)
	assert.Equal(t, 2_000.0, load.AvgBlockTimeMs)
	assert.Equal(t, uint64(3*10*1024), load.StorageUsage)
	assert.Equal(t, uint64(3*1024), load.MemoryUsage)
}

func TestShardStateUpdates(t *testing.T) {
	s := NewShard(1, DefaultShardConfig())
	before := s.StateRoot()
	root := s.ApplyStateUpdate(types.StateUpdate{
		Kind:    types.UpdateCreateAccount,
		Account: types.NewUserAccount(account(1)),
	})
	assert.NotEqual(t, before, root)
	assert.Equal(t, root, s.StateRoot())

	acc, ok := s.Account(account(1))
	require.True(t, ok)
	assert.Equal(t, account(1), acc.ID)
}

func TestNeedsResharding(t *testing.T) {
	cfg := DefaultShardConfig()
	cfg.MaxAccounts = 5
	s := NewShard(1, cfg)
	for i := byte(1); i <= 3; i++ {
		require.NoError(t, s.AddAccount(account(i)))
	}
	assert.False(t, s.NeedsResharding())
	require.NoError(t, s.AddAccount(account(4)))
	assert.True(t, s.NeedsResharding())

	tests := []struct {
		name string
		load LoadMetrics
		want bool
	}{
		{"idle", LoadMetrics{}, false},
		{"throughput", LoadMetrics{TPS: 8_000}, true},
		{"cpu", LoadMetrics{CPUUsage: 80}, true},
		{"below", LoadMetrics{TPS: 7_999, CPUUsage: 79}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DefaultShardConfig().NeedsResharding(tt.load))
		})
	}
}
