package node

import (
	"context"
	"testing"
	"time"

	"github.com/optimachain/optimachain/config"
	"github.com/optimachain/optimachain/consensus/finality"
	"github.com/optimachain/optimachain/consensus/selection"
	"github.com/optimachain/optimachain/crypto"
	"github.com/optimachain/optimachain/metrics"
	"github.com/optimachain/optimachain/network"
	"github.com/optimachain/optimachain/shared"
	"github.com/optimachain/optimachain/sharding"
	"github.com/optimachain/optimachain/store"
	"github.com/optimachain/optimachain/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
)

func newKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	priv, err := crypto.NewPrivateKey()
	require.NoError(t, err)
	return priv
}

func testConfig(keys ...*crypto.PrivateKey) *config.Config {
	cfg := config.DefaultConfig()
	cfg.Consensus.MinStake = 1_000
	cfg.Consensus.MaxValidators = 10
	cfg.Sharding.Count = 2
	cfg.Storage.InMemory = true
	for i, k := range keys {
		cfg.Genesis = append(cfg.Genesis, config.GenesisValidator{
			PublicKey: k.PublicKey().String(),
			Stake:     5_000,
			Name:      string(rune('a' + i)),
		})
	}
	return &cfg
}

func openStore(t *testing.T) (*store.ConsensusStore, *store.DB) {
	t.Helper()
	db, err := store.OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	st, err := store.NewConsensusStore(db, 64, nil)
	require.NoError(t, err)
	return st, db
}

func startNode(t *testing.T, cfg *config.Config, st *store.ConsensusStore) *Node {
	t.Helper()
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)
	n, err := New(cfg, st, m, network.NewEventHub(nil, nil), nil)
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))
	t.Cleanup(n.Stop)
	return n
}

func signedBlock(priv *crypto.PrivateKey, height uint64, shard types.ShardID, refs ...types.CrossShardRef) *types.Block {
	return signedBlockAt(priv, height, uint64(time.Now().UnixMilli()), shard, refs...)
}

func signedBlockAt(priv *crypto.PrivateKey, height, ts uint64, shard types.ShardID, refs ...types.CrossShardRef) *types.Block {
	b := types.NewBlock(height, ts, types.BlockID{}, nil, types.StateRoot{}, priv.PublicKey(), shard)
	b.CrossShardTxs = refs
	b.Sign(priv)
	return b
}

func account(b byte) types.AccountID {
	var id types.AccountID
	id[len(id)-1] = b
	return id
}

func TestNodeLifecycleDoesNotLeak(t *testing.T) {
	st, _ := openStore(t)
	ignore := goleak.IgnoreCurrent()

	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)
	n, err := New(testConfig(newKey(t)), st, m, network.NewEventHub(nil, nil), nil)
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))
	n.Stop()

	goleak.VerifyNone(t, ignore)
}

func TestNewRejectsUnknownStrategy(t *testing.T) {
	st, _ := openStore(t)
	cfg := testConfig()
	cfg.Sharding.Strategy = "random"
	_, err := New(cfg, st, nil, nil, nil)
	assert.Error(t, err)
}

func TestGenesisAndRestore(t *testing.T) {
	key := newKey(t)
	st, _ := openStore(t)
	n := startNode(t, testConfig(key), st)
	require.Equal(t, 1, n.coordinator.ValidatorCount())

	b := signedBlock(key, 1, 0)
	require.NoError(t, n.HandleBlock(b))
	assert.True(t, n.coordinator.IsFinalized(b.ID()), "a lone validator finalizes its own block")

	alloc, err := n.AllocateAccount(account(3))
	require.NoError(t, err)
	n.Stop()

	cfg := testConfig()
	cfg.Schedule.SeedFromBlock = true
	restarted := startNode(t, cfg, st)
	assert.Equal(t, 1, restarted.coordinator.ValidatorCount())
	assert.Equal(t, selection.SeedFromBlock(b.ID()), restarted.coordinator.Schedule().Seed(),
		"schedule is seeded from the latest finalized block")
	assert.True(t, restarted.coordinator.IsFinalized(b.ID()))
	assert.Equal(t, uint64(1), restarted.coordinator.LatestFinalizedHeight())
	shard, ok := restarted.AccountShard(account(3))
	require.True(t, ok)
	assert.Equal(t, alloc.ShardID, shard)

	stored, err := st.Block(b.ID())
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, b.ID(), stored.ID())
}

func TestHandleMessage(t *testing.T) {
	key := newKey(t)
	st, _ := openStore(t)
	n := startNode(t, testConfig(key), st)
	ctx := context.Background()

	b := signedBlock(key, 1, 1)
	msg, err := types.NewMessage(types.MsgBlockAnnounce, b)
	require.NoError(t, err)
	reply, err := n.HandleMessage(ctx, msg)
	require.NoError(t, err)
	assert.Nil(t, reply)

	ping, err := types.NewMessage(types.MsgPing, nil)
	require.NoError(t, err)
	reply, err = n.HandleMessage(ctx, ping)
	require.NoError(t, err)
	require.NotNil(t, reply)
	assert.Equal(t, types.MsgPong, reply.Type)
	var status types.StatusMessage
	require.NoError(t, reply.DecodePayload(&status))
	assert.Equal(t, uint64(1), status.Height)
	assert.Equal(t, b.ID(), status.LatestBlock)
	assert.Equal(t, uint64(1), status.FinalizedHeight)

	t.Run("unknown shard", func(t *testing.T) {
		assert.Error(t, n.HandleBlock(signedBlock(key, 2, 9)))
	})
	t.Run("unregistered producer", func(t *testing.T) {
		err := n.HandleBlock(signedBlock(newKey(t), 2, 0))
		assert.ErrorIs(t, err, shared.ErrUnknownProducer)
	})
	t.Run("ignored type", func(t *testing.T) {
		other, err := types.NewMessage(types.MsgDiscovery, nil)
		require.NoError(t, err)
		reply, err := n.HandleMessage(ctx, other)
		assert.NoError(t, err)
		assert.Nil(t, reply)
	})
}

func TestHandleVotes(t *testing.T) {
	keys := []*crypto.PrivateKey{newKey(t), newKey(t), newKey(t)}
	st, _ := openStore(t)
	n := startNode(t, testConfig(keys...), st)
	ctx := context.Background()

	b := signedBlock(keys[0], 1, 0)
	require.NoError(t, n.HandleBlock(b))
	require.False(t, n.coordinator.IsFinalized(b.ID()))

	forged := types.NewVote(b, keys[1])
	forged.Height++
	proofs, err := n.HandleVotes(ctx, []types.Vote{forged, types.NewVote(b, newKey(t))})
	assert.Empty(t, proofs)
	assert.ErrorIs(t, err, shared.ErrInvalidSignature)
	assert.ErrorIs(t, err, shared.ErrUnknownValidator)

	proofs, err = n.HandleVotes(ctx, []types.Vote{types.NewVote(b, keys[1]), types.NewVote(b, keys[2])})
	require.NoError(t, err)
	require.Len(t, proofs, 1)
	assert.Equal(t, 3, proofs[0].SignatureCount())

	stored, err := st.FinalityProof(b.ID())
	require.NoError(t, err)
	require.NotNil(t, stored)
	p, ok := n.FinalityProof(b.ID())
	require.True(t, ok)
	assert.Equal(t, b.ID(), p.BlockID)

	t.Run("consensus message", func(t *testing.T) {
		next := signedBlock(keys[1], 2, 0)
		require.NoError(t, n.HandleBlock(next))
		for _, k := range []*crypto.PrivateKey{keys[0], keys[2]} {
			msg, err := types.NewMessage(types.MsgConsensus, types.ConsensusMessage{Round: 2, Vote: types.NewVote(next, k)})
			require.NoError(t, err)
			_, err = n.HandleMessage(ctx, msg)
			require.NoError(t, err)
		}
		assert.True(t, n.coordinator.IsFinalized(next.ID()))
	})
}

func TestCrossShardFlow(t *testing.T) {
	key := newKey(t)
	st, _ := openStore(t)
	n := startNode(t, testConfig(key), st)

	txID := types.TransactionID{7}
	_, err := n.SubmitCrossShard(txID, 0, 5, nil)
	assert.ErrorIs(t, err, shared.ErrShardNotFound)

	_, err = n.SubmitCrossShard(txID, 0, 1, []byte("transfer"))
	require.NoError(t, err)

	ref := types.CrossShardRef{Shard: 1, TransactionID: txID}
	require.NoError(t, n.HandleBlock(signedBlock(key, 1, 0, ref)))
	tx, _ := n.crossShard.Transaction(txID)
	assert.Equal(t, sharding.StatusCommittedSource, tx.Status)

	ref.Shard = 0
	require.NoError(t, n.HandleBlock(signedBlock(key, 2, 1, ref)))
	tx, _ = n.crossShard.Transaction(txID)
	assert.Equal(t, sharding.StatusFinalized, tx.Status)
	assert.Zero(t, n.Status().CrossShardWaiting)

	saved, err := st.CrossShardTransactions(0)
	require.NoError(t, err)
	require.Len(t, saved, 1)
	assert.Equal(t, sharding.StatusFinalized, saved[0].Status)

	t.Run("fail unknown", func(t *testing.T) {
		_, err := n.FailCrossShard(types.TransactionID{8}, "gone")
		assert.ErrorIs(t, err, shared.ErrTransactionNotFound)
	})
}

func TestRebalance(t *testing.T) {
	st, _ := openStore(t)
	n := startNode(t, testConfig(newKey(t)), st)
	ctx := context.Background()

	require.NoError(t, n.Rebalance(ctx), "balanced shards need no operation")
	assert.Empty(t, n.Resharding().Completed)

	// Even trailing bytes hash to the first of two shards.
	for _, b := range []byte{2, 4, 6, 8} {
		alloc, err := n.AllocateAccount(account(b))
		require.NoError(t, err)
		require.Equal(t, types.ShardID(0), alloc.ShardID)
	}
	_, err := n.AllocateAccount(account(2))
	assert.ErrorIs(t, err, shared.ErrAlreadyAllocated)

	require.NoError(t, n.Rebalance(ctx))
	assert.Equal(t, 2, n.allocator.ShardAccountCount(0))
	assert.Equal(t, 2, n.allocator.ShardAccountCount(1))
	s1, _ := n.shard(1)
	assert.Equal(t, 2, s1.AccountCount())

	status := n.Resharding()
	assert.Empty(t, status.Active)
	require.Len(t, status.Completed, 1)
	op := status.Completed[0]
	assert.Equal(t, sharding.ReshardingCompleted, op.Status)
	assert.Equal(t, sharding.ReshardRebalance, op.Strategy)
	assert.Len(t, op.Events, 4, "start, two moves, completion")

	for _, acc := range n.allocator.ShardAccounts(1) {
		saved, ok, err := st.Allocation(acc)
		require.NoError(t, err)
		require.True(t, ok)
		assert.Equal(t, types.ShardID(1), saved.ShardID)
	}
}

func TestAllocateAccountShardFull(t *testing.T) {
	st, _ := openStore(t)
	cfg := testConfig()
	cfg.Sharding.Count = 1
	cfg.Sharding.Limits.MaxAccounts = 1
	n := startNode(t, cfg, st)

	_, err := n.AllocateAccount(account(1))
	require.NoError(t, err)
	_, err = n.AllocateAccount(account(2))
	assert.ErrorIs(t, err, shared.ErrShardFull)
	_, ok := n.AccountShard(account(2))
	assert.False(t, ok, "a rejected account is not left allocated")
}

func TestRefreshScheduleAlignsToSlot(t *testing.T) {
	st, _ := openStore(t)
	cfg := testConfig(newKey(t), newKey(t))
	m, err := metrics.New(prometheus.NewRegistry())
	require.NoError(t, err)
	n, err := New(cfg, st, m, network.NewEventHub(nil, nil), nil)
	require.NoError(t, err)
	now := uint64(1_700_000_000_442)
	n.now = func() time.Time { return time.UnixMilli(int64(now)) }
	require.NoError(t, n.Start(context.Background()))
	t.Cleanup(n.Stop)

	slot := cfg.Schedule.SlotDurationMs
	schedule := n.coordinator.Schedule()
	require.NotNil(t, schedule)
	assert.Zero(t, schedule.Start()%slot)
	assert.LessOrEqual(t, schedule.Start(), now)
	assert.Greater(t, schedule.Start()+slot, now, "the current slot is covered")

	for ts := now; ts < now+5*slot; ts += slot {
		_, ok := schedule.ValidatorAt(ts)
		assert.True(t, ok, "no producer for %d", ts)
	}
	assert.NotNil(t, n.coordinator.NextBlockProducer(nil, now))
}

func TestHandleBlockChargesMissOnce(t *testing.T) {
	keys := []*crypto.PrivateKey{newKey(t), newKey(t)}
	st, _ := openStore(t)
	n := startNode(t, testConfig(keys...), st)
	n.coordinator.RegenerateSchedule(0, 60_000, 1_000)

	expected, ok := n.coordinator.Schedule().ValidatorAt(5_000)
	require.True(t, ok)
	other := keys[0]
	if other.PublicKey() == expected {
		other = keys[1]
	}

	for h := uint64(1); h <= 5; h++ {
		err := n.HandleBlock(signedBlockAt(newKey(t), h, 5_000, 0))
		require.ErrorIs(t, err, shared.ErrUnknownProducer)
	}
	assert.Zero(t, n.coordinator.MissedBlocks(expected))

	b := signedBlockAt(other, 1, 5_000, 0)
	require.NoError(t, n.HandleBlock(b))
	require.NoError(t, n.HandleBlock(b), "a repeated block is ignored")
	assert.Equal(t, uint64(1), n.coordinator.MissedBlocks(expected))

	root, ok, err := st.ShardState(0, 1)
	require.NoError(t, err)
	require.True(t, ok)
	s0, _ := n.shard(0)
	assert.Equal(t, s0.StateRoot(), root)
}

func TestCrossShardSurvivesRestart(t *testing.T) {
	keys := []*crypto.PrivateKey{newKey(t), newKey(t), newKey(t)}
	st, _ := openStore(t)
	n := startNode(t, testConfig(keys...), st)

	queued, inFlight := types.TransactionID{1}, types.TransactionID{2}
	for _, id := range []types.TransactionID{queued, inFlight} {
		_, err := n.SubmitCrossShard(id, 0, 1, nil)
		require.NoError(t, err)
	}
	require.NoError(t, n.HandleBlock(signedBlock(keys[0], 1, 0, types.CrossShardRef{Shard: 1, TransactionID: inFlight})))
	dest := signedBlock(keys[0], 2, 1, types.CrossShardRef{Shard: 0, TransactionID: inFlight})
	require.NoError(t, n.HandleBlock(dest))
	require.False(t, n.coordinator.IsFinalized(dest.ID()))
	n.Stop()

	restarted := startNode(t, testConfig(), st)
	pending := restarted.crossShard.PendingForSource(0)
	require.Len(t, pending, 1)
	assert.Equal(t, queued, pending[0].TransactionID)
	tx, ok := restarted.crossShard.Transaction(inFlight)
	require.True(t, ok)
	assert.Equal(t, sharding.StatusCommittedDestination, tx.Status)
	assert.Equal(t, 1, restarted.Status().CrossShardWaiting)

	require.NoError(t, restarted.HandleBlock(dest))
	proofs, err := restarted.HandleVotes(context.Background(), []types.Vote{types.NewVote(dest, keys[1]), types.NewVote(dest, keys[2])})
	require.NoError(t, err)
	require.Len(t, proofs, 1)

	tx, _ = restarted.crossShard.Transaction(inFlight)
	assert.Equal(t, sharding.StatusFinalized, tx.Status)
	saved, err := st.CrossShardTransactions(0)
	require.NoError(t, err)
	require.Len(t, saved, 2)
	for _, s := range saved {
		if s.TransactionID == inFlight {
			assert.Equal(t, sharding.StatusFinalized, s.Status)
		}
	}

	t.Run("destination finalized before restart", func(t *testing.T) {
		key := newKey(t)
		st, _ := openStore(t)
		block := types.BlockID{9}
		proof := finality.NewProof(block, 4)
		proof.AddSignature(key.PublicKey(), crypto.Signature{1})
		require.NoError(t, st.SaveFinalityProof(proof))
		require.NoError(t, st.SaveCrossShardTransaction(sharding.CrossShardTransaction{
			TransactionID:      types.TransactionID{3},
			SourceShard:        0,
			DestinationShard:   1,
			Status:             sharding.StatusCommittedDestination,
			DestinationBlockID: &block,
			Sequence:           1,
		}))

		n := startNode(t, testConfig(key), st)
		tx, ok := n.crossShard.Transaction(types.TransactionID{3})
		require.True(t, ok)
		assert.Equal(t, sharding.StatusFinalized, tx.Status)
		assert.Zero(t, n.Status().CrossShardWaiting)
	})
}

func TestRebalanceFailsWhenMoveCannotPersist(t *testing.T) {
	st, db := openStore(t)
	n := startNode(t, testConfig(newKey(t)), st)

	for _, b := range []byte{2, 4, 6, 8} {
		_, err := n.AllocateAccount(account(b))
		require.NoError(t, err)
	}
	require.NoError(t, db.Close())

	err := n.Rebalance(context.Background())
	assert.ErrorIs(t, err, shared.ErrStorage)

	status := n.Resharding()
	assert.Empty(t, status.Active)
	require.Len(t, status.Completed, 1)
	assert.Equal(t, sharding.ReshardingFailed, status.Completed[0].Status)

	assert.Equal(t, 4, n.allocator.ShardAccountCount(0), "the failed move is rolled back")
	assert.Zero(t, n.allocator.ShardAccountCount(1))
	s0, _ := n.shard(0)
	s1, _ := n.shard(1)
	assert.Equal(t, 4, s0.AccountCount())
	assert.Zero(t, s1.AccountCount())
}
