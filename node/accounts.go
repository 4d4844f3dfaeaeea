package node

import (
	"context"

	"github.com/optimachain/optimachain/shared"
	"github.com/optimachain/optimachain/sharding"
	"github.com/optimachain/optimachain/types"
	"go.uber.org/zap"
)

// AllocateAccount places acc in a shard and persists the placement.
func (n *Node) AllocateAccount(acc types.AccountID) (sharding.Allocation, error) {
	alloc, err := n.allocator.AllocateAccount(acc)
	if err != nil {
		return sharding.Allocation{}, err
	}
	shard, ok := n.shard(alloc.ShardID)
	if !ok {
		n.allocator.ReleaseAccount(acc)
		return sharding.Allocation{}, shared.Errorf(shared.KindShardNotFound, "shard %d has no state", alloc.ShardID)
	}
	if err := shard.AddAccount(acc); err != nil {
		n.allocator.ReleaseAccount(acc)
		return sharding.Allocation{}, err
	}
	if err := n.store.SaveAllocation(alloc); err != nil {
		return sharding.Allocation{}, err
	}
	n.metrics.ShardLoad(shard.ID(), shard.AccountCount(), shard.LoadMetrics())
	return alloc, nil
}

// SubmitCrossShard opens a transaction from source to destination.
func (n *Node) SubmitCrossShard(id types.TransactionID, source, destination types.ShardID, data []byte) (sharding.CrossShardTransaction, error) {
	for _, s := range []types.ShardID{source, destination} {
		if _, ok := n.shard(s); !ok {
			return sharding.CrossShardTransaction{}, shared.Errorf(shared.KindShardNotFound, "shard %d does not exist", s)
		}
	}
	tx, err := n.crossShard.SubmitTransaction(id, source, destination, data)
	if err != nil {
		return sharding.CrossShardTransaction{}, err
	}
	n.recordCrossShard(tx)
	return tx, nil
}

// FailCrossShard aborts a transaction that has not finalized.
func (n *Node) FailCrossShard(id types.TransactionID, reason string) (sharding.CrossShardTransaction, error) {
	tx, err := n.crossShard.FailTransaction(id, reason)
	if err != nil {
		return sharding.CrossShardTransaction{}, err
	}
	n.recordCrossShard(tx)
	return tx, nil
}

// Rebalance evens out account counts across shards as one resharding
// operation. It does nothing when the shards are already balanced.
func (n *Node) Rebalance(ctx context.Context) error {
	shardIDs := n.allocator.ShardIDs()
	n.logRecommendations(shardIDs)

	moves := n.allocator.PlanRebalance(shardIDs)
	if len(moves) == 0 {
		return nil
	}
	opID, err := n.resharding.StartResharding(sharding.ReshardRebalance, shardIDs)
	if err != nil {
		return err
	}

	for _, move := range moves {
		if err := ctx.Err(); err != nil {
			n.failResharding(opID, err)
			return err
		}
		if err := n.moveAccount(move); err != nil {
			n.failResharding(opID, err)
			return err
		}
		if err := n.resharding.RecordAccountMove(opID, move.AccountID, move.From, move.To); err != nil {
			n.failResharding(opID, err)
			return err
		}
	}
	return n.resharding.CompleteResharding(opID, shardIDs)
}

func (n *Node) moveAccount(move sharding.AccountMove) error {
	from, ok := n.shard(move.From)
	if !ok {
		return shared.Errorf(shared.KindShardNotFound, "shard %d has no state", move.From)
	}
	to, ok := n.shard(move.To)
	if !ok {
		return shared.Errorf(shared.KindShardNotFound, "shard %d has no state", move.To)
	}
	if err := to.AddAccount(move.AccountID); err != nil {
		return err
	}
	alloc, err := n.allocator.ReallocateAccount(move.AccountID, move.To)
	if err != nil {
		to.RemoveAccount(move.AccountID)
		return err
	}
	if err := n.store.SaveAllocation(alloc); err != nil {
		// The allocator and both shards go back to the persisted placement.
		if _, undo := n.allocator.ReallocateAccount(move.AccountID, move.From); undo != nil {
			n.logger.Error("Failed to undo account move",
				zap.String("account", move.AccountID.String()), zap.Error(undo))
		}
		to.RemoveAccount(move.AccountID)
		return err
	}
	from.RemoveAccount(move.AccountID)
	n.metrics.ShardLoad(from.ID(), from.AccountCount(), from.LoadMetrics())
	n.metrics.ShardLoad(to.ID(), to.AccountCount(), to.LoadMetrics())
	return nil
}

func (n *Node) failResharding(opID string, cause error) {
	if err := n.resharding.FailResharding(opID, cause.Error()); err != nil {
		n.logger.Warn("Failed to close resharding operation", zap.String("operation", opID), zap.Error(err))
	}
}

func (n *Node) logRecommendations(shardIDs []types.ShardID) {
	for _, id := range shardIDs {
		shard, ok := n.shard(id)
		if !ok {
			continue
		}
		if strategy, ok := n.resharding.RecommendStrategy(id, shard.LoadMetrics()); ok {
			n.logger.Info("Resharding recommended",
				zap.Uint32("shard", uint32(id)),
				zap.Stringer("strategy", strategy))
		}
	}
}
