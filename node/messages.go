package node

import (
	"context"
	"errors"
	"fmt"

	"github.com/optimachain/optimachain/consensus/finality"
	"github.com/optimachain/optimachain/network"
	"github.com/optimachain/optimachain/sharding"
	"github.com/optimachain/optimachain/types"
	"go.uber.org/zap"
)

// HandleMessage dispatches an inbound network message. Ping is answered
// with a Pong carrying the node status; other handled types return no
// reply.
func (n *Node) HandleMessage(ctx context.Context, msg *types.Message) (*types.Message, error) {
	switch msg.Type {
	case types.MsgBlockAnnounce:
		var block types.Block
		if err := msg.DecodePayload(&block); err != nil {
			return nil, err
		}
		return nil, n.HandleBlock(&block)

	case types.MsgConsensus:
		var body types.ConsensusMessage
		if err := msg.DecodePayload(&body); err != nil {
			return nil, err
		}
		_, err := n.HandleVotes(ctx, []types.Vote{body.Vote})
		return nil, err

	case types.MsgPing:
		return types.NewMessage(types.MsgPong, n.statusMessage())

	default:
		n.logger.Debug("Ignoring message", zap.Stringer("type", msg.Type), zap.String("id", msg.ID))
		return nil, nil
	}
}

func (n *Node) statusMessage() types.StatusMessage {
	status := types.StatusMessage{
		FinalizedHeight: n.coordinator.LatestFinalizedHeight(),
		Epoch:           n.coordinator.Epoch(),
	}
	n.shardsMu.RLock()
	defer n.shardsMu.RUnlock()
	for _, s := range n.shards {
		if latest := s.LatestBlock(); latest != nil && latest.Height() >= status.Height {
			status.Height = latest.Height()
			status.LatestBlock = latest.ID()
		}
	}
	return status
}

// HandleBlock runs a block through consensus, then files it with its
// shard, advances the cross-shard transactions it carries and persists it.
// Blocks consensus already knows are ignored.
func (n *Node) HandleBlock(block *types.Block) error {
	shard, ok := n.shard(block.ShardID)
	if !ok {
		return fmt.Errorf("block for unknown shard %d", block.ShardID)
	}

	epoch := n.coordinator.Epoch()
	accepted, err := n.coordinator.AcceptBlock(block)
	if err != nil || !accepted {
		return err
	}

	if err := shard.AddBlock(block); err != nil && !errors.Is(err, sharding.ErrDuplicateBlock) {
		return err
	}
	if err := n.store.SaveBlock(block); err != nil {
		return err
	}
	if err := n.store.SaveShardState(shard.ID(), block.Height(), shard.StateRoot()); err != nil {
		return err
	}
	n.metrics.ShardLoad(shard.ID(), shard.AccountCount(), shard.LoadMetrics())
	n.commitCrossShard(block)

	if current := n.coordinator.Epoch(); current != epoch {
		n.onEpochStarted(current)
	}
	return nil
}

func (n *Node) commitCrossShard(block *types.Block) {
	id := block.ID()
	for _, ref := range block.CrossShardTxs {
		tx, ok := n.crossShard.Transaction(ref.TransactionID)
		if !ok {
			continue
		}
		var err error
		switch {
		case tx.Status == sharding.StatusPendingSource && tx.SourceShard == block.ShardID:
			_, err = n.crossShard.CommitInSource(ref.TransactionID, id)
		case tx.Status == sharding.StatusCommittedSource && tx.DestinationShard == block.ShardID:
			var committed sharding.CrossShardTransaction
			if committed, err = n.crossShard.CommitInDestination(ref.TransactionID, id); err == nil {
				n.recordCrossShard(committed)
				n.awaitFinality(id, ref.TransactionID)
			}
		}
		if err != nil {
			n.logger.Warn("Cross-shard commit failed",
				zap.String("transaction", ref.TransactionID.String()),
				zap.String("block", id.String()),
				zap.Error(err))
		}
	}
	if n.coordinator.IsFinalized(id) {
		n.finalizeCrossShard(id)
	}
}

func (n *Node) awaitFinality(block types.BlockID, tx types.TransactionID) {
	n.awaitingMu.Lock()
	defer n.awaitingMu.Unlock()
	n.awaiting[block] = append(n.awaiting[block], tx)
}

// finalizeCrossShard completes the transactions waiting on block.
func (n *Node) finalizeCrossShard(block types.BlockID) {
	n.awaitingMu.Lock()
	txs := n.awaiting[block]
	delete(n.awaiting, block)
	n.awaitingMu.Unlock()

	for _, tx := range txs {
		if _, err := n.crossShard.FinalizeTransaction(tx); err != nil {
			n.logger.Warn("Cross-shard finalize failed", zap.String("transaction", tx.String()), zap.Error(err))
		}
	}
}

func (n *Node) onEpochStarted(epoch uint64) {
	n.refreshSchedule()
	if err := n.store.SaveValidatorSet(epoch, n.coordinator.ValidatorSnapshot()); err != nil {
		n.logger.Error("Failed to persist validator set", zap.Uint64("epoch", epoch), zap.Error(err))
	}
	n.hub.Publish(network.EventEpochStarted, map[string]uint64{"epoch": epoch})
}

// HandleVotes verifies votes concurrently on the worker pool, then applies
// the valid ones in order. It returns the proofs of blocks the votes
// finalized and the joined errors of the rejected votes.
func (n *Node) HandleVotes(ctx context.Context, votes []types.Vote) ([]*finality.Proof, error) {
	if n.pool == nil {
		return nil, errors.New("node is not started")
	}
	results := make([]error, len(votes))
	group := n.pool.NewGroupContext(ctx)
	for i, vote := range votes {
		group.Submit(func() {
			results[i] = n.coordinator.VerifyVote(vote)
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var proofs []*finality.Proof
	var rejected []error
	for i, vote := range votes {
		if results[i] != nil {
			rejected = append(rejected, results[i])
			continue
		}
		if proof := n.coordinator.AddVerifiedVote(vote); proof != nil {
			proofs = append(proofs, proof)
		}
	}
	return proofs, errors.Join(rejected...)
}
