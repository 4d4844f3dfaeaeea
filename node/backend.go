package node

import (
	"github.com/optimachain/optimachain/consensus/finality"
	"github.com/optimachain/optimachain/consensus/validator"
	"github.com/optimachain/optimachain/network"
	"github.com/optimachain/optimachain/types"
)

var _ network.Backend = (*Node)(nil)

func (n *Node) Status() network.Status {
	n.shardsMu.RLock()
	shards := len(n.shards)
	n.shardsMu.RUnlock()

	return network.Status{
		Epoch:                 n.coordinator.Epoch(),
		LatestFinalizedHeight: n.coordinator.LatestFinalizedHeight(),
		PendingBlocks:         n.coordinator.PendingBlocks(),
		Validators:            n.coordinator.ValidatorCount(),
		TotalStake:            n.coordinator.TotalStake(),
		Shards:                shards,
		CrossShardWaiting:     n.crossShard.WaitingForFinality(),
	}
}

func (n *Node) Validators() []*validator.Validator {
	return n.coordinator.Validators()
}

// FinalityProof looks in memory first and falls back to the store.
func (n *Node) FinalityProof(id types.BlockID) (*finality.Proof, bool) {
	if p, ok := n.coordinator.FinalityProof(id); ok {
		return p, true
	}
	p, err := n.store.FinalityProof(id)
	if err != nil || p == nil {
		return nil, false
	}
	return p, true
}

func (n *Node) AccountShard(id types.AccountID) (types.ShardID, bool) {
	return n.allocator.ShardOf(id)
}

func (n *Node) Resharding() network.ReshardingStatus {
	return network.ReshardingStatus{
		Active:    n.resharding.ActiveOperations(),
		Completed: n.resharding.CompletedOperations(),
	}
}
