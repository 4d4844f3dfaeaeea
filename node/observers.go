package node

import (
	"github.com/optimachain/optimachain/consensus/finality"
	"github.com/optimachain/optimachain/network"
	"github.com/optimachain/optimachain/sharding"
	"go.uber.org/zap"
)

// finalityObserver runs inside the coordinator lock and must not call the
// coordinator.
type finalityObserver struct {
	n *Node
}

func (o finalityObserver) OnFinalized(proof *finality.Proof) {
	n := o.n
	if err := n.store.SaveFinalityProof(proof); err != nil {
		n.logger.Error("Failed to persist finality proof",
			zap.String("block", proof.BlockID.String()),
			zap.Error(err))
	}
	id := proof.BlockID
	n.lastFinalized.Store(&id)
	n.metrics.Finalized(proof.Height)
	n.finalizeCrossShard(proof.BlockID)
	n.hub.Publish(network.EventBlockFinalized, proof)
}

type crossShardObserver struct {
	n *Node
}

func (o crossShardObserver) OnReadyForDestination(tx sharding.CrossShardTransaction) {
	o.n.recordCrossShard(tx)
	o.n.hub.Publish(network.EventCrossShardReady, tx)
}

func (o crossShardObserver) OnFinalized(tx sharding.CrossShardTransaction) {
	o.n.recordCrossShard(tx)
	o.n.hub.Publish(network.EventCrossShardFinalized, tx)
}

func (n *Node) recordCrossShard(tx sharding.CrossShardTransaction) {
	n.metrics.CrossShard(tx.Status)
	if err := n.store.SaveCrossShardTransaction(tx); err != nil {
		n.logger.Error("Failed to persist cross-shard transaction",
			zap.String("transaction", tx.TransactionID.String()),
			zap.Error(err))
	}
}

// OnReshardingEvent runs under the resharding manager lock.
func (n *Node) OnReshardingEvent(event sharding.ReshardingEvent) {
	n.metrics.Resharding(event)
	n.hub.Publish(network.EventResharding, event)
}
