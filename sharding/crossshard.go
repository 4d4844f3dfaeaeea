package sharding

import (
	"cmp"
	"fmt"
	"slices"
	"sync"

	"github.com/optimachain/optimachain/shared"
	"github.com/optimachain/optimachain/types"
	"go.uber.org/zap"
)

type CrossShardStatus int

const (
	StatusPendingSource CrossShardStatus = iota
	StatusCommittedSource
	StatusPendingDestination
	StatusCommittedDestination
	StatusFinalized
	StatusFailed
)

func (s CrossShardStatus) String() string {
	switch s {
	case StatusPendingSource:
		return "pending_source"
	case StatusCommittedSource:
		return "committed_source"
	case StatusPendingDestination:
		return "pending_destination"
	case StatusCommittedDestination:
		return "committed_destination"
	case StatusFinalized:
		return "finalized"
	case StatusFailed:
		return "failed"
	}
	return fmt.Sprintf("CrossShardStatus(%d)", int(s))
}

func (s CrossShardStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// CrossShardTransaction moves through source commit, destination commit
// and finalization. FailureReason is set only in the Failed state.
// Sequence orders the transaction within the queue it last entered.
type CrossShardTransaction struct {
	TransactionID      types.TransactionID `cbor:"1,keyasint" json:"transactionId"`
	SourceShard        types.ShardID       `cbor:"2,keyasint" json:"sourceShard"`
	DestinationShard   types.ShardID       `cbor:"3,keyasint" json:"destinationShard"`
	Data               []byte              `cbor:"4,keyasint" json:"data"`
	Status             CrossShardStatus    `cbor:"5,keyasint" json:"status"`
	FailureReason      string              `cbor:"6,keyasint,omitempty" json:"failureReason,omitempty"`
	SourceBlockID      *types.BlockID      `cbor:"7,keyasint,omitempty" json:"sourceBlockId,omitempty"`
	DestinationBlockID *types.BlockID      `cbor:"8,keyasint,omitempty" json:"destinationBlockId,omitempty"`
	Sequence           uint64              `cbor:"9,keyasint" json:"sequence"`
}

// CrossShardObserver is notified after a transaction becomes ready for its
// destination shard and after it is finalized.
type CrossShardObserver interface {
	OnReadyForDestination(tx CrossShardTransaction)
	OnFinalized(tx CrossShardTransaction)
}

// CrossShardCoordinator holds every cross-shard transaction in exactly one
// of four collections. Each transition removes it from one collection and
// inserts it into the next under a single lock.
type CrossShardCoordinator struct {
	mu                   sync.Mutex
	pendingBySource      map[types.ShardID][]*CrossShardTransaction
	pendingByDestination map[types.ShardID][]*CrossShardTransaction
	waitingForFinality   map[types.TransactionID]*CrossShardTransaction
	completed            map[types.TransactionID]*CrossShardTransaction
	sequence             uint64
	observer             CrossShardObserver
	logger               *zap.Logger
}

func NewCrossShardCoordinator(logger *zap.Logger) *CrossShardCoordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CrossShardCoordinator{
		pendingBySource:      make(map[types.ShardID][]*CrossShardTransaction),
		pendingByDestination: make(map[types.ShardID][]*CrossShardTransaction),
		waitingForFinality:   make(map[types.TransactionID]*CrossShardTransaction),
		completed:            make(map[types.TransactionID]*CrossShardTransaction),
		logger:               logger,
	}
}

func (c *CrossShardCoordinator) SetObserver(o CrossShardObserver) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.observer = o
}

// SubmitTransaction queues a new transaction under its source shard.
func (c *CrossShardCoordinator) SubmitTransaction(id types.TransactionID, source, destination types.ShardID, data []byte) (CrossShardTransaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.find(id) != nil {
		return CrossShardTransaction{}, shared.Errorf(shared.KindDuplicateTransaction, "cross-shard transaction %s already submitted", id)
	}
	tx := &CrossShardTransaction{
		TransactionID:    id,
		SourceShard:      source,
		DestinationShard: destination,
		Data:             data,
		Status:           StatusPendingSource,
		Sequence:         c.next(),
	}
	c.pendingBySource[source] = append(c.pendingBySource[source], tx)
	c.logger.Debug("Cross-shard transaction submitted",
		zap.String("tx", id.String()),
		zap.Uint32("source", uint32(source)),
		zap.Uint32("destination", uint32(destination)))
	return *tx, nil
}

// CommitInSource records the source block and hands the transaction to its
// destination shard.
func (c *CrossShardCoordinator) CommitInSource(id types.TransactionID, block types.BlockID) (CrossShardTransaction, error) {
	c.mu.Lock()
	tx := takeFromQueues(c.pendingBySource, id)
	if tx == nil {
		c.mu.Unlock()
		return CrossShardTransaction{}, shared.Errorf(shared.KindTransactionNotFound, "transaction %s is not pending in a source shard", id)
	}
	tx.Status = StatusCommittedSource
	tx.SourceBlockID = &block
	tx.Sequence = c.next()
	c.pendingByDestination[tx.DestinationShard] = append(c.pendingByDestination[tx.DestinationShard], tx)
	out, observer := *tx, c.observer
	c.mu.Unlock()

	if observer != nil {
		observer.OnReadyForDestination(out)
	}
	return out, nil
}

// CommitInDestination records the destination block; the transaction then
// waits for finalization.
func (c *CrossShardCoordinator) CommitInDestination(id types.TransactionID, block types.BlockID) (CrossShardTransaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx := takeFromQueues(c.pendingByDestination, id)
	if tx == nil {
		return CrossShardTransaction{}, shared.Errorf(shared.KindTransactionNotFound, "transaction %s is not pending in a destination shard", id)
	}
	tx.Status = StatusCommittedDestination
	tx.DestinationBlockID = &block
	c.waitingForFinality[id] = tx
	return *tx, nil
}

func (c *CrossShardCoordinator) FinalizeTransaction(id types.TransactionID) (CrossShardTransaction, error) {
	c.mu.Lock()
	tx, ok := c.waitingForFinality[id]
	if !ok {
		c.mu.Unlock()
		return CrossShardTransaction{}, shared.Errorf(shared.KindTransactionNotFound, "transaction %s is not waiting for finality", id)
	}
	delete(c.waitingForFinality, id)
	tx.Status = StatusFinalized
	c.completed[id] = tx
	out, observer := *tx, c.observer
	c.mu.Unlock()

	c.logger.Debug("Cross-shard transaction finalized", zap.String("tx", id.String()))
	if observer != nil {
		observer.OnFinalized(out)
	}
	return out, nil
}

// FailTransaction moves a live transaction to completed with the given
// reason. Completed transactions cannot fail.
func (c *CrossShardCoordinator) FailTransaction(id types.TransactionID, reason string) (CrossShardTransaction, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	tx := takeFromQueues(c.pendingBySource, id)
	if tx == nil {
		tx = takeFromQueues(c.pendingByDestination, id)
	}
	if tx == nil {
		if waiting, ok := c.waitingForFinality[id]; ok {
			delete(c.waitingForFinality, id)
			tx = waiting
		}
	}
	if tx == nil {
		return CrossShardTransaction{}, shared.Errorf(shared.KindTransactionNotFound, "transaction %s is not live", id)
	}
	tx.Status = StatusFailed
	tx.FailureReason = reason
	c.completed[id] = tx

	c.logger.Warn("Cross-shard transaction failed", zap.String("tx", id.String()), zap.String("reason", reason))
	return *tx, nil
}

// Restore reloads persisted transactions, placing each in the collection
// its status names. Queues are rebuilt in sequence order. It returns the
// number of transactions skipped because their id was already loaded.
func (c *CrossShardCoordinator) Restore(txs []CrossShardTransaction) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	skipped := 0
	for _, t := range txs {
		if c.find(t.TransactionID) != nil {
			skipped++
			continue
		}
		tx := t
		switch tx.Status {
		case StatusPendingSource:
			c.pendingBySource[tx.SourceShard] = append(c.pendingBySource[tx.SourceShard], &tx)
		case StatusCommittedSource, StatusPendingDestination:
			c.pendingByDestination[tx.DestinationShard] = append(c.pendingByDestination[tx.DestinationShard], &tx)
		case StatusCommittedDestination:
			c.waitingForFinality[tx.TransactionID] = &tx
		default:
			c.completed[tx.TransactionID] = &tx
		}
		c.sequence = max(c.sequence, tx.Sequence)
	}
	for _, queues := range []map[types.ShardID][]*CrossShardTransaction{c.pendingBySource, c.pendingByDestination} {
		for _, queue := range queues {
			slices.SortFunc(queue, func(a, b *CrossShardTransaction) int {
				return cmp.Compare(a.Sequence, b.Sequence)
			})
		}
	}
	c.logger.Info("Restored cross-shard transactions",
		zap.Int("restored", len(txs)-skipped),
		zap.Int("waiting", len(c.waitingForFinality)))
	return skipped
}

// Waiting lists the transactions committed in a destination block and
// not yet finalized.
func (c *CrossShardCoordinator) Waiting() []CrossShardTransaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]CrossShardTransaction, 0, len(c.waitingForFinality))
	for _, tx := range c.waitingForFinality {
		out = append(out, *tx)
	}
	return out
}

func (c *CrossShardCoordinator) next() uint64 {
	c.sequence++
	return c.sequence
}

func takeFromQueues(queues map[types.ShardID][]*CrossShardTransaction, id types.TransactionID) *CrossShardTransaction {
	for shard, queue := range queues {
		for i, tx := range queue {
			if tx.TransactionID != id {
				continue
			}
			rest := append(queue[:i:i], queue[i+1:]...)
			if len(rest) == 0 {
				delete(queues, shard)
			} else {
				queues[shard] = rest
			}
			return tx
		}
	}
	return nil
}

func findInQueues(queues map[types.ShardID][]*CrossShardTransaction, id types.TransactionID) *CrossShardTransaction {
	for _, queue := range queues {
		for _, tx := range queue {
			if tx.TransactionID == id {
				return tx
			}
		}
	}
	return nil
}

func (c *CrossShardCoordinator) find(id types.TransactionID) *CrossShardTransaction {
	if tx, ok := c.completed[id]; ok {
		return tx
	}
	if tx, ok := c.waitingForFinality[id]; ok {
		return tx
	}
	if tx := findInQueues(c.pendingBySource, id); tx != nil {
		return tx
	}
	return findInQueues(c.pendingByDestination, id)
}

// Transaction returns a copy of the transaction wherever it currently is.
func (c *CrossShardCoordinator) Transaction(id types.TransactionID) (CrossShardTransaction, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	tx := c.find(id)
	if tx == nil {
		return CrossShardTransaction{}, false
	}
	return *tx, true
}

// PendingForSource lists the transactions queued in shard, in submission
// order.
func (c *CrossShardCoordinator) PendingForSource(shard types.ShardID) []CrossShardTransaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyQueue(c.pendingBySource[shard])
}

// PendingForDestination lists the transactions ready for shard, in the
// order their source commits happened.
func (c *CrossShardCoordinator) PendingForDestination(shard types.ShardID) []CrossShardTransaction {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyQueue(c.pendingByDestination[shard])
}

func (c *CrossShardCoordinator) WaitingForFinality() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.waitingForFinality)
}

func copyQueue(queue []*CrossShardTransaction) []CrossShardTransaction {
	out := make([]CrossShardTransaction, len(queue))
	for i, tx := range queue {
		out[i] = *tx
	}
	return out
}
