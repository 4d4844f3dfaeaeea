package store

import (
	"encoding/binary"

	"github.com/optimachain/optimachain/consensus/finality"
	"github.com/optimachain/optimachain/consensus/validator"
	"github.com/optimachain/optimachain/logging"
	"github.com/optimachain/optimachain/shared"
	"github.com/optimachain/optimachain/sharding"
	"github.com/optimachain/optimachain/types"
	"go.uber.org/zap"
)

const (
	proofCacheFalsePositive = 0.01
	minCacheSize            = 16
)

// ConsensusStore persists what a node needs to resume consensus: blocks,
// finality proofs, the validator set, and account placement.
type ConsensusStore struct {
	kv     KV
	proofs *Cache[*finality.Proof]
	logger *zap.Logger
}

func NewConsensusStore(kv KV, cacheSize int, logger *zap.Logger) (*ConsensusStore, error) {
	if cacheSize < minCacheSize {
		cacheSize = minCacheSize
	}
	proofs, err := NewCache[*finality.Proof](cacheSize, uint(cacheSize)*8, proofCacheFalsePositive)
	if err != nil {
		return nil, err
	}
	return &ConsensusStore{
		kv:     kv,
		proofs: proofs,
		logger: logging.OrNop(logger),
	}, nil
}

func (s *ConsensusStore) SaveBlock(b *types.Block) error {
	data, err := b.Marshal()
	if err != nil {
		return err
	}
	return s.kv.Put(BlockKey(b.ID()), data)
}

// Block returns nil, nil when the block is not stored.
func (s *ConsensusStore) Block(id types.BlockID) (*types.Block, error) {
	data, err := s.kv.Get(BlockKey(id))
	if err != nil || data == nil {
		return nil, err
	}
	var b types.Block
	if err := b.Unmarshal(data); err != nil {
		return nil, err
	}
	return &b, nil
}

// SaveFinalityProof stores p and raises the latest finalized height in the
// same batch when p is above it.
func (s *ConsensusStore) SaveFinalityProof(p *finality.Proof) error {
	data, err := p.Marshal()
	if err != nil {
		return err
	}
	latest, err := s.LatestFinalized()
	if err != nil {
		return err
	}

	batch := NewBatch()
	batch.Put(FinalityKey(p.BlockID), data)
	if p.Height > latest {
		batch.Put(MetadataKey(metaLatestFinalized), binary.BigEndian.AppendUint64(nil, p.Height))
	}
	if err := s.kv.ApplyBatch(batch); err != nil {
		return err
	}
	s.proofs.Add(p.BlockID.String(), p)
	return nil
}

// FinalityProof returns nil, nil when no proof is stored for id.
func (s *ConsensusStore) FinalityProof(id types.BlockID) (*finality.Proof, error) {
	if p, ok := s.proofs.Get(id.String()); ok {
		return p, nil
	}
	data, err := s.kv.Get(FinalityKey(id))
	if err != nil || data == nil {
		return nil, err
	}
	p, err := finality.UnmarshalProof(data)
	if err != nil {
		return nil, err
	}
	s.proofs.Add(id.String(), p)
	return p, nil
}

// FinalityProofs loads every stored proof.
func (s *ConsensusStore) FinalityProofs() ([]*finality.Proof, error) {
	var out []*finality.Proof
	err := s.kv.IteratePrefix([]byte{PrefixFinality}, func(_, value []byte) error {
		p, err := finality.UnmarshalProof(value)
		if err != nil {
			return err
		}
		out = append(out, p)
		return nil
	})
	return out, err
}

// LatestFinalized is the highest proof height SaveFinalityProof has seen.
func (s *ConsensusStore) LatestFinalized() (uint64, error) {
	return s.metaUint64(metaLatestFinalized)
}

// SaveValidatorSet stores the snapshot taken at epoch and marks it as the
// most recent one.
func (s *ConsensusStore) SaveValidatorSet(epoch uint64, snap validator.Snapshot) error {
	data, err := snap.Marshal()
	if err != nil {
		return err
	}
	batch := NewBatch()
	batch.Put(ValidatorSetKey(epoch), data)
	batch.Put(MetadataKey(metaValidatorEpoch), binary.BigEndian.AppendUint64(nil, epoch))
	return s.kv.ApplyBatch(batch)
}

// LoadValidatorSet returns the most recent snapshot and its epoch, or a nil
// set when none was saved.
func (s *ConsensusStore) LoadValidatorSet() (*validator.Set, uint64, error) {
	ok, err := s.kv.Has(MetadataKey(metaValidatorEpoch))
	if err != nil || !ok {
		return nil, 0, err
	}
	epoch, err := s.metaUint64(metaValidatorEpoch)
	if err != nil {
		return nil, 0, err
	}
	data, err := s.kv.Get(ValidatorSetKey(epoch))
	if err != nil {
		return nil, 0, err
	}
	if data == nil {
		return nil, 0, shared.Errorf(shared.KindStorage, "validator snapshot for epoch %d is missing", epoch)
	}
	set, err := validator.UnmarshalSnapshot(data)
	if err != nil {
		return nil, 0, err
	}
	return set, epoch, nil
}

func (s *ConsensusStore) SaveAllocation(a sharding.Allocation) error {
	data, err := types.Encode(a)
	if err != nil {
		return err
	}
	return s.kv.Put(AccountKey(a.AccountID), data)
}

// Allocation returns false when the account has no stored placement.
func (s *ConsensusStore) Allocation(id types.AccountID) (sharding.Allocation, bool, error) {
	data, err := s.kv.Get(AccountKey(id))
	if err != nil || data == nil {
		return sharding.Allocation{}, false, err
	}
	var a sharding.Allocation
	if err := types.Decode(data, &a); err != nil {
		return sharding.Allocation{}, false, err
	}
	return a, true, nil
}

// Allocations loads every stored placement in account order.
func (s *ConsensusStore) Allocations() ([]sharding.Allocation, error) {
	var out []sharding.Allocation
	err := s.kv.IteratePrefix([]byte{PrefixAccount}, func(_, value []byte) error {
		var a sharding.Allocation
		if err := types.Decode(value, &a); err != nil {
			return err
		}
		out = append(out, a)
		return nil
	})
	return out, err
}

// SaveCrossShardTransaction records a cross-shard transaction under its
// source shard.
func (s *ConsensusStore) SaveCrossShardTransaction(tx sharding.CrossShardTransaction) error {
	data, err := types.Encode(tx)
	if err != nil {
		return err
	}
	return s.kv.Put(ShardedKey(PrefixTransaction, tx.SourceShard, tx.TransactionID[:]), data)
}

func (s *ConsensusStore) CrossShardTransactions(source types.ShardID) ([]sharding.CrossShardTransaction, error) {
	return s.crossShardTransactions(ShardedKey(PrefixTransaction, source))
}

// AllCrossShardTransactions loads the cross-shard transactions of every
// source shard.
func (s *ConsensusStore) AllCrossShardTransactions() ([]sharding.CrossShardTransaction, error) {
	return s.crossShardTransactions([]byte{PrefixTransaction})
}

func (s *ConsensusStore) crossShardTransactions(prefix []byte) ([]sharding.CrossShardTransaction, error) {
	var out []sharding.CrossShardTransaction
	err := s.kv.IteratePrefix(prefix, func(_, value []byte) error {
		var tx sharding.CrossShardTransaction
		if err := types.Decode(value, &tx); err != nil {
			return err
		}
		out = append(out, tx)
		return nil
	})
	return out, err
}

// SaveShardState stores the state root a shard reached at height.
func (s *ConsensusStore) SaveShardState(shard types.ShardID, height uint64, root types.StateRoot) error {
	return s.kv.Put(shardStateKey(shard, height), root[:])
}

// ShardState returns the state root saved for shard at height.
func (s *ConsensusStore) ShardState(shard types.ShardID, height uint64) (types.StateRoot, bool, error) {
	var root types.StateRoot
	data, err := s.kv.Get(shardStateKey(shard, height))
	if err != nil || data == nil {
		return root, false, err
	}
	if len(data) != len(root) {
		return root, false, shared.Errorf(shared.KindStorage, "shard %d state at %d has %d bytes", shard, height, len(data))
	}
	copy(root[:], data)
	return root, true, nil
}

func shardStateKey(shard types.ShardID, height uint64) []byte {
	return ShardedKey(PrefixState, shard, binary.BigEndian.AppendUint64(nil, height))
}

func (s *ConsensusStore) metaUint64(name string) (uint64, error) {
	data, err := s.kv.Get(MetadataKey(name))
	if err != nil || data == nil {
		return 0, err
	}
	if len(data) != 8 {
		return 0, shared.Errorf(shared.KindStorage, "metadata %s has %d bytes", name, len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

func (s *ConsensusStore) Close() error {
	s.proofs.Purge()
	s.logger.Debug("Closing consensus store")
	return s.kv.Close()
}
