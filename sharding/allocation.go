package sharding

import (
	"bytes"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/optimachain/optimachain/shared"
	"github.com/optimachain/optimachain/types"
	"go.uber.org/zap"
)

type AllocationStrategy int

const (
	StrategyHash AllocationStrategy = iota
	StrategyBalance
	StrategyActivity
	StrategyGeographic
	StrategyContractDependency
	StrategyConsistentHash
)

func (s AllocationStrategy) String() string {
	switch s {
	case StrategyHash:
		return "hash"
	case StrategyBalance:
		return "balance"
	case StrategyActivity:
		return "activity"
	case StrategyGeographic:
		return "geographic"
	case StrategyContractDependency:
		return "contract_dependency"
	case StrategyConsistentHash:
		return "consistent_hash"
	}
	return fmt.Sprintf("AllocationStrategy(%d)", int(s))
}

func (s AllocationStrategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *AllocationStrategy) UnmarshalText(text []byte) error {
	parsed, err := ParseAllocationStrategy(string(text))
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func ParseAllocationStrategy(name string) (AllocationStrategy, error) {
	for s := StrategyHash; s <= StrategyConsistentHash; s++ {
		if s.String() == name {
			return s, nil
		}
	}
	return StrategyHash, fmt.Errorf("unknown allocation strategy %q", name)
}

// Allocation records which shard an account was placed in and how.
type Allocation struct {
	AccountID types.AccountID    `cbor:"1,keyasint" json:"accountId"`
	ShardID   types.ShardID      `cbor:"2,keyasint" json:"shardId"`
	Timestamp int64              `cbor:"3,keyasint" json:"timestamp"`
	Strategy  AllocationStrategy `cbor:"4,keyasint" json:"strategy"`
}

// Allocator maps accounts to shards. Every account is in at most one shard
// and the forward and reverse indexes always agree.
type Allocator struct {
	mu            sync.RWMutex
	strategy      AllocationStrategy
	allocations   map[types.AccountID]types.ShardID
	shardAccounts map[types.ShardID]map[types.AccountID]struct{}
	shards        map[types.ShardID]ShardConfig
	ring          *hashRing
	logger        *zap.Logger
}

func NewAllocator(strategy AllocationStrategy, logger *zap.Logger) *Allocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Allocator{
		strategy:      strategy,
		allocations:   make(map[types.AccountID]types.ShardID),
		shardAccounts: make(map[types.ShardID]map[types.AccountID]struct{}),
		shards:        make(map[types.ShardID]ShardConfig),
		ring:          newHashRing(),
		logger:        logger,
	}
}

func (a *Allocator) AddShard(id types.ShardID, config ShardConfig) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if _, ok := a.shards[id]; !ok {
		a.ring.AddShard(id)
	}
	a.shards[id] = config
	if _, ok := a.shardAccounts[id]; !ok {
		a.shardAccounts[id] = make(map[types.AccountID]struct{})
	}
}

// RemoveShard drops the shard and clears the allocation of every account it
// held. The orphaned accounts are returned, sorted, for the caller to
// allocate again.
func (a *Allocator) RemoveShard(id types.ShardID) []types.AccountID {
	a.mu.Lock()
	defer a.mu.Unlock()

	orphans := sortedAccounts(a.shardAccounts[id])
	for _, acc := range orphans {
		delete(a.allocations, acc)
	}
	delete(a.shardAccounts, id)
	if _, ok := a.shards[id]; ok {
		a.ring.RemoveShard(id)
		delete(a.shards, id)
	}
	if len(orphans) > 0 {
		a.logger.Info("Removed shard with accounts", zap.Uint32("shard", uint32(id)), zap.Int("orphans", len(orphans)))
	}
	return orphans
}

// AllocateAccount places an unallocated account with the active strategy.
func (a *Allocator) AllocateAccount(acc types.AccountID) (Allocation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if current, ok := a.allocations[acc]; ok {
		return Allocation{}, shared.Errorf(shared.KindAlreadyAllocated, "account %s already in shard %d", acc, current)
	}
	shard, err := a.findBestShard(acc)
	if err != nil {
		return Allocation{}, err
	}
	a.allocations[acc] = shard
	a.shardAccounts[shard][acc] = struct{}{}
	return a.allocation(acc, shard), nil
}

// ReallocateAccount moves an allocated account to shard.
func (a *Allocator) ReallocateAccount(acc types.AccountID, shard types.ShardID) (Allocation, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	current, ok := a.allocations[acc]
	if !ok {
		return Allocation{}, shared.Errorf(shared.KindAccountNotAllocated, "account %s is not allocated", acc)
	}
	if _, ok := a.shards[shard]; !ok {
		return Allocation{}, shared.Errorf(shared.KindShardNotFound, "shard %d does not exist", shard)
	}
	delete(a.shardAccounts[current], acc)
	a.shardAccounts[shard][acc] = struct{}{}
	a.allocations[acc] = shard
	return a.allocation(acc, shard), nil
}

// ReleaseAccount clears the allocation of acc and reports whether it had one.
func (a *Allocator) ReleaseAccount(acc types.AccountID) bool {
	a.mu.Lock()
	defer a.mu.Unlock()

	shard, ok := a.allocations[acc]
	if !ok {
		return false
	}
	delete(a.shardAccounts[shard], acc)
	delete(a.allocations, acc)
	return true
}

// Restore reinstates persisted allocations. Allocations to unknown shards
// are skipped and counted in the returned value.
func (a *Allocator) Restore(allocs []Allocation) int {
	a.mu.Lock()
	defer a.mu.Unlock()

	skipped := 0
	for _, alloc := range allocs {
		if _, ok := a.shards[alloc.ShardID]; !ok {
			skipped++
			continue
		}
		if current, ok := a.allocations[alloc.AccountID]; ok {
			delete(a.shardAccounts[current], alloc.AccountID)
		}
		a.allocations[alloc.AccountID] = alloc.ShardID
		a.shardAccounts[alloc.ShardID][alloc.AccountID] = struct{}{}
	}
	return skipped
}

func (a *Allocator) allocation(acc types.AccountID, shard types.ShardID) Allocation {
	return Allocation{
		AccountID: acc,
		ShardID:   shard,
		Timestamp: time.Now().Unix(),
		Strategy:  a.strategy,
	}
}

func (a *Allocator) findBestShard(acc types.AccountID) (types.ShardID, error) {
	if len(a.shards) == 0 {
		return 0, shared.Errorf(shared.KindShardNotFound, "no shards available")
	}

	switch a.strategy {
	case StrategyBalance:
		ids := a.sortedShardIDs()
		best := ids[0]
		for _, id := range ids[1:] {
			if len(a.shardAccounts[id]) < len(a.shardAccounts[best]) {
				best = id
			}
		}
		return best, nil
	case StrategyConsistentHash:
		if id, ok := a.ring.ShardFor(acc); ok {
			return id, nil
		}
		return a.hashShard(acc), nil
	default:
		// Activity, Geographic and ContractDependency need data the
		// allocator does not have and place accounts like Hash.
		return a.hashShard(acc), nil
	}
}

func (a *Allocator) hashShard(acc types.AccountID) types.ShardID {
	ids := a.sortedShardIDs()
	return ids[HashAccount(acc)%uint32(len(ids))]
}

// HashAccount is the polynomial rolling hash h = h*31 + b over the account
// bytes, wrapping at 32 bits.
func HashAccount(acc types.AccountID) uint32 {
	var h uint32
	for _, b := range acc {
		h = h*31 + uint32(b)
	}
	return h
}

func (a *Allocator) sortedShardIDs() []types.ShardID {
	ids := make([]types.ShardID, 0, len(a.shards))
	for id := range a.shards {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func sortedAccounts(set map[types.AccountID]struct{}) []types.AccountID {
	out := make([]types.AccountID, 0, len(set))
	for acc := range set {
		out = append(out, acc)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

func (a *Allocator) ShardOf(acc types.AccountID) (types.ShardID, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	id, ok := a.allocations[acc]
	return id, ok
}

// ShardAccounts lists a shard's accounts in byte order.
func (a *Allocator) ShardAccounts(id types.ShardID) []types.AccountID {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return sortedAccounts(a.shardAccounts[id])
}

func (a *Allocator) ShardAccountCount(id types.ShardID) int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.shardAccounts[id])
}

func (a *Allocator) HasShard(id types.ShardID) bool {
	a.mu.RLock()
	defer a.mu.RUnlock()
	_, ok := a.shards[id]
	return ok
}

func (a *Allocator) ShardIDs() []types.ShardID {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.sortedShardIDs()
}

func (a *Allocator) SetStrategy(s AllocationStrategy) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.strategy = s
}

func (a *Allocator) Strategy() AllocationStrategy {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.strategy
}

// AccountMove is one planned account transfer between shards.
type AccountMove struct {
	AccountID types.AccountID `json:"accountId"`
	From      types.ShardID   `json:"from"`
	To        types.ShardID   `json:"to"`
}

// PlanRebalance computes the moves that even out account counts across
// shards. Lower shard IDs absorb the remainder; surplus shards give up
// their highest accounts first. It does not change any allocation.
func (a *Allocator) PlanRebalance(shards []types.ShardID) []AccountMove {
	a.mu.RLock()
	defer a.mu.RUnlock()

	ids := append([]types.ShardID(nil), shards...)
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	if len(ids) < 2 {
		return nil
	}

	total := 0
	for _, id := range ids {
		total += len(a.shardAccounts[id])
	}
	target := make(map[types.ShardID]int, len(ids))
	for i, id := range ids {
		target[id] = total / len(ids)
		if i < total%len(ids) {
			target[id]++
		}
	}

	var surplus []AccountMove
	for _, id := range ids {
		accounts := sortedAccounts(a.shardAccounts[id])
		for extra := len(accounts) - target[id]; extra > 0; extra-- {
			surplus = append(surplus, AccountMove{AccountID: accounts[len(accounts)-extra], From: id})
		}
	}

	var moves []AccountMove
	for _, id := range ids {
		for missing := target[id] - len(a.shardAccounts[id]); missing > 0 && len(surplus) > 0; missing-- {
			move := surplus[0]
			surplus = surplus[1:]
			move.To = id
			moves = append(moves, move)
		}
	}
	return moves
}
