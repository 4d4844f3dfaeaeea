package sharding

import (
	"errors"
	"fmt"
	"sync"

	"github.com/optimachain/optimachain/shared"
	"github.com/optimachain/optimachain/types"
)

var ErrDuplicateBlock = errors.New("block already stored in shard")

type ShardConfig struct {
	MaxTransactionsPerBlock int     `mapstructure:"max_transactions_per_block" json:"maxTransactionsPerBlock"`
	MaxBlockSize            int     `mapstructure:"max_block_size" json:"maxBlockSize"`
	TargetBlockTimeMs       uint64  `mapstructure:"target_block_time_ms" json:"targetBlockTimeMs"`
	MaxAccounts             int     `mapstructure:"max_accounts" json:"maxAccounts"`
	ReshardingThreshold     float64 `mapstructure:"resharding_threshold" json:"reshardingThreshold"`
}

func DefaultShardConfig() ShardConfig {
	return ShardConfig{
		MaxTransactionsPerBlock: 10_000,
		MaxBlockSize:            5 * 1024 * 1024,
		TargetBlockTimeMs:       1000,
		MaxAccounts:             1_000_000,
		ReshardingThreshold:     0.8,
	}
}

// TPSCapacity is the transaction throughput a shard can sustain at its
// target block time.
func (c ShardConfig) TPSCapacity() float64 {
	if c.TargetBlockTimeMs == 0 {
		return 0
	}
	return 1000.0 / float64(c.TargetBlockTimeMs) * float64(c.MaxTransactionsPerBlock)
}

// Ratios returns the account and throughput utilisation of load.
func (c ShardConfig) Ratios(load LoadMetrics) (accountRatio, tpsRatio float64) {
	if c.MaxAccounts > 0 {
		accountRatio = float64(load.AccountCount) / float64(c.MaxAccounts)
	}
	if capacity := c.TPSCapacity(); capacity > 0 {
		tpsRatio = load.TPS / capacity
	}
	return accountRatio, tpsRatio
}

// NeedsResharding reports whether accounts, throughput or CPU crossed the
// resharding threshold.
func (c ShardConfig) NeedsResharding(load LoadMetrics) bool {
	accountRatio, tpsRatio := c.Ratios(load)
	return accountRatio >= c.ReshardingThreshold ||
		tpsRatio >= c.ReshardingThreshold ||
		load.CPUUsage >= c.ReshardingThreshold*100
}

type ShardState int

const (
	ShardActive ShardState = iota
	ShardCreating
	ShardSplitting
	ShardMerging
	ShardDeactivating
	ShardInactive
)

func (s ShardState) String() string {
	switch s {
	case ShardActive:
		return "active"
	case ShardCreating:
		return "creating"
	case ShardSplitting:
		return "splitting"
	case ShardMerging:
		return "merging"
	case ShardDeactivating:
		return "deactivating"
	case ShardInactive:
		return "inactive"
	}
	return fmt.Sprintf("ShardState(%d)", int(s))
}

func (s ShardState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// LoadMetrics are estimates derived from the shard's contents, not
// measurements of the host.
type LoadMetrics struct {
	TPS            float64 `json:"tps"`
	AvgBlockTimeMs float64 `json:"avgBlockTimeMs"`
	AccountCount   int     `json:"accountCount"`
	StorageUsage   uint64  `json:"storageUsage"`
	CPUUsage       float64 `json:"cpuUsage"`
	MemoryUsage    uint64  `json:"memoryUsage"`
}

// Shard is one partition of accounts with its own blocks and state.
type Shard struct {
	mu       sync.RWMutex
	id       types.ShardID
	config   ShardConfig
	state    ShardState
	accounts map[types.AccountID]struct{}
	blocks   map[types.BlockID]*types.Block
	latest   *types.Block
	chain    *types.State
	load     LoadMetrics
}

// NewShard creates a shard in the Creating state.
func NewShard(id types.ShardID, config ShardConfig) *Shard {
	return &Shard{
		id:       id,
		config:   config,
		state:    ShardCreating,
		accounts: make(map[types.AccountID]struct{}),
		blocks:   make(map[types.BlockID]*types.Block),
		chain:    types.NewState(),
	}
}

func (s *Shard) ID() types.ShardID {
	return s.id
}

func (s *Shard) Config() ShardConfig {
	return s.config
}

func (s *Shard) State() ShardState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *Shard) SetState(state ShardState) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = state
}

func (s *Shard) IsActive() bool {
	return s.State() == ShardActive
}

func (s *Shard) AddAccount(id types.AccountID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[id]; ok {
		return nil
	}
	if len(s.accounts) >= s.config.MaxAccounts {
		return shared.Errorf(shared.KindShardFull, "shard %d holds %d accounts", s.id, len(s.accounts))
	}
	s.accounts[id] = struct{}{}
	s.load.AccountCount = len(s.accounts)
	return nil
}

func (s *Shard) RemoveAccount(id types.AccountID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.accounts[id]; !ok {
		return false
	}
	delete(s.accounts, id)
	s.load.AccountCount = len(s.accounts)
	return true
}

func (s *Shard) HasAccount(id types.AccountID) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.accounts[id]
	return ok
}

func (s *Shard) AccountCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.accounts)
}

// AddBlock stores block and moves the head when it is higher than the
// current one.
func (s *Shard) AddBlock(block *types.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := block.ID()
	if _, ok := s.blocks[id]; ok {
		return fmt.Errorf("%w: %s", ErrDuplicateBlock, id)
	}
	if s.latest == nil || block.Height() > s.latest.Height() {
		if s.latest != nil && block.Header.Timestamp > s.latest.Header.Timestamp {
			gap := float64(block.Header.Timestamp - s.latest.Header.Timestamp)
			if s.load.AvgBlockTimeMs == 0 {
				s.load.AvgBlockTimeMs = gap
			} else {
				s.load.AvgBlockTimeMs = (s.load.AvgBlockTimeMs + gap) / 2
			}
		}
		s.latest = block
	}
	s.blocks[id] = block
	s.updateLoad()
	return nil
}

func (s *Shard) updateLoad() {
	if s.latest != nil {
		// one block per second
		s.load.TPS = float64(len(s.latest.Transactions))
	}
	s.load.AccountCount = len(s.accounts)
	s.load.StorageUsage = uint64(len(s.accounts)*1024 + len(s.blocks)*10*1024)
	s.load.MemoryUsage = uint64(len(s.accounts)*10*1024 + len(s.blocks)*1024)

	accountRatio, tpsRatio := s.config.Ratios(s.load)
	s.load.CPUUsage = (accountRatio*0.3 + tpsRatio*0.7) * 100
}

func (s *Shard) Block(id types.BlockID) (*types.Block, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	b, ok := s.blocks[id]
	return b, ok
}

func (s *Shard) LatestBlock() *types.Block {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

func (s *Shard) LatestHeight() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.latest == nil {
		return 0
	}
	return s.latest.Height()
}

func (s *Shard) StateRoot() types.StateRoot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chain.Root
}

// ApplyStateUpdate applies an execution result to the shard state and
// returns the new root.
func (s *Shard) ApplyStateUpdate(update types.StateUpdate) types.StateRoot {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.chain.ApplyUpdate(update)
	return s.chain.Root
}

func (s *Shard) Account(id types.AccountID) (types.Account, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	acc, ok := s.chain.Account(id)
	if !ok {
		return types.Account{}, false
	}
	return *acc, true
}

func (s *Shard) LoadMetrics() LoadMetrics {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.load
}

func (s *Shard) NeedsResharding() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.config.NeedsResharding(s.load)
}
