package node

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alitto/pond/v2"
	"github.com/optimachain/optimachain/config"
	"github.com/optimachain/optimachain/consensus"
	"github.com/optimachain/optimachain/consensus/finality"
	"github.com/optimachain/optimachain/consensus/selection"
	"github.com/optimachain/optimachain/consensus/validator"
	"github.com/optimachain/optimachain/crypto"
	"github.com/optimachain/optimachain/logging"
	"github.com/optimachain/optimachain/metrics"
	"github.com/optimachain/optimachain/network"
	"github.com/optimachain/optimachain/sharding"
	"github.com/optimachain/optimachain/store"
	"github.com/optimachain/optimachain/types"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

const (
	voteWorkers = 8
	jobTimeout  = 25 * time.Second
)

// Node ties consensus, sharding, persistence and the event feed together.
type Node struct {
	config      *config.Config
	coordinator *consensus.Coordinator
	allocator   *sharding.Allocator
	crossShard  *sharding.CrossShardCoordinator
	resharding  *sharding.ReshardingManager

	shardsMu sync.RWMutex
	shards   map[types.ShardID]*sharding.Shard

	// Cross-shard transactions committed in a destination block, waiting
	// for that block to finalize.
	awaitingMu sync.Mutex
	awaiting   map[types.BlockID][]types.TransactionID

	lastFinalized atomic.Pointer[types.BlockID]

	store   *store.ConsensusStore
	metrics *metrics.Metrics
	hub     *network.EventHub

	pool pond.Pool
	cron *cron.Cron
	now  func() time.Time

	logger *zap.Logger
}

func New(cfg *config.Config, st *store.ConsensusStore, m *metrics.Metrics, hub *network.EventHub, logger *zap.Logger) (*Node, error) {
	logger = logging.OrNop(logger)
	strategy, err := sharding.ParseAllocationStrategy(cfg.Sharding.Strategy)
	if err != nil {
		return nil, err
	}

	n := &Node{
		config:      cfg,
		coordinator: consensus.NewCoordinator(cfg.Consensus, crypto.NewService(), logger.Named("consensus")),
		allocator:   sharding.NewAllocator(strategy, logger.Named("allocator")),
		crossShard:  sharding.NewCrossShardCoordinator(logger.Named("crossshard")),
		resharding:  sharding.NewReshardingManager(logger.Named("resharding")),
		shards:      make(map[types.ShardID]*sharding.Shard),
		awaiting:    make(map[types.BlockID][]types.TransactionID),
		store:       st,
		metrics:     m,
		hub:         hub,
		now:         time.Now,
		logger:      logger,
	}
	n.coordinator.SetMetrics(m)
	n.coordinator.SetFinalityObserver(finalityObserver{n})
	n.crossShard.SetObserver(crossShardObserver{n})
	n.resharding.SetObserver(n)

	for i := 0; i < cfg.Sharding.Count; i++ {
		n.addShard(types.ShardID(i))
	}
	return n, nil
}

func (n *Node) addShard(id types.ShardID) {
	limits := n.config.Sharding.Limits
	shard := sharding.NewShard(id, limits)
	shard.SetState(sharding.ShardActive)

	n.shardsMu.Lock()
	n.shards[id] = shard
	n.shardsMu.Unlock()

	n.allocator.AddShard(id, limits)
	n.resharding.AddShardConfig(id, limits)
}

func (n *Node) shard(id types.ShardID) (*sharding.Shard, bool) {
	n.shardsMu.RLock()
	defer n.shardsMu.RUnlock()
	s, ok := n.shards[id]
	return s, ok
}

func (n *Node) Coordinator() *consensus.Coordinator {
	return n.coordinator
}

// Start restores persisted state, registers genesis validators when the
// store holds none, builds the first schedule and starts the periodic jobs.
func (n *Node) Start(ctx context.Context) error {
	if err := n.restore(); err != nil {
		return fmt.Errorf("restore node state: %w", err)
	}
	n.refreshSchedule()

	n.pool = pond.NewPool(voteWorkers, pond.WithContext(ctx))
	n.cron = cron.New(cron.WithChain(cron.Recover(cronLogger{n.logger})))
	if _, err := n.cron.AddFunc(n.config.Schedule.Refresh, n.refreshSchedule); err != nil {
		return fmt.Errorf("schedule refresh job: %w", err)
	}
	_, err := n.cron.AddFunc(n.config.Schedule.Rebalance, func() {
		rctx, cancel := context.WithTimeout(ctx, jobTimeout)
		defer cancel()
		if err := n.Rebalance(rctx); err != nil {
			n.logger.Warn("Rebalance failed", zap.Error(err))
		}
	})
	if err != nil {
		return fmt.Errorf("rebalance job: %w", err)
	}
	n.cron.Start()

	n.logger.Info("Node started",
		zap.Int("validators", n.coordinator.ValidatorCount()),
		zap.Int("shards", n.config.Sharding.Count),
		zap.Uint64("finalized_height", n.coordinator.LatestFinalizedHeight()))
	return nil
}

// Stop waits for running jobs and vote verification to finish. Calling it
// again is a no-op.
func (n *Node) Stop() {
	if n.cron == nil {
		return
	}
	<-n.cron.Stop().Done()
	n.pool.StopAndWait()
	n.cron, n.pool = nil, nil
	n.logger.Info("Node stopped")
}

func (n *Node) restore() error {
	set, epoch, err := n.store.LoadValidatorSet()
	if err != nil {
		return err
	}
	if set != nil {
		n.coordinator.RestoreValidators(set)
		n.logger.Info("Restored validator set", zap.Uint64("epoch", epoch), zap.Int("validators", set.Len()))
	} else if err := n.registerGenesis(); err != nil {
		return err
	}

	proofs, err := n.store.FinalityProofs()
	if err != nil {
		return err
	}
	n.coordinator.RestoreFinality(proofs)
	var latest *finality.Proof
	for _, p := range proofs {
		if latest == nil || p.Height > latest.Height {
			latest = p
		}
	}
	if latest != nil {
		id := latest.BlockID
		n.lastFinalized.Store(&id)
	}

	allocs, err := n.store.Allocations()
	if err != nil {
		return err
	}
	if skipped := n.allocator.Restore(allocs); skipped > 0 {
		n.logger.Warn("Skipped allocations to unknown shards", zap.Int("skipped", skipped))
	}
	for _, a := range allocs {
		if s, ok := n.shard(a.ShardID); ok {
			if err := s.AddAccount(a.AccountID); err != nil {
				n.logger.Warn("Restored account does not fit its shard",
					zap.String("account", a.AccountID.String()), zap.Error(err))
			}
		}
	}
	return n.restoreCrossShard()
}

// restoreCrossShard reloads cross-shard transactions and relinks the ones
// committed in a destination block to that block's finality. Blocks that
// finalized before the restart complete their transactions immediately.
func (n *Node) restoreCrossShard() error {
	txs, err := n.store.AllCrossShardTransactions()
	if err != nil {
		return err
	}
	if skipped := n.crossShard.Restore(txs); skipped > 0 {
		n.logger.Warn("Skipped duplicate cross-shard transactions", zap.Int("skipped", skipped))
	}

	var finalized []types.BlockID
	for _, tx := range n.crossShard.Waiting() {
		if tx.DestinationBlockID == nil {
			continue
		}
		block := *tx.DestinationBlockID
		n.awaitFinality(block, tx.TransactionID)
		if n.coordinator.IsFinalized(block) {
			finalized = append(finalized, block)
		}
	}
	for _, block := range finalized {
		n.finalizeCrossShard(block)
	}
	return nil
}

func (n *Node) registerGenesis() error {
	for _, g := range n.config.Genesis {
		pub, err := crypto.PublicKeyFromString(g.PublicKey)
		if err != nil {
			return fmt.Errorf("genesis validator %q: %w", g.Name, err)
		}
		v := validator.NewValidator(pub, g.Stake, validator.Info{Name: g.Name})
		if err := n.coordinator.AddValidator(v); err != nil {
			return fmt.Errorf("genesis validator %q: %w", g.Name, err)
		}
	}
	if len(n.config.Genesis) == 0 {
		return nil
	}
	return n.store.SaveValidatorSet(n.coordinator.Epoch(), n.coordinator.ValidatorSnapshot())
}

// refreshSchedule rebuilds the production schedule from the start of the
// current slot, so slot boundaries stay on multiples of the slot duration.
func (n *Node) refreshSchedule() {
	sc := n.config.Schedule
	start := uint64(n.now().UnixMilli())
	if sc.SlotDurationMs > 0 {
		start -= start % sc.SlotDurationMs
	}
	if id := n.lastFinalized.Load(); sc.SeedFromBlock && id != nil {
		n.coordinator.RegenerateScheduleWithSeed(selection.SeedFromBlock(*id), start, sc.DurationMs, sc.SlotDurationMs)
		return
	}
	n.coordinator.RegenerateSchedule(start, sc.DurationMs, sc.SlotDurationMs)
}

// AddValidator registers v and persists the new set.
func (n *Node) AddValidator(v *validator.Validator) error {
	if err := n.coordinator.AddValidator(v); err != nil {
		return err
	}
	return n.store.SaveValidatorSet(n.coordinator.Epoch(), n.coordinator.ValidatorSnapshot())
}

// cronLogger routes cron's logging to zap.
type cronLogger struct {
	logger *zap.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Debugw(msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Sugar().Errorw(msg, append(keysAndValues, "error", err)...)
}
