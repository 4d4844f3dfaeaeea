package consensus

import (
	"sync"

	"github.com/optimachain/optimachain/consensus/detection"
	"github.com/optimachain/optimachain/consensus/finality"
	"github.com/optimachain/optimachain/consensus/selection"
	"github.com/optimachain/optimachain/consensus/validator"
	"github.com/optimachain/optimachain/crypto"
	"github.com/optimachain/optimachain/shared"
	"github.com/optimachain/optimachain/types"
	"go.uber.org/zap"
)

type seenBlock struct {
	height    uint64
	timestamp uint64
}

// Coordinator is the adaptive proof-of-stake engine. It owns the validator
// registry, the production schedule and the finality provider, accepts
// blocks and votes, and reweights validators at epoch boundaries.
//
// Finality observers run while the coordinator lock is held and must not
// call back into the coordinator.
type Coordinator struct {
	mu          sync.Mutex
	config      Config
	registry    *validator.Registry
	epoch       uint64
	producer    *selection.Producer
	finality    *finality.Provider
	performance map[crypto.PublicKey]*validator.Performance
	detector    *detection.Detector
	crypto      crypto.Service
	metrics     Recorder
	seen        map[types.BlockID]seenBlock
	logger      *zap.Logger
}

func NewCoordinator(cfg Config, svc crypto.Service, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if svc == nil {
		svc = crypto.NewService()
	}
	provider := finality.NewProvider(logger.Named("finality"))
	provider.SetThreshold(cfg.FinalityThreshold)

	return &Coordinator{
		config:      cfg,
		registry:    validator.NewRegistry(cfg.MinStake, cfg.MaxValidators, logger.Named("registry")),
		producer:    selection.NewProducer(),
		finality:    provider,
		performance: make(map[crypto.PublicKey]*validator.Performance),
		detector:    detection.NewDetector(detection.DefaultThresholds()),
		crypto:      svc,
		metrics:     nopRecorder{},
		seen:        make(map[types.BlockID]seenBlock),
		logger:      logger,
	}
}

func (c *Coordinator) SetMetrics(r Recorder) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if r == nil {
		r = nopRecorder{}
	}
	c.metrics = r
}

func (c *Coordinator) SetFinalityObserver(o finality.Observer) {
	c.finality.SetObserver(o)
}

func (c *Coordinator) Config() Config {
	return c.config
}

// AddValidator registers v and starts tracking its performance. A validator
// evicted to make room loses its performance record too.
func (c *Coordinator) AddValidator(v *validator.Validator) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	evicted, err := c.registry.Add(v)
	if err != nil {
		return err
	}
	if evicted != nil {
		c.forget(evicted.PublicKey)
	}
	if _, ok := c.performance[v.PublicKey]; !ok {
		c.performance[v.PublicKey] = &validator.Performance{}
	}
	c.metrics.ValidatorCount(c.registry.Len())
	return nil
}

// RemoveValidator deregisters pub and drops its performance record. It
// returns the removed validator, or nil when pub was not registered.
func (c *Coordinator) RemoveValidator(pub crypto.PublicKey) *validator.Validator {
	c.mu.Lock()
	defer c.mu.Unlock()

	removed := c.registry.Remove(pub)
	c.forget(pub)
	c.metrics.ValidatorCount(c.registry.Len())
	return removed
}

func (c *Coordinator) forget(pub crypto.PublicKey) {
	delete(c.performance, pub)
	c.detector.Forget(pub)
}

// RestoreValidators replaces the registry contents with a persisted set
// and starts fresh performance records for it.
func (c *Coordinator) RestoreValidators(set *validator.Set) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.registry.Restore(set)
	c.performance = make(map[crypto.PublicKey]*validator.Performance, set.Len())
	for _, v := range set.Validators() {
		c.performance[v.PublicKey] = &validator.Performance{}
	}
	c.metrics.ValidatorCount(set.Len())
}

// ProcessBlock verifies and accepts a block: the producer must be
// registered, the header signature must verify and the producer must not
// have signed another block at the same height. Accepted blocks update the
// producer's performance, count as the producer's finality vote and start
// a new epoch at every multiple of the epoch length. Blocks that are
// already known are ignored.
func (c *Coordinator) ProcessBlock(block *types.Block) error {
	_, err := c.AcceptBlock(block)
	return err
}

// AcceptBlock is ProcessBlock that also reports whether the block was new.
// When another validator filled a scheduled slot, the validator the
// schedule named is charged a missed block; rejected and repeated blocks
// charge nothing.
func (c *Coordinator) AcceptBlock(block *types.Block) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := block.ID()
	if _, ok := c.seen[id]; ok || c.finality.IsFinalized(id) {
		return false, nil
	}

	producer := block.Producer()
	height := block.Height()
	if !c.registry.Contains(producer) {
		c.metrics.BlockRejected(shared.KindUnknownProducer)
		return false, shared.Errorf(shared.KindUnknownProducer, "block %d produced by unregistered validator %s", height, producer.Short())
	}
	if !c.crypto.Verify(producer, block.SigningBytes(), block.Header.Signature) {
		c.metrics.BlockRejected(shared.KindInvalidSignature)
		return false, shared.Errorf(shared.KindInvalidSignature, "block %d signature does not verify for %s", height, producer.Short())
	}
	if c.detector.CheckDoubleSign(height, producer, id) {
		c.logger.Warn("Double signing detected",
			zap.String("validator", producer.Short()),
			zap.Uint64("height", height),
			zap.String("block", id.String()))
		c.metrics.BlockRejected(shared.KindDoubleSign)
		return false, shared.Errorf(shared.KindDoubleSign, "validator %s already signed another block at height %d", producer.Short(), height)
	}

	perf, ok := c.performance[producer]
	if !ok {
		perf = &validator.Performance{}
		c.performance[producer] = perf
	}
	perf.RecordBlock(c.blockTimeSec(block), height > 0)
	c.detector.RecordProduced(producer, height)
	c.seen[id] = seenBlock{height: height, timestamp: block.Header.Timestamp}
	c.chargeSlotMiss(producer, block.Header.Timestamp)

	c.logger.Debug("Block accepted",
		zap.String("block", id.String()),
		zap.Uint64("height", height),
		zap.String("producer", producer.Short()))
	c.metrics.BlockAccepted(height)

	if proof := c.finality.ProcessBlock(block, c.registry.Len()); proof != nil {
		c.pruneBelow(proof.Height)
	}

	if height%c.config.EpochLength == 0 {
		c.startNewEpoch()
	}
	return true, nil
}

func (c *Coordinator) chargeSlotMiss(producer crypto.PublicKey, timestamp uint64) {
	expected, ok := c.producer.Schedule().ValidatorAt(timestamp)
	if !ok || expected == producer || !c.registry.Contains(expected) {
		return
	}
	c.recordMissed(expected)
}

// blockTimeSec is the whole-second gap to the parent block, or the target
// block time when the parent was never seen.
func (c *Coordinator) blockTimeSec(block *types.Block) uint64 {
	parent, ok := c.seen[block.Header.PrevBlock]
	if !ok {
		return c.config.BlockTimeTargetMs / 1000
	}
	if block.Header.Timestamp <= parent.timestamp {
		return 0
	}
	return (block.Header.Timestamp - parent.timestamp) / 1000
}

// pruneBelow forgets bookkeeping for heights under the finalized height.
// The finalized block itself stays so its child can measure block time.
func (c *Coordinator) pruneBelow(height uint64) {
	for id, b := range c.seen {
		if b.height < height {
			delete(c.seen, id)
		}
	}
	if height > 0 {
		c.detector.Prune(height - 1)
	}
}

// StartNewEpoch advances the epoch and reweights every validator from its
// performance. Callers regenerate the schedule afterwards.
func (c *Coordinator) StartNewEpoch() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startNewEpoch()
}

func (c *Coordinator) startNewEpoch() {
	c.epoch++
	for pub, perf := range c.performance {
		weight := perf.Weight(c.config.BlockTimeTargetMs)
		err := c.registry.Update(pub, func(v *validator.Validator) error {
			v.SetWeight(weight)
			return nil
		})
		if err != nil {
			c.logger.Warn("Performance record without validator", zap.String("validator", pub.Short()))
			continue
		}
		c.metrics.ValidatorWeight(pub, weight)
		perf.ResetEpoch()
	}
	c.producer.ResetMissedBlocks()
	c.detector.ResetEpoch()

	c.logger.Info("Started new epoch",
		zap.Uint64("epoch", c.epoch),
		zap.Int("validators", c.registry.Len()))
	c.metrics.EpochStarted(c.epoch)
}

// RegenerateSchedule replaces the production schedule, seeded with start.
func (c *Coordinator) RegenerateSchedule(start, duration, slotDuration uint64) *selection.Schedule {
	c.mu.Lock()
	defer c.mu.Unlock()

	var schedule *selection.Schedule
	c.registry.View(func(s *validator.Set) {
		schedule = c.producer.GenerateSchedule(s, start, duration, slotDuration)
	})
	c.logger.Debug("Regenerated schedule",
		zap.Uint64("start", start),
		zap.Int("slots", schedule.Len()))
	return schedule
}

// RegenerateScheduleWithSeed replaces the production schedule using an
// explicit seed, for example one derived from the latest finalized block.
func (c *Coordinator) RegenerateScheduleWithSeed(seed, start, duration, slotDuration uint64) *selection.Schedule {
	c.mu.Lock()
	defer c.mu.Unlock()

	var schedule *selection.Schedule
	c.registry.View(func(s *validator.Set) {
		schedule = selection.Generate(s.Validators(), seed, start, start+duration, slotDuration)
	})
	c.producer.SetSchedule(schedule)
	return schedule
}

func (c *Coordinator) Schedule() *selection.Schedule {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.producer.Schedule()
}

// NextBlockProducer returns a copy of the validator expected to produce at
// nowMs, or nil when no validators are registered.
func (c *Coordinator) NextBlockProducer(parent *types.Block, nowMs uint64) *validator.Validator {
	c.mu.Lock()
	defer c.mu.Unlock()

	var next *validator.Validator
	c.registry.View(func(s *validator.Set) {
		if v := c.producer.GetProducer(s, parent, nowMs); v != nil {
			next = v.Clone()
		}
	})
	return next
}

func (c *Coordinator) RecordMissedBlock(pub crypto.PublicKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.recordMissed(pub)
}

func (c *Coordinator) recordMissed(pub crypto.PublicKey) {
	c.producer.RecordMissedBlock(pub)
	c.detector.RecordMissed(pub)
	if perf, ok := c.performance[pub]; ok {
		perf.RecordMissed()
	}
}

func (c *Coordinator) MissedBlocks(pub crypto.PublicKey) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.producer.MissedBlocks(pub)
}

// SetUptime records a validator's uptime percentage, clamped to [0, 100].
func (c *Coordinator) SetUptime(pub crypto.PublicKey, pct float64) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	perf, ok := c.performance[pub]
	if !ok {
		return shared.Errorf(shared.KindUnknownValidator, "validator %s not registered", pub.Short())
	}
	switch {
	case pct < 0:
		pct = 0
	case pct > 100:
		pct = 100
	}
	perf.UptimePercentage = pct
	return nil
}

// VerifyVote checks that the voter is registered and that the vote
// signature verifies. It does not take the coordinator lock, so callers can
// verify many votes concurrently before applying them.
func (c *Coordinator) VerifyVote(vote types.Vote) error {
	if !c.registry.Contains(vote.Validator) {
		return shared.Errorf(shared.KindUnknownValidator, "vote from unregistered validator %s", vote.Validator.Short())
	}
	if !c.crypto.Verify(vote.Validator, vote.SigningBytes(), vote.Signature) {
		return shared.Errorf(shared.KindInvalidSignature, "vote signature from %s does not verify", vote.Validator.Short())
	}
	return nil
}

// AddVote verifies vote and hands it to the finality provider. It returns
// the finality proof when this vote completed the quorum.
func (c *Coordinator) AddVote(vote types.Vote) (*finality.Proof, error) {
	if err := c.VerifyVote(vote); err != nil {
		return nil, err
	}
	return c.AddVerifiedVote(vote), nil
}

// AddVerifiedVote hands an already verified vote to the finality provider.
func (c *Coordinator) AddVerifiedVote(vote types.Vote) *finality.Proof {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.metrics.VoteAccepted()
	proof := c.finality.AddVote(vote.BlockID, vote.Validator, vote.Signature, c.registry.Len())
	if proof != nil {
		c.pruneBelow(proof.Height)
	}
	return proof
}

func (c *Coordinator) IsFinalized(id types.BlockID) bool {
	return c.finality.IsFinalized(id)
}

func (c *Coordinator) FinalityProof(id types.BlockID) (*finality.Proof, bool) {
	return c.finality.Proof(id)
}

func (c *Coordinator) LatestFinalizedHeight() uint64 {
	return c.finality.LatestFinalizedHeight()
}

// RestoreFinality loads persisted proofs into the finality provider.
func (c *Coordinator) RestoreFinality(proofs []*finality.Proof) {
	c.finality.Restore(proofs)
}

func (c *Coordinator) PendingBlocks() int {
	return c.finality.PendingCount()
}

func (c *Coordinator) Epoch() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epoch
}

// Validators returns copies of the registered validators in stored order.
func (c *Coordinator) Validators() []*validator.Validator {
	var out []*validator.Validator
	c.registry.View(func(s *validator.Set) {
		for _, v := range s.Validators() {
			out = append(out, v.Clone())
		}
	})
	return out
}

func (c *Coordinator) Validator(pub crypto.PublicKey) (*validator.Validator, bool) {
	var (
		out *validator.Validator
		ok  bool
	)
	c.registry.View(func(s *validator.Set) {
		var v *validator.Validator
		if v, ok = s.Get(pub); ok {
			out = v.Clone()
		}
	})
	return out, ok
}

// UpdateValidator applies fn to a registered validator, for delegation and
// stake lock changes.
func (c *Coordinator) UpdateValidator(pub crypto.PublicKey, fn func(v *validator.Validator) error) error {
	return c.registry.Update(pub, fn)
}

func (c *Coordinator) ValidatorSnapshot() validator.Snapshot {
	return c.registry.Snapshot()
}

func (c *Coordinator) TotalStake() uint64 {
	return c.registry.TotalStake()
}

func (c *Coordinator) ValidatorCount() int {
	return c.registry.Len()
}

func (c *Coordinator) Performance(pub crypto.PublicKey) (validator.Performance, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	perf, ok := c.performance[pub]
	if !ok {
		return validator.Performance{}, false
	}
	return *perf, true
}

func (c *Coordinator) Behavior(pub crypto.PublicKey) (detection.ValidatorBehavior, bool) {
	return c.detector.Behavior(pub)
}
