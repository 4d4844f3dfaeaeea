package finality

import (
	"math"
	"sort"
	"sync"

	"github.com/optimachain/optimachain/crypto"
	"github.com/optimachain/optimachain/types"
	"go.uber.org/zap"
)

const (
	DefaultThreshold = 0.67
	MinThreshold     = 0.5
	MaxThreshold     = 1.0
)

// Observer is told about every proof right after it is created.
type Observer interface {
	OnFinalized(proof *Proof)
}

type pendingBlock struct {
	block *types.Block
	votes map[crypto.PublicKey]crypto.Signature
}

// Provider aggregates votes per block and finalizes a block once the
// number of distinct voters reaches ceil(total * threshold). Finality is
// never retracted and pending blocks have no timeout; they leave the
// pending set by finalizing or by being pruned under a higher finalized
// height.
type Provider struct {
	mu                    sync.RWMutex
	finalized             map[types.BlockID]*Proof
	pending               map[types.BlockID]*pendingBlock
	latestFinalizedHeight uint64
	threshold             float64
	observer              Observer
	logger                *zap.Logger
}

func NewProvider(logger *zap.Logger) *Provider {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		finalized: make(map[types.BlockID]*Proof),
		pending:   make(map[types.BlockID]*pendingBlock),
		threshold: DefaultThreshold,
		logger:    logger,
	}
}

// SetThreshold stores t clamped to [0.5, 1.0].
func (p *Provider) SetThreshold(t float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.threshold = math.Min(MaxThreshold, math.Max(MinThreshold, t))
}

func (p *Provider) Threshold() float64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.threshold
}

// ThresholdCount is the number of distinct votes needed out of total.
func (p *Provider) ThresholdCount(total int) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return thresholdCount(total, p.threshold)
}

func thresholdCount(total int, threshold float64) int {
	return int(math.Ceil(float64(total) * threshold))
}

func (p *Provider) SetObserver(o Observer) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observer = o
}

// ProcessBlock registers block as pending with its producer's vote and
// checks quorum. Finalized blocks are ignored. It returns the proof when
// this call finalized the block.
func (p *Provider) ProcessBlock(block *types.Block, totalValidators int) *Proof {
	id := block.ID()

	p.mu.Lock()
	if _, done := p.finalized[id]; done {
		p.mu.Unlock()
		return nil
	}
	entry, ok := p.pending[id]
	if !ok {
		entry = &pendingBlock{block: block, votes: make(map[crypto.PublicKey]crypto.Signature)}
		p.pending[id] = entry
	}
	if _, voted := entry.votes[block.Header.Validator]; !voted {
		entry.votes[block.Header.Validator] = block.Header.Signature
	}
	proof, observer := p.checkFinality(id, totalValidators)
	p.mu.Unlock()

	p.notify(observer, proof)
	return proof
}

// AddVote records validator's vote for a pending block and re-checks
// quorum. Votes for unknown or finalized blocks and repeated votes change
// nothing.
func (p *Provider) AddVote(blockID types.BlockID, pub crypto.PublicKey, sig crypto.Signature, totalValidators int) *Proof {
	p.mu.Lock()
	entry, ok := p.pending[blockID]
	if !ok {
		p.mu.Unlock()
		return nil
	}
	if _, voted := entry.votes[pub]; !voted {
		entry.votes[pub] = sig
	}
	proof, observer := p.checkFinality(blockID, totalValidators)
	p.mu.Unlock()

	p.notify(observer, proof)
	return proof
}

// checkFinality must be called with p.mu held.
func (p *Provider) checkFinality(id types.BlockID, totalValidators int) (*Proof, Observer) {
	entry, ok := p.pending[id]
	if !ok {
		return nil, nil
	}
	needed := thresholdCount(totalValidators, p.threshold)
	if len(entry.votes) < needed {
		return nil, nil
	}

	height := entry.block.Header.Height
	proof := NewProof(id, height)
	voters := make([]crypto.PublicKey, 0, len(entry.votes))
	for pub := range entry.votes {
		voters = append(voters, pub)
	}
	sort.Slice(voters, func(i, j int) bool { return voters[i].Compare(voters[j]) < 0 })
	for _, pub := range voters {
		proof.AddSignature(pub, entry.votes[pub])
	}

	p.finalized[id] = proof
	if height > p.latestFinalizedHeight {
		p.latestFinalizedHeight = height
	}
	delete(p.pending, id)
	pruned := p.prunePending()

	p.logger.Info("Block finalized",
		zap.String("block", id.String()),
		zap.Uint64("height", height),
		zap.Int("votes", len(voters)),
		zap.Int("needed", needed),
		zap.Int("pruned", pruned))
	return proof, p.observer
}

// prunePending drops every pending block at or below the latest finalized
// height, whatever its ID.
func (p *Provider) prunePending() int {
	pruned := 0
	for id, entry := range p.pending {
		if entry.block.Header.Height <= p.latestFinalizedHeight {
			delete(p.pending, id)
			pruned++
		}
	}
	return pruned
}

func (p *Provider) notify(o Observer, proof *Proof) {
	if o != nil && proof != nil {
		o.OnFinalized(proof)
	}
}

func (p *Provider) IsFinalized(id types.BlockID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.finalized[id]
	return ok
}

func (p *Provider) Proof(id types.BlockID) (*Proof, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	proof, ok := p.finalized[id]
	return proof, ok
}

func (p *Provider) IsPending(id types.BlockID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.pending[id]
	return ok
}

// VoteCount is the number of distinct votes held for a pending block.
func (p *Provider) VoteCount(id types.BlockID) int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if entry, ok := p.pending[id]; ok {
		return len(entry.votes)
	}
	return 0
}

func (p *Provider) PendingCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.pending)
}

func (p *Provider) FinalizedCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.finalized)
}

func (p *Provider) LatestFinalizedHeight() uint64 {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.latestFinalizedHeight
}

// Restore loads previously persisted proofs, for example after a restart.
func (p *Provider) Restore(proofs []*Proof) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, proof := range proofs {
		p.finalized[proof.BlockID] = proof
		if proof.Height > p.latestFinalizedHeight {
			p.latestFinalizedHeight = proof.Height
		}
	}
	p.prunePending()
}
