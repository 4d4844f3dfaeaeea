package validator

import (
	"sync"

	"github.com/optimachain/optimachain/crypto"
	"github.com/optimachain/optimachain/shared"
	"go.uber.org/zap"
)

// Registry holds the active validator set and enforces admission: a minimum
// stake and a capacity limit with lowest-stake eviction.
type Registry struct {
	mu            sync.RWMutex
	set           *Set
	minStake      uint64
	maxValidators int
	logger        *zap.Logger
}

func NewRegistry(minStake uint64, maxValidators int, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		set:           NewSet(),
		minStake:      minStake,
		maxValidators: maxValidators,
		logger:        logger,
	}
}

// Add admits v. When the set is full the lowest-stake member is evicted,
// but only if v's stake strictly exceeds it; the evicted validator is
// returned. A key that is already registered is left untouched.
func (r *Registry) Add(v *Validator) (*Validator, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v.Stake.Amount < r.minStake {
		return nil, shared.Errorf(shared.KindStakeTooLow, "stake %d below minimum %d", v.Stake.Amount, r.minStake)
	}
	if r.set.Contains(v.PublicKey) {
		return nil, nil
	}

	var evicted *Validator
	if r.set.Len() >= r.maxValidators {
		lowest, ok := r.set.LowestStake()
		if ok {
			if lowest.Stake.Amount >= v.Stake.Amount {
				return nil, shared.Errorf(shared.KindValidatorSetFull,
					"set holds %d validators and lowest stake %d is not below %d", r.set.Len(), lowest.Stake.Amount, v.Stake.Amount)
			}
			evicted = r.set.Remove(lowest.PublicKey)
			r.logger.Info("Evicted lowest stake validator",
				zap.String("validator", lowest.PublicKey.Short()),
				zap.Uint64("stake", lowest.Stake.Amount))
		}
	}

	r.set.Add(v)
	r.logger.Debug("Validator registered",
		zap.String("validator", v.PublicKey.Short()),
		zap.Uint64("stake", v.Stake.Amount))
	return evicted, nil
}

// Remove deregisters pub. Unknown keys are ignored.
func (r *Registry) Remove(pub crypto.PublicKey) *Validator {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.set.Remove(pub)
}

func (r *Registry) Get(pub crypto.PublicKey) (*Validator, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.set.Get(pub)
}

func (r *Registry) Contains(pub crypto.PublicKey) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.set.Contains(pub)
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.set.Len()
}

func (r *Registry) TotalStake() uint64 {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.set.TotalStake()
}

// Update runs fn with exclusive access to the validator, for weight and
// delegation changes.
func (r *Registry) Update(pub crypto.PublicKey, fn func(v *Validator) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	v, ok := r.set.Get(pub)
	if !ok {
		return shared.Errorf(shared.KindUnknownValidator, "validator %s not registered", pub.Short())
	}
	return fn(v)
}

// View runs fn with shared access to the underlying set.
func (r *Registry) View(fn func(s *Set)) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn(r.set)
}

func (r *Registry) Snapshot() Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.set.Snapshot()
}

// Restore replaces the set with a persisted snapshot.
func (r *Registry) Restore(s *Set) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.set = s
}
