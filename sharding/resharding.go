package sharding

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/optimachain/optimachain/shared"
	"github.com/optimachain/optimachain/types"
	"go.uber.org/zap"
)

type ReshardingStrategy int

const (
	ReshardSplit ReshardingStrategy = iota
	ReshardMerge
	ReshardRebalance
	ReshardAdaptive
)

func (s ReshardingStrategy) String() string {
	switch s {
	case ReshardSplit:
		return "split"
	case ReshardMerge:
		return "merge"
	case ReshardRebalance:
		return "rebalance"
	case ReshardAdaptive:
		return "adaptive"
	}
	return fmt.Sprintf("ReshardingStrategy(%d)", int(s))
}

func (s ReshardingStrategy) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *ReshardingStrategy) UnmarshalText(text []byte) error {
	for candidate := ReshardSplit; candidate <= ReshardAdaptive; candidate++ {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown resharding strategy %q", text)
}

// checkArity enforces how many distinct shards each strategy operates on.
func (s ReshardingStrategy) checkArity(shards []types.ShardID) error {
	seen := make(map[types.ShardID]struct{}, len(shards))
	for _, id := range shards {
		if _, dup := seen[id]; dup {
			return shared.Errorf(shared.KindInvalidStrategyArity, "shard %d is listed more than once", id)
		}
		seen[id] = struct{}{}
	}
	n := len(shards)
	switch s {
	case ReshardSplit:
		if n != 1 {
			return shared.Errorf(shared.KindInvalidStrategyArity, "split needs exactly one shard, got %d", n)
		}
	case ReshardMerge:
		if n != 2 {
			return shared.Errorf(shared.KindInvalidStrategyArity, "merge needs exactly two shards, got %d", n)
		}
	default:
		if n < 2 {
			return shared.Errorf(shared.KindInvalidStrategyArity, "%s needs at least two shards, got %d", s, n)
		}
	}
	return nil
}

type ReshardingStatus int

const (
	ReshardingInProgress ReshardingStatus = iota
	ReshardingCompleted
	ReshardingFailed
)

func (s ReshardingStatus) String() string {
	switch s {
	case ReshardingInProgress:
		return "in_progress"
	case ReshardingCompleted:
		return "completed"
	case ReshardingFailed:
		return "failed"
	}
	return fmt.Sprintf("ReshardingStatus(%d)", int(s))
}

func (s ReshardingStatus) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

type EventType int

const (
	EventStarted EventType = iota
	EventCompleted
	EventFailed
	EventAccountMoved
)

func (t EventType) String() string {
	switch t {
	case EventStarted:
		return "started"
	case EventCompleted:
		return "completed"
	case EventFailed:
		return "failed"
	case EventAccountMoved:
		return "account_moved"
	}
	return fmt.Sprintf("EventType(%d)", int(t))
}

func (t EventType) MarshalText() ([]byte, error) {
	return []byte(t.String()), nil
}

// ReshardingEvent is a tagged record; which fields are set depends on Type.
type ReshardingEvent struct {
	Type             EventType          `json:"type"`
	OperationID      string             `json:"operationId"`
	Strategy         ReshardingStrategy `json:"strategy"`
	Shards           []types.ShardID    `json:"shards,omitempty"`
	ResultingShards  []types.ShardID    `json:"resultingShards,omitempty"`
	Timestamp        int64              `json:"timestamp"`
	DurationSeconds  uint64             `json:"durationSeconds,omitempty"`
	Reason           string             `json:"reason,omitempty"`
	AccountID        *types.AccountID   `json:"accountId,omitempty"`
	SourceShard      types.ShardID      `json:"sourceShard,omitempty"`
	DestinationShard types.ShardID      `json:"destinationShard,omitempty"`
}

type ReshardingOperation struct {
	ID            string             `json:"id"`
	Strategy      ReshardingStrategy `json:"strategy"`
	Shards        []types.ShardID    `json:"shards"`
	StartTime     time.Time          `json:"startTime"`
	Status        ReshardingStatus   `json:"status"`
	FailureReason string             `json:"failureReason,omitempty"`
	Events        []ReshardingEvent  `json:"events"`
}

func (op *ReshardingOperation) clone() ReshardingOperation {
	out := *op
	out.Shards = append([]types.ShardID(nil), op.Shards...)
	out.Events = append([]ReshardingEvent(nil), op.Events...)
	return out
}

func (op *ReshardingOperation) involves(id types.ShardID) bool {
	for _, s := range op.Shards {
		if s == id {
			return true
		}
	}
	return false
}

// ReshardingObserver receives every event in emission order.
type ReshardingObserver interface {
	OnReshardingEvent(event ReshardingEvent)
}

// ReshardingManager tracks split, merge and rebalance operations from start
// to completion or failure. A shard takes part in at most one operation in
// progress. The observer is called with the manager lock held and must not
// call back into the manager.
type ReshardingManager struct {
	mu           sync.Mutex
	active       map[string]*ReshardingOperation
	completed    []*ReshardingOperation
	shardConfigs map[types.ShardID]ShardConfig
	observer     ReshardingObserver
	now          func() time.Time
	logger       *zap.Logger
}

func NewReshardingManager(logger *zap.Logger) *ReshardingManager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReshardingManager{
		active:       make(map[string]*ReshardingOperation),
		shardConfigs: make(map[types.ShardID]ShardConfig),
		now:          time.Now,
		logger:       logger,
	}
}

func (m *ReshardingManager) AddShardConfig(id types.ShardID, config ShardConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.shardConfigs[id] = config
}

func (m *ReshardingManager) SetObserver(o ReshardingObserver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.observer = o
}

// StartResharding opens an operation over shards and returns its ID.
func (m *ReshardingManager) StartResharding(strategy ReshardingStrategy, shards []types.ShardID) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, id := range shards {
		if _, ok := m.shardConfigs[id]; !ok {
			return "", shared.Errorf(shared.KindShardNotFound, "shard %d does not exist", id)
		}
	}
	if err := strategy.checkArity(shards); err != nil {
		return "", err
	}
	for _, id := range shards {
		for _, op := range m.active {
			if op.involves(id) {
				return "", shared.Errorf(shared.KindOperationConflict, "shard %d is already being resharded by %s", id, op.ID)
			}
		}
	}

	op := &ReshardingOperation{
		ID:        uuid.New().String(),
		Strategy:  strategy,
		Shards:    append([]types.ShardID(nil), shards...),
		StartTime: m.now(),
		Status:    ReshardingInProgress,
	}
	m.active[op.ID] = op
	m.emit(op, ReshardingEvent{
		Type:     EventStarted,
		Strategy: strategy,
		Shards:   op.Shards,
	})
	m.logger.Info("Resharding started",
		zap.String("operation", op.ID),
		zap.Stringer("strategy", strategy),
		zap.Int("shards", len(shards)))
	return op.ID, nil
}

// CompleteResharding closes an operation successfully.
func (m *ReshardingManager) CompleteResharding(id string, resulting []types.ShardID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	op, err := m.takeActive(id)
	if err != nil {
		return err
	}
	op.Status = ReshardingCompleted
	m.emit(op, ReshardingEvent{
		Type:            EventCompleted,
		Strategy:        op.Strategy,
		Shards:          op.Shards,
		ResultingShards: append([]types.ShardID(nil), resulting...),
		DurationSeconds: uint64(m.now().Sub(op.StartTime) / time.Second),
	})
	m.completed = append(m.completed, op)
	m.logger.Info("Resharding completed", zap.String("operation", id))
	return nil
}

// FailResharding closes an operation with reason.
func (m *ReshardingManager) FailResharding(id string, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	op, err := m.takeActive(id)
	if err != nil {
		return err
	}
	op.Status = ReshardingFailed
	op.FailureReason = reason
	m.emit(op, ReshardingEvent{
		Type:     EventFailed,
		Strategy: op.Strategy,
		Shards:   op.Shards,
		Reason:   reason,
	})
	m.completed = append(m.completed, op)
	m.logger.Warn("Resharding failed", zap.String("operation", id), zap.String("reason", reason))
	return nil
}

// RecordAccountMove logs an account transfer made by an active operation.
func (m *ReshardingManager) RecordAccountMove(id string, account types.AccountID, from, to types.ShardID) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	op, ok := m.active[id]
	if !ok {
		return shared.Errorf(shared.KindOperationNotFound, "operation %s is not active", id)
	}
	m.emit(op, ReshardingEvent{
		Type:             EventAccountMoved,
		Strategy:         op.Strategy,
		AccountID:        &account,
		SourceShard:      from,
		DestinationShard: to,
	})
	return nil
}

func (m *ReshardingManager) takeActive(id string) (*ReshardingOperation, error) {
	op, ok := m.active[id]
	if !ok {
		return nil, shared.Errorf(shared.KindOperationNotFound, "operation %s is not active", id)
	}
	delete(m.active, id)
	return op, nil
}

func (m *ReshardingManager) emit(op *ReshardingOperation, event ReshardingEvent) {
	event.OperationID = op.ID
	event.Timestamp = m.now().Unix()
	op.Events = append(op.Events, event)
	if m.observer != nil {
		m.observer.OnReshardingEvent(event)
	}
}

func (m *ReshardingManager) ActiveOperation(id string) (ReshardingOperation, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	op, ok := m.active[id]
	if !ok {
		return ReshardingOperation{}, false
	}
	return op.clone(), true
}

// ActiveOperations lists the operations in progress ordered by start time.
func (m *ReshardingManager) ActiveOperations() []ReshardingOperation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ReshardingOperation, 0, len(m.active))
	for _, op := range m.active {
		out = append(out, op.clone())
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].StartTime.Equal(out[j].StartTime) {
			return out[i].ID < out[j].ID
		}
		return out[i].StartTime.Before(out[j].StartTime)
	})
	return out
}

// CompletedOperations lists finished operations in the order they ended.
func (m *ReshardingManager) CompletedOperations() []ReshardingOperation {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]ReshardingOperation, len(m.completed))
	for i, op := range m.completed {
		out[i] = op.clone()
	}
	return out
}

// RecommendStrategy suggests Split for a shard over its resharding
// threshold and Merge for one using under a quarter of it on both accounts
// and throughput. It returns false when no change is warranted or the
// shard is unknown.
func (m *ReshardingManager) RecommendStrategy(id types.ShardID, load LoadMetrics) (ReshardingStrategy, bool) {
	m.mu.Lock()
	config, ok := m.shardConfigs[id]
	m.mu.Unlock()
	if !ok {
		return 0, false
	}
	if config.NeedsResharding(load) {
		return ReshardSplit, true
	}
	accountRatio, tpsRatio := config.Ratios(load)
	low := config.ReshardingThreshold / 4
	if accountRatio < low && tpsRatio < low {
		return ReshardMerge, true
	}
	return 0, false
}
