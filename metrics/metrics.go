package metrics

import (
	"errors"
	"strconv"

	"github.com/optimachain/optimachain/consensus"
	"github.com/optimachain/optimachain/crypto"
	"github.com/optimachain/optimachain/shared"
	"github.com/optimachain/optimachain/sharding"
	"github.com/optimachain/optimachain/types"
	"github.com/prometheus/client_golang/prometheus"
)

const (
	namespace = "optimachain"

	KindLabel      = "kind"
	ValidatorLabel = "validator"
	ShardLabel     = "shard"
	StatusLabel    = "status"
	StrategyLabel  = "strategy"
	EventLabel     = "event"
)

var _ consensus.Recorder = (*Metrics)(nil)

// Metrics holds the node's Prometheus collectors.
type Metrics struct {
	// Consensus
	blocksAccepted  prometheus.Counter
	blocksRejected  *prometheus.CounterVec
	votesAccepted   prometheus.Counter
	finalizedHeight prometheus.Gauge
	epoch           prometheus.Gauge
	validatorCount  prometheus.Gauge
	validatorWeight *prometheus.GaugeVec

	// Sharding
	shardAccounts      *prometheus.GaugeVec
	shardTPS           *prometheus.GaugeVec
	shardCPU           *prometheus.GaugeVec
	crossShardTxs      *prometheus.CounterVec
	reshardingEvents   *prometheus.CounterVec
	reshardingDuration prometheus.Histogram
	accountsMoved      prometheus.Counter
}

// New creates the collectors and registers them with registerer.
func New(registerer prometheus.Registerer) (*Metrics, error) {
	m := &Metrics{
		blocksAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "blocks_accepted_total",
			Help:      "Number of blocks accepted by the coordinator",
		}),
		blocksRejected: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "blocks_rejected_total",
				Help:      "Number of blocks rejected, by failure kind",
			},
			[]string{KindLabel},
		),
		votesAccepted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "votes_accepted_total",
			Help:      "Number of finality votes accepted",
		}),
		finalizedHeight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "finalized_height",
			Help:      "Height of the latest finalized block",
		}),
		epoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "epoch",
			Help:      "Current consensus epoch",
		}),
		validatorCount: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "validators",
			Help:      "Number of registered validators",
		}),
		validatorWeight: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "validator_weight",
				Help:      "Performance weight of each validator, 0 to 100",
			},
			[]string{ValidatorLabel},
		),

		shardAccounts: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "shard_accounts",
				Help:      "Accounts allocated to each shard",
			},
			[]string{ShardLabel},
		),
		shardTPS: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "shard_tps",
				Help:      "Transactions in the latest block of each shard",
			},
			[]string{ShardLabel},
		),
		shardCPU: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "shard_cpu_usage",
				Help:      "Estimated CPU usage of each shard, in percent",
			},
			[]string{ShardLabel},
		),
		crossShardTxs: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "cross_shard_transactions_total",
				Help:      "Cross-shard transactions reaching each status",
			},
			[]string{StatusLabel},
		),
		reshardingEvents: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "resharding_events_total",
				Help:      "Resharding events by strategy and type",
			},
			[]string{StrategyLabel, EventLabel},
		),
		reshardingDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "resharding_duration_seconds",
			Help:      "Duration of completed resharding operations",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 8),
		}),
		accountsMoved: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "accounts_moved_total",
			Help:      "Accounts moved between shards by resharding",
		}),
	}

	err := errors.Join(
		registerer.Register(m.blocksAccepted),
		registerer.Register(m.blocksRejected),
		registerer.Register(m.votesAccepted),
		registerer.Register(m.finalizedHeight),
		registerer.Register(m.epoch),
		registerer.Register(m.validatorCount),
		registerer.Register(m.validatorWeight),

		registerer.Register(m.shardAccounts),
		registerer.Register(m.shardTPS),
		registerer.Register(m.shardCPU),
		registerer.Register(m.crossShardTxs),
		registerer.Register(m.reshardingEvents),
		registerer.Register(m.reshardingDuration),
		registerer.Register(m.accountsMoved),
	)
	return m, err
}

func (m *Metrics) BlockAccepted(uint64) {
	m.blocksAccepted.Inc()
}

func (m *Metrics) BlockRejected(kind shared.Kind) {
	m.blocksRejected.WithLabelValues(kind.String()).Inc()
}

func (m *Metrics) VoteAccepted() {
	m.votesAccepted.Inc()
}

func (m *Metrics) EpochStarted(epoch uint64) {
	m.epoch.Set(float64(epoch))
}

func (m *Metrics) ValidatorWeight(pub crypto.PublicKey, weight uint32) {
	m.validatorWeight.WithLabelValues(pub.String()).Set(float64(weight))
}

func (m *Metrics) ValidatorCount(n int) {
	m.validatorCount.Set(float64(n))
}

// RemoveValidator drops the series of a validator that left the set.
func (m *Metrics) RemoveValidator(pub crypto.PublicKey) {
	m.validatorWeight.DeleteLabelValues(pub.String())
}

func (m *Metrics) Finalized(height uint64) {
	m.finalizedHeight.Set(float64(height))
}

func (m *Metrics) ShardLoad(id types.ShardID, accounts int, load sharding.LoadMetrics) {
	label := shardLabel(id)
	m.shardAccounts.WithLabelValues(label).Set(float64(accounts))
	m.shardTPS.WithLabelValues(label).Set(load.TPS)
	m.shardCPU.WithLabelValues(label).Set(load.CPUUsage)
}

func (m *Metrics) CrossShard(status sharding.CrossShardStatus) {
	m.crossShardTxs.WithLabelValues(status.String()).Inc()
}

func (m *Metrics) Resharding(event sharding.ReshardingEvent) {
	m.reshardingEvents.WithLabelValues(event.Strategy.String(), event.Type.String()).Inc()
	switch event.Type {
	case sharding.EventCompleted:
		m.reshardingDuration.Observe(float64(event.DurationSeconds))
	case sharding.EventAccountMoved:
		m.accountsMoved.Inc()
	}
}

func shardLabel(id types.ShardID) string {
	return strconv.FormatUint(uint64(id), 10)
}
