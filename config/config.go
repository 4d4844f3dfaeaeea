package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/optimachain/optimachain/consensus"
	"github.com/optimachain/optimachain/logging"
	"github.com/optimachain/optimachain/sharding"
	"github.com/optimachain/optimachain/store"
	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"
)

type Config struct {
	Consensus consensus.Config   `mapstructure:"consensus" json:"consensus"`
	Sharding  ShardingConfig     `mapstructure:"sharding" json:"sharding"`
	Storage   store.Config       `mapstructure:"storage" json:"storage"`
	Log       logging.Config     `mapstructure:"log" json:"log"`
	API       APIConfig          `mapstructure:"api" json:"api"`
	Schedule  ScheduleConfig     `mapstructure:"schedule" json:"schedule"`
	Genesis   []GenesisValidator `mapstructure:"genesis" json:"genesis"`
}

type ShardingConfig struct {
	Count    int                  `mapstructure:"count" json:"count"`
	Strategy string               `mapstructure:"strategy" json:"strategy"`
	Limits   sharding.ShardConfig `mapstructure:"limits" json:"limits"`
}

type APIConfig struct {
	Address        string        `mapstructure:"address" json:"address"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout" json:"readTimeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" json:"writeTimeout"`
	AllowedOrigins []string      `mapstructure:"allowed_origins" json:"allowedOrigins"`
}

// ScheduleConfig drives the periodic jobs of a node. Refresh and Rebalance
// are cron specs; durations are in milliseconds.
type ScheduleConfig struct {
	Refresh        string `mapstructure:"refresh" json:"refresh"`
	Rebalance      string `mapstructure:"rebalance" json:"rebalance"`
	DurationMs     uint64 `mapstructure:"duration_ms" json:"durationMs"`
	SlotDurationMs uint64 `mapstructure:"slot_duration_ms" json:"slotDurationMs"`
	// SeedFromBlock seeds each schedule with the latest finalized block
	// hash instead of the schedule start time.
	SeedFromBlock bool `mapstructure:"seed_from_block" json:"seedFromBlock"`
}

// GenesisValidator is a validator registered when a node starts with an
// empty store.
type GenesisValidator struct {
	PublicKey string `mapstructure:"public_key" json:"publicKey"`
	Stake     uint64 `mapstructure:"stake" json:"stake"`
	Name      string `mapstructure:"name" json:"name"`
}

func DefaultConfig() Config {
	return Config{
		Consensus: consensus.DefaultConfig(),
		Sharding: ShardingConfig{
			Count:    DefaultShardCount,
			Strategy: sharding.StrategyHash.String(),
			Limits:   sharding.DefaultShardConfig(),
		},
		Storage: store.DefaultConfig(),
		Log:     logging.Config{Level: "info"},
		API: APIConfig{
			Address:        DefaultAPIAddress,
			ReadTimeout:    10 * time.Second,
			WriteTimeout:   10 * time.Second,
			AllowedOrigins: []string{"*"},
		},
		Schedule: ScheduleConfig{
			Refresh:        DefaultScheduleRefresh,
			Rebalance:      DefaultRebalanceCheck,
			DurationMs:     DefaultScheduleDurationMs,
			SlotDurationMs: DefaultSlotDurationMs,
		},
	}
}

func setDefaults(v *viper.Viper) {
	d := DefaultConfig()

	v.SetDefault("consensus.min_stake", d.Consensus.MinStake)
	v.SetDefault("consensus.max_validators", d.Consensus.MaxValidators)
	v.SetDefault("consensus.block_time_target_ms", d.Consensus.BlockTimeTargetMs)
	v.SetDefault("consensus.epoch_length", d.Consensus.EpochLength)
	v.SetDefault("consensus.block_reward", d.Consensus.BlockReward)
	v.SetDefault("consensus.validator_fee_percentage", d.Consensus.ValidatorFeePercentage)
	v.SetDefault("consensus.finality_threshold", d.Consensus.FinalityThreshold)

	v.SetDefault("sharding.count", d.Sharding.Count)
	v.SetDefault("sharding.strategy", d.Sharding.Strategy)
	v.SetDefault("sharding.limits.max_transactions_per_block", d.Sharding.Limits.MaxTransactionsPerBlock)
	v.SetDefault("sharding.limits.max_block_size", d.Sharding.Limits.MaxBlockSize)
	v.SetDefault("sharding.limits.target_block_time_ms", d.Sharding.Limits.TargetBlockTimeMs)
	v.SetDefault("sharding.limits.max_accounts", d.Sharding.Limits.MaxAccounts)
	v.SetDefault("sharding.limits.resharding_threshold", d.Sharding.Limits.ReshardingThreshold)

	v.SetDefault("storage.path", d.Storage.Path)
	v.SetDefault("storage.in_memory", d.Storage.InMemory)
	v.SetDefault("storage.sync_writes", d.Storage.SyncWrites)
	v.SetDefault("storage.cache_size", d.Storage.CacheSize)

	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.file", d.Log.File)
	v.SetDefault("log.development", d.Log.Development)

	v.SetDefault("api.address", d.API.Address)
	v.SetDefault("api.read_timeout", d.API.ReadTimeout)
	v.SetDefault("api.write_timeout", d.API.WriteTimeout)
	v.SetDefault("api.allowed_origins", d.API.AllowedOrigins)

	v.SetDefault("schedule.refresh", d.Schedule.Refresh)
	v.SetDefault("schedule.rebalance", d.Schedule.Rebalance)
	v.SetDefault("schedule.duration_ms", d.Schedule.DurationMs)
	v.SetDefault("schedule.slot_duration_ms", d.Schedule.SlotDurationMs)
	v.SetDefault("schedule.seed_from_block", d.Schedule.SeedFromBlock)
}

// envFile picks the dotenv file for the ENV environment.
func envFile() string {
	if os.Getenv("ENV") == "production" {
		return ".env.prod"
	}
	return ".env.dev"
}

// Load reads the dotenv file for the current ENV, then the config file at
// path (skipped when empty), then OPTIMA_* overrides such as
// OPTIMA_CONSENSUS_EPOCH_LENGTH. The result is validated.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(envFile()); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("load env file: %w", err)
	}

	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) Validate() error {
	if err := c.Consensus.Validate(); err != nil {
		return fmt.Errorf("consensus: %w", err)
	}
	if c.Sharding.Count <= 0 || c.Sharding.Count > MaxShardCount {
		return fmt.Errorf("sharding.count must be in [1,%d], got %d", MaxShardCount, c.Sharding.Count)
	}
	if _, err := sharding.ParseAllocationStrategy(c.Sharding.Strategy); err != nil {
		return fmt.Errorf("sharding.strategy: %w", err)
	}
	limits := c.Sharding.Limits
	if limits.MaxAccounts <= 0 || limits.MaxTransactionsPerBlock <= 0 || limits.TargetBlockTimeMs == 0 {
		return fmt.Errorf("sharding.limits must be positive")
	}
	if limits.ReshardingThreshold <= 0 || limits.ReshardingThreshold > 1 {
		return fmt.Errorf("sharding.limits.resharding_threshold must be in (0,1], got %v", limits.ReshardingThreshold)
	}
	if !c.Storage.InMemory && c.Storage.Path == "" {
		return fmt.Errorf("storage.path is required unless storage.in_memory is set")
	}
	if c.Schedule.DurationMs == 0 || c.Schedule.SlotDurationMs == 0 {
		return fmt.Errorf("schedule durations must be positive")
	}
	for name, spec := range map[string]string{"refresh": c.Schedule.Refresh, "rebalance": c.Schedule.Rebalance} {
		if _, err := cron.ParseStandard(spec); err != nil {
			return fmt.Errorf("schedule.%s: %w", name, err)
		}
	}
	for i, g := range c.Genesis {
		if g.Stake < c.Consensus.MinStake {
			return fmt.Errorf("genesis[%d]: stake %d below min_stake %d", i, g.Stake, c.Consensus.MinStake)
		}
	}
	return nil
}
