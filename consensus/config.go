package consensus

import (
	"fmt"

	"github.com/optimachain/optimachain/consensus/finality"
)

// Config carries the adaptive proof-of-stake parameters.
type Config struct {
	MinStake               uint64  `mapstructure:"min_stake" json:"minStake"`
	MaxValidators          int     `mapstructure:"max_validators" json:"maxValidators"`
	BlockTimeTargetMs      uint64  `mapstructure:"block_time_target_ms" json:"blockTimeTargetMs"`
	EpochLength            uint64  `mapstructure:"epoch_length" json:"epochLength"`
	BlockReward            uint64  `mapstructure:"block_reward" json:"blockReward"`
	ValidatorFeePercentage uint8   `mapstructure:"validator_fee_percentage" json:"validatorFeePercentage"`
	FinalityThreshold      float64 `mapstructure:"finality_threshold" json:"finalityThreshold"`
}

func DefaultConfig() Config {
	return Config{
		MinStake:               1_000_000,
		MaxValidators:          100,
		BlockTimeTargetMs:      1000,
		EpochLength:            10_000,
		BlockReward:            100_000_000,
		ValidatorFeePercentage: 70,
		FinalityThreshold:      finality.DefaultThreshold,
	}
}

func (c Config) Validate() error {
	switch {
	case c.MaxValidators <= 0:
		return fmt.Errorf("max_validators must be positive, got %d", c.MaxValidators)
	case c.EpochLength == 0:
		return fmt.Errorf("epoch_length must be positive")
	case c.BlockTimeTargetMs == 0:
		return fmt.Errorf("block_time_target_ms must be positive")
	case c.FinalityThreshold < finality.MinThreshold || c.FinalityThreshold > finality.MaxThreshold:
		return fmt.Errorf("finality_threshold %.2f outside [%.1f, %.1f]",
			c.FinalityThreshold, finality.MinThreshold, finality.MaxThreshold)
	case c.ValidatorFeePercentage > 100:
		return fmt.Errorf("validator_fee_percentage %d above 100", c.ValidatorFeePercentage)
	}
	return nil
}
