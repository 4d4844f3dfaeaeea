package config

const (
	// Token
	NanoPerOptima      = 1e7
	InitialTotalSupply = 120_000_000

	// Sharding
	DefaultShardCount = 4
	MaxShardCount     = 1024

	// Scheduling, in milliseconds unless noted
	DefaultScheduleDurationMs = 60_000
	DefaultSlotDurationMs     = 1_000
	DefaultScheduleRefresh    = "@every 1m"
	DefaultRebalanceCheck     = "@every 5m"

	DefaultAPIAddress = ":8545"
	EnvPrefix         = "OPTIMA"
)
