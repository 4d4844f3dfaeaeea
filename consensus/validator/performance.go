package validator

import "math"

// Score weights
const (
	ProductionWeight = 0.4
	BlockTimeWeight  = 0.3
	UptimeWeight     = 0.3
)

// Performance is the rolling record used to reweight a validator at each
// epoch boundary. Block counts reset every epoch, averages carry over.
type Performance struct {
	BlocksProduced   uint64  `json:"blocksProduced"`
	BlocksMissed     uint64  `json:"blocksMissed"`
	AvgBlockTimeMs   uint64  `json:"avgBlockTimeMs"`
	UptimePercentage float64 `json:"uptimePercentage"`
}

// RecordBlock counts a produced block and folds blockTimeSec into the
// average as (avg + blockTimeSec*1000) / 2.
func (p *Performance) RecordBlock(blockTimeSec uint64, smooth bool) {
	p.BlocksProduced++
	if smooth {
		p.AvgBlockTimeMs = (p.AvgBlockTimeMs + blockTimeSec*1000) / 2
	}
}

func (p *Performance) RecordMissed() {
	p.BlocksMissed++
}

// ProductionRate is produced/(produced+missed), zero without samples.
func (p *Performance) ProductionRate() float64 {
	total := p.BlocksProduced + p.BlocksMissed
	if total == 0 {
		return 0
	}
	return float64(p.BlocksProduced) / float64(total)
}

// Score combines production rate, block time and uptime into [0, 1].
func (p *Performance) Score(targetBlockTimeMs uint64) float64 {
	blockTimeScore := 0.0
	if p.AvgBlockTimeMs > 0 {
		blockTimeScore = math.Min(1, float64(targetBlockTimeMs)/float64(p.AvgBlockTimeMs))
	}
	uptimeScore := p.UptimePercentage / 100
	return p.ProductionRate()*ProductionWeight + blockTimeScore*BlockTimeWeight + uptimeScore*UptimeWeight
}

// Weight maps a score to a selection weight in [0, MaxWeight].
func (p *Performance) Weight(targetBlockTimeMs uint64) uint32 {
	scaled := p.Score(targetBlockTimeMs) * 100
	if scaled < 0 || math.IsNaN(scaled) {
		scaled = 0
	}
	if scaled > float64(MaxWeight) {
		scaled = float64(MaxWeight)
	}
	return uint32(scaled)
}

func (p *Performance) ResetEpoch() {
	p.BlocksProduced = 0
	p.BlocksMissed = 0
}
