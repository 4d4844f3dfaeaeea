package consensus

import (
	"github.com/optimachain/optimachain/crypto"
	"github.com/optimachain/optimachain/shared"
)

// Recorder receives consensus measurements. The metrics package provides
// the Prometheus implementation.
type Recorder interface {
	BlockAccepted(height uint64)
	BlockRejected(kind shared.Kind)
	VoteAccepted()
	EpochStarted(epoch uint64)
	ValidatorWeight(pub crypto.PublicKey, weight uint32)
	ValidatorCount(n int)
}

type nopRecorder struct{}

func (nopRecorder) BlockAccepted(uint64)                     {}
func (nopRecorder) BlockRejected(shared.Kind)                {}
func (nopRecorder) VoteAccepted()                            {}
func (nopRecorder) EpochStarted(uint64)                      {}
func (nopRecorder) ValidatorWeight(crypto.PublicKey, uint32) {}
func (nopRecorder) ValidatorCount(int)                       {}
