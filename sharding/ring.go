package sharding

import (
	"strconv"

	"github.com/optimachain/optimachain/types"
	"stathat.com/c/consistent"
)

// hashRing places shards on a consistent hash ring so adding or removing a
// shard only moves the accounts adjacent to it.
type hashRing struct {
	*consistent.Consistent
}

func newHashRing() *hashRing {
	return &hashRing{consistent.New()}
}

func (r *hashRing) AddShard(id types.ShardID) {
	r.Add(strconv.FormatUint(uint64(id), 10))
}

func (r *hashRing) RemoveShard(id types.ShardID) {
	r.Remove(strconv.FormatUint(uint64(id), 10))
}

func (r *hashRing) ShardFor(account types.AccountID) (types.ShardID, bool) {
	member, err := r.Get(account.String())
	if err != nil {
		return 0, false
	}
	id, err := strconv.ParseUint(member, 10, 32)
	if err != nil {
		return 0, false
	}
	return types.ShardID(id), true
}
