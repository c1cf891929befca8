package signer

import (
	lru "github.com/hashicorp/golang-lru"

	"github.com/stacks-relay/signer-node/common"
)

// BlockInfo tracks this signer's view of one proposed block: the decoded
// block itself (once seen), the expected-transactions list its
// anti-inclusion check runs against, its validity verdict as validateBlock
// last computed it (the node's verdict combined with that check),
// and the vote message cast for it. A vote, once cast, is immutable: a
// block proposal or nonce request that's re-sent (e.g. after a network
// retry) must not flip an earlier vote.
type BlockInfo struct {
	BlockID              common.BlockID
	Block                *Block
	ExpectedTransactions []common.TxID
	Valid                bool
	vote                 []byte
}

// NewBlockInfo returns a BlockInfo for id with no vote cast yet.
func NewBlockInfo(id common.BlockID) *BlockInfo {
	return &BlockInfo{BlockID: id}
}

// CastVote records vote as this signer's vote message for the block,
// unless a vote has already been cast, in which case it is a no-op and
// CastVote returns false.
func (b *BlockInfo) CastVote(vote []byte) bool {
	if b.vote != nil {
		return false
	}
	b.vote = vote
	return true
}

// Vote returns the cast vote bytes and whether a vote has been cast at all.
func (b *BlockInfo) Vote() (vote []byte, voted bool) {
	if b.vote == nil {
		return nil, false
	}
	return b.vote, true
}

// Approved reports whether the cast vote, if any, approves the block: a
// bare signature hash approves it, a signature hash with the reject
// suffix appended (see voteForBlock) rejects it.
func (b *BlockInfo) Approved() (approve bool, voted bool) {
	vote, voted := b.Vote()
	if !voted {
		return false, false
	}
	rejected := len(vote) > 0 && vote[len(vote)-1] == voteRejectSuffix
	return !rejected, true
}

// BlockCache bounds the number of in-flight block proposals a signer
// tracks votes for, evicting the least recently used entries first.
type BlockCache struct {
	cache *lru.Cache
}

// NewBlockCache returns a BlockCache holding at most size entries.
func NewBlockCache(size int) (*BlockCache, error) {
	c, err := lru.New(size)
	if err != nil {
		return nil, err
	}
	return &BlockCache{cache: c}, nil
}

func (c *BlockCache) Get(id common.BlockID) (*BlockInfo, bool) {
	v, ok := c.cache.Get(id)
	if !ok {
		return nil, false
	}
	return v.(*BlockInfo), true
}

func (c *BlockCache) Put(id common.BlockID, info *BlockInfo) {
	c.cache.Add(id, info)
}
