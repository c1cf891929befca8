package signer

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/stacks-relay/signer-node/common"
	"github.com/stacks-relay/signer-node/log"
)

// voteRejectSuffix is appended to a block's signature hash to build the
// vote message cast against an invalid block (0x6e, 'n').
const voteRejectSuffix = byte('n')

// Block is the signer's decoded view of a candidate block: enough to
// compute the message signers vote on and to run the anti-inclusion check
// against an expected-transactions list.
type Block struct {
	BlockID      common.BlockID `json:"block_id"`
	Transactions []common.TxID  `json:"transactions,omitempty"`
}

// SignatureHash is the message a signer votes on for this block.
func (b *Block) SignatureHash() []byte {
	sum := sha256.Sum256(b.BlockID.Bytes())
	return sum[:]
}

// decodeBlock parses a wire message as a candidate block. Every other
// payload this signer accepts (HTTP event bodies, stacker-db envelopes) is
// JSON, so nonce-request messages are decoded the same way.
func decodeBlock(message []byte) (*Block, error) {
	var b Block
	if err := json.Unmarshal(message, &b); err != nil {
		return nil, err
	}
	return &b, nil
}

// containsAnyTxID reports whether any txid in expected also appears in
// blockTxs: the anti-inclusion check validateBlock runs. Per spec, a block
// is rejected as soon as any required txid actually shows up in it.
func containsAnyTxID(blockTxs, expected []common.TxID) bool {
	if len(expected) == 0 {
		return false
	}
	present := make(map[common.TxID]bool, len(blockTxs))
	for _, tx := range blockTxs {
		present[tx] = true
	}
	for _, tx := range expected {
		if present[tx] {
			return true
		}
	}
	return false
}

// voteForBlock casts this signer's vote for block if none has been cast
// yet (the bare signature hash if valid, the hash with voteRejectSuffix
// appended otherwise), then returns whatever vote is now in force for it
// -- freshly cast, or an earlier immutable one -- along with whether this
// call was the one that cast it.
func voteForBlock(info *BlockInfo, block *Block, valid bool) (vote []byte, fresh bool) {
	hash := block.SignatureHash()
	candidate := hash
	if !valid {
		candidate = append(append([]byte{}, hash...), voteRejectSuffix)
	}
	fresh = info.CastVote(candidate)
	final, _ := info.Vote()
	return final, fresh
}

// NonceRequest is the coordinator's request for this signer's nonce
// contribution to a sign round. Message starts out holding the candidate
// block to vote on and, after HandleNonceRequest runs, holds the vote.
type NonceRequest struct {
	Message []byte
}

// HandleNonceRequest implements signer-side nonce-request processing:
// decode the request's message as a candidate block, compute its
// signature hash, cache the block, and run validateBlock against this
// signer's cached expected-transactions list for it. The vote (cast or
// reused, per BlockInfo's immutability) is written back into the
// request's message in place.
func (s *Signer) HandleNonceRequest(req *NonceRequest) error {
	block, err := decodeBlock(req.Message)
	if err != nil {
		return fmt.Errorf("signer: decoding nonce request message as block: %w", err)
	}

	info, ok := s.Blocks.Get(block.BlockID)
	if !ok {
		info = NewBlockInfo(block.BlockID)
		s.Blocks.Put(block.BlockID, info)
	}
	info.Block = block

	valid := s.validateBlock(info.Valid, block, info.ExpectedTransactions)
	info.Valid = valid

	vote, _ := voteForBlock(info, block, valid)
	req.Message = vote
	return nil
}

// SignatureShareRequest is the coordinator's request for this signer's
// signature share once nonces have been exchanged for blockID.
type SignatureShareRequest struct {
	BlockID common.BlockID
	Message []byte
}

// ValidateSignatureShareRequest implements signer-side signature-share
// validation: if this signer already has an immutable vote cached for the
// request's block, the incoming message is overwritten with that vote;
// otherwise the request is accepted unchanged.
func (s *Signer) ValidateSignatureShareRequest(req *SignatureShareRequest) {
	info, ok := s.Blocks.Get(req.BlockID)
	if !ok {
		log.Debug("signer: no cached block for signature share request, accepting message unchanged",
			"signer_id", s.SignerID, "block_id", req.BlockID.Hex())
		return
	}
	vote, voted := info.Vote()
	if !voted {
		log.Debug("signer: no vote cast yet for signature share request's block, accepting message unchanged",
			"signer_id", s.SignerID, "block_id", req.BlockID.Hex())
		return
	}
	req.Message = vote
}

// stackerDBEnvelope is this signer's wire shape for the two WSTS
// coordinator request kinds it can act on without a full WSTS decoder:
// nonce requests and signature-share requests. Any other kind is observed
// and dropped (see processStackerDBEvent).
type stackerDBEnvelope struct {
	Kind    string         `json:"kind"`
	BlockID common.BlockID `json:"block_id,omitempty"`
	Message []byte         `json:"message"`
}

const (
	stackerDBMessageNonceRequest          = "nonce_request"
	stackerDBMessageSignatureShareRequest = "signature_share_request"
)
