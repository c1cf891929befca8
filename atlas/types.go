package atlas

import (
	"crypto/sha256"

	"github.com/stacks-relay/signer-node/common"
	"golang.org/x/crypto/ripemd160"
)

// Attachment is the off-chain content a smart contract committed to by
// hash. Content is kept in memory; long-term storage is the caller's
// responsibility (see AttachmentStore).
type Attachment struct {
	Content []byte
}

// Hash returns the Hash160 (RIPEMD160(SHA256(content))) that on-chain
// contracts reference this attachment by.
func (a Attachment) Hash() common.Hash160 {
	sum := sha256.Sum256(a.Content)
	r := ripemd160.New()
	r.Write(sum[:])
	return common.BytesToHash160(r.Sum(nil))
}

// IsEmpty reports whether this is the well-known empty attachment, used to
// undo a previously-committed on-chain binding.
func (a Attachment) IsEmpty() bool {
	return len(a.Content) == 0
}

// AttachmentInstance is an on-chain commitment: a smart contract at
// ContractID recorded, at AttachmentIndex within its own numbering, that the
// attachment with ContentHash belongs to the block identified by
// IndexBlockHash.
type AttachmentInstance struct {
	ContentHash     common.Hash160
	ContractID      string
	AttachmentIndex uint32
	BlockHeight     uint64
	IndexBlockHash  common.BlockID
}

// Requestable is anything the downloader can schedule an HTTP(-ish) request
// for against a specific peer URL.
type Requestable interface {
	URL() string
}

// ResolvedAttachment pairs a previously-missing on-chain commitment with the
// attachment content that satisfies it.
type ResolvedAttachment struct {
	Instance   AttachmentInstance
	Attachment Attachment
}
