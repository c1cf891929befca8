package atlas

import (
	"math/rand"
	"time"

	"golang.org/x/exp/slices"

	"github.com/stacks-relay/signer-node/common"
	"github.com/stacks-relay/signer-node/log"
)

// AttachmentsBatch groups every AttachmentInstance committed by the same
// block that the downloader has not yet resolved content for.
type AttachmentsBatch struct {
	BlockHeight    uint64
	IndexBlockHash common.BlockID
	// Instances maps a contract id to its missing attachment indexes and
	// the content hash each index expects.
	Instances    map[string]map[uint32]common.Hash160
	RetryCount   uint64
	RetryDeadline time.Time
}

// NewAttachmentsBatch returns an empty batch, ready to track instances.
func NewAttachmentsBatch() *AttachmentsBatch {
	return &AttachmentsBatch{Instances: make(map[string]map[uint32]common.Hash160)}
}

// TrackAttachment folds a newly-seen commitment into the batch. All
// instances tracked by one batch must share the same block; a mismatched
// instance is logged and dropped.
func (b *AttachmentsBatch) TrackAttachment(inst AttachmentInstance) {
	if b.AttachmentsInstancesCount() == 0 && len(b.Instances) == 0 {
		b.BlockHeight = inst.BlockHeight
		b.IndexBlockHash = inst.IndexBlockHash
	} else if b.BlockHeight != inst.BlockHeight || b.IndexBlockHash != inst.IndexBlockHash {
		log.Warn("atlas: attempt to add unrelated attachment instance to batch",
			"attachment_index", inst.AttachmentIndex, "index_block_hash", inst.IndexBlockHash.Hex())
		return
	}

	missing, ok := b.Instances[inst.ContractID]
	if !ok {
		missing = make(map[uint32]common.Hash160)
		b.Instances[inst.ContractID] = missing
	}
	missing[inst.AttachmentIndex] = inst.ContentHash
}

// BumpRetryCount increments the retry counter and pushes RetryDeadline out
// by an exponentially-growing, jittered delay capped at MaxRetryDelay:
// delay = min(MaxRetryDelay, 2^retryCount + rand()%2^(retryCount-1)).
func (b *AttachmentsBatch) BumpRetryCount() {
	b.RetryCount++

	base := uint64(1) << uint(b.RetryCount)
	jitterSpan := uint64(1) << uint(b.RetryCount-1)
	delay := base + uint64(rand.Int63())%jitterSpan
	if d := time.Duration(delay) * time.Second; d < MaxRetryDelay {
		log.Debug("atlas: re-attempt download", "delay_seconds", delay)
		b.RetryDeadline = time.Now().Add(d)
	} else {
		log.Debug("atlas: re-attempt download", "delay_seconds", MaxRetryDelay/time.Second)
		b.RetryDeadline = time.Now().Add(MaxRetryDelay)
	}
}

// HasFullySucceeded reports whether every instance in this batch has been
// resolved.
func (b *AttachmentsBatch) HasFullySucceeded() bool {
	return b.AttachmentsInstancesCount() == 0
}

// AttachmentsInstancesCount is the number of still-missing instances across
// every contract tracked by this batch.
func (b *AttachmentsBatch) AttachmentsInstancesCount() int {
	count := 0
	for _, missing := range b.Instances {
		count += len(missing)
	}
	return count
}

// GetMissingPagesForContract returns the inventory page indexes that still
// have at least one unresolved instance for contractID.
func (b *AttachmentsBatch) GetMissingPagesForContract(contractID string) []uint32 {
	missing, ok := b.Instances[contractID]
	if !ok {
		return nil
	}
	seen := make(map[uint32]bool)
	var pages []uint32
	for idx := range missing {
		page := idx / AttachmentsInvPageSize
		if !seen[page] {
			seen[page] = true
			pages = append(pages, page)
		}
	}
	return pages
}

// GetPaginatedMissingPagesForContract chunks GetMissingPagesForContract into
// groups no larger than MaxAttachmentInvPagesPerRequest, sorted ascending.
func (b *AttachmentsBatch) GetPaginatedMissingPagesForContract(contractID string) [][]uint32 {
	pages := b.GetMissingPagesForContract(contractID)
	slices.Sort(pages)

	var paginated [][]uint32
	for len(pages) > 0 {
		n := MaxAttachmentInvPagesPerRequest
		if n > len(pages) {
			n = len(pages)
		}
		paginated = append(paginated, pages[:n])
		pages = pages[n:]
	}
	return paginated
}

// ResolveAttachment marks every instance expecting contentHash as resolved,
// removing it from every contract's missing set.
func (b *AttachmentsBatch) ResolveAttachment(contentHash common.Hash160) {
	for _, missing := range b.Instances {
		for idx, hash := range missing {
			if hash == contentHash {
				delete(missing, idx)
			}
		}
	}
}

// CompareTo orders batches ascending: the earliest RetryDeadline first,
// then (for equal deadlines) the batch with the most missing instances,
// then the lowest block height. Earlier-deadline batches are popped first
// from the downloader's priority queue.
func (b *AttachmentsBatch) CompareTo(other *AttachmentsBatch) int {
	if !b.RetryDeadline.Equal(other.RetryDeadline) {
		if b.RetryDeadline.Before(other.RetryDeadline) {
			return -1
		}
		return 1
	}
	bc, oc := b.AttachmentsInstancesCount(), other.AttachmentsInstancesCount()
	if bc != oc {
		if bc > oc {
			return -1
		}
		return 1
	}
	if b.BlockHeight != other.BlockHeight {
		if b.BlockHeight < other.BlockHeight {
			return -1
		}
		return 1
	}
	return 0
}
