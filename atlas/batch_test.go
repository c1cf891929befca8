package atlas

import (
	"testing"
	"time"

	"github.com/stacks-relay/signer-node/common"
)

func TestAttachmentsBatchTrackAttachment(t *testing.T) {
	b := NewAttachmentsBatch()
	hash := common.BytesToHash160([]byte{1})

	b.TrackAttachment(AttachmentInstance{
		ContentHash:     hash,
		ContractID:      "SP000.foo",
		AttachmentIndex: 3,
		BlockHeight:     100,
		IndexBlockHash:  common.BytesToBlockID([]byte{9}),
	})

	if b.AttachmentsInstancesCount() != 1 {
		t.Fatalf("expected 1 tracked instance, got %d", b.AttachmentsInstancesCount())
	}
	if b.Instances["SP000.foo"][3] != hash {
		t.Fatal("expected instance to be tracked under its contract and index")
	}
}

func TestAttachmentsBatchTrackAttachmentRejectsMismatch(t *testing.T) {
	b := NewAttachmentsBatch()
	b.TrackAttachment(AttachmentInstance{BlockHeight: 100, IndexBlockHash: common.BytesToBlockID([]byte{1}), ContractID: "a"})
	b.TrackAttachment(AttachmentInstance{BlockHeight: 200, IndexBlockHash: common.BytesToBlockID([]byte{2}), ContractID: "b"})

	if _, ok := b.Instances["b"]; ok {
		t.Fatal("expected mismatched-block instance to be dropped, not tracked")
	}
}

func TestAttachmentsBatchResolveAttachment(t *testing.T) {
	b := NewAttachmentsBatch()
	hash := common.BytesToHash160([]byte{7})
	b.TrackAttachment(AttachmentInstance{ContentHash: hash, ContractID: "c", AttachmentIndex: 0})

	b.ResolveAttachment(hash)

	if !b.HasFullySucceeded() {
		t.Fatal("expected batch to be fully resolved")
	}
}

func TestAttachmentsBatchBumpRetryCount(t *testing.T) {
	b := NewAttachmentsBatch()
	before := time.Now()
	b.BumpRetryCount()

	if b.RetryCount != 1 {
		t.Fatalf("expected retry count 1, got %d", b.RetryCount)
	}
	if !b.RetryDeadline.After(before) {
		t.Fatal("expected retry deadline to be pushed into the future")
	}
}

func TestAttachmentsBatchGetPaginatedMissingPages(t *testing.T) {
	b := NewAttachmentsBatch()
	for i := uint32(0); i < 20; i++ {
		b.TrackAttachment(AttachmentInstance{ContentHash: common.BytesToHash160([]byte{byte(i + 1)}), ContractID: "c", AttachmentIndex: i})
	}

	pages := b.GetPaginatedMissingPagesForContract("c")

	total := 0
	for _, p := range pages {
		if len(p) > MaxAttachmentInvPagesPerRequest {
			t.Fatalf("page batch exceeds max size: %d", len(p))
		}
		total += len(p)
	}
	// 20 attachments across AttachmentsInvPageSize=8 span 3 distinct pages (0,1,2).
	if total != 3 {
		t.Fatalf("expected 3 distinct pages, got %d", total)
	}
}

func TestAttachmentsBatchCompareTo(t *testing.T) {
	now := time.Now()
	earlier := &AttachmentsBatch{RetryDeadline: now}
	later := &AttachmentsBatch{RetryDeadline: now.Add(time.Hour)}

	if earlier.CompareTo(later) >= 0 {
		t.Fatal("expected the earlier deadline to sort first")
	}

	same1 := &AttachmentsBatch{RetryDeadline: now, Instances: map[string]map[uint32]common.Hash160{"a": {0: {}, 1: {}}}}
	same2 := &AttachmentsBatch{RetryDeadline: now, Instances: map[string]map[uint32]common.Hash160{"a": {0: {}}}}
	if same1.CompareTo(same2) >= 0 {
		t.Fatal("expected the batch with more missing instances to sort first on a tied deadline")
	}
}
