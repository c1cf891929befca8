package atlas

import (
	"net"

	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"

	"github.com/stacks-relay/signer-node/common"
)

// BatchStateContext carries everything accumulated while driving one
// AttachmentsBatch through DNS lookup, inventory discovery, and attachment
// retrieval.
type BatchStateContext struct {
	AttachmentsBatch   *AttachmentsBatch
	Peers              map[string]ReliabilityReport
	ConnectionOptions  ConnectionOptions
	DNSLookups         map[string][]net.IP
	Inventories        map[string]map[string]InventoryResponse // request key -> peer -> response
	Attachments        map[common.Hash160]Attachment
	EventsToDeregister []uint64
}

// NewBatchStateContext seeds a context for one batch against a candidate
// peer set.
func NewBatchStateContext(batch *AttachmentsBatch, peers map[string]ReliabilityReport, opts ConnectionOptions) *BatchStateContext {
	return &BatchStateContext{
		AttachmentsBatch:  batch,
		Peers:             peers,
		ConnectionOptions: opts,
		DNSLookups:        make(map[string][]net.IP),
		Inventories:       make(map[string]map[string]InventoryResponse),
		Attachments:       make(map[common.Hash160]Attachment),
	}
}

// PeerURLs lists every candidate peer this context will try, sorted so
// callers (and tests) see a deterministic order.
func (c *BatchStateContext) PeerURLs() []string {
	urls := maps.Keys(c.Peers)
	slices.Sort(urls)
	return urls
}

// PrioritizedInventoryRequests builds one inventory request per
// (contract, page-batch, peer) triple, ordered by peer reliability.
func (c *BatchStateContext) PrioritizedInventoryRequests() *common.Heap[AttachmentsInventoryRequest] {
	queue := common.NewHeap[AttachmentsInventoryRequest]()
	for contractID := range c.AttachmentsBatch.Instances {
		pageBatches := c.AttachmentsBatch.GetPaginatedMissingPagesForContract(contractID)
		for peerURL, report := range c.Peers {
			for _, pages := range pageBatches {
				queue.Push(AttachmentsInventoryRequest{
					Peer:              peerURL,
					ReliabilityReport: report,
					ContractID:        contractID,
					Pages:             pages,
					BlockHeight:       c.AttachmentsBatch.BlockHeight,
					IndexBlockHash:    c.AttachmentsBatch.IndexBlockHash,
				})
			}
		}
	}
	return queue
}

// PrioritizedAttachmentRequests builds one attachment request per
// still-missing content hash, pooling every peer whose inventory response
// claims to have it, ordered by scarcity then reliability.
func (c *BatchStateContext) PrioritizedAttachmentRequests() *common.Heap[AttachmentRequest] {
	queue := common.NewHeap[AttachmentRequest]()
	enqueued := make(map[common.Hash160]bool)

	for key, peerResponses := range c.Inventories {
		contractID, pages := splitInventoryKey(key, c.AttachmentsBatch)
		missing, ok := c.AttachmentsBatch.Instances[contractID]
		if !ok {
			continue
		}
		for attachmentIndex, contentHash := range missing {
			page := attachmentIndex / AttachmentsInvPageSize
			if !containsPage(pages, page) {
				continue
			}
			if enqueued[contentHash] {
				continue
			}
			position := attachmentIndex % AttachmentsInvPageSize

			sources := make(map[string]ReliabilityReport)
			for peerURL, resp := range peerResponses {
				if !inventoryClaims(resp, page, position) {
					continue
				}
				sources[peerURL] = c.Peers[peerURL]
			}
			if len(sources) == 0 {
				continue
			}
			enqueued[contentHash] = true
			queue.Push(AttachmentRequest{ContentHash: contentHash, Sources: sources})
		}
	}
	return queue
}

func inventoryClaims(resp InventoryResponse, page uint32, position uint32) bool {
	for _, p := range resp.Pages {
		if p.Index == page {
			return int(position) < len(p.Inventory) && p.Inventory[position] != 0
		}
	}
	return false
}

func containsPage(pages []uint32, page uint32) bool {
	for _, p := range pages {
		if p == page {
			return true
		}
	}
	return false
}

// splitInventoryKey recovers the contract id and requested pages bundled
// into an AttachmentsInventoryRequest.Key() string.
func splitInventoryKey(key string, batch *AttachmentsBatch) (contractID string, pages []uint32) {
	for id := range batch.Instances {
		for _, pb := range batch.GetPaginatedMissingPagesForContract(id) {
			req := AttachmentsInventoryRequest{ContractID: id, Pages: pb, IndexBlockHash: batch.IndexBlockHash}
			if req.Key() == key {
				return id, pb
			}
		}
	}
	return "", nil
}

// ExtendWithDNSLookups folds DNS resolution results into the context.
func (c *BatchStateContext) ExtendWithDNSLookups(results *DNSLookupResults) {
	for url, addrs := range results.Addrs {
		c.DNSLookups[url] = addrs
	}
}

// ExtendWithInventories folds a completed inventory-request batch into the
// context, bumping each peer's reliability report.
func (c *BatchStateContext) ExtendWithInventories(result *RequestBatchResult[AttachmentsInventoryRequest]) {
	for _, outcome := range result.Succeeded {
		report := c.Peers[outcome.Request.URL()]
		if resp, ok := outcome.Response.(InventoryResponse); ok {
			key := outcome.Request.Key()
			byPeer, ok := c.Inventories[key]
			if !ok {
				byPeer = make(map[string]InventoryResponse)
				c.Inventories[key] = byPeer
			}
			byPeer[outcome.Request.URL()] = resp
			report.BumpSuccessfulRequests()
		} else {
			report.BumpFailedRequests()
		}
		c.Peers[outcome.Request.URL()] = report
	}
	for eventID := range result.FaultyPeers {
		c.EventsToDeregister = append(c.EventsToDeregister, eventID)
	}
}

// ExtendWithAttachments folds a completed attachment-request batch into the
// context, bumping each peer's reliability report.
func (c *BatchStateContext) ExtendWithAttachments(result *RequestBatchResult[AttachmentRequest]) {
	for _, outcome := range result.Succeeded {
		url, _ := outcome.Request.GetMostReliableSource()
		report := c.Peers[url]
		if resp, ok := outcome.Response.(AttachmentResponse); ok {
			c.Attachments[resp.Attachment.Hash()] = resp.Attachment
			report.BumpSuccessfulRequests()
		} else {
			report.BumpFailedRequests()
		}
		c.Peers[url] = report
	}
	for eventID := range result.FaultyPeers {
		c.EventsToDeregister = append(c.EventsToDeregister, eventID)
	}
}
