package atlas

import (
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/stacks-relay/signer-node/common"
	"github.com/stacks-relay/signer-node/log"
)

// Downloader schedules and drives AttachmentsBatch downloads. Run is meant
// to be called repeatedly from the node's main event loop: each call
// advances whatever batch is currently in flight by one tick and, when that
// batch finishes, either starts the next ready one or returns immediately.
type Downloader struct {
	queue              *common.Heap[*AttachmentsBatch]
	initialBatch       mapset.Set[AttachmentInstance]
	ongoing            *BatchStateMachine
	reliabilityReports map[string]ReliabilityReport
}

// NewDownloader seeds a downloader with the attachment instances already
// known to be missing at startup. Duplicate instances collapse to one
// entry, same as the source's HashSet<AttachmentInstance> seed set.
func NewDownloader(initialBatch []AttachmentInstance) *Downloader {
	seed := mapset.NewSet[AttachmentInstance]()
	for _, inst := range initialBatch {
		seed.Add(inst)
	}
	return &Downloader{
		queue:              common.NewHeap[*AttachmentsBatch](),
		initialBatch:       seed,
		reliabilityReports: make(map[string]ReliabilityReport),
	}
}

// HasReadyBatches reports whether any queued batch's retry deadline has
// already passed.
func (d *Downloader) HasReadyBatches() bool {
	return d.queue.Len() > 0 && !d.queue.Peek().RetryDeadline.After(time.Now())
}

// PopNextReadyBatch removes and returns the highest-priority batch if it is
// ready, because batches are ordered so a ready batch is always at the
// head. Returns nil if nothing is ready.
func (d *Downloader) PopNextReadyBatch() *AttachmentsBatch {
	if !d.HasReadyBatches() {
		return nil
	}
	return d.queue.Pop()
}

// EnqueueNewAttachments folds freshly-observed on-chain commitments into
// the store and priority queue. Attachments whose content the store already
// has (instantiated or merely inboxed) resolve immediately instead of
// entering the queue; the empty hash is treated as an explicit "no
// attachment" binding.
func (d *Downloader) EnqueueNewAttachments(instances mapset.Set[AttachmentInstance], store AttachmentStore, initialBatch bool) ([]ResolvedAttachment, error) {
	if instances == nil || instances.Cardinality() == 0 {
		return nil, nil
	}

	batches := make(map[common.BlockID]*AttachmentsBatch)
	var resolved []ResolvedAttachment

	for inst := range instances.Iter() {
		if inst.ContentHash.IsZero() {
			if err := store.InsertUninstantiatedAttachmentInstance(inst, true); err != nil {
				return resolved, err
			}
			log.Debug("atlas: inserting and pairing new attachment instance with empty hash")
			resolved = append(resolved, ResolvedAttachment{Instance: inst, Attachment: Attachment{}})
			continue
		}

		if a, ok, err := store.FindAttachment(inst.ContentHash); err != nil {
			return resolved, err
		} else if ok {
			if err := store.InsertUninstantiatedAttachmentInstance(inst, true); err != nil {
				return resolved, err
			}
			log.Debug("atlas: inserting and pairing new attachment instance to existing attachment")
			resolved = append(resolved, ResolvedAttachment{Instance: inst, Attachment: a})
			continue
		}

		if a, ok, err := store.FindUninstantiatedAttachment(inst.ContentHash); err != nil {
			return resolved, err
		} else if ok {
			if err := store.InsertInstantiatedAttachment(a); err != nil {
				return resolved, err
			}
			if err := store.InsertUninstantiatedAttachmentInstance(inst, true); err != nil {
				return resolved, err
			}
			log.Debug("atlas: inserting and pairing new attachment instance to inboxed attachment, now validated")
			resolved = append(resolved, ResolvedAttachment{Instance: inst, Attachment: a})
			continue
		}

		batch, ok := batches[inst.IndexBlockHash]
		if !ok {
			batch = NewAttachmentsBatch()
			batches[inst.IndexBlockHash] = batch
		}
		batch.TrackAttachment(inst)

		if !initialBatch {
			if err := store.InsertUninstantiatedAttachmentInstance(inst, false); err != nil {
				return resolved, err
			}
		}
	}

	for _, batch := range batches {
		d.queue.Push(batch)
	}
	return resolved, nil
}

// Network abstracts the subset of peer-discovery the downloader needs from
// the node's networking layer.
type Network interface {
	OutboundPeers() []string
	DataURL(peer string) (string, bool)
}

// Run advances the in-flight batch (or starts the next ready one) by one
// tick. It returns every attachment resolved this tick and the transport
// event ids the caller should stop tracking.
func (d *Downloader) Run(dns DNSResolver, transport Transport, network Network, store AttachmentStore, opts ConnectionOptions) ([]ResolvedAttachment, []uint64, error) {
	var resolved []ResolvedAttachment
	var deregister []uint64

	if d.initialBatch != nil && d.initialBatch.Cardinality() > 0 {
		batch := d.initialBatch
		d.initialBatch = nil
		r, err := d.EnqueueNewAttachments(batch, store, true)
		if err != nil {
			return resolved, deregister, err
		}
		resolved = append(resolved, r...)
	}

	if d.ongoing == nil {
		if d.queue.Len() == 0 || !d.HasReadyBatches() {
			return resolved, deregister, nil
		}

		peers := make(map[string]ReliabilityReport)
		for _, peer := range network.OutboundPeers() {
			url, ok := network.DataURL(peer)
			if !ok {
				continue
			}
			report, ok := d.reliabilityReports[url]
			if !ok {
				report = ReliabilityReport{}
			}
			peers[url] = report
		}
		if len(peers) == 0 {
			log.Warn("atlas: could not find a peer to sync with")
			return resolved, deregister, ErrNoPeers
		}

		batch := d.PopNextReadyBatch()
		if batch == nil {
			return resolved, deregister, nil
		}

		ctx := NewBatchStateContext(batch, peers, opts)
		d.ongoing = NewBatchStateMachine(ctx)
	}

	d.ongoing.TryProceed(dns, transport)
	if !d.ongoing.Done() {
		return resolved, deregister, nil
	}

	ctx := d.ongoing.Context()
	d.ongoing = nil

	for hash, attachment := range ctx.Attachments {
		instances, err := store.FindAllAttachmentInstances(hash)
		if err != nil {
			return resolved, deregister, err
		}
		if err := store.InsertInstantiatedAttachment(attachment); err != nil {
			return resolved, deregister, err
		}
		for _, inst := range instances {
			resolved = append(resolved, ResolvedAttachment{Instance: inst, Attachment: attachment})
		}
		ctx.AttachmentsBatch.ResolveAttachment(hash)
	}

	deregister = append(deregister, ctx.EventsToDeregister...)

	if err := store.EvictExpiredUninstantiatedAttachments(); err != nil {
		return resolved, deregister, err
	}
	if err := store.EvictExpiredUnresolvedAttachmentInstances(); err != nil {
		return resolved, deregister, err
	}

	for peerURL, report := range ctx.Peers {
		d.reliabilityReports[peerURL] = report
	}

	if !ctx.AttachmentsBatch.HasFullySucceeded() {
		ctx.AttachmentsBatch.BumpRetryCount()
		if ctx.AttachmentsBatch.RetryCount < opts.MaxAttachmentRetryCount {
			log.Info("atlas: re-enqueuing batch for retry", "index_block_hash", ctx.AttachmentsBatch.IndexBlockHash.Hex())
			d.queue.Push(ctx.AttachmentsBatch)
		} else {
			log.Info("atlas: dropping batch, retries exceeded", "index_block_hash", ctx.AttachmentsBatch.IndexBlockHash.Hex())
		}
	}

	return resolved, deregister, nil
}
