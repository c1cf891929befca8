package atlas

type batchPhase int

const (
	phaseInitialized batchPhase = iota
	phaseDNSLookup
	phaseDownloadingInventories
	phaseDownloadingAttachments
	phaseBatchDone
)

// BatchStateMachine drives one AttachmentsBatch through the full download
// pipeline: resolve peer DNS, discover which peers claim to have which
// attachments, then fetch the attachments themselves.
type BatchStateMachine struct {
	phase   batchPhase
	ctx     *BatchStateContext
	dns     *dnsLookupState
	invs    *RequestBatchState[AttachmentsInventoryRequest]
	content *RequestBatchState[AttachmentRequest]
}

// NewBatchStateMachine starts a fresh pipeline for ctx.
func NewBatchStateMachine(ctx *BatchStateContext) *BatchStateMachine {
	return &BatchStateMachine{phase: phaseInitialized, ctx: ctx}
}

// Done reports whether the batch has been fully processed (every
// resolvable attachment fetched, or exhausted for this pass).
func (m *BatchStateMachine) Done() bool {
	return m.phase == phaseBatchDone
}

// Context returns the accumulated state once Done.
func (m *BatchStateMachine) Context() *BatchStateContext {
	return m.ctx
}

// TryProceed advances the pipeline by one tick.
func (m *BatchStateMachine) TryProceed(dns DNSResolver, transport Transport) {
	switch m.phase {
	case phaseInitialized:
		m.dns = newDNSLookupState(m.ctx.PeerURLs())
		m.phase = phaseDNSLookup

	case phaseDNSLookup:
		m.dns.TryProceed(dns, m.ctx.ConnectionOptions.DNSTimeout)
		if !m.dns.Done() {
			return
		}
		m.ctx.ExtendWithDNSLookups(m.dns.Result())
		m.invs = NewRequestBatchState[AttachmentsInventoryRequest](m.ctx.PrioritizedInventoryRequests())
		m.phase = phaseDownloadingInventories

	case phaseDownloadingInventories:
		m.invs.TryProceed(transport, m.ctx.ConnectionOptions.MaxInflightAttachments)
		if !m.invs.Done() {
			return
		}
		m.ctx.ExtendWithInventories(m.invs.Result())
		m.content = NewRequestBatchState[AttachmentRequest](m.ctx.PrioritizedAttachmentRequests())
		m.phase = phaseDownloadingAttachments

	case phaseDownloadingAttachments:
		m.content.TryProceed(transport, m.ctx.ConnectionOptions.MaxInflightAttachments)
		if !m.content.Done() {
			return
		}
		m.ctx.ExtendWithAttachments(m.content.Result())
		m.phase = phaseBatchDone

	case phaseBatchDone:
	}
}
