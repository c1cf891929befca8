package atlas

import (
	"fmt"
	"sort"
	"strings"

	"github.com/stacks-relay/signer-node/common"
)

// InventoryPage is one page of a peer's attachment inventory bitmap for a
// given contract, as reported by a GetAttachmentsInv response.
type InventoryPage struct {
	Index     uint32
	Inventory []byte // inventory[i] != 0 means the peer claims attachment i
}

// InventoryResponse is the payload of a successful attachment-inventory
// request.
type InventoryResponse struct {
	Pages []InventoryPage
}

// AttachmentResponse is the payload of a successful attachment-content
// request.
type AttachmentResponse struct {
	Attachment Attachment
}

// AttachmentsInventoryRequest asks one peer which attachment pages it has
// for one contract, within one block's batch.
type AttachmentsInventoryRequest struct {
	Peer              string
	ContractID        string
	Pages             []uint32
	BlockHeight       uint64
	IndexBlockHash    common.BlockID
	ReliabilityReport ReliabilityReport
}

func (r AttachmentsInventoryRequest) URL() string { return r.Peer }

// Key identifies the (contract, pages, block) this request is asking about,
// independent of which peer it was sent to -- used to fold multiple peers'
// responses to the "same question" together.
func (r AttachmentsInventoryRequest) Key() string {
	parts := make([]string, len(r.Pages))
	for i, p := range r.Pages {
		parts[i] = fmt.Sprintf("%d", p)
	}
	return fmt.Sprintf("%s|%s|%s", r.ContractID, strings.Join(parts, ","), r.IndexBlockHash.Hex())
}

// CompareTo ranks requests by how reliable the peer they'd be sent to has
// been; the most reliable peer is asked first.
func (r AttachmentsInventoryRequest) CompareTo(other AttachmentsInventoryRequest) int {
	return -r.ReliabilityReport.CompareTo(other.ReliabilityReport)
}

func (r AttachmentsInventoryRequest) String() string {
	return fmt.Sprintf("<Request<AttachmentsInventory>: peer=%s>", r.Peer)
}

// AttachmentRequest asks for one attachment's content from whichever
// candidate peer (Sources) is currently most reliable.
type AttachmentRequest struct {
	ContentHash common.Hash160
	Sources     map[string]ReliabilityReport
}

// GetMostReliableSource returns the peer URL with the highest Score among
// Sources. Panics if Sources is empty, mirroring the invariant that a
// request is never constructed without at least one candidate source.
func (r AttachmentRequest) GetMostReliableSource() (string, ReliabilityReport) {
	if len(r.Sources) == 0 {
		panic("atlas: attachment request has no candidate sources")
	}
	urls := make([]string, 0, len(r.Sources))
	for u := range r.Sources {
		urls = append(urls, u)
	}
	sort.Strings(urls)

	best := urls[0]
	for _, u := range urls[1:] {
		if r.Sources[u].Score() > r.Sources[best].Score() {
			best = u
		}
	}
	return best, r.Sources[best]
}

func (r AttachmentRequest) URL() string {
	url, _ := r.GetMostReliableSource()
	return url
}

// CompareTo prioritizes scarcer attachments (fewer candidate sources) first,
// then ties break on the reliability of the best available source.
func (r AttachmentRequest) CompareTo(other AttachmentRequest) int {
	ls, lo := len(r.Sources), len(other.Sources)
	if ls != lo {
		if ls < lo {
			return -1
		}
		return 1
	}
	_, rep := r.GetMostReliableSource()
	_, orep := other.GetMostReliableSource()
	return -rep.CompareTo(orep)
}

func (r AttachmentRequest) String() string {
	return fmt.Sprintf("<Request<Attachment>: hash=%s>", r.ContentHash.Hex())
}
