// Package atlas implements the Atlas attachment downloader: a
// priority-scheduled, multi-peer fetch engine for off-chain content whose
// hashes are committed on-chain by smart contracts. It walks each batch of
// attachments through DNS resolution, inventory discovery, and attachment
// retrieval, tracking peer reliability and retrying failed batches with
// exponential backoff.
package atlas

import "time"

// Protocol constants mirroring the page size and pagination limits the
// network-side inventory responses are built around.
const (
	AttachmentsInvPageSize          = 8
	MaxAttachmentInvPagesPerRequest = 8
	MaxRetryDelay                   = 3600 * time.Second

	// DefaultPeerRequestsPerSecond bounds how fast a single Transport talks
	// to any one peer, so a burst of newly-queued batches can't hammer a
	// slow or rate-limiting peer.
	DefaultPeerRequestsPerSecond = 5.0
	DefaultPeerRequestBurst      = 10
)

// ConnectionOptions bounds how aggressively the downloader talks to peers.
type ConnectionOptions struct {
	MaxInflightAttachments  int
	MaxAttachmentRetryCount uint64
	DNSTimeout              time.Duration
}

// DefaultConnectionOptions returns conservative defaults suitable for a
// single-peer testnet node.
func DefaultConnectionOptions() ConnectionOptions {
	return ConnectionOptions{
		MaxInflightAttachments:  6,
		MaxAttachmentRetryCount: 5,
		DNSTimeout:              15 * time.Second,
	}
}
