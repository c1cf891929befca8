package atlas

import "errors"

var (
	// ErrNoPeers is returned by Run when no outbound peer has a usable data
	// URL to sync attachments against.
	ErrNoPeers = errors.New("atlas: no peer available to sync attachments with")
	// ErrNotFound is returned by an AttachmentStore lookup that found
	// nothing, distinct from a storage-layer failure.
	ErrNotFound = errors.New("atlas: attachment not found")
)
