package atlas

import "github.com/stacks-relay/signer-node/common"

// AttachmentStore persists attachment content and the on-chain instances
// that reference it, distinguishing "instantiated" (content known) from
// "uninstantiated" (hash known, content still missing) attachments.
type AttachmentStore interface {
	FindAttachment(hash common.Hash160) (Attachment, bool, error)
	FindUninstantiatedAttachment(hash common.Hash160) (Attachment, bool, error)
	InsertInstantiatedAttachment(a Attachment) error
	InsertUninstantiatedAttachmentInstance(inst AttachmentInstance, instantiated bool) error
	FindAllAttachmentInstances(hash common.Hash160) ([]AttachmentInstance, error)
	EvictExpiredUninstantiatedAttachments() error
	EvictExpiredUnresolvedAttachmentInstances() error
}
