package signer

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/cenkalti/backoff/v4"

	"github.com/stacks-relay/signer-node/common"
	"github.com/stacks-relay/signer-node/log"
)

// StacksClient is the signer's read/write view of a Stacks node: reward
// cycle bookkeeping, stacker-db slot lookups, and aggregate key queries.
// It deliberately exposes only what the run loop and Signer need, not a
// general RPC client.
type StacksClient struct {
	http          *http.Client
	nodeHost      string
	signerAddress string
	mainnet       bool
}

// NewStacksClient builds a client for the node at cfg.NodeHost, deriving
// this signer's STX address from its Stacks private key.
func NewStacksClient(cfg *GlobalConfig) *StacksClient {
	return &StacksClient{
		http:          &http.Client{Timeout: 30 * time.Second},
		nodeHost:      cfg.NodeHost,
		signerAddress: deriveSTXAddress(cfg.StacksPrivateKey, cfg.Network.IsMainnet()),
		mainnet:       cfg.Network.IsMainnet(),
	}
}

// GetSignerAddress returns this signer's STX address, as derived from its
// configured private key.
func (c *StacksClient) GetSignerAddress() string { return c.signerAddress }

func (c *StacksClient) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.nodeHost+path, nil)
	if err != nil {
		return err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("signer: node request %s: unexpected status %d", path, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (c *StacksClient) post(ctx context.Context, path string, in any) error {
	body, err := json.Marshal(in)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.nodeHost+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("signer: node request %s: unexpected status %d", path, resp.StatusCode)
	}
	return nil
}

// GetCurrentRewardCycle returns the reward cycle the node's current burn
// block height falls within.
func (c *StacksClient) GetCurrentRewardCycle(ctx context.Context) (uint64, error) {
	var out struct {
		RewardCycle uint64 `json:"reward_cycle"`
	}
	if err := c.get(ctx, "/v2/pox", &out); err != nil {
		return 0, err
	}
	return out.RewardCycle, nil
}

// RewardSetNotYetCalculated-eligible query: reports whether the reward
// set for rewardCycle has finished computing.
func (c *StacksClient) RewardSetCalculated(ctx context.Context, rewardCycle uint64) (bool, error) {
	var out struct {
		Calculated bool `json:"calculated"`
	}
	if err := c.get(ctx, fmt.Sprintf("/v3/stacker_set/%d", rewardCycle), &out); err != nil {
		return false, err
	}
	return out.Calculated, nil
}

// SignerSlot is one entry of a stacker-db's signer slot assignment.
type SignerSlot struct {
	Address string `json:"signer"`
	SlotID  uint32 `json:"slot_id"`
}

// GetStackerDBSignerSlots returns the slot assignment for contractID's
// stacker-db replica set.
func (c *StacksClient) GetStackerDBSignerSlots(ctx context.Context, contractID string) ([]SignerSlot, error) {
	var out []SignerSlot
	if err := c.get(ctx, fmt.Sprintf("/v2/stacker_db/%s/slots", contractID), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// RegisteredSignersInfo is the reward-set view of which signer IDs and key
// IDs a set of addresses hold for a reward cycle.
type RegisteredSignersInfo struct {
	SignerAddressIDs map[string]uint32   `json:"signer_address_ids"`
	SignerKeyIDs     map[uint32][]uint32 `json:"signer_key_ids"`
	PublicKeys       []string            `json:"public_keys"`
}

// GetRegisteredSignersInfo returns the reward set's signer registration
// info for rewardCycle.
func (c *StacksClient) GetRegisteredSignersInfo(ctx context.Context, rewardCycle uint64) (*RegisteredSignersInfo, error) {
	var out RegisteredSignersInfo
	if err := c.get(ctx, fmt.Sprintf("/v3/signers/%d", rewardCycle), &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AggregatePublicKeyKnown reports whether a DKG round has already produced
// an aggregate public key for rewardCycle.
func (c *StacksClient) AggregatePublicKeyKnown(ctx context.Context, rewardCycle uint64) (bool, error) {
	var out struct {
		AggregatePublicKey string `json:"aggregate_public_key"`
	}
	if err := c.get(ctx, fmt.Sprintf("/v3/aggregate_key/%d", rewardCycle), &out); err != nil {
		return false, err
	}
	return out.AggregatePublicKey != "", nil
}

// CalculateCoordinatorIDs derives the ordered list of signer IDs eligible
// to coordinate a round, from the reward set's public keys. Until real
// rotation (keyed off the latest burn block hash) is wired in, this
// preserves the reward set's natural ordering.
func (c *StacksClient) CalculateCoordinatorIDs(publicKeys []string) []uint32 {
	ids := make([]uint32, len(publicKeys))
	for i := range publicKeys {
		ids[i] = uint32(i)
	}
	return ids
}

// blockRejectionRequest and blockResponseRequest are this client's wire
// shapes for posting this signer's verdict on a proposed block back to the
// node, mirroring the shape handleProposalResponse expects on the way in.
type blockRejectionRequest struct {
	BlockID common.BlockID `json:"block_id"`
	Reason  string         `json:"reason,omitempty"`
}

type blockResponseRequest struct {
	BlockID   common.BlockID `json:"block_id"`
	Accepted  bool           `json:"accepted"`
	Signature []byte         `json:"signature,omitempty"`
}

// BroadcastBlockRejection tells the node this signer's coordinator rejected
// blockID, retrying with exponential backoff until it succeeds or ctx is
// canceled.
func (c *StacksClient) BroadcastBlockRejection(ctx context.Context, blockID common.BlockID, reason string) error {
	return RetryWithExponentialBackoff(ctx, func() error {
		return c.post(ctx, "/v3/block_rejection", blockRejectionRequest{BlockID: blockID, Reason: reason})
	})
}

// BroadcastBlockResponse tells the node the outcome of a completed sign
// round for blockID: accepted (with the aggregate signature) or not,
// retrying with exponential backoff until it succeeds or ctx is canceled.
func (c *StacksClient) BroadcastBlockResponse(ctx context.Context, blockID common.BlockID, accepted bool, signature []byte) error {
	return RetryWithExponentialBackoff(ctx, func() error {
		return c.post(ctx, "/v3/block_response", blockResponseRequest{BlockID: blockID, Accepted: accepted, Signature: signature})
	})
}

// deriveSTXAddress is a placeholder address derivation: real STX address
// encoding (c32check over the RIPEMD160(SHA256(pubkey))) is out of scope
// without a Stacks-specific codec dependency, so this exposes the
// compressed public key hex, which is stable but not network-verifiable.
func deriveSTXAddress(key *btcec.PrivateKey, mainnet bool) string {
	if key == nil {
		return ""
	}
	return fmt.Sprintf("%x", key.PubKey().SerializeCompressed())
}

// RetryWithExponentialBackoff retries op with exponential backoff until it
// succeeds, ctx is canceled, or the backoff policy gives up.
func RetryWithExponentialBackoff(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 5 * time.Minute
	return backoff.Retry(func() error {
		err := op()
		if err != nil {
			log.Debug("signer: retrying after error", "err", err)
		}
		return err
	}, backoff.WithContext(b, ctx))
}
