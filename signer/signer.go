package signer

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/stacks-relay/signer-node/common"
	"github.com/stacks-relay/signer-node/log"
)

// Command is an operation this signer can be asked to perform, either by
// the run loop noticing a missing aggregate key or by an external caller
// (a CLI command, a test harness).
type Command int

const (
	CommandDKG Command = iota
	CommandSign
)

func (c Command) String() string {
	switch c {
	case CommandDKG:
		return "dkg"
	case CommandSign:
		return "sign"
	default:
		return "unknown"
	}
}

// State is where a single reward cycle's signer instance sits in its DKG
// or signing round.
type State int

const (
	StateUninitialized State = iota
	StateIdle
	StateDKG
	StateSign
	StateTenureExceeded
)

func (s State) String() string {
	switch s {
	case StateUninitialized:
		return "uninitialized"
	case StateIdle:
		return "idle"
	case StateDKG:
		return "dkg"
	case StateSign:
		return "sign"
	case StateTenureExceeded:
		return "tenure_exceeded"
	default:
		return "unknown"
	}
}

// OperationResult reports the outcome of a completed DKG or signing round,
// surfaced back up through the run loop to whoever issued the command.
type OperationResult struct {
	SignerID    uint32
	RewardCycle uint64
	Command     Command
	Ok          bool
	Err         string
}

// Signer drives one reward cycle's worth of DKG/sign state. A RunLoop
// holds at most two of these at a time, keyed by reward_cycle % 2.
type Signer struct {
	RewardCycle         uint64
	SignerID            uint32
	SignerSlotID        uint32
	KeyIDs              []uint32
	State               State
	Commands            []Command
	CoordinatorSelector *CoordinatorSelector
	Blocks              *BlockCache

	// commandDeadline is when the in-flight DKG/Sign round must produce a
	// result by; past it, checkCommandTimeout resets State to Idle rather
	// than leave the signer stuck forever waiting on a round that will
	// never complete.
	commandDeadline time.Time

	config SignerConfig
}

// SignerConfig is everything needed to construct a Signer for one reward
// cycle: its identity within the reward set plus the shared process
// config.
type SignerConfig struct {
	RewardCycle    uint64
	SignerID       uint32
	SignerSlotID   uint32
	KeyIDs         []uint32
	CoordinatorIDs []uint32
	TxFeeMicroSTX  uint64
	DKGEndTimeout  time.Duration
	SignTimeout    time.Duration
}

// NewSigner constructs an idle Signer for cfg's reward cycle.
func NewSigner(cfg SignerConfig) *Signer {
	blocks, err := NewBlockCache(256)
	if err != nil {
		// 256 is always a valid positive size; NewBlockCache only fails
		// on a non-positive one.
		panic(err)
	}
	return &Signer{
		RewardCycle:         cfg.RewardCycle,
		SignerID:            cfg.SignerID,
		SignerSlotID:        cfg.SignerSlotID,
		KeyIDs:              cfg.KeyIDs,
		State:               StateIdle,
		CoordinatorSelector: NewCoordinatorSelector(cfg.CoordinatorIDs),
		Blocks:              blocks,
		config:              cfg,
	}
}

// UpdateDKG queues a DKG round if this reward cycle has no aggregate
// public key yet, this signer is the elected coordinator, and a DKG round
// isn't already queued or running.
func (s *Signer) UpdateDKG(ctx context.Context, client *StacksClient) error {
	hasKey, err := client.AggregatePublicKeyKnown(ctx, s.RewardCycle)
	if err != nil {
		return err
	}
	if hasKey {
		return nil
	}
	if s.CoordinatorSelector.Current() != s.SignerID {
		return nil
	}
	if s.State == StateDKG {
		return nil
	}
	for _, c := range s.Commands {
		if c == CommandDKG {
			return nil
		}
	}
	log.Info("signer: no aggregate key known, queuing dkg round", "signer_id", s.SignerID, "reward_cycle", s.RewardCycle)
	s.Commands = append([]Command{CommandDKG}, s.Commands...)
	return nil
}

// ProcessEvent reacts to one inbound event from the node. A nil event is a
// no-op tick. client is used to broadcast this signer's decisions back to
// the node when it is acting as coordinator; it may be nil in contexts
// (tests, a not-yet-registered signer) where no broadcast can happen.
func (s *Signer) ProcessEvent(ctx context.Context, client *StacksClient, event *SignerEvent) ([]OperationResult, error) {
	if event == nil {
		return nil, nil
	}
	switch event.Kind {
	case EventBlockProposal:
		log.Debug("signer: processing block proposal", "signer_id", s.SignerID, "correlation_id", event.CorrelationID)
		s.processBlockProposal(ctx, client, event.BlockProposal)
		return nil, nil
	case EventStackerDB:
		log.Debug("signer: processing stackerdb event", "signer_id", s.SignerID, "correlation_id", event.CorrelationID)
		return s.processStackerDBEvent(event.StackerDB)
	case EventUnrecognizedStackerDBContract:
		log.Warn("signer: node sent a chunk event for an unsubscribed contract", "signer_id", s.SignerID,
			"contract_id", event.UnrecognizedContractID, "correlation_id", event.CorrelationID)
		return nil, nil
	case EventUnrecognized:
		log.Warn("signer: node called an endpoint this event receiver doesn't recognize", "signer_id", s.SignerID,
			"path", event.UnrecognizedPath, "correlation_id", event.CorrelationID)
		return nil, nil
	default:
		return nil, fmt.Errorf("signer: unrecognized event kind %d", event.Kind)
	}
}

// processBlockProposal validates a proposed block, casts this signer's
// immutable vote for it, and -- if this signer is the round's elected
// coordinator -- starts a sign round on acceptance or broadcasts a
// rejection to the node.
func (s *Signer) processBlockProposal(ctx context.Context, client *StacksClient, resp *BlockValidateResponse) {
	if resp == nil {
		return
	}
	block := resp.Block
	if block == nil {
		block = &Block{BlockID: resp.BlockID}
	}

	info, ok := s.Blocks.Get(resp.BlockID)
	if !ok {
		info = NewBlockInfo(resp.BlockID)
		s.Blocks.Put(resp.BlockID, info)
	}
	info.Block = block
	info.ExpectedTransactions = resp.ExpectedTransactions

	valid := s.validateBlock(resp.Valid, block, resp.ExpectedTransactions)
	info.Valid = valid

	_, fresh := voteForBlock(info, block, valid)
	if !fresh {
		log.Debug("signer: block already has an immutable vote, ignoring re-proposal", "block_id", resp.BlockID.Hex())
		return
	}

	if s.CoordinatorSelector.Current() != s.SignerID {
		return
	}
	if valid {
		log.Info("signer: coordinator starting sign round for validated block proposal",
			"signer_id", s.SignerID, "reward_cycle", s.RewardCycle, "block_id", resp.BlockID.Hex())
		s.Commands = append(s.Commands, CommandSign)
		return
	}

	log.Info("signer: coordinator broadcasting rejection for invalid block proposal",
		"signer_id", s.SignerID, "reward_cycle", s.RewardCycle, "block_id", resp.BlockID.Hex(), "reason", resp.Reason)
	if client == nil {
		log.Warn("signer: no stacks client available, dropping block rejection broadcast", "signer_id", s.SignerID, "block_id", resp.BlockID.Hex())
		return
	}
	if err := client.BroadcastBlockRejection(ctx, resp.BlockID, resp.Reason); err != nil {
		log.Error("signer: failed to broadcast block rejection", "err", err, "block_id", resp.BlockID.Hex())
	}
}

// validateBlock implements the anti-inclusion check: a block is accepted
// iff the node itself reported it valid and none of the expected
// transactions actually appears in it.
func (s *Signer) validateBlock(nodeValid bool, block *Block, expected []common.TxID) bool {
	return nodeValid && !containsAnyTxID(block.Transactions, expected)
}

// processStackerDBEvent inspects each chunk for the two WSTS coordinator
// request kinds this signer can act on without a full WSTS wire decoder --
// nonce requests and signature-share requests -- rewriting their message
// in place per HandleNonceRequest / ValidateSignatureShareRequest. Every
// other chunk (DKG commitments, key shares, aggregate proofs) has no
// decoder here and is observed and dropped.
func (s *Signer) processStackerDBEvent(event *StackerDBChunksEvent) ([]OperationResult, error) {
	if event == nil {
		return nil, nil
	}
	log.Debug("signer: received stackerdb chunks", "signer_id", s.SignerID, "contract_id", event.ContractID, "chunks", len(event.Chunks))
	for i := range event.Chunks {
		s.handleStackerDBChunk(&event.Chunks[i])
	}
	return nil, nil
}

func (s *Signer) handleStackerDBChunk(chunk *StackerDBChunk) {
	var env stackerDBEnvelope
	if err := json.Unmarshal(chunk.Data, &env); err != nil {
		log.Debug("signer: stackerdb chunk is not a recognized envelope, dropping", "signer_id", s.SignerID, "slot_id", chunk.SlotID)
		return
	}

	switch env.Kind {
	case stackerDBMessageNonceRequest:
		req := &NonceRequest{Message: env.Message}
		if err := s.HandleNonceRequest(req); err != nil {
			log.Warn("signer: failed to handle nonce request", "signer_id", s.SignerID, "err", err)
			return
		}
		env.Message = req.Message
	case stackerDBMessageSignatureShareRequest:
		req := &SignatureShareRequest{BlockID: env.BlockID, Message: env.Message}
		s.ValidateSignatureShareRequest(req)
		env.Message = req.Message
	default:
		return
	}

	rewritten, err := json.Marshal(env)
	if err != nil {
		log.Warn("signer: failed to re-encode rewritten stackerdb chunk", "signer_id", s.SignerID, "err", err)
		return
	}
	chunk.Data = rewritten
}

// ProcessNextCommand pops and begins the next queued command, if this
// signer is currently idle, arming its completion deadline.
func (s *Signer) ProcessNextCommand() {
	if s.State != StateIdle || len(s.Commands) == 0 {
		return
	}
	cmd := s.Commands[0]
	s.Commands = s.Commands[1:]
	switch cmd {
	case CommandDKG:
		log.Info("signer: starting dkg round", "signer_id", s.SignerID, "reward_cycle", s.RewardCycle)
		s.State = StateDKG
		s.commandDeadline = time.Now().Add(s.operationTimeout(cmd))
	case CommandSign:
		log.Info("signer: starting sign round", "signer_id", s.SignerID, "reward_cycle", s.RewardCycle)
		s.State = StateSign
		s.commandDeadline = time.Now().Add(s.operationTimeout(cmd))
	}
}

func (s *Signer) operationTimeout(cmd Command) time.Duration {
	var d time.Duration
	if cmd == CommandDKG {
		d = s.config.DKGEndTimeout
	} else {
		d = s.config.SignTimeout
	}
	if d <= 0 {
		d = 30 * time.Second
	}
	return d
}

// checkCommandTimeout resets this signer to Idle and returns a failed
// OperationResult if its current DKG/Sign round has run past its
// configured deadline without a result -- the backstop that keeps a signer
// from staying in StateDKG/StateSign forever when no round result arrives.
func (s *Signer) checkCommandTimeout(now time.Time) *OperationResult {
	if s.State != StateDKG && s.State != StateSign {
		return nil
	}
	if s.commandDeadline.IsZero() || now.Before(s.commandDeadline) {
		return nil
	}
	cmd := CommandDKG
	if s.State == StateSign {
		cmd = CommandSign
	}
	log.Warn("signer: operation timed out waiting for a result, resetting to idle",
		"signer_id", s.SignerID, "reward_cycle", s.RewardCycle, "command", cmd)
	s.State = StateIdle
	s.commandDeadline = time.Time{}
	return &OperationResult{SignerID: s.SignerID, RewardCycle: s.RewardCycle, Command: cmd, Ok: false, Err: "timed out waiting for an operation result"}
}

// CompleteOperation finishes this signer's currently in-flight DKG or Sign
// round: for a Sign result, it accepts the block iff this signer's cached
// vote for blockID is an approval, broadcasts the corresponding
// BlockResponse (carrying signature) through client, and always resets
// State back to Idle. The signature bytes are not verified against any
// key. Calling it while not running cmd is a no-op returning nil.
func (s *Signer) CompleteOperation(ctx context.Context, client *StacksClient, cmd Command, blockID common.BlockID, signature []byte) *OperationResult {
	if (cmd == CommandDKG && s.State != StateDKG) || (cmd == CommandSign && s.State != StateSign) {
		return nil
	}

	result := OperationResult{SignerID: s.SignerID, RewardCycle: s.RewardCycle, Command: cmd, Ok: true}
	if cmd == CommandSign {
		accepted := false
		if info, ok := s.Blocks.Get(blockID); ok {
			accepted, _ = info.Approved()
		}
		result.Ok = accepted
		if !accepted {
			result.Err = "signed result does not match this signer's cached vote for the block"
		}
		if client != nil {
			if err := client.BroadcastBlockResponse(ctx, blockID, accepted, signature); err != nil {
				log.Error("signer: failed to broadcast block response", "err", err, "block_id", blockID.Hex())
			}
		}
	}

	s.State = StateIdle
	s.commandDeadline = time.Time{}
	return &result
}
