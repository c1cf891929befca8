package signer

import (
	"context"
	"errors"
	"time"

	"github.com/stacks-relay/signer-node/log"
)

// RunLoopCommand is an externally issued instruction (from a CLI command
// or a test harness) to kick off a DKG or signing round for a specific
// reward cycle.
type RunLoopCommand struct {
	Command     Command
	RewardCycle uint64
}

// RunLoopState tracks whether the run loop has managed to register at
// least one Signer for the current or next reward cycle.
type RunLoopState int

const (
	RunLoopUninitialized RunLoopState = iota
	RunLoopInitialized
)

// RunLoop drives at most two Signers at a time -- the current and next
// reward cycle's -- dispatching inbound node events and external commands
// to whichever Signer owns the reward cycle in question.
type RunLoop struct {
	Config  *GlobalConfig
	Client  *StacksClient
	Signers map[uint64]*Signer // keyed by reward_cycle % 2
	State   RunLoopState
}

// NewRunLoop constructs a RunLoop from a resolved process configuration.
func NewRunLoop(cfg *GlobalConfig) *RunLoop {
	return &RunLoop{
		Config:  cfg,
		Client:  NewStacksClient(cfg),
		Signers: make(map[uint64]*Signer, 2),
		State:   RunLoopUninitialized,
	}
}

func (r *RunLoop) signersContractID(signerSet uint32) string {
	if r.Config.Network.IsMainnet() {
		return "SP000000000000000000002Q6VF78.signers"
	}
	return "ST000000000000000000002AMW42H.signers"
}

// getSignerConfig looks up whether this process is registered as a signer
// for rewardCycle and, if so, returns its SignerConfig. A nil config with
// a nil error means "not registered, not an error" -- distinct from the
// transient RewardSetNotYetCalculatedError.
func (r *RunLoop) getSignerConfig(ctx context.Context, rewardCycle uint64) (*SignerConfig, error) {
	calculated, err := r.Client.RewardSetCalculated(ctx, rewardCycle)
	if err != nil {
		return nil, err
	}
	if !calculated {
		return nil, &RewardSetNotYetCalculatedError{RewardCycle: rewardCycle}
	}

	currentAddr := r.Client.GetSignerAddress()
	slots, err := r.Client.GetStackerDBSignerSlots(ctx, r.signersContractID(uint32(rewardCycle%2)))
	if err != nil {
		return nil, err
	}

	slotID, found := uint32(0), false
	for _, s := range slots {
		if s.Address == currentAddr {
			slotID = s.SlotID
			found = true
			break
		}
	}
	if !found {
		log.Warn("signer: not found in stacker db, not registered for reward cycle", "address", currentAddr, "reward_cycle", rewardCycle)
		return nil, nil
	}

	registered, err := r.Client.GetRegisteredSignersInfo(ctx, rewardCycle)
	if err != nil {
		return nil, err
	}
	signerID, ok := registered.SignerAddressIDs[currentAddr]
	if !ok {
		log.Warn("signer: found in stacker db but not in reward set", "address", currentAddr, "reward_cycle", rewardCycle)
		return nil, nil
	}
	log.Debug("signer: registered for reward cycle", "signer_id", signerID, "address", currentAddr, "reward_cycle", rewardCycle)

	return &SignerConfig{
		RewardCycle:    rewardCycle,
		SignerID:       signerID,
		SignerSlotID:   slotID,
		KeyIDs:         registered.SignerKeyIDs[signerID],
		CoordinatorIDs: r.Client.CalculateCoordinatorIDs(registered.PublicKeys),
		TxFeeMicroSTX:  r.Config.TxFeeMicroSTX,
		DKGEndTimeout:  r.Config.DKGEndTimeout,
		SignTimeout:    r.Config.SignTimeout,
	}, nil
}

// refreshSignerConfig ensures r.Signers[rewardCycle%2] is up to date for
// rewardCycle, replacing a stale entry (a leftover signer for a different
// reward cycle in the same slot) and leaving a current one untouched.
func (r *RunLoop) refreshSignerConfig(ctx context.Context, rewardCycle uint64) error {
	rewardIndex := rewardCycle % 2
	if s, ok := r.Signers[rewardIndex]; ok && s.RewardCycle == rewardCycle {
		log.Debug("signer: already configured for reward cycle, no update needed", "reward_cycle", rewardCycle)
		return nil
	}

	cfg, err := r.getSignerConfig(ctx, rewardCycle)
	if err != nil {
		return err
	}
	if cfg == nil {
		log.Debug("signer: not registered for reward cycle, nothing to initialize", "reward_cycle", rewardCycle)
		return ErrNotRegistered
	}
	log.Debug("signer: initializing signer state", "signer_id", cfg.SignerID, "reward_cycle", rewardCycle)
	r.Signers[rewardIndex] = NewSigner(*cfg)
	log.Debug("signer: initialized", "signer_id", cfg.SignerID, "reward_cycle", rewardCycle, "total_signers", len(r.Signers))
	return nil
}

// refreshSignersWithRetry re-derives the current and next reward cycle's
// signer configs, retrying the whole pass with exponential backoff while
// the reward set isn't calculated yet, while this signer is registered for
// neither cycle, or when a node query (the current reward cycle, a DKG
// update) fails. Any other error refreshing one cycle's config is logged
// and the pass continues.
func (r *RunLoop) refreshSignersWithRetry(ctx context.Context) error {
	return RetryWithExponentialBackoff(ctx, func() error {
		currentRewardCycle, err := r.Client.GetCurrentRewardCycle(ctx)
		if err != nil {
			return err
		}
		nextRewardCycle := currentRewardCycle + 1

		if err := r.refreshSignerConfig(ctx, currentRewardCycle); err != nil {
			switch {
			case errors.Is(err, ErrNotRegistered):
				log.Debug("signer: not registered for current reward cycle", "reward_cycle", currentRewardCycle)
			case isRewardSetNotYetCalculated(err):
				log.Debug("signer: reward set not yet calculated, retrying", "reward_cycle", currentRewardCycle)
				return err
			default:
				log.Warn("signer: error refreshing current reward cycle's signer config, continuing", "err", err)
			}
		}
		if err := r.refreshSignerConfig(ctx, nextRewardCycle); err != nil {
			switch {
			case errors.Is(err, ErrNotRegistered):
				log.Debug("signer: not registered for next reward cycle", "reward_cycle", nextRewardCycle)
			case isRewardSetNotYetCalculated(err):
				log.Debug("signer: next reward cycle's reward set not yet calculated, retrying", "reward_cycle", nextRewardCycle)
				return err
			default:
				log.Warn("signer: error refreshing next reward cycle's signer config, continuing", "err", err)
			}
		}

		for _, s := range r.Signers {
			if s.CoordinatorSelector.RefreshCoordinator() {
				log.Debug("signer: coordinator changed, resetting to idle", "signer_id", s.SignerID, "reward_cycle", s.RewardCycle)
				s.State = StateIdle
			}
			if err := s.UpdateDKG(ctx, r.Client); err != nil {
				return err
			}
		}

		if len(r.Signers) == 0 {
			log.Info("signer: not registered for current or next reward cycle, waiting for confirmed registration",
				"current_reward_cycle", currentRewardCycle, "next_reward_cycle", nextRewardCycle)
			return ErrNotRegistered
		}
		r.State = RunLoopInitialized
		return nil
	})
}

// cleanupStaleSigners drops any Signer whose tenure has been exceeded,
// freeing its slot in r.Signers for the next reward cycle.
func (r *RunLoop) cleanupStaleSigners() {
	for idx, s := range r.Signers {
		if s.State == StateTenureExceeded {
			log.Debug("signer: deleting stale signer", "signer_id", s.SignerID, "reward_cycle", s.RewardCycle)
			delete(r.Signers, idx)
		}
	}
}

// RunOnePass advances the run loop by one tick: refreshing signer
// registrations, routing an optional external command, delivering an
// optional inbound node event to every active Signer, and letting each
// Signer start its next queued command if idle. It returns any operation
// results that completed this tick.
func (r *RunLoop) RunOnePass(ctx context.Context, event *SignerEvent, cmd *RunLoopCommand) []OperationResult {
	log.Info("signer: running one pass", "state", r.State)

	if err := r.refreshSignersWithRetry(ctx); err != nil {
		if r.State == RunLoopUninitialized {
			log.Error("signer: failed to initialize signers, ignoring this tick's event", "err", err)
			return nil
		}
		log.Error("signer: failed to refresh signers, processing this tick's event anyway", "err", err)
	}

	if cmd != nil {
		if s, ok := r.Signers[cmd.RewardCycle%2]; ok && s.RewardCycle == cmd.RewardCycle {
			log.Info("signer: queuing external runloop command", "signer_id", s.SignerID, "command", cmd.Command)
			s.Commands = append(s.Commands, cmd.Command)
		} else {
			log.Warn("signer: no active signer registered for reward cycle, ignoring command", "reward_cycle", cmd.RewardCycle)
		}
	}

	var results []OperationResult
	for _, s := range r.Signers {
		out, err := s.ProcessEvent(ctx, r.Client, event)
		if err != nil {
			log.Error("signer: errored processing event", "signer_id", s.SignerID, "reward_cycle", s.RewardCycle, "err", err)
		}
		results = append(results, out...)
		if res := s.checkCommandTimeout(time.Now()); res != nil {
			results = append(results, *res)
		}
		s.ProcessNextCommand()
	}
	r.cleanupStaleSigners()
	return results
}

// ErrShuttingDown is returned by Run when its context is canceled, so
// callers can tell a clean shutdown apart from a genuine run loop failure.
var ErrShuttingDown = errors.New("signer: run loop shutting down")

// Run blocks, pulling events from events and external commands from
// commands and feeding them through RunOnePass, until ctx is canceled.
func (r *RunLoop) Run(ctx context.Context, events <-chan SignerEvent, commands <-chan RunLoopCommand) error {
	timeout := r.Config.EventTimeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	for {
		select {
		case <-ctx.Done():
			return ErrShuttingDown
		case ev := <-events:
			r.RunOnePass(ctx, &ev, nil)
		case cmd := <-commands:
			r.RunOnePass(ctx, nil, &cmd)
		case <-time.After(timeout):
			r.RunOnePass(ctx, nil, nil)
		}
	}
}
