package signer

import (
	"errors"
	"fmt"
)

// ErrNotRegistered means the node has no record of this signer for the
// reward cycle in question -- a benign, expected condition before
// registration confirms.
var ErrNotRegistered = errors.New("signer: not registered for this reward cycle")

// RewardSetNotYetCalculatedError means the reward cycle's prepare phase
// hasn't finished long enough to compute a reward set yet. It's a
// transient condition the caller should retry, not a hard failure.
type RewardSetNotYetCalculatedError struct {
	RewardCycle uint64
}

func (e *RewardSetNotYetCalculatedError) Error() string {
	return fmt.Sprintf("signer: reward set for cycle %d not yet calculated", e.RewardCycle)
}

func isRewardSetNotYetCalculated(err error) bool {
	var target *RewardSetNotYetCalculatedError
	return errors.As(err, &target)
}
