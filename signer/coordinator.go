package signer

// CoordinatorSelector elects which signer ID coordinates a reward cycle's
// DKG and signing rounds. Only one signer drives a round to completion;
// the rest act as participants.
type CoordinatorSelector struct {
	coordinatorIDs []uint32
	current        uint32
}

// NewCoordinatorSelector elects an initial coordinator from coordinatorIDs.
func NewCoordinatorSelector(coordinatorIDs []uint32) *CoordinatorSelector {
	cs := &CoordinatorSelector{coordinatorIDs: coordinatorIDs}
	cs.current = cs.elect()
	return cs
}

// elect picks the coordinator for the current round. Real rotation keys
// this off the latest burn block hash; until that's wired in, signer 0 is
// always preferred when present, falling back to the first configured ID.
func (c *CoordinatorSelector) elect() uint32 {
	for _, id := range c.coordinatorIDs {
		if id == 0 {
			return 0
		}
	}
	if len(c.coordinatorIDs) > 0 {
		return c.coordinatorIDs[0]
	}
	return 0
}

// Current returns the currently elected coordinator's signer ID.
func (c *CoordinatorSelector) Current() uint32 { return c.current }

// RefreshCoordinator re-runs the election and reports whether the elected
// coordinator changed.
func (c *CoordinatorSelector) RefreshCoordinator() bool {
	next := c.elect()
	changed := next != c.current
	c.current = next
	return changed
}
