package signer

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCoordinatorSelectorPrefersSignerZero(t *testing.T) {
	cs := NewCoordinatorSelector([]uint32{3, 1, 0, 2})
	require.EqualValues(t, 0, cs.Current())
}

func TestCoordinatorSelectorFallsBackToFirstConfigured(t *testing.T) {
	cs := NewCoordinatorSelector([]uint32{5, 2, 7})
	require.EqualValues(t, 5, cs.Current())
}

func TestCoordinatorSelectorRefreshReportsChange(t *testing.T) {
	cs := NewCoordinatorSelector([]uint32{5})
	require.False(t, cs.RefreshCoordinator(), "election is stable across refreshes with an unchanged candidate set")

	cs.coordinatorIDs = []uint32{0, 5}
	require.True(t, cs.RefreshCoordinator(), "adding signer 0 to the candidate set should change the elected coordinator")
	require.EqualValues(t, 0, cs.Current())
}
