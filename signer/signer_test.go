package signer

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stacks-relay/signer-node/common"
)

func newTestSigner(signerID uint32, coordinatorIDs []uint32) *Signer {
	return NewSigner(SignerConfig{
		RewardCycle:    10,
		SignerID:       signerID,
		SignerSlotID:   signerID,
		KeyIDs:         []uint32{signerID},
		CoordinatorIDs: coordinatorIDs,
	})
}

func newTestClient(t *testing.T, handler http.HandlerFunc) (*StacksClient, *httptest.Server) {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return &StacksClient{http: srv.Client(), nodeHost: srv.URL}, srv
}

func TestSignerProcessEventBlockProposalApproved(t *testing.T) {
	s := newTestSigner(0, []uint32{0})
	blockID := common.BytesToBlockID([]byte{1})

	_, err := s.ProcessEvent(context.Background(), nil, &SignerEvent{
		Kind:          EventBlockProposal,
		BlockProposal: &BlockValidateResponse{BlockID: blockID, Valid: true},
	})
	require.NoError(t, err)

	info, ok := s.Blocks.Get(blockID)
	require.True(t, ok)
	approve, voted := info.Approved()
	require.True(t, voted)
	require.True(t, approve)
}

func TestSignerProcessEventBlockProposalRejectsInvalidBlock(t *testing.T) {
	s := newTestSigner(0, []uint32{0})
	blockID := common.BytesToBlockID([]byte{2})

	_, err := s.ProcessEvent(context.Background(), nil, &SignerEvent{
		Kind:          EventBlockProposal,
		BlockProposal: &BlockValidateResponse{BlockID: blockID, Valid: false, Reason: "bad tx"},
	})
	require.NoError(t, err)

	info, _ := s.Blocks.Get(blockID)
	approve, voted := info.Approved()
	require.True(t, voted)
	require.False(t, approve)
}

func TestSignerProcessEventBlockProposalRejectsTransactionAntiInclusion(t *testing.T) {
	s := newTestSigner(0, []uint32{0})
	blockID := common.BytesToBlockID([]byte{3})
	badTx := common.BytesToTxID([]byte{0xDE, 0xAD})

	_, err := s.ProcessEvent(context.Background(), nil, &SignerEvent{
		Kind: EventBlockProposal,
		BlockProposal: &BlockValidateResponse{
			BlockID:              blockID,
			Valid:                true,
			Block:                &Block{BlockID: blockID, Transactions: []common.TxID{badTx}},
			ExpectedTransactions: []common.TxID{badTx},
		},
	})
	require.NoError(t, err)

	info, ok := s.Blocks.Get(blockID)
	require.True(t, ok)
	require.False(t, info.Valid, "a block containing an expected txid must fail validation")
	approve, voted := info.Approved()
	require.True(t, voted)
	require.False(t, approve)
}

func TestSignerProcessEventBlockProposalCoordinatorEnqueuesSign(t *testing.T) {
	s := newTestSigner(0, []uint32{0})
	blockID := common.BytesToBlockID([]byte{4})

	_, err := s.ProcessEvent(context.Background(), nil, &SignerEvent{
		Kind:          EventBlockProposal,
		BlockProposal: &BlockValidateResponse{BlockID: blockID, Valid: true},
	})
	require.NoError(t, err)
	require.Equal(t, []Command{CommandSign}, s.Commands)
}

func TestSignerProcessEventBlockProposalNonCoordinatorDoesNotEnqueueSign(t *testing.T) {
	s := newTestSigner(1, []uint32{0, 1})
	blockID := common.BytesToBlockID([]byte{5})

	_, err := s.ProcessEvent(context.Background(), nil, &SignerEvent{
		Kind:          EventBlockProposal,
		BlockProposal: &BlockValidateResponse{BlockID: blockID, Valid: true},
	})
	require.NoError(t, err)
	require.Empty(t, s.Commands)
}

func TestSignerProcessEventBlockProposalCoordinatorBroadcastsRejection(t *testing.T) {
	var gotPath string
	var gotBody map[string]any
	client, _ := newTestClient(t, func(w http.ResponseWriter, req *http.Request) {
		gotPath = req.URL.Path
		require.NoError(t, json.NewDecoder(req.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	})

	s := newTestSigner(0, []uint32{0})
	blockID := common.BytesToBlockID([]byte{6})

	_, err := s.ProcessEvent(context.Background(), client, &SignerEvent{
		Kind:          EventBlockProposal,
		BlockProposal: &BlockValidateResponse{BlockID: blockID, Valid: false, Reason: "bad tx"},
	})
	require.NoError(t, err)
	require.Equal(t, "/v3/block_rejection", gotPath)
	require.Equal(t, "bad tx", gotBody["reason"])
	require.Empty(t, s.Commands, "a rejected block must not enqueue a sign round")
}

func TestSignerProcessEventBlockProposalVoteIsImmutableAcrossRetries(t *testing.T) {
	s := newTestSigner(0, []uint32{0})
	blockID := common.BytesToBlockID([]byte{7})

	_, err := s.ProcessEvent(context.Background(), nil, &SignerEvent{
		Kind:          EventBlockProposal,
		BlockProposal: &BlockValidateResponse{BlockID: blockID, Valid: true},
	})
	require.NoError(t, err)
	require.Equal(t, []Command{CommandSign}, s.Commands)

	// A re-sent proposal response (e.g. after a node-side retry) reporting
	// the opposite verdict must not flip the cached vote or re-enqueue a
	// command.
	_, err = s.ProcessEvent(context.Background(), nil, &SignerEvent{
		Kind:          EventBlockProposal,
		BlockProposal: &BlockValidateResponse{BlockID: blockID, Valid: false},
	})
	require.NoError(t, err)
	require.Equal(t, []Command{CommandSign}, s.Commands, "a retried proposal must not re-enqueue")

	info, _ := s.Blocks.Get(blockID)
	approve, _ := info.Approved()
	require.True(t, approve, "the original approval must stick")
}

func TestSignerProcessEventNilIsNoop(t *testing.T) {
	s := newTestSigner(0, []uint32{0})
	results, err := s.ProcessEvent(context.Background(), nil, nil)
	require.NoError(t, err)
	require.Nil(t, results)
}

func TestSignerProcessEventUnrecognizedStackerDBContractIsNoop(t *testing.T) {
	s := newTestSigner(0, []uint32{0})
	results, err := s.ProcessEvent(context.Background(), nil, &SignerEvent{
		Kind:                   EventUnrecognizedStackerDBContract,
		UnrecognizedContractID: "SP000.not-subscribed",
	})
	require.NoError(t, err)
	require.Nil(t, results)
}

func TestSignerProcessEventUnrecognizedIsNoop(t *testing.T) {
	s := newTestSigner(0, []uint32{0})
	results, err := s.ProcessEvent(context.Background(), nil, &SignerEvent{
		Kind:             EventUnrecognized,
		UnrecognizedPath: "/not/a/real/path",
	})
	require.NoError(t, err)
	require.Nil(t, results)
}

func TestSignerHandleNonceRequestValidBlock(t *testing.T) {
	s := newTestSigner(0, []uint32{0})
	blockID := common.BytesToBlockID([]byte{8})
	block := &Block{BlockID: blockID}
	message, err := json.Marshal(block)
	require.NoError(t, err)

	req := &NonceRequest{Message: message}
	require.NoError(t, s.HandleNonceRequest(req))

	require.Equal(t, block.SignatureHash(), req.Message, "a valid block votes its bare signature hash")

	info, ok := s.Blocks.Get(blockID)
	require.True(t, ok)
	require.True(t, info.Valid)
}

func TestSignerHandleNonceRequestInvalidBlockAntiInclusion(t *testing.T) {
	s := newTestSigner(0, []uint32{0})
	blockID := common.BytesToBlockID([]byte{9})
	badTx := common.BytesToTxID([]byte{0xBE, 0xEF})

	// Seed the expected-transactions list via a prior proposal response for
	// the same block, as processBlockProposal would.
	_, err := s.ProcessEvent(context.Background(), nil, &SignerEvent{
		Kind: EventBlockProposal,
		BlockProposal: &BlockValidateResponse{
			BlockID:              blockID,
			Valid:                true,
			ExpectedTransactions: []common.TxID{badTx},
		},
	})
	require.NoError(t, err)

	block := &Block{BlockID: blockID, Transactions: []common.TxID{badTx}}
	message, err := json.Marshal(block)
	require.NoError(t, err)

	req := &NonceRequest{Message: message}
	require.NoError(t, s.HandleNonceRequest(req))

	wantVote := append(append([]byte{}, block.SignatureHash()...), voteRejectSuffix)
	require.Equal(t, wantVote, req.Message)
}

func TestSignerValidateSignatureShareRequestUsesCachedVote(t *testing.T) {
	s := newTestSigner(0, []uint32{0})
	blockID := common.BytesToBlockID([]byte{10})

	req := &SignatureShareRequest{BlockID: blockID, Message: []byte("unchanged")}
	s.ValidateSignatureShareRequest(req)
	require.Equal(t, []byte("unchanged"), req.Message, "no cached block yet, message passes through")

	info := NewBlockInfo(blockID)
	info.CastVote([]byte("cached-vote"))
	s.Blocks.Put(blockID, info)

	req = &SignatureShareRequest{BlockID: blockID, Message: []byte("unchanged")}
	s.ValidateSignatureShareRequest(req)
	require.Equal(t, []byte("cached-vote"), req.Message)
}

func TestSignerProcessNextCommandOnlyWhenIdle(t *testing.T) {
	s := newTestSigner(0, []uint32{0})
	s.Commands = []Command{CommandDKG}
	s.State = StateSign

	s.ProcessNextCommand()
	require.Equal(t, StateSign, s.State, "a busy signer must not start a new command")
	require.Len(t, s.Commands, 1)

	s.State = StateIdle
	s.ProcessNextCommand()
	require.Equal(t, StateDKG, s.State)
	require.Empty(t, s.Commands)
}

func TestSignerCheckCommandTimeoutResetsToIdle(t *testing.T) {
	s := newTestSigner(0, []uint32{0})
	s.config.DKGEndTimeout = time.Minute
	s.Commands = []Command{CommandDKG}
	s.ProcessNextCommand()
	require.Equal(t, StateDKG, s.State)

	require.Nil(t, s.checkCommandTimeout(time.Now()), "not yet past the deadline")
	require.Equal(t, StateDKG, s.State)

	result := s.checkCommandTimeout(time.Now().Add(2 * time.Minute))
	require.NotNil(t, result)
	require.False(t, result.Ok)
	require.Equal(t, CommandDKG, result.Command)
	require.Equal(t, StateIdle, s.State, "a timed-out round must reset to idle")
}

func TestSignerCheckCommandTimeoutNoopWhenIdle(t *testing.T) {
	s := newTestSigner(0, []uint32{0})
	require.Nil(t, s.checkCommandTimeout(time.Now()))
}

func TestSignerCompleteOperationSignMatchesCachedVote(t *testing.T) {
	var gotBody map[string]any
	client, _ := newTestClient(t, func(w http.ResponseWriter, req *http.Request) {
		require.NoError(t, json.NewDecoder(req.Body).Decode(&gotBody))
		w.WriteHeader(http.StatusOK)
	})

	s := newTestSigner(0, []uint32{0})
	blockID := common.BytesToBlockID([]byte{11})
	info := NewBlockInfo(blockID)
	info.CastVote((&Block{BlockID: blockID}).SignatureHash())
	s.Blocks.Put(blockID, info)
	s.State = StateSign

	result := s.CompleteOperation(context.Background(), client, CommandSign, blockID, []byte("sig"))
	require.NotNil(t, result)
	require.True(t, result.Ok)
	require.Equal(t, StateIdle, s.State)
	require.Equal(t, true, gotBody["accepted"])
}

func TestSignerCompleteOperationNoopWhenNotRunningCommand(t *testing.T) {
	s := newTestSigner(0, []uint32{0})
	require.Nil(t, s.CompleteOperation(context.Background(), nil, CommandSign, common.BytesToBlockID([]byte{12}), nil))
}
