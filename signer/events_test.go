package signer

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stacks-relay/signer-node/common"
)

func TestHTTPEventReceiverForwardsSubscribedStackerDBEvents(t *testing.T) {
	r := NewHTTPEventReceiver([]string{"SP000.signers-0"})
	addr, err := r.Bind("127.0.0.1:0")
	require.NoError(t, err)

	consumer := make(chan SignerEvent, 4)
	r.AddConsumer(consumer)
	go r.MainLoop()
	defer r.GetStopSignaler().Send()

	body, _ := json.Marshal(StackerDBChunksEvent{
		ContractID: "SP000.signers-0",
		Chunks:     []StackerDBChunk{{SlotID: 1, SlotVersion: 2, Data: []byte("x")}},
	})
	resp, err := http.Post("http://"+addr+"/stackerdb_chunks", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case ev := <-consumer:
		require.Equal(t, EventStackerDB, ev.Kind)
		require.Equal(t, "SP000.signers-0", ev.StackerDB.ContractID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded stackerdb event")
	}
}

func TestHTTPEventReceiverSurfacesUnsubscribedStackerDBEvents(t *testing.T) {
	r := NewHTTPEventReceiver([]string{"SP000.signers-0"})
	addr, err := r.Bind("127.0.0.1:0")
	require.NoError(t, err)

	consumer := make(chan SignerEvent, 4)
	r.AddConsumer(consumer)
	go r.MainLoop()
	defer r.GetStopSignaler().Send()

	body, _ := json.Marshal(StackerDBChunksEvent{ContractID: "SP000.other-contract"})
	resp, err := http.Post("http://"+addr+"/stackerdb_chunks", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case ev := <-consumer:
		require.Equal(t, EventUnrecognizedStackerDBContract, ev.Kind)
		require.Equal(t, "SP000.other-contract", ev.UnrecognizedContractID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for unrecognized-contract event")
	}
}

func TestHTTPEventReceiverSurfacesUnrecognizedPaths(t *testing.T) {
	r := NewHTTPEventReceiver(nil)
	addr, err := r.Bind("127.0.0.1:0")
	require.NoError(t, err)

	consumer := make(chan SignerEvent, 4)
	r.AddConsumer(consumer)
	go r.MainLoop()
	defer r.GetStopSignaler().Send()

	resp, err := http.Post("http://"+addr+"/not_a_real_endpoint", "application/json", bytes.NewReader(nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case ev := <-consumer:
		require.Equal(t, EventUnrecognized, ev.Kind)
		require.Equal(t, "/not_a_real_endpoint", ev.UnrecognizedPath)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for unrecognized-path event")
	}
}

func TestHTTPEventReceiverAlwaysForwardsBlockProposals(t *testing.T) {
	r := NewHTTPEventReceiver(nil)
	addr, err := r.Bind("127.0.0.1:0")
	require.NoError(t, err)

	consumer := make(chan SignerEvent, 4)
	r.AddConsumer(consumer)
	go r.MainLoop()
	defer r.GetStopSignaler().Send()

	blockID := common.BytesToBlockID([]byte{7})
	body, _ := json.Marshal(BlockValidateResponse{BlockID: blockID, Valid: true})
	resp, err := http.Post("http://"+addr+"/proposal_response", "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	select {
	case ev := <-consumer:
		require.Equal(t, EventBlockProposal, ev.Kind)
		require.Equal(t, blockID, ev.BlockProposal.BlockID)
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for forwarded block proposal event")
	}
}

func TestHTTPEventReceiverStopSignalerStopsMainLoop(t *testing.T) {
	r := NewHTTPEventReceiver(nil)
	_, err := r.Bind("127.0.0.1:0")
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		r.MainLoop()
		close(done)
	}()

	r.GetStopSignaler().Send()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("MainLoop did not return after a stop signal")
	}
}
