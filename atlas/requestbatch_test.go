package atlas

import (
	"testing"

	"github.com/stacks-relay/signer-node/common"
)

type fakeTransport struct {
	peers    []string
	fail     map[uint64]bool
	nextID   uint64
	pollOnce map[uint64]bool // simulate one "still pending" poll before resolving
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{fail: make(map[uint64]bool), pollOnce: make(map[uint64]bool)}
}

func (f *fakeTransport) OutboundPeers() []string { return f.peers }

func (f *fakeTransport) BeginRequest(req Requestable) (uint64, error) {
	f.nextID++
	if req.URL() == "fail.example.com" {
		f.fail[f.nextID] = true
	}
	return f.nextID, nil
}

func (f *fakeTransport) PollRequest(eventID uint64) (PollStatus, any, error) {
	if f.fail[eventID] {
		return PollFailed, nil, nil
	}
	if !f.pollOnce[eventID] {
		f.pollOnce[eventID] = true
		return PollPending, nil, nil
	}
	return PollSucceeded, AttachmentResponse{Attachment: Attachment{Content: []byte("ok")}}, nil
}

func TestRequestBatchStateDrivesQueueToCompletion(t *testing.T) {
	queue := common.NewHeap[AttachmentRequest]()
	queue.Push(AttachmentRequest{
		ContentHash: common.BytesToHash160([]byte{1}),
		Sources:     map[string]ReliabilityReport{"good.example.com": {}},
	})
	queue.Push(AttachmentRequest{
		ContentHash: common.BytesToHash160([]byte{2}),
		Sources:     map[string]ReliabilityReport{"fail.example.com": {}},
	})

	transport := newFakeTransport()
	state := NewRequestBatchState[AttachmentRequest](queue)

	for i := 0; i < 10 && !state.Done(); i++ {
		state.TryProceed(transport, 4)
	}

	if !state.Done() {
		t.Fatal("expected the state machine to finish within a bounded number of ticks")
	}
	result := state.Result()
	if len(result.Succeeded) != 1 {
		t.Fatalf("expected 1 succeeded request, got %d", len(result.Succeeded))
	}
	if len(result.FaultyPeers) != 1 {
		t.Fatalf("expected 1 faulty peer, got %d", len(result.FaultyPeers))
	}
}

func TestRequestBatchStateRespectsMaxInflight(t *testing.T) {
	queue := common.NewHeap[AttachmentRequest]()
	for i := 0; i < 5; i++ {
		queue.Push(AttachmentRequest{
			ContentHash: common.BytesToHash160([]byte{byte(i + 1)}),
			Sources:     map[string]ReliabilityReport{"good.example.com": {}},
		})
	}

	transport := newFakeTransport()
	state := NewRequestBatchState[AttachmentRequest](queue)

	state.TryProceed(transport, 2) // BeginRequests: only 2 issued
	if len(state.remaining) != 2 {
		t.Fatalf("expected 2 in-flight requests after first tick, got %d", len(state.remaining))
	}
}
