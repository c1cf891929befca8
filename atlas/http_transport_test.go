package atlas

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stacks-relay/signer-node/common"
)

func TestHTTPTransportResolvesAttachmentRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.Write([]byte("payload-bytes"))
	}))
	defer server.Close()

	transport := NewHTTPTransport([]string{server.URL})
	req := AttachmentRequest{
		ContentHash: common.BytesToHash160([]byte{1}),
		Sources:     map[string]ReliabilityReport{server.URL: {}},
	}

	id, err := transport.BeginRequest(req)
	if err != nil {
		t.Fatalf("BeginRequest: %v", err)
	}

	status, body, err := waitForCompletion(t, transport, id)
	if err != nil {
		t.Fatalf("unexpected poll error: %v", err)
	}
	if status != PollSucceeded {
		t.Fatalf("expected PollSucceeded, got %v", status)
	}
	resp, ok := body.(AttachmentResponse)
	if !ok || string(resp.Attachment.Content) != "payload-bytes" {
		t.Fatalf("unexpected response body: %+v", body)
	}
}

func TestHTTPTransportResolvesInventoryRequest(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		json.NewEncoder(w).Encode(InventoryResponse{Pages: []InventoryPage{{Index: 0, Inventory: []byte{1, 2}}}})
	}))
	defer server.Close()

	transport := NewHTTPTransport([]string{server.URL})
	req := AttachmentsInventoryRequest{Peer: server.URL, ContractID: "c", Pages: []uint32{0}}

	id, err := transport.BeginRequest(req)
	if err != nil {
		t.Fatalf("BeginRequest: %v", err)
	}

	status, body, err := waitForCompletion(t, transport, id)
	if err != nil {
		t.Fatalf("unexpected poll error: %v", err)
	}
	if status != PollSucceeded {
		t.Fatalf("expected PollSucceeded, got %v", status)
	}
	inv, ok := body.(InventoryResponse)
	if !ok || len(inv.Pages) != 1 {
		t.Fatalf("unexpected response body: %+v", body)
	}
}

func TestHTTPTransportFailsOnNon200(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	transport := NewHTTPTransport([]string{server.URL})
	req := AttachmentRequest{ContentHash: common.BytesToHash160([]byte{2}), Sources: map[string]ReliabilityReport{server.URL: {}}}

	id, _ := transport.BeginRequest(req)
	status, _, err := waitForCompletion(t, transport, id)
	if status != PollFailed || err == nil {
		t.Fatalf("expected a failed poll with an error, got status=%v err=%v", status, err)
	}
}

func waitForCompletion(t *testing.T, transport *HTTPTransport, id uint64) (PollStatus, any, error) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		status, body, err := transport.PollRequest(id)
		if status != PollPending {
			return status, body, err
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for request to complete")
	return PollFailed, nil, nil
}
