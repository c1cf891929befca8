package atlas

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"
)

type httpResult struct {
	status PollStatus
	body   any
	err    error
}

// HTTPTransport issues AttachmentsInventoryRequest/AttachmentRequest
// lookups over plain HTTP GET, one goroutine per in-flight request,
// fitting the downloader's non-blocking BeginRequest/PollRequest contract.
type HTTPTransport struct {
	client *http.Client
	peers  []string

	nextID  uint64
	mu      sync.Mutex
	results map[uint64]httpResult

	limiterMu sync.Mutex
	limiters  map[string]*rate.Limiter
}

// NewHTTPTransport returns a transport that issues requests to peers, pacing
// outbound requests to each peer independently at DefaultPeerRequestsPerSecond.
func NewHTTPTransport(peers []string) *HTTPTransport {
	return &HTTPTransport{
		client:   &http.Client{Timeout: 15 * time.Second},
		peers:    peers,
		results:  make(map[uint64]httpResult),
		limiters: make(map[string]*rate.Limiter),
	}
}

// limiterFor returns (creating if necessary) the per-peer token bucket
// pacing requests against peerURL.
func (t *HTTPTransport) limiterFor(peerURL string) *rate.Limiter {
	t.limiterMu.Lock()
	defer t.limiterMu.Unlock()
	l, ok := t.limiters[peerURL]
	if !ok {
		l = rate.NewLimiter(rate.Limit(DefaultPeerRequestsPerSecond), DefaultPeerRequestBurst)
		t.limiters[peerURL] = l
	}
	return l
}

func (t *HTTPTransport) OutboundPeers() []string { return t.peers }

// BeginRequest issues req's URL as an HTTP GET in the background and
// returns an event ID the caller polls for completion.
func (t *HTTPTransport) BeginRequest(req Requestable) (uint64, error) {
	id := atomic.AddUint64(&t.nextID, 1)
	t.setResult(id, httpResult{status: PollPending})
	go t.do(id, req)
	return id, nil
}

func (t *HTTPTransport) do(id uint64, req Requestable) {
	if err := t.limiterFor(req.URL()).Wait(context.Background()); err != nil {
		t.setResult(id, httpResult{status: PollFailed, err: err})
		return
	}

	resp, err := t.client.Get(req.URL())
	if err != nil {
		t.setResult(id, httpResult{status: PollFailed, err: err})
		return
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.setResult(id, httpResult{status: PollFailed, err: fmt.Errorf("atlas: unexpected status %d from %s", resp.StatusCode, req.URL())})
		return
	}

	switch req.(type) {
	case AttachmentsInventoryRequest:
		var inv InventoryResponse
		if err := json.NewDecoder(resp.Body).Decode(&inv); err != nil {
			t.setResult(id, httpResult{status: PollFailed, err: err})
			return
		}
		t.setResult(id, httpResult{status: PollSucceeded, body: inv})
	case AttachmentRequest:
		data, err := io.ReadAll(resp.Body)
		if err != nil {
			t.setResult(id, httpResult{status: PollFailed, err: err})
			return
		}
		t.setResult(id, httpResult{status: PollSucceeded, body: AttachmentResponse{Attachment: Attachment{Content: data}}})
	default:
		t.setResult(id, httpResult{status: PollFailed, err: fmt.Errorf("atlas: unrecognized request type %T", req)})
	}
}

func (t *HTTPTransport) setResult(id uint64, res httpResult) {
	t.mu.Lock()
	t.results[id] = res
	t.mu.Unlock()
}

// PollRequest returns eventID's current status, decoding into either
// InventoryResponse or AttachmentResponse once it has succeeded.
func (t *HTTPTransport) PollRequest(eventID uint64) (PollStatus, any, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	res, ok := t.results[eventID]
	if !ok {
		return PollFailed, nil, fmt.Errorf("atlas: unknown event id %d", eventID)
	}
	return res.status, res.body, res.err
}
