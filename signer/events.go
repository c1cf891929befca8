package signer

import (
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/stacks-relay/signer-node/common"
	"github.com/stacks-relay/signer-node/log"
)

// ErrTerminated is the error value for an event receiver that has been
// stopped. HTTPEventReceiver does not return it: its MainLoop simply
// returns once a stop signal has been delivered.
var ErrTerminated = errors.New("signer: event receiver terminated")

// EventKind distinguishes the kinds of node callbacks a signer cares
// about.
type EventKind int

const (
	EventStackerDB EventKind = iota
	EventBlockProposal
	// EventUnrecognizedStackerDBContract marks a stackerdb_chunks callback
	// for a contract this process never subscribed to.
	EventUnrecognizedStackerDBContract
	// EventUnrecognized marks a callback to a path this event receiver
	// doesn't otherwise handle.
	EventUnrecognized
)

// StackerDBChunk is one slot's worth of raw bytes, as broadcast by a
// stacker-db replica whenever a write to that slot is accepted.
type StackerDBChunk struct {
	SlotID      uint32 `json:"slot_id"`
	SlotVersion uint32 `json:"slot_version"`
	Data        []byte `json:"data"`
}

// StackerDBChunksEvent is the payload of a stacker-db chunk-update
// callback: one or more chunks written to a single contract's slots.
type StackerDBChunksEvent struct {
	ContractID string           `json:"contract_id"`
	Chunks     []StackerDBChunk `json:"modified_slots"`
}

// BlockValidateResponse is the node's verdict on a block this signer
// proposed for validation. Block and ExpectedTransactions, when present,
// let validateBlock run the anti-inclusion check; a response carrying
// neither is treated as "no transaction-level concerns to check."
type BlockValidateResponse struct {
	BlockID              common.BlockID `json:"block_id"`
	Valid                bool           `json:"valid"`
	Reason               string         `json:"reason,omitempty"`
	Block                *Block         `json:"block,omitempty"`
	ExpectedTransactions []common.TxID  `json:"expected_transactions,omitempty"`
}

// SignerEvent is one event delivered from the node to the run loop. Only
// the field matching Kind is populated; Go has no tagged-union type to
// express this more directly. CorrelationID ties together every log line
// produced while handling this event, since a single HTTP callback can fan
// out into several OperationResults.
type SignerEvent struct {
	Kind                   EventKind
	StackerDB              *StackerDBChunksEvent
	BlockProposal          *BlockValidateResponse
	UnrecognizedContractID string
	UnrecognizedPath       string
	CorrelationID          uuid.UUID
}

// EventStopSignaler lets the run loop ask a running EventReceiver to stop,
// from a different goroutine than the one running MainLoop.
type EventStopSignaler interface {
	Send()
}

// EventReceiver accepts node callbacks and forwards them to one or more
// consumer channels. Implementations bind a listening address, run a
// blocking main loop, and can be stopped via their EventStopSignaler.
type EventReceiver interface {
	Bind(addr string) (string, error)
	AddConsumer(ch chan<- SignerEvent)
	GetStopSignaler() EventStopSignaler
	MainLoop()
}

// HTTPEventReceiver implements EventReceiver over a plain HTTP server, the
// same callback transport the node itself uses to push stacker-db and
// block-validation events.
type HTTPEventReceiver struct {
	stackerDBContracts []string

	server    *http.Server
	localAddr string

	events    chan SignerEvent
	consumers []chan<- SignerEvent
	stopped   atomic.Bool
}

// NewHTTPEventReceiver returns a receiver that forwards stacker-db chunk
// events for the given set of contracts as EventStackerDB and surfaces
// chunk events for any other contract as EventUnrecognizedStackerDBContract;
// block-proposal events are always forwarded regardless of contract.
func NewHTTPEventReceiver(stackerDBContracts []string) *HTTPEventReceiver {
	return &HTTPEventReceiver{
		stackerDBContracts: stackerDBContracts,
		events:             make(chan SignerEvent, 64),
	}
}

// Bind starts listening on addr and returns the resolved local address
// (useful when addr uses port 0).
func (r *HTTPEventReceiver) Bind(addr string) (string, error) {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return "", err
	}
	r.localAddr = ln.Addr().String()

	mux := http.NewServeMux()
	mux.HandleFunc("/stackerdb_chunks", r.handleStackerDBChunks)
	mux.HandleFunc("/proposal_response", r.handleProposalResponse)
	mux.HandleFunc("/shutdown", r.handleShutdown)
	// Any other path is the node calling an endpoint this receiver doesn't
	// recognize. Answered 200 for the same reason as everything else here
	// (the node retries aggressively on non-2xx, and a retry storm is
	// worse than one dropped callback) but surfaced instead of falling
	// through to the mux's default 404.
	mux.HandleFunc("/", r.handleUnrecognized)
	r.server = &http.Server{Handler: mux}

	go func() {
		if err := r.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("signer: event receiver server stopped unexpectedly", "err", err)
		}
	}()
	return r.localAddr, nil
}

func (r *HTTPEventReceiver) contractSubscribed(contractID string) bool {
	for _, c := range r.stackerDBContracts {
		if c == contractID {
			return true
		}
	}
	return false
}

func (r *HTTPEventReceiver) handleStackerDBChunks(w http.ResponseWriter, req *http.Request) {
	// Always answer 200 regardless of what follows: the node retries
	// aggressively on non-2xx, and a retry storm is worse than dropping
	// one malformed or uninteresting payload.
	defer w.WriteHeader(http.StatusOK)
	body, err := io.ReadAll(req.Body)
	if err != nil {
		log.Warn("signer: failed to read stackerdb chunk event body", "err", err)
		return
	}
	var ev StackerDBChunksEvent
	if err := json.Unmarshal(body, &ev); err != nil {
		log.Warn("signer: failed to parse stackerdb chunk event", "err", err)
		return
	}
	if !r.contractSubscribed(ev.ContractID) {
		// Still a non-fatal, 200-worthy condition -- the node should stop
		// sending for this contract, but the signer needs to know this
		// happened rather than have it vanish silently.
		r.events <- SignerEvent{Kind: EventUnrecognizedStackerDBContract, UnrecognizedContractID: ev.ContractID, CorrelationID: uuid.New()}
		return
	}
	r.events <- SignerEvent{Kind: EventStackerDB, StackerDB: &ev, CorrelationID: uuid.New()}
}

func (r *HTTPEventReceiver) handleProposalResponse(w http.ResponseWriter, req *http.Request) {
	defer w.WriteHeader(http.StatusOK)
	body, err := io.ReadAll(req.Body)
	if err != nil {
		log.Warn("signer: failed to read block proposal response body", "err", err)
		return
	}
	var ev BlockValidateResponse
	if err := json.Unmarshal(body, &ev); err != nil {
		log.Warn("signer: failed to parse block proposal response", "err", err)
		return
	}
	r.events <- SignerEvent{Kind: EventBlockProposal, BlockProposal: &ev, CorrelationID: uuid.New()}
}

// handleUnrecognized answers any path not otherwise registered with 200
// and surfaces it as EventUnrecognized so callers can decide whether it
// matters.
func (r *HTTPEventReceiver) handleUnrecognized(w http.ResponseWriter, req *http.Request) {
	io.Copy(io.Discard, req.Body)
	w.WriteHeader(http.StatusOK)
	r.events <- SignerEvent{Kind: EventUnrecognized, UnrecognizedPath: req.URL.Path, CorrelationID: uuid.New()}
}

func (r *HTTPEventReceiver) handleShutdown(w http.ResponseWriter, req *http.Request) {
	io.Copy(io.Discard, req.Body)
	w.WriteHeader(http.StatusOK)
}

// AddConsumer registers a channel that will receive every forwarded event.
// Forwarding blocks if any registered consumer's channel is full, so
// consumers must keep up or buffer generously.
func (r *HTTPEventReceiver) AddConsumer(ch chan<- SignerEvent) {
	r.consumers = append(r.consumers, ch)
}

func (r *HTTPEventReceiver) forward(ev SignerEvent) {
	if len(r.consumers) == 0 {
		log.Error("signer: event receiver has no consumers, dropping event")
		return
	}
	for _, c := range r.consumers {
		c <- ev
	}
}

// GetStopSignaler returns a signaler that can stop this receiver's
// MainLoop from another goroutine.
func (r *HTTPEventReceiver) GetStopSignaler() EventStopSignaler {
	return &httpStopSignaler{receiver: r}
}

// MainLoop blocks, forwarding events to registered consumers until Send is
// called on this receiver's stop signaler.
func (r *HTTPEventReceiver) MainLoop() {
	for {
		select {
		case ev := <-r.events:
			r.forward(ev)
		case <-time.After(200 * time.Millisecond):
		}
		if r.stopped.Load() {
			log.Info("signer: event receiver stopped")
			return
		}
	}
}

type httpStopSignaler struct {
	receiver *HTTPEventReceiver
}

// Send marks the receiver stopped and nudges its listener with a
// self-loopback request, in case the server is blocked waiting on a
// connection rather than polling the stop flag.
func (s *httpStopSignaler) Send() {
	s.receiver.stopped.Store(true)
	if conn, err := net.DialTimeout("tcp", s.receiver.localAddr, time.Second); err == nil {
		conn.Write([]byte("POST /shutdown HTTP/1.0\r\nContent-Length: 0\r\n\r\n"))
		conn.Close()
	}
	if s.receiver.server != nil {
		s.receiver.server.Close()
	}
}
