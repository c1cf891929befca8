package atlas

import (
	"github.com/stacks-relay/signer-node/common"
	"github.com/stacks-relay/signer-node/log"
)

// requestable is the constraint a type must satisfy to be driven through a
// RequestBatchState: it must be priority-orderable (for the heap) and know
// which peer URL it targets.
type requestable[T any] interface {
	common.Ordered[T]
	Requestable
}

// PollStatus is the outcome of polling one in-flight request.
type PollStatus int

const (
	PollPending PollStatus = iota
	PollSucceeded
	PollFailed
)

// Transport issues and polls requests against peers. Implementations sit on
// top of whatever event-driven networking layer the node embeds; eventID
// correlates a BeginRequest call with its later PollRequest calls.
type Transport interface {
	OutboundPeers() []string
	BeginRequest(req Requestable) (eventID uint64, err error)
	PollRequest(eventID uint64) (PollStatus, any, error)
}

// RequestOutcome pairs a completed request with its decoded response.
type RequestOutcome[T any] struct {
	Request  T
	Response any
}

// RequestBatchResult accumulates the outcome of driving a queue of requests
// to completion.
type RequestBatchResult[T any] struct {
	Succeeded   []RequestOutcome[T]
	FaultyPeers map[uint64]string
}

func newRequestBatchResult[T any]() *RequestBatchResult[T] {
	return &RequestBatchResult[T]{FaultyPeers: make(map[uint64]string)}
}

type requestBatchPhase int

const (
	phaseBeginRequests requestBatchPhase = iota
	phasePollRequests
	phaseRequestsDone
)

// RequestBatchState drives a priority queue of T through a batched
// request/poll cycle: it begins up to maxInflight requests at a time, polls
// every in-flight request until none remain pending, then begins the next
// batch -- repeating until the queue is drained.
type RequestBatchState[T requestable[T]] struct {
	phase     requestBatchPhase
	queue     *common.Heap[T]
	remaining map[uint64]T
	result    *RequestBatchResult[T]
}

// NewRequestBatchState seeds a state machine with a queue of requests to
// drive to completion.
func NewRequestBatchState[T requestable[T]](queue *common.Heap[T]) *RequestBatchState[T] {
	return &RequestBatchState[T]{
		phase:     phaseBeginRequests,
		queue:     queue,
		remaining: make(map[uint64]T),
		result:    newRequestBatchResult[T](),
	}
}

// Done reports whether every request in the queue has resolved (success or
// fault).
func (s *RequestBatchState[T]) Done() bool {
	return s.phase == phaseRequestsDone
}

// Result returns the accumulated outcomes. Only meaningful once Done.
func (s *RequestBatchState[T]) Result() *RequestBatchResult[T] {
	return s.result
}

// TryProceed advances the state machine by one tick against transport,
// issuing at most maxInflight new requests per BeginRequests phase.
func (s *RequestBatchState[T]) TryProceed(transport Transport, maxInflight int) {
	switch s.phase {
	case phaseBeginRequests:
		for i := 0; i < maxInflight && s.queue.Len() > 0; i++ {
			req := s.queue.Pop()
			eventID, err := transport.BeginRequest(req)
			if err != nil {
				log.Debug("atlas: failed to begin request", "url", req.URL(), "err", err)
				continue
			}
			s.remaining[eventID] = req
		}
		s.phase = phasePollRequests

	case phasePollRequests:
		log.Debug("atlas: polling remaining requests", "count", len(s.remaining))
		pending := make(map[uint64]T)
		for eventID, req := range s.remaining {
			status, resp, err := transport.PollRequest(eventID)
			if err != nil {
				log.Debug("atlas: poll error", "url", req.URL(), "err", err)
			}
			switch status {
			case PollPending:
				pending[eventID] = req
			case PollFailed:
				s.result.FaultyPeers[eventID] = req.URL()
			case PollSucceeded:
				s.result.Succeeded = append(s.result.Succeeded, RequestOutcome[T]{Request: req, Response: resp})
			}
		}
		s.remaining = pending
		if len(pending) > 0 {
			return
		}
		log.Debug("atlas: processed request batch", "succeeded", len(s.result.Succeeded), "faults", len(s.result.FaultyPeers))
		if s.queue.Len() == 0 {
			s.phase = phaseRequestsDone
		} else {
			s.phase = phaseBeginRequests
		}

	case phaseRequestsDone:
	}
}
