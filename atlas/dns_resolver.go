package atlas

import (
	"context"
	"net"
	"sync"
	"time"
)

type lookupState struct {
	done  bool
	addrs []net.IP
	err   error
}

// NetDNSResolver resolves hostnames with the standard library's resolver,
// one background goroutine per in-flight lookup, fitting the downloader's
// non-blocking QueueLookup/PollLookup contract.
type NetDNSResolver struct {
	resolver *net.Resolver

	mu      sync.Mutex
	lookups map[string]*lookupState
}

// NewNetDNSResolver returns a resolver backed by net.DefaultResolver.
func NewNetDNSResolver() *NetDNSResolver {
	return &NetDNSResolver{resolver: net.DefaultResolver, lookups: make(map[string]*lookupState)}
}

// QueueLookup starts resolving host in the background if it isn't already
// in flight. The lookup is abandoned (but its goroutine still completes
// and caches a result) if it isn't polled again before deadline.
func (r *NetDNSResolver) QueueLookup(host string, deadline time.Time) error {
	r.mu.Lock()
	if _, ok := r.lookups[host]; ok {
		r.mu.Unlock()
		return nil
	}
	state := &lookupState{}
	r.lookups[host] = state
	r.mu.Unlock()

	go func() {
		ctx, cancel := context.WithDeadline(context.Background(), deadline)
		defer cancel()
		addrs, err := r.resolver.LookupIP(ctx, "ip", host)

		r.mu.Lock()
		state.done = true
		state.addrs = addrs
		state.err = err
		r.mu.Unlock()
	}()
	return nil
}

// PollLookup reports whether host's lookup has completed and, if so, its
// result.
func (r *NetDNSResolver) PollLookup(host string) (done bool, addrs []net.IP, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	state, ok := r.lookups[host]
	if !ok {
		return false, nil, nil
	}
	return state.done, state.addrs, state.err
}
