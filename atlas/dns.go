package atlas

import (
	"net"
	"net/url"
	"time"

	"github.com/stacks-relay/signer-node/log"
)

// DNSResolver queues and polls asynchronous DNS lookups, matching the
// non-blocking style the rest of the downloader's event loop expects.
type DNSResolver interface {
	QueueLookup(host string, deadline time.Time) error
	PollLookup(host string) (done bool, addrs []net.IP, err error)
}

type dnsLookupPhase int

const (
	phaseDNSInitialized dnsLookupPhase = iota
	phaseDNSResolving
	phaseDNSDone
)

// DNSLookupResults is keyed by peer URL; a nil address slice means the
// lookup is still outstanding or failed.
type DNSLookupResults struct {
	Addrs  map[string][]net.IP
	Errors map[string]error
}

// dnsRequest is the bookkeeping kept for one peer URL's outstanding lookup:
// the host to resolve, the port the URL carried (so callers can recombine
// a resolved address with its original port without re-parsing the URL),
// and the deadline this lookup must complete by.
type dnsRequest struct {
	host    string
	port    string
	timeout time.Time
}

// dnsLookupState resolves every peer URL's host to a set of addresses
// before any HTTP requests are attempted against it.
type dnsLookupState struct {
	phase    dnsLookupPhase
	requests map[string]*dnsRequest // peer URL -> request
	results  *DNSLookupResults
}

func newDNSLookupState(peerURLs []string) *dnsLookupState {
	requests := make(map[string]*dnsRequest, len(peerURLs))
	for _, u := range peerURLs {
		if u == "" {
			continue
		}
		req := &dnsRequest{host: u}
		if parsed, err := url.Parse(u); err == nil && parsed.Host != "" {
			req.host = parsed.Hostname()
			req.port = parsed.Port()
		} else if host, port, err := net.SplitHostPort(u); err == nil {
			req.host = host
			req.port = port
		}
		requests[u] = req
	}
	return &dnsLookupState{
		phase:    phaseDNSInitialized,
		requests: requests,
		results: &DNSLookupResults{
			Addrs:  make(map[string][]net.IP),
			Errors: make(map[string]error),
		},
	}
}

func (s *dnsLookupState) Done() bool {
	return s.phase == phaseDNSDone
}

func (s *dnsLookupState) Result() *DNSLookupResults {
	return s.results
}

// Request returns the host/port/deadline bookkeeping for url, if tracked.
func (s *dnsLookupState) Request(url string) (*dnsRequest, bool) {
	req, ok := s.requests[url]
	return req, ok
}

func (r *dnsRequest) hostPort() string {
	if r.port == "" {
		return r.host
	}
	return net.JoinHostPort(r.host, r.port)
}

func (s *dnsLookupState) TryProceed(resolver DNSResolver, timeout time.Duration) {
	switch s.phase {
	case phaseDNSInitialized:
		deadline := time.Now().Add(timeout)
		for url, req := range s.requests {
			req.timeout = deadline
			if ip := net.ParseIP(req.host); ip != nil {
				s.results.Addrs[url] = []net.IP{ip}
				continue
			}
			if err := resolver.QueueLookup(req.host, deadline); err != nil {
				log.Warn("atlas: unsupported host, dropping", "host", req.host, "port", req.port, "err", err)
				s.results.Errors[url] = err
			}
		}
		s.phase = phaseDNSResolving

	case phaseDNSResolving:
		inflight := 0
		now := time.Now()
		for url, req := range s.requests {
			if _, resolved := s.results.Addrs[url]; resolved {
				continue
			}
			if _, failed := s.results.Errors[url]; failed {
				continue
			}
			if !req.timeout.IsZero() && now.After(req.timeout) {
				log.Warn("atlas: dns lookup timed out", "host", req.host, "port", req.port)
				s.results.Errors[url] = errDNSTimeout(req.hostPort())
				continue
			}
			done, addrs, err := resolver.PollLookup(req.host)
			if err != nil {
				log.Warn("atlas: dns lookup failed", "host", req.host, "port", req.port, "err", err)
				s.results.Errors[url] = err
				continue
			}
			if !done {
				inflight++
				continue
			}
			s.results.Addrs[url] = addrs
		}
		if inflight > 0 {
			return
		}
		s.phase = phaseDNSDone

	case phaseDNSDone:
	}
}

type errDNSTimeout string

func (e errDNSTimeout) Error() string {
	return "atlas: dns lookup timed out for " + string(e)
}
