package atlas

import (
	"testing"
	"time"
)

func TestNetDNSResolverResolvesLoopback(t *testing.T) {
	r := NewNetDNSResolver()
	if err := r.QueueLookup("localhost", time.Now().Add(2*time.Second)); err != nil {
		t.Fatalf("QueueLookup: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		done, addrs, err := r.PollLookup("localhost")
		if err != nil {
			t.Fatalf("PollLookup: %v", err)
		}
		if done {
			if len(addrs) == 0 {
				t.Fatal("expected localhost to resolve to at least one address")
			}
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("timed out waiting for localhost to resolve")
}

func TestNetDNSResolverPollBeforeQueueIsNotDone(t *testing.T) {
	r := NewNetDNSResolver()
	done, addrs, err := r.PollLookup("never-queued.invalid")
	if done || addrs != nil || err != nil {
		t.Fatalf("expected an unqueued lookup to report not-done, got done=%v addrs=%v err=%v", done, addrs, err)
	}
}
