package server

import (
	"net"
	"testing"

	"github.com/danmuck/minijira/internal/testutil/testlog"
)

func TestSessionsCreateLookupDestroy(t *testing.T) {
	testlog.Start(t)

	sessions := NewSessions()
	peer := &net.TCPAddr{IP: net.IPv4(10, 0, 0, 2), Port: 51000}
	local := &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 7878}

	a, err := sessions.Create(1, "alice", peer, local)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	b, err := sessions.Create(2, "bob", nil, nil)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.ID == b.ID || string(a.Key) == string(b.Key) {
		t.Fatalf("sessions must have distinct ids and keys")
	}
	if a.PeerHost != "10.0.0.2" || a.PeerPort != 51000 || a.LocalPort != 7878 {
		t.Fatalf("addresses not recorded: %+v", a)
	}

	got, ok := sessions.Lookup(a.Key)
	if !ok || got.ID != a.ID {
		t.Fatalf("lookup by key failed")
	}
	if _, ok := sessions.Lookup([]byte("nope")); ok {
		t.Fatalf("unknown key must not resolve")
	}
	if _, ok := sessions.Lookup(nil); ok {
		t.Fatalf("empty key must not resolve")
	}

	sessions.Destroy(a.ID)
	sessions.Destroy(a.ID)
	if _, ok := sessions.Lookup(a.Key); ok {
		t.Fatalf("destroyed session must not resolve")
	}
	if _, ok := sessions.ByID(b.ID); !ok || sessions.Count() != 1 {
		t.Fatalf("other sessions must survive")
	}
}

func TestOrderStartsAfterMax(t *testing.T) {
	o := NewOrder(0)
	if o.Peek() != 1 || o.Next() != 1 || o.Next() != 2 {
		t.Fatalf("empty store must start at 1")
	}
	o = NewOrder(41)
	if o.Next() != 42 {
		t.Fatalf("expected 42")
	}
}

func TestOrderObserveOnlyRaises(t *testing.T) {
	o := NewOrder(3)
	o.Observe(10)
	if o.Peek() != 11 {
		t.Fatalf("expected 11 after observing 10, got %d", o.Peek())
	}
	o.Observe(5)
	if o.Peek() != 11 {
		t.Fatalf("observing a lower id must not lower the allocator, got %d", o.Peek())
	}
	if o.Next() != 11 {
		t.Fatalf("expected 11")
	}
}
