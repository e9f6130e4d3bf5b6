package signaling

import (
	"testing"
	"time"

	"go.uber.org/zap"
)

func testHubConfig() HubConfig {
	return HubConfig{
		ReadLimit:       1024,
		WriteTimeout:    time.Second,
		PongTimeout:     time.Second,
		PingInterval:    time.Minute,
		HubPingInterval: time.Minute,
	}
}

func waitFor(t *testing.T, cond func() bool, what string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestHubRegisterUnregister(t *testing.T) {
	h := NewHub(testHubConfig(), zap.NewNop())
	go h.Run()

	c := NewClient("p1", nil, testHubConfig(), zap.NewNop())
	h.RegisterClient(c)
	waitFor(t, func() bool { return h.IsConnected("p1") }, "client registration")

	if h.ClientCount() != 1 {
		t.Errorf("ClientCount() = %d, want 1", h.ClientCount())
	}

	h.UnregisterClient(c)
	waitFor(t, func() bool { return !h.IsConnected("p1") }, "client unregistration")
}

func TestHubSendToParticipant(t *testing.T) {
	h := NewHub(testHubConfig(), zap.NewNop())
	go h.Run()

	c := NewClient("p1", nil, testHubConfig(), zap.NewNop())
	h.RegisterClient(c)
	waitFor(t, func() bool { return h.IsConnected("p1") }, "client registration")

	h.Send("p1", Message{Type: MessageTypeViewerCount})
	select {
	case msg := <-c.Send:
		if msg.To != "p1" {
			t.Errorf("To = %q, want p1", msg.To)
		}
	case <-time.After(time.Second):
		t.Fatal("no message delivered")
	}

	// Unknown participant: silently dropped.
	h.Send("nobody", Message{Type: MessageTypeViewerCount})
}

func TestHubGroupBroadcast(t *testing.T) {
	h := NewHub(testHubConfig(), zap.NewNop())
	go h.Run()

	c1 := NewClient("p1", nil, testHubConfig(), zap.NewNop())
	c2 := NewClient("p2", nil, testHubConfig(), zap.NewNop())
	c3 := NewClient("p3", nil, testHubConfig(), zap.NewNop())
	for _, c := range []*Client{c1, c2, c3} {
		h.RegisterClient(c)
	}
	waitFor(t, func() bool { return h.ClientCount() == 3 }, "registrations")

	h.JoinGroup("sess", "p1")
	h.JoinGroup("sess", "p2")

	h.Broadcast("sess", Message{Type: MessageTypeSessionEnded, SessionID: "sess"})

	for _, c := range []*Client{c1, c2} {
		select {
		case msg := <-c.Send:
			if msg.To != c.ID {
				t.Errorf("To = %q, want %q", msg.To, c.ID)
			}
		case <-time.After(time.Second):
			t.Fatalf("member %s missed broadcast", c.ID)
		}
	}

	select {
	case <-c3.Send:
		t.Fatal("non-member received group broadcast")
	default:
	}
}

func TestHubGroupMembershipLifecycle(t *testing.T) {
	h := NewHub(testHubConfig(), zap.NewNop())

	h.JoinGroup("g", "p1")
	h.JoinGroup("g", "p2")
	if h.GroupSize("g") != 2 {
		t.Errorf("GroupSize() = %d, want 2", h.GroupSize("g"))
	}

	h.LeaveGroup("g", "p1")
	if h.GroupSize("g") != 1 {
		t.Errorf("GroupSize() = %d, want 1", h.GroupSize("g"))
	}

	// Last member leaving drops the group entirely.
	h.LeaveGroup("g", "p2")
	if h.GroupSize("g") != 0 {
		t.Errorf("GroupSize() = %d, want 0", h.GroupSize("g"))
	}

	// Leaving an unknown group is a no-op.
	h.LeaveGroup("missing", "p1")

	h.JoinGroup("g2", "p1")
	h.RemoveGroup("g2")
	if h.GroupSize("g2") != 0 {
		t.Errorf("GroupSize() after RemoveGroup = %d, want 0", h.GroupSize("g2"))
	}
}

func TestHubUnregisterDropsGroupMemberships(t *testing.T) {
	h := NewHub(testHubConfig(), zap.NewNop())
	go h.Run()

	c := NewClient("p1", nil, testHubConfig(), zap.NewNop())
	h.RegisterClient(c)
	waitFor(t, func() bool { return h.IsConnected("p1") }, "client registration")

	h.JoinGroup("a", "p1")
	h.JoinGroup("b", "p1")
	h.JoinGroup("b", "p2")

	h.UnregisterClient(c)
	waitFor(t, func() bool { return !h.IsConnected("p1") }, "client unregistration")

	if h.GroupSize("a") != 0 {
		t.Errorf("GroupSize(a) = %d, want 0", h.GroupSize("a"))
	}
	if h.GroupSize("b") != 1 {
		t.Errorf("GroupSize(b) = %d, want 1", h.GroupSize("b"))
	}
}
