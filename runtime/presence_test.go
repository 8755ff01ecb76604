package runtime

import (
	"chat-relay/domain/event"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPresence_Register_Broadcasts_Online(t *testing.T) {
	req := require.New(t)
	presence := NewPresenceRegistry(slog.Default())
	alice, bob := newConnection(), newConnection()

	// Given alice is online
	presence.Register("alice", alice)

	// When bob registers
	presence.Register("bob", bob)

	// Then both connections hear about bob
	req.Len(alice.Frames(event.UserOnline), 2)
	req.Equal(event.UserStatus{UserID: "bob"}, alice.Frames(event.UserOnline)[1].Data)
	req.Len(bob.Frames(event.UserOnline), 1)
	req.Equal([]string{"alice", "bob"}, presence.OnlineUsers())
}

func TestPresence_Reregister_Keeps_Only_Newest_Handle(t *testing.T) {
	req := require.New(t)
	presence := NewPresenceRegistry(slog.Default())
	first, second := newConnection(), newConnection()

	presence.Register("alice", first)
	presence.Enter("alice", "c1")
	presence.Register("alice", second)

	conn, ok := presence.Lookup("alice")
	req.True(ok)
	req.Equal(second.ID(), conn.ID())
	// The context of the replaced connection is gone
	req.False(presence.IsViewing("alice", "c1"))

	// When the stale handle disconnects
	userID, removed := presence.Unregister(first)

	// Then the newest handle stays registered
	req.False(removed)
	req.Empty(userID)
	conn, ok = presence.Lookup("alice")
	req.True(ok)
	req.Equal(second.ID(), conn.ID())
	req.Empty(second.Frames(event.UserOffline))
}

func TestPresence_Unregister_Clears_Context_And_Broadcasts_Offline(t *testing.T) {
	req := require.New(t)
	presence := NewPresenceRegistry(slog.Default())
	alice, bob := newConnection(), newConnection()
	presence.Register("alice", alice)
	presence.Register("bob", bob)
	req.True(presence.Enter("bob", "c1"))

	userID, removed := presence.Unregister(bob)

	req.True(removed)
	req.Equal("bob", userID)
	req.False(presence.IsViewing("bob", "c1"))
	_, ok := presence.Lookup("bob")
	req.False(ok)
	offline := alice.Frames(event.UserOffline)
	req.Len(offline, 1)
	req.Equal(event.UserStatus{UserID: "bob"}, offline[0].Data)
}

func TestPresence_Enter_Requires_Presence(t *testing.T) {
	req := require.New(t)
	presence := NewPresenceRegistry(slog.Default())

	req.False(presence.Enter("ghost", "c1"))
	req.False(presence.IsViewing("ghost", "c1"))
}

func TestPresence_Push_To_Absent_User(t *testing.T) {
	req := require.New(t)
	presence := NewPresenceRegistry(slog.Default())

	req.False(presence.Push("ghost", event.NewFrame(event.MessageReceived, nil)))
}

func TestActiveContext_Enter_Leave(t *testing.T) {
	req := require.New(t)
	tracker := NewActiveContextTracker()

	tracker.Enter("alice", "c1")
	req.True(tracker.IsViewing("alice", "c1"))
	tracker.Enter("alice", "c2")
	req.False(tracker.IsViewing("alice", "c1"))
	current, ok := tracker.Current("alice")
	req.True(ok)
	req.Equal("c2", current)

	tracker.Leave("alice")
	_, ok = tracker.Current("alice")
	req.False(ok)
}
