package chat_test

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Tyrowin/anonychat/internal/chat"
)

type sessionFixture struct {
	store    *chat.Store
	sessions *chat.SessionManager
	events   *recorder
	clock    *fakeClock
}

func newSessionFixture(t *testing.T, cfg chat.SessionConfig) *sessionFixture {
	t.Helper()
	clock := newFakeClock()
	store := chat.NewStore(chat.DefaultStoreConfig(), testLogger(), chat.WithClock(clock.Now))
	events := newRecorder()
	sessions := chat.NewSessionManager(store, events, cfg, testLogger())
	sessions.SetClock(clock.Now)
	return &sessionFixture{store: store, sessions: sessions, events: events, clock: clock}
}

func (f *sessionFixture) connectAndJoin(t *testing.T, conn, room, name string) chat.JoinResult {
	t.Helper()
	f.sessions.Connect(conn)
	res, err := f.sessions.Join(conn, chat.JoinRequest{RoomCode: room, DisplayName: name})
	require.NoError(t, err)
	return res
}

func TestSessionManager_Scenario(t *testing.T) {
	f := newSessionFixture(t, chat.DefaultSessionConfig())

	f.sessions.Connect("alice")
	res, err := f.sessions.Join("alice", chat.JoinRequest{RoomCode: "ABCD", DisplayName: "Alice", MaxMembers: 2})
	require.NoError(t, err)
	assert.Empty(t, res.History)
	assert.Equal(t, 2, res.Room.MaxMembers)

	bob := f.connectAndJoin(t, "bob", "ABCD", "Bob")
	require.Len(t, bob.History, 1)
	assert.Equal(t, chat.KindSystem, bob.History[0].Kind)
	assert.Contains(t, bob.History[0].Text, "Alice joined")

	f.events.Reset()
	msg, err := f.sessions.SendText("alice", "hi")
	require.NoError(t, err)
	for _, id := range []string{"alice", "bob"} {
		got := f.events.Messages(id)
		require.Len(t, got, 1, id)
		assert.Equal(t, chat.KindText, got[0].Kind)
		assert.Equal(t, "Alice", got[0].AuthorName)
		assert.Equal(t, "hi", got[0].Body)
		assert.Equal(t, msg.ID, got[0].ID)
	}

	f.sessions.Connect("carol")
	_, err = f.sessions.Join("carol", chat.JoinRequest{RoomCode: "ABCD", DisplayName: "Carol"})
	assert.ErrorIs(t, err, chat.ErrRoomFull)
	assert.Len(t, f.store.Members("ABCD"), 2)
	carol, _ := f.sessions.Session("carol")
	assert.Empty(t, carol.RoomCode)

	f.events.Reset()
	f.sessions.Disconnect("bob")
	got := f.events.Messages("alice")
	require.Len(t, got, 1)
	assert.Equal(t, "Bob left the room", got[0].Text)
	assert.Empty(t, f.events.For("bob"))

	f.sessions.Disconnect("alice")
	_, ok := f.store.GetRoom("ABCD")
	assert.False(t, ok)
	assert.Equal(t, 1, f.sessions.Count(), "only carol remains connected")
}

func TestSessionManager_JoinDeliversHistoryPrivately(t *testing.T) {
	f := newSessionFixture(t, chat.DefaultSessionConfig())
	f.connectAndJoin(t, "a", "room", "A")
	for i := 0; i < 5; i++ {
		_, err := f.sessions.SendText("a", fmt.Sprintf("m%d", i))
		require.NoError(t, err)
		f.clock.Advance(time.Second)
	}
	before := f.store.History("room")

	f.events.Reset()
	res := f.connectAndJoin(t, "b", "room", "B")
	assert.Equal(t, before, res.History)

	bEvents := f.events.For("b")
	require.GreaterOrEqual(t, len(bEvents), 3)
	assert.Equal(t, chat.EventJoined, bEvents[0].Type)
	assert.Equal(t, chat.EventHistory, bEvents[1].Type)
	assert.Equal(t, before, bEvents[1].Data.([]chat.Message))
	assert.Equal(t, chat.EventMessage, bEvents[2].Type, "join notice follows the replay")

	assert.Empty(t, f.events.OfType("a", chat.EventHistory), "history goes to the joiner only")
	assert.Len(t, f.events.OfType("a", chat.EventPresence), 1)
}

func TestSessionManager_Rejoin(t *testing.T) {
	f := newSessionFixture(t, chat.DefaultSessionConfig())
	f.connectAndJoin(t, "a", "room", "A")
	_, err := f.sessions.SendText("a", "hello")
	require.NoError(t, err)
	logLen := len(f.store.History("room"))

	f.events.Reset()
	res, err := f.sessions.Join("a", chat.JoinRequest{RoomCode: " room ", DisplayName: "A"})
	require.NoError(t, err)
	assert.True(t, res.Rejoined)
	assert.Len(t, res.History, logLen)
	assert.Len(t, f.store.History("room"), logLen, "re-join does not announce")
	assert.Len(t, f.events.OfType("a", chat.EventHistory), 1)
	assert.Len(t, f.store.Members("room"), 1)
}

func TestSessionManager_SwitchRooms(t *testing.T) {
	f := newSessionFixture(t, chat.DefaultSessionConfig())
	f.connectAndJoin(t, "a", "one", "A")
	f.connectAndJoin(t, "b", "one", "B")

	f.events.Reset()
	_, err := f.sessions.Join("a", chat.JoinRequest{RoomCode: "two", DisplayName: "A"})
	require.NoError(t, err)

	sess, _ := f.sessions.Session("a")
	assert.Equal(t, "two", sess.RoomCode)
	assert.False(t, f.store.HasMember("one", "a"))
	got := f.events.Messages("b")
	require.Len(t, got, 1)
	assert.Equal(t, "A left the room", got[0].Text)
}

func TestSessionManager_SwitchToFullRoomKeepsCurrentRoom(t *testing.T) {
	f := newSessionFixture(t, chat.DefaultSessionConfig())
	f.sessions.Connect("x")
	_, err := f.sessions.Join("x", chat.JoinRequest{RoomCode: "full", DisplayName: "X", MaxMembers: 1})
	require.NoError(t, err)
	f.connectAndJoin(t, "a", "home", "A")

	_, err = f.sessions.Join("a", chat.JoinRequest{RoomCode: "full", DisplayName: "A"})
	assert.ErrorIs(t, err, chat.ErrRoomFull)

	sess, _ := f.sessions.Session("a")
	assert.Equal(t, "home", sess.RoomCode)
	assert.True(t, f.store.HasMember("home", "a"))
}

func TestSessionManager_InvalidJoin(t *testing.T) {
	f := newSessionFixture(t, chat.DefaultSessionConfig())
	f.sessions.Connect("a")

	tests := []struct {
		name string
		req  chat.JoinRequest
	}{
		{name: "empty code", req: chat.JoinRequest{RoomCode: "", DisplayName: "A"}},
		{name: "whitespace code", req: chat.JoinRequest{RoomCode: "   ", DisplayName: "A"}},
		{name: "empty name", req: chat.JoinRequest{RoomCode: "room", DisplayName: " "}},
		{name: "long name", req: chat.JoinRequest{RoomCode: "room", DisplayName: strings.Repeat("n", 51)}},
		{name: "long code", req: chat.JoinRequest{RoomCode: strings.Repeat("c", 65), DisplayName: "A"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.sessions.Join("a", tt.req)
			assert.ErrorIs(t, err, chat.ErrInvalidInput)
			assert.Equal(t, 0, f.store.Len())
		})
	}

	_, err := f.sessions.Join("unknown", chat.JoinRequest{RoomCode: "room", DisplayName: "A"})
	assert.ErrorIs(t, err, chat.ErrUnknownSession)
}

func TestSessionManager_LeaveWithoutRoomIsNoop(t *testing.T) {
	f := newSessionFixture(t, chat.DefaultSessionConfig())
	f.sessions.Connect("a")

	assert.NoError(t, f.sessions.Leave("a"))
	assert.Empty(t, f.events.For("a"))
}

func TestSessionManager_ExplicitLeave(t *testing.T) {
	f := newSessionFixture(t, chat.DefaultSessionConfig())
	f.connectAndJoin(t, "a", "room", "A")
	f.connectAndJoin(t, "b", "room", "B")

	f.events.Reset()
	require.NoError(t, f.sessions.Leave("a"))

	sess, ok := f.sessions.Session("a")
	require.True(t, ok, "leave keeps the connection")
	assert.Empty(t, sess.RoomCode)
	assert.Len(t, f.events.OfType("a", chat.EventLeft), 1)

	presence := f.events.OfType("b", chat.EventPresence)
	require.Len(t, presence, 1)
	assert.Equal(t, []chat.Member{{ConnectionID: "b", Name: "B"}}, presence[0].Data.(chat.PresencePayload).Members)

	_, err := f.sessions.SendText("a", "anyone?")
	assert.ErrorIs(t, err, chat.ErrNotJoined)
}

func TestSessionManager_RateLimited(t *testing.T) {
	cfg := chat.DefaultSessionConfig()
	cfg.Bucket = chat.BucketConfig{Capacity: 2, TokensPerInterval: 1, Interval: time.Second}
	f := newSessionFixture(t, cfg)
	f.connectAndJoin(t, "a", "room", "A")
	before := len(f.store.History("room"))

	_, err := f.sessions.SendText("a", "1")
	require.NoError(t, err)
	_, err = f.sessions.SendText("a", "2")
	require.NoError(t, err)
	_, err = f.sessions.SendText("a", "3")
	assert.ErrorIs(t, err, chat.ErrRateLimited)
	assert.Len(t, f.store.History("room"), before+2, "rejected messages are not stored")

	f.clock.Advance(time.Second)
	_, err = f.sessions.SendText("a", "4")
	assert.NoError(t, err)
}

func TestSessionManager_SendTextValidation(t *testing.T) {
	cfg := chat.DefaultSessionConfig()
	cfg.MaxTextLength = 5
	f := newSessionFixture(t, cfg)
	f.connectAndJoin(t, "a", "room", "A")

	_, err := f.sessions.SendText("a", "   ")
	assert.ErrorIs(t, err, chat.ErrInvalidInput)
	_, err = f.sessions.SendText("a", "toolong")
	assert.ErrorIs(t, err, chat.ErrInvalidInput)
	_, err = f.sessions.SendText("a", "héllo")
	assert.NoError(t, err, "length counts characters, not bytes")
}

func TestSessionManager_SendFile(t *testing.T) {
	f := newSessionFixture(t, chat.DefaultSessionConfig())
	f.connectAndJoin(t, "a", "room", "A")
	f.connectAndJoin(t, "b", "room", "B")

	ref := chat.FileRef{URL: "/uploads/x.png", OriginalName: "cat.png", SizeBytes: 42, MimeType: "image/png"}
	f.events.Reset()
	msg, err := f.sessions.SendFile("a", ref)
	require.NoError(t, err)
	assert.Equal(t, chat.KindFile, msg.Kind)
	require.NotNil(t, msg.File)
	assert.Equal(t, ref, *msg.File)
	assert.Len(t, f.events.Messages("b"), 1)

	_, err = f.sessions.SendFile("a", chat.FileRef{URL: "https://elsewhere.example/x.png", OriginalName: "x", SizeBytes: 1, MimeType: "image/png"})
	assert.ErrorIs(t, err, chat.ErrInvalidInput)

	_, err = f.sessions.SendFile("a", chat.FileRef{URL: "/uploads/y"})
	assert.ErrorIs(t, err, chat.ErrInvalidInput)
}

func TestSessionManager_Typing(t *testing.T) {
	f := newSessionFixture(t, chat.DefaultSessionConfig())
	f.connectAndJoin(t, "a", "room", "A")
	f.connectAndJoin(t, "b", "room", "B")
	logLen := len(f.store.History("room"))

	f.events.Reset()
	require.NoError(t, f.sessions.Typing("a"))

	assert.Empty(t, f.events.For("a"), "typing is not echoed to the sender")
	typing := f.events.OfType("b", chat.EventTyping)
	require.Len(t, typing, 1)
	assert.Equal(t, chat.TypingPayload{ConnectionID: "a", Name: "A"}, typing[0].Data)
	assert.Len(t, f.store.History("room"), logLen, "typing is never stored")
}

func TestSessionManager_RoomNotRecognized(t *testing.T) {
	f := newSessionFixture(t, chat.DefaultSessionConfig())
	f.connectAndJoin(t, "a", "room", "A")

	f.store.DeleteRoom("room")
	f.events.Reset()

	_, err := f.sessions.SendText("a", "hello?")
	assert.ErrorIs(t, err, chat.ErrRoomNotRecognized)
	assert.Empty(t, f.events.For("a"))

	sess, _ := f.sessions.Session("a")
	assert.Empty(t, sess.RoomCode, "binding is cleared")
}

func TestSessionManager_OrderingAcrossMembers(t *testing.T) {
	f := newSessionFixture(t, chat.DefaultSessionConfig())
	ids := []string{"a", "b", "c"}
	for _, id := range ids {
		f.connectAndJoin(t, id, "room", strings.ToUpper(id))
	}

	f.events.Reset()
	for i := 0; i < 3; i++ {
		for _, id := range ids {
			_, err := f.sessions.SendText(id, fmt.Sprintf("%s-%d", id, i))
			require.NoError(t, err)
		}
	}

	reference := f.events.Messages("a")
	require.Len(t, reference, 9)
	for _, id := range ids[1:] {
		assert.Equal(t, reference, f.events.Messages(id))
	}
	history := f.store.History("room")
	assert.Equal(t, reference, history[len(history)-9:])
}

func TestSessionManager_Presence(t *testing.T) {
	f := newSessionFixture(t, chat.DefaultSessionConfig())
	f.connectAndJoin(t, "a", "room", "Same")
	f.connectAndJoin(t, "b", "room", "Same")

	assert.Equal(t, []chat.Member{
		{ConnectionID: "a", Name: "Same"},
		{ConnectionID: "b", Name: "Same"},
	}, f.sessions.Presence("room"))
}
