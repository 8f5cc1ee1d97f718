package ws

import (
	"sync"
	"testing"
	"time"

	"github.com/kidsstream/watchparty/internal/domain"
	"github.com/kidsstream/watchparty/internal/infrastructure/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// fakeSender records messages in delivery order. With reject set it simulates
// a full outbound queue.
type fakeSender struct {
	mu     sync.Mutex
	msgs   []*WSMessage
	reject bool
	closed bool
}

func (f *fakeSender) TrySend(msg *WSMessage) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.reject {
		return false
	}
	f.msgs = append(f.msgs, msg)
	return true
}

func (f *fakeSender) Shutdown() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
}

func (f *fakeSender) types() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, 0, len(f.msgs))
	for _, m := range f.msgs {
		out = append(out, m.Type)
	}
	return out
}

func (f *fakeSender) isClosed() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeSender) last() *WSMessage {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.msgs) == 0 {
		return nil
	}
	return f.msgs[len(f.msgs)-1]
}

func newTestSession(t *testing.T) *Session {
	t.Helper()
	room := domain.NewRoom("video-1", "ABC234", 10)
	return NewSession(room, events.NopPublisher{}, zap.NewNop().Sugar())
}

func join(t *testing.T, s *Session, id, name string) *fakeSender {
	t.Helper()
	c := &fakeSender{}
	require.NoError(t, s.Join(c, domain.NewParticipant(id, name, "")))
	return c
}

func TestJoinFirstParticipantBecomesHost(t *testing.T) {
	s := newTestSession(t)

	alice := join(t, s, "conn-a", "Alice")
	bob := join(t, s, "conn-b", "Bob")

	// The joiner's first message is always join.accepted, before any
	// fan-out can reach it.
	require.NotEmpty(t, alice.types())
	assert.Equal(t, JoinAccepted, alice.types()[0])
	require.Equal(t, []string{JoinAccepted}, bob.types())

	accepted, ok := bob.msgs[0].Data.(JoinAcceptedPayload)
	require.True(t, ok)
	assert.False(t, accepted.Participant.IsHost)
	require.Len(t, accepted.Roster, 2)
	assert.True(t, accepted.Roster[0].IsHost)

	// Alice was told about Bob; Bob was not told about himself.
	assert.Equal(t, []string{JoinAccepted, MemberJoined}, alice.types())
}

func TestJoinCatchesUpMidPlayback(t *testing.T) {
	s := newTestSession(t)
	base := time.Now()
	s.now = func() time.Time { return base }

	join(t, s, "conn-host", "Host")
	require.NoError(t, s.ApplyCommand("conn-host", domain.Command{Kind: domain.CommandPlay}))

	// A participant joining 30s into playback starts 30s in.
	s.now = func() time.Time { return base.Add(30 * time.Second) }
	late := join(t, s, "conn-late", "Late")

	accepted, ok := late.msgs[0].Data.(JoinAcceptedPayload)
	require.True(t, ok)
	assert.True(t, accepted.Playback.Playing)
	assert.InDelta(t, 30.0, accepted.Playback.Position, 0.001)
}

func TestHostLeaveHandsOverToLongestTenured(t *testing.T) {
	s := newTestSession(t)

	join(t, s, "conn-a", "Alice")
	bob := join(t, s, "conn-b", "Bob")
	carol := join(t, s, "conn-c", "Carol")

	s.Leave("conn-a", "disconnect")

	// Both remaining participants see the departure, then the handover,
	// in that order.
	for _, c := range []*fakeSender{bob, carol} {
		types := c.types()
		require.GreaterOrEqual(t, len(types), 2)
		assert.Equal(t, MemberLeft, types[len(types)-2])
		assert.Equal(t, HostChanged, types[len(types)-1])
	}

	handover, ok := bob.last().Data.(HostChangedPayload)
	require.True(t, ok)
	assert.Equal(t, "conn-b", handover.NewHostID)
	assert.Equal(t, "Bob", handover.DisplayName)
}

func TestLeaveIsIdempotentPerConnection(t *testing.T) {
	s := newTestSession(t)

	join(t, s, "conn-a", "Alice")
	bob := join(t, s, "conn-b", "Bob")

	s.Leave("conn-a", "disconnect")
	before := len(bob.types())
	s.Leave("conn-a", "disconnect")

	assert.Len(t, bob.types(), before)
}

func TestApplyCommandFansOutToEveryoneIncludingHost(t *testing.T) {
	s := newTestSession(t)

	host := join(t, s, "conn-host", "Host")
	guest := join(t, s, "conn-guest", "Guest")

	require.NoError(t, s.ApplyCommand("conn-host", domain.Command{
		Kind:     domain.CommandSeek,
		Position: 120,
	}))

	// The host needs the new revision back to issue its next command.
	for _, c := range []*fakeSender{host, guest} {
		last := c.last()
		require.NotNil(t, last)
		require.Equal(t, PlaybackChanged, last.Type)

		state, ok := last.Data.(domain.PlaybackState)
		require.True(t, ok)
		assert.Equal(t, 120.0, state.Position)
		assert.Equal(t, uint64(1), state.Revision)
	}
}

func TestApplyCommandRejectsNonHost(t *testing.T) {
	s := newTestSession(t)

	host := join(t, s, "conn-host", "Host")
	join(t, s, "conn-guest", "Guest")

	err := s.ApplyCommand("conn-guest", domain.Command{Kind: domain.CommandPlay})
	assert.ErrorIs(t, err, domain.ErrNotHost)

	// Nothing was broadcast for the rejected command.
	assert.NotContains(t, host.types(), PlaybackChanged)
}

func TestStaleCommandDroppedWithoutFanOut(t *testing.T) {
	s := newTestSession(t)

	host := join(t, s, "conn-host", "Host")

	require.NoError(t, s.ApplyCommand("conn-host", domain.Command{Kind: domain.CommandPlay}))
	broadcasts := len(host.types())

	err := s.ApplyCommand("conn-host", domain.Command{
		Kind:             domain.CommandPause,
		ObservedRevision: 0, // raced the play above
	})
	assert.ErrorIs(t, err, domain.ErrStaleCommand)
	assert.Len(t, host.types(), broadcasts)
}

func TestChatExcludesAuthor(t *testing.T) {
	s := newTestSession(t)

	alice := join(t, s, "conn-a", "Alice")
	bob := join(t, s, "conn-b", "Bob")

	require.NoError(t, s.Chat("conn-a", "hello"))

	assert.NotContains(t, alice.types(), ChatMessage)
	require.Equal(t, ChatMessage, bob.last().Type)

	payload, ok := bob.last().Data.(ChatPayload)
	require.True(t, ok)
	assert.Equal(t, "Alice", payload.DisplayName)
	assert.Equal(t, "hello", payload.Text)
}

func TestReactionsReplayedToLateJoiners(t *testing.T) {
	s := newTestSession(t)

	join(t, s, "conn-a", "Alice")
	require.NoError(t, s.React("conn-a", "clap"))
	require.NoError(t, s.React("conn-a", "laugh"))

	late := join(t, s, "conn-late", "Late")

	accepted, ok := late.msgs[0].Data.(JoinAcceptedPayload)
	require.True(t, ok)
	require.Len(t, accepted.Reactions, 2)
	assert.Equal(t, "clap", accepted.Reactions[0].Tag)
	assert.Equal(t, "laugh", accepted.Reactions[1].Tag)
}

func TestEventsArriveInPublishOrder(t *testing.T) {
	s := newTestSession(t)

	join(t, s, "conn-host", "Host")
	guest := join(t, s, "conn-guest", "Guest")

	require.NoError(t, s.ApplyCommand("conn-host", domain.Command{Kind: domain.CommandPlay}))
	require.NoError(t, s.Chat("conn-host", "watch this"))
	require.NoError(t, s.ApplyCommand("conn-host", domain.Command{
		Kind:             domain.CommandPause,
		ObservedRevision: 1,
	}))

	assert.Equal(t, []string{JoinAccepted, PlaybackChanged, ChatMessage, PlaybackChanged}, guest.types())
}

func TestOverflowingQueueGetsDisconnected(t *testing.T) {
	s := newTestSession(t)

	join(t, s, "conn-host", "Host")
	guest := join(t, s, "conn-guest", "Guest")
	slow := &fakeSender{}
	require.NoError(t, s.Join(slow, domain.NewParticipant("conn-slow", "Slow", "")))
	slow.mu.Lock()
	slow.reject = true
	slow.mu.Unlock()

	require.NoError(t, s.ApplyCommand("conn-host", domain.Command{Kind: domain.CommandPlay}))

	// The slow participant is dropped through the normal leave path, so
	// everyone else hears about it. Fast participants keep their events.
	assert.Eventually(t, slow.isClosed, time.Second, 10*time.Millisecond)
	types := guest.types()
	assert.Contains(t, types, PlaybackChanged)
	assert.Contains(t, types, MemberLeft)
	assert.Nil(t, s.room.FindParticipant("conn-slow"))
}

func TestCloseDisconnectsEveryoneOnce(t *testing.T) {
	s := newTestSession(t)

	alice := join(t, s, "conn-a", "Alice")
	bob := join(t, s, "conn-b", "Bob")

	s.Close("idle")
	s.Close("idle") // idempotent

	for _, c := range []*fakeSender{alice, bob} {
		require.Equal(t, RoomClosed, c.last().Type)
		assert.Eventually(t, c.isClosed, time.Second, 10*time.Millisecond)
	}

	err := s.Join(&fakeSender{}, domain.NewParticipant("conn-c", "Carol", ""))
	assert.ErrorIs(t, err, domain.ErrRoomClosed)
}

func TestEmptySinceTracksIdleRooms(t *testing.T) {
	s := newTestSession(t)
	base := time.Now()
	s.now = func() time.Time { return base }

	// Never-joined rooms count as idle from creation.
	assert.True(t, s.EmptySince(base.Add(time.Hour)))

	join(t, s, "conn-a", "Alice")
	assert.False(t, s.EmptySince(base.Add(time.Hour)))

	s.Leave("conn-a", "disconnect")
	assert.False(t, s.EmptySince(base))
	assert.True(t, s.EmptySince(base.Add(time.Minute)))
}
