package ws

import (
	"context"
	"sync"
	"time"

	"github.com/kidsstream/watchparty/internal/domain"
	"github.com/kidsstream/watchparty/internal/infrastructure/events"
	"github.com/kidsstream/watchparty/internal/infrastructure/metrics"
	"go.uber.org/zap"
)

// sender is one connected participant's outbound queue. TrySend never blocks:
// it reports false when the queue is full or the connection is gone, and the
// session reacts by dropping the connection rather than letting the queue grow.
type sender interface {
	TrySend(msg *WSMessage) bool
	Shutdown()
}

// Session owns all mutable state of one room: roster, host pointer and
// playback. Every mutation goes through its mutex, so join, leave and
// transport commands never interleave inconsistently for the same room.
// Sends to participants are non-blocking channel writes, so no network I/O
// happens while the lock is held. Different rooms share nothing.
type Session struct {
	mu      sync.Mutex
	room    *domain.Room
	clients map[string]sender // connection ID -> outbound queue
	closed  bool

	// emptySince is set while the roster is empty; the janitor destroys
	// rooms that stay empty past the idle expiry.
	emptySince time.Time

	// pendingLeft collects participants dropped for backpressure while the
	// lock was held; their leave events are published after release.
	pendingLeft []domain.Participant

	publisher events.RoomPublisher
	logger    *zap.SugaredLogger
	now       func() time.Time
}

func NewSession(room *domain.Room, publisher events.RoomPublisher, logger *zap.SugaredLogger) *Session {
	return &Session{
		room:       room,
		clients:    make(map[string]sender),
		emptySince: time.Now(),
		publisher:  publisher,
		logger:     logger,
		now:        time.Now,
	}
}

func (s *Session) RoomID() string { return s.room.ID }

// Join registers a connection and assigns the host role to the first joiner.
// The joiner's queue receives join.accepted — catch-up playback state, roster
// snapshot, recent reactions — before any later event can be fanned out to
// it; everyone else gets member.joined.
func (s *Session) Join(c sender, p domain.Participant) error {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return domain.ErrRoomClosed
	}

	if err := s.room.Join(p); err != nil {
		s.mu.Unlock()
		return err
	}

	s.clients[p.ConnectionID] = c
	s.emptySince = time.Time{}

	catchUp := s.room.Playback.CatchUp(s.now())
	c.TrySend(NewJoinAccepted(s.room.ID, p, s.room, catchUp, s.room.RecentReactions()))

	s.dispatchLocked(NewMemberJoined(s.room.ID, p, s.room.IsHost(p.ConnectionID)), p.ConnectionID)

	s.mu.Unlock()
	s.flushPending()

	metrics.ParticipantsActive.Inc()
	s.publisher.MemberJoined(context.Background(), s.room.ID, p)
	s.logger.Infow("participant joined", "room", s.room.ID, "connection", p.ConnectionID, "name", p.DisplayName)

	return nil
}

// Leave removes a connection from the room. If the host left, the
// longest-tenured remaining participant is promoted and host.changed is
// broadcast; the room is never observably hostless. Idempotent per connection.
func (s *Session) Leave(connectionID, reason string) {
	s.mu.Lock()
	left, ok := s.leaveLocked(connectionID)
	s.mu.Unlock()
	s.flushPending()

	if !ok {
		return
	}

	metrics.ParticipantsActive.Dec()
	s.publisher.MemberLeft(context.Background(), s.room.ID, left)
	s.logger.Infow("participant left", "room", s.room.ID, "connection", connectionID, "reason", reason)
}

// leaveLocked removes the participant and emits member.left plus, on a host
// departure, host.changed. Caller holds the mutex.
func (s *Session) leaveLocked(connectionID string) (domain.Participant, bool) {
	left, newHost, err := s.room.Leave(connectionID)
	if err != nil {
		return domain.Participant{}, false
	}
	delete(s.clients, connectionID)

	s.dispatchLocked(NewMemberLeft(s.room.ID, left), "")
	if newHost != nil {
		s.dispatchLocked(NewHostChanged(s.room.ID, *newHost), "")
	}

	if s.room.Empty() {
		s.emptySince = s.now()
	}
	return left, true
}

// ApplyCommand applies a host transport command and fans the new state out to
// every participant, the originator included: the new revision is what lets
// the host issue its next command. ErrStaleCommand is resolved here (dropped
// silently); ErrNotHost is reported back to the caller only.
func (s *Session) ApplyCommand(connectionID string, cmd domain.Command) error {
	s.mu.Lock()

	if s.closed {
		s.mu.Unlock()
		return domain.ErrRoomClosed
	}

	state, err := s.room.ApplyCommand(connectionID, cmd, s.now())
	if err != nil {
		s.mu.Unlock()
		switch err {
		case domain.ErrNotHost:
			metrics.CommandsRejected.WithLabelValues("not_host").Inc()
		case domain.ErrStaleCommand:
			metrics.CommandsRejected.WithLabelValues("stale").Inc()
		}
		return err
	}

	s.dispatchLocked(NewPlaybackChanged(s.room.ID, state), "")
	s.mu.Unlock()
	s.flushPending()

	return nil
}

// CatchUp returns the authoritative playback state extrapolated to now.
func (s *Session) CatchUp() domain.PlaybackState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.room.Playback.CatchUp(s.now())
}

// Chat fans a chat message out to everyone except the author. No state
// change, no persistence.
func (s *Session) Chat(connectionID, text string) error {
	s.mu.Lock()

	from := s.room.FindParticipant(connectionID)
	if from == nil {
		s.mu.Unlock()
		return domain.ErrParticipantNotFound
	}

	s.dispatchLocked(NewChatMessage(s.room.ID, *from, text, s.now()), connectionID)
	s.mu.Unlock()
	s.flushPending()
	return nil
}

// React fans a reaction out to everyone except the author and records it in
// the room's bounded recent window for late joiners.
func (s *Session) React(connectionID, tag string) error {
	s.mu.Lock()

	from := s.room.FindParticipant(connectionID)
	if from == nil {
		s.mu.Unlock()
		return domain.ErrParticipantNotFound
	}

	sentAt := s.now()
	s.room.AddReaction(domain.Reaction{ConnectionID: connectionID, Tag: tag, SentAt: sentAt})
	s.dispatchLocked(NewReaction(s.room.ID, *from, tag, sentAt), connectionID)
	s.mu.Unlock()
	s.flushPending()
	return nil
}

// Close tears the whole room down: every participant gets room.closed and is
// disconnected. Terminal and idempotent.
func (s *Session) Close(reason string) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true

	msg := NewRoomClosed(s.room.ID, reason)
	dropped := 0
	for id, c := range s.clients {
		c.TrySend(msg)
		go c.Shutdown()
		delete(s.clients, id)
		dropped++
	}
	s.room.Participants = s.room.Participants[:0]
	s.room.HostID = ""
	s.mu.Unlock()

	metrics.ParticipantsActive.Sub(float64(dropped))
}

// Empty reports whether the room has been without participants since before
// the cutoff. A never-joined room counts from its creation.
func (s *Session) EmptySince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.emptySince.IsZero() && s.emptySince.Before(cutoff)
}

// dispatchLocked delivers msg to every connected participant except the one
// named by except, in publish order. A participant whose queue overflows is
// treated as unresponsive and removed through the normal leave path; removals
// cascade until every remaining queue accepted its events.
func (s *Session) dispatchLocked(msg *WSMessage, except string) {
	metrics.EventsBroadcast.WithLabelValues(msg.Type).Inc()

	var overflowed []string
	for id, c := range s.clients {
		if id == except {
			continue
		}
		if !c.TrySend(msg) {
			overflowed = append(overflowed, id)
		}
	}

	for _, id := range overflowed {
		c, ok := s.clients[id]
		if !ok {
			continue // already dropped by a cascaded removal
		}
		metrics.ClientsDropped.Inc()
		s.logger.Warnw("outbound queue overflow, dropping connection", "room", s.room.ID, "connection", id)
		go c.Shutdown()
		if left, ok := s.leaveLocked(id); ok {
			s.pendingLeft = append(s.pendingLeft, left)
		}
	}
}

// flushPending publishes leave events for connections dropped while the lock
// was held. Called after every public mutation, outside the lock.
func (s *Session) flushPending() {
	s.mu.Lock()
	pending := s.pendingLeft
	s.pendingLeft = nil
	s.mu.Unlock()

	for _, p := range pending {
		metrics.ParticipantsActive.Dec()
		s.publisher.MemberLeft(context.Background(), s.room.ID, p)
	}
}
