package ws

import (
	"encoding/json"
	"time"

	"github.com/kidsstream/watchparty/internal/domain"
)

type WSMessage struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
	Data   any    `json:"data,omitempty"`
}

// InboundMessage is the client-to-server envelope. Data is decoded per type.
type InboundMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

type PlaybackInbound struct {
	Kind             string  `json:"kind"`
	Position         float64 `json:"position,omitempty"`
	ObservedRevision uint64  `json:"observedRevision"`
}

type ChatInbound struct {
	Text string `json:"text"`
}

type ReactionInbound struct {
	Tag string `json:"tag"`
}

// Payload structs
type ParticipantPayload struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
	AvatarRef    string `json:"avatarRef,omitempty"`
	JoinedAt     string `json:"joinedAt,omitempty"`
	IsHost       bool   `json:"isHost"`
}

type JoinAcceptedPayload struct {
	Participant ParticipantPayload   `json:"participant"`
	Playback    domain.PlaybackState `json:"playback"`
	Roster      []ParticipantPayload `json:"roster"`
	Reactions   []ReactionPayload    `json:"reactions,omitempty"`
}

type HostChangedPayload struct {
	NewHostID   string `json:"newHostId"`
	DisplayName string `json:"displayName"`
}

type ChatPayload struct {
	ConnectionID string `json:"connectionId"`
	DisplayName  string `json:"displayName"`
	Text         string `json:"text"`
	SentAt       string `json:"sentAt"`
}

type ReactionPayload struct {
	ConnectionID string `json:"connectionId"`
	Tag          string `json:"tag"`
	SentAt       string `json:"sentAt"`
}

type ErrorPayload struct {
	Code    string `json:"code,omitempty"`
	Message string `json:"message"`
	Retry   bool   `json:"retry,omitempty"`
}

type RoomClosedPayload struct {
	Reason string `json:"reason"`
}

func participantPayload(p domain.Participant, isHost bool) ParticipantPayload {
	return ParticipantPayload{
		ConnectionID: p.ConnectionID,
		DisplayName:  p.DisplayName,
		AvatarRef:    p.AvatarRef,
		JoinedAt:     p.JoinedAt.Format(time.RFC3339),
		IsHost:       isHost,
	}
}

func NewJoinAccepted(roomID string, self domain.Participant, room *domain.Room, playback domain.PlaybackState, reactions []domain.Reaction) *WSMessage {
	roster := make([]ParticipantPayload, 0, len(room.Participants))
	for _, p := range room.Participants {
		roster = append(roster, participantPayload(p, room.IsHost(p.ConnectionID)))
	}

	recent := make([]ReactionPayload, 0, len(reactions))
	for _, r := range reactions {
		recent = append(recent, ReactionPayload{
			ConnectionID: r.ConnectionID,
			Tag:          r.Tag,
			SentAt:       r.SentAt.Format(time.RFC3339),
		})
	}

	return &WSMessage{
		Type:   JoinAccepted,
		RoomID: roomID,
		Data: JoinAcceptedPayload{
			Participant: participantPayload(self, room.IsHost(self.ConnectionID)),
			Playback:    playback,
			Roster:      roster,
			Reactions:   recent,
		},
	}
}

func NewMemberJoined(roomID string, p domain.Participant, isHost bool) *WSMessage {
	return &WSMessage{
		Type:   MemberJoined,
		RoomID: roomID,
		Data:   participantPayload(p, isHost),
	}
}

func NewMemberLeft(roomID string, p domain.Participant) *WSMessage {
	return &WSMessage{
		Type:   MemberLeft,
		RoomID: roomID,
		Data:   participantPayload(p, false),
	}
}

func NewHostChanged(roomID string, host domain.Participant) *WSMessage {
	return &WSMessage{
		Type:   HostChanged,
		RoomID: roomID,
		Data: HostChangedPayload{
			NewHostID:   host.ConnectionID,
			DisplayName: host.DisplayName,
		},
	}
}

func NewPlaybackChanged(roomID string, state domain.PlaybackState) *WSMessage {
	return &WSMessage{
		Type:   PlaybackChanged,
		RoomID: roomID,
		Data:   state,
	}
}

func NewChatMessage(roomID string, from domain.Participant, text string, sentAt time.Time) *WSMessage {
	return &WSMessage{
		Type:   ChatMessage,
		RoomID: roomID,
		Data: ChatPayload{
			ConnectionID: from.ConnectionID,
			DisplayName:  from.DisplayName,
			Text:         text,
			SentAt:       sentAt.Format(time.RFC3339),
		},
	}
}

func NewReaction(roomID string, from domain.Participant, tag string, sentAt time.Time) *WSMessage {
	return &WSMessage{
		Type:   ReactionEvent,
		RoomID: roomID,
		Data: ReactionPayload{
			ConnectionID: from.ConnectionID,
			Tag:          tag,
			SentAt:       sentAt.Format(time.RFC3339),
		},
	}
}

func NewRoomClosed(roomID, reason string) *WSMessage {
	return &WSMessage{
		Type:   RoomClosed,
		RoomID: roomID,
		Data:   RoomClosedPayload{Reason: reason},
	}
}

func NewError(roomID, code, message string) *WSMessage {
	return &WSMessage{
		Type:   ErrorEvent,
		RoomID: roomID,
		Data: ErrorPayload{
			Code:    code,
			Message: message,
		},
	}
}

func NewJoinFailed(roomID, reason string) *WSMessage {
	return &WSMessage{
		Type:   JoinFailed,
		RoomID: roomID,
		Data: ErrorPayload{
			Code:    "JOIN_FAILED",
			Message: reason,
			Retry:   true,
		},
	}
}
