package events

import (
	"context"
	"encoding/json"

	"github.com/kidsstream/watchparty/internal/domain"
	"github.com/kidsstream/watchparty/internal/infrastructure/messaging"
)

// RoomPublisher pushes party lifecycle events onto the platform message bus.
// Ephemeral traffic (chat, reactions, playback deltas) never goes through
// here; lifecycle only.
type RoomPublisher interface {
	RoomCreated(ctx context.Context, room *domain.Room)
	RoomClosed(ctx context.Context, roomID, reason string)
	MemberJoined(ctx context.Context, roomID string, p domain.Participant)
	MemberLeft(ctx context.Context, roomID string, p domain.Participant)
}

type roomEventData struct {
	RoomID   string `json:"roomId"`
	VideoRef string `json:"videoRef,omitempty"`
	Reason   string `json:"reason,omitempty"`

	ConnectionID string `json:"connectionId,omitempty"`
	DisplayName  string `json:"displayName,omitempty"`
}

type amqpPublisher struct {
	rabbitmq *messaging.RabbitMQ
	onError  func(err error)
}

func NewRoomPublisher(rabbitmq *messaging.RabbitMQ, onError func(err error)) RoomPublisher {
	if onError == nil {
		onError = func(error) {}
	}
	return &amqpPublisher{rabbitmq: rabbitmq, onError: onError}
}

func (p *amqpPublisher) publish(ctx context.Context, routingKey, roomID string, data roomEventData) {
	payload, err := json.Marshal(data)
	if err != nil {
		p.onError(err)
		return
	}

	err = p.rabbitmq.PublishMessage(ctx, routingKey, messaging.AmqpMessage{
		RoomID: roomID,
		Data:   payload,
	})
	if err != nil {
		// A broken bus never takes a party down with it.
		p.onError(err)
	}
}

func (p *amqpPublisher) RoomCreated(ctx context.Context, room *domain.Room) {
	p.publish(ctx, messaging.EventRoomCreated, room.ID, roomEventData{
		RoomID:   room.ID,
		VideoRef: room.VideoRef,
	})
}

func (p *amqpPublisher) RoomClosed(ctx context.Context, roomID, reason string) {
	p.publish(ctx, messaging.EventRoomClosed, roomID, roomEventData{
		RoomID: roomID,
		Reason: reason,
	})
}

func (p *amqpPublisher) MemberJoined(ctx context.Context, roomID string, participant domain.Participant) {
	p.publish(ctx, messaging.EventMemberJoined, roomID, roomEventData{
		RoomID:       roomID,
		ConnectionID: participant.ConnectionID,
		DisplayName:  participant.DisplayName,
	})
}

func (p *amqpPublisher) MemberLeft(ctx context.Context, roomID string, participant domain.Participant) {
	p.publish(ctx, messaging.EventMemberLeft, roomID, roomEventData{
		RoomID:       roomID,
		ConnectionID: participant.ConnectionID,
		DisplayName:  participant.DisplayName,
	})
}

// NopPublisher is used when the message bus is disabled in config.
type NopPublisher struct{}

func (NopPublisher) RoomCreated(context.Context, *domain.Room)                {}
func (NopPublisher) RoomClosed(context.Context, string, string)               {}
func (NopPublisher) MemberJoined(context.Context, string, domain.Participant) {}
func (NopPublisher) MemberLeft(context.Context, string, domain.Participant)   {}
