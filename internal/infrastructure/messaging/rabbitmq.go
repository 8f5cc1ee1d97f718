package messaging

import (
	"context"
	"encoding/json"
	"fmt"

	amqp "github.com/rabbitmq/amqp091-go"
)

const (
	PartyExchange = "party"
	RoomsQueue    = "party_rooms"
)

// Routing keys for party lifecycle events consumed by the rest of the
// KidsStream platform (activity feeds, parental dashboards).
const (
	EventRoomCreated  = "room.created"
	EventRoomClosed   = "room.closed"
	EventMemberJoined = "member.joined"
	EventMemberLeft   = "member.left"
)

// AmqpMessage is the message structure for AMQP.
type AmqpMessage struct {
	RoomID string `json:"roomId"`
	Data   []byte `json:"data"`
}

type RabbitMQ struct {
	conn    *amqp.Connection
	Channel *amqp.Channel
}

func NewRabbitMQ(uri string) (*RabbitMQ, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %v", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to create channel: %v", err)
	}

	rmq := &RabbitMQ{
		conn:    conn,
		Channel: ch,
	}

	if err := rmq.setup(); err != nil {
		rmq.Close()
		return nil, err
	}

	return rmq, nil
}

func (r *RabbitMQ) setup() error {
	if err := r.Channel.ExchangeDeclare(
		PartyExchange,
		"topic",
		true,  // durable
		false, // auto-deleted
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		return fmt.Errorf("failed to declare exchange: %v", err)
	}

	q, err := r.Channel.QueueDeclare(
		RoomsQueue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %v", err)
	}

	for _, key := range []string{EventRoomCreated, EventRoomClosed, EventMemberJoined, EventMemberLeft} {
		if err := r.Channel.QueueBind(q.Name, key, PartyExchange, false, nil); err != nil {
			return fmt.Errorf("failed to bind queue to %s: %v", key, err)
		}
	}

	return nil
}

func (r *RabbitMQ) PublishMessage(ctx context.Context, routingKey string, message AmqpMessage) error {
	body, err := json.Marshal(message)
	if err != nil {
		return err
	}

	return r.Channel.PublishWithContext(ctx,
		PartyExchange,
		routingKey,
		false, // mandatory
		false, // immediate
		amqp.Publishing{
			ContentType: "application/json",
			Body:        body,
		},
	)
}

func (r *RabbitMQ) Close() {
	if r.Channel != nil {
		r.Channel.Close()
	}
	if r.conn != nil {
		r.conn.Close()
	}
}
