package queue

import (
	"context"

	"github.com/clms-dev/automation-be/shared/rabbitmq"
)

// Delivery is one message handed to a queue worker. Redelivered is set when
// the backend re-sent the message after a previous consumer died without
// acknowledging it.
type Delivery struct {
	Body        []byte
	Redelivered bool
	ack         func() error
}

// Ack acknowledges the delivery with the backend
func (d Delivery) Ack() error {
	if d.ack == nil {
		return nil
	}
	return d.ack()
}

// Broker is the ordered-queue backend the work queues run on. The production
// implementation is RabbitMQ; tests use an in-memory broker.
type Broker interface {
	Publish(ctx context.Context, queue string, body []byte) error
	Consume(ctx context.Context, queue, consumerTag string, prefetch int) (<-chan Delivery, error)
}

type amqpBroker struct {
	client *rabbitmq.Client
}

// NewAMQPBroker adapts the shared RabbitMQ client to the Broker interface
func NewAMQPBroker(client *rabbitmq.Client) Broker {
	return &amqpBroker{client: client}
}

func (b *amqpBroker) Publish(ctx context.Context, queue string, body []byte) error {
	return b.client.Publish(ctx, queue, body)
}

func (b *amqpBroker) Consume(ctx context.Context, queue, consumerTag string, prefetch int) (<-chan Delivery, error) {
	messages, err := b.client.Consume(queue, consumerTag, prefetch)
	if err != nil {
		return nil, err
	}

	out := make(chan Delivery)
	go func() {
		defer close(out)
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-messages:
				if !ok {
					return
				}
				d := Delivery{
					Body:        msg.Body,
					Redelivered: msg.Redelivered,
					ack: func() error {
						return msg.Ack(false)
					},
				}
				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
			}
		}
	}()

	return out, nil
}
