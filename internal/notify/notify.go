// Package notify publishes fire-and-forget notifications when an order
// ships. Delivery failure is logged and never propagates into the status
// transition that triggered it.
package notify

import (
	"context"
	"encoding/json"
	"log"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
)

// ShippedNotice carries what a delivery channel needs to tell the customer
// their order is on the way.
type ShippedNotice struct {
	OrderNumber        string    `json:"order_number"`
	CustomerName       string    `json:"customer_name"`
	CustomerEmail      string    `json:"customer_email"`
	ShippingAddress    string    `json:"shipping_address"`
	ShippingCity       string    `json:"shipping_city"`
	ShippingPostalCode string    `json:"shipping_postal_code"`
	ShippedAt          time.Time `json:"shipped_at"`
}

type Notifier interface {
	OrderShipped(ctx context.Context, notice ShippedNotice) error
}

// LogNotifier is the fallback when no broker is configured.
type LogNotifier struct{}

func (LogNotifier) OrderShipped(_ context.Context, notice ShippedNotice) error {
	log.Printf("order %s shipped to %s (%s, %s)",
		notice.OrderNumber, notice.CustomerName, notice.ShippingAddress, notice.ShippingCity)
	return nil
}

// AMQPNotifier publishes shipped notices to a fanout exchange; whatever
// channel adapters (email, messaging) are bound to it do the delivery.
type AMQPNotifier struct {
	conn     *amqp.Connection
	channel  *amqp.Channel
	exchange string
}

func NewAMQPNotifier(url, exchange string) (*AMQPNotifier, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, err
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, err
	}

	if err := ch.ExchangeDeclare(
		exchange,
		"fanout",
		true,  // durable
		false, // auto-delete
		false, // internal
		false, // no-wait
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, err
	}

	return &AMQPNotifier{conn: conn, channel: ch, exchange: exchange}, nil
}

func (n *AMQPNotifier) OrderShipped(ctx context.Context, notice ShippedNotice) error {
	body, err := json.Marshal(notice)
	if err != nil {
		return err
	}

	return n.channel.PublishWithContext(ctx,
		n.exchange,
		"", // fanout ignores the routing key
		false,
		false,
		amqp.Publishing{
			DeliveryMode: amqp.Persistent,
			Timestamp:    time.Now(),
			ContentType:  "application/json",
			Body:         body,
		},
	)
}

func (n *AMQPNotifier) Close() {
	if n.channel != nil {
		n.channel.Close()
	}
	if n.conn != nil {
		n.conn.Close()
	}
}
