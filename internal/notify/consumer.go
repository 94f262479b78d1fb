package notify

import (
	"encoding/json"
	"fmt"

	"github.com/ibookstore/bookstore/internal/events"
	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"
)

// Mailer delivers a notice to its recipient. The default implementation only
// logs; actual mail transport lives outside this service.
type Mailer interface {
	DeliverSupplierNotice(notice events.SupplierNotice) error
	DeliverCustomerNotice(notice events.CustomerNotice) error
}

// LogMailer logs deliveries instead of sending them
type LogMailer struct {
	log *zap.Logger
}

// NewLogMailer creates a log-only mailer
func NewLogMailer(logger *zap.Logger) *LogMailer {
	return &LogMailer{log: logger}
}

func (m *LogMailer) DeliverSupplierNotice(notice events.SupplierNotice) error {
	m.log.Info("Would mail supplier",
		zap.String("to", notice.Email),
		zap.String("supplier", notice.SupplierName),
		zap.String("book", notice.BookTitle),
		zap.Int("quantity", notice.Quantity),
		zap.Int64("purchase_order_id", notice.PurchaseOrderID),
	)
	return nil
}

func (m *LogMailer) DeliverCustomerNotice(notice events.CustomerNotice) error {
	m.log.Info("Would mail customer",
		zap.String("to", notice.Email),
		zap.Int64("order_id", notice.OrderID),
		zap.String("status", notice.Status),
	)
	return nil
}

// Consumer drains notification events off the bus and hands them to a Mailer
type Consumer struct {
	conn    *amqp.Connection
	channel *amqp.Channel
	queue   string
	mailer  Mailer
	log     *zap.Logger
}

// NewConsumer creates a consumer bound to the notification routing keys
func NewConsumer(url, queueName string, mailer Mailer, logger *zap.Logger) (*Consumer, error) {
	conn, err := amqp.Dial(url)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(
		events.ExchangeName,
		"topic",
		true,
		false,
		false,
		false,
		nil,
	); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange: %w", err)
	}

	return &Consumer{
		conn:    conn,
		channel: ch,
		queue:   queueName,
		mailer:  mailer,
		log:     logger,
	}, nil
}

// Start declares the queue, binds it and blocks consuming messages until the
// channel closes.
func (c *Consumer) Start() error {
	queue, err := c.channel.QueueDeclare(
		c.queue,
		true,  // durable
		false, // delete when unused
		false, // exclusive
		false, // no-wait
		nil,   // arguments
	)
	if err != nil {
		return fmt.Errorf("failed to declare queue: %w", err)
	}

	routingKeys := []string{
		events.EventTypeSupplierNotice,
		events.EventTypeCustomerNotice,
	}

	for _, key := range routingKeys {
		if err := c.channel.QueueBind(
			queue.Name,
			key,
			events.ExchangeName,
			false,
			nil,
		); err != nil {
			return fmt.Errorf("failed to bind queue to %s: %w", key, err)
		}
		c.log.Info("Listening for events", zap.String("routing_key", key))
	}

	msgs, err := c.channel.Consume(
		queue.Name,
		"notification-worker", // consumer tag
		false,                 // auto-ack
		false,                 // exclusive
		false,                 // no-local
		false,                 // no-wait
		nil,                   // args
	)
	if err != nil {
		return fmt.Errorf("failed to register consumer: %w", err)
	}

	for msg := range msgs {
		c.handleMessage(msg)
	}

	return nil
}

func (c *Consumer) handleMessage(msg amqp.Delivery) {
	var event events.Event
	if err := json.Unmarshal(msg.Body, &event); err != nil {
		c.log.Error("Malformed event, dropping", zap.String("routing_key", msg.RoutingKey), zap.Error(err))
		msg.Nack(false, false)
		return
	}

	var err error
	switch msg.RoutingKey {
	case events.EventTypeSupplierNotice:
		var notice events.SupplierNotice
		if err = json.Unmarshal(event.Payload, &notice); err == nil {
			err = c.mailer.DeliverSupplierNotice(notice)
		}
	case events.EventTypeCustomerNotice:
		var notice events.CustomerNotice
		if err = json.Unmarshal(event.Payload, &notice); err == nil {
			err = c.mailer.DeliverCustomerNotice(notice)
		}
	default:
		c.log.Warn("Unexpected routing key", zap.String("routing_key", msg.RoutingKey))
		msg.Ack(false)
		return
	}

	if err != nil {
		// Delivery is best-effort; log and drop rather than requeue forever
		c.log.Error("Failed to deliver notice",
			zap.String("event_id", event.EventID),
			zap.String("routing_key", msg.RoutingKey),
			zap.Error(err),
		)
		msg.Nack(false, false)
		return
	}

	msg.Ack(false)
}

// Close closes the consumer connection
func (c *Consumer) Close() error {
	if c.channel != nil {
		c.channel.Close()
	}
	if c.conn != nil {
		return c.conn.Close()
	}
	return nil
}
