package trigger

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"

	"github.com/sabalioglu/ai-ugc/internal/infra"
)

const routingPrefix = "stage."

// channel is the part of *amqp.Channel the queue adapters use.
type channel interface {
	ExchangeDeclare(name, kind string, durable, autoDelete, internal, noWait bool, args amqp.Table) error
	QueueDeclare(name string, durable, autoDelete, exclusive, noWait bool, args amqp.Table) (amqp.Queue, error)
	QueueBind(name, key, exchange string, noWait bool, args amqp.Table) error
	Qos(prefetchCount, prefetchSize int, global bool) error
	Consume(queue, consumer string, autoAck, exclusive, noLocal, noWait bool, args amqp.Table) (<-chan amqp.Delivery, error)
	PublishWithContext(ctx context.Context, exchange, key string, mandatory, immediate bool, msg amqp.Publishing) error
	Close() error
}

func declareExchange(ch channel, exchange string) error {
	return ch.ExchangeDeclare(exchange, "topic", true, false, false, false, nil)
}

// AMQPPublisher publishes stage events to a durable topic exchange, one
// routing key per status.
type AMQPPublisher struct {
	mu       sync.Mutex
	ch       channel
	exchange string
}

func NewAMQPPublisher(conn *amqp.Connection, exchange string) (*AMQPPublisher, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	return newAMQPPublisher(ch, exchange)
}

func newAMQPPublisher(ch channel, exchange string) (*AMQPPublisher, error) {
	if err := declareExchange(ch, exchange); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	return &AMQPPublisher{ch: ch, exchange: exchange}, nil
}

func (p *AMQPPublisher) Publish(ctx context.Context, ev Event) error {
	body, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ch.PublishWithContext(ctx, p.exchange, routingPrefix+string(ev.Status), false, false, amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    ev.JobID + ":" + string(ev.Status),
		Body:         body,
	})
}

func (p *AMQPPublisher) Close() error {
	return p.ch.Close()
}

// AMQPConsumer feeds queued stage events into a dispatcher. Deliveries are
// acknowledged after the handler returns and requeued when it errors.
type AMQPConsumer struct {
	ch         channel
	queue      string
	dispatcher *Dispatcher
	logger     *infra.Logger
	wg         sync.WaitGroup
}

// NewAMQPConsumer declares the durable queue, binds it to every stage routing
// key and limits unacknowledged deliveries to prefetch.
func NewAMQPConsumer(conn *amqp.Connection, exchange, queue string, prefetch int, d *Dispatcher, logger *infra.Logger) (*AMQPConsumer, error) {
	ch, err := conn.Channel()
	if err != nil {
		return nil, fmt.Errorf("open amqp channel: %w", err)
	}
	return newAMQPConsumer(ch, exchange, queue, prefetch, d, logger)
}

func newAMQPConsumer(ch channel, exchange, queue string, prefetch int, d *Dispatcher, logger *infra.Logger) (*AMQPConsumer, error) {
	if logger == nil {
		logger = infra.DiscardLogger()
	}
	if prefetch < 1 {
		prefetch = 1
	}
	if err := declareExchange(ch, exchange); err != nil {
		return nil, fmt.Errorf("declare exchange %s: %w", exchange, err)
	}
	if _, err := ch.QueueDeclare(queue, true, false, false, false, nil); err != nil {
		return nil, fmt.Errorf("declare queue %s: %w", queue, err)
	}
	if err := ch.QueueBind(queue, routingPrefix+"*", exchange, false, nil); err != nil {
		return nil, fmt.Errorf("bind queue %s: %w", queue, err)
	}
	if err := ch.Qos(prefetch, 0, false); err != nil {
		return nil, fmt.Errorf("set qos: %w", err)
	}
	return &AMQPConsumer{ch: ch, queue: queue, dispatcher: d, logger: logger}, nil
}

// Start consumes until ctx is done or the channel closes, then waits for the
// in-flight handlers.
func (c *AMQPConsumer) Start(ctx context.Context) error {
	msgs, err := c.ch.Consume(c.queue, "", false, false, false, false, nil)
	if err != nil {
		return fmt.Errorf("consume %s: %w", c.queue, err)
	}
	defer c.wg.Wait()
	c.logger.Info().Str("queue", c.queue).Msg("trigger: consuming stage events")
	for {
		select {
		case <-ctx.Done():
			return nil
		case msg, ok := <-msgs:
			if !ok {
				c.logger.Warn().Msg("trigger: amqp delivery channel closed")
				return nil
			}
			var ev Event
			if err := json.Unmarshal(msg.Body, &ev); err != nil || ev.JobID == "" {
				c.logger.Error().Err(err).Msg("trigger: dropping malformed event")
				_ = msg.Nack(false, false)
				continue
			}
			c.wg.Add(1)
			go func(ev Event, msg amqp.Delivery) {
				defer c.wg.Done()
				if err := c.dispatcher.Dispatch(ctx, ev.JobID, ev.Status); err != nil {
					c.logger.Error().Err(err).Str("job_id", ev.JobID).Str("status", string(ev.Status)).Msg("trigger: handler failed, requeueing")
					_ = msg.Nack(false, true)
					return
				}
				_ = msg.Ack(false)
			}(ev, msg)
		}
	}
}

func (c *AMQPConsumer) Close() error {
	return c.ch.Close()
}
