package rabbitmq

import (
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/streadway/amqp"

	"cleanmadurai/metrics"
)

// CallbackFunc processes one delivery. Returning nil acks the message; a
// non-nil error nacks it with a single requeue (a redelivered message that
// fails again is dropped).
type CallbackFunc func(body []byte) error

// Subscriber consumes a queue bound to a direct exchange and dispatches
// deliveries to a worker pool. If the broker restarts, the consume loop
// reconnects with exponential backoff.
type Subscriber struct {
	amqpURL    string
	exchange   string
	queue      string
	routingKey string
	prefetch   int

	mu      sync.Mutex
	conn    *amqp.Connection
	channel *amqp.Channel

	startOnce sync.Once
	done      chan struct{}
}

// NewSubscriber creates a subscriber and establishes the initial connection
// so callers fail fast when RabbitMQ is unreachable.
func NewSubscriber(amqpURL, exchangeName, queueName, routingKey string, prefetchCount int) (*Subscriber, error) {
	s := &Subscriber{
		amqpURL:    amqpURL,
		exchange:   exchangeName,
		queue:      queueName,
		routingKey: routingKey,
		prefetch:   prefetchCount,
		done:       make(chan struct{}),
	}

	s.mu.Lock()
	err := s.reconnectLocked()
	s.mu.Unlock()
	if err != nil {
		return nil, err
	}
	return s, nil
}

// reconnectLocked tears down any existing channel/connection and recreates
// them. Caller must hold s.mu.
func (s *Subscriber) reconnectLocked() error {
	if s.channel != nil {
		_ = s.channel.Close()
		s.channel = nil
	}
	if s.conn != nil {
		_ = s.conn.Close()
		s.conn = nil
	}

	conn, err := amqp.Dial(s.amqpURL)
	if err != nil {
		metrics.RabbitMQConnected.Set(0)
		return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
	}

	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		metrics.RabbitMQConnected.Set(0)
		return fmt.Errorf("failed to open channel: %w", err)
	}

	if err := ch.ExchangeDeclare(s.exchange, "direct", true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		metrics.RabbitMQConnected.Set(0)
		return fmt.Errorf("failed to declare exchange: %w", err)
	}

	q, err := ch.QueueDeclare(s.queue, true, false, false, false, nil)
	if err != nil {
		ch.Close()
		conn.Close()
		metrics.RabbitMQConnected.Set(0)
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	s.queue = q.Name

	if err := ch.QueueBind(s.queue, s.routingKey, s.exchange, false, nil); err != nil {
		ch.Close()
		conn.Close()
		metrics.RabbitMQConnected.Set(0)
		return fmt.Errorf("failed to bind queue: %w", err)
	}

	if err := ch.Qos(s.prefetch, 0, false); err != nil {
		ch.Close()
		conn.Close()
		metrics.RabbitMQConnected.Set(0)
		return fmt.Errorf("failed to set QoS: %w", err)
	}

	s.conn = conn
	s.channel = ch
	metrics.RabbitMQConnected.Set(1)
	return nil
}

// Start begins consuming deliveries and handing them to callback. Workers
// ack/nack after processing completes.
func (s *Subscriber) Start(workers int, callback CallbackFunc) {
	s.startOnce.Do(func() {
		if workers < 1 {
			workers = 1
		}
		jobs := make(chan amqp.Delivery, workers)

		for i := 0; i < workers; i++ {
			go func(workerID int) {
				for delivery := range jobs {
					err := callback(delivery.Body)
					if err == nil {
						if ackErr := delivery.Ack(false); ackErr != nil {
							log.Printf("rabbitmq ack failed worker=%d: %v", workerID, ackErr)
						}
						continue
					}

					// One retry via requeue, then drop.
					requeue := !delivery.Redelivered
					log.Printf("rabbitmq callback failed worker=%d routing_key=%s requeue=%t: %v",
						workerID, delivery.RoutingKey, requeue, err)
					if nackErr := delivery.Nack(false, requeue); nackErr != nil {
						log.Printf("rabbitmq nack failed worker=%d: %v", workerID, nackErr)
					}
				}
			}(i + 1)
		}

		go s.consumeLoop(jobs)
	})
}

func (s *Subscriber) consumeLoop(jobs chan<- amqp.Delivery) {
	backoff := time.Second
	for {
		select {
		case <-s.done:
			close(jobs)
			return
		default:
		}

		s.mu.Lock()
		if s.conn == nil || s.conn.IsClosed() || s.channel == nil {
			if err := s.reconnectLocked(); err != nil {
				s.mu.Unlock()
				log.Printf("rabbitmq reconnect failed queue=%s: %v", s.queue, err)
				time.Sleep(backoff)
				if backoff < 30*time.Second {
					backoff *= 2
				}
				continue
			}
		}
		msgs, err := s.channel.Consume(s.queue, "", false, false, false, false, nil)
		s.mu.Unlock()
		if err != nil {
			metrics.RabbitMQConnected.Set(0)
			log.Printf("rabbitmq consume failed queue=%s: %v", s.queue, err)
			time.Sleep(backoff)
			if backoff < 30*time.Second {
				backoff *= 2
			}
			continue
		}

		log.Printf("rabbitmq consuming exchange=%s queue=%s routing_key=%s prefetch=%d",
			s.exchange, s.queue, s.routingKey, s.prefetch)
		backoff = time.Second

	deliveries:
		for {
			select {
			case <-s.done:
				close(jobs)
				return
			case delivery, ok := <-msgs:
				if !ok {
					metrics.RabbitMQConnected.Set(0)
					log.Printf("rabbitmq delivery channel closed queue=%s; reconnecting", s.queue)
					time.Sleep(backoff)
					break deliveries
				}
				jobs <- delivery
			}
		}
	}
}

// Close stops consumption and closes the connection.
func (s *Subscriber) Close() error {
	select {
	case <-s.done:
	default:
		close(s.done)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var err error
	if s.channel != nil {
		if channelErr := s.channel.Close(); channelErr != nil {
			log.Printf("Failed to close channel: %v", channelErr)
			err = channelErr
		}
		s.channel = nil
	}
	if s.conn != nil {
		if connErr := s.conn.Close(); connErr != nil {
			log.Printf("Failed to close connection: %v", connErr)
			if err == nil {
				err = connErr
			}
		}
		s.conn = nil
	}
	metrics.RabbitMQConnected.Set(0)
	return err
}
