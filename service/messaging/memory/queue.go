// Package memory provides a channel-backed messaging.Queue.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/sentbridge/outreach/internal/clock"
	"github.com/sentbridge/outreach/internal/idgen"
	"github.com/sentbridge/outreach/service/messaging"
	"time"
)

// Config for the in-memory queue.
type Config struct {
	// MaxRedeliveries bounds how many times a nacked message is requeued
	// before it lands on the dead-letter slice. Redelivery is always finite.
	MaxRedeliveries int
	Buffer          int
}

// DefaultConfig returns the standard in-memory queue configuration.
func DefaultConfig() Config {
	return Config{MaxRedeliveries: 3, Buffer: 128}
}

// Message implements messaging.Message for the in-memory queue.
type Message[T any] struct {
	id         string
	payload    T
	queue      *Queue[T]
	deliveries int
	createdAt  time.Time

	mu        sync.Mutex
	processed bool
}

// T returns the message payload.
func (m *Message[T]) T() *T { return &m.payload }

// Ack acknowledges the message as processed successfully.
func (m *Message[T]) Ack() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed {
		return fmt.Errorf("message %s already processed", m.id)
	}
	m.processed = true
	return nil
}

// Nack requeues the message until MaxRedeliveries is reached, then parks it
// on the dead-letter slice.
func (m *Message[T]) Nack(err error) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.processed {
		return fmt.Errorf("message %s already processed", m.id)
	}
	m.processed = true

	if m.deliveries < m.queue.config.MaxRedeliveries {
		redelivery := &Message[T]{
			id:         m.id,
			payload:    m.payload,
			queue:      m.queue,
			deliveries: m.deliveries + 1,
			createdAt:  clock.Now(),
		}
		select {
		case m.queue.messages <- redelivery:
		default:
			m.queue.park(redelivery)
		}
		return nil
	}
	m.queue.park(m)
	return nil
}

// Queue implements an in-memory messaging.Queue.
type Queue[T any] struct {
	messages chan *Message[T]
	config   Config

	deadMu sync.Mutex
	dead   []*Message[T]
}

// NewQueue creates a new in-memory queue.
func NewQueue[T any](config Config) *Queue[T] {
	if config.Buffer <= 0 {
		config.Buffer = DefaultConfig().Buffer
	}
	return &Queue[T]{
		messages: make(chan *Message[T], config.Buffer),
		config:   config,
	}
}

// Publish adds a new item to the queue.
func (q *Queue[T]) Publish(ctx context.Context, t *T) error {
	msg := &Message[T]{
		id:        idgen.New(),
		payload:   *t,
		queue:     q,
		createdAt: clock.Now(),
	}
	select {
	case q.messages <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Consume retrieves a single item from the queue.
func (q *Queue[T]) Consume(ctx context.Context) (messaging.Message[T], error) {
	select {
	case msg := <-q.messages:
		return msg, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Size returns the current number of buffered messages.
func (q *Queue[T]) Size() int { return len(q.messages) }

// DeadSize returns the number of dead-lettered messages.
func (q *Queue[T]) DeadSize() int {
	q.deadMu.Lock()
	defer q.deadMu.Unlock()
	return len(q.dead)
}

func (q *Queue[T]) park(m *Message[T]) {
	q.deadMu.Lock()
	q.dead = append(q.dead, m)
	q.deadMu.Unlock()
}

var _ messaging.Queue[any] = (*Queue[any])(nil)
