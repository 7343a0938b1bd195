// Package delivery implements bounded store-and-forward with prioritized
// retry. Messages that cannot reach their recipient immediately wait in
// the queue and are retried with exponential backoff until they deliver
// or exhaust their attempts.
package delivery

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"meshcore/crypto"
	"meshcore/session"
)

var (
	// ErrQueueFull indicates the queue is at capacity; the caller must
	// back off rather than evict queued messages.
	ErrQueueFull = errors.New("delivery queue full")
	// ErrMaxRetries indicates a message exhausted its retry budget and
	// was dropped.
	ErrMaxRetries = errors.New("max retries exceeded")
)

// Priority orders queued messages. Higher values deliver first.
type Priority uint8

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityEmergency
)

// String returns the priority name for logging.
func (p Priority) String() string {
	switch p {
	case PriorityEmergency:
		return "emergency"
	case PriorityHigh:
		return "high"
	case PriorityNormal:
		return "normal"
	default:
		return "low"
	}
}

// Message is one queued payload awaiting delivery.
type Message struct {
	ID         uuid.UUID
	Recipient  session.PeerID
	Payload    []byte
	Priority   Priority
	RetryCount int
	NextRetry  time.Time
	EnqueuedAt time.Time

	order uint64
}

// SendFunc attempts one delivery. A nil return removes the message from
// the queue; an error reschedules it.
type SendFunc func(msg *Message) error

// FailureFunc observes messages dropped after exhausting their retries.
type FailureFunc func(msg *Message, err error)

// Default queue tuning.
const (
	DefaultMaxQueueSize      = 100
	DefaultMaxRetries        = 5
	DefaultBackoffBase       = 2 * time.Second
	DefaultBackoffMultiplier = 2.0
	DefaultMaxBackoff        = 5 * time.Minute
)

// Config controls queue capacity and retry pacing.
type Config struct {
	MaxQueueSize      int
	MaxRetries        int
	BackoffBase       time.Duration
	BackoffMultiplier float64
	MaxBackoff        time.Duration
}

// DefaultConfig returns the standard queue tuning.
func DefaultConfig() Config {
	return Config{
		MaxQueueSize:      DefaultMaxQueueSize,
		MaxRetries:        DefaultMaxRetries,
		BackoffBase:       DefaultBackoffBase,
		BackoffMultiplier: DefaultBackoffMultiplier,
		MaxBackoff:        DefaultMaxBackoff,
	}
}

// Queue is a bounded, mutex-guarded retry queue. A single periodic
// driver calls Tick; enqueues may race with it freely.
type Queue struct {
	mu       sync.Mutex
	messages map[uuid.UUID]*Message
	nextSeq  uint64

	config       Config
	sendFunc     SendFunc
	onFailure    FailureFunc
	timeProvider crypto.TimeProvider
}

// NewQueue creates a delivery queue that attempts sends through send.
// onFailure may be nil.
func NewQueue(config Config, send SendFunc, onFailure FailureFunc) *Queue {
	return NewQueueWithTimeProvider(config, send, onFailure, crypto.NewDefaultTimeProvider())
}

// NewQueueWithTimeProvider creates a delivery queue with injectable time
// for testing.
func NewQueueWithTimeProvider(config Config, send SendFunc, onFailure FailureFunc, tp crypto.TimeProvider) *Queue {
	if config.MaxQueueSize <= 0 {
		config.MaxQueueSize = DefaultMaxQueueSize
	}
	if config.MaxRetries <= 0 {
		config.MaxRetries = DefaultMaxRetries
	}
	if config.BackoffBase <= 0 {
		config.BackoffBase = DefaultBackoffBase
	}
	if config.BackoffMultiplier < 1 {
		config.BackoffMultiplier = DefaultBackoffMultiplier
	}
	if config.MaxBackoff <= 0 {
		config.MaxBackoff = DefaultMaxBackoff
	}
	return &Queue{
		messages:     make(map[uuid.UUID]*Message),
		config:       config,
		sendFunc:     send,
		onFailure:    onFailure,
		timeProvider: tp,
	}
}

// Enqueue stores a payload for later delivery. The message is due
// immediately on the next tick.
func (q *Queue) Enqueue(recipient session.PeerID, payload []byte, priority Priority) (uuid.UUID, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.messages) >= q.config.MaxQueueSize {
		return uuid.Nil, fmt.Errorf("%w: %d messages", ErrQueueFull, len(q.messages))
	}

	now := q.timeProvider.Now()
	msg := &Message{
		ID:         uuid.New(),
		Recipient:  recipient,
		Payload:    payload,
		Priority:   priority,
		NextRetry:  now,
		EnqueuedAt: now,
		order:      q.nextSeq,
	}
	q.nextSeq++
	q.messages[msg.ID] = msg

	logrus.WithFields(logrus.Fields{
		"function":   "Enqueue",
		"message_id": msg.ID,
		"recipient":  recipient.String(),
		"priority":   priority.String(),
		"queued":     len(q.messages),
	}).Debug("Message queued for delivery")

	return msg.ID, nil
}

// Tick attempts every due message once, highest priority first and FIFO
// within a priority. A message that has already failed MaxRetries times
// is dropped and reported to the failure callback instead of attempted
// again. Returns the number delivered.
func (q *Queue) Tick() int {
	q.mu.Lock()
	now := q.timeProvider.Now()
	due := make([]*Message, 0, len(q.messages))
	for _, msg := range q.messages {
		if !msg.NextRetry.After(now) {
			due = append(due, msg)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].Priority != due[j].Priority {
			return due[i].Priority > due[j].Priority
		}
		return due[i].order < due[j].order
	})
	q.mu.Unlock()

	delivered := 0
	for _, msg := range due {
		q.mu.Lock()
		if _, present := q.messages[msg.ID]; !present {
			// Cleared concurrently.
			q.mu.Unlock()
			continue
		}
		if msg.RetryCount >= q.config.MaxRetries {
			delete(q.messages, msg.ID)
			q.mu.Unlock()

			logrus.WithFields(logrus.Fields{
				"function":   "Tick",
				"message_id": msg.ID,
				"recipient":  msg.Recipient.String(),
				"retries":    msg.RetryCount,
			}).Warn("Message dropped after exhausting retries")
			if q.onFailure != nil {
				q.onFailure(msg, ErrMaxRetries)
			}
			continue
		}
		q.mu.Unlock()

		// The send attempt runs outside the lock so a slow transport
		// never blocks enqueues.
		if err := q.sendFunc(msg); err != nil {
			q.backoff(msg, err)
			continue
		}

		q.mu.Lock()
		delete(q.messages, msg.ID)
		q.mu.Unlock()
		delivered++

		logrus.WithFields(logrus.Fields{
			"function":   "Tick",
			"message_id": msg.ID,
			"recipient":  msg.Recipient.String(),
			"attempts":   msg.RetryCount + 1,
		}).Debug("Message delivered")
	}
	return delivered
}

// backoff records a failed attempt and pushes the next one out
// exponentially.
func (q *Queue) backoff(msg *Message, cause error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, present := q.messages[msg.ID]; !present {
		return
	}
	msg.RetryCount++

	delay := time.Duration(float64(q.config.BackoffBase) *
		math.Pow(q.config.BackoffMultiplier, float64(msg.RetryCount-1)))
	if delay > q.config.MaxBackoff || delay <= 0 {
		delay = q.config.MaxBackoff
	}
	msg.NextRetry = q.timeProvider.Now().Add(delay)

	logrus.WithFields(logrus.Fields{
		"function":   "backoff",
		"message_id": msg.ID,
		"retry":      msg.RetryCount,
		"backoff":    delay,
		"error":      cause.Error(),
	}).Debug("Delivery failed, backing off")
}

// Len returns the number of queued messages.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.messages)
}

// Pending returns the queued message count for one recipient.
func (q *Queue) Pending(peer session.PeerID) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	count := 0
	for _, msg := range q.messages {
		if msg.Recipient == peer {
			count++
		}
	}
	return count
}

// Clear drops every queued message without delivery attempts or failure
// callbacks. Used on identity reset.
func (q *Queue) Clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()

	cleared := len(q.messages)
	q.messages = make(map[uuid.UUID]*Message)
	if cleared > 0 {
		logrus.WithFields(logrus.Fields{
			"function": "Clear",
			"cleared":  cleared,
		}).Info("Delivery queue cleared")
	}
	return cleared
}
